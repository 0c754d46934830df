package schema

import "github.com/lvonguyen/threatboard/internal/alerts"

// DefaultSchema is the database schema the built-in tables live in.
const DefaultSchema = "public"

// Default returns the five built-in descriptors. Phishing alerts carry no
// country or source IP; suspicious-login stores the country under "pais".
func Default() []SourceDescriptor {
	return []SourceDescriptor{
		{
			Category: alerts.CategoryPhishing,
			Table:    DefaultSchema + ".alertas_phishing",
			Fields:   commonFields("", ""),
		},
		{
			Category: alerts.CategoryBruteForce,
			Table:    DefaultSchema + ".alertas_fuerza_bruta",
			Fields:   commonFields("codigo_pais", "ip"),
		},
		{
			Category: alerts.CategoryDoS,
			Table:    DefaultSchema + ".alertas_dos",
			Fields:   commonFields("codigo_pais", "ip"),
		},
		{
			Category: alerts.CategoryDDoS,
			Table:    DefaultSchema + ".alertas_ddos",
			Fields:   commonFields("codigo_pais", "ip"),
		},
		{
			Category: alerts.CategorySuspiciousLogin,
			Table:    DefaultSchema + ".alertas_login_sospechoso",
			Fields:   commonFields("pais", "ip"),
		},
	}
}

func commonFields(country, ip string) Fields {
	return Fields{
		Date:         "fecha",
		Time:         "hora",
		Severity:     "riesgo",
		CountryCode:  country,
		SourceIP:     ip,
		ClientID:     "id_cliente",
		AttackTypeID: "id_tipo",
	}
}

// DefaultRegistry builds a registry over Default. The built-ins always
// validate.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(Default()...)
	if err != nil {
		panic(err)
	}
	return r
}
