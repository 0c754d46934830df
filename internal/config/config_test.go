package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

// TestLoad_Defaults verifies an empty path yields the defaults.
func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "pgx", cfg.Storage.Driver)
	assert.Equal(t, 10*time.Second, cfg.Storage.QueryTimeout)
	assert.Equal(t, 10, cfg.Dashboard.TopN)
	assert.Equal(t, []string{"http://localhost:3000", "http://127.0.0.1:3000", "http://localhost:5173"}, cfg.CORS.AllowedOrigins)

	reg, err := cfg.Registry()
	require.NoError(t, err)
	assert.Len(t, reg.Categories(), 5)
}

func TestLoad_YAMLOverDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
storage:
  driver: postgres
  dsn: postgres://dash:secret@db/alerts?sslmode=disable
  query_timeout: 3s
  location: Europe/Madrid
dashboard:
  retry_backoff: 50ms
sources:
  - category: malware
    table: public.alertas_malware
    fields:
      timestamp: detectado_en
      severity: nivel
      source_ip: origen
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout, "unset keys keep defaults")
	assert.Equal(t, "postgres", cfg.Storage.Driver)
	assert.Equal(t, 3*time.Second, cfg.Storage.QueryTimeout)
	assert.Equal(t, 50*time.Millisecond, cfg.Dashboard.RetryBackoff)
	assert.Equal(t, "postgres://dash:secret@db/alerts?sslmode=disable", cfg.StorageDSN())

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "Europe/Madrid", loc.String())

	reg, err := cfg.Registry()
	require.NoError(t, err)
	d, err := reg.Describe("malware")
	require.NoError(t, err)
	assert.Equal(t, "detectado_en", d.Fields.Timestamp)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv(EnvStorageDSN, "postgres://env/alerts")
	t.Setenv(EnvRedisAddr, "redis:6379")
	t.Setenv(EnvCORSOrigins, "https://soc.example.com, https://ops.example.com ,")
	t.Setenv(EnvPort, "8181")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "postgres://env/alerts", cfg.StorageDSN())
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, []string{"https://soc.example.com", "https://ops.example.com"}, cfg.CORS.AllowedOrigins)
	assert.Equal(t, 8181, cfg.Server.Port)
}

func TestStorageDSN_FromEnvName(t *testing.T) {
	t.Setenv("ALERTS_DB", "postgres://from-env-name/alerts")

	cfg := DefaultConfig()
	cfg.Storage.DSNEnv = "ALERTS_DB"
	assert.Equal(t, "postgres://from-env-name/alerts", cfg.StorageDSN())
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad yaml", "server: [port"},
		{"bad driver", "storage:\n  driver: mysql\n"},
		{"bad port", "server:\n  port: 70000\n"},
		{"bad location", "storage:\n  location: Mars/Olympus\n"},
		{"bad attack types table", "storage:\n  attack_types_table: a.b.c\n"},
		{"bad source", "sources:\n  - category: x\n    table: t\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoad_BadPortEnv(t *testing.T) {
	t.Setenv(EnvPort, "eighty")
	_, err := Load("")
	assert.Error(t, err)
}
