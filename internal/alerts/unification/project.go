package unification

import (
	"fmt"
	"math"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/lvonguyen/threatboard/internal/alerts"
	"github.com/lvonguyen/threatboard/internal/alerts/schema"
)

// Project maps one raw record to a UnifiedEvent using desc. Naive date and
// time values are interpreted in loc. A declared column missing from the
// record, a NULL occurrence date, or a value of the wrong shape is a partial
// data error.
func Project(desc schema.SourceDescriptor, rec alerts.RawRecord, loc *time.Location) (alerts.UnifiedEvent, error) {
	if loc == nil {
		loc = time.UTC
	}
	f := desc.Fields
	ev := alerts.UnifiedEvent{Category: desc.Category}

	occurred, hasTime, err := occurredAt(desc, rec, loc)
	if err != nil {
		return alerts.UnifiedEvent{}, err
	}
	ev.OccurredAt = occurred
	ev.HasTimeOfDay = hasTime

	if f.Severity != "" {
		v, err := column(desc, rec, f.Severity)
		if err != nil {
			return alerts.UnifiedEvent{}, err
		}
		ev.Severity = severityOf(v)
	}

	if ev.CountryCode, err = optionalString(desc, rec, f.CountryCode); err != nil {
		return alerts.UnifiedEvent{}, err
	}
	ev.CountryCode = strings.ToUpper(ev.CountryCode)

	if ev.SourceIP, err = optionalString(desc, rec, f.SourceIP); err != nil {
		return alerts.UnifiedEvent{}, err
	}
	if ev.ClientID, err = optionalString(desc, rec, f.ClientID); err != nil {
		return alerts.UnifiedEvent{}, err
	}

	if f.AttackTypeID != "" {
		v, err := column(desc, rec, f.AttackTypeID)
		if err != nil {
			return alerts.UnifiedEvent{}, err
		}
		if v != nil {
			id, ok := toInt64(v)
			if !ok {
				return alerts.UnifiedEvent{}, alerts.PartialData(nil, "%s.%s: attack type id %v is not an integer", desc.Table, f.AttackTypeID, v)
			}
			ev.AttackTypeID = id
			ev.HasAttackTypeID = true
		}
	}

	return ev, nil
}

func column(desc schema.SourceDescriptor, rec alerts.RawRecord, name string) (any, error) {
	v, ok := rec[name]
	if !ok {
		return nil, alerts.PartialData(nil, "%s: column %q missing from result", desc.Table, name)
	}
	return v, nil
}

func occurredAt(desc schema.SourceDescriptor, rec alerts.RawRecord, loc *time.Location) (time.Time, bool, error) {
	f := desc.Fields

	if f.Timestamp != "" {
		v, err := column(desc, rec, f.Timestamp)
		if err != nil {
			return time.Time{}, false, err
		}
		t, ok := toTimestamp(v, loc, f.TimestampZoned)
		if !ok {
			return time.Time{}, false, alerts.PartialData(nil, "%s.%s: %v is not a timestamp", desc.Table, f.Timestamp, v)
		}
		return t, true, nil
	}

	v, err := column(desc, rec, f.Date)
	if err != nil {
		return time.Time{}, false, err
	}
	y, m, d, ok := toDate(v, loc)
	if !ok {
		return time.Time{}, false, alerts.PartialData(nil, "%s.%s: %v is not a date", desc.Table, f.Date, v)
	}

	if f.Time == "" {
		return time.Date(y, m, d, 0, 0, 0, 0, loc), false, nil
	}
	tv, err := column(desc, rec, f.Time)
	if err != nil {
		return time.Time{}, false, err
	}
	if tv == nil {
		return time.Date(y, m, d, 0, 0, 0, 0, loc), false, nil
	}
	tod, ok := toTimeOfDay(tv)
	if !ok {
		return time.Time{}, false, alerts.PartialData(nil, "%s.%s: %v is not a time of day", desc.Table, f.Time, tv)
	}
	return wallClock(y, m, d, tod, loc), true, nil
}

// wallClock builds date + time of day as wall-clock fields in loc, so a DST
// transition on that day does not shift the hour.
func wallClock(y int, m time.Month, d int, tod time.Duration, loc *time.Location) time.Time {
	h := int(tod / time.Hour)
	mi := int(tod % time.Hour / time.Minute)
	s := int(tod % time.Minute / time.Second)
	ns := int(tod % time.Second)
	return time.Date(y, m, d, h, mi, s, ns, loc)
}

var timestampLayouts = []string{
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// toTimestamp reads naive values as wall-clock time in loc. Strings with an
// explicit offset, and time.Time values of zoned columns, keep their instant.
func toTimestamp(v any, loc *time.Location, zoned bool) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		if zoned {
			return t, true
		}
		// Drivers return naive timestamps with a UTC location.
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), loc), true
	case string:
		s := strings.TrimSpace(t)
		if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return ts, true
		}
		for _, layout := range timestampLayouts {
			if ts, err := time.ParseInLocation(layout, s, loc); err == nil {
				return ts, true
			}
		}
	case []byte:
		return toTimestamp(string(t), loc, zoned)
	}
	return time.Time{}, false
}

// toDate returns the calendar date of v. DATE values come back from drivers
// as midnight UTC, so the wall-clock fields are taken as-is.
func toDate(v any, loc *time.Location) (int, time.Month, int, bool) {
	switch t := v.(type) {
	case time.Time:
		y, m, d := t.Date()
		return y, m, d, true
	case string:
		s := strings.TrimSpace(t)
		if len(s) >= 10 {
			if d, err := time.ParseInLocation("2006-01-02", s[:10], loc); err == nil {
				y, m, dd := d.Date()
				return y, m, dd, true
			}
		}
	case []byte:
		return toDate(string(t), loc)
	}
	return 0, 0, 0, false
}

var timeOfDayLayouts = []string{
	"15:04:05.999999999",
	"15:04:05",
	"15:04",
}

// toTimeOfDay returns the offset from midnight.
func toTimeOfDay(v any) (time.Duration, bool) {
	switch t := v.(type) {
	case time.Duration:
		if t < 0 || t >= 24*time.Hour {
			return 0, false
		}
		return t, true
	case time.Time:
		h, m, s := t.Clock()
		return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute +
			time.Duration(s)*time.Second + time.Duration(t.Nanosecond()), true
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range timeOfDayLayouts {
			if p, err := time.Parse(layout, s); err == nil {
				return toTimeOfDay(p)
			}
		}
	case []byte:
		return toTimeOfDay(string(t))
	}
	return 0, false
}

func severityOf(v any) alerts.Severity {
	switch t := v.(type) {
	case nil:
		return alerts.SeverityUnknown
	case string:
		return alerts.ParseSeverity(t)
	case []byte:
		return alerts.ParseSeverity(string(t))
	}
	if n, ok := toInt64(v); ok {
		if s := alerts.Severity(n); s.Known() {
			return s
		}
	}
	return alerts.SeverityUnknown
}

// optionalString returns "" for absent fields and NULL values.
func optionalString(desc schema.SourceDescriptor, rec alerts.RawRecord, name string) (string, error) {
	if name == "" {
		return "", nil
	}
	v, err := column(desc, rec, name)
	if err != nil {
		return "", err
	}
	return stringOf(v), nil
}

func stringOf(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case []byte:
		return strings.TrimSpace(string(t))
	case netip.Prefix:
		if t.IsSingleIP() {
			return t.Addr().String()
		}
		return t.String()
	case netip.Addr:
		return t.String()
	case fmt.Stringer:
		return t.String()
	}
	if n, ok := toInt64(v); ok {
		return strconv.FormatInt(n, 10)
	}
	return fmt.Sprint(v)
}

func toInt64(v any) (int64, bool) {
	switch t := v.(type) {
	case int:
		return int64(t), true
	case int8:
		return int64(t), true
	case int16:
		return int64(t), true
	case int32:
		return int64(t), true
	case int64:
		return t, true
	case uint8:
		return int64(t), true
	case uint16:
		return int64(t), true
	case uint32:
		return int64(t), true
	case uint64:
		if t > math.MaxInt64 {
			return 0, false
		}
		return int64(t), true
	case float64:
		if t != math.Trunc(t) {
			return 0, false
		}
		return int64(t), true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		return n, err == nil
	case []byte:
		return toInt64(string(t))
	}
	return 0, false
}
