package utils

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// Regex for parsing OData v2 legacy date format: /Date(milliseconds[+/-offset])/
var odataLegacyDateRegex = regexp.MustCompile(`^/Date\((-?\d+)([\+\-]\d{4})?\)/$`)

// IsODataLegacyDate checks if a string is in OData v2 legacy date format
func IsODataLegacyDate(s string) bool {
	return odataLegacyDateRegex.MatchString(s)
}

// ParseODataLegacyDate extracts milliseconds and offset from OData legacy date
func ParseODataLegacyDate(s string) (milliseconds int64, offset string, ok bool) {
	matches := odataLegacyDateRegex.FindStringSubmatch(s)
	if len(matches) < 2 {
		return 0, "", false
	}

	ms, err := strconv.ParseInt(matches[1], 10, 64)
	if err != nil {
		return 0, "", false
	}
	return ms, matches[2], true
}

// LegacyDateToISO converts /Date(ms)/ to RFC 3339 in UTC. Other input is
// returned unchanged.
func LegacyDateToISO(legacy string) string {
	ms, _, ok := ParseODataLegacyDate(legacy)
	if !ok {
		return legacy
	}
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}

var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseISODate accepts RFC 3339 and the zone-less forms OData clients send.
func ParseISODate(s string) (time.Time, bool) {
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ISOToLegacyDate converts an ISO 8601 date to /Date(ms)/. Values that are
// already legacy or not dates are returned unchanged.
func ISOToLegacyDate(iso string) string {
	if IsODataLegacyDate(iso) {
		return iso
	}
	t, ok := ParseISODate(iso)
	if !ok {
		return iso
	}
	return fmt.Sprintf("/Date(%d)/", t.UnixMilli())
}

// ConvertLegacyDates walks a decoded JSON value and rewrites every legacy
// date string to ISO 8601.
func ConvertLegacyDates(value interface{}) interface{} {
	switch v := value.(type) {
	case string:
		if IsODataLegacyDate(v) {
			return LegacyDateToISO(v)
		}
		return v
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, item := range v {
			out[k] = ConvertLegacyDates(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = ConvertLegacyDates(item)
		}
		return out
	}
	return value
}
