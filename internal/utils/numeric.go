package utils

import (
	"encoding/json"
	"strconv"

	"github.com/zmcp/odata-mcp-gateway/internal/models"
)

// NumericToString renders a numeric value without scientific notation.
// Non-numeric values are returned unchanged.
func NumericToString(value interface{}) interface{} {
	switch v := value.(type) {
	case int:
		return strconv.Itoa(v)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	}
	return value
}

// CoercePayload prepares a create/update body for an OData v2 service, which
// expects Edm.Decimal and Edm.Int64 as JSON strings. With legacyDates, ISO
// values of Edm.DateTime and Edm.DateTimeOffset properties are sent as
// /Date(ms)/. Unknown properties pass through and the input is not modified.
func CoercePayload(entity *models.Entity, data map[string]interface{}, legacyDates bool) map[string]interface{} {
	out := make(map[string]interface{}, len(data))
	for key, value := range data {
		prop := entity.Property(key)
		if prop == nil || value == nil {
			out[key] = value
			continue
		}
		switch prop.Type {
		case "Edm.Decimal", "Edm.Int64":
			out[key] = NumericToString(value)
		case "Edm.DateTime", "Edm.DateTimeOffset":
			if s, ok := value.(string); ok && legacyDates {
				out[key] = ISOToLegacyDate(s)
			} else {
				out[key] = value
			}
		default:
			out[key] = value
		}
	}
	return out
}
