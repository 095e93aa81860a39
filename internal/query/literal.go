package query

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"

	"github.com/zmcp/odata-mcp-gateway/internal/bridgeerr"
	"github.com/zmcp/odata-mcp-gateway/internal/models"
)

// FormatLiteral renders value as an OData URI literal of the given Edm type.
// v2 selects the prefixed/suffixed v2 forms (guid'..', datetime'..', 12L, 1.5M).
func FormatLiteral(edmType string, value interface{}, v2 bool) (string, error) {
	switch edmType {
	case "Edm.Int16", "Edm.Int32", "Edm.Byte", "Edm.SByte":
		n, err := toInteger(value)
		if err != nil {
			return "", literalError(edmType, value, err)
		}
		return strconv.FormatInt(n, 10), nil
	case "Edm.Int64":
		n, err := toInteger(value)
		if err != nil {
			return "", literalError(edmType, value, err)
		}
		if v2 {
			return strconv.FormatInt(n, 10) + "L", nil
		}
		return strconv.FormatInt(n, 10), nil
	case "Edm.Decimal":
		s := numberText(value)
		if _, err := strconv.ParseFloat(s, 64); err != nil {
			return "", literalError(edmType, value, err)
		}
		if v2 {
			return s + "M", nil
		}
		return s, nil
	case "Edm.Single", "Edm.Double":
		s := numberText(value)
		if _, err := strconv.ParseFloat(s, 64); err != nil {
			return "", literalError(edmType, value, err)
		}
		return s, nil
	case "Edm.Boolean":
		b, err := cast.ToBoolE(value)
		if err != nil {
			return "", literalError(edmType, value, err)
		}
		return strconv.FormatBool(b), nil
	case "Edm.Guid":
		s := cast.ToString(value)
		if v2 {
			return "guid'" + s + "'", nil
		}
		return s, nil
	case "Edm.DateTime":
		s := trimZone(cast.ToString(value))
		return "datetime'" + s + "'", nil
	case "Edm.DateTimeOffset":
		s := cast.ToString(value)
		if v2 {
			return "datetimeoffset'" + s + "'", nil
		}
		return s, nil
	case "Edm.Time":
		return "time'" + cast.ToString(value) + "'", nil
	}
	return quote(cast.ToString(value)), nil
}

// toInteger parses json.Number exactly instead of through float64.
func toInteger(value interface{}) (int64, error) {
	if n, ok := value.(json.Number); ok {
		return n.Int64()
	}
	return cast.ToInt64E(value)
}

// quote wraps a string literal, doubling embedded single quotes.
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// numberText keeps decimal text exact when the value already is a string or json.Number.
func numberText(value interface{}) string {
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case fmt.Stringer:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	}
	return cast.ToString(value)
}

// trimZone converts RFC 3339 input to the zone-less form v2 datetime literals use.
func trimZone(s string) string {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC().Format("2006-01-02T15:04:05")
	}
	return s
}

func literalError(edmType string, value interface{}, err error) error {
	return bridgeerr.New(bridgeerr.KindValidation, fmt.Sprintf("value %v is not a valid %s", value, edmType), err)
}

// KeyPredicate renders the parenthesized key segment for an entity. A single
// key renders as (value); composite keys as (K1=v1,K2=v2) in key order.
func KeyPredicate(entity *models.Entity, values map[string]interface{}, v2 bool) (string, error) {
	if len(entity.KeyProperties) == 0 {
		return "", bridgeerr.Newf(bridgeerr.KindValidation, "entity type %s has no key", entity.Name)
	}

	parts := make([]string, 0, len(entity.KeyProperties))
	for _, key := range entity.KeyProperties {
		v, ok := values[key]
		if !ok || v == nil {
			return "", bridgeerr.Newf(bridgeerr.KindValidation, "missing key property %s", key)
		}
		edmType := "Edm.String"
		if p := entity.Property(key); p != nil {
			edmType = p.Type
		}
		lit, err := FormatLiteral(edmType, v, v2)
		if err != nil {
			return "", err
		}
		lit = escapeSegment(lit)
		if len(entity.KeyProperties) == 1 {
			parts = append(parts, lit)
		} else {
			parts = append(parts, key+"="+lit)
		}
	}
	return "(" + strings.Join(parts, ",") + ")", nil
}

// escapeSegment path-escapes a literal but keeps the quotes OData literals use.
func escapeSegment(lit string) string {
	return strings.ReplaceAll(url.PathEscape(lit), "%27", "'")
}

// EntityPath returns "Set(key)" for a single entity.
func EntityPath(entitySet string, entity *models.Entity, values map[string]interface{}, v2 bool) (string, error) {
	pred, err := KeyPredicate(entity, values, v2)
	if err != nil {
		return "", err
	}
	return entitySet + pred, nil
}
