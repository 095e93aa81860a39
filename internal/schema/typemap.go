// Package schema maps Edm types to JSON Schema fragments and validates tool
// arguments against the generated input schemas.
package schema

import (
	"math"
	"strings"

	"github.com/zmcp/odata-mcp-gateway/internal/models"
)

// JSON Schema primitive type names.
const (
	TypeString  = "string"
	TypeInteger = "integer"
	TypeNumber  = "number"
	TypeBoolean = "boolean"
	TypeArray   = "array"
	TypeObject  = "object"
)

var edmJSONTypes = map[string]string{
	"Edm.String":         TypeString,
	"Edm.Int16":          TypeInteger,
	"Edm.Int32":          TypeInteger,
	"Edm.Int64":          TypeInteger,
	"Edm.Byte":           TypeInteger,
	"Edm.SByte":          TypeInteger,
	"Edm.Single":         TypeNumber,
	"Edm.Double":         TypeNumber,
	"Edm.Decimal":        TypeNumber,
	"Edm.Boolean":        TypeBoolean,
	"Edm.DateTime":       TypeString,
	"Edm.DateTimeOffset": TypeString,
	"Edm.Time":           TypeString,
	"Edm.Guid":           TypeString,
	"Edm.Binary":         TypeString,
}

// JSONType returns the JSON Schema type for an Edm type. Unknown types,
// including complex and enum types, map to string.
func JSONType(edmType string) string {
	if t, ok := edmJSONTypes[edmType]; ok {
		return t
	}
	return TypeString
}

// MapType builds the JSON Schema fragment for a value of the given Edm type.
// prop supplies facets (maxLength, scale, default, label) and may be nil.
func MapType(edmType string, prop *models.Property) map[string]interface{} {
	if inner, ok := collectionElement(edmType); ok {
		return map[string]interface{}{
			"type":  TypeArray,
			"items": MapType(inner, nil),
		}
	}

	jsonType := JSONType(edmType)
	out := map[string]interface{}{"type": jsonType}
	if prop == nil {
		return out
	}

	switch edmType {
	case "Edm.String":
		if prop.MaxLength != nil {
			out["maxLength"] = *prop.MaxLength
		}
	case "Edm.Single", "Edm.Double", "Edm.Decimal":
		if prop.Scale != nil {
			out["multipleOf"] = math.Pow10(-*prop.Scale)
		}
	}

	if prop.DefaultValue != nil {
		out["default"] = prop.DefaultValue
	}

	desc := strings.TrimSpace(prop.Label + " (" + edmType + ")")
	out["description"] = desc
	return out
}

// MapParameter builds the schema for a function or action parameter.
func MapParameter(p *models.Parameter) map[string]interface{} {
	s := MapType(p.Type, nil)
	if _, isArray := s["items"]; !isArray {
		s["description"] = p.Name + " (" + p.Type + ")"
	}
	return s
}

func collectionElement(edmType string) (string, bool) {
	if strings.HasPrefix(edmType, "Collection(") && strings.HasSuffix(edmType, ")") {
		return edmType[len("Collection(") : len(edmType)-1], true
	}
	return "", false
}
