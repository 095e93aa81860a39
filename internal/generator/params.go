package generator

import (
	"github.com/zmcp/odata-mcp-gateway/internal/models"
	"github.com/zmcp/odata-mcp-gateway/internal/schema"
)

// param returns the argument name for a query option. Claude Code rejects
// property names starting with "$", so friendly mode drops the prefix.
func (c Config) param(name string) string {
	if c.ClaudeCodeFriendly {
		return name
	}
	return "$" + name
}

func (r *generation) filterSchema(entity *models.Entity) map[string]interface{} {
	c := r.g.cfg
	props := map[string]interface{}{
		c.param("select"): selectProperty(entity),
		c.param("filter"): map[string]interface{}{
			"type":        schema.TypeString,
			"description": "OData filter expression, e.g. Price gt 10 and startswith(Name,'A')",
		},
		c.param("orderby"): map[string]interface{}{
			"type":        schema.TypeString,
			"description": "Properties to order by, e.g. Name desc",
		},
		c.param("top"): map[string]interface{}{
			"type":        schema.TypeInteger,
			"minimum":     1,
			"description": "Maximum number of entities to return",
		},
		c.param("skip"): map[string]interface{}{
			"type":        schema.TypeInteger,
			"minimum":     0,
			"description": "Number of entities to skip",
		},
		c.param("expand"): expandProperty(entity),
		c.param("count"): map[string]interface{}{
			"type":        schema.TypeBoolean,
			"description": "Include the total count of matching entities",
		},
		c.param("format"): map[string]interface{}{
			"type":        schema.TypeString,
			"enum":        []string{"json", "xml"},
			"description": "Response format",
		},
	}
	return object(props, nil)
}

func (r *generation) countSchema() map[string]interface{} {
	c := r.g.cfg
	return object(map[string]interface{}{
		c.param("filter"): map[string]interface{}{
			"type":        schema.TypeString,
			"description": "OData filter expression",
		},
		c.param("search"): map[string]interface{}{
			"type":        schema.TypeString,
			"description": "Free-text search term",
		},
	}, nil)
}

func (r *generation) searchSchema(entity *models.Entity) map[string]interface{} {
	c := r.g.cfg
	search := c.param("search")
	return object(map[string]interface{}{
		search: map[string]interface{}{
			"type":        schema.TypeString,
			"minLength":   1,
			"description": "Search query string",
		},
		c.param("select"): selectProperty(entity),
		c.param("top"): map[string]interface{}{
			"type":        schema.TypeInteger,
			"minimum":     1,
			"description": "Maximum number of entities to return",
		},
		c.param("skip"): map[string]interface{}{
			"type":        schema.TypeInteger,
			"minimum":     0,
			"description": "Number of entities to skip",
		},
	}, []string{search})
}

func (r *generation) getSchema(entity *models.Entity) map[string]interface{} {
	c := r.g.cfg
	props, required := keyProperties(entity)
	props[c.param("select")] = selectProperty(entity)
	props[c.param("expand")] = expandProperty(entity)
	return object(props, required)
}

func keySchema(entity *models.Entity) map[string]interface{} {
	props, required := keyProperties(entity)
	return object(props, required)
}

// keyProperties returns one typed field per key, required in key order.
func keyProperties(entity *models.Entity) (map[string]interface{}, []string) {
	props := map[string]interface{}{}
	required := make([]string, 0, len(entity.KeyProperties))
	for _, key := range entity.KeyProperties {
		prop := entity.Property(key)
		if prop == nil {
			prop = &models.Property{Name: key, Type: "Edm.String"}
		}
		s := schema.MapType(prop.Type, prop)
		s["description"] = "Key property: " + key + " (" + prop.Type + ")"
		props[key] = s
		required = append(required, key)
	}
	return props, required
}

func createSchema(entity *models.Entity) map[string]interface{} {
	props := map[string]interface{}{}
	var required []string
	for _, prop := range entity.Properties {
		if prop.IsKey {
			continue
		}
		props[prop.Name] = schema.MapType(prop.Type, prop)
		if !prop.Nullable {
			required = append(required, prop.Name)
		}
	}
	return object(props, required)
}

func updateSchema(entity *models.Entity) map[string]interface{} {
	props, required := keyProperties(entity)
	for _, prop := range entity.Properties {
		if prop.IsKey {
			continue
		}
		props[prop.Name] = schema.MapType(prop.Type, prop)
	}
	props[MethodParam] = map[string]interface{}{
		"type":        schema.TypeString,
		"enum":        []string{"PUT", "PATCH", "MERGE"},
		"default":     "PATCH",
		"description": "HTTP method used for the update",
	}
	return object(props, required)
}

func parameterSchema(params []*models.Parameter) map[string]interface{} {
	props := map[string]interface{}{}
	var required []string
	for _, p := range params {
		if !p.IsInput() {
			continue
		}
		props[p.Name] = schema.MapParameter(p)
		if !p.Nullable {
			required = append(required, p.Name)
		}
	}
	return object(props, required)
}

func selectProperty(entity *models.Entity) map[string]interface{} {
	items := map[string]interface{}{"type": schema.TypeString}
	if entity != nil && len(entity.Properties) > 0 {
		names := make([]string, 0, len(entity.Properties))
		for _, p := range entity.Properties {
			names = append(names, p.Name)
		}
		items["enum"] = names
	}
	return map[string]interface{}{
		"type":        schema.TypeArray,
		"items":       items,
		"description": "Properties to return",
	}
}

func expandProperty(entity *models.Entity) map[string]interface{} {
	items := map[string]interface{}{"type": schema.TypeString}
	if entity != nil && len(entity.NavigationProperties) > 0 {
		names := make([]string, 0, len(entity.NavigationProperties))
		for _, n := range entity.NavigationProperties {
			names = append(names, n.Name)
		}
		items["enum"] = names
	}
	return map[string]interface{}{
		"type":        schema.TypeArray,
		"items":       items,
		"description": "Navigation properties to expand (one level)",
	}
}

func object(props map[string]interface{}, required []string) map[string]interface{} {
	out := map[string]interface{}{
		"type":       schema.TypeObject,
		"properties": props,
	}
	if len(required) > 0 {
		out["required"] = required
	}
	return out
}
