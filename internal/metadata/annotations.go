package metadata

import (
	"strings"

	"github.com/zmcp/odata-mcp-gateway/internal/models"
)

// capabilityIndex holds out-of-line v4 annotations keyed by "Container/EntitySet".
type capabilityIndex map[string][]xmlAnnotation

func collectCapabilities(schemas []xmlSchema) capabilityIndex {
	idx := capabilityIndex{}
	for _, s := range schemas {
		for _, group := range s.Annotations {
			key := targetKey(group.Target)
			if key == "" {
				continue
			}
			idx[key] = append(idx[key], group.Annotations...)
		}
	}
	return idx
}

// targetKey reduces "Namespace.Container/Set" (or an aliased form) to "Container/Set".
func targetKey(target string) string {
	slash := strings.Index(target, "/")
	if slash <= 0 || slash == len(target)-1 {
		return ""
	}
	return localName(target[:slash]) + "/" + target[slash+1:]
}

// apply overrides the entity set flags with Capabilities restrictions.
// Inline annotations are applied last and win over out-of-line ones.
func (idx capabilityIndex) apply(set *models.EntitySet, container string, inline []xmlAnnotation) {
	annotations := append(append([]xmlAnnotation{}, idx[container+"/"+set.Name]...), inline...)
	for _, a := range annotations {
		term := localName(a.Term)
		switch term {
		case "InsertRestrictions":
			set.Creatable = recordFlag(a, "Insertable", set.Creatable)
		case "UpdateRestrictions":
			set.Updatable = recordFlag(a, "Updatable", set.Updatable)
		case "DeleteRestrictions":
			set.Deletable = recordFlag(a, "Deletable", set.Deletable)
		case "SearchRestrictions":
			set.Searchable = recordFlag(a, "Searchable", set.Searchable)
		case "CountRestrictions":
			set.Countable = recordFlag(a, "Countable", set.Countable)
		case "TopSupported", "SkipSupported":
			set.Pageable = flag(a.Bool, set.Pageable) && set.Pageable
		case "Label", "Description":
			if set.Label == "" {
				set.Label = a.String
			}
		}
	}
}

// recordFlag reads a boolean PropertyValue from the annotation's Record.
func recordFlag(a xmlAnnotation, property string, def bool) bool {
	if a.Record == nil {
		return def
	}
	for _, pv := range a.Record.PropertyValues {
		if pv.Property != property {
			continue
		}
		if pv.Bool != "" {
			return flag(pv.Bool, def)
		}
		return flag(pv.BoolElem, def)
	}
	return def
}

// descriptionOf returns the Core.Description or Common.Label annotation text.
func descriptionOf(annotations []xmlAnnotation) string {
	for _, a := range annotations {
		switch localName(a.Term) {
		case "Description", "Label":
			if a.String != "" {
				return a.String
			}
		}
	}
	return ""
}
