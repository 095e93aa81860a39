package models

import (
	"strings"
	"time"
)

// Property is a single structural property of an entity type.
type Property struct {
	Name         string      `json:"name"`
	Type         string      `json:"type"` // raw Edm type, e.g. "Edm.String"
	Nullable     bool        `json:"nullable"`
	MaxLength    *int        `json:"max_length,omitempty"`
	Precision    *int        `json:"precision,omitempty"`
	Scale        *int        `json:"scale,omitempty"`
	DefaultValue interface{} `json:"default_value,omitempty"`
	Label        string      `json:"label,omitempty"`
	IsKey        bool        `json:"is_key"`
}

// NavigationProperty links an entity type to a related one.
type NavigationProperty struct {
	Name         string `json:"name"`
	Relationship string `json:"relationship,omitempty"` // v2/v3
	ToRole       string `json:"to_role,omitempty"`      // v2/v3
	Type         string `json:"type,omitempty"`         // v4
	Partner      string `json:"partner,omitempty"`      // v4
}

// Entity is a normalized entity type.
type Entity struct {
	Name                 string                `json:"name"`
	Namespace            string                `json:"namespace"`
	Properties           []*Property           `json:"properties"`
	KeyProperties        []string              `json:"key_properties"`
	NavigationProperties []*NavigationProperty `json:"navigation_properties,omitempty"`
}

// Property returns the property with the given name, or nil.
func (e *Entity) Property(name string) *Property {
	for _, p := range e.Properties {
		if p.Name == name {
			return p
		}
	}
	return nil
}

// EntitySet is an addressable collection declared in the entity container.
type EntitySet struct {
	Name       string `json:"name"`
	EntityType string `json:"entity_type"`
	Creatable  bool   `json:"creatable"`
	Updatable  bool   `json:"updatable"`
	Deletable  bool   `json:"deletable"`
	Searchable bool   `json:"searchable"`
	Countable  bool   `json:"countable"`
	Pageable   bool   `json:"pageable"`
	Label      string `json:"label,omitempty"`
}

// Parameter modes for function and action parameters.
const (
	ParamIn    = "In"
	ParamOut   = "Out"
	ParamInOut = "InOut"
)

// Parameter is an input or output of a function or action.
type Parameter struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
	Mode     string `json:"mode"`
}

// IsInput reports whether the parameter is supplied by the caller.
func (p *Parameter) IsInput() bool {
	return p.Mode == "" || p.Mode == ParamIn || p.Mode == ParamInOut
}

// FunctionDef is a side-effect free operation (v2/v3 FunctionImport, v4 Function).
type FunctionDef struct {
	Name          string       `json:"name"`
	ReturnType    string       `json:"return_type,omitempty"`
	Parameters    []*Parameter `json:"parameters"`
	HTTPMethod    string       `json:"http_method"`
	IsBound       bool         `json:"is_bound,omitempty"`
	EntitySetPath string       `json:"entity_set_path,omitempty"`
}

// ActionDef is an operation that may have side effects (v4 Action).
type ActionDef struct {
	Name          string       `json:"name"`
	ReturnType    string       `json:"return_type,omitempty"`
	Parameters    []*Parameter `json:"parameters"`
	IsBound       bool         `json:"is_bound,omitempty"`
	EntitySetPath string       `json:"entity_set_path,omitempty"`
}

// ServiceMetadata is the immutable result of parsing one $metadata document.
type ServiceMetadata struct {
	Entities      []*Entity      `json:"entities"`
	EntitySets    []*EntitySet   `json:"entity_sets"`
	Functions     []*FunctionDef `json:"functions"`
	Actions       []*ActionDef   `json:"actions"`
	ODataVersion  string         `json:"odata_version"`
	Namespaces    []string       `json:"namespaces"`
	ContainerName string         `json:"container_name,omitempty"`
	ParsedAt      time.Time      `json:"parsed_at"`
	Raw           string         `json:"-"`
}

// EntityFor resolves the entity type of an entity set. The namespace (or alias)
// prefix of the reference is ignored. Returns nil when the type is unknown.
func (m *ServiceMetadata) EntityFor(set *EntitySet) *Entity {
	if set == nil {
		return nil
	}
	name := set.EntityType
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	for _, e := range m.Entities {
		if e.Name == name {
			return e
		}
	}
	return nil
}

// EntitySet returns the entity set with the given name, or nil.
func (m *ServiceMetadata) EntitySet(name string) *EntitySet {
	for _, s := range m.EntitySets {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// Function returns the function with the given name, or nil.
func (m *ServiceMetadata) Function(name string) *FunctionDef {
	for _, f := range m.Functions {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// Action returns the action with the given name, or nil.
func (m *ServiceMetadata) Action(name string) *ActionDef {
	for _, a := range m.Actions {
		if a.Name == name {
			return a
		}
	}
	return nil
}

// IsV2 reports whether the service speaks the verbose v2 JSON format.
func (m *ServiceMetadata) IsV2() bool {
	return m.ODataVersion == "" || m.ODataVersion == "2.0" || m.ODataVersion == "1.0"
}

// Summary returns entity, set and operation counts.
func (m *ServiceMetadata) Summary() MetadataSummary {
	return MetadataSummary{
		EntityTypes: len(m.Entities),
		EntitySets:  len(m.EntitySets),
		Functions:   len(m.Functions),
		Actions:     len(m.Actions),
	}
}

// Operation is the kind of work a generated tool performs.
type Operation int

const (
	OpFilter Operation = iota + 1
	OpGet
	OpCount
	OpSearch
	OpCreate
	OpUpdate
	OpDelete
	OpFunction
	OpAction
)

var operationNames = map[Operation]string{
	OpFilter:   "filter",
	OpGet:      "get",
	OpCount:    "count",
	OpSearch:   "search",
	OpCreate:   "create",
	OpUpdate:   "update",
	OpDelete:   "delete",
	OpFunction: "function",
	OpAction:   "action",
}

func (o Operation) String() string {
	if s, ok := operationNames[o]; ok {
		return s
	}
	return "unknown"
}

// IsWrite reports whether the operation modifies data on the backend.
func (o Operation) IsWrite() bool {
	return o == OpCreate || o == OpUpdate || o == OpDelete || o == OpAction
}

// GeneratedTool is one MCP tool synthesized from metadata.
type GeneratedTool struct {
	Name         string                 `json:"name"`
	Description  string                 `json:"description"`
	Operation    Operation              `json:"-"`
	SystemID     string                 `json:"system_id"`
	ServiceID    string                 `json:"service_id"`
	ServicePath  string                 `json:"service_path,omitempty"`
	EntitySet    string                 `json:"entity_set,omitempty"`
	FunctionName string                 `json:"function,omitempty"`
	InputSchema  map[string]interface{} `json:"input_schema"`
}

// Required returns the required argument names declared by the input schema.
func (t *GeneratedTool) Required() []string {
	switch r := t.InputSchema["required"].(type) {
	case []string:
		return r
	case []interface{}:
		out := make([]string, 0, len(r))
		for _, v := range r {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// ODataError represents an OData error response
type ODataError struct {
	Code       string                 `json:"code,omitempty"`
	Message    string                 `json:"message"`
	Details    []ODataErrorDetail     `json:"details,omitempty"`
	InnerError map[string]interface{} `json:"innererror,omitempty"`
	Target     string                 `json:"target,omitempty"`
	Severity   string                 `json:"severity,omitempty"`
}

// ODataErrorDetail represents detailed error information
type ODataErrorDetail struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	Target  string `json:"target,omitempty"`
}

// PaginationInfo is attached to collection results when pagination hints are enabled.
type PaginationInfo struct {
	TotalCount        *int64  `json:"total_count,omitempty"`
	CurrentCount      int     `json:"current_count"`
	HasMore           bool    `json:"has_more"`
	NextLink          string  `json:"next_link,omitempty"`
	SuggestedNextCall *string `json:"suggested_next_call,omitempty"`
	Skip              int     `json:"skip,omitempty"`
	Top               int     `json:"top,omitempty"`
}

// MetadataSummary represents a summary of parsed metadata
type MetadataSummary struct {
	EntityTypes int `json:"entity_types"`
	EntitySets  int `json:"entity_sets"`
	Functions   int `json:"functions"`
	Actions     int `json:"actions"`
}

// ServiceTrace describes one service of a system in trace output.
type ServiceTrace struct {
	ServiceURL   string          `json:"service_url"`
	ServiceID    string          `json:"service_id"`
	ODataVersion string          `json:"odata_version,omitempty"`
	Metadata     MetadataSummary `json:"metadata_summary"`
	Error        string          `json:"error,omitempty"`
}

// TraceInfo represents comprehensive information for trace mode
type TraceInfo struct {
	SystemID        string           `json:"system_id"`
	Authentication  string           `json:"authentication"`
	ToolNaming      string           `json:"tool_naming"`
	ToolPrefix      string           `json:"tool_prefix,omitempty"`
	ToolPostfix     string           `json:"tool_postfix,omitempty"`
	ToolShrink      bool             `json:"tool_shrink"`
	ReadOnlyMode    string           `json:"read_only_mode,omitempty"`
	Services        []ServiceTrace   `json:"services"`
	RegisteredTools []*GeneratedTool `json:"registered_tools"`
	Warnings        []string         `json:"warnings,omitempty"`
	TotalTools      int              `json:"total_tools"`
}
