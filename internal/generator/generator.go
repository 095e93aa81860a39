// Package generator synthesizes MCP tools from normalized OData metadata.
package generator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/zmcp/odata-mcp-gateway/internal/bridgeerr"
	"github.com/zmcp/odata-mcp-gateway/internal/constants"
	"github.com/zmcp/odata-mcp-gateway/internal/models"
	"github.com/zmcp/odata-mcp-gateway/internal/naming"
)

// MethodParam is the optional update argument selecting PUT, PATCH or MERGE.
const MethodParam = "_method"

// Generator turns ServiceMetadata into GeneratedTools. It holds no mutable
// state and is safe for concurrent use.
type Generator struct {
	cfg       Config
	ops       OpSet
	entities  filter
	functions filter
}

// ToolSet is the outcome of one generation run.
type ToolSet struct {
	Tools []*models.GeneratedTool
	// Warnings are non-fatal *bridgeerr.Error values (unresolved entity
	// types, renamed duplicates).
	Warnings []error
}

// New validates cfg and returns a Generator.
func New(cfg Config) (*Generator, error) {
	if cfg.MaxToolNameLength != 0 && cfg.MaxToolNameLength < constants.MinToolNameMaxLength {
		return nil, bridgeerr.Newf(bridgeerr.KindConfig, "max tool name length %d is below the minimum of %d",
			cfg.MaxToolNameLength, constants.MinToolNameMaxLength)
	}
	entities, err := compileFilter(cfg.EntityFilter)
	if err != nil {
		return nil, err
	}
	functions, err := compileFilter(cfg.FunctionFilter)
	if err != nil {
		return nil, err
	}

	ops := ParseOps(cfg.EnabledOps, cfg.DisabledOps)
	if cfg.ReadOnly || cfg.ReadOnlyButFunctions {
		delete(ops, constants.LetterCreate)
		delete(ops, constants.LetterUpdate)
		delete(ops, constants.LetterDelete)
	}

	return &Generator{cfg: cfg, ops: ops, entities: entities, functions: functions}, nil
}

// Ops returns the effective operation set.
func (g *Generator) Ops() OpSet {
	return g.ops
}

// Generate produces the tools for one service. Output order and schemas are
// a pure function of the inputs: entity sets by name, then functions, then
// actions.
func (g *Generator) Generate(meta *models.ServiceMetadata, systemID, serviceURL string) *ToolSet {
	return g.GenerateWith(meta, systemID, serviceURL, map[string]bool{})
}

// GenerateWith is Generate with a caller-owned set of taken names, so tools
// of several services can share one namespace. New names are added to used.
func (g *Generator) GenerateWith(meta *models.ServiceMetadata, systemID, serviceURL string, used map[string]bool) *ToolSet {
	run := &generation{
		g:         g,
		meta:      meta,
		systemID:  systemID,
		serviceID: naming.DeriveServiceID(serviceURL),
		service:   serviceURL,
		used:      used,
		set:       &ToolSet{Tools: make([]*models.GeneratedTool, 0)},
	}

	sets := append([]*models.EntitySet(nil), meta.EntitySets...)
	sort.Slice(sets, func(i, j int) bool { return sets[i].Name < sets[j].Name })
	for _, es := range sets {
		if g.entities.allows(es.Name) {
			run.entitySetTools(es)
		}
	}

	if g.ops.Has(constants.LetterAction) {
		functions := append([]*models.FunctionDef(nil), meta.Functions...)
		sort.Slice(functions, func(i, j int) bool { return functions[i].Name < functions[j].Name })
		for _, fn := range functions {
			if !fn.IsBound && g.functions.allows(fn.Name) && g.allowFunction(fn) {
				run.functionTool(fn)
			}
		}

		actions := append([]*models.ActionDef(nil), meta.Actions...)
		sort.Slice(actions, func(i, j int) bool { return actions[i].Name < actions[j].Name })
		for _, a := range actions {
			if !a.IsBound && g.functions.allows(a.Name) && !g.cfg.ReadOnly {
				run.actionTool(a)
			}
		}
	}

	return run.set
}

// allowFunction hides modifying function imports in read-only mode.
func (g *Generator) allowFunction(fn *models.FunctionDef) bool {
	if !g.cfg.ReadOnly {
		return true
	}
	return strings.EqualFold(fn.HTTPMethod, constants.GET) || fn.HTTPMethod == ""
}

type generation struct {
	g         *Generator
	meta      *models.ServiceMetadata
	systemID  string
	serviceID string
	service   string
	used      map[string]bool
	set       *ToolSet
}

func (r *generation) entitySetTools(es *models.EntitySet) {
	ops := r.g.ops
	entity := r.meta.EntityFor(es)
	if entity == nil {
		r.warn(bridgeerr.Newf(bridgeerr.KindUnresolvedEntityType,
			"entity set %s references unknown type %s; only query tools generated", es.Name, es.EntityType))
	}

	if ops.Has(constants.LetterFilter) {
		r.add(constants.OpFilter, es.Name, models.OpFilter,
			fmt.Sprintf("List/filter %s entities with OData query options%s", es.Name, labelSuffix(es.Label)),
			r.filterSchema(entity))
	}
	hasKeys := entity != nil && len(entity.KeyProperties) > 0
	if ops.Has(constants.LetterGet) && hasKeys {
		r.add(constants.OpGet, es.Name, models.OpGet,
			fmt.Sprintf("Get a single %s entity by key (%s)", es.Name, strings.Join(entity.KeyProperties, ", ")),
			r.getSchema(entity))
	}
	if ops.Has(constants.LetterFilter) && es.Countable {
		r.add(constants.OpCount, es.Name, models.OpCount,
			fmt.Sprintf("Get count of %s entities with optional filter", es.Name),
			r.countSchema())
	}
	if ops.Has(constants.LetterSearch) && es.Searchable {
		r.add(constants.OpSearch, es.Name, models.OpSearch,
			fmt.Sprintf("Full-text search %s entities", es.Name),
			r.searchSchema(entity))
	}
	if entity == nil {
		return
	}
	if ops.Has(constants.LetterCreate) && es.Creatable {
		r.add(constants.OpCreate, es.Name, models.OpCreate,
			fmt.Sprintf("Create a new %s entity", es.Name),
			createSchema(entity))
	}
	if ops.Has(constants.LetterUpdate) && es.Updatable && hasKeys {
		r.add(constants.OpUpdate, es.Name, models.OpUpdate,
			fmt.Sprintf("Update an existing %s entity", es.Name),
			updateSchema(entity))
	}
	if ops.Has(constants.LetterDelete) && es.Deletable && hasKeys {
		r.add(constants.OpDelete, es.Name, models.OpDelete,
			fmt.Sprintf("Delete a %s entity", es.Name),
			keySchema(entity))
	}
}

func (r *generation) functionTool(fn *models.FunctionDef) {
	desc := fmt.Sprintf("Call function %s (HTTP %s)", fn.Name, fn.HTTPMethod)
	if fn.ReturnType != "" {
		desc += " returning " + fn.ReturnType
	}
	tool := r.add(constants.OpCall, fn.Name, models.OpFunction, desc, parameterSchema(fn.Parameters))
	tool.FunctionName = fn.Name
	tool.EntitySet = ""
}

func (r *generation) actionTool(a *models.ActionDef) {
	desc := fmt.Sprintf("Invoke action %s", a.Name)
	if a.ReturnType != "" {
		desc += " returning " + a.ReturnType
	}
	tool := r.add(constants.OpCall, a.Name, models.OpAction, desc, parameterSchema(a.Parameters))
	tool.FunctionName = a.Name
	tool.EntitySet = ""
}

func (r *generation) add(opName, target string, op models.Operation, desc string, input map[string]interface{}) *models.GeneratedTool {
	maxLen := r.g.cfg.maxLength()
	base := naming.BuildToolName(opName, target, r.serviceID, r.g.cfg.nameConfig())
	name := naming.Disambiguate(base, r.used, maxLen)
	if name != base {
		r.warn(bridgeerr.Newf(bridgeerr.KindToolNameCollision,
			"tool name %s already taken, %s %s registered as %s", base, op, target, name))
	}

	tool := &models.GeneratedTool{
		Name:        name,
		Description: desc,
		Operation:   op,
		SystemID:    r.systemID,
		ServiceID:   r.serviceID,
		ServicePath: r.service,
		EntitySet:   target,
		InputSchema: input,
	}
	r.set.Tools = append(r.set.Tools, tool)
	return tool
}

func (r *generation) warn(err *bridgeerr.Error) {
	r.set.Warnings = append(r.set.Warnings, err.WithSystem(r.systemID).WithService(r.service))
}

func labelSuffix(label string) string {
	if label == "" {
		return ""
	}
	return " (" + label + ")"
}
