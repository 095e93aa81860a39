// Package metadata turns OData $metadata documents (v2, v3 and v4) into the
// normalized models.ServiceMetadata used by tool generation.
package metadata

import (
	"bytes"
	"encoding/xml"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html/charset"

	"github.com/zmcp/odata-mcp-gateway/internal/bridgeerr"
	"github.com/zmcp/odata-mcp-gateway/internal/constants"
	"github.com/zmcp/odata-mcp-gateway/internal/models"
)

// ParseOptions tunes how optional annotations are interpreted.
type ParseOptions struct {
	// StrictSearchable treats entity sets as not searchable unless an
	// annotation says they are.
	StrictSearchable bool
}

// Parse parses a $metadata document. Elements that are missing required
// attributes are skipped; only a document that is not well formed or holds no
// Schema at all is rejected.
func Parse(data []byte, opts ParseOptions) (*models.ServiceMetadata, error) {
	var doc edmxDoc
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.CharsetReader = charset.NewReaderLabel
	if err := dec.Decode(&doc); err != nil {
		return nil, bridgeerr.New(bridgeerr.KindMetadataParse, "metadata document is not valid EDMX", err)
	}
	if len(doc.DataServices.Schemas) == 0 {
		return nil, bridgeerr.New(bridgeerr.KindMetadataParse, "metadata document contains no Schema", nil)
	}

	meta := &models.ServiceMetadata{
		Entities:     make([]*models.Entity, 0),
		EntitySets:   make([]*models.EntitySet, 0),
		Functions:    make([]*models.FunctionDef, 0),
		Actions:      make([]*models.ActionDef, 0),
		ODataVersion: DetectVersion(doc.XMLName.Space, doc.Version),
		ParsedAt:     time.Now(),
		Raw:          string(data),
	}

	p := &parser{opts: opts, meta: meta, seenEntity: map[string]bool{}}
	for i := range doc.DataServices.Schemas {
		s := &doc.DataServices.Schemas[i]
		meta.Namespaces = append(meta.Namespaces, s.Namespace)
		for _, et := range s.EntityTypes {
			p.addEntity(et, s.Namespace)
		}
	}

	// Containers come second so that every schema's annotations and
	// operations are known before entity sets are materialized.
	caps := collectCapabilities(doc.DataServices.Schemas)
	ops := indexOperations(doc.DataServices.Schemas)
	for i := range doc.DataServices.Schemas {
		for _, c := range doc.DataServices.Schemas[i].EntityContainers {
			if meta.ContainerName == "" {
				meta.ContainerName = c.Name
			}
			p.addContainer(c, caps, ops)
		}
	}
	p.addUnimportedOperations(ops)

	return meta, nil
}

// DetectVersion maps the root element namespace and Version attribute to
// "2.0", "3.0" or "4.0".
func DetectVersion(rootNamespace, version string) string {
	switch rootNamespace {
	case constants.EdmxNamespaceV1:
		return constants.ODataV2
	case constants.EdmxNamespaceV3:
		return constants.ODataV3
	case constants.EdmNamespaceV1, constants.EdmxNamespaceV4, constants.EdmNamespaceV4:
		return constants.ODataV4
	}
	switch {
	case strings.HasPrefix(version, "4."):
		return constants.ODataV4
	case strings.HasPrefix(version, "3."):
		return constants.ODataV3
	case strings.HasPrefix(version, "2."), strings.HasPrefix(version, "1."):
		return constants.ODataV2
	}
	return constants.ODataV2
}

type parser struct {
	opts       ParseOptions
	meta       *models.ServiceMetadata
	seenEntity map[string]bool
	seenSet    map[string]bool
}

func (p *parser) addEntity(et xmlEntityType, namespace string) {
	if et.Name == "" || p.seenEntity[et.Name] {
		return
	}
	p.seenEntity[et.Name] = true

	entity := &models.Entity{
		Name:                 et.Name,
		Namespace:            namespace,
		Properties:           make([]*models.Property, 0, len(et.Properties)),
		KeyProperties:        make([]string, 0, len(et.Key.PropertyRefs)),
		NavigationProperties: make([]*models.NavigationProperty, 0),
	}

	for _, xp := range et.Properties {
		if xp.Name == "" || xp.Type == "" {
			continue
		}
		if entity.Property(xp.Name) != nil {
			continue
		}
		entity.Properties = append(entity.Properties, convertProperty(xp))
	}

	for _, ref := range et.Key.PropertyRefs {
		prop := entity.Property(ref.Name)
		if prop == nil || prop.IsKey {
			continue
		}
		prop.IsKey = true
		entity.KeyProperties = append(entity.KeyProperties, ref.Name)
	}

	for _, nav := range et.NavigationProperties {
		if nav.Name == "" {
			continue
		}
		entity.NavigationProperties = append(entity.NavigationProperties, &models.NavigationProperty{
			Name:         nav.Name,
			Relationship: nav.Relationship,
			ToRole:       nav.ToRole,
			Type:         nav.Type,
			Partner:      nav.Partner,
		})
	}

	p.meta.Entities = append(p.meta.Entities, entity)
}

func convertProperty(xp xmlProperty) *models.Property {
	prop := &models.Property{
		Name:     xp.Name,
		Type:     xp.Type,
		Nullable: !strings.EqualFold(xp.Nullable, "false"),
		Label:    xp.Label,
	}
	if !strings.EqualFold(xp.MaxLength, "max") {
		prop.MaxLength = parseFacet(xp.MaxLength)
	}
	prop.Precision = parseFacet(xp.Precision)
	prop.Scale = parseFacet(xp.Scale)
	if xp.DefaultValue != "" {
		prop.DefaultValue = CoerceDefault(xp.Type, xp.DefaultValue)
	}
	if prop.Label == "" {
		prop.Label = descriptionOf(xp.Annotations)
	}
	return prop
}

// parseFacet returns nil for empty, "variable" or otherwise non-numeric facets.
func parseFacet(v string) *int {
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return nil
	}
	return &n
}

// CoerceDefault converts a DefaultValue attribute to the Go value matching
// its Edm type. Values that do not parse are returned unchanged.
func CoerceDefault(edmType, raw string) interface{} {
	switch edmType {
	case "Edm.Boolean":
		return strings.EqualFold(raw, "true")
	case "Edm.Int16", "Edm.Int32", "Edm.Int64", "Edm.Byte", "Edm.SByte":
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return n
		}
	case "Edm.Single", "Edm.Double", "Edm.Decimal":
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return f
		}
	}
	return raw
}

func (p *parser) addContainer(c xmlEntityContainer, caps capabilityIndex, ops *operationIndex) {
	if p.seenSet == nil {
		p.seenSet = map[string]bool{}
	}
	for _, xs := range c.EntitySets {
		if xs.Name == "" || xs.EntityType == "" || p.seenSet[xs.Name] {
			continue
		}
		p.seenSet[xs.Name] = true
		p.meta.EntitySets = append(p.meta.EntitySets, p.convertEntitySet(c.Name, xs, caps))
	}

	for _, fi := range c.FunctionImports {
		if fi.Name == "" {
			continue
		}
		if fi.Function != "" {
			// v4 import of a schema-level Function.
			if op := ops.function(fi.Function); op != nil {
				p.addFunction(fi.Name, op, fi.EntitySet)
			}
			continue
		}
		p.addFunctionImport(fi)
	}

	for _, ai := range c.ActionImports {
		if ai.Name == "" {
			continue
		}
		if op := ops.action(ai.Action); op != nil {
			p.addAction(ai.Name, op, ai.EntitySet)
		}
	}
}

func (p *parser) convertEntitySet(container string, xs xmlEntitySet, caps capabilityIndex) *models.EntitySet {
	set := &models.EntitySet{
		Name:       xs.Name,
		EntityType: xs.EntityType,
		Creatable:  flag(xs.Creatable, true),
		Updatable:  flag(xs.Updatable, true),
		Deletable:  flag(xs.Deletable, true),
		Searchable: flag(xs.Searchable, !p.opts.StrictSearchable),
		Countable:  flag(xs.Countable, true),
		Pageable:   flag(xs.Pageable, true),
		Label:      xs.Label,
	}
	caps.apply(set, container, xs.Annotations)
	return set
}

// flag interprets an optional boolean annotation, falling back to def when absent or unrecognized.
func flag(v string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true":
		return true
	case "false":
		return false
	}
	return def
}

func (p *parser) addFunctionImport(fi xmlFunctionImport) {
	if p.meta.Function(fi.Name) != nil {
		return
	}
	fn := &models.FunctionDef{
		Name:          fi.Name,
		ReturnType:    fi.ReturnType,
		HTTPMethod:    strings.ToUpper(fi.HTTPMethod),
		Parameters:    convertParameters(fi.Parameters, false),
		EntitySetPath: fi.EntitySet,
	}
	if fn.HTTPMethod == "" {
		fn.HTTPMethod = constants.GET
	}
	p.meta.Functions = append(p.meta.Functions, fn)
}

func (p *parser) addFunction(name string, op *xmlOperation, entitySet string) {
	if p.meta.Function(name) != nil {
		return
	}
	bound := flag(op.IsBound, false)
	fn := &models.FunctionDef{
		Name:          name,
		ReturnType:    returnTypeOf(op),
		HTTPMethod:    constants.GET,
		Parameters:    convertParameters(op.Parameters, bound),
		IsBound:       bound,
		EntitySetPath: firstNonEmpty(entitySet, op.EntitySetPath),
	}
	p.meta.Functions = append(p.meta.Functions, fn)
}

func (p *parser) addAction(name string, op *xmlOperation, entitySet string) {
	if p.meta.Action(name) != nil {
		return
	}
	bound := flag(op.IsBound, false)
	p.meta.Actions = append(p.meta.Actions, &models.ActionDef{
		Name:          name,
		ReturnType:    returnTypeOf(op),
		Parameters:    convertParameters(op.Parameters, bound),
		IsBound:       bound,
		EntitySetPath: firstNonEmpty(entitySet, op.EntitySetPath),
	})
}

// addUnimportedOperations exposes schema-level functions and actions that no
// container import referenced.
func (p *parser) addUnimportedOperations(ops *operationIndex) {
	for _, op := range ops.functions {
		if !ops.imported[op] {
			p.addFunction(op.Name, op, "")
		}
	}
	for _, op := range ops.actions {
		if !ops.imported[op] {
			p.addAction(op.Name, op, "")
		}
	}
}

// convertParameters drops nameless parameters and, for bound operations, the
// leading binding parameter.
func convertParameters(xps []xmlParameter, bound bool) []*models.Parameter {
	params := make([]*models.Parameter, 0, len(xps))
	for i, xp := range xps {
		if bound && i == 0 {
			continue
		}
		if xp.Name == "" || xp.Type == "" {
			continue
		}
		mode := xp.Mode
		if mode == "" {
			mode = models.ParamIn
		}
		params = append(params, &models.Parameter{
			Name:     xp.Name,
			Type:     xp.Type,
			Nullable: !strings.EqualFold(xp.Nullable, "false"),
			Mode:     mode,
		})
	}
	return params
}

func returnTypeOf(op *xmlOperation) string {
	if op.ReturnType == nil {
		return ""
	}
	return op.ReturnType.Type
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// operationIndex resolves qualified v4 Function/Action references.
type operationIndex struct {
	functions []*xmlOperation
	actions   []*xmlOperation
	imported  map[*xmlOperation]bool
}

func indexOperations(schemas []xmlSchema) *operationIndex {
	idx := &operationIndex{imported: map[*xmlOperation]bool{}}
	for i := range schemas {
		for j := range schemas[i].Functions {
			if schemas[i].Functions[j].Name != "" {
				idx.functions = append(idx.functions, &schemas[i].Functions[j])
			}
		}
		for j := range schemas[i].Actions {
			if schemas[i].Actions[j].Name != "" {
				idx.actions = append(idx.actions, &schemas[i].Actions[j])
			}
		}
	}
	return idx
}

func (idx *operationIndex) function(ref string) *xmlOperation {
	return idx.lookup(idx.functions, ref)
}

func (idx *operationIndex) action(ref string) *xmlOperation {
	return idx.lookup(idx.actions, ref)
}

// lookup prefers the unbound overload, as imports can only reference those.
func (idx *operationIndex) lookup(ops []*xmlOperation, ref string) *xmlOperation {
	name := localName(ref)
	var found *xmlOperation
	for _, op := range ops {
		if op.Name != name {
			continue
		}
		if !flag(op.IsBound, false) {
			found = op
			break
		}
		if found == nil {
			found = op
		}
	}
	if found != nil {
		idx.imported[found] = true
	}
	return found
}

func localName(qualified string) string {
	if i := strings.LastIndex(qualified, "."); i >= 0 {
		return qualified[i+1:]
	}
	return qualified
}
