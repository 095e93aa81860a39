package bridge

import (
	"context"
	"strings"

	"github.com/spf13/cast"

	"github.com/zmcp/odata-mcp-gateway/internal/bridgeerr"
	"github.com/zmcp/odata-mcp-gateway/internal/client"
	"github.com/zmcp/odata-mcp-gateway/internal/constants"
	"github.com/zmcp/odata-mcp-gateway/internal/generator"
	"github.com/zmcp/odata-mcp-gateway/internal/models"
	"github.com/zmcp/odata-mcp-gateway/internal/query"
	"github.com/zmcp/odata-mcp-gateway/internal/registry"
	"github.com/zmcp/odata-mcp-gateway/internal/schema"
	"github.com/zmcp/odata-mcp-gateway/internal/utils"
)

// invocation is one tool call bound to the metadata it was generated from.
type invocation struct {
	b      *Bridge
	client *client.Client
	tool   *models.GeneratedTool
	meta   *models.ServiceMetadata
	args   map[string]interface{}
}

// dispatch validates the arguments and runs the operation of tool.
func (b *Bridge) dispatch(ctx context.Context, tool *models.GeneratedTool, snap *registry.Snapshot, args map[string]interface{}) (interface{}, error) {
	sys, ok := b.system(tool.SystemID)
	if !ok {
		return nil, bridgeerr.Newf(bridgeerr.KindNotFound, "system %s is no longer configured", tool.SystemID)
	}
	svc := snap.Service(tool.ServicePath)
	if svc == nil || svc.Metadata == nil {
		return nil, bridgeerr.Newf(bridgeerr.KindNotFound, "service %s is not loaded", tool.ServicePath)
	}
	if err := schema.Validate(tool.InputSchema, args); err != nil {
		return nil, err
	}

	inv := &invocation{b: b, client: sys.client, tool: tool, meta: svc.Metadata, args: args}
	switch tool.Operation {
	case models.OpFilter:
		return inv.filter(ctx)
	case models.OpSearch:
		return inv.search(ctx)
	case models.OpCount:
		return inv.count(ctx)
	case models.OpGet:
		return inv.get(ctx)
	case models.OpCreate:
		return inv.create(ctx)
	case models.OpUpdate:
		return inv.update(ctx)
	case models.OpDelete:
		return inv.remove(ctx)
	case models.OpFunction:
		return inv.function(ctx)
	case models.OpAction:
		return inv.action(ctx)
	}
	return nil, bridgeerr.Newf(bridgeerr.KindNotFound, "unsupported operation %s", tool.Operation)
}

func (inv *invocation) version() string {
	return inv.meta.ODataVersion
}

// entity resolves the entity type behind the tool's entity set.
func (inv *invocation) entity() (*models.Entity, error) {
	set := inv.meta.EntitySet(inv.tool.EntitySet)
	if set == nil {
		return nil, bridgeerr.Newf(bridgeerr.KindNotFound, "entity set %s not found", inv.tool.EntitySet)
	}
	entity := inv.meta.EntityFor(set)
	if entity == nil {
		return nil, bridgeerr.Newf(bridgeerr.KindNotFound, "entity type %s not found", set.EntityType)
	}
	return entity, nil
}

func (inv *invocation) do(ctx context.Context, req *query.Request) (*query.Result, error) {
	resp, err := inv.client.Do(ctx, inv.tool.ServicePath, req)
	if err != nil {
		return nil, err
	}
	return query.NormalizeResponse(resp.Body)
}

func (inv *invocation) filter(ctx context.Context) (interface{}, error) {
	opts, _, err := query.OptionsFromArgs(inv.args)
	if err != nil {
		return nil, err
	}
	res, err := inv.do(ctx, query.BuildRequest(inv.tool.EntitySet, opts).ForVersion(inv.version()))
	if err != nil {
		return nil, err
	}
	return inv.b.enhance(res, opts), nil
}

func (inv *invocation) search(ctx context.Context) (interface{}, error) {
	opts, _, err := query.OptionsFromArgs(inv.args)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(opts.Search) == "" {
		return nil, bridgeerr.Newf(bridgeerr.KindValidation, "search term must not be empty")
	}
	res, err := inv.do(ctx, query.BuildRequest(inv.tool.EntitySet, opts).ForVersion(inv.version()))
	if err != nil {
		return nil, err
	}
	return inv.b.enhance(res, opts), nil
}

func (inv *invocation) count(ctx context.Context) (interface{}, error) {
	opts, _, err := query.OptionsFromArgs(inv.args)
	if err != nil {
		return nil, err
	}
	req := query.CountRequest(inv.tool.EntitySet, opts.Filter, opts.Search).ForVersion(inv.version())
	resp, err := inv.client.Do(ctx, inv.tool.ServicePath, req)
	if err != nil {
		return nil, err
	}
	n, err := query.ParseCount(resp.Body)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"entity_set": inv.tool.EntitySet, "count": n}, nil
}

func (inv *invocation) get(ctx context.Context) (interface{}, error) {
	entity, err := inv.entity()
	if err != nil {
		return nil, err
	}
	path, err := query.EntityPath(inv.tool.EntitySet, entity, inv.args, inv.meta.IsV2())
	if err != nil {
		return nil, err
	}
	opts, _, err := query.OptionsFromArgs(inv.args)
	if err != nil {
		return nil, err
	}
	req := query.BuildRequest(path, query.Options{Select: opts.Select, Expand: opts.Expand})
	res, err := inv.do(ctx, req.ForVersion(inv.version()))
	if err != nil {
		return nil, err
	}
	return inv.b.enhance(res, opts), nil
}

// payload copies the entity properties out of the arguments. With skipKeys,
// key properties are left out.
func (inv *invocation) payload(entity *models.Entity, skipKeys bool) map[string]interface{} {
	body := make(map[string]interface{}, len(inv.args))
	for name, v := range inv.args {
		if name == generator.MethodParam {
			continue
		}
		if skipKeys {
			if p := entity.Property(name); p != nil && p.IsKey {
				continue
			}
		}
		body[name] = v
	}
	if inv.meta.IsV2() {
		body = utils.CoercePayload(entity, body, inv.b.cfg.UseLegacyDates())
	}
	return body
}

func (inv *invocation) create(ctx context.Context) (interface{}, error) {
	entity, err := inv.entity()
	if err != nil {
		return nil, err
	}
	req := &query.Request{Method: constants.POST, Path: inv.tool.EntitySet, Body: inv.payload(entity, false)}
	res, err := inv.do(ctx, req)
	if err != nil {
		return nil, err
	}
	if res.Data == nil {
		return map[string]interface{}{"created": true, "entity_set": inv.tool.EntitySet}, nil
	}
	return inv.b.enhance(res, query.Options{}), nil
}

func (inv *invocation) update(ctx context.Context) (interface{}, error) {
	entity, err := inv.entity()
	if err != nil {
		return nil, err
	}
	path, err := query.EntityPath(inv.tool.EntitySet, entity, inv.args, inv.meta.IsV2())
	if err != nil {
		return nil, err
	}

	method := constants.PATCH
	if m, ok := inv.args[generator.MethodParam]; ok && m != nil {
		method = strings.ToUpper(cast.ToString(m))
	}
	switch method {
	case constants.PUT, constants.PATCH, constants.MERGE:
	default:
		return nil, bridgeerr.Newf(bridgeerr.KindValidation, "%s must be PUT, PATCH or MERGE, got %q", generator.MethodParam, method)
	}

	res, err := inv.do(ctx, &query.Request{Method: method, Path: path, Body: inv.payload(entity, true)})
	if err != nil {
		return nil, err
	}
	if res.Data == nil {
		return map[string]interface{}{"updated": true, "entity": path, "method": method}, nil
	}
	return inv.b.enhance(res, query.Options{}), nil
}

func (inv *invocation) remove(ctx context.Context) (interface{}, error) {
	entity, err := inv.entity()
	if err != nil {
		return nil, err
	}
	path, err := query.EntityPath(inv.tool.EntitySet, entity, inv.args, inv.meta.IsV2())
	if err != nil {
		return nil, err
	}
	if _, err := inv.client.Do(ctx, inv.tool.ServicePath, &query.Request{Method: constants.DELETE, Path: path}); err != nil {
		return nil, err
	}
	return map[string]interface{}{"deleted": true, "entity": path}, nil
}

func (inv *invocation) function(ctx context.Context) (interface{}, error) {
	fn := inv.meta.Function(inv.tool.FunctionName)
	if fn == nil {
		return nil, bridgeerr.Newf(bridgeerr.KindNotFound, "function %s not found", inv.tool.FunctionName)
	}
	req, err := query.FunctionRequest(fn, inv.args, inv.version())
	if err != nil {
		return nil, err
	}
	res, err := inv.do(ctx, req.ForVersion(inv.version()))
	if err != nil {
		return nil, err
	}
	return inv.b.enhance(res, query.Options{}), nil
}

func (inv *invocation) action(ctx context.Context) (interface{}, error) {
	a := inv.meta.Action(inv.tool.FunctionName)
	if a == nil {
		return nil, bridgeerr.Newf(bridgeerr.KindNotFound, "action %s not found", inv.tool.FunctionName)
	}
	res, err := inv.do(ctx, query.ActionRequest(a, inv.args))
	if err != nil {
		return nil, err
	}
	if res.Data == nil {
		return map[string]interface{}{"executed": true, "action": a.Name}, nil
	}
	return inv.b.enhance(res, query.Options{}), nil
}
