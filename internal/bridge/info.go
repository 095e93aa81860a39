package bridge

import (
	"context"
	"strings"
	"time"

	"github.com/spf13/cast"

	"github.com/zmcp/odata-mcp-gateway/internal/constants"
	"github.com/zmcp/odata-mcp-gateway/internal/mcp"
	"github.com/zmcp/odata-mcp-gateway/internal/registry"
	"github.com/zmcp/odata-mcp-gateway/internal/schema"
)

type toolHandler func(ctx context.Context, args map[string]interface{}) (interface{}, error)

const serviceInfoInfix = "_for_"

func serviceInfoName(systemID string) string {
	return constants.ToolServiceInfo + serviceInfoInfix + systemID
}

// builtinTools lists the gateway's own tools. The service info tool exists
// once per registered system.
func (b *Bridge) builtinTools() []*mcp.Tool {
	tools := []*mcp.Tool{
		{
			Name:        constants.ToolListSystems,
			Description: "List the configured OData systems with their status, services and tool counts",
			InputSchema: map[string]interface{}{"type": schema.TypeObject, "properties": map[string]interface{}{}},
		},
		{
			Name:        constants.ToolRefreshMetadata,
			Description: "Re-fetch $metadata and regenerate the tools of one system, or of every system when none is given",
			InputSchema: map[string]interface{}{
				"type": schema.TypeObject,
				"properties": map[string]interface{}{
					"system": map[string]interface{}{
						"type":        schema.TypeString,
						"description": "System id to refresh",
					},
				},
			},
		},
	}
	for _, snap := range b.store.Snapshots() {
		tools = append(tools, &mcp.Tool{
			Name:        serviceInfoName(snap.SystemID),
			Description: "Service information for system " + snap.Name + ": metadata summary, load status and hints",
			InputSchema: map[string]interface{}{
				"type": schema.TypeObject,
				"properties": map[string]interface{}{
					"include_metadata": map[string]interface{}{
						"type":        schema.TypeBoolean,
						"default":     false,
						"description": "Include entity sets, entity types and functions in detail",
					},
				},
			},
		})
	}
	return tools
}

func (b *Bridge) builtinHandler(name string) (toolHandler, bool) {
	switch name {
	case constants.ToolListSystems:
		return b.handleListSystems, true
	case constants.ToolRefreshMetadata:
		return b.handleRefresh, true
	}
	prefix := constants.ToolServiceInfo + serviceInfoInfix
	if !strings.HasPrefix(name, prefix) {
		return nil, false
	}
	snap := b.store.Get(strings.TrimPrefix(name, prefix))
	if snap == nil {
		return nil, false
	}
	return func(_ context.Context, args map[string]interface{}) (interface{}, error) {
		return b.serviceInfo(snap, cast.ToBool(args["include_metadata"])), nil
	}, true
}

func (b *Bridge) handleListSystems(_ context.Context, _ map[string]interface{}) (interface{}, error) {
	systems := make([]map[string]interface{}, 0)
	for _, snap := range b.store.Snapshots() {
		services := make([]string, 0, len(snap.Services))
		for _, svc := range snap.Services {
			services = append(services, svc.URL)
		}
		entry := map[string]interface{}{
			"id":             snap.SystemID,
			"name":           snap.Name,
			"status":         status(snap),
			"authentication": snap.AuthType,
			"services":       services,
			"tools":          len(snap.Tools),
			"loaded_at":      snap.LoadedAt.UTC().Format(time.RFC3339),
		}
		if snap.Err != nil {
			entry["error"] = snap.Err.Error()
		}
		systems = append(systems, entry)
	}
	return map[string]interface{}{"systems": systems, "count": len(systems)}, nil
}

func (b *Bridge) handleRefresh(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	id := strings.TrimSpace(cast.ToString(args["system"]))
	err := b.Refresh(ctx, id)
	if err != nil && id != "" && b.store.Get(id) == nil {
		return nil, err
	}

	refreshed := []string{id}
	if id == "" {
		refreshed = b.store.SystemIDs()
	}
	out := map[string]interface{}{"refreshed": refreshed, "tools": len(b.store.Tools())}
	if err != nil {
		out["error"] = err.Error()
	}
	return out, nil
}

// serviceInfo reports the loaded state of one system.
func (b *Bridge) serviceInfo(snap *registry.Snapshot, includeMetadata bool) map[string]interface{} {
	services := make([]map[string]interface{}, 0, len(snap.Services))
	for _, svc := range snap.Services {
		entry := map[string]interface{}{
			"service_url": svc.URL,
			"service_id":  svc.ServiceID,
		}
		if svc.Err != nil {
			entry["error"] = svc.Err.Error()
		}
		if svc.Stale {
			entry["stale"] = true
		}
		if meta := svc.Metadata; meta != nil {
			entry["version"] = meta.ODataVersion
			entry["container_name"] = meta.ContainerName
			entry["namespaces"] = meta.Namespaces
			entry["summary"] = meta.Summary()
			entry["parsed_at"] = meta.ParsedAt.UTC().Format(time.RFC3339)
			if includeMetadata {
				entry["entity_sets_detail"] = meta.EntitySets
				entry["entity_types_detail"] = meta.Entities
				entry["functions_detail"] = meta.Functions
				entry["actions_detail"] = meta.Actions
			}
		}
		if len(svc.Warnings) > 0 {
			warnings := make([]string, 0, len(svc.Warnings))
			for _, w := range svc.Warnings {
				warnings = append(warnings, w.Error())
			}
			entry["warnings"] = warnings
		}
		if h := b.hints.Lookup(svc.URL); h != nil {
			entry["implementation_hints"] = h
		}
		services = append(services, entry)
	}

	tools := make([]string, 0, len(snap.Tools))
	for _, t := range snap.Tools {
		tools = append(tools, t.Name)
	}

	info := map[string]interface{}{
		"system_id":      snap.SystemID,
		"name":           snap.Name,
		"status":         status(snap),
		"authentication": snap.AuthType,
		"services":       services,
		"tools":          tools,
		"loaded_at":      snap.LoadedAt.UTC().Format(time.RFC3339),
	}
	if label := b.readOnlyLabel(); label != "" {
		info["mode"] = label
	}
	if snap.Err != nil {
		info["error"] = snap.Err.Error()
	}
	return info
}

func status(snap *registry.Snapshot) string {
	switch {
	case snap.Healthy():
		return "ok"
	case len(snap.Tools) > 0:
		return "degraded"
	}
	return "failed"
}
