// Package bridge connects the configured OData systems to the MCP tool
// surface. It loads metadata, generates tools, keeps one snapshot per system
// in the registry and executes tool calls against the owning system.
package bridge

import (
	"context"
	"errors"
	"log/slog"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/zmcp/odata-mcp-gateway/internal/bridgeerr"
	"github.com/zmcp/odata-mcp-gateway/internal/client"
	"github.com/zmcp/odata-mcp-gateway/internal/config"
	"github.com/zmcp/odata-mcp-gateway/internal/debug"
	"github.com/zmcp/odata-mcp-gateway/internal/generator"
	"github.com/zmcp/odata-mcp-gateway/internal/hint"
	"github.com/zmcp/odata-mcp-gateway/internal/mcp"
	"github.com/zmcp/odata-mcp-gateway/internal/models"
	"github.com/zmcp/odata-mcp-gateway/internal/observability"
	"github.com/zmcp/odata-mcp-gateway/internal/registry"
)

// Bridge serves the tools of every configured system. It implements
// mcp.ToolSource.
type Bridge struct {
	cfg    *config.Config
	gen    *generator.Generator
	store  *registry.Store
	hints  *hint.Manager
	logger *slog.Logger

	// loadMu serializes loads so tool names stay unique across systems.
	loadMu sync.Mutex

	mu       sync.RWMutex
	systems  map[string]*system
	onChange func()
}

// system is a configured backend and its HTTP client.
type system struct {
	cfg    config.SystemConfig
	client *client.Client
}

// New creates a bridge. hints may be nil.
func New(cfg *config.Config, hints *hint.Manager, logger *slog.Logger) (*Bridge, error) {
	gen, err := generator.New(cfg.GeneratorConfig())
	if err != nil {
		return nil, err
	}
	if hints == nil {
		hints = hint.NewManager()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		cfg:     cfg,
		gen:     gen,
		store:   registry.NewStore(),
		hints:   hints,
		logger:  logger,
		systems: map[string]*system{},
	}, nil
}

// Store exposes the snapshot store.
func (b *Bridge) Store() *registry.Store {
	return b.store
}

// OnToolsChanged registers a callback run after the tool list changed
// through a refresh or reconcile.
func (b *Bridge) OnToolsChanged(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onChange = fn
}

func (b *Bridge) notifyChanged() {
	b.mu.RLock()
	fn := b.onChange
	b.mu.RUnlock()
	if fn != nil {
		fn()
	}
}

// Load registers and loads every system. A system that fails to load is
// still registered with its error recorded; the returned error joins all
// such failures. Configuration errors abort before anything is registered.
func (b *Bridge) Load(ctx context.Context, systems []config.SystemConfig) error {
	built := make([]*system, 0, len(systems))
	for _, sc := range systems {
		sys, err := b.newSystem(sc)
		if err != nil {
			return err
		}
		built = append(built, sys)
	}

	var errs []error
	for _, sys := range built {
		if err := b.install(ctx, sys); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (b *Bridge) newSystem(sc config.SystemConfig) (*system, error) {
	logger := b.logger.With("system", sc.ID)
	cl, err := client.New(sc.ClientOptions(b.cfg.Verbose, logger), &sc.Auth)
	if err != nil {
		return nil, err
	}
	return &system{cfg: sc, client: cl}, nil
}

// install loads sys and makes it the current state for its id.
func (b *Bridge) install(ctx context.Context, sys *system) error {
	b.loadMu.Lock()
	defer b.loadMu.Unlock()

	b.mu.Lock()
	b.systems[sys.cfg.ID] = sys
	b.mu.Unlock()

	snap := b.buildSnapshot(ctx, sys, b.store.Get(sys.cfg.ID), b.store.NamesExcept(sys.cfg.ID))
	b.store.Put(snap)
	observability.RegisteredTools.WithLabelValues(sys.cfg.ID).Set(float64(len(snap.Tools)))

	if err := snapshotError(snap); err != nil {
		observability.SystemLoadErrorsTotal.WithLabelValues(sys.cfg.ID).Inc()
		b.logger.Warn("System loaded with errors", "system", sys.cfg.ID, "tools", len(snap.Tools), "error", err)
		return err
	}
	b.logger.Info("System loaded", "system", sys.cfg.ID, "services", len(snap.Services), "tools", len(snap.Tools))
	return nil
}

func snapshotError(snap *registry.Snapshot) error {
	if snap.Err != nil {
		return snap.Err
	}
	var errs []error
	for _, svc := range snap.Services {
		if svc.Err != nil {
			errs = append(errs, svc.Err)
		}
	}
	return errors.Join(errs...)
}

// Refresh reloads one system, or every system when systemID is empty, and
// swaps in the new tool sets.
func (b *Bridge) Refresh(ctx context.Context, systemID string) error {
	var targets []*system
	b.mu.RLock()
	if systemID == "" {
		for _, sys := range b.systems {
			targets = append(targets, sys)
		}
	} else if sys, ok := b.systems[systemID]; ok {
		targets = append(targets, sys)
	}
	b.mu.RUnlock()

	if len(targets) == 0 {
		return bridgeerr.Newf(bridgeerr.KindNotFound, "unknown system %q", systemID)
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i].cfg.ID < targets[j].cfg.ID })

	var errs []error
	for _, sys := range targets {
		if err := b.install(ctx, sys); err != nil {
			errs = append(errs, err)
		}
	}
	b.notifyChanged()
	return errors.Join(errs...)
}

// Reconcile applies a new system list: removed systems are dropped, new and
// changed ones are loaded, unchanged ones are left alone.
func (b *Bridge) Reconcile(ctx context.Context, systems []config.SystemConfig) error {
	wanted := make(map[string]config.SystemConfig, len(systems))
	for _, sc := range systems {
		wanted[sc.ID] = sc
	}

	b.mu.RLock()
	var removed []string
	for id := range b.systems {
		if _, ok := wanted[id]; !ok {
			removed = append(removed, id)
		}
	}
	var changed []config.SystemConfig
	for _, sc := range systems {
		cur, ok := b.systems[sc.ID]
		if !ok || !reflect.DeepEqual(cur.cfg, sc) {
			changed = append(changed, sc)
		}
	}
	b.mu.RUnlock()

	if len(removed) == 0 && len(changed) == 0 {
		return nil
	}

	// Build clients first so a bad entry leaves the running set untouched.
	built := make([]*system, 0, len(changed))
	for _, sc := range changed {
		sys, err := b.newSystem(sc)
		if err != nil {
			return err
		}
		built = append(built, sys)
	}

	for _, id := range removed {
		b.mu.Lock()
		delete(b.systems, id)
		b.mu.Unlock()
		b.store.Remove(id)
		observability.RegisteredTools.DeleteLabelValues(id)
		b.logger.Info("System removed", "system", id)
	}

	var errs []error
	for _, sys := range built {
		if err := b.install(ctx, sys); err != nil {
			errs = append(errs, err)
		}
	}
	b.notifyChanged()
	return errors.Join(errs...)
}

func (b *Bridge) system(id string) (*system, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	sys, ok := b.systems[id]
	return sys, ok
}

// ListTools returns the built-in tools followed by every generated tool.
func (b *Bridge) ListTools() []*mcp.Tool {
	tools := b.builtinTools()
	for _, t := range b.store.Tools() {
		tools = append(tools, &mcp.Tool{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema})
	}
	if b.cfg.SortTools {
		sort.SliceStable(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })
	}
	return tools
}

// CallTool executes a tool by name.
func (b *Bridge) CallTool(ctx context.Context, name string, args map[string]interface{}) (interface{}, error) {
	if handler, ok := b.builtinHandler(name); ok {
		return handler(ctx, args)
	}

	tool, snap, ok := b.store.Lookup(name)
	if !ok {
		return nil, bridgeerr.Newf(bridgeerr.KindNotFound, "unknown tool %s", name)
	}

	start := time.Now()
	result, err := b.dispatch(ctx, tool, snap, args)
	op := tool.Operation.String()
	observability.ToolCallDuration.WithLabelValues(tool.SystemID, op).Observe(time.Since(start).Seconds())

	outcome := "ok"
	if err != nil {
		outcome = string(bridgeerr.KindOf(err))
		if outcome == "" {
			outcome = "error"
		}
		err = tagError(err, tool)
	}
	observability.ToolCallsTotal.WithLabelValues(tool.SystemID, op, outcome).Inc()
	if err != nil {
		if b.cfg.VerboseErrors {
			b.logger.Warn("Tool call failed", "system", tool.SystemID, "tool", tool.Name,
				"args", debug.MaskFields(args), "error", err)
		} else {
			b.logger.Debug("Tool call failed", "system", tool.SystemID, "tool", tool.Name, "error", err)
		}
	}
	return result, err
}

// tagError makes sure a failure names the system of the tool.
func tagError(err error, tool *models.GeneratedTool) error {
	var be *bridgeerr.Error
	if !errors.As(err, &be) {
		return bridgeerr.New(bridgeerr.KindRequest, "tool call failed", err).WithSystem(tool.SystemID)
	}
	if be.System == "" {
		return be.WithSystem(tool.SystemID)
	}
	return err
}

// TraceInfo describes every system for --trace output.
func (b *Bridge) TraceInfo() []*models.TraceInfo {
	naming := "Postfix"
	if !b.cfg.UsePostfix() {
		naming = "Prefix"
	}
	readOnly := ""
	if b.cfg.ReadOnly {
		readOnly = "Full read-only (no modifying operations)"
	} else if b.cfg.ReadOnlyButFunctions {
		readOnly = "Read-only except functions"
	}

	var out []*models.TraceInfo
	for _, snap := range b.store.Snapshots() {
		info := &models.TraceInfo{
			SystemID:        snap.SystemID,
			Authentication:  snap.AuthType,
			ToolNaming:      naming,
			ToolPrefix:      b.cfg.ToolPrefix,
			ToolPostfix:     b.cfg.ToolPostfix,
			ToolShrink:      b.cfg.ToolShrink,
			ReadOnlyMode:    readOnly,
			RegisteredTools: snap.Tools,
			TotalTools:      len(snap.Tools),
		}
		if snap.Err != nil {
			info.Warnings = append(info.Warnings, snap.Err.Error())
		}
		for _, svc := range snap.Services {
			st := models.ServiceTrace{ServiceURL: svc.URL, ServiceID: svc.ServiceID}
			if svc.Metadata != nil {
				st.ODataVersion = svc.Metadata.ODataVersion
				st.Metadata = svc.Metadata.Summary()
			}
			if svc.Err != nil {
				st.Error = svc.Err.Error()
			}
			info.Services = append(info.Services, st)
			for _, w := range svc.Warnings {
				info.Warnings = append(info.Warnings, w.Error())
			}
		}
		out = append(out, info)
	}
	return out
}

// readOnlyLabel names the read-only mode for the service info tool.
func (b *Bridge) readOnlyLabel() string {
	switch {
	case b.cfg.ReadOnly:
		return "read-only"
	case b.cfg.ReadOnlyButFunctions:
		return "read-only-but-functions"
	}
	return ""
}
