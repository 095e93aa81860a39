package bridge

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/zmcp/odata-mcp-gateway/internal/bridgeerr"
	"github.com/zmcp/odata-mcp-gateway/internal/metadata"
	"github.com/zmcp/odata-mcp-gateway/internal/models"
	"github.com/zmcp/odata-mcp-gateway/internal/naming"
	"github.com/zmcp/odata-mcp-gateway/internal/observability"
	"github.com/zmcp/odata-mcp-gateway/internal/registry"
)

// discoveryAuto selects the standard SAP catalog on the system host.
const discoveryAuto = "auto"

// buildSnapshot fetches and parses every service of sys and generates its
// tools. Failures are recorded on the snapshot, never returned. Names in
// reserved are treated as taken. A service that fails but loaded in prev
// keeps its previous metadata and tools, marked stale.
func (b *Bridge) buildSnapshot(ctx context.Context, sys *system, prev *registry.Snapshot, reserved map[string]bool) *registry.Snapshot {
	sc := sys.cfg
	logger := b.logger.With("system", sc.ID)

	paths, err := b.servicePaths(ctx, sys)
	if err != nil {
		logger.Warn("Service discovery failed", "error", err)
		if len(paths) == 0 && prev != nil {
			for _, svc := range prev.Services {
				paths = append(paths, svc.URL)
			}
		}
	}

	services := make([]*registry.Service, 0, len(paths))
	for _, path := range paths {
		url := sys.client.ServiceURL(path)
		svc := &registry.Service{URL: url, ServiceID: naming.DeriveServiceID(url)}
		services = append(services, svc)

		meta, lerr := b.loadMetadata(ctx, sys, path)
		if lerr == nil {
			svc.Metadata = meta
			continue
		}
		svc.Err = lerr
		logger.Warn("Failed to load service metadata", "service", url, "error", lerr)
		if old := previousService(prev, url); old != nil {
			svc.Metadata = old.Metadata
			svc.Warnings = old.Warnings
			svc.Stale = true
			for _, t := range prev.Tools {
				if t.ServicePath == url {
					reserved[t.Name] = true
				}
			}
			logger.Warn("Keeping previous tools for service", "service", url)
		}
	}

	var tools []*models.GeneratedTool
	for _, svc := range services {
		if svc.Stale {
			for _, t := range prev.Tools {
				if t.ServicePath == svc.URL {
					tools = append(tools, t)
				}
			}
			continue
		}
		if svc.Metadata == nil {
			continue
		}
		set := b.gen.GenerateWith(svc.Metadata, sc.ID, svc.URL, reserved)
		svc.Warnings = set.Warnings
		for _, w := range set.Warnings {
			logger.Warn("Tool generation warning", "service", svc.URL, "warning", w)
		}
		tools = append(tools, set.Tools...)
		logger.Debug("Service loaded", "service", svc.URL, "version", svc.Metadata.ODataVersion, "tools", len(set.Tools))
	}

	snap := registry.NewSnapshot(sc.ID, sc.DisplayName(), services, tools, err)
	snap.AuthType = sys.client.AuthType()
	return snap
}

// previousService returns the service at url in prev if it had loaded.
func previousService(prev *registry.Snapshot, url string) *registry.Service {
	if prev == nil {
		return nil
	}
	old := prev.Service(url)
	if old == nil || old.Metadata == nil {
		return nil
	}
	return old
}

// servicePaths lists the configured services plus, with discovery enabled,
// the catalog entries selected by the service filter.
func (b *Bridge) servicePaths(ctx context.Context, sys *system) ([]string, error) {
	sc := sys.cfg
	var paths []string
	if len(sc.Services) > 0 || sc.DiscoveryURL == "" {
		paths = append(paths, sc.ServicePaths()...)
	}
	if sc.DiscoveryURL == "" {
		return paths, nil
	}

	catalog := sc.DiscoveryURL
	if strings.EqualFold(catalog, discoveryAuto) {
		catalog = ""
	}
	discovered, err := sys.client.Discover(ctx, catalog)
	if err != nil {
		return paths, err
	}

	seen := map[string]bool{}
	for _, p := range paths {
		seen[sys.client.ServiceURL(p)] = true
	}
	for _, d := range discovered {
		if !sc.MatchesServiceFilter(d.Name) || seen[d.URL] {
			continue
		}
		seen[d.URL] = true
		paths = append(paths, d.URL)
	}
	if len(paths) == 0 {
		return nil, bridgeerr.Newf(bridgeerr.KindConfig, "service catalog returned no matching services").WithSystem(sc.ID)
	}
	return paths, nil
}

func (b *Bridge) loadMetadata(ctx context.Context, sys *system, path string) (*models.ServiceMetadata, error) {
	start := time.Now()
	defer func() {
		observability.MetadataParseDuration.WithLabelValues(sys.cfg.ID).Observe(time.Since(start).Seconds())
	}()

	raw, err := sys.client.FetchMetadata(ctx, path)
	if err != nil {
		return nil, err
	}
	meta, err := metadata.Parse(raw, metadata.ParseOptions{StrictSearchable: sys.cfg.IsStrictSearchable()})
	if err != nil {
		var be *bridgeerr.Error
		if !errors.As(err, &be) {
			be = bridgeerr.New(bridgeerr.KindMetadataParse, "failed to parse metadata", err)
		}
		return nil, be.WithSystem(sys.cfg.ID).WithService(sys.client.ServiceURL(path))
	}
	return meta, nil
}
