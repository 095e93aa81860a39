// Package registry holds the current tool set of every system as an
// immutable snapshot that is replaced atomically on refresh.
package registry

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zmcp/odata-mcp-gateway/internal/models"
)

// Service is the loaded state of one OData service of a system.
type Service struct {
	URL       string
	ServiceID string
	Metadata  *models.ServiceMetadata
	// Err is set when the last load failed. Without Stale the service has
	// no tools.
	Err error
	// Stale marks metadata and tools carried over from an earlier load.
	Stale    bool
	Warnings []error
}

// Snapshot is the complete, immutable state of one system. Never modify a
// snapshot after Put.
type Snapshot struct {
	SystemID string
	Name     string
	AuthType string
	Services []*Service
	Tools    []*models.GeneratedTool
	// Err is set when the whole system failed, e.g. during discovery.
	Err      error
	LoadedAt time.Time

	byName map[string]*models.GeneratedTool
}

// NewSnapshot indexes tools by name.
func NewSnapshot(systemID, name string, services []*Service, tools []*models.GeneratedTool, err error) *Snapshot {
	s := &Snapshot{
		SystemID: systemID,
		Name:     name,
		Services: services,
		Tools:    tools,
		Err:      err,
		LoadedAt: time.Now(),
		byName:   make(map[string]*models.GeneratedTool, len(tools)),
	}
	for _, t := range tools {
		s.byName[t.Name] = t
	}
	return s
}

// Tool returns the tool with the given name.
func (s *Snapshot) Tool(name string) (*models.GeneratedTool, bool) {
	t, ok := s.byName[name]
	return t, ok
}

// Service returns the service loaded from url, or nil.
func (s *Snapshot) Service(url string) *Service {
	for _, svc := range s.Services {
		if svc.URL == url {
			return svc
		}
	}
	return nil
}

// Healthy reports whether the system and all its services loaded.
func (s *Snapshot) Healthy() bool {
	if s.Err != nil {
		return false
	}
	for _, svc := range s.Services {
		if svc.Err != nil {
			return false
		}
	}
	return true
}

// Store maps system ids to their current snapshot. Readers load a snapshot
// once per request and never observe a partially built tool set.
type Store struct {
	mu      sync.RWMutex
	systems map[string]*atomic.Pointer[Snapshot]
	version atomic.Uint64
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{systems: map[string]*atomic.Pointer[Snapshot]{}}
}

// Put installs snap as the current state of its system and returns the
// snapshot it replaced, if any.
func (s *Store) Put(snap *Snapshot) *Snapshot {
	s.mu.RLock()
	p, ok := s.systems[snap.SystemID]
	s.mu.RUnlock()

	if !ok {
		s.mu.Lock()
		if p, ok = s.systems[snap.SystemID]; !ok {
			p = &atomic.Pointer[Snapshot]{}
			s.systems[snap.SystemID] = p
		}
		s.mu.Unlock()
	}

	old := p.Swap(snap)
	s.version.Add(1)
	return old
}

// Remove drops a system. It reports whether the system existed.
func (s *Store) Remove(systemID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.systems[systemID]; !ok {
		return false
	}
	delete(s.systems, systemID)
	s.version.Add(1)
	return true
}

// Get returns the current snapshot of a system, or nil.
func (s *Store) Get(systemID string) *Snapshot {
	s.mu.RLock()
	p, ok := s.systems[systemID]
	s.mu.RUnlock()
	if !ok {
		return nil
	}
	return p.Load()
}

// Version increases with every Put and Remove.
func (s *Store) Version() uint64 {
	return s.version.Load()
}

// SystemIDs returns the known system ids, sorted.
func (s *Store) SystemIDs() []string {
	s.mu.RLock()
	ids := make([]string, 0, len(s.systems))
	for id := range s.systems {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Snapshots returns the current snapshot of every system, ordered by id.
func (s *Store) Snapshots() []*Snapshot {
	ids := s.SystemIDs()
	out := make([]*Snapshot, 0, len(ids))
	for _, id := range ids {
		if snap := s.Get(id); snap != nil {
			out = append(out, snap)
		}
	}
	return out
}

// Tools returns the tools of all systems, ordered by system id and then in
// generation order.
func (s *Store) Tools() []*models.GeneratedTool {
	var tools []*models.GeneratedTool
	for _, snap := range s.Snapshots() {
		tools = append(tools, snap.Tools...)
	}
	return tools
}

// Lookup finds a tool by name across all systems and returns it with the
// snapshot it belongs to.
func (s *Store) Lookup(name string) (*models.GeneratedTool, *Snapshot, bool) {
	for _, snap := range s.Snapshots() {
		if t, ok := snap.Tool(name); ok {
			return t, snap, true
		}
	}
	return nil, nil, false
}

// NamesExcept returns the tool names of every system but one, for
// generating names that do not clash across systems.
func (s *Store) NamesExcept(systemID string) map[string]bool {
	used := map[string]bool{}
	for _, snap := range s.Snapshots() {
		if snap.SystemID == systemID {
			continue
		}
		for name := range snap.byName {
			used[name] = true
		}
	}
	return used
}
