// Package hint attaches operator-supplied guidance to services, matched by
// glob patterns on the service URL.
package hint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/gobwas/glob"
	"gopkg.in/yaml.v3"
)

// ServiceHint represents hints for a specific service pattern
type ServiceHint struct {
	Pattern       string                  `json:"pattern" yaml:"pattern"`
	Priority      int                     `json:"priority,omitempty" yaml:"priority"`
	ServiceType   string                  `json:"service_type,omitempty" yaml:"service_type"`
	KnownIssues   []string                `json:"known_issues,omitempty" yaml:"known_issues"`
	Workarounds   []string                `json:"workarounds,omitempty" yaml:"workarounds"`
	FieldHints    map[string]FieldHint    `json:"field_hints,omitempty" yaml:"field_hints"`
	EntityHints   map[string]EntityHint   `json:"entity_hints,omitempty" yaml:"entity_hints"`
	FunctionHints map[string]FunctionHint `json:"function_hints,omitempty" yaml:"function_hints"`
	Examples      []Example               `json:"examples,omitempty" yaml:"examples"`
	Notes         []string                `json:"notes,omitempty" yaml:"notes"`

	matcher glob.Glob
}

// FieldHint provides hints for specific fields
type FieldHint struct {
	Type        string `json:"type,omitempty" yaml:"type"`
	Format      string `json:"format,omitempty" yaml:"format"`
	Example     string `json:"example,omitempty" yaml:"example"`
	Description string `json:"description,omitempty" yaml:"description"`
	Required    bool   `json:"required,omitempty" yaml:"required"`
}

// EntityHint provides hints for specific entities
type EntityHint struct {
	Description string   `json:"description,omitempty" yaml:"description"`
	Notes       []string `json:"notes,omitempty" yaml:"notes"`
	Examples    []string `json:"examples,omitempty" yaml:"examples"`
}

// FunctionHint provides hints for specific functions
type FunctionHint struct {
	Description string   `json:"description,omitempty" yaml:"description"`
	Parameters  []string `json:"parameters,omitempty" yaml:"parameters"`
	Examples    []string `json:"examples,omitempty" yaml:"examples"`
}

// Example represents a usage example
type Example struct {
	Description string `json:"description" yaml:"description"`
	Query       string `json:"query" yaml:"query"`
	Note        string `json:"note,omitempty" yaml:"note"`
}

// File is the on-disk hint format.
type File struct {
	Version string        `json:"version" yaml:"version"`
	Hints   []ServiceHint `json:"hints" yaml:"hints"`
}

// Result is the merged view of every hint matching a service.
type Result struct {
	ServiceType   string                  `json:"service_type,omitempty"`
	KnownIssues   []string                `json:"known_issues,omitempty"`
	Workarounds   []string                `json:"workarounds,omitempty"`
	Notes         []string                `json:"notes,omitempty"`
	FieldHints    map[string]FieldHint    `json:"field_hints,omitempty"`
	EntityHints   map[string]EntityHint   `json:"entity_hints,omitempty"`
	FunctionHints map[string]FunctionHint `json:"function_hints,omitempty"`
	Examples      []Example               `json:"examples,omitempty"`
	Source        string                  `json:"hint_source,omitempty"`
}

// cliPriority ranks a hint given on the command line above every file hint.
const cliPriority = 1000

// Manager holds the loaded hints. It is safe for concurrent use.
type Manager struct {
	mu        sync.RWMutex
	hints     []ServiceHint
	cliHint   *ServiceHint
	hintsFile string
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{}
}

// LoadFromFile loads hints from a JSON or YAML file. An empty path looks for
// hints.json next to the binary and then in the working directory; finding
// nothing is not an error.
func (m *Manager) LoadFromFile(path string) error {
	if path == "" {
		path = defaultHintsPath()
		if path == "" {
			return nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read hints file: %w", err)
	}

	var file File
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &file)
	default:
		err = json.Unmarshal(data, &file)
	}
	if err != nil {
		return fmt.Errorf("failed to parse hints file: %w", err)
	}

	for i := range file.Hints {
		if err := file.Hints[i].compile(); err != nil {
			return err
		}
	}

	m.mu.Lock()
	m.hints = file.Hints
	m.hintsFile = path
	m.mu.Unlock()
	return nil
}

func defaultHintsPath() string {
	if exe, err := os.Executable(); err == nil {
		p := filepath.Join(filepath.Dir(exe), "hints.json")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	if _, err := os.Stat("hints.json"); err == nil {
		return "hints.json"
	}
	return ""
}

// SetCLIHint sets a hint from the command line. Input that is not a JSON
// hint object becomes a note that applies to every service.
func (m *Manager) SetCLIHint(text string) error {
	var h ServiceHint
	if err := json.Unmarshal([]byte(text), &h); err != nil {
		h = ServiceHint{Notes: []string{text}}
	}
	if h.Pattern == "" {
		h.Pattern = "*"
	}
	h.Priority = cliPriority
	if err := h.compile(); err != nil {
		return err
	}

	m.mu.Lock()
	m.cliHint = &h
	m.mu.Unlock()
	return nil
}

func (h *ServiceHint) compile() error {
	g, err := glob.Compile(h.Pattern)
	if err != nil {
		return fmt.Errorf("invalid hint pattern %q: %w", h.Pattern, err)
	}
	h.matcher = g
	return nil
}

// Match reports whether the hint applies to a service URL. Trailing slashes
// are ignored.
func (h *ServiceHint) Match(serviceURL string) bool {
	if h.matcher == nil {
		return false
	}
	u := strings.TrimSuffix(serviceURL, "/")
	return h.Pattern == u || h.matcher.Match(u) || h.matcher.Match(u+"/")
}

// Lookup merges every hint matching serviceURL, higher priority last so it
// wins on scalar fields. It returns nil when nothing matches.
func (m *Manager) Lookup(serviceURL string) *Result {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matching []ServiceHint
	for _, h := range m.hints {
		if h.Match(serviceURL) {
			matching = append(matching, h)
		}
	}
	if m.cliHint != nil && m.cliHint.Match(serviceURL) {
		matching = append(matching, *m.cliHint)
	}
	if len(matching) == 0 {
		return nil
	}
	sort.SliceStable(matching, func(i, j int) bool { return matching[i].Priority < matching[j].Priority })

	res := &Result{}
	for _, h := range matching {
		if h.ServiceType != "" {
			res.ServiceType = h.ServiceType
		}
		res.KnownIssues = mergeStrings(res.KnownIssues, h.KnownIssues)
		res.Workarounds = mergeStrings(res.Workarounds, h.Workarounds)
		res.Notes = mergeStrings(res.Notes, h.Notes)
		res.FieldHints = mergeMap(res.FieldHints, h.FieldHints)
		res.EntityHints = mergeMap(res.EntityHints, h.EntityHints)
		res.FunctionHints = mergeMap(res.FunctionHints, h.FunctionHints)
		res.Examples = append(res.Examples, h.Examples...)
	}

	switch {
	case m.cliHint != nil && m.cliHint.Match(serviceURL):
		res.Source = "CLI argument"
	case m.hintsFile != "":
		res.Source = "Hints file: " + m.hintsFile
	}
	return res
}

// mergeStrings appends the unseen entries of add to existing.
func mergeStrings(existing, add []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, s := range existing {
		seen[s] = true
	}
	for _, s := range add {
		if !seen[s] {
			seen[s] = true
			existing = append(existing, s)
		}
	}
	return existing
}

func mergeMap[V any](existing, add map[string]V) map[string]V {
	if len(add) == 0 {
		return existing
	}
	if existing == nil {
		existing = make(map[string]V, len(add))
	}
	for k, v := range add {
		existing[k] = v
	}
	return existing
}
