package generator

import (
	"strings"

	"github.com/gobwas/glob"

	"github.com/zmcp/odata-mcp-gateway/internal/bridgeerr"
	"github.com/zmcp/odata-mcp-gateway/internal/constants"
	"github.com/zmcp/odata-mcp-gateway/internal/naming"
)

// Config controls which tools are generated and how they are named.
type Config struct {
	// EnabledOps holds operation letters (C,R,U,D,F,S,G,A); empty means all.
	EnabledOps         string
	DisabledOps        string
	ToolPrefix         string
	ToolPostfix        string
	UseServiceID       bool
	ShrinkNames        bool
	MaxToolNameLength  int
	ClaudeCodeFriendly bool
	EntityFilter       []string
	FunctionFilter     []string
	ReadOnly           bool
	// ReadOnlyButFunctions hides create/update/delete but keeps every function and action.
	ReadOnlyButFunctions bool
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		UseServiceID:      true,
		MaxToolNameLength: constants.DefaultToolNameMaxLength,
	}
}

func (c Config) nameConfig() naming.ToolNameConfig {
	return naming.ToolNameConfig{
		Prefix:       c.ToolPrefix,
		Postfix:      c.ToolPostfix,
		UseServiceID: c.UseServiceID,
		Shrink:       c.ShrinkNames,
		MaxLength:    c.maxLength(),
	}
}

func (c Config) maxLength() int {
	if c.MaxToolNameLength <= 0 {
		return constants.DefaultToolNameMaxLength
	}
	return c.MaxToolNameLength
}

// OpSet is the set of enabled operation letters.
type OpSet map[rune]bool

// ParseOps expands enable/disable letter strings. R stands for S, F and G.
// An empty enable string enables everything before disable is applied.
func ParseOps(enable, disable string) OpSet {
	ops := OpSet{}
	if strings.TrimSpace(enable) == "" {
		enable = constants.AllOperationLetters
	}
	for _, r := range expand(enable) {
		ops[r] = true
	}
	for _, r := range expand(disable) {
		delete(ops, r)
	}
	return ops
}

func expand(letters string) []rune {
	var out []rune
	for _, r := range strings.ToUpper(letters) {
		if r == constants.LetterRead {
			out = append(out, constants.LetterSearch, constants.LetterFilter, constants.LetterGet)
			continue
		}
		if strings.ContainsRune(constants.AllOperationLetters, r) {
			out = append(out, r)
		}
	}
	return out
}

// Has reports whether letter is enabled.
func (s OpSet) Has(letter rune) bool {
	return s[letter]
}

// filter is a compiled allow-list of glob patterns. Empty allows everything.
type filter []glob.Glob

func compileFilter(patterns []string) (filter, error) {
	var f filter
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		g, err := glob.Compile(p)
		if err != nil {
			return nil, bridgeerr.New(bridgeerr.KindConfig, "invalid filter pattern "+p, err)
		}
		f = append(f, g)
	}
	return f, nil
}

func (f filter) allows(name string) bool {
	if len(f) == 0 {
		return true
	}
	for _, g := range f {
		if g.Match(name) {
			return true
		}
	}
	return false
}
