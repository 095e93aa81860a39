// Package config holds the gateway options and the backend system
// definitions they resolve to.
package config

import (
	"strings"

	"github.com/zmcp/odata-mcp-gateway/internal/generator"
)

// Config holds all configuration options for the OData MCP gateway
type Config struct {
	// Single-service shortcut; becomes the "default" system
	ServiceURL string `mapstructure:"service_url"`

	// Authentication for the single-service system
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	CookieFile   string `mapstructure:"cookie_file"`
	CookieString string `mapstructure:"cookie_string"`

	// OAuth2 client credentials (SAP BTP and generic OAuth2)
	OAuth2TokenURL     string `mapstructure:"oauth2_token_url"`
	OAuth2ClientID     string `mapstructure:"oauth2_client_id"`
	OAuth2ClientSecret string `mapstructure:"oauth2_client_secret"`
	OAuth2Scopes       string `mapstructure:"oauth2_scopes"`

	// AAD authentication
	AuthAAD         bool   `mapstructure:"auth_aad"`
	AADTenant       string `mapstructure:"aad_tenant"`
	AADClientID     string `mapstructure:"aad_client_id"`
	AADClientSecret string `mapstructure:"aad_client_secret"`
	AADScopes       string `mapstructure:"aad_scopes"` // Comma-separated scopes
	AADBrowser      bool   `mapstructure:"aad_browser"`

	// Multi-system configuration
	SystemsFile string `mapstructure:"systems_file"`
	Watch       bool   `mapstructure:"watch"`

	// Tool naming options
	ToolPrefix        string `mapstructure:"tool_prefix"`
	ToolPostfix       string `mapstructure:"tool_postfix"`
	NoPostfix         bool   `mapstructure:"no_postfix"`
	ToolShrink        bool   `mapstructure:"tool_shrink"`
	MaxToolNameLength int    `mapstructure:"max_tool_name_length"`

	// Entity and function filtering
	Entities  string `mapstructure:"entities"`
	Functions string `mapstructure:"functions"`

	// Operation letters (C,R,U,D,F,S,G,A)
	EnableOps  string `mapstructure:"enable"`
	DisableOps string `mapstructure:"disable"`

	// Output and debugging
	Verbose   bool `mapstructure:"verbose"`
	Debug     bool `mapstructure:"debug"`
	SortTools bool `mapstructure:"sort_tools"`
	Trace     bool `mapstructure:"trace"`
	TraceMCP  bool `mapstructure:"trace_mcp"`

	// Response enhancement options
	PaginationHints  bool `mapstructure:"pagination_hints"`
	LegacyDates      bool `mapstructure:"legacy_dates"`
	NoLegacyDates    bool `mapstructure:"no_legacy_dates"`
	VerboseErrors    bool `mapstructure:"verbose_errors"`
	ResponseMetadata bool `mapstructure:"response_metadata"` // Keep __metadata in responses

	// Response size limits
	MaxResponseSize int `mapstructure:"max_response_size"` // bytes
	MaxItems        int `mapstructure:"max_items"`

	// Read-only mode flags
	ReadOnly             bool `mapstructure:"read_only"`
	ReadOnlyButFunctions bool `mapstructure:"read_only_but_functions"`
	ClaudeCodeFriendly   bool `mapstructure:"claude_code_friendly"`

	// Defaults applied to every system that does not set its own
	StrictSearchable bool    `mapstructure:"strict_searchable"`
	RateLimit        float64 `mapstructure:"rate_limit"`

	// Hint configuration
	HintsFile string `mapstructure:"hints_file"`
	Hint      string `mapstructure:"hint"`

	// Observability
	MetricsAddr  string `mapstructure:"metrics_addr"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

// UsePostfix returns true if tool postfix should be used instead of prefix
func (c *Config) UsePostfix() bool {
	return !c.NoPostfix
}

// IsReadOnly returns true if read-only mode is enabled
func (c *Config) IsReadOnly() bool {
	return c.ReadOnly || c.ReadOnlyButFunctions
}

// AllowModifyingFunctions returns true if modifying function imports are allowed
func (c *Config) AllowModifyingFunctions() bool {
	return !c.ReadOnly
}

// UseLegacyDates reports whether /Date(ms)/ values are converted.
func (c *Config) UseLegacyDates() bool {
	return c.LegacyDates && !c.NoLegacyDates
}

// GeneratorConfig derives the tool generation settings.
func (c *Config) GeneratorConfig() generator.Config {
	g := generator.DefaultConfig()
	g.EnabledOps = c.EnableOps
	g.DisabledOps = c.DisableOps
	g.ShrinkNames = c.ToolShrink
	g.ClaudeCodeFriendly = c.ClaudeCodeFriendly
	g.EntityFilter = SplitList(c.Entities)
	g.FunctionFilter = SplitList(c.Functions)
	g.ReadOnly = c.ReadOnly
	g.ReadOnlyButFunctions = c.ReadOnlyButFunctions && !c.ReadOnly
	if c.MaxToolNameLength > 0 {
		g.MaxToolNameLength = c.MaxToolNameLength
	}
	if c.UsePostfix() {
		g.ToolPostfix = c.ToolPostfix
	} else {
		g.ToolPrefix = c.ToolPrefix
	}
	// A custom prefix or postfix replaces the service id in names.
	if c.ToolPrefix != "" || c.ToolPostfix != "" {
		g.UseServiceID = false
	}
	return g
}

// SplitList splits a comma-separated list, dropping blanks.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
