package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/gobwas/glob"
	"github.com/spf13/cast"

	"github.com/zmcp/odata-mcp-gateway/internal/auth"
	"github.com/zmcp/odata-mcp-gateway/internal/bridgeerr"
	"github.com/zmcp/odata-mcp-gateway/internal/client"
	"github.com/zmcp/odata-mcp-gateway/internal/constants"
)

// DefaultSystemID names the system built from the single-service flags.
const DefaultSystemID = "default"

var systemIDRe = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// SystemConfig describes one backend system and the services it exposes.
type SystemConfig struct {
	ID      string `toml:"id" yaml:"id"`
	Name    string `toml:"name" yaml:"name"`
	BaseURL string `toml:"url" yaml:"url"`
	// Services are paths relative to BaseURL (or absolute URLs). Empty means
	// BaseURL is itself the service root.
	Services []string `toml:"services" yaml:"services"`
	// DiscoveryURL enables SAP catalog discovery; "auto" uses the default
	// catalog on the BaseURL host.
	DiscoveryURL string `toml:"discovery_url" yaml:"discovery_url"`
	// ServiceFilter keeps discovered services whose technical name matches.
	ServiceFilter []string `toml:"service_filter" yaml:"service_filter"`

	Auth auth.Config `toml:"auth" yaml:"auth"`

	// Timeout in seconds.
	Timeout          int               `toml:"timeout" yaml:"timeout"`
	ValidateSSL      *bool             `toml:"validate_ssl" yaml:"validate_ssl"`
	EnableCSRF       *bool             `toml:"enable_csrf" yaml:"enable_csrf"`
	Headers          map[string]string `toml:"headers" yaml:"headers"`
	RateLimit        float64           `toml:"rate_limit" yaml:"rate_limit"`
	StrictSearchable *bool             `toml:"strict_searchable" yaml:"strict_searchable"`
}

// DisplayName returns Name, falling back to ID.
func (s *SystemConfig) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	return s.ID
}

// ServicePaths returns the configured service paths; "" stands for BaseURL.
func (s *SystemConfig) ServicePaths() []string {
	if len(s.Services) == 0 {
		return []string{""}
	}
	return s.Services
}

// TimeoutDuration returns the request timeout, defaulting to 30s.
func (s *SystemConfig) TimeoutDuration() time.Duration {
	if s.Timeout <= 0 {
		return constants.DefaultTimeout * time.Second
	}
	return time.Duration(s.Timeout) * time.Second
}

// IsStrictSearchable reports whether entity sets need an explicit
// searchable annotation.
func (s *SystemConfig) IsStrictSearchable() bool {
	return s.StrictSearchable != nil && *s.StrictSearchable
}

// MatchesServiceFilter reports whether a discovered service is selected.
func (s *SystemConfig) MatchesServiceFilter(name string) bool {
	if len(s.ServiceFilter) == 0 {
		return true
	}
	for _, p := range s.ServiceFilter {
		if g, err := glob.Compile(p); err == nil && g.Match(name) {
			return true
		}
	}
	return false
}

// ClientOptions converts the system settings into client options.
func (s *SystemConfig) ClientOptions(traceHTTP bool, logger *slog.Logger) client.Options {
	return client.Options{
		SystemID:    s.ID,
		BaseURL:     s.BaseURL,
		Timeout:     s.TimeoutDuration(),
		ValidateSSL: boolOr(s.ValidateSSL, true),
		EnableCSRF:  boolOr(s.EnableCSRF, true),
		Headers:     s.Headers,
		RateLimit:   s.RateLimit,
		Retry:       client.DefaultRetryConfig(),
		TraceHTTP:   traceHTTP,
		Logger:      logger,
	}
}

// Validate checks one system definition.
func (s *SystemConfig) Validate() error {
	if s.ID == "" {
		return bridgeerr.Newf(bridgeerr.KindConfig, "system id is required (url %q)", s.BaseURL)
	}
	if !systemIDRe.MatchString(s.ID) {
		return bridgeerr.Newf(bridgeerr.KindConfig, "system id %q may only contain letters, digits and underscores", s.ID)
	}
	if s.BaseURL == "" {
		return bridgeerr.Newf(bridgeerr.KindConfig, "url is required").WithSystem(s.ID)
	}
	u, err := url.Parse(s.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return bridgeerr.Newf(bridgeerr.KindConfig, "invalid url %q", s.BaseURL).WithSystem(s.ID)
	}
	if s.Timeout < 0 {
		return bridgeerr.Newf(bridgeerr.KindConfig, "timeout must not be negative").WithSystem(s.ID)
	}
	if s.RateLimit < 0 {
		return bridgeerr.Newf(bridgeerr.KindConfig, "rate_limit must not be negative").WithSystem(s.ID)
	}
	for _, p := range s.ServiceFilter {
		if _, err := glob.Compile(p); err != nil {
			return bridgeerr.New(bridgeerr.KindConfig, "invalid service_filter "+p, err).WithSystem(s.ID)
		}
	}
	if err := s.Auth.Validate(); err != nil {
		return tagSystem(err, s.ID)
	}
	return nil
}

// ValidateSystems validates every system and rejects duplicate ids.
func ValidateSystems(systems []SystemConfig) error {
	seen := make(map[string]bool, len(systems))
	for i := range systems {
		if err := systems[i].Validate(); err != nil {
			return err
		}
		if seen[systems[i].ID] {
			return bridgeerr.Newf(bridgeerr.KindConfig, "duplicate system id %q", systems[i].ID)
		}
		seen[systems[i].ID] = true
	}
	return nil
}

// Resolve collects the systems from every source: the systems file, the
// ODATA_SYSTEM_<N>_* and ODATA_SYSTEMS environment blocks, and the
// single-service options. Global defaults are applied before validation.
func Resolve(cfg *Config, environ []string) ([]SystemConfig, error) {
	var systems []SystemConfig
	if cfg.SystemsFile != "" {
		fromFile, err := LoadSystemsFile(cfg.SystemsFile)
		if err != nil {
			return nil, err
		}
		systems = append(systems, fromFile...)
	}

	fromEnv, err := SystemsFromEnv(environ)
	if err != nil {
		return nil, err
	}
	systems = append(systems, fromEnv...)

	if single := cfg.SingleSystem(); single != nil {
		systems = append(systems, *single)
	}

	for i := range systems {
		cfg.applyDefaults(&systems[i])
	}
	if len(systems) == 0 {
		return nil, bridgeerr.Newf(bridgeerr.KindConfig,
			"no systems configured: pass a service URL, --systems-file or ODATA_SYSTEM_1_URL")
	}
	if err := ValidateSystems(systems); err != nil {
		return nil, err
	}
	return systems, nil
}

func (c *Config) applyDefaults(s *SystemConfig) {
	if s.StrictSearchable == nil && c.StrictSearchable {
		v := true
		s.StrictSearchable = &v
	}
	if s.RateLimit == 0 {
		s.RateLimit = c.RateLimit
	}
}

// SingleSystem builds the "default" system from the single-service
// options, or returns nil when no service URL was given.
func (c *Config) SingleSystem() *SystemConfig {
	if c.ServiceURL == "" {
		return nil
	}
	sys := &SystemConfig{
		ID:      DefaultSystemID,
		BaseURL: c.ServiceURL,
		Auth: auth.Config{
			Username:   c.Username,
			Password:   c.Password,
			CookieFile: c.CookieFile,
		},
	}
	if c.CookieString != "" {
		sys.Auth.Cookies = auth.ParseCookieString(c.CookieString)
	}
	switch {
	case c.AuthAAD:
		sys.Auth.Type = auth.TypeAAD
		sys.Auth.TenantID = c.AADTenant
		sys.Auth.ClientID = c.AADClientID
		sys.Auth.ClientSecret = c.AADClientSecret
		sys.Auth.Scopes = SplitList(c.AADScopes)
		sys.Auth.OpenBrowser = c.AADBrowser
	case c.OAuth2TokenURL != "":
		sys.Auth.Type = auth.TypeOAuth2
		sys.Auth.TokenURL = c.OAuth2TokenURL
		sys.Auth.ClientID = c.OAuth2ClientID
		sys.Auth.ClientSecret = c.OAuth2ClientSecret
		sys.Auth.Scopes = SplitList(c.OAuth2Scopes)
	}
	return sys
}

// SystemsFromEnv reads numbered blocks (ODATA_SYSTEM_1_URL, ...) followed by
// named blocks listed in ODATA_SYSTEMS (ODATA_SYSTEMS=erp,crm reads
// ODATA_ERP_URL, ODATA_CRM_URL, ...).
func SystemsFromEnv(environ []string) ([]SystemConfig, error) {
	env := make(map[string]string, len(environ))
	for _, kv := range environ {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}

	var systems []SystemConfig

	numbered := map[int]map[string]string{}
	for k, v := range env {
		rest, ok := strings.CutPrefix(k, "ODATA_SYSTEM_")
		if !ok {
			continue
		}
		num, key, ok := strings.Cut(rest, "_")
		if !ok {
			continue
		}
		n, err := cast.ToIntE(num)
		if err != nil || n <= 0 {
			continue
		}
		if numbered[n] == nil {
			numbered[n] = map[string]string{}
		}
		numbered[n][key] = v
	}
	nums := make([]int, 0, len(numbered))
	for n := range numbered {
		nums = append(nums, n)
	}
	sort.Ints(nums)
	for _, n := range nums {
		sys := SystemConfig{ID: fmt.Sprintf("system%d", n)}
		if err := applyEnvBlock(&sys, numbered[n]); err != nil {
			return nil, err
		}
		systems = append(systems, sys)
	}

	for _, name := range SplitList(env["ODATA_SYSTEMS"]) {
		prefix := "ODATA_" + strings.ToUpper(name) + "_"
		block := map[string]string{}
		for k, v := range env {
			if key, ok := strings.CutPrefix(k, prefix); ok {
				block[key] = v
			}
		}
		sys := SystemConfig{ID: strings.ToLower(name)}
		if err := applyEnvBlock(&sys, block); err != nil {
			return nil, err
		}
		systems = append(systems, sys)
	}
	return systems, nil
}

// envKeys lists the keys understood inside a system block.
var envKeys = []string{
	"ID", "NAME", "URL", "SERVICES", "SERVICE_FILTER", "DISCOVERY_URL",
	"AUTH_TYPE", "USERNAME", "USER", "PASSWORD", "PASS", "COOKIES", "COOKIE_FILE",
	"CLIENT_ID", "CLIENT_SECRET", "TOKEN_URL", "SCOPES", "TENANT", "AUTHORITY", "OPEN_BROWSER",
	"TIMEOUT", "VALIDATE_SSL", "ENABLE_CSRF", "HEADERS", "RATE_LIMIT", "STRICT_SEARCHABLE",
}

func applyEnvBlock(sys *SystemConfig, block map[string]string) error {
	for key, val := range block {
		if !slices.Contains(envKeys, key) {
			continue
		}
		if err := applyEnvKey(sys, key, strings.TrimSpace(val)); err != nil {
			return bridgeerr.New(bridgeerr.KindConfig, "invalid "+key, err).WithSystem(sys.ID)
		}
	}
	if sys.BaseURL == "" {
		return bridgeerr.Newf(bridgeerr.KindConfig, "URL is required").WithSystem(sys.ID)
	}
	return nil
}

func applyEnvKey(sys *SystemConfig, key, val string) error {
	switch key {
	case "ID":
		sys.ID = val
	case "NAME":
		sys.Name = val
	case "URL":
		sys.BaseURL = val
	case "SERVICES":
		sys.Services = SplitList(val)
	case "SERVICE_FILTER":
		sys.ServiceFilter = SplitList(val)
	case "DISCOVERY_URL":
		sys.DiscoveryURL = val
	case "AUTH_TYPE":
		sys.Auth.Type = strings.ToLower(val)
	case "USERNAME", "USER":
		sys.Auth.Username = val
	case "PASSWORD", "PASS":
		sys.Auth.Password = val
	case "COOKIES":
		sys.Auth.Cookies = auth.ParseCookieString(val)
	case "COOKIE_FILE":
		sys.Auth.CookieFile = val
	case "CLIENT_ID":
		sys.Auth.ClientID = val
	case "CLIENT_SECRET":
		sys.Auth.ClientSecret = val
	case "TOKEN_URL":
		sys.Auth.TokenURL = val
	case "SCOPES":
		sys.Auth.Scopes = SplitList(val)
	case "TENANT":
		sys.Auth.TenantID = val
	case "AUTHORITY":
		sys.Auth.Authority = val
	case "OPEN_BROWSER":
		b, err := cast.ToBoolE(val)
		if err != nil {
			return err
		}
		sys.Auth.OpenBrowser = b
	case "TIMEOUT":
		t, err := cast.ToIntE(val)
		if err != nil {
			return err
		}
		sys.Timeout = t
	case "VALIDATE_SSL":
		b, err := cast.ToBoolE(val)
		if err != nil {
			return err
		}
		sys.ValidateSSL = &b
	case "ENABLE_CSRF":
		b, err := cast.ToBoolE(val)
		if err != nil {
			return err
		}
		sys.EnableCSRF = &b
	case "STRICT_SEARCHABLE":
		b, err := cast.ToBoolE(val)
		if err != nil {
			return err
		}
		sys.StrictSearchable = &b
	case "RATE_LIMIT":
		r, err := cast.ToFloat64E(val)
		if err != nil {
			return err
		}
		sys.RateLimit = r
	case "HEADERS":
		h, err := parseHeaders(val)
		if err != nil {
			return err
		}
		sys.Headers = h
	}
	return nil
}

// parseHeaders reads "Name: value" pairs separated by ";".
func parseHeaders(s string) (map[string]string, error) {
	headers := map[string]string{}
	for _, pair := range strings.Split(s, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, value, ok := strings.Cut(pair, ":")
		if !ok {
			name, value, ok = strings.Cut(pair, "=")
		}
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("header %q must be Name: value", pair)
		}
		headers[strings.TrimSpace(name)] = strings.TrimSpace(value)
	}
	return headers, nil
}

func boolOr(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}

func tagSystem(err error, system string) error {
	var e *bridgeerr.Error
	if errors.As(err, &e) {
		return e.WithSystem(system)
	}
	return bridgeerr.New(bridgeerr.KindConfig, "invalid auth", err).WithSystem(system)
}
