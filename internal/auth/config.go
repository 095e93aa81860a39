package auth

import (
	"strings"

	"github.com/zmcp/odata-mcp-gateway/internal/bridgeerr"
)

// Supported authentication types.
const (
	TypeNone   = "none"
	TypeBasic  = "basic"
	TypeCookie = "cookie"
	TypeOAuth2 = "oauth2"
	TypeAAD    = "aad"
)

// Config holds the credentials of one backend system. Only the fields of the
// selected Type are read.
type Config struct {
	Type string `toml:"type" yaml:"type"`

	Username string `toml:"username" yaml:"username"`
	Password string `toml:"password" yaml:"password"`

	// Cookies are sent with every request; CookieFile is read once at startup.
	Cookies    map[string]string `toml:"cookies" yaml:"cookies"`
	CookieFile string            `toml:"cookie_file" yaml:"cookie_file"`

	ClientID     string   `toml:"client_id" yaml:"client_id"`
	ClientSecret string   `toml:"client_secret" yaml:"client_secret"`
	TokenURL     string   `toml:"token_url" yaml:"token_url"`
	Scopes       []string `toml:"scopes" yaml:"scopes"`

	// TenantID is the Azure AD tenant ("common" for multi-tenant apps).
	TenantID  string `toml:"tenant" yaml:"tenant"`
	Authority string `toml:"authority" yaml:"authority"`
	// OpenBrowser opens the device-code verification page automatically.
	OpenBrowser bool `toml:"open_browser" yaml:"open_browser"`
}

// EffectiveType infers the type when none was set explicitly.
func (c *Config) EffectiveType() string {
	if c.Type != "" {
		return strings.ToLower(c.Type)
	}
	switch {
	case c.Username != "":
		return TypeBasic
	case len(c.Cookies) > 0 || c.CookieFile != "":
		return TypeCookie
	case c.TokenURL != "":
		return TypeOAuth2
	}
	return TypeNone
}

// Validate checks that the selected type has what it needs.
func (c *Config) Validate() error {
	switch c.EffectiveType() {
	case TypeNone:
	case TypeBasic:
		if c.Username == "" || c.Password == "" {
			return bridgeerr.Newf(bridgeerr.KindConfig, "basic auth requires username and password")
		}
	case TypeCookie:
		if len(c.Cookies) == 0 && c.CookieFile == "" {
			return bridgeerr.Newf(bridgeerr.KindConfig, "cookie auth requires cookies or a cookie file")
		}
	case TypeOAuth2:
		if c.ClientID == "" || c.ClientSecret == "" || c.TokenURL == "" {
			return bridgeerr.Newf(bridgeerr.KindConfig, "oauth2 requires client_id, client_secret and token_url")
		}
	case TypeAAD:
		if c.ClientID == "" {
			return bridgeerr.Newf(bridgeerr.KindConfig, "aad requires client_id")
		}
	default:
		return bridgeerr.Newf(bridgeerr.KindConfig, "unknown auth type %q", c.Type)
	}
	return nil
}

// AADAuthority returns the authority URL for the tenant.
func (c *Config) AADAuthority() string {
	if c.Authority != "" {
		return c.Authority
	}
	tenant := c.TenantID
	if tenant == "" {
		tenant = "common"
	}
	return "https://login.microsoftonline.com/" + tenant
}

// ScopesFor returns the configured scopes or the resource default
// "<scheme>://<host>/.default" derived from the service URL.
func (c *Config) ScopesFor(serviceURL string) []string {
	if len(c.Scopes) > 0 {
		return c.Scopes
	}
	return []string{extractBaseURL(serviceURL) + "/.default"}
}

func extractBaseURL(serviceURL string) string {
	scheme := "https://"
	rest := serviceURL
	if i := strings.Index(rest, "://"); i >= 0 {
		scheme = rest[:i+3]
		rest = rest[i+3:]
	}
	if idx := strings.Index(rest, "/"); idx > 0 {
		rest = rest[:idx]
	}
	return scheme + rest
}
