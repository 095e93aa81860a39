// Package auth attaches backend credentials to outbound OData requests.
package auth

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
)

// Provider decorates a request with credentials.
type Provider interface {
	Apply(ctx context.Context, req *http.Request) error
	Type() string
}

// New builds the provider for cfg. The HTTP client is used for token
// endpoints so that TLS settings match the OData traffic.
func New(cfg *Config, serviceURL string, httpClient *http.Client, logger *slog.Logger) (Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.EffectiveType() {
	case TypeBasic:
		return &Basic{Username: cfg.Username, Password: cfg.Password}, nil
	case TypeCookie:
		cookies := make(map[string]string, len(cfg.Cookies))
		for k, v := range cfg.Cookies {
			cookies[k] = v
		}
		if cfg.CookieFile != "" {
			fromFile, err := LoadCookieFile(cfg.CookieFile)
			if err != nil {
				return nil, fmt.Errorf("failed to load cookie file: %w", err)
			}
			for k, v := range fromFile {
				cookies[k] = v
			}
		}
		return &Cookie{Cookies: cookies}, nil
	case TypeOAuth2:
		return NewOAuth2(cfg, httpClient), nil
	case TypeAAD:
		return NewAAD(cfg, serviceURL, logger)
	}
	return None{}, nil
}

// None sends requests anonymously.
type None struct{}

func (None) Apply(context.Context, *http.Request) error { return nil }
func (None) Type() string                               { return TypeNone }

// Basic uses HTTP basic authentication.
type Basic struct {
	Username string
	Password string
}

func (b *Basic) Apply(_ context.Context, req *http.Request) error {
	req.SetBasicAuth(b.Username, b.Password)
	return nil
}

func (b *Basic) Type() string { return TypeBasic }

// Cookie sends a fixed set of session cookies, typically MYSAPSSO2 and
// SAP_SESSIONID exported from a browser.
type Cookie struct {
	Cookies map[string]string
}

func (c *Cookie) Apply(_ context.Context, req *http.Request) error {
	for name, value := range c.Cookies {
		req.AddCookie(&http.Cookie{Name: name, Value: value})
	}
	return nil
}

func (c *Cookie) Type() string { return TypeCookie }

// LoadCookieFile reads cookies in Netscape format (7 tab-separated fields),
// falling back to one name=value pair per line.
func LoadCookieFile(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	cookies := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// domain, flag, path, secure, expiration, name, value
		parts := strings.Split(line, "\t")
		if len(parts) >= 7 {
			cookies[parts[5]] = parts[6]
		} else if kv := strings.SplitN(line, "=", 2); len(kv) == 2 {
			cookies[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
		}
	}
	return cookies, scanner.Err()
}

// ParseCookieString parses "k1=v1; k2=v2".
func ParseCookieString(s string) map[string]string {
	cookies := make(map[string]string)
	for _, cookie := range strings.Split(s, ";") {
		if kv := strings.SplitN(strings.TrimSpace(cookie), "=", 2); len(kv) == 2 {
			cookies[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
		}
	}
	return cookies
}
