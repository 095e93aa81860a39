package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/AzureAD/microsoft-authentication-library-for-go/apps/confidential"
	"github.com/AzureAD/microsoft-authentication-library-for-go/apps/public"
	"github.com/pkg/browser"

	"github.com/zmcp/odata-mcp-gateway/internal/bridgeerr"
)

// refreshSkew renews tokens this long before they expire.
const refreshSkew = 5 * time.Minute

// AAD authenticates against Azure AD with MSAL. A client secret selects the
// confidential client credentials flow; without one the public device code
// flow is used and the user is prompted on stderr.
type AAD struct {
	scopes      []string
	logger      *slog.Logger
	openBrowser bool

	useConfidential bool
	confidential    confidential.Client
	public          public.Client

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// NewAAD creates an Azure AD provider for the given service.
func NewAAD(cfg *Config, serviceURL string, logger *slog.Logger) (*AAD, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &AAD{
		scopes:      cfg.ScopesFor(serviceURL),
		logger:      logger,
		openBrowser: cfg.OpenBrowser,
	}

	if cfg.ClientSecret != "" {
		cred, err := confidential.NewCredFromSecret(cfg.ClientSecret)
		if err != nil {
			return nil, bridgeerr.New(bridgeerr.KindConfig, "invalid AAD client secret", err)
		}
		client, err := confidential.New(cfg.AADAuthority(), cfg.ClientID, cred)
		if err != nil {
			return nil, bridgeerr.New(bridgeerr.KindConfig, "failed to create MSAL confidential client", err)
		}
		a.useConfidential = true
		a.confidential = client
		return a, nil
	}

	client, err := public.New(cfg.ClientID, public.WithAuthority(cfg.AADAuthority()))
	if err != nil {
		return nil, bridgeerr.New(bridgeerr.KindConfig, "failed to create MSAL public client", err)
	}
	a.public = client
	return a, nil
}

func (a *AAD) Type() string { return TypeAAD }

func (a *AAD) Apply(ctx context.Context, req *http.Request) error {
	token, err := a.accessToken(ctx)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

func (a *AAD) accessToken(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.token != "" && time.Now().Add(refreshSkew).Before(a.expiresAt) {
		return a.token, nil
	}

	var (
		token     string
		expiresOn time.Time
		err       error
	)
	if a.useConfidential {
		token, expiresOn, err = a.acquireConfidential(ctx)
	} else {
		token, expiresOn, err = a.acquirePublic(ctx)
	}
	if err != nil {
		return "", bridgeerr.New(bridgeerr.KindAuth, "AAD authentication failed", err)
	}

	a.token = token
	a.expiresAt = expiresOn
	a.logger.Debug("acquired AAD token", "expires", expiresOn.Format(time.RFC3339))
	return token, nil
}

func (a *AAD) acquireConfidential(ctx context.Context) (string, time.Time, error) {
	if res, err := a.confidential.AcquireTokenSilent(ctx, a.scopes); err == nil {
		return res.AccessToken, res.ExpiresOn, nil
	}
	res, err := a.confidential.AcquireTokenByCredential(ctx, a.scopes)
	if err != nil {
		return "", time.Time{}, err
	}
	return res.AccessToken, res.ExpiresOn, nil
}

func (a *AAD) acquirePublic(ctx context.Context) (string, time.Time, error) {
	// Silent first; MSAL refreshes from its in-memory cache.
	if accounts, err := a.public.Accounts(ctx); err == nil && len(accounts) > 0 {
		res, err := a.public.AcquireTokenSilent(ctx, a.scopes, public.WithSilentAccount(accounts[0]))
		if err == nil {
			return res.AccessToken, res.ExpiresOn, nil
		}
	}

	dc, err := a.public.AcquireTokenByDeviceCode(ctx, a.scopes)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to initiate device code flow: %w", err)
	}

	// stdout carries the MCP stream, so the prompt goes to stderr.
	a.logger.Warn("Azure AD sign-in required",
		"url", dc.Result.VerificationURL,
		"code", dc.Result.UserCode)
	if a.openBrowser {
		browser.Stdout = os.Stderr
		if err := browser.OpenURL(dc.Result.VerificationURL); err != nil {
			a.logger.Debug("could not open browser", "error", err)
		}
	}

	res, err := dc.AuthenticationResult(ctx)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("device code authentication failed: %w", err)
	}
	return res.AccessToken, res.ExpiresOn, nil
}
