package auth

import (
	"context"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/zmcp/odata-mcp-gateway/internal/bridgeerr"
)

// OAuth2 uses the client credentials grant. Tokens are cached and refreshed
// shortly before they expire.
type OAuth2 struct {
	source oauth2.TokenSource
}

// NewOAuth2 creates a client credentials provider.
func NewOAuth2(cfg *Config, httpClient *http.Client) *OAuth2 {
	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		Scopes:       cfg.Scopes,
	}
	ctx := context.Background()
	if httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)
	}
	return &OAuth2{source: cc.TokenSource(ctx)}
}

func (o *OAuth2) Apply(_ context.Context, req *http.Request) error {
	tok, err := o.source.Token()
	if err != nil {
		return bridgeerr.New(bridgeerr.KindAuth, "failed to obtain OAuth2 token", err)
	}
	tok.SetAuthHeader(req)
	return nil
}

func (o *OAuth2) Type() string { return TypeOAuth2 }
