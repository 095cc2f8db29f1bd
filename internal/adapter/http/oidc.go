package adapthttp

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/Tabares32/shipping-backend/internal/config"
)

// OIDCConfig holds the single sign-on client.
type OIDCConfig struct {
	Enabled      bool
	Provider     *oidc.Provider
	OAuth2Config *oauth2.Config
	// FrontendURL receives the issued bearer token in its fragment.
	FrontendURL string
}

// NewOIDC discovers the issuer and builds the OAuth2 client. A disabled
// configuration yields a disabled OIDCConfig without network access.
func NewOIDC(ctx context.Context, cfg config.OIDC) (*OIDCConfig, error) {
	if !cfg.Enabled() {
		return &OIDCConfig{}, nil
	}
	provider, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc discovery for %s: %w", cfg.Issuer, err)
	}
	frontend := cfg.FrontendURL
	if frontend == "" {
		frontend = "/"
	}
	return &OIDCConfig{
		Enabled:  true,
		Provider: provider,
		OAuth2Config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     provider.Endpoint(),
			Scopes:       []string{oidc.ScopeOpenID, "email", "profile"},
		},
		FrontendURL: frontend,
	}, nil
}
