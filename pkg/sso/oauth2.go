package sso

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2"
)

// OAuth2Provider implements plain OAuth2 logins against providers without
// OIDC discovery
type OAuth2Provider struct {
	config       *ProviderConfig
	oauth2Config *oauth2.Config
}

// NewOAuth2Provider creates an OAuth2 adapter
func NewOAuth2Provider(config *ProviderConfig) (*OAuth2Provider, error) {
	if config.OAuth2Config == nil {
		return nil, fmt.Errorf("OAuth2 config is required")
	}

	oauth2Cfg := &oauth2.Config{
		ClientID:     config.OAuth2Config.ClientID,
		ClientSecret: config.OAuth2Config.ClientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:  config.OAuth2Config.AuthURL,
			TokenURL: config.OAuth2Config.TokenURL,
		},
		RedirectURL: config.OAuth2Config.RedirectURL,
		Scopes:      config.OAuth2Config.Scopes,
	}

	return &OAuth2Provider{config: config, oauth2Config: oauth2Cfg}, nil
}

// Tag returns the provider tag
func (p *OAuth2Provider) Tag() ProviderTag {
	return p.config.Tag
}

// Type returns the provider type
func (p *OAuth2Provider) Type() ProviderType {
	return ProviderTypeOAuth2
}

// InitiateLogin redirects to the authorization endpoint
func (p *OAuth2Provider) InitiateLogin(w http.ResponseWriter, r *http.Request, state string) error {
	http.Redirect(w, r, p.oauth2Config.AuthCodeURL(state), http.StatusFound)
	return nil
}

// HandleCallback exchanges the code and returns the userinfo attributes
func (p *OAuth2Provider) HandleCallback(r *http.Request) (map[string]interface{}, error) {
	code := r.URL.Query().Get("code")
	if code == "" {
		return nil, fmt.Errorf("missing authorization code")
	}

	ctx := r.Context()
	token, err := p.oauth2Config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange token: %w", err)
	}

	client := p.oauth2Config.Client(ctx, token)
	resp, err := client.Get(p.config.OAuth2Config.UserInfoURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("user info request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var userInfo map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&userInfo); err != nil {
		return nil, fmt.Errorf("failed to decode user info: %w", err)
	}
	return userInfo, nil
}

// ValidateConfig validates the OAuth2 configuration
func (p *OAuth2Provider) ValidateConfig() error {
	cfg := p.config.OAuth2Config
	if cfg == nil {
		return fmt.Errorf("OAuth2 config is required")
	}
	if cfg.ClientID == "" {
		return fmt.Errorf("client_id is required")
	}
	if cfg.ClientSecret == "" {
		return fmt.Errorf("client_secret is required")
	}
	if cfg.AuthURL == "" {
		return fmt.Errorf("auth_url is required")
	}
	if cfg.TokenURL == "" {
		return fmt.Errorf("token_url is required")
	}
	if cfg.UserInfoURL == "" {
		return fmt.Errorf("user_info_url is required")
	}
	if cfg.RedirectURL == "" {
		return fmt.Errorf("redirect_url is required")
	}
	if len(cfg.Scopes) == 0 {
		return fmt.Errorf("scopes are required")
	}
	return nil
}
