package sso

import (
	"context"
	"fmt"
	"net/http"
)

// Provider adapts one identity provider's protocol. Adapters only speak
// the wire protocol; reducing attributes to a Profile is Normalize's job.
type Provider interface {
	// Tag returns the provider tag the adapter serves
	Tag() ProviderTag

	// Type returns the wire protocol
	Type() ProviderType

	// InitiateLogin redirects the client to the IdP
	InitiateLogin(w http.ResponseWriter, r *http.Request, state string) error

	// HandleCallback validates the IdP response and returns its raw
	// attributes
	HandleCallback(r *http.Request) (map[string]interface{}, error)

	// ValidateConfig checks the adapter's configuration
	ValidateConfig() error
}

// Registry holds the configured provider adapters
type Registry struct {
	providers map[ProviderTag]Provider
}

// NewRegistry creates an empty provider registry
func NewRegistry() *Registry {
	return &Registry{providers: make(map[ProviderTag]Provider)}
}

// Register adds an adapter after validating its configuration
func (reg *Registry) Register(p Provider) error {
	if err := p.ValidateConfig(); err != nil {
		return fmt.Errorf("provider %s: %w", p.Tag(), err)
	}
	reg.providers[p.Tag()] = p
	return nil
}

// Get returns the adapter for a tag, or ErrUnsupportedProvider
func (reg *Registry) Get(tag ProviderTag) (Provider, error) {
	p, ok := reg.providers[tag]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, tag)
	}
	return p, nil
}

// Tags lists the registered provider tags
func (reg *Registry) Tags() []ProviderTag {
	out := make([]ProviderTag, 0, len(reg.providers))
	for tag := range reg.providers {
		out = append(out, tag)
	}
	return out
}

// BuildProvider constructs an adapter from configuration
func BuildProvider(ctx context.Context, config *ProviderConfig, baseURL string) (Provider, error) {
	if !config.Enabled {
		return nil, fmt.Errorf("provider %s is disabled", config.Tag)
	}

	switch config.Type {
	case ProviderTypeOIDC:
		if config.OIDCConfig == nil {
			return nil, fmt.Errorf("OIDC config is required for provider %s", config.Tag)
		}
		return NewOIDCProvider(ctx, config)
	case ProviderTypeOAuth2:
		if config.OAuth2Config == nil {
			return nil, fmt.Errorf("OAuth2 config is required for provider %s", config.Tag)
		}
		return NewOAuth2Provider(config)
	case ProviderTypeSAML:
		if config.SAMLConfig == nil {
			return nil, fmt.Errorf("SAML config is required for provider %s", config.Tag)
		}
		return NewSAMLProvider(config, baseURL)
	default:
		return nil, fmt.Errorf("%w: type %q", ErrUnsupportedProvider, config.Type)
	}
}
