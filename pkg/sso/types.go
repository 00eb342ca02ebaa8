// Package sso orchestrates single sign-on: provider adapters reduce IdP
// callbacks to a canonical profile, and the orchestrator drives the
// resolve, provision, gate and session steps behind a login.
package sso

import (
	"errors"
	"time"
)

var (
	// ErrUnsupportedProvider is returned for provider tags with no
	// registered adapter or attribute mapping
	ErrUnsupportedProvider = errors.New("unsupported sso provider")

	// ErrInvalidState is returned when the CSRF state of a callback does
	// not match the state issued at login initiation. Hard failure.
	ErrInvalidState = errors.New("invalid or expired sso state")

	// ErrNetworkDenied is returned when the network gate rejects the
	// login origin
	ErrNetworkDenied = errors.New("network origin denied by trust policy")
)

// ProviderType is the wire protocol an adapter speaks
type ProviderType string

const (
	ProviderTypeSAML   ProviderType = "saml"
	ProviderTypeOAuth2 ProviderType = "oauth2"
	ProviderTypeOIDC   ProviderType = "oidc"
)

// ProviderTag identifies a configured identity provider
type ProviderTag string

const (
	ProviderOkta          ProviderTag = "okta"
	ProviderAzureAD       ProviderTag = "azuread"
	ProviderGoogle        ProviderTag = "google"
	ProviderGenericOIDC   ProviderTag = "generic_oidc"
	ProviderGenericOAuth2 ProviderTag = "generic_oauth2"
	ProviderGenericSAML   ProviderTag = "generic_saml"
)

// Profile is the canonical identity extracted from any provider callback
type Profile struct {
	Email       string      `json:"email"`
	DisplayName string      `json:"display_name"`
	ExternalID  string      `json:"external_id"`
	Groups      []string    `json:"groups,omitempty"`
	Provider    ProviderTag `json:"provider"`
}

// AttributeMap names the raw attributes each canonical field comes from
type AttributeMap struct {
	ExternalID  string `json:"external_id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	GivenName   string `json:"given_name,omitempty"`
	FamilyName  string `json:"family_name,omitempty"`
	Groups      string `json:"groups,omitempty"`
}

// OIDCConfig holds OpenID Connect configuration
type OIDCConfig struct {
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"-"`
	IssuerURL    string   `json:"issuer_url"`
	RedirectURL  string   `json:"redirect_url"`
	Scopes       []string `json:"scopes"`
}

// OAuth2Config holds plain OAuth2 configuration for providers without a
// discovery document
type OAuth2Config struct {
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"-"`
	AuthURL      string   `json:"auth_url"`
	TokenURL     string   `json:"token_url"`
	UserInfoURL  string   `json:"user_info_url"`
	RedirectURL  string   `json:"redirect_url"`
	Scopes       []string `json:"scopes"`
}

// SAMLConfig holds SAML 2.0 configuration
type SAMLConfig struct {
	EntityID     string `json:"entity_id"`
	SSOURL       string `json:"sso_url"`
	Certificate  string `json:"certificate"` // PEM encoded IdP certificate
	PrivateKey   string `json:"-"`
	SignRequests bool   `json:"sign_requests"`
	NameIDFormat string `json:"name_id_format,omitempty"`
}

// ProviderConfig is the full configuration of one identity provider
type ProviderConfig struct {
	Tag              ProviderTag   `json:"tag"`
	Type             ProviderType  `json:"type"`
	Enabled          bool          `json:"enabled"`
	AttributeMapping AttributeMap  `json:"attribute_mapping"`
	OIDCConfig       *OIDCConfig   `json:"oidc_config,omitempty"`
	OAuth2Config     *OAuth2Config `json:"oauth2_config,omitempty"`
	SAMLConfig       *SAMLConfig   `json:"saml_config,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// PresetAttributeMap returns the attribute mapping for well-known
// providers. Generic tags get standard OIDC claim names.
func PresetAttributeMap(tag ProviderTag) (AttributeMap, error) {
	switch tag {
	case ProviderAzureAD:
		return AttributeMap{
			ExternalID:  "oid",
			Email:       "email",
			DisplayName: "name",
			GivenName:   "given_name",
			FamilyName:  "family_name",
			Groups:      "groups",
		}, nil
	case ProviderOkta:
		return AttributeMap{
			ExternalID:  "sub",
			Email:       "email",
			DisplayName: "name",
			GivenName:   "given_name",
			FamilyName:  "family_name",
			Groups:      "groups",
		}, nil
	case ProviderGoogle:
		return AttributeMap{
			ExternalID:  "sub",
			Email:       "email",
			DisplayName: "name",
			GivenName:   "given_name",
			FamilyName:  "family_name",
		}, nil
	case ProviderGenericOIDC, ProviderGenericOAuth2:
		return AttributeMap{
			ExternalID:  "sub",
			Email:       "email",
			DisplayName: "name",
			GivenName:   "given_name",
			FamilyName:  "family_name",
			Groups:      "groups",
		}, nil
	case ProviderGenericSAML:
		return AttributeMap{
			ExternalID:  "urn:oid:0.9.2342.19200300.100.1.1",
			Email:       "urn:oid:0.9.2342.19200300.100.1.3",
			DisplayName: "urn:oid:2.16.840.1.113730.3.1.241",
			Groups:      "urn:oid:1.3.6.1.4.1.5923.1.5.1.1",
		}, nil
	default:
		return AttributeMap{}, ErrUnsupportedProvider
	}
}
