package sso

import (
	"fmt"
	"strings"
)

// Normalize reduces a provider's raw callback attributes to the canonical
// profile. Unknown provider tags fail with ErrUnsupportedProvider; a
// profile without an email is unusable and also fails.
func Normalize(tag ProviderTag, raw map[string]interface{}) (*Profile, error) {
	mapping, err := PresetAttributeMap(tag)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, tag)
	}
	return NormalizeWith(tag, mapping, raw)
}

// NormalizeWith reduces raw attributes using an explicit attribute map,
// for provider configs that override the preset mapping.
func NormalizeWith(tag ProviderTag, mapping AttributeMap, raw map[string]interface{}) (*Profile, error) {
	profile := &Profile{
		Provider:    tag,
		ExternalID:  stringAttr(raw, mapping.ExternalID),
		Email:       strings.ToLower(strings.TrimSpace(stringAttr(raw, mapping.Email))),
		DisplayName: stringAttr(raw, mapping.DisplayName),
		Groups:      arrayAttr(raw, mapping.Groups),
	}

	// Standard fallbacks: OIDC subject for the id, assembled or local-part
	// name for the display name.
	if profile.ExternalID == "" {
		profile.ExternalID = stringAttr(raw, "sub")
	}
	if profile.DisplayName == "" {
		given := stringAttr(raw, mapping.GivenName)
		family := stringAttr(raw, mapping.FamilyName)
		profile.DisplayName = strings.TrimSpace(given + " " + family)
	}
	if profile.DisplayName == "" {
		if at := strings.Index(profile.Email, "@"); at > 0 {
			profile.DisplayName = profile.Email[:at]
		}
	}

	if profile.Email == "" {
		return nil, fmt.Errorf("provider %s returned no email attribute", tag)
	}
	if profile.ExternalID == "" {
		return nil, fmt.Errorf("provider %s returned no user identifier", tag)
	}
	return profile, nil
}

func stringAttr(raw map[string]interface{}, key string) string {
	if key == "" {
		return ""
	}
	if s, ok := raw[key].(string); ok {
		return s
	}
	return ""
}

func arrayAttr(raw map[string]interface{}, key string) []string {
	if key == "" {
		return nil
	}
	switch v := raw[key].(type) {
	case []string:
		return v
	case []interface{}:
		var out []string
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	default:
		return nil
	}
}
