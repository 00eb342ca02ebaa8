package gate

import "context"

// GeoResolver maps a network origin to an ISO 3166-1 alpha-2 country
// code. Empty string means the country could not be determined.
type GeoResolver interface {
	Country(ctx context.Context, ip string) (string, error)
}

// NopGeoResolver never determines a country, so geo rules fall through
// to the unknown-origin handling. Use when no edge geo data is wired.
type NopGeoResolver struct{}

// Country implements GeoResolver
func (NopGeoResolver) Country(ctx context.Context, ip string) (string, error) {
	return "", nil
}

// StaticGeoResolver resolves countries from a fixed IP map. Used in tests
// and for small static deployments.
type StaticGeoResolver map[string]string

// Country implements GeoResolver
func (s StaticGeoResolver) Country(ctx context.Context, ip string) (string, error) {
	return s[ip], nil
}
