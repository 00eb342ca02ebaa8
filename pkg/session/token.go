// Package session manages authenticated sessions: opaque identifiers,
// signed bearer tokens, persistence, validation and revocation.
package session

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/wardenhq/warden/pkg/rbac"
)

const (
	// SessionIDPrefix identifies warden session identifiers
	SessionIDPrefix = "wsn_"
	// sessionIDLength is the number of random bytes in an id (256 bits)
	sessionIDLength = 32
)

// ErrConfigurationMissing is returned when the signing secret is absent
var ErrConfigurationMissing = errors.New("session signing secret not configured")

// GenerateSessionID creates an unguessable session identifier and its
// SHA-256 hash. The hash is what gets stored; the raw id only travels
// inside the signed token.
// Format: wsn_<base64url(32 random bytes)>
func GenerateSessionID() (id string, idHash string, err error) {
	randomBytes := make([]byte, sessionIDLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	id = SessionIDPrefix + base64.RawURLEncoding.EncodeToString(randomBytes)
	return id, HashSessionID(id), nil
}

// HashSessionID computes the SHA-256 hash of a session id for lookup
func HashSessionID(id string) string {
	hash := sha256.Sum256([]byte(id))
	return hex.EncodeToString(hash[:])
}

// Claims is the JWT payload carried by session bearer tokens. The session
// id keeps the store authoritative: a token that verifies is still subject
// to revocation checks.
type Claims struct {
	SessionID          string    `json:"sid"`
	UserID             int64     `json:"uid"`
	OrganizationID     int64     `json:"org"`
	Role               rbac.Role `json:"role"`
	ApprovalLimitCents int64     `json:"limit"`
	jwt.RegisteredClaims
}

// TokenSigner mints and verifies the signed bearer tokens wrapping
// session identifiers
type TokenSigner struct {
	secret []byte
}

// NewTokenSigner creates a signer. An empty secret is a configuration
// error, never a silently unsigned token.
func NewTokenSigner(secret string) (*TokenSigner, error) {
	if secret == "" {
		return nil, ErrConfigurationMissing
	}
	return &TokenSigner{secret: []byte(secret)}, nil
}

// Sign mints an HS256 token for the claims
func (ts *TokenSigner) Sign(claims *Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(ts.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a signed token, returning its claims.
// Signature and expiry failures both surface as ErrSessionNotFound or
// ErrSessionExpired respectively so callers need not inspect JWT internals.
func (ts *TokenSigner) Verify(signed string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(signed, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return ts.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrSessionExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrSessionNotFound, err)
	}
	return claims, nil
}

// NewClaims builds the claim set for a freshly issued session
func NewClaims(sessionID string, userID, orgID int64, role rbac.Role, limitCents int64, expiresAt time.Time) *Claims {
	now := time.Now().UTC()
	return &Claims{
		SessionID:          sessionID,
		UserID:             userID,
		OrganizationID:     orgID,
		Role:               role,
		ApprovalLimitCents: limitCents,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "warden",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
}
