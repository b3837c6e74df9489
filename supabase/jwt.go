package supabase

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	ct "github.com/dennislee928/carbontrade"
)

// Claims is the payload of a Supabase-issued access token
type Claims struct {
	Email            string         `json:"email"`
	EmailConfirmedAt string         `json:"email_confirmed_at,omitempty"`
	Role             string         `json:"role"`
	UserMetadata     map[string]any `json:"user_metadata,omitempty"`
	AppMetadata      map[string]any `json:"app_metadata,omitempty"`
	SessionID        string         `json:"session_id,omitempty"`
	jwt.RegisteredClaims
}

// NewVerifier returns a TokenVerifier for HS256 tokens signed with the
// project's JWT secret. Supabase's own role claim ("authenticated") is not a
// platform role; the middleware resolves the platform role from the store.
func NewVerifier(secret string) ct.TokenVerifier {
	key := []byte(secret)
	return func(token string) (*ct.AccessClaims, error) {
		if len(key) == 0 {
			return nil, ErrNotConfigured
		}
		claims := &Claims{}
		parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
			return key, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
		if err != nil {
			return nil, fmt.Errorf("supabase token: %w", err)
		}
		if !parsed.Valid || claims.Subject == "" {
			return nil, errors.New("supabase token: missing subject")
		}
		return &ct.AccessClaims{
			UserID:        claims.Subject,
			Email:         claims.Email,
			EmailVerified: claims.EmailVerified(),
			SessionID:     claims.SessionID,
			AuthType:      ct.AuthTypeSupabase,
		}, nil
	}
}

// EmailVerified reports whether Supabase confirmed the token's email
func (c *Claims) EmailVerified() bool {
	if c.Email == "" {
		return false
	}
	if c.EmailConfirmedAt != "" {
		return true
	}
	verified, _ := c.UserMetadata["email_verified"].(bool)
	return verified
}
