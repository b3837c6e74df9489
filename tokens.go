package carbontrade

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// TokenType represents different types of single-use auth tokens
type TokenType string

const (
	TokenTypeEmailVerification TokenType = "email_verification"
	TokenTypePasswordReset     TokenType = "password_reset"
)

// Default token lifetimes
const (
	TokenExpiryEmailVerification = 24 * time.Hour
	TokenExpiryPasswordReset     = 1 * time.Hour
	TokenExpiryAccessToken       = 24 * time.Hour
	TokenExpiryRefreshToken      = 30 * 24 * time.Hour
)

// APIKeyPrefix marks bearer credentials that are API keys rather than JWTs
const APIKeyPrefix = "ct_"

var (
	ErrTokenNotFound  = errors.New("token not found")
	ErrTokenExpired   = errors.New("token expired")
	ErrTokenRevoked   = errors.New("token revoked")
	ErrTokenReused    = errors.New("refresh token reused")
	ErrAPIKeyNotFound = errors.New("api key not found")
)

// AuthToken is a single-use verification or reset token
type AuthToken struct {
	Token     string    `json:"token"`
	Type      TokenType `json:"type"`
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// TokenStore manages single-use auth tokens
type TokenStore interface {
	CreateToken(userID, email string, tokenType TokenType, expiryDuration time.Duration) (*AuthToken, error)
	GetToken(token string) (*AuthToken, error)
	DeleteToken(token string) error
	DeleteUserTokens(userID string, tokenType TokenType) error
}

func (t *AuthToken) IsExpired() bool {
	return time.Now().After(t.ExpiresAt)
}

// IsValid checks the token is unexpired and of the expected type
func (t *AuthToken) IsValid(expectedType TokenType) bool {
	return t.Type == expectedType && !t.IsExpired()
}

// RefreshToken is a long-lived credential exchanged for access tokens.
// Only TokenHash is persisted; Token is populated when a token is minted.
type RefreshToken struct {
	Token      string         `json:"-"`
	TokenHash  string         `json:"-"`
	UserID     string         `json:"user_id"`
	ClientID   string         `json:"client_id,omitempty"`
	DeviceInfo map[string]any `json:"device_info,omitempty"`
	Family     string         `json:"family"`
	Generation int            `json:"generation"`
	Scopes     []string       `json:"scopes,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	ExpiresAt  time.Time      `json:"expires_at"`
	LastUsedAt time.Time      `json:"last_used_at"`
	RevokedAt  *time.Time     `json:"revoked_at,omitempty"`
	Revoked    bool           `json:"revoked"`
}

func (t *RefreshToken) IsExpired() bool {
	return time.Now().After(t.ExpiresAt)
}

// APIKey is a named, scoped credential for scripts and integrations
type APIKey struct {
	KeyID      string     `json:"key_id"`
	KeyHash    string     `json:"-"`
	UserID     string     `json:"user_id"`
	Name       string     `json:"name"`
	Scopes     []string   `json:"scopes,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	LastUsedAt time.Time  `json:"last_used_at"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
	Revoked    bool       `json:"revoked"`
}

func (k *APIKey) IsExpired() bool {
	return k.ExpiresAt != nil && time.Now().After(*k.ExpiresAt)
}

// TokenRequest is the body accepted by the token endpoint
type TokenRequest struct {
	GrantType    string `json:"grant_type"`
	Username     string `json:"username,omitempty"`
	Password     string `json:"password,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
	ClientID     string `json:"client_id,omitempty"`
}

// TokenPair is the token endpoint success response
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// TokenError is the token endpoint error response
type TokenError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// GenerateSecureToken generates a cryptographically secure random token
func GenerateSecureToken() (string, error) {
	return randomHex(32)
}

// GenerateAPIKeyID returns a public key identifier such as "ct_3f9a0c1d2b4e5f60"
func GenerateAPIKeyID() (string, error) {
	id, err := randomHex(8)
	if err != nil {
		return "", err
	}
	return APIKeyPrefix + id, nil
}

// GenerateAPIKeySecret returns the secret half of an API key
func GenerateAPIKeySecret() (string, error) {
	return randomHex(24)
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
