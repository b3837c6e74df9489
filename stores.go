package carbontrade

import (
	"errors"
	"strings"
	"time"
)

// User roles
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User account states
const (
	StatusPending   = "pending"
	StatusActive    = "active"
	StatusSuspended = "suspended"
)

// KYC review states
const (
	KYCNone      = "none"
	KYCSubmitted = "submitted"
	KYCApproved  = "approved"
	KYCRejected  = "rejected"
)

var ErrUserNotFound = errors.New("user not found")

func IsValidRole(role string) bool { return role == RoleUser || role == RoleAdmin }

func IsValidStatus(status string) bool {
	return status == StatusPending || status == StatusActive || status == StatusSuspended
}

// User is a trading platform account
type User struct {
	ID         string     `json:"id"`
	Email      string     `json:"email"`
	Name       string     `json:"name"`
	Role       string     `json:"role"`
	Status     string     `json:"status"`
	Level      int        `json:"level"`
	Address    string     `json:"address,omitempty"`
	Phone      string     `json:"phone,omitempty"`
	GoogleID   string     `json:"google_id,omitempty"`
	PictureURL string     `json:"picture_url,omitempty"`
	KYCStatus  string     `json:"kyc_status,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	LastLogin  *time.Time `json:"last_login,omitempty"`
}

func (u *User) IsAdmin() bool  { return u.Role == RoleAdmin }
func (u *User) IsActive() bool { return u.Status == StatusActive }

// Identity represents a contact method (email, phone) that can be verified
type Identity struct {
	Type      string    `json:"type"`  // "email", "phone"
	Value     string    `json:"value"` // "john@example.com"
	UserID    string    `json:"user_id"`
	Verified  bool      `json:"verified"`
	CreatedAt time.Time `json:"created_at"`
}

// Channel represents an authentication mechanism bound to an identity
type Channel struct {
	Provider    string         `json:"provider"`     // "local", "google", "github", "supabase"
	IdentityKey string         `json:"identity_key"` // "email:john@example.com"
	Credentials map[string]any `json:"credentials"`  // password_hash, provider subject, etc.
	Profile     map[string]any `json:"profile"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// IdentityKey creates a consistent identity key from type and value
func IdentityKey(identityType, identityValue string) string {
	return identityType + ":" + identityValue
}

// NormalizeEmail lower-cases and trims an email address
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// UserQuery filters and pages user listings
type UserQuery struct {
	Search string // matched against email and name
	Role   string
	Status string
	Sort   string // "name", "-created_at", etc.
	Page   int
	Limit  int
}

// UserStore manages platform accounts
type UserStore interface {
	// CreateUser inserts a new user. The ID must already be set.
	CreateUser(user *User) error

	GetUserByID(userID string) (*User, error)
	GetUserByEmail(email string) (*User, error)

	// SaveUser updates an existing user
	SaveUser(user *User) error

	// DeleteUser removes the user and everything bound to it
	DeleteUser(userID string) error

	// ListUsers returns one page of users and the total match count
	ListUsers(q UserQuery) ([]*User, int64, error)
}

// IdentityStore manages contact identities
type IdentityStore interface {
	GetIdentity(identityType, identityValue string) (*Identity, error)
	SaveIdentity(identity *Identity) error
	MarkIdentityVerified(identityType, identityValue string) error
	GetUserIdentities(userID string) ([]*Identity, error)
}

// ChannelStore manages authentication channels
type ChannelStore interface {
	GetChannel(provider, identityKey string) (*Channel, error)
	SaveChannel(channel *Channel) error
	GetChannelsByIdentity(identityKey string) ([]*Channel, error)
}

// RefreshTokenStore manages refresh tokens for API access
type RefreshTokenStore interface {
	CreateRefreshToken(userID, clientID string, deviceInfo map[string]any, scopes []string) (*RefreshToken, error)
	GetRefreshToken(token string) (*RefreshToken, error)

	// RotateRefreshToken invalidates old token and creates new one in same family.
	// Returns ErrTokenReused if the old token was already revoked.
	RotateRefreshToken(oldToken string) (*RefreshToken, error)

	RevokeRefreshToken(token string) error
	RevokeUserTokens(userID string) error
	RevokeTokenFamily(family string) error

	// GetUserTokens lists active refresh tokens for a user
	GetUserTokens(userID string) ([]*RefreshToken, error)

	CleanupExpiredTokens() error
}

// APIKeyStore manages API keys for programmatic access
type APIKeyStore interface {
	// CreateAPIKey returns the full key, which is only available at creation
	CreateAPIKey(userID, name string, scopes []string, expiresAt *time.Time) (fullKey string, apiKey *APIKey, err error)
	GetAPIKeyByID(keyID string) (*APIKey, error)
	ValidateAPIKey(fullKey string) (*APIKey, error)
	RevokeAPIKey(keyID string) error
	ListUserAPIKeys(userID string) ([]*APIKey, error)
	UpdateAPIKeyLastUsed(keyID string) error
}
