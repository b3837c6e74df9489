package gorm

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	ct "github.com/dennislee928/carbontrade"
)

// JSONMap is a helper type for storing JSON maps in GORM
type JSONMap map[string]any

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	return string(b), err
}

func (m *JSONMap) Scan(value any) error {
	return scanJSON(value, m)
}

// StringSlice is a helper type for storing string slices in GORM
type StringSlice []string

func (s StringSlice) Value() (driver.Value, error) {
	if s == nil {
		return nil, nil
	}
	b, err := json.Marshal(s)
	return string(b), err
}

func (s *StringSlice) Scan(value any) error {
	return scanJSON(value, s)
}

// scanJSON accepts both []byte (postgres) and string (sqlite) columns
func scanJSON(value any, dest any) error {
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		if len(v) == 0 {
			return nil
		}
		return json.Unmarshal(v, dest)
	case string:
		if v == "" {
			return nil
		}
		return json.Unmarshal([]byte(v), dest)
	}
	return nil
}

// UserModel is the GORM model for users
type UserModel struct {
	ID         string `gorm:"primaryKey;size:64"`
	Email      string `gorm:"size:255;uniqueIndex"`
	Name       string `gorm:"size:255"`
	Role       string `gorm:"size:16;index;default:user"`
	Status     string `gorm:"size:16;index;default:pending"`
	Level      int    `gorm:"default:1"`
	Address    string `gorm:"size:512"`
	Phone      string `gorm:"size:32"`
	GoogleID   string `gorm:"size:64;index"`
	PictureURL string `gorm:"size:1024"`
	KYCStatus  string `gorm:"size:16;default:none"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
	LastLogin  *time.Time
}

func (UserModel) TableName() string {
	return "users"
}

func (m *UserModel) ToUser() *ct.User {
	return &ct.User{
		ID:         m.ID,
		Email:      m.Email,
		Name:       m.Name,
		Role:       m.Role,
		Status:     m.Status,
		Level:      m.Level,
		Address:    m.Address,
		Phone:      m.Phone,
		GoogleID:   m.GoogleID,
		PictureURL: m.PictureURL,
		KYCStatus:  m.KYCStatus,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
		LastLogin:  m.LastLogin,
	}
}

func UserToModel(u *ct.User) *UserModel {
	return &UserModel{
		ID:         u.ID,
		Email:      u.Email,
		Name:       u.Name,
		Role:       u.Role,
		Status:     u.Status,
		Level:      u.Level,
		Address:    u.Address,
		Phone:      u.Phone,
		GoogleID:   u.GoogleID,
		PictureURL: u.PictureURL,
		KYCStatus:  u.KYCStatus,
		CreatedAt:  u.CreatedAt,
		UpdatedAt:  u.UpdatedAt,
		LastLogin:  u.LastLogin,
	}
}

// IdentityModel is the GORM model for identities
type IdentityModel struct {
	Type      string    `gorm:"primaryKey;size:32"`
	Value     string    `gorm:"primaryKey;size:255"`
	UserID    string    `gorm:"size:64;index"`
	Verified  bool      `gorm:"default:false"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (IdentityModel) TableName() string {
	return "identities"
}

func (m *IdentityModel) ToIdentity() *ct.Identity {
	return &ct.Identity{
		Type:      m.Type,
		Value:     m.Value,
		UserID:    m.UserID,
		Verified:  m.Verified,
		CreatedAt: m.CreatedAt,
	}
}

// ChannelModel is the GORM model for authentication channels
type ChannelModel struct {
	Provider    string    `gorm:"primaryKey;size:32"`
	IdentityKey string    `gorm:"primaryKey;size:320"`
	Credentials JSONMap   `gorm:"type:jsonb"`
	Profile     JSONMap   `gorm:"type:jsonb"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime"`
}

func (ChannelModel) TableName() string {
	return "channels"
}

func (m *ChannelModel) ToChannel() *ct.Channel {
	return &ct.Channel{
		Provider:    m.Provider,
		IdentityKey: m.IdentityKey,
		Credentials: m.Credentials,
		Profile:     m.Profile,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

// AuthTokenModel is the GORM model for verification/reset tokens
type AuthTokenModel struct {
	Token     string       `gorm:"primaryKey;size:128"`
	Type      ct.TokenType `gorm:"size:32;index"`
	UserID    string       `gorm:"size:64;index"`
	Email     string       `gorm:"size:255"`
	CreatedAt time.Time    `gorm:"autoCreateTime"`
	ExpiresAt time.Time    `gorm:"index"`
}

func (AuthTokenModel) TableName() string {
	return "auth_tokens"
}

func (m *AuthTokenModel) ToAuthToken() *ct.AuthToken {
	return &ct.AuthToken{
		Token:     m.Token,
		Type:      m.Type,
		UserID:    m.UserID,
		Email:     m.Email,
		CreatedAt: m.CreatedAt,
		ExpiresAt: m.ExpiresAt,
	}
}

// OTPModel is the GORM model for one-time codes; one row per email+purpose
type OTPModel struct {
	ID        string `gorm:"primaryKey;size:64"`
	Email     string `gorm:"size:255;uniqueIndex:idx_otp_email_purpose"`
	Purpose   string `gorm:"size:32;uniqueIndex:idx_otp_email_purpose"`
	CodeHash  string `gorm:"size:64"`
	Attempts  int    `gorm:"default:0"`
	ExpiresAt time.Time
	UsedAt    *time.Time
	CreatedAt time.Time
}

func (OTPModel) TableName() string {
	return "otp_codes"
}

func (m *OTPModel) ToOTP() *ct.OTPCode {
	return &ct.OTPCode{
		ID:        m.ID,
		Email:     m.Email,
		Purpose:   m.Purpose,
		CodeHash:  m.CodeHash,
		Attempts:  m.Attempts,
		ExpiresAt: m.ExpiresAt,
		UsedAt:    m.UsedAt,
		CreatedAt: m.CreatedAt,
	}
}

// RefreshTokenModel is the GORM model for refresh tokens
type RefreshTokenModel struct {
	TokenHash  string      `gorm:"primaryKey;size:64"`
	UserID     string      `gorm:"size:64;index"`
	ClientID   string      `gorm:"size:64"`
	DeviceInfo JSONMap     `gorm:"type:jsonb"`
	Family     string      `gorm:"size:32;index"`
	Generation int         `gorm:"default:1"`
	Scopes     StringSlice `gorm:"type:jsonb"`
	CreatedAt  time.Time   `gorm:"autoCreateTime"`
	ExpiresAt  time.Time   `gorm:"index"`
	LastUsedAt time.Time
	RevokedAt  *time.Time
	Revoked    bool `gorm:"default:false;index"`
}

func (RefreshTokenModel) TableName() string {
	return "refresh_tokens"
}

func (m *RefreshTokenModel) ToRefreshToken() *ct.RefreshToken {
	return &ct.RefreshToken{
		TokenHash:  m.TokenHash,
		UserID:     m.UserID,
		ClientID:   m.ClientID,
		DeviceInfo: m.DeviceInfo,
		Family:     m.Family,
		Generation: m.Generation,
		Scopes:     m.Scopes,
		CreatedAt:  m.CreatedAt,
		ExpiresAt:  m.ExpiresAt,
		LastUsedAt: m.LastUsedAt,
		RevokedAt:  m.RevokedAt,
		Revoked:    m.Revoked,
	}
}

// APIKeyModel is the GORM model for API keys
type APIKeyModel struct {
	KeyID      string      `gorm:"primaryKey;size:64"`
	KeyHash    string      `gorm:"size:128"`
	UserID     string      `gorm:"size:64;index"`
	Name       string      `gorm:"size:255"`
	Scopes     StringSlice `gorm:"type:jsonb"`
	CreatedAt  time.Time   `gorm:"autoCreateTime"`
	ExpiresAt  *time.Time
	LastUsedAt time.Time
	RevokedAt  *time.Time
	Revoked    bool `gorm:"default:false;index"`
}

func (APIKeyModel) TableName() string {
	return "api_keys"
}

func (m *APIKeyModel) ToAPIKey() *ct.APIKey {
	return &ct.APIKey{
		KeyID:      m.KeyID,
		KeyHash:    m.KeyHash,
		UserID:     m.UserID,
		Name:       m.Name,
		Scopes:     m.Scopes,
		CreatedAt:  m.CreatedAt,
		ExpiresAt:  m.ExpiresAt,
		LastUsedAt: m.LastUsedAt,
		RevokedAt:  m.RevokedAt,
		Revoked:    m.Revoked,
	}
}
