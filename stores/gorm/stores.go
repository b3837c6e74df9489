package gorm

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	ct "github.com/dennislee928/carbontrade"
)

// =============================================================================
// UserStore
// =============================================================================

// UserStore implements ct.UserStore using GORM
type UserStore struct {
	db *gorm.DB
}

func NewUserStore(db *gorm.DB) *UserStore {
	return &UserStore{db: db}
}

func (s *UserStore) CreateUser(user *ct.User) error {
	if user.ID == "" {
		return errors.New("user id required")
	}
	return s.db.Create(UserToModel(user)).Error
}

func (s *UserStore) GetUserByID(userID string) (*ct.User, error) {
	var model UserModel
	if err := s.db.First(&model, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ct.ErrUserNotFound
		}
		return nil, err
	}
	return model.ToUser(), nil
}

func (s *UserStore) GetUserByEmail(email string) (*ct.User, error) {
	var model UserModel
	if err := s.db.First(&model, "email = ?", ct.NormalizeEmail(email)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ct.ErrUserNotFound
		}
		return nil, err
	}
	return model.ToUser(), nil
}

func (s *UserStore) SaveUser(user *ct.User) error {
	res := s.db.Model(&UserModel{}).Where("id = ?", user.ID).Select("*").Omit("created_at").Updates(UserToModel(user))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ct.ErrUserNotFound
	}
	return nil
}

// DeleteUser removes the user with its identities, channels and credentials
func (s *UserStore) DeleteUser(userID string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var identities []IdentityModel
		if err := tx.Where("user_id = ?", userID).Find(&identities).Error; err != nil {
			return err
		}
		for _, i := range identities {
			if err := tx.Delete(&ChannelModel{}, "identity_key = ?", ct.IdentityKey(i.Type, i.Value)).Error; err != nil {
				return err
			}
		}
		for _, model := range []any{
			&IdentityModel{}, &AuthTokenModel{}, &RefreshTokenModel{}, &APIKeyModel{},
			&BalanceModel{}, &NotificationModel{},
		} {
			if err := tx.Delete(model, "user_id = ?", userID).Error; err != nil {
				return err
			}
		}
		res := tx.Delete(&UserModel{}, "id = ?", userID)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ct.ErrUserNotFound
		}
		return nil
	})
}

var userSortColumns = map[string]string{
	"name":       "name",
	"email":      "email",
	"role":       "role",
	"status":     "status",
	"level":      "level",
	"created_at": "created_at",
	"last_login": "last_login",
}

// orderClause turns "name" / "-created_at" into a safe ORDER BY clause
func orderClause(sort string, columns map[string]string, fallback string) string {
	desc := strings.HasPrefix(sort, "-")
	col, ok := columns[strings.TrimPrefix(sort, "-")]
	if !ok {
		return fallback
	}
	if desc {
		return col + " DESC"
	}
	return col + " ASC"
}

func (s *UserStore) ListUsers(q ct.UserQuery) ([]*ct.User, int64, error) {
	p := ct.NewPagination(q.Page, q.Limit)
	query := s.db.Model(&UserModel{})
	if q.Search != "" {
		like := "%" + strings.ToLower(q.Search) + "%"
		query = query.Where("LOWER(email) LIKE ? OR LOWER(name) LIKE ?", like, like)
	}
	if q.Role != "" {
		query = query.Where("role = ?", q.Role)
	}
	if q.Status != "" {
		query = query.Where("status = ?", q.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var models []UserModel
	if err := query.Order(orderClause(q.Sort, userSortColumns, "created_at DESC")).
		Offset(p.Offset()).Limit(p.Limit).Find(&models).Error; err != nil {
		return nil, 0, err
	}
	users := make([]*ct.User, len(models))
	for i := range models {
		users[i] = models[i].ToUser()
	}
	return users, total, nil
}

// =============================================================================
// IdentityStore
// =============================================================================

// IdentityStore implements ct.IdentityStore using GORM
type IdentityStore struct {
	db *gorm.DB
}

func NewIdentityStore(db *gorm.DB) *IdentityStore {
	return &IdentityStore{db: db}
}

func (s *IdentityStore) GetIdentity(identityType, identityValue string) (*ct.Identity, error) {
	var model IdentityModel
	if err := s.db.First(&model, "type = ? AND value = ?", identityType, identityValue).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("identity not found")
		}
		return nil, err
	}
	return model.ToIdentity(), nil
}

func (s *IdentityStore) SaveIdentity(identity *ct.Identity) error {
	return s.db.Save(&IdentityModel{
		Type:      identity.Type,
		Value:     identity.Value,
		UserID:    identity.UserID,
		Verified:  identity.Verified,
		CreatedAt: identity.CreatedAt,
	}).Error
}

func (s *IdentityStore) MarkIdentityVerified(identityType, identityValue string) error {
	return s.db.Model(&IdentityModel{}).
		Where("type = ? AND value = ?", identityType, identityValue).
		Update("verified", true).Error
}

func (s *IdentityStore) GetUserIdentities(userID string) ([]*ct.Identity, error) {
	var models []IdentityModel
	if err := s.db.Where("user_id = ?", userID).Find(&models).Error; err != nil {
		return nil, err
	}
	identities := make([]*ct.Identity, len(models))
	for i, m := range models {
		identities[i] = m.ToIdentity()
	}
	return identities, nil
}

// =============================================================================
// ChannelStore
// =============================================================================

// ChannelStore implements ct.ChannelStore using GORM
type ChannelStore struct {
	db *gorm.DB
}

func NewChannelStore(db *gorm.DB) *ChannelStore {
	return &ChannelStore{db: db}
}

func (s *ChannelStore) GetChannel(provider, identityKey string) (*ct.Channel, error) {
	var model ChannelModel
	if err := s.db.First(&model, "provider = ? AND identity_key = ?", provider, identityKey).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("channel not found")
		}
		return nil, err
	}
	return model.ToChannel(), nil
}

func (s *ChannelStore) SaveChannel(channel *ct.Channel) error {
	return s.db.Save(&ChannelModel{
		Provider:    channel.Provider,
		IdentityKey: channel.IdentityKey,
		Credentials: JSONMap(channel.Credentials),
		Profile:     JSONMap(channel.Profile),
		CreatedAt:   channel.CreatedAt,
	}).Error
}

func (s *ChannelStore) GetChannelsByIdentity(identityKey string) ([]*ct.Channel, error) {
	var models []ChannelModel
	if err := s.db.Where("identity_key = ?", identityKey).Find(&models).Error; err != nil {
		return nil, err
	}
	channels := make([]*ct.Channel, len(models))
	for i, m := range models {
		channels[i] = m.ToChannel()
	}
	return channels, nil
}

// =============================================================================
// TokenStore (for email verification and password reset)
// =============================================================================

// TokenStore implements ct.TokenStore using GORM
type TokenStore struct {
	db *gorm.DB
}

func NewTokenStore(db *gorm.DB) *TokenStore {
	return &TokenStore{db: db}
}

func (s *TokenStore) CreateToken(userID, email string, tokenType ct.TokenType, expiryDuration time.Duration) (*ct.AuthToken, error) {
	token, err := ct.GenerateSecureToken()
	if err != nil {
		return nil, err
	}
	model := &AuthTokenModel{
		Token:     token,
		Type:      tokenType,
		UserID:    userID,
		Email:     email,
		ExpiresAt: time.Now().Add(expiryDuration),
	}
	if err := s.db.Create(model).Error; err != nil {
		return nil, err
	}
	return model.ToAuthToken(), nil
}

func (s *TokenStore) GetToken(token string) (*ct.AuthToken, error) {
	var model AuthTokenModel
	if err := s.db.First(&model, "token = ?", token).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ct.ErrTokenNotFound
		}
		return nil, err
	}
	authToken := model.ToAuthToken()
	if authToken.IsExpired() {
		_ = s.DeleteToken(token)
		return nil, ct.ErrTokenExpired
	}
	return authToken, nil
}

func (s *TokenStore) DeleteToken(token string) error {
	return s.db.Delete(&AuthTokenModel{}, "token = ?", token).Error
}

func (s *TokenStore) DeleteUserTokens(userID string, tokenType ct.TokenType) error {
	return s.db.Delete(&AuthTokenModel{}, "user_id = ? AND type = ?", userID, tokenType).Error
}

// =============================================================================
// RefreshTokenStore
// =============================================================================

// RefreshTokenStore implements ct.RefreshTokenStore using GORM
type RefreshTokenStore struct {
	db *gorm.DB

	// TTL of newly minted tokens; defaults to ct.TokenExpiryRefreshToken
	TTL time.Duration
}

func NewRefreshTokenStore(db *gorm.DB) *RefreshTokenStore {
	return &RefreshTokenStore{db: db, TTL: ct.TokenExpiryRefreshToken}
}

func hashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

func (s *RefreshTokenStore) ttl() time.Duration {
	if s.TTL > 0 {
		return s.TTL
	}
	return ct.TokenExpiryRefreshToken
}

func (s *RefreshTokenStore) CreateRefreshToken(userID, clientID string, deviceInfo map[string]any, scopes []string) (*ct.RefreshToken, error) {
	token, err := ct.GenerateSecureToken()
	if err != nil {
		return nil, err
	}
	family, err := ct.GenerateSecureToken()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	model := &RefreshTokenModel{
		TokenHash:  hashToken(token),
		UserID:     userID,
		ClientID:   clientID,
		DeviceInfo: deviceInfo,
		Family:     family[:16],
		Generation: 1,
		Scopes:     scopes,
		ExpiresAt:  now.Add(s.ttl()),
		LastUsedAt: now,
	}
	if err := s.db.Create(model).Error; err != nil {
		return nil, err
	}

	rt := model.ToRefreshToken()
	rt.Token = token
	return rt, nil
}

func (s *RefreshTokenStore) GetRefreshToken(token string) (*ct.RefreshToken, error) {
	var model RefreshTokenModel
	if err := s.db.First(&model, "token_hash = ?", hashToken(token)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ct.ErrTokenNotFound
		}
		return nil, err
	}
	rt := model.ToRefreshToken()
	rt.Token = token
	return rt, nil
}

func (s *RefreshTokenStore) RotateRefreshToken(oldToken string) (*ct.RefreshToken, error) {
	var rotated *ct.RefreshToken
	newToken, err := ct.GenerateSecureToken()
	if err != nil {
		return nil, err
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		var oldModel RefreshTokenModel
		if err := tx.First(&oldModel, "token_hash = ?", hashToken(oldToken)).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ct.ErrTokenNotFound
			}
			return err
		}
		if oldModel.Revoked {
			return ct.ErrTokenReused
		}
		now := time.Now()
		if now.After(oldModel.ExpiresAt) {
			return ct.ErrTokenExpired
		}

		if err := tx.Model(&RefreshTokenModel{}).Where("token_hash = ?", oldModel.TokenHash).
			Updates(map[string]any{"revoked": true, "revoked_at": now}).Error; err != nil {
			return err
		}

		newModel := &RefreshTokenModel{
			TokenHash:  hashToken(newToken),
			UserID:     oldModel.UserID,
			ClientID:   oldModel.ClientID,
			DeviceInfo: oldModel.DeviceInfo,
			Family:     oldModel.Family,
			Generation: oldModel.Generation + 1,
			Scopes:     oldModel.Scopes,
			ExpiresAt:  now.Add(s.ttl()),
			LastUsedAt: now,
		}
		if err := tx.Create(newModel).Error; err != nil {
			return err
		}
		rotated = newModel.ToRefreshToken()
		return nil
	})
	if err != nil {
		return nil, err
	}

	rotated.Token = newToken
	return rotated, nil
}

func (s *RefreshTokenStore) revokeWhere(query string, args ...any) error {
	return s.db.Model(&RefreshTokenModel{}).
		Where(query, args...).
		Updates(map[string]any{"revoked": true, "revoked_at": time.Now()}).Error
}

func (s *RefreshTokenStore) RevokeRefreshToken(token string) error {
	return s.revokeWhere("token_hash = ?", hashToken(token))
}

func (s *RefreshTokenStore) RevokeUserTokens(userID string) error {
	return s.revokeWhere("user_id = ? AND revoked = ?", userID, false)
}

func (s *RefreshTokenStore) RevokeTokenFamily(family string) error {
	return s.revokeWhere("family = ? AND revoked = ?", family, false)
}

func (s *RefreshTokenStore) GetUserTokens(userID string) ([]*ct.RefreshToken, error) {
	var models []RefreshTokenModel
	if err := s.db.Where("user_id = ? AND revoked = ? AND expires_at > ?", userID, false, time.Now()).
		Order("created_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	tokens := make([]*ct.RefreshToken, len(models))
	for i, m := range models {
		tokens[i] = m.ToRefreshToken()
	}
	return tokens, nil
}

func (s *RefreshTokenStore) CleanupExpiredTokens() error {
	cutoff := time.Now().Add(-24 * time.Hour)
	return s.db.Delete(&RefreshTokenModel{},
		"expires_at < ? OR (revoked = ? AND revoked_at < ?)",
		time.Now(), true, cutoff).Error
}

// =============================================================================
// APIKeyStore
// =============================================================================

// APIKeyStore implements ct.APIKeyStore using GORM
type APIKeyStore struct {
	db *gorm.DB
}

func NewAPIKeyStore(db *gorm.DB) *APIKeyStore {
	return &APIKeyStore{db: db}
}

// CreateAPIKey returns "ct_<id>_<secret>"; only a bcrypt hash of the secret is kept
func (s *APIKeyStore) CreateAPIKey(userID, name string, scopes []string, expiresAt *time.Time) (string, *ct.APIKey, error) {
	keyID, err := ct.GenerateAPIKeyID()
	if err != nil {
		return "", nil, fmt.Errorf("failed to generate key ID: %w", err)
	}
	secret, err := ct.GenerateAPIKeySecret()
	if err != nil {
		return "", nil, fmt.Errorf("failed to generate key secret: %w", err)
	}
	keyHash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", nil, fmt.Errorf("failed to hash key: %w", err)
	}

	model := &APIKeyModel{
		KeyID:      keyID,
		KeyHash:    string(keyHash),
		UserID:     userID,
		Name:       name,
		Scopes:     scopes,
		ExpiresAt:  expiresAt,
		LastUsedAt: time.Now(),
	}
	if err := s.db.Create(model).Error; err != nil {
		return "", nil, err
	}

	apiKey := model.ToAPIKey()
	apiKey.KeyHash = ""
	return keyID + "_" + secret, apiKey, nil
}

func (s *APIKeyStore) GetAPIKeyByID(keyID string) (*ct.APIKey, error) {
	var model APIKeyModel
	if err := s.db.First(&model, "key_id = ?", keyID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ct.ErrAPIKeyNotFound
		}
		return nil, err
	}
	return model.ToAPIKey(), nil
}

// splitAPIKey splits "ct_<id>_<secret>" into its key id and secret
func splitAPIKey(fullKey string) (keyID, secret string, ok bool) {
	rest, found := strings.CutPrefix(fullKey, ct.APIKeyPrefix)
	if !found {
		return "", "", false
	}
	id, secret, found := strings.Cut(rest, "_")
	if !found || id == "" || secret == "" {
		return "", "", false
	}
	return ct.APIKeyPrefix + id, secret, true
}

func (s *APIKeyStore) ValidateAPIKey(fullKey string) (*ct.APIKey, error) {
	keyID, secret, ok := splitAPIKey(fullKey)
	if !ok {
		return nil, ct.ErrAPIKeyNotFound
	}

	var model APIKeyModel
	if err := s.db.First(&model, "key_id = ?", keyID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ct.ErrAPIKeyNotFound
		}
		return nil, err
	}
	if model.Revoked {
		return nil, ct.ErrTokenRevoked
	}
	apiKey := model.ToAPIKey()
	if apiKey.IsExpired() {
		return nil, ct.ErrTokenExpired
	}
	if err := bcrypt.CompareHashAndPassword([]byte(model.KeyHash), []byte(secret)); err != nil {
		return nil, ct.ErrAPIKeyNotFound
	}
	apiKey.KeyHash = ""
	return apiKey, nil
}

func (s *APIKeyStore) RevokeAPIKey(keyID string) error {
	return s.db.Model(&APIKeyModel{}).
		Where("key_id = ?", keyID).
		Updates(map[string]any{"revoked": true, "revoked_at": time.Now()}).Error
}

func (s *APIKeyStore) ListUserAPIKeys(userID string) ([]*ct.APIKey, error) {
	var models []APIKeyModel
	if err := s.db.Where("user_id = ?", userID).Order("created_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	keys := make([]*ct.APIKey, len(models))
	for i, m := range models {
		keys[i] = m.ToAPIKey()
		keys[i].KeyHash = ""
	}
	return keys, nil
}

func (s *APIKeyStore) UpdateAPIKeyLastUsed(keyID string) error {
	return s.db.Model(&APIKeyModel{}).
		Where("key_id = ?", keyID).
		Update("last_used_at", time.Now()).Error
}
