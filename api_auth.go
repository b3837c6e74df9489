package carbontrade

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// APIAuth handles token-based authentication: login, the OAuth2-style token
// endpoint, sessions and API keys.
type APIAuth struct {
	// Stores
	Users             UserStore
	Identities        IdentityStore
	RefreshTokenStore RefreshTokenStore
	APIKeyStore       APIKeyStore

	// JWT configuration
	JWTSecretKey  string
	JWTIssuer     string
	JWTAudience   string
	JWTSigningAlg string // HS256 (default), HS384 or HS512

	AccessTokenExpiry time.Duration // Defaults to TokenExpiryAccessToken

	// RequireVerifiedEmail rejects logins whose email identity is unverified
	RequireVerifiedEmail bool

	// Callbacks
	ValidateCredentials CredentialsValidator
	GetUserScopes       GetUserScopesFunc
	OnLoginSuccess      func(user *User, r *http.Request)
	OnLoginFailure      func(email string, r *http.Request, err error)

	// RateLimiter is keyed by client ip and email. AccountRateLimiter is
	// keyed by email alone so rotating forwarded addresses cannot lift the
	// limit on a single account.
	RateLimiter        RateLimiter
	AccountRateLimiter RateLimiter
}

// LoginResponse is returned by the login endpoint
type LoginResponse struct {
	Status       string `json:"status"`
	Token        string `json:"token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int64  `json:"expires_in"`
	User         *User  `json:"user"`
}

// HandleLogin handles POST /auth/login with an email/password body
func (a *APIAuth) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var creds Credentials
	if err := DecodeJSON(r, &creds); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if creds.Email == "" || creds.Password == "" {
		WriteAuthError(w, NewAuthError(ErrCodeMissingField, "Email and password are required", ""))
		return
	}

	user, err := a.authenticate(r, creds.Email, creds.Password)
	if err != nil {
		if ae, ok := AsAuthError(err); ok {
			WriteAuthError(w, ae)
			return
		}
		slog.Error("login failed", "error", err)
		WriteError(w, http.StatusInternalServerError, "Login failed")
		return
	}

	pair, err := a.IssueTokens(user, "", nil, r)
	if err != nil {
		slog.Error("failed to issue tokens", "user_id", user.ID, "error", err)
		WriteError(w, http.StatusInternalServerError, "Failed to create session")
		return
	}

	WriteJSON(w, http.StatusOK, LoginResponse{
		Status:       "success",
		Token:        pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresIn:    pair.ExpiresIn,
		User:         user,
	})
}

// authenticate runs rate limiting, credential checks and account state checks
func (a *APIAuth) authenticate(r *http.Request, email, password string) (*User, error) {
	if a.ValidateCredentials == nil {
		return nil, errors.New("authentication not configured")
	}
	email = NormalizeEmail(email)

	if a.RateLimiter != nil && !a.RateLimiter.Allow(getClientIP(r)+":"+email) {
		return nil, NewAuthError(ErrCodeTooManyAttempts, "Too many login attempts", "")
	}
	if a.AccountRateLimiter != nil && !a.AccountRateLimiter.Allow(email) {
		return nil, NewAuthError(ErrCodeTooManyAttempts, "Too many login attempts", "")
	}

	user, err := a.ValidateCredentials(email, password)
	if err != nil || user == nil {
		if a.OnLoginFailure != nil {
			a.OnLoginFailure(email, r, err)
		}
		if _, ok := AsAuthError(err); ok || err == nil || errors.Is(err, ErrUserNotFound) {
			return nil, NewAuthError(ErrCodeInvalidCredentials, "Invalid email or password", "")
		}
		return nil, err
	}

	if user.Status == StatusSuspended {
		return nil, NewAuthError(ErrCodeAccountSuspended, "Account suspended", "")
	}
	if a.RequireVerifiedEmail && a.Identities != nil {
		identity, err := a.Identities.GetIdentity("email", email)
		if err != nil || !identity.Verified {
			return nil, NewAuthError(ErrCodeNotVerified, "Email not verified", "email")
		}
	}

	if a.Users != nil {
		now := time.Now()
		user.LastLogin = &now
		if err := a.Users.SaveUser(user); err != nil {
			slog.Warn("failed to record last login", "user_id", user.ID, "error", err)
		}
	}
	if a.OnLoginSuccess != nil {
		a.OnLoginSuccess(user, r)
	}
	return user, nil
}

// IssueTokens mints an access token and a new refresh token family for user.
// An empty requested list grants every allowed scope.
func (a *APIAuth) IssueTokens(user *User, clientID string, requested []string, r *http.Request) (*TokenPair, error) {
	allowed, err := a.userScopes(user)
	if err != nil {
		return nil, fmt.Errorf("failed to get user scopes: %w", err)
	}
	granted := allowed
	if len(requested) > 0 {
		granted = IntersectScopes(requested, allowed)
	}

	deviceInfo := map[string]any{"created_at": time.Now().UTC().Format(time.RFC3339)}
	if r != nil {
		deviceInfo["user_agent"] = r.UserAgent()
		deviceInfo["ip"] = getClientIP(r)
	}

	refreshToken, err := a.RefreshTokenStore.CreateRefreshToken(user.ID, clientID, deviceInfo, granted)
	if err != nil {
		return nil, fmt.Errorf("failed to create refresh token: %w", err)
	}

	accessToken, expiresIn, err := a.createAccessToken(user, granted)
	if err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:  accessToken,
		TokenType:    "Bearer",
		ExpiresIn:    expiresIn,
		RefreshToken: refreshToken.Token,
		Scope:        JoinScopes(granted),
	}, nil
}

func (a *APIAuth) userScopes(user *User) ([]string, error) {
	if a.GetUserScopes != nil {
		return a.GetUserScopes(user)
	}
	return ScopesForRole(user.Role), nil
}

// ServeHTTP handles the token endpoint (password and refresh_token grants)
func (a *APIAuth) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		a.errorResponse(w, "invalid_request", "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req TokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.errorResponse(w, "invalid_request", "Invalid request body", http.StatusBadRequest)
		return
	}

	switch req.GrantType {
	case "password":
		a.handlePasswordGrant(w, r, &req)
	case "refresh_token":
		a.handleRefreshTokenGrant(w, r, &req)
	default:
		a.errorResponse(w, "unsupported_grant_type", "Grant type not supported", http.StatusBadRequest)
	}
}

func (a *APIAuth) handlePasswordGrant(w http.ResponseWriter, r *http.Request, req *TokenRequest) {
	user, err := a.authenticate(r, req.Username, req.Password)
	if err != nil {
		ae, ok := AsAuthError(err)
		switch {
		case !ok:
			log.Printf("Error validating credentials: %v", err)
			a.errorResponse(w, "server_error", "Authentication not configured", http.StatusInternalServerError)
		case ae.Code == ErrCodeTooManyAttempts:
			a.errorResponse(w, "rate_limit_exceeded", ae.Message, http.StatusTooManyRequests)
		default:
			a.errorResponse(w, "invalid_grant", ae.Message, http.StatusUnauthorized)
		}
		return
	}

	pair, err := a.IssueTokens(user, req.ClientID, ParseScopes(req.Scope), r)
	if err != nil {
		log.Printf("Error issuing tokens: %v", err)
		a.errorResponse(w, "server_error", "Failed to create session", http.StatusInternalServerError)
		return
	}
	a.tokenResponse(w, pair)
}

func (a *APIAuth) handleRefreshTokenGrant(w http.ResponseWriter, r *http.Request, req *TokenRequest) {
	if req.RefreshToken == "" {
		a.errorResponse(w, "invalid_request", "Refresh token required", http.StatusBadRequest)
		return
	}

	refreshToken, err := a.RefreshTokenStore.GetRefreshToken(req.RefreshToken)
	if err != nil {
		if errors.Is(err, ErrTokenNotFound) {
			a.errorResponse(w, "invalid_grant", "Invalid refresh token", http.StatusUnauthorized)
		} else {
			a.errorResponse(w, "server_error", "Failed to validate token", http.StatusInternalServerError)
		}
		return
	}
	if refreshToken.IsExpired() {
		a.errorResponse(w, "invalid_grant", "Token has expired", http.StatusUnauthorized)
		return
	}

	newRefreshToken, err := a.RefreshTokenStore.RotateRefreshToken(req.RefreshToken)
	if err != nil {
		if errors.Is(err, ErrTokenReused) {
			if revokeErr := a.RefreshTokenStore.RevokeTokenFamily(refreshToken.Family); revokeErr != nil {
				log.Printf("Error revoking token family: %v", revokeErr)
			}
			a.errorResponse(w, "invalid_grant", "Token reuse detected, all sessions revoked", http.StatusUnauthorized)
			return
		}
		log.Printf("Error rotating refresh token: %v", err)
		a.errorResponse(w, "server_error", "Failed to refresh session", http.StatusInternalServerError)
		return
	}

	user := &User{ID: refreshToken.UserID, Role: RoleUser}
	if a.Users != nil {
		if user, err = a.Users.GetUserByID(refreshToken.UserID); err != nil {
			a.errorResponse(w, "invalid_grant", "Unknown user", http.StatusUnauthorized)
			return
		}
		if user.Status == StatusSuspended {
			a.errorResponse(w, "invalid_grant", "Account suspended", http.StatusUnauthorized)
			return
		}
	}

	accessToken, expiresIn, err := a.createAccessToken(user, refreshToken.Scopes)
	if err != nil {
		log.Printf("Error creating access token: %v", err)
		a.errorResponse(w, "server_error", "Failed to create token", http.StatusInternalServerError)
		return
	}

	a.tokenResponse(w, &TokenPair{
		AccessToken:  accessToken,
		TokenType:    "Bearer",
		ExpiresIn:    expiresIn,
		RefreshToken: newRefreshToken.Token,
		Scope:        JoinScopes(refreshToken.Scopes),
	})
}

// HandleLogout handles POST /auth/logout - revokes a refresh token
func (a *APIAuth) HandleLogout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		WriteError(w, http.StatusBadRequest, "Refresh token required")
		return
	}

	// Don't reveal whether the token existed
	if err := a.RefreshTokenStore.RevokeRefreshToken(req.RefreshToken); err != nil {
		log.Printf("Error revoking token: %v", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleLogoutAll handles POST /auth/logout-all. Requires authentication.
func (a *APIAuth) HandleLogoutAll(w http.ResponseWriter, r *http.Request) {
	userID := GetUserIDFromContext(r.Context())
	if userID == "" {
		WriteError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	if err := a.RefreshTokenStore.RevokeUserTokens(userID); err != nil {
		log.Printf("Error revoking user tokens: %v", err)
		WriteError(w, http.StatusInternalServerError, "Failed to revoke sessions")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SessionInfo describes an active refresh token without exposing it
type SessionInfo struct {
	ID         string         `json:"id"`
	DeviceInfo map[string]any `json:"device_info,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	LastUsedAt time.Time      `json:"last_used_at"`
	ExpiresAt  time.Time      `json:"expires_at"`
	Scopes     []string       `json:"scopes,omitempty"`
}

// HandleListSessions handles GET /auth/sessions. Requires authentication.
func (a *APIAuth) HandleListSessions(w http.ResponseWriter, r *http.Request) {
	userID := GetUserIDFromContext(r.Context())
	if userID == "" {
		WriteError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	tokens, err := a.RefreshTokenStore.GetUserTokens(userID)
	if err != nil {
		log.Printf("Error getting user tokens: %v", err)
		WriteError(w, http.StatusInternalServerError, "Failed to get sessions")
		return
	}

	sessions := make([]SessionInfo, 0, len(tokens))
	for _, t := range tokens {
		id := t.TokenHash
		if len(id) > 16 {
			id = id[:16]
		}
		sessions = append(sessions, SessionInfo{
			ID:         id,
			DeviceInfo: t.DeviceInfo,
			CreatedAt:  t.CreatedAt,
			LastUsedAt: t.LastUsedAt,
			ExpiresAt:  t.ExpiresAt,
			Scopes:     t.Scopes,
		})
	}
	WriteData(w, http.StatusOK, map[string]any{"sessions": sessions}, "")
}

func (a *APIAuth) signingMethod() jwt.SigningMethod {
	switch a.JWTSigningAlg {
	case "HS384":
		return jwt.SigningMethodHS384
	case "HS512":
		return jwt.SigningMethodHS512
	}
	return jwt.SigningMethodHS256
}

// createAccessToken creates a signed JWT access token
func (a *APIAuth) createAccessToken(user *User, scopes []string) (string, int64, error) {
	expiry := a.AccessTokenExpiry
	if expiry == 0 {
		expiry = TokenExpiryAccessToken
	}
	now := time.Now()

	claims := jwt.MapClaims{
		"sub":    user.ID,
		"email":  user.Email,
		"role":   user.Role,
		"type":   "access",
		"scopes": scopes,
		"jti":    uuid.NewString(),
		"iat":    now.Unix(),
		"exp":    now.Add(expiry).Unix(),
	}
	if a.JWTIssuer != "" {
		claims["iss"] = a.JWTIssuer
	}
	if a.JWTAudience != "" {
		claims["aud"] = a.JWTAudience
	}

	tokenString, err := jwt.NewWithClaims(a.signingMethod(), claims).SignedString([]byte(a.JWTSecretKey))
	if err != nil {
		return "", 0, fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, int64(expiry.Seconds()), nil
}

// ValidateAccessToken validates a JWT access token and returns the claims.
// It satisfies TokenVerifier.
func (a *APIAuth) ValidateAccessToken(tokenString string) (*AccessClaims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"})}
	if a.JWTIssuer != "" {
		opts = append(opts, jwt.WithIssuer(a.JWTIssuer))
	}
	if a.JWTAudience != "" {
		opts = append(opts, jwt.WithAudience(a.JWTAudience))
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		return []byte(a.JWTSecretKey), nil
	}, opts...)
	if err != nil {
		return nil, err
	}

	if tokenType, _ := claims["type"].(string); tokenType != "access" {
		return nil, fmt.Errorf("invalid token type")
	}
	userID, _ := claims["sub"].(string)
	if userID == "" {
		return nil, fmt.Errorf("missing subject")
	}

	out := &AccessClaims{UserID: userID, AuthType: AuthTypeJWT}
	out.Email, _ = claims["email"].(string)
	out.Role, _ = claims["role"].(string)
	out.SessionID, _ = claims["jti"].(string)
	if scopesRaw, ok := claims["scopes"].([]any); ok {
		for _, s := range scopesRaw {
			if str, ok := s.(string); ok {
				out.Scopes = append(out.Scopes, str)
			}
		}
	}
	return out, nil
}

func (a *APIAuth) tokenResponse(w http.ResponseWriter, pair *TokenPair) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	json.NewEncoder(w).Encode(pair)
}

// errorResponse sends an OAuth 2.0 compliant error response
func (a *APIAuth) errorResponse(w http.ResponseWriter, errorCode, description string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(TokenError{Error: errorCode, ErrorDescription: description})
}

// ============================================================================
// API Key Management Endpoints
// ============================================================================

// HandleAPIKeys handles API key management (GET=list, POST=create).
// Requires authentication.
func (a *APIAuth) HandleAPIKeys(w http.ResponseWriter, r *http.Request) {
	userID := GetUserIDFromContext(r.Context())
	if userID == "" {
		WriteError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	switch r.Method {
	case http.MethodGet:
		a.handleListAPIKeys(w, userID)
	case http.MethodPost:
		a.handleCreateAPIKey(w, r, userID)
	default:
		WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (a *APIAuth) handleListAPIKeys(w http.ResponseWriter, userID string) {
	keys, err := a.APIKeyStore.ListUserAPIKeys(userID)
	if err != nil {
		log.Printf("Error listing API keys: %v", err)
		WriteError(w, http.StatusInternalServerError, "Failed to list API keys")
		return
	}
	if keys == nil {
		keys = []*APIKey{}
	}
	WriteData(w, http.StatusOK, map[string]any{"api_keys": keys}, "")
}

func (a *APIAuth) handleCreateAPIKey(w http.ResponseWriter, r *http.Request, userID string) {
	var req struct {
		Name      string   `json:"name"`
		Scopes    []string `json:"scopes,omitempty"`
		ExpiresIn int64    `json:"expires_in,omitempty"` // seconds, 0 = never
	}
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		WriteError(w, http.StatusBadRequest, "Name is required")
		return
	}

	allowed := ScopesForRole(RoleUser)
	if a.Users != nil {
		if user, err := a.Users.GetUserByID(userID); err == nil {
			if allowed, err = a.userScopes(user); err != nil {
				WriteError(w, http.StatusInternalServerError, "Failed to get user permissions")
				return
			}
		}
	}
	granted := allowed
	if len(req.Scopes) > 0 {
		granted = IntersectScopes(req.Scopes, allowed)
	}

	var expiresAt *time.Time
	if req.ExpiresIn > 0 {
		t := time.Now().Add(time.Duration(req.ExpiresIn) * time.Second)
		expiresAt = &t
	}

	fullKey, apiKey, err := a.APIKeyStore.CreateAPIKey(userID, req.Name, granted, expiresAt)
	if err != nil {
		log.Printf("Error creating API key: %v", err)
		WriteError(w, http.StatusInternalServerError, "Failed to create API key")
		return
	}

	// The full key is only ever shown here
	WriteData(w, http.StatusCreated, map[string]any{
		"api_key":    fullKey,
		"key_id":     apiKey.KeyID,
		"name":       apiKey.Name,
		"scopes":     apiKey.Scopes,
		"created_at": apiKey.CreatedAt,
		"expires_at": apiKey.ExpiresAt,
	}, "")
}

// HandleRevokeAPIKey handles DELETE /auth/keys/{id}. Requires authentication.
func (a *APIAuth) HandleRevokeAPIKey(w http.ResponseWriter, r *http.Request) {
	userID := GetUserIDFromContext(r.Context())
	if userID == "" {
		WriteError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	parts := strings.Split(strings.TrimSuffix(r.URL.Path, "/"), "/")
	keyID := parts[len(parts)-1]
	if keyID == "" || keyID == "keys" {
		WriteError(w, http.StatusBadRequest, "Key ID required")
		return
	}

	apiKey, err := a.APIKeyStore.GetAPIKeyByID(keyID)
	if err != nil {
		if errors.Is(err, ErrAPIKeyNotFound) {
			WriteError(w, http.StatusNotFound, "API key not found")
		} else {
			WriteError(w, http.StatusInternalServerError, "Failed to get API key")
		}
		return
	}
	if apiKey.UserID != userID {
		WriteError(w, http.StatusForbidden, "Not authorized to revoke this key")
		return
	}

	if err := a.APIKeyStore.RevokeAPIKey(keyID); err != nil {
		log.Printf("Error revoking API key: %v", err)
		WriteError(w, http.StatusInternalServerError, "Failed to revoke API key")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
