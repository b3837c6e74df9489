package carbontrade_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ct "github.com/dennislee928/carbontrade"
)

func tokenRequest(t *testing.T, env *testEnv, req ct.TokenRequest) (int, ct.TokenPair, ct.TokenError) {
	t.Helper()
	rec := doJSON(t, env.API, http.MethodPost, "/api/v1/auth/token", req, "")
	var pair ct.TokenPair
	var tokErr ct.TokenError
	if rec.Code == http.StatusOK {
		decodeBody(t, rec, &pair)
	} else {
		decodeBody(t, rec, &tokErr)
	}
	return rec.Code, pair, tokErr
}

func TestPasswordGrant(t *testing.T) {
	env := newTestEnv(t)
	env.registerVerified(t, "grant@example.com")

	tests := []struct {
		name      string
		grantType string
		username  string
		password  string
		status    int
		errCode   string
	}{
		{"successful login", "password", "grant@example.com", testPassword, http.StatusOK, ""},
		{"case-insensitive email", "password", "GRANT@example.com", testPassword, http.StatusOK, ""},
		{"wrong password", "password", "grant@example.com", "Wr0ng-pass!", http.StatusUnauthorized, "invalid_grant"},
		{"unknown user", "password", "ghost@example.com", testPassword, http.StatusUnauthorized, "invalid_grant"},
		{"unsupported grant", "client_credentials", "", "", http.StatusBadRequest, "unsupported_grant_type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, pair, tokErr := tokenRequest(t, env, ct.TokenRequest{
				GrantType: tt.grantType,
				Username:  tt.username,
				Password:  tt.password,
			})
			assert.Equal(t, tt.status, status)
			if tt.status == http.StatusOK {
				assert.Equal(t, "Bearer", pair.TokenType)
				assert.NotEmpty(t, pair.AccessToken)
				assert.NotEmpty(t, pair.RefreshToken)
				assert.Equal(t, "read write trade offline", pair.Scope)
			} else {
				assert.Equal(t, tt.errCode, tokErr.Error)
			}
		})
	}
}

func TestPasswordGrantScopeNarrowing(t *testing.T) {
	env := newTestEnv(t)
	env.registerVerified(t, "scoped@example.com")

	status, pair, _ := tokenRequest(t, env, ct.TokenRequest{
		GrantType: "password", Username: "scoped@example.com", Password: testPassword,
		Scope: "read admin",
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "read", pair.Scope)

	claims, err := env.API.ValidateAccessToken(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, []string{ct.ScopeRead}, claims.Scopes)
}

func TestRefreshTokenGrant(t *testing.T) {
	env := newTestEnv(t)
	env.registerVerified(t, "refresh@example.com")
	session := env.login(t, "refresh@example.com")

	status, rotated, _ := tokenRequest(t, env, ct.TokenRequest{GrantType: "refresh_token", RefreshToken: session.RefreshToken})
	require.Equal(t, http.StatusOK, status)
	assert.NotEqual(t, session.RefreshToken, rotated.RefreshToken)
	assert.NotEmpty(t, rotated.AccessToken)

	// Replaying the old token revokes the family, including the new token
	status, _, tokErr := tokenRequest(t, env, ct.TokenRequest{GrantType: "refresh_token", RefreshToken: session.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "invalid_grant", tokErr.Error)

	status, _, _ = tokenRequest(t, env, ct.TokenRequest{GrantType: "refresh_token", RefreshToken: rotated.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _, tokErr = tokenRequest(t, env, ct.TokenRequest{GrantType: "refresh_token"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_request", tokErr.Error)

	status, _, _ = tokenRequest(t, env, ct.TokenRequest{GrantType: "refresh_token", RefreshToken: "not-a-token"})
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestRefreshRejectsSuspendedUser(t *testing.T) {
	env := newTestEnv(t)
	user := env.registerVerified(t, "suspend@example.com")
	session := env.login(t, "suspend@example.com")

	user.Status = ct.StatusSuspended
	require.NoError(t, env.Users.SaveUser(user))

	status, _, tokErr := tokenRequest(t, env, ct.TokenRequest{GrantType: "refresh_token", RefreshToken: session.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "invalid_grant", tokErr.Error)

	rec := postJSON(t, env.API.HandleLogin, "/api/v1/auth/login", map[string]string{
		"email": "suspend@example.com", "password": testPassword,
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Existing access tokens stop working too
	protected := env.Middleware.ValidateToken(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	rec = doJSON(t, protected, http.MethodGet, "/api/v1/users/me", nil, session.Token)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestLoginRateLimit(t *testing.T) {
	env := newTestEnv(t)
	env.registerVerified(t, "limited@example.com")
	env.API.RateLimiter = ct.NewKeyedRateLimiter(2, 2)

	for i := 0; i < 2; i++ {
		rec := postJSON(t, env.API.HandleLogin, "/api/v1/auth/login", map[string]string{
			"email": "limited@example.com", "password": "Wr0ng-pass!",
		})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}
	rec := postJSON(t, env.API.HandleLogin, "/api/v1/auth/login", map[string]string{
		"email": "limited@example.com", "password": testPassword,
	})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestLoginRateLimitIgnoresForwardedFor(t *testing.T) {
	env := newTestEnv(t)
	env.registerVerified(t, "target@example.com")
	env.API.RateLimiter = ct.NewKeyedRateLimiter(2, 2)
	env.API.AccountRateLimiter = ct.NewKeyedRateLimiter(6, 6)

	counts := map[int]int{}
	for i := 0; i < 20; i++ {
		body, err := json.Marshal(map[string]string{"email": "target@example.com", "password": "Wr0ng-pass!"})
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("198.51.100.%d", i+1))
		rec := httptest.NewRecorder()
		env.API.HandleLogin(rec, req)
		counts[rec.Code]++
	}
	assert.Equal(t, 6, counts[http.StatusUnauthorized])
	assert.Equal(t, 14, counts[http.StatusTooManyRequests])
}

func TestLogoutAndSessions(t *testing.T) {
	env := newTestEnv(t)
	env.registerVerified(t, "sessions@example.com")
	first := env.login(t, "sessions@example.com")
	second := env.login(t, "sessions@example.com")

	list := env.Middleware.ValidateToken(http.HandlerFunc(env.API.HandleListSessions))
	rec := doJSON(t, list, http.MethodGet, "/api/v1/auth/sessions", nil, first.Token)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Data struct {
			Sessions []ct.SessionInfo `json:"sessions"`
		} `json:"data"`
	}
	decodeBody(t, rec, &resp)
	assert.Len(t, resp.Data.Sessions, 2)

	rec = postJSON(t, env.API.HandleLogout, "/api/v1/auth/logout", map[string]string{"refresh_token": first.RefreshToken})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	status, _, _ := tokenRequest(t, env, ct.TokenRequest{GrantType: "refresh_token", RefreshToken: first.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, status)

	logoutAll := env.Middleware.ValidateToken(http.HandlerFunc(env.API.HandleLogoutAll))
	rec = doJSON(t, logoutAll, http.MethodPost, "/api/v1/auth/logout-all", nil, second.Token)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	tokens, err := env.RefreshTokens.GetUserTokens(second.User.ID)
	require.NoError(t, err)
	assert.Empty(t, tokens)
}

func TestValidateAccessToken(t *testing.T) {
	env := newTestEnv(t)
	user := env.registerVerified(t, "jwt@example.com")
	session := env.login(t, "jwt@example.com")

	claims, err := env.API.ValidateAccessToken(session.Token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)
	assert.Equal(t, "jwt@example.com", claims.Email)
	assert.Equal(t, ct.RoleUser, claims.Role)
	assert.Equal(t, ct.AuthTypeJWT, claims.AuthType)
	assert.NotEmpty(t, claims.SessionID)

	sign := func(c jwt.MapClaims, method jwt.SigningMethod, key any) string {
		s, err := jwt.NewWithClaims(method, c).SignedString(key)
		require.NoError(t, err)
		return s
	}
	now := time.Now()
	base := func() jwt.MapClaims {
		return jwt.MapClaims{"sub": user.ID, "type": "access", "iss": testIssuer, "iat": now.Unix(), "exp": now.Add(time.Hour).Unix()}
	}

	tests := []struct {
		name  string
		token string
	}{
		{"wrong secret", sign(base(), jwt.SigningMethodHS256, []byte("other-secret"))},
		{"expired", func() string {
			c := base()
			c["exp"] = now.Add(-time.Minute).Unix()
			return sign(c, jwt.SigningMethodHS256, []byte(testSecret))
		}()},
		{"wrong issuer", func() string {
			c := base()
			c["iss"] = "someone-else"
			return sign(c, jwt.SigningMethodHS256, []byte(testSecret))
		}()},
		{"refresh type", func() string {
			c := base()
			c["type"] = "refresh"
			return sign(c, jwt.SigningMethodHS256, []byte(testSecret))
		}()},
		{"missing subject", func() string {
			c := base()
			delete(c, "sub")
			return sign(c, jwt.SigningMethodHS256, []byte(testSecret))
		}()},
		{"garbage", "not.a.jwt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.API.ValidateAccessToken(tt.token)
			assert.Error(t, err)
		})
	}
}

func TestAPIKeyManagement(t *testing.T) {
	env := newTestEnv(t)
	env.registerVerified(t, "keys@example.com")
	env.registerVerified(t, "other@example.com")
	session := env.login(t, "keys@example.com")
	otherSession := env.login(t, "other@example.com")

	keys := env.Middleware.ValidateToken(http.HandlerFunc(env.API.HandleAPIKeys))
	revoke := env.Middleware.ValidateToken(http.HandlerFunc(env.API.HandleRevokeAPIKey))

	rec := doJSON(t, keys, http.MethodPost, "/api/v1/auth/keys", map[string]any{"name": ""}, session.Token)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, keys, http.MethodPost, "/api/v1/auth/keys", map[string]any{
		"name": "ci", "scopes": []string{"read", "admin"},
	}, session.Token)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created struct {
		Data struct {
			APIKey string   `json:"api_key"`
			KeyID  string   `json:"key_id"`
			Scopes []string `json:"scopes"`
		} `json:"data"`
	}
	decodeBody(t, rec, &created)
	assert.Equal(t, []string{"read"}, created.Data.Scopes)

	// The key authenticates by itself
	var seen *ct.AccessClaims
	probe := env.Middleware.ValidateToken(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = ct.ClaimsFromContext(r.Context())
	}))
	rec = doJSON(t, probe, http.MethodGet, "/api/v1/users/me", nil, created.Data.APIKey)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, seen)
	assert.Equal(t, ct.AuthTypeAPIKey, seen.AuthType)
	assert.Equal(t, "keys@example.com", seen.Email)

	rec = doJSON(t, keys, http.MethodGet, "/api/v1/auth/keys", nil, session.Token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), created.Data.APIKey)

	rec = doJSON(t, revoke, http.MethodDelete, "/api/v1/auth/keys/"+created.Data.KeyID, nil, otherSession.Token)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, revoke, http.MethodDelete, "/api/v1/auth/keys/ct_missing", nil, session.Token)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, revoke, http.MethodDelete, "/api/v1/auth/keys/"+created.Data.KeyID, nil, session.Token)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, probe, http.MethodGet, "/api/v1/users/me", nil, created.Data.APIKey)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAccessTokenExpiry(t *testing.T) {
	env := newTestEnv(t)
	env.registerVerified(t, "short@example.com")
	env.API.AccessTokenExpiry = 15 * time.Minute

	session := env.login(t, "short@example.com")
	assert.Equal(t, int64(15*60), session.ExpiresIn)
}
