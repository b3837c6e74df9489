package carbontrade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

// Auth types recorded on AccessClaims
const (
	AuthTypeJWT      = "jwt"
	AuthTypeAPIKey   = "api_key"
	AuthTypeSupabase = "supabase"
)

// AccessClaims is the authenticated principal attached to a request
type AccessClaims struct {
	UserID    string
	Email     string
	Role      string
	Scopes    []string
	SessionID string
	AuthType  string

	// EmailVerified is set by external verifiers whose issuer confirmed Email
	EmailVerified bool
}

func (c *AccessClaims) IsAdmin() bool { return c.Role == RoleAdmin }

// TokenVerifier checks a bearer token and returns its claims
type TokenVerifier func(token string) (*AccessClaims, error)

type contextKey string

const contextKeyClaims contextKey = "access_claims"

// SetClaimsInContext stores claims for downstream handlers
func SetClaimsInContext(ctx context.Context, claims *AccessClaims) context.Context {
	return context.WithValue(ctx, contextKeyClaims, claims)
}

// ClaimsFromContext returns the request's claims or nil
func ClaimsFromContext(ctx context.Context) *AccessClaims {
	claims, _ := ctx.Value(contextKeyClaims).(*AccessClaims)
	return claims
}

// GetUserIDFromContext returns the authenticated user id, or ""
func GetUserIDFromContext(ctx context.Context) string {
	if claims := ClaimsFromContext(ctx); claims != nil {
		return claims.UserID
	}
	return ""
}

var (
	errMissingAuth      = errors.New("missing authorization header")
	errInvalidAuth      = errors.New("invalid authorization header format")
	errAccountSuspended = errors.New("account suspended")
)

// APIMiddleware authenticates Bearer JWTs and API keys
type APIMiddleware struct {
	// VerifyAccessToken validates tokens minted by APIAuth
	VerifyAccessToken TokenVerifier

	// ExternalVerifiers are tried when VerifyAccessToken rejects a token,
	// e.g. Supabase-issued JWTs. Their subject is mapped onto a local user
	// through a "supabase" channel, bound on the first login that carries a
	// verified email.
	ExternalVerifiers []TokenVerifier

	// Channels holds the external subject bindings; without it external
	// tokens never map onto local accounts
	Channels ChannelStore

	APIKeyStore APIKeyStore

	// Users refreshes role and status from storage when set
	Users UserStore

	AuthHeader string // Defaults to "Authorization"

	OnAuthError func(w http.ResponseWriter, r *http.Request, err error)
}

// ValidateToken requires a valid credential and puts its claims in the context
func (m *APIMiddleware) ValidateToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := m.Authenticate(r)
		if err != nil {
			m.handleAuthError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(SetClaimsInContext(r.Context(), claims)))
	})
}

// RequireScopes validates the token and checks all required scopes
func (m *APIMiddleware) RequireScopes(requiredScopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := m.Authenticate(r)
			if err != nil {
				m.handleAuthError(w, r, err)
				return
			}
			if !ContainsAllScopes(claims.Scopes, requiredScopes) {
				WriteError(w, http.StatusForbidden, fmt.Sprintf("insufficient scope: requires %v", requiredScopes))
				return
			}
			next.ServeHTTP(w, r.WithContext(SetClaimsInContext(r.Context(), claims)))
		})
	}
}

// RequireRole validates the token and checks the caller's role
func (m *APIMiddleware) RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := m.Authenticate(r)
			if err != nil {
				m.handleAuthError(w, r, err)
				return
			}
			if claims.Role != role {
				WriteError(w, http.StatusForbidden, "Access denied")
				return
			}
			next.ServeHTTP(w, r.WithContext(SetClaimsInContext(r.Context(), claims)))
		})
	}
}

// Optional sets claims when a valid credential is present and never rejects
func (m *APIMiddleware) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if claims, err := m.Authenticate(r); err == nil {
			r = r.WithContext(SetClaimsInContext(r.Context(), claims))
		}
		next.ServeHTTP(w, r)
	})
}

// Authenticate extracts and validates the request's bearer credential
func (m *APIMiddleware) Authenticate(r *http.Request) (*AccessClaims, error) {
	header := m.AuthHeader
	if header == "" {
		header = "Authorization"
	}
	authHeader := r.Header.Get(header)
	if authHeader == "" {
		return nil, errMissingAuth
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return nil, errInvalidAuth
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return nil, errInvalidAuth
	}
	return m.VerifyCredential(token)
}

// VerifyCredential validates a bare JWT or API key. It satisfies
// TokenVerifier so non-HTTP transports can share the same checks.
func (m *APIMiddleware) VerifyCredential(token string) (*AccessClaims, error) {
	var claims *AccessClaims
	var err error
	if strings.HasPrefix(token, APIKeyPrefix) && m.APIKeyStore != nil {
		claims, err = m.validateAPIKey(token)
	} else {
		claims, err = m.validateJWT(token)
	}
	if err != nil {
		return nil, err
	}
	return m.refreshFromStore(claims)
}

func (m *APIMiddleware) validateJWT(token string) (*AccessClaims, error) {
	var firstErr error
	if m.VerifyAccessToken != nil {
		claims, err := m.VerifyAccessToken(token)
		if err == nil {
			return claims, nil
		}
		firstErr = err
	}
	for _, verify := range m.ExternalVerifiers {
		if claims, err := verify(token); err == nil {
			return m.mapExternal(claims)
		}
	}
	if firstErr == nil {
		firstErr = errors.New("no token verifier configured")
	}
	return nil, fmt.Errorf("invalid token: %w", firstErr)
}

// mapExternal resolves an externally issued identity to the local account.
// An existing binding must name the token's subject. Without one, only a
// verified email may create it.
func (m *APIMiddleware) mapExternal(claims *AccessClaims) (*AccessClaims, error) {
	if m.Users == nil || m.Channels == nil || claims.Email == "" {
		return claims, nil
	}
	email := NormalizeEmail(claims.Email)
	key := IdentityKey("email", email)

	channel, err := m.Channels.GetChannel(claims.AuthType, key)
	bound := err == nil && channel != nil
	if bound {
		if subject, _ := channel.Credentials["subject"].(string); subject != claims.UserID {
			slog.Warn("external subject does not match bound account", "auth_type", claims.AuthType, "email", email)
			return claims, nil
		}
	} else if !claims.EmailVerified {
		// unknown locally; the external subject stands in
		return claims, nil
	}

	user, err := m.Users.GetUserByEmail(email)
	if err != nil {
		return claims, nil
	}
	if !bound {
		err := m.Channels.SaveChannel(&Channel{
			Provider:    claims.AuthType,
			IdentityKey: key,
			Credentials: map[string]any{"subject": claims.UserID},
		})
		if err != nil {
			return nil, fmt.Errorf("bind external identity: %w", err)
		}
		slog.Info("bound external identity", "auth_type", claims.AuthType, "user_id", user.ID)
	}
	claims.UserID = user.ID
	return claims, nil
}

func (m *APIMiddleware) validateAPIKey(fullKey string) (*AccessClaims, error) {
	apiKey, err := m.APIKeyStore.ValidateAPIKey(fullKey)
	if err != nil {
		return nil, fmt.Errorf("invalid API key: %w", err)
	}

	go func() {
		if err := m.APIKeyStore.UpdateAPIKeyLastUsed(apiKey.KeyID); err != nil {
			slog.Warn("failed to update API key last used", "key_id", apiKey.KeyID, "error", err)
		}
	}()

	return &AccessClaims{
		UserID:   apiKey.UserID,
		Scopes:   apiKey.Scopes,
		AuthType: AuthTypeAPIKey,
	}, nil
}

// refreshFromStore applies the stored role and rejects suspended accounts
func (m *APIMiddleware) refreshFromStore(claims *AccessClaims) (*AccessClaims, error) {
	if m.Users == nil {
		return claims, nil
	}
	user, err := m.Users.GetUserByID(claims.UserID)
	if err != nil {
		if claims.AuthType == AuthTypeSupabase {
			return claims, nil
		}
		return nil, fmt.Errorf("unknown user: %w", err)
	}
	if user.Status == StatusSuspended {
		return nil, errAccountSuspended
	}
	claims.Role = user.Role
	if claims.Email == "" {
		claims.Email = user.Email
	}
	if claims.AuthType == AuthTypeSupabase {
		// Admin actions need a token this service issued
		if claims.Role == RoleAdmin {
			claims.Role = RoleUser
		}
		if len(claims.Scopes) == 0 {
			claims.Scopes = ScopesForRole(claims.Role)
		}
	}
	return claims, nil
}

func (m *APIMiddleware) handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	if m.OnAuthError != nil {
		m.OnAuthError(w, r, err)
		return
	}
	w.Header().Set("WWW-Authenticate", `Bearer realm="api"`)
	if errors.Is(err, errAccountSuspended) {
		WriteError(w, http.StatusForbidden, "Account suspended")
		return
	}
	WriteError(w, http.StatusUnauthorized, "Unauthorized: "+err.Error())
}

// getClientIP extracts the client IP from the request
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		return strings.TrimSpace(ips[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	ip := r.RemoteAddr
	if colonIdx := strings.LastIndex(ip, ":"); colonIdx != -1 {
		ip = ip[:colonIdx]
	}
	return ip
}

// ClientIP exposes the client address resolution used for rate limiting
func ClientIP(r *http.Request) string { return getClientIP(r) }
