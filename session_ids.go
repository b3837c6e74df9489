package carbontrade

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
)

// Request headers the front-ends use to correlate a browser session
const (
	HeaderSessionMdias         = "session-identifier-mdias"
	HeaderSessionPetstoreMdias = "session-identifier-petstoreapi-mdias"
	HeaderSessionID            = "x-session-id"
	SessionCookieName          = "session_id"
)

const sessionIDKey contextKey = "session_id"

// SessionIDFromContext returns the correlation id set by SessionIdentifiers
func SessionIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(sessionIDKey).(string)
	return id
}

// SessionIdentifiers logs the session identifiers a request carries and
// echoes x-session-id, minting one when the client sent none.
func SessionIdentifiers(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mdias := r.Header.Get(HeaderSessionMdias)
		petstore := r.Header.Get(HeaderSessionPetstoreMdias)
		sessionID := r.Header.Get(HeaderSessionID)

		var cookieID string
		if c, err := r.Cookie(SessionCookieName); err == nil {
			cookieID = c.Value
		}
		if sessionID == "" {
			sessionID = cookieID
		}
		if sessionID == "" {
			sessionID = uuid.NewString()
		}
		if cookieID == "" {
			http.SetCookie(w, &http.Cookie{
				Name:     SessionCookieName,
				Value:    sessionID,
				Path:     "/",
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
			})
		}

		slog.Debug("session identifiers",
			"method", r.Method,
			"path", r.URL.Path,
			HeaderSessionMdias, mdias,
			HeaderSessionPetstoreMdias, petstore,
			HeaderSessionID, sessionID)

		w.Header().Set(HeaderSessionID, sessionID)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionIDKey, sessionID)))
	})
}
