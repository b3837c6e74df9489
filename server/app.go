// Package server assembles the HTTP API: authentication, accounts, the
// market, back office endpoints and emission estimates.
package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	ct "github.com/dennislee928/carbontrade"
	"github.com/dennislee928/carbontrade/climatiq"
	"github.com/dennislee928/carbontrade/storage"
)

const APIPrefix = "/api/v1"

// ProfileSource lists the public profiles table (Supabase in production)
type ProfileSource interface {
	ListProfiles(ctx context.Context) (json.RawMessage, error)
}

type App struct {
	router  *mux.Router
	Session *scs.SessionManager

	Users         ct.UserStore
	Identities    ct.IdentityStore
	Balances      ct.BalanceStore
	ErrorLogs     ct.ErrorLogStore
	Market        ct.MarketStore
	Notifications ct.NotificationStore
	Stats         ct.StatsStore

	Local      *ct.LocalAuth
	API        *ct.APIAuth
	Social     *ct.SocialAuth
	Middleware *ct.APIMiddleware

	// OAuthCallbacks maps provider name to the handler finishing its login
	OAuthCallbacks map[string]http.Handler

	Blobs storage.Store
	// UploadDir is served under /uploads/ when blobs live on local disk
	UploadDir string

	Profiles  ProfileSource
	Estimator *climatiq.Estimator

	AllowedOrigins []string
	ServiceName    string

	// Name of the cookie carrying the web session used by social logins
	SessionCookieName string
	SessionLifetime   time.Duration
}

func (a *App) EnsureDefaults() *App {
	if a.Session == nil {
		a.Session = scs.New()
	}
	if a.SessionCookieName == "" {
		a.SessionCookieName = "carbontrade_session"
	}
	if a.SessionLifetime <= 0 {
		a.SessionLifetime = 24 * time.Hour
	}
	a.Session.Cookie.Name = a.SessionCookieName
	a.Session.Cookie.HttpOnly = true
	a.Session.Cookie.SameSite = http.SameSiteLaxMode
	a.Session.Lifetime = a.SessionLifetime
	if len(a.AllowedOrigins) == 0 {
		a.AllowedOrigins = []string{"*"}
	}
	if a.ServiceName == "" {
		a.ServiceName = "carbontrade-api"
	}
	if a.Estimator == nil {
		a.Estimator = climatiq.NewEstimator(nil, nil)
	}
	if a.Social != nil && a.Social.Session == nil {
		a.Social.Session = a.Session
	}
	return a
}

// Handler returns the routed API wrapped in the request middleware chain
func (a *App) Handler() http.Handler {
	a.EnsureDefaults()
	a.setupRoutes()

	var h http.Handler = a.router
	h = a.Session.LoadAndSave(h)
	h = a.recordErrors(h)
	h = ct.SessionIdentifiers(h)
	h = handlers.CustomLoggingHandler(io.Discard, h, logRequest)
	h = handlers.CORS(
		handlers.AllowedOrigins(a.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{
			"Origin", "Content-Type", "Authorization",
			ct.HeaderSessionID, ct.HeaderSessionMdias, ct.HeaderSessionPetstoreMdias,
		}),
		handlers.ExposedHeaders([]string{ct.HeaderSessionID, headerRequestID}),
	)(h)
	return otelhttp.NewHandler(h, a.ServiceName)
}

func logRequest(_ io.Writer, p handlers.LogFormatterParams) {
	level := slog.LevelInfo
	if p.StatusCode >= 500 {
		level = slog.LevelError
	}
	slog.Log(p.Request.Context(), level, "http request",
		"method", p.Request.Method,
		"path", p.URL.Path,
		"status", p.StatusCode,
		"size", p.Size,
		"duration", time.Since(p.TimeStamp))
}

func (a *App) setupRoutes() {
	if a.router != nil {
		return
	}
	r := mux.NewRouter()
	a.router = r

	r.HandleFunc("/health", handleHealth).Methods(http.MethodGet)
	if a.UploadDir != "" {
		r.PathPrefix("/uploads/").Handler(http.StripPrefix("/uploads/", http.FileServer(http.Dir(a.UploadDir)))).Methods(http.MethodGet)
	}

	api := r.PathPrefix(APIPrefix).Subrouter()
	api.HandleFunc("/health", handleHealth).Methods(http.MethodGet)
	api.HandleFunc("/profiles", a.handleProfiles).Methods(http.MethodGet)

	a.authRoutes(api.PathPrefix("/auth").Subrouter())
	a.userRoutes(api)
	a.marketRoutes(api)
	a.adminRoutes(api)
	a.emissionRoutes(api.PathPrefix("/emissions").Subrouter())

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ct.WriteError(w, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ct.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})
}

// authed requires a valid bearer token or API key
func (a *App) authed(h http.HandlerFunc) http.Handler {
	return a.Middleware.ValidateToken(h)
}

func (a *App) authRoutes(auth *mux.Router) {
	post := func(path string, h http.HandlerFunc) { auth.HandleFunc(path, h).Methods(http.MethodPost) }

	post("/register", a.Local.HandleRegister)
	post("/verify-otp", a.Local.HandleSendOTP)
	post("/verify-otp-code", a.Local.HandleVerifyOTPCode)
	post("/login", a.API.HandleLogin)
	auth.Handle("/token", a.API).Methods(http.MethodPost)
	post("/logout", a.API.HandleLogout)
	post("/forgot-password", a.Local.HandleForgotPassword)
	post("/reset-password", a.Local.HandleResetPassword)
	auth.HandleFunc("/verify-email", a.Local.HandleVerifyEmail).Methods(http.MethodGet)

	auth.Handle("/logout-all", a.authed(a.API.HandleLogoutAll)).Methods(http.MethodPost)
	auth.Handle("/sessions", a.authed(a.API.HandleListSessions)).Methods(http.MethodGet)
	auth.Handle("/change-password", a.authed(a.Local.HandleChangePassword)).Methods(http.MethodPost)
	auth.Handle("/keys", a.authed(a.API.HandleAPIKeys)).Methods(http.MethodGet, http.MethodPost)
	auth.Handle("/keys/{id}", a.authed(a.API.HandleRevokeAPIKey)).Methods(http.MethodDelete)

	if a.Social == nil {
		return
	}
	auth.HandleFunc("/social-login/{provider}", func(w http.ResponseWriter, r *http.Request) {
		a.Social.HandleSocialLogin(w, r, mux.Vars(r)["provider"])
	}).Methods(http.MethodGet, http.MethodPost)
	auth.HandleFunc("/oauth/{provider}/callback", a.handleOAuthCallback).Methods(http.MethodGet)
	auth.HandleFunc("/session-tokens", a.Social.HandleSessionTokens).Methods(http.MethodGet)
	auth.Handle("/link/{provider}", a.authed(func(w http.ResponseWriter, r *http.Request) {
		a.Social.HandleStartLink(w, r, mux.Vars(r)["provider"])
	})).Methods(http.MethodPost)
}

func (a *App) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	h, ok := a.OAuthCallbacks[mux.Vars(r)["provider"]]
	if !ok {
		ct.WriteError(w, http.StatusNotFound, "Unknown provider")
		return
	}
	h.ServeHTTP(w, r)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	ct.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleProfiles passes the profiles table through unchanged
func (a *App) handleProfiles(w http.ResponseWriter, r *http.Request) {
	if a.Profiles == nil {
		ct.WriteError(w, http.StatusServiceUnavailable, "Profiles are not configured")
		return
	}
	data, err := a.Profiles.ListProfiles(r.Context())
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to fetch profiles", "error", err)
		ct.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
