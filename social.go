package carbontrade

import (
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/alexedwards/scs/v2"
	"golang.org/x/oauth2"
)

// Session keys used by the social login flow
const (
	sessionKeyUserID       = "loggedInUserId"
	sessionKeyAccessToken  = "accessToken"
	sessionKeyRefreshToken = "refreshToken"
	sessionKeyExpiresIn    = "expiresIn"
	sessionKeyLinkingUser  = "linkingUserID"
)

// SocialAuth runs browser-based social logins. Provider handlers (see the
// oauth2 package) redirect to the provider and call SaveUserAndRedirect from
// their callback; the SPA then collects its tokens from HandleSessionTokens.
type SocialAuth struct {
	Session    *scs.SessionManager
	Auth       *APIAuth
	EnsureUser EnsureSocialUserFunc

	Users    UserStore
	Channels ChannelStore

	// Providers maps a provider name to its redirecting handler
	Providers map[string]http.Handler

	// AuthorizeURL handles providers not in Providers, e.g. through Supabase
	AuthorizeURL func(provider, redirectTo string) (string, error)

	// Where to land after login when no callback URL was requested
	FrontendURL string
}

// HandleSocialLogin starts a login with provider. GET redirects the browser;
// POST answers with the URL to navigate to.
func (s *SocialAuth) HandleSocialLogin(w http.ResponseWriter, r *http.Request, provider string) {
	provider = strings.ToLower(provider)
	if h, ok := s.Providers[provider]; ok && r.Method == http.MethodGet {
		h.ServeHTTP(w, r)
		return
	}

	var loginURL string
	switch {
	case s.Providers[provider] != nil:
		loginURL = r.URL.Path
		if r.URL.RawQuery != "" {
			loginURL += "?" + r.URL.RawQuery
		}
	case s.AuthorizeURL != nil:
		u, err := s.AuthorizeURL(provider, r.URL.Query().Get("callbackURL"))
		if err != nil {
			slog.Error("failed to build authorize url", "provider", provider, "error", err)
			WriteError(w, http.StatusBadGateway, "Failed to start social login")
			return
		}
		loginURL = u
	default:
		WriteError(w, http.StatusBadRequest, fmt.Sprintf("Unsupported provider: %s", provider))
		return
	}

	if r.Method == http.MethodGet {
		http.Redirect(w, r, loginURL, http.StatusFound)
		return
	}
	WriteData(w, http.StatusOK, map[string]string{"provider": provider, "url": loginURL}, "")
}

// ProfileFromUserInfo normalizes provider user info (Google, GitHub, Supabase)
func ProfileFromUserInfo(userInfo map[string]any) SocialProfile {
	str := func(keys ...string) string {
		for _, k := range keys {
			switch v := userInfo[k].(type) {
			case string:
				if v != "" {
					return v
				}
			case float64:
				return fmt.Sprintf("%.0f", v)
			}
		}
		return ""
	}
	return SocialProfile{
		Subject: str("sub", "id"),
		Email:   str("email"),
		Name:    str("name", "full_name", "login"),
		Picture: str("picture", "avatar_url"),
		Raw:     userInfo,
	}
}

// SaveUserAndRedirect is called by provider callbacks after a successful
// exchange. It links or logs in the user, parks the issued tokens in the
// session and redirects back to the app.
func (s *SocialAuth) SaveUserAndRedirect(authtype, provider string, token *oauth2.Token, userInfo map[string]any, w http.ResponseWriter, r *http.Request) {
	profile := ProfileFromUserInfo(userInfo)

	if linkingUserID := s.Session.PopString(r.Context(), sessionKeyLinkingUser); linkingUserID != "" {
		if err := s.linkProvider(linkingUserID, provider, profile); err != nil {
			log.Printf("Link %s for %s rejected: %v", provider, linkingUserID, err)
			WriteError(w, http.StatusForbidden, err.Error())
			return
		}
		s.redirectBack(w, r)
		return
	}

	user, err := s.EnsureUser(provider, profile)
	if err != nil {
		WriteError(w, http.StatusUnauthorized, err.Error())
		return
	}
	if user.Status == StatusSuspended {
		WriteError(w, http.StatusForbidden, "Account suspended")
		return
	}

	pair, err := s.Auth.IssueTokens(user, provider, nil, r)
	if err != nil {
		slog.Error("failed to issue tokens", "user_id", user.ID, "error", err)
		WriteError(w, http.StatusInternalServerError, "Failed to create session")
		return
	}
	now := time.Now()
	user.LastLogin = &now
	if err := s.Users.SaveUser(user); err != nil {
		slog.Warn("failed to record last login", "user_id", user.ID, "error", err)
	}

	if err := s.Session.RenewToken(r.Context()); err != nil {
		slog.Warn("failed to renew session token", "error", err)
	}
	s.Session.Put(r.Context(), sessionKeyUserID, user.ID)
	s.Session.Put(r.Context(), sessionKeyAccessToken, pair.AccessToken)
	s.Session.Put(r.Context(), sessionKeyRefreshToken, pair.RefreshToken)
	s.Session.Put(r.Context(), sessionKeyExpiresIn, pair.ExpiresIn)

	slog.Info("social login", "provider", provider, "authtype", authtype, "user_id", user.ID)
	s.redirectBack(w, r)
}

func (s *SocialAuth) redirectBack(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{Name: "oauthstate", Value: "", Path: "/", MaxAge: -1, Expires: time.Now()})

	callbackURL := ""
	if c, _ := r.Cookie("oauthCallbackURL"); c != nil {
		callbackURL = c.Value
	}
	if callbackURL == "" {
		callbackURL = "/"
	}
	if u, err := url.Parse(callbackURL); err == nil && u.Scheme == "" {
		callbackURL = strings.TrimSuffix(s.FrontendURL, "/") + callbackURL
	}
	http.SetCookie(w, &http.Cookie{Name: "oauthCallbackURL", Value: "", Path: "/", MaxAge: -1, Expires: time.Now()})
	http.Redirect(w, r, callbackURL, http.StatusFound)
}

// HandleSessionTokens hands the tokens from a completed social login to the
// SPA exactly once.
func (s *SocialAuth) HandleSessionTokens(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accessToken := s.Session.PopString(ctx, sessionKeyAccessToken)
	if accessToken == "" {
		WriteError(w, http.StatusUnauthorized, "No pending login")
		return
	}
	refreshToken := s.Session.PopString(ctx, sessionKeyRefreshToken)
	expiresIn := s.Session.GetInt64(ctx, sessionKeyExpiresIn)
	s.Session.Remove(ctx, sessionKeyExpiresIn)

	user, err := s.Users.GetUserByID(s.Session.GetString(ctx, sessionKeyUserID))
	if err != nil {
		WriteError(w, http.StatusUnauthorized, "No pending login")
		return
	}
	WriteJSON(w, http.StatusOK, LoginResponse{
		Status:       "success",
		Token:        accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    expiresIn,
		User:         user,
	})
}

// HandleStartLink marks the session so the next social callback links the
// provider to the authenticated user instead of logging in.
func (s *SocialAuth) HandleStartLink(w http.ResponseWriter, r *http.Request, provider string) {
	userID := GetUserIDFromContext(r.Context())
	if userID == "" {
		WriteError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	if _, ok := s.Providers[strings.ToLower(provider)]; !ok {
		WriteError(w, http.StatusBadRequest, fmt.Sprintf("Unsupported provider: %s", provider))
		return
	}
	s.Session.Put(r.Context(), sessionKeyLinkingUser, userID)
	WriteData(w, http.StatusOK, map[string]string{"provider": provider}, "Continue with the provider login to link it")
}

// linkProvider binds a provider channel to an existing user. The provider's
// email must match the account email.
func (s *SocialAuth) linkProvider(userID, provider string, profile SocialProfile) error {
	if profile.Email == "" {
		return fmt.Errorf("%s did not return an email address", provider)
	}
	user, err := s.Users.GetUserByID(userID)
	if err != nil {
		return err
	}
	if !strings.EqualFold(user.Email, profile.Email) {
		return fmt.Errorf("%s email does not match your account email", provider)
	}

	channel := &Channel{
		Provider:    provider,
		IdentityKey: IdentityKey("email", user.Email),
		Credentials: map[string]any{"subject": profile.Subject},
		Profile:     profile.Raw,
	}
	if err := s.Channels.SaveChannel(channel); err != nil {
		return fmt.Errorf("failed to link account: %w", err)
	}

	changed := false
	if user.Name == "" && profile.Name != "" {
		user.Name, changed = profile.Name, true
	}
	if user.PictureURL == "" && profile.Picture != "" {
		user.PictureURL, changed = profile.Picture, true
	}
	if provider == "google" && user.GoogleID == "" && profile.Subject != "" {
		user.GoogleID, changed = profile.Subject, true
	}
	if changed {
		user.UpdatedAt = time.Now()
		if err := s.Users.SaveUser(user); err != nil {
			log.Printf("Warning: failed to update user profile: %v", err)
		}
	}
	log.Printf("Linked %s account to user %s", provider, userID)
	return nil
}
