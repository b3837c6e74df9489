// Package oauth2 implements the redirect and callback halves of the Google
// and GitHub authorization-code flows. A provider hands the exchanged token
// and the provider's user info to a HandleUserFunc, which is where accounts
// get created and API tokens issued.
package oauth2

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const (
	StateCookie       = "oauthstate"
	CallbackURLCookie = "oauthCallbackURL"
)

type HandleUserFunc func(authtype string, provider string, token *oauth2.Token, userInfo map[string]any, w http.ResponseWriter, r *http.Request)

// BaseOAuth2 is shared by every provider. Requests whose path ends in
// /callback complete the flow; anything else starts it.
type BaseOAuth2 struct {
	Provider     string
	ClientId     string
	ClientSecret string
	CallbackURL  string
	HandleUser   HandleUserFunc

	// UserInfoURL is queried with the exchanged access token.
	UserInfoURL string

	// FailureURL receives the browser when the exchange or user info lookup fails.
	FailureURL string

	oauthConfig oauth2.Config
	httpClient  *http.Client

	// enrich lets a provider add fields the user info endpoint leaves out
	enrich func(ctx context.Context, token *oauth2.Token, userInfo map[string]any) error
}

func newBaseOAuth2(provider, clientId, clientSecret, callbackUrl string, endpoint oauth2.Endpoint, scopes []string, handleUser HandleUserFunc) *BaseOAuth2 {
	return &BaseOAuth2{
		Provider:     provider,
		ClientId:     clientId,
		ClientSecret: clientSecret,
		CallbackURL:  callbackUrl,
		HandleUser:   handleUser,
		FailureURL:   "/login?error=oauth_failed",
		oauthConfig: oauth2.Config{
			ClientID:     clientId,
			ClientSecret: clientSecret,
			RedirectURL:  callbackUrl,
			Scopes:       scopes,
			Endpoint:     endpoint,
		},
	}
}

// Configured reports whether client credentials were supplied.
func (b *BaseOAuth2) Configured() bool {
	return b.ClientId != "" && b.ClientSecret != ""
}

// SetHTTPClient replaces the client used for the token exchange and user info calls.
func (b *BaseOAuth2) SetHTTPClient(c *http.Client) {
	b.httpClient = c
}

func (b *BaseOAuth2) SetOAuthEndpoint(endpoint oauth2.Endpoint) {
	b.oauthConfig.Endpoint = endpoint
}

func (b *BaseOAuth2) Config() oauth2.Config {
	return b.oauthConfig
}

func (b *BaseOAuth2) client() *http.Client {
	if b.httpClient != nil {
		return b.httpClient
	}
	return http.DefaultClient
}

func (b *BaseOAuth2) exchangeContext(ctx context.Context) context.Context {
	if b.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, b.httpClient)
}

func (b *BaseOAuth2) Handler() http.Handler {
	return b
}

func (b *BaseOAuth2) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if strings.HasSuffix(strings.TrimSuffix(r.URL.Path, "/"), "/callback") {
		b.handleCallback(w, r)
		return
	}
	OauthRedirector(&b.oauthConfig)(w, r)
}

func (b *BaseOAuth2) handleCallback(w http.ResponseWriter, r *http.Request) {
	oauthState, _ := r.Cookie(StateCookie)
	if oauthState == nil {
		slog.Info("oauth state cookie missing", "provider", b.Provider)
		http.Error(w, "OauthState is nil", http.StatusBadRequest)
		return
	}
	if r.FormValue("state") != oauthState.Value {
		http.SetCookie(w, &http.Cookie{Name: StateCookie, Path: "/", MaxAge: -1})
		http.Error(w, fmt.Sprintf("invalid oauth %s state: %s", b.Provider, r.FormValue("state")), http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	token, err := b.oauthConfig.Exchange(b.exchangeContext(ctx), r.FormValue("code"))
	if err != nil {
		slog.Info("code exchange failed", "provider", b.Provider, "err", err)
		http.Redirect(w, r, b.FailureURL, http.StatusTemporaryRedirect)
		return
	}
	userInfo, err := b.fetchUserInfo(ctx, token)
	if err == nil && b.enrich != nil {
		err = b.enrich(ctx, token, userInfo)
	}
	if err != nil {
		slog.Info("fetching user info failed", "provider", b.Provider, "err", err)
		http.Redirect(w, r, b.FailureURL, http.StatusTemporaryRedirect)
		return
	}
	b.HandleUser("oauth", b.Provider, token, userInfo, w, r)
}

func (b *BaseOAuth2) fetchUserInfo(ctx context.Context, token *oauth2.Token) (map[string]any, error) {
	var userInfo map[string]any
	if err := b.getJSON(ctx, b.UserInfoURL, token, &userInfo); err != nil {
		return nil, err
	}
	return userInfo, nil
}

func (b *BaseOAuth2) getJSON(ctx context.Context, url string, token *oauth2.Token, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := b.client().Do(req)
	if err != nil {
		return fmt.Errorf("failed getting user info from %s: %w", b.Provider, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s user info returned %d", b.Provider, resp.StatusCode)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse user info: %w", err)
	}
	return nil
}

func generateStateOauthCookie(w http.ResponseWriter) string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		slog.Error("generating oauth state", "err", err)
	}
	state := base64.URLEncoding.EncodeToString(b)
	http.SetCookie(w, &http.Cookie{
		Name:     StateCookie,
		Value:    state,
		Path:     "/",
		Expires:  time.Now().Add(10 * time.Minute),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return state
}

// OauthRedirector sends the browser to the provider's consent page. A
// callbackURL query parameter is remembered in a short lived cookie so the
// callback can return the user to where they started.
func OauthRedirector(oauthConfig *oauth2.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if callbackURL := r.URL.Query().Get("callbackURL"); callbackURL != "" {
			http.SetCookie(w, &http.Cookie{
				Name:    CallbackURLCookie,
				Value:   callbackURL,
				Path:    "/",
				Expires: time.Now().Add(24 * time.Hour),
				MaxAge:  120,
			})
		}
		state := generateStateOauthCookie(w)
		http.Redirect(w, r, oauthConfig.AuthCodeURL(state), http.StatusFound)
	}
}
