package carbontrade_test

import (
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/alexedwards/scs/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	ct "github.com/dennislee928/carbontrade"
)

// socialHarness runs SocialAuth behind scs with a fake provider callback
type socialHarness struct {
	env      *testEnv
	social   *ct.SocialAuth
	server   *httptest.Server
	client   *http.Client
	userInfo map[string]any
}

func newSocialHarness(t *testing.T) *socialHarness {
	t.Helper()
	env := newTestEnv(t)
	h := &socialHarness{env: env}

	session := scs.New()
	h.social = &ct.SocialAuth{
		Session:    session,
		Auth:       env.API,
		EnsureUser: ct.NewEnsureSocialUserFunc(env.Users, env.Identities, env.Channels),
		Users:      env.Users,
		Channels:   env.Channels,
		Providers: map[string]http.Handler{
			"google": http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Redirect(w, r, "https://accounts.example/authorize", http.StatusFound)
			}),
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/auth/google/callback", func(w http.ResponseWriter, r *http.Request) {
		h.social.SaveUserAndRedirect("oauth", "google", &oauth2.Token{AccessToken: "provider-token"}, h.userInfo, w, r)
	})
	mux.HandleFunc("/auth/session-tokens", h.social.HandleSessionTokens)
	mux.Handle("/auth/link/google", env.Middleware.ValidateToken(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.social.HandleStartLink(w, r, "google")
	})))
	mux.HandleFunc("/auth/social-login/", func(w http.ResponseWriter, r *http.Request) {
		h.social.HandleSocialLogin(w, r, r.URL.Path[len("/auth/social-login/"):])
	})
	h.server = httptest.NewServer(session.LoadAndSave(mux))
	t.Cleanup(h.server.Close)
	h.social.FrontendURL = h.server.URL

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	h.client = &http.Client{
		Jar: jar,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return h
}

func (h *socialHarness) do(t *testing.T, method, path, bearer string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, h.server.URL+path, nil)
	require.NoError(t, err)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := h.client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

// callback simulates the provider redirecting back with userInfo
func (h *socialHarness) callback(t *testing.T, userInfo map[string]any) *http.Response {
	h.userInfo = userInfo
	return h.do(t, http.MethodGet, "/auth/google/callback", "")
}

func (h *socialHarness) sessionTokens(t *testing.T) (int, ct.LoginResponse) {
	resp := h.do(t, http.MethodGet, "/auth/session-tokens", "")
	var login ct.LoginResponse
	if resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&login))
	}
	return resp.StatusCode, login
}

func TestSocialLoginCreatesActiveUser(t *testing.T) {
	h := newSocialHarness(t)

	resp := h.callback(t, map[string]any{
		"sub": "g-123", "email": "Social@Example.com", "name": "Social User", "picture": "https://img.example/p.png",
	})
	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, h.server.URL+"/", resp.Header.Get("Location"))

	status, login := h.sessionTokens(t)
	require.Equal(t, http.StatusOK, status)
	assert.NotEmpty(t, login.Token)
	assert.NotEmpty(t, login.RefreshToken)
	assert.Equal(t, int64(24*60*60), login.ExpiresIn)
	require.NotNil(t, login.User)
	assert.Equal(t, "social@example.com", login.User.Email)
	assert.Equal(t, ct.StatusActive, login.User.Status)
	assert.Equal(t, "g-123", login.User.GoogleID)
	assert.Equal(t, "https://img.example/p.png", login.User.PictureURL)

	// Tokens are handed out once
	status, _ = h.sessionTokens(t)
	assert.Equal(t, http.StatusUnauthorized, status)

	identity, err := h.env.Identities.GetIdentity("email", "social@example.com")
	require.NoError(t, err)
	assert.True(t, identity.Verified)

	channel, err := h.env.Channels.GetChannel("google", ct.IdentityKey("email", "social@example.com"))
	require.NoError(t, err)
	assert.Equal(t, "g-123", channel.Credentials["subject"])
}

func TestSocialLoginJoinsExistingLocalAccount(t *testing.T) {
	h := newSocialHarness(t)

	// Registered but never confirmed
	rec := postJSON(t, h.env.Local.HandleRegister, "/api/v1/auth/register", map[string]string{
		"email": "both@example.com", "password": testPassword,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	local, err := h.env.Users.GetUserByEmail("both@example.com")
	require.NoError(t, err)
	assert.Equal(t, ct.StatusPending, local.Status)

	resp := h.callback(t, map[string]any{"sub": "g-9", "email": "both@example.com", "name": "Both"})
	require.Equal(t, http.StatusFound, resp.StatusCode)

	status, login := h.sessionTokens(t)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, local.ID, login.User.ID)
	assert.Equal(t, ct.StatusActive, login.User.Status)

	// The password still works alongside the provider
	session := h.env.login(t, "both@example.com")
	assert.Equal(t, local.ID, session.User.ID)
}

func TestSocialLoginWithoutEmailFails(t *testing.T) {
	h := newSocialHarness(t)
	resp := h.callback(t, map[string]any{"sub": "g-1"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSocialLoginRedirectsToCallbackCookie(t *testing.T) {
	h := newSocialHarness(t)
	u, err := url.Parse(h.server.URL)
	require.NoError(t, err)
	h.client.Jar.SetCookies(u, []*http.Cookie{{Name: "oauthCallbackURL", Value: "/dashboard", Path: "/"}})

	resp := h.callback(t, map[string]any{"sub": "g-5", "email": "cb@example.com"})
	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, h.server.URL+"/dashboard", resp.Header.Get("Location"))
}

func TestLinkProviderRequiresMatchingEmail(t *testing.T) {
	h := newSocialHarness(t)
	user := h.env.registerVerified(t, "linker@example.com")
	session := h.env.login(t, "linker@example.com")

	resp := h.do(t, http.MethodPost, "/auth/link/google", session.Token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = h.callback(t, map[string]any{"sub": "g-x", "email": "someone-else@example.com"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	_, err := h.env.Channels.GetChannel("google", ct.IdentityKey("email", "linker@example.com"))
	assert.Error(t, err)

	resp = h.do(t, http.MethodPost, "/auth/link/google", session.Token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = h.callback(t, map[string]any{"sub": "g-linked", "email": "LINKER@example.com", "name": "Linked"})
	require.Equal(t, http.StatusFound, resp.StatusCode)

	_, err = h.env.Channels.GetChannel("google", ct.IdentityKey("email", "linker@example.com"))
	require.NoError(t, err)
	reloaded, err := h.env.Users.GetUserByID(user.ID)
	require.NoError(t, err)
	assert.Equal(t, "g-linked", reloaded.GoogleID)

	// Linking doesn't log anyone in
	status, _ := h.sessionTokens(t)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestHandleSocialLogin(t *testing.T) {
	h := newSocialHarness(t)
	h.social.AuthorizeURL = func(provider, redirectTo string) (string, error) {
		return "https://project.supabase.co/auth/v1/authorize?provider=" + provider, nil
	}

	resp := h.do(t, http.MethodGet, "/auth/social-login/google", "")
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "https://accounts.example/authorize", resp.Header.Get("Location"))

	resp = h.do(t, http.MethodPost, "/auth/social-login/github", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		Data struct {
			Provider string `json:"provider"`
			URL      string `json:"url"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "github", body.Data.Provider)
	assert.Contains(t, body.Data.URL, "provider=github")

	h.social.AuthorizeURL = nil
	resp = h.do(t, http.MethodPost, "/auth/social-login/myspace", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestProfileFromUserInfo(t *testing.T) {
	github := ct.ProfileFromUserInfo(map[string]any{
		"id": float64(583231), "login": "octocat", "email": "octo@example.com", "avatar_url": "https://a.example/o.png",
	})
	assert.Equal(t, "583231", github.Subject)
	assert.Equal(t, "octocat", github.Name)
	assert.Equal(t, "https://a.example/o.png", github.Picture)

	google := ct.ProfileFromUserInfo(map[string]any{"sub": "abc", "name": "", "full_name": "Full Name"})
	assert.Equal(t, "abc", google.Subject)
	assert.Equal(t, "Full Name", google.Name)
}
