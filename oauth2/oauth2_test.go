package oauth2_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	oauth2lib "golang.org/x/oauth2"

	"github.com/dennislee928/carbontrade/oauth2"
)

// mockProvider stands in for the token, user info and email endpoints
type mockProvider struct {
	server        *httptest.Server
	userInfo      map[string]any
	emails        []map[string]any
	tokenError    bool
	userInfoError bool
}

func newMockProvider(t *testing.T) *mockProvider {
	m := &mockProvider{
		userInfo: map[string]any{"id": "12345", "email": "testuser@example.com", "name": "Test User"},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if m.tokenError {
			http.Error(w, "token exchange failed", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "mock_access_token", "token_type": "Bearer", "expires_in": 3600,
		})
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if m.userInfoError || r.Header.Get("Authorization") != "Bearer mock_access_token" {
			http.Error(w, "user info failed", http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(m.userInfo)
	})
	mux.HandleFunc("/emails", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(m.emails)
	})
	m.server = httptest.NewServer(mux)
	t.Cleanup(m.server.Close)
	return m
}

func (m *mockProvider) point(b *oauth2.BaseOAuth2) {
	b.UserInfoURL = m.server.URL + "/userinfo"
	b.SetHTTPClient(m.server.Client())
	b.SetOAuthEndpoint(oauth2lib.Endpoint{AuthURL: m.server.URL + "/auth", TokenURL: m.server.URL + "/token"})
}

func findCookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

type handled struct {
	called   bool
	provider string
	userInfo map[string]any
}

func (h *handled) fn() oauth2.HandleUserFunc {
	return func(authtype, provider string, token *oauth2lib.Token, userInfo map[string]any, w http.ResponseWriter, r *http.Request) {
		h.called = true
		h.provider = provider
		h.userInfo = userInfo
		w.WriteHeader(http.StatusOK)
	}
}

func TestOauthRedirector(t *testing.T) {
	config := &oauth2lib.Config{
		ClientID:    "test-client-id",
		RedirectURL: "http://localhost:8080/callback",
		Scopes:      []string{"email", "profile"},
		Endpoint:    oauth2lib.Endpoint{AuthURL: "https://provider.example.com/auth", TokenURL: "https://provider.example.com/token"},
	}
	redirector := oauth2.OauthRedirector(config)

	rec := httptest.NewRecorder()
	redirector(rec, httptest.NewRequest(http.MethodGet, "/?callbackURL=/dashboard", nil))
	require.Equal(t, http.StatusFound, rec.Code)

	location, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "provider.example.com", location.Host)
	q := location.Query()
	assert.Equal(t, "test-client-id", q.Get("client_id"))
	assert.Equal(t, "http://localhost:8080/callback", q.Get("redirect_uri"))
	assert.Equal(t, "code", q.Get("response_type"))

	state := findCookie(rec, oauth2.StateCookie)
	require.NotNil(t, state)
	assert.NotEmpty(t, state.Value)
	assert.Equal(t, state.Value, q.Get("state"))

	callback := findCookie(rec, oauth2.CallbackURLCookie)
	require.NotNil(t, callback)
	assert.Equal(t, "/dashboard", callback.Value)

	rec = httptest.NewRecorder()
	redirector(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Nil(t, findCookie(rec, oauth2.CallbackURLCookie))
}

func TestGoogleCallback(t *testing.T) {
	mock := newMockProvider(t)
	var h handled
	google := oauth2.NewGoogleOAuth2("id", "secret", "http://localhost:8080/auth/google/callback", h.fn())
	mock.point(google.BaseOAuth2)
	assert.True(t, google.Configured())

	callback := func(state, cookie string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/google/callback?code=abc&state="+state, nil)
		if cookie != "" {
			req.AddCookie(&http.Cookie{Name: oauth2.StateCookie, Value: cookie})
		}
		rec := httptest.NewRecorder()
		google.Handler().ServeHTTP(rec, req)
		return rec
	}

	t.Run("missing state cookie", func(t *testing.T) {
		h = handled{}
		assert.Equal(t, http.StatusBadRequest, callback("s", "").Code)
		assert.False(t, h.called)
	})

	t.Run("mismatched state", func(t *testing.T) {
		h = handled{}
		rec := callback("wrong", "right")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "invalid oauth google state")
		assert.False(t, h.called)
	})

	t.Run("success", func(t *testing.T) {
		h = handled{}
		rec := callback("good", "good")
		assert.Equal(t, http.StatusOK, rec.Code)
		require.True(t, h.called)
		assert.Equal(t, "google", h.provider)
		assert.Equal(t, "testuser@example.com", h.userInfo["email"])
	})

	t.Run("token exchange failure redirects", func(t *testing.T) {
		h = handled{}
		mock.tokenError = true
		defer func() { mock.tokenError = false }()
		rec := callback("good", "good")
		assert.Equal(t, http.StatusTemporaryRedirect, rec.Code)
		assert.Equal(t, google.FailureURL, rec.Header().Get("Location"))
		assert.False(t, h.called)
	})

	t.Run("user info failure redirects", func(t *testing.T) {
		h = handled{}
		mock.userInfoError = true
		defer func() { mock.userInfoError = false }()
		rec := callback("good", "good")
		assert.Equal(t, http.StatusTemporaryRedirect, rec.Code)
		assert.False(t, h.called)
	})
}

func TestGoogleHandlerStartsFlow(t *testing.T) {
	google := oauth2.NewGoogleOAuth2("id", "secret", "http://localhost/cb", nil)
	rec := httptest.NewRecorder()
	google.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/auth/social-login/google", nil))
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Contains(t, rec.Header().Get("Location"), "accounts.google.com")
	assert.NotNil(t, findCookie(rec, oauth2.StateCookie))
}

func TestGithubFillsPrivateEmail(t *testing.T) {
	mock := newMockProvider(t)
	mock.userInfo = map[string]any{"id": float64(583231), "login": "octocat", "email": nil}
	mock.emails = []map[string]any{
		{"email": "old@example.com", "primary": false, "verified": true},
		{"email": "octo@example.com", "primary": true, "verified": true},
	}

	var h handled
	gh := oauth2.NewGithubOAuth2("id", "secret", "http://localhost/cb", h.fn())
	mock.point(gh.BaseOAuth2)
	gh.EmailsURL = mock.server.URL + "/emails"

	req := httptest.NewRequest(http.MethodGet, "/auth/github/callback/?code=abc&state=s", nil)
	req.AddCookie(&http.Cookie{Name: oauth2.StateCookie, Value: "s"})
	rec := httptest.NewRecorder()
	gh.Handler().ServeHTTP(rec, req)

	require.True(t, h.called)
	assert.Equal(t, "github", h.provider)
	assert.Equal(t, "octo@example.com", h.userInfo["email"])
}

func TestUnconfiguredProvider(t *testing.T) {
	assert.False(t, oauth2.NewGithubOAuth2("", "", "", nil).Configured())
}
