package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	ct "github.com/dennislee928/carbontrade"
)

// RefreshThreshold is how long before expiry to proactively refresh
const RefreshThreshold = 5 * time.Minute

const (
	DefaultTokenEndpoint  = "/api/v1/auth/token"
	DefaultLogoutEndpoint = "/api/v1/auth/logout"
	cliClientID           = "cli"
)

// AuthClient is an HTTP client that attaches and refreshes a stored login
type AuthClient struct {
	mu             sync.Mutex
	serverURL      string
	store          CredentialStore
	httpClient     *http.Client
	baseTransport  http.RoundTripper
	tokenEndpoint  string
	logoutEndpoint string
}

type ClientOption func(*AuthClient)

func WithTokenEndpoint(path string) ClientOption {
	return func(c *AuthClient) {
		c.tokenEndpoint = path
	}
}

// WithHTTPClient copies timeout, redirect and jar settings from client and
// wraps its transport with auth handling.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *AuthClient) {
		if client == nil {
			return
		}
		if client.Transport != nil {
			c.baseTransport = client.Transport
		}
		c.httpClient.Timeout = client.Timeout
		c.httpClient.CheckRedirect = client.CheckRedirect
		c.httpClient.Jar = client.Jar
	}
}

func WithTransport(transport http.RoundTripper) ClientOption {
	return func(c *AuthClient) {
		c.baseTransport = transport
	}
}

// NormalizeServerURL reduces a URL to scheme://host, the credential key.
func NormalizeServerURL(serverURL string) string {
	u, err := url.Parse(serverURL)
	if err == nil && u.Scheme != "" && u.Host != "" {
		return fmt.Sprintf("%s://%s", u.Scheme, u.Host)
	}
	return serverURL
}

func NewAuthClient(serverURL string, store CredentialStore, opts ...ClientOption) *AuthClient {
	c := &AuthClient{
		serverURL:      NormalizeServerURL(serverURL),
		store:          store,
		httpClient:     &http.Client{Timeout: 30 * time.Second},
		baseTransport:  http.DefaultTransport,
		tokenEndpoint:  DefaultTokenEndpoint,
		logoutEndpoint: DefaultLogoutEndpoint,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.httpClient.Transport = &refreshTransport{client: c, base: c.baseTransport}
	return c
}

// HTTPClient returns a client that authenticates every request
func (c *AuthClient) HTTPClient() *http.Client {
	return c.httpClient
}

func (c *AuthClient) ServerURL() string {
	return c.serverURL
}

// GetToken returns the current access token, refreshing it when close to expiry
func (c *AuthClient) GetToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cred, err := c.store.GetCredential(c.serverURL)
	if err != nil {
		return "", err
	}
	if cred == nil {
		return "", nil
	}

	if cred.IsExpiringSoon(RefreshThreshold) && cred.HasRefreshToken() {
		if err := c.refreshTokenLocked(ctx, cred); err != nil {
			// still usable until it actually expires
			if !cred.IsExpired() {
				return cred.AccessToken, nil
			}
			return "", fmt.Errorf("token expired and refresh failed: %w", err)
		}
		cred, _ = c.store.GetCredential(c.serverURL)
	}

	if cred == nil || cred.IsExpired() {
		return "", nil
	}
	return cred.AccessToken, nil
}

func (c *AuthClient) GetCredential() (*ServerCredential, error) {
	return c.store.GetCredential(c.serverURL)
}

// Login runs the password grant and stores the resulting credential
func (c *AuthClient) Login(ctx context.Context, email, password, scope string) (*ServerCredential, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cred, err := c.requestToken(ctx, ct.TokenRequest{
		GrantType: "password",
		Username:  email,
		Password:  password,
		Scope:     scope,
		ClientID:  cliClientID,
	})
	if err != nil {
		return nil, err
	}
	cred.UserEmail = email

	if err := c.store.SetCredential(c.serverURL, cred); err != nil {
		return nil, fmt.Errorf("failed to store credential: %w", err)
	}
	if err := c.store.Save(); err != nil {
		return nil, fmt.Errorf("failed to save credentials: %w", err)
	}
	return cred, nil
}

// Logout revokes the refresh token on the server and forgets the credential.
// The local credential is removed even when the server can't be reached.
func (c *AuthClient) Logout(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var revokeErr error
	if cred, _ := c.store.GetCredential(c.serverURL); cred != nil && cred.HasRefreshToken() {
		revokeErr = c.revoke(ctx, cred.RefreshToken)
	}
	if err := c.store.RemoveCredential(c.serverURL); err != nil {
		return err
	}
	if err := c.store.Save(); err != nil {
		return err
	}
	return revokeErr
}

// IsLoggedIn reports whether a non-expired credential is stored
func (c *AuthClient) IsLoggedIn() bool {
	cred, err := c.store.GetCredential(c.serverURL)
	if err != nil || cred == nil {
		return false
	}
	return !cred.IsExpired()
}

// refreshTokenLocked runs the refresh grant. Caller must hold c.mu.
func (c *AuthClient) refreshTokenLocked(ctx context.Context, cred *ServerCredential) error {
	newCred, err := c.requestToken(ctx, ct.TokenRequest{
		GrantType:    "refresh_token",
		RefreshToken: cred.RefreshToken,
		ClientID:     cliClientID,
	})
	if err != nil {
		return err
	}

	newCred.UserID = cred.UserID
	newCred.UserEmail = cred.UserEmail
	if newCred.RefreshToken == "" {
		newCred.RefreshToken = cred.RefreshToken
	}

	if err := c.store.SetCredential(c.serverURL, newCred); err != nil {
		return fmt.Errorf("failed to store refreshed credential: %w", err)
	}
	return c.store.Save()
}

// base bypasses refreshTransport so token calls can't recurse
func (c *AuthClient) base() *http.Client {
	return &http.Client{Transport: c.baseTransport, Timeout: c.httpClient.Timeout}
}

func (c *AuthClient) requestToken(ctx context.Context, tr ct.TokenRequest) (*ServerCredential, error) {
	body, err := json.Marshal(tr)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serverURL+c.tokenEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.base().Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var te ct.TokenError
		_ = json.Unmarshal(data, &te)
		if te.ErrorDescription != "" {
			return nil, fmt.Errorf("authentication failed: %s", te.ErrorDescription)
		}
		if te.Error != "" {
			return nil, fmt.Errorf("authentication failed: %s", te.Error)
		}
		return nil, fmt.Errorf("authentication failed: HTTP %d", resp.StatusCode)
	}

	var pair ct.TokenPair
	if err := json.Unmarshal(data, &pair); err != nil {
		return nil, fmt.Errorf("invalid response from server: %w", err)
	}
	now := time.Now()
	return &ServerCredential{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    pair.TokenType,
		Scope:        pair.Scope,
		ExpiresAt:    now.Add(time.Duration(pair.ExpiresIn) * time.Second),
		CreatedAt:    now,
	}, nil
}

func (c *AuthClient) revoke(ctx context.Context, refreshToken string) error {
	body, _ := json.Marshal(map[string]string{"refresh_token": refreshToken})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serverURL+c.logoutEndpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.base().Do(req)
	if err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("failed to revoke session: HTTP %d", resp.StatusCode)
	}
	return nil
}

// refreshTransport adds the bearer token and retries once after a 401
type refreshTransport struct {
	client *AuthClient
	base   http.RoundTripper
}

func (t *refreshTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	token, err := t.client.GetToken(ctx)
	if err != nil {
		return nil, err
	}
	if token != "" {
		req = req.Clone(ctx)
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := t.base.RoundTrip(req)
	if err != nil || resp.StatusCode != http.StatusUnauthorized || token == "" {
		return resp, err
	}
	// Bodies can only be replayed when GetBody is available
	if req.Body != nil && req.GetBody == nil {
		return resp, nil
	}

	t.client.mu.Lock()
	cred, _ := t.client.store.GetCredential(t.client.serverURL)
	refreshed := cred != nil && cred.HasRefreshToken() && t.client.refreshTokenLocked(ctx, cred) == nil
	t.client.mu.Unlock()
	if !refreshed {
		return resp, nil
	}

	newToken, _ := t.client.GetToken(ctx)
	if newToken == "" {
		return resp, nil
	}
	resp.Body.Close()
	retry := req.Clone(ctx)
	if req.GetBody != nil {
		if retry.Body, err = req.GetBody(); err != nil {
			return nil, err
		}
	}
	retry.Header.Set("Authorization", "Bearer "+newToken)
	return t.base.RoundTrip(retry)
}
