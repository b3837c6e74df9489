package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	ct "github.com/dennislee928/carbontrade"
)

const DefaultCarbonURL = "https://apiv1-carbontrading.dennisleehappy.org"

var ErrBadLoginResponse = errors.New("login response format is not recognized")

// HealthStatus is never an error; an unreachable server reports status "error"
type HealthStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type LoginResult struct {
	Status string `json:"status"`
	Token  string `json:"token"`
}

// CarbonClient covers the storefront endpoints under /api/v1
type CarbonClient struct {
	baseURL string
	token   *StaticToken
	api     requester
}

type CarbonOption func(*CarbonClient)

// WithCarbonHTTPClient replaces the client; its transport gets the bearer token added.
func WithCarbonHTTPClient(c *http.Client) CarbonOption {
	return func(cc *CarbonClient) {
		wrapped := *c
		wrapped.Transport = &AuthTransport{Base: c.Transport, Source: cc.token}
		cc.api.http = &wrapped
	}
}

func NewCarbonClient(baseURL string, opts ...CarbonOption) *CarbonClient {
	if baseURL == "" {
		baseURL = DefaultCarbonURL
	}
	c := &CarbonClient{baseURL: trimBase(baseURL), token: &StaticToken{}}
	c.api = requester{
		baseURL:  c.baseURL + "/api/v1",
		http:     &http.Client{Timeout: 30 * time.Second, Transport: &AuthTransport{Source: c.token}},
		describe: c.describe,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *CarbonClient) SetToken(token string) { c.token.Set(token) }
func (c *CarbonClient) Token() string         { return c.token.Token() }

func (c *CarbonClient) describe(status int, target, msg string) string {
	switch status {
	case http.StatusNotFound:
		return fmt.Sprintf("endpoint not found (404): %s", target)
	case http.StatusUnauthorized:
		// a rejected token is useless from here on
		c.token.Set("")
		return "authentication failed (401): please log in again"
	case http.StatusForbidden:
		return "forbidden (403): check your account permissions"
	case http.StatusInternalServerError:
		return "server error (500): please try again later"
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	return fmt.Sprintf("API error (%d): %s", status, msg)
}

// Health checks the root /health endpoint
func (c *CarbonClient) Health(ctx context.Context) HealthStatus {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return HealthStatus{Status: "error", Message: err.Error()}
	}
	resp, err := c.api.http.Do(req)
	if err != nil {
		return HealthStatus{Status: "error", Message: "cannot reach the API"}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return HealthStatus{Status: "error", Message: "API health check failed"}
	}
	var body struct {
		Status string `json:"status"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&body)
	msg := body.Status
	if msg == "" {
		msg = "API is healthy"
	}
	return HealthStatus{Status: "ok", Message: msg}
}

// Login stores and returns the access token on success
func (c *CarbonClient) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	body, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.api.baseURL+"/auth/login", strings.NewReader(string(body)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.api.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request error: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var eb errorBody
		_ = json.Unmarshal(data, &eb)
		msg := eb.Error
		if msg == "" {
			msg = eb.Message
		}
		target := c.api.baseURL + "/auth/login"
		return nil, &APIError{StatusCode: resp.StatusCode, URL: target, Message: msg, text: c.describe(resp.StatusCode, target, msg)}
	}

	result, err := parseLoginBody(data)
	if err != nil {
		return nil, err
	}
	c.token.Set(result.Token)
	return result, nil
}

// parseLoginBody finds the token at the top level, under data, or inside a
// JSON document that was itself sent as a string.
func parseLoginBody(data []byte) (*LoginResult, error) {
	var encoded string
	if json.Unmarshal(data, &encoded) == nil {
		if !strings.Contains(encoded, "token") {
			return nil, ErrBadLoginResponse
		}
		data = []byte(encoded)
	}

	var body struct {
		Status string `json:"status"`
		Token  string `json:"token"`
		Data   *struct {
			Token string `json:"token"`
		} `json:"data"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, ErrBadLoginResponse
	}
	token := body.Token
	if token == "" && body.Data != nil {
		token = body.Data.Token
	}
	if token == "" {
		return nil, fmt.Errorf("login failed: no token received: %w", ErrBadLoginResponse)
	}
	status := body.Status
	if status == "" {
		status = "success"
	}
	return &LoginResult{Status: status, Token: token}, nil
}

// Logout forgets the token locally
func (c *CarbonClient) Logout() { c.token.Set("") }

func (c *CarbonClient) Register(ctx context.Context, email, password string) (*ct.RegisterResponse, error) {
	var out ct.RegisterResponse
	err := c.api.do(ctx, http.MethodPost, "/auth/register", nil, map[string]string{"email": email, "password": password}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *CarbonClient) CurrentUser(ctx context.Context) (*ct.User, error) {
	var out ct.User
	if err := c.api.do(ctx, http.MethodGet, "/users/me", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *CarbonClient) GetUser(ctx context.Context, userID string) (*ct.User, error) {
	var out ct.User
	if err := c.api.do(ctx, http.MethodGet, "/users/"+url.PathEscape(userID), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *CarbonClient) UpdateUser(ctx context.Context, userID string, update ct.UserUpdate) (*ct.User, error) {
	var out ct.User
	if err := c.api.do(ctx, http.MethodPut, "/users/"+url.PathEscape(userID), nil, update, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *CarbonClient) CarbonCredits(ctx context.Context, params url.Values) ([]*ct.CarbonCredit, error) {
	var out []*ct.CarbonCredit
	if err := c.api.do(ctx, http.MethodGet, "/carbonCredits", params, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *CarbonClient) CarbonCredit(ctx context.Context, creditID string) (*ct.CarbonCredit, error) {
	var out ct.CarbonCredit
	if err := c.api.do(ctx, http.MethodGet, "/carbonCredits/"+url.PathEscape(creditID), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *CarbonClient) CreateTrade(ctx context.Context, req ct.CreateTradeRequest) (*ct.Trade, error) {
	var out ct.Trade
	if err := c.api.do(ctx, http.MethodPost, "/trades/create", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *CarbonClient) TradeOrders(ctx context.Context, userID string) ([]*ct.Order, error) {
	var out []*ct.Order
	if err := c.api.do(ctx, http.MethodGet, "/trades/orders/"+url.PathEscape(userID), nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *CarbonClient) UserAssets(ctx context.Context, userID string) ([]*ct.Asset, error) {
	var out []*ct.Asset
	if err := c.api.do(ctx, http.MethodGet, "/users/"+url.PathEscape(userID)+"/assets", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *CarbonClient) TradeHistory(ctx context.Context, userID string) ([]*ct.Trade, error) {
	var out []*ct.Trade
	if err := c.api.do(ctx, http.MethodGet, "/users/"+url.PathEscape(userID)+"/tradeHistory", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}
