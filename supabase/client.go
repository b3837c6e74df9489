// Package supabase wraps the Supabase services the platform depends on:
// the profiles table, hosted social login, bearer token verification and
// object storage.
package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/supabase-community/gotrue-go/types"
	"github.com/supabase-community/supabase-go"
)

var ErrNotConfigured = errors.New("supabase is not configured")

type Config struct {
	URL       string
	Key       string
	JWTSecret string
	// Bucket receives uploads when Supabase storage backs the blob store
	Bucket string
}

func (c Config) Configured() bool {
	return c.URL != "" && c.Key != ""
}

type Client struct {
	cfg Config
	sb  *supabase.Client
}

func NewClient(cfg Config) (*Client, error) {
	if !cfg.Configured() {
		return nil, ErrNotConfigured
	}
	sb, err := supabase.NewClient(strings.TrimRight(cfg.URL, "/"), cfg.Key, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("creating supabase client: %w", err)
	}
	return &Client{cfg: cfg, sb: sb}, nil
}

// ListProfiles returns the rows of the profiles table as raw JSON
func (c *Client) ListProfiles(ctx context.Context) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, _, err := c.sb.From("profiles").Select("*", "", false).Execute()
	if err != nil {
		return nil, fmt.Errorf("fetching profiles: %w", err)
	}
	if !json.Valid(data) {
		return nil, errors.New("fetching profiles: response is not JSON")
	}
	return data, nil
}

// AuthorizeURL returns the hosted login URL for provider. The implicit flow
// hands the SPA a Supabase access token, which the API accepts as a bearer.
func (c *Client) AuthorizeURL(provider, redirectTo string) (string, error) {
	resp, err := c.sb.Auth.Authorize(types.AuthorizeRequest{
		Provider: types.Provider(strings.ToLower(provider)),
		FlowType: types.FlowImplicit,
	})
	if err != nil {
		return "", fmt.Errorf("authorize %s: %w", provider, err)
	}
	if redirectTo == "" {
		return resp.AuthorizationURL, nil
	}
	u, err := url.Parse(resp.AuthorizationURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("redirect_to", redirectTo)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// User is the subset of a Supabase auth user the platform reads
type User struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	Role         string         `json:"role"`
	UserMetadata map[string]any `json:"user_metadata"`
}

// GetUser asks Supabase who owns accessToken
func (c *Client) GetUser(ctx context.Context, accessToken string) (*User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	resp, err := c.sb.Auth.WithToken(accessToken).GetUser()
	if err != nil {
		return nil, fmt.Errorf("fetching supabase user: %w", err)
	}
	return &User{
		ID:           resp.ID.String(),
		Email:        resp.Email,
		Role:         resp.Role,
		UserMetadata: resp.UserMetadata,
	}, nil
}
