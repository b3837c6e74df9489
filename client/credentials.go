// Package client talks to a carbontrade server: AuthClient keeps a CLI
// login fresh, CarbonClient covers the storefront API and BackstageClient
// the admin back office.
package client

import (
	"time"
)

// ServerCredential is a stored login for one server
type ServerCredential struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	UserID       string    `json:"user_id,omitempty"`
	UserEmail    string    `json:"user_email,omitempty"`
	Scope        string    `json:"scope,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	CreatedAt    time.Time `json:"created_at"`
}

func (c *ServerCredential) IsExpired() bool {
	return time.Now().After(c.ExpiresAt)
}

func (c *ServerCredential) IsExpiringSoon(within time.Duration) bool {
	return time.Now().Add(within).After(c.ExpiresAt)
}

func (c *ServerCredential) HasRefreshToken() bool {
	return c.RefreshToken != ""
}

// CredentialStore keeps credentials keyed by server URL
type CredentialStore interface {
	// GetCredential returns nil, nil when nothing is stored for the server
	GetCredential(serverURL string) (*ServerCredential, error)
	SetCredential(serverURL string, cred *ServerCredential) error
	RemoveCredential(serverURL string) error
	ListServers() ([]string, error)

	// Save persists pending changes
	Save() error
}

// MemoryCredentialStore keeps credentials for the life of the process
type MemoryCredentialStore struct {
	creds map[string]*ServerCredential
}

func NewMemoryCredentialStore() *MemoryCredentialStore {
	return &MemoryCredentialStore{creds: make(map[string]*ServerCredential)}
}

func (m *MemoryCredentialStore) GetCredential(serverURL string) (*ServerCredential, error) {
	return m.creds[serverURL], nil
}

func (m *MemoryCredentialStore) SetCredential(serverURL string, cred *ServerCredential) error {
	m.creds[serverURL] = cred
	return nil
}

func (m *MemoryCredentialStore) RemoveCredential(serverURL string) error {
	delete(m.creds, serverURL)
	return nil
}

func (m *MemoryCredentialStore) ListServers() ([]string, error) {
	out := make([]string, 0, len(m.creds))
	for k := range m.creds {
		out = append(out, k)
	}
	return out, nil
}

func (m *MemoryCredentialStore) Save() error { return nil }
