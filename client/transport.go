package client

import (
	"net/http"
	"sync"
)

// TokenSource supplies the bearer token for each request. An empty token
// sends the request anonymously.
type TokenSource interface {
	Token() string
}

// StaticToken holds a token set by the caller, e.g. after Login
type StaticToken struct {
	mu    sync.RWMutex
	token string
}

func (s *StaticToken) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

func (s *StaticToken) Set(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

// AuthTransport adds an Authorization header from Source
type AuthTransport struct {
	Base   http.RoundTripper
	Source TokenSource
}

func (t *AuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.Source != nil {
		if token := t.Source.Token(); token != "" {
			req = req.Clone(req.Context())
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}
