package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// APIError is a non-2xx answer from the server
type APIError struct {
	StatusCode int
	URL        string
	// Message is the server's "error" or "message" field, if any
	Message string

	text string
}

func (e *APIError) Error() string { return e.text }

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// requester issues JSON requests against baseURL and maps failures
// through describe
type requester struct {
	baseURL  string
	http     *http.Client
	describe func(status int, url, serverMsg string) string
}

func (r *requester) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	target := r.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := r.http.Do(req)
	if err != nil {
		return fmt.Errorf("request error: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var eb errorBody
		_ = json.Unmarshal(data, &eb)
		msg := eb.Error
		if msg == "" {
			msg = eb.Message
		}
		return &APIError{
			StatusCode: resp.StatusCode,
			URL:        target,
			Message:    msg,
			text:       r.describe(resp.StatusCode, target, msg),
		}
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	return decodeData(data, out)
}

// decodeData unwraps a {status, data} envelope when present and decodes
// the bare body otherwise.
func decodeData(body []byte, out any) error {
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if json.Unmarshal(body, &env) == nil && len(env.Data) > 0 && string(env.Data) != "null" {
		body = env.Data
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func trimBase(u string) string {
	return strings.TrimRight(u, "/")
}
