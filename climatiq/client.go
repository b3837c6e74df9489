// Package climatiq estimates emissions through the Climatiq API, with
// local factor tables for when the API is unavailable.
package climatiq

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultBaseURL     = "https://beta3.api.climatiq.io"
	DefaultDataURL     = "https://api.climatiq.io"
	DefaultDataVersion = "^19"
	DefaultPerPage     = 10

	SourceClimatiq = "climatiq"
	SourceLocal    = "local"
)

// EmissionResult is what every estimate returns
type EmissionResult struct {
	CO2e       float64        `json:"co2e"`
	CO2eUnit   string         `json:"co2e_unit"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Source     string         `json:"source,omitempty"`
}

// EstimateRequest is the body of POST /estimate
type EstimateRequest struct {
	EmissionFactor string         `json:"emission_factor"`
	Parameters     map[string]any `json:"parameters"`
}

// APIError is a non-2xx answer from Climatiq
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("climatiq API error: %s: %s", http.StatusText(e.StatusCode), e.Message)
	}
	return fmt.Sprintf("climatiq API error: %s", http.StatusText(e.StatusCode))
}

type Client struct {
	apiKey  string
	baseURL string
	dataURL string
	http    *http.Client
}

type Option func(*Client)

// WithBaseURL points estimates at another host
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithDataURL points factor search, unit types and data versions at another host
func WithDataURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.dataURL = strings.TrimRight(u, "/")
		}
	}
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:  apiKey,
		baseURL: DefaultBaseURL,
		dataURL: DefaultDataURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Configured() bool {
	return c != nil && c.apiKey != ""
}

func (c *Client) do(ctx context.Context, method, target string, body, out any) error {
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
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("climatiq request: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading climatiq response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var eb struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		_ = json.Unmarshal(data, &eb)
		msg := eb.Message
		if msg == "" {
			msg = eb.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding climatiq response: %w", err)
	}
	return nil
}

type HealthStatus struct {
	Status string `json:"status"`
}

// Health reports "ok" when the API host answers at all
func (c *Client) Health(ctx context.Context) HealthStatus {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return HealthStatus{Status: "error"}
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	resp, err := c.http.Do(req)
	if err != nil {
		return HealthStatus{Status: "error"}
	}
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		return HealthStatus{Status: "error"}
	}
	return HealthStatus{Status: "ok"}
}

func (c *Client) Estimate(ctx context.Context, req EstimateRequest) (*EmissionResult, error) {
	var out EmissionResult
	if err := c.do(ctx, http.MethodPost, c.baseURL+"/estimate", req, &out); err != nil {
		return nil, err
	}
	out.Source = SourceClimatiq
	return &out, nil
}

func (c *Client) Freight(ctx context.Context, p FreightParams) (*EmissionResult, error) {
	res, err := c.Estimate(ctx, EstimateRequest{
		EmissionFactor: FreightFactor(p.Mode),
		Parameters: map[string]any{
			"distance":      p.DistanceKM,
			"distance_unit": "km",
			"weight":        p.WeightKG,
			"weight_unit":   "kg",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("freight estimate: %w", err)
	}
	res.Parameters = p.params()
	return res, nil
}

func (c *Client) Energy(ctx context.Context, p EnergyParams) (*EmissionResult, error) {
	res, err := c.Estimate(ctx, EstimateRequest{
		EmissionFactor: EnergyFactor(p.Type, p.Country),
		Parameters: map[string]any{
			"energy":      p.Energy,
			"energy_unit": p.unit(),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("energy estimate: %w", err)
	}
	res.Parameters = p.params()
	return res, nil
}

func (c *Client) CBEM(ctx context.Context, p CBEMParams) (*EmissionResult, error) {
	params := map[string]any{"mass": p.Quantity, "mass_unit": "t"}
	if p.Product == "electricity" {
		params = map[string]any{"energy": p.Quantity, "energy_unit": "kWh"}
	}
	res, err := c.Estimate(ctx, EstimateRequest{EmissionFactor: CBEMFactor(p.Product), Parameters: params})
	if err != nil {
		return nil, fmt.Errorf("cbem estimate: %w", err)
	}
	res.Parameters = p.params()
	return res, nil
}

func (c *Client) Search(ctx context.Context, p SearchParams) (*SearchResponse, error) {
	var out SearchResponse
	target := c.dataURL + "/data/v1/search?" + p.Encode()
	if err := c.do(ctx, http.MethodGet, target, nil, &out); err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	return &out, nil
}

type UnitType struct {
	UnitType string   `json:"unit_type"`
	Units    []string `json:"units"`
}

func (c *Client) UnitTypes(ctx context.Context) ([]UnitType, error) {
	var out struct {
		UnitTypes []UnitType `json:"unit_types"`
	}
	if err := c.do(ctx, http.MethodGet, c.dataURL+"/data/v1/unit-types", nil, &out); err != nil {
		return nil, err
	}
	return out.UnitTypes, nil
}

type DataVersions struct {
	LatestRelease string `json:"latest_release"`
	Latest        string `json:"latest"`
	LatestMajor   int    `json:"latest_major"`
	LatestMinor   int    `json:"latest_minor"`
}

func (c *Client) DataVersions(ctx context.Context) (*DataVersions, error) {
	var out DataVersions
	if err := c.do(ctx, http.MethodGet, c.dataURL+"/data/v1/data-versions", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func encodeValue(v string) string {
	return url.QueryEscape(v)
}
