package geoclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// ErrUnavailable means the lookup failed or timed out. Callers treat it
// as "no location", never as a marking failure.
var ErrUnavailable = errors.New("ip geolocation unavailable")

// Client resolves a client IP to a coarse location, best-effort. Skip
// mode returns a fixed mock so deployments without a lookup service
// still run.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Skip    bool
}

// New creates a client with a bounded timeout; non-positive falls back
// to 5 seconds.
func New(baseURL string, timeout time.Duration, skip bool) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		BaseURL: baseURL,
		HTTP:    &http.Client{Timeout: timeout},
		Skip:    skip,
	}
}

// Result is a coarse IP-derived location.
type Result struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
	City      string  `json:"city"`
	Country   string  `json:"country"`
	Status    string  `json:"status"`
}

// Lookup resolves ip. Every failure path folds into ErrUnavailable; the
// lookup enriches a record but must never block marking.
func (c *Client) Lookup(ctx context.Context, ip string) (*Result, error) {
	if c.Skip {
		return &Result{Latitude: 0, Longitude: 0, City: "mock", Country: "mock", Status: "success"}, nil
	}
	if ip == "" {
		return nil, ErrUnavailable
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/json/"+url.PathEscape(ip), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: lookup service %s", ErrUnavailable, resp.Status)
	}

	var out Result
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if out.Status != "success" {
		return nil, fmt.Errorf("%w: status %q", ErrUnavailable, out.Status)
	}
	return &out, nil
}
