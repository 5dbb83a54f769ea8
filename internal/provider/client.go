// Package provider fetches offer payloads from the upstream market-data
// API. It is the only network round trip of an EV calculation; failures
// are classified into not-found vs. upstream-error so the orchestrator
// can propagate them verbatim.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/oddsedge/ev-engine/internal/model"
)

// ErrOfferNotFound is returned when the upstream reports no such offer.
var ErrOfferNotFound = errors.New("provider: offer not found")

// UpstreamError is any non-404 fetch failure: transport faults, bad
// status codes, and malformed payloads. Status is zero when no HTTP
// response was received.
type UpstreamError struct {
	Status  int
	Message string
}

func (e *UpstreamError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("provider: upstream error: %s", e.Message)
	}
	return fmt.Sprintf("provider: upstream error (status %d): %s", e.Status, e.Message)
}

// Client is an HTTP client for the upstream offers endpoint.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client rooted at baseURL. Pass nil to use a default
// http.Client with a 10s timeout; request cancellation beyond that is the
// caller's context.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{baseURL: baseURL, http: httpClient}
}

// FetchOffers retrieves the full offer payload for one offer id.
// The payload must be a JSON array of well-formed offers; anything else
// maps to an UpstreamError, never a crash.
func (c *Client) FetchOffers(ctx context.Context, offerID string) ([]model.Offer, error) {
	u := fmt.Sprintf("%s/offers/%s", c.baseURL, url.PathEscape(offerID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &UpstreamError{Message: err.Error()}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &UpstreamError{Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrOfferNotFound
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &UpstreamError{Status: resp.StatusCode, Message: string(body)}
	}

	var offers []model.Offer
	if err := json.NewDecoder(resp.Body).Decode(&offers); err != nil {
		return nil, &UpstreamError{Status: resp.StatusCode, Message: "malformed offer payload: " + err.Error()}
	}
	for i := range offers {
		if offers[i].ID == "" {
			return nil, &UpstreamError{Status: resp.StatusCode, Message: fmt.Sprintf("malformed offer payload: offer %d has no id", i)}
		}
	}
	return offers, nil
}
