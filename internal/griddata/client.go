// Package griddata talks to the Electricity Maps power-breakdown API to
// answer how clean the grid currently is at a location.
package griddata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const defaultBaseURL = "https://api-access.electricitymaps.com/free-tier"

// ErrRateLimited signals provider throttling (HTTP 429). The free tier hits
// this regularly, so callers are expected to treat it as a soft skip rather
// than a failure.
var ErrRateLimited = errors.New("grid data provider rate limited")

// Snapshot is one power-breakdown reading. Ephemeral: fetched per decision
// or per refresh tick, never persisted.
type Snapshot struct {
	Zone                 string    `json:"zone"`
	Datetime             time.Time `json:"datetime"`
	FossilFreePercentage int       `json:"fossilFreePercentage"`
	RenewablePercentage  int       `json:"renewablePercentage"`
}

type historyResponse struct {
	Zone    string     `json:"zone"`
	History []Snapshot `json:"history"`
}

// Client fetches grid carbon-intensity data.
type Client struct {
	baseURL    string
	mu         sync.Mutex
	authToken  string
	httpClient *http.Client
	logger     *logrus.Logger
}

// NewClient creates an Electricity Maps client authenticated with the given
// API token.
func NewClient(authToken string, logger *logrus.Logger) *Client {
	return &Client{
		baseURL:   defaultBaseURL,
		authToken: authToken,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// SetBaseURL overrides the API endpoint, used in tests.
func (c *Client) SetBaseURL(u string) { c.baseURL = u }

// SetAuthToken replaces the API token, e.g. after a new one arrives through
// the local API.
func (c *Client) SetAuthToken(token string) {
	c.mu.Lock()
	c.authToken = token
	c.mu.Unlock()
}

func (c *Client) token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authToken
}

// GetCurrent fetches the latest power breakdown at the given coordinates.
func (c *Client) GetCurrent(ctx context.Context, lat, lon float64) (*Snapshot, error) {
	query := url.Values{}
	query.Set("lat", fmt.Sprintf("%f", lat))
	query.Set("lon", fmt.Sprintf("%f", lon))

	var snapshot Snapshot
	if err := c.get(ctx, "/power-breakdown/latest?"+query.Encode(), &snapshot); err != nil {
		return nil, err
	}
	c.logger.WithFields(logrus.Fields{
		"zone":        snapshot.Zone,
		"fossil_free": snapshot.FossilFreePercentage,
	}).Debug("Fetched current power breakdown")
	return &snapshot, nil
}

// GetHistory fetches the recent power-breakdown history for a zone.
func (c *Client) GetHistory(ctx context.Context, zone string) ([]Snapshot, error) {
	query := url.Values{}
	query.Set("zone", zone)

	var resp historyResponse
	if err := c.get(ctx, "/power-breakdown/history?"+query.Encode(), &resp); err != nil {
		return nil, err
	}
	return resp.History, nil
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("building grid data request: %w", err)
	}
	req.Header.Set("auth-token", c.token())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("grid data request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		io.Copy(io.Discard, resp.Body)
		return ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("grid data API returned status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding grid data response: %w", err)
	}
	return nil
}
