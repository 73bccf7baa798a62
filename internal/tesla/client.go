package tesla

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	defaultBaseURL = "https://owner-api.teslamotors.com"
	defaultAuthURL = "https://auth.tesla.com/oauth2/v3/token"
	userAgent      = "chargepilot"

	defaultTimeout     = 10 * time.Second
	defaultAuthTimeout = 30 * time.Second

	refreshAttempts = 3
	refreshBackoff  = 500 * time.Millisecond

	oauthClientID = "ownerapi"
	oauthScope    = "openid email offline_access"
)

// Client is the single point of authenticated access to the vehicle owner
// API. It holds the current token pair, transparently refreshes it once on a
// 401, and maps every failure onto an *APIError.
type Client struct {
	baseURL    string
	authURL    string
	httpClient *http.Client
	authClient *http.Client
	backoff    time.Duration
	logger     *logrus.Logger

	// mu guards the token pair and serializes refreshes: two calls that
	// observe a 401 concurrently result in a single token exchange.
	mu           sync.Mutex
	accessToken  string
	refreshToken string
	onRefresh    func(Credentials)
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the owner API base URL.
func WithBaseURL(u string) Option { return func(c *Client) { c.baseURL = u } }

// WithAuthURL overrides the token exchange endpoint.
func WithAuthURL(u string) Option { return func(c *Client) { c.authURL = u } }

// WithTimeout sets the per-call timeout for vehicle API requests.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithRefreshBackoff sets the delay between token refresh attempts.
func WithRefreshBackoff(d time.Duration) Option { return func(c *Client) { c.backoff = d } }

// NewClient creates a vehicle API client with the supplied credential pair.
func NewClient(creds Credentials, logger *logrus.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL:      defaultBaseURL,
		authURL:      defaultAuthURL,
		httpClient:   &http.Client{Timeout: defaultTimeout},
		authClient:   &http.Client{Timeout: defaultAuthTimeout},
		backoff:      refreshBackoff,
		logger:       logger,
		accessToken:  creds.AccessToken,
		refreshToken: creds.RefreshToken,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnTokenRefresh registers a callback invoked with every refreshed credential
// pair so an external store can persist it. The client itself never touches
// disk.
func (c *Client) OnTokenRefresh(cb func(Credentials)) {
	c.mu.Lock()
	c.onRefresh = cb
	c.mu.Unlock()
}

// SetTimeout adjusts the vehicle API call timeout.
func (c *Client) SetTimeout(d time.Duration) { c.httpClient.Timeout = d }

// GetVehicles lists the vehicles on the account.
func (c *Client) GetVehicles(ctx context.Context) ([]Vehicle, error) {
	var out struct {
		Response []Vehicle `json:"response"`
	}
	if err := c.apiCall(ctx, http.MethodGet, "", nil, &out); err != nil {
		return nil, err
	}
	return out.Response, nil
}

// GetVehicle fetches the list entry for a single vehicle.
func (c *Client) GetVehicle(ctx context.Context, id string) (*Vehicle, error) {
	var out struct {
		Response Vehicle `json:"response"`
	}
	if err := c.apiCall(ctx, http.MethodGet, id, nil, &out); err != nil {
		return nil, err
	}
	return &out.Response, nil
}

// GetVehicleData fetches the full telemetry payload for one vehicle.
func (c *Client) GetVehicleData(ctx context.Context, id string) (*VehicleData, error) {
	var out struct {
		Response VehicleData `json:"response"`
	}
	if err := c.apiCall(ctx, http.MethodGet, id+"/vehicle_data", nil, &out); err != nil {
		return nil, err
	}
	return &out.Response, nil
}

// WakeUp issues a wake command. It does not block until the vehicle is
// online; callers poll the returned state if they need to wait.
func (c *Client) WakeUp(ctx context.Context, id string) (*Vehicle, error) {
	var out struct {
		Response Vehicle `json:"response"`
	}
	if err := c.apiCall(ctx, http.MethodPost, id+"/wake_up", nil, &out); err != nil {
		return nil, err
	}
	return &out.Response, nil
}

// Command sends a named command with an optional parameter payload and
// returns the raw response body under the API envelope.
func (c *Client) Command(ctx context.Context, name, id string, params interface{}) (json.RawMessage, error) {
	var out struct {
		Response json.RawMessage `json:"response"`
	}
	if err := c.apiCall(ctx, http.MethodPost, id+"/command/"+name, params, &out); err != nil {
		return nil, err
	}
	return out.Response, nil
}

// Credentials returns the token pair currently held by the client.
func (c *Client) Credentials() Credentials {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Credentials{AccessToken: c.accessToken, RefreshToken: c.refreshToken}
}

// SetCredentials replaces the token pair, e.g. after a new pair arrives
// through the local API. In-flight requests keep the token they snapshotted.
func (c *Client) SetCredentials(creds Credentials) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = creds.AccessToken
	c.refreshToken = creds.RefreshToken
}

// apiCall performs one authenticated request against the owner API. A 401
// with a refresh token present triggers exactly one transparent refresh and
// one retry; a second 401 surfaces as Unauthorized.
func (c *Client) apiCall(ctx context.Context, method, path string, params, out interface{}) error {
	token := c.Credentials().AccessToken

	status, err := c.doRequest(ctx, method, path, params, token, out)
	if err != nil {
		return err
	}
	if status == http.StatusUnauthorized && c.Credentials().RefreshToken != "" {
		fresh, rerr := c.refreshAfter(token)
		if rerr != nil {
			return rerr
		}
		status, err = c.doRequest(ctx, method, path, params, fresh, out)
		if err != nil {
			return err
		}
	}
	if status != 0 {
		return newAPIError(decodeStatus(status), fmt.Errorf("request failed (%d)", status))
	}
	return nil
}

// doRequest executes one HTTP round trip. A non-2xx status is returned as
// the int result with a nil error so the caller can run the refresh
// protocol; transport and decode failures come back classified.
func (c *Client) doRequest(ctx context.Context, method, path string, params interface{}, token string, out interface{}) (int, error) {
	var body io.Reader
	if params != nil {
		payload, err := json.Marshal(params)
		if err != nil {
			return 0, newAPIError(ErrUnknown, err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/api/1/vehicles/"+path, body)
	if err != nil {
		return 0, newAPIError(ErrUnknown, err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return 0, newAPIError(ErrUnknown, fmt.Errorf("decoding response: %w", err))
		}
	}
	return 0, nil
}

// refreshAfter runs the refresh protocol after a 401 observed with the given
// stale token. Holding mu across the exchange serializes concurrent
// refreshes; a caller that blocked here while another refresh ran finds the
// token already replaced and skips its own exchange.
func (c *Client) refreshAfter(stale string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != stale {
		return c.accessToken, nil
	}
	creds, err := c.refreshLocked()
	if err != nil {
		return "", err
	}
	return creds.AccessToken, nil
}

// RefreshAccessToken exchanges the refresh token for a new pair, retrying up
// to three attempts with a fixed backoff. On success the new pair replaces
// the client's in-memory state and is handed to the refresh callback; on
// final failure the stored credentials are left untouched.
func (c *Client) RefreshAccessToken() (Credentials, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshLocked()
}

// refreshLocked performs the token exchange. Callers must hold mu.
func (c *Client) refreshLocked() (Credentials, error) {
	if c.refreshToken == "" {
		return Credentials{}, newAPIError(ErrUnauthorized, errors.New("no refresh token available"))
	}

	var lastErr error
	for attempt := 1; attempt <= refreshAttempts; attempt++ {
		oauth, err := c.oauthCall(oauthRequest{
			GrantType:    "refresh_token",
			ClientID:     oauthClientID,
			RefreshToken: c.refreshToken,
			Scope:        oauthScope,
		})
		if err == nil {
			c.accessToken = oauth.AccessToken
			c.refreshToken = oauth.RefreshToken
			creds := Credentials{AccessToken: c.accessToken, RefreshToken: c.refreshToken}
			if c.onRefresh != nil {
				c.onRefresh(creds)
			}
			c.logger.Debug("Access token refreshed")
			return creds, nil
		}
		lastErr = err
		c.logger.WithError(err).WithField("attempt", attempt).Warn("Token refresh attempt failed")
		if attempt < refreshAttempts {
			time.Sleep(c.backoff)
		}
	}
	return Credentials{}, fmt.Errorf("unable to refresh token: %w", lastErr)
}

// oauthRequest is the token exchange payload.
type oauthRequest struct {
	GrantType    string `json:"grant_type"`
	ClientID     string `json:"client_id"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope"`
}

func (c *Client) oauthCall(reqBody oauthRequest) (*oauthResponse, error) {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, newAPIError(ErrUnknown, err)
	}

	req, err := http.NewRequest(http.MethodPost, c.authURL, bytes.NewReader(payload))
	if err != nil {
		return nil, newAPIError(ErrUnknown, err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.authClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return nil, newAPIError(decodeStatus(resp.StatusCode), fmt.Errorf("token exchange failed (%d)", resp.StatusCode))
	}

	var oauth oauthResponse
	if err := json.NewDecoder(resp.Body).Decode(&oauth); err != nil {
		return nil, newAPIError(ErrUnknown, fmt.Errorf("decoding token response: %w", err))
	}
	return &oauth, nil
}

// classifyTransportError maps socket-level failures (DNS lookup, connection
// reset or refused) to Network and elapsed deadlines to Timeout.
func classifyTransportError(err error) *APIError {
	if errors.Is(err, context.DeadlineExceeded) {
		return newAPIError(ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return newAPIError(ErrTimeout, err)
	}
	return newAPIError(ErrNetwork, err)
}
