package carelink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Regional Carelink connect servers.
const (
	ServerEU = "carelink.minimed.eu"
	ServerUS = "carelink.minimed.com"
)

// HTTPDoer defines the http.Client interface subset.
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// TokenSource supplies bearer tokens and supports a forced renewal after an
// auth rejection.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	ForceRefresh(ctx context.Context) error
}

// ErrUnauthorized is returned when Carelink rejects the token even after a
// forced refresh.
var ErrUnauthorized = fmt.Errorf("carelink: unauthorized")

// Client fetches telemetry from the Carelink cloud API.
type Client struct {
	server    string
	country   string
	patientID string
	tokens    TokenSource
	client    HTTPDoer
	logger    *zap.Logger

	mu       sync.Mutex
	user     *User
	profile  *Profile
	settings *CountrySettings
	monitor  *MonitorData
}

// NewClient builds an API client for the given country. US accounts are
// served from carelink.minimed.com, everyone else from carelink.minimed.eu.
func NewClient(country, patientID string, tokens TokenSource, httpClient HTTPDoer, logger *zap.Logger) *Client {
	server := ServerEU
	if strings.EqualFold(country, "us") {
		server = ServerUS
	}
	return &Client{
		server:    server,
		country:   strings.ToLower(country),
		patientID: patientID,
		tokens:    tokens,
		client:    httpClient,
		logger:    logger,
	}
}

// SetServer overrides the API host (tests).
func (c *Client) SetServer(hostOrURL string) {
	c.server = hostOrURL
}

func (c *Client) baseURL() string {
	if strings.HasPrefix(c.server, "http://") || strings.HasPrefix(c.server, "https://") {
		return strings.TrimRight(c.server, "/")
	}
	return "https://" + c.server
}

// Connect fetches the session info the data endpoints depend on: user, the
// profile, country settings and monitor data. Safe to call repeatedly, the
// results are cached.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Client) connectLocked(ctx context.Context) error {
	if c.user != nil && c.profile != nil && c.settings != nil && c.monitor != nil {
		return nil
	}

	var user User
	if err := c.getData(ctx, c.baseURL()+"/patient/users/me", nil, nil, &user); err != nil {
		return fmt.Errorf("carelink: fetch user: %w", err)
	}

	var profile Profile
	if err := c.getData(ctx, c.baseURL()+"/patient/users/me/profile", nil, nil, &profile); err != nil {
		return fmt.Errorf("carelink: fetch profile: %w", err)
	}

	var settings CountrySettings
	query := url.Values{"countryCode": {c.country}, "language": {"en"}}
	if err := c.getData(ctx, c.baseURL()+"/patient/countries/settings", query, nil, &settings); err != nil {
		return fmt.Errorf("carelink: fetch country settings: %w", err)
	}

	var monitor MonitorData
	if err := c.getData(ctx, c.baseURL()+"/patient/monitor/data", nil, nil, &monitor); err != nil {
		return fmt.Errorf("carelink: fetch monitor data: %w", err)
	}

	c.user = &user
	c.profile = &profile
	c.settings = &settings
	c.monitor = &monitor
	return nil
}

// RecentData fetches the most recent telemetry. BLE device families and US
// accounts use the periodic-data endpoint from the country settings, legacy
// devices fall back to the last-24-hours endpoint.
func (c *Client) RecentData(ctx context.Context) (*RecentData, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.connectLocked(ctx); err != nil {
		return nil, err
	}

	var recent RecentData
	if c.country == "us" || c.monitor.IsBLE() {
		role := "patient"
		if c.user.IsCarePartner() {
			role = "carepartner"
		}

		payload := map[string]string{
			"username": c.profile.Username,
			"role":     role,
		}
		if c.patientID != "" {
			payload["patientId"] = c.patientID
		}
		body, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}

		endpoint := c.settings.BLEPeriodicDataEndpoint
		if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
			endpoint = c.baseURL() + "/" + strings.TrimLeft(endpoint, "/")
		}
		if err := c.getData(ctx, endpoint, nil, body, &recent); err != nil {
			return nil, fmt.Errorf("carelink: fetch periodic data: %w", err)
		}
		return &recent, nil
	}

	query := url.Values{
		"cpSerialNumber": {"NONE"},
		"msgType":        {"last24hours"},
		"requestTime":    {strconv.FormatInt(time.Now().UnixMilli(), 10)},
	}
	if err := c.getData(ctx, c.baseURL()+"/patient/connect/data", query, nil, &recent); err != nil {
		return nil, fmt.Errorf("carelink: fetch last24hours: %w", err)
	}
	return &recent, nil
}

// getData performs an authenticated request and decodes the JSON response.
// A 401/403 forces one token refresh and a single retry.
func (c *Client) getData(ctx context.Context, rawURL string, query url.Values, body []byte, target interface{}) error {
	status, data, err := c.do(ctx, rawURL, query, body)
	if err != nil {
		return err
	}

	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		c.logger.Info("carelink rejected token, forcing refresh", zap.Int("status", status))
		if err := c.tokens.ForceRefresh(ctx); err != nil {
			return err
		}
		status, data, err = c.do(ctx, rawURL, query, body)
		if err != nil {
			return err
		}
		if status == http.StatusUnauthorized || status == http.StatusForbidden {
			return ErrUnauthorized
		}
	}

	if status != http.StatusOK {
		return fmt.Errorf("unexpected status %d", status)
	}

	return json.Unmarshal(data, target)
}

func (c *Client) do(ctx context.Context, rawURL string, query url.Values, body []byte) (int, []byte, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return 0, nil, err
	}

	if len(query) > 0 {
		rawURL = rawURL + "?" + query.Encode()
	}

	method := http.MethodGet
	var reader io.Reader
	if body != nil {
		method = http.MethodPost
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json, text/plain, */*")
	if body != nil {
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, data, nil
}
