// Package snapshot is the client for the dashboard's REST resources. Every
// response is wrapped in a {success, message, data} envelope; a false success
// flag or a non-2xx status is an error, never an empty result.
package snapshot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tangkapin/dashfeed/internal/model"
)

const (
	defaultTimeout = 30 * time.Second
	maxRetries     = 3
)

// Client talks to the REST API with a Bearer token.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	retries    int
	retryBase  time.Duration
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithRetries sets how many times a 429, a 5xx or a transport failure is
// retried, and the first backoff delay, which doubles on each attempt.
func WithRetries(n int, base time.Duration) Option {
	return func(c *Client) {
		c.retries = max(n, 0)
		if base > 0 {
			c.retryBase = base
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a client for baseURL (e.g. "https://api.example/api").
func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: defaultTimeout},
		retries:    maxRetries,
		retryBase:  time.Second,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithToken returns a copy of c authenticating with token.
func (c *Client) WithToken(token string) *Client {
	cp := *c
	cp.token = token
	return &cp
}

// --- Officers ---

// AvailableOfficers lists officers currently available for dispatch.
func (c *Client) AvailableOfficers(ctx context.Context) ([]model.Officer, error) {
	var out []model.Officer
	if err := c.get(ctx, "/officer/available", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// PoliceList returns one page of the officer roster.
func (c *Client) PoliceList(ctx context.Context, page, limit int) (*model.Page[model.Officer], error) {
	var out model.Page[model.Officer]
	if err := c.get(ctx, "/officer/police", pageQuery(page, limit), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// IncidentMap returns the incidents and on-duty officers placed on the map.
func (c *Client) IncidentMap(ctx context.Context) (*model.IncidentMap, error) {
	var out model.IncidentMap
	if err := c.get(ctx, "/officer/incident-map", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RecentAlerts returns the server-side recent alerts summary.
func (c *Client) RecentAlerts(ctx context.Context) (*model.RecentAlerts, error) {
	var out model.RecentAlerts
	if err := c.get(ctx, "/officer/recent-alerts", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Notifications returns the operator's notification list.
func (c *Client) Notifications(ctx context.Context) ([]model.Notification, error) {
	var out struct {
		Data []model.Notification `json:"data"`
	}
	if err := c.get(ctx, "/officer/notification", nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// --- Reports and counters ---

// LatestReports returns one page of the most recent reports.
func (c *Client) LatestReports(ctx context.Context, page, limit int) (*model.Page[model.Report], error) {
	var out model.Page[model.Report]
	if err := c.get(ctx, "/officer/latest-report", pageQuery(page, limit), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Stats returns the headline counters.
func (c *Client) Stats(ctx context.Context) (*model.Stats, error) {
	var out model.Stats
	if err := c.get(ctx, "/officer/count", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CaseStatus returns cases broken down by status.
func (c *Client) CaseStatus(ctx context.Context) (*model.CaseStatusSummary, error) {
	var out model.CaseStatusSummary
	if err := c.get(ctx, "/officer/case-status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// --- Auth ---

// Me returns the authenticated user.
func (c *Client) Me(ctx context.Context) (*model.User, error) {
	var out model.User
	if err := c.get(ctx, "/me", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// LoginResult is the token issued by Login.
type LoginResult struct {
	Token string     `json:"token"`
	User  model.User `json:"user"`
}

// Login exchanges credentials for a token. The client's own token is not
// changed; use WithToken.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	body := map[string]string{"email": email, "password": password}
	var out LoginResult
	if err := c.doJSON(ctx, http.MethodPost, "/login", nil, body, &out); err != nil {
		return nil, err
	}
	if out.Token == "" {
		return nil, &SnapshotFetchError{Endpoint: "POST /login", StatusCode: http.StatusOK, Message: "response carried no token"}
	}
	return &out, nil
}

// Logout revokes the client's token.
func (c *Client) Logout(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPost, "/logout", nil, nil, nil)
}

// --- Snapshot ---

// Fetch builds the baseline dashboard snapshot from the incident map and the
// notification list.
func (c *Client) Fetch(ctx context.Context) (*model.Snapshot, error) {
	m, err := c.IncidentMap(ctx)
	if err != nil {
		return nil, err
	}
	notes, err := c.Notifications(ctx)
	if err != nil {
		return nil, err
	}

	snap := &model.Snapshot{
		Officers:      make([]model.Marker, 0, len(m.ActiveOfficers)),
		Incidents:     make([]model.Marker, 0, len(m.CrimeLocations)),
		Notifications: notes,
		FetchedAt:     time.Now().UTC(),
	}
	for _, o := range m.ActiveOfficers {
		snap.Officers = append(snap.Officers, o.Marker())
	}
	for _, l := range m.CrimeLocations {
		snap.Incidents = append(snap.Incidents, l.Marker())
	}
	return snap, nil
}

// --- HTTP plumbing ---

func (c *Client) get(ctx context.Context, path string, query url.Values, result any) error {
	return c.doJSON(ctx, http.MethodGet, path, query, nil, result)
}

// envelope is the response wrapper shared by every resource.
type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// doJSON performs a request and decodes the envelope's data into result.
// 429 and 5xx responses are retried with exponential backoff, honoring
// Retry-After; 401 and 403 are never retried.
func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, body, result any) error {
	endpoint := method + " " + path
	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		payload = data
	}

	var lastErr *SnapshotFetchError
	var retryAfter string
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			wait := c.backoffDelay(attempt, retryAfter)
			c.logger.Warn("retrying snapshot request",
				"endpoint", endpoint, "attempt", attempt, "status", lastErr.StatusCode, "wait", wait)
			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}

		var bodyReader io.Reader
		if payload != nil {
			bodyReader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
		if err != nil {
			return fmt.Errorf("creating request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = &SnapshotFetchError{Endpoint: endpoint, Message: "request failed", Err: err}
			retryAfter = ""
			continue
		}
		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return &SnapshotFetchError{Endpoint: endpoint, StatusCode: resp.StatusCode, Message: "reading response", Err: err}
		}

		var env envelope
		decodeErr := json.Unmarshal(respBody, &env)

		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			msg := env.Message
			if decodeErr != nil || msg == "" {
				msg = unauthorizedMessage
			}
			return &UnauthorizedError{Endpoint: endpoint, StatusCode: resp.StatusCode, Message: msg}
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			lastErr = statusError(endpoint, resp.StatusCode, env.Message, respBody)
			retryAfter = resp.Header.Get("Retry-After")
			continue
		case resp.StatusCode >= 400:
			return statusError(endpoint, resp.StatusCode, env.Message, respBody)
		}

		if resp.StatusCode == http.StatusNoContent || len(bytes.TrimSpace(respBody)) == 0 {
			if result == nil {
				return nil
			}
			return &SnapshotFetchError{Endpoint: endpoint, StatusCode: resp.StatusCode, Message: "empty response"}
		}
		if decodeErr != nil {
			return &SnapshotFetchError{Endpoint: endpoint, StatusCode: resp.StatusCode, Message: "decoding response", Err: decodeErr}
		}
		if !env.Success {
			msg := env.Message
			if msg == "" {
				msg = "request was not successful"
			}
			return &SnapshotFetchError{Endpoint: endpoint, StatusCode: resp.StatusCode, Message: msg}
		}
		if result != nil {
			if len(env.Data) == 0 || string(env.Data) == "null" {
				return &SnapshotFetchError{Endpoint: endpoint, StatusCode: resp.StatusCode, Message: "response carried no data"}
			}
			if err := json.Unmarshal(env.Data, result); err != nil {
				return &SnapshotFetchError{Endpoint: endpoint, StatusCode: resp.StatusCode, Message: "decoding data", Err: err}
			}
		}
		return nil
	}
	return lastErr
}

func (c *Client) backoffDelay(attempt int, retryAfter string) time.Duration {
	if retryAfter != "" {
		if secs, err := strconv.Atoi(retryAfter); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return c.retryBase << (attempt - 1)
}

func statusError(endpoint string, status int, message string, body []byte) *SnapshotFetchError {
	if message == "" {
		message = strings.TrimSpace(string(body))
		if len(message) > 512 {
			message = message[:512]
		}
	}
	if message == "" {
		message = http.StatusText(status)
	}
	return &SnapshotFetchError{Endpoint: endpoint, StatusCode: status, Message: message}
}

func pageQuery(page, limit int) url.Values {
	q := url.Values{}
	if page > 0 {
		q.Set("page", strconv.Itoa(page))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return q
}

// IsUnauthorized reports whether err is or wraps an *UnauthorizedError.
func IsUnauthorized(err error) bool {
	var ue *UnauthorizedError
	return errors.As(err, &ue)
}
