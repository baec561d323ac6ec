package calendar

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	genieerrors "genie/internal/errors"
	"genie/internal/httpclient"
	jsonx "genie/internal/shared/json"
	"genie/internal/shared/logging"
)

// DefaultTimeout bounds one calendar HTTP attempt.
const DefaultTimeout = 10 * time.Second

// maxResponseBytes caps how much of a provider response is read.
const maxResponseBytes = 4 << 20

// Config carries connection settings for a Google-calendar-shaped provider.
type Config struct {
	BaseURL         string
	CalendarID      string
	TokenPath       string
	CredentialsPath string

	// Timeout bounds each HTTP attempt. Zero means DefaultTimeout.
	Timeout time.Duration

	// HTTPClient overrides the default transport. Tests inject httptest
	// clients here.
	HTTPClient *http.Client
}

// tokenFile is the OAuth artifact the out-of-scope bootstrap writes.
type tokenFile struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type,omitempty"`
	Expiry      string `json:"expiry,omitempty"`
}

// GoogleClient speaks the Google Calendar v3 REST surface. A missing or
// unreadable token puts the client in disconnected mode: free/busy degrades
// to assume-free and writes fail with a fatal error.
type GoogleClient struct {
	baseURL    string
	calendarID string
	tokenPath  string
	httpClient *http.Client
	retry      genieerrors.RetryConfig
	breaker    *genieerrors.CircuitBreaker
	logger     logging.Logger

	tokenMu sync.RWMutex
	token   string
}

// NewGoogleClient builds a calendar client. The token file is read lazily
// so a token provisioned after startup is picked up without a restart.
func NewGoogleClient(cfg Config, logger logging.Logger) *GoogleClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	calendarID := cfg.CalendarID
	if calendarID == "" {
		calendarID = "primary"
	}
	client := cfg.HTTPClient
	logger = logging.OrNop(logger)
	if client == nil {
		client = httpclient.NewWithBreaker(timeout, logger, "calendar")
	}
	return &GoogleClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		calendarID: calendarID,
		tokenPath:  cfg.TokenPath,
		httpClient: client,
		retry: genieerrors.RetryConfig{
			MaxAttempts:  2,
			BaseDelay:    500 * time.Millisecond,
			MaxDelay:     5 * time.Second,
			JitterFactor: 0.25,
		},
		breaker: genieerrors.NewCircuitBreaker("calendar", genieerrors.DefaultCircuitBreakerConfig()),
		logger:  logger,
	}
}

// FreeBusy queries the provider's freeBusy endpoint and derives the free
// intervals. Any failure degrades to AssumeFree.
func (c *GoogleClient) FreeBusy(ctx context.Context, window Interval, calendars ...string) Availability {
	if len(calendars) == 0 {
		calendars = []string{c.calendarID}
	}
	items := make([]map[string]string, 0, len(calendars))
	for _, id := range calendars {
		items = append(items, map[string]string{"id": id})
	}
	body := map[string]any{
		"timeMin": window.Start.UTC().Format(time.RFC3339),
		"timeMax": window.End.UTC().Format(time.RFC3339),
		"items":   items,
	}

	var resp struct {
		Calendars map[string]struct {
			Busy []struct {
				Start time.Time `json:"start"`
				End   time.Time `json:"end"`
			} `json:"busy"`
		} `json:"calendars"`
	}
	if err := c.call(ctx, http.MethodPost, "/freeBusy", nil, body, &resp); err != nil {
		c.logger.Warn("FreeBusy degraded to assume-free: %v", err)
		return AssumeFree(window)
	}

	var busy []Interval
	for _, cal := range resp.Calendars {
		for _, b := range cal.Busy {
			busy = append(busy, Interval{Start: b.Start.UTC(), End: b.End.UTC()})
		}
	}
	return Availability{
		Free:      SubtractBusy(window, busy),
		Busy:      mergeIntervals(busy),
		Connected: true,
	}
}

// CreateEvent inserts an event into the configured calendar.
func (c *GoogleClient) CreateEvent(ctx context.Context, input EventInput) (string, error) {
	description := input.Description
	if input.ResourceLink != "" {
		description = fmt.Sprintf("%s\n\nResource: %s", description, input.ResourceLink)
	}
	body := map[string]any{
		"summary":     input.Summary,
		"description": description,
		"start":       map[string]string{"dateTime": input.Start.UTC().Format(time.RFC3339)},
		"end":         map[string]string{"dateTime": input.End.UTC().Format(time.RFC3339)},
	}

	var resp struct {
		ID string `json:"id"`
	}
	path := fmt.Sprintf("/calendars/%s/events", url.PathEscape(c.calendarID))
	if err := c.call(ctx, http.MethodPost, path, nil, body, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", genieerrors.New(genieerrors.KindFatalExternal, "calendar.CreateEvent", "provider returned no event id")
	}
	return resp.ID, nil
}

// UpdateEvent applies a partial update.
func (c *GoogleClient) UpdateEvent(ctx context.Context, eventID string, patch EventPatch) error {
	body := map[string]any{}
	if patch.Summary != nil {
		body["summary"] = *patch.Summary
	}
	if patch.Description != nil {
		body["description"] = *patch.Description
	}
	if patch.Start != nil {
		body["start"] = map[string]string{"dateTime": patch.Start.UTC().Format(time.RFC3339)}
	}
	if patch.End != nil {
		body["end"] = map[string]string{"dateTime": patch.End.UTC().Format(time.RFC3339)}
	}
	if len(body) == 0 {
		return nil
	}
	path := fmt.Sprintf("/calendars/%s/events/%s", url.PathEscape(c.calendarID), url.PathEscape(eventID))
	return c.call(ctx, http.MethodPatch, path, nil, body, nil)
}

// DeleteEvent removes an event. An already-deleted event is not an error.
func (c *GoogleClient) DeleteEvent(ctx context.Context, eventID string) error {
	path := fmt.Sprintf("/calendars/%s/events/%s", url.PathEscape(c.calendarID), url.PathEscape(eventID))
	err := c.call(ctx, http.MethodDelete, path, nil, nil, nil)
	if genieerrors.Is(err, genieerrors.KindNotFound) {
		return nil
	}
	return err
}

// ListEvents returns events overlapping the window.
func (c *GoogleClient) ListEvents(ctx context.Context, window Interval) ([]Event, error) {
	query := url.Values{
		"timeMin":      []string{window.Start.UTC().Format(time.RFC3339)},
		"timeMax":      []string{window.End.UTC().Format(time.RFC3339)},
		"singleEvents": []string{"true"},
		"orderBy":      []string{"startTime"},
	}

	var resp struct {
		Items []struct {
			ID          string `json:"id"`
			Summary     string `json:"summary"`
			Description string `json:"description"`
			Start       struct {
				DateTime time.Time `json:"dateTime"`
			} `json:"start"`
			End struct {
				DateTime time.Time `json:"dateTime"`
			} `json:"end"`
		} `json:"items"`
	}
	path := fmt.Sprintf("/calendars/%s/events", url.PathEscape(c.calendarID))
	if err := c.call(ctx, http.MethodGet, path, query, nil, &resp); err != nil {
		return nil, err
	}

	events := make([]Event, 0, len(resp.Items))
	for _, item := range resp.Items {
		events = append(events, Event{
			ID:          item.ID,
			Summary:     item.Summary,
			Description: item.Description,
			Start:       item.Start.DateTime.UTC(),
			End:         item.End.DateTime.UTC(),
		})
	}
	return events, nil
}

// call issues one authenticated request with retry on transient statuses,
// decoding the response into out when non-nil.
func (c *GoogleClient) call(ctx context.Context, method, path string, query url.Values, body, out any) error {
	op := "calendar." + method + " " + path
	token, err := c.accessToken()
	if err != nil {
		return err
	}

	var payload []byte
	if body != nil {
		payload, err = jsonx.Marshal(body)
		if err != nil {
			return genieerrors.Wrap(genieerrors.KindValidation, op, err, "marshal request")
		}
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	data, err := genieerrors.RetryWithResultAndLog(ctx, c.retry, func(ctx context.Context) ([]byte, error) {
		if err := c.breaker.Allow(); err != nil {
			return nil, err
		}
		result, err := c.doRequest(ctx, method, endpoint, token, payload, op)
		c.breaker.Mark(err)
		return result, err
	}, c.logger)
	if err != nil {
		return err
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := jsonx.Unmarshal(data, out); err != nil {
		return genieerrors.Wrap(genieerrors.KindFatalExternal, op, err, "decode response")
	}
	return nil
}

func (c *GoogleClient) doRequest(ctx context.Context, method, endpoint, token string, payload []byte, op string) ([]byte, error) {
	var reader *bytes.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, genieerrors.Wrap(genieerrors.KindValidation, op, err, "build request")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, genieerrors.Wrap(genieerrors.KindTimeout, op, err, "request cancelled")
		}
		return nil, genieerrors.Wrap(genieerrors.KindTransientExternal, op, err, "request failed")
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := httpclient.ReadAllWithLimit(resp.Body, maxResponseBytes)
	if err != nil {
		return nil, genieerrors.Wrap(genieerrors.KindTransientExternal, op, err, "read response")
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return data, nil
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, genieerrors.New(genieerrors.KindNotFound, op, "provider returned %d", resp.StatusCode)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, genieerrors.New(genieerrors.KindFatalExternal, op, "authentication failed with status %d", resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, genieerrors.New(genieerrors.KindTransientExternal, op, "provider returned %d", resp.StatusCode)
	default:
		return nil, genieerrors.New(genieerrors.KindFatalExternal, op, "provider returned %d: %s", resp.StatusCode, truncate(string(data), 200))
	}
}

// accessToken reads the OAuth token file, caching the value until a read
// fails. Missing tokens surface as fatal so FreeBusy degrades and writes
// fail loudly.
func (c *GoogleClient) accessToken() (string, error) {
	c.tokenMu.RLock()
	cached := c.token
	c.tokenMu.RUnlock()
	if cached != "" {
		return cached, nil
	}

	if c.tokenPath == "" {
		return "", genieerrors.New(genieerrors.KindFatalExternal, "calendar.token", "no calendar token configured")
	}
	data, err := os.ReadFile(expandHome(c.tokenPath))
	if err != nil {
		return "", genieerrors.Wrap(genieerrors.KindFatalExternal, "calendar.token", err, "read token file")
	}
	var tok tokenFile
	if err := jsonx.Unmarshal(data, &tok); err != nil {
		return "", genieerrors.Wrap(genieerrors.KindFatalExternal, "calendar.token", err, "parse token file")
	}
	if tok.AccessToken == "" {
		return "", genieerrors.New(genieerrors.KindFatalExternal, "calendar.token", "token file has no access_token")
	}

	c.tokenMu.Lock()
	c.token = tok.AccessToken
	c.tokenMu.Unlock()
	return tok.AccessToken, nil
}

// InvalidateToken drops the cached token so the next call re-reads the
// file. The serve loop calls this on auth failures.
func (c *GoogleClient) InvalidateToken() {
	c.tokenMu.Lock()
	c.token = ""
	c.tokenMu.Unlock()
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return home + path[1:]
		}
	}
	return path
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

var _ Client = (*GoogleClient)(nil)
