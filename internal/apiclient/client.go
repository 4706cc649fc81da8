// Package apiclient is the JSON HTTP client for the referral backend.
//
// Every request carries the session credentials and is retried a bounded
// number of times with a fixed delay. Failures surface as *sdkerr.Error values
// with code REQUEST (transport/status) or PARSE (2xx body that is not JSON).
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/roach88/referral/internal/metrics"
	"github.com/roach88/referral/internal/sdkerr"
)

// DefaultBaseURL is the production backend.
const DefaultBaseURL = "https://api.apposaur.io/sdk"

// Headers attached to every request.
const (
	HeaderAPIKey    = "x-api-key"
	HeaderPlatform  = "x-sdk-platform"
	HeaderRequestID = "x-request-id"
)

// Retry and timeout defaults.
const (
	DefaultMaxRetries = 2 // 3 attempts in total
	DefaultRetryDelay = 500 * time.Millisecond
	DefaultTimeout    = 10 * time.Second
)

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 1 << 20

// Credentials identify the app and platform on every request.
type Credentials struct {
	APIKey   string
	Platform string
}

// Config configures a Client. Zero fields take the defaults above.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	RetryDelay time.Duration
	MaxRetries int

	// HTTPClient overrides the transport (tests use httptest servers).
	// When set, Timeout is ignored.
	HTTPClient *http.Client

	RequestIDs RequestIDGenerator
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
}

// Client sends JSON requests to the referral backend.
//
// Thread-safety: safe for concurrent use. Credentials may be replaced by
// SetCredentials at any time; in-flight requests keep the ones they started with.
type Client struct {
	baseURL    string
	http       *http.Client
	retryDelay time.Duration
	maxRetries int
	ids        RequestIDGenerator
	log        *slog.Logger
	metrics    *metrics.Metrics

	mu    sync.RWMutex
	creds Credentials
}

// New creates a Client from cfg.
func New(cfg Config) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		http:       cfg.HTTPClient,
		retryDelay: cfg.RetryDelay,
		maxRetries: cfg.MaxRetries,
		ids:        cfg.RequestIDs,
		log:        cfg.Logger,
		metrics:    cfg.Metrics,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.http == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		c.http = &http.Client{Timeout: timeout}
	}
	if c.retryDelay <= 0 {
		c.retryDelay = DefaultRetryDelay
	}
	if c.maxRetries <= 0 {
		c.maxRetries = DefaultMaxRetries
	}
	if c.ids == nil {
		c.ids = UUIDv7Generator{}
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	return c
}

// SetCredentials replaces the credentials attached to outgoing requests.
func (c *Client) SetCredentials(creds Credentials) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.creds = creds
}

// Credentials returns the current credentials.
func (c *Client) Credentials() Credentials {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.creds
}

// Get performs a GET request and decodes the response into out.
func (c *Client) Get(ctx context.Context, endpoint string, out any) error {
	return c.Do(ctx, http.MethodGet, endpoint, nil, out)
}

// Post performs a POST request with a JSON body and decodes the response into out.
func (c *Client) Post(ctx context.Context, endpoint string, body, out any) error {
	return c.Do(ctx, http.MethodPost, endpoint, body, out)
}

// Do sends one logical request, retrying transport failures and non-2xx
// responses up to MaxRetries times with a fixed delay.
//
// body is JSON-encoded when non-nil. When out is nil the response body is
// discarded; otherwise it must be valid JSON or Do returns a PARSE error.
// A parse failure is never retried: the backend already accepted the request.
func (c *Client) Do(ctx context.Context, method, endpoint string, body, out any) error {
	creds := c.Credentials()
	if creds.APIKey == "" {
		return sdkerr.Configuration("client has no credentials; call Initialize first", nil)
	}

	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("apiclient: encoding %s body: %w", endpoint, err)
		}
		payload = data
	}

	// One id per logical request so retries correlate on the backend
	requestID := c.ids.Generate()

	var (
		raw      []byte
		attempts int
	)
	operation := func() error {
		attempts++
		data, err := c.send(ctx, method, endpoint, payload, creds, requestID)
		if err != nil {
			c.metrics.APIAttempt(endpoint, "error")
			return err
		}
		c.metrics.APIAttempt(endpoint, "ok")
		raw = data
		return nil
	}
	notify := func(err error, wait time.Duration) {
		c.log.Warn("request failed, retrying",
			"endpoint", endpoint,
			"method", method,
			"attempt", attempts,
			"retry_in", wait,
			"error", err,
		)
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.retryDelay), uint64(c.maxRetries)),
		ctx,
	)
	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		var se *sdkerr.Error
		if !errors.As(err, &se) {
			// Context cancellation surfaces as a bare ctx error
			se = sdkerr.Request(endpoint, 0, err)
			err = se
		}
		se.Attempts = attempts
		c.log.Error("request failed after retries",
			"endpoint", endpoint,
			"method", method,
			"attempts", attempts,
			"error", err,
		)
		return err
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return sdkerr.Parse(endpoint, err)
	}
	return nil
}

// send performs a single HTTP attempt and returns the body of a 2xx response.
func (c *Client) send(ctx context.Context, method, endpoint string, payload []byte, creds Credentials, requestID string) ([]byte, error) {
	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, bodyReader)
	if err != nil {
		return nil, backoff.Permanent(sdkerr.Request(endpoint, 0, fmt.Errorf("building request: %w", err)))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderAPIKey, creds.APIKey)
	req.Header.Set(HeaderPlatform, creds.Platform)
	req.Header.Set(HeaderRequestID, requestID)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, sdkerr.Request(endpoint, 0, err)
	}
	defer resp.Body.Close()

	data, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, sdkerr.Request(endpoint, resp.StatusCode, bodyError(data))
	}
	if readErr != nil {
		return nil, &sdkerr.Error{
			Code:     sdkerr.CodeRequest,
			Message:  "reading response body",
			Endpoint: endpoint,
			Status:   resp.StatusCode,
			Err:      readErr,
		}
	}
	return data, nil
}

// bodyError turns an error response body into a short error, or nil if empty.
func bodyError(data []byte) error {
	msg := strings.TrimSpace(string(data))
	if msg == "" {
		return nil
	}
	if len(msg) > 256 {
		msg = msg[:256] + "...(truncated)"
	}
	return errors.New(msg)
}
