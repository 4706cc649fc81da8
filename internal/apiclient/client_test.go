package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/referral/internal/sdkerr"
)

// newTestClient points a Client at handler with a 1ms retry delay.
func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := New(Config{
		BaseURL:    srv.URL,
		RetryDelay: time.Millisecond,
		HTTPClient: srv.Client(),
		RequestIDs: NewFixedGenerator("req-1", "req-2", "req-3"),
	})
	c.SetCredentials(Credentials{APIKey: "key-123", Platform: "ios"})
	return c
}

func TestDo_RetryBound(t *testing.T) {
	var attempts atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	err := c.Post(context.Background(), "/referral/key", nil, nil)

	require.Error(t, err)
	assert.Equal(t, int32(3), attempts.Load(), "1 initial attempt + 2 retries")
	assert.True(t, sdkerr.IsRequest(err))

	var se *sdkerr.Error
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusServiceUnavailable, se.Status)
	assert.Equal(t, 3, se.Attempts)
	assert.Equal(t, "/referral/key", se.Endpoint)
}

func TestDo_TransportFailureRetried(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close() // every dial now fails

	c := New(Config{BaseURL: url, RetryDelay: time.Millisecond})
	c.SetCredentials(Credentials{APIKey: "k", Platform: "ios"})

	err := c.Post(context.Background(), "/referral/purchase", map[string]string{"a": "b"}, nil)

	require.Error(t, err)
	var se *sdkerr.Error
	require.True(t, errors.As(err, &se))
	assert.Equal(t, sdkerr.CodeRequest, se.Code)
	assert.Equal(t, 0, se.Status)
	assert.Equal(t, 3, se.Attempts)
}

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	var attempts atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = io.WriteString(w, `{"valid":true}`)
	})

	var out struct {
		Valid bool `json:"valid"`
	}
	err := c.Post(context.Background(), "/referral/key", nil, &out)

	require.NoError(t, err)
	assert.True(t, out.Valid)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestDo_ParseErrorNotRetried(t *testing.T) {
	var attempts atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		_, _ = io.WriteString(w, "<html>not json</html>")
	})

	var out map[string]any
	err := c.Get(context.Background(), "/referral/rewards", &out)

	require.Error(t, err)
	assert.True(t, sdkerr.IsParse(err))
	assert.False(t, sdkerr.IsRequest(err))
	assert.Equal(t, int32(1), attempts.Load())
}

func TestDo_NilOutIgnoresBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "OK")
	})

	assert.NoError(t, c.Post(context.Background(), "/referral/rewards/redeem", map[string]string{"app_reward_id": "r1"}, nil))
}

func TestDo_AttachesHeadersAndBody(t *testing.T) {
	var (
		mu      sync.Mutex
		headers []http.Header
		bodies  []map[string]string
	)
	var attempts atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		headers = append(headers, r.Header.Clone())
		bodies = append(bodies, body)
		mu.Unlock()
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = io.WriteString(w, `{}`)
	})

	err := c.Post(context.Background(), "/referral/validate", map[string]string{"code": "ABC"}, nil)
	require.NoError(t, err)

	require.Len(t, headers, 2)
	for _, h := range headers {
		assert.Equal(t, "key-123", h.Get(HeaderAPIKey))
		assert.Equal(t, "ios", h.Get(HeaderPlatform))
		assert.Equal(t, "application/json", h.Get("Content-Type"))
		assert.Equal(t, "req-1", h.Get(HeaderRequestID), "retries reuse the request id")
	}
	assert.Equal(t, map[string]string{"code": "ABC"}, bodies[1])
}

func TestDo_RequiresCredentials(t *testing.T) {
	var attempts atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
	})
	c.SetCredentials(Credentials{})

	err := c.Post(context.Background(), "/referral/key", nil, nil)

	assert.True(t, sdkerr.IsConfiguration(err))
	assert.Equal(t, int32(0), attempts.Load())
}

func TestDo_ContextCancelledStopsRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var attempts atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		cancel()
		w.WriteHeader(http.StatusInternalServerError)
	})

	err := c.Post(ctx, "/referral/purchase", nil, nil)

	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.True(t, sdkerr.IsRequest(err))
	assert.Equal(t, int32(1), attempts.Load())
}

func TestNew_Defaults(t *testing.T) {
	c := New(Config{})

	assert.Equal(t, DefaultBaseURL, c.baseURL)
	assert.Equal(t, DefaultMaxRetries, c.maxRetries)
	assert.Equal(t, DefaultRetryDelay, c.retryDelay)
	assert.Equal(t, DefaultTimeout, c.http.Timeout)
	assert.IsType(t, UUIDv7Generator{}, c.ids)
}

func TestSequenceGenerator(t *testing.T) {
	g := &SequenceGenerator{Prefix: "req"}
	assert.Equal(t, "req-1", g.Generate())
	assert.Equal(t, "req-2", g.Generate())
}

func TestFixedGenerator_PanicsWhenExhausted(t *testing.T) {
	g := NewFixedGenerator("only")
	assert.Equal(t, "only", g.Generate())
	assert.Panics(t, func() { g.Generate() })
}
