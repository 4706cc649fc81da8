package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// Response is a scripted HTTP response. A zero Status means 200.
type Response struct {
	Status int
	Body   any
}

// BackendResponder produces the response for a recorded call.
type BackendResponder func(call Call) Response

// Backend is an httptest server standing in for the referral backend.
//
// Unregistered paths answer 200 with an empty JSON object. Every request is
// recorded with its decoded JSON body and x- headers.
type Backend struct {
	srv *httptest.Server

	mu         sync.Mutex
	calls      []Call
	responders map[string]BackendResponder
}

// NewBackend starts a Backend that is closed when t finishes.
func NewBackend(t testing.TB) *Backend {
	t.Helper()
	b := StartBackend()
	t.Cleanup(b.Close)
	return b
}

// StartBackend starts a Backend outside of a test. Call Close when done.
func StartBackend() *Backend {
	b := &Backend{responders: make(map[string]BackendResponder)}
	b.srv = httptest.NewServer(http.HandlerFunc(b.serve))
	return b
}

// Close shuts the server down.
func (b *Backend) Close() {
	b.srv.Close()
}

// URL returns the server's base URL.
func (b *Backend) URL() string {
	return b.srv.URL
}

// Client returns an http.Client configured for the server.
func (b *Backend) Client() *http.Client {
	return b.srv.Client()
}

// On registers r for path.
func (b *Backend) On(path string, r BackendResponder) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.responders[path] = r
}

// Reply makes path answer 200 with body.
func (b *Backend) Reply(path string, body any) {
	b.On(path, func(Call) Response { return Response{Body: body} })
}

// Status makes path answer status with an empty body.
func (b *Backend) Status(path string, status int) {
	b.On(path, func(Call) Response { return Response{Status: status} })
}

// Script makes path answer with responses in order. Once they run out the
// last one repeats. Retried requests consume one response per attempt.
func (b *Backend) Script(path string, responses ...Response) {
	if len(responses) == 0 {
		return
	}
	var (
		mu   sync.Mutex
		next int
	)
	b.On(path, func(Call) Response {
		mu.Lock()
		defer mu.Unlock()
		resp := responses[min(next, len(responses)-1)]
		next++
		return resp
	})
}

// Calls returns every recorded call in order.
func (b *Backend) Calls() []Call {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Call, len(b.calls))
	copy(out, b.calls)
	return out
}

// CallsTo returns the recorded calls whose path equals path.
func (b *Backend) CallsTo(path string) []Call {
	var out []Call
	for _, c := range b.Calls() {
		if c.Path() == path {
			out = append(out, c)
		}
	}
	return out
}

func (b *Backend) serve(w http.ResponseWriter, r *http.Request) {
	call := Call{
		Method:   r.Method,
		Endpoint: r.URL.RequestURI(),
		Header:   make(map[string]string),
	}
	for name, values := range r.Header {
		name = strings.ToLower(name)
		if strings.HasPrefix(name, "x-") && len(values) > 0 {
			call.Header[name] = values[0]
		}
	}
	if data, err := io.ReadAll(r.Body); err == nil && len(data) > 0 {
		if err := json.Unmarshal(data, &call.Body); err != nil {
			http.Error(w, "body is not a JSON object", http.StatusBadRequest)
			return
		}
	}

	b.mu.Lock()
	b.calls = append(b.calls, call)
	responder := b.responders[call.Path()]
	b.mu.Unlock()

	resp := Response{Body: map[string]any{}}
	if responder != nil {
		resp = responder(call)
	}
	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if resp.Body != nil {
		_ = json.NewEncoder(w).Encode(resp.Body)
	}
}
