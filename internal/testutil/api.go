package testutil

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
)

// Call is one request recorded by FakeAPI or Backend.
type Call struct {
	Method   string         `json:"method"`
	Endpoint string         `json:"endpoint"`
	Body     map[string]any `json:"body,omitempty"`

	// Header holds the SDK's x- headers as seen by Backend. FakeAPI leaves it nil.
	Header map[string]string `json:"header,omitempty"`
}

// Path returns the endpoint without its query string.
func (c Call) Path() string {
	path, _, _ := strings.Cut(c.Endpoint, "?")
	return path
}

// Responder produces the response for a call. A nil response with a nil
// error acknowledges the call without a body.
type Responder func(call Call) (any, error)

// FakeAPI is an in-process stand-in for apiclient.Client.
//
// Responses are registered per path with On, Reply or Fail; unregistered
// paths are acknowledged with no body. Every call is recorded.
//
// Thread-safety: safe for concurrent use.
type FakeAPI struct {
	mu         sync.Mutex
	calls      []Call
	responders map[string]Responder
}

// NewFakeAPI creates a FakeAPI with no responders.
func NewFakeAPI() *FakeAPI {
	return &FakeAPI{responders: make(map[string]Responder)}
}

// On registers r for path (query strings are ignored when matching).
func (f *FakeAPI) On(path string, r Responder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responders[path] = r
}

// Reply makes every call to path succeed with resp.
func (f *FakeAPI) Reply(path string, resp any) {
	f.On(path, func(Call) (any, error) { return resp, nil })
}

// Fail makes every call to path fail with err.
func (f *FakeAPI) Fail(path string, err error) {
	f.On(path, func(Call) (any, error) { return nil, err })
}

// Get records a GET and decodes the registered response into out.
func (f *FakeAPI) Get(ctx context.Context, endpoint string, out any) error {
	return f.do(ctx, http.MethodGet, endpoint, nil, out)
}

// Post records a POST and decodes the registered response into out.
func (f *FakeAPI) Post(ctx context.Context, endpoint string, body, out any) error {
	return f.do(ctx, http.MethodPost, endpoint, body, out)
}

func (f *FakeAPI) do(ctx context.Context, method, endpoint string, body, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	call := Call{Method: method, Endpoint: endpoint}
	if body != nil {
		// Round-trip through JSON so tests assert on the wire shape
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(data, &call.Body); err != nil {
			return err
		}
	}

	f.mu.Lock()
	f.calls = append(f.calls, call)
	r := f.responders[call.Path()]
	f.mu.Unlock()

	if r == nil {
		return nil
	}
	resp, err := r(call)
	if err != nil {
		return err
	}
	if resp == nil || out == nil {
		return nil
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// Calls returns every recorded call in order.
func (f *FakeAPI) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallsTo returns the recorded calls whose path equals path.
func (f *FakeAPI) CallsTo(path string) []Call {
	var out []Call
	for _, c := range f.Calls() {
		if c.Path() == path {
			out = append(out, c)
		}
	}
	return out
}
