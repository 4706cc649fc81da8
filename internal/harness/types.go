package harness

// Trace event types.
const (
	EventInvoke   = "invoke"
	EventRequest  = "request"
	EventComplete = "complete"
)

// TraceEvent is one entry of a scenario trace: an operation starting, a
// backend request it made, or the operation completing.
type TraceEvent struct {
	Seq  int64  `json:"seq"`
	Type string `json:"type"`

	// Invoke and complete events
	Op      string            `json:"op,omitempty"`
	Args    map[string]string `json:"args,omitempty"`
	Outcome string            `json:"outcome,omitempty"`
	Code    string            `json:"code,omitempty"`
	Value   string            `json:"value,omitempty"`

	// Request events
	Method    string         `json:"method,omitempty"`
	Endpoint  string         `json:"endpoint,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	Body      map[string]any `json:"body,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trace holds every event in order.
	Trace []TraceEvent `json:"trace"`

	// Errors holds expectation and assertion failures.
	Errors []string `json:"errors,omitempty"`

	// State is the key-value store after the flow.
	State map[string]string `json:"state,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		State:  make(map[string]string),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Requests returns the request events of the trace.
func (r *Result) Requests() []TraceEvent {
	var out []TraceEvent
	for _, e := range r.Trace {
		if e.Type == EventRequest {
			out = append(out, e)
		}
	}
	return out
}
