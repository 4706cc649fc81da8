package testutil

// FixedRequestID returns the same request id every time.
//
// Unlike apiclient.FixedGenerator, which returns ids in sequence and panics
// when they run out, this generator never runs out. Use it when a test sends
// an unknown number of requests but still needs byte-stable output.
//
// Implements apiclient.RequestIDGenerator.
//
// Thread-safety: FixedRequestID is stateless and safe for concurrent use.
type FixedRequestID string

// Generate returns the fixed id, or "test-request" when empty.
func (id FixedRequestID) Generate() string {
	if id == "" {
		return "test-request"
	}
	return string(id)
}
