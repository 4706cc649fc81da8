package harness

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Request events for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nRequests:\n")
		for i, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %s %v\n", i+1, event.Method, event.Endpoint, event.Body)
		}
	}

	return buf.String()
}

// EvaluateAssertions checks every assertion against a finished result and
// returns one message per failure.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var failures []string
	for i, assertion := range assertions {
		var err error
		switch assertion.Type {
		case AssertRequestCount:
			err = assertRequestCount(result.Requests(), assertion)
		case AssertRequestOrder:
			err = assertRequestOrder(result.Requests(), assertion)
		case AssertRequestContains:
			err = assertRequestContains(result.Requests(), assertion)
		case AssertFinalState:
			err = assertFinalState(result.State, assertion)
		default:
			err = fmt.Errorf("unknown assertion type %q", assertion.Type)
		}
		if err != nil {
			failures = append(failures, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return failures
}

// requestPath strips the query string from a recorded endpoint.
func requestPath(endpoint string) string {
	if i := strings.IndexByte(endpoint, '?'); i >= 0 {
		return endpoint[:i]
	}
	return endpoint
}

// assertRequestCount checks the endpoint was requested exactly Count times.
// Retried attempts count individually.
func assertRequestCount(requests []TraceEvent, assertion Assertion) error {
	count := 0
	for _, r := range requests {
		if requestPath(r.Endpoint) == assertion.Endpoint {
			count++
		}
	}
	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertRequestCount,
			Expected: fmt.Sprintf("%d requests to %s", assertion.Count, assertion.Endpoint),
			Actual:   fmt.Sprintf("%d requests", count),
			Trace:    requests,
		}
	}
	return nil
}

// assertRequestOrder checks endpoints were first requested in the given
// order. Other requests may appear in between.
func assertRequestOrder(requests []TraceEvent, assertion Assertion) error {
	positions := make(map[string]int)
	for i, r := range requests {
		path := requestPath(r.Endpoint)
		if _, seen := positions[path]; !seen {
			positions[path] = i + 1
		}
	}

	for _, endpoint := range assertion.Endpoints {
		if positions[endpoint] == 0 {
			return &AssertionError{
				Type:     AssertRequestOrder,
				Expected: fmt.Sprintf("all endpoints requested: %v", assertion.Endpoints),
				Actual:   fmt.Sprintf("missing endpoint: %s", endpoint),
				Trace:    requests,
			}
		}
	}

	for i := 1; i < len(assertion.Endpoints); i++ {
		prev := assertion.Endpoints[i-1]
		curr := assertion.Endpoints[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertRequestOrder,
				Expected: fmt.Sprintf("endpoints in order: %v", assertion.Endpoints),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: requests,
			}
		}
	}
	return nil
}

// assertRequestContains checks some request to the endpoint carried a body
// containing every expected field.
func assertRequestContains(requests []TraceEvent, assertion Assertion) error {
	expected, err := normalize(assertion.Body)
	if err != nil {
		return fmt.Errorf("normalize expected body: %w", err)
	}
	for _, r := range requests {
		if requestPath(r.Endpoint) != assertion.Endpoint {
			continue
		}
		if matchBody(r.Body, expected) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertRequestContains,
		Expected: fmt.Sprintf("request to %s with body %v", assertion.Endpoint, assertion.Body),
		Actual:   "not found",
		Trace:    requests,
	}
}

// normalize gives YAML-decoded values the shapes encoding/json produces, so
// an expected 1 compares equal to a recorded float64(1).
func normalize(body map[string]any) (map[string]any, error) {
	if body == nil {
		return nil, nil
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// matchBody reports whether actual contains every key of expected with an
// equal value. An empty expectation matches any body.
func matchBody(actual, expected map[string]any) bool {
	for key, want := range expected {
		got, ok := actual[key]
		if !ok || !reflect.DeepEqual(got, want) {
			return false
		}
	}
	return true
}

// assertFinalState checks a store key after the flow.
func assertFinalState(state map[string]string, assertion Assertion) error {
	value, ok := state[assertion.Key]
	if assertion.Absent {
		if ok {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("%s absent", assertion.Key),
				Actual:   fmt.Sprintf("%s = %q", assertion.Key, value),
			}
		}
		return nil
	}

	if !ok {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("%s = %q", assertion.Key, *assertion.Value),
			Actual:   "key not stored",
		}
	}
	if value != *assertion.Value {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("%s = %q", assertion.Key, *assertion.Value),
			Actual:   fmt.Sprintf("%s = %q", assertion.Key, value),
		}
	}
	return nil
}
