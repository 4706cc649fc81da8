package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(s string) *string { return &s }

func sampleResult() *Result {
	r := NewResult()
	r.Trace = []TraceEvent{
		{Seq: 1, Type: EventInvoke, Op: "initialize"},
		{Seq: 2, Type: EventRequest, Method: "POST", Endpoint: "/referral/key", RequestID: "req-1"},
		{Seq: 3, Type: EventComplete, Op: "initialize", Outcome: OutcomeOk},
		{Seq: 4, Type: EventInvoke, Op: "attribute"},
		{Seq: 5, Type: EventRequest, Method: "POST", Endpoint: "/referral/purchase", RequestID: "req-2",
			Body: map[string]any{"app_user_id": "au_1", "product_id": "p", "transaction_id": "1", "count": float64(2)}},
		{Seq: 6, Type: EventRequest, Method: "POST", Endpoint: "/referral/purchase", RequestID: "req-2",
			Body: map[string]any{"app_user_id": "au_1", "product_id": "p", "transaction_id": "1", "count": float64(2)}},
		{Seq: 7, Type: EventComplete, Op: "attribute", Outcome: OutcomeOk},
		{Seq: 8, Type: EventRequest, Method: "GET", Endpoint: "/referral/rewards?app_user_id=au_1"},
	}
	r.State = map[string]string{"K": "v"}
	return r
}

func TestResult_Requests(t *testing.T) {
	requests := sampleResult().Requests()
	require.Len(t, requests, 4)
	for _, r := range requests {
		assert.Equal(t, EventRequest, r.Type)
	}
}

func TestEvaluateAssertions(t *testing.T) {
	tests := []struct {
		name      string
		assertion Assertion
		wantErr   string
	}{
		{"count matches", Assertion{Type: AssertRequestCount, Endpoint: "/referral/purchase", Count: 2}, ""},
		{"count ignores query", Assertion{Type: AssertRequestCount, Endpoint: "/referral/rewards", Count: 1}, ""},
		{"count zero", Assertion{Type: AssertRequestCount, Endpoint: "/referral/rewards/redeem", Count: 0}, ""},
		{"count mismatch", Assertion{Type: AssertRequestCount, Endpoint: "/referral/purchase", Count: 1}, "2 requests"},

		{"order holds", Assertion{Type: AssertRequestOrder, Endpoints: []string{"/referral/key", "/referral/rewards"}}, ""},
		{"order reversed", Assertion{Type: AssertRequestOrder, Endpoints: []string{"/referral/purchase", "/referral/key"}}, "should be before"},
		{"order missing", Assertion{Type: AssertRequestOrder, Endpoints: []string{"/referral/sign"}}, "missing endpoint: /referral/sign"},

		{"contains subset", Assertion{Type: AssertRequestContains, Endpoint: "/referral/purchase",
			Body: map[string]any{"transaction_id": "1"}}, ""},
		{"contains yaml int", Assertion{Type: AssertRequestContains, Endpoint: "/referral/purchase",
			Body: map[string]any{"count": 2}}, ""},
		{"contains no body", Assertion{Type: AssertRequestContains, Endpoint: "/referral/key"}, ""},
		{"contains wrong value", Assertion{Type: AssertRequestContains, Endpoint: "/referral/purchase",
			Body: map[string]any{"transaction_id": "2"}}, "not found"},

		{"state value", Assertion{Type: AssertFinalState, Key: "K", Value: ptr("v")}, ""},
		{"state wrong value", Assertion{Type: AssertFinalState, Key: "K", Value: ptr("w")}, `K = "v"`},
		{"state missing", Assertion{Type: AssertFinalState, Key: "X", Value: ptr("v")}, "key not stored"},
		{"state absent", Assertion{Type: AssertFinalState, Key: "X", Absent: true}, ""},
		{"state present", Assertion{Type: AssertFinalState, Key: "K", Absent: true}, "K absent"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			failures := EvaluateAssertions(sampleResult(), []Assertion{tt.assertion})
			if tt.wantErr == "" {
				assert.Empty(t, failures)
				return
			}
			require.Len(t, failures, 1)
			assert.Contains(t, failures[0], tt.wantErr)
		})
	}
}

func TestAssertionError_ListsRequests(t *testing.T) {
	err := &AssertionError{
		Type:     AssertRequestCount,
		Expected: "1 requests to /referral/purchase",
		Actual:   "2 requests",
		Trace:    sampleResult().Requests(),
	}
	msg := err.Error()
	assert.Contains(t, msg, "Assertion failed: request_count")
	assert.Contains(t, msg, "[2] POST /referral/purchase")
}
