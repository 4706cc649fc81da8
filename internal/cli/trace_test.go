package cli

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/referral/internal/harness"
)

const retryScenario = `name: retry
description: "A failing purchase report is retried under one request id"
seed:
  APPOAUR_SDK_USER_ID: au_1
backend:
  /referral/key:
    - body: { valid: true }
  /referral/purchase:
    - status: 500
flow:
  - op: initialize
  - op: attribute
    args: { product_id: prod_x, transaction_id: tx_9 }
    expect: { outcome: recoverable, code: REQUEST }
assertions:
  - type: request_count
    endpoint: /referral/purchase
    count: 3
`

func TestTraceMissingArgs(t *testing.T) {
	cmd := NewTraceCommand(&RootOptions{Format: "text"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}

func TestTraceMissingScenario(t *testing.T) {
	cmd := NewTraceCommand(&RootOptions{Format: "text"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"/nonexistent/scenario.yaml"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load scenario")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTraceUnknownOp(t *testing.T) {
	path := writeScenario(t, t.TempDir(), "retry.yaml", retryScenario)

	cmd := NewTraceCommand(&RootOptions{Format: "text"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{path, "--op", "purchase"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown op "purchase"`)
}

func TestTraceText(t *testing.T) {
	path := writeScenario(t, t.TempDir(), "retry.yaml", retryScenario)

	buf := &bytes.Buffer{}
	cmd := NewTraceCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{path})

	require.NoError(t, cmd.Execute())

	output := buf.String()
	assert.Contains(t, output, "Trace for Scenario: retry")
	assert.Contains(t, output, "Status: PASS")
	assert.Contains(t, output, "attribute product_id=prod_x transaction_id=tx_9")
	assert.Contains(t, output, "-> POST /referral/purchase (req-2)")
	assert.Contains(t, output, "attribute: recoverable [REQUEST]")
	assert.Contains(t, output, "Operations:   2")
	assert.Contains(t, output, "Requests:     4")
	assert.Contains(t, output, "Retries:      2")
}

func TestTraceJSONWithOpFilter(t *testing.T) {
	path := writeScenario(t, t.TempDir(), "retry.yaml", retryScenario)

	buf := &bytes.Buffer{}
	cmd := NewTraceCommand(&RootOptions{Format: "json"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{path, "--op", "attribute"})

	require.NoError(t, cmd.Execute())

	var response struct {
		Status string      `json:"status"`
		Data   TraceResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &response))
	assert.Equal(t, "ok", response.Status)
	assert.True(t, response.Data.Pass)

	timeline := response.Data.Timeline
	require.Len(t, timeline, 5)
	assert.Equal(t, harness.EventInvoke, timeline[0].Type)
	assert.Equal(t, "attribute", timeline[0].Op)
	for _, e := range timeline[1:4] {
		assert.Equal(t, harness.EventRequest, e.Type)
		assert.Equal(t, "req-2", e.RequestID)
	}
	assert.Equal(t, harness.EventComplete, timeline[4].Type)

	// Stats cover the whole scenario, not just the filtered events.
	assert.Equal(t, 2, response.Data.Stats.Operations)
}

func TestTraceStats(t *testing.T) {
	events := []harness.TraceEvent{
		{Seq: 1, Type: harness.EventInvoke, Op: "initialize"},
		{Seq: 2, Type: harness.EventRequest, RequestID: "req-1"},
		{Seq: 3, Type: harness.EventRequest, RequestID: "req-1"},
		{Seq: 4, Type: harness.EventRequest, RequestID: "req-2"},
		{Seq: 5, Type: harness.EventComplete, Op: "initialize"},
	}

	assert.Equal(t, TraceStats{TotalEvents: 5, Operations: 1, Requests: 3, Retries: 1}, traceStats(events))
}

func TestFormatArgs(t *testing.T) {
	assert.Equal(t, "", formatArgs(nil))
	assert.Equal(t, "a=1 b=2", formatArgs(map[string]string{"b": "2", "a": "1"}))
}
