package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/referral/internal/apiclient"
	"github.com/roach88/referral/internal/attribution"
	"github.com/roach88/referral/internal/kv"
	"github.com/roach88/referral/internal/outcome"
	"github.com/roach88/referral/internal/referral"
	"github.com/roach88/referral/internal/rewards"
	"github.com/roach88/referral/internal/sdk"
	"github.com/roach88/referral/internal/sdkerr"
	"github.com/roach88/referral/internal/testutil"
)

// DefaultAPIKey is used by initialize steps that give no api_key.
const DefaultAPIKey = "test-key"

// Harness is the scenario execution engine.
type Harness struct {
	client  *sdk.Client
	backend *testutil.Backend
	store   *kv.Memory
	logger  *slog.Logger

	seq      int64
	consumed int // backend calls already copied into the trace
}

// completion is what one operation produced.
type completion struct {
	outcome string
	err     error
	value   string
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh store and backend, so scenarios are
// isolated and deterministic.
//
// Execution flow:
//  1. Seed the in-memory store and script the backend
//  2. Build an sdk.Client over them and the fixture binding
//  3. Run flow steps, checking expect clauses
//  4. Evaluate assertions
func Run(scenario *Scenario) (*Result, error) {
	policy, err := attribution.ParseRecordPolicy(scenario.RecordPolicy)
	if err != nil {
		return nil, err
	}

	backend := testutil.StartBackend()
	defer backend.Close()
	for path, responses := range scenario.Backend {
		scripted := make([]testutil.Response, len(responses))
		for i, r := range responses {
			scripted[i] = testutil.Response{Status: r.Status, Body: r.Body}
		}
		backend.Script(path, scripted...)
	}

	store := kv.NewMemory(scenario.Seed)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // Suppress logs in scenarios

	client := sdk.New(store, testutil.NewBinding(scenario.Platform), sdk.Options{
		API: apiclient.Config{
			BaseURL:    backend.URL(),
			HTTPClient: backend.Client(),
			RetryDelay: time.Millisecond,
			RequestIDs: &apiclient.SequenceGenerator{Prefix: "req"},
		},
		RecordPolicy: policy,
		Logger:       logger,
	})

	h := &Harness{
		client:  client,
		backend: backend,
		store:   store,
		logger:  logger,
	}

	ctx := context.Background()
	result := NewResult()
	for i, step := range scenario.Flow {
		h.executeStep(ctx, i, step, result)
	}

	result.State = store.Snapshot()
	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(errMsg)
	}
	return result, nil
}

// executeStep runs one flow step and appends its events to the trace.
func (h *Harness) executeStep(ctx context.Context, index int, step FlowStep, result *Result) {
	h.seq++
	result.Trace = append(result.Trace, TraceEvent{
		Seq:  h.seq,
		Type: EventInvoke,
		Op:   step.Op,
		Args: step.Args,
	})

	c := h.invoke(ctx, step)

	calls := h.backend.Calls()
	for _, call := range calls[h.consumed:] {
		h.seq++
		result.Trace = append(result.Trace, TraceEvent{
			Seq:       h.seq,
			Type:      EventRequest,
			Method:    call.Method,
			Endpoint:  call.Endpoint,
			RequestID: call.Header[strings.ToLower(apiclient.HeaderRequestID)],
			Body:      call.Body,
		})
	}
	h.consumed = len(calls)

	code := ""
	if c.err != nil {
		code = string(sdkerr.CodeOf(c.err))
	}
	h.seq++
	result.Trace = append(result.Trace, TraceEvent{
		Seq:     h.seq,
		Type:    EventComplete,
		Op:      step.Op,
		Outcome: c.outcome,
		Code:    code,
		Value:   c.value,
	})

	h.logger.Info("flow step completed", "step", index, "op", step.Op, "outcome", c.outcome)

	if step.Expect == nil {
		return
	}
	if step.Expect.Outcome != c.outcome {
		result.AddError(fmt.Sprintf("flow[%d] %s: expected outcome %s, got %s (err: %v)",
			index, step.Op, step.Expect.Outcome, c.outcome, c.err))
	}
	if step.Expect.Code != "" && step.Expect.Code != code {
		result.AddError(fmt.Sprintf("flow[%d] %s: expected code %s, got %q",
			index, step.Op, step.Expect.Code, code))
	}
	if step.Expect.Value != nil && *step.Expect.Value != c.value {
		result.AddError(fmt.Sprintf("flow[%d] %s: expected value %q, got %q",
			index, step.Op, *step.Expect.Value, c.value))
	}
}

// invoke dispatches one operation to the SDK client.
func (h *Harness) invoke(ctx context.Context, step FlowStep) completion {
	args := step.Args
	switch step.Op {
	case "initialize":
		key := args["api_key"]
		if key == "" {
			key = DefaultAPIKey
		}
		err := h.client.Initialize(ctx, key)
		return fromError(err, h.client.ActiveProduct())

	case "validate_code":
		ok, err := h.client.ValidateReferralCode(ctx, args["code"])
		return fromError(err, strconv.FormatBool(ok))

	case "clear_code":
		h.client.ClearReferralCode(ctx)
		return completion{outcome: OutcomeOk}

	case "register":
		resp, res := h.client.RegisterUser(ctx, referral.RegisterRequest{
			UserID:                args["user_id"],
			OriginalTransactionID: args["original_transaction_id"],
		})
		value := ""
		if resp != nil {
			value = resp.AppUserID
		}
		return fromResult(res, value)

	case "code":
		code, _, err := h.client.RegisteredUserReferralCode(ctx)
		return fromError(err, code)

	case "attribute":
		res := h.client.AttributePurchase(ctx, args["product_id"], args["transaction_id"])
		return fromResult(res, "")

	case "processed":
		ids, err := h.client.ProcessedTransactions(ctx)
		return fromError(err, strings.Join(ids, ","))

	case "active_product":
		return completion{outcome: OutcomeOk, value: h.client.ActiveProduct()}

	case "rewards":
		list, res := h.client.GetRewards(ctx)
		return fromResult(res, rewardIDs(list))

	case "redeem":
		purchase, err := h.client.RedeemRewardOffer(ctx, args["reward_id"])
		value := ""
		if purchase != nil {
			value = purchase.TransactionID
		}
		return fromError(err, value)
	}
	return completion{outcome: OutcomeError, err: fmt.Errorf("unknown op %q", step.Op)}
}

func fromError(err error, value string) completion {
	if err != nil {
		return completion{outcome: OutcomeError, err: err, value: value}
	}
	return completion{outcome: OutcomeOk, value: value}
}

func fromResult(res outcome.Result, value string) completion {
	return completion{outcome: res.Kind.String(), err: res.Err, value: value}
}

func rewardIDs(list rewards.List) string {
	ids := make([]string, len(list.Rewards))
	for i, r := range list.Rewards {
		ids[i] = r.RewardID
	}
	return strings.Join(ids, ",")
}
