package harness

import (
	"bytes"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/roach88/referral/internal/attribution"
	"github.com/roach88/referral/internal/platform"
)

// Scenario defines an end-to-end SDK scenario.
type Scenario struct {
	// Name uniquely identifies this scenario. Used as the golden file name.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// RecordPolicy selects the attribution record policy
	// ("after-attempt" or "after-success"). Empty means after-attempt.
	RecordPolicy string `yaml:"record_policy,omitempty"`

	// Seed pre-populates the key-value store, simulating state left by an
	// earlier process.
	Seed map[string]string `yaml:"seed,omitempty"`

	// Platform describes the simulated store account. Nil is an empty iOS account.
	Platform *platform.Fixture `yaml:"platform,omitempty"`

	// Backend scripts responses per endpoint path.
	Backend map[string][]ScriptedResponse `yaml:"backend,omitempty"`

	// Flow is the sequence of SDK operations to run.
	Flow []FlowStep `yaml:"flow"`

	// Assertions validate the requests made and the final store state.
	Assertions []Assertion `yaml:"assertions"`
}

// ScriptedResponse is one backend answer. A zero Status means 200.
type ScriptedResponse struct {
	Status int `yaml:"status,omitempty"`
	Body   any `yaml:"body,omitempty"`
}

// FlowStep invokes one SDK operation.
type FlowStep struct {
	// Op is the operation name; see Ops.
	Op string `yaml:"op"`

	// Args are the operation's string arguments.
	Args map[string]string `yaml:"args,omitempty"`

	// Expect validates the completion. If nil, any outcome is accepted.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause specifies the expected completion.
type ExpectClause struct {
	// Outcome is "ok", "recoverable", "fatal" or "error".
	Outcome string `yaml:"outcome"`

	// Code is the expected sdkerr code, e.g. "PRECONDITION". Optional.
	Code string `yaml:"code,omitempty"`

	// Value is the expected operation value. Optional; "" is a valid expectation.
	Value *string `yaml:"value,omitempty"`
}

// Assertion validates requests or final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Endpoint is a request path (request_count, request_contains).
	Endpoint string `yaml:"endpoint,omitempty"`

	// Count is the expected number of requests (request_count).
	Count int `yaml:"count,omitempty"`

	// Endpoints is the expected first-request order (request_order).
	Endpoints []string `yaml:"endpoints,omitempty"`

	// Body is the expected request body, subset match (request_contains).
	Body map[string]any `yaml:"body,omitempty"`

	// Key is the store key (final_state).
	Key string `yaml:"key,omitempty"`

	// Value is the expected stored value (final_state).
	Value *string `yaml:"value,omitempty"`

	// Absent asserts the key is not stored (final_state).
	Absent bool `yaml:"absent,omitempty"`
}

// Assertion type constants.
const (
	AssertRequestCount    = "request_count"
	AssertRequestOrder    = "request_order"
	AssertRequestContains = "request_contains"
	AssertFinalState      = "final_state"
)

// Expected outcome names. OutcomeError is used by operations that return a
// plain error rather than an outcome.Result.
const (
	OutcomeOk          = "ok"
	OutcomeRecoverable = "recoverable"
	OutcomeFatal       = "fatal"
	OutcomeError       = "error"
)

// Ops maps each operation name to the arguments it accepts.
var Ops = map[string][]string{
	"initialize":     {"api_key"},
	"validate_code":  {"code"},
	"clear_code":     {},
	"register":       {"user_id", "original_transaction_id"},
	"code":           {},
	"attribute":      {"product_id", "transaction_id"},
	"processed":      {},
	"active_product": {},
	"rewards":        {},
	"redeem":         {"reward_id"},
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML with the same rules as LoadScenario.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Platform != nil && scenario.Platform.OS == "" {
		scenario.Platform.OS = platform.OSiOS
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	if _, err := attribution.ParseRecordPolicy(s.RecordPolicy); err != nil {
		return err
	}

	for i, step := range s.Flow {
		allowed, ok := Ops[step.Op]
		if !ok {
			return fmt.Errorf("flow[%d]: unknown op %q", i, step.Op)
		}
		for name := range step.Args {
			if !slices.Contains(allowed, name) {
				return fmt.Errorf("flow[%d]: op %s does not take argument %q", i, step.Op, name)
			}
		}
		if step.Expect != nil {
			switch step.Expect.Outcome {
			case OutcomeOk, OutcomeRecoverable, OutcomeFatal, OutcomeError:
			default:
				return fmt.Errorf("flow[%d].expect: unknown outcome %q", i, step.Expect.Outcome)
			}
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertRequestCount:
		if a.Endpoint == "" {
			return fmt.Errorf("assertions[%d]: endpoint is required for request_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for request_count", index)
		}
	case AssertRequestOrder:
		if len(a.Endpoints) == 0 {
			return fmt.Errorf("assertions[%d]: endpoints list is required for request_order", index)
		}
	case AssertRequestContains:
		if a.Endpoint == "" {
			return fmt.Errorf("assertions[%d]: endpoint is required for request_contains", index)
		}
	case AssertFinalState:
		if a.Key == "" {
			return fmt.Errorf("assertions[%d]: key is required for final_state", index)
		}
		if (a.Value == nil) == !a.Absent {
			return fmt.Errorf("assertions[%d]: final_state needs exactly one of value or absent", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
