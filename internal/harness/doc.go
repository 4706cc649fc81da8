// Package harness runs end-to-end scenarios against a full SDK session.
//
// Each scenario gets a fresh in-memory key-value store, a scripted fake
// backend (testutil.Backend) and a fixture platform binding. The flow's
// operations run against a real sdk.Client, and every backend request is
// recorded into the trace alongside the operation that caused it.
//
// # Scenario Format
//
//	name: referred_purchase
//	description: "A referred user's purchase is reported once"
//	record_policy: after-attempt
//	seed:
//	  APPOAUR_SDK_USER_ID: au_1
//	platform:
//	  purchases:
//	    - product_id: pro_monthly
//	      transaction_id: "1"
//	backend:
//	  /referral/key:
//	    - body: { valid: true }
//	  /referral/purchase:
//	    - status: 503
//	    - body: {}
//	flow:
//	  - op: initialize
//	  - op: attribute
//	    args: { product_id: pro_monthly, transaction_id: "1" }
//	    expect: { outcome: recoverable }
//	assertions:
//	  - type: request_count
//	    endpoint: /referral/purchase
//	    count: 3
//	  - type: final_state
//	    key: APPOSAUR_SDK_PROCESSED_TRANSACTIONS
//	    value: '["1"]'
//
// Backend responses for a path are served in order; the last one repeats.
// Unscripted paths answer 200 with an empty object.
//
// # Operations
//
// initialize, validate_code, clear_code, register, code, attribute,
// processed, active_product, rewards, redeem. See Ops for arguments.
//
// # Assertion Types
//
//   - request_count: the endpoint was requested exactly N times
//   - request_order: endpoints were first requested in this order
//   - request_contains: some request to the endpoint had this body (subset match)
//   - final_state: a store key holds a value, or is absent
//
// # Deterministic Testing
//
// Request ids come from apiclient.SequenceGenerator ("req-1", "req-2", ...)
// and retries wait 1ms, so traces are byte-stable for golden comparison.
package harness
