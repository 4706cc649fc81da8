package attribution

import "fmt"

// RecordPolicy decides when a transaction id joins the processed set.
type RecordPolicy int

const (
	// RecordAfterAttempt records the id once a report has been attempted,
	// whether or not it succeeded. A failed report is never retried, so each
	// transaction is reported at most once.
	RecordAfterAttempt RecordPolicy = iota

	// RecordAfterSuccess records the id only when the backend acknowledged the
	// report. A failed report is retried by the next call for the same id,
	// which may deliver it more than once if the backend saw the first attempt.
	RecordAfterSuccess
)

// String returns the policy's configuration name.
func (p RecordPolicy) String() string {
	switch p {
	case RecordAfterAttempt:
		return "after-attempt"
	case RecordAfterSuccess:
		return "after-success"
	default:
		return fmt.Sprintf("RecordPolicy(%d)", int(p))
	}
}

// ParseRecordPolicy parses a configuration name. The empty string selects
// RecordAfterAttempt.
func ParseRecordPolicy(s string) (RecordPolicy, error) {
	switch s {
	case "", "after-attempt":
		return RecordAfterAttempt, nil
	case "after-success":
		return RecordAfterSuccess, nil
	default:
		return 0, fmt.Errorf("unknown record policy %q (want after-attempt or after-success)", s)
	}
}
