// Package outcome makes the lenient/strict split of SDK operations visible in types.
//
// Best-effort operations (registration, purchase reporting, reward queries)
// return a Result instead of an error. A Recoverable result has already been
// logged and must not block the caller; a Fatal result is one the caller is
// expected to propagate.
package outcome

// Kind classifies a Result.
type Kind int

const (
	// Ok means the operation completed, including deliberate no-ops.
	Ok Kind = iota

	// Recoverable means the operation failed, was logged, and the caller is unaffected.
	Recoverable

	// Fatal means the operation failed in a way the caller should propagate.
	Fatal
)

// String returns the lowercase name of the kind.
func (k Kind) String() string {
	switch k {
	case Ok:
		return "ok"
	case Recoverable:
		return "recoverable"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Result is the outcome of a best-effort operation.
type Result struct {
	Kind Kind
	Err  error
}

// OK returns a successful Result.
func OK() Result {
	return Result{Kind: Ok}
}

// Recover returns a Recoverable Result wrapping err.
func Recover(err error) Result {
	return Result{Kind: Recoverable, Err: err}
}

// Fail returns a Fatal Result wrapping err.
func Fail(err error) Result {
	return Result{Kind: Fatal, Err: err}
}

// IsOk reports whether the operation succeeded.
func (r Result) IsOk() bool {
	return r.Kind == Ok
}

// FatalErr returns the error only when the Result is Fatal.
// Recoverable failures yield nil so callers can write `if err := r.FatalErr(); err != nil`.
func (r Result) FatalErr() error {
	if r.Kind == Fatal {
		return r.Err
	}
	return nil
}
