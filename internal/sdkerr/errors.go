// Package sdkerr defines the error taxonomy shared by every referral component.
//
// All failures that cross a package boundary are *Error values carrying a Code.
// Callers classify them with the IsXxx helpers, which use errors.As and so see
// through fmt.Errorf wrapping.
package sdkerr

import (
	"errors"
	"fmt"
)

// Code categorizes an Error.
type Code string

const (
	// CodeConfiguration covers unsupported platforms, bad credentials and
	// failures to bring up the platform purchase connection.
	CodeConfiguration Code = "CONFIGURATION"

	// CodeRequest indicates a transport or HTTP failure after retries were exhausted.
	CodeRequest Code = "REQUEST"

	// CodeParse indicates a successful response whose body was not valid JSON.
	CodeParse Code = "PARSE"

	// CodePrecondition indicates an operation ran without the state it requires.
	CodePrecondition Code = "PRECONDITION"

	// CodeNoPurchasesFound indicates the platform reported no purchases.
	CodeNoPurchasesFound Code = "NO_PURCHASES_FOUND"
)

// Precondition reasons, stored under Details["reason"].
const (
	ReasonMissingUser         = "missing_user"
	ReasonMissingSubscription = "missing_subscription"
	ReasonMissingArgument     = "missing_argument"
)

// Error is the structured failure returned by SDK operations.
type Error struct {
	// Code identifies the error category.
	Code Code

	// Message is a human-readable description.
	Message string

	// Endpoint is the backend path for request and parse errors.
	Endpoint string

	// Status is the last HTTP status seen; 0 for transport failures.
	Status int

	// Attempts is how many times the request was sent.
	Attempts int

	// Details contains additional context.
	Details map[string]string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Endpoint != "" {
		msg = fmt.Sprintf("%s (endpoint=%s", msg, e.Endpoint)
		if e.Status != 0 {
			msg = fmt.Sprintf("%s, status=%d", msg, e.Status)
		}
		if e.Attempts != 0 {
			msg = fmt.Sprintf("%s, attempts=%d", msg, e.Attempts)
		}
		msg += ")"
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Reason returns Details["reason"], or "" if unset.
func (e *Error) Reason() string {
	if e.Details == nil {
		return ""
	}
	return e.Details["reason"]
}

// ErrNoPurchasesFound is returned when the platform has no purchases for this device.
var ErrNoPurchasesFound = &Error{Code: CodeNoPurchasesFound, Message: "no purchases found"}

// Configuration creates a configuration error.
func Configuration(message string, err error) *Error {
	return &Error{Code: CodeConfiguration, Message: message, Err: err}
}

// Request creates a request error for endpoint. status is 0 for transport failures.
func Request(endpoint string, status int, err error) *Error {
	msg := "request failed"
	if status != 0 {
		msg = fmt.Sprintf("unexpected HTTP status %d", status)
	}
	return &Error{Code: CodeRequest, Message: msg, Endpoint: endpoint, Status: status, Err: err}
}

// Parse creates a parse error for a response body from endpoint.
func Parse(endpoint string, err error) *Error {
	return &Error{Code: CodeParse, Message: "response body is not valid JSON", Endpoint: endpoint, Err: err}
}

// Precondition creates a precondition error with the given reason.
func Precondition(reason, message string) *Error {
	return &Error{
		Code:    CodePrecondition,
		Message: message,
		Details: map[string]string{"reason": reason},
	}
}

// MissingUser is the precondition error for operations that need a registered user.
func MissingUser() *Error {
	return Precondition(ReasonMissingUser, "app user id not found")
}

// MissingSubscription is the precondition error for operations that need an active subscription.
func MissingSubscription() *Error {
	return Precondition(ReasonMissingSubscription, "no active subscription found")
}

func hasCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// IsConfiguration reports whether err is a configuration error.
func IsConfiguration(err error) bool { return hasCode(err, CodeConfiguration) }

// IsRequest reports whether err is a request error.
func IsRequest(err error) bool { return hasCode(err, CodeRequest) }

// IsParse reports whether err is a parse error.
func IsParse(err error) bool { return hasCode(err, CodeParse) }

// IsPrecondition reports whether err is a precondition error.
func IsPrecondition(err error) bool { return hasCode(err, CodePrecondition) }

// IsNoPurchasesFound reports whether err is a no-purchases error.
func IsNoPurchasesFound(err error) bool { return hasCode(err, CodeNoPurchasesFound) }

// HasReason reports whether err is a precondition error with the given reason.
func HasReason(err error, reason string) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == CodePrecondition && e.Reason() == reason
	}
	return false
}

// CodeOf returns the Code of err, or "" if err is not an *Error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
