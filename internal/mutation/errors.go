package mutation

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Kind classifies a mutation failure. The kind is always determinable from a returned error via [KindOf].
type Kind int

const (
	KindUnknown Kind = iota
	InvalidInput
	NetworkFailure
	NeedStepUp
	RateLimited
	TransientServerFault
	ProtocolViolation
	TerminalClientError
)

var kindNames = map[Kind]string{
	KindUnknown:          "unknown",
	InvalidInput:         "invalid_input",
	NetworkFailure:       "network_failure",
	NeedStepUp:           "need_step_up",
	RateLimited:          "rate_limited",
	TransientServerFault: "transient_server_fault",
	ProtocolViolation:    "protocol_violation",
	TerminalClientError:  "terminal_client_error",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is the structured failure returned by every pipeline stage.
type Error struct {
	Kind Kind
	// Op is the operation name, e.g. "mfa-verify".
	Op string
	// Status is the HTTP status, zero when none was obtained.
	Status int
	// Code is the application error code from the response body, if any.
	Code string
	// Field is the JSON path of the offending input field for InvalidInput.
	Field   string
	Message string
	// Body is the parsed error body, nil when absent or not JSON.
	Body map[string]any
	// RetryAfter is the server's Retry-After hint for 429/503 responses.
	RetryAfter time.Duration
	// IdempotencyKey identifies the logical submission; resubmit with it after a NeedStepUp.
	IdempotencyKey string
	Err            error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if e.Status != 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	if e.Field != "" {
		fmt.Fprintf(&b, " %s", e.Field)
	}
	if msg := e.message(); msg != "" {
		b.WriteString(": ")
		b.WriteString(msg)
	}
	return b.String()
}

func (e *Error) message() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return ""
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the [Kind] of err, or KindUnknown when err carries no mutation error.
func KindOf(err error) Kind {
	var merr *Error
	if errors.As(err, &merr) {
		return merr.Kind
	}
	return KindUnknown
}

// IsKind reports whether err is a mutation error of kind k.
func IsKind(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}

// AsError extracts the mutation [Error] from err.
func AsError(err error) (*Error, bool) {
	var merr *Error
	ok := errors.As(err, &merr)
	return merr, ok
}

// UserMessage resolves err to a human-readable sentence, falling back to a generic message per kind.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	merr, ok := AsError(err)
	if !ok {
		return err.Error()
	}

	switch merr.Kind {
	case InvalidInput:
		if merr.Field != "" {
			return fmt.Sprintf("%s: %s", merr.Field, merr.message())
		}
		return merr.message()
	case NeedStepUp:
		return "Please confirm your password to continue."
	case NetworkFailure:
		return "Could not reach MoviesNow. Check your connection and try again."
	case RateLimited:
		if merr.RetryAfter > 0 {
			return fmt.Sprintf("Too many attempts. Try again in %s.", merr.RetryAfter.Round(time.Second))
		}
		return "Too many attempts. Please wait a moment and try again."
	case TransientServerFault:
		return "MoviesNow is having trouble right now. Please try again shortly."
	case ProtocolViolation:
		return "Received an unexpected response from MoviesNow."
	}

	if merr.Message != "" {
		return merr.Message
	}
	if text := http.StatusText(merr.Status); text != "" {
		return text
	}
	return "The request could not be completed."
}

// Retryable reports whether the UI should offer a plain "try again" affordance for err.
func Retryable(err error) bool {
	switch KindOf(err) {
	case NetworkFailure, RateLimited, TransientServerFault:
		return true
	}
	return false
}

func invalidInput(op, field, message string) *Error {
	return &Error{Kind: InvalidInput, Op: op, Field: field, Message: message}
}
