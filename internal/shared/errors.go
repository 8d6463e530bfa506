package shared

import "errors"

// Sentinels shared by the CLI and its services. Callers wrap them with context and match with
// [errors.Is]; classified API failures from the mutation pipeline are reported separately.
var (
	ErrMissingConfig = errors.New("configuration not found")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Session and sign-in.
var (
	ErrAuthFailed       = errors.New("authentication failed")
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrRefreshFailed    = errors.New("token refresh failed")
	ErrNoRefreshToken   = errors.New("no refresh token available")
	ErrMFARequired      = errors.New("multi-factor verification required")
	ErrTimeout          = errors.New("operation timed out")
)

var (
	ErrAPIRequest         = errors.New("API request failed")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrUnknownOperation   = errors.New("unknown operation")
	ErrCacheMiss          = errors.New("cache entry not found")
)

// Input checks done before anything is sent.
var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrMissingArgument = errors.New("missing required argument")
	ErrInvalidArgument = errors.New("invalid argument")
)
