package services

import (
	"net/http"
	"strings"
	"time"

	"github.com/desertthunder/moviesnow/internal/mutation"
)

// DeactivateInput deactivates the account. The backend requires a step-up credential.
type DeactivateInput struct {
	Reason string `json:"reason,omitempty" validate:"max=500"`
}

// DeletionOTPInput requests a one-time code for account deletion.
type DeletionOTPInput struct{}

// DeleteAccountInput permanently deletes the account. Confirm must be the literal DELETE and
// is never sent.
type DeleteAccountInput struct {
	Code    string `json:"code" validate:"required,otp"`
	Confirm string `json:"confirm" validate:"required,eq=DELETE"`
}

// DeletionOTPResult is the normalized request-deletion-otp response.
type DeletionOTPResult struct {
	mutation.Result
	NextAllowedAt *time.Time `json:"next_allowed_at,omitempty"`
}

type reasonPayload struct {
	Reason string `json:"reason,omitempty"`
}

type codePayload struct {
	Code string `json:"code"`
}

var DeactivateAccount = mutation.Operation[DeactivateInput, mutation.Result]{
	Name:             OpDeactivateAccount,
	Method:           http.MethodPost,
	Path:             "/account/deactivate",
	RetryOnRateLimit: true,
	Transform: func(in DeactivateInput) (any, error) {
		return reasonPayload{Reason: strings.TrimSpace(in.Reason)}, nil
	},
	Normalize: mutation.NormalizeOK,
}

var RequestDeletionOTP = mutation.Operation[DeletionOTPInput, DeletionOTPResult]{
	Name:      OpRequestDeletionOTP,
	Method:    http.MethodPost,
	Path:      "/account/delete/otp",
	Transform: mutation.NoBody[DeletionOTPInput],
	Normalize: func(f *mutation.Fields) (DeletionOTPResult, error) {
		var out DeletionOTPResult
		var at time.Time
		found, err := f.Take(&at, "next_allowed_at", "retry_at")
		if err != nil {
			return out, err
		}
		if found {
			out.NextAllowedAt = &at
		}
		res, err := f.Result()
		out.Result = res
		return out, err
	},
}

var DeleteAccount = mutation.Operation[DeleteAccountInput, mutation.Result]{
	Name:             OpDeleteAccount,
	Method:           http.MethodDelete,
	Path:             "/account",
	RetryOnRateLimit: true,
	Transform: func(in DeleteAccountInput) (any, error) {
		return codePayload{Code: mutation.NormalizeOTP(in.Code)}, nil
	},
	Normalize: mutation.NormalizeOK,
}
