package services

import (
	"net/http"

	"github.com/desertthunder/moviesnow/internal/mutation"
)

// StartEmailChangeInput asks the backend to send a confirmation link to a new address.
type StartEmailChangeInput struct {
	NewEmail string `json:"new_email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// ConfirmEmailChangeInput carries the token from the confirmation link.
type ConfirmEmailChangeInput struct {
	Token string `json:"token" validate:"required"`
}

// EmailChangeResult is the normalized start-email-change response.
type EmailChangeResult struct {
	mutation.Result
	PendingEmail string `json:"pending_email,omitempty"`
}

// EmailResult is the normalized confirm-email-change response.
type EmailResult struct {
	mutation.Result
	Email string `json:"email,omitempty"`
}

type startEmailChangePayload struct {
	NewEmail string `json:"new_email"`
	Password string `json:"password"`
}

type tokenPayload struct {
	Token string `json:"token"`
}

var StartEmailChange = mutation.Operation[StartEmailChangeInput, EmailChangeResult]{
	Name:             OpStartEmailChange,
	Method:           http.MethodPost,
	Path:             "/auth/email/change",
	RetryOnRateLimit: true,
	Prepare: func(in *StartEmailChangeInput) {
		in.NewEmail = mutation.NormalizeEmail(in.NewEmail)
	},
	Transform: func(in StartEmailChangeInput) (any, error) {
		return startEmailChangePayload{NewEmail: in.NewEmail, Password: in.Password}, nil
	},
	Normalize: func(f *mutation.Fields) (EmailChangeResult, error) {
		var out EmailChangeResult
		if _, err := f.Take(&out.PendingEmail, "pending_email", "new_email"); err != nil {
			return out, err
		}
		res, err := f.Result()
		out.Result = res
		return out, err
	},
}

var ConfirmEmailChange = mutation.Operation[ConfirmEmailChangeInput, EmailResult]{
	Name:             OpConfirmEmailChange,
	Method:           http.MethodPost,
	Path:             "/auth/email/change/confirm",
	RetryOnRateLimit: true,
	Transform: func(in ConfirmEmailChangeInput) (any, error) {
		return tokenPayload{Token: in.Token}, nil
	},
	Normalize: func(f *mutation.Fields) (EmailResult, error) {
		var out EmailResult
		if _, err := f.Take(&out.Email, "email"); err != nil {
			return out, err
		}
		res, err := f.Result()
		out.Result = res
		return out, err
	},
}
