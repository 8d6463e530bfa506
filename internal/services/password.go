package services

import (
	"net/http"

	"github.com/desertthunder/moviesnow/internal/mutation"
)

// ForgotPasswordInput requests a reset link.
type ForgotPasswordInput struct {
	Email string `json:"email" validate:"required,email"`
}

// ResetPasswordInput completes a reset. ConfirmPassword is checked locally and never sent.
type ResetPasswordInput struct {
	Token           string `json:"token" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=8,max=128"`
	ConfirmPassword string `json:"confirm_password" validate:"required,eqfield=NewPassword"`
}

// ChangePasswordInput changes the password of the signed-in account.
type ChangePasswordInput struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=8,max=128,nefield=CurrentPassword"`
	ConfirmPassword string `json:"confirm_password" validate:"required,eqfield=NewPassword"`
}

type emailPayload struct {
	Email string `json:"email"`
}

type resetPayload struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

type changePasswordPayload struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

var RequestPasswordReset = mutation.Operation[ForgotPasswordInput, mutation.Result]{
	Name:             OpRequestPasswordReset,
	Method:           http.MethodPost,
	Path:             "/auth/password/forgot",
	RetryOnRateLimit: true,
	Public:           true,
	Prepare: func(in *ForgotPasswordInput) {
		in.Email = mutation.NormalizeEmail(in.Email)
	},
	Transform: func(in ForgotPasswordInput) (any, error) {
		return emailPayload{Email: in.Email}, nil
	},
	Normalize: mutation.NormalizeOK,
}

var ConfirmPasswordReset = mutation.Operation[ResetPasswordInput, mutation.Result]{
	Name:             OpConfirmPasswordReset,
	Method:           http.MethodPost,
	Path:             "/auth/password/reset/confirm",
	RetryOnRateLimit: true,
	Public:           true,
	Transform: func(in ResetPasswordInput) (any, error) {
		return resetPayload{Token: in.Token, NewPassword: in.NewPassword}, nil
	},
	Normalize: mutation.NormalizeOK,
}

var ChangePassword = mutation.Operation[ChangePasswordInput, mutation.Result]{
	Name:             OpChangePassword,
	Method:           http.MethodPost,
	Path:             "/auth/password/change",
	RetryOnRateLimit: true,
	Transform: func(in ChangePasswordInput) (any, error) {
		return changePasswordPayload{CurrentPassword: in.CurrentPassword, NewPassword: in.NewPassword}, nil
	},
	Normalize: mutation.NormalizeOK,
}
