package services

import (
	"net/http"
	"strings"

	"github.com/desertthunder/moviesnow/internal/mutation"
)

// MFAEnableInput starts enrolment. Method defaults to totp.
type MFAEnableInput struct {
	Method string `json:"method" validate:"required,method"`
}

// MFACodeInput carries a one-time code. TOTPCode is accepted as an alias of Code.
type MFACodeInput struct {
	Code     string `json:"code" validate:"required_without=TOTPCode,omitempty,otp"`
	TOTPCode string `json:"totp_code,omitempty" validate:"omitempty,otp"`
}

// MFADisableInput turns MFA off with either a current code or a recovery code.
type MFADisableInput struct {
	Code         string `json:"code" validate:"required_without=RecoveryCode,omitempty,otp"`
	RecoveryCode string `json:"recovery_code,omitempty" validate:"omitempty,min=8,max=32"`
}

// RecoveryCodesInput regenerates recovery codes.
type RecoveryCodesInput struct{}

// MFAEnableResult carries the enrolment secret.
type MFAEnableResult struct {
	mutation.Result
	Secret     string `json:"secret,omitempty"`
	OTPAuthURL string `json:"otpauth_url,omitempty"`
}

// MFAVerifyResult is the normalized mfa-verify response.
type MFAVerifyResult struct {
	mutation.Result
	Enabled       bool     `json:"enabled"`
	RecoveryCodes []string `json:"recovery_codes,omitempty"`
}

// MFADisableResult is the normalized mfa-disable response.
type MFADisableResult struct {
	mutation.Result
	Enabled bool `json:"enabled"`
}

// RecoveryCodesResult holds freshly issued recovery codes.
type RecoveryCodesResult struct {
	mutation.Result
	RecoveryCodes []string `json:"recovery_codes,omitempty"`
}

type methodPayload struct {
	Method string `json:"method"`
}

type disablePayload struct {
	Code         string `json:"code,omitempty"`
	RecoveryCode string `json:"recovery_code,omitempty"`
}

var MFAEnable = mutation.Operation[MFAEnableInput, MFAEnableResult]{
	Name:   OpMFAEnable,
	Method: http.MethodPost,
	Path:   "/auth/mfa/enable",
	Prepare: func(in *MFAEnableInput) {
		if in.Method == "" {
			in.Method = "totp"
		}
	},
	Transform: func(in MFAEnableInput) (any, error) {
		return methodPayload{Method: strings.ToLower(strings.TrimSpace(in.Method))}, nil
	},
	Normalize: func(f *mutation.Fields) (MFAEnableResult, error) {
		var out MFAEnableResult
		if err := f.Require(&out.Secret, "secret", "totp_secret"); err != nil {
			return out, err
		}
		if _, err := f.Take(&out.OTPAuthURL, "otpauth_url", "provisioning_uri", "qr_code_url"); err != nil {
			return out, err
		}
		res, err := f.Result()
		out.Result = res
		return out, err
	},
}

var MFAVerify = mutation.Operation[MFACodeInput, MFAVerifyResult]{
	Name:   OpMFAVerify,
	Method: http.MethodPost,
	Path:   "/auth/mfa/verify",
	Transform: func(in MFACodeInput) (any, error) {
		return codePayload{Code: mutation.NormalizeOTP(mutation.Coalesce(in.Code, in.TOTPCode))}, nil
	},
	Normalize: func(f *mutation.Fields) (MFAVerifyResult, error) {
		out := MFAVerifyResult{Enabled: true}
		if _, err := f.Take(&out.Enabled, "enabled", "mfa_enabled"); err != nil {
			return out, err
		}
		if _, err := f.Take(&out.RecoveryCodes, "recovery_codes", "backup_codes"); err != nil {
			return out, err
		}
		res, err := f.Result()
		out.Result = res
		return out, err
	},
}

var MFADisable = mutation.Operation[MFADisableInput, MFADisableResult]{
	Name:   OpMFADisable,
	Method: http.MethodPost,
	Path:   "/auth/mfa/disable",
	Prepare: func(in *MFADisableInput) {
		in.RecoveryCode = strings.TrimSpace(in.RecoveryCode)
	},
	Transform: func(in MFADisableInput) (any, error) {
		if in.Code != "" {
			return disablePayload{Code: mutation.NormalizeOTP(in.Code)}, nil
		}
		return disablePayload{RecoveryCode: in.RecoveryCode}, nil
	},
	Normalize: func(f *mutation.Fields) (MFADisableResult, error) {
		var out MFADisableResult
		if _, err := f.Take(&out.Enabled, "enabled", "mfa_enabled"); err != nil {
			return out, err
		}
		res, err := f.Result()
		out.Result = res
		return out, err
	},
}

var RegenerateRecoveryCodes = mutation.Operation[RecoveryCodesInput, RecoveryCodesResult]{
	Name:      OpRegenerateRecoveryCodes,
	Method:    http.MethodPost,
	Path:      "/auth/mfa/recovery-codes",
	Transform: mutation.NoBody[RecoveryCodesInput],
	Normalize: func(f *mutation.Fields) (RecoveryCodesResult, error) {
		var out RecoveryCodesResult
		if err := f.Require(&out.RecoveryCodes, "recovery_codes", "backup_codes"); err != nil {
			return out, err
		}
		res, err := f.Result()
		out.Result = res
		return out, err
	},
}
