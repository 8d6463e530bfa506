package services

import (
	"net/http"
	"strings"
	"time"

	"github.com/desertthunder/moviesnow/internal/mutation"
)

// LoginInput signs in with email and password.
type LoginInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// MFALoginInput completes a login challenged for a second factor.
type MFALoginInput struct {
	MFAToken     string `json:"mfa_token" validate:"required"`
	Code         string `json:"code" validate:"required_without=RecoveryCode,omitempty,otp"`
	RecoveryCode string `json:"recovery_code,omitempty" validate:"omitempty,min=8,max=32"`
	TrustDevice  bool   `json:"trust_device,omitempty"`
}

// ReauthInput proves recent knowledge of the password to obtain a step-up credential.
type ReauthInput struct {
	Password string `json:"password" validate:"required"`
}

// TokenResult holds the credentials issued by a completed login.
type TokenResult struct {
	mutation.Result
	AccessToken  string `json:"access_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiresIn    int    `json:"expires_in,omitempty"`
}

// LoginResult is either a [TokenResult] or an MFA challenge.
type LoginResult struct {
	TokenResult
	MFARequired bool   `json:"mfa_required,omitempty"`
	MFAToken    string `json:"mfa_token,omitempty"`
}

// ReauthResult carries the step-up credential.
type ReauthResult struct {
	mutation.Result
	ReauthToken string     `json:"reauth_token,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// Expiry converts ExpiresIn into an absolute time, zero when unknown.
func (t TokenResult) Expiry(now time.Time) time.Time {
	if t.ExpiresIn <= 0 {
		return time.Time{}
	}
	return now.Add(time.Duration(t.ExpiresIn) * time.Second)
}

type loginPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type mfaLoginPayload struct {
	MFAToken     string `json:"mfa_token"`
	Code         string `json:"code,omitempty"`
	RecoveryCode string `json:"recovery_code,omitempty"`
	TrustDevice  bool   `json:"trust_device,omitempty"`
}

type passwordPayload struct {
	Password string `json:"password"`
}

func takeTokens(f *mutation.Fields, out *TokenResult) error {
	if _, err := f.Take(&out.RefreshToken, "refresh_token"); err != nil {
		return err
	}
	if _, err := f.Take(&out.TokenType, "token_type"); err != nil {
		return err
	}
	if _, err := f.Take(&out.ExpiresIn, "expires_in"); err != nil {
		return err
	}
	return nil
}

var Login = mutation.Operation[LoginInput, LoginResult]{
	Name:   OpLogin,
	Method: http.MethodPost,
	Path:   "/auth/login",
	Public: true,
	Prepare: func(in *LoginInput) {
		in.Email = mutation.NormalizeEmail(in.Email)
	},
	Transform: func(in LoginInput) (any, error) {
		return loginPayload{Email: in.Email, Password: in.Password}, nil
	},
	Normalize: func(f *mutation.Fields) (LoginResult, error) {
		var out LoginResult
		if _, err := f.Take(&out.MFARequired, "mfa_required"); err != nil {
			return out, err
		}
		if out.MFARequired {
			if err := f.Require(&out.MFAToken, "mfa_token", "challenge_token"); err != nil {
				return out, err
			}
		} else if err := f.Require(&out.AccessToken, "access_token"); err != nil {
			return out, err
		}
		if err := takeTokens(f, &out.TokenResult); err != nil {
			return out, err
		}
		res, err := f.Result()
		out.Result = res
		return out, err
	},
}

var MFALogin = mutation.Operation[MFALoginInput, TokenResult]{
	Name:   OpMFALogin,
	Method: http.MethodPost,
	Path:   "/auth/mfa/login",
	Public: true,
	Prepare: func(in *MFALoginInput) {
		in.RecoveryCode = strings.TrimSpace(in.RecoveryCode)
	},
	Transform: func(in MFALoginInput) (any, error) {
		return mfaLoginPayload{
			MFAToken:     in.MFAToken,
			Code:         mutation.NormalizeOTP(in.Code),
			RecoveryCode: in.RecoveryCode,
			TrustDevice:  in.TrustDevice,
		}, nil
	},
	Normalize: func(f *mutation.Fields) (TokenResult, error) {
		var out TokenResult
		if err := f.Require(&out.AccessToken, "access_token"); err != nil {
			return out, err
		}
		if err := takeTokens(f, &out); err != nil {
			return out, err
		}
		res, err := f.Result()
		out.Result = res
		return out, err
	},
}

var Reauthenticate = mutation.Operation[ReauthInput, ReauthResult]{
	Name:   OpReauthenticate,
	Method: http.MethodPost,
	Path:   "/auth/reauth",
	Transform: func(in ReauthInput) (any, error) {
		return passwordPayload{Password: in.Password}, nil
	},
	Normalize: func(f *mutation.Fields) (ReauthResult, error) {
		var out ReauthResult
		if err := f.Require(&out.ReauthToken, "reauth_token", "token"); err != nil {
			return out, err
		}
		var at time.Time
		found, err := f.Take(&at, "expires_at")
		if err != nil {
			return out, err
		}
		if found {
			out.ExpiresAt = &at
		}
		res, err := f.Result()
		out.Result = res
		return out, err
	},
}
