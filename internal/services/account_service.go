package services

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/oauth2"

	"github.com/desertthunder/moviesnow/internal/models"
	"github.com/desertthunder/moviesnow/internal/mutation"
	"github.com/desertthunder/moviesnow/internal/shared"
)

// TokenHolder receives the credentials issued by a login.
type TokenHolder interface {
	Set(token *oauth2.Token) error
	Clear() error
}

// AccountService submits MoviesNow account operations through a [mutation.Pipeline].
type AccountService struct {
	pipeline *mutation.Pipeline
	tokens   TokenHolder
	now      func() time.Time
}

// NewAccountService creates an account service. tokens may be nil when logins are not stored.
func NewAccountService(pipeline *mutation.Pipeline, tokens TokenHolder) *AccountService {
	return &AccountService{pipeline: pipeline, tokens: tokens, now: time.Now}
}

// Pipeline returns the pipeline the service submits through.
func (s *AccountService) Pipeline() *mutation.Pipeline {
	return s.pipeline
}

func (s *AccountService) RequestPasswordReset(ctx context.Context, in ForgotPasswordInput, opts ...mutation.SubmitOption) (mutation.Result, error) {
	return mutation.Submit(ctx, s.pipeline, RequestPasswordReset, in, opts...)
}

func (s *AccountService) ConfirmPasswordReset(ctx context.Context, in ResetPasswordInput, opts ...mutation.SubmitOption) (mutation.Result, error) {
	return mutation.Submit(ctx, s.pipeline, ConfirmPasswordReset, in, opts...)
}

func (s *AccountService) ChangePassword(ctx context.Context, in ChangePasswordInput, opts ...mutation.SubmitOption) (mutation.Result, error) {
	return mutation.Submit(ctx, s.pipeline, ChangePassword, in, opts...)
}

func (s *AccountService) StartEmailChange(ctx context.Context, in StartEmailChangeInput, opts ...mutation.SubmitOption) (EmailChangeResult, error) {
	return mutation.Submit(ctx, s.pipeline, StartEmailChange, in, opts...)
}

func (s *AccountService) ConfirmEmailChange(ctx context.Context, in ConfirmEmailChangeInput, opts ...mutation.SubmitOption) (EmailResult, error) {
	return mutation.Submit(ctx, s.pipeline, ConfirmEmailChange, in, opts...)
}

func (s *AccountService) DeactivateAccount(ctx context.Context, in DeactivateInput, opts ...mutation.SubmitOption) (mutation.Result, error) {
	return mutation.Submit(ctx, s.pipeline, DeactivateAccount, in, opts...)
}

func (s *AccountService) RequestDeletionOTP(ctx context.Context, opts ...mutation.SubmitOption) (DeletionOTPResult, error) {
	return mutation.Submit(ctx, s.pipeline, RequestDeletionOTP, DeletionOTPInput{}, opts...)
}

// DeleteAccount deletes the account and forgets the session on success.
func (s *AccountService) DeleteAccount(ctx context.Context, in DeleteAccountInput, opts ...mutation.SubmitOption) (mutation.Result, error) {
	res, err := mutation.Submit(ctx, s.pipeline, DeleteAccount, in, opts...)
	if err != nil {
		return res, err
	}
	return res, s.Logout()
}

func (s *AccountService) EnableMFA(ctx context.Context, in MFAEnableInput, opts ...mutation.SubmitOption) (MFAEnableResult, error) {
	return mutation.Submit(ctx, s.pipeline, MFAEnable, in, opts...)
}

func (s *AccountService) VerifyMFA(ctx context.Context, in MFACodeInput, opts ...mutation.SubmitOption) (MFAVerifyResult, error) {
	return mutation.Submit(ctx, s.pipeline, MFAVerify, in, opts...)
}

func (s *AccountService) DisableMFA(ctx context.Context, in MFADisableInput, opts ...mutation.SubmitOption) (MFADisableResult, error) {
	return mutation.Submit(ctx, s.pipeline, MFADisable, in, opts...)
}

func (s *AccountService) RegenerateRecoveryCodes(ctx context.Context, opts ...mutation.SubmitOption) (RecoveryCodesResult, error) {
	return mutation.Submit(ctx, s.pipeline, RegenerateRecoveryCodes, RecoveryCodesInput{}, opts...)
}

func (s *AccountService) RevokeTrustedDevices(ctx context.Context, opts ...mutation.SubmitOption) (RevokeDevicesResult, error) {
	return mutation.Submit(ctx, s.pipeline, RevokeTrustedDevices, RevokeDevicesInput{}, opts...)
}

func (s *AccountService) RevokeSession(ctx context.Context, id string, opts ...mutation.SubmitOption) (mutation.Result, error) {
	return mutation.Submit(ctx, s.pipeline, RevokeSession, RevokeSessionInput{ID: id}, opts...)
}

func (s *AccountService) ListTrustedDevices(ctx context.Context) ([]models.TrustedDevice, error) {
	return mutation.Submit(ctx, s.pipeline, ListTrustedDevices, NoInput{})
}

func (s *AccountService) ListSessions(ctx context.Context) ([]models.AccountSession, error) {
	return mutation.Submit(ctx, s.pipeline, ListSessions, NoInput{})
}

func (s *AccountService) MFAStatus(ctx context.Context) (models.MFAStatus, error) {
	return mutation.Submit(ctx, s.pipeline, MFAStatus, NoInput{})
}

// Login signs in. When the account has MFA enabled the result carries the challenge token and
// no credentials are stored; complete it with [AccountService.CompleteMFALogin].
func (s *AccountService) Login(ctx context.Context, in LoginInput) (LoginResult, error) {
	res, err := mutation.Submit(ctx, s.pipeline, Login, in)
	if err != nil || res.MFARequired {
		return res, err
	}
	return res, s.store(res.TokenResult)
}

// CompleteMFALogin answers an MFA challenge and stores the issued credentials.
func (s *AccountService) CompleteMFALogin(ctx context.Context, in MFALoginInput) (TokenResult, error) {
	res, err := mutation.Submit(ctx, s.pipeline, MFALogin, in)
	if err != nil {
		return res, err
	}
	return res, s.store(res)
}

func (s *AccountService) store(res TokenResult) error {
	if s.tokens == nil {
		return nil
	}
	if res.AccessToken == "" {
		return fmt.Errorf("%w: login response carried no access token", shared.ErrAuthFailed)
	}
	return s.tokens.Set(&oauth2.Token{
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
		TokenType:    res.TokenType,
		Expiry:       res.Expiry(s.now()),
	})
}

// Logout forgets the stored credentials.
func (s *AccountService) Logout() error {
	if s.tokens == nil {
		return nil
	}
	return s.tokens.Clear()
}

// Reauthenticate exchanges the password for a step-up credential.
func (s *AccountService) Reauthenticate(ctx context.Context, password string) (string, error) {
	res, err := mutation.Submit(ctx, s.pipeline, Reauthenticate, ReauthInput{Password: password})
	if err != nil {
		return "", err
	}
	if res.ReauthToken == "" {
		return "", &mutation.Error{Kind: mutation.ProtocolViolation, Op: OpReauthenticate, Message: "response is missing reauth_token"}
	}
	return res.ReauthToken, nil
}

// StepUpSource returns a [mutation.CredentialSource] that asks for the password and
// re-authenticates with it.
func (s *AccountService) StepUpSource(password func(ctx context.Context) (string, error)) mutation.CredentialSource {
	return func(ctx context.Context) (string, error) {
		pw, err := password(ctx)
		if err != nil {
			return "", err
		}
		return s.Reauthenticate(ctx, pw)
	}
}

// Submit runs an operation by name with raw JSON input.
func (s *AccountService) Submit(ctx context.Context, name string, data []byte, opts ...mutation.SubmitOption) (any, error) {
	op, err := Lookup(name)
	if err != nil {
		return nil, err
	}
	return op.SubmitJSON(ctx, s.pipeline, data, opts...)
}
