package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/desertthunder/moviesnow/internal/mutation"
	"github.com/desertthunder/moviesnow/internal/shared"
	tu "github.com/desertthunder/moviesnow/internal/testing"
)

type memoryTokens struct {
	token   *oauth2.Token
	cleared bool
}

func (m *memoryTokens) Set(token *oauth2.Token) error {
	m.token = token
	return nil
}

func (m *memoryTokens) Clear() error {
	m.token = nil
	m.cleared = true
	return nil
}

func newService(transport *tu.ScriptedTransport, tokens TokenHolder) *AccountService {
	exec := mutation.NewExecutor(mutation.ExecutorConfig{BaseURL: "http://api.test"}, staticCreds("access"), transport.Client(), nil)
	policy := mutation.RetryPolicy{MaxAttempts: 3}
	return NewAccountService(mutation.NewPipeline(exec, nil, policy, nil, nil), tokens)
}

func jsonEqual(t *testing.T, want, got string) {
	t.Helper()
	var w, g any
	if err := json.Unmarshal([]byte(want), &w); err != nil {
		t.Fatalf("invalid expected JSON: %v", err)
	}
	if err := json.Unmarshal([]byte(got), &g); err != nil {
		t.Fatalf("invalid actual JSON %q: %v", got, err)
	}
	wb, _ := json.Marshal(w)
	gb, _ := json.Marshal(g)
	if string(wb) != string(gb) {
		t.Errorf("expected %s, got %s", wb, gb)
	}
}

func marshal(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal: %v", err)
	}
	return string(data)
}

func TestAccountService(t *testing.T) {
	ctx := context.Background()

	t.Run("ConfirmPasswordReset", func(t *testing.T) {
		transport := tu.NewScriptedTransport(tu.Reply{Status: http.StatusNoContent})
		svc := newService(transport, nil)

		res, err := svc.ConfirmPasswordReset(ctx, ResetPasswordInput{
			Token:           "abc",
			NewPassword:     "Secret123!",
			ConfirmPassword: "Secret123!",
		})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		jsonEqual(t, `{"ok":true}`, marshal(t, res))

		req := transport.Requests()[0]
		jsonEqual(t, `{"token":"abc","new_password":"Secret123!"}`, string(req.Body))
		if req.Header.Get(mutation.HeaderIdempotencyKey) == "" {
			t.Error("expected Idempotency-Key header")
		}
		if req.Header.Get("Authorization") != "" {
			t.Error("expected reset confirmation to be sent without credentials")
		}
	})

	t.Run("VerifyMFA", func(t *testing.T) {
		transport := tu.NewScriptedTransport(tu.Reply{Body: `{"enabled":true,"backup_codes":["x1","x2"]}`})
		svc := newService(transport, nil)

		res, err := svc.VerifyMFA(ctx, MFACodeInput{Code: "123 456"})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		jsonEqual(t, `{"ok":true,"enabled":true,"recovery_codes":["x1","x2"]}`, marshal(t, res))
		jsonEqual(t, `{"code":"123456"}`, string(transport.Requests()[0].Body))
	})

	t.Run("VerifyMFA accepts totp_code", func(t *testing.T) {
		transport := tu.NewScriptedTransport(tu.Reply{Status: http.StatusNoContent})
		svc := newService(transport, nil)

		res, err := svc.VerifyMFA(ctx, MFACodeInput{TOTPCode: "654-321"})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if !res.OK || !res.Enabled {
			t.Errorf("expected ok and enabled defaults, got %+v", res)
		}
		jsonEqual(t, `{"code":"654321"}`, string(transport.Requests()[0].Body))
	})

	t.Run("VerifyMFA requires a code", func(t *testing.T) {
		transport := tu.NewScriptedTransport(tu.Reply{Status: http.StatusNoContent})
		_, err := newService(transport, nil).VerifyMFA(ctx, MFACodeInput{})

		merr, ok := mutation.AsError(err)
		if !ok || merr.Kind != mutation.InvalidInput || merr.Field != "code" {
			t.Errorf("expected InvalidInput on code, got %v", err)
		}
		if transport.Count() != 0 {
			t.Errorf("expected no requests, got %d", transport.Count())
		}
	})

	t.Run("rate limit policy per operation", func(t *testing.T) {
		tests := []struct {
			name     string
			submit   func(*AccountService) error
			attempts int
		}{
			{"mfa-verify", func(s *AccountService) error {
				_, err := s.VerifyMFA(ctx, MFACodeInput{Code: "123456"})
				return err
			}, 1},
			{"mfa-enable", func(s *AccountService) error {
				_, err := s.EnableMFA(ctx, MFAEnableInput{})
				return err
			}, 1},
			{"mfa-disable", func(s *AccountService) error {
				_, err := s.DisableMFA(ctx, MFADisableInput{Code: "123456"})
				return err
			}, 1},
			{"request-deletion-otp", func(s *AccountService) error {
				_, err := s.RequestDeletionOTP(ctx)
				return err
			}, 1},
			{"change-password", func(s *AccountService) error {
				_, err := s.ChangePassword(ctx, ChangePasswordInput{CurrentPassword: "OldPass123", NewPassword: "NewPass123", ConfirmPassword: "NewPass123"})
				return err
			}, 3},
			{"deactivate-account", func(s *AccountService) error {
				_, err := s.DeactivateAccount(ctx, DeactivateInput{})
				return err
			}, 3},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				transport := tu.NewScriptedTransport(tu.Reply{Status: http.StatusTooManyRequests})
				err := tt.submit(newService(transport, nil))

				if !mutation.IsKind(err, mutation.RateLimited) {
					t.Errorf("expected RateLimited, got %v", err)
				}
				if transport.Count() != tt.attempts {
					t.Errorf("expected %d attempts, got %d", tt.attempts, transport.Count())
				}
			})
		}
	})

	t.Run("EnableMFA requires a secret in a present body", func(t *testing.T) {
		transport := tu.NewScriptedTransport(tu.Reply{Body: `{"otpauth_url":"otpauth://totp/x"}`})
		_, err := newService(transport, nil).EnableMFA(ctx, MFAEnableInput{})
		if !mutation.IsKind(err, mutation.ProtocolViolation) {
			t.Errorf("expected ProtocolViolation, got %v", err)
		}
		jsonEqual(t, `{"method":"totp"}`, string(transport.Requests()[0].Body))
	})

	t.Run("EnableMFA accepts aliases", func(t *testing.T) {
		transport := tu.NewScriptedTransport(tu.Reply{Body: `{"totp_secret":"S3CR3T","provisioning_uri":"otpauth://totp/x"}`})
		res, err := newService(transport, nil).EnableMFA(ctx, MFAEnableInput{Method: "TOTP"})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if res.Secret != "S3CR3T" || res.OTPAuthURL != "otpauth://totp/x" {
			t.Errorf("unexpected result %+v", res)
		}
	})

	t.Run("StartEmailChange normalizes the address", func(t *testing.T) {
		transport := tu.NewScriptedTransport(tu.Reply{Body: `{"new_email":"new@example.com"}`})
		res, err := newService(transport, nil).StartEmailChange(ctx, StartEmailChangeInput{NewEmail: " New@Example.com ", Password: "pw"})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if res.PendingEmail != "new@example.com" {
			t.Errorf("expected pending email, got %q", res.PendingEmail)
		}
		jsonEqual(t, `{"new_email":"new@example.com","password":"pw"}`, string(transport.Requests()[0].Body))
	})

	t.Run("email addresses are normalized before validation", func(t *testing.T) {
		tests := []struct {
			name   string
			submit func(*AccountService) error
			want   string
		}{
			{
				name: "request-password-reset",
				submit: func(svc *AccountService) error {
					_, err := svc.RequestPasswordReset(ctx, ForgotPasswordInput{Email: " User@Example.com "})
					return err
				},
				want: `{"email":"user@example.com"}`,
			},
			{
				name: "start-email-change",
				submit: func(svc *AccountService) error {
					_, err := svc.StartEmailChange(ctx, StartEmailChangeInput{NewEmail: "\tNew@Example.COM ", Password: "pw"})
					return err
				},
				want: `{"new_email":"new@example.com","password":"pw"}`,
			},
			{
				name: "login",
				submit: func(svc *AccountService) error {
					_, err := svc.Login(ctx, LoginInput{Email: " User@Example.com", Password: "pw"})
					return err
				},
				want: `{"email":"user@example.com","password":"pw"}`,
			},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				transport := tu.NewScriptedTransport(tu.Reply{Body: `{"access_token":"a1"}`})
				if err := tt.submit(newService(transport, &memoryTokens{})); err != nil {
					t.Fatalf("expected no error, got %v", err)
				}
				if transport.Count() != 1 {
					t.Fatalf("expected one request, got %d", transport.Count())
				}
				jsonEqual(t, tt.want, string(transport.Requests()[0].Body))
			})
		}
	})

	t.Run("recovery codes keep their dashes", func(t *testing.T) {
		transport := tu.NewScriptedTransport(
			tu.Reply{Body: `{"enabled":false}`},
			tu.Reply{Body: `{"access_token":"a1"}`},
		)
		svc := newService(transport, &memoryTokens{})

		if _, err := svc.DisableMFA(ctx, MFADisableInput{RecoveryCode: " abcd-efgh-ijkl "}, mutation.WithStepUp("r1")); err != nil {
			t.Fatalf("disable: expected no error, got %v", err)
		}
		if _, err := svc.CompleteMFALogin(ctx, MFALoginInput{MFAToken: "m1", RecoveryCode: "abcd-efgh-ijkl\n"}); err != nil {
			t.Fatalf("mfa login: expected no error, got %v", err)
		}

		requests := transport.Requests()
		jsonEqual(t, `{"recovery_code":"abcd-efgh-ijkl"}`, string(requests[0].Body))
		jsonEqual(t, `{"mfa_token":"m1","recovery_code":"abcd-efgh-ijkl"}`, string(requests[1].Body))
	})

	t.Run("DeleteAccount drops the confirmation and clears the session", func(t *testing.T) {
		transport := tu.NewScriptedTransport(tu.Reply{Status: http.StatusNoContent})
		tokens := &memoryTokens{token: &oauth2.Token{AccessToken: "a"}}

		_, err := newService(transport, tokens).DeleteAccount(ctx, DeleteAccountInput{Code: "123 456", Confirm: "DELETE"}, mutation.WithStepUp("r1"))
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		req := transport.Requests()[0]
		jsonEqual(t, `{"code":"123456"}`, string(req.Body))
		if req.Method != http.MethodDelete {
			t.Errorf("expected DELETE, got %s", req.Method)
		}
		if req.Header.Get(mutation.HeaderReauth) != "r1" {
			t.Error("expected step-up header")
		}
		if !tokens.cleared {
			t.Error("expected session to be cleared")
		}
	})

	t.Run("DeleteAccount requires the literal confirmation", func(t *testing.T) {
		transport := tu.NewScriptedTransport(tu.Reply{Status: http.StatusNoContent})
		_, err := newService(transport, nil).DeleteAccount(ctx, DeleteAccountInput{Code: "123456", Confirm: "yes"})

		merr, ok := mutation.AsError(err)
		if !ok || merr.Field != "confirm" {
			t.Errorf("expected InvalidInput on confirm, got %v", err)
		}
	})

	t.Run("RequestDeletionOTP parses retry_at", func(t *testing.T) {
		transport := tu.NewScriptedTransport(tu.Reply{Body: `{"retry_at":"2025-03-01T10:00:00Z"}`})
		res, err := newService(transport, nil).RequestDeletionOTP(ctx)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		want := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
		if res.NextAllowedAt == nil || !res.NextAllowedAt.Equal(want) {
			t.Errorf("expected next allowed at %v, got %v", want, res.NextAllowedAt)
		}
		if len(transport.Requests()[0].Body) != 0 {
			t.Error("expected no request body")
		}
	})

	t.Run("RevokeTrustedDevices reads count alias", func(t *testing.T) {
		transport := tu.NewScriptedTransport(tu.Reply{Body: `{"count":3}`})
		res, err := newService(transport, nil).RevokeTrustedDevices(ctx)
		if err != nil || res.Revoked != 3 {
			t.Errorf("expected 3 revoked, got %+v, %v", res, err)
		}
	})

	t.Run("RevokeSession", func(t *testing.T) {
		transport := tu.NewScriptedTransport(tu.Reply{Status: http.StatusNoContent})
		if _, err := newService(transport, nil).RevokeSession(ctx, "s-2"); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if got := transport.Requests()[0].URL; got != "http://api.test/auth/sessions/s-2" {
			t.Errorf("unexpected URL %s", got)
		}
	})

	t.Run("Queries", func(t *testing.T) {
		transport := tu.NewScriptedTransport(
			tu.Reply{Body: `{"devices":[{"id":"d1","name":"Laptop","created_at":"2025-01-01T00:00:00Z"}]}`},
			tu.Reply{Status: http.StatusNoContent},
			tu.Reply{Body: `{"mfa_enabled":true,"method":"totp","recovery_codes_remaining":7}`},
		)
		svc := newService(transport, nil)

		devices, err := svc.ListTrustedDevices(ctx)
		if err != nil || len(devices) != 1 || devices[0].Name != "Laptop" {
			t.Errorf("unexpected devices %+v, %v", devices, err)
		}

		sessions, err := svc.ListSessions(ctx)
		if err != nil || sessions == nil || len(sessions) != 0 {
			t.Errorf("expected empty non-nil sessions, got %#v, %v", sessions, err)
		}

		status, err := svc.MFAStatus(ctx)
		if err != nil || !status.Enabled || status.RemainingCodes != 7 {
			t.Errorf("unexpected status %+v, %v", status, err)
		}

		for _, req := range transport.Requests() {
			if req.Method != http.MethodGet || req.Header.Get(mutation.HeaderIdempotencyKey) != "" {
				t.Errorf("expected keyless GET, got %s with key %q", req.Method, req.Header.Get(mutation.HeaderIdempotencyKey))
			}
		}
	})
}

func TestLogin(t *testing.T) {
	ctx := context.Background()

	t.Run("stores issued tokens", func(t *testing.T) {
		transport := tu.NewScriptedTransport(tu.Reply{Body: `{"access_token":"a1","refresh_token":"r1","token_type":"bearer","expires_in":900}`})
		tokens := &memoryTokens{}
		svc := newService(transport, tokens)
		now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
		svc.now = func() time.Time { return now }

		res, err := svc.Login(ctx, LoginInput{Email: "User@Example.com", Password: "pw"})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if res.MFARequired {
			t.Error("expected no MFA challenge")
		}
		if tokens.token == nil || tokens.token.AccessToken != "a1" || tokens.token.RefreshToken != "r1" {
			t.Fatalf("expected stored tokens, got %+v", tokens.token)
		}
		if !tokens.token.Expiry.Equal(now.Add(15 * time.Minute)) {
			t.Errorf("unexpected expiry %v", tokens.token.Expiry)
		}
		jsonEqual(t, `{"email":"user@example.com","password":"pw"}`, string(transport.Requests()[0].Body))
	})

	t.Run("returns the MFA challenge without storing", func(t *testing.T) {
		transport := tu.NewScriptedTransport(
			tu.Reply{Body: `{"mfa_required":true,"challenge_token":"c1"}`},
			tu.Reply{Body: `{"access_token":"a2"}`},
		)
		tokens := &memoryTokens{}
		svc := newService(transport, tokens)

		res, err := svc.Login(ctx, LoginInput{Email: "u@example.com", Password: "pw"})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if !res.MFARequired || res.MFAToken != "c1" || tokens.token != nil {
			t.Fatalf("expected challenge only, got %+v", res)
		}

		if _, err := svc.CompleteMFALogin(ctx, MFALoginInput{MFAToken: res.MFAToken, Code: "123 456", TrustDevice: true}); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if tokens.token == nil || tokens.token.AccessToken != "a2" {
			t.Errorf("expected stored token, got %+v", tokens.token)
		}
		jsonEqual(t, `{"mfa_token":"c1","code":"123456","trust_device":true}`, string(transport.Requests()[1].Body))
	})

	t.Run("missing access token is a protocol violation", func(t *testing.T) {
		transport := tu.NewScriptedTransport(tu.Reply{Body: `{"token_type":"bearer"}`})
		_, err := newService(transport, &memoryTokens{}).Login(ctx, LoginInput{Email: "u@example.com", Password: "pw"})
		if !mutation.IsKind(err, mutation.ProtocolViolation) {
			t.Errorf("expected ProtocolViolation, got %v", err)
		}
	})

	t.Run("empty login response cannot be stored", func(t *testing.T) {
		transport := tu.NewScriptedTransport(tu.Reply{Status: http.StatusNoContent})
		_, err := newService(transport, &memoryTokens{}).Login(ctx, LoginInput{Email: "u@example.com", Password: "pw"})
		if !errors.Is(err, shared.ErrAuthFailed) {
			t.Errorf("expected ErrAuthFailed, got %v", err)
		}
	})

	t.Run("Logout clears tokens", func(t *testing.T) {
		tokens := &memoryTokens{token: &oauth2.Token{AccessToken: "a"}}
		if err := newService(tu.NewScriptedTransport(), tokens).Logout(); err != nil || !tokens.cleared {
			t.Errorf("expected cleared tokens, got %v", err)
		}
	})
}

func TestStepUp(t *testing.T) {
	ctx := context.Background()

	transport := tu.NewScriptedTransport(
		tu.Reply{Status: http.StatusForbidden, Body: `{"error":"step_up_required"}`},
		tu.Reply{Body: `{"reauth_token":"r-123","expires_at":"2025-01-01T00:05:00Z"}`},
		tu.Reply{Status: http.StatusNoContent},
	)
	svc := newService(transport, nil)

	prompted := 0
	source := svc.StepUpSource(func(context.Context) (string, error) {
		prompted++
		return "hunter22", nil
	})

	_, err := mutation.ResubmitWithStepUp(ctx, source, func(ctx context.Context, opts ...mutation.SubmitOption) (mutation.Result, error) {
		return svc.DeactivateAccount(ctx, DeactivateInput{Reason: "taking a break"}, opts...)
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if prompted != 1 {
		t.Errorf("expected one prompt, got %d", prompted)
	}

	reqs := transport.Requests()
	if len(reqs) != 3 {
		t.Fatalf("expected 3 requests, got %d", len(reqs))
	}
	jsonEqual(t, `{"password":"hunter22"}`, string(reqs[1].Body))
	if reqs[2].Header.Get(mutation.HeaderReauth) != "r-123" {
		t.Errorf("expected step-up header, got %q", reqs[2].Header.Get(mutation.HeaderReauth))
	}
	if reqs[0].Header.Get(mutation.HeaderIdempotencyKey) != reqs[2].Header.Get(mutation.HeaderIdempotencyKey) {
		t.Error("expected the resubmission to reuse the idempotency key")
	}
	if strings.Contains(string(reqs[2].Body), "r-123") {
		t.Error("expected step-up credential to stay out of the body")
	}
}

func TestCatalogue(t *testing.T) {
	t.Run("rate limit policy", func(t *testing.T) {
		noRetry := map[string]bool{
			OpMFAEnable: true, OpMFAVerify: true, OpMFADisable: true, OpMFALogin: true,
			OpRegenerateRecoveryCodes: true, OpReauthenticate: true, OpLogin: true, OpRequestDeletionOTP: true,
		}

		for _, op := range Operations() {
			d := op.Describe()
			if d.RetryOnRateLimit == noRetry[d.Name] {
				t.Errorf("%s: unexpected 429 retry policy %v", d.Name, d.RetryOnRateLimit)
			}
		}
	})

	t.Run("every normalizer tolerates an empty body", func(t *testing.T) {
		for _, op := range Operations() {
			out, err := op.NormalizeBody(nil)
			if err != nil {
				t.Errorf("%s: expected no error, got %v", op.OpName(), err)
				continue
			}
			if op.Describe().Query {
				continue
			}
			if !strings.Contains(marshal(t, out), `"ok":true`) {
				t.Errorf("%s: expected ok true, got %s", op.OpName(), marshal(t, out))
			}
		}
	})

	t.Run("unknown fields are preserved", func(t *testing.T) {
		out, err := MFAVerify.NormalizeBody([]byte(`{"enabled":true,"trace":"t1"}`))
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if !strings.Contains(marshal(t, out), `"trace":"t1"`) {
			t.Errorf("expected extra field, got %s", marshal(t, out))
		}
	})

	t.Run("Lookup", func(t *testing.T) {
		op, err := Lookup(OpMFAVerify)
		if err != nil || op.OpName() != OpMFAVerify {
			t.Errorf("expected mfa-verify, got %v", err)
		}
		if _, err := Lookup("format-disk"); !errors.Is(err, shared.ErrUnknownOperation) {
			t.Errorf("expected ErrUnknownOperation, got %v", err)
		}
	})

	t.Run("Submit by name", func(t *testing.T) {
		transport := tu.NewScriptedTransport(tu.Reply{Status: http.StatusNoContent})
		svc := newService(transport, nil)

		out, err := svc.Submit(context.Background(), OpConfirmPasswordReset, []byte(`{"token":"abc","new_password":"Secret123!","confirm_password":"Secret123!"}`))
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		jsonEqual(t, `{"ok":true}`, marshal(t, out))

		_, err = svc.Submit(context.Background(), OpConfirmPasswordReset, []byte(`{"token":"abc","admin":true}`))
		if !mutation.IsKind(err, mutation.InvalidInput) {
			t.Errorf("expected InvalidInput, got %v", err)
		}
	})
}
