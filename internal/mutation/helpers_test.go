package mutation

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	tu "github.com/desertthunder/moviesnow/internal/testing"
)

type fakeCreds struct {
	mu        sync.Mutex
	token     string
	expired   bool
	refreshes int
	err       error
}

func (f *fakeCreds) Current() (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token, f.expired
}

func (f *fakeCreds) Refresh(_ context.Context, stale string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	if f.err != nil {
		return "", f.err
	}
	f.token = "fresh-token"
	f.expired = false
	return f.token, nil
}

func (f *fakeCreds) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshes
}

type resetInput struct {
	Token           string `json:"token" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=8"`
	ConfirmPassword string `json:"confirm_password" validate:"required,eqfield=NewPassword"`
}

type resetPayload struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

var resetOp = Operation[resetInput, Result]{
	Name:             "confirm-password-reset",
	Method:           http.MethodPost,
	Path:             "/auth/password/reset/confirm",
	RetryOnRateLimit: true,
	Public:           true,
	Transform: func(in resetInput) (any, error) {
		return resetPayload{Token: in.Token, NewPassword: in.NewPassword}, nil
	},
	Normalize: NormalizeOK,
}

var resetIn = resetInput{Token: "abc", NewPassword: "Secret123!", ConfirmPassword: "Secret123!"}

type verifyInput struct {
	Code string `json:"code" validate:"required,otp"`
}

type verifyResult struct {
	Result
	Enabled       bool     `json:"enabled"`
	RecoveryCodes []string `json:"recovery_codes,omitempty"`
}

var verifyOp = Operation[verifyInput, verifyResult]{
	Name:   "mfa-verify",
	Method: http.MethodPost,
	Path:   "/auth/mfa/verify",
	Transform: func(in verifyInput) (any, error) {
		return map[string]string{"code": NormalizeOTP(in.Code)}, nil
	},
	Normalize: func(f *Fields) (verifyResult, error) {
		var out verifyResult
		if _, err := f.Take(&out.Enabled, "enabled"); err != nil {
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

type revokeInput struct {
	ID string `json:"id" validate:"required"`
}

var revokeOp = Operation[revokeInput, Result]{
	Name:             "revoke-session",
	Method:           http.MethodDelete,
	Path:             "/auth/sessions/{id}",
	RetryOnRateLimit: true,
	PathParams:       func(in revokeInput) map[string]string { return map[string]string{"id": in.ID} },
	Normalize:        NormalizeOK,
}

// testPipeline wires a pipeline to a scripted transport with sleeps recorded instead of taken.
func testPipeline(t *testing.T, transport *tu.ScriptedTransport, creds Credentials, attempts int) (*Pipeline, *[]time.Duration) {
	t.Helper()

	exec := NewExecutor(ExecutorConfig{BaseURL: "http://api.test", UserAgent: "mnow-test"}, creds, transport.Client(), nil)
	p := NewPipeline(exec, nil, RetryPolicy{MaxAttempts: attempts, BaseDelay: 10 * time.Millisecond, MaxDelay: time.Second}, nil, nil)

	var delays []time.Duration
	p.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return ctx.Err()
	}
	return p, &delays
}

var errBoom = errors.New("connection reset by peer")
