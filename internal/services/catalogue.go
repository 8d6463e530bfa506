package services

import (
	"fmt"
	"sort"

	"github.com/desertthunder/moviesnow/internal/mutation"
	"github.com/desertthunder/moviesnow/internal/shared"
)

// Operation names.
const (
	OpRequestPasswordReset    = "request-password-reset"
	OpConfirmPasswordReset    = "confirm-password-reset"
	OpChangePassword          = "change-password"
	OpStartEmailChange        = "start-email-change"
	OpConfirmEmailChange      = "confirm-email-change"
	OpDeactivateAccount       = "deactivate-account"
	OpRequestDeletionOTP      = "request-deletion-otp"
	OpDeleteAccount           = "delete-account"
	OpMFAEnable               = "mfa-enable"
	OpMFAVerify               = "mfa-verify"
	OpMFADisable              = "mfa-disable"
	OpMFALogin                = "mfa-login"
	OpRegenerateRecoveryCodes = "regenerate-recovery-codes"
	OpReauthenticate          = "reauthenticate"
	OpLogin                   = "login"
	OpRevokeTrustedDevices    = "revoke-trusted-devices"
	OpRevokeSession           = "revoke-session"
	OpListTrustedDevices      = "list-trusted-devices"
	OpMFAStatus               = "mfa-status"
	OpListSessions            = "list-sessions"
)

// Operations returns every operation, sorted by name.
func Operations() []mutation.Runner {
	ops := []mutation.Runner{
		RequestPasswordReset,
		ConfirmPasswordReset,
		ChangePassword,
		StartEmailChange,
		ConfirmEmailChange,
		DeactivateAccount,
		RequestDeletionOTP,
		DeleteAccount,
		MFAEnable,
		MFAVerify,
		MFADisable,
		MFALogin,
		RegenerateRecoveryCodes,
		Reauthenticate,
		Login,
		RevokeTrustedDevices,
		RevokeSession,
		ListTrustedDevices,
		MFAStatus,
		ListSessions,
	}

	sort.Slice(ops, func(i, j int) bool {
		return ops[i].OpName() < ops[j].OpName()
	})
	return ops
}

// Lookup finds an operation by name.
func Lookup(name string) (mutation.Runner, error) {
	for _, op := range Operations() {
		if op.OpName() == name {
			return op, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", shared.ErrUnknownOperation, name)
}
