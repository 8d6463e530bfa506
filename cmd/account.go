package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/moviesnow/internal/cache"
	"github.com/desertthunder/moviesnow/internal/formatter"
	"github.com/desertthunder/moviesnow/internal/models"
	"github.com/desertthunder/moviesnow/internal/mutation"
	"github.com/desertthunder/moviesnow/internal/services"
	"github.com/desertthunder/moviesnow/internal/shared"
	"github.com/desertthunder/moviesnow/internal/ui"
	"github.com/urfave/cli/v3"
)

// newPassword prompts for a new password twice.
func (r *Runner) newPassword(ctx context.Context, value string) (password, confirm string, err error) {
	if value != "" {
		return value, value, nil
	}

	spec := ui.PromptSpec{Title: "Choose a new password", Label: "New password", Secret: true}
	if password, err = r.prompter.Prompt(ctx, spec); err != nil {
		return "", "", err
	}
	spec.Label = "Confirm password"
	if confirm, err = r.prompter.Prompt(ctx, spec); err != nil {
		return "", "", err
	}
	return password, confirm, nil
}

// PasswordForgot requests a reset email. The response is the same whether or not the account exists.
func (r *Runner) PasswordForgot(ctx context.Context, cmd *cli.Command) error {
	res, err := r.account.RequestPasswordReset(ctx, services.ForgotPasswordInput{Email: cmd.String("email")})
	if err != nil {
		return err
	}
	return r.done("If the address has an account, a reset link is on its way", res)
}

// PasswordReset sets a new password with an emailed token.
func (r *Runner) PasswordReset(ctx context.Context, cmd *cli.Command) error {
	password, confirm, err := r.newPassword(ctx, cmd.String("new-password"))
	if err != nil {
		return err
	}

	res, err := r.account.ConfirmPasswordReset(ctx, services.ResetPasswordInput{
		Token:           cmd.String("token"),
		NewPassword:     password,
		ConfirmPassword: confirm,
	})
	if err != nil {
		return err
	}
	return r.done("Password reset; sign in with the new password", res)
}

// PasswordChange changes the password of the signed-in account.
func (r *Runner) PasswordChange(ctx context.Context, cmd *cli.Command) error {
	current, err := r.prompter.Prompt(ctx, ui.PromptSpec{Title: "Change password", Label: "Current password", Secret: true})
	if err != nil {
		return err
	}
	password, confirm, err := r.newPassword(ctx, "")
	if err != nil {
		return err
	}

	in := services.ChangePasswordInput{CurrentPassword: current, NewPassword: password, ConfirmPassword: confirm}
	res, err := withStepUp(ctx, r, services.OpChangePassword, func(ctx context.Context, opts ...mutation.SubmitOption) (mutation.Result, error) {
		return r.account.ChangePassword(ctx, in, opts...)
	})
	if err != nil {
		return err
	}
	return r.done("Password changed", res)
}

// EmailChange starts an email change.
func (r *Runner) EmailChange(ctx context.Context, cmd *cli.Command) error {
	email, err := r.ask(ctx, cmd.StringArg("new-email"), ui.PromptSpec{Title: "Change email", Label: "New email"})
	if err != nil {
		return err
	}

	password, err := r.prompter.Prompt(ctx, ui.PromptSpec{Title: "Change email", Label: "Password", Secret: true})
	if err != nil {
		return err
	}

	in := services.StartEmailChangeInput{NewEmail: email, Password: password}
	res, err := withStepUp(ctx, r, services.OpStartEmailChange, func(ctx context.Context, opts ...mutation.SubmitOption) (services.EmailChangeResult, error) {
		return r.account.StartEmailChange(ctx, in, opts...)
	})
	if err != nil {
		return err
	}

	pending := res.PendingEmail
	if pending == "" {
		pending = email
	}
	return r.done(fmt.Sprintf("Confirmation sent to %s", pending), res)
}

// EmailConfirm finishes an email change.
func (r *Runner) EmailConfirm(ctx context.Context, cmd *cli.Command) error {
	token, err := r.ask(ctx, cmd.StringArg("token"), ui.PromptSpec{Title: "Confirm email change", Label: "Token"})
	if err != nil {
		return err
	}

	res, err := r.account.ConfirmEmailChange(ctx, services.ConfirmEmailChangeInput{Token: token})
	if err != nil {
		return err
	}
	return r.done(fmt.Sprintf("Email changed to %s", res.Email), res)
}

// AccountDeactivate deactivates the account.
func (r *Runner) AccountDeactivate(ctx context.Context, cmd *cli.Command) error {
	in := services.DeactivateInput{Reason: cmd.String("reason")}
	res, err := withStepUp(ctx, r, services.OpDeactivateAccount, func(ctx context.Context, opts ...mutation.SubmitOption) (mutation.Result, error) {
		return r.account.DeactivateAccount(ctx, in, opts...)
	})
	if err != nil {
		return err
	}
	return r.done("Account deactivated; signing in again reactivates it", res)
}

// AccountDeletionOTP emails a deletion code.
func (r *Runner) AccountDeletionOTP(ctx context.Context, cmd *cli.Command) error {
	res, err := r.account.RequestDeletionOTP(ctx)
	if err != nil {
		return err
	}

	message := "Deletion code sent"
	if res.NextAllowedAt != nil {
		message += fmt.Sprintf("; another can be requested after %s", res.NextAllowedAt.Local().Format(time.Kitchen))
	}
	return r.done(message, res)
}

// AccountDelete permanently deletes the account and signs out.
func (r *Runner) AccountDelete(ctx context.Context, cmd *cli.Command) error {
	code, err := r.ask(ctx, cmd.String("code"), ui.CodeSpec("Delete account"))
	if err != nil {
		return err
	}
	confirm, err := r.ask(ctx, cmd.String("confirm"), ui.PromptSpec{
		Title: "Delete account",
		Label: "Confirm",
		Hint:  "This cannot be undone. Type DELETE to continue.",
	})
	if err != nil {
		return err
	}

	in := services.DeleteAccountInput{Code: code, Confirm: confirm}
	res, err := withStepUp(ctx, r, services.OpDeleteAccount, func(ctx context.Context, opts ...mutation.SubmitOption) (mutation.Result, error) {
		return r.account.DeleteAccount(ctx, in, opts...)
	})
	if err != nil {
		return err
	}
	return r.done("Account deleted", res)
}

// MFAStatus shows the MFA state.
func (r *Runner) MFAStatus(ctx context.Context, cmd *cli.Command) error {
	status, err := r.account.MFAStatus(ctx)
	if err != nil {
		return err
	}
	return r.write(status)
}

// MFAEnable starts enrolment and prints the secret for the authenticator.
func (r *Runner) MFAEnable(ctx context.Context, cmd *cli.Command) error {
	res, err := r.account.EnableMFA(ctx, services.MFAEnableInput{Method: cmd.String("method")})
	if err != nil {
		return err
	}

	if r.format == formatter.FormatJSON {
		return r.write(res)
	}
	r.writePlainHeader("Add MoviesNow to your authenticator")
	if res.Secret != "" {
		r.writePlain("Secret: %s\n", res.Secret)
	}
	if res.OTPAuthURL != "" {
		r.writePlain("URI:    %s\n", res.OTPAuthURL)
	}
	return r.writePlainln("Then run: mnow mfa verify --code <code>")
}

// MFAVerify finishes enrolment and shows the recovery codes once.
func (r *Runner) MFAVerify(ctx context.Context, cmd *cli.Command) error {
	code, err := r.ask(ctx, cmd.String("code"), ui.CodeSpec("Verify authenticator"))
	if err != nil {
		return err
	}

	res, err := r.account.VerifyMFA(ctx, services.MFACodeInput{Code: code})
	if err != nil {
		return err
	}
	return r.showRecoveryCodes(cmd, "Two-factor authentication enabled", res.RecoveryCodes, res)
}

// MFADisable turns MFA off.
func (r *Runner) MFADisable(ctx context.Context, cmd *cli.Command) error {
	in := services.MFADisableInput{Code: cmd.String("code"), RecoveryCode: cmd.String("recovery-code")}
	if in.Code == "" && in.RecoveryCode == "" {
		code, err := r.prompter.Prompt(ctx, ui.CodeSpec("Disable two-factor authentication"))
		if err != nil {
			return err
		}
		in.Code = code
	}

	res, err := withStepUp(ctx, r, services.OpMFADisable, func(ctx context.Context, opts ...mutation.SubmitOption) (services.MFADisableResult, error) {
		return r.account.DisableMFA(ctx, in, opts...)
	})
	if err != nil {
		return err
	}
	return r.done("Two-factor authentication disabled", res)
}

// MFARecoveryCodes issues fresh recovery codes; the previous set stops working.
func (r *Runner) MFARecoveryCodes(ctx context.Context, cmd *cli.Command) error {
	res, err := withStepUp(ctx, r, services.OpRegenerateRecoveryCodes, func(ctx context.Context, opts ...mutation.SubmitOption) (services.RecoveryCodesResult, error) {
		return r.account.RegenerateRecoveryCodes(ctx, opts...)
	})
	if err != nil {
		return err
	}
	return r.showRecoveryCodes(cmd, "New recovery codes issued", res.RecoveryCodes, res)
}

func (r *Runner) showRecoveryCodes(cmd *cli.Command, message string, codes []string, res any) error {
	if format := cmd.String("export"); format != "" {
		path, err := formatter.WriteRecoveryCodes(codes, format, cmd.String("output"))
		if err != nil {
			return err
		}
		r.logger.Info("recovery codes exported", "path", path, "format", format)
		if r.format != formatter.FormatJSON {
			r.writePlain("✓ Recovery codes saved to %s\n", path)
		}
	}

	if r.format == formatter.FormatJSON {
		return r.write(res)
	}

	r.writePlain("✓ %s\n", message)
	if len(codes) == 0 {
		return nil
	}
	r.writePlainHeader("Recovery codes (shown once)")
	for _, code := range codes {
		r.writePlain("  %s\n", code)
	}
	return nil
}

// DevicesList lists trusted devices, from the cache with --cached.
func (r *Runner) DevicesList(ctx context.Context, cmd *cli.Command) error {
	var devices []models.TrustedDevice

	if cmd.Bool("cached") {
		stale, err := r.cache.Get(cache.KeyTrustedDevices, &devices)
		if err != nil {
			if errors.Is(err, shared.ErrCacheMiss) {
				return fmt.Errorf("%w: no cached device list; run without --cached", shared.ErrCacheMiss)
			}
			return err
		}
		if stale {
			r.logger.Warn("cached device list may be out of date")
		}
		return r.write(devices)
	}

	devices, err := r.account.ListTrustedDevices(ctx)
	if err != nil {
		return err
	}
	if devices == nil {
		devices = []models.TrustedDevice{}
	}
	return r.write(devices)
}

// DevicesRevokeAll forgets every trusted device.
func (r *Runner) DevicesRevokeAll(ctx context.Context, cmd *cli.Command) error {
	res, err := withStepUp(ctx, r, services.OpRevokeTrustedDevices, func(ctx context.Context, opts ...mutation.SubmitOption) (services.RevokeDevicesResult, error) {
		return r.account.RevokeTrustedDevices(ctx, opts...)
	})
	if err != nil {
		return err
	}
	return r.done(fmt.Sprintf("Revoked %d trusted devices", res.Revoked), res)
}
