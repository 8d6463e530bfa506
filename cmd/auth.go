package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/desertthunder/moviesnow/internal/formatter"
	"github.com/desertthunder/moviesnow/internal/server"
	"github.com/desertthunder/moviesnow/internal/services"
	"github.com/desertthunder/moviesnow/internal/session"
	"github.com/desertthunder/moviesnow/internal/shared"
	"github.com/desertthunder/moviesnow/internal/ui"
	"github.com/urfave/cli/v3"
	"golang.org/x/oauth2"
)

const browserLoginTimeout = 2 * time.Minute

// SessionLogin signs in with a password, answering an MFA challenge when the account has one,
// or through the browser with --browser.
func (r *Runner) SessionLogin(ctx context.Context, cmd *cli.Command) error {
	if cmd.Bool("browser") {
		token, err := r.doOAuth(ctx)
		if err != nil {
			return err
		}
		if err := r.session.Set(token); err != nil {
			return err
		}
		return r.done("Signed in", r.session.Status())
	}

	email, err := r.ask(ctx, cmd.String("email"), ui.PromptSpec{Title: "Sign in to MoviesNow", Label: "Email"})
	if err != nil {
		return err
	}
	password, err := r.ask(ctx, cmd.String("password"), ui.PromptSpec{Title: "Sign in to MoviesNow", Label: "Password", Secret: true})
	if err != nil {
		return err
	}

	res, err := r.account.Login(ctx, services.LoginInput{Email: email, Password: password})
	if err != nil {
		return err
	}

	if res.MFARequired {
		r.logger.Debug("login challenged for second factor")
		code, err := r.prompter.Prompt(ctx, ui.CodeSpec("Two-factor verification"))
		if err != nil {
			if errors.Is(err, ui.ErrPromptCancelled) {
				r.writePlain("Finish later with: mnow mfa login --mfa-token %s --code <code>\n", res.MFAToken)
				return shared.ErrMFARequired
			}
			return err
		}
		if _, err := r.account.CompleteMFALogin(ctx, services.MFALoginInput{
			MFAToken:    res.MFAToken,
			Code:        code,
			TrustDevice: cmd.Bool("trust-device"),
		}); err != nil {
			return err
		}
	}

	status := r.session.Status()
	r.logger.Info("signed in", "subject", status.Subject)
	return r.done(fmt.Sprintf("Signed in as %s", email), status)
}

// MFALogin answers a pending second-factor challenge.
func (r *Runner) MFALogin(ctx context.Context, cmd *cli.Command) error {
	in := services.MFALoginInput{
		MFAToken:     cmd.String("mfa-token"),
		Code:         cmd.String("code"),
		RecoveryCode: cmd.String("recovery-code"),
		TrustDevice:  cmd.Bool("trust-device"),
	}
	if in.Code == "" && in.RecoveryCode == "" {
		code, err := r.prompter.Prompt(ctx, ui.CodeSpec("Two-factor verification"))
		if err != nil {
			return err
		}
		in.Code = code
	}

	if _, err := r.account.CompleteMFALogin(ctx, in); err != nil {
		return err
	}
	return r.done("Signed in", r.session.Status())
}

// SessionLogout forgets the stored credentials.
func (r *Runner) SessionLogout(ctx context.Context, cmd *cli.Command) error {
	if err := r.account.Logout(); err != nil {
		return err
	}
	if _, err := r.cache.Clear(); err != nil {
		r.logger.Warn("failed to clear cache", "error", err)
	}
	return r.done("Signed out", map[string]bool{"authenticated": false})
}

// SessionStatus reports the stored session without contacting the server.
func (r *Runner) SessionStatus(ctx context.Context, cmd *cli.Command) error {
	status := r.session.Status()
	if token := r.session.Token(); token != nil {
		r.logger.Debug("stored token", "access", shared.Redact(token.AccessToken))
	}

	if r.format == formatter.FormatJSON {
		return r.write(status)
	}
	return r.writeStatus(status)
}

func (r *Runner) writeStatus(status session.Status) error {
	if !status.Authenticated {
		return r.writePlain("✗ Not signed in\n")
	}

	if status.Subject != "" {
		r.writePlain("Account: %s\n", status.Subject)
	}
	if !status.Expiry.IsZero() {
		r.writePlain("Expires: %s\n", status.Expiry.Local().Format(time.RFC1123))
	}
	switch {
	case !status.Expired:
		return r.writePlain("✓ Signed in\n")
	case status.CanRefresh:
		return r.writePlain("⚠ Access token expired; it will be refreshed on the next request\n")
	default:
		return r.writePlain("✗ Session expired; sign in again\n")
	}
}

// SessionRefresh forces a token refresh.
func (r *Runner) SessionRefresh(ctx context.Context, cmd *cli.Command) error {
	stale, _ := r.session.Current()
	if _, err := r.session.Refresh(ctx, stale); err != nil {
		return err
	}
	return r.done("Session refreshed", r.session.Status())
}

// doOAuth runs the authorization code flow: it serves the callback on the redirect URI's
// address, opens the browser and waits for the exchanged token.
func (r *Runner) doOAuth(ctx context.Context) (*oauth2.Token, error) {
	redirect, err := url.Parse(r.config.Auth.RedirectURI)
	if err != nil || redirect.Host == "" {
		return nil, fmt.Errorf("%w: auth.redirect_uri %q", shared.ErrInvalidConfig, r.config.Auth.RedirectURI)
	}

	state := shared.GenerateID()
	oauthHandler := server.NewOAuthHandler(session.NewOAuthConfig(r.config), state)
	var router server.Router = server.NewBasicRouter()
	router.Use(server.Recovery(r.logger))
	router.Handler(oauthHandler)

	httpServer := &http.Server{
		Addr:              redirect.Host,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		r.logger.Infof("starting callback server at %v", redirect.Host)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- err
		}
	}()

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			r.logger.Warn("error shutting down server", "error", err)
		}
	}()

	authURL := oauthHandler.AuthCodeURL()
	r.writePlain("→ Opening browser to sign in...\n")
	if err := shared.OpenBrowser(authURL); err != nil {
		r.logger.Warnf("failed to open browser automatically %v", err)
		r.writePlainln("⚠ Could not open browser automatically.")
		r.writePlain("Please open this URL in your browser:\n%s\n\n", authURL)
	}

	r.writePlain("→ Waiting for authorization (2 minute timeout)...\n")

	timeout := time.NewTimer(browserLoginTimeout)
	defer timeout.Stop()

	var result server.OAuthResult
	select {
	case result = <-oauthHandler.Result():
	case err := <-serverErrors:
		return nil, fmt.Errorf("server error: %w", err)
	case <-timeout.C:
		return nil, fmt.Errorf("%w: authorization timed out after 2 minutes", shared.ErrTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if result.Error() != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrAuthFailed, result.Error())
	}
	if result.Token == nil {
		return nil, fmt.Errorf("%w: no token received", shared.ErrAuthFailed)
	}
	return result.Token, nil
}
