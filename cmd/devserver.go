package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/desertthunder/moviesnow/internal/server"
	"github.com/desertthunder/moviesnow/internal/shared"
	"github.com/urfave/cli/v3"
)

// Devserver serves an in-memory MoviesNow backend until interrupted.
func (r *Runner) Devserver(ctx context.Context, cmd *cli.Command) error {
	addr := r.config.Server
	if host := cmd.String("host"); host != "" {
		addr.Host = host
	}
	if port := cmd.Int("port"); port > 0 {
		addr.Port = int(port)
	}

	api := server.NewMockAPI(server.MockAPIOpts{Logger: shared.WithLogger(r.logger, "component", "devserver")})
	for _, endpoint := range api.Endpoints() {
		r.logger.Debug("serving", "endpoint", endpoint)
	}

	httpServer := &http.Server{
		Addr:              addr.Addr(),
		Handler:           api,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		r.logger.Infof("starting development backend at http://%v", addr.Addr())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- err
		}
	}()

	r.writePlain("→ MoviesNow development backend on http://%s\n", addr.Addr())
	r.writePlain("  Sign in with %s / %s (client %s)\n", server.MockEmail, server.MockPassword, server.MockClientID)
	r.writePlain("  MFA code %s, TOTP secret %s\n", server.MockMFACode, server.MockTOTPSecret)
	r.writePlain("  Press Ctrl+C to stop\n")

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Warn("error shutting down server", "error", err)
		return err
	}
	r.logger.Info("development backend stopped")
	return nil
}
