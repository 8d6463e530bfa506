package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/desertthunder/moviesnow/internal/formatter"
	"github.com/desertthunder/moviesnow/internal/mutation"
	"github.com/desertthunder/moviesnow/internal/services"
	"github.com/desertthunder/moviesnow/internal/shared"
	"github.com/desertthunder/moviesnow/internal/tasks"
	"github.com/urfave/cli/v3"
)

// AdminSessionsList lists the account's active sessions.
func (r *Runner) AdminSessionsList(ctx context.Context, cmd *cli.Command) error {
	sessions, err := r.account.ListSessions(ctx)
	if err != nil {
		return err
	}
	return r.write(sessions)
}

// AdminSessionsRevoke signs out the given sessions concurrently.
//
// When the server asks for recent authentication the password is requested once and only the
// sessions refused for that reason are revoked again.
func (r *Runner) AdminSessionsRevoke(ctx context.Context, cmd *cli.Command) error {
	ids := cmd.Args().Slice()
	if cmd.Bool("all-others") {
		sessions, err := r.account.ListSessions(ctx)
		if err != nil {
			return err
		}
		for _, s := range sessions {
			if !s.Current {
				ids = append(ids, s.ID)
			}
		}
		if len(ids) == 0 {
			return r.done("No other sessions to revoke", &tasks.BulkResult{})
		}
	}
	if len(ids) == 0 {
		return fmt.Errorf("%w: give session ids or --all-others", shared.ErrMissingArgument)
	}

	opts := tasks.BulkOpts{NumWorkers: int(cmd.Int("workers")), RateLimit: cmd.Float("rate")}
	result, err := r.revoke(ctx, ids, opts)
	if err != nil && result == nil {
		return err
	}

	if retry := needStepUp(result); len(retry) > 0 {
		token, serr := r.stepUp(services.OpRevokeSession)(ctx)
		if serr != nil {
			return serr
		}
		opts.StepUp = token
		again, rerr := r.revoke(ctx, retry, opts)
		if again != nil {
			merge(result, again)
		}
		if rerr != nil {
			err = rerr
		}
	}

	if r.format == formatter.FormatJSON {
		if werr := r.write(result); werr != nil {
			return werr
		}
	} else {
		r.writePlain("✓ Revoked %d of %d sessions\n", result.Succeeded, result.Total)
		for _, f := range result.Failures() {
			r.writePlain("✗ %s: %s\n", f.SessionID, f.Error)
		}
	}

	if err != nil {
		return err
	}
	if result.Failed > 0 {
		return fmt.Errorf("%w: %d of %d revocations failed", shared.ErrAPIRequest, result.Failed, result.Total)
	}
	return nil
}

// revoke runs one bulk revocation, printing progress in text mode.
func (r *Runner) revoke(ctx context.Context, ids []string, opts tasks.BulkOpts) (*tasks.BulkResult, error) {
	progress := make(chan tasks.ProgressUpdate, len(ids)+2)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for update := range progress {
			if r.format == formatter.FormatJSON || update.Phase != tasks.RevokeSessions {
				continue
			}
			r.writePlain("  %s\n", update.Message)
		}
	}()

	result, err := r.revoker.Revoke(ctx, progress, ids, opts)
	close(progress)
	wg.Wait()
	return result, err
}

// needStepUp returns the sessions refused for lack of recent authentication.
func needStepUp(result *tasks.BulkResult) []string {
	if result == nil {
		return nil
	}
	var ids []string
	for _, res := range result.Results {
		if !res.Success && res.Kind == mutation.NeedStepUp {
			ids = append(ids, res.SessionID)
		}
	}
	return ids
}

// merge replaces the results in dst with the retried ones from src.
func merge(dst, src *tasks.BulkResult) {
	retried := make(map[string]tasks.RevokeResult, len(src.Results))
	for _, res := range src.Results {
		retried[res.SessionID] = res
	}

	dst.Succeeded, dst.Failed = 0, 0
	for i, res := range dst.Results {
		if again, ok := retried[res.SessionID]; ok {
			dst.Results[i] = again
		}
		if dst.Results[i].Success {
			dst.Succeeded++
		} else {
			dst.Failed++
		}
	}
}
