package main

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/moviesnow/internal/shared"
	"github.com/desertthunder/moviesnow/internal/tasks"
	"github.com/desertthunder/moviesnow/internal/ui"
	"github.com/urfave/cli/v3"
)

// AdminSessionsTUI launches the interactive session manager.
func (r *Runner) AdminSessionsTUI(ctx context.Context, cmd *cli.Command) error {
	if r.account == nil || r.revoker == nil {
		return fmt.Errorf("%w: account service not initialized", shared.ErrServiceUnavailable)
	}

	// Redirect logs to file to avoid interfering with TUI rendering
	fileLogger, err := shared.NewFileLogger("./tmp/mnow-tui.log")
	if err != nil {
		return fmt.Errorf("failed to create file logger: %w", err)
	}
	r.SetLogger(fileLogger)

	opts := tasks.BulkOpts{NumWorkers: int(cmd.Int("workers")), RateLimit: cmd.Float("rate")}
	model := ui.NewModel(ctx, r.account, r.revoker, opts)
	p := tea.NewProgram(model, tea.WithContext(ctx), tea.WithAltScreen())

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("error running TUI: %w", err)
	}

	return nil
}
