package main

import (
	"context"
	"errors"
	"os"
	"os/signal"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/desertthunder/moviesnow/internal/shared"
)

func main() {
	logger := shared.NewLogger(nil)

	runner := NewRunner(RunnerOpts{Logger: logger})
	defer runner.Close()

	app := newApp(runner)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := app.Run(ctx, os.Args); err != nil {
		var cerr *commandError
		if errors.As(err, &cerr) {
			logger.Error(cerr.Error())
			if cerr.hint != "" {
				logger.Info(cerr.hint)
			}
		} else {
			logger.Errorf("application error: %v", err)
		}
		runner.Close()
		os.Exit(1)
	}
}

// newApp builds the root command around r.
func newApp(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "mnow",
		Usage:   "Manage your MoviesNow account from the terminal",
		Version: "0.1.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file",
				Value:   defaultConfigPath,
				Sources: cli.EnvVars("MNOW_CONFIG"),
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Output JSON",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Enable debug logging",
			},
		},
		Commands: r.register(),
	}
}
