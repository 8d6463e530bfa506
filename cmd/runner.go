package main

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/charmbracelet/log"
	"github.com/mattn/go-isatty"
	"github.com/urfave/cli/v3"

	"github.com/desertthunder/moviesnow/internal/cache"
	"github.com/desertthunder/moviesnow/internal/formatter"
	"github.com/desertthunder/moviesnow/internal/mutation"
	"github.com/desertthunder/moviesnow/internal/repositories"
	"github.com/desertthunder/moviesnow/internal/services"
	"github.com/desertthunder/moviesnow/internal/session"
	"github.com/desertthunder/moviesnow/internal/shared"
	"github.com/desertthunder/moviesnow/internal/tasks"
	"github.com/desertthunder/moviesnow/internal/ui"
)

const defaultConfigPath = "config.toml"

// Runner holds all dependencies for CLI commands and provides methods for each command action.
//
// Account services are wired on first use so that setup commands work without a database.
type Runner struct {
	config     *shared.Config
	configPath string
	logger     *log.Logger
	output     io.Writer
	httpClient *http.Client
	prompter   ui.Prompter
	format     string

	db       *sql.DB
	session  *session.Session
	cache    *cache.Reconciler
	pipeline *mutation.Pipeline
	account  *services.AccountService
	api      *services.APIService
	revoker  *tasks.BulkRevoker
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Config     *shared.Config
	ConfigPath string
	Logger     *log.Logger
	Output     io.Writer
	HTTPClient *http.Client
	Prompter   ui.Prompter
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.Prompter == nil {
		opts.Prompter = defaultPrompter()
	}

	return &Runner{
		config:     opts.Config,
		configPath: opts.ConfigPath,
		logger:     opts.Logger,
		output:     opts.Output,
		httpClient: opts.HTTPClient,
		prompter:   opts.Prompter,
		format:     formatter.FormatText,
	}
}

// defaultPrompter uses the interactive prompt on a terminal and plain line input otherwise.
func defaultPrompter() ui.Prompter {
	if isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd()) {
		return ui.NewTeaPrompter(os.Stdin, os.Stderr)
	}
	return ui.NewLinePrompter(os.Stdin, os.Stderr)
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, sessionCommand, passwordCommand, emailCommand, accountCommand, mfaCommand,
		devicesCommand, adminCommand, submitCommand, apiCommand, cacheCommand, devserverCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// configure applies the global flags and loads the configuration once.
func (r *Runner) configure(cmd *cli.Command) error {
	if path := cmd.String("config"); path != "" {
		r.configPath = path
	}
	if r.configPath == "" {
		r.configPath = defaultConfigPath
	}

	if r.config == nil {
		config, err := r.loadConfig()
		if err != nil {
			return err
		}
		r.config = config
	}

	r.format = formatter.FormatText
	if cmd.Bool("json") {
		r.format = formatter.FormatJSON
	}

	level := shared.ParseLogLevel(r.config.Logger.Level)
	if cmd.Bool("verbose") {
		level = log.DebugLevel
	}
	shared.SetLogLevel(r.logger, level)
	return nil
}

func (r *Runner) loadConfig() (*shared.Config, error) {
	if _, err := os.Stat(r.configPath); err == nil {
		return shared.LoadConfig(r.configPath)
	}

	r.logger.Debug("config file not found, using defaults", "path", r.configPath)
	config := shared.DefaultConfig()
	if err := shared.ApplyEnv(config); err != nil {
		return nil, err
	}
	if err := shared.ValidateConfig(config); err != nil {
		return nil, err
	}
	return config, nil
}

// connect opens the database and wires the session, cache and mutation pipeline.
func (r *Runner) connect() error {
	if r.account != nil {
		return nil
	}

	db, err := shared.OpenDatabase(r.config.Database)
	if err != nil {
		return err
	}
	r.db = db

	client := r.httpClient
	if client == http.DefaultClient && r.config.API.Timeout > 0 {
		client = &http.Client{Timeout: r.config.API.Timeout}
	}

	r.session = session.New(
		session.NewOAuthConfig(r.config),
		repositories.NewTokenRepository(db),
		client,
		shared.WithLogger(r.logger, "component", "session"),
	)
	if err := r.session.Load(); err != nil && !errors.Is(err, shared.ErrNotAuthenticated) {
		return fmt.Errorf("failed to restore session: %w", err)
	}

	issuer, err := mutation.NewKeyIssuer(r.config.Idempotency.Format)
	if err != nil {
		return err
	}

	r.cache = cache.NewReconciler(
		repositories.NewCacheRepository(db),
		cache.DefaultRules(),
		shared.WithLogger(r.logger, "component", "cache"),
	)

	exec := mutation.NewExecutor(mutation.ExecutorConfig{
		BaseURL:   r.config.API.BaseURL,
		UserAgent: r.config.API.UserAgent,
		RateLimit: r.config.API.RateLimit,
	}, r.session, client, shared.WithLogger(r.logger, "component", "transport"))

	policy := mutation.RetryPolicy{
		MaxAttempts: r.config.Retry.MaxAttempts,
		BaseDelay:   r.config.Retry.BaseDelay,
		MaxDelay:    r.config.Retry.MaxDelay,
	}

	r.pipeline = mutation.NewPipeline(exec, issuer, policy, r.cache, shared.WithLogger(r.logger, "component", "pipeline"))
	r.account = services.NewAccountService(r.pipeline, r.session)
	r.api = services.NewAPIService(exec, issuer)
	r.revoker = tasks.NewBulkRevoker(r.account, shared.WithLogger(r.logger, "component", "revoke"))
	return nil
}

// Close releases the database.
func (r *Runner) Close() error {
	if r.db == nil {
		return nil
	}
	err := r.db.Close()
	r.db = nil
	return err
}

// SetLogger replaces the runner logger, e.g. while a full-screen UI owns the terminal.
func (r *Runner) SetLogger(logger *log.Logger) {
	r.logger = logger
}

// commandError is a failure phrased for the user, with an optional hint.
type commandError struct {
	err  error
	hint string
}

func (e *commandError) Error() string {
	return mutation.UserMessage(e.err)
}

func (e *commandError) Unwrap() error {
	return e.err
}

// action wraps fn with configuration loading and error mapping.
// online actions get the account services wired before fn runs.
func (r *Runner) action(online bool, fn cli.ActionFunc) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		if err := r.configure(cmd); err != nil {
			return err
		}
		if online {
			if err := r.connect(); err != nil {
				return err
			}
		}

		err := fn(ctx, cmd)
		if err == nil {
			return nil
		}

		r.logger.Debug("command failed", "command", cmd.FullName(), "kind", formatter.FormatKind(err), "error", err)
		if r.format == formatter.FormatJSON {
			r.writeJSON(map[string]any{
				"ok":      false,
				"kind":    formatter.FormatKind(err),
				"message": mutation.UserMessage(err),
			}, true)
		}
		return &commandError{err: err, hint: formatter.Hint(err)}
	}
}

// online wires the account services before running fn.
func (r *Runner) online(fn cli.ActionFunc) cli.ActionFunc {
	return r.action(true, fn)
}

// offline runs fn with configuration only.
func (r *Runner) offline(fn cli.ActionFunc) cli.ActionFunc {
	return r.action(false, fn)
}

// stepUp asks for the password and exchanges it for a step-up token.
func (r *Runner) stepUp(op string) mutation.CredentialSource {
	return r.account.StepUpSource(func(ctx context.Context) (string, error) {
		return r.prompter.Prompt(ctx, ui.PasswordSpec(op))
	})
}

// withStepUp submits and, when the server asks for recent authentication, prompts once and
// resubmits the same mutation.
func withStepUp[Out any](ctx context.Context, r *Runner, op string, submit func(ctx context.Context, opts ...mutation.SubmitOption) (Out, error)) (Out, error) {
	return mutation.ResubmitWithStepUp(ctx, r.stepUp(op), submit)
}

// ask returns value when set and prompts for it otherwise.
func (r *Runner) ask(ctx context.Context, value string, spec ui.PromptSpec) (string, error) {
	if value != "" {
		return value, nil
	}
	return r.prompter.Prompt(ctx, spec)
}

// write renders v in the selected output format.
func (r *Runner) write(v any) error {
	return formatter.WriteResult(r.output, v, r.format)
}

// done prints a confirmation in text mode and the result in JSON mode.
func (r *Runner) done(message string, v any) error {
	if r.format == formatter.FormatJSON {
		return r.write(v)
	}
	return r.writePlain("✓ %s\n", message)
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	output, err := formatter.MarshalJSON(data, pretty)
	if err != nil {
		return err
	}
	output = bytes.TrimRight(output, "\n")

	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if _, err := r.output.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainln(format string, args ...any) error {
	text := "\n" + fmt.Sprintf(format, args...) + "\n"
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainHeader(title string) {
	r.writePlain("═══════════════════════════════════════\n")
	r.writePlain("%v\n", title)
	r.writePlain("═══════════════════════════════════════\n")
}
