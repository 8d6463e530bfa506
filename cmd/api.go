package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/desertthunder/moviesnow/internal/formatter"
	"github.com/desertthunder/moviesnow/internal/mutation"
	"github.com/desertthunder/moviesnow/internal/services"
	"github.com/desertthunder/moviesnow/internal/shared"
	"github.com/urfave/cli/v3"
)

// APIGet makes a direct GET request to the API
func (r *Runner) APIGet(ctx context.Context, cmd *cli.Command) error {
	path := cmd.StringArg("path")
	if path == "" {
		return fmt.Errorf("%w: path", shared.ErrMissingArgument)
	}

	r.logger.Info("GET request", "path", path)

	resp, err := r.api.Get(ctx, path)
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrAPIRequest, err)
	}
	return r.writeResponse(resp)
}

// APIPost makes a direct POST request to the API
func (r *Runner) APIPost(ctx context.Context, cmd *cli.Command) error {
	path := cmd.StringArg("path")
	data := cmd.String("data")
	if path == "" {
		return fmt.Errorf("%w: path", shared.ErrMissingArgument)
	}

	var jsonTest any
	if err := json.Unmarshal([]byte(data), &jsonTest); err != nil {
		return fmt.Errorf("%w: data is not valid JSON: %v", shared.ErrInvalidInput, err)
	}

	r.logger.Info("POST request", "path", path)

	resp, err := r.api.Post(ctx, path, []byte(data))
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrAPIRequest, err)
	}
	r.logger.Debug("sent with idempotency key", "key", resp.IdempotencyKey)
	return r.writeResponse(resp)
}

// APIDelete makes a direct DELETE request to the API
func (r *Runner) APIDelete(ctx context.Context, cmd *cli.Command) error {
	path := cmd.StringArg("path")
	if path == "" {
		return fmt.Errorf("%w: path", shared.ErrMissingArgument)
	}

	r.logger.Info("DELETE request", "path", path)

	resp, err := r.api.Delete(ctx, path)
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrAPIRequest, err)
	}
	return r.writeResponse(resp)
}

func (r *Runner) writeResponse(resp *services.APIResponse) error {
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: status %d, body: %s", shared.ErrAPIRequest, resp.StatusCode, strings.TrimSpace(string(resp.Body)))
	}

	if resp.IsJSON {
		return r.writeJSON(resp.JSONData, r.format != formatter.FormatJSON)
	}
	if len(resp.Body) == 0 {
		return r.writePlain("%d %s\n", resp.StatusCode, "(no content)")
	}

	r.output.Write(resp.Body)
	r.output.Write([]byte("\n"))
	return nil
}

// Submit runs a named operation through the full mutation pipeline.
//
// A step-up prompt appears when the server asks for it. Passing --idempotency-key repeats an
// earlier attempt instead of starting a new mutation.
func (r *Runner) Submit(ctx context.Context, cmd *cli.Command) error {
	if cmd.Bool("list") {
		return r.listOperations()
	}

	name := cmd.StringArg("operation")
	if name == "" {
		return fmt.Errorf("%w: operation (see --list)", shared.ErrMissingArgument)
	}
	if _, err := services.Lookup(name); err != nil {
		return err
	}

	data := []byte(cmd.String("data"))
	key := cmd.String("idempotency-key")

	res, err := withStepUp(ctx, r, name, func(ctx context.Context, opts ...mutation.SubmitOption) (any, error) {
		if key != "" {
			opts = append(opts, mutation.WithIdempotencyKey(key))
		}
		return r.account.Submit(ctx, name, data, opts...)
	})
	if err != nil {
		if merr, ok := mutation.AsError(err); ok && merr.IdempotencyKey != "" && mutation.KindOf(err) != mutation.InvalidInput {
			r.logger.Info("retry with the same key to avoid applying twice", "idempotency_key", merr.IdempotencyKey)
		}
		return err
	}
	return r.write(res)
}

func (r *Runner) listOperations() error {
	ops := services.Operations()
	descriptors := make([]mutation.Descriptor, 0, len(ops))
	for _, op := range ops {
		descriptors = append(descriptors, op.Describe())
	}

	if r.format == formatter.FormatJSON {
		return r.write(descriptors)
	}

	r.writePlainHeader("Operations")
	for _, d := range descriptors {
		kind := "mutation"
		if d.Query {
			kind = "query"
		}
		r.writePlain("%-26s %-6s %-30s %s\n", d.Name, d.Method, d.Path, kind)
	}
	return nil
}
