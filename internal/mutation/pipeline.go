package mutation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
)

// Operation describes one account mutation (or query) end to end.
type Operation[In, Out any] struct {
	Name   string
	Method string
	// Path may contain {name} placeholders filled by PathParams.
	Path string
	// RetryOnRateLimit allows automatic retry after a 429. Credential-sensitive operations leave it unset.
	RetryOnRateLimit bool
	// Public operations are sent without the bearer credential.
	Public bool
	// Query marks a read: no idempotency key and no optimistic reconciliation.
	Query bool

	// Prepare fills defaults before validation.
	Prepare    func(*In)
	PathParams func(In) map[string]string
	// Transform maps the validated input to its wire payload. A nil payload sends no body.
	Transform func(In) (any, error)
	Normalize func(*Fields) (Out, error)
}

// Descriptor summarises an operation for listings.
type Descriptor struct {
	Name             string `json:"name"`
	Method           string `json:"method"`
	Path             string `json:"path"`
	RetryOnRateLimit bool   `json:"retry_on_rate_limit"`
	Public           bool   `json:"public"`
	Query            bool   `json:"query"`
}

// Runner is the type-erased view of an [Operation], used to submit operations by name.
type Runner interface {
	OpName() string
	Describe() Descriptor
	SubmitJSON(ctx context.Context, p *Pipeline, data []byte, opts ...SubmitOption) (any, error)
	NormalizeBody(body []byte) (any, error)
}

func (op Operation[In, Out]) OpName() string {
	return op.Name
}

func (op Operation[In, Out]) Describe() Descriptor {
	method := op.Method
	if method == "" {
		method = http.MethodPost
	}
	return Descriptor{
		Name:             op.Name,
		Method:           method,
		Path:             op.Path,
		RetryOnRateLimit: op.RetryOnRateLimit || op.Query,
		Public:           op.Public,
		Query:            op.Query,
	}
}

// NormalizeBody runs the operation's normalizer on a raw success body.
func (op Operation[In, Out]) NormalizeBody(body []byte) (any, error) {
	return normalize(op, &Response{Body: body})
}

// SubmitJSON decodes data into the operation input, rejecting unknown fields, and submits it.
func (op Operation[In, Out]) SubmitJSON(ctx context.Context, p *Pipeline, data []byte, opts ...SubmitOption) (any, error) {
	in, err := DecodeInput[In](op.Name, data)
	if err != nil {
		return nil, err
	}
	return Submit(ctx, p, op, in, opts...)
}

// Pipeline holds the collaborators shared by all submissions.
type Pipeline struct {
	exec       *Executor
	issuer     KeyIssuer
	policy     RetryPolicy
	reconciler Reconciler
	observer   Observer
	logger     *log.Logger
	sleep      func(context.Context, time.Duration) error
}

// NewPipeline creates a pipeline. Nil collaborators fall back to UUID keys, no reconciliation
// and a discarding logger.
func NewPipeline(exec *Executor, issuer KeyIssuer, policy RetryPolicy, reconciler Reconciler, logger *log.Logger) *Pipeline {
	if issuer == nil {
		issuer = UUIDIssuer{}
	}
	if reconciler == nil {
		reconciler = NopReconciler{}
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}

	return &Pipeline{
		exec:       exec,
		issuer:     issuer,
		policy:     policy,
		reconciler: reconciler,
		logger:     logger,
		sleep:      sleep,
	}
}

// Executor returns the transport the pipeline dispatches through.
func (p *Pipeline) Executor() *Executor {
	return p.exec
}

// Observe registers an observer for every submission of the pipeline.
func (p *Pipeline) Observe(o Observer) {
	p.observer = o
}

type submitOptions struct {
	stepUp   string
	key      string
	observer Observer
}

// SubmitOption customises one submission.
type SubmitOption func(*submitOptions)

// WithStepUp attaches a step-up credential as the X-Reauth header.
func WithStepUp(token string) SubmitOption {
	return func(o *submitOptions) { o.stepUp = token }
}

// WithIdempotencyKey reuses the key of an earlier submission of the same logical mutation.
func WithIdempotencyKey(key string) SubmitOption {
	return func(o *submitOptions) { o.key = key }
}

// WithObserver receives the state changes of this submission.
func WithObserver(obs Observer) SubmitOption {
	return func(o *submitOptions) { o.observer = obs }
}

// Submit runs in through validation, transformation, key issue, step-up attachment, execution
// with bounded retry, normalization and cache reconciliation.
func Submit[In, Out any](ctx context.Context, p *Pipeline, op Operation[In, Out], in In, opts ...SubmitOption) (Out, error) {
	var (
		zero    Out
		options submitOptions
	)
	for _, opt := range opts {
		opt(&options)
	}

	observer := options.observer
	if observer == nil {
		observer = p.observer
	}
	tr := &tracker{op: op.Name, observer: func(name string, from, to State) {
		p.logger.Debug("state", "op", name, "from", from, "to", to)
		if observer != nil {
			observer(name, from, to)
		}
	}}

	fail := func(err error) (Out, error) {
		tr.to(Failed)
		p.logger.Debug("mutation failed", "op", op.Name, "kind", KindOf(err), "err", err)
		return zero, err
	}

	tr.to(Validating)
	if op.Prepare != nil {
		op.Prepare(&in)
	}
	if err := Validate(op.Name, in); err != nil {
		return fail(err)
	}

	tr.to(Transforming)
	req, err := buildRequest(op, in)
	if err != nil {
		return fail(err)
	}

	m := Mutation{Op: op.Name}
	if op.PathParams != nil {
		m.Params = op.PathParams(in)
	}

	var undo Undo
	if !op.Query {
		m.IdempotencyKey = options.key
		if m.IdempotencyKey == "" {
			m.IdempotencyKey = p.issuer.Issue()
		}
		req.IdempotencyKey = m.IdempotencyKey
		req.StepUp = options.stepUp

		undo, err = p.reconciler.Optimistic(ctx, m)
		if err != nil {
			p.logger.Warn("optimistic cache update failed", "op", op.Name, "err", err)
			undo = nil
		}
	}

	out, err := dispatch(ctx, p, op, req, tr)
	if err != nil {
		if merr, ok := AsError(err); ok && merr.IdempotencyKey == "" {
			merr.IdempotencyKey = m.IdempotencyKey
		}
		if undo != nil {
			if uerr := undo(context.WithoutCancel(ctx)); uerr != nil {
				p.logger.Warn("cache rollback failed", "op", op.Name, "err", uerr)
			}
		}
		p.settle(ctx, Outcome{Mutation: m, Err: err})
		return fail(err)
	}

	tr.to(Succeeded)
	p.settle(ctx, Outcome{Mutation: m, Result: out})
	return out, nil
}

func (p *Pipeline) settle(ctx context.Context, o Outcome) {
	if err := p.reconciler.Settle(context.WithoutCancel(ctx), o); err != nil {
		p.logger.Warn("cache reconciliation failed", "op", o.Op, "err", err)
	}
}

func buildRequest[In, Out any](op Operation[In, Out], in In) (*Request, error) {
	path := op.Path
	if op.PathParams != nil {
		resolved, err := resolvePath(op.Path, op.PathParams(in))
		if err != nil {
			return nil, invalidInput(op.Name, "", err.Error())
		}
		path = resolved
	}

	method := op.Method
	if method == "" {
		method = http.MethodPost
	}

	req := &Request{Op: op.Name, Method: method, Path: path, Public: op.Public}

	if op.Transform == nil {
		return req, nil
	}

	payload, err := op.Transform(in)
	if err != nil {
		var merr *Error
		if errors.As(err, &merr) {
			return nil, err
		}
		return nil, &Error{Kind: InvalidInput, Op: op.Name, Message: err.Error(), Err: err}
	}
	if payload == nil {
		return req, nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &Error{Kind: InvalidInput, Op: op.Name, Message: "payload could not be encoded", Err: err}
	}
	req.Body = body
	return req, nil
}

// dispatch executes req with bounded, strictly sequential retries and normalizes the response.
func dispatch[In, Out any](ctx context.Context, p *Pipeline, op Operation[In, Out], req *Request, tr *tracker) (Out, error) {
	var zero Out

	req.OnRefresh = func() { tr.to(RefreshingCredential) }
	req.OnSend = func() { tr.to(AwaitingResponse) }

	maxAttempts := p.policy.attempts()
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		tr.to(Dispatching)
		resp, err := p.exec.Do(ctx, req)
		if err == nil {
			return normalize(op, resp)
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}

		lastErr = err
		if !Classify(err, op.RetryOnRateLimit || op.Query) {
			return zero, err
		}
		if attempt == maxAttempts {
			break
		}

		tr.to(RetryScheduled)
		delay := p.policy.Delay(attempt, err)
		p.logger.Warn("retrying", "op", op.Name, "attempt", attempt, "kind", KindOf(err), "delay", delay)

		if err := p.sleep(ctx, delay); err != nil {
			return zero, err
		}
	}

	return zero, fmt.Errorf("maximum attempts exceeded: %w", lastErr)
}

func normalize[In, Out any](op Operation[In, Out], resp *Response) (Out, error) {
	var zero Out

	f, err := ObjectFields(op.Name, resp.Body)
	if err != nil {
		return zero, err
	}
	if op.Normalize == nil {
		return zero, nil
	}

	out, err := op.Normalize(f)
	if err != nil {
		if merr, ok := AsError(err); ok {
			if merr.Op == "" {
				merr.Op = op.Name
			}
			return zero, merr
		}
		return zero, &Error{Kind: ProtocolViolation, Op: op.Name, Message: err.Error(), Err: err}
	}
	return out, nil
}
