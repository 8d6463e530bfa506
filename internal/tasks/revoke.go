package tasks

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"

	"github.com/desertthunder/moviesnow/internal/mutation"
	"github.com/desertthunder/moviesnow/internal/shared"
)

// SessionRevoker revokes a single account session.
// Implemented by services.AccountService.
type SessionRevoker interface {
	RevokeSession(ctx context.Context, id string, opts ...mutation.SubmitOption) (mutation.Result, error)
}

// BulkOpts contains configuration for bulk revocations.
type BulkOpts struct {
	NumWorkers int     // Concurrent workers (default: 5, max: 10)
	RateLimit  float64 // Revocations per second (default: 5)

	// StepUp is sent with every revocation when the backend requires recent re-authentication.
	StepUp string
}

// RevokeResult is the outcome of one revocation.
type RevokeResult struct {
	SessionID string        `json:"session_id"`
	Success   bool          `json:"success"`
	Kind      mutation.Kind `json:"-"`
	KindName  string        `json:"kind,omitempty"`
	Error     string        `json:"error,omitempty"`
	Err       error         `json:"-"`
}

// BulkResult summarises a bulk revocation. Results are in the order the ids were given.
type BulkResult struct {
	Total     int            `json:"total"`
	Succeeded int            `json:"succeeded"`
	Failed    int            `json:"failed"`
	Results   []RevokeResult `json:"results"`
}

// Failures returns the failed results.
func (r *BulkResult) Failures() []RevokeResult {
	var out []RevokeResult
	for _, res := range r.Results {
		if !res.Success {
			out = append(out, res)
		}
	}
	return out
}

type revokeJob struct {
	index int
	id    string
}

type indexedResult struct {
	index int
	RevokeResult
}

// BulkRevoker signs out many sessions concurrently.
type BulkRevoker struct {
	revoker SessionRevoker
	logger  *log.Logger
}

// NewBulkRevoker creates a BulkRevoker. A nil logger discards output.
func NewBulkRevoker(revoker SessionRevoker, logger *log.Logger) *BulkRevoker {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &BulkRevoker{revoker: revoker, logger: logger}
}

// sendProgress sends a progress update through the channel without blocking.
func (b *BulkRevoker) sendProgress(progress chan<- ProgressUpdate, update ProgressUpdate) {
	if progress == nil {
		return
	}
	select {
	case progress <- update:
	default:
	}
}

// Revoke revokes every session in ids using a rate limited worker pool.
//
// A failed revocation never stops the batch. Sessions not dispatched before ctx is done are
// reported as failed with the context error, which is also returned alongside the partial result.
func (b *BulkRevoker) Revoke(
	ctx context.Context,
	prog chan<- ProgressUpdate,
	ids []string,
	opts BulkOpts,
) (*BulkResult, error) {
	if b.revoker == nil {
		return nil, fmt.Errorf("%w: account service not initialized", shared.ErrServiceUnavailable)
	}

	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: no session ids given", shared.ErrMissingArgument)
	}

	if opts.NumWorkers <= 0 {
		opts.NumWorkers = 5
	}
	if opts.NumWorkers > 10 {
		opts.NumWorkers = 10
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 5.0
	}

	result := &BulkResult{
		Total:   len(ids),
		Results: make([]RevokeResult, len(ids)),
	}

	limiter := rate.NewLimiter(rate.Limit(opts.RateLimit), 1)

	jobs := make(chan revokeJob, len(ids))
	results := make(chan indexedResult, len(ids))

	var wg sync.WaitGroup
	for i := 0; i < opts.NumWorkers; i++ {
		wg.Add(1)
		go b.revokeWorker(ctx, &wg, jobs, results, opts)
	}

	go func() {
		defer close(jobs)
		b.sendProgress(prog, dispatchUpdate(1, len(ids)))
		for i, id := range ids {
			if err := limiter.Wait(ctx); err != nil {
				return
			}
			jobs <- revokeJob{index: i, id: id}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	done := make([]bool, len(ids))
	completed := 0
	for res := range results {
		completed++
		done[res.index] = true
		result.Results[res.index] = res.RevokeResult

		if res.Success {
			result.Succeeded++
			b.sendProgress(prog, revokedUpdate(completed, len(ids), res.RevokeResult))
		} else {
			result.Failed++
			b.sendProgress(prog, revokeFailedUpdate(completed, len(ids), res.RevokeResult))
		}
	}

	ctxErr := ctx.Err()
	for i, ok := range done {
		if ok {
			continue
		}
		result.Results[i] = failedResult(ids[i], ctxErr)
		result.Failed++
	}

	b.sendProgress(prog, summaryUpdate(result))
	b.logger.Info("bulk revocation finished", "total", result.Total, "revoked", result.Succeeded, "failed", result.Failed)

	if ctxErr != nil {
		return result, ctxErr
	}
	return result, nil
}

// revokeWorker revokes sessions from the jobs channel until it is closed or ctx is done.
func (b *BulkRevoker) revokeWorker(
	ctx context.Context,
	wg *sync.WaitGroup,
	jobs <-chan revokeJob,
	results chan<- indexedResult,
	opts BulkOpts,
) {
	defer wg.Done()

	var submitOpts []mutation.SubmitOption
	if opts.StepUp != "" {
		submitOpts = append(submitOpts, mutation.WithStepUp(opts.StepUp))
	}

	for job := range jobs {
		select {
		case <-ctx.Done():
			return
		default:
		}

		res := RevokeResult{SessionID: job.id, Success: true}
		if _, err := b.revoker.RevokeSession(ctx, job.id, submitOpts...); err != nil {
			res = failedResult(job.id, err)
			b.logger.Debug("revocation failed", "session", job.id, "kind", res.Kind, "err", err)
		}
		results <- indexedResult{index: job.index, RevokeResult: res}
	}
}

func failedResult(id string, err error) RevokeResult {
	if err == nil {
		err = context.Canceled
	}
	kind := mutation.KindOf(err)
	res := RevokeResult{
		SessionID: id,
		Kind:      kind,
		Error:     mutation.UserMessage(err),
		Err:       err,
	}
	if kind != mutation.KindUnknown {
		res.KindName = kind.String()
	}
	return res
}

// uniqueIDs trims ids and drops blanks and duplicates, keeping first occurrences in order.
func uniqueIDs(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
