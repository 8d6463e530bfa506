package mutation

import "context"

// Mutation identifies one logical submission to the reconciler.
type Mutation struct {
	Op             string
	IdempotencyKey string
	Params         map[string]string
}

// Outcome is reported to the reconciler once a submission reaches a terminal state.
type Outcome struct {
	Mutation
	// Result is the normalized result on success.
	Result any
	Err    error
}

// Succeeded reports whether the submission succeeded.
func (o Outcome) Succeeded() bool {
	return o.Err == nil
}

// Undo reverts an optimistic cache change.
type Undo func(ctx context.Context) error

// Reconciler keeps locally cached account state consistent with mutation outcomes.
type Reconciler interface {
	// Optimistic applies the expected effect of m before dispatch. The returned undo, if any,
	// runs when the submission fails.
	Optimistic(ctx context.Context, m Mutation) (Undo, error)
	// Settle invalidates or refreshes cached state after the terminal state.
	Settle(ctx context.Context, o Outcome) error
}

// NopReconciler ignores every outcome.
type NopReconciler struct{}

func (NopReconciler) Optimistic(context.Context, Mutation) (Undo, error) { return nil, nil }

func (NopReconciler) Settle(context.Context, Outcome) error { return nil }
