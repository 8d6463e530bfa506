package mutation

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// HeaderReauth carries the short-lived step-up credential. It is never sent in a body.
const HeaderReauth = "X-Reauth"

var stepUpCodes = map[string]bool{
	"step_up_required": true,
	"reauth_required":  true,
}

// isStepUp reports whether a 403 response asks for re-authentication.
func isStepUp(status int, code string) bool {
	return status == http.StatusForbidden && stepUpCodes[strings.ToLower(code)]
}

// CredentialSource obtains a step-up token, usually by prompting for the password and
// calling the reauthenticate operation.
type CredentialSource func(ctx context.Context) (string, error)

// ResubmitWithStepUp runs submit without a step-up credential and, if the server asks for one,
// acquires it exactly once and resubmits the same logical mutation with the same idempotency key.
func ResubmitWithStepUp[Out any](
	ctx context.Context,
	acquire CredentialSource,
	submit func(ctx context.Context, opts ...SubmitOption) (Out, error),
) (Out, error) {
	out, err := submit(ctx)
	if !IsKind(err, NeedStepUp) {
		return out, err
	}

	merr, _ := AsError(err)

	token, aerr := acquire(ctx)
	if aerr != nil {
		var zero Out
		return zero, fmt.Errorf("step-up cancelled: %w", aerr)
	}

	return submit(ctx, WithStepUp(token), WithIdempotencyKey(merr.IdempotencyKey))
}
