// Package mutation submits sensitive account changes to the MoviesNow API.
//
// Every submission passes the same stages:
//
//  1. validate the typed input ([Validate], [DecodeInput])
//  2. transform it into the wire payload, dropping client-only fields
//  3. issue an idempotency key, reused by every physical attempt
//  4. attach the optional step-up credential as the X-Reauth header
//  5. execute with bearer auth and at most one transparent refresh ([Executor])
//  6. classify failures and retry within the [RetryPolicy] bound ([Classify])
//  7. normalize the success body, accepting field aliases ([Fields])
//  8. report the outcome to the cache [Reconciler]
//
// Failures are returned as [*Error]; use [KindOf] to branch on the [Kind] and [UserMessage]
// for display.
package mutation
