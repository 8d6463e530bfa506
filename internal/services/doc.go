// Package services defines the MoviesNow account operations and the services that submit them.
//
// # Operations
//
// Each operation is a [mutation.Operation] value holding its input schema (validate tags), wire
// transform, response normalizer and 429 retry policy. [Operations] lists them all and [Lookup]
// finds one by name for the generic submit command.
//
// # Account Service
//
// [AccountService] exposes one method per operation and query. Login stores the issued tokens in
// the session, or returns the MFA challenge when a second factor is required.
//
// # Rate Limit Policy
//
// Generic account mutations retry after a 429. Credential-sensitive operations (MFA enable,
// verify and disable, MFA login, recovery codes, re-authentication, login and the deletion OTP)
// never do:
//   - retrying them amplifies lockouts
//   - repeated attempts trip abuse detection
//
// # Error Handling
//
// Every method returns [*mutation.Error] values; use [mutation.KindOf] to branch and
// [mutation.UserMessage] for display. [Lookup] returns [shared.ErrUnknownOperation].
//
// # API Service
//
// [APIService] sends raw requests through the same executor (auth and refresh applied) for
// debugging endpoints by hand.
package services
