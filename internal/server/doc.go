// Package server provides HTTP routing, middleware, the browser login callback and a local
// MoviesNow account backend.
//
// # Routing
//
// [BasicRouter] registers "METHOD /path" patterns on an [http.ServeMux], so handlers read path
// wildcards with [http.Request.PathValue]. [Middleware] added with Use runs in the order it was
// added. [BasicRouter.Patterns] reports what was mounted, which `mnow devserver` logs at startup.
//
// # OAuth Callback Handler
//
// [OAuthHandler] completes the authorization code flow with PKCE for `mnow session login --browser`.
// It validates the state parameter, exchanges the code together with its verifier and sends the
// token through a channel. Only the first callback is processed.
//
// # Development Backend
//
// [MockAPI] serves the account endpoints the CLI talks to, backed by a single in-memory account.
// It behaves like the real service where the client cares:
//   - access tokens are HS256 JWTs and the token endpoint rotates refresh tokens
//   - mutations replay their stored response for a repeated Idempotency-Key
//   - sensitive routes answer 403 step_up_required until X-Reauth carries a reauth token
//   - 204 responses are used for operations with nothing to report
//
// [MockAPI.FailNext] and [MockAPI.LoseNextResponse] inject transport faults so the retry and
// replay behaviour of the client can be observed end to end. `mnow devserver` runs it on the
// configured address.
package server
