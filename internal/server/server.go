package server

import (
	"net/http"
)

// Middleware decorates a handler: logging, recovery, authentication or fault injection.
type Middleware func(http.Handler) http.Handler

// Handler is an [http.Handler] that owns a set of mux patterns, such as the OAuth callback or
// the whole mock account API.
type Handler interface {
	http.Handler
	Routes() []string
}

// Router registers handlers behind a middleware chain. [BasicRouter] is the implementation.
type Router interface {
	http.Handler
	Use(middleware ...Middleware)
	Handle(method, path string, handler http.Handler)
	Handler(handler Handler)
	Patterns() []string
}

var _ Router = (*BasicRouter)(nil)
