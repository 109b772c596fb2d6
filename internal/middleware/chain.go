package middleware

import (
	"log/slog"
	"net/http"
)

// Middleware represents a middleware function
type Middleware func(http.Handler) http.Handler

// Chain represents a middleware chain
type Chain struct {
	middlewares []Middleware
}

// New creates a new middleware chain
func New(middlewares ...Middleware) Chain {
	return Chain{middlewares: middlewares}
}

// Then adds more middleware to the chain
func (c Chain) Then(middlewares ...Middleware) Chain {
	return Chain{middlewares: append(c.middlewares, middlewares...)}
}

// Handler applies all middleware in the chain to the given handler
func (c Chain) Handler(handler http.Handler) http.Handler {
	for i := len(c.middlewares) - 1; i >= 0; i-- {
		handler = c.middlewares[i](handler)
	}

	return handler
}

// MiddlewareSet contains all configured middleware for easy composition
type MiddlewareSet struct {
	CORS    Middleware
	Logging Middleware
}

// NewMiddlewareSet creates a complete set of middleware with proper dependencies
func NewMiddlewareSet(logger *slog.Logger) MiddlewareSet {
	return MiddlewareSet{
		CORS:    NewCORSMiddleware(),
		Logging: NewLoggingMiddleware(logger),
	}
}

// APIChain returns the middleware chain for the API endpoints
func (ms MiddlewareSet) APIChain() Chain {
	return New(
		ms.CORS,    // Answer preflights before anything else
		ms.Logging, // Log requests second
	)
}

// StaticChain returns the middleware chain for static assets (no logging noise)
func (ms MiddlewareSet) StaticChain() Chain {
	return New(
		ms.CORS,
	)
}
