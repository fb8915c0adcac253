// Package gateway adapts a model.Client into a composable request handler
// with middleware support, so the rate limiter, circuit breaker, and
// telemetry wrapping around each provider can be assembled declaratively
// instead of hand-nested at each call site.
package gateway

import (
	"context"

	"cogateway/model"
)

type (
	// Server adapts a model.Client into a composable request handler.
	//
	// Applications instantiate a Server with NewServer, configure it with a
	// provider client (WithProvider), and optionally add a middleware chain
	// (WithUnary) for cross-cutting concerns such as logging, metrics, rate
	// limiting, or circuit breaking. Middleware is applied in registration
	// order: the first middleware registered wraps all subsequent ones,
	// forming an onion structure where the innermost layer invokes the
	// provider client.
	Server struct {
		provider model.Client
		unary    UnaryHandler
	}

	// UnaryHandler processes a single completion request and returns the
	// response or an error.
	UnaryHandler func(ctx context.Context, req model.Request) (model.Response, error)

	// UnaryMiddleware wraps a UnaryHandler to add behavior before, after, or
	// around the handler invocation.
	UnaryMiddleware func(next UnaryHandler) UnaryHandler

	// Option configures a Server during construction.
	Option func(*serverConfig)

	serverConfig struct {
		provider model.Client
		unaryMW  []UnaryMiddleware
	}
)

// WithProvider sets the underlying model client used by the Server. This
// option is required; NewServer returns ErrProviderRequired without it.
func WithProvider(p model.Client) Option {
	return func(c *serverConfig) { c.provider = p }
}

// WithUnary appends one or more UnaryMiddleware to the Server's completion
// chain. Middleware are applied in the order registered, with the first
// forming the outermost layer.
func WithUnary(mw ...UnaryMiddleware) Option {
	return func(c *serverConfig) { c.unaryMW = append(c.unaryMW, mw...) }
}

// NewServer constructs a Server with the provided options. The resulting
// Server has no built-in policy; all behavior is composed via middleware
// registered through WithUnary.
func NewServer(opts ...Option) (*Server, error) {
	var cfg serverConfig
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.provider == nil {
		return nil, ErrProviderRequired
	}
	base := func(ctx context.Context, req model.Request) (model.Response, error) {
		return cfg.provider.Complete(ctx, req)
	}
	unary := base
	for i := len(cfg.unaryMW) - 1; i >= 0; i-- {
		unary = cfg.unaryMW[i](unary)
	}
	return &Server{provider: cfg.provider, unary: unary}, nil
}

// Complete processes a completion request through the configured middleware
// chain and returns the response.
func (s *Server) Complete(ctx context.Context, req model.Request) (model.Response, error) {
	return s.unary(ctx, req)
}
