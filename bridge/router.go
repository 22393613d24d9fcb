// Package bridge is the fixed RPC surface the in-page picker calls to read
// configuration and to persist or load profiles.
//
// Operations are plain byte handlers registered on a Router, so the same
// set is reachable from the page (window.domcapture<Op> bindings), over
// HTTP (POST /bridge/{op}) and as MCP tools:
//
//	r := bridge.NewRouter(bridge.WithLogger(logger))
//	bridge.NewService(store, host).Register(r)
//	out := r.Dispatch(ctx, bridge.OpGetConfig, nil)
//
// Dispatch never fails: errors and panics become "ERR: ..." strings (or an
// {"error": ...} object for getConfig) so nothing surfaces as an exception
// in the page.
package bridge

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// Handler is a transport-agnostic operation: bytes in, bytes out.
type Handler func(ctx context.Context, payload []byte) ([]byte, error)

// Router maps operation names to handlers. Safe for concurrent use.
type Router struct {
	mu       sync.RWMutex
	handlers map[Op]Handler
	chain    HandlerMiddleware
	logger   *slog.Logger
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the router logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithMiddleware replaces the default middleware chain (Logging outermost,
// then Recovery).
func WithMiddleware(mws ...HandlerMiddleware) Option {
	return func(r *Router) { r.chain = Chain(mws...) }
}

// NewRouter creates an empty Router.
func NewRouter(opts ...Option) *Router {
	r := &Router{
		handlers: make(map[Op]Handler),
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	if r.chain == nil {
		r.chain = Chain(Logging(r.logger), Recovery(r.logger))
	}
	return r
}

// Register binds h to op, wrapped in the router's middleware.
func (r *Router) Register(op Op, h Handler) {
	wrapped := r.chain(op, h)
	r.mu.Lock()
	r.handlers[op] = wrapped
	r.mu.Unlock()
}

// Ops returns the registered operations, sorted.
func (r *Router) Ops() []Op {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ops := make([]Op, 0, len(r.handlers))
	for op := range r.handlers {
		ops = append(ops, op)
	}
	sort.Slice(ops, func(i, j int) bool { return ops[i] < ops[j] })
	return ops
}

// Call runs op. It returns *ErrUnknownOp when nothing is registered.
func (r *Router) Call(ctx context.Context, op Op, payload []byte) ([]byte, error) {
	r.mu.RLock()
	h, ok := r.handlers[op]
	r.mu.RUnlock()
	if !ok {
		return nil, &ErrUnknownOp{Op: op}
	}
	return h(ctx, payload)
}

// Dispatch runs op and folds any error into the op's failure shape.
func (r *Router) Dispatch(ctx context.Context, op Op, payload []byte) []byte {
	out, err := r.Call(ctx, op, payload)
	if err != nil {
		return Failure(op, err)
	}
	return out
}

// Failure renders err the way op reports failures to the page.
func Failure(op Op, err error) []byte {
	if op == OpGetConfig {
		b, _ := json.Marshal(map[string]string{"error": err.Error()})
		return b
	}
	msg := err.Error()
	if strings.HasPrefix(msg, errPrefix) {
		return []byte(msg)
	}
	return []byte(errPrefix + msg)
}

const (
	okReply   = "OK"
	errPrefix = "ERR: "
)
