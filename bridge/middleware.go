package bridge

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"
)

// HandlerMiddleware wraps the handler registered for op. It runs once per
// Register call, so it can close over the op name.
type HandlerMiddleware func(op Op, next Handler) Handler

// Chain composes middlewares left-to-right: the first one is outermost.
func Chain(mws ...HandlerMiddleware) HandlerMiddleware {
	return func(op Op, next Handler) Handler {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](op, next)
		}
		return next
	}
}

// Logging logs every call with its op, duration and sizes. Handler errors
// and "ERR: " replies both count as failures; saves that succeed are logged
// at info, reads at debug.
func Logging(logger *slog.Logger) HandlerMiddleware {
	return func(op Op, next Handler) Handler {
		log := logger.With("op", string(op))
		return func(ctx context.Context, payload []byte) ([]byte, error) {
			start := time.Now()
			resp, err := next(ctx, payload)
			attrs := []any{
				"duration_ms", time.Since(start).Milliseconds(),
				"payload_bytes", len(payload),
			}
			switch {
			case err != nil:
				log.ErrorContext(ctx, "bridge: call failed", append(attrs, "error", err)...)
			case isErrReply(resp):
				log.WarnContext(ctx, "bridge: call refused", append(attrs, "reply", string(resp))...)
			case op.Writes():
				log.InfoContext(ctx, "bridge: call ok", append(attrs, "response_bytes", len(resp))...)
			default:
				log.DebugContext(ctx, "bridge: call ok", append(attrs, "response_bytes", len(resp))...)
			}
			return resp, err
		}
	}
}

func isErrReply(b []byte) bool { return bytes.HasPrefix(b, []byte(errPrefix)) }

// Recovery turns a panic in the handler of op into *ErrPanic.
func Recovery(logger *slog.Logger) HandlerMiddleware {
	return func(op Op, next Handler) Handler {
		return func(ctx context.Context, payload []byte) (resp []byte, err error) {
			defer func() {
				if r := recover(); r != nil {
					logger.ErrorContext(ctx, "bridge: handler panic recovered",
						"op", string(op),
						"panic", r,
						"stack", string(debug.Stack()))
					err = &ErrPanic{Op: op, Value: r}
				}
			}()
			return next(ctx, payload)
		}
	}
}

// ErrPanic wraps a recovered panic value.
type ErrPanic struct {
	Op    Op
	Value any
}

func (e *ErrPanic) Error() string {
	return fmt.Sprintf("bridge: handler panicked: %v", e.Value)
}

// ErrUnknownOp is returned by Router.Call for an unregistered operation.
type ErrUnknownOp struct {
	Op Op
}

func (e *ErrUnknownOp) Error() string {
	return fmt.Sprintf("bridge: unknown operation %q", string(e.Op))
}
