package bridge

import (
	"context"
	"fmt"
)

// Exposer installs a named single-argument function in the page. The page
// receives fn's result as a promise.
type Exposer interface {
	Expose(ctx context.Context, name string, fn func(ctx context.Context, payload string) string) error
}

// Bind exposes every registered operation as window[prefix+Op].
func Bind(ctx context.Context, page Exposer, prefix string, r *Router) error {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	for _, op := range r.Ops() {
		op := op
		name := ExposedName(prefix, op)
		err := page.Expose(ctx, name, func(ctx context.Context, payload string) string {
			return string(r.Dispatch(ctx, op, []byte(payload)))
		})
		if err != nil {
			return fmt.Errorf("bridge: bind %s: %w", name, err)
		}
	}
	return nil
}
