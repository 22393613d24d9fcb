package picker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/ysmood/gson"

	"github.com/hazyhaar/domcapture/selection"
)

var (
	// ErrNotLoaded is returned when the page has no picker script.
	ErrNotLoaded = errors.New("picker: script not loaded")
	// ErrPageClosed is returned (or wrapped by evaluators) when the page is
	// gone for good.
	ErrPageClosed = errors.New("picker: page closed")
)

// Evaluator runs a JS function in the page's main world and returns its
// JSON-serialisable result.
type Evaluator interface {
	Eval(ctx context.Context, js string) (gson.JSON, error)
}

// Controller is the host-side handle on the in-page pick session.
type Controller struct {
	page      Evaluator
	interval  time.Duration
	maxErrors int
	logger    *slog.Logger
}

// Option configures a Controller.
type Option func(*Controller)

// WithPollInterval sets how often Wait samples the session. Default 250ms.
func WithPollInterval(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithErrorBudget sets how many consecutive failed samples Wait tolerates
// (navigations destroy the execution context briefly). Default 40.
func WithErrorBudget(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.maxErrors = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewController creates a Controller for page.
func NewController(page Evaluator, opts ...Option) *Controller {
	c := &Controller{
		page:      page,
		interval:  250 * time.Millisecond,
		maxErrors: 40,
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Install activates pick mode. It is idempotent.
func (c *Controller) Install(ctx context.Context) error {
	res, err := c.page.Eval(ctx, `() => !!(window.__domcapture && window.__domcapture.install())`)
	if err != nil {
		return fmt.Errorf("picker: install: %w", err)
	}
	if !res.Bool() {
		return ErrNotLoaded
	}
	return nil
}

func (c *Controller) command(ctx context.Context, call string) (bool, error) {
	res, err := c.page.Eval(ctx, `() => !!(window.__domcapture && window.__domcapture.`+call+`)`)
	if err != nil {
		return false, fmt.Errorf("picker: %s: %w", call, err)
	}
	return res.Bool(), nil
}

// Toggle flips pick mode and reports the new mode.
func (c *Controller) Toggle(ctx context.Context) (bool, error) { return c.command(ctx, "toggle()") }

// Undo removes the last selection; false when the list was empty.
func (c *Controller) Undo(ctx context.Context) (bool, error) { return c.command(ctx, "undo()") }

// Remove deletes the selection at index i (0-based).
func (c *Controller) Remove(ctx context.Context, i int) (bool, error) {
	return c.command(ctx, "remove("+strconv.Itoa(i)+")")
}

// Finish ends the session for export.
func (c *Controller) Finish(ctx context.Context) (bool, error) { return c.command(ctx, "finish()") }

// Cancel ends the session without export.
func (c *Controller) Cancel(ctx context.Context) (bool, error) { return c.command(ctx, "cancel()") }

// Status reads the session flags and selection count. A page without the
// script reads as an inactive session.
func (c *Controller) Status(ctx context.Context) (Status, error) {
	var st Status
	ok, err := c.read(ctx, "status", &st)
	if err != nil || !ok {
		return Status{}, err
	}
	return st, nil
}

// Snapshot reads the current session. A page without the script reads as
// an inactive session.
func (c *Controller) Snapshot(ctx context.Context) (Snapshot, error) {
	var s Snapshot
	ok, err := c.read(ctx, "snapshot", &s)
	if err != nil || !ok {
		return Snapshot{}, err
	}
	return s, nil
}

// read evaluates window.__domcapture.<fn>() and decodes its JSON into v.
// It reports false when the script is not loaded.
func (c *Controller) read(ctx context.Context, fn string, v any) (bool, error) {
	res, err := c.page.Eval(ctx,
		`() => window.__domcapture ? JSON.stringify(window.__domcapture.`+fn+`()) : ""`)
	if err != nil {
		return false, fmt.Errorf("picker: %s: %w", fn, err)
	}
	raw := res.Str()
	if raw == "" {
		return false, nil
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return false, fmt.Errorf("picker: decode %s: %w", fn, err)
	}
	return true, nil
}

// Outcome is how a pick session ended.
type Outcome struct {
	State      State
	Selections []selection.Selection
}

// Wait blocks until the operator finishes or cancels. There is no timeout:
// the operator may take as long as needed. Each tick reads only the session
// status; the selections are fetched once the session has ended. Sampling
// errors (a navigation in flight) are tolerated up to the error budget;
// ErrPageClosed ends the wait immediately. When ctx is cancelled the session is cancelled in the page
// first and ctx.Err() is returned.
func (c *Controller) Wait(ctx context.Context) (Outcome, error) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	failures := 0
	last := Inactive
	for {
		out, done, err := c.sample(ctx, &last)
		switch {
		case err == nil:
			failures = 0
			if done {
				return out, nil
			}
		case errors.Is(err, ErrPageClosed):
			return Outcome{}, err
		case ctx.Err() != nil:
		default:
			failures++
			c.logger.DebugContext(ctx, "picker: sample failed", "failures", failures, "error", err)
			if failures >= c.maxErrors {
				return Outcome{}, fmt.Errorf("%w: %w", ErrPageClosed, err)
			}
		}

		select {
		case <-ctx.Done():
			cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
			c.Cancel(cctx)
			cancel()
			return Outcome{State: Canceled}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// sample reads the status and, when it is terminal, the full snapshot.
func (c *Controller) sample(ctx context.Context, last *State) (Outcome, bool, error) {
	status, err := c.Status(ctx)
	if err != nil {
		return Outcome{}, false, err
	}
	st := status.State()
	if st != *last {
		c.logger.DebugContext(ctx, "picker: state", "state", st.String(), "selections", status.Count)
		*last = st
	}
	if !st.Terminal() {
		return Outcome{}, false, nil
	}
	snap, err := c.Snapshot(ctx)
	if err != nil {
		return Outcome{}, false, err
	}
	if !snap.State().Terminal() {
		return Outcome{}, false, nil
	}
	return Outcome{State: snap.State(), Selections: snap.Selections}, true, nil
}
