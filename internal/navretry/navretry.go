// Package navretry supervises the initial page load: transient network
// failures are retried on a fixed backoff schedule, anything else fails fast.
package navretry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Class is the retry classification of a navigation error.
type Class int

const (
	Fatal Class = iota
	Transient
)

func (c Class) String() string {
	if c == Transient {
		return "transient"
	}
	return "fatal"
}

// Classifier decides whether an error is worth another attempt.
type Classifier func(error) Class

// ErrExhausted wraps the last error once every attempt failed transiently.
var ErrExhausted = errors.New("navretry: attempts exhausted")

// DefaultBackoff is the wait before attempt n+1, indexed by n-1. The last
// entry repeats when MaxAttempts exceeds its length.
var DefaultBackoff = []time.Duration{
	250 * time.Millisecond,
	600 * time.Millisecond,
	1200 * time.Millisecond,
	2000 * time.Millisecond,
	3000 * time.Millisecond,
	4500 * time.Millisecond,
}

// DefaultMaxAttempts bounds the number of navigation attempts.
const DefaultMaxAttempts = 6

var transientMarkers = []string{
	"err_network_changed",
	"err_internet_disconnected",
	"err_address_unreachable",
	"err_name_not_resolved",
	"err_network_access_denied",
	"err_connection_closed",
	"err_connection_reset",
	"err_connection_refused",
	"err_timed_out",
	"navigation interrupted",
}

// DefaultClassifier matches Chromium net error codes seen during flaky
// connectivity, case-insensitively. Everything else is Fatal.
func DefaultClassifier(err error) Class {
	if err == nil {
		return Fatal
	}
	msg := strings.ToLower(err.Error())
	for _, m := range transientMarkers {
		if strings.Contains(msg, m) {
			return Transient
		}
	}
	return Fatal
}

// Supervisor runs an operation under the retry policy.
type Supervisor struct {
	maxAttempts int
	backoff     []time.Duration
	classify    Classifier
	logger      *slog.Logger
	sleep       func(context.Context, time.Duration) error
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithMaxAttempts overrides DefaultMaxAttempts.
func WithMaxAttempts(n int) Option {
	return func(s *Supervisor) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithBackoff overrides DefaultBackoff.
func WithBackoff(b []time.Duration) Option {
	return func(s *Supervisor) {
		if len(b) > 0 {
			s.backoff = b
		}
	}
}

// WithClassifier swaps the error classifier.
func WithClassifier(c Classifier) Option {
	return func(s *Supervisor) {
		if c != nil {
			s.classify = c
		}
	}
}

// WithLogger sets the logger used for retry warnings.
func WithLogger(l *slog.Logger) Option {
	return func(s *Supervisor) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithSleep replaces the context-aware sleep; used by tests.
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(s *Supervisor) { s.sleep = fn }
}

// New creates a Supervisor.
func New(opts ...Option) *Supervisor {
	s := &Supervisor{
		maxAttempts: DefaultMaxAttempts,
		backoff:     DefaultBackoff,
		classify:    DefaultClassifier,
		logger:      slog.Default(),
		sleep:       sleepCtx,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Run calls op until it succeeds, fails with a Fatal error, or every attempt
// is spent. attempt is 1-based.
func (s *Supervisor) Run(ctx context.Context, op func(ctx context.Context, attempt int) error) error {
	for attempt := 1; ; attempt++ {
		err := op(ctx, attempt)
		if err == nil {
			if attempt > 1 {
				s.logger.InfoContext(ctx, "navretry: recovered", "attempt", attempt)
			}
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		if s.classify(err) != Transient {
			return fmt.Errorf("navretry: attempt %d: %w", attempt, err)
		}
		if attempt >= s.maxAttempts {
			return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempt, err)
		}

		wait := s.backoff[min(attempt-1, len(s.backoff)-1)]
		s.logger.WarnContext(ctx, "navretry: navigation failed",
			"attempt", attempt,
			"max_attempts", s.maxAttempts,
			"backoff_ms", wait.Milliseconds(),
			"error", err)
		if err := s.sleep(ctx, wait); err != nil {
			return fmt.Errorf("navretry: cancelled during backoff: %w", err)
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
