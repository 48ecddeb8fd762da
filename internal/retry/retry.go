// Package retry runs an operation under a fixed-delay retry policy and reports
// how it ended.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/TobiSchelling/newssite/internal/metrics"
)

// State is the terminal state of a retried operation.
type State int

const (
	// Attempted means the operation was started but has not finished yet.
	Attempted State = iota
	Succeeded
	// Exhausted means every allowed attempt failed with a transient error.
	Exhausted
	// Aborted means a permanent error or context cancellation stopped retrying early.
	Aborted
)

func (s State) String() string {
	switch s {
	case Attempted:
		return "attempted"
	case Succeeded:
		return "succeeded"
	case Exhausted:
		return "exhausted"
	case Aborted:
		return "aborted"
	}
	return "unknown"
}

// Outcome describes how a retried operation ended.
type Outcome struct {
	State    State
	Attempts int
	Err      error
}

// OK reports whether the operation succeeded.
func (o Outcome) OK() bool {
	return o.State == Succeeded
}

// Policy retries an operation up to Attempts times, sleeping Delay between tries.
type Policy struct {
	Attempts int
	Delay    time.Duration
	Logger   *slog.Logger
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var perm *backoff.PermanentError
	return errors.As(err, &perm)
}

// Do runs op until it succeeds, returns a permanent error, ctx is done, or the
// attempt budget is spent. A first-try success returns after exactly one call.
func (p Policy) Do(ctx context.Context, name string, op func(ctx context.Context) error) Outcome {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var b backoff.BackOff = backoff.NewConstantBackOff(p.Delay)
	b = backoff.WithMaxRetries(b, uint64(attempts-1))
	b = backoff.WithContext(b, ctx)

	out := Outcome{State: Attempted}
	permanent := false

	err := backoff.RetryNotify(func() error {
		out.Attempts++
		err := op(ctx)
		if err != nil && IsPermanent(err) {
			permanent = true
		}
		return err
	}, b, func(err error, wait time.Duration) {
		logger.Warn("attempt failed, retrying",
			"operation", name, "attempt", out.Attempts, "of", attempts, "wait", wait, "error", err)
	})

	switch {
	case err == nil:
		out.State = Succeeded
	case permanent || ctx.Err() != nil:
		out.State = Aborted
		out.Err = err
	default:
		out.State = Exhausted
		out.Err = err
	}

	metrics.RetryOutcomes.WithLabelValues(name, out.State.String()).Inc()
	if out.State != Succeeded {
		logger.Error("operation gave up", "operation", name, "state", out.State, "attempts", out.Attempts, "error", out.Err)
	}
	return out
}
