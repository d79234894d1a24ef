// Package retry retries transient delivery failures with exponential backoff.
package retry

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

type Policy struct {
	// Attempts counts the first call. Values below 1 mean a single attempt.
	Attempts     int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		Attempts:     4,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
	}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Do returns the wrapped error.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do calls fn until it succeeds, returns a permanent error, the attempts run
// out or ctx is done. The last error is returned.
func Do(ctx context.Context, p Policy, logger *zap.Logger, fn func(context.Context) error) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultPolicy()
	if p.Attempts < 1 {
		p.Attempts = 1
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = def.InitialDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = def.MaxDelay
	}

	delay := p.InitialDelay
	var last error
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return errors.Join(last, err)
		}

		last = fn(ctx)
		if last == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(last, &perm) {
			return perm.err
		}
		if attempt == p.Attempts {
			break
		}

		logger.Debug("attempt failed, retrying",
			zap.Int("attempt", attempt),
			zap.Int("max", p.Attempts),
			zap.Duration("delay", delay),
			zap.Error(last))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(last, ctx.Err())
		case <-timer.C:
		}

		delay = min(delay*2, p.MaxDelay)
	}

	return last
}
