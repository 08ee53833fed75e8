// Package poll runs bounded polling loops: a probe is retried on a fixed or
// growing interval until it reports done, attempts run out, a probe returns
// a Stop error, or the context is cancelled.
package poll

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff"
)

type Outcome int

const (
	Done Outcome = iota
	GaveUp
	Cancelled
)

func (o Outcome) String() string {
	switch o {
	case Done:
		return "done"
	case GaveUp:
		return "gave up"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Policy controls spacing and bounds. MaxAttempts counts probe calls; zero
// means poll until the context ends. Multiplier above 1 grows the interval up
// to MaxInterval; otherwise the interval is fixed.
type Policy struct {
	Interval    time.Duration
	MaxAttempts int
	Multiplier  float64
	MaxInterval time.Duration
}

// Fixed is a fixed-interval policy.
func Fixed(interval time.Duration, attempts int) Policy {
	return Policy{Interval: interval, MaxAttempts: attempts}
}

// Probe reports whether the polled condition holds. A non-nil error counts as
// a failed attempt unless it was produced by Stop.
type Probe func(ctx context.Context) (bool, error)

type stopError struct{ err error }

func (s *stopError) Error() string { return s.err.Error() }
func (s *stopError) Unwrap() error { return s.err }

// Stop marks err as terminal: Until returns it at once with GaveUp.
func Stop(err error) error {
	if err == nil {
		return nil
	}
	return &stopError{err: err}
}

var errPending = errors.New("poll: condition not met")

func (p Policy) backOff() backoff.BackOff {
	interval := p.Interval
	if interval <= 0 {
		interval = time.Second
	}
	var b backoff.BackOff
	if p.Multiplier > 1 {
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = interval
		eb.Multiplier = p.Multiplier
		eb.RandomizationFactor = 0
		eb.MaxElapsedTime = 0
		if p.MaxInterval > 0 {
			eb.MaxInterval = p.MaxInterval
		}
		b = eb
	} else {
		b = backoff.NewConstantBackOff(interval)
	}
	if p.MaxAttempts > 0 {
		b = backoff.WithMaxRetries(b, uint64(p.MaxAttempts-1))
	}
	return b
}

// Until calls probe immediately and then on the policy's schedule. The
// returned error is the last probe error, or the context error when
// cancelled.
func Until(ctx context.Context, p Policy, probe Probe) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Cancelled, err
	}
	var (
		lastErr error
		stopped bool
	)
	op := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		ok, err := probe(ctx)
		var stop *stopError
		switch {
		case errors.As(err, &stop):
			stopped = true
			lastErr = stop.err
			return backoff.Permanent(stop.err)
		case err != nil:
			lastErr = err
			return err
		case ok:
			return nil
		default:
			lastErr = nil
			return errPending
		}
	}
	err := backoff.RetryNotify(op, backoff.WithContext(p.backOff(), ctx), nil)
	switch {
	case err == nil:
		return Done, nil
	case stopped:
		return GaveUp, lastErr
	case ctx.Err() != nil:
		return Cancelled, ctx.Err()
	default:
		return GaveUp, lastErr
	}
}
