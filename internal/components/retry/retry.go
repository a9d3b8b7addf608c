package retry

import (
	"context"
	"errors"
	"time"

	"reclameaqui-pipeline/internal/components/chrono"

	"github.com/cenkalti/backoff/v4"
)

// Policy describes an exponential retry budget. Attempts counts the first try.
type Policy struct {
	Attempts            int
	InitialInterval     time.Duration
	Multiplier          float64
	RandomizationFactor float64
	MaxInterval         time.Duration
}

func (p Policy) backOff() backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.InitialInterval
	exp.RandomizationFactor = p.RandomizationFactor
	exp.Multiplier = p.Multiplier
	if exp.Multiplier <= 0 {
		exp.Multiplier = 2
	}
	exp.MaxInterval = p.MaxInterval
	if exp.MaxInterval <= 0 {
		exp.MaxInterval = time.Hour
	}
	// the attempt budget is the only limit
	exp.MaxElapsedTime = 0
	exp.Reset()

	retries := p.Attempts - 1
	if retries <= 0 {
		return &backoff.StopBackOff{}
	}
	return backoff.WithMaxRetries(exp, uint64(retries))
}

// Delayed can be returned by an operation to replace the next backoff delay,
// the attempt still counts against the budget.
type Delayed struct {
	Err   error
	After time.Duration
}

func (d *Delayed) Error() string { return d.Err.Error() }
func (d *Delayed) Unwrap() error { return d.Err }

// Permanent marks err as not retryable.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// ErrExhausted wraps the last error when the attempt budget ran out.
var ErrExhausted = errors.New("retry budget exhausted")

// Do calls op until it succeeds, returns a permanent error, the budget runs
// out or ctx is done. Waits go through clock so they can be faked.
//
// Permanent errors are returned unwrapped, exhausted budgets are returned as
// ErrExhausted joined with the last error.
func Do(ctx context.Context, clock chrono.API, policy Policy, op func(attempt int) error) error {
	b := policy.backOff()

	for attempt := 1; ; attempt++ {
		err := op(attempt)
		if err == nil {
			return nil
		}

		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			return permanent.Err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return errors.Join(ctxErr, err)
		}

		next := b.NextBackOff()
		if next == backoff.Stop {
			return errors.Join(ErrExhausted, unwrapDelayed(err))
		}

		var delayed *Delayed
		if errors.As(err, &delayed) && delayed.After > 0 {
			next = delayed.After
		}

		if sleepErr := clock.Sleep(ctx, next); sleepErr != nil {
			return errors.Join(sleepErr, unwrapDelayed(err))
		}
	}
}

func unwrapDelayed(err error) error {
	var delayed *Delayed
	if errors.As(err, &delayed) {
		return delayed.Err
	}
	return err
}
