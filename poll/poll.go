// Package poll drives "wait for an external state transition" loops with a
// bounded budget: capped exponential backoff, an optional attempt limit and a
// hard deadline that surfaces as a TimedOut pipeline error.
package poll

import (
	"context"
	"errors"
	"fmt"
	"time"

	"docintel/types"
)

// State is the observed state of the external job on one check.
type State int

const (
	Pending State = iota
	Ready
	Failed
)

func (s State) String() string {
	switch s {
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return "pending"
	}
}

// CheckFunc fetches the job state once. A non-nil error aborts the loop.
type CheckFunc func(ctx context.Context) (State, error)

// WaitFunc blocks for d or until ctx is done.
type WaitFunc func(ctx context.Context, d time.Duration) error

type Policy struct {
	InitialDelay time.Duration
	Interval     time.Duration
	MaxInterval  time.Duration
	Multiplier   float64
	// MaxAttempts of zero means only Timeout bounds the loop.
	MaxAttempts int
	Timeout     time.Duration

	Wait WaitFunc
}

// Sleep is the default WaitFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Until calls check until it reports Ready or Failed, or the budget runs out.
// It returns the number of checks made.
func Until(ctx context.Context, stage types.Stage, p Policy, check CheckFunc) (int, error) {
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}
	wait := p.Wait
	if wait == nil {
		wait = Sleep
	}

	if p.InitialDelay > 0 {
		if err := wait(ctx, p.InitialDelay); err != nil {
			return 0, waitError(stage, 0, err)
		}
	}

	delay := p.Interval
	for attempt := 1; ; attempt++ {
		state, err := check(ctx)
		if err != nil {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return attempt, types.TimedOut(stage, fmt.Sprintf("deadline exceeded after %d checks", attempt), err)
			}
			return attempt, err
		}

		switch state {
		case Ready:
			return attempt, nil
		case Failed:
			return attempt, types.JobFailed(stage, "job reported failure", nil)
		}

		if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
			return attempt, types.TimedOut(stage, fmt.Sprintf("still pending after %d checks", attempt), nil)
		}

		if err := wait(ctx, delay); err != nil {
			return attempt, waitError(stage, attempt, err)
		}
		delay = p.next(delay)
	}
}

func (p Policy) next(d time.Duration) time.Duration {
	if p.Multiplier > 1 {
		d = time.Duration(float64(d) * p.Multiplier)
	}
	if p.MaxInterval > 0 && d > p.MaxInterval {
		d = p.MaxInterval
	}
	return d
}

func waitError(stage types.Stage, attempts int, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return types.TimedOut(stage, fmt.Sprintf("deadline exceeded after %d checks", attempts), err)
	}
	return err
}
