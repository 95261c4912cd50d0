// Package backoff provides the retry policy used for calls to the remote
// progress store. The schedule is a pure function of the attempt number so
// the policy can be unit-tested without timers, and the retry loop is an
// explicit state machine driven by that function.
// No external dependencies - uses only standard library.
package backoff

import (
	"context"
	"errors"
	"time"
)

// Schedule maps an attempt number to the wait before the next attempt.
// The zero-based attempt n waits Initial * Factor^n. The progress store
// rate-limits aggressively, so the default is deliberately short and
// bounded: three tries total, waiting 1s and 2s between them.
type Schedule struct {
	// Initial is the wait before the second attempt.
	Initial time.Duration

	// Factor multiplies the wait after each attempt.
	Factor float64

	// MaxAttempts is the total number of tries (first attempt included).
	MaxAttempts int
}

// DefaultSchedule returns the store-facing policy: 3 total attempts with
// waits of 1s and 2s before tries two and three.
func DefaultSchedule() Schedule {
	return Schedule{
		Initial:     1 * time.Second,
		Factor:      2.0,
		MaxAttempts: 3,
	}
}

// DelayForAttempt returns the wait after attempt n (zero-based).
// Deterministic: no jitter.
func (s Schedule) DelayForAttempt(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	d := float64(s.Initial)
	for i := 0; i < n; i++ {
		d *= s.Factor
	}
	return time.Duration(d)
}

// State identifies a phase of the retry state machine.
type State int

const (
	// StateAttempting - an attempt is in progress.
	StateAttempting State = iota

	// StateWaiting - waiting out the backoff delay before the next attempt.
	StateWaiting

	// StateSucceeded - an attempt returned nil.
	StateSucceeded

	// StateFailedFinal - attempts are exhausted or the error was not retryable.
	StateFailedFinal
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateAttempting:
		return "attempting"
	case StateWaiting:
		return "waiting"
	case StateSucceeded:
		return "succeeded"
	case StateFailedFinal:
		return "failed"
	default:
		return "unknown"
	}
}

// Sleeper waits out a backoff delay. The production implementation uses
// time.After; tests inject one that returns immediately.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepWithContext is the default Sleeper.
func SleepWithContext(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// RetryableError marks an error as retryable under the schedule.
// Only errors wrapped this way are retried; everything else fails the
// machine on the first occurrence.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// Retryable wraps an error to indicate it should be retried.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// IsRetryable reports whether err is marked retryable.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

// Machine runs operations under a Schedule. It is stateless between Run
// calls and safe for concurrent use.
type Machine struct {
	schedule Schedule
	sleep    Sleeper

	// OnTransition, if set, observes every state change. Used for logging.
	OnTransition func(from, to State, attempt int)
}

// NewMachine creates a retry machine with the given schedule.
// A nil sleeper defaults to SleepWithContext.
func NewMachine(schedule Schedule, sleep Sleeper) *Machine {
	if sleep == nil {
		sleep = SleepWithContext
	}
	if schedule.MaxAttempts <= 0 {
		schedule.MaxAttempts = 1
	}
	return &Machine{schedule: schedule, sleep: sleep}
}

// Run drives op through Attempting/Waiting until it succeeds, returns a
// non-retryable error, or exhausts the schedule. The error from the last
// attempt is returned unwrapped.
func (m *Machine) Run(ctx context.Context, op func(ctx context.Context) error) error {
	state := StateAttempting
	var lastErr error

	for attempt := 0; attempt < m.schedule.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		err := op(ctx)
		if err == nil {
			m.transition(state, StateSucceeded, attempt)
			return nil
		}
		lastErr = err

		if !IsRetryable(err) {
			m.transition(state, StateFailedFinal, attempt)
			return err
		}

		// Last attempt settles the retryable error as final.
		if attempt == m.schedule.MaxAttempts-1 {
			m.transition(state, StateFailedFinal, attempt)
			return errors.Unwrap(err)
		}

		m.transition(state, StateWaiting, attempt)
		state = StateWaiting
		if serr := m.sleep(ctx, m.schedule.DelayForAttempt(attempt)); serr != nil {
			return lastErr
		}
		m.transition(state, StateAttempting, attempt+1)
		state = StateAttempting
	}

	return lastErr
}

func (m *Machine) transition(from, to State, attempt int) {
	if m.OnTransition != nil {
		m.OnTransition(from, to, attempt)
	}
}
