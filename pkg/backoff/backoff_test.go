package backoff

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedule_DelayForAttempt(t *testing.T) {
	s := DefaultSchedule()

	assert.Equal(t, 1*time.Second, s.DelayForAttempt(0))
	assert.Equal(t, 2*time.Second, s.DelayForAttempt(1))
	assert.Equal(t, 4*time.Second, s.DelayForAttempt(2))

	// Negative attempts clamp to the initial delay.
	assert.Equal(t, 1*time.Second, s.DelayForAttempt(-1))
}

func TestSchedule_TotalWaitBeforeFinalFailure(t *testing.T) {
	// Three attempts wait before tries two and three: 1s + 2s = 3s.
	s := DefaultSchedule()

	var total time.Duration
	for i := 0; i < s.MaxAttempts-1; i++ {
		total += s.DelayForAttempt(i)
	}
	assert.GreaterOrEqual(t, total, 3*time.Second)
}

// fakeSleeper records requested delays and returns immediately.
func fakeSleeper(delays *[]time.Duration) Sleeper {
	return func(_ context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
}

func TestMachine_SucceedsFirstAttempt(t *testing.T) {
	var delays []time.Duration
	m := NewMachine(DefaultSchedule(), fakeSleeper(&delays))

	calls := 0
	err := m.Run(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, delays)
}

func TestMachine_RetriesRetryableErrors(t *testing.T) {
	var delays []time.Duration
	m := NewMachine(DefaultSchedule(), fakeSleeper(&delays))

	calls := 0
	err := m.Run(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return Retryable(errors.New("rate limited"))
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{1 * time.Second, 2 * time.Second}, delays)
}

func TestMachine_ExhaustsAttempts(t *testing.T) {
	var delays []time.Duration
	m := NewMachine(DefaultSchedule(), fakeSleeper(&delays))

	rateLimited := errors.New("rate limited")
	calls := 0
	err := m.Run(context.Background(), func(ctx context.Context) error {
		calls++
		return Retryable(rateLimited)
	})

	require.Error(t, err)
	assert.Equal(t, rateLimited, err)
	assert.Equal(t, 3, calls)
	assert.Len(t, delays, 2)
}

func TestMachine_NonRetryableFailsImmediately(t *testing.T) {
	var delays []time.Duration
	m := NewMachine(DefaultSchedule(), fakeSleeper(&delays))

	boom := errors.New("bad request")
	calls := 0
	err := m.Run(context.Background(), func(ctx context.Context) error {
		calls++
		return boom
	})

	require.Error(t, err)
	assert.Equal(t, boom, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, delays)
}

func TestMachine_ContextCancelledDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	m := NewMachine(DefaultSchedule(), func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	})

	calls := 0
	err := m.Run(ctx, func(ctx context.Context) error {
		calls++
		return Retryable(errors.New("rate limited"))
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestMachine_TransitionsObserved(t *testing.T) {
	var delays []time.Duration
	m := NewMachine(DefaultSchedule(), fakeSleeper(&delays))

	var states []State
	m.OnTransition = func(from, to State, attempt int) {
		states = append(states, to)
	}

	calls := 0
	_ = m.Run(context.Background(), func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return Retryable(errors.New("rate limited"))
		}
		return nil
	})

	assert.Equal(t, []State{StateWaiting, StateAttempting, StateSucceeded}, states)
}
