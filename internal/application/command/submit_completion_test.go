package command

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumilearn/progress-sync/internal/domain/progress"
	"github.com/lumilearn/progress-sync/internal/domain/shared"
	"github.com/lumilearn/progress-sync/internal/infrastructure/syncqueue"
	"github.com/lumilearn/progress-sync/pkg/backoff"
)

// ══════════════════════════════════════════════════════════════════════════════
// TEST FAKES
// ══════════════════════════════════════════════════════════════════════════════

type fakeIdentity struct {
	creds AuthCredentials
	err   error
}

func (f *fakeIdentity) Resolve(ctx context.Context) (AuthCredentials, error) {
	return f.creds, f.err
}

type fakeStore struct {
	mu       sync.Mutex
	errs     []error
	message  string
	calls    int
	inFlight int
	maxSeen  int
	events   []progress.CompletionEvent
}

func (f *fakeStore) RecordCompletion(ctx context.Context, token string, event progress.CompletionEvent) (string, error) {
	f.mu.Lock()
	f.calls++
	f.inFlight++
	if f.inFlight > f.maxSeen {
		f.maxSeen = f.inFlight
	}
	idx := f.calls - 1
	f.events = append(f.events, event)
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if idx < len(f.errs) && f.errs[idx] != nil {
		return "", f.errs[idx]
	}
	return f.message, nil
}

func (f *fakeStore) RemoveCompletion(ctx context.Context, token string, event progress.CompletionEvent) (string, error) {
	return f.RecordCompletion(ctx, token, event)
}

type fakeDeduper struct {
	mu        sync.Mutex
	suppress  bool
	seen      []string
	forgotten []string
}

func (f *fakeDeduper) ShouldSuppress(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, key)
	return f.suppress
}

func (f *fakeDeduper) Forget(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forgotten = append(f.forgotten, key)
}

type fakeSnapshots struct {
	mu          sync.Mutex
	invalidated [][2]int64
}

func (f *fakeSnapshots) Invalidate(_ context.Context, userID, lessonID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated = append(f.invalidated, [2]int64{userID, lessonID})
}

// directQueue runs tasks inline, bypassing serialization.
type directQueue struct{}

func (directQueue) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type capturingPublisher struct {
	mu     sync.Mutex
	events []shared.Event
}

func (p *capturingPublisher) Publish(e shared.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *capturingPublisher) types() []shared.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]shared.EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.EventType())
	}
	return out
}

type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *recordingSleeper) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func validCommand() SubmitCompletionCommand {
	return SubmitCompletionCommand{
		LessonID:      42,
		DayIndex:      0,
		ActivityIndex: 1,
		ActivityType:  progress.ActivityQuiz,
	}
}

func rateLimited() error {
	return backoff.Retryable(shared.ErrRateLimited)
}

// ══════════════════════════════════════════════════════════════════════════════
// SUBMIT TESTS
// ══════════════════════════════════════════════════════════════════════════════

func TestSubmitCompletion_Success(t *testing.T) {
	store := &fakeStore{message: "Activity completion recorded"}
	pub := &capturingPublisher{}
	sleeper := &recordingSleeper{}
	h := NewSubmitCompletionHandler(
		&fakeIdentity{creds: AuthCredentials{Token: "tok", UserID: 7}},
		store,
		&fakeDeduper{},
		directQueue{},
		pub,
		SubmitCompletionHandlerConfig{Sleeper: sleeper.sleep},
	)

	result, err := h.Handle(context.Background(), validCommand())
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.False(t, result.Suppressed)
	assert.Equal(t, "Activity completion recorded", result.Message)

	require.Len(t, store.events, 1)
	assert.Equal(t, int64(7), store.events[0].UserID)
	assert.Equal(t, int64(42), store.events[0].LessonID)
	assert.Empty(t, sleeper.delays)
	assert.Equal(t, []shared.EventType{shared.EventCompletionAccepted}, pub.types())
}

func TestSubmitCompletion_Validation(t *testing.T) {
	h := NewSubmitCompletionHandler(
		&fakeIdentity{}, &fakeStore{}, &fakeDeduper{}, directQueue{}, nil,
		SubmitCompletionHandlerConfig{},
	)

	tests := []struct {
		name string
		cmd  SubmitCompletionCommand
		want error
	}{
		{"zero lesson id", SubmitCompletionCommand{DayIndex: 0, ActivityIndex: 0, ActivityType: progress.ActivityQuiz}, shared.ErrInvalidLessonID},
		{"negative day", SubmitCompletionCommand{LessonID: 1, DayIndex: -1, ActivityType: progress.ActivityQuiz}, shared.ErrInvalidDayIndex},
		{"negative activity", SubmitCompletionCommand{LessonID: 1, ActivityIndex: -2, ActivityType: progress.ActivityQuiz}, shared.ErrInvalidActivityIdx},
		{"unknown type", SubmitCompletionCommand{LessonID: 1, ActivityType: "karaoke"}, shared.ErrUnknownActivityType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.Handle(context.Background(), tt.cmd)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestSubmitCompletion_DuplicateSuppressed(t *testing.T) {
	store := &fakeStore{message: "recorded"}
	deduper := &fakeDeduper{suppress: true}
	pub := &capturingPublisher{}
	h := NewSubmitCompletionHandler(
		&fakeIdentity{creds: AuthCredentials{Token: "tok", UserID: 7}},
		store, deduper, directQueue{}, pub,
		SubmitCompletionHandlerConfig{},
	)

	result, err := h.Handle(context.Background(), validCommand())
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.True(t, result.Suppressed)
	assert.Equal(t, "already recording", result.Message)

	assert.Zero(t, store.calls, "suppressed submission must not reach the store")
	assert.Equal(t, []string{"42:0:1:quiz"}, deduper.seen)
	assert.Equal(t, []shared.EventType{shared.EventCompletionSuppressed}, pub.types())
}

func TestSubmitCompletion_RetriesRateLimit(t *testing.T) {
	store := &fakeStore{message: "recorded", errs: []error{rateLimited(), nil}}
	sleeper := &recordingSleeper{}
	h := NewSubmitCompletionHandler(
		&fakeIdentity{creds: AuthCredentials{Token: "tok", UserID: 7}},
		store, &fakeDeduper{}, directQueue{}, nil,
		SubmitCompletionHandlerConfig{Sleeper: sleeper.sleep},
	)

	result, err := h.Handle(context.Background(), validCommand())
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 2, store.calls)
	assert.Equal(t, []time.Duration{time.Second}, sleeper.delays)
}

func TestSubmitCompletion_ExhaustsRetries(t *testing.T) {
	store := &fakeStore{errs: []error{rateLimited(), rateLimited(), rateLimited()}}
	deduper := &fakeDeduper{}
	pub := &capturingPublisher{}
	sleeper := &recordingSleeper{}
	h := NewSubmitCompletionHandler(
		&fakeIdentity{creds: AuthCredentials{Token: "tok", UserID: 7}},
		store, deduper, directQueue{}, pub,
		SubmitCompletionHandlerConfig{Sleeper: sleeper.sleep},
	)

	result, err := h.Handle(context.Background(), validCommand())
	require.NoError(t, err, "settled store failures are reported in the result, not as errors")
	assert.False(t, result.Success)
	assert.Contains(t, result.Message, "rate limiting")

	assert.Equal(t, 3, store.calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeper.delays)
	assert.Equal(t, []string{"42:0:1:quiz"}, deduper.forgotten, "failed key must leave the cooldown cache")
	assert.Equal(t, []shared.EventType{shared.EventCompletionFailed}, pub.types())
}

func TestSubmitCompletion_NonRetryableFailsFast(t *testing.T) {
	store := &fakeStore{errs: []error{errors.New("500 internal error")}}
	sleeper := &recordingSleeper{}
	h := NewSubmitCompletionHandler(
		&fakeIdentity{creds: AuthCredentials{Token: "tok", UserID: 7}},
		store, &fakeDeduper{}, directQueue{}, nil,
		SubmitCompletionHandlerConfig{Sleeper: sleeper.sleep},
	)

	result, err := h.Handle(context.Background(), validCommand())
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, 1, store.calls)
	assert.Empty(t, sleeper.delays)
}

func TestSubmitCompletion_Unauthenticated(t *testing.T) {
	store := &fakeStore{}
	deduper := &fakeDeduper{}
	h := NewSubmitCompletionHandler(
		&fakeIdentity{err: shared.ErrNoIdentity},
		store, deduper, directQueue{}, nil,
		SubmitCompletionHandlerConfig{},
	)

	result, err := h.Handle(context.Background(), validCommand())
	assert.Nil(t, result)
	assert.ErrorIs(t, err, shared.ErrUnauthenticated)
	assert.Zero(t, store.calls)
	assert.Equal(t, []string{"42:0:1:quiz"}, deduper.forgotten)
}

func TestSubmitCompletion_TimeoutMessage(t *testing.T) {
	store := &fakeStore{errs: []error{context.DeadlineExceeded}}
	h := NewSubmitCompletionHandler(
		&fakeIdentity{creds: AuthCredentials{Token: "tok", UserID: 7}},
		store, &fakeDeduper{}, directQueue{}, nil,
		SubmitCompletionHandlerConfig{},
	)

	result, err := h.Handle(context.Background(), validCommand())
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "progress store did not respond in time", result.Message)
}

func TestSubmitCompletion_SerializedThroughQueue(t *testing.T) {
	queue := syncqueue.NewSerialQueue(syncqueue.Config{Depth: 16})
	defer queue.Close()

	store := &fakeStore{message: "recorded"}
	h := NewSubmitCompletionHandler(
		&fakeIdentity{creds: AuthCredentials{Token: "tok", UserID: 7}},
		store, &fakeDeduper{}, queue, nil,
		SubmitCompletionHandlerConfig{},
	)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(day int) {
			defer wg.Done()
			cmd := validCommand()
			cmd.DayIndex = day
			_, err := h.Handle(context.Background(), cmd)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 8, store.calls)
	assert.Equal(t, 1, store.maxSeen, "submissions must settle one at a time")
}

func TestSubmitCompletion_InvalidatesSnapshotOnSuccess(t *testing.T) {
	store := &fakeStore{message: "recorded"}
	snapshots := &fakeSnapshots{}
	h := NewSubmitCompletionHandler(
		&fakeIdentity{creds: AuthCredentials{Token: "tok", UserID: 7}},
		store, &fakeDeduper{}, directQueue{}, nil,
		SubmitCompletionHandlerConfig{Snapshots: snapshots},
	)

	result, err := h.Handle(context.Background(), validCommand())
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.Equal(t, [][2]int64{{7, 42}}, snapshots.invalidated,
		"a recorded completion must drop the cached snapshot so the next read shows it")
}

func TestSubmitCompletion_FailureKeepsSnapshot(t *testing.T) {
	store := &fakeStore{errs: []error{errors.New("500 internal error")}}
	snapshots := &fakeSnapshots{}
	h := NewSubmitCompletionHandler(
		&fakeIdentity{creds: AuthCredentials{Token: "tok", UserID: 7}},
		store, &fakeDeduper{}, directQueue{}, nil,
		SubmitCompletionHandlerConfig{Snapshots: snapshots},
	)

	result, err := h.Handle(context.Background(), validCommand())
	require.NoError(t, err)
	require.False(t, result.Success)
	assert.Empty(t, snapshots.invalidated, "a failed write changed nothing, the cache stays")
}

// ══════════════════════════════════════════════════════════════════════════════
// REMOVE TESTS
// ══════════════════════════════════════════════════════════════════════════════

func TestRemoveCompletion_Success(t *testing.T) {
	store := &fakeStore{message: "Completion removed"}
	deduper := &fakeDeduper{}
	snapshots := &fakeSnapshots{}
	h := NewRemoveCompletionHandler(
		&fakeIdentity{creds: AuthCredentials{Token: "tok", UserID: 7}},
		store, deduper, directQueue{}, nil,
		SubmitCompletionHandlerConfig{Snapshots: snapshots},
	)

	result, err := h.Handle(context.Background(), RemoveCompletionCommand{
		LessonID:      42,
		DayIndex:      0,
		ActivityIndex: 1,
		ActivityType:  progress.ActivityQuiz,
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, []string{"42:0:1:quiz"}, deduper.forgotten,
		"a removed slot must be resubmittable immediately")
	assert.Equal(t, [][2]int64{{7, 42}}, snapshots.invalidated,
		"the cached snapshot still counts the removed completion")
}

func TestRemoveCompletion_Unauthenticated(t *testing.T) {
	h := NewRemoveCompletionHandler(
		&fakeIdentity{err: shared.ErrTokenExpired},
		&fakeStore{}, &fakeDeduper{}, directQueue{}, nil,
		SubmitCompletionHandlerConfig{},
	)

	_, err := h.Handle(context.Background(), RemoveCompletionCommand{
		LessonID:     1,
		ActivityType: progress.ActivityVideo,
	})
	assert.ErrorIs(t, err, shared.ErrUnauthenticated)
}
