package query

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumilearn/progress-sync/internal/domain/progress"
	"github.com/lumilearn/progress-sync/internal/domain/shared"
	"github.com/lumilearn/progress-sync/pkg/backoff"
)

type fakeIdentity struct {
	creds AuthCredentials
	err   error
}

func (f *fakeIdentity) Resolve(ctx context.Context) (AuthCredentials, error) {
	return f.creds, f.err
}

type fakeReader struct {
	records []progress.CompletionRecord
	errs    []error
	calls   int
}

func (f *fakeReader) ListCompletions(ctx context.Context, token string, userID, lessonID int64) ([]progress.CompletionRecord, error) {
	f.calls++
	if f.calls-1 < len(f.errs) && f.errs[f.calls-1] != nil {
		return nil, f.errs[f.calls-1]
	}
	return f.records, nil
}

type fakeCache struct {
	snapshots map[string]*progress.Snapshot
	sets      int
	gets      int
}

func newFakeCache() *fakeCache {
	return &fakeCache{snapshots: make(map[string]*progress.Snapshot)}
}

func cacheKey(userID, lessonID int64) string {
	return fmt.Sprintf("%d/%d", userID, lessonID)
}

func (f *fakeCache) Get(ctx context.Context, userID, lessonID int64) (*progress.Snapshot, bool) {
	f.gets++
	snap, ok := f.snapshots[cacheKey(userID, lessonID)]
	return snap, ok
}

func (f *fakeCache) Set(ctx context.Context, userID, lessonID int64, snapshot *progress.Snapshot) {
	f.sets++
	f.snapshots[cacheKey(userID, lessonID)] = snapshot
}

type recordingSleeper struct {
	delays []time.Duration
}

func (s *recordingSleeper) sleep(ctx context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return ctx.Err()
}

// twoDayLesson has two days with two activities each.
func twoDayLesson() *progress.LessonDefinition {
	return &progress.LessonDefinition{
		LessonID: 42,
		Days: []progress.Day{
			{Activities: []progress.Activity{
				{Type: progress.ActivityVideo},
				{Type: progress.ActivityQuiz},
			}},
			{Activities: []progress.Activity{
				{Type: progress.ActivityReading},
				{Type: progress.ActivityGame},
			}},
		},
	}
}

func record(day, idx int, typ progress.ActivityType) progress.CompletionRecord {
	return progress.CompletionRecord{
		UserID:        7,
		LessonID:      42,
		DayIndex:      day,
		ActivityIndex: idx,
		ActivityType:  typ,
		RecordedAt:    time.Now(),
	}
}

func TestGetLessonProgress_ProjectsFetchedRecords(t *testing.T) {
	reader := &fakeReader{records: []progress.CompletionRecord{
		record(0, 0, progress.ActivityVideo),
		record(0, 1, progress.ActivityQuiz),
	}}
	h := NewGetLessonProgressHandler(
		&fakeIdentity{creds: AuthCredentials{Token: "tok", UserID: 7}},
		reader, nil, nil,
		GetLessonProgressHandlerConfig{},
	)

	snap, err := h.Handle(context.Background(), GetLessonProgressQuery{
		LessonID:   42,
		Definition: twoDayLesson(),
	})
	require.NoError(t, err)
	assert.Equal(t, 50, snap.OverallPercent)
	assert.Equal(t, 100, snap.PerDay[0].Percent)
	assert.True(t, snap.PerDay[0].Completed)
	assert.Equal(t, 0, snap.PerDay[1].Percent)
}

func TestGetLessonProgress_InvalidLessonID(t *testing.T) {
	h := NewGetLessonProgressHandler(&fakeIdentity{}, &fakeReader{}, nil, nil,
		GetLessonProgressHandlerConfig{})

	_, err := h.Handle(context.Background(), GetLessonProgressQuery{LessonID: 0})
	assert.ErrorIs(t, err, shared.ErrInvalidLessonID)
}

func TestGetLessonProgress_FailsOpenWithoutIdentity(t *testing.T) {
	reader := &fakeReader{}
	h := NewGetLessonProgressHandler(
		&fakeIdentity{err: shared.ErrNoIdentity},
		reader, nil, nil,
		GetLessonProgressHandlerConfig{},
	)

	snap, err := h.Handle(context.Background(), GetLessonProgressQuery{
		LessonID:   42,
		Definition: twoDayLesson(),
	})
	require.NoError(t, err)
	assert.Equal(t, 0, snap.OverallPercent)
	assert.Len(t, snap.PerDay, 2)
	assert.Zero(t, reader.calls, "no identity means no store call")
}

func TestGetLessonProgress_FailsOpenOnStoreError(t *testing.T) {
	reader := &fakeReader{errs: []error{errors.New("connection refused")}}
	h := NewGetLessonProgressHandler(
		&fakeIdentity{creds: AuthCredentials{Token: "tok", UserID: 7}},
		reader, nil, nil,
		GetLessonProgressHandlerConfig{},
	)

	snap, err := h.Handle(context.Background(), GetLessonProgressQuery{
		LessonID:   42,
		Definition: twoDayLesson(),
	})
	require.NoError(t, err, "store failures never surface to screens")
	assert.Equal(t, 0, snap.OverallPercent)
	assert.NotNil(t, snap.PerDay)
}

func TestGetLessonProgress_RetriesRateLimit(t *testing.T) {
	reader := &fakeReader{
		errs:    []error{backoff.Retryable(shared.ErrRateLimited), nil},
		records: []progress.CompletionRecord{record(0, 0, progress.ActivityVideo)},
	}
	sleeper := &recordingSleeper{}
	h := NewGetLessonProgressHandler(
		&fakeIdentity{creds: AuthCredentials{Token: "tok", UserID: 7}},
		reader, nil, nil,
		GetLessonProgressHandlerConfig{Sleeper: sleeper.sleep},
	)

	snap, err := h.Handle(context.Background(), GetLessonProgressQuery{
		LessonID:   42,
		Definition: twoDayLesson(),
	})
	require.NoError(t, err)
	assert.Equal(t, 25, snap.OverallPercent)
	assert.Equal(t, 2, reader.calls)
	assert.Equal(t, []time.Duration{time.Second}, sleeper.delays)
}

func TestGetLessonProgress_CacheHitSkipsStore(t *testing.T) {
	cache := newFakeCache()
	reader := &fakeReader{records: []progress.CompletionRecord{
		record(0, 0, progress.ActivityVideo),
	}}
	h := NewGetLessonProgressHandler(
		&fakeIdentity{creds: AuthCredentials{Token: "tok", UserID: 7}},
		reader, cache, nil,
		GetLessonProgressHandlerConfig{},
	)

	q := GetLessonProgressQuery{LessonID: 42, Definition: twoDayLesson()}

	first, err := h.Handle(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, 1, reader.calls)

	second, err := h.Handle(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, 1, reader.calls, "second read must be served from cache")
	assert.Equal(t, first.OverallPercent, second.OverallPercent)
}

func TestGetLessonProgress_FailedFetchNotCached(t *testing.T) {
	cache := newFakeCache()
	reader := &fakeReader{
		errs:    []error{errors.New("connection refused"), nil},
		records: []progress.CompletionRecord{record(0, 0, progress.ActivityVideo)},
	}
	h := NewGetLessonProgressHandler(
		&fakeIdentity{creds: AuthCredentials{Token: "tok", UserID: 7}},
		reader, cache, nil,
		GetLessonProgressHandlerConfig{},
	)

	q := GetLessonProgressQuery{LessonID: 42, Definition: twoDayLesson()}

	snap, err := h.Handle(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, 0, snap.OverallPercent)
	assert.Zero(t, cache.sets, "a fail-open empty snapshot must not poison the cache")

	// The store recovered; the next read must reach it instead of
	// serving the degraded result from cache.
	snap, err = h.Handle(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, 2, reader.calls)
	assert.Equal(t, 25, snap.OverallPercent)
}

func TestGetLessonProgress_CacheHitDoesNotRefreshEntry(t *testing.T) {
	cache := newFakeCache()
	reader := &fakeReader{records: []progress.CompletionRecord{
		record(0, 0, progress.ActivityVideo),
	}}
	h := NewGetLessonProgressHandler(
		&fakeIdentity{creds: AuthCredentials{Token: "tok", UserID: 7}},
		reader, cache, nil,
		GetLessonProgressHandlerConfig{},
	)

	q := GetLessonProgressQuery{LessonID: 42, Definition: twoDayLesson()}

	_, err := h.Handle(context.Background(), q)
	require.NoError(t, err)
	require.Equal(t, 1, cache.sets)

	// Cache-hit reads must not rewrite the entry: doing so would keep
	// extending its TTL and a stale snapshot would never expire.
	for i := 0; i < 3; i++ {
		_, err = h.Handle(context.Background(), q)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, cache.sets)
	assert.Equal(t, 1, reader.calls)
}

func TestGetLessonProgress_BypassCache(t *testing.T) {
	cache := newFakeCache()
	reader := &fakeReader{records: []progress.CompletionRecord{
		record(0, 0, progress.ActivityVideo),
	}}
	h := NewGetLessonProgressHandler(
		&fakeIdentity{creds: AuthCredentials{Token: "tok", UserID: 7}},
		reader, cache, nil,
		GetLessonProgressHandlerConfig{},
	)

	q := GetLessonProgressQuery{LessonID: 42, Definition: twoDayLesson(), BypassCache: true}

	_, err := h.Handle(context.Background(), q)
	require.NoError(t, err)
	_, err = h.Handle(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, 2, reader.calls)
}

func TestGetLessonProgress_PublishesProjectedEvent(t *testing.T) {
	var published []shared.EventType
	pub := publisherFunc(func(e shared.Event) error {
		published = append(published, e.EventType())
		return nil
	})
	h := NewGetLessonProgressHandler(
		&fakeIdentity{creds: AuthCredentials{Token: "tok", UserID: 7}},
		&fakeReader{}, nil, pub,
		GetLessonProgressHandlerConfig{},
	)

	_, err := h.Handle(context.Background(), GetLessonProgressQuery{
		LessonID:   42,
		Definition: twoDayLesson(),
	})
	require.NoError(t, err)
	assert.Equal(t, []shared.EventType{shared.EventProgressProjected}, published)
}

type publisherFunc func(shared.Event) error

func (f publisherFunc) Publish(e shared.Event) error { return f(e) }

func TestGetLessonProgress_NilDefinition(t *testing.T) {
	h := NewGetLessonProgressHandler(
		&fakeIdentity{creds: AuthCredentials{Token: "tok", UserID: 7}},
		&fakeReader{}, nil, nil,
		GetLessonProgressHandlerConfig{},
	)

	snap, err := h.Handle(context.Background(), GetLessonProgressQuery{LessonID: 42})
	require.NoError(t, err)
	assert.Equal(t, 0, snap.OverallPercent)
	assert.NotNil(t, snap.PerDay)
	assert.Empty(t, snap.PerDay)
}
