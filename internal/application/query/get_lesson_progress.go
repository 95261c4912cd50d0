// Package query contains read operations (CQRS - Queries).
package query

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lumilearn/progress-sync/internal/domain/progress"
	"github.com/lumilearn/progress-sync/internal/domain/shared"
	"github.com/lumilearn/progress-sync/pkg/backoff"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET LESSON PROGRESS QUERY
// The read half of the sync pipeline: fetch the user's completions for a
// lesson, project them against the lesson definition, and hand screens a
// ready-to-render snapshot. Reads fail open: a progress screen showing
// zeros is better than a progress screen showing an error.
// ══════════════════════════════════════════════════════════════════════════════

// GetLessonProgressQuery contains the parameters for a progress read.
type GetLessonProgressQuery struct {
	// LessonID identifies the lesson to project progress for.
	LessonID int64

	// Definition is the static lesson structure the completions are
	// projected against. A nil definition yields a zeroed snapshot.
	Definition *progress.LessonDefinition

	// BypassCache forces a store fetch even when a cached snapshot is
	// fresh. Used by pull-to-refresh.
	BypassCache bool
}

// Validate validates the query.
func (q GetLessonProgressQuery) Validate() error {
	if q.LessonID <= 0 {
		return fmt.Errorf("get_lesson_progress: %w: lesson id must be positive", shared.ErrInvalidLessonID)
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES (Interfaces)
// ══════════════════════════════════════════════════════════════════════════════

// AuthCredentials is what a read needs to talk to the store.
type AuthCredentials struct {
	Token  string
	UserID int64
}

// IdentityResolver provides credentials for the current user.
type IdentityResolver interface {
	Resolve(ctx context.Context) (AuthCredentials, error)
}

// CompletionReader fetches recorded completions from the store.
// Implementations must mark transient errors with backoff.Retryable.
type CompletionReader interface {
	ListCompletions(ctx context.Context, token string, userID, lessonID int64) ([]progress.CompletionRecord, error)
}

// SnapshotCache stores projected snapshots between reads. All methods
// are best effort: a miss or an error only means the store is consulted.
type SnapshotCache interface {
	Get(ctx context.Context, userID, lessonID int64) (*progress.Snapshot, bool)
	Set(ctx context.Context, userID, lessonID int64, snapshot *progress.Snapshot)
}

// NopSnapshotCache is the cache used when caching is disabled.
type NopSnapshotCache struct{}

func (NopSnapshotCache) Get(context.Context, int64, int64) (*progress.Snapshot, bool) {
	return nil, false
}
func (NopSnapshotCache) Set(context.Context, int64, int64, *progress.Snapshot) {}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// GetLessonProgressHandler handles the GetLessonProgressQuery.
type GetLessonProgressHandler struct {
	identity  IdentityResolver
	reader    CompletionReader
	cache     SnapshotCache
	publisher shared.EventPublisher
	logger    *slog.Logger

	schedule backoff.Schedule
	sleep    backoff.Sleeper
}

// GetLessonProgressHandlerConfig contains configuration for the handler.
type GetLessonProgressHandlerConfig struct {
	// Schedule controls retry pacing for rate-limited reads.
	Schedule backoff.Schedule

	// Sleeper is the wait function used between attempts.
	Sleeper backoff.Sleeper

	// Logger for structured logging.
	Logger *slog.Logger
}

// NewGetLessonProgressHandler creates a new GetLessonProgressHandler.
func NewGetLessonProgressHandler(
	identity IdentityResolver,
	reader CompletionReader,
	cache SnapshotCache,
	publisher shared.EventPublisher,
	config GetLessonProgressHandlerConfig,
) *GetLessonProgressHandler {
	if config.Schedule.MaxAttempts == 0 {
		config.Schedule = backoff.DefaultSchedule()
	}
	if config.Sleeper == nil {
		config.Sleeper = backoff.SleepWithContext
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if cache == nil {
		cache = NopSnapshotCache{}
	}
	if publisher == nil {
		publisher = shared.NopPublisher{}
	}

	return &GetLessonProgressHandler{
		identity:  identity,
		reader:    reader,
		cache:     cache,
		publisher: publisher,
		logger:    config.Logger,
		schedule:  config.Schedule,
		sleep:     config.Sleeper,
	}
}

// Handle executes the query and never fails on store or identity
// trouble: any fetch problem degrades to a snapshot projected from no
// completions. Only an invalid query is an error.
func (h *GetLessonProgressHandler) Handle(ctx context.Context, q GetLessonProgressQuery) (*progress.Snapshot, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	records, userID, fromStore := h.fetchCompletions(ctx, q)

	snapshot := progress.Project(records, q.Definition)

	// Only store-backed projections are cached. Caching the fail-open
	// empty result would serve zeros for a whole TTL after the store
	// recovers, and re-writing on a cache hit would keep refreshing the
	// TTL so a stale entry never expires under steady reads.
	if fromStore && userID != 0 {
		h.cache.Set(ctx, userID, q.LessonID, &snapshot)
	}

	ev := shared.NewBaseEvent(shared.EventProgressProjected, fmt.Sprintf("%d", q.LessonID))
	_ = h.publisher.Publish(ev)

	return &snapshot, nil
}

// fetchCompletions returns the user's completions for the lesson, or an
// empty slice when anything goes wrong. The second return is the
// resolved user id, zero when identity resolution failed; the third is
// true only when the records came from a successful store fetch.
func (h *GetLessonProgressHandler) fetchCompletions(ctx context.Context, q GetLessonProgressQuery) ([]progress.CompletionRecord, int64, bool) {
	creds, err := h.identity.Resolve(ctx)
	if err != nil {
		h.logger.DebugContext(ctx, "progress read without identity, serving empty",
			slog.Int64("lesson_id", q.LessonID),
			slog.Any("error", err))
		return []progress.CompletionRecord{}, 0, false
	}

	if !q.BypassCache {
		if snap, ok := h.cache.Get(ctx, creds.UserID, q.LessonID); ok && snap != nil {
			return h.recordsFromSnapshot(q, snap, creds.UserID), creds.UserID, false
		}
	}

	var records []progress.CompletionRecord
	machine := backoff.NewMachine(h.schedule, h.sleep)
	err = machine.Run(ctx, func(attemptCtx context.Context) error {
		recs, err := h.reader.ListCompletions(attemptCtx, creds.Token, creds.UserID, q.LessonID)
		if err != nil {
			return err
		}
		records = recs
		return nil
	})
	if err != nil {
		h.logger.WarnContext(ctx, "completion fetch failed, serving empty",
			slog.Int64("lesson_id", q.LessonID),
			slog.Int64("user_id", creds.UserID),
			slog.Any("error", err))
		return []progress.CompletionRecord{}, creds.UserID, false
	}

	if records == nil {
		records = []progress.CompletionRecord{}
	}
	return records, creds.UserID, true
}

// recordsFromSnapshot rebuilds minimal completion records from a cached
// snapshot so the projection path stays single.
func (h *GetLessonProgressHandler) recordsFromSnapshot(q GetLessonProgressQuery, snap *progress.Snapshot, userID int64) []progress.CompletionRecord {
	records := make([]progress.CompletionRecord, 0, len(snap.CompletedSlots))
	for slot := range snap.CompletedSlots {
		records = append(records, progress.CompletionRecord{
			UserID:        userID,
			LessonID:      q.LessonID,
			DayIndex:      slot.DayIndex,
			ActivityIndex: slot.ActivityIndex,
			ActivityType:  slot.ActivityType,
			RecordedAt:    time.Time{},
		})
	}
	return records
}
