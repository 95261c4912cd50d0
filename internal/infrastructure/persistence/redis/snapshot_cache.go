package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lumilearn/progress-sync/internal/domain/progress"
)

// ══════════════════════════════════════════════════════════════════════════════
// SNAPSHOT CACHE
// ══════════════════════════════════════════════════════════════════════════════

// SnapshotCache caches projected progress snapshots per user and lesson.
//
// The cache is strictly best effort. Every Redis error is logged and
// treated as a miss, so a broken cache only costs an extra store fetch.
type SnapshotCache struct {
	cache  *Cache
	ttl    time.Duration
	logger *slog.Logger
}

// NewSnapshotCache creates a SnapshotCache with the given TTL.
// A non-positive TTL falls back to TTLSnapshot.
func NewSnapshotCache(cache *Cache, ttl time.Duration, logger *slog.Logger) *SnapshotCache {
	if ttl <= 0 {
		ttl = TTLSnapshot
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SnapshotCache{cache: cache, ttl: ttl, logger: logger}
}

// cachedSnapshot is the wire form of a snapshot. CompletedSlots is a map
// keyed by struct and cannot round-trip through JSON, so the slots are
// flattened to a list.
type cachedSnapshot struct {
	OverallPercent int                    `json:"overall_percent"`
	PerDay         []progress.DayProgress `json:"per_day"`
	Slots          []progress.Slot        `json:"slots"`
}

func snapshotKey(userID, lessonID int64) string {
	return fmt.Sprintf("%s%d:%d", PrefixSnapshot, userID, lessonID)
}

// Get returns the cached snapshot for the user and lesson, or a miss.
func (s *SnapshotCache) Get(ctx context.Context, userID, lessonID int64) (*progress.Snapshot, bool) {
	var cached cachedSnapshot
	if err := s.cache.Get(ctx, snapshotKey(userID, lessonID), &cached); err != nil {
		if err != ErrCacheMiss {
			s.logger.DebugContext(ctx, "snapshot cache read failed",
				slog.Int64("user_id", userID),
				slog.Int64("lesson_id", lessonID),
				slog.Any("error", err))
		}
		return nil, false
	}

	snap := &progress.Snapshot{
		OverallPercent: cached.OverallPercent,
		PerDay:         cached.PerDay,
		CompletedSlots: make(map[progress.Slot]struct{}, len(cached.Slots)),
	}
	if snap.PerDay == nil {
		snap.PerDay = []progress.DayProgress{}
	}
	for _, slot := range cached.Slots {
		snap.CompletedSlots[slot] = struct{}{}
	}
	return snap, true
}

// Set stores a snapshot. Failures are logged and swallowed.
func (s *SnapshotCache) Set(ctx context.Context, userID, lessonID int64, snapshot *progress.Snapshot) {
	if snapshot == nil {
		return
	}

	cached := cachedSnapshot{
		OverallPercent: snapshot.OverallPercent,
		PerDay:         snapshot.PerDay,
		Slots:          make([]progress.Slot, 0, len(snapshot.CompletedSlots)),
	}
	for slot := range snapshot.CompletedSlots {
		cached.Slots = append(cached.Slots, slot)
	}

	if err := s.cache.Set(ctx, snapshotKey(userID, lessonID), cached, s.ttl); err != nil {
		s.logger.DebugContext(ctx, "snapshot cache write failed",
			slog.Int64("user_id", userID),
			slog.Int64("lesson_id", lessonID),
			slog.Any("error", err))
	}
}

// Invalidate drops the cached snapshot for the user and lesson, used
// after a successful submission so the next read reflects it.
func (s *SnapshotCache) Invalidate(ctx context.Context, userID, lessonID int64) {
	if err := s.cache.Delete(ctx, snapshotKey(userID, lessonID)); err != nil {
		s.logger.DebugContext(ctx, "snapshot cache invalidation failed",
			slog.Int64("user_id", userID),
			slog.Int64("lesson_id", lessonID),
			slog.Any("error", err))
	}
}
