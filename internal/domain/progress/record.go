package progress

import "time"

// CompletionRecord is the durable, store-owned projection of a successfully
// submitted CompletionEvent. Append-only; never mutated; removed only by an
// explicit corrective maintenance call.
type CompletionRecord struct {
	// ID is the store-assigned record identifier.
	ID string

	// UserID is the numeric store user id.
	UserID int64

	// LessonID identifies the lesson.
	LessonID int64

	// DayIndex is the zero-based day within the lesson.
	DayIndex int

	// ActivityIndex is the zero-based slot within the day.
	ActivityIndex int

	// ActivityType is the kind of activity completed.
	ActivityType ActivityType

	// RecordedAt is when the store accepted the completion.
	RecordedAt time.Time
}

// IdentityKey returns the 5-tuple the store treats as the idempotency key.
// Records sharing this key represent the same logical fact and must count
// once everywhere.
type IdentityKey struct {
	UserID        int64
	LessonID      int64
	DayIndex      int
	ActivityIndex int
	ActivityType  ActivityType
}

// Identity returns the record's idempotency key.
func (r CompletionRecord) Identity() IdentityKey {
	return IdentityKey{
		UserID:        r.UserID,
		LessonID:      r.LessonID,
		DayIndex:      r.DayIndex,
		ActivityIndex: r.ActivityIndex,
		ActivityType:  r.ActivityType,
	}
}
