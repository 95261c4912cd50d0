package progress

import (
	"fmt"
	"time"

	"github.com/lumilearn/progress-sync/internal/domain/shared"
)

// CompletionEvent is the client-originated assertion that one learning
// activity was finished. Ephemeral: created at the moment of a user action
// and discarded once the store acknowledges it.
type CompletionEvent struct {
	// UserID is the numeric store user id. Zero until identity resolution;
	// the submitter fills it in before the wire call.
	UserID int64

	// LessonID identifies the lesson.
	LessonID int64

	// DayIndex is the zero-based day within the lesson.
	DayIndex int

	// ActivityIndex is the zero-based slot within the day.
	ActivityIndex int

	// ActivityType is the kind of activity that was completed.
	ActivityType ActivityType

	// Timestamp is when the user finished the activity.
	Timestamp time.Time
}

// Key returns the dedup key for this event. Identity is not part of the
// key: the cache is per-process and a process serves one signed-in user.
func (e CompletionEvent) Key() string {
	return fmt.Sprintf("%d:%d:%d:%s", e.LessonID, e.DayIndex, e.ActivityIndex, e.ActivityType)
}

// Validate checks the event before it is accepted for submission.
func (e CompletionEvent) Validate() error {
	if e.LessonID <= 0 {
		return shared.ErrInvalidLessonID
	}
	if e.DayIndex < 0 {
		return shared.ErrInvalidDayIndex
	}
	if e.ActivityIndex < 0 {
		return shared.ErrInvalidActivityIdx
	}
	if !e.ActivityType.Valid() {
		return shared.ErrUnknownActivityType
	}
	return nil
}
