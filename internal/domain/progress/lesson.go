// Package progress contains the domain model of the activity-completion
// pipeline: completion events and records, lesson definitions, and the
// pure projection of records into progress snapshots.
package progress

import (
	"encoding/json"
	"fmt"

	"github.com/lumilearn/progress-sync/internal/domain/shared"
)

// ActivityType identifies the kind of learning activity occupying a slot.
type ActivityType string

const (
	// ActivityVideo - watch a lesson video.
	ActivityVideo ActivityType = "video"

	// ActivityReading - read a lesson page.
	ActivityReading ActivityType = "reading"

	// ActivityQuiz - pass a quiz.
	ActivityQuiz ActivityType = "quiz"

	// ActivityFlashcards - practice a flashcard deck.
	ActivityFlashcards ActivityType = "flashcards"

	// ActivityGame - complete a learning game.
	ActivityGame ActivityType = "game"
)

// Valid reports whether the activity type is one the content pipeline emits.
func (t ActivityType) Valid() bool {
	switch t {
	case ActivityVideo, ActivityReading, ActivityQuiz, ActivityFlashcards, ActivityGame:
		return true
	}
	return false
}

// Activity is one entry in a lesson day. Static content, owned by the
// content bundle; the pipeline only reads it.
type Activity struct {
	Type ActivityType `json:"type"`
}

// Day is an ordered list of activities.
type Day struct {
	Activities []Activity `json:"activities"`
}

// LessonDefinition is the static shape of one lesson: an ordered list of
// days, each an ordered list of typed activities. Slot indices are only
// meaningful relative to a specific revision of this definition.
type LessonDefinition struct {
	LessonID int64 `json:"lesson_id"`
	Days     []Day `json:"days"`
}

// TotalActivities returns the number of activity slots across all days.
func (d *LessonDefinition) TotalActivities() int {
	total := 0
	for _, day := range d.Days {
		total += len(day.Activities)
	}
	return total
}

// ActivityAt returns the activity defined at (dayIndex, activityIndex),
// or false when the coordinate is outside the definition.
func (d *LessonDefinition) ActivityAt(dayIndex, activityIndex int) (Activity, bool) {
	if dayIndex < 0 || dayIndex >= len(d.Days) {
		return Activity{}, false
	}
	day := d.Days[dayIndex]
	if activityIndex < 0 || activityIndex >= len(day.Activities) {
		return Activity{}, false
	}
	return day.Activities[activityIndex], true
}

// ParseLessonDefinition decodes a lesson definition from content-bundle JSON.
func ParseLessonDefinition(data []byte) (*LessonDefinition, error) {
	var def LessonDefinition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, shared.WrapError("progress", "ParseLesson", shared.ErrInvalidFormat, "malformed lesson definition", err)
	}
	if def.LessonID <= 0 {
		return nil, shared.ErrInvalidLessonID
	}
	for di, day := range def.Days {
		for ai, act := range day.Activities {
			if !act.Type.Valid() {
				return nil, shared.WrapError("progress", "ParseLesson", shared.ErrInvalidInput,
					fmt.Sprintf("day %d activity %d: unknown type %q", di, ai, act.Type), nil)
			}
		}
	}
	return &def, nil
}
