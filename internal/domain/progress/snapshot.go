package progress

// Slot is the (dayIndex, activityIndex) coordinate within a lesson paired
// with its defined activity type. A bare coordinate is never used for
// completion checks: slot indices are legitimately reused across activity
// types between lesson revisions.
type Slot struct {
	DayIndex      int          `json:"day_index"`
	ActivityIndex int          `json:"activity_index"`
	ActivityType  ActivityType `json:"activity_type"`
}

// DayProgress is the derived progress of a single lesson day.
type DayProgress struct {
	// DayIndex is the zero-based day.
	DayIndex int `json:"day_index"`

	// Percent is the rounded completion percentage (0-100).
	Percent int `json:"percent"`

	// Completed is true when every defined activity slot is complete.
	Completed bool `json:"completed"`
}

// Snapshot is the derived progress view for one user and lesson.
// Recomputed on every read; never persisted by the pipeline.
type Snapshot struct {
	// OverallPercent is the rounded completion percentage across all days.
	OverallPercent int `json:"overall_percent"`

	// PerDay holds one entry per defined day, in day order.
	PerDay []DayProgress `json:"per_day"`

	// CompletedSlots is the set of completed slots.
	CompletedSlots map[Slot]struct{} `json:"-"`
}

// EmptySnapshot returns a fully-zeroed, well-formed snapshot. Used when the
// lesson definition is absent and as the fail-open read result.
func EmptySnapshot() Snapshot {
	return Snapshot{
		OverallPercent: 0,
		PerDay:         []DayProgress{},
		CompletedSlots: map[Slot]struct{}{},
	}
}

// SlotCompleted reports whether the given slot is in the completed set.
func (s Snapshot) SlotCompleted(dayIndex, activityIndex int, activityType ActivityType) bool {
	_, ok := s.CompletedSlots[Slot{DayIndex: dayIndex, ActivityIndex: activityIndex, ActivityType: activityType}]
	return ok
}

// CompletedCount returns the number of completed slots.
func (s Snapshot) CompletedCount() int {
	return len(s.CompletedSlots)
}
