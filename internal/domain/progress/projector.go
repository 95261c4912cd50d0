package progress

import "math"

// Project derives a Snapshot from raw completion records and a lesson
// definition. Pure: no I/O, no clock, deterministic for a given input.
//
// Records are sparse, possibly duplicated, and possibly stale relative to
// the current lesson revision. Duplicates collapse to one slot (set
// semantics), and records whose activity type does not match the slot's
// defined type are ignored entirely.
func Project(records []CompletionRecord, def *LessonDefinition) Snapshot {
	if def == nil {
		return EmptySnapshot()
	}

	snapshot := Snapshot{
		PerDay:         make([]DayProgress, 0, len(def.Days)),
		CompletedSlots: make(map[Slot]struct{}),
	}

	completedPerDay := make([]int, len(def.Days))
	for di, day := range def.Days {
		for ai, act := range day.Activities {
			if !slotCompleted(records, di, ai, act.Type) {
				continue
			}
			snapshot.CompletedSlots[Slot{DayIndex: di, ActivityIndex: ai, ActivityType: act.Type}] = struct{}{}
			completedPerDay[di]++
		}
	}

	totalActivities := 0
	totalCompleted := 0
	for di, day := range def.Days {
		count := len(day.Activities)
		totalActivities += count
		totalCompleted += completedPerDay[di]

		snapshot.PerDay = append(snapshot.PerDay, DayProgress{
			DayIndex:  di,
			Percent:   percent(completedPerDay[di], count),
			Completed: count > 0 && completedPerDay[di] == count,
		})
	}

	snapshot.OverallPercent = percent(totalCompleted, totalActivities)
	return snapshot
}

// slotCompleted is the single place the completion rule lives: a slot is
// complete iff some record matches day index, activity index, AND the
// activity type the definition assigns to that slot. Matching on the
// coordinate alone is wrong - a reused index under a different type must
// not count.
func slotCompleted(records []CompletionRecord, dayIndex, activityIndex int, activityType ActivityType) bool {
	for _, r := range records {
		if r.DayIndex == dayIndex && r.ActivityIndex == activityIndex && r.ActivityType == activityType {
			return true
		}
	}
	return false
}

// percent returns round(100*completed/total), with 0 for an empty total so
// zero-activity days never produce NaN.
func percent(completed, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(100 * float64(completed) / float64(total)))
}
