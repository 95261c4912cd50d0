// Package progressapi implements the HTTP client for the remote progress
// store. It speaks the store's REST wire contract: recording completions,
// reading raw completion records, resolving identities to store users,
// and the corrective maintenance removal.
package progressapi

import (
	"fmt"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST / RESPONSE DTOs
// ══════════════════════════════════════════════════════════════════════════════

// RecordCompletionRequest is the body of POST /progress/activity.
type RecordCompletionRequest struct {
	UserID        int64  `json:"user_id"`
	LessonID      int64  `json:"lesson_id"`
	DayIndex      int    `json:"day_index"`
	ActivityIndex int    `json:"activity_index"`
	ActivityType  string `json:"activity_type"`
}

// RemoveCompletionRequest is the body of DELETE /progress/activity.
// Maintenance only; not part of the normal flow.
type RemoveCompletionRequest struct {
	UserID        int64 `json:"user_id"`
	LessonID      int64 `json:"lesson_id"`
	DayIndex      int   `json:"day_index"`
	ActivityIndex int   `json:"activity_index"`
}

// MessageResponse is the store's acknowledgment body.
type MessageResponse struct {
	Message string `json:"message"`
}

// CompletionRecordDTO is one raw record as returned by
// GET /progress/activity/{userID}/{lessonID}.
type CompletionRecordDTO struct {
	// ID is the store-assigned record identifier.
	ID string `json:"id"`

	// UserID is the numeric store user id.
	UserID int64 `json:"user_id"`

	// LessonID identifies the lesson.
	LessonID int64 `json:"lesson_id"`

	// DayIndex is the zero-based day within the lesson.
	DayIndex int `json:"day_index"`

	// ActivityIndex is the zero-based slot within the day.
	ActivityIndex int `json:"activity_index"`

	// ActivityType is the kind of activity completed.
	ActivityType string `json:"activity_type"`

	// RecordedAt is when the store accepted the completion.
	RecordedAt time.Time `json:"recorded_at"`
}

// UserDTO is the store user returned by GET /users/{externalID}.
// Only the numeric id matters to the pipeline; the rest is carried for
// debugging.
type UserDTO struct {
	ID         int64  `json:"id"`
	ExternalID string `json:"external_id,omitempty"`
	Email      string `json:"email,omitempty"`
}

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

// RateLimitError is returned for HTTP 429 responses. The only transient
// failure class: callers retry it under the backoff schedule.
type RateLimitError struct {
	// RetryAfter is the server-suggested wait, when present.
	RetryAfter time.Duration

	// Message provides additional context.
	Message string
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	return e.Message
}

// Is implements errors.Is matching on the error type.
func (e *RateLimitError) Is(target error) bool {
	_, ok := target.(*RateLimitError)
	return ok
}

// APIError is any non-2xx, non-429 response. Never retried.
type APIError struct {
	StatusCode int
	Message    string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("progress store: status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("progress store: status %d", e.StatusCode)
}
