package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/lumilearn/progress-sync/internal/domain/progress"
	"github.com/lumilearn/progress-sync/internal/infrastructure/persistence/postgres"
)

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// CompletionStore is the persistence the handlers write completions to.
// *postgres.RecordStore satisfies this interface.
type CompletionStore interface {
	UpsertCompletion(ctx context.Context, record progress.CompletionRecord) (progress.CompletionRecord, bool, error)
	ListByUserLesson(ctx context.Context, userID, lessonID int64) ([]progress.CompletionRecord, error)
	DeleteCompletion(ctx context.Context, userID, lessonID int64, dayIndex, activityIndex int) (bool, error)
}

// UserDirectory resolves external identifiers to store users.
// *postgres.UserStore satisfies this interface.
type UserDirectory interface {
	GetOrCreateByExternalID(ctx context.Context, externalID, email string) (postgres.StoredUser, error)
}

// ══════════════════════════════════════════════════════════════════════════════
// WIRE TYPES
// ══════════════════════════════════════════════════════════════════════════════

type recordCompletionRequest struct {
	UserID        int64  `json:"user_id"`
	LessonID      int64  `json:"lesson_id"`
	DayIndex      int    `json:"day_index"`
	ActivityIndex int    `json:"activity_index"`
	ActivityType  string `json:"activity_type"`
}

type removeCompletionRequest struct {
	UserID        int64 `json:"user_id"`
	LessonID      int64 `json:"lesson_id"`
	DayIndex      int   `json:"day_index"`
	ActivityIndex int   `json:"activity_index"`
}

type completionResponse struct {
	ID            string    `json:"id"`
	UserID        int64     `json:"user_id"`
	LessonID      int64     `json:"lesson_id"`
	DayIndex      int       `json:"day_index"`
	ActivityIndex int       `json:"activity_index"`
	ActivityType  string    `json:"activity_type"`
	RecordedAt    time.Time `json:"recorded_at"`
}

type userResponse struct {
	ID         int64  `json:"id"`
	ExternalID string `json:"external_id,omitempty"`
	Email      string `json:"email,omitempty"`
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// Handlers implements the devstore endpoints.
type Handlers struct {
	completions CompletionStore
	users       UserDirectory
	config      Config

	writeCount atomic.Int64
}

// NewHandlers creates the devstore handler set.
func NewHandlers(completions CompletionStore, users UserDirectory, config Config) *Handlers {
	return &Handlers{
		completions: completions,
		users:       users,
		config:      config,
	}
}

// Health reports liveness.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// RecordCompletion handles POST /progress/activity.
func (h *Handlers) RecordCompletion(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		writeJSONError(w, http.StatusUnauthorized, "missing or invalid bearer token")
		return
	}

	if h.simulateRateLimit(w) {
		return
	}

	var req recordCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ev := progress.CompletionEvent{
		UserID:        req.UserID,
		LessonID:      req.LessonID,
		DayIndex:      req.DayIndex,
		ActivityIndex: req.ActivityIndex,
		ActivityType:  progress.ActivityType(req.ActivityType),
	}
	if err := ev.Validate(); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.UserID <= 0 {
		writeJSONError(w, http.StatusBadRequest, "user id must be positive")
		return
	}

	_, created, err := h.completions.UpsertCompletion(r.Context(), progress.CompletionRecord{
		UserID:        req.UserID,
		LessonID:      req.LessonID,
		DayIndex:      req.DayIndex,
		ActivityIndex: req.ActivityIndex,
		ActivityType:  progress.ActivityType(req.ActivityType),
	})
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to record completion")
		return
	}

	if created {
		writeJSON(w, http.StatusCreated, map[string]string{"message": "Activity completion recorded"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Activity completion already recorded"})
}

// ListCompletions handles GET /progress/activity/{userID}/{lessonID}.
func (h *Handlers) ListCompletions(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		writeJSONError(w, http.StatusUnauthorized, "missing or invalid bearer token")
		return
	}

	userID, err := strconv.ParseInt(r.PathValue("userID"), 10, 64)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	lessonID, err := strconv.ParseInt(r.PathValue("lessonID"), 10, 64)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid lesson id")
		return
	}

	records, err := h.completions.ListByUserLesson(r.Context(), userID, lessonID)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to list completions")
		return
	}

	out := make([]completionResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, completionResponse{
			ID:            rec.ID,
			UserID:        rec.UserID,
			LessonID:      rec.LessonID,
			DayIndex:      rec.DayIndex,
			ActivityIndex: rec.ActivityIndex,
			ActivityType:  string(rec.ActivityType),
			RecordedAt:    rec.RecordedAt,
		})
	}

	writeJSON(w, http.StatusOK, out)
}

// RemoveCompletion handles DELETE /progress/activity. In addition to the
// bearer token the endpoint is guarded by the maintenance key when one
// is configured.
func (h *Handlers) RemoveCompletion(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		writeJSONError(w, http.StatusUnauthorized, "missing or invalid bearer token")
		return
	}

	if h.config.AdminKeyHash != "" {
		key := r.Header.Get("X-Admin-Key")
		if bcrypt.CompareHashAndPassword([]byte(h.config.AdminKeyHash), []byte(key)) != nil {
			writeJSONError(w, http.StatusForbidden, "invalid maintenance key")
			return
		}
	}

	var req removeCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	existed, err := h.completions.DeleteCompletion(r.Context(), req.UserID, req.LessonID, req.DayIndex, req.ActivityIndex)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to remove completion")
		return
	}
	if !existed {
		writeJSONError(w, http.StatusNotFound, "completion not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Completion removed"})
}

// ResolveUser handles GET /users/{externalID}. The devstore creates
// users on first sight so any signed-in identity can be exercised.
func (h *Handlers) ResolveUser(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		writeJSONError(w, http.StatusUnauthorized, "missing or invalid bearer token")
		return
	}

	externalID := r.PathValue("externalID")
	if externalID == "" {
		writeJSONError(w, http.StatusBadRequest, "missing external id")
		return
	}

	user, err := h.users.GetOrCreateByExternalID(r.Context(), externalID, "")
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to resolve user")
		return
	}

	writeJSON(w, http.StatusOK, userResponse{
		ID:         user.ID,
		ExternalID: user.ExternalID,
		Email:      user.Email,
	})
}

// authorized checks for a non-empty bearer token. The devstore accepts
// any token; verifying real tokens is the production backend's job.
func (h *Handlers) authorized(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	token := strings.TrimPrefix(auth, "Bearer ")
	return auth != token && strings.TrimSpace(token) != ""
}

// simulateRateLimit returns 429 on every Nth write when configured,
// giving the client's backoff path something to chew on locally.
func (h *Handlers) simulateRateLimit(w http.ResponseWriter) bool {
	if h.config.RateLimitEvery <= 0 {
		return false
	}
	n := h.writeCount.Add(1)
	if n%int64(h.config.RateLimitEvery) == 0 {
		w.Header().Set("Retry-After", "1")
		writeJSONError(w, http.StatusTooManyRequests, "simulated rate limit")
		return true
	}
	return false
}
