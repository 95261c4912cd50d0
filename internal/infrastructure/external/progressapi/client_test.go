package progressapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumilearn/progress-sync/internal/domain/progress"
)

func TestClient_RecordCompletion(t *testing.T) {
	var gotAuth string
	var gotBody RecordCompletionRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/progress/activity", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(MessageResponse{Message: "activity recorded"})
	}))
	defer srv.Close()

	client := NewClient(DefaultClientConfig(srv.URL))
	msg, err := client.RecordCompletion(context.Background(), "tok-123", RecordCompletionRequest{
		UserID:        7,
		LessonID:      42,
		DayIndex:      0,
		ActivityIndex: 1,
		ActivityType:  "reading",
	})

	require.NoError(t, err)
	assert.Equal(t, "activity recorded", msg)
	assert.Equal(t, "Bearer tok-123", gotAuth)
	assert.Equal(t, int64(7), gotBody.UserID)
	assert.Equal(t, "reading", gotBody.ActivityType)
}

func TestClient_RecordCompletion_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "2")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewClient(DefaultClientConfig(srv.URL))
	_, err := client.RecordCompletion(context.Background(), "tok", RecordCompletionRequest{UserID: 7, LessonID: 42})

	require.Error(t, err)
	var rle *RateLimitError
	require.True(t, errors.As(err, &rle))
	assert.Equal(t, 2*time.Second, rle.RetryAfter)
}

func TestClient_RecordCompletion_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(MessageResponse{Message: "boom"})
	}))
	defer srv.Close()

	client := NewClient(DefaultClientConfig(srv.URL))
	_, err := client.RecordCompletion(context.Background(), "tok", RecordCompletionRequest{UserID: 7, LessonID: 42})

	require.Error(t, err)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.Equal(t, "boom", apiErr.Message)
}

func TestClient_ListCompletions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/progress/activity/7/42", r.URL.Path)
		json.NewEncoder(w).Encode([]CompletionRecordDTO{
			{ID: "r1", UserID: 7, LessonID: 42, DayIndex: 0, ActivityIndex: 0, ActivityType: "video"},
			{ID: "r2", UserID: 7, LessonID: 42, DayIndex: 0, ActivityIndex: 1, ActivityType: "reading"},
		})
	}))
	defer srv.Close()

	client := NewClient(DefaultClientConfig(srv.URL))
	records, err := client.ListCompletions(context.Background(), "tok", 7, 42)

	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "video", records[0].ActivityType)
}

func TestClient_ResolveUser(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/users/firebase-uid-1", r.URL.Path)
		json.NewEncoder(w).Encode(UserDTO{ID: 7, ExternalID: "firebase-uid-1"})
	}))
	defer srv.Close()

	client := NewClient(DefaultClientConfig(srv.URL))
	user, err := client.ResolveUser(context.Background(), "tok", "firebase-uid-1")

	require.NoError(t, err)
	assert.Equal(t, int64(7), user.ID)
}

func TestClient_RemoveCompletion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		json.NewEncoder(w).Encode(MessageResponse{Message: "removed"})
	}))
	defer srv.Close()

	client := NewClient(DefaultClientConfig(srv.URL))
	msg, err := client.RemoveCompletion(context.Background(), "tok", RemoveCompletionRequest{UserID: 7, LessonID: 42})

	require.NoError(t, err)
	assert.Equal(t, "removed", msg)
}

func TestMapper_RecordsFromDTO(t *testing.T) {
	mapper := NewMapper()

	records := mapper.RecordsFromDTO([]CompletionRecordDTO{
		{ID: "r1", UserID: 7, LessonID: 42, DayIndex: 0, ActivityIndex: 0, ActivityType: "video"},
		{ID: "bad-coord", UserID: 7, LessonID: 42, DayIndex: -1, ActivityIndex: 0, ActivityType: "video"},
		{ID: "no-type", UserID: 7, LessonID: 42, DayIndex: 0, ActivityIndex: 1, ActivityType: ""},
		// Unknown types survive mapping: the projector ignores them via
		// the lesson definition.
		{ID: "r2", UserID: 7, LessonID: 42, DayIndex: 0, ActivityIndex: 2, ActivityType: "hologram"},
	})

	require.Len(t, records, 2)
	assert.Equal(t, progress.ActivityVideo, records[0].ActivityType)
	assert.Equal(t, progress.ActivityType("hologram"), records[1].ActivityType)
}

func TestMapper_RequestFromEvent(t *testing.T) {
	mapper := NewMapper()

	req := mapper.RequestFromEvent(progress.CompletionEvent{
		UserID:        7,
		LessonID:      42,
		DayIndex:      1,
		ActivityIndex: 3,
		ActivityType:  progress.ActivityQuiz,
	})

	assert.Equal(t, RecordCompletionRequest{
		UserID:        7,
		LessonID:      42,
		DayIndex:      1,
		ActivityIndex: 3,
		ActivityType:  "quiz",
	}, req)
}
