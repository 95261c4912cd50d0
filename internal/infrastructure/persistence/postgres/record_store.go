package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lumilearn/progress-sync/internal/domain/progress"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECORD STORE
// ══════════════════════════════════════════════════════════════════════════════

// RecordStore persists activity completions for the devstore.
type RecordStore struct {
	conn *Connection
}

// NewRecordStore creates a new RecordStore.
func NewRecordStore(conn *Connection) *RecordStore {
	return &RecordStore{conn: conn}
}

// UpsertCompletion records a completion. Resubmitting an existing
// 5-tuple returns the original row untouched, so the endpoint stays
// idempotent. The second return reports whether a new row was created.
func (s *RecordStore) UpsertCompletion(ctx context.Context, record progress.CompletionRecord) (progress.CompletionRecord, bool, error) {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.RecordedAt.IsZero() {
		record.RecordedAt = time.Now().UTC()
	}

	const query = `
		INSERT INTO activity_completions (id, user_id, lesson_id, day_index, activity_index, activity_type, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, lesson_id, day_index, activity_index, activity_type)
		DO UPDATE SET user_id = activity_completions.user_id
		RETURNING id, recorded_at, (xmax = 0) AS inserted
	`

	var inserted bool
	err := s.conn.QueryRow(ctx, query,
		record.ID,
		record.UserID,
		record.LessonID,
		record.DayIndex,
		record.ActivityIndex,
		string(record.ActivityType),
		record.RecordedAt,
	).Scan(&record.ID, &record.RecordedAt, &inserted)
	if err != nil {
		return progress.CompletionRecord{}, false, fmt.Errorf("upsert completion: %w", err)
	}

	return record, inserted, nil
}

// ListByUserLesson returns all completions for a user within a lesson.
func (s *RecordStore) ListByUserLesson(ctx context.Context, userID, lessonID int64) ([]progress.CompletionRecord, error) {
	const query = `
		SELECT id, user_id, lesson_id, day_index, activity_index, activity_type, recorded_at
		FROM activity_completions
		WHERE user_id = $1 AND lesson_id = $2
		ORDER BY recorded_at
	`

	rows, err := s.conn.Query(ctx, query, userID, lessonID)
	if err != nil {
		return nil, fmt.Errorf("list completions: %w", err)
	}
	defer rows.Close()

	records := make([]progress.CompletionRecord, 0)
	for rows.Next() {
		var rec progress.CompletionRecord
		var activityType string
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.LessonID, &rec.DayIndex, &rec.ActivityIndex, &activityType, &rec.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan completion: %w", err)
		}
		rec.ActivityType = progress.ActivityType(activityType)
		records = append(records, rec)
	}

	return records, rows.Err()
}

// DeleteCompletion removes every completion recorded at a slot position.
// The wire contract identifies a slot by position only, so all activity
// types at that position go. The boolean reports whether a row existed.
func (s *RecordStore) DeleteCompletion(ctx context.Context, userID, lessonID int64, dayIndex, activityIndex int) (bool, error) {
	const query = `
		DELETE FROM activity_completions
		WHERE user_id = $1 AND lesson_id = $2 AND day_index = $3 AND activity_index = $4
	`

	tag, err := s.conn.Exec(ctx, query, userID, lessonID, dayIndex, activityIndex)
	if err != nil {
		return false, fmt.Errorf("delete completion: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// USER STORE
// ══════════════════════════════════════════════════════════════════════════════

// StoredUser is the devstore's view of a user.
type StoredUser struct {
	ID         int64
	ExternalID string
	Email      string
	CreatedAt  time.Time
}

// UserStore persists user identities for the devstore.
type UserStore struct {
	conn *Connection
}

// NewUserStore creates a new UserStore.
func NewUserStore(conn *Connection) *UserStore {
	return &UserStore{conn: conn}
}

// GetOrCreateByExternalID returns the user with the given external id,
// creating it on first sight.
func (s *UserStore) GetOrCreateByExternalID(ctx context.Context, externalID, email string) (StoredUser, error) {
	const query = `
		INSERT INTO users (external_id, email)
		VALUES ($1, $2)
		ON CONFLICT (external_id) DO UPDATE SET external_id = users.external_id
		RETURNING id, external_id, email, created_at
	`

	var user StoredUser
	err := s.conn.QueryRow(ctx, query, externalID, email).
		Scan(&user.ID, &user.ExternalID, &user.Email, &user.CreatedAt)
	if err != nil {
		return StoredUser{}, fmt.Errorf("get or create user: %w", err)
	}

	return user, nil
}

// ByExternalID returns the user with the given external id.
// Returns ErrNoRows when the user does not exist.
func (s *UserStore) ByExternalID(ctx context.Context, externalID string) (StoredUser, error) {
	const query = `
		SELECT id, external_id, email, created_at
		FROM users
		WHERE external_id = $1
	`

	var user StoredUser
	err := s.conn.QueryRow(ctx, query, externalID).
		Scan(&user.ID, &user.ExternalID, &user.Email, &user.CreatedAt)
	if err != nil {
		return StoredUser{}, err
	}

	return user, nil
}
