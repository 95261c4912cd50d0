// Package command contains write operations (CQRS - Commands).
// Commands are responsible for changing state in the progress store.
package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lumilearn/progress-sync/internal/domain/progress"
	"github.com/lumilearn/progress-sync/internal/domain/shared"
	"github.com/lumilearn/progress-sync/pkg/backoff"
)

// ══════════════════════════════════════════════════════════════════════════════
// SUBMIT COMPLETION COMMAND
// Records an activity completion in the progress store. This is the write
// half of the sync pipeline: dedup, serialization, and retry all live here.
// ══════════════════════════════════════════════════════════════════════════════

// SubmitCompletionCommand contains the data needed to record a completion.
type SubmitCompletionCommand struct {
	// LessonID identifies the lesson the activity belongs to.
	LessonID int64

	// DayIndex is the zero-based day within the lesson.
	DayIndex int

	// ActivityIndex is the zero-based position of the activity in its day.
	ActivityIndex int

	// ActivityType is the kind of activity completed (video, quiz, ...).
	ActivityType progress.ActivityType

	// CorrelationID for tracing. Generated when empty.
	CorrelationID string
}

// Validate validates the command.
func (c SubmitCompletionCommand) Validate() error {
	if c.LessonID <= 0 {
		return fmt.Errorf("submit_completion: %w: lesson id must be positive", shared.ErrInvalidLessonID)
	}
	if c.DayIndex < 0 {
		return fmt.Errorf("submit_completion: %w: day index must not be negative", shared.ErrInvalidDayIndex)
	}
	if c.ActivityIndex < 0 {
		return fmt.Errorf("submit_completion: %w: activity index must not be negative", shared.ErrInvalidActivityIdx)
	}
	if !c.ActivityType.Valid() {
		return fmt.Errorf("submit_completion: %w: %q", shared.ErrUnknownActivityType, c.ActivityType)
	}
	return nil
}

// event builds the domain event for this command. The user id is filled
// in after identity resolution.
func (c SubmitCompletionCommand) event() progress.CompletionEvent {
	return progress.CompletionEvent{
		LessonID:      c.LessonID,
		DayIndex:      c.DayIndex,
		ActivityIndex: c.ActivityIndex,
		ActivityType:  c.ActivityType,
	}
}

// SubmitResult contains the outcome of a submission.
//
// Store-side failures after retries are reported here with Success false
// rather than as an error: the caller already moved on and only needs to
// know whether a refresh hint is coming. Authentication failures are the
// exception and surface as an error.
type SubmitResult struct {
	// Success indicates the completion was recorded.
	Success bool

	// Message is the human-readable store response or failure reason.
	Message string

	// Suppressed indicates the submission was a duplicate inside the
	// cooldown window and never reached the store.
	Suppressed bool
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES (Interfaces)
// ══════════════════════════════════════════════════════════════════════════════

// AuthCredentials is what a submission needs to talk to the store.
type AuthCredentials struct {
	Token  string
	UserID int64
}

// IdentityResolver provides credentials for the current user.
type IdentityResolver interface {
	Resolve(ctx context.Context) (AuthCredentials, error)
}

// ProgressStore defines the store operations the command side uses.
// Implementations must mark transient errors with backoff.Retryable so
// the retry machine knows to try again.
type ProgressStore interface {
	// RecordCompletion records one completion and returns the store's
	// acknowledgement message.
	RecordCompletion(ctx context.Context, token string, event progress.CompletionEvent) (string, error)

	// RemoveCompletion deletes a previously recorded completion.
	RemoveCompletion(ctx context.Context, token string, event progress.CompletionEvent) (string, error)
}

// Deduper suppresses rapid duplicate submissions.
type Deduper interface {
	// ShouldSuppress reports whether the key was seen inside the
	// cooldown window, recording the sighting either way.
	ShouldSuppress(key string) bool

	// Forget drops the key so a failed submission can be retried
	// immediately.
	Forget(key string)
}

// TaskQueue serializes submissions so they reach the store one at a time,
// in call order.
type TaskQueue interface {
	Do(ctx context.Context, fn func(ctx context.Context) error) error
}

// SnapshotInvalidator drops a cached progress snapshot after a successful
// write, so the next read reflects it instead of a stale cache entry.
type SnapshotInvalidator interface {
	Invalidate(ctx context.Context, userID, lessonID int64)
}

// NopSnapshotInvalidator is used when snapshot caching is disabled.
type NopSnapshotInvalidator struct{}

func (NopSnapshotInvalidator) Invalidate(context.Context, int64, int64) {}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// SubmitCompletionHandler handles the SubmitCompletionCommand.
type SubmitCompletionHandler struct {
	identity  IdentityResolver
	store     ProgressStore
	deduper   Deduper
	queue     TaskQueue
	publisher shared.EventPublisher
	snapshots SnapshotInvalidator

	schedule backoff.Schedule
	sleep    backoff.Sleeper
}

// SubmitCompletionHandlerConfig contains configuration for the handler.
type SubmitCompletionHandlerConfig struct {
	// Schedule controls retry pacing for rate-limited submissions.
	Schedule backoff.Schedule

	// Sleeper is the wait function used between attempts. Tests inject
	// a fake to avoid real delays.
	Sleeper backoff.Sleeper

	// Snapshots is invalidated after a successful write. Nil disables
	// invalidation.
	Snapshots SnapshotInvalidator
}

// NewSubmitCompletionHandler creates a new SubmitCompletionHandler.
func NewSubmitCompletionHandler(
	identity IdentityResolver,
	store ProgressStore,
	deduper Deduper,
	queue TaskQueue,
	publisher shared.EventPublisher,
	config SubmitCompletionHandlerConfig,
) *SubmitCompletionHandler {
	if config.Schedule.MaxAttempts == 0 {
		config.Schedule = backoff.DefaultSchedule()
	}
	if config.Sleeper == nil {
		config.Sleeper = backoff.SleepWithContext
	}
	if publisher == nil {
		publisher = shared.NopPublisher{}
	}
	if config.Snapshots == nil {
		config.Snapshots = NopSnapshotInvalidator{}
	}

	return &SubmitCompletionHandler{
		identity:  identity,
		store:     store,
		deduper:   deduper,
		queue:     queue,
		publisher: publisher,
		snapshots: config.Snapshots,
		schedule:  config.Schedule,
		sleep:     config.Sleeper,
	}
}

// Handle executes the submit completion command.
//
// The call blocks until the submission settles: the task runs behind any
// earlier submissions on the queue, and rate-limited attempts are retried
// with backoff before the outcome is reported.
func (h *SubmitCompletionHandler) Handle(ctx context.Context, cmd SubmitCompletionCommand) (*SubmitResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	if cmd.CorrelationID == "" {
		cmd.CorrelationID = uuid.NewString()
	}

	ev := cmd.event()
	key := ev.Key()

	if h.deduper.ShouldSuppress(key) {
		h.publish(shared.EventCompletionSuppressed, key, cmd.CorrelationID)
		return &SubmitResult{
			Success:    true,
			Message:    "already recording",
			Suppressed: true,
		}, nil
	}

	var (
		result  *SubmitResult
		authErr error
	)

	err := h.queue.Do(ctx, func(taskCtx context.Context) error {
		creds, err := h.identity.Resolve(taskCtx)
		if err != nil {
			h.deduper.Forget(key)
			authErr = fmt.Errorf("submit_completion: %w: %v", shared.ErrUnauthenticated, err)
			return authErr
		}

		ev.UserID = creds.UserID
		ev.Timestamp = time.Now().UTC()

		var message string
		machine := backoff.NewMachine(h.schedule, h.sleep)
		submitErr := machine.Run(taskCtx, func(attemptCtx context.Context) error {
			msg, err := h.store.RecordCompletion(attemptCtx, creds.Token, ev)
			if err != nil {
				return err
			}
			message = msg
			return nil
		})

		if submitErr != nil {
			// The key stays forgotten so the user can retry right away.
			h.deduper.Forget(key)
			h.publish(shared.EventCompletionFailed, key, cmd.CorrelationID)
			result = &SubmitResult{Success: false, Message: failureMessage(submitErr)}
			return nil
		}

		// The cached snapshot predates this write; drop it so the next
		// read shows the new completion.
		h.snapshots.Invalidate(taskCtx, creds.UserID, cmd.LessonID)

		h.publish(shared.EventCompletionAccepted, key, cmd.CorrelationID)
		result = &SubmitResult{Success: true, Message: message}
		return nil
	})

	if authErr != nil {
		return nil, authErr
	}
	if err != nil {
		// Queue-level failure: closed queue or cancelled context.
		h.deduper.Forget(key)
		return nil, fmt.Errorf("submit_completion: %w", err)
	}

	return result, nil
}

func (h *SubmitCompletionHandler) publish(eventType shared.EventType, key, correlationID string) {
	ev := shared.NewBaseEvent(eventType, key)
	ev.CorrelationID = correlationID
	// Refresh hints are best effort.
	_ = h.publisher.Publish(ev)
}

// failureMessage converts a settled submission error into the message
// surfaced to the caller.
func failureMessage(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "progress store did not respond in time"
	}
	if errors.Is(err, shared.ErrRateLimited) {
		return "progress store is rate limiting requests"
	}
	return err.Error()
}
