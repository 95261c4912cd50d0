package command

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lumilearn/progress-sync/internal/domain/progress"
	"github.com/lumilearn/progress-sync/internal/domain/shared"
	"github.com/lumilearn/progress-sync/pkg/backoff"
)

// ══════════════════════════════════════════════════════════════════════════════
// REMOVE COMPLETION COMMAND
// Deletes a completion, used when a learner resets an activity. Removals
// ride the same serial queue as submissions so a reset issued after a
// completion cannot overtake it.
// ══════════════════════════════════════════════════════════════════════════════

// RemoveCompletionCommand identifies the completion to delete.
type RemoveCompletionCommand struct {
	LessonID      int64
	DayIndex      int
	ActivityIndex int
	ActivityType  progress.ActivityType
	CorrelationID string
}

// Validate validates the command.
func (c RemoveCompletionCommand) Validate() error {
	return SubmitCompletionCommand{
		LessonID:      c.LessonID,
		DayIndex:      c.DayIndex,
		ActivityIndex: c.ActivityIndex,
		ActivityType:  c.ActivityType,
	}.Validate()
}

// RemoveCompletionHandler handles the RemoveCompletionCommand.
type RemoveCompletionHandler struct {
	identity  IdentityResolver
	store     ProgressStore
	deduper   Deduper
	queue     TaskQueue
	publisher shared.EventPublisher
	snapshots SnapshotInvalidator

	schedule backoff.Schedule
	sleep    backoff.Sleeper
}

// NewRemoveCompletionHandler creates a new RemoveCompletionHandler.
func NewRemoveCompletionHandler(
	identity IdentityResolver,
	store ProgressStore,
	deduper Deduper,
	queue TaskQueue,
	publisher shared.EventPublisher,
	config SubmitCompletionHandlerConfig,
) *RemoveCompletionHandler {
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

	return &RemoveCompletionHandler{
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

// Handle executes the remove completion command.
func (h *RemoveCompletionHandler) Handle(ctx context.Context, cmd RemoveCompletionCommand) (*SubmitResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	if cmd.CorrelationID == "" {
		cmd.CorrelationID = uuid.NewString()
	}

	ev := progress.CompletionEvent{
		LessonID:      cmd.LessonID,
		DayIndex:      cmd.DayIndex,
		ActivityIndex: cmd.ActivityIndex,
		ActivityType:  cmd.ActivityType,
	}
	key := ev.Key()

	var (
		result  *SubmitResult
		authErr error
	)

	err := h.queue.Do(ctx, func(taskCtx context.Context) error {
		creds, err := h.identity.Resolve(taskCtx)
		if err != nil {
			authErr = fmt.Errorf("remove_completion: %w: %v", shared.ErrUnauthenticated, err)
			return authErr
		}

		ev.UserID = creds.UserID
		ev.Timestamp = time.Now().UTC()

		var message string
		machine := backoff.NewMachine(h.schedule, h.sleep)
		removeErr := machine.Run(taskCtx, func(attemptCtx context.Context) error {
			msg, err := h.store.RemoveCompletion(attemptCtx, creds.Token, ev)
			if err != nil {
				return err
			}
			message = msg
			return nil
		})

		if removeErr != nil {
			h.publish(shared.EventCompletionFailed, key, cmd.CorrelationID)
			result = &SubmitResult{Success: false, Message: failureMessage(removeErr)}
			return nil
		}

		// A removal invalidates the cooldown entry: resubmitting the
		// same slot right after a reset is legitimate.
		h.deduper.Forget(key)

		// The cached snapshot still counts the removed completion.
		h.snapshots.Invalidate(taskCtx, creds.UserID, cmd.LessonID)

		h.publish(shared.EventCompletionAccepted, key, cmd.CorrelationID)
		result = &SubmitResult{Success: true, Message: message}
		return nil
	})

	if authErr != nil {
		return nil, authErr
	}
	if err != nil {
		return nil, fmt.Errorf("remove_completion: %w", err)
	}

	return result, nil
}

func (h *RemoveCompletionHandler) publish(eventType shared.EventType, key, correlationID string) {
	ev := shared.NewBaseEvent(eventType, key)
	ev.CorrelationID = correlationID
	_ = h.publisher.Publish(ev)
}
