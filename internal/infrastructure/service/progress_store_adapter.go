// Package service wires infrastructure implementations to the interfaces
// the application layer defines.
package service

import (
	"context"
	"errors"
	"net/http"

	"github.com/lumilearn/progress-sync/internal/application/command"
	"github.com/lumilearn/progress-sync/internal/application/query"
	"github.com/lumilearn/progress-sync/internal/domain/progress"
	"github.com/lumilearn/progress-sync/internal/domain/shared"
	"github.com/lumilearn/progress-sync/internal/infrastructure/external/progressapi"
	"github.com/lumilearn/progress-sync/pkg/backoff"
	"github.com/lumilearn/progress-sync/pkg/circuitbreaker"
)

// ProgressStoreAdapter adapts the progress-store HTTP client to the
// command.ProgressStore and query.CompletionReader interfaces.
//
// Error classification lives here: rate limits come back marked
// retryable so the application-level retry machine backs off and tries
// again, while everything else settles immediately.
type ProgressStoreAdapter struct {
	client  *progressapi.Client
	mapper  *progressapi.Mapper
	breaker *circuitbreaker.CircuitBreaker
}

// NewProgressStoreAdapter creates a new ProgressStoreAdapter. The read
// path runs behind a circuit breaker: when the store is down, reads trip
// immediately and the query layer serves its fail-open empty result
// instead of stacking up timeouts. Writes stay outside the breaker, a
// submission is worth a real attempt even during an outage.
func NewProgressStoreAdapter(client *progressapi.Client) *ProgressStoreAdapter {
	isRateLimit := func(err error) bool {
		var rl *progressapi.RateLimitError
		return errors.As(err, &rl)
	}
	return &ProgressStoreAdapter{
		client:  client,
		mapper:  progressapi.NewMapper(),
		breaker: circuitbreaker.ProgressStoreBreaker(isRateLimit, nil),
	}
}

// RecordCompletion implements command.ProgressStore.
func (a *ProgressStoreAdapter) RecordCompletion(ctx context.Context, token string, event progress.CompletionEvent) (string, error) {
	msg, err := a.client.RecordCompletion(ctx, token, a.mapper.RequestFromEvent(event))
	if err != nil {
		return "", classify(err)
	}
	return msg, nil
}

// RemoveCompletion implements command.ProgressStore.
func (a *ProgressStoreAdapter) RemoveCompletion(ctx context.Context, token string, event progress.CompletionEvent) (string, error) {
	msg, err := a.client.RemoveCompletion(ctx, token, progressapi.RemoveCompletionRequest{
		UserID:        event.UserID,
		LessonID:      event.LessonID,
		DayIndex:      event.DayIndex,
		ActivityIndex: event.ActivityIndex,
	})
	if err != nil {
		return "", classify(err)
	}
	return msg, nil
}

// ListCompletions implements query.CompletionReader.
func (a *ProgressStoreAdapter) ListCompletions(ctx context.Context, token string, userID, lessonID int64) ([]progress.CompletionRecord, error) {
	var dtos []progressapi.CompletionRecordDTO
	err := a.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		dtos, err = a.client.ListCompletions(ctx, token, userID, lessonID)
		return err
	})
	if err != nil {
		return nil, classify(err)
	}
	return a.mapper.RecordsFromDTO(dtos), nil
}

// classify translates transport errors into the taxonomy the
// application layer acts on.
func classify(err error) error {
	var rl *progressapi.RateLimitError
	if errors.As(err, &rl) {
		return backoff.Retryable(shared.WrapError("progressapi", "request", shared.ErrRateLimited, "store is rate limiting", err))
	}

	var api *progressapi.APIError
	if errors.As(err, &api) && api.StatusCode == http.StatusUnauthorized {
		return shared.WrapError("progressapi", "request", shared.ErrUnauthenticated, "store rejected the token", err)
	}

	return err
}

var (
	_ command.ProgressStore  = (*ProgressStoreAdapter)(nil)
	_ query.CompletionReader = (*ProgressStoreAdapter)(nil)
)
