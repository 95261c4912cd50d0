// Package progressapi implements the HTTP client for the remote progress store.
package progressapi

import (
	"errors"

	"github.com/lumilearn/progress-sync/internal/domain/progress"
)

// ErrNilDTO is returned when a mapper receives a nil DTO.
var ErrNilDTO = errors.New("progressapi: nil DTO")

// ══════════════════════════════════════════════════════════════════════════════
// MAPPER - DTO to Domain Entity transformations
// ══════════════════════════════════════════════════════════════════════════════

// Mapper transforms between wire DTOs and domain types. An anti-corruption
// layer: the domain never sees the store's JSON shapes.
type Mapper struct{}

// NewMapper creates a new Mapper instance.
func NewMapper() *Mapper {
	return &Mapper{}
}

// RecordFromDTO converts a wire record to the domain CompletionRecord.
func (m *Mapper) RecordFromDTO(dto *CompletionRecordDTO) (progress.CompletionRecord, error) {
	if dto == nil {
		return progress.CompletionRecord{}, ErrNilDTO
	}
	return progress.CompletionRecord{
		ID:            dto.ID,
		UserID:        dto.UserID,
		LessonID:      dto.LessonID,
		DayIndex:      dto.DayIndex,
		ActivityIndex: dto.ActivityIndex,
		ActivityType:  progress.ActivityType(dto.ActivityType),
		RecordedAt:    dto.RecordedAt,
	}, nil
}

// RecordsFromDTO converts a list of wire records, skipping malformed
// entries. The store can legitimately hold records with activity types an
// old client does not know; those are kept, because the projector filters
// by the lesson definition anyway. Records missing their coordinates are
// dropped.
func (m *Mapper) RecordsFromDTO(dtos []CompletionRecordDTO) []progress.CompletionRecord {
	records := make([]progress.CompletionRecord, 0, len(dtos))
	for i := range dtos {
		dto := &dtos[i]
		if dto.DayIndex < 0 || dto.ActivityIndex < 0 || dto.ActivityType == "" {
			continue
		}
		rec, err := m.RecordFromDTO(dto)
		if err != nil {
			continue
		}
		records = append(records, rec)
	}
	return records
}

// RequestFromEvent builds the POST body for a completion event. The event
// must already carry its resolved numeric user id.
func (m *Mapper) RequestFromEvent(event progress.CompletionEvent) RecordCompletionRequest {
	return RecordCompletionRequest{
		UserID:        event.UserID,
		LessonID:      event.LessonID,
		DayIndex:      event.DayIndex,
		ActivityIndex: event.ActivityIndex,
		ActivityType:  string(event.ActivityType),
	}
}
