package identity

import (
	"context"

	"github.com/lumilearn/progress-sync/internal/domain/shared"
	"github.com/lumilearn/progress-sync/internal/infrastructure/external/progressapi"
)

// APILookup adapts the progress-store HTTP client to the UserLookup
// interface.
type APILookup struct {
	client *progressapi.Client
}

// NewAPILookup wraps a progress-store client.
func NewAPILookup(client *progressapi.Client) *APILookup {
	return &APILookup{client: client}
}

// ResolveUser looks up the store user behind an external identifier.
func (a *APILookup) ResolveUser(ctx context.Context, token, externalID string) (ResolvedUser, error) {
	dto, err := a.client.ResolveUser(ctx, token, externalID)
	if err != nil {
		return ResolvedUser{}, err
	}
	if dto == nil {
		return ResolvedUser{}, shared.ErrUserUnresolved
	}
	return ResolvedUser{
		ID:         dto.ID,
		ExternalID: dto.ExternalID,
		Email:      dto.Email,
	}, nil
}
