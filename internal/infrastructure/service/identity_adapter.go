package service

import (
	"context"

	"github.com/lumilearn/progress-sync/internal/application/command"
	"github.com/lumilearn/progress-sync/internal/application/query"
	"github.com/lumilearn/progress-sync/internal/infrastructure/identity"
)

// CommandIdentityAdapter exposes the identity resolver to the command side.
type CommandIdentityAdapter struct {
	resolver *identity.Resolver
}

// NewCommandIdentityAdapter creates a new CommandIdentityAdapter.
func NewCommandIdentityAdapter(resolver *identity.Resolver) *CommandIdentityAdapter {
	return &CommandIdentityAdapter{resolver: resolver}
}

// Resolve implements command.IdentityResolver.
func (a *CommandIdentityAdapter) Resolve(ctx context.Context) (command.AuthCredentials, error) {
	creds, err := a.resolver.Resolve(ctx)
	if err != nil {
		return command.AuthCredentials{}, err
	}
	return command.AuthCredentials{Token: creds.Token, UserID: creds.UserID}, nil
}

// QueryIdentityAdapter exposes the identity resolver to the query side.
type QueryIdentityAdapter struct {
	resolver *identity.Resolver
}

// NewQueryIdentityAdapter creates a new QueryIdentityAdapter.
func NewQueryIdentityAdapter(resolver *identity.Resolver) *QueryIdentityAdapter {
	return &QueryIdentityAdapter{resolver: resolver}
}

// Resolve implements query.IdentityResolver.
func (a *QueryIdentityAdapter) Resolve(ctx context.Context) (query.AuthCredentials, error) {
	creds, err := a.resolver.Resolve(ctx)
	if err != nil {
		return query.AuthCredentials{}, err
	}
	return query.AuthCredentials{Token: creds.Token, UserID: creds.UserID}, nil
}

var (
	_ command.IdentityResolver = (*CommandIdentityAdapter)(nil)
	_ query.IdentityResolver   = (*QueryIdentityAdapter)(nil)
)
