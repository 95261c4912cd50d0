// Package identity resolves the caller's identity for progress-store requests.
//
// A TokenProvider supplies the Firebase-issued ID token and the stable
// external identifier of the signed-in user. The Resolver exchanges the
// external identifier for the numeric user id the progress store works
// with, caching the mapping for the lifetime of the process.
package identity

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/lumilearn/progress-sync/internal/domain/shared"
)

// TokenProvider supplies authentication material for the current user.
// Implementations wrap whatever auth SDK the host application uses.
type TokenProvider interface {
	// IDToken returns a fresh bearer token, refreshing it if necessary.
	IDToken(ctx context.Context) (string, error)

	// ExternalID returns the stable external identifier of the signed-in
	// user, or an empty string when nobody is signed in.
	ExternalID() string
}

// UserLookup resolves an external identifier to a store-side user.
type UserLookup interface {
	ResolveUser(ctx context.Context, token, externalID string) (ResolvedUser, error)
}

// ResolvedUser is the store-side view of an authenticated user.
type ResolvedUser struct {
	ID         int64
	ExternalID string
	Email      string
}

// Credentials is what the rest of the pipeline needs to talk to the store.
type Credentials struct {
	Token  string
	UserID int64
}

// Resolver turns a TokenProvider into store credentials.
//
// The external-id to user-id mapping never changes for a given account,
// so successful lookups are cached until the process exits. Token
// freshness is checked on every call: an expired token is rejected
// locally instead of producing a confusing 401 from the store.
type Resolver struct {
	mu     sync.RWMutex
	users  map[string]int64
	tokens TokenProvider
	lookup UserLookup
	logger *slog.Logger
	parser *jwt.Parser
	now    func() time.Time
}

// ResolverOption customizes a Resolver.
type ResolverOption func(*Resolver)

// WithLogger sets the logger used for resolution diagnostics.
func WithLogger(l *slog.Logger) ResolverOption {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) ResolverOption {
	return func(r *Resolver) {
		if now != nil {
			r.now = now
		}
	}
}

// NewResolver creates a Resolver backed by the given token provider and
// user lookup.
func NewResolver(tokens TokenProvider, lookup UserLookup, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		users:  make(map[string]int64),
		tokens: tokens,
		lookup: lookup,
		logger: slog.Default(),
		// The token is verified server-side; here we only inspect
		// claims, so signature validation is skipped.
		parser: jwt.NewParser(jwt.WithoutClaimsValidation()),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns credentials for the current user.
//
// It fails with shared.ErrNoIdentity when nobody is signed in, with
// shared.ErrTokenExpired when the token's exp claim is in the past, and
// with shared.ErrUserUnresolved when the store cannot map the external
// identifier to a user.
func (r *Resolver) Resolve(ctx context.Context) (Credentials, error) {
	if r.tokens == nil {
		return Credentials{}, shared.ErrNoIdentity
	}

	externalID := r.tokens.ExternalID()
	if externalID == "" {
		return Credentials{}, shared.ErrNoIdentity
	}

	token, err := r.tokens.IDToken(ctx)
	if err != nil {
		return Credentials{}, shared.NewDomainError("identity", "Resolve", shared.ErrNoIdentity,
			fmt.Sprintf("obtain id token: %v", err))
	}
	if token == "" {
		return Credentials{}, shared.ErrNoIdentity
	}

	if err := r.checkExpiry(token); err != nil {
		return Credentials{}, err
	}

	if id, ok := r.cachedUser(externalID); ok {
		return Credentials{Token: token, UserID: id}, nil
	}

	user, err := r.lookup.ResolveUser(ctx, token, externalID)
	if err != nil {
		r.logger.WarnContext(ctx, "user resolution failed",
			slog.String("external_id", externalID),
			slog.Any("error", err))
		return Credentials{}, shared.WrapError("identity", "Resolve", shared.ErrUserUnresolved, "user lookup failed", err)
	}

	r.mu.Lock()
	r.users[externalID] = user.ID
	r.mu.Unlock()

	r.logger.DebugContext(ctx, "user resolved",
		slog.String("external_id", externalID),
		slog.Int64("user_id", user.ID))

	return Credentials{Token: token, UserID: user.ID}, nil
}

// Invalidate drops the cached mapping for an external identifier.
// Call it when the account signs out.
func (r *Resolver) Invalidate(externalID string) {
	r.mu.Lock()
	delete(r.users, externalID)
	r.mu.Unlock()
}

func (r *Resolver) cachedUser(externalID string) (int64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.users[externalID]
	return id, ok
}

// checkExpiry rejects tokens whose exp claim has passed. Tokens without
// a parseable exp claim are passed through for the store to judge.
func (r *Resolver) checkExpiry(token string) error {
	claims := jwt.MapClaims{}
	if _, _, err := r.parser.ParseUnverified(token, claims); err != nil {
		return nil
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil
	}
	if exp.Before(r.now()) {
		return shared.ErrTokenExpired
	}
	return nil
}
