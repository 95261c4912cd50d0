package identity

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumilearn/progress-sync/internal/domain/shared"
)

type fakeTokens struct {
	token      string
	externalID string
	err        error
}

func (f *fakeTokens) IDToken(ctx context.Context) (string, error) { return f.token, f.err }
func (f *fakeTokens) ExternalID() string                          { return f.externalID }

type fakeLookup struct {
	calls int32
	user  ResolvedUser
	err   error
}

func (f *fakeLookup) ResolveUser(ctx context.Context, token, externalID string) (ResolvedUser, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.err != nil {
		return ResolvedUser{}, f.err
	}
	return f.user, nil
}

// unsignedToken builds a JWT-shaped token with the given exp claim and a
// bogus signature. The resolver never verifies signatures.
func unsignedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`))
	payload, err := json.Marshal(map[string]any{"exp": exp.Unix(), "sub": "user"})
	require.NoError(t, err)
	body := base64.RawURLEncoding.EncodeToString(payload)
	return fmt.Sprintf("%s.%s.sig", header, body)
}

func TestResolver_ResolvesAndCaches(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tokens := &fakeTokens{
		token:      unsignedToken(t, now.Add(time.Hour)),
		externalID: "firebase-uid-1",
	}
	lookup := &fakeLookup{user: ResolvedUser{ID: 42, ExternalID: "firebase-uid-1"}}
	r := NewResolver(tokens, lookup, WithClock(func() time.Time { return now }))

	creds, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(42), creds.UserID)
	assert.Equal(t, tokens.token, creds.Token)

	// Second call should hit the cache, not the store.
	_, err = r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&lookup.calls))
}

func TestResolver_NoIdentity(t *testing.T) {
	r := NewResolver(&fakeTokens{externalID: ""}, &fakeLookup{})

	_, err := r.Resolve(context.Background())
	assert.ErrorIs(t, err, shared.ErrNoIdentity)
}

func TestResolver_TokenProviderError(t *testing.T) {
	tokens := &fakeTokens{externalID: "uid", err: errors.New("refresh failed")}
	r := NewResolver(tokens, &fakeLookup{})

	_, err := r.Resolve(context.Background())
	assert.ErrorIs(t, err, shared.ErrNoIdentity)
}

func TestResolver_ExpiredToken(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tokens := &fakeTokens{
		token:      unsignedToken(t, now.Add(-time.Minute)),
		externalID: "uid",
	}
	lookup := &fakeLookup{}
	r := NewResolver(tokens, lookup, WithClock(func() time.Time { return now }))

	_, err := r.Resolve(context.Background())
	assert.ErrorIs(t, err, shared.ErrTokenExpired)
	assert.Zero(t, atomic.LoadInt32(&lookup.calls), "expired token must not reach the store")
}

func TestResolver_OpaqueTokenPassesThrough(t *testing.T) {
	// Tokens that are not JWT-shaped are left for the store to judge.
	tokens := &fakeTokens{token: "opaque-session-token", externalID: "uid"}
	lookup := &fakeLookup{user: ResolvedUser{ID: 7}}
	r := NewResolver(tokens, lookup)

	creds, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), creds.UserID)
}

func TestResolver_LookupFailure(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tokens := &fakeTokens{
		token:      unsignedToken(t, now.Add(time.Hour)),
		externalID: "uid",
	}
	lookup := &fakeLookup{err: errors.New("store down")}
	r := NewResolver(tokens, lookup, WithClock(func() time.Time { return now }))

	_, err := r.Resolve(context.Background())
	assert.ErrorIs(t, err, shared.ErrUserUnresolved)
}

func TestResolver_Invalidate(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tokens := &fakeTokens{
		token:      unsignedToken(t, now.Add(time.Hour)),
		externalID: "uid",
	}
	lookup := &fakeLookup{user: ResolvedUser{ID: 9}}
	r := NewResolver(tokens, lookup, WithClock(func() time.Time { return now }))

	_, err := r.Resolve(context.Background())
	require.NoError(t, err)

	r.Invalidate("uid")

	_, err = r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&lookup.calls))
}
