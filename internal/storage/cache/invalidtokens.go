package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tinywideclouds/go-push-session/pkg/push"
)

// ErrMiss is returned by a CacheClient when the key does not exist.
var ErrMiss = errors.New("cache: key not found")

// CacheClient defines the subset of Redis commands we need.
type CacheClient interface {
	// Get returns ErrMiss when the key is absent.
	Get(ctx context.Context, key string, dest any) error
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// invalidEntry is what we remember about a rejected token.
type invalidEntry struct {
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

// InvalidTokenStore remembers device tokens the gateway rejected
// permanently, so later batches can skip them until the entry expires.
type InvalidTokenStore struct {
	cache CacheClient
	ttl   time.Duration
	now   func() time.Time
}

// NewInvalidTokenStore creates the store. Entries live for ttl.
func NewInvalidTokenStore(cache CacheClient, ttl time.Duration) *InvalidTokenStore {
	return &InvalidTokenStore{
		cache: cache,
		ttl:   ttl,
		now:   time.Now,
	}
}

// MarkInvalid records token with the reason the gateway gave.
func (s *InvalidTokenStore) MarkInvalid(ctx context.Context, token push.Token, reason push.FatalReason) error {
	entry := invalidEntry{Reason: reason.String(), At: s.now().UTC()}
	if err := s.cache.Set(ctx, s.cacheKey(token), entry, s.ttl); err != nil {
		return fmt.Errorf("failed to mark token invalid: %w", err)
	}
	return nil
}

// IsInvalid reports whether token has an unexpired entry.
func (s *InvalidTokenStore) IsInvalid(ctx context.Context, token push.Token) (bool, error) {
	var entry invalidEntry
	err := s.cache.Get(ctx, s.cacheKey(token), &entry)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrMiss):
		return false, nil
	default:
		return false, fmt.Errorf("failed to look up token: %w", err)
	}
}

// Forget removes the entry, e.g. when a device re-registers the token.
func (s *InvalidTokenStore) Forget(ctx context.Context, token push.Token) error {
	return s.cache.Del(ctx, s.cacheKey(token))
}

func (s *InvalidTokenStore) cacheKey(token push.Token) string {
	if canonical, err := token.Normalize(); err == nil {
		token = canonical
	}
	return fmt.Sprintf("push:invalid:%s", token)
}
