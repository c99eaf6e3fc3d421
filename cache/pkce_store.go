// Package cache provides in-memory TTL implementations of the broker's
// ephemeral stores, suitable for single-instance deployments and tests.
package cache

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"go.pilab.hu/idfed/domain"
)

// MemoryPKCEStore keeps PKCE sessions in a TTL cache keyed by
// (auth group, state). Entries disappear on consumption or expiry.
type MemoryPKCEStore struct {
	cache *ttlcache.Cache[string, *domain.PKCESession]
}

func NewMemoryPKCEStore(ttl time.Duration) *MemoryPKCEStore {
	cache := ttlcache.New(
		ttlcache.WithTTL[string, *domain.PKCESession](ttl),
		ttlcache.WithDisableTouchOnHit[string, *domain.PKCESession](),
	)
	go cache.Start()
	return &MemoryPKCEStore{cache: cache}
}

// Stop releases the cache's cleanup goroutine.
func (s *MemoryPKCEStore) Stop() {
	s.cache.Stop()
}

func (s *MemoryPKCEStore) Save(_ context.Context, session *domain.PKCESession) error {
	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		ttl = ttlcache.DefaultTTL
	}
	s.cache.Set(sessionKey(session.AuthGroup, session.State), session, ttl)
	return nil
}

func (s *MemoryPKCEStore) Consume(_ context.Context, authGroup, state string) (*domain.PKCESession, error) {
	key := sessionKey(authGroup, state)
	item := s.cache.Get(key)
	if item == nil || item.Value() == nil {
		return nil, domain.ErrNotFound
	}
	s.cache.Delete(key)
	return item.Value(), nil
}

func sessionKey(authGroup, state string) string {
	return authGroup + "/" + state
}

var _ domain.PKCESessionStore = (*MemoryPKCEStore)(nil)
