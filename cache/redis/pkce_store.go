// Package redis backs the broker's ephemeral stores with Redis so multiple
// broker instances can share correlation state.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"go.pilab.hu/idfed/domain"
)

const pkceKeyPrefix = "idfed:pkce:"

// PKCEStore persists PKCE sessions as JSON values with a Redis TTL.
// Consumption is a single GETDEL so concurrent callbacks cannot both win.
type PKCEStore struct {
	rdb *redis.Client
}

func NewPKCEStore(rdb *redis.Client) *PKCEStore {
	return &PKCEStore{rdb: rdb}
}

func (s *PKCEStore) Save(ctx context.Context, session *domain.PKCESession) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal pkce session: %w", err)
	}
	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("pkce session already expired")
	}
	key := pkceKey(session.AuthGroup, session.State)
	if err := s.rdb.Set(ctx, key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store pkce session: %w", err)
	}
	return nil
}

func (s *PKCEStore) Consume(ctx context.Context, authGroup, state string) (*domain.PKCESession, error) {
	payload, err := s.rdb.GetDel(ctx, pkceKey(authGroup, state)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to consume pkce session: %w", err)
	}
	var session domain.PKCESession
	if err := json.Unmarshal(payload, &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal pkce session: %w", err)
	}
	return &session, nil
}

func pkceKey(authGroup, state string) string {
	return pkceKeyPrefix + authGroup + ":" + state
}

var _ domain.PKCESessionStore = (*PKCEStore)(nil)
