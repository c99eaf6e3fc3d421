package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.pilab.hu/idfed/cache"
	"go.pilab.hu/idfed/domain"
)

func testSession(state string) *domain.PKCESession {
	now := time.Now().UTC()
	return &domain.PKCESession{
		AuthGroup:     "grp1",
		State:         state,
		CodeChallenge: "challenge",
		CodeVerifier:  "verifier",
		CreatedAt:     now,
		ExpiresAt:     now.Add(10 * time.Minute),
	}
}

func TestMemoryPKCEStore_SaveConsume(t *testing.T) {
	store := cache.NewMemoryPKCEStore(10 * time.Minute)
	defer store.Stop()

	require.NoError(t, store.Save(context.Background(), testSession("int1|aa")))

	session, err := store.Consume(context.Background(), "grp1", "int1|aa")
	require.NoError(t, err)
	assert.Equal(t, "verifier", session.CodeVerifier)
}

func TestMemoryPKCEStore_ConsumeIsSingleUse(t *testing.T) {
	store := cache.NewMemoryPKCEStore(10 * time.Minute)
	defer store.Stop()

	require.NoError(t, store.Save(context.Background(), testSession("int1|aa")))

	_, err := store.Consume(context.Background(), "grp1", "int1|aa")
	require.NoError(t, err)

	_, err = store.Consume(context.Background(), "grp1", "int1|aa")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMemoryPKCEStore_ScopedByAuthGroup(t *testing.T) {
	store := cache.NewMemoryPKCEStore(10 * time.Minute)
	defer store.Stop()

	require.NoError(t, store.Save(context.Background(), testSession("int1|aa")))

	_, err := store.Consume(context.Background(), "other-group", "int1|aa")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMemoryPKCEStore_Expiry(t *testing.T) {
	store := cache.NewMemoryPKCEStore(10 * time.Minute)
	defer store.Stop()

	session := testSession("int1|aa")
	session.ExpiresAt = time.Now().UTC().Add(20 * time.Millisecond)
	require.NoError(t, store.Save(context.Background(), session))

	time.Sleep(50 * time.Millisecond)
	_, err := store.Consume(context.Background(), "grp1", "int1|aa")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMemoryPKCEStore_Missing(t *testing.T) {
	store := cache.NewMemoryPKCEStore(10 * time.Minute)
	defer store.Stop()

	_, err := store.Consume(context.Background(), "grp1", "never-saved")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
