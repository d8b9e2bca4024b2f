package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client, time.Hour), mr
}

func TestRedisBegin_FirstSightClaimsKey(t *testing.T) {
	s, _ := setupRedisStore(t)

	res, err := s.Begin(context.Background(), testScope, "key-1", "fp-1")
	require.NoError(t, err)
	assert.Equal(t, StateNew, res.State)
}

func TestRedisBegin_ReplayReturnsStoredResponse(t *testing.T) {
	s, _ := setupRedisStore(t)
	ctx := context.Background()

	_, err := s.Begin(ctx, testScope, "key-1", "fp-1")
	require.NoError(t, err)
	require.NoError(t, s.Complete(ctx, testScope, "key-1", 201, []byte(`{"id":"cs_1"}`)))

	res, err := s.Begin(ctx, testScope, "key-1", "fp-1")
	require.NoError(t, err)
	assert.Equal(t, StateReplay, res.State)
	assert.Equal(t, 201, res.StoredStatus)
	assert.JSONEq(t, `{"id":"cs_1"}`, string(res.StoredBody))
}

func TestRedisBegin_DifferentFingerprintConflicts(t *testing.T) {
	s, _ := setupRedisStore(t)
	ctx := context.Background()

	_, err := s.Begin(ctx, testScope, "key-1", "fp-1")
	require.NoError(t, err)

	res, err := s.Begin(ctx, testScope, "key-1", "fp-2")
	require.NoError(t, err)
	assert.Equal(t, StateConflict, res.State)
}

func TestRedisBegin_UnfinishedClaimIsInProgress(t *testing.T) {
	s, _ := setupRedisStore(t)
	ctx := context.Background()

	_, err := s.Begin(ctx, testScope, "key-1", "fp-1")
	require.NoError(t, err)

	res, err := s.Begin(ctx, testScope, "key-1", "fp-1")
	require.NoError(t, err)
	assert.Equal(t, StateInProgress, res.State)
}

func TestRedisBegin_ExpiredRecordIsReclaimable(t *testing.T) {
	s, mr := setupRedisStore(t)
	ctx := context.Background()

	_, err := s.Begin(ctx, testScope, "key-1", "fp-1")
	require.NoError(t, err)
	require.NoError(t, s.Complete(ctx, testScope, "key-1", 200, []byte(`{}`)))

	mr.FastForward(2 * time.Hour)

	res, err := s.Begin(ctx, testScope, "key-1", "fp-1")
	require.NoError(t, err)
	assert.Equal(t, StateNew, res.State)
}

func TestRedisComplete_PreservesClaimTTL(t *testing.T) {
	s, mr := setupRedisStore(t)
	ctx := context.Background()

	_, err := s.Begin(ctx, testScope, "key-1", "fp-1")
	require.NoError(t, err)
	require.NoError(t, s.Complete(ctx, testScope, "key-1", 200, []byte(`{}`)))

	ttl := mr.TTL(redisKey(testScope, "key-1"))
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, time.Hour)
}

func TestRedisAbandon_ReleasesUnfinishedClaim(t *testing.T) {
	s, _ := setupRedisStore(t)
	ctx := context.Background()

	_, err := s.Begin(ctx, testScope, "key-1", "fp-1")
	require.NoError(t, err)
	require.NoError(t, s.Abandon(ctx, testScope, "key-1"))

	res, err := s.Begin(ctx, testScope, "key-1", "fp-1")
	require.NoError(t, err)
	assert.Equal(t, StateNew, res.State)
}

func TestRedisAbandon_DoesNotDropCompletedRecord(t *testing.T) {
	s, _ := setupRedisStore(t)
	ctx := context.Background()

	_, err := s.Begin(ctx, testScope, "key-1", "fp-1")
	require.NoError(t, err)
	require.NoError(t, s.Complete(ctx, testScope, "key-1", 200, []byte(`{}`)))
	require.NoError(t, s.Abandon(ctx, testScope, "key-1"))

	res, err := s.Begin(ctx, testScope, "key-1", "fp-1")
	require.NoError(t, err)
	assert.Equal(t, StateReplay, res.State)
}
