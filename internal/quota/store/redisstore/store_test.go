package redisstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/takezou621/sedori-platform-sub003/internal/quota/core"
	"github.com/takezou621/sedori-platform-sub003/internal/quota/store/redisstore"
)

func newTestStore(t *testing.T) (*redisstore.Store, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	store, err := redisstore.New(redisstore.Options{Addr: server.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, server
}

func TestNew_RequiresAddr(t *testing.T) {
	t.Parallel()

	_, err := redisstore.New(redisstore.Options{})
	assert.Error(t, err)
}

func TestStore_WindowBatch(t *testing.T) {
	t.Parallel()

	store, server := newTestStore(t)
	ctx := context.Background()

	batch := store.Batch()
	batch.SetAdd("w", 1000, "1000-a")
	batch.SetAdd("w", 2000, "2000-b")
	batch.SetAdd("w", 3000, "3000-c")
	batch.SetPruneBelow("w", 2000)
	batch.SetCard("w")
	batch.Expire("w", 60*time.Second)
	results, err := batch.Exec(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 1, 1, 1, 2, 1}, results)

	members, err := server.ZMembers("w")
	require.NoError(t, err)
	assert.Equal(t, []string{"2000-b", "3000-c"}, members)
	assert.Equal(t, 60*time.Second, server.TTL("w"))

	count, err := store.CountSince(ctx, "w", 2500)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	server.FastForward(61 * time.Second)
	assert.False(t, server.Exists("w"))
}

func TestStore_HashIncrAndGetAll(t *testing.T) {
	t.Parallel()

	store, server := newTestStore(t)
	ctx := context.Background()

	for _, field := range []string{"success", "error", "success"} {
		batch := store.Batch()
		batch.HashIncr("h", "total", 1)
		batch.HashIncr("h", field, 1)
		batch.Expire("h", 7*24*time.Hour)
		_, err := batch.Exec(ctx)
		require.NoError(t, err)
	}

	values, err := store.HashGetAll(ctx, "h")
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"total": 3, "success": 2, "error": 1}, values)
	assert.Equal(t, 7*24*time.Hour, server.TTL("h"))

	missing, err := store.HashGetAll(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestStore_HashGetAllRejectsNonNumericFields(t *testing.T) {
	t.Parallel()

	store, server := newTestStore(t)
	server.HSet("h", "total", "many")

	_, err := store.HashGetAll(context.Background(), "h")
	assert.Error(t, err)
}

func TestStore_Delete(t *testing.T) {
	t.Parallel()

	store, server := newTestStore(t)
	ctx := context.Background()
	_, err := server.ZAdd("a", 1, "x")
	require.NoError(t, err)
	server.HSet("b", "total", "1")

	require.NoError(t, store.Delete(ctx, "a", "b"))
	assert.False(t, server.Exists("a"))
	assert.False(t, server.Exists("b"))
	assert.NoError(t, store.Delete(ctx))
}

func TestStore_PingFailsWhenServerDown(t *testing.T) {
	t.Parallel()

	store, server := newTestStore(t)
	require.NoError(t, store.Ping(context.Background()))

	server.Close()
	assert.Error(t, store.Ping(context.Background()))
	batch := store.Batch()
	batch.SetCard("w")
	_, err := batch.Exec(context.Background())
	assert.Error(t, err)
}

func TestStore_DrivesWindowCounter(t *testing.T) {
	t.Parallel()

	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := redisstore.NewWithClient(client)

	now := time.UnixMilli(1_700_000_080_000)
	counter := core.NewWindowCounter(store, core.NewKeyBuilder("test"), func() time.Time { return now })
	key := core.WindowKey{Dependency: "keepa", Identifier: "seller-1"}

	for i := 0; i < 3; i++ {
		decision, err := counter.Check(context.Background(), key, time.Minute, 3)
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
		assert.EqualValues(t, 2-i, decision.Remaining)
	}
	decision, err := counter.Check(context.Background(), key, time.Minute, 3)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, 20*time.Second, decision.RetryAfter)
	assert.True(t, server.Exists("test:keepa:seller-1"))
}
