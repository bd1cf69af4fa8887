package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aretw0/tether/pkg/adapters/redis"
	"github.com/aretw0/tether/pkg/domain"
	"github.com/aretw0/tether/pkg/ports"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T) (*miniredis.Miniredis, *backend.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisStore_Contract(t *testing.T) {
	_, client := newClient(t)
	ports.RunSnapshotStoreContract(t, redis.NewFromClient(client))
}

func TestRedisStore_KeyLayout(t *testing.T) {
	mr, client := newClient(t)
	store := redis.NewFromClient(client, redis.WithPrefix("app:"))
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "wind", &domain.Snapshot{Key: "wind", Object: "wind", Values: map[string]any{"speed": 8.6}}))
	assert.True(t, mr.Exists("app:wind"))
	members, err := mr.ZMembers("app:index")
	require.NoError(t, err)
	assert.Equal(t, []string{"wind"}, members)

	require.NoError(t, store.Ping(ctx))
	require.NoError(t, store.Delete(ctx, "wind"))
	assert.False(t, mr.Exists("app:wind"))
}

func TestRedisStore_TTL_Expiration(t *testing.T) {
	mr, client := newClient(t)
	store := redis.NewFromClient(client, redis.WithTTL(1*time.Second))
	ctx := context.Background()
	key := "snapshot-ttl"

	require.NoError(t, store.Save(ctx, key, &domain.Snapshot{Key: key, Values: map[string]any{"foo": "bar"}}))

	keys, err := store.List(ctx)
	require.NoError(t, err)
	assert.Contains(t, keys, key)

	// Key expiry in miniredis follows its own clock.
	mr.FastForward(2 * time.Second)
	_, err = store.Load(ctx, key)
	assert.ErrorIs(t, err, domain.ErrSnapshotNotFound)

	// Index pruning compares against wall-clock time.
	time.Sleep(1200 * time.Millisecond)
	keys, err = store.List(ctx)
	require.NoError(t, err)
	assert.NotContains(t, keys, key)
}

func TestNewFromURL(t *testing.T) {
	mr := miniredis.RunT(t)
	store, err := redis.NewFromURL("redis://" + mr.Addr() + "/0")
	require.NoError(t, err)
	defer store.Close()
	assert.NoError(t, store.Ping(context.Background()))

	_, err = redis.NewFromURL("http://nope")
	assert.Error(t, err)
}
