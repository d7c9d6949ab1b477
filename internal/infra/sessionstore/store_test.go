package sessionstore_test

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boddenberg/receptionist-core/internal/domain"
	"github.com/boddenberg/receptionist-core/internal/infra/sessionstore"
	"github.com/boddenberg/receptionist-core/internal/port"
)

// runStoreContract exercises behaviour every SessionStore must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) port.SessionStore) {
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	t.Run("get unknown is not found", func(t *testing.T) {
		store := newStore(t)
		_, err := store.Get(ctx, "missing")
		var nf *domain.ErrNotFound
		assert.ErrorAs(t, err, &nf)
	})

	t.Run("create is idempotent", func(t *testing.T) {
		store := newStore(t)
		first, created, err := store.Create(ctx, domain.NewSession("c1", 1, now))
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, int64(1), first.Version)

		second, created, err := store.Create(ctx, domain.NewSession("c1", 2, now))
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, 1, second.AssignedPoolIndex)
	})

	t.Run("update bumps version and rejects stale writes", func(t *testing.T) {
		store := newStore(t)
		s, _, err := store.Create(ctx, domain.NewSession("c2", 0, now))
		require.NoError(t, err)

		stale := s.Clone()
		s.Instructions = "hello"
		updated, err := store.Update(ctx, s)
		require.NoError(t, err)
		assert.Equal(t, int64(2), updated.Version)

		stale.Instructions = "lost"
		_, err = store.Update(ctx, stale)
		var vc *domain.ErrVersionConflict
		require.ErrorAs(t, err, &vc)

		got, err := store.Get(ctx, "c2")
		require.NoError(t, err)
		assert.Equal(t, "hello", got.Instructions)
	})

	t.Run("update unknown is not found", func(t *testing.T) {
		store := newStore(t)
		_, err := store.Update(ctx, domain.NewSession("ghost", 0, now))
		var nf *domain.ErrNotFound
		assert.ErrorAs(t, err, &nf)
	})

	t.Run("concurrent create yields one session", func(t *testing.T) {
		store := newStore(t)
		var createdCount atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, created, err := store.Create(ctx, domain.NewSession("c3", i, now))
				assert.NoError(t, err)
				if created {
					createdCount.Add(1)
				}
			}(i)
		}
		wg.Wait()
		assert.Equal(t, int32(1), createdCount.Load())
	})

	t.Run("lock excludes a second holder until released", func(t *testing.T) {
		store := newStore(t)
		release, err := store.Lock(ctx, "k", time.Second)
		require.NoError(t, err)

		waitCtx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
		defer cancel()
		_, err = store.Lock(waitCtx, "k", time.Second)
		assert.ErrorIs(t, err, context.DeadlineExceeded)

		release()
		release2, err := store.Lock(ctx, "k", time.Second)
		require.NoError(t, err)
		release2()
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreContract(t, func(*testing.T) port.SessionStore {
		return sessionstore.NewMemory(time.Hour)
	})
}

func TestMemoryStore_ExpireEvicts(t *testing.T) {
	ctx := context.Background()
	clock := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	store := sessionstore.NewMemory(time.Hour).WithClock(func() time.Time { return clock })

	_, _, err := store.Create(ctx, domain.NewSession("c1", 0, clock))
	require.NoError(t, err)
	require.NoError(t, store.Expire(ctx, "c1", time.Minute))

	clock = clock.Add(30 * time.Second)
	_, err = store.Get(ctx, "c1")
	require.NoError(t, err)

	clock = clock.Add(time.Minute)
	_, err = store.Get(ctx, "c1")
	var nf *domain.ErrNotFound
	assert.ErrorAs(t, err, &nf)
}

func TestMemoryStore_LockLapses(t *testing.T) {
	ctx := context.Background()
	store := sessionstore.NewMemory(time.Hour)

	_, err := store.Lock(ctx, "k", 10*time.Millisecond)
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	release, err := store.Lock(waitCtx, "k", time.Second)
	require.NoError(t, err)
	release()
}

func TestRedisStore(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	rdb := redis.NewClient(opts)
	t.Cleanup(func() { rdb.Close() })

	runStoreContract(t, func(t *testing.T) port.SessionStore {
		require.NoError(t, rdb.FlushDB(context.Background()).Err())
		return sessionstore.NewRedis(rdb, time.Hour)
	})
}
