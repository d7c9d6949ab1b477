package pool_test

import (
	"context"
	"errors"
	"os"
	"sort"
	"sync"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/boddenberg/receptionist-core/internal/domain"
	"github.com/boddenberg/receptionist-core/internal/infra/observability"
	"github.com/boddenberg/receptionist-core/internal/infra/pool"
)

type failingCounter struct{}

func (failingCounter) Next(context.Context) (uint64, error) {
	return 0, errors.New("connection refused")
}

func TestAssign_RoundRobin(t *testing.T) {
	p, err := pool.New([]string{"k0", "k1", "k2"}, nil, zap.NewNop())
	require.NoError(t, err)

	var got []int
	for i := 0; i < 4; i++ {
		got = append(got, p.Assign(context.Background()))
	}
	assert.Equal(t, []int{0, 1, 2, 0}, got)
}

func TestAssign_ConcurrentRunIsPermutation(t *testing.T) {
	const size = 8
	creds := make([]string, size)
	for i := range creds {
		creds[i] = "key-" + string(rune('a'+i))
	}
	p, err := pool.New(creds, nil, zap.NewNop())
	require.NoError(t, err)

	var (
		mu  sync.Mutex
		got []int
		wg  sync.WaitGroup
	)
	for i := 0; i < size; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			idx := p.Assign(context.Background())
			mu.Lock()
			got = append(got, idx)
			mu.Unlock()
		}()
	}
	wg.Wait()

	sort.Ints(got)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7}, got)
}

func TestNew_NormalizesCredentials(t *testing.T) {
	p, err := pool.New([]string{" k0 ", "", "k1", "k0"}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, p.Size())
	assert.Equal(t, "k0", p.CredentialFor(0))
	assert.Equal(t, "k1", p.CredentialFor(1))
}

func TestNew_Empty(t *testing.T) {
	_, err := pool.New([]string{" ", ""}, nil, nil)
	assert.ErrorIs(t, err, pool.ErrEmpty)
}

func TestCredentialFor_OutOfRangePanics(t *testing.T) {
	p, err := pool.New([]string{"k0"}, nil, nil)
	require.NoError(t, err)

	defer func() {
		r := recover()
		require.NotNil(t, r)
		perr, ok := r.(*domain.ErrPoolIndex)
		require.True(t, ok)
		assert.Equal(t, 1, perr.Index)
		assert.Equal(t, 1, perr.Size)
	}()
	p.CredentialFor(1)
}

func TestAssign_FallsBackWhenCounterFails(t *testing.T) {
	p, err := pool.New([]string{"k0", "k1"}, failingCounter{}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 0, p.Assign(context.Background()))
	assert.Equal(t, 1, p.Assign(context.Background()))
}

func TestAssign_FallbackIsCounted(t *testing.T) {
	m := observability.NewMetrics()
	p, err := pool.New([]string{"k0", "k1"}, failingCounter{}, zap.NewNop())
	require.NoError(t, err)
	p.WithMetrics(m)

	for i := 0; i < 3; i++ {
		p.Assign(context.Background())
	}
	assert.Equal(t, int64(3), m.ExternalErrors(pool.CounterService))
	assert.Zero(t, m.ExternalErrors("realtime"))
}

func TestAssign_HealthyCounterIsNotCounted(t *testing.T) {
	m := observability.NewMetrics()
	p, err := pool.New([]string{"k0", "k1"}, nil, zap.NewNop())
	require.NoError(t, err)
	p.WithMetrics(m)

	p.Assign(context.Background())
	assert.Zero(t, m.ExternalErrors(pool.CounterService))
}

func TestRedisCounter(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	rdb := redis.NewClient(opts)
	defer rdb.Close()

	ctx := context.Background()
	key := "test:pool:" + t.Name()
	require.NoError(t, rdb.Del(ctx, key).Err())

	c := pool.NewRedisCounter(rdb, key)
	p, err := pool.New([]string{"k0", "k1", "k2"}, c, zap.NewNop())
	require.NoError(t, err)

	var got []int
	for i := 0; i < 4; i++ {
		got = append(got, p.Assign(ctx))
	}
	assert.Equal(t, []int{0, 1, 2, 0}, got)
}
