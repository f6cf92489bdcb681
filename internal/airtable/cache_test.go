package airtable

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parlance-app/backend/internal/infrastructure/monitoring"
)

type countingLister struct {
	calls atomic.Int32
	delay time.Duration
}

func (l *countingLister) List(_ context.Context, table string, _ ListOptions) ([]Record, error) {
	l.calls.Add(1)
	time.Sleep(l.delay)
	return []Record{{ID: "rec1", Fields: Fields{"Table": table, "Score": 0.75}}}, nil
}

// gatedLister reads its value when a call starts, then blocks until gate
// is closed.
type gatedLister struct {
	calls   atomic.Int32
	started chan struct{}
	gate    chan struct{}
	value   atomic.Value
}

func newGatedLister(value string) *gatedLister {
	l := &gatedLister{started: make(chan struct{}, 8), gate: make(chan struct{})}
	l.value.Store(value)
	return l
}

func (l *gatedLister) List(ctx context.Context, _ string, _ ListOptions) ([]Record, error) {
	l.calls.Add(1)
	value := l.value.Load().(string)
	select {
	case l.started <- struct{}{}:
	default:
	}
	select {
	case <-l.gate:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return []Record{{ID: "rec1", Fields: Fields{"Value": value}}}, nil
}

func (l *gatedLister) waitStarted(t *testing.T) {
	t.Helper()
	select {
	case <-l.started:
	case <-time.After(2 * time.Second):
		t.Fatal("fetch did not start")
	}
}

func TestCacheKey(t *testing.T) {
	a := CacheKey("Sessions", ListOptions{Fields: []string{"b", "a"}})
	b := CacheKey("Sessions", ListOptions{Fields: []string{"a", "b"}, PageSize: 100})
	c := CacheKey("Sessions", ListOptions{View: "Grid"})
	d := CacheKey("Users", ListOptions{Fields: []string{"a", "b"}})

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, a, d)
	assert.Equal(t, "Sessions", tableOf(a))
	assert.Len(t, a, len("Sessions:")+64)
}

func TestCachedServesFromMemory(t *testing.T) {
	source := &countingLister{}
	metrics := monitoring.NewMetrics("cache_test")
	cached := NewCached(source, NewMemoryStore(16, time.Minute), metrics, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		records, err := cached.List(ctx, "Sessions", ListOptions{})
		require.NoError(t, err)
		require.Len(t, records, 1)
	}

	assert.Equal(t, int32(1), source.calls.Load())
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.CacheHits.WithLabelValues("Sessions")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.CacheMisses.WithLabelValues("Sessions")))
}

func TestCachedCoalescesConcurrentMisses(t *testing.T) {
	source := &countingLister{delay: 20 * time.Millisecond}
	cached := NewCached(source, NewMemoryStore(16, time.Minute), nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := cached.List(context.Background(), "Sessions", ListOptions{})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), source.calls.Load())
}

func TestMemoryStoreExpiresAndInvalidates(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(16, 30*time.Millisecond)

	k1 := CacheKey("Sessions", ListOptions{})
	k2 := CacheKey("Sessions", ListOptions{View: "Done"})
	k3 := CacheKey("Users", ListOptions{})
	for _, k := range []string{k1, k2, k3} {
		require.NoError(t, store.Set(ctx, tableOf(k), k, []Record{{ID: k}}))
	}

	require.NoError(t, store.InvalidateTable(ctx, "Sessions"))
	_, ok, _ := store.Get(ctx, k1)
	assert.False(t, ok)
	_, ok, _ = store.Get(ctx, k2)
	assert.False(t, ok)
	_, ok, _ = store.Get(ctx, k3)
	assert.True(t, ok)

	time.Sleep(60 * time.Millisecond)
	_, ok, _ = store.Get(ctx, k3)
	assert.False(t, ok)
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	store := NewRedisStore(client, "test:", time.Minute)

	key := CacheKey("Sessions", ListOptions{})
	want := []Record{{ID: "rec1", CreatedTime: "2024-05-01T10:00:00.000Z", Fields: Fields{"Status": "done", "Score": 0.5}}}

	_, ok, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Set(ctx, "Sessions", key, want))
	got, ok, err := store.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want, got)
	assert.True(t, mr.Exists("test:index:Sessions"))

	mr.FastForward(2 * time.Minute)
	_, ok, err = store.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Set(ctx, "Sessions", key, want))
	require.NoError(t, store.InvalidateTable(ctx, "Sessions"))
	_, ok, err = store.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, mr.Exists("test:index:Sessions"))
}

func TestTieredBackfillsNearTier(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	near := NewMemoryStore(16, time.Minute)
	far := NewRedisStore(client, "", time.Minute)
	tiers := Tiered{near, far}

	key := CacheKey("Sessions", ListOptions{})
	require.NoError(t, far.Set(ctx, "Sessions", key, []Record{{ID: "shared"}}))

	got, ok, err := tiers.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "shared", got[0].ID)
	assert.Equal(t, 1, near.Len())

	require.NoError(t, tiers.InvalidateTable(ctx, "Sessions"))
	_, ok, _ = tiers.Get(ctx, key)
	assert.False(t, ok)
}

func TestCachedInvalidate(t *testing.T) {
	source := &countingLister{}
	cached := NewCached(source, NewMemoryStore(16, time.Minute), nil, nil)
	ctx := context.Background()

	_, err := cached.List(ctx, "Sessions", ListOptions{})
	require.NoError(t, err)
	require.NoError(t, cached.Invalidate(ctx, "Sessions"))
	_, err = cached.List(ctx, "Sessions", ListOptions{})
	require.NoError(t, err)

	assert.Equal(t, int32(2), source.calls.Load())
}

func TestCachedSharedFetchSurvivesCallerCancellation(t *testing.T) {
	source := newGatedLister("live")
	cached := NewCached(source, NewMemoryStore(16, time.Minute), nil, nil)

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := cached.List(leaderCtx, "Sessions", ListOptions{})
		leaderErr <- err
	}()
	source.waitStarted(t)

	type result struct {
		records []Record
		err     error
	}
	follower := make(chan result, 1)
	go func() {
		records, err := cached.List(context.Background(), "Sessions", ListOptions{})
		follower <- result{records, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelLeader()
	select {
	case err := <-leaderErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled caller did not return")
	}

	close(source.gate)
	select {
	case res := <-follower:
		require.NoError(t, res.err)
		require.Len(t, res.records, 1)
		assert.Equal(t, "live", res.records[0].Fields["Value"])
	case <-time.After(2 * time.Second):
		t.Fatal("live caller did not return")
	}

	records, err := cached.List(context.Background(), "Sessions", ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, "live", records[0].Fields["Value"])
}

func TestCachedInvalidateDiscardsInFlightFetch(t *testing.T) {
	source := newGatedLister("stale")
	cached := NewCached(source, NewMemoryStore(16, time.Minute), nil, nil)
	ctx := context.Background()

	first := make(chan error, 1)
	go func() {
		_, err := cached.List(ctx, "Sessions", ListOptions{})
		first <- err
	}()
	source.waitStarted(t)

	require.NoError(t, cached.Invalidate(ctx, "Sessions"))
	source.value.Store("fresh")
	close(source.gate)
	require.NoError(t, <-first)

	records, err := cached.List(ctx, "Sessions", ListOptions{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "fresh", records[0].Fields["Value"])
	assert.Equal(t, int32(2), source.calls.Load())

	records, err = cached.List(ctx, "Sessions", ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, "fresh", records[0].Fields["Value"])
	assert.Equal(t, int32(2), source.calls.Load())
}
