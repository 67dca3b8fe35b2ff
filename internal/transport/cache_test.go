package transport

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/couchcryptid/chlorophyll-emd/internal/domain"
	"github.com/couchcryptid/chlorophyll-emd/internal/observability"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- mock for cache tests ---

type countingOracle struct {
	calls atomic.Int64
	inner Oracle
	err   error
	gate  chan struct{}
}

func (m *countingOracle) Transport(ctx context.Context, a, b domain.Signature) (domain.Transport, error) {
	m.calls.Add(1)
	if m.gate != nil {
		<-m.gate
	}
	if m.err != nil {
		return domain.Transport{}, m.err
	}
	return m.inner.Transport(ctx, a, b)
}

// --- CachedOracle tests ---

func TestCachedOracle_Hit(t *testing.T) {
	inner := &countingOracle{inner: NewSolver()}
	metrics := observability.NewMetricsForTesting()
	cached := NewCachedOracle(inner, 10, metrics)

	a := grid("a", 2, 2, 1, 0, 0, 0)
	b := grid("b", 2, 2, 0, 0, 0, 1)

	r1, err := cached.Transport(context.Background(), a, b)
	require.NoError(t, err)
	r2, err := cached.Transport(context.Background(), a, b)
	require.NoError(t, err)

	assert.Equal(t, r1, r2)
	assert.Equal(t, int64(1), inner.calls.Load(), "should only call inner once")
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.OracleCache.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.OracleCache.WithLabelValues("miss")))
}

func TestCachedOracle_ReversedPairSharesEntry(t *testing.T) {
	inner := &countingOracle{inner: NewSolver()}
	cached := NewCachedOracle(inner, 10, nil)

	a := grid("a", 2, 2, 1, 0, 0, 0)
	b := grid("b", 2, 2, 0, 0, 0, 1)

	ab, err := cached.Transport(context.Background(), a, b)
	require.NoError(t, err)
	ba, err := cached.Transport(context.Background(), b, a)
	require.NoError(t, err)

	assert.Equal(t, int64(1), inner.calls.Load())
	assert.Equal(t, ab.Distance, ba.Distance)
	require.Len(t, ba.Plan, 1)
	assert.Equal(t, domain.Cell{Row: 1, Col: 1}, ba.Plan[0].From, "plan is oriented from the first argument")
	assert.Equal(t, domain.Cell{Row: 0, Col: 0}, ba.Plan[0].To)
}

func TestCachedOracle_KeyIgnoresLabels(t *testing.T) {
	inner := &countingOracle{inner: NewSolver()}
	cached := NewCachedOracle(inner, 10, nil)

	a := grid("jan", 2, 2, 1, 2, 3, 4)
	b := grid("feb", 2, 2, 4, 3, 2, 1)
	aCopy := grid("dec", 2, 2, 1, 2, 3, 4)

	_, err := cached.Transport(context.Background(), a, b)
	require.NoError(t, err)
	_, err = cached.Transport(context.Background(), aCopy, b)
	require.NoError(t, err)

	assert.Equal(t, int64(1), inner.calls.Load())
}

func TestCachedOracle_ErrorsNotCached(t *testing.T) {
	inner := &countingOracle{err: errors.New("solver exploded")}
	cached := NewCachedOracle(inner, 10, nil)

	a := grid("a", 1, 1, 1)
	_, err := cached.Transport(context.Background(), a, a)
	require.Error(t, err)
	_, err = cached.Transport(context.Background(), a, a)
	require.Error(t, err)

	assert.Equal(t, int64(2), inner.calls.Load())
	assert.Equal(t, 0, cached.cache.size())
}

func TestCachedOracle_ConcurrentCallsCollapse(t *testing.T) {
	inner := &countingOracle{inner: NewSolver(), gate: make(chan struct{})}
	cached := NewCachedOracle(inner, 10, nil)

	a := grid("a", 2, 2, 1, 0, 0, 0)
	b := grid("b", 2, 2, 0, 0, 0, 1)

	const callers = 8
	var wg sync.WaitGroup
	started := make(chan struct{}, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			started <- struct{}{}
			_, err := cached.Transport(context.Background(), a, b)
			assert.NoError(t, err)
		}()
	}
	for i := 0; i < callers; i++ {
		<-started
	}
	close(inner.gate)
	wg.Wait()

	assert.LessOrEqual(t, inner.calls.Load(), int64(callers))
	assert.GreaterOrEqual(t, inner.calls.Load(), int64(1))
}

func TestCachedOracle_ZeroSizeDisablesStorage(t *testing.T) {
	inner := &countingOracle{inner: NewSolver()}
	cached := NewCachedOracle(inner, 0, nil)

	a := grid("a", 1, 1, 1)
	for i := 0; i < 3; i++ {
		_, err := cached.Transport(context.Background(), a, a)
		require.NoError(t, err)
	}
	assert.Equal(t, int64(3), inner.calls.Load())
}

func TestLRUCache_Eviction(t *testing.T) {
	c := newLRUCache(2)
	c.put("a", domain.Transport{Distance: 1})
	c.put("b", domain.Transport{Distance: 2})

	// Touch "a" so "b" becomes least recently used.
	_, ok := c.get("a")
	require.True(t, ok)

	c.put("c", domain.Transport{Distance: 3})

	_, ok = c.get("b")
	assert.False(t, ok, "b should be evicted")
	v, ok := c.get("a")
	assert.True(t, ok)
	assert.Equal(t, 1.0, v.Distance)
	assert.Equal(t, 2, c.size())
}
