package embed

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type countingEmbedder struct {
	calls atomic.Int64
	fail  atomic.Bool
	delay time.Duration
}

func (c *countingEmbedder) ModelID() string { return "test-model" }

func (c *countingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	c.calls.Add(1)
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	if c.fail.Load() {
		return nil, errors.New("provider unavailable")
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1, 0}
	}
	return out, nil
}

type mapStore struct {
	mu   sync.Mutex
	data map[string][]float32
}

func newMapStore() *mapStore { return &mapStore{data: map[string][]float32{}} }

func (s *mapStore) Get(_ context.Context, modelID, hash string) ([]float32, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[modelID+":"+hash]
	return v, ok, nil
}

func (s *mapStore) Put(_ context.Context, modelID, hash string, vec []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[modelID+":"+hash] = vec
	return nil
}

func TestCacheHitSkipsProvider(t *testing.T) {
	upstream := &countingEmbedder{}
	cache := NewCache(upstream, 16, time.Minute, nil, nil)

	first, err := cache.EmbedOne(context.Background(), "attention is all you need")
	require.NoError(t, err)
	second, err := cache.EmbedOne(context.Background(), "attention is all you need")
	require.NoError(t, err)

	require.Equal(t, first, second)
	require.EqualValues(t, 1, upstream.calls.Load())
}

func TestConcurrentSameKeyCollapsesToOneCall(t *testing.T) {
	upstream := &countingEmbedder{delay: 20 * time.Millisecond}
	cache := NewCache(upstream, 16, time.Minute, nil, nil)

	const n = 32
	var wg sync.WaitGroup
	results := make([][]float32, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = cache.EmbedOne(context.Background(), "same chunk text")
		}(i)
	}
	wg.Wait()

	require.EqualValues(t, 1, upstream.calls.Load())
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, results[0], results[i])
	}
}

func TestDistinctKeysEmbedSeparately(t *testing.T) {
	upstream := &countingEmbedder{}
	cache := NewCache(upstream, 16, time.Minute, nil, nil)

	_, err := cache.EmbedOne(context.Background(), "first chunk")
	require.NoError(t, err)
	_, err = cache.EmbedOne(context.Background(), "second chunk")
	require.NoError(t, err)
	require.EqualValues(t, 2, upstream.calls.Load())
}

func TestFailedCallDoesNotPoisonCache(t *testing.T) {
	upstream := &countingEmbedder{}
	upstream.fail.Store(true)
	cache := NewCache(upstream, 16, time.Minute, nil, nil)

	_, err := cache.EmbedOne(context.Background(), "flaky chunk")
	require.Error(t, err)

	upstream.fail.Store(false)
	vec, err := cache.EmbedOne(context.Background(), "flaky chunk")
	require.NoError(t, err)
	require.NotEmpty(t, vec)
	require.EqualValues(t, 2, upstream.calls.Load())
}

func TestPersistentTierServesFreshProcess(t *testing.T) {
	store := newMapStore()
	first := &countingEmbedder{}
	warm := NewCache(first, 16, time.Minute, store, nil)
	_, err := warm.EmbedOne(context.Background(), "durable chunk")
	require.NoError(t, err)
	require.EqualValues(t, 1, first.calls.Load())

	// A new cache over the same store must not call the provider again.
	second := &countingEmbedder{}
	cold := NewCache(second, 16, time.Minute, store, nil)
	vec, err := cold.EmbedOne(context.Background(), "durable chunk")
	require.NoError(t, err)
	require.NotEmpty(t, vec)
	require.EqualValues(t, 0, second.calls.Load())
}

func TestBatchPreservesOrderAndDedupes(t *testing.T) {
	upstream := &countingEmbedder{}
	cache := NewCache(upstream, 16, time.Minute, nil, nil)

	out, err := cache.Embed(context.Background(), []string{"alpha", "beta gamma", "alpha"})
	require.NoError(t, err)
	require.Len(t, out, 3)
	require.Equal(t, out[0], out[2])
	require.Equal(t, float32(5), out[0][0])
	require.Equal(t, float32(10), out[1][0])
	require.EqualValues(t, 2, upstream.calls.Load())
}
