package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bgde/vocab-platform/internal/search/engine"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
	err  error
}

func newMemStore() *memStore { return &memStore{data: make(map[string][]byte)} }

func (s *memStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	v, ok := s.data[key]
	if !ok {
		return nil, redis.Nil
	}
	return v, nil
}

func (s *memStore) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return nil
}

func (s *memStore) FlushByPattern(_ context.Context, pattern string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prefix := strings.TrimSuffix(pattern, "*")
	var n int64
	for k := range s.data {
		if strings.HasPrefix(k, prefix) {
			delete(s.data, k)
			n++
		}
	}
	return n, nil
}

func sampleResponse() *engine.Response {
	return &engine.Response{
		Query:       "haus",
		Total:       1,
		Results:     []engine.Result{{ID: "v-haus", Title: "Haus", Score: 1.5}},
		Suggestions: []string{},
	}
}

func TestGetOrComputeMissThenHit(t *testing.T) {
	c := New(newMemStore(), time.Minute, nil)
	ctx := context.Background()
	calls := 0
	compute := func() (*engine.Response, error) {
		calls++
		return sampleResponse(), nil
	}

	resp, hit, err := c.GetOrCompute(ctx, "haus", engine.Options{}, 1, compute)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, "v-haus", resp.Results[0].ID)

	resp, hit, err = c.GetOrCompute(ctx, "  HAUS ", engine.Options{}, 1, compute)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, 1.5, resp.Results[0].Score)
	assert.Equal(t, 1, calls)

	hits, misses := c.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)
}

func TestGenerationAndOptionsChangeKey(t *testing.T) {
	base := BuildKey("haus", engine.Options{}, 1)
	assert.NotEqual(t, base, BuildKey("haus", engine.Options{}, 2))
	assert.NotEqual(t, base, BuildKey("haus", engine.Options{Type: "grammar"}, 1))
	assert.NotEqual(t, base, BuildKey("haus", engine.Options{Offset: 10}, 1))
	assert.NotEqual(t, base, BuildKey("haus hund", engine.Options{}, 1))
	assert.NotEqual(t, BuildKey("haus hund", engine.Options{}, 1), BuildKey("hund haus", engine.Options{}, 1))
	assert.Equal(t, base, BuildKey("Haus", engine.Options{}, 1))
	assert.True(t, strings.HasPrefix(base, keyPrefix))
}

func TestComputeErrorNotCached(t *testing.T) {
	store := newMemStore()
	c := New(store, time.Minute, nil)
	_, _, err := c.GetOrCompute(context.Background(), "haus", engine.Options{}, 1, func() (*engine.Response, error) {
		return nil, errors.New("boom")
	})
	assert.Error(t, err)
	assert.Empty(t, store.data)
}

func TestStoreErrorFallsBackToCompute(t *testing.T) {
	store := newMemStore()
	store.err = errors.New("connection refused")
	c := New(store, time.Minute, nil)
	resp, hit, err := c.GetOrCompute(context.Background(), "haus", engine.Options{}, 1, func() (*engine.Response, error) {
		return sampleResponse(), nil
	})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 1, resp.Total)
}

func TestConcurrentMissesShareComputation(t *testing.T) {
	c := New(newMemStore(), time.Minute, nil)
	var calls atomic.Int32
	release := make(chan struct{})
	compute := func() (*engine.Response, error) {
		calls.Add(1)
		<-release
		return sampleResponse(), nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := c.GetOrCompute(context.Background(), "haus", engine.Options{}, 1, compute)
			assert.NoError(t, err)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	assert.LessOrEqual(t, calls.Load(), int32(5))
	assert.GreaterOrEqual(t, calls.Load(), int32(1))
}

func TestInvalidate(t *testing.T) {
	store := newMemStore()
	c := New(store, time.Minute, nil)
	c.Set(context.Background(), BuildKey("haus", engine.Options{}, 1), sampleResponse())
	store.data["other:key"] = []byte("x")

	require.NoError(t, c.Invalidate(context.Background()))
	assert.Len(t, store.data, 1)
}

func TestCacheable(t *testing.T) {
	assert.True(t, Cacheable(engine.Options{Type: "vocabulary"}))
	phase := 2
	assert.False(t, Cacheable(engine.Options{Phase: &phase}))
}
