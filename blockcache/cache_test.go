package blockcache

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contensis/request-handler-localdevelopment-sub000/metrics"
	"github.com/contensis/request-handler-localdevelopment-sub000/routing"
)

type testLoader struct {
	calls atomic.Int32
	gate  chan struct{}
	err   error
}

func (l *testLoader) LoadBlockVersion(_ context.Context, projectID, versionID string) (*routing.BlockVersion, error) {
	l.calls.Add(1)
	if l.gate != nil {
		<-l.gate
	}

	if l.err != nil {
		return nil, l.err
	}

	return &routing.BlockVersion{ProjectID: projectID, VersionID: versionID, BaseURI: "http://block/"}, nil
}

type testShared struct {
	mu     sync.Mutex
	values map[string][]byte
	err    error
}

func newTestShared() *testShared {
	return &testShared{values: make(map[string][]byte)}
}

func (s *testShared) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[key], s.err
}

func (s *testShared) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}

	s.values[key] = value
	return nil
}

type cacheMetrics struct {
	metrics.Metrics
	mu     sync.Mutex
	counts map[string]int
}

func newCacheMetrics() *cacheMetrics {
	return &cacheMetrics{Metrics: metrics.Void, counts: make(map[string]int)}
}

func (m *cacheMetrics) IncCache(tier string, hit bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if hit {
		m.counts[tier+".hit"]++
	} else {
		m.counts[tier+".miss"]++
	}
}

func TestGetLoadsOnce(t *testing.T) {
	l := &testLoader{gate: make(chan struct{})}
	m := newCacheMetrics()
	c := New(l, Options{Metrics: m})

	var wg sync.WaitGroup
	results := make([]*routing.BlockVersion, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bv, err := c.Get(context.Background(), "p1", "v1")
			assert.NoError(t, err)
			results[i] = bv
		}()
	}

	close(l.gate)
	wg.Wait()

	assert.Equal(t, int32(1), l.calls.Load())
	for _, bv := range results {
		require.NotNil(t, bv)
		assert.Same(t, results[0], bv)
	}

	assert.Equal(t, []string{routing.DefaultStaticPath}, results[0].StaticPaths)
	assert.Equal(t, "http://block", results[0].BaseURI)

	_, err := c.Get(context.Background(), "p1", "v1")
	require.NoError(t, err)
	assert.Equal(t, int32(1), l.calls.Load())
	assert.Positive(t, m.counts["local.hit"])
}

func TestGetDoesNotCacheErrors(t *testing.T) {
	l := &testLoader{err: routing.ErrNotFound}
	c := New(l, Options{})

	_, err := c.Get(context.Background(), "p1", "v1")
	assert.ErrorIs(t, err, routing.ErrNotFound)

	_, err = c.Get(context.Background(), "p1", "v1")
	assert.ErrorIs(t, err, routing.ErrNotFound)
	assert.Equal(t, int32(2), l.calls.Load())
	assert.Zero(t, c.Len())
}

func TestPutReplaces(t *testing.T) {
	l := &testLoader{}
	c := New(l, Options{})

	_, err := c.Get(context.Background(), "p1", "v1")
	require.NoError(t, err)

	fresh := routing.NewBlockVersion(routing.BlockVersion{VersionID: "v1", BaseURI: "http://fresh"})
	c.Put(fresh)
	c.Put(nil)
	c.Put(&routing.BlockVersion{})

	bv, err := c.Get(context.Background(), "p1", "v1")
	require.NoError(t, err)
	assert.Same(t, fresh, bv)
	assert.Equal(t, 1, c.Len())
}

func TestEntriesExpire(t *testing.T) {
	l := &testLoader{}
	c := New(l, Options{TTL: 10 * time.Millisecond})

	_, err := c.Get(context.Background(), "p1", "v1")
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)
	_, err = c.Get(context.Background(), "p1", "v1")
	require.NoError(t, err)
	assert.Equal(t, int32(2), l.calls.Load())
}

func TestSharedTier(t *testing.T) {
	shared := newTestShared()
	m := newCacheMetrics()
	l := &testLoader{}

	c := New(l, Options{Shared: shared, Metrics: m})
	_, err := c.Get(context.Background(), "p1", "v1")
	require.NoError(t, err)
	require.Contains(t, shared.values, "blockversion:v1", "loaded versions are written through")
	assert.Equal(t, 1, m.counts["shared.miss"])

	var stored routing.BlockVersion
	require.NoError(t, json.Unmarshal(shared.values["blockversion:v1"], &stored))
	assert.Equal(t, "p1", stored.ProjectID)

	other := New(l, Options{Shared: shared, Metrics: m})
	bv, err := other.Get(context.Background(), "p1", "v1")
	require.NoError(t, err)
	assert.Equal(t, "v1", bv.VersionID)
	assert.Equal(t, []string{routing.DefaultStaticPath}, bv.StaticPaths)
	assert.Equal(t, int32(1), l.calls.Load(), "served from the shared tier")
	assert.Equal(t, 1, m.counts["shared.hit"])
}

func TestSharedTierFailuresFallBackToLoader(t *testing.T) {
	shared := newTestShared()
	shared.err = errors.New("connection refused")
	l := &testLoader{}

	c := New(l, Options{Shared: shared})
	bv, err := c.Get(context.Background(), "p1", "v1")
	require.NoError(t, err)
	assert.Equal(t, "v1", bv.VersionID)
	assert.Equal(t, int32(1), l.calls.Load())

	shared.err = nil
	shared.values["blockversion:v2"] = []byte("{")
	_, err = c.Get(context.Background(), "p1", "v2")
	require.NoError(t, err)
	assert.Equal(t, int32(2), l.calls.Load(), "invalid shared entries are ignored")
}
