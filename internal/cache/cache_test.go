package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/halfpipe-dev/escapeengine/internal/models"
	"github.com/stretchr/testify/require"
)

func TestGetCachesWithinTTL(t *testing.T) {
	c := New(50 * time.Millisecond)
	var calls int32
	compute := func() (any, error) {
		atomic.AddInt32(&calls, 1)
		return 42, nil
	}

	v1, err := c.Get("k", compute)
	require.NoError(t, err)
	require.Equal(t, 42, v1)

	v2, err := c.Get("k", compute)
	require.NoError(t, err)
	require.Equal(t, 42, v2)
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestGetRecomputesAfterTTL(t *testing.T) {
	c := New(10 * time.Millisecond)
	var calls int32
	compute := func() (any, error) {
		atomic.AddInt32(&calls, 1)
		return atomic.LoadInt32(&calls), nil
	}

	_, _ = c.Get("k", compute)
	time.Sleep(20 * time.Millisecond)
	_, _ = c.Get("k", compute)
	require.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestGetDeduplicatesConcurrentCalls(t *testing.T) {
	c := New(time.Second)
	var calls int32
	var wg sync.WaitGroup
	compute := func() (any, error) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(10 * time.Millisecond)
		return 1, nil
	}

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.Get("k", compute)
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestInvalidate(t *testing.T) {
	c := New(time.Minute)
	_, _ = c.Get("k", func() (any, error) { return 1, nil })
	c.Invalidate("k")

	var calls int32
	_, _ = c.Get("k", func() (any, error) {
		atomic.AddInt32(&calls, 1)
		return 2, nil
	})
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

type fakeSource struct{ n int32 }

func (f *fakeSource) ComposeSnapshot(now time.Time) models.MarketSnapshot {
	atomic.AddInt32(&f.n, 1)
	return models.MarketSnapshot{Timestamp: now}
}

type fakeSink struct {
	mu    sync.Mutex
	count int
}

func (f *fakeSink) WriteSnapshot(ctx context.Context, snap models.MarketSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count++
	return nil
}

func TestDispatcherRunsUntilCanceled(t *testing.T) {
	src := &fakeSource{}
	sink := &fakeSink{}
	d := NewDispatcher(src, sink, 10*time.Millisecond, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 35*time.Millisecond)
	defer cancel()
	d.Run(ctx)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.GreaterOrEqual(t, sink.count, 2)
}
