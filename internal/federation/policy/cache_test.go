package policy

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingLoader struct {
	calls atomic.Int64
	delay time.Duration
	err   error
	snap  Snapshot
}

func (l *countingLoader) LoadTrustPolicy(ctx context.Context) (Snapshot, error) {
	l.calls.Add(1)
	if l.delay > 0 {
		time.Sleep(l.delay)
	}
	if l.err != nil {
		return Snapshot{}, l.err
	}
	return l.snap, nil
}

func TestCache_ServesWithinTTL(t *testing.T) {
	loader := &countingLoader{snap: NewSnapshot(true, []string{"b.example"}, nil)}
	cache := NewCache(loader, time.Minute)

	for range 5 {
		snap, err := cache.Get(context.Background())
		require.NoError(t, err)
		assert.True(t, snap.Blocked("b.example"))
	}
	assert.Equal(t, int64(1), loader.calls.Load())
}

func TestCache_ReloadsAfterExpiry(t *testing.T) {
	now := time.Now()
	loader := &countingLoader{snap: NewSnapshot(true, nil, nil)}
	cache := NewCache(loader, time.Minute, WithClock(func() time.Time { return now }))

	_, err := cache.Get(context.Background())
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = cache.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), loader.calls.Load())
}

func TestCache_CoalescesConcurrentMisses(t *testing.T) {
	loader := &countingLoader{
		snap:  NewSnapshot(true, nil, nil),
		delay: 20 * time.Millisecond,
	}
	cache := NewCache(loader, time.Minute)

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := cache.Get(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(1), loader.calls.Load(), "concurrent misses must share one backend read")
}

func TestCache_ErrorPropagatesToAllWaiters(t *testing.T) {
	loadErr := errors.New("backend down")
	loader := &countingLoader{err: loadErr, delay: 10 * time.Millisecond}
	cache := NewCache(loader, time.Minute)

	var wg sync.WaitGroup
	var failures atomic.Int64
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := cache.Get(context.Background()); err != nil {
				failures.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(8), failures.Load(), "every waiter sees the load error")

	// Nothing was cached; recovery reloads.
	loader.err = nil
	loader.snap = NewSnapshot(true, nil, nil)
	_, err := cache.Get(context.Background())
	assert.NoError(t, err)
}

func TestCache_Invalidate(t *testing.T) {
	loader := &countingLoader{snap: NewSnapshot(true, nil, nil)}
	cache := NewCache(loader, time.Hour)

	_, err := cache.Get(context.Background())
	require.NoError(t, err)
	cache.Invalidate()
	_, err = cache.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), loader.calls.Load())
}
