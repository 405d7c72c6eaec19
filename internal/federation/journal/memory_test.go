package journal

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_RecordIfNew(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	j := NewMemory(WithMemoryClock(func() time.Time { return now }))

	out, err := j.RecordIfNew(ctx, "https://b.example/activities/create/1")
	require.NoError(t, err)
	assert.Equal(t, Inserted, out)

	out, err = j.RecordIfNew(ctx, "https://b.example/activities/create/1")
	require.NoError(t, err)
	assert.Equal(t, AlreadyExists, out)

	seen, ok := j.FirstSeen("https://b.example/activities/create/1")
	require.True(t, ok)
	assert.Equal(t, now, seen)
}

func TestMemory_DistinctIDsIndependent(t *testing.T) {
	ctx := context.Background()
	j := NewMemory()

	out, err := j.RecordIfNew(ctx, "https://b.example/activities/like/1")
	require.NoError(t, err)
	assert.Equal(t, Inserted, out)

	out, err = j.RecordIfNew(ctx, "https://b.example/activities/like/2")
	require.NoError(t, err)
	assert.Equal(t, Inserted, out)
}

func TestMemory_ConcurrentRecordExactlyOneInsert(t *testing.T) {
	ctx := context.Background()
	j := NewMemory()
	const id = "https://b.example/activities/follow/42"

	var inserted, duplicate atomic.Int64
	var wg sync.WaitGroup
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := j.RecordIfNew(ctx, id)
			require.NoError(t, err)
			switch out {
			case Inserted:
				inserted.Add(1)
			case AlreadyExists:
				duplicate.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), inserted.Load(), "exactly one racer wins the insert")
	assert.Equal(t, int64(31), duplicate.Load())
}
