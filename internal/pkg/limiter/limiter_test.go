package limiter

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGateBoundsConcurrency(t *testing.T) {
	gate := NewGate(3)

	var inFlight, maxSeen int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, gate.Acquire(context.Background()))
			defer gate.Release()

			now := atomic.AddInt64(&inFlight, 1)
			for {
				seen := atomic.LoadInt64(&maxSeen)
				if now <= seen || atomic.CompareAndSwapInt64(&maxSeen, seen, now) {
					break
				}
			}
			atomic.AddInt64(&inFlight, -1)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt64(&maxSeen), int64(3))
	assert.Equal(t, 0, gate.InUse())
}

func TestAcquireRespectsContext(t *testing.T) {
	gate := NewGate(1)
	require.NoError(t, gate.Acquire(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := gate.Acquire(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	gate.Release()
}

func TestTryAcquire(t *testing.T) {
	gate := NewGate(1)
	assert.True(t, gate.TryAcquire())
	assert.False(t, gate.TryAcquire())
	gate.Release()
	assert.True(t, gate.TryAcquire())
	gate.Release()
}

func TestReleaseWithoutAcquirePanics(t *testing.T) {
	gate := NewGate(1)
	assert.Panics(t, func() { gate.Release() })
}

func TestCapacityFloor(t *testing.T) {
	assert.Equal(t, 1, NewGate(0).Capacity())
	assert.Equal(t, 4, NewGate(4).Capacity())
}
