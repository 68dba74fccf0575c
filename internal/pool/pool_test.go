package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/wonny/aegis-narrator/pkg/config"
	"github.com/wonny/aegis-narrator/pkg/logger"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestPool_BoundsConcurrency(t *testing.T) {
	p := New(config.PoolConfig{MaxConcurrent: 2}, nil, logger.Nop())

	var current, peak atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := p.Do(context.Background(), "judge", func(ctx context.Context) error {
				n := current.Add(1)
				for {
					old := peak.Load()
					if n <= old || peak.CompareAndSwap(old, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				current.Add(-1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int64(2))
	stats := p.Stats()
	assert.Equal(t, int64(8), stats.Admitted)
	assert.Zero(t, stats.InFlight)
	assert.Equal(t, int64(2), stats.Capacity)
}

func TestPool_CancelledWhileWaiting(t *testing.T) {
	p := New(config.PoolConfig{MaxConcurrent: 1}, nil, logger.Nop())

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = p.Do(context.Background(), "generate", func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	called := false
	err := p.Do(ctx, "judge", func(ctx context.Context) error {
		called = true
		return nil
	})
	close(release)

	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.False(t, called)
	assert.Equal(t, int64(1), p.Stats().Rejected)

	// wait for the holder to finish so goleak stays quiet
	require.Eventually(t, func() bool { return p.Stats().InFlight == 0 }, time.Second, 5*time.Millisecond)
}

func TestPool_PropagatesCallError(t *testing.T) {
	p := New(config.PoolConfig{MaxConcurrent: 1, RatePerSecond: 100, Burst: 1}, nil, logger.Nop())
	boom := errors.New("boom")

	err := p.Do(context.Background(), "generate", func(ctx context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestPool_DefaultsInvalidConfig(t *testing.T) {
	p := New(config.PoolConfig{}, nil, logger.Nop())
	assert.Equal(t, int64(1), p.Stats().Capacity)
	assert.NoError(t, p.Do(context.Background(), "x", func(context.Context) error { return nil }))
}
