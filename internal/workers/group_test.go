package workers

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGroupWaitsForAllJobs(t *testing.T) {
	g := NewGroup(context.Background(), 0)
	var done atomic.Int32
	for i := 0; i < 20; i++ {
		g.Go("job", func(ctx context.Context) {
			time.Sleep(5 * time.Millisecond)
			done.Add(1)
		})
	}
	g.Wait()
	assert.Equal(t, int32(20), done.Load())
}

func TestGroupRespectsLimit(t *testing.T) {
	const limit = 3
	g := NewGroup(context.Background(), limit)

	var mu sync.Mutex
	running, peak := 0, 0
	for i := 0; i < 12; i++ {
		g.Go("job", func(ctx context.Context) {
			mu.Lock()
			running++
			if running > peak {
				peak = running
			}
			mu.Unlock()

			time.Sleep(10 * time.Millisecond)

			mu.Lock()
			running--
			mu.Unlock()
		})
	}
	g.Wait()
	assert.LessOrEqual(t, peak, limit)
	assert.Equal(t, 0, running)
}

func TestGroupSurvivesPanic(t *testing.T) {
	g := NewGroup(context.Background(), 2)
	var ran atomic.Bool
	g.Go("boom", func(ctx context.Context) { panic("relay exploded") })
	g.Go("ok", func(ctx context.Context) { ran.Store(true) })
	g.Wait()
	assert.True(t, ran.Load())
}

func TestGroupPassesContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	g := NewGroup(ctx, 1)
	var sawCancel atomic.Bool
	g.Go("ctx", func(ctx context.Context) { sawCancel.Store(ctx.Err() != nil) })
	g.Wait()
	assert.True(t, sawCancel.Load())
}
