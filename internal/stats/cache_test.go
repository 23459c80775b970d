package stats

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
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// the go-cache janitor cannot be stopped
		goleak.IgnoreTopFunction("github.com/patrickmn/go-cache.(*janitor).Run"),
	)
}

func counting(calls *atomic.Int64, counts Counts) ComputeFunc {
	return func(context.Context) (Counts, error) {
		calls.Add(1)
		return counts, nil
	}
}

func TestCache_GetOrCompute(t *testing.T) {
	ctx := context.Background()

	t.Run("serves hits from memory", func(t *testing.T) {
		c := New(Options{TTL: time.Minute})
		var calls atomic.Int64

		got, err := c.GetOrCompute(ctx, 1, "a", counting(&calls, Counts{TotalCount: 10, AnnotatedCount: 3}))
		require.NoError(t, err)
		assert.Equal(t, Counts{TotalCount: 10, AnnotatedCount: 3}, got)

		got, err = c.GetOrCompute(ctx, 1, "a", counting(&calls, Counts{TotalCount: 99}))
		require.NoError(t, err)
		assert.Equal(t, int64(3), got.AnnotatedCount)
		assert.Equal(t, int64(1), calls.Load())
	})

	t.Run("keys are per dataset and worker", func(t *testing.T) {
		c := New(Options{TTL: time.Minute})
		var calls atomic.Int64
		for _, ds := range []int64{1, 2} {
			for _, w := range []string{"a", "b", ""} {
				_, err := c.GetOrCompute(ctx, ds, w, counting(&calls, Counts{}))
				require.NoError(t, err)
			}
		}
		assert.Equal(t, int64(6), calls.Load())
		assert.Equal(t, 6, c.Len())
	})

	t.Run("errors are not cached", func(t *testing.T) {
		c := New(Options{TTL: time.Minute})
		boom := errors.New("boom")
		_, err := c.GetOrCompute(ctx, 1, "a", func(context.Context) (Counts, error) {
			return Counts{}, boom
		})
		assert.ErrorIs(t, err, boom)

		var calls atomic.Int64
		_, err = c.GetOrCompute(ctx, 1, "a", counting(&calls, Counts{TotalCount: 1}))
		require.NoError(t, err)
		assert.Equal(t, int64(1), calls.Load())
	})

	t.Run("entries expire after the ttl", func(t *testing.T) {
		c := New(Options{TTL: 20 * time.Millisecond})
		var calls atomic.Int64
		_, err := c.GetOrCompute(ctx, 1, "a", counting(&calls, Counts{}))
		require.NoError(t, err)

		time.Sleep(40 * time.Millisecond)
		_, err = c.GetOrCompute(ctx, 1, "a", counting(&calls, Counts{}))
		require.NoError(t, err)
		assert.Equal(t, int64(2), calls.Load())
	})

	t.Run("concurrent misses share one compute", func(t *testing.T) {
		c := New(Options{TTL: time.Minute})
		var calls atomic.Int64
		release := make(chan struct{})
		compute := func(context.Context) (Counts, error) {
			calls.Add(1)
			<-release
			return Counts{TotalCount: 5}, nil
		}

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				got, err := c.GetOrCompute(ctx, 1, "a", compute)
				assert.NoError(t, err)
				assert.Equal(t, int64(5), got.TotalCount)
			}()
		}
		time.Sleep(50 * time.Millisecond)
		close(release)
		wg.Wait()
		assert.LessOrEqual(t, calls.Load(), int64(8))
		assert.GreaterOrEqual(t, calls.Load(), int64(1))

		_, err := c.GetOrCompute(ctx, 1, "a", compute)
		require.NoError(t, err)
		assert.LessOrEqual(t, calls.Load(), int64(8), "result is cached once computed")
	})
}

func TestCache_Invalidate(t *testing.T) {
	ctx := context.Background()

	t.Run("worker invalidation forces a recompute", func(t *testing.T) {
		c := New(Options{TTL: time.Minute})
		var calls atomic.Int64
		_, err := c.GetOrCompute(ctx, 1, "a", counting(&calls, Counts{AnnotatedCount: 1}))
		require.NoError(t, err)
		_, err = c.GetOrCompute(ctx, 1, "b", counting(&calls, Counts{AnnotatedCount: 1}))
		require.NoError(t, err)

		c.Invalidate(1, "a")

		got, err := c.GetOrCompute(ctx, 1, "a", counting(&calls, Counts{AnnotatedCount: 2}))
		require.NoError(t, err)
		assert.Equal(t, int64(2), got.AnnotatedCount)

		got, err = c.GetOrCompute(ctx, 1, "b", counting(&calls, Counts{AnnotatedCount: 7}))
		require.NoError(t, err)
		assert.Equal(t, int64(1), got.AnnotatedCount, "other workers keep their entry")
	})

	t.Run("dataset invalidation drops every worker", func(t *testing.T) {
		c := New(Options{TTL: time.Minute})
		var calls atomic.Int64
		for _, w := range []string{"a", "b"} {
			_, err := c.GetOrCompute(ctx, 1, w, counting(&calls, Counts{}))
			require.NoError(t, err)
		}
		_, err := c.GetOrCompute(ctx, 2, "a", counting(&calls, Counts{}))
		require.NoError(t, err)

		c.Invalidate(1, "")
		assert.Equal(t, 1, c.Len())
	})

	t.Run("computes started before an invalidation are not stored", func(t *testing.T) {
		c := New(Options{TTL: time.Minute})
		started := make(chan struct{})
		release := make(chan struct{})
		done := make(chan Counts)

		go func() {
			got, err := c.GetOrCompute(ctx, 1, "a", func(context.Context) (Counts, error) {
				close(started)
				<-release
				return Counts{AnnotatedCount: 1}, nil
			})
			assert.NoError(t, err)
			done <- got
		}()

		<-started
		c.Invalidate(1, "a")
		close(release)
		assert.Equal(t, int64(1), (<-done).AnnotatedCount)

		var calls atomic.Int64
		got, err := c.GetOrCompute(ctx, 1, "a", counting(&calls, Counts{AnnotatedCount: 2}))
		require.NoError(t, err)
		assert.Equal(t, int64(2), got.AnnotatedCount)
		assert.Equal(t, int64(1), calls.Load())
	})

	t.Run("reads after an invalidation do not join an older compute", func(t *testing.T) {
		c := New(Options{TTL: time.Minute})
		started := make(chan struct{})
		release := make(chan struct{})
		done := make(chan struct{})

		go func() {
			defer close(done)
			_, err := c.GetOrCompute(ctx, 1, "a", func(context.Context) (Counts, error) {
				close(started)
				<-release
				return Counts{AnnotatedCount: 1}, nil
			})
			assert.NoError(t, err)
		}()

		<-started
		c.Invalidate(1, "a")
		got, err := c.GetOrCompute(ctx, 1, "a", func(context.Context) (Counts, error) {
			return Counts{AnnotatedCount: 2}, nil
		})
		require.NoError(t, err)
		assert.Equal(t, int64(2), got.AnnotatedCount)

		close(release)
		<-done
	})
}

func TestCache_ForgetsGenerations(t *testing.T) {
	ctx := context.Background()
	c := New(Options{TTL: time.Minute})
	var calls atomic.Int64

	for ds := int64(1); ds <= 20; ds++ {
		for _, w := range []string{"a", "b", "c"} {
			_, err := c.GetOrCompute(ctx, ds, w, counting(&calls, Counts{}))
			require.NoError(t, err)
			c.Invalidate(ds, w)
		}
		c.InvalidateDataset(ds)
	}

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := c.GetOrCompute(ctx, 99, "slow", func(context.Context) (Counts, error) {
			close(started)
			<-release
			return Counts{}, nil
		})
		assert.NoError(t, err)
	}()
	<-started
	c.Invalidate(99, "slow")
	c.InvalidateDataset(99)

	c.mu.Lock()
	assert.Equal(t, uint64(1), c.keyGens[key{datasetID: 99, workerID: "slow"}], "kept while a compute is in flight")
	assert.Equal(t, uint64(1), c.datasetGens[99])
	c.mu.Unlock()

	close(release)
	<-done

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Empty(t, c.keyGens)
	assert.Empty(t, c.datasetGens)
	assert.Empty(t, c.keyInflight)
	assert.Empty(t, c.datasetInflight)
}
