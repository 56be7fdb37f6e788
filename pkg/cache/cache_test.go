package cache

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

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestCache(t *testing.T) (*TTL[string, int], *clock) {
	clk := &clock{t: time.Unix(1700000000, 0)}
	c := NewTTL[string, int](time.Minute)
	c.now = clk.now
	t.Cleanup(c.Close)
	return c, clk
}

func TestTTL_SetGetExpire(t *testing.T) {
	c, clk := newTestCache(t)

	c.Set("a", 1)
	c.SetWithTTL("b", 2, 10*time.Second)

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)
	assert.Equal(t, 2, c.Len())

	clk.advance(10 * time.Second)
	_, ok = c.Get("b")
	assert.False(t, ok, "entry must be gone at its deadline")
	assert.Equal(t, 1, c.Len())

	clk.advance(time.Minute)
	_, ok = c.Get("a")
	assert.False(t, ok)

	c.purgeExpired()
	c.mu.RLock()
	assert.Empty(t, c.items)
	c.mu.RUnlock()
}

func TestTTL_Delete(t *testing.T) {
	c, _ := newTestCache(t)
	c.Set("turn", 1)
	c.Set("other", 3)

	c.Delete("other")
	_, ok := c.Get("other")
	assert.False(t, ok)
	assert.Equal(t, 1, c.Len())
}

func TestTTL_GetOrLoadCachesSuccess(t *testing.T) {
	c, clk := newTestCache(t)
	var calls int
	loader := func(context.Context) (int, time.Duration, error) {
		calls++
		return 42, 5 * time.Second, nil
	}

	for i := 0; i < 3; i++ {
		v, err := c.GetOrLoad(context.Background(), "k", loader)
		require.NoError(t, err)
		assert.Equal(t, 42, v)
	}
	assert.Equal(t, 1, calls)

	clk.advance(5 * time.Second)
	_, err := c.GetOrLoad(context.Background(), "k", loader)
	require.NoError(t, err)
	assert.Equal(t, 2, calls, "loader-chosen ttl applies")
}

func TestTTL_GetOrLoadDoesNotCacheErrors(t *testing.T) {
	c, _ := newTestCache(t)
	boom := errors.New("boom")
	var calls int

	for i := 0; i < 2; i++ {
		_, err := c.GetOrLoad(context.Background(), "k", func(context.Context) (int, time.Duration, error) {
			calls++
			return 0, 0, boom
		})
		assert.ErrorIs(t, err, boom)
	}
	assert.Equal(t, 2, calls)
}

func TestTTL_GetOrLoadCollapsesConcurrentMisses(t *testing.T) {
	c, _ := newTestCache(t)
	var calls atomic.Int32
	release := make(chan struct{})
	started := make(chan struct{})

	leaderDone := make(chan int)
	go func() {
		v, _ := c.GetOrLoad(context.Background(), "k", func(context.Context) (int, time.Duration, error) {
			calls.Add(1)
			close(started)
			<-release
			return 7, 0, nil
		})
		leaderDone <- v
	}()
	<-started

	var wg sync.WaitGroup
	results := make([]int, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = c.GetOrLoad(context.Background(), "k", func(context.Context) (int, time.Duration, error) {
				calls.Add(1)
				return -1, 0, nil
			})
		}(i)
	}

	time.Sleep(10 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, 7, <-leaderDone)
	assert.Equal(t, int32(1), calls.Load())
	for _, v := range results {
		assert.Equal(t, 7, v)
	}
}
