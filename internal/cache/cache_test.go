package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/knoguchi/agenticrag/internal/merger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetAndGet(t *testing.T) {
	c := New(time.Hour)
	c.Set("fp1", merger.Result{Answer: "Paris"})
	result, ok := c.Get("fp1")
	require.True(t, ok)
	assert.Equal(t, "Paris", result.Answer)
}

func TestGetExpiresAfterTTL(t *testing.T) {
	c := New(10 * time.Millisecond)
	c.Set("fp1", merger.Result{Answer: "Paris"})
	time.Sleep(30 * time.Millisecond)
	_, ok := c.Get("fp1")
	assert.False(t, ok)
}

func TestGetOrComputeCachesResult(t *testing.T) {
	c := New(time.Hour)
	var calls int32
	compute := func(ctx context.Context) (merger.Result, error) {
		atomic.AddInt32(&calls, 1)
		return merger.Result{Answer: "Paris"}, nil
	}

	result, cached, err := c.GetOrCompute(context.Background(), "fp1", compute)
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, "Paris", result.Answer)

	result2, cached2, err := c.GetOrCompute(context.Background(), "fp1", compute)
	require.NoError(t, err)
	assert.True(t, cached2)
	assert.Equal(t, "Paris", result2.Answer)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestGetOrComputeSingleFlightsConcurrentCalls(t *testing.T) {
	c := New(time.Hour)
	var calls int32
	start := make(chan struct{})
	compute := func(ctx context.Context) (merger.Result, error) {
		atomic.AddInt32(&calls, 1)
		<-start
		return merger.Result{Answer: "Paris"}, nil
	}

	var wg sync.WaitGroup
	results := make([]merger.Result, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			result, _, err := c.GetOrCompute(context.Background(), "shared-fp", compute)
			require.NoError(t, err)
			results[idx] = result
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	for _, r := range results {
		assert.Equal(t, "Paris", r.Answer)
	}
}
