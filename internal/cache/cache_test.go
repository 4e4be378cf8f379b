package cache

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackvity/tender-pipeline/internal/pipeline"
)

func TestCacheHitIsByteIdentical(t *testing.T) {
	c := New(10, 1<<20, time.Minute)
	result := pipeline.AIResult{RawResponse: "hello world"}
	c.Put("fp1", result, 0)

	got, ok := c.Get("fp1")
	require.True(t, ok)
	assert.Equal(t, result.RawResponse, got.RawResponse)
}

func TestCacheLookupPastTTLIsAbsent(t *testing.T) {
	c := New(10, 1<<20, time.Millisecond)
	c.now = func() time.Time { return time.Unix(0, 0) }
	c.Put("fp1", pipeline.AIResult{RawResponse: "x"}, time.Millisecond)

	c.now = func() time.Time { return time.Unix(0, 0).Add(time.Second) }
	_, ok := c.Get("fp1")
	assert.False(t, ok)
}

func TestCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := New(2, 1<<20, time.Minute)
	c.Put("a", pipeline.AIResult{RawResponse: "a"}, 0)
	c.Put("b", pipeline.AIResult{RawResponse: "b"}, 0)
	c.Get("a") // touch a, making b the LRU
	c.Put("c", pipeline.AIResult{RawResponse: "c"}, 0)

	_, aOK := c.Get("a")
	_, bOK := c.Get("b")
	_, cOK := c.Get("c")
	assert.True(t, aOK)
	assert.False(t, bOK, "b should have been evicted as least-recently-used")
	assert.True(t, cOK)
}

func TestGetOrComputeSingleFlightsConcurrentCallers(t *testing.T) {
	c := New(10, 1<<20, time.Minute)
	var calls int64

	compute := func() (pipeline.AIResult, error) {
		atomic.AddInt64(&calls, 1)
		time.Sleep(20 * time.Millisecond)
		return pipeline.AIResult{RawResponse: "computed"}, nil
	}

	var wg sync.WaitGroup
	results := make([]pipeline.AIResult, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			r, _, err := c.GetOrCompute("shared-fp", 0, compute)
			require.NoError(t, err)
			results[idx] = r
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(1), calls, "compute must run exactly once for concurrent callers of the same fingerprint")
	for _, r := range results {
		assert.Equal(t, "computed", r.RawResponse)
	}
}

func TestGetOrComputePropagatesError(t *testing.T) {
	c := New(10, 1<<20, time.Minute)
	wantErr := errors.New("model call failed")

	_, _, err := c.GetOrCompute("fp", 0, func() (pipeline.AIResult, error) {
		return pipeline.AIResult{}, wantErr
	})
	require.Error(t, err)
	assert.Equal(t, 0, c.Len(), "a failed compute must not populate the cache")
}
