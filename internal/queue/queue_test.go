package queue

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackvity/tender-pipeline/internal/apperrors"
	"github.com/stackvity/tender-pipeline/internal/pipeline"
)

func newJob(id string, priority pipeline.Priority) *pipeline.Job {
	return &pipeline.Job{ID: id, Priority: priority}
}

func TestDequeueOrdersByPriorityThenSubmissionOrder(t *testing.T) {
	q := New(10, PolicyReject, 0)
	require.NoError(t, q.Enqueue(newJob("low-1", pipeline.PriorityLow)))
	require.NoError(t, q.Enqueue(newJob("normal-1", pipeline.PriorityNormal)))
	require.NoError(t, q.Enqueue(newJob("high-1", pipeline.PriorityHigh)))
	require.NoError(t, q.Enqueue(newJob("normal-2", pipeline.PriorityNormal)))

	var order []string
	for i := 0; i < 4; i++ {
		job, ok := q.Dequeue()
		require.True(t, ok)
		order = append(order, job.ID)
	}

	assert.Equal(t, []string{"high-1", "normal-1", "normal-2", "low-1"}, order)
}

func TestEnqueueRejectsWhenAtCapacity(t *testing.T) {
	q := New(1, PolicyReject, 0)
	require.NoError(t, q.Enqueue(newJob("a", pipeline.PriorityNormal)))

	err := q.Enqueue(newJob("b", pipeline.PriorityNormal))
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeQueueFull))
}

func TestEnqueueBlockWaitsForSpace(t *testing.T) {
	q := New(1, PolicyBlock, 0)
	require.NoError(t, q.Enqueue(newJob("a", pipeline.PriorityNormal)))

	blocked := make(chan error, 1)
	go func() {
		blocked <- q.Enqueue(newJob("b", pipeline.PriorityNormal))
	}()

	select {
	case <-blocked:
		t.Fatal("Enqueue should still be blocked while queue is full")
	case <-time.After(20 * time.Millisecond):
	}

	_, ok := q.Dequeue()
	require.True(t, ok)

	select {
	case err := <-blocked:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("blocked Enqueue did not unblock after Dequeue freed space")
	}
}

func TestEnqueueBlockWithTimeoutExpires(t *testing.T) {
	q := New(1, PolicyBlockWithTimeout, 20*time.Millisecond)
	require.NoError(t, q.Enqueue(newJob("a", pipeline.PriorityNormal)))

	err := q.Enqueue(newJob("b", pipeline.PriorityNormal))
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeQueueFull))
}

func TestDequeueBlocksUntilEnqueue(t *testing.T) {
	q := New(10, PolicyReject, 0)

	var wg sync.WaitGroup
	wg.Add(1)
	var got *pipeline.Job
	go func() {
		defer wg.Done()
		job, ok := q.Dequeue()
		if ok {
			got = job
		}
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Enqueue(newJob("late", pipeline.PriorityNormal)))
	wg.Wait()

	require.NotNil(t, got)
	assert.Equal(t, "late", got.ID)
}

func TestCloseWakesBlockedDequeueWithFalse(t *testing.T) {
	q := New(10, PolicyReject, 0)

	done := make(chan bool, 1)
	go func() {
		_, ok := q.Dequeue()
		done <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	q.Close()

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Dequeue did not unblock after Close")
	}
}

func TestCloseWakesBlockedEnqueueWithError(t *testing.T) {
	q := New(1, PolicyBlock, 0)
	require.NoError(t, q.Enqueue(newJob("a", pipeline.PriorityNormal)))

	done := make(chan error, 1)
	go func() {
		done <- q.Enqueue(newJob("b", pipeline.PriorityNormal))
	}()

	time.Sleep(10 * time.Millisecond)
	q.Close()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.True(t, apperrors.IsCode(err, apperrors.CodeQueueFull))
	case <-time.After(time.Second):
		t.Fatal("blocked Enqueue did not unblock after Close")
	}
}

func TestEnqueueAfterCloseIsRejected(t *testing.T) {
	q := New(10, PolicyReject, 0)
	q.Close()

	err := q.Enqueue(newJob("too-late", pipeline.PriorityNormal))
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeQueueFull))
}

func TestDrainReturnsAllPendingJobs(t *testing.T) {
	q := New(10, PolicyReject, 0)
	require.NoError(t, q.Enqueue(newJob("a", pipeline.PriorityNormal)))
	require.NoError(t, q.Enqueue(newJob("b", pipeline.PriorityHigh)))

	drained := q.Drain()
	assert.Len(t, drained, 2)
	assert.Equal(t, 0, q.Len())
}
