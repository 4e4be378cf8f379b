// Package queue is the Job Queue component (spec.md §4.7): a bounded
// priority queue ordered by (priority desc, submitted-at asc), with
// broadcast-on-change signaling and container/heap priority ordering,
// grounded on the channel + worker-pool shape of
// bogorad-screen-ocr-llm's src/worker-pool.go (generalized here from a
// single-slot fixed queue to a bounded heap-ordered one). The queue owns
// its own backpressure policy (block / reject / block-with-timeout) per
// spec.md §6's enqueue_policy option, so callers never need to poll or
// busy-wait around Enqueue.
package queue

import (
	"container/heap"
	"sync"
	"time"

	"github.com/stackvity/tender-pipeline/internal/apperrors"
	"github.com/stackvity/tender-pipeline/internal/pipeline"
)

// Policy is the queue's behavior when Enqueue is called at capacity.
type Policy string

const (
	PolicyBlock            Policy = "block"
	PolicyReject           Policy = "reject"
	PolicyBlockWithTimeout Policy = "block_with_timeout"
)

// item wraps a Job with the heap's required bookkeeping. seq breaks ties
// between jobs of equal priority by submission order (FIFO within a
// priority band).
type item struct {
	job *pipeline.Job
	seq uint64
}

type priorityHeap []*item

func (h priorityHeap) Len() int { return len(h) }
func (h priorityHeap) Less(i, j int) bool {
	if h[i].job.Priority != h[j].job.Priority {
		return h[i].job.Priority > h[j].job.Priority // higher priority first
	}
	return h[i].seq < h[j].seq // earlier submission first
}
func (h priorityHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *priorityHeap) Push(x any)   { *h = append(*h, x.(*item)) }
func (h *priorityHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

// Queue is a bounded priority queue of Jobs. notEmpty and notFull are
// replace-and-close broadcast channels: every waiter holds a reference to
// the current channel and a state change closes it (waking every waiter
// at once) before installing a fresh one, which is the correct way to
// broadcast over a plain channel to an arbitrary number of waiters.
type Queue struct {
	mu           sync.Mutex
	notEmpty     chan struct{}
	notFull      chan struct{}
	heap         priorityHeap
	capacity     int
	nextSeq      uint64
	closed       bool
	policy       Policy
	blockTimeout time.Duration
}

// New builds a Queue bounded by capacity, applying policy when Enqueue is
// called at capacity. blockTimeout is only consulted for
// PolicyBlockWithTimeout.
func New(capacity int, policy Policy, blockTimeout time.Duration) *Queue {
	if policy == "" {
		policy = PolicyBlock
	}
	return &Queue{
		notEmpty:     make(chan struct{}),
		notFull:      make(chan struct{}),
		capacity:     capacity,
		policy:       policy,
		blockTimeout: blockTimeout,
	}
}

// broadcastEmpty wakes every Dequeue waiter. Caller must hold q.mu.
func (q *Queue) broadcastEmpty() {
	close(q.notEmpty)
	q.notEmpty = make(chan struct{})
}

// broadcastFull wakes every blocked Enqueue waiter. Caller must hold q.mu.
func (q *Queue) broadcastFull() {
	close(q.notFull)
	q.notFull = make(chan struct{})
}

// Enqueue adds job to the queue, applying the queue's configured Policy
// when at capacity: PolicyReject returns queue-full immediately,
// PolicyBlock waits indefinitely for space (or shutdown), and
// PolicyBlockWithTimeout waits up to blockTimeout before returning
// queue-full.
func (q *Queue) Enqueue(job *pipeline.Job) error {
	var timeoutC <-chan time.Time
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return apperrors.New(apperrors.CodeQueueFull, "queue", "queue is shut down", nil)
		}
		if q.capacity <= 0 || len(q.heap) < q.capacity {
			q.nextSeq++
			heap.Push(&q.heap, &item{job: job, seq: q.nextSeq})
			q.broadcastEmpty()
			q.mu.Unlock()
			return nil
		}
		waitCh := q.notFull
		q.mu.Unlock()

		switch q.policy {
		case PolicyReject:
			return apperrors.New(apperrors.CodeQueueFull, "queue", "queue is at capacity", nil)
		case PolicyBlockWithTimeout:
			if timeoutC == nil {
				timeoutC = time.After(q.blockTimeout)
			}
			select {
			case <-waitCh:
			case <-timeoutC:
				return apperrors.New(apperrors.CodeQueueFull, "queue", "queue is at capacity", nil)
			}
		default: // PolicyBlock
			<-waitCh
		}
	}
}

// Dequeue blocks until a job is available or the queue is closed, in which
// case it returns (nil, false).
func (q *Queue) Dequeue() (*pipeline.Job, bool) {
	for {
		q.mu.Lock()
		if len(q.heap) > 0 {
			it := heap.Pop(&q.heap).(*item)
			q.broadcastFull()
			q.mu.Unlock()
			return it.job, true
		}
		if q.closed {
			q.mu.Unlock()
			return nil, false
		}
		waitCh := q.notEmpty
		q.mu.Unlock()

		<-waitCh
	}
}

// Len reports the number of pending jobs.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}

// Close shuts the queue down: refuses new enqueues and wakes any blocked
// Dequeue/Enqueue callers.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.broadcastEmpty()
	q.broadcastFull()
}

// Drain removes and returns every job still pending, for cooperative
// cancellation during shutdown.
func (q *Queue) Drain() []*pipeline.Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	jobs := make([]*pipeline.Job, 0, len(q.heap))
	for len(q.heap) > 0 {
		it := heap.Pop(&q.heap).(*item)
		jobs = append(jobs, it.job)
	}
	q.broadcastFull()
	return jobs
}
