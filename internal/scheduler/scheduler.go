// Package scheduler is the Pipeline Scheduler component (spec.md §4.8): the
// core orchestrator. A fixed worker pool dequeues Jobs, runs the pipeline
// appropriate to each task kind, and records terminal status and metrics,
// grounded on the teacher's panic-recovery-with-debug.Stack() idiom
// (cmd/lung-cancer-review-api/main.go) and its StartServer two-phase
// shutdown shape (internal/api/api.go), generalized here to a worker pool
// instead of an HTTP server.
package scheduler

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/stackvity/tender-pipeline/internal/apperrors"
	"github.com/stackvity/tender-pipeline/internal/cache"
	"github.com/stackvity/tender-pipeline/internal/extractor"
	"github.com/stackvity/tender-pipeline/internal/health"
	"github.com/stackvity/tender-pipeline/internal/metrics"
	"github.com/stackvity/tender-pipeline/internal/modelclient"
	"github.com/stackvity/tender-pipeline/internal/optimizer"
	"github.com/stackvity/tender-pipeline/internal/pipeline"
	"github.com/stackvity/tender-pipeline/internal/prompt"
	"github.com/stackvity/tender-pipeline/internal/queue"
)

// Handle is what Submit returns to callers: the public, opaque identity of
// a submitted Job.
type Handle string

// Outcome is the terminal result of a Job, as observed by Await.
type Outcome struct {
	Status     pipeline.Status
	ReasonCode string
	Result     pipeline.AIResult
	Extracted  pipeline.ExtractedText
	// ChildOutcomes holds per-child results when the job's TaskKind is
	// pipeline.TaskBatch.
	ChildOutcomes []Outcome
}

// jobRecord is the scheduler's private bookkeeping for one submitted job,
// holding the synchronization primitives Await and Cancel need.
type jobRecord struct {
	job       *pipeline.Job
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	mu        sync.Mutex
	outcome   Outcome
}

// Scheduler is the Pipeline Scheduler. It owns the worker pool, the global
// rate limiter, and the service graph (extractor, prompt builder, model
// client, cache, health gate, metrics recorder, optimizer).
type Scheduler struct {
	workers   int
	queue     *queue.Queue
	limiter   *rate.Limiter
	gracePeriod time.Duration

	extractor  *extractor.Extractor
	modelClient modelclient.Client
	resultCache *cache.Cache
	healthGate  *health.Gate
	recorder    *metrics.Recorder
	optimizer   *optimizer.Optimizer

	tierModels      map[pipeline.Tier]string
	templateVersion string
	cacheTTL        time.Duration

	logger *zap.Logger

	mu      sync.Mutex
	records map[Handle]*jobRecord

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopped  chan struct{}
}

// Deps bundles the Scheduler's collaborators, constructor-injected per
// spec.md §9's re-architecture note away from module-level singletons.
type Deps struct {
	Workers         int
	Queue           *queue.Queue
	RateLimitPerMin int
	GracePeriod     time.Duration
	Extractor       *extractor.Extractor
	ModelClient     modelclient.Client
	ResultCache     *cache.Cache
	HealthGate      *health.Gate
	Recorder        *metrics.Recorder
	Optimizer       *optimizer.Optimizer
	TierModels      map[pipeline.Tier]string
	TemplateVersion string
	CacheTTL        time.Duration
	Logger          *zap.Logger
}

// New builds a Scheduler. Call Start to launch the worker pool.
func New(d Deps) *Scheduler {
	var limiter *rate.Limiter
	if d.RateLimitPerMin > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(d.RateLimitPerMin)/60.0), d.RateLimitPerMin)
	}

	return &Scheduler{
		workers:         d.Workers,
		queue:           d.Queue,
		limiter:         limiter,
		gracePeriod:     d.GracePeriod,
		extractor:       d.Extractor,
		modelClient:     d.ModelClient,
		resultCache:     d.ResultCache,
		healthGate:      d.HealthGate,
		recorder:        d.Recorder,
		optimizer:       d.Optimizer,
		tierModels:      d.TierModels,
		templateVersion: d.TemplateVersion,
		cacheTTL:        d.CacheTTL,
		logger:          d.Logger.Named("scheduler"),
		records:         make(map[Handle]*jobRecord),
		stopped:         make(chan struct{}),
	}
}

// Start launches the fixed worker pool.
func (s *Scheduler) Start() {
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.runWorker(i)
	}
}

// runWorker is one pool slot: it dequeues jobs in a loop until the queue is
// closed, isolating panics per spec.md §4.8 step 7 so a single worker's
// failure never takes down the pool.
func (s *Scheduler) runWorker(id int) {
	defer s.wg.Done()

	for {
		job, ok := s.queue.Dequeue()
		if !ok {
			return
		}
		s.executeWithRecovery(id, job)
	}
}

func (s *Scheduler) executeWithRecovery(workerID int, job *pipeline.Job) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("worker panic recovered",
				zap.Int("worker_id", workerID),
				zap.String("job_id", job.ID),
				zap.Any("panic", r),
				zap.String("stack", string(debug.Stack())))
			s.finish(job, Outcome{Status: pipeline.StatusFailed, ReasonCode: string(apperrors.CodeInternal)})
		}
	}()
	s.execute(job)
}

// register creates job's bookkeeping record, resolving an already-past
// deadline immediately to timed_out. expired reports whether the job was
// settled this way, in which case the caller must not dispatch it further.
func (s *Scheduler) register(job *pipeline.Job) (handle Handle, rec *jobRecord, expired bool) {
	handle = Handle(job.ID)

	now := time.Now()
	ctx, cancel := context.WithCancel(context.Background())
	if job.Deadline != nil {
		if job.HasDeadlinePassed(now) {
			cancel()
			rec = &jobRecord{job: job, ctx: ctx, cancel: cancel, done: make(chan struct{})}
			rec.outcome = Outcome{Status: pipeline.StatusTimedOut, ReasonCode: string(apperrors.CodeTimedOut)}
			close(rec.done)
			s.mu.Lock()
			s.records[handle] = rec
			s.mu.Unlock()
			job.Status = pipeline.StatusTimedOut
			return handle, rec, true
		}
		var deadlineCancel context.CancelFunc
		ctx, deadlineCancel = context.WithDeadline(ctx, *job.Deadline)
		inner := cancel
		cancel = func() { deadlineCancel(); inner() }
	}

	job.Status = pipeline.StatusPending
	job.SubmittedAt = now

	rec = &jobRecord{job: job, ctx: ctx, cancel: cancel, done: make(chan struct{})}
	s.mu.Lock()
	s.records[handle] = rec
	s.mu.Unlock()
	return handle, rec, false
}

// Submit registers job with the scheduler and enqueues it onto the shared
// worker pool. The queue applies its own configured enqueue policy when it
// is at capacity; the scheduler itself only tracks bookkeeping and honors
// deadlines already in the past.
func (s *Scheduler) Submit(job *pipeline.Job) (Handle, error) {
	handle, rec, expired := s.register(job)
	if expired {
		return handle, nil
	}

	if err := s.queue.Enqueue(job); err != nil {
		rec.cancel()
		s.finish(job, Outcome{Status: pipeline.StatusFailed, ReasonCode: string(apperrors.CodeOf(err))})
		return handle, err
	}

	return handle, nil
}

// submitDirect registers job and runs it on its own goroutine outside the
// shared worker pool, rather than through the queue. executeBatch uses this
// for its children: a batch job's own worker slot would otherwise be the
// only thing available to dequeue those children, deadlocking whenever
// Workers is small enough that the parent occupies every slot.
func (s *Scheduler) submitDirect(job *pipeline.Job) (Handle, error) {
	handle, _, expired := s.register(job)
	if expired {
		return handle, nil
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.executeWithRecovery(-1, job)
	}()

	return handle, nil
}

// Await blocks up to waitTimeout for the job identified by handle to reach
// a terminal state. It never cancels the job.
func (s *Scheduler) Await(handle Handle, waitTimeout time.Duration) (Outcome, error) {
	s.mu.Lock()
	rec, ok := s.records[handle]
	s.mu.Unlock()
	if !ok {
		return Outcome{}, apperrors.New(apperrors.CodeUnknownHandle, "scheduler", "unknown handle", nil)
	}

	if waitTimeout <= 0 {
		<-rec.done
		return rec.snapshot(), nil
	}

	select {
	case <-rec.done:
		return rec.snapshot(), nil
	case <-time.After(waitTimeout):
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return Outcome{Status: rec.job.Status}, nil
	}
}

// Cancel requests cancellation of the job identified by handle. It reports
// unknown-handle if handle was never submitted, and returns (false, nil) if
// the job is already terminal.
func (s *Scheduler) Cancel(handle Handle) (bool, error) {
	s.mu.Lock()
	rec, ok := s.records[handle]
	s.mu.Unlock()
	if !ok {
		return false, apperrors.New(apperrors.CodeUnknownHandle, "scheduler", "unknown handle", nil)
	}

	rec.mu.Lock()
	terminal := rec.job.Status.Terminal()
	rec.mu.Unlock()
	if terminal {
		return false, nil
	}

	rec.cancel()
	return true, nil
}

func (r *jobRecord) snapshot() Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outcome
}

// finish marks job terminal with outcome and wakes any Await callers. It is
// the single place job.Status is mutated out of running, per spec.md
// §4.8's state machine ("Only the scheduler may cause transitions out of
// running").
func (s *Scheduler) finish(job *pipeline.Job, outcome Outcome) {
	s.mu.Lock()
	rec, ok := s.records[Handle(job.ID)]
	s.mu.Unlock()
	if !ok {
		return
	}

	now := time.Now()
	rec.mu.Lock()
	if rec.job.Status.Terminal() {
		rec.mu.Unlock()
		return
	}
	rec.job.Status = outcome.Status
	rec.job.EndedAt = &now
	rec.job.ReasonCode = outcome.ReasonCode
	rec.outcome = outcome
	rec.mu.Unlock()

	// Release the job's context (and wake anything selecting on ctx.Done,
	// e.g. a batch parent's cascading-cancellation watcher) now that it is
	// terminal, regardless of whether it ended via cancellation.
	rec.cancel()
	close(rec.done)
}

// Shutdown implements spec.md §5's two-phase shutdown: stop accepting new
// submissions (the caller is expected to stop calling Submit), then close
// the queue so workers drain naturally, waiting up to gracePeriod before
// force-cancelling anything still running.
func (s *Scheduler) Shutdown(ctx context.Context) {
	s.stopOnce.Do(func() {
		close(s.stopped)
		s.queue.Close()

		for _, job := range s.queue.Drain() {
			s.mu.Lock()
			rec, ok := s.records[Handle(job.ID)]
			s.mu.Unlock()
			if ok {
				rec.cancel()
			}
			s.finish(job, Outcome{Status: pipeline.StatusCancelled, ReasonCode: string(apperrors.CodeCancelled)})
		}

		grace := s.gracePeriod
		if grace <= 0 {
			grace = 30 * time.Second
		}
		deadline, cancel := context.WithTimeout(ctx, grace)
		defer cancel()

		waitDone := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(waitDone)
		}()

		select {
		case <-waitDone:
			s.logger.Info("scheduler drained cleanly")
		case <-deadline.Done():
			s.logger.Warn("shutdown grace period expired, force-cancelling remaining jobs")
			s.cancelAllRunning()
			<-waitDone
		}
	})
}

func (s *Scheduler) cancelAllRunning() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.records {
		rec.mu.Lock()
		terminal := rec.job.Status.Terminal()
		rec.mu.Unlock()
		if !terminal {
			rec.cancel()
		}
	}
}

// recordMetric records a MetricSample via the recorder, tagged with the
// job's task kind and the model tier used.
func (s *Scheduler) recordMetric(operation string, job *pipeline.Job, tier pipeline.Tier, outcomeCode string, latency time.Duration, tokensIn, tokensOut int) {
	s.recorder.Record(pipeline.MetricSample{
		Operation:   operation,
		TaskKind:    job.TaskKind,
		Tier:        tier,
		OutcomeCode: outcomeCode,
		LatencyMS:   latency.Milliseconds(),
		TokensIn:    tokensIn,
		TokensOut:   tokensOut,
		Timestamp:   time.Now(),
	})
}

func jobLogFields(job *pipeline.Job) []zap.Field {
	return []zap.Field{
		zap.String("job_id", job.ID),
		zap.String("task_kind", string(job.TaskKind)),
		zap.String("correlation_id", job.CorrelationID),
		zap.Int("priority", int(job.Priority)),
	}
}
