// Package health is the Health Gate component (spec.md §4.5): a background
// prober tracking reachability and readiness of the model runtime, exposed
// via an atomically-swapped immutable snapshot, grounded on the teacher's
// service-lifecycle structured-logging style.
package health

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/stackvity/tender-pipeline/internal/pipeline"
)

// ModelLister is the subset of the Model Client the Health Gate needs to
// probe the runtime.
type ModelLister interface {
	ListModels(ctx context.Context) ([]pipeline.ModelAvailability, error)
}

// Gate runs a background probe loop and exposes the latest HealthSnapshot.
type Gate struct {
	lister           ModelLister
	probeInterval    time.Duration
	failureThreshold int
	logger           *zap.Logger

	snapshot atomic.Pointer[pipeline.HealthSnapshot]

	mu              sync.Mutex
	consecutiveFails int
	generation      uint64

	stop chan struct{}
	done chan struct{}
}

// New builds a Gate. Call Start to begin background probing.
func New(lister ModelLister, probeInterval time.Duration, failureThreshold int, logger *zap.Logger) *Gate {
	g := &Gate{
		lister:           lister,
		probeInterval:    probeInterval,
		failureThreshold: failureThreshold,
		logger:           logger.Named("health"),
		stop:             make(chan struct{}),
		done:             make(chan struct{}),
	}
	g.snapshot.Store(&pipeline.HealthSnapshot{Reachable: false, LastCheckedAt: time.Now()})
	return g
}

// Start launches the background probe loop. Call Stop to end it.
func (g *Gate) Start(ctx context.Context) {
	go g.loop(ctx)
}

func (g *Gate) loop(ctx context.Context) {
	defer close(g.done)

	ticker := time.NewTicker(g.probeInterval)
	defer ticker.Stop()

	g.probe(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-g.stop:
			return
		case <-ticker.C:
			g.probe(ctx)
		}
	}
}

func (g *Gate) probe(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, g.probeInterval)
	defer cancel()

	models, err := g.lister.ListModels(probeCtx)

	g.mu.Lock()
	defer g.mu.Unlock()

	g.generation++
	next := &pipeline.HealthSnapshot{
		Generation:    g.generation,
		LastCheckedAt: time.Now(),
	}

	if err != nil {
		g.consecutiveFails++
		next.LastError = err.Error()
		if g.consecutiveFails >= g.failureThreshold {
			next.Reachable = false
			g.logger.Warn("model runtime marked down", zap.Int("consecutive_failures", g.consecutiveFails), zap.Error(err))
		} else {
			// Below threshold: retain the previous reachability so a lone
			// blip does not flip state (spec.md §4.5: "consecutive probe
			// failures past a threshold trigger a down state").
			next.Reachable = g.snapshot.Load().Reachable
			next.Models = g.snapshot.Load().Models
		}
	} else {
		g.consecutiveFails = 0
		next.Reachable = true
		next.Models = models
	}

	g.snapshot.Store(next)
}

// Snapshot returns the latest HealthSnapshot. Readers may observe a
// slightly stale snapshot safely; the generation counter makes staleness
// detectable.
func (g *Gate) Snapshot() pipeline.HealthSnapshot {
	return *g.snapshot.Load()
}

// IsReady reports whether modelName is currently usable. The scheduler
// calls this from the worker running the job, after text extraction and
// before dispatching to the Model Client; if false, the job fails fast with
// model-unavailable and the Model Client is not called. The job still
// occupies its worker slot until that check.
func (g *Gate) IsReady(modelName string) bool {
	snap := g.snapshot.Load()
	return snap.ModelReady(modelName)
}

// Stop ends the background probe loop and waits for it to exit.
func (g *Gate) Stop() {
	close(g.stop)
	<-g.done
}
