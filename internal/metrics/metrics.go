// Package metrics is the Metrics Recorder component (spec.md §4.6): a
// bounded, mutex-protected ring buffer per operation with non-blocking,
// lossy-by-default recording and snapshot aggregate queries.
package metrics

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/stackvity/tender-pipeline/internal/pipeline"
)

// Recorder records MetricSamples into a bounded rolling window per
// operation and computes aggregates over that window on demand.
type Recorder struct {
	mu          sync.Mutex
	windowSize  int
	samples     map[string][]pipeline.MetricSample
	logger      *zap.Logger
}

// NewRecorder builds a Recorder whose rolling window holds windowSize
// samples per operation.
func NewRecorder(windowSize int, logger *zap.Logger) *Recorder {
	return &Recorder{
		windowSize: windowSize,
		samples:    make(map[string][]pipeline.MetricSample),
		logger:     logger.Named("metrics"),
	}
}

// Record appends sample to its operation's ring. Non-blocking; when the
// ring is full the oldest sample is dropped (lossy mode, the default for
// hot paths per spec.md §4.6).
func (r *Recorder) Record(sample pipeline.MetricSample) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ring := r.samples[sample.Operation]
	ring = append(ring, sample)
	if len(ring) > r.windowSize {
		ring = ring[len(ring)-r.windowSize:]
	}
	r.samples[sample.Operation] = ring

	r.logger.Debug("metric recorded", zap.String("operation", sample.Operation), zap.String("task_kind", string(sample.TaskKind)),
		zap.String("outcome", sample.OutcomeCode), zap.Int64("latency_ms", sample.LatencyMS))
}

// Aggregate is a snapshot summary over an operation's rolling window.
type Aggregate struct {
	Operation   string
	Count       int
	SuccessRate float64
	P50Latency  int64
	P95Latency  int64
	TokensIn    int
	TokensOut   int
}

// Snapshot computes the Aggregate for operation over its current window.
// Snapshot reads never mutate.
func (r *Recorder) Snapshot(operation string) Aggregate {
	r.mu.Lock()
	ring := append([]pipeline.MetricSample(nil), r.samples[operation]...)
	r.mu.Unlock()

	if len(ring) == 0 {
		return Aggregate{Operation: operation}
	}

	latencies := make([]int64, len(ring))
	successes := 0
	tokensIn, tokensOut := 0, 0
	for i, s := range ring {
		latencies[i] = s.LatencyMS
		if s.OutcomeCode == "success" || s.OutcomeCode == "cache-hit" {
			successes++
		}
		tokensIn += s.TokensIn
		tokensOut += s.TokensOut
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	return Aggregate{
		Operation:   operation,
		Count:       len(ring),
		SuccessRate: float64(successes) / float64(len(ring)),
		P50Latency:  percentile(latencies, 0.50),
		P95Latency:  percentile(latencies, 0.95),
		TokensIn:    tokensIn,
		TokensOut:   tokensOut,
	}
}

func percentile(sorted []int64, p float64) int64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)-1))
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
