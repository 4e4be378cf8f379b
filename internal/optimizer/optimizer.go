// Package optimizer is the Performance Optimizer component (spec.md
// §4.10): a pure function of a metrics snapshot and task kind choosing a
// model tier and per-request timeout, grounded on the rolling-p95
// adaptive-rate-shifting pattern in sells-group-research-cli's
// AdaptiveLimiter, generalized from request-rate shifting to
// model-tier/timeout selection.
package optimizer

import (
	"time"

	"github.com/stackvity/tender-pipeline/internal/metrics"
	"github.com/stackvity/tender-pipeline/internal/pipeline"
)

// Config holds the optimizer's tunable thresholds. All are plain values,
// not loaded from internal/config directly, so the optimizer stays a pure
// function independent of the ambient config package.
type Config struct {
	DefaultTier           pipeline.Tier
	ShiftDownP95Threshold time.Duration
	AcceptableSuccessRate float64
	ShiftUpSuccessFloor   float64
	TimeoutFloor          time.Duration
	TimeoutCeiling        time.Duration
}

// Optimizer chooses tier and timeout for each dispatch.
type Optimizer struct {
	cfg      Config
	recorder *metrics.Recorder
}

// New builds an Optimizer reading from recorder.
func New(cfg Config, recorder *metrics.Recorder) *Optimizer {
	return &Optimizer{cfg: cfg, recorder: recorder}
}

var tierOrder = []pipeline.Tier{pipeline.TierSmall, pipeline.TierBalanced, pipeline.TierLarge}

func tierIndex(t pipeline.Tier) int {
	for i, x := range tierOrder {
		if x == t {
			return i
		}
	}
	return 1 // balanced
}

func shiftDown(t pipeline.Tier) pipeline.Tier {
	i := tierIndex(t)
	if i == 0 {
		return t
	}
	return tierOrder[i-1]
}

func shiftUp(t pipeline.Tier) pipeline.Tier {
	i := tierIndex(t)
	if i == len(tierOrder)-1 {
		return t
	}
	return tierOrder[i+1]
}

// operationKey names the metrics operation the optimizer reads for a given
// task kind and tier: each tier's latency/success history is tracked
// independently so a shift doesn't contaminate the default tier's history.
func operationKey(task pipeline.TaskKind, tier pipeline.Tier) string {
	return "model.generate:" + string(task) + ":" + string(tier)
}

// Decide picks a tier and timeout for task, given deadline (nil if none)
// relative to now. Decisions are advisory except for deadline-bound jobs,
// where the scheduler's deadline always wins (spec.md §4.10).
func (o *Optimizer) Decide(task pipeline.TaskKind, deadline *time.Time, now time.Time) (pipeline.Tier, time.Duration) {
	tier := o.cfg.DefaultTier
	if tier == "" {
		tier = pipeline.TierBalanced
	}

	agg := o.recorder.Snapshot(operationKey(task, tier))
	if agg.Count > 0 {
		p95 := time.Duration(agg.P95Latency) * time.Millisecond
		switch {
		case p95 > o.cfg.ShiftDownP95Threshold && agg.SuccessRate >= o.cfg.AcceptableSuccessRate:
			tier = shiftDown(tier)
		case agg.SuccessRate < o.cfg.ShiftUpSuccessFloor:
			tier = shiftUp(tier)
		}
	}

	timeout := o.timeoutFor(task, tier)

	if deadline != nil {
		remaining := deadline.Sub(now)
		if remaining <= 0 {
			return tier, 0
		}
		if remaining < timeout {
			timeout = remaining
			tier = o.tierFittingDeadline(task, remaining)
		}
	}

	return tier, timeout
}

func (o *Optimizer) timeoutFor(task pipeline.TaskKind, tier pipeline.Tier) time.Duration {
	agg := o.recorder.Snapshot(operationKey(task, tier))
	floor := o.cfg.TimeoutFloor
	ceiling := o.cfg.TimeoutCeiling

	timeout := floor
	if agg.Count > 0 {
		p95 := time.Duration(agg.P95Latency) * time.Millisecond
		candidate := time.Duration(float64(p95) * 1.5)
		if candidate > timeout {
			timeout = candidate
		}
	}
	if ceiling > 0 && timeout > ceiling {
		timeout = ceiling
	}
	return timeout
}

// tierFittingDeadline picks the tier whose rolling expected latency best
// fits within remaining, preferring the smallest tier that fits; falls
// back to the smallest tier if none fit.
func (o *Optimizer) tierFittingDeadline(task pipeline.TaskKind, remaining time.Duration) pipeline.Tier {
	for _, t := range tierOrder {
		agg := o.recorder.Snapshot(operationKey(task, t))
		if agg.Count == 0 {
			continue
		}
		expected := time.Duration(agg.P95Latency) * time.Millisecond
		if expected <= remaining {
			return t
		}
	}
	return tierOrder[0]
}
