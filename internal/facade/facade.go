// Package facade is the Public Facade component (spec.md §4.9): the
// narrow, process-boundary-safe surface exposed to external collaborators
// (submit, await, cancel, health, metrics). It performs input validation
// and delegation only — it holds no pipeline logic of its own, grounded
// on the teacher's internal/api.API composition-root shape minus its HTTP
// transport (out of scope per spec.md §1).
package facade

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stackvity/tender-pipeline/internal/apperrors"
	"github.com/stackvity/tender-pipeline/internal/health"
	"github.com/stackvity/tender-pipeline/internal/metrics"
	"github.com/stackvity/tender-pipeline/internal/pipeline"
	"github.com/stackvity/tender-pipeline/internal/scheduler"
)

// JobSpec is the caller-facing request to Submit.
type JobSpec struct {
	TaskKind       pipeline.TaskKind
	Input          pipeline.InputRef
	Priority       pipeline.Priority
	Deadline       *time.Time
	CorrelationID  string
	BatchInnerKind pipeline.TaskKind
	BatchInputs    []pipeline.InputRef
}

// Facade is the pipeline's Public Facade.
type Facade struct {
	scheduler *scheduler.Scheduler
	health    *health.Gate
	metrics   *metrics.Recorder
	logger    *zap.Logger
}

// New builds a Facade over an already-started Scheduler.
func New(sched *scheduler.Scheduler, healthGate *health.Gate, recorder *metrics.Recorder, logger *zap.Logger) *Facade {
	return &Facade{scheduler: sched, health: healthGate, metrics: recorder, logger: logger.Named("facade")}
}

// Submit validates spec and enqueues a Job, returning a completion handle.
func (f *Facade) Submit(spec JobSpec) (scheduler.Handle, error) {
	if err := validate(spec); err != nil {
		return "", err
	}

	job := &pipeline.Job{
		ID:             uuid.NewString(),
		TaskKind:       spec.TaskKind,
		Input:          spec.Input,
		CorrelationID:  spec.CorrelationID,
		Priority:       spec.Priority,
		Deadline:       spec.Deadline,
		BatchInnerKind: spec.BatchInnerKind,
		BatchInputs:    spec.BatchInputs,
	}

	handle, err := f.scheduler.Submit(job)
	if err != nil {
		f.logger.Warn("submit failed", zap.String("job_id", job.ID), zap.Error(err))
		return handle, err
	}
	return handle, nil
}

func validate(spec JobSpec) error {
	switch spec.TaskKind {
	case pipeline.TaskExtractText, pipeline.TaskExtractTender, pipeline.TaskGenerateQuotation, pipeline.TaskAnalyzeRisk:
		if spec.Input.Path == "" && len(spec.Input.Blob) == 0 {
			return apperrors.New(apperrors.CodeValidationFailed, "facade", "input ref requires a path or a blob", nil)
		}
	case pipeline.TaskBatch:
		if len(spec.BatchInputs) == 0 {
			return apperrors.New(apperrors.CodeValidationFailed, "facade", "batch job requires at least one input", nil)
		}
		switch spec.BatchInnerKind {
		case pipeline.TaskExtractText, pipeline.TaskExtractTender, pipeline.TaskGenerateQuotation, pipeline.TaskAnalyzeRisk:
		default:
			return apperrors.Newf(apperrors.CodeValidationFailed, "facade", nil, "unsupported batch inner task kind %q", spec.BatchInnerKind)
		}
	default:
		return apperrors.Newf(apperrors.CodeValidationFailed, "facade", nil, "unsupported task kind %q", spec.TaskKind)
	}
	return nil
}

// Await blocks up to waitTimeout for handle's job to reach a terminal
// state. It never cancels the job.
func (f *Facade) Await(handle scheduler.Handle, waitTimeout time.Duration) (scheduler.Outcome, error) {
	return f.scheduler.Await(handle, waitTimeout)
}

// Cancel requests cancellation of handle's job. It reports unknown-handle
// if handle was never submitted.
func (f *Facade) Cancel(handle scheduler.Handle) (bool, error) {
	return f.scheduler.Cancel(handle)
}

// Health returns the current HealthSnapshot.
func (f *Facade) Health() pipeline.HealthSnapshot {
	return f.health.Snapshot()
}

// MetricsQuery selects which operation's Aggregate to return.
type MetricsQuery struct {
	Operation string
	TaskKind  pipeline.TaskKind
	Tier      pipeline.Tier
}

// Metrics returns the Aggregate for query. When Operation is empty it is
// derived from TaskKind/Tier using the scheduler's "model.generate:kind:tier"
// convention.
func (f *Facade) Metrics(query MetricsQuery) metrics.Aggregate {
	operation := query.Operation
	if operation == "" {
		operation = fmt.Sprintf("model.generate:%s:%s", query.TaskKind, query.Tier)
	}
	return f.metrics.Snapshot(operation)
}
