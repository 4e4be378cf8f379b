package scheduler

import (
	"context"
	"fmt"

	"github.com/stackvity/tender-pipeline/internal/apperrors"
	"github.com/stackvity/tender-pipeline/internal/pipeline"
)

// executeBatch implements spec.md §4.8 step 3's batch pipeline: splits
// into N child jobs of job.BatchInnerKind, one per job.BatchInputs entry,
// succeeds when all children reach a terminal state, and aggregates
// per-child outcomes. Cancellation of the batch cascades to its children.
func (s *Scheduler) executeBatch(ctx context.Context, job *pipeline.Job) {
	if len(job.BatchInputs) == 0 {
		s.finish(job, Outcome{Status: pipeline.StatusFailed, ReasonCode: string(apperrors.CodePromptInputMissing)})
		return
	}

	childHandles := make([]Handle, len(job.BatchInputs))
	for i, input := range job.BatchInputs {
		child := &pipeline.Job{
			ID:            fmt.Sprintf("%s-child-%d", job.ID, i),
			TaskKind:      job.BatchInnerKind,
			Input:         input,
			CorrelationID: job.CorrelationID,
			Priority:      job.Priority,
			Deadline:      job.Deadline,
		}
		handle, err := s.submitDirect(child)
		childHandles[i] = handle
		job.BatchChildren = append(job.BatchChildren, string(handle))
		if err != nil {
			continue
		}
	}

	allDone := make(chan struct{})
	go s.cascadeCancellation(ctx, childHandles, allDone)

	outcomes := make([]Outcome, len(childHandles))
	anyFailed := false
	for i, h := range childHandles {
		outcome, err := s.Await(h, 0)
		if err != nil {
			outcome = Outcome{Status: pipeline.StatusFailed, ReasonCode: string(apperrors.CodeInternal)}
		}
		outcomes[i] = outcome
		if outcome.Status != pipeline.StatusSucceeded {
			anyFailed = true
		}
	}
	close(allDone)

	status := pipeline.StatusSucceeded
	reason := ""
	if anyFailed {
		status = pipeline.StatusFailed
		reason = "one or more batch children failed"
	}

	s.finish(job, Outcome{Status: status, ReasonCode: reason, ChildOutcomes: outcomes})
}

// cascadeCancellation cancels every child handle if the batch job's own
// context is cancelled (explicit Cancel or deadline) before all children
// have already finished, satisfying spec.md §4.8 step 3's "batch
// cancellation cascades to children". allDone is closed by the caller once
// every child has reached a terminal state, so this goroutine never fires
// spuriously after a normal completion.
func (s *Scheduler) cascadeCancellation(ctx context.Context, children []Handle, allDone <-chan struct{}) {
	select {
	case <-ctx.Done():
		for _, h := range children {
			s.Cancel(h)
		}
	case <-allDone:
	}
}
