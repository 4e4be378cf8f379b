package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/stackvity/tender-pipeline/internal/apperrors"
	"github.com/stackvity/tender-pipeline/internal/modelclient"
	"github.com/stackvity/tender-pipeline/internal/pipeline"
	"github.com/stackvity/tender-pipeline/internal/prompt"
)

// execute runs the pipeline appropriate for job.TaskKind (spec.md §4.8 step
// 3) and always leaves job in a terminal status via finish.
func (s *Scheduler) execute(job *pipeline.Job) {
	ctx := s.jobContext(job)

	rec, ok := s.recordOf(job)
	if !ok {
		return
	}
	rec.mu.Lock()
	rec.job.Status = pipeline.StatusRunning
	started := time.Now()
	rec.job.StartedAt = &started
	rec.mu.Unlock()

	select {
	case <-ctx.Done():
		s.finish(job, cancellationOutcome(ctx))
		return
	default:
	}

	switch job.TaskKind {
	case pipeline.TaskExtractText:
		s.executeExtractOnly(ctx, job)
	case pipeline.TaskExtractTender, pipeline.TaskGenerateQuotation, pipeline.TaskAnalyzeRisk:
		s.executeModelBound(ctx, job)
	case pipeline.TaskBatch:
		s.executeBatch(ctx, job)
	default:
		s.finish(job, Outcome{Status: pipeline.StatusFailed, ReasonCode: string(apperrors.CodeInternal)})
	}
}

func (s *Scheduler) jobContext(job *pipeline.Job) context.Context {
	s.mu.Lock()
	rec, ok := s.records[Handle(job.ID)]
	s.mu.Unlock()
	if !ok {
		return context.Background()
	}
	return rec.ctx
}

func (s *Scheduler) recordOf(job *pipeline.Job) (*jobRecord, bool) {
	s.mu.Lock()
	rec, ok := s.records[Handle(job.ID)]
	s.mu.Unlock()
	return rec, ok
}

func cancellationOutcome(ctx context.Context) Outcome {
	if ctx.Err() == context.DeadlineExceeded {
		return Outcome{Status: pipeline.StatusTimedOut, ReasonCode: string(apperrors.CodeTimedOut)}
	}
	return Outcome{Status: pipeline.StatusCancelled, ReasonCode: string(apperrors.CodeCancelled)}
}

// executeExtractOnly implements the extract_text pipeline: C1 only.
func (s *Scheduler) executeExtractOnly(ctx context.Context, job *pipeline.Job) {
	extracted, err := s.extractor.Extract(ctx, job.Input)
	if err != nil {
		s.finishWithError(job, err)
		return
	}
	s.finish(job, Outcome{Status: pipeline.StatusSucceeded, Extracted: extracted})
}

// executeModelBound implements the extract_tender / generate_quotation /
// analyze_risk pipeline: C1 -> tier selection (C10) -> fingerprint ->
// cache lookup (C4) -> on miss: health check (C5) -> prompt build (C2) ->
// model call and parse (C3, within single-flight) -> cache store (C4).
func (s *Scheduler) executeModelBound(ctx context.Context, job *pipeline.Job) {
	extracted, err := s.extractor.Extract(ctx, job.Input)
	if err != nil {
		s.finishWithError(job, err)
		return
	}

	tier, timeout := s.optimizer.Decide(job.TaskKind, job.Deadline, time.Now())
	if timeout <= 0 {
		s.finish(job, Outcome{Status: pipeline.StatusTimedOut, ReasonCode: string(apperrors.CodeTimedOut), Extracted: extracted})
		return
	}

	fp := pipeline.Fingerprint(job.TaskKind, s.templateVersion, tier, extracted.Text, nil)

	if result, hit := s.resultCache.Get(fp); hit {
		s.recordMetric("model.generate:"+string(job.TaskKind)+":"+string(tier), job, tier, "cache-hit", 0, 0, 0)
		s.finish(job, Outcome{Status: pipeline.StatusSucceeded, Result: result, Extracted: extracted})
		return
	}

	modelName := s.tierModels[tier]
	if s.healthGate != nil && !s.healthGate.IsReady(modelName) {
		s.finish(job, Outcome{Status: pipeline.StatusFailed, ReasonCode: string(apperrors.CodeModelUnavailable), Extracted: extracted})
		return
	}

	result, _, err := s.resultCache.GetOrCompute(fp, s.cacheTTL, func() (pipeline.AIResult, error) {
		return s.callModel(ctx, job, extracted, tier, modelName, timeout, fp)
	})
	if err != nil {
		s.finishWithError(job, err)
		return
	}

	s.finish(job, Outcome{Status: pipeline.StatusSucceeded, Result: result, Extracted: extracted})
}

func (s *Scheduler) callModel(ctx context.Context, job *pipeline.Job, extracted pipeline.ExtractedText, tier pipeline.Tier, modelName string, timeout time.Duration, fp pipeline.PromptFingerprint) (pipeline.AIResult, error) {
	rendered, err := prompt.Build(job.TaskKind, s.templateVersion, tier, extracted.Text, nil)
	if err != nil {
		return pipeline.AIResult{}, err
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if s.limiter != nil {
		if err := s.limiter.Wait(callCtx); err != nil {
			return pipeline.AIResult{}, apperrors.New(apperrors.CodeCancelled, "scheduler", "rate limit wait cancelled", err)
		}
	}

	operation := "model.generate:" + string(job.TaskKind) + ":" + string(tier)

	start := time.Now()
	resp, err := s.modelClient.Generate(callCtx, modelclient.Request{Model: modelName, Prompt: rendered.Prompt, Timeout: timeout})
	latency := time.Since(start)
	if err != nil {
		s.recordMetric(operation, job, tier, string(apperrors.CodeOf(err)), latency, 0, 0)
		return pipeline.AIResult{}, err
	}

	parsed, parseErr := parseResponse(job.TaskKind, resp.Text)
	if parseErr != nil {
		repaired, repairResp, repairErr := s.repairResponse(callCtx, job.TaskKind, modelName, timeout, resp.Text)
		if repairErr != nil {
			s.recordMetric(operation, job, tier, string(apperrors.CodeModelOutputInvalid), latency, resp.TokensIn, resp.TokensOut)
			return pipeline.AIResult{}, repairErr
		}
		parsed = repaired
		resp.TokensIn += repairResp.TokensIn
		resp.TokensOut += repairResp.TokensOut
		resp.Text = repairResp.Text
		latency = time.Since(start)
	}

	s.recordMetric(operation, job, tier, "success", latency, resp.TokensIn, resp.TokensOut)

	return pipeline.AIResult{
		TaskKind:    job.TaskKind,
		Tier:        tier,
		RawResponse: resp.Text,
		Parsed:      parsed,
		TokensIn:    resp.TokensIn,
		TokensOut:   resp.TokensOut,
		Latency:     latency,
		Fingerprint: fp,
		CompletedAt: time.Now(),
	}, nil
}

// repairResponse implements spec.md §7's single-repair-attempt policy for
// model-output-invalid: when the first response fails to parse, issue one
// extra call with a repair prompt asking the model to re-emit its answer in
// the required shape, then parse that response once. No further repair is
// attempted.
func (s *Scheduler) repairResponse(ctx context.Context, task pipeline.TaskKind, modelName string, timeout time.Duration, rawResponse string) (any, modelclient.Response, error) {
	rendered, err := prompt.BuildRepair(task, s.templateVersion, rawResponse)
	if err != nil {
		return nil, modelclient.Response{}, err
	}

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, modelclient.Response{}, apperrors.New(apperrors.CodeCancelled, "scheduler", "rate limit wait cancelled", err)
		}
	}

	resp, err := s.modelClient.Generate(ctx, modelclient.Request{Model: modelName, Prompt: rendered.Prompt, Timeout: timeout})
	if err != nil {
		return nil, modelclient.Response{}, err
	}

	parsed, parseErr := parseResponse(task, resp.Text)
	if parseErr != nil {
		return nil, resp, apperrors.Newf(apperrors.CodeModelOutputInvalid, "scheduler", parseErr, "model response for %s did not parse after repair attempt", task)
	}
	return parsed, resp, nil
}

// parseResponse strips markdown code fences and extracts the first balanced
// JSON object from raw before parsing it into task's result shape.
func parseResponse(task pipeline.TaskKind, raw string) (any, error) {
	cleaned := prompt.StripCodeFences(raw)
	candidate, ok := prompt.ExtractJSON(cleaned)
	if !ok {
		candidate = cleaned
	}

	parsed, err := parseByTaskKind(task, candidate)
	if err != nil {
		return nil, apperrors.Newf(apperrors.CodeModelOutputInvalid, "scheduler", err, "model response for %s did not parse", task)
	}
	return parsed, nil
}

func parseByTaskKind(task pipeline.TaskKind, raw string) (any, error) {
	switch task {
	case pipeline.TaskExtractTender:
		return prompt.ParseTenderExtraction(raw)
	case pipeline.TaskGenerateQuotation:
		return prompt.ParseQuotation(raw)
	case pipeline.TaskAnalyzeRisk:
		return prompt.ParseRiskAssessment(raw)
	default:
		return nil, fmt.Errorf("no parser for task kind %s", task)
	}
}

func (s *Scheduler) finishWithError(job *pipeline.Job, err error) {
	code := apperrors.CodeOf(err)
	status := pipeline.StatusFailed
	switch code {
	case apperrors.CodeCancelled:
		status = pipeline.StatusCancelled
	case apperrors.CodeTimedOut:
		status = pipeline.StatusTimedOut
	}
	s.finish(job, Outcome{Status: status, ReasonCode: string(code)})
}
