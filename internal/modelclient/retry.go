package modelclient

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/stackvity/tender-pipeline/internal/apperrors"
	"github.com/stackvity/tender-pipeline/internal/pipeline"
)

// RetryPolicy implements spec.md §4.3's retry and timeout policy: at most
// MaxAttempts attempts with exponential backoff from BaseDelay, doubling
// and capped at MaxDelay. Retries apply only to model-unreachable and
// model-timeout; model-unavailable is never retried.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// RetryingClient wraps a Client with RetryPolicy's backoff behavior.
type RetryingClient struct {
	inner  Client
	policy RetryPolicy
	logger *zap.Logger
}

// NewRetryingClient wraps inner with policy.
func NewRetryingClient(inner Client, policy RetryPolicy, logger *zap.Logger) *RetryingClient {
	return &RetryingClient{inner: inner, policy: policy, logger: logger.Named("modelclient.retry")}
}

// Generate retries transient failures (model-unreachable, model-timeout)
// with exponential backoff; model-unavailable is surfaced immediately so
// the caller can escalate to the health gate.
func (r *RetryingClient) Generate(ctx context.Context, req Request) (Response, error) {
	attempts := r.policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	delay := r.policy.BaseDelay

	for attempt := 1; attempt <= attempts; attempt++ {
		resp, err := r.inner.Generate(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		code := apperrors.CodeOf(err)
		if code != apperrors.CodeModelUnreachable && code != apperrors.CodeModelTimeout {
			return Response{}, err
		}
		if attempt == attempts {
			if ctx.Err() != nil {
				return Response{}, apperrors.Newf(apperrors.CodeCancelled, "modelclient", ctx.Err(), "retry wait cancelled")
			}
			break
		}

		r.logger.Warn("retrying model client call", zap.Int("attempt", attempt), zap.String("code", string(code)), zap.Error(err))

		select {
		case <-ctx.Done():
			return Response{}, apperrors.Newf(apperrors.CodeCancelled, "modelclient", ctx.Err(), "retry wait cancelled")
		case <-time.After(delay):
		}

		delay = time.Duration(math.Min(float64(delay*2), float64(r.policy.MaxDelay)))
	}

	return Response{}, lastErr
}

// ListModels delegates without retry; the health gate already probes
// periodically, so a single failed list is enough signal.
func (r *RetryingClient) ListModels(ctx context.Context) ([]pipeline.ModelAvailability, error) {
	return r.inner.ListModels(ctx)
}
