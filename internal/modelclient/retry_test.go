package modelclient

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/stackvity/tender-pipeline/internal/apperrors"
	"github.com/stackvity/tender-pipeline/internal/pipeline"
)

type stubClient struct {
	calls     int
	failTimes int
	failCode  apperrors.Code
	resp      Response
}

func (s *stubClient) Generate(ctx context.Context, req Request) (Response, error) {
	s.calls++
	if s.calls <= s.failTimes {
		return Response{}, apperrors.New(s.failCode, "stub", "injected failure", nil)
	}
	return s.resp, nil
}

func (s *stubClient) ListModels(ctx context.Context) ([]pipeline.ModelAvailability, error) {
	return nil, nil
}

func TestRetryingClientRetriesTransientFailures(t *testing.T) {
	stub := &stubClient{failTimes: 2, failCode: apperrors.CodeModelUnreachable, resp: Response{Text: "ok"}}
	rc := NewRetryingClient(stub, RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond}, zap.NewNop())

	resp, err := rc.Generate(context.Background(), Request{Timeout: time.Second})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)
	assert.Equal(t, 3, stub.calls)
}

func TestRetryingClientDoesNotRetryModelUnavailable(t *testing.T) {
	stub := &stubClient{failTimes: 10, failCode: apperrors.CodeModelUnavailable}
	rc := NewRetryingClient(stub, RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond}, zap.NewNop())

	_, err := rc.Generate(context.Background(), Request{Timeout: time.Second})
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeModelUnavailable, apperrors.CodeOf(err))
	assert.Equal(t, 1, stub.calls)
}

func TestRetryingClientGivesUpAfterMaxAttempts(t *testing.T) {
	stub := &stubClient{failTimes: 10, failCode: apperrors.CodeModelTimeout}
	rc := NewRetryingClient(stub, RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond}, zap.NewNop())

	_, err := rc.Generate(context.Background(), Request{Timeout: time.Second})
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeModelTimeout, apperrors.CodeOf(err))
	assert.Equal(t, 3, stub.calls)
}
