// Package modelclient is the single-endpoint HTTP client to the
// locally-hosted LLM runtime, generalized from the teacher's
// internal/gemini (interface + struct + versioned error types) from a
// cloud Gemini API to an OpenAI/Ollama-compatible chat-completions
// endpoint (see DESIGN.md for why net/http is used directly here: no
// ecosystem client for this protocol appears anywhere in the example
// corpus).
package modelclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/stackvity/tender-pipeline/internal/apperrors"
	"github.com/stackvity/tender-pipeline/internal/logging"
	"github.com/stackvity/tender-pipeline/internal/pipeline"
)

// Client is the Model Client component (spec.md §4.3).
type Client interface {
	// Generate sends a finalized prompt to the runtime and returns the raw
	// text response plus token counters. req.Timeout bounds a single
	// attempt; retries are added by wrapping a Client in RetryingClient.
	Generate(ctx context.Context, req Request) (Response, error)
	// ListModels reports the runtime's currently known models, used by the
	// Health Gate (spec.md §4.5).
	ListModels(ctx context.Context) ([]pipeline.ModelAvailability, error)
}

// Request is one generation call.
type Request struct {
	Model   string
	Prompt  string
	Timeout time.Duration
	Options Options
}

// Options mirrors spec.md §6's recognized generation options; unknown
// options passed through the runtime are ignored by the runtime itself.
type Options struct {
	Temperature float64
	NumCtx      int
	NumPredict  int
	Stop        []string
}

// Response is the runtime's reply plus token counters and elapsed time.
type Response struct {
	Text      string
	TokensIn  int
	TokensOut int
	Elapsed   time.Duration
}

// HTTPClient is the default Client implementation: an OpenAI-compatible
// POST /chat/completions (and GET /models) HTTP caller, modeled on
// cpcloud-micasa's internal/config.LLM.BaseURL convention
// (default http://localhost:11434/v1 for Ollama).
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewHTTPClient builds an HTTPClient against baseURL (e.g.
// "http://localhost:11434/v1").
func NewHTTPClient(baseURL string, logger *zap.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL:    baseURL,
		httpClient: &http.Client{},
		logger:     logger.Named("modelclient"),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model       string   `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64  `json:"temperature,omitempty"`
	Stop        []string `json:"stop,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
}

type chatCompletionChoice struct {
	Message chatMessage `json:"message"`
}

type chatCompletionUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type chatCompletionResponse struct {
	Choices []chatCompletionChoice `json:"choices"`
	Usage   chatCompletionUsage    `json:"usage"`
}

// Generate implements Client.
func (c *HTTPClient) Generate(ctx context.Context, req Request) (Response, error) {
	requestID := logging.JobID(ctx)
	const operation = "HTTPClient.Generate"

	ctx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	payload := chatCompletionRequest{
		Model:       req.Model,
		Messages:    []chatMessage{{Role: "user", Content: req.Prompt}},
		Temperature: req.Options.Temperature,
		Stop:        req.Options.Stop,
		MaxTokens:   req.Options.NumPredict,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Response{}, apperrors.Newf(apperrors.CodeInternal, "modelclient", err, "marshaling request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Response{}, apperrors.Newf(apperrors.CodeInternal, "modelclient", err, "building request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	c.logger.Debug("model client request", zap.String("operation", operation), zap.String("request_id", requestID), zap.String("model", req.Model))

	start := time.Now()
	httpResp, err := c.httpClient.Do(httpReq)
	elapsed := time.Since(start)
	if err != nil {
		switch {
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			return Response{}, apperrors.Newf(apperrors.CodeModelTimeout, "modelclient", err, "request to %s timed out", c.baseURL)
		case errors.Is(ctx.Err(), context.Canceled):
			return Response{}, apperrors.Newf(apperrors.CodeCancelled, "modelclient", err, "request to %s cancelled", c.baseURL)
		}
		return Response{}, apperrors.Newf(apperrors.CodeModelUnreachable, "modelclient", err, "request to %s failed", c.baseURL)
	}
	defer httpResp.Body.Close()

	respBytes, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return Response{}, apperrors.Newf(apperrors.CodeModelUnreachable, "modelclient", err, "reading response body")
	}

	if httpResp.StatusCode == http.StatusServiceUnavailable || httpResp.StatusCode == http.StatusNotFound {
		return Response{}, apperrors.Newf(apperrors.CodeModelUnavailable, "modelclient", nil,
			"model %q unavailable (status %d)", req.Model, httpResp.StatusCode)
	}
	if httpResp.StatusCode != http.StatusOK {
		return Response{}, apperrors.Newf(apperrors.CodeModelUnreachable, "modelclient", nil,
			"unexpected status %d from model runtime: %s", httpResp.StatusCode, string(respBytes))
	}

	var parsed chatCompletionResponse
	if err := json.Unmarshal(respBytes, &parsed); err != nil {
		return Response{}, apperrors.Newf(apperrors.CodeModelOutputInvalid, "modelclient", err, "parsing chat completion response")
	}
	if len(parsed.Choices) == 0 {
		return Response{}, apperrors.New(apperrors.CodeModelOutputInvalid, "modelclient", "chat completion response had no choices", nil)
	}

	c.logger.Debug("model client response", zap.String("operation", operation), zap.String("request_id", requestID),
		zap.Duration("latency", elapsed), zap.Int("tokens_in", parsed.Usage.PromptTokens), zap.Int("tokens_out", parsed.Usage.CompletionTokens))

	return Response{
		Text:      parsed.Choices[0].Message.Content,
		TokensIn:  parsed.Usage.PromptTokens,
		TokensOut: parsed.Usage.CompletionTokens,
		Elapsed:   elapsed,
	}, nil
}

type modelsListResponse struct {
	Models []struct {
		Name string `json:"id"`
	} `json:"data"`
}

// ListModels implements Client.
func (c *HTTPClient) ListModels(ctx context.Context) ([]pipeline.ModelAvailability, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return nil, apperrors.Newf(apperrors.CodeInternal, "modelclient", err, "building list-models request")
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, apperrors.Newf(apperrors.CodeModelUnreachable, "modelclient", err, "list models request to %s failed", c.baseURL)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, apperrors.Newf(apperrors.CodeModelUnreachable, "modelclient", nil, "unexpected status %d listing models", httpResp.StatusCode)
	}

	var parsed modelsListResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&parsed); err != nil {
		return nil, apperrors.Newf(apperrors.CodeModelOutputInvalid, "modelclient", err, "parsing models list response")
	}

	out := make([]pipeline.ModelAvailability, 0, len(parsed.Models))
	for _, m := range parsed.Models {
		out = append(out, pipeline.ModelAvailability{Name: m.Name, Loaded: true})
	}
	return out, nil
}
