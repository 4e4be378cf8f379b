package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackvity/tender-pipeline/internal/apperrors"
	"github.com/stackvity/tender-pipeline/internal/pipeline"
)

func TestBuildRejectsEmptyText(t *testing.T) {
	_, err := Build(pipeline.TaskAnalyzeRisk, "1.0.0", pipeline.TierBalanced, "   ", nil)
	require.Error(t, err)
	assert.Equal(t, apperrors.CodePromptInputMissing, apperrors.CodeOf(err))
}

func TestBuildTruncatesOversizeText(t *testing.T) {
	longText := strings.Repeat("a", contextBudgetChars+500)
	r, err := Build(pipeline.TaskAnalyzeRisk, "1.0.0", pipeline.TierBalanced, longText, nil)
	require.NoError(t, err)
	assert.True(t, r.Truncated)
}

func TestBuildIncludesSortedParams(t *testing.T) {
	r, err := Build(pipeline.TaskExtractTender, "1.0.0", pipeline.TierSmall, "doc text", map[string]string{"b": "2", "a": "1"})
	require.NoError(t, err)
	posA := strings.Index(r.Prompt, "a: 1")
	posB := strings.Index(r.Prompt, "b: 2")
	assert.True(t, posA < posB, "params should render in sorted key order")
}

func TestExtractJSONFindsBalancedObject(t *testing.T) {
	raw := "```json\n{\"a\": {\"b\": 1}, \"c\": 2}\n```\ntrailing commentary"
	got, ok := ExtractJSON(raw)
	require.True(t, ok)
	assert.Equal(t, `{"a": {"b": 1}, "c": 2}`, got)
}

func TestExtractJSONHandlesStringsWithBraces(t *testing.T) {
	raw := `{"summary": "contains a } brace", "x": 1}`
	got, ok := ExtractJSON(raw)
	require.True(t, ok)
	assert.Equal(t, raw, got)
}

func TestParseTenderExtraction(t *testing.T) {
	raw := `Here is the result:
	{
	  "title": "Road Resurfacing Tender",
	  "issuing_authority": "City of Springfield",
	  "submission_deadline": "2025-03-01",
	  "estimated_value_cents": "$1,500,000.00",
	  "currency": "USD",
	  "line_items": [{"description": "Asphalt", "quantity": "500", "unit": "tons"}]
	}`
	out, err := ParseTenderExtraction(raw)
	require.NoError(t, err)
	assert.Equal(t, "Road Resurfacing Tender", out.Title)
	require.NotNil(t, out.EstimatedValueCents)
	assert.Equal(t, int64(150000000), *out.EstimatedValueCents)
	require.NotNil(t, out.SubmissionDeadline)
	require.Len(t, out.LineItems, 1)
	assert.Equal(t, 500, out.LineItems[0].Quantity)
}

func TestParseRiskAssessmentClampsScore(t *testing.T) {
	raw := `{"risk_score": 1.8, "complexity": "high", "risk_factors": ["a"], "summary": "s"}`
	out, err := ParseRiskAssessment(raw)
	require.NoError(t, err)
	assert.Equal(t, 1.0, out.RiskScore)
	assert.Equal(t, "HIGH", out.Complexity)
}

func TestParseRiskAssessmentRejectsGarbage(t *testing.T) {
	_, err := ParseRiskAssessment("not json at all")
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeModelOutputInvalid, apperrors.CodeOf(err))
}
