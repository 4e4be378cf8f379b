package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFingerprintStableAcrossWhitespace(t *testing.T) {
	a := Fingerprint(TaskExtractTender, "1.0.0", TierBalanced, "hello   world", map[string]string{"x": "1"})
	b := Fingerprint(TaskExtractTender, "1.0.0", TierBalanced, "  hello\nworld  ", map[string]string{"x": "1"})
	assert.Equal(t, a, b)
}

func TestFingerprintStableAcrossParamOrder(t *testing.T) {
	a := Fingerprint(TaskAnalyzeRisk, "1.0.0", TierSmall, "text", map[string]string{"a": "1", "b": "2"})
	b := Fingerprint(TaskAnalyzeRisk, "1.0.0", TierSmall, "text", map[string]string{"b": "2", "a": "1"})
	assert.Equal(t, a, b)
}

func TestFingerprintDiffersByTier(t *testing.T) {
	a := Fingerprint(TaskAnalyzeRisk, "1.0.0", TierSmall, "text", nil)
	b := Fingerprint(TaskAnalyzeRisk, "1.0.0", TierLarge, "text", nil)
	assert.NotEqual(t, a, b)
}

func TestFingerprintDiffersByTask(t *testing.T) {
	a := Fingerprint(TaskAnalyzeRisk, "1.0.0", TierSmall, "text", nil)
	b := Fingerprint(TaskGenerateQuotation, "1.0.0", TierSmall, "text", nil)
	assert.NotEqual(t, a, b)
}
