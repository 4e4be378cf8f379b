// Package prompt holds versioned, parameterized prompt templates for the
// model client, grounded on cpcloud-micasa's internal/llm/prompt.go
// preamble+schema+rules string-builder pattern.
package prompt

import (
	"fmt"
	"sort"
	"strings"

	"github.com/stackvity/tender-pipeline/internal/apperrors"
	"github.com/stackvity/tender-pipeline/internal/pipeline"
)

// Rendered is a finalized prompt ready to send to the model client.
type Rendered struct {
	Prompt          string
	TemplateVersion string
	Truncated       bool
}

// contextBudgetChars bounds the text field before truncation kicks in
// (spec.md §4.2: "inputs exceeding the model's configured context budget
// are truncated deterministically from the tail").
const contextBudgetChars = 24000

// Build renders a prompt for (task, inputs, tier). Missing required inputs
// report prompt-input-missing; oversize text is truncated from the tail.
func Build(task pipeline.TaskKind, templateVersion string, tier pipeline.Tier, text string, params map[string]string) (Rendered, error) {
	if strings.TrimSpace(text) == "" {
		return Rendered{}, apperrors.New(apperrors.CodePromptInputMissing, "prompt", "document text is required", nil)
	}

	truncated := false
	if len(text) > contextBudgetChars {
		text = text[:contextBudgetChars]
		truncated = true
	}

	var body string
	switch task {
	case pipeline.TaskExtractTender:
		body = buildExtractTenderPrompt(text, params)
	case pipeline.TaskGenerateQuotation:
		body = buildGenerateQuotationPrompt(text, params)
	case pipeline.TaskAnalyzeRisk:
		body = buildAnalyzeRiskPrompt(text, params)
	default:
		return Rendered{}, apperrors.Newf(apperrors.CodePromptInputMissing, "prompt", nil, "no template for task kind %q", task)
	}

	return Rendered{Prompt: body, TemplateVersion: templateVersion, Truncated: truncated}, nil
}

// BuildRepair renders a follow-up prompt asking the model to re-emit its
// previous response in the required shape (spec.md §4.3/§7: on
// model-output-invalid, the client retries at most once with a "repair"
// prompt before surfacing the error).
func BuildRepair(task pipeline.TaskKind, templateVersion string, rawResponse string) (Rendered, error) {
	var schema string
	switch task {
	case pipeline.TaskExtractTender:
		schema = extractTenderSchema
	case pipeline.TaskGenerateQuotation:
		schema = quotationSchema
	case pipeline.TaskAnalyzeRisk:
		schema = riskSchema
	default:
		return Rendered{}, apperrors.Newf(apperrors.CodePromptInputMissing, "prompt", nil, "no repair template for task kind %q", task)
	}

	var b strings.Builder
	b.WriteString(repairPreamble)
	b.WriteString("\n\n")
	b.WriteString(schema)
	b.WriteString("\n\n## Your previous response\n\n")
	b.WriteString(rawResponse)

	return Rendered{Prompt: b.String(), TemplateVersion: templateVersion}, nil
}

const repairPreamble = `Your previous response below did not parse as valid JSON matching the required schema. Re-emit your answer as a single valid JSON object matching the schema exactly. Return ONLY the JSON object: no markdown fences, no commentary, no repetition of this instruction.`

func buildExtractTenderPrompt(text string, params map[string]string) string {
	var b strings.Builder
	b.WriteString(extractTenderPreamble)
	b.WriteString("\n\n")
	b.WriteString(extractTenderSchema)
	b.WriteString("\n\n")
	b.WriteString(extractTenderRules)
	writeParams(&b, params)
	writeDocument(&b, text)
	return b.String()
}

func buildGenerateQuotationPrompt(text string, params map[string]string) string {
	var b strings.Builder
	b.WriteString(quotationPreamble)
	b.WriteString("\n\n")
	b.WriteString(quotationSchema)
	b.WriteString("\n\n")
	b.WriteString(quotationRules)
	writeParams(&b, params)
	writeDocument(&b, text)
	return b.String()
}

func buildAnalyzeRiskPrompt(text string, params map[string]string) string {
	var b strings.Builder
	b.WriteString(riskPreamble)
	b.WriteString("\n\n")
	b.WriteString(riskSchema)
	b.WriteString("\n\n")
	b.WriteString(riskRules)
	writeParams(&b, params)
	writeDocument(&b, text)
	return b.String()
}

func writeParams(b *strings.Builder, params map[string]string) {
	if len(params) == 0 {
		return
	}
	b.WriteString("\n\n## Parameters\n\n")
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(b, "%s: %s\n", k, params[k])
	}
}

func writeDocument(b *strings.Builder, text string) {
	b.WriteString("\n\n---\n\n")
	b.WriteString(text)
}

const extractTenderPreamble = `You are a procurement analyst assistant. Given the extracted text of a tender document, return a JSON object describing its key metadata. Fill only the fields you can confidently extract; omit fields you cannot determine.`

const extractTenderSchema = `## Output schema

Return ONLY a JSON object with these fields:

{
  "title": "short descriptive title of the tender",
  "issuing_authority": "name of the body issuing the tender",
  "reference_number": "tender reference or id, if stated",
  "submission_deadline": "2025-01-15",
  "estimated_value_cents": 150000000,
  "currency": "ISO 4217 code, e.g. USD",
  "line_items": [
    {"description": "item description", "quantity": 10, "unit": "units"}
  ],
  "eligibility_notes": "summary of eligibility criteria",
  "summary": "one-paragraph summary"
}`

const extractTenderRules = `## Rules

1. Return ONLY valid JSON. No markdown fences, no commentary.
2. All fields are optional; omit what you cannot determine confidently.
3. Money values are integer cents. Never use floats.
4. Dates are ISO 8601 (YYYY-MM-DD).
5. Keep summary to one paragraph.`

const quotationPreamble = `You are a bid-preparation assistant. Given a tender's extracted text, draft a structured commercial quotation responding to it.`

const quotationSchema = `## Output schema

Return ONLY a JSON object:

{
  "line_items": [
    {"description": "string", "quantity": 1, "unit_price_cents": 10000, "total_cents": 10000}
  ],
  "subtotal_cents": 0,
  "tax_cents": 0,
  "total_cents": 0,
  "currency": "ISO 4217 code",
  "validity_days": 30,
  "notes": "assumptions or caveats"
}`

const quotationRules = `## Rules

1. Return ONLY valid JSON. No markdown fences, no commentary.
2. All money values are integer cents.
3. total_cents for each line item must equal quantity * unit_price_cents.
4. subtotal_cents must equal the sum of all line item total_cents.`

const riskPreamble = `You are a procurement risk analyst. Given a tender's extracted text, assess the risk of bidding on or fulfilling it.`

const riskSchema = `## Output schema

Return ONLY a JSON object:

{
  "risk_score": 0.35,
  "complexity": "LOW|MEDIUM|HIGH",
  "risk_factors": ["string", "string"],
  "mitigations": ["string"],
  "summary": "one-paragraph rationale"
}`

const riskRules = `## Rules

1. Return ONLY valid JSON. No markdown fences, no commentary.
2. risk_score is a float in [0,1], higher means riskier.
3. complexity must be one of LOW, MEDIUM, HIGH.
4. List at most 5 risk_factors and 5 mitigations.`
