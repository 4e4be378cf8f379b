package prompt

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/stackvity/tender-pipeline/internal/apperrors"
)

// TenderExtraction is the parsed structured value for TaskExtractTender.
type TenderExtraction struct {
	Title               string
	IssuingAuthority    string
	ReferenceNumber     string
	SubmissionDeadline  *time.Time
	EstimatedValueCents *int64
	Currency            string
	LineItems           []LineItem
	EligibilityNotes    string
	Summary             string
}

// LineItem is one priced item within a tender or quotation.
type LineItem struct {
	Description    string
	Quantity       int
	Unit           string
	UnitPriceCents *int64
	TotalCents     *int64
}

// Quotation is the parsed structured value for TaskGenerateQuotation.
type Quotation struct {
	LineItems    []LineItem
	SubtotalCents *int64
	TaxCents     *int64
	TotalCents   *int64
	Currency     string
	ValidityDays int
	Notes        string
}

// RiskAssessment is the parsed structured value for TaskAnalyzeRisk.
type RiskAssessment struct {
	RiskScore   float64
	Complexity  string
	RiskFactors []string
	Mitigations []string
	Summary     string
}

var validComplexity = map[string]bool{"LOW": true, "MEDIUM": true, "HIGH": true}

type rawTenderExtraction struct {
	Title               string `json:"title"`
	IssuingAuthority    string `json:"issuing_authority"`
	ReferenceNumber     string `json:"reference_number"`
	SubmissionDeadline  string `json:"submission_deadline"`
	EstimatedValueCents any    `json:"estimated_value_cents"`
	Currency            string `json:"currency"`
	LineItems           []rawLineItem `json:"line_items"`
	EligibilityNotes    string `json:"eligibility_notes"`
	Summary             string `json:"summary"`
}

type rawLineItem struct {
	Description    string `json:"description"`
	Quantity       any    `json:"quantity"`
	Unit           string `json:"unit"`
	UnitPriceCents any    `json:"unit_price_cents"`
	TotalCents     any    `json:"total_cents"`
}

type rawQuotation struct {
	LineItems     []rawLineItem `json:"line_items"`
	SubtotalCents any    `json:"subtotal_cents"`
	TaxCents      any    `json:"tax_cents"`
	TotalCents    any    `json:"total_cents"`
	Currency      string `json:"currency"`
	ValidityDays  any    `json:"validity_days"`
	Notes         string `json:"notes"`
}

type rawRiskAssessment struct {
	RiskScore   any      `json:"risk_score"`
	Complexity  string   `json:"complexity"`
	RiskFactors []string `json:"risk_factors"`
	Mitigations []string `json:"mitigations"`
	Summary     string   `json:"summary"`
}

// ParseTenderExtraction parses a model response into a TenderExtraction,
// tolerant of markdown fences and flexible money/date representations
// (ported from cpcloud-micasa's ParseExtractionResponse).
func ParseTenderExtraction(raw string) (TenderExtraction, error) {
	jsonStr, ok := ExtractJSON(raw)
	if !ok {
		return TenderExtraction{}, apperrors.New(apperrors.CodeModelOutputInvalid, "prompt", "no balanced JSON object found in response", nil)
	}

	var resp rawTenderExtraction
	if err := json.Unmarshal([]byte(jsonStr), &resp); err != nil {
		return TenderExtraction{}, apperrors.Newf(apperrors.CodeModelOutputInvalid, "prompt", err, "parsing tender extraction json")
	}

	return TenderExtraction{
		Title:               resp.Title,
		IssuingAuthority:    resp.IssuingAuthority,
		ReferenceNumber:     resp.ReferenceNumber,
		SubmissionDeadline:  parseDate(resp.SubmissionDeadline),
		EstimatedValueCents: parseCents(resp.EstimatedValueCents),
		Currency:            resp.Currency,
		LineItems:           parseLineItems(resp.LineItems),
		EligibilityNotes:    resp.EligibilityNotes,
		Summary:             resp.Summary,
	}, nil
}

// ParseQuotation parses a model response into a Quotation.
func ParseQuotation(raw string) (Quotation, error) {
	jsonStr, ok := ExtractJSON(raw)
	if !ok {
		return Quotation{}, apperrors.New(apperrors.CodeModelOutputInvalid, "prompt", "no balanced JSON object found in response", nil)
	}

	var resp rawQuotation
	if err := json.Unmarshal([]byte(jsonStr), &resp); err != nil {
		return Quotation{}, apperrors.Newf(apperrors.CodeModelOutputInvalid, "prompt", err, "parsing quotation json")
	}

	return Quotation{
		LineItems:     parseLineItems(resp.LineItems),
		SubtotalCents: parseCents(resp.SubtotalCents),
		TaxCents:      parseCents(resp.TaxCents),
		TotalCents:    parseCents(resp.TotalCents),
		Currency:      resp.Currency,
		ValidityDays:  parsePositiveInt(resp.ValidityDays),
		Notes:         resp.Notes,
	}, nil
}

// ParseRiskAssessment parses a model response into a RiskAssessment.
func ParseRiskAssessment(raw string) (RiskAssessment, error) {
	jsonStr, ok := ExtractJSON(raw)
	if !ok {
		return RiskAssessment{}, apperrors.New(apperrors.CodeModelOutputInvalid, "prompt", "no balanced JSON object found in response", nil)
	}

	var resp rawRiskAssessment
	if err := json.Unmarshal([]byte(jsonStr), &resp); err != nil {
		return RiskAssessment{}, apperrors.Newf(apperrors.CodeModelOutputInvalid, "prompt", err, "parsing risk assessment json")
	}

	score := parseFloat(resp.RiskScore)
	score = math.Max(0, math.Min(1, score))

	complexity := strings.ToUpper(strings.TrimSpace(resp.Complexity))
	if !validComplexity[complexity] {
		complexity = ""
	}

	return RiskAssessment{
		RiskScore:   score,
		Complexity:  complexity,
		RiskFactors: resp.RiskFactors,
		Mitigations: resp.Mitigations,
		Summary:     resp.Summary,
	}, nil
}

func parseLineItems(raw []rawLineItem) []LineItem {
	items := make([]LineItem, 0, len(raw))
	for _, r := range raw {
		desc := strings.TrimSpace(r.Description)
		if desc == "" {
			continue
		}
		items = append(items, LineItem{
			Description:    desc,
			Quantity:       parsePositiveInt(r.Quantity),
			Unit:           r.Unit,
			UnitPriceCents: parseCents(r.UnitPriceCents),
			TotalCents:     parseCents(r.TotalCents),
		})
	}
	return items
}

// parseCents converts a money value to integer cents, accepting float64
// (already cents, from JSON numbers) or string forms like "$1,500.00".
func parseCents(v any) *int64 {
	if v == nil {
		return nil
	}
	switch val := v.(type) {
	case float64:
		cents := int64(math.Round(val))
		if cents == 0 {
			return nil
		}
		return &cents
	case string:
		return parseCentsFromString(val)
	default:
		return nil
	}
}

var dollarPattern = regexp.MustCompile(`^\$?([\d,]+)\.(\d{2})$`)

func parseCentsFromString(s string) *int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if m := dollarPattern.FindStringSubmatch(s); m != nil {
		whole := strings.ReplaceAll(m[1], ",", "")
		w, err := strconv.ParseInt(whole, 10, 64)
		if err != nil {
			return nil
		}
		f, err := strconv.ParseInt(m[2], 10, 64)
		if err != nil {
			return nil
		}
		cents := w*100 + f
		return &cents
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil && n > 0 {
		return &n
	}
	return nil
}

var dateFormats = []string{
	"2006-01-02",
	"01/02/2006",
	"1/2/2006",
	"January 2, 2006",
	"Jan 2, 2006",
	"2006-01-02T15:04",
	time.RFC3339,
}

func parseDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range dateFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

func parsePositiveInt(v any) int {
	switch val := v.(type) {
	case float64:
		n := int(math.Round(val))
		if n > 0 {
			return n
		}
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(val)); err == nil && n > 0 {
			return n
		}
	}
	return 0
}

func parseFloat(v any) float64 {
	switch val := v.(type) {
	case float64:
		return val
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return f
		}
	}
	return 0
}
