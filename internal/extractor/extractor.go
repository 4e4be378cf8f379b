// Package extractor turns a document blob into normalized UTF-8 text,
// falling back to OCR for scanned PDFs, per the pipeline's Text Extractor
// component.
package extractor

import (
	"context"
	"math"
	"os"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/stackvity/tender-pipeline/internal/apperrors"
	"github.com/stackvity/tender-pipeline/internal/pipeline"
)

// Extractor is the Text Extractor component (spec.md §4.1).
type Extractor struct {
	maxDocumentBytes     int64
	ocrThresholdCharsPerPage int
	ocr                  OCRService
	logger               *zap.Logger
}

// Option configures an Extractor at construction time.
type Option func(*Extractor)

// WithOCR attaches an OCR fallback service. Without one, OCR fallback is
// skipped and thin native extraction is returned as-is.
func WithOCR(ocr OCRService) Option {
	return func(e *Extractor) { e.ocr = ocr }
}

// New builds an Extractor. maxDocumentBytes bounds input size;
// ocrThresholdCharsPerPage is the native-extraction-quality threshold below
// which OCR fallback triggers for PDFs (spec.md §4.1 step 1, default 40).
func New(maxDocumentBytes int64, ocrThresholdCharsPerPage int, logger *zap.Logger, opts ...Option) *Extractor {
	e := &Extractor{
		maxDocumentBytes:         maxDocumentBytes,
		ocrThresholdCharsPerPage: ocrThresholdCharsPerPage,
		logger:                   logger.Named("extractor"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract implements spec.md §4.1: sniff content type, dispatch to the
// appropriate decoder, compute quality score and token estimate.
func (e *Extractor) Extract(ctx context.Context, input pipeline.InputRef) (pipeline.ExtractedText, error) {
	blob, size, err := e.readInput(input)
	if err != nil {
		return pipeline.ExtractedText{}, err
	}
	if e.maxDocumentBytes > 0 && size > e.maxDocumentBytes {
		return pipeline.ExtractedText{}, apperrors.Newf(apperrors.CodeDocumentTooLarge, "extractor", nil,
			"document is %d bytes, exceeds max of %d", size, e.maxDocumentBytes)
	}

	contentType := input.ContentType
	if contentType == "" || contentType == pipeline.ContentUnknown {
		contentType = sniffContentType(blob)
	}

	var out pipeline.ExtractedText
	switch contentType {
	case pipeline.ContentPDF:
		out, err = e.extractPDF(ctx, blob)
	case pipeline.ContentDOCX:
		out, err = e.extractDOCX(blob)
	case pipeline.ContentPlainText:
		out, err = e.extractPlainText(blob)
	default:
		return pipeline.ExtractedText{}, apperrors.Newf(apperrors.CodeDocumentUnsupported, "extractor", nil,
			"unsupported content type %q after sniffing", contentType)
	}
	if err != nil {
		return pipeline.ExtractedText{}, err
	}

	out.QualityScore = qualityScore(out.Text)
	out.ByteLength = len(out.Text)
	out.TokenCountEstimate = estimateTokens(out.Text)

	if strings.TrimSpace(stripNonPrintable(out.Text)) == "" {
		return pipeline.ExtractedText{}, apperrors.New(apperrors.CodeDocumentEmpty, "extractor",
			"extraction produced zero printable characters", nil)
	}

	return out, nil
}

func (e *Extractor) readInput(input pipeline.InputRef) ([]byte, int64, error) {
	if input.Blob != nil {
		return input.Blob, int64(len(input.Blob)), nil
	}
	if input.Path == "" {
		return nil, 0, apperrors.New(apperrors.CodeDocumentCorrupt, "extractor", "input reference has neither path nor blob", nil)
	}
	data, err := os.ReadFile(input.Path)
	if err != nil {
		return nil, 0, apperrors.Newf(apperrors.CodeDocumentCorrupt, "extractor", err, "reading %s", input.Path)
	}
	return data, int64(len(data)), nil
}

// qualityScore is (printable chars / total chars) clamped to [0,1].
// Whitespace such as line breaks and tabs counts as printable.
func qualityScore(text string) float64 {
	total := 0
	printable := 0
	for _, r := range text {
		total++
		if (unicode.IsPrint(r) || unicode.IsSpace(r)) && r != unicode.ReplacementChar {
			printable++
		}
	}
	if total == 0 {
		return 0
	}
	score := float64(printable) / float64(total)
	return math.Max(0, math.Min(1, score))
}

func stripNonPrintable(text string) string {
	var b strings.Builder
	for _, r := range text {
		if unicode.IsPrint(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// estimateTokens follows spec.md §4.1 step 5: ceil(chars / 4) absent a
// precise tokenizer.
func estimateTokens(text string) int {
	n := len([]rune(text))
	return int(math.Ceil(float64(n) / 4.0))
}

// normalizeLineEndings converts CRLF/CR to LF, per spec.md §4.1 step 3.
func normalizeLineEndings(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return s
}
