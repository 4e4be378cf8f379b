package extractor

import (
	"bytes"
	"context"
	"strings"

	"github.com/Geek0x0/pdf"

	"github.com/stackvity/tender-pipeline/internal/apperrors"
	"github.com/stackvity/tender-pipeline/internal/pipeline"
)

// extractPDF implements spec.md §4.1 step 1: attempt native extraction
// first; if the printable-character density per page falls below the
// configured threshold, fall back to OCR via the document-file annotation
// endpoint (which decodes the PDF itself, page by page) and concatenate
// native text with OCR text for pages where native yielded fewer than 10
// characters.
func (e *Extractor) extractPDF(ctx context.Context, blob []byte) (pipeline.ExtractedText, error) {
	reader, err := pdf.NewReader(bytes.NewReader(blob), int64(len(blob)))
	if err != nil {
		return pipeline.ExtractedText{}, apperrors.Newf(apperrors.CodeDocumentCorrupt, "extractor", err, "opening pdf")
	}

	numPages := reader.NumPage()
	if numPages == 0 {
		return pipeline.ExtractedText{}, apperrors.New(apperrors.CodeDocumentEmpty, "extractor", "pdf has zero pages", nil)
	}

	nativeText, err := pdf.NewExtractor(reader).Context(ctx).SmartOrdering(true).ExtractText()
	if err != nil {
		return pipeline.ExtractedText{}, apperrors.Newf(apperrors.CodeDocumentCorrupt, "extractor", err, "native pdf text extraction")
	}

	printable := countPrintable(nativeText)
	density := float64(printable) / float64(numPages)

	if density >= float64(e.ocrThresholdCharsPerPage) || e.ocr == nil {
		return pipeline.ExtractedText{
			Text:   normalizeLineEndings(nativeText),
			Method: pipeline.MethodNative,
		}, nil
	}

	// Fallback: OCR each page and splice in OCR text for thin native pages.
	ocrUsed := false
	var combined strings.Builder
	combined.WriteString(nativeText)

	pageText, pageErr := perPageNativeText(ctx, reader, numPages)
	if pageErr == nil {
		combined.Reset()
		for page := 1; page <= numPages; page++ {
			native := pageText[page]
			if len(strings.TrimSpace(native)) < 10 {
				ocrText, _, ocrErr := e.ocr.ExtractPage(ctx, blob, "application/pdf", page)
				if ocrErr == nil && strings.TrimSpace(ocrText) != "" {
					combined.WriteString(ocrText)
					combined.WriteString("\n")
					ocrUsed = true
					continue
				}
			}
			combined.WriteString(native)
			combined.WriteString("\n")
		}
	}

	method := pipeline.MethodNative
	if ocrUsed {
		method = pipeline.MethodOCR
	}

	return pipeline.ExtractedText{
		Text:   normalizeLineEndings(combined.String()),
		Method: method,
	}, nil
}

func perPageNativeText(ctx context.Context, reader *pdf.Reader, numPages int) (map[int]string, error) {
	out := make(map[int]string, numPages)
	for page := 1; page <= numPages; page++ {
		text, err := pdf.NewExtractor(reader).Context(ctx).Pages(page).ExtractText()
		if err != nil {
			return nil, err
		}
		out[page] = text
	}
	return out, nil
}

func countPrintable(s string) int {
	n := 0
	for _, r := range s {
		if r > 32 && r < 0x10FFFF {
			n++
		}
	}
	return n
}
