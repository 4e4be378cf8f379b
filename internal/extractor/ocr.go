package extractor

import "context"

// OCRService performs optical character recognition over a single page of
// a document file, returning extracted text and a confidence score in
// [0,1]. Generalized from the teacher's internal/ocr.OCRService interface
// (there scoped to single-image medical scans) to one page of a
// paginated document file: implementations are expected to decode the
// page from fileBlob/mimeType themselves (e.g. via a document-file OCR
// endpoint that accepts PDF input directly), not to be handed a
// pre-rasterized image.
type OCRService interface {
	ExtractPage(ctx context.Context, fileBlob []byte, mimeType string, page int) (text string, confidence float64, err error)
}
