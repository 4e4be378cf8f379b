package extractor

import (
	"bytes"
	"net/http"

	"github.com/stackvity/tender-pipeline/internal/pipeline"
)

// sniffContentType classifies a blob by its first bytes, generalized from
// the teacher's DetectContentTypeFromFile (net/http.DetectContentType over
// a file's first 512 bytes) to operate on an in-memory blob directly.
func sniffContentType(blob []byte) pipeline.ContentType {
	n := len(blob)
	if n > 512 {
		n = 512
	}
	mime := http.DetectContentType(blob[:n])

	switch {
	case mime == "application/pdf":
		return pipeline.ContentPDF
	case bytes.HasPrefix(blob, []byte("PK\x03\x04")) && looksLikeOOXML(blob):
		return pipeline.ContentDOCX
	case hasPrintableTextPrefix(mime):
		return pipeline.ContentPlainText
	default:
		return pipeline.ContentUnknown
	}
}

func hasPrintableTextPrefix(mime string) bool {
	return len(mime) >= 5 && mime[:5] == "text/"
}

// looksLikeOOXML checks for the "[Content_Types].xml" entry name that every
// DOCX (an OOXML zip package) contains near its start; a cheap heuristic
// that avoids a full zip-directory parse just to classify content type.
func looksLikeOOXML(blob []byte) bool {
	n := min(len(blob), 4096)
	return bytes.Contains(blob[:n], []byte("[Content_Types].xml")) ||
		bytes.Contains(blob[:n], []byte("word/"))
}
