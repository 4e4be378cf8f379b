package extractor

import (
	"unicode/utf8"

	"github.com/stackvity/tender-pipeline/internal/pipeline"
)

// extractPlainText implements spec.md §4.1 step 3: decode UTF-8 with
// replacement, normalize line endings to \n.
func (e *Extractor) extractPlainText(blob []byte) (pipeline.ExtractedText, error) {
	text := decodeUTF8WithReplacement(blob)
	text = normalizeLineEndings(text)
	return pipeline.ExtractedText{
		Text:   text,
		Method: pipeline.MethodNative,
	}, nil
}

// decodeUTF8WithReplacement walks the byte slice, substituting
// utf8.RuneError for any invalid sequence rather than failing outright.
func decodeUTF8WithReplacement(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	var runes []rune
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		runes = append(runes, r)
		b = b[size:]
	}
	return string(runes)
}
