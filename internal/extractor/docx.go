package extractor

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"io"
	"strings"

	"github.com/stackvity/tender-pipeline/internal/apperrors"
	"github.com/stackvity/tender-pipeline/internal/pipeline"
)

// DOCX is a zip package of OOXML parts; the document body lives at
// word/document.xml. No DOCX library appears anywhere in the example
// corpus (see DESIGN.md), so this parser walks the XML directly with
// encoding/xml, preserving paragraph order (spec.md §4.1 step 2). Embedded
// images are always ignored: DOCX extraction has no OCR path and no option
// to request one.

type docxRun struct {
	Text []docxText `xml:"t"`
}

type docxText struct {
	Text string `xml:",chardata"`
}

type docxParagraph struct {
	Runs []docxRun `xml:"r"`
}

type docxBody struct {
	Paragraphs []docxParagraph `xml:"p"`
}

type docxDocument struct {
	Body docxBody `xml:"body"`
}

func (e *Extractor) extractDOCX(blob []byte) (pipeline.ExtractedText, error) {
	zr, err := zip.NewReader(bytes.NewReader(blob), int64(len(blob)))
	if err != nil {
		return pipeline.ExtractedText{}, apperrors.Newf(apperrors.CodeDocumentCorrupt, "extractor", err, "opening docx as zip")
	}

	var documentXML *zip.File
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			documentXML = f
			break
		}
	}
	if documentXML == nil {
		return pipeline.ExtractedText{}, apperrors.New(apperrors.CodeDocumentCorrupt, "extractor",
			"docx missing word/document.xml", nil)
	}

	rc, err := documentXML.Open()
	if err != nil {
		return pipeline.ExtractedText{}, apperrors.Newf(apperrors.CodeDocumentCorrupt, "extractor", err, "opening word/document.xml")
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return pipeline.ExtractedText{}, apperrors.Newf(apperrors.CodeDocumentCorrupt, "extractor", err, "reading word/document.xml")
	}

	var doc docxDocument
	if err := xml.Unmarshal(data, &doc); err != nil {
		return pipeline.ExtractedText{}, apperrors.Newf(apperrors.CodeDocumentCorrupt, "extractor", err, "parsing word/document.xml")
	}

	var b strings.Builder
	for i, p := range doc.Body.Paragraphs {
		if i > 0 {
			b.WriteString("\n")
		}
		for _, r := range p.Runs {
			for _, t := range r.Text {
				b.WriteString(t.Text)
			}
		}
	}

	return pipeline.ExtractedText{
		Text:   normalizeLineEndings(b.String()),
		Method: pipeline.MethodNative,
	}, nil
}
