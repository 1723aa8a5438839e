package documents

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnparseable marks content no extractor can read.
var ErrUnparseable = errors.New("unparseable document")

// Extraction is the result of reading a document's native text layer.
type Extraction struct {
	Text string
	// Table holds the most table-like block found, if any.
	Table      [][]string
	Confidence float64
	Pages      int
}

// HasTable reports whether the detected table is confident enough to be the
// primary extraction.
func (e Extraction) HasTable() bool {
	return len(e.Table) >= minTableRows && e.Confidence >= minTableConfidence
}

// Extract reads the native text layer of body according to fileType.
func Extract(fileType string, body []byte) (Extraction, error) {
	switch fileType {
	case TypePDF:
		return extractPDF(body)
	case TypeXLSX:
		return extractXLSX(body)
	case TypeDOCX:
		return extractDOCX(body)
	case TypeHTML:
		return extractHTML(body)
	case TypeText:
		text := DecodeText(body)
		ext := Extraction{Text: strings.TrimSpace(text)}
		ext.Confidence, ext.Table = TableConfidence(delimitedRows(text))
		return ext, nil
	case TypeImage:
		// Scans have no text layer.
		return Extraction{}, nil
	default:
		return Extraction{}, fmt.Errorf("%w: %s", ErrUnparseable, fileType)
	}
}

// delimitedRows splits CSV-like text on the most common delimiter.
func delimitedRows(text string) [][]string {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	if len(lines) < minTableRows {
		return nil
	}
	best, bestN := "", 0
	for _, d := range []string{"\t", ";", ","} {
		if n := strings.Count(lines[0], d); n > bestN {
			best, bestN = d, n
		}
	}
	if best == "" {
		return nil
	}
	rows := make([][]string, 0, len(lines))
	for _, l := range lines {
		cells := strings.Split(strings.TrimRight(l, "\r"), best)
		for i := range cells {
			cells[i] = strings.TrimSpace(cells[i])
		}
		rows = append(rows, cells)
	}
	return rows
}
