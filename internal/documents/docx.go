package documents

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

const wordNS = "http://schemas.openxmlformats.org/wordprocessingml/2006/main"

// extractDOCX walks word/document.xml, keeping paragraph breaks and collecting
// the largest table.
func extractDOCX(body []byte) (Extraction, error) {
	zr, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return Extraction{}, fmt.Errorf("%w: open docx: %v", ErrUnparseable, err)
	}
	var part *zip.File
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			part = f
			break
		}
	}
	if part == nil {
		return Extraction{}, fmt.Errorf("%w: docx without word/document.xml", ErrUnparseable)
	}
	rc, err := part.Open()
	if err != nil {
		return Extraction{}, fmt.Errorf("%w: open document part: %v", ErrUnparseable, err)
	}
	defer rc.Close() //nolint:errcheck // read-only

	w := &docxWalker{}
	if err := w.walk(xml.NewDecoder(rc)); err != nil {
		return Extraction{}, fmt.Errorf("%w: parse document part: %v", ErrUnparseable, err)
	}

	ext := Extraction{Text: Repair(strings.TrimSpace(w.text.String()))}
	for _, t := range w.tables {
		if c, block := TableConfidence(padRows(t)); c > ext.Confidence {
			ext.Confidence, ext.Table = c, block
		}
	}
	return ext, nil
}

type docxWalker struct {
	text   strings.Builder
	tables [][][]string
	// Nested tables are flattened into their enclosing cell.
	depth int
	row   []string
	cell  strings.Builder
	rows  [][]string
}

func (w *docxWalker) walk(dec *xml.Decoder) error {
	inText := false
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Space != wordNS {
				continue
			}
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				w.write("\t")
			case "br", "cr":
				w.write("\n")
			case "tbl":
				w.depth++
				if w.depth == 1 {
					w.rows = nil
				}
			case "tr":
				if w.depth == 1 {
					w.row = nil
				}
			case "tc":
				if w.depth == 1 {
					w.cell.Reset()
				}
			}
		case xml.EndElement:
			if t.Name.Space != wordNS {
				continue
			}
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				w.write("\n")
			case "tc":
				if w.depth == 1 {
					w.row = append(w.row, strings.TrimSpace(w.cell.String()))
				}
			case "tr":
				if w.depth == 1 {
					w.rows = append(w.rows, w.row)
				}
			case "tbl":
				if w.depth == 1 && len(w.rows) > 0 {
					w.tables = append(w.tables, w.rows)
				}
				w.depth--
			}
		case xml.CharData:
			if inText {
				w.write(string(t))
			}
		}
	}
}

func (w *docxWalker) write(s string) {
	w.text.WriteString(s)
	if w.depth > 0 {
		if s == "\n" {
			s = " "
		}
		w.cell.WriteString(s)
	}
}
