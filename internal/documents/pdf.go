package documents

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// columnGap is the horizontal distance, in PDF points, that separates table cells.
const columnGap = 12.0

// extractPDF reads the text layer of a PDF and looks for row-aligned tables.
func extractPDF(body []byte) (ext Extraction, err error) {
	defer func() {
		// The PDF parser panics on some malformed cross-reference tables.
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: pdf parser: %v", ErrUnparseable, r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return Extraction{}, fmt.Errorf("%w: open pdf: %v", ErrUnparseable, err)
	}

	var (
		text strings.Builder
		rows [][]string
	)
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		lines, err := page.GetTextByRow()
		if err != nil {
			continue
		}
		for _, line := range lines {
			frags := make([]Cell, 0, len(line.Content))
			for _, t := range line.Content {
				frags = append(frags, Cell{X: t.X, W: t.W, Text: t.S})
			}
			cells := splitColumns(frags, columnGap)
			rows = append(rows, cells)
			text.WriteString(strings.Join(cells, " "))
			text.WriteByte('\n')
		}
		text.WriteByte('\n')
	}
	ext.Text = Repair(strings.TrimSpace(text.String()))
	ext.Pages = reader.NumPage()
	ext.Confidence, ext.Table = TableConfidence(rows)
	return ext, nil
}
