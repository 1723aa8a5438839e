package documents

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// extractXLSX reads every sheet as table rows. Sheets are separated by a
// heading line with the sheet name.
func extractXLSX(body []byte) (Extraction, error) {
	f, err := excelize.OpenReader(bytes.NewReader(body))
	if err != nil {
		return Extraction{}, fmt.Errorf("%w: open xlsx: %v", ErrUnparseable, err)
	}
	defer f.Close() //nolint:errcheck // read-only workbook

	var (
		text    strings.Builder
		all     [][]string
		bestRow [][]string
		bestC   float64
	)
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			continue
		}
		rows = trimRows(rows)
		if len(rows) == 0 {
			continue
		}
		fmt.Fprintf(&text, "# %s\n%s\n\n", sheet, RenderTable(rows))
		all = append(all, rows...)
		if c, block := TableConfidence(padRows(rows)); c > bestC {
			bestC, bestRow = c, block
		}
	}
	if len(all) == 0 {
		return Extraction{}, nil
	}
	// A workbook is a table by construction; confidence only orders sheets.
	if bestRow == nil {
		bestRow, bestC = padRows(all), minTableConfidence
	}
	if bestC < minTableConfidence {
		bestC = minTableConfidence
	}
	return Extraction{
		Text:       strings.TrimSpace(text.String()),
		Table:      bestRow,
		Confidence: bestC,
		Pages:      len(f.GetSheetList()),
	}, nil
}

// trimRows drops empty rows and trailing empty cells.
func trimRows(rows [][]string) [][]string {
	out := rows[:0]
	for _, r := range rows {
		end := len(r)
		for end > 0 && strings.TrimSpace(r[end-1]) == "" {
			end--
		}
		if end == 0 {
			continue
		}
		cells := make([]string, end)
		for i := 0; i < end; i++ {
			cells[i] = strings.TrimSpace(r[i])
		}
		out = append(out, cells)
	}
	return out
}

// padRows gives every row the width of the widest one.
func padRows(rows [][]string) [][]string {
	width := 0
	for _, r := range rows {
		if len(r) > width {
			width = len(r)
		}
	}
	out := make([][]string, len(rows))
	for i, r := range rows {
		cells := make([]string, width)
		copy(cells, r)
		out[i] = cells
	}
	return out
}
