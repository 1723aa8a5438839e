package documents

import (
	"sort"
	"strings"
	"unicode/utf8"
)

// Table detection thresholds.
const (
	minTableRows       = 3
	minTableCols       = 2
	minTableConfidence = 0.6
)

// Cell is a positioned text fragment on a line.
type Cell struct {
	X    float64
	W    float64
	Text string
}

// splitColumns groups the fragments of one line into cells wherever the gap
// between fragments is wider than gap.
func splitColumns(frags []Cell, gap float64) []string {
	if len(frags) == 0 {
		return nil
	}
	sorted := append([]Cell(nil), frags...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].X < sorted[j].X })
	var (
		cells []string
		cur   strings.Builder
		end   = sorted[0].X
	)
	for i, f := range sorted {
		if i > 0 && f.X-end > gap {
			cells = append(cells, strings.TrimSpace(cur.String()))
			cur.Reset()
		}
		cur.WriteString(f.Text)
		w := f.W
		if w <= 0 {
			// Fragments without a width get roughly a third of gap per rune.
			w = float64(utf8.RuneCountInString(f.Text)) * gap / 3
		}
		if e := f.X + w; e > end {
			end = e
		}
	}
	cells = append(cells, strings.TrimSpace(cur.String()))
	return cells
}

// TableConfidence scores how table-like rows are: the share of rows in the
// longest run that agree on the modal column count, weighted by run length.
// It returns the rows of that run.
func TableConfidence(rows [][]string) (float64, [][]string) {
	if len(rows) < minTableRows {
		return 0, nil
	}
	counts := map[int]int{}
	for _, r := range rows {
		if n := nonEmpty(r); n >= minTableCols {
			counts[len(r)]++
		}
	}
	mode, modeN := 0, 0
	for cols, n := range counts {
		if n > modeN || (n == modeN && cols > mode) {
			mode, modeN = cols, n
		}
	}
	if mode < minTableCols || modeN < minTableRows {
		return 0, nil
	}

	bestStart, bestLen, start := 0, 0, -1
	for i, r := range rows {
		if len(r) == mode && nonEmpty(r) >= minTableCols {
			if start < 0 {
				start = i
			}
			if l := i - start + 1; l > bestLen {
				bestStart, bestLen = start, l
			}
			continue
		}
		start = -1
	}
	if bestLen < minTableRows {
		return 0, nil
	}
	block := rows[bestStart : bestStart+bestLen]
	filled := 0
	for _, r := range block {
		filled += nonEmpty(r)
	}
	fill := float64(filled) / float64(len(block)*mode)
	coverage := float64(bestLen) / float64(modeN)
	size := float64(bestLen) / float64(bestLen+2)
	return fill * coverage * size, block
}

// RenderTable flattens rows into tab-separated lines.
func RenderTable(rows [][]string) string {
	var b strings.Builder
	for _, r := range rows {
		b.WriteString(strings.Join(r, "\t"))
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

func nonEmpty(r []string) int {
	n := 0
	for _, c := range r {
		if strings.TrimSpace(c) != "" {
			n++
		}
	}
	return n
}
