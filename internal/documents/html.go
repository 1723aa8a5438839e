package documents

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// extractHTML returns the visible text of an HTML document and its largest table.
func extractHTML(body []byte) (Extraction, error) {
	text := DecodeText(body)
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(text))
	if err != nil {
		return Extraction{}, fmt.Errorf("%w: parse html: %v", ErrUnparseable, err)
	}
	doc.Find("script, style, noscript, head").Remove()

	var ext Extraction
	doc.Find("table").Each(func(_ int, tbl *goquery.Selection) {
		if tbl.Find("table").Length() > 0 {
			return
		}
		var rows [][]string
		tbl.Find("tr").Each(func(_ int, tr *goquery.Selection) {
			var cells []string
			tr.Find("th, td").Each(func(_ int, c *goquery.Selection) {
				cells = append(cells, strings.Join(strings.Fields(c.Text()), " "))
			})
			if len(cells) > 0 {
				rows = append(rows, cells)
			}
		})
		if c, block := TableConfidence(padRows(rows)); c > ext.Confidence {
			ext.Confidence, ext.Table = c, block
		}
	})

	var b bytes.Buffer
	doc.Find("body").Find("h1, h2, h3, h4, p, li, td, th, div, pre").Each(func(_ int, s *goquery.Selection) {
		if s.Children().Filter("h1, h2, h3, h4, p, li, td, th, div, table, ul, ol, pre").Length() > 0 {
			return
		}
		if line := strings.Join(strings.Fields(s.Text()), " "); line != "" {
			b.WriteString(line)
			b.WriteByte('\n')
		}
	})
	ext.Text = strings.TrimSpace(b.String())
	if ext.Text == "" {
		ext.Text = strings.Join(strings.Fields(doc.Text()), " ")
	}
	return ext, nil
}
