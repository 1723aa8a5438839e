package documents

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bloodyteeths/nabavkidata-sub002/internal/storage/memory"
	"github.com/bloodyteeths/nabavkidata-sub002/internal/tender"
)

// buildPDF assembles a one-page PDF around the given content stream, with a
// cross-reference table pointing at each object.
func buildPDF(content string) []byte {
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 4 0 R >> >> /Contents 5 0 R >>",
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>",
		fmt.Sprintf("<< /Length %d >>\nstream\n%sendstream", len(content), content),
	}
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return buf.Bytes()
}

// textLayer draws each line with the page font, top to bottom.
func textLayer(lines ...string) string {
	var b strings.Builder
	for i, l := range lines {
		fmt.Fprintf(&b, "BT /F1 12 Tf 1 0 0 1 72 %d Tm (%s) Tj ET\n", 720-i*16, l)
	}
	return b.String()
}

// tableLayer draws rows of cells in fixed columns.
func tableLayer(rows [][]string) string {
	var b strings.Builder
	for i, row := range rows {
		for j, cell := range row {
			fmt.Fprintf(&b, "BT /F1 10 Tf 1 0 0 1 %d %d Tm (%s) Tj ET\n", 72+j*180, 720-i*14, cell)
		}
	}
	return b.String()
}

var priceRows = [][]string{
	{"Item", "Quantity", "Unit price"},
	{"Paper A4", "120", "250.00"},
	{"Toner", "8", "4100.00"},
	{"Folders", "300", "35.00"},
	{"Staplers", "15", "180.00"},
}

// scanned paints a filled rectangle where a scanned page image would sit.
const scanned = "q 612 0 0 792 0 0 cm 0.5 g 0 0 1 1 re f Q\n"

var dossierLines = []string{
	"Tender dossier for the supply of office materials",
	"Deadline for offers is fifteen days from publication",
}

func TestExtractPDFTextLayer(t *testing.T) {
	t.Parallel()

	body := buildPDF(textLayer(dossierLines...))
	require.Equal(t, TypePDF, DetectType("https://portal.example/files/dossier", "application/octet-stream", body))

	ext, err := Extract(TypePDF, body)
	require.NoError(t, err)
	assert.Equal(t, 1, ext.Pages)
	assert.Contains(t, ext.Text, dossierLines[0])
	assert.Contains(t, ext.Text, dossierLines[1])
	assert.False(t, ext.HasTable())
}

func TestExtractPDFTable(t *testing.T) {
	t.Parallel()

	ext, err := Extract(TypePDF, buildPDF(tableLayer(priceRows)))
	require.NoError(t, err)
	require.True(t, ext.HasTable())
	assert.Equal(t, priceRows, ext.Table)
	assert.Contains(t, ext.Text, "Paper A4")
}

func TestExtractPDFWithoutTextLayer(t *testing.T) {
	t.Parallel()

	ext, err := Extract(TypePDF, buildPDF(scanned))
	require.NoError(t, err)
	assert.Equal(t, 1, ext.Pages)
	assert.Empty(t, strings.TrimSpace(ext.Text))
	ok, _ := Coherent(ext.Text, 40)
	assert.False(t, ok)
}

func TestProcessPDFWithTextLayer(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	dl := newFakeDownloader()
	url := "https://portal.example/files/dossier.pdf"
	dl.serve(url, "application/pdf", buildPDF(textLayer(dossierLines...)))
	ocr := &fakeOCR{text: "unused"}
	e := newTestEngine(store, dl, WithOCR(ocr))

	doc := registerOne(t, e, url)
	out, err := e.Process(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, tender.DocSuccess, out.Status)
	assert.Equal(t, tender.MethodText, out.Method)
	assert.Equal(t, TypePDF, out.FileType)
	require.NotNil(t, out.ContentText)
	assert.Contains(t, *out.ContentText, dossierLines[0])
	assert.InDelta(t, 1, out.Confidence, 1e-9)
	assert.Zero(t, ocr.calls)
	assert.Equal(t, []tender.ExtractionStatus{
		tender.DocPending, tender.DocDownloaded, tender.DocSuccess,
	}, store.History(doc.DocID))
}

func TestProcessPDFTable(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	dl := newFakeDownloader()
	url := "https://portal.example/files/prices.pdf"
	dl.serve(url, "application/pdf", buildPDF(tableLayer(priceRows)))
	e := newTestEngine(store, dl)

	doc := registerOne(t, e, url)
	out, err := e.Process(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, tender.DocSuccess, out.Status)
	assert.Equal(t, tender.MethodTable, out.Method)
	assert.Equal(t, priceRows, out.TableRows)
	assert.Equal(t, []tender.ExtractionStatus{
		tender.DocPending, tender.DocDownloaded, tender.DocSuccess,
	}, store.History(doc.DocID))
}

func TestProcessScannedPDFGoesThroughOCR(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	dl := newFakeDownloader()
	url := "https://portal.example/files/decision.pdf"
	dl.serve(url, "application/pdf", buildPDF(scanned))
	ocr := &fakeOCR{text: "Одлука за избор на најповолна понуда за набавка на канцелариски материјали", conf: 0.9}
	e := newTestEngine(store, dl, WithOCR(ocr))

	doc := registerOne(t, e, url)
	out, err := e.Process(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, tender.DocSuccess, out.Status)
	assert.Equal(t, tender.MethodOCR, out.Method)
	assert.Equal(t, 1, ocr.calls)
	assert.Equal(t, []tender.ExtractionStatus{
		tender.DocPending, tender.DocDownloaded, tender.DocOCRRequired, tender.DocSuccess,
	}, store.History(doc.DocID))
}
