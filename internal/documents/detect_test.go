package documents

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectType(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name        string
		url         string
		contentType string
		body        []byte
		want        string
	}{
		{"pdf magic", "https://portal.example/file", "application/octet-stream", []byte("%PDF-1.7\n..."), TypePDF},
		{"pdf after bom and junk", "https://portal.example/file", "", append([]byte("\r\n  "), []byte("%PDF-1.4")...), TypePDF},
		{"docx by part name", "https://portal.example/DownloadPublicFile.aspx?id=1", "", []byte("PK\x03\x04....word/document.xml"), TypeDOCX},
		{"xlsx by part name", "https://portal.example/file", "", []byte("PK\x03\x04....xl/workbook.xml"), TypeXLSX},
		{"zip with xlsx content type", "https://portal.example/file", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", []byte("PK\x03\x04"), TypeXLSX},
		{"plain zip", "https://portal.example/archive", "", []byte("PK\x03\x04"), TypeZIP},
		{"legacy xls", "https://portal.example/x.xls", "", []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}, TypeXLS},
		{"legacy doc", "https://portal.example/x", "", []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}, TypeDOC},
		{"png", "https://portal.example/scan", "", []byte("\x89PNG\r\n"), TypeImage},
		{"html content type", "https://portal.example/page", "text/html; charset=utf-8", []byte("hello"), TypeHTML},
		{"html sniffed", "https://portal.example/page", "", []byte("<!DOCTYPE html><html></html>"), TypeHTML},
		{"text content type", "https://portal.example/page", "text/plain", []byte("a;b"), TypeText},
		{"csv extension", "https://portal.example/list.csv", "", []byte("a,b"), TypeText},
		{"extension in query", "https://portal.example/DownloadPublicFile.aspx?fname=odluka.pdf", "", []byte("????"), TypePDF},
		{"unknown", "https://portal.example/blob", "", []byte("????"), TypeUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, DetectType(tc.url, tc.contentType, tc.body))
		})
	}
}

func TestExtension(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "pdf", extension("https://portal.example/a/B.PDF"))
	assert.Equal(t, "docx", extension("https://portal.example/DownloadPublicFile.aspx?file=spec.docx"))
	assert.Equal(t, "", extension("https://portal.example/home.aspx"))
	assert.Equal(t, "", extension("%%"))
}
