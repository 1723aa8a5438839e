package documents

import (
	"bytes"
	"net/url"
	"path"
	"strings"
)

// File types recognized by the engine.
const (
	TypePDF     = "pdf"
	TypeXLSX    = "xlsx"
	TypeDOCX    = "docx"
	TypeDOC     = "doc"
	TypeXLS     = "xls"
	TypeHTML    = "html"
	TypeText    = "txt"
	TypeImage   = "image"
	TypeZIP     = "zip"
	TypeUnknown = "unknown"
)

var (
	magicPDF  = []byte("%PDF-")
	magicZIP  = []byte("PK\x03\x04")
	magicOLE  = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}
	magicPNG  = []byte("\x89PNG")
	magicJPEG = []byte{0xFF, 0xD8, 0xFF}
	magicTIFF = [][]byte{[]byte("II*\x00"), []byte("MM\x00*")}
)

// DetectType classifies a document from its bytes first, then its content type
// and URL extension.
func DetectType(sourceURL, contentType string, body []byte) string {
	head := body
	if len(head) > 1024 {
		head = head[:1024]
	}
	trimmed := bytes.TrimLeft(head, "\xef\xbb\xbf \t\r\n")
	switch {
	case bytes.HasPrefix(trimmed, magicPDF), bytes.Contains(head, magicPDF):
		return TypePDF
	case bytes.HasPrefix(body, magicZIP):
		return zipFlavor(sourceURL, contentType, body)
	case bytes.HasPrefix(body, magicOLE):
		if ext := extension(sourceURL); ext == "xls" || strings.Contains(contentType, "excel") {
			return TypeXLS
		}
		return TypeDOC
	case bytes.HasPrefix(body, magicPNG), bytes.HasPrefix(body, magicJPEG),
		bytes.HasPrefix(body, magicTIFF[0]), bytes.HasPrefix(body, magicTIFF[1]):
		return TypeImage
	}

	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "html"):
		return TypeHTML
	case strings.HasPrefix(ct, "text/"):
		return TypeText
	}
	lower := bytes.ToLower(trimmed)
	if bytes.HasPrefix(lower, []byte("<!doctype html")) || bytes.HasPrefix(lower, []byte("<html")) {
		return TypeHTML
	}
	switch ext := extension(sourceURL); ext {
	case "txt", "csv":
		return TypeText
	case "htm", "html":
		return TypeHTML
	case "":
	default:
		if t := byExtension(ext); t != TypeUnknown {
			return t
		}
	}
	return TypeUnknown
}

// zipFlavor tells OOXML containers apart by the part names they carry.
func zipFlavor(sourceURL, contentType string, body []byte) string {
	head := body
	if len(head) > 64<<10 {
		head = head[:64<<10]
	}
	switch {
	case bytes.Contains(head, []byte("word/")):
		return TypeDOCX
	case bytes.Contains(head, []byte("xl/")):
		return TypeXLSX
	}
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "wordprocessingml"):
		return TypeDOCX
	case strings.Contains(ct, "spreadsheetml"):
		return TypeXLSX
	}
	switch extension(sourceURL) {
	case "docx":
		return TypeDOCX
	case "xlsx":
		return TypeXLSX
	}
	return TypeZIP
}

func byExtension(ext string) string {
	switch ext {
	case "pdf":
		return TypePDF
	case "docx":
		return TypeDOCX
	case "xlsx":
		return TypeXLSX
	case "doc":
		return TypeDOC
	case "xls":
		return TypeXLS
	case "png", "jpg", "jpeg", "tif", "tiff":
		return TypeImage
	case "zip", "rar", "7z":
		return TypeZIP
	}
	return TypeUnknown
}

// extension returns the lowercase extension of the URL path, or of a file name
// carried in the query string.
func extension(sourceURL string) string {
	u, err := url.Parse(sourceURL)
	if err != nil {
		return ""
	}
	if ext := strings.TrimPrefix(path.Ext(u.Path), "."); ext != "" && !strings.EqualFold(ext, "aspx") {
		return strings.ToLower(ext)
	}
	for _, values := range u.Query() {
		for _, v := range values {
			if ext := strings.TrimPrefix(path.Ext(v), "."); ext != "" && len(ext) <= 4 {
				return strings.ToLower(ext)
			}
		}
	}
	return ""
}

// contentTypeFor returns the MIME type used when archiving a file of type t.
func contentTypeFor(t, fallback string) string {
	switch t {
	case TypePDF:
		return "application/pdf"
	case TypeDOCX:
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case TypeXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case TypeDOC:
		return "application/msword"
	case TypeXLS:
		return "application/vnd.ms-excel"
	case TypeHTML:
		return "text/html"
	case TypeText:
		return "text/plain"
	case TypeZIP:
		return "application/zip"
	}
	if fallback != "" {
		return fallback
	}
	return "application/octet-stream"
}
