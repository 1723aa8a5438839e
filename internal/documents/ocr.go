package documents

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OCR recognizes text in scanned documents.
type OCR interface {
	Recognize(ctx context.Context, in OCRInput) (OCRResult, error)
}

// OCRInput is one document submitted for recognition.
type OCRInput struct {
	DocID       string
	FileName    string
	ContentType string
	Body        []byte
}

// OCRResult is recognized text with the service's mean confidence in [0, 1].
type OCRResult struct {
	Text       string
	Confidence float64
}

// ErrOCRUnavailable marks OCR failures worth retrying on a later run.
var ErrOCRUnavailable = errors.New("ocr service unavailable")

// HTTPOCRConfig configures HTTPOCR.
type HTTPOCRConfig struct {
	Endpoint string
	APIToken string
	Language string
	Timeout  time.Duration
}

// HTTPOCR submits documents to a remote OCR service as JSON.
type HTTPOCR struct {
	cfg        HTTPOCRConfig
	httpClient *http.Client
}

type ocrRequest struct {
	DataID      string `json:"data_id"`
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
	Language    string `json:"language"`
	Content     string `json:"content"`
}

type ocrResponse struct {
	Code    int    `json:"code"`
	Message string `json:"msg"`
	Data    struct {
		Text       string  `json:"text"`
		Confidence float64 `json:"confidence"`
		Pages      []struct {
			Text       string  `json:"text"`
			Confidence float64 `json:"confidence"`
		} `json:"pages,omitempty"`
	} `json:"data"`
}

// NewHTTPOCR constructs an HTTPOCR client.
func NewHTTPOCR(cfg HTTPOCRConfig) *HTTPOCR {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.Language == "" {
		cfg.Language = "mkd+eng"
	}
	return &HTTPOCR{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// Recognize posts the document and returns the recognized text.
func (c *HTTPOCR) Recognize(ctx context.Context, in OCRInput) (OCRResult, error) {
	payload, err := json.Marshal(ocrRequest{
		DataID:      in.DocID,
		FileName:    in.FileName,
		ContentType: in.ContentType,
		Language:    c.cfg.Language,
		Content:     base64.StdEncoding.EncodeToString(in.Body),
	})
	if err != nil {
		return OCRResult{}, fmt.Errorf("failed to marshal ocr request: %w", err)
	}

	endpoint := strings.TrimRight(c.cfg.Endpoint, "/") + "/ocr"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return OCRResult{}, fmt.Errorf("failed to create ocr request: %w", err)
	}
	if c.cfg.APIToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIToken)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return OCRResult{}, fmt.Errorf("%w: %v", ErrOCRUnavailable, err)
	}
	defer resp.Body.Close() //nolint:errcheck // body fully read below

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return OCRResult{}, fmt.Errorf("failed to read ocr response: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return OCRResult{}, fmt.Errorf("%w: status %d", ErrOCRUnavailable, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return OCRResult{}, fmt.Errorf("ocr rejected document: status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var result ocrResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return OCRResult{}, fmt.Errorf("failed to parse ocr response: %w", err)
	}
	if result.Code != 0 {
		return OCRResult{}, fmt.Errorf("ocr api error: %s", result.Message)
	}

	out := OCRResult{Text: result.Data.Text, Confidence: result.Data.Confidence}
	if out.Text == "" && len(result.Data.Pages) > 0 {
		var b strings.Builder
		var conf float64
		for _, p := range result.Data.Pages {
			b.WriteString(p.Text)
			b.WriteString("\n\n")
			conf += p.Confidence
		}
		out.Text = strings.TrimSpace(b.String())
		out.Confidence = conf / float64(len(result.Data.Pages))
	}
	if out.Confidence > 1 {
		// Some engines report percentages.
		out.Confidence /= 100
	}
	return out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
