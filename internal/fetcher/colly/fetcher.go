// Package collyfetcher downloads linked tender documents using gocolly.
package collyfetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/bloodyteeths/nabavkidata-sub002/internal/retry"
	"github.com/bloodyteeths/nabavkidata-sub002/internal/tender"
)

const defaultTimeout = 60 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent string
	// Timeout is the hard budget for one download, body included.
	Timeout  time.Duration
	MaxBytes int
	Headers  http.Header
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d for %s", e.Code, e.URL)
}

// Fetcher implements tender.Downloader using the Colly collector.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.WithTransport(newHTTPTransport())
	if cfg.MaxBytes > 0 {
		c.MaxBodySize = cfg.MaxBytes
	}
	c.IgnoreRobotsTxt = true
	return &Fetcher{cfg: cfg, baseCollector: c}
}

// Download fetches url and classifies the response. Auth walls surface as
// tender.ErrAuthRequired, empty bodies as tender.ErrEmptyBody, and client errors
// other than 408/429 are marked permanent for retry.Do.
func (f *Fetcher) Download(ctx context.Context, url string) (tender.Download, error) {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	var (
		result   tender.Download
		fetchErr error
	)
	start := time.Now()
	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.SetRequestTimeout(f.cfg.Timeout)
	f.configureCollectorHooks(collector, start, &result, &fetchErr)

	visitErr, err := runCollector(ctx, collector, url)
	if err != nil {
		return tender.Download{}, err
	}
	if fetchErr != nil {
		return tender.Download{}, classify(fetchErr, result.StatusCode, url)
	}
	if visitErr != nil {
		return tender.Download{}, classify(visitErr, 0, url)
	}
	if len(bytes.TrimSpace(result.Body)) == 0 {
		return result, retry.Permanent(fmt.Errorf("download %s: %w", url, tender.ErrEmptyBody))
	}
	if looksLikeLoginPage(result.ContentType, result.Body) {
		return result, retry.Permanent(fmt.Errorf("download %s: %w", url, tender.ErrAuthRequired))
	}
	return result, nil
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	start time.Time,
	result *tender.Download,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		for key, values := range f.cfg.Headers {
			for _, v := range values {
				r.Headers.Add(key, v)
			}
		}
	})

	hooks.OnResponse(func(r *colly.Response) {
		*result = tender.Download{
			URL:         r.Request.URL.String(),
			StatusCode:  r.StatusCode,
			ContentType: r.Headers.Get("Content-Type"),
			Body:        append([]byte(nil), r.Body...),
			Duration:    time.Since(start),
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil {
			result.StatusCode = r.StatusCode
		}
		*fetchErr = err
	})
}

func runCollector(ctx context.Context, collector *colly.Collector, url string) (visitErr error, err error) {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("download %s: %w", url, ctx.Err())
	case visitErr = <-done:
		return visitErr, nil
	}
}

func classify(err error, status int, url string) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return retry.Permanent(fmt.Errorf("download %s: %w", url, tender.ErrAuthRequired))
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests:
		return &StatusError{Code: status, URL: url}
	case status >= 400 && status < 500:
		return retry.Permanent(&StatusError{Code: status, URL: url})
	case status >= 500:
		return &StatusError{Code: status, URL: url}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("download %s timed out: %w", url, err)
	}
	return fmt.Errorf("download %s: %w", url, err)
}

// looksLikeLoginPage spots HTML login walls served in place of a document.
func looksLikeLoginPage(contentType string, body []byte) bool {
	if !strings.Contains(strings.ToLower(contentType), "html") {
		return false
	}
	head := bytes.ToLower(body)
	if len(head) > 64<<10 {
		head = head[:64<<10]
	}
	if !bytes.Contains(head, []byte(`type="password"`)) && !bytes.Contains(head, []byte(`type='password'`)) {
		return false
	}
	return bytes.Contains(head, []byte("login")) ||
		bytes.Contains(head, []byte("најава")) ||
		bytes.Contains(head, []byte("<form"))
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
