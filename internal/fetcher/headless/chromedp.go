// Package headless renders the portal's JavaScript pages with headless Chrome.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/bloodyteeths/nabavkidata-sub002/internal/tender"
)

const (
	defaultNavTimeout  = 45 * time.Second
	defaultIdleTimeout = 15 * time.Second
	defaultSettle      = 1500 * time.Millisecond
)

// Config controls the behavior of the renderer.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	// IdleTimeout bounds the wait for the networkIdle lifecycle event.
	IdleTimeout time.Duration
	// Settle is the fixed delay applied after network idle so late XHR bindings finish.
	Settle   time.Duration
	ExecPath string
	Headers  http.Header
}

// Renderer implements tender.Renderer using chromedp.
type Renderer struct {
	cfg         Config
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
}

// New creates a renderer backed by a shared Chrome allocator.
func New(cfg Config) (*Renderer, error) {
	if cfg.MaxParallel <= 0 {
		return nil, fmt.Errorf("max parallel must be > 0")
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Renderer{
		cfg:         cfg,
		limiter:     make(chan struct{}, cfg.MaxParallel),
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close shuts the browser down.
func (r *Renderer) Close() {
	r.allocCancel()
}

// Render navigates to url in a fresh tab, waits for network idle plus the settle
// delay, and returns the rendered DOM. Timeouts are reported as tender.ErrRenderTimeout.
func (r *Renderer) Render(ctx context.Context, url string) (tender.Page, error) {
	if err := r.acquire(ctx); err != nil {
		return tender.Page{}, err
	}
	defer r.release()

	tabCtx, tabCancel := chromedp.NewContext(r.allocator)
	defer tabCancel()
	stop := context.AfterFunc(ctx, tabCancel)
	defer stop()

	tabCtx, cancel := context.WithTimeout(tabCtx, durationOr(r.cfg.NavigationTimeout, defaultNavTimeout))
	defer cancel()

	meta := newResponseMeta()
	idle := newIdleSignal()
	chromedp.ListenTarget(tabCtx, func(ev any) {
		meta.captureEvent(ev)
		idle.captureEvent(ev)
	})

	start := time.Now()
	html, finalURL, err := r.run(tabCtx, url, idle)
	if err != nil {
		if ctx.Err() != nil {
			return tender.Page{}, fmt.Errorf("render canceled: %w", ctx.Err())
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, tender.ErrRenderTimeout) {
			return tender.Page{}, fmt.Errorf("render %s: %w", url, tender.ErrRenderTimeout)
		}
		return tender.Page{}, fmt.Errorf("render %s: %w", url, err)
	}

	status, responseURL := meta.snapshotWithFallbacks(url, finalURL)
	return tender.Page{
		URL:        responseURL,
		StatusCode: status,
		HTML:       []byte(html),
		Duration:   time.Since(start),
	}, nil
}

func (r *Renderer) run(ctx context.Context, url string, idle *idleSignal) (string, string, error) {
	var (
		html     string
		finalURL string
	)
	actions := []chromedp.Action{
		r.networkSetupAction(),
		chromedp.Navigate(url),
		idle.waitAction(durationOr(r.cfg.IdleTimeout, defaultIdleTimeout)),
		chromedp.Sleep(durationOr(r.cfg.Settle, defaultSettle)),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(ctx, actions...); err != nil {
		return "", "", fmt.Errorf("chromedp run: %w", err)
	}
	return html, finalURL, nil
}

func (r *Renderer) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if err := page.SetLifecycleEventsEnabled(true).Do(ctx); err != nil {
			return fmt.Errorf("enable lifecycle events: %w", err)
		}
		if r.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(r.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if len(r.cfg.Headers) > 0 {
			if err := network.SetExtraHTTPHeaders(toNetworkHeaders(r.cfg.Headers)).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

func (r *Renderer) acquire(ctx context.Context) error {
	select {
	case r.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("browser slot wait canceled: %w", ctx.Err())
	}
}

func (r *Renderer) release() {
	select {
	case <-r.limiter:
	default:
	}
}

// idleSignal latches once the page reports the networkIdle lifecycle event.
type idleSignal struct {
	once sync.Once
	ch   chan struct{}
}

func newIdleSignal() *idleSignal {
	return &idleSignal{ch: make(chan struct{})}
}

func (s *idleSignal) captureEvent(ev any) {
	if e, ok := ev.(*page.EventLifecycleEvent); ok && e.Name == "networkIdle" {
		s.once.Do(func() { close(s.ch) })
	}
}

func (s *idleSignal) waitAction(timeout time.Duration) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case <-s.ch:
			return nil
		case <-timer.C:
			return tender.ErrRenderTimeout
		case <-ctx.Done():
			return ctx.Err()
		}
	})
}

type responseMeta struct {
	mu     sync.RWMutex
	status int
	url    string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{}
}

func (m *responseMeta) captureEvent(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	m.mu.Lock()
	m.status = int(resp.Response.Status)
	m.url = resp.Response.URL
	m.mu.Unlock()
}

func (m *responseMeta) snapshotWithFallbacks(requestURL, finalURL string) (int, string) {
	m.mu.RLock()
	status, url := m.status, m.url
	m.mu.RUnlock()
	switch {
	case finalURL != "":
		// The SPA router rewrites the location after the document response.
		url = finalURL
	case url == "":
		url = requestURL
	}
	if status == 0 {
		status = http.StatusOK
	}
	return status, url
}

func durationOr(d, def time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return def
}

func toNetworkHeaders(h http.Header) network.Headers {
	headers := network.Headers{}
	for key, values := range h {
		if len(values) == 0 {
			continue
		}
		if len(values) == 1 {
			headers[key] = values[0]
		} else {
			headers[key] = append([]string(nil), values...)
		}
	}
	return headers
}
