// Package crawler paginates canonical listing routes and resolves each entry
// into a full tender record.
//
// Pages of one listing are fetched strictly in order. Entries of a page are
// resolved on a bounded pool, each render passing through the per-host rate
// ceiling. A failed entry is reported in its Result and never stops the crawl.
package crawler

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/bloodyteeths/nabavkidata-sub002/internal/metrics"
	"github.com/bloodyteeths/nabavkidata-sub002/internal/retry"
	"github.com/bloodyteeths/nabavkidata-sub002/internal/routes"
	"github.com/bloodyteeths/nabavkidata-sub002/internal/tender"
)

// Limiter enforces the per-host request ceiling.
type Limiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Config tunes the crawler.
type Config struct {
	// Concurrency bounds parallel detail renders per page.
	Concurrency int
	// Retry governs renders that fail transiently.
	Retry retry.Policy
}

// Entry is one listing row.
type Entry struct {
	TenderID  string
	DetailURL string
	Preview   map[string]string
}

// Result is the outcome of resolving one Entry.
type Result struct {
	Entry  Entry
	Record tender.Record
	Err    error
}

// Page is one listing page with its resolved entries, in listing order.
type Page struct {
	Number  int
	URL     string
	Results []Result
}

// PageHandler consumes pages in order. Returning false stops pagination.
type PageHandler func(ctx context.Context, page Page) (bool, error)

// Crawler walks listing and detail pages for one route file.
type Crawler struct {
	renderer tender.Renderer
	limiter  Limiter
	routes   *routes.File
	cfg      Config
	logger   *zap.Logger
}

// New constructs a Crawler.
func New(renderer tender.Renderer, limiter Limiter, file *routes.File, cfg Config, logger *zap.Logger) *Crawler {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Crawler{renderer: renderer, limiter: limiter, routes: file, cfg: cfg, logger: logger}
}

// Crawl paginates the category's canonical route until a page yields no entries,
// repeats the previous page, maxPages is reached (0 means no cap), or handle
// asks to stop. It returns the number of pages handed to handle.
func (c *Crawler) Crawl(ctx context.Context, category string, maxPages int, handle PageHandler) (int, error) {
	cat, err := c.routes.Category(category)
	if err != nil {
		return 0, err
	}
	listURL, ok := c.routes.CanonicalURL(cat)
	if !ok {
		return 0, fmt.Errorf("%w: %s", tender.ErrNoRoutes, category)
	}
	listing, detail := c.routes.Resolve(cat)
	first := listing.FirstPage
	if first == 0 {
		first = 1
	}

	var (
		pages   int
		prevSig string
	)
	for n := first; maxPages <= 0 || pages < maxPages; n++ {
		if err := ctx.Err(); err != nil {
			return pages, fmt.Errorf("crawl canceled: %w", err)
		}
		target := pageURL(listURL, listing.PageParam, n, first)
		rendered, err := c.render(ctx, "listing", target)
		if err != nil {
			return pages, fmt.Errorf("listing page %d: %w", n, err)
		}
		entries, err := parseListing(rendered.HTML, rendered.URL, listing)
		if err != nil {
			return pages, fmt.Errorf("listing page %d: %w", n, err)
		}
		if len(entries) == 0 {
			c.logger.Info("listing exhausted", zap.String("category", category), zap.Int("page", n))
			break
		}
		sig := signature(entries)
		if sig == prevSig {
			c.logger.Info("listing repeated previous page", zap.String("category", category), zap.Int("page", n))
			break
		}
		prevSig = sig

		page := Page{Number: n, URL: target, Results: c.resolveAll(ctx, cat, detail, entries)}
		pages++
		more, err := handle(ctx, page)
		if err != nil {
			return pages, err
		}
		if !more {
			break
		}
	}
	return pages, nil
}

func (c *Crawler) resolveAll(ctx context.Context, cat routes.Category, detail routes.DetailSpec, entries []Entry) []Result {
	results := make([]Result, len(entries))
	var g errgroup.Group
	g.SetLimit(c.cfg.Concurrency)
	for i, e := range entries {
		g.Go(func() error {
			rec, err := c.resolve(ctx, cat, detail, e)
			results[i] = Result{Entry: e, Record: rec, Err: err}
			if err != nil {
				c.logger.Warn("entry resolution failed",
					zap.String("category", cat.Name),
					zap.String("tender_id", e.TenderID),
					zap.Error(err),
				)
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// resolve renders one entry's detail page and builds its record.
func (c *Crawler) resolve(ctx context.Context, cat routes.Category, detail routes.DetailSpec, e Entry) (tender.Record, error) {
	if err := ctx.Err(); err != nil {
		return tender.Record{}, err
	}
	detailURL := e.DetailURL
	if detailURL == "" && detail.URLTemplate != "" {
		detailURL = routes.Join(c.routes.BaseURL, strings.ReplaceAll(detail.URLTemplate, "{id}", url.PathEscape(e.TenderID)))
	}
	if detailURL == "" {
		return tender.Record{}, fmt.Errorf("tender %s: no detail link", e.TenderID)
	}
	page, err := c.render(ctx, "detail", detailURL)
	if err != nil {
		return tender.Record{}, fmt.Errorf("tender %s: %w", e.TenderID, err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.HTML))
	if err != nil {
		return tender.Record{}, fmt.Errorf("tender %s: parse detail: %w", e.TenderID, err)
	}

	raw := make(map[string]string, len(detail.Fields)+len(e.Preview))
	for _, name := range sortedKeys(detail.Fields) {
		if v, ok := Resolve(doc.Selection, detail.Fields[name]); ok {
			raw[name] = v
			continue
		}
		if v := e.Preview[name]; v != "" {
			raw[name] = v
			continue
		}
		c.logger.Debug("field strategies exhausted",
			zap.String("tender_id", e.TenderID),
			zap.String("field", name),
		)
	}
	for k, v := range e.Preview {
		if _, ok := raw[k]; !ok && v != "" {
			raw[k] = v
		}
	}

	var docURLs []string
	seen := make(map[string]struct{})
	for _, href := range ResolveAll(doc.Selection, detail.DocumentLinks) {
		abs := resolveLink(page.URL, href)
		if abs == "" {
			continue
		}
		if norm, err := NormalizeURL(abs); err == nil {
			abs = norm
		}
		if _, dup := seen[abs]; dup {
			continue
		}
		seen[abs] = struct{}{}
		docURLs = append(docURLs, abs)
	}

	var bidders *int
	if detail.BidderRows != "" {
		if rows := doc.Find(detail.BidderRows); rows.Length() > 0 {
			n := 0
			rows.Each(func(_ int, s *goquery.Selection) {
				if s.Find("th").Length() == 0 && collapse(s.Text()) != "" {
					n++
				}
			})
			bidders = &n
		}
	}

	rec := buildRecord(cat.Name, e.TenderID, page.URL, raw, docURLs, bidders)
	if rec.HasFlag(tender.FlagBidderCountMismatch) {
		c.logger.Warn("bidder count mismatch",
			zap.String("tender_id", rec.TenderID),
			zap.Int("linked", *rec.BidderCount),
			zap.Int("declared", *rec.DeclaredBidderCount),
		)
	}
	return rec, nil
}

func buildRecord(category, id, detailURL string, raw map[string]string, docURLs []string, bidders *int) tender.Record {
	rec := tender.Record{
		TenderID:        id,
		Title:           raw["title"],
		Category:        raw["category"],
		SourceCategory:  category,
		Status:          tender.ParseStatus(raw["status"]),
		ProcuringEntity: raw["procuring_entity"],
		PublicationDate: normalizeDate(raw["publication_date"]),
		DeadlineDate:    normalizeDate(raw["deadline_date"]),
		ProcedureType:   raw["procedure_type"],
		DetailURL:       detailURL,
		DocumentURLs:    docURLs,
		BidderCount:     bidders,
		Raw:             raw,
	}
	if rec.Category == "" {
		rec.Category = category
	}
	if rec.Status == tender.StatusUnknown {
		// The listing a tender was found in implies its state.
		rec.Status = tender.ParseStatus(category)
	}
	rec.EstimatedValue, rec.Currency = normalizeAmount(raw["estimated_value"])
	if v := raw["declared_bidder_count"]; v != "" {
		rec.DeclaredBidderCount = parseCount(v)
	}
	// Linked bidder rows are authoritative; a differing declared count is flagged.
	if rec.BidderCount != nil && rec.DeclaredBidderCount != nil && *rec.BidderCount != *rec.DeclaredBidderCount {
		rec.Flags = append(rec.Flags, tender.FlagBidderCountMismatch)
	}
	return rec
}

func (c *Crawler) render(ctx context.Context, kind, target string) (tender.Page, error) {
	var page tender.Page
	err := retry.Do(ctx, c.cfg.Retry, func(ctx context.Context, _ int) error {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx, target); err != nil {
				return retry.Permanent(err)
			}
		}
		p, err := c.renderer.Render(ctx, target)
		if err != nil {
			metrics.ObserveRender(kind, "error", 0)
			return err
		}
		switch {
		case p.StatusCode == http.StatusUnauthorized || p.StatusCode == http.StatusForbidden:
			metrics.ObserveRender(kind, "auth", p.Duration)
			return retry.Permanent(fmt.Errorf("render %s: %w", target, tender.ErrAuthRequired))
		case p.StatusCode >= 500:
			metrics.ObserveRender(kind, "error", p.Duration)
			return fmt.Errorf("render %s: status %d", target, p.StatusCode)
		case p.StatusCode >= 400:
			metrics.ObserveRender(kind, "error", p.Duration)
			return retry.Permanent(fmt.Errorf("render %s: status %d", target, p.StatusCode))
		}
		metrics.ObserveRender(kind, "ok", p.Duration)
		page = p
		return nil
	})
	if err != nil {
		return tender.Page{}, err
	}
	if page.URL == "" {
		page.URL = target
	}
	return page, nil
}

func parseListing(html []byte, pageURL string, spec routes.ListingSpec) ([]Entry, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse listing: %w", err)
	}
	var entries []Entry
	seen := make(map[string]struct{})
	doc.Find(spec.ItemSelector).Each(func(_ int, item *goquery.Selection) {
		id, ok := Resolve(item, spec.ID)
		if !ok {
			return
		}
		if _, dup := seen[id]; dup {
			return
		}
		seen[id] = struct{}{}
		e := Entry{TenderID: id, Preview: make(map[string]string, len(spec.Preview))}
		if href, ok := Resolve(item, spec.Link); ok {
			e.DetailURL = resolveLink(pageURL, href)
		}
		for name, strategies := range spec.Preview {
			if v, ok := Resolve(item, strategies); ok {
				e.Preview[name] = v
			}
		}
		entries = append(entries, e)
	})
	return entries, nil
}

func signature(entries []Entry) string {
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.TenderID
	}
	return strings.Join(ids, "\x00")
}

func sortedKeys(m map[string][]routes.Strategy) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
