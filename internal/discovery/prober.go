// Package discovery probes candidate route tokens against the live portal and
// reports which one each category should use.
//
// Probing never touches persistent state. Its only output is a Report, which an
// operator promotes into the route file with `nabavki routes promote`.
package discovery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/bloodyteeths/nabavkidata-sub002/internal/metrics"
	"github.com/bloodyteeths/nabavkidata-sub002/internal/routes"
	"github.com/bloodyteeths/nabavkidata-sub002/internal/tender"
)

// ErrAllUnresolved is returned when no category has a working candidate.
var ErrAllUnresolved = errors.New("discovery: no working route in any category")

const maxConcurrency = 2

// Config tunes the prober.
type Config struct {
	// Concurrency is clamped to [1, 2]; each probe holds a full browser tab.
	Concurrency int
	// MinItems is the smallest row count that counts as a listing.
	MinItems int
}

// Prober renders candidate routes and scores them.
type Prober struct {
	renderer tender.Renderer
	routes   *routes.File
	clock    tender.Clock
	cfg      Config
	logger   *zap.Logger
}

// New constructs a Prober.
func New(renderer tender.Renderer, file *routes.File, clock tender.Clock, cfg Config, logger *zap.Logger) *Prober {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.Concurrency > maxConcurrency {
		cfg.Concurrency = maxConcurrency
	}
	if cfg.MinItems < 1 {
		cfg.MinItems = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Prober{renderer: renderer, routes: file, clock: clock, cfg: cfg, logger: logger}
}

// Probe scores every candidate of the named categories, or all categories when
// names is empty. The report is returned even when ErrAllUnresolved is.
func (p *Prober) Probe(ctx context.Context, names ...string) (Report, error) {
	if len(names) == 0 {
		names = p.routes.Names()
	}
	cats := make([]routes.Category, 0, len(names))
	for _, name := range names {
		c, err := p.routes.Category(name)
		if err != nil {
			return Report{}, err
		}
		cats = append(cats, c)
	}

	results := make([][]tender.RouteCandidate, len(cats))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)
	for ci, c := range cats {
		results[ci] = make([]tender.RouteCandidate, len(c.Candidates))
		for ti, token := range c.Candidates {
			g.Go(func() error {
				results[ci][ti] = p.probeOne(gctx, c, token)
				return nil
			})
		}
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return Report{}, fmt.Errorf("discovery canceled: %w", err)
	}

	report := Report{
		GeneratedAt:  p.clock.Now(),
		RouteVersion: p.routes.Version,
		BaseURL:      p.routes.BaseURL,
	}
	resolved := 0
	for ci, c := range cats {
		cr := CategoryReport{Category: c.Name, Current: c.Canonical, Candidates: results[ci]}
		if best, ok := Best(results[ci]); ok {
			cr.Canonical = best.RouteToken
			resolved++
		} else {
			cr.Unresolved = true
			p.logger.Warn("category unresolved", zap.String("category", c.Name), zap.Int("candidates", len(c.Candidates)))
		}
		report.Categories = append(report.Categories, cr)
	}
	if resolved == 0 {
		return report, ErrAllUnresolved
	}
	return report, nil
}

func (p *Prober) probeOne(ctx context.Context, c routes.Category, token string) tender.RouteCandidate {
	cand := tender.RouteCandidate{Category: c.Name, RouteToken: token, ProbeResult: tender.ProbeNoIndicator}
	url := routes.Join(p.routes.BaseURL, token)
	page, err := p.renderer.Render(ctx, url)
	switch {
	case errors.Is(err, tender.ErrRenderTimeout):
		cand.ProbeResult = tender.ProbeTimeout
		cand.Error = err.Error()
	case err != nil:
		cand.Error = err.Error()
	default:
		listing, _ := p.routes.Resolve(c)
		cand.SampleItemCount, cand.ProbeResult = inspect(page.HTML, listing.ItemSelector, c.Keywords, p.cfg.MinItems)
	}
	metrics.ObserveProbe(string(cand.ProbeResult))
	metrics.ObserveRender("probe", string(cand.ProbeResult), page.Duration)
	p.logger.Info("route probed",
		zap.String("category", c.Name),
		zap.String("route", token),
		zap.String("result", string(cand.ProbeResult)),
		zap.Int("items", cand.SampleItemCount),
	)
	return cand
}

// inspect counts listing rows; keyword presence alone still marks a page working.
func inspect(html []byte, itemSelector string, keywords []string, minItems int) (int, tender.ProbeResult) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return 0, tender.ProbeNoIndicator
	}
	count := 0
	if itemSelector != "" {
		doc.Find(itemSelector).Each(func(_ int, s *goquery.Selection) {
			if strings.TrimSpace(s.Text()) != "" {
				count++
			}
		})
	}
	if count >= minItems {
		return count, tender.ProbeWorking
	}
	body := strings.ToLower(doc.Find("body").Text())
	for _, kw := range keywords {
		if kw != "" && strings.Contains(body, strings.ToLower(kw)) {
			return count, tender.ProbeWorking
		}
	}
	return count, tender.ProbeNoIndicator
}

// Best picks the working candidate with the highest item count. Ties go to the
// earliest declared candidate.
func Best(cands []tender.RouteCandidate) (tender.RouteCandidate, bool) {
	var (
		best  tender.RouteCandidate
		found bool
	)
	for _, c := range cands {
		if c.ProbeResult != tender.ProbeWorking {
			continue
		}
		if !found || c.SampleItemCount > best.SampleItemCount {
			best, found = c, true
		}
	}
	return best, found
}
