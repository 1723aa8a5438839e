// Package gate decides whether a resolved tender is new, changed, or unchanged.
package gate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/bloodyteeths/nabavkidata-sub002/internal/hash/sha256"
	"github.com/bloodyteeths/nabavkidata-sub002/internal/metrics"
	"github.com/bloodyteeths/nabavkidata-sub002/internal/tender"
)

// Outcome is the gate decision for one record.
type Outcome string

const (
	OutcomeNew       Outcome = "new"
	OutcomeUpdated   Outcome = "updated"
	OutcomeUnchanged Outcome = "unchanged"
)

// Changed reports whether the outcome wrote the record and should trigger
// document retrieval.
func (o Outcome) Changed() bool {
	return o == OutcomeNew || o == OutcomeUpdated
}

// Apply adds the outcome to counts.
func (o Outcome) Apply(c *tender.Counts) {
	switch o {
	case OutcomeNew:
		c.New++
	case OutcomeUpdated:
		c.Updated++
	case OutcomeUnchanged:
		c.Unchanged++
	}
}

// Gate compares records against the store by fingerprint.
type Gate struct {
	store  tender.TenderStore
	clock  tender.Clock
	logger *zap.Logger
}

// New constructs a Gate.
func New(store tender.TenderStore, clock tender.Clock, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{store: store, clock: clock, logger: logger}
}

// Process fingerprints rec and inserts, updates, or skips it. The returned
// record is the stored state.
func (g *Gate) Process(ctx context.Context, rec tender.Record) (tender.Record, Outcome, error) {
	fp, err := Fingerprint(rec)
	if err != nil {
		return tender.Record{}, "", err
	}
	rec.ContentFingerprint = fp
	now := g.clock.Now()

	existing, err := g.store.GetTender(ctx, rec.TenderID)
	switch {
	case errors.Is(err, tender.ErrNotFound):
		rec.FirstSeenAt = now
		rec.LastModifiedAt = now
		rec.ScrapeCount = 1
		if err := g.store.InsertTender(ctx, rec); err != nil {
			return tender.Record{}, "", fmt.Errorf("insert tender %s: %w", rec.TenderID, err)
		}
		g.observe(rec, OutcomeNew)
		return rec, OutcomeNew, nil
	case err != nil:
		return tender.Record{}, "", fmt.Errorf("lookup tender %s: %w", rec.TenderID, err)
	}

	if existing.ContentFingerprint == fp {
		g.observe(existing, OutcomeUnchanged)
		return existing, OutcomeUnchanged, nil
	}

	rec.FirstSeenAt = existing.FirstSeenAt
	rec.LastModifiedAt = now
	rec.ScrapeCount = existing.ScrapeCount + 1
	if err := g.store.UpdateTender(ctx, rec); err != nil {
		return tender.Record{}, "", fmt.Errorf("update tender %s: %w", rec.TenderID, err)
	}
	g.observe(rec, OutcomeUpdated)
	return rec, OutcomeUpdated, nil
}

func (g *Gate) observe(rec tender.Record, o Outcome) {
	metrics.ObserveTenderOutcome(rec.SourceCategory, string(o))
	g.logger.Debug("gate decision",
		zap.String("tender_id", rec.TenderID),
		zap.String("outcome", string(o)),
		zap.String("fingerprint", rec.ContentFingerprint),
	)
}

// Fingerprint hashes the tracked fields of rec. encoding/json sorts map keys,
// so equal content hashes equally regardless of field order.
func Fingerprint(rec tender.Record) (string, error) {
	payload, err := json.Marshal(TrackedFields(rec))
	if err != nil {
		return "", fmt.Errorf("fingerprint tender %s: %w", rec.TenderID, err)
	}
	return sha256.Sum(payload), nil
}

// TrackedFields is the canonical field subset covered by the fingerprint.
func TrackedFields(rec tender.Record) map[string]any {
	fields := map[string]any{
		"title":            norm(rec.Title),
		"category":         norm(rec.Category),
		"status":           string(rec.Status),
		"procuring_entity": norm(rec.ProcuringEntity),
		"estimated_value":  norm(rec.EstimatedValue),
		"currency":         norm(rec.Currency),
		"publication_date": norm(rec.PublicationDate),
		"deadline_date":    norm(rec.DeadlineDate),
		"procedure_type":   norm(rec.ProcedureType),
		"bidder_count":     countString(rec.BidderCount),
		"document_urls":    sortedSet(rec.DocumentURLs),
	}
	return fields
}

func norm(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func countString(n *int) string {
	if n == nil {
		return ""
	}
	return strconv.Itoa(*n)
}

func sortedSet(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
