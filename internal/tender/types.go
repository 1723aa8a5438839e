// Package tender defines the domain types shared across the ingestion pipeline.
package tender

import (
	"strings"
	"time"
)

// Status captures the lifecycle state of a tender on the portal.
type Status string

const (
	// StatusActive marks a tender that is open for bids.
	StatusActive Status = "active"
	// StatusAwarded marks a tender with a decision or signed contract.
	StatusAwarded Status = "awarded"
	// StatusCancelled marks an annulled tender.
	StatusCancelled Status = "cancelled"
	// StatusUnknown is used when the portal label matches no known state.
	StatusUnknown Status = "unknown"
)

// statusPatterns is checked in order; cancellation wins over award wording.
var statusPatterns = []struct {
	status   Status
	keywords []string
}{
	{StatusCancelled, []string{"cancelled", "canceled", "annulled", "поништ"}},
	{StatusAwarded, []string{"awarded", "доделен", "доделена", "склучен договор"}},
	{StatusActive, []string{"active", "open", "активен", "активна", "отворен", "во тек"}},
}

// ParseStatus maps a free-form portal label to a Status.
func ParseStatus(raw string) Status {
	key := strings.ToLower(strings.Join(strings.Fields(raw), " "))
	if key == "" {
		return StatusUnknown
	}
	for _, p := range statusPatterns {
		for _, kw := range p.keywords {
			if strings.Contains(key, kw) {
				return p.status
			}
		}
	}
	return StatusUnknown
}

// Flag values attached to records that need operator attention.
const (
	FlagBidderCountMismatch = "bidder_count_mismatch"
)

// Record is a fully resolved tender as persisted by the change gate.
type Record struct {
	TenderID            string            `json:"tender_id"`
	Title               string            `json:"title"`
	Category            string            `json:"category"`
	Status              Status            `json:"status"`
	SourceCategory      string            `json:"source_category"`
	ProcuringEntity     string            `json:"procuring_entity,omitempty"`
	EstimatedValue      string            `json:"estimated_value,omitempty"`
	Currency            string            `json:"currency,omitempty"`
	PublicationDate     string            `json:"publication_date,omitempty"`
	DeadlineDate        string            `json:"deadline_date,omitempty"`
	ProcedureType       string            `json:"procedure_type,omitempty"`
	DetailURL           string            `json:"detail_url,omitempty"`
	BidderCount         *int              `json:"bidder_count,omitempty"`
	DeclaredBidderCount *int              `json:"declared_bidder_count,omitempty"`
	DocumentURLs        []string          `json:"document_urls,omitempty"`
	Flags               []string          `json:"flags,omitempty"`
	ContentFingerprint  string            `json:"content_fingerprint"`
	FirstSeenAt         time.Time         `json:"first_seen_at"`
	LastModifiedAt      time.Time         `json:"last_modified_at"`
	ScrapeCount         int               `json:"scrape_count"`
	Raw                 map[string]string `json:"raw,omitempty"`
}

// HasFlag reports whether the record carries the named flag.
func (r Record) HasFlag(flag string) bool {
	for _, f := range r.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// Mode selects what a run does.
type Mode string

const (
	// ModeDiscover probes candidate routes and writes a report only.
	ModeDiscover Mode = "discover"
	// ModeFull paginates the canonical route to exhaustion or the page cap.
	ModeFull Mode = "full"
	// ModeIncremental stops once recent pages stop producing changes.
	ModeIncremental Mode = "incremental"
)

// ParseMode validates a mode string, defaulting to incremental when empty.
func ParseMode(raw string) (Mode, bool) {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case "", ModeIncremental:
		return ModeIncremental, true
	case ModeFull:
		return ModeFull, true
	case ModeDiscover:
		return ModeDiscover, true
	default:
		return "", false
	}
}

// RunStatus is the lifecycle state of a ScrapeRun.
type RunStatus string

const (
	// RunRunning marks an open run.
	RunRunning RunStatus = "running"
	// RunCompleted marks a run that finished its pass.
	RunCompleted RunStatus = "completed"
	// RunFailed marks a run that ended on a systemic failure or cancellation.
	RunFailed RunStatus = "failed"
)

// Terminal reports whether the status closes a run.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed
}

// Counts aggregates per-item outcomes for a run.
type Counts struct {
	Found     int `json:"found"`
	New       int `json:"new"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Errors    int `json:"errors"`
}

// Add merges other into c.
func (c *Counts) Add(other Counts) {
	c.Found += other.Found
	c.New += other.New
	c.Updated += other.Updated
	c.Unchanged += other.Unchanged
	c.Errors += other.Errors
}

// Run is the bookkeeping row for one orchestrator invocation.
type Run struct {
	ID           string     `json:"run_id"`
	Mode         Mode       `json:"mode"`
	Category     string     `json:"category"`
	MaxPages     int        `json:"max_pages,omitempty"`
	Status       RunStatus  `json:"status"`
	Counts       Counts     `json:"counts"`
	ErrorMessage string     `json:"error_message,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// ExtractionStatus is the state of a document in the extraction state machine.
type ExtractionStatus string

const (
	DocPending        ExtractionStatus = "pending"
	DocDownloaded     ExtractionStatus = "downloaded"
	DocSuccess        ExtractionStatus = "success"
	DocOCRRequired    ExtractionStatus = "ocr_required"
	DocAuthRequired   ExtractionStatus = "auth_required"
	DocDownloadFailed ExtractionStatus = "download_failed"
	DocSkipped        ExtractionStatus = "skipped"
)

// Terminal reports whether no further automatic transition is attempted.
func (s ExtractionStatus) Terminal() bool {
	switch s {
	case DocSuccess, DocAuthRequired, DocDownloadFailed, DocSkipped:
		return true
	default:
		return false
	}
}

// ExtractionMethod records how content_text was produced.
type ExtractionMethod string

const (
	MethodTable ExtractionMethod = "table"
	MethodText  ExtractionMethod = "text"
	MethodOCR   ExtractionMethod = "ocr"
)

// Document is a file linked from a tender detail page.
type Document struct {
	DocID       string           `json:"doc_id"`
	TenderID    string           `json:"tender_id"`
	SourceURL   string           `json:"source_url"`
	FileType    string           `json:"file_type"`
	Status      ExtractionStatus `json:"extraction_status"`
	ContentText *string          `json:"content_text,omitempty"`
	Method      ExtractionMethod `json:"extraction_method,omitempty"`
	ExtractedAt *time.Time       `json:"extracted_at,omitempty"`
	ContentHash string           `json:"content_hash,omitempty"`
	BlobURI     string           `json:"blob_uri,omitempty"`
	Attempts    int              `json:"attempts"`
	Confidence  float64          `json:"confidence,omitempty"`
	TableRows   [][]string       `json:"table_rows,omitempty"`
	LastError   string           `json:"last_error,omitempty"`
}

// Chunk is a bounded span of document text with its embedding.
type Chunk struct {
	ChunkID   string    `json:"chunk_id"`
	DocID     string    `json:"doc_id"`
	Ordinal   int       `json:"ordinal"`
	Text      string    `json:"text"`
	Embedding []float32 `json:"-"`
	ModelID   string    `json:"model_id"`
	CreatedAt time.Time `json:"created_at"`
}

// SearchHit is a chunk returned by similarity search.
type SearchHit struct {
	Chunk
	Score float64 `json:"score"`
}

// EmbeddingJobStatus tracks a deferred embedding.
type EmbeddingJobStatus string

const (
	EmbeddingPending   EmbeddingJobStatus = "pending"
	EmbeddingCompleted EmbeddingJobStatus = "completed"
	EmbeddingFailed    EmbeddingJobStatus = "failed"
)

// EmbeddingJob records a document whose embedding was deferred to a later run.
type EmbeddingJob struct {
	DocID     string             `json:"doc_id"`
	Status    EmbeddingJobStatus `json:"status"`
	Retries   int                `json:"retries"`
	LastError string             `json:"last_error,omitempty"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// ProbeResult is the outcome of probing one candidate route.
type ProbeResult string

const (
	ProbeWorking     ProbeResult = "working"
	ProbeNoIndicator ProbeResult = "no_indicator"
	ProbeTimeout     ProbeResult = "timeout"
)

// RouteCandidate is a probed navigation token. It only lives in discovery reports.
type RouteCandidate struct {
	Category        string      `json:"category" yaml:"category"`
	RouteToken      string      `json:"route_token" yaml:"route_token"`
	ProbeResult     ProbeResult `json:"probe_result" yaml:"probe_result"`
	SampleItemCount int         `json:"sample_item_count" yaml:"sample_item_count"`
	Error           string      `json:"error,omitempty" yaml:"error,omitempty"`
}
