// Package routes loads the versioned category route configuration.
//
// The file maps each category to its canonical route token and carries the
// field extraction strategies used to read listing and detail pages. It is
// loaded once per run and only changes through Promote.
package routes

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrUnknownCategory is returned for categories missing from the file.
var ErrUnknownCategory = errors.New("unknown category")

// Extraction rules understood by Strategy.
const (
	ExtractText  = "text"
	ExtractAttr  = "attr"
	ExtractLabel = "label"
	ExtractRegex = "regex"
)

// Strategy locates one field value. Strategies are tried in order and the first
// non-empty value wins.
type Strategy struct {
	Selector string `yaml:"selector,omitempty" json:"selector,omitempty"`
	Extract  string `yaml:"extract,omitempty" json:"extract,omitempty"`
	Attr     string `yaml:"attr,omitempty" json:"attr,omitempty"`
	Label    string `yaml:"label,omitempty" json:"label,omitempty"`
	Pattern  string `yaml:"pattern,omitempty" json:"pattern,omitempty"`
}

// Rule returns the extraction rule, defaulting to text.
func (s Strategy) Rule() string {
	if s.Extract == "" {
		return ExtractText
	}
	return s.Extract
}

// ListingSpec describes a paginated listing page.
type ListingSpec struct {
	ItemSelector string                `yaml:"item_selector,omitempty"`
	ID           []Strategy            `yaml:"id,omitempty"`
	Link         []Strategy            `yaml:"link,omitempty"`
	Preview      map[string][]Strategy `yaml:"preview,omitempty"`
	PageParam    string                `yaml:"page_param,omitempty"`
	FirstPage    int                   `yaml:"first_page,omitempty"`
}

// DetailSpec describes a tender detail page.
type DetailSpec struct {
	URLTemplate   string                `yaml:"url_template,omitempty"`
	Fields        map[string][]Strategy `yaml:"fields,omitempty"`
	DocumentLinks []Strategy            `yaml:"document_links,omitempty"`
	BidderRows    string                `yaml:"bidder_rows,omitempty"`
}

// Category is one scrape target on the portal.
type Category struct {
	Name       string       `yaml:"name"`
	Canonical  string       `yaml:"canonical,omitempty"`
	Candidates []string     `yaml:"candidates,omitempty"`
	Keywords   []string     `yaml:"keywords,omitempty"`
	Listing    *ListingSpec `yaml:"listing,omitempty"`
	Detail     *DetailSpec  `yaml:"detail,omitempty"`
}

// File is the on-disk route configuration.
type File struct {
	Version    int         `yaml:"version"`
	UpdatedAt  time.Time   `yaml:"updated_at,omitempty"`
	BaseURL    string      `yaml:"base_url,omitempty"`
	Listing    ListingSpec `yaml:"listing"`
	Detail     DetailSpec  `yaml:"detail"`
	Categories []Category  `yaml:"categories"`
}

// Load reads path. A missing file yields Default so a fresh checkout can run discovery.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read routes: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML bytes and fills unset listing/detail strategies from Default.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode routes: %w", err)
	}
	f.applyDefaults(Default())
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

func (f *File) applyDefaults(def *File) {
	if f.Listing.ItemSelector == "" {
		f.Listing.ItemSelector = def.Listing.ItemSelector
	}
	if len(f.Listing.ID) == 0 {
		f.Listing.ID = def.Listing.ID
	}
	if len(f.Listing.Link) == 0 {
		f.Listing.Link = def.Listing.Link
	}
	if len(f.Listing.Preview) == 0 {
		f.Listing.Preview = def.Listing.Preview
	}
	if f.Listing.PageParam == "" {
		f.Listing.PageParam = def.Listing.PageParam
	}
	if f.Listing.FirstPage == 0 {
		f.Listing.FirstPage = def.Listing.FirstPage
	}
	if len(f.Detail.Fields) == 0 {
		f.Detail.Fields = def.Detail.Fields
	}
	if len(f.Detail.DocumentLinks) == 0 {
		f.Detail.DocumentLinks = def.Detail.DocumentLinks
	}
	if f.Detail.BidderRows == "" {
		f.Detail.BidderRows = def.Detail.BidderRows
	}
	if f.Detail.URLTemplate == "" {
		f.Detail.URLTemplate = def.Detail.URLTemplate
	}
}

// Validate checks structural consistency.
func (f *File) Validate() error {
	seen := make(map[string]struct{}, len(f.Categories))
	for _, c := range f.Categories {
		if strings.TrimSpace(c.Name) == "" {
			return fmt.Errorf("routes: category name is required")
		}
		if _, dup := seen[c.Name]; dup {
			return fmt.Errorf("routes: duplicate category %q", c.Name)
		}
		seen[c.Name] = struct{}{}
		if c.Canonical == "" && len(c.Candidates) == 0 {
			return fmt.Errorf("routes: category %q has neither canonical route nor candidates", c.Name)
		}
	}
	for _, spec := range append(allStrategies(f.Listing, f.Detail), f.categoryStrategies()...) {
		if spec.Rule() == ExtractRegex && spec.Pattern == "" {
			return fmt.Errorf("routes: regex strategy on %q needs pattern", spec.Selector)
		}
		if spec.Pattern != "" {
			if _, err := regexp.Compile(spec.Pattern); err != nil {
				return fmt.Errorf("routes: invalid pattern %q: %w", spec.Pattern, err)
			}
		}
		switch spec.Rule() {
		case ExtractText, ExtractRegex:
		case ExtractAttr:
			if spec.Attr == "" {
				return fmt.Errorf("routes: attr strategy on %q needs attr", spec.Selector)
			}
		case ExtractLabel:
			if spec.Label == "" {
				return fmt.Errorf("routes: label strategy needs label")
			}
		default:
			return fmt.Errorf("routes: unknown extract rule %q", spec.Extract)
		}
	}
	return nil
}

func (f *File) categoryStrategies() []Strategy {
	var out []Strategy
	for _, c := range f.Categories {
		l, d := f.Resolve(c)
		out = append(out, allStrategies(l, d)...)
	}
	return out
}

func allStrategies(l ListingSpec, d DetailSpec) []Strategy {
	out := append([]Strategy{}, l.ID...)
	out = append(out, l.Link...)
	for _, s := range l.Preview {
		out = append(out, s...)
	}
	for _, s := range d.Fields {
		out = append(out, s...)
	}
	return append(out, d.DocumentLinks...)
}

// Category returns the named category.
func (f *File) Category(name string) (Category, error) {
	for _, c := range f.Categories {
		if c.Name == name {
			return c, nil
		}
	}
	return Category{}, fmt.Errorf("%w: %s", ErrUnknownCategory, name)
}

// Names lists category names in declaration order.
func (f *File) Names() []string {
	out := make([]string, 0, len(f.Categories))
	for _, c := range f.Categories {
		out = append(out, c.Name)
	}
	return out
}

// Resolve returns the listing and detail specs for c, with category overrides applied.
func (f *File) Resolve(c Category) (ListingSpec, DetailSpec) {
	listing, detail := f.Listing, f.Detail
	if c.Listing != nil {
		o := *c.Listing
		if o.ItemSelector != "" {
			listing.ItemSelector = o.ItemSelector
		}
		if len(o.ID) > 0 {
			listing.ID = o.ID
		}
		if len(o.Link) > 0 {
			listing.Link = o.Link
		}
		if len(o.Preview) > 0 {
			listing.Preview = o.Preview
		}
		if o.PageParam != "" {
			listing.PageParam = o.PageParam
		}
		if o.FirstPage != 0 {
			listing.FirstPage = o.FirstPage
		}
	}
	if c.Detail != nil {
		o := *c.Detail
		if o.URLTemplate != "" {
			detail.URLTemplate = o.URLTemplate
		}
		if len(o.Fields) > 0 {
			merged := make(map[string][]Strategy, len(detail.Fields)+len(o.Fields))
			for k, v := range detail.Fields {
				merged[k] = v
			}
			for k, v := range o.Fields {
				merged[k] = v
			}
			detail.Fields = merged
		}
		if len(o.DocumentLinks) > 0 {
			detail.DocumentLinks = o.DocumentLinks
		}
		if o.BidderRows != "" {
			detail.BidderRows = o.BidderRows
		}
	}
	return listing, detail
}

// Encode serializes the file to YAML.
func (f *File) Encode() ([]byte, error) {
	data, err := yaml.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode routes: %w", err)
	}
	return data, nil
}

// Save writes the file atomically via a temp file and rename.
func (f *File) Save(path string) error {
	data, err := f.Encode()
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create routes dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".routes-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp routes: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // already renamed on success
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp routes: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp routes: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace routes: %w", err)
	}
	return nil
}
