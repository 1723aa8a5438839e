package discovery

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bloodyteeths/nabavkidata-sub002/internal/routes"
	"github.com/bloodyteeths/nabavkidata-sub002/internal/tender"
)

// Report is the discovery artifact handed to an operator for review.
type Report struct {
	GeneratedAt  time.Time        `yaml:"generated_at" json:"generated_at"`
	RouteVersion int              `yaml:"route_version" json:"route_version"`
	BaseURL      string           `yaml:"base_url" json:"base_url"`
	Categories   []CategoryReport `yaml:"categories" json:"categories"`
}

// CategoryReport holds one category's probe results.
type CategoryReport struct {
	Category string `yaml:"category" json:"category"`
	// Current is the canonical token in the route file at probe time.
	Current string `yaml:"current,omitempty" json:"current,omitempty"`
	// Canonical is the recommended token; empty when unresolved.
	Canonical  string                  `yaml:"canonical,omitempty" json:"canonical,omitempty"`
	Unresolved bool                    `yaml:"unresolved,omitempty" json:"unresolved,omitempty"`
	Candidates []tender.RouteCandidate `yaml:"candidates" json:"candidates"`
}

// Unresolved lists categories with no working candidate.
func (r Report) Unresolved() []string {
	var out []string
	for _, c := range r.Categories {
		if c.Unresolved {
			out = append(out, c.Category)
		}
	}
	return out
}

// Category returns the report entry for name.
func (r Report) Category(name string) (CategoryReport, bool) {
	for _, c := range r.Categories {
		if c.Category == name {
			return c, true
		}
	}
	return CategoryReport{}, false
}

// WriteReport stores r as YAML at path.
func WriteReport(path string, r Report) error {
	data, err := yaml.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode discovery report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write discovery report: %w", err)
	}
	return nil
}

// ReadReport loads a YAML report from path.
func ReadReport(path string) (Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Report{}, fmt.Errorf("read discovery report: %w", err)
	}
	var r Report
	if err := yaml.Unmarshal(data, &r); err != nil {
		return Report{}, fmt.Errorf("decode discovery report: %w", err)
	}
	return r, nil
}

// Promote applies the report's recommendation for each named category to f.
// Categories without a recommendation are rejected.
func Promote(f *routes.File, r Report, at time.Time, categories ...string) error {
	if len(categories) == 0 {
		for _, c := range r.Categories {
			if !c.Unresolved {
				categories = append(categories, c.Category)
			}
		}
	}
	if len(categories) == 0 {
		return errors.New("discovery: report has no resolved categories")
	}
	for _, name := range categories {
		entry, ok := r.Category(name)
		if !ok {
			return fmt.Errorf("discovery: category %q not in report", name)
		}
		if entry.Unresolved || entry.Canonical == "" {
			return fmt.Errorf("discovery: category %q is unresolved", name)
		}
		if err := f.Promote(name, entry.Canonical, at); err != nil {
			return err
		}
	}
	return nil
}
