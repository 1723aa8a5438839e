package routes

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"
)

// Promote makes token the canonical route for category and bumps the version.
// It is the only way the canonical mapping changes.
func (f *File) Promote(category, token string, at time.Time) error {
	if token == "" {
		return fmt.Errorf("routes: empty route token for %q", category)
	}
	for i := range f.Categories {
		c := &f.Categories[i]
		if c.Name != category {
			continue
		}
		if c.Canonical == token {
			return nil
		}
		c.Canonical = token
		if !slices.Contains(c.Candidates, token) {
			c.Candidates = append([]string{token}, c.Candidates...)
		}
		f.Version++
		f.UpdatedAt = at.UTC()
		return nil
	}
	return fmt.Errorf("%w: %s", ErrUnknownCategory, category)
}

// CanonicalURL joins the base URL with the category's canonical token.
func (f *File) CanonicalURL(c Category) (string, bool) {
	if c.Canonical == "" {
		return "", false
	}
	return Join(f.BaseURL, c.Canonical), true
}

// Join appends a route token to base. Fragment and query tokens are appended
// to base without its fragment; absolute URLs replace base.
func Join(base, token string) string {
	switch {
	case token == "":
		return base
	case strings.HasPrefix(token, "http://"), strings.HasPrefix(token, "https://"):
		return token
	}
	u, err := url.Parse(base)
	if err != nil {
		return base + token
	}
	u.Fragment = ""
	u.RawFragment = ""
	switch token[0] {
	case '#', '?':
		return u.String() + token
	case '/':
		return u.Scheme + "://" + u.Host + token
	default:
		return u.String() + "#/" + token
	}
}
