package crawler

import (
	"regexp"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"

	"github.com/bloodyteeths/nabavkidata-sub002/internal/routes"
)

var (
	patternMu    sync.Mutex
	patternCache = map[string]*regexp.Regexp{}
)

func compiled(pattern string) *regexp.Regexp {
	patternMu.Lock()
	defer patternMu.Unlock()
	if re, ok := patternCache[pattern]; ok {
		return re
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		re = nil
	}
	patternCache[pattern] = re
	return re
}

// Resolve tries strategies in order and returns the first non-empty value.
func Resolve(scope *goquery.Selection, strategies []routes.Strategy) (string, bool) {
	for _, s := range strategies {
		if v := apply(scope, s); v != "" {
			return v, true
		}
	}
	return "", false
}

// ResolveAll returns every value produced by the first strategy that yields any.
func ResolveAll(scope *goquery.Selection, strategies []routes.Strategy) []string {
	for _, s := range strategies {
		var out []string
		target := scope
		if s.Selector != "" {
			target = scope.Find(s.Selector)
		}
		target.Each(func(_ int, sel *goquery.Selection) {
			if v := extractOne(sel, s); v != "" {
				out = append(out, v)
			}
		})
		if len(out) > 0 {
			return out
		}
	}
	return nil
}

func apply(scope *goquery.Selection, s routes.Strategy) string {
	switch s.Rule() {
	case routes.ExtractLabel:
		target := scope
		if s.Selector != "" {
			target = scope.Find(s.Selector)
		}
		return byLabel(target, s.Label)
	default:
		target := scope
		if s.Selector != "" {
			target = scope.Find(s.Selector).First()
		}
		if target.Length() == 0 {
			return ""
		}
		return extractOne(target, s)
	}
}

func extractOne(sel *goquery.Selection, s routes.Strategy) string {
	switch s.Rule() {
	case routes.ExtractAttr:
		v, _ := sel.Attr(s.Attr)
		return strings.TrimSpace(v)
	case routes.ExtractRegex:
		re := compiled(s.Pattern)
		if re == nil {
			return ""
		}
		m := re.FindStringSubmatch(collapse(sel.Text()))
		switch {
		case len(m) > 1:
			return strings.TrimSpace(m[1])
		case len(m) == 1:
			return strings.TrimSpace(m[0])
		}
		return ""
	case routes.ExtractLabel:
		return byLabel(sel, s.Label)
	default:
		return collapse(sel.Text())
	}
}

// labelTags are elements that commonly carry a field caption on the portal.
const labelTags = "th, td, dt, label, span, strong, b, div, p"

// byLabel finds the element whose own text matches label and returns the value
// that follows it: the next cell, the next dd, or the next sibling element.
func byLabel(scope *goquery.Selection, label string) string {
	want := normalizeLabel(label)
	if want == "" {
		return ""
	}
	var value string
	scope.Find(labelTags).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if sel.Children().Length() > 0 && goquery.NodeName(sel) == "div" {
			return true
		}
		text := collapse(sel.Text())
		own := normalizeLabel(text)
		if own != want {
			// Caption and value may share the element: "Статус: Активен".
			if len(text) <= len(want) || !strings.EqualFold(text[:len(want)], want) {
				return true
			}
			rest := strings.TrimSpace(text[len(want):])
			if !strings.HasPrefix(rest, ":") {
				return true
			}
			value = collapse(strings.TrimLeft(rest, ": "))
			return value == ""
		}
		next := sel.Next()
		switch goquery.NodeName(sel) {
		case "dt":
			next = sel.NextFiltered("dd")
		case "label":
			if id, ok := sel.Attr("for"); ok && id != "" {
				if target := scope.Find("#" + id); target.Length() > 0 {
					if v, ok := target.Attr("value"); ok {
						value = collapse(v)
						return value == ""
					}
					next = target
				}
			}
		}
		if next.Length() > 0 {
			value = collapse(next.Text())
		}
		return value == ""
	})
	return value
}

func normalizeLabel(s string) string {
	s = strings.ToLower(collapse(s))
	return strings.TrimRight(s, ": ")
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
