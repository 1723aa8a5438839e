package crawler

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/bloodyteeths/nabavkidata-sub002/internal/routes"
)

// NormalizeURL standardizes a document URL to avoid duplicates.
// It lowercases the scheme and host, removes default ports, sorts query
// parameters, and drops the fragment.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""
	u.RawFragment = ""
	u.RawQuery = u.Query().Encode()

	return u.String(), nil
}

// resolveLink turns an href found on pageURL into an absolute URL. Hash routes
// stay relative to the SPA shell.
func resolveLink(pageURL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(strings.ToLower(href), "javascript:") {
		return ""
	}
	if strings.HasPrefix(href, "#") {
		return routes.Join(pageURL, href)
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

// pageURL returns the listing URL for page. A {page} placeholder is substituted;
// otherwise param is appended to the query inside the hash route.
func pageURL(listURL, param string, page, first int) string {
	if strings.Contains(listURL, "{page}") {
		return strings.ReplaceAll(listURL, "{page}", fmt.Sprint(page))
	}
	if page == first || param == "" {
		return listURL
	}
	tail := listURL
	if i := strings.LastIndex(listURL, "#"); i >= 0 {
		tail = listURL[i:]
	}
	sep := "?"
	if strings.Contains(tail, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%s%s=%d", listURL, sep, url.QueryEscape(param), page)
}
