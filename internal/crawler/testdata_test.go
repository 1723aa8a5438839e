package crawler

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/bloodyteeths/nabavkidata-sub002/internal/routes"
	"github.com/bloodyteeths/nabavkidata-sub002/internal/tender"
)

const testBase = "https://portal.example/PublicAccess/home.aspx"

type fakeRenderer struct {
	mu    sync.Mutex
	pages map[string]string
	fail  map[string]error
	calls map[string]int
}

func newFakeRenderer() *fakeRenderer {
	return &fakeRenderer{pages: map[string]string{}, fail: map[string]error{}, calls: map[string]int{}}
}

func (r *fakeRenderer) Render(_ context.Context, url string) (tender.Page, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[url]++
	if err, ok := r.fail[url]; ok {
		return tender.Page{}, err
	}
	html, ok := r.pages[url]
	if !ok {
		return tender.Page{URL: url, StatusCode: 404}, nil
	}
	return tender.Page{URL: url, StatusCode: 200, HTML: []byte(html)}, nil
}

type countingLimiter struct {
	mu    sync.Mutex
	waits int
}

func (l *countingLimiter) Wait(context.Context, string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.waits++
	return nil
}

func listingHTML(ids ...string) string {
	var b strings.Builder
	b.WriteString(`<html><body><table class="table"><thead><tr><th>Број</th><th>Институција</th></tr></thead><tbody>`)
	for _, id := range ids {
		fmt.Fprintf(&b, `<tr><td class="notice-number">%s</td><td class="institution">Општина %s</td><td><a href="#/dossie/%s">Детали</a></td></tr>`, id, id, id)
	}
	b.WriteString(`</tbody></table></body></html>`)
	return b.String()
}

func detailHTML(title, status, value string, bidders int, declared string, docs ...string) string {
	var b strings.Builder
	b.WriteString(`<html><body><div class="dossie">`)
	fmt.Fprintf(&b, `<h1>%s</h1>`, title)
	fmt.Fprintf(&b, `<table class="info"><tr><th>Статус</th><td>%s</td></tr>`, status)
	fmt.Fprintf(&b, `<tr><th>Проценета вредност</th><td>%s</td></tr>`, value)
	b.WriteString(`<tr><th>Датум на објава:</th><td>05.03.2026</td></tr>`)
	b.WriteString(`<tr><th>Вид на постапка</th><td>Отворена постапка</td></tr>`)
	if declared != "" {
		fmt.Fprintf(&b, `<tr><th>Број на понуди</th><td>%s</td></tr>`, declared)
	}
	b.WriteString(`</table><p>Краен рок за поднесување: 20.03.2026 12:00</p>`)
	b.WriteString(`<table class="bidders"><tbody><tr><th>Понудувач</th></tr>`)
	for i := 0; i < bidders; i++ {
		fmt.Fprintf(&b, `<tr><td>Фирма %d ДООЕЛ</td></tr>`, i+1)
	}
	b.WriteString(`</tbody></table><ul>`)
	for _, d := range docs {
		fmt.Fprintf(&b, `<li><a href="%s">документ</a></li>`, d)
	}
	b.WriteString(`</ul></div></body></html>`)
	return b.String()
}

func testFile() *routes.File {
	f := routes.Default()
	f.BaseURL = testBase
	f.Categories = []routes.Category{
		{Name: "active", Canonical: "#/notices", Candidates: []string{"#/notices"}},
		{Name: "awarded", Candidates: []string{"#/contracts/0"}},
	}
	return f
}

func listPage(n int) string {
	if n == 1 {
		return testBase + "#/notices"
	}
	return fmt.Sprintf("%s#/notices?page=%d", testBase, n)
}

func detailURL(id string) string {
	return testBase + "#/dossie/" + id
}
