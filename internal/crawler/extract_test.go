package crawler

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bloodyteeths/nabavkidata-sub002/internal/routes"
)

func mustDoc(t *testing.T, html string) *goquery.Selection {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	return doc.Selection
}

func TestResolveFallsThroughStrategies(t *testing.T) {
	t.Parallel()

	doc := mustDoc(t, `<div><span class="v2">  Втора   вредност </span><a class="l" href="/x">x</a></div>`)
	v, ok := Resolve(doc, []routes.Strategy{
		{Selector: ".v1"},
		{Selector: ".v2"},
	})
	require.True(t, ok)
	assert.Equal(t, "Втора вредност", v)

	v, ok = Resolve(doc, []routes.Strategy{{Selector: "a.l", Extract: routes.ExtractAttr, Attr: "href"}})
	require.True(t, ok)
	assert.Equal(t, "/x", v)

	_, ok = Resolve(doc, []routes.Strategy{{Selector: ".missing"}, {Selector: "a.l", Extract: routes.ExtractAttr, Attr: "data-x"}})
	assert.False(t, ok, "exhausted strategies report absence")
}

func TestResolveLabelVariants(t *testing.T) {
	t.Parallel()

	doc := mustDoc(t, `
<table><tr><td>Вид на постапка</td><td>Поедноставена</td></tr></table>
<dl><dt>Договорен орган:</dt><dd>Министерство за здравство</dd></dl>
<p><strong>Статус: Доделен</strong></p>
<label for="val">Проценета вредност</label><input id="val" value="12.000,00">
<p>Краен рок за поднесување: 01.02.2026</p>`)

	cases := map[string]string{
		"Вид на постапка":    "Поедноставена",
		"Договорен орган":    "Министерство за здравство",
		"Статус":             "Доделен",
		"Проценета вредност": "12.000,00",
		"Краен рок":          "",
	}
	for label, want := range cases {
		got, _ := Resolve(doc, []routes.Strategy{{Extract: routes.ExtractLabel, Label: label}})
		assert.Equal(t, want, got, label)
	}
}

func TestResolveRegex(t *testing.T) {
	t.Parallel()

	doc := mustDoc(t, `<p>Оглас бр. 00123/2026 објавен</p>`)
	v, ok := Resolve(doc, []routes.Strategy{{Extract: routes.ExtractRegex, Pattern: `(\d{1,6}/\d{4})`}})
	require.True(t, ok)
	assert.Equal(t, "00123/2026", v)

	v, ok = Resolve(doc, []routes.Strategy{{Selector: "p", Extract: routes.ExtractRegex, Pattern: `Оглас`}})
	require.True(t, ok)
	assert.Equal(t, "Оглас", v)
}

func TestResolveAllTakesFirstProductiveStrategy(t *testing.T) {
	t.Parallel()

	doc := mustDoc(t, `<a href="a.pdf">1</a><a href="b.docx">2</a><a class="dl" href="">3</a>`)
	got := ResolveAll(doc, []routes.Strategy{
		{Selector: "a.dl", Extract: routes.ExtractAttr, Attr: "href"},
		{Selector: "a", Extract: routes.ExtractAttr, Attr: "href"},
	})
	assert.Equal(t, []string{"a.pdf", "b.docx"}, got)
}
