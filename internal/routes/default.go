package routes

// Default returns the built-in configuration for the e-nabavki public access SPA.
// Canonical routes are left empty; they are filled by promoting discovery output.
func Default() *File {
	return &File{
		Version: 0,
		BaseURL: "https://e-nabavki.gov.mk/PublicAccess/home.aspx",
		Listing: ListingSpec{
			ItemSelector: "table.table tbody tr, div.notice-item, li.result-item",
			ID: []Strategy{
				{Selector: "td.notice-number", Extract: ExtractText},
				{Selector: "[data-notice-id]", Extract: ExtractAttr, Attr: "data-notice-id"},
				{Selector: "td:first-child", Extract: ExtractRegex, Pattern: `(\d{1,6}/\d{4})`},
				{Extract: ExtractRegex, Pattern: `(\d{1,6}/\d{4})`},
			},
			Link: []Strategy{
				{Selector: "a[href*='dossie']", Extract: ExtractAttr, Attr: "href"},
				{Selector: "a[href*='notice']", Extract: ExtractAttr, Attr: "href"},
				{Selector: "a[href]", Extract: ExtractAttr, Attr: "href"},
			},
			Preview: map[string][]Strategy{
				"title": {
					{Selector: "td.subject", Extract: ExtractText},
					{Selector: "td:nth-child(3)", Extract: ExtractText},
				},
				"procuring_entity": {
					{Selector: "td.institution", Extract: ExtractText},
					{Selector: "td:nth-child(2)", Extract: ExtractText},
				},
			},
			PageParam: "page",
			FirstPage: 1,
		},
		Detail: DetailSpec{
			URLTemplate: "#/dossie/{id}",
			Fields: map[string][]Strategy{
				"title": {
					{Selector: "[data-field='subject']", Extract: ExtractText},
					{Extract: ExtractLabel, Label: "Предмет на договорот"},
					{Extract: ExtractLabel, Label: "Subject of the contract"},
					{Selector: "h1, h2.notice-title", Extract: ExtractText},
				},
				"procuring_entity": {
					{Selector: "[data-field='institution']", Extract: ExtractText},
					{Extract: ExtractLabel, Label: "Назив на договорниот орган"},
					{Extract: ExtractLabel, Label: "Договорен орган"},
				},
				"status": {
					{Selector: "[data-field='status']", Extract: ExtractText},
					{Extract: ExtractLabel, Label: "Статус"},
					{Selector: "span.badge, span.label", Extract: ExtractText},
				},
				"estimated_value": {
					{Selector: "[data-field='estimated-value']", Extract: ExtractText},
					{Extract: ExtractLabel, Label: "Проценета вредност"},
					{Extract: ExtractRegex, Pattern: `(?i)проценета вредност[^0-9]{0,40}?([0-9][0-9.,\s]*?)\s*(?:ден|мкд|eur)`},
				},
				"publication_date": {
					{Selector: "[data-field='publication-date']", Extract: ExtractText},
					{Extract: ExtractLabel, Label: "Датум на објава"},
				},
				"deadline_date": {
					{Selector: "[data-field='deadline']", Extract: ExtractText},
					{Extract: ExtractLabel, Label: "Краен рок за поднесување"},
					{Extract: ExtractLabel, Label: "Краен рок"},
				},
				"procedure_type": {
					{Selector: "[data-field='procedure-type']", Extract: ExtractText},
					{Extract: ExtractLabel, Label: "Вид на постапка"},
				},
				"declared_bidder_count": {
					{Selector: "[data-field='offers-count']", Extract: ExtractText},
					{Extract: ExtractLabel, Label: "Број на понуди"},
				},
			},
			DocumentLinks: []Strategy{
				{Selector: "a[href*='DownloadPublicFile']", Extract: ExtractAttr, Attr: "href"},
				{Selector: "a[href$='.pdf'], a[href$='.docx'], a[href$='.xlsx'], a[href$='.doc']", Extract: ExtractAttr, Attr: "href"},
			},
			BidderRows: "table.bidders tbody tr, [data-section='bidders'] tr",
		},
		Categories: []Category{
			{
				Name:       "active",
				Candidates: []string{"#/notices", "#/notices/0", "#/ongoing-notices"},
				Keywords:   []string{"оглас", "огласи", "notice"},
			},
			{
				Name:       "awarded",
				Candidates: []string{"#/contracts/0", "#/decisions", "#/awarded"},
				Keywords:   []string{"договор", "одлука", "contract"},
			},
			{
				Name:       "cancelled",
				Candidates: []string{"#/cancelations", "#/cancellations", "#/annulled"},
				Keywords:   []string{"поништ", "cancel"},
			},
		},
	}
}
