package crawler

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	amountPattern = regexp.MustCompile(`\d[\d.,\s\x{00A0}]*`)
	intPattern    = regexp.MustCompile(`\d+`)
)

var dateLayouts = []string{
	"02.01.2006 15:04:05",
	"02.01.2006 15:04",
	"02.01.2006",
	"2.1.2006",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"02/01/2006",
}

// normalizeAmount parses portal amounts such as "1.234.567,00 ден." into a plain
// decimal string and a currency code.
func normalizeAmount(raw string) (string, string) {
	raw = collapse(raw)
	if raw == "" {
		return "", ""
	}
	currency := ""
	lower := strings.ToLower(raw)
	switch {
	case strings.Contains(lower, "ден"), strings.Contains(lower, "mkd"):
		currency = "MKD"
	case strings.Contains(lower, "eur"), strings.Contains(raw, "€"), strings.Contains(lower, "евр"):
		currency = "EUR"
	}
	m := amountPattern.FindString(raw)
	if m == "" {
		return "", currency
	}
	digits := strings.NewReplacer(" ", "", "\u00a0", "").Replace(strings.TrimSpace(m))
	digits = strings.TrimRight(digits, ".,")

	lastDot, lastComma := strings.LastIndex(digits, "."), strings.LastIndex(digits, ",")
	switch {
	case lastDot < 0 && strings.Count(digits, ",") > 1:
		// Repeated commas without a dot only group thousands.
		digits = strings.ReplaceAll(digits, ",", "")
	case lastComma > lastDot:
		// Macedonian style: dot thousands, comma decimals.
		digits = strings.ReplaceAll(digits[:lastComma], ".", "") + "." + digits[lastComma+1:]
		digits = strings.ReplaceAll(digits, ",", "")
	case lastDot > lastComma && lastComma >= 0:
		digits = strings.ReplaceAll(digits, ",", "")
	case lastDot >= 0 && strings.Count(digits, ".") > 1:
		digits = strings.ReplaceAll(digits, ".", "")
	case lastDot >= 0 && len(digits)-lastDot-1 == 3:
		// A single dot followed by three digits is a thousands separator.
		digits = strings.ReplaceAll(digits, ".", "")
	}
	f, err := strconv.ParseFloat(digits, 64)
	if err != nil {
		return "", currency
	}
	return strconv.FormatFloat(f, 'f', 2, 64), currency
}

// normalizeDate converts portal dates to ISO 8601. Unparseable input is kept trimmed.
func normalizeDate(raw string) string {
	raw = strings.TrimSuffix(collapse(raw), " год.")
	raw = strings.TrimSuffix(raw, "г.")
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, raw)
		if err != nil {
			continue
		}
		if strings.Contains(layout, "15:04") {
			return t.Format("2006-01-02T15:04")
		}
		return t.Format("2006-01-02")
	}
	return raw
}

// parseCount extracts the first integer from raw.
func parseCount(raw string) *int {
	m := intPattern.FindString(raw)
	if m == "" {
		return nil
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return nil
	}
	return &n
}
