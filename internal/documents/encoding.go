package documents

import (
	"bytes"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/saintfish/chardet"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/unicode/norm"
)

// Quality describes how trustworthy an extracted text layer looks.
type Quality struct {
	Runes       int
	Letters     int
	Cyrillic    int
	Replacement int
	Mojibake    int
}

// Thresholds past which a text layer is treated as corrupted.
const (
	maxReplacementRatio = 0.02
	maxMojibakeRatio    = 0.05
	minLetterRatio      = 0.30
)

// measure counts the signals used by Coherent.
func measure(s string) Quality {
	var q Quality
	var prev rune
	for _, r := range s {
		q.Runes++
		switch {
		case r == utf8.RuneError:
			q.Replacement++
		case unicode.Is(unicode.Cyrillic, r):
			q.Cyrillic++
			q.Letters++
		case unicode.IsLetter(r):
			q.Letters++
		}
		// UTF-8 Cyrillic read as Latin-1 shows up as Ð or Ñ followed by a
		// Latin-1 supplement character.
		if (prev == 'Ð' || prev == 'Ñ') && r >= 0x80 && r <= 0xFF {
			q.Mojibake++
		}
		prev = r
	}
	return q
}

// Coherent reports whether s is long and clean enough to be used as extracted
// text, and a reason when it is not.
func Coherent(s string, minChars int) (bool, string) {
	s = strings.TrimSpace(s)
	q := measure(s)
	nonSpace := q.Runes - strings.Count(s, " ") - strings.Count(s, "\n") - strings.Count(s, "\t")
	switch {
	case nonSpace < minChars:
		return false, "text layer absent or too short"
	case float64(q.Replacement)/float64(q.Runes) > maxReplacementRatio:
		return false, "replacement characters in text layer"
	case float64(q.Mojibake)/float64(q.Runes) > maxMojibakeRatio:
		return false, "mis-decoded text layer"
	case float64(q.Letters)/float64(nonSpace) < minLetterRatio:
		return false, "text layer has too few letters"
	}
	return true, ""
}

// Repair fixes the common mis-decodings of Macedonian text: UTF-8 bytes read as
// Latin-1, and windows-1251 bytes read as Latin-1. It returns s unchanged when no
// candidate is cleaner.
func Repair(s string) string {
	best, bestScore := s, score(s)
	candidates := []string{reinterpretLatin1(s)}
	if latin1Heavy(s) {
		candidates = append(candidates, decode1251Latin1(s))
	}
	for _, cand := range candidates {
		if cand == "" {
			continue
		}
		if sc := score(cand); sc > bestScore {
			best, bestScore = cand, sc
		}
	}
	return norm.NFC.String(best)
}

// latin1Heavy reports whether most letters sit in the Latin-1 supplement, as
// they do when windows-1251 text is read as Latin-1.
func latin1Heavy(s string) bool {
	var letters, high int
	for _, r := range s {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		if r >= 0xC0 && r <= 0xFF {
			high++
		}
	}
	return letters > 0 && float64(high)/float64(letters) > 0.5
}

// score prefers Cyrillic letters and penalizes corruption signals.
func score(s string) float64 {
	q := measure(s)
	if q.Runes == 0 {
		return 0
	}
	return (float64(q.Cyrillic) - 4*float64(q.Mojibake) - 4*float64(q.Replacement)) / float64(q.Runes)
}

// reinterpretLatin1 turns each rune back into its Latin-1 byte and reads the
// result as UTF-8.
func reinterpretLatin1(s string) string {
	buf := make([]byte, 0, len(s))
	for _, r := range s {
		if r > 0xFF {
			return ""
		}
		buf = append(buf, byte(r))
	}
	if !utf8.Valid(buf) {
		return ""
	}
	return string(buf)
}

// decode1251Latin1 turns each rune back into its Latin-1 byte and decodes the
// bytes as windows-1251.
func decode1251Latin1(s string) string {
	buf := make([]byte, 0, len(s))
	for _, r := range s {
		if r > 0xFF {
			return ""
		}
		buf = append(buf, byte(r))
	}
	out, err := charmap.Windows1251.NewDecoder().Bytes(buf)
	if err != nil {
		return ""
	}
	return string(out)
}

// DecodeText converts raw bytes of a text-like file to UTF-8. Invalid UTF-8 is
// sniffed with chardet and decoded as windows-1251 when that is the best guess
// or when the result reads as Cyrillic.
func DecodeText(body []byte) string {
	body = bytes.TrimPrefix(body, []byte("\xef\xbb\xbf"))
	if utf8.Valid(body) {
		return Repair(string(body))
	}
	if res, err := chardet.NewTextDetector().DetectBest(body); err == nil {
		var dec *charmap.Charmap
		switch strings.ToLower(res.Charset) {
		case "windows-1251":
			dec = charmap.Windows1251
		case "iso-8859-5":
			dec = charmap.ISO8859_5
		case "koi8-r":
			dec = charmap.KOI8R
		}
		if dec != nil {
			if out, err := dec.NewDecoder().Bytes(body); err == nil {
				return norm.NFC.String(string(out))
			}
		}
	}
	if out, err := charmap.Windows1251.NewDecoder().Bytes(body); err == nil && score(string(out)) > 0.3 {
		return norm.NFC.String(string(out))
	}
	return strings.ToValidUTF8(string(body), string(utf8.RuneError))
}
