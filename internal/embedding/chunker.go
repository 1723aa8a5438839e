package embedding

import (
	"strings"
	"unicode"
)

// ChunkConfig controls how document text is split for embedding.
type ChunkConfig struct {
	MaxChars int
	MinChars int
	Overlap  int
	// MaxChunks caps the chunks produced for one text. Zero means no cap.
	MaxChunks int
}

// DefaultChunkConfig provides sane defaults for chunking.
func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{
		MaxChars: 1200,
		MinChars: 400,
		Overlap:  200,
	}
}

// Split cuts text into chunks of at most MaxChars runes. Cuts prefer a
// paragraph break, then any whitespace, past MinChars; consecutive chunks share
// Overlap runes. The output depends only on text and cfg.
func Split(text string, cfg ChunkConfig) []string {
	chunks, _ := SplitCapped(text, cfg)
	return chunks
}

// SplitCapped is Split that also reports whether MaxChunks cut the text short.
func SplitCapped(text string, cfg ChunkConfig) (chunks []string, truncated bool) {
	clean := strings.TrimSpace(text)
	if clean == "" {
		return nil, false
	}
	if cfg.MaxChars <= 0 {
		cfg = DefaultChunkConfig()
	}
	if cfg.Overlap >= cfg.MaxChars {
		cfg.Overlap = cfg.MaxChars / 4
	}
	runes := []rune(clean)
	if len(runes) <= cfg.MaxChars {
		return []string{clean}, false
	}

	chunks = make([]string, 0, len(runes)/cfg.MaxChars+1)
	start := 0
	for start < len(runes) {
		if cfg.MaxChunks > 0 && len(chunks) >= cfg.MaxChunks {
			return chunks, true
		}

		end := start + cfg.MaxChars
		if end > len(runes) {
			end = len(runes)
		}
		if end < len(runes) {
			end = cutPoint(runes, start, end, cfg.MinChars)
		}
		if end <= start {
			break
		}

		if chunk := strings.TrimSpace(string(runes[start:end])); chunk != "" {
			chunks = append(chunks, chunk)
		}
		if end >= len(runes) {
			break
		}

		next := end
		if cfg.Overlap > 0 && end-start > cfg.Overlap {
			next = alignStart(runes, end-cfg.Overlap, end)
		}
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks, false
}

// cutPoint picks where a chunk ending at or before end should stop.
func cutPoint(runes []rune, start, end, minChars int) int {
	minCut := start + minChars
	if minCut > end {
		minCut = start
	}
	for i := end; i > minCut+1; i-- {
		if runes[i-1] == '\n' && runes[i-2] == '\n' {
			return i
		}
	}
	for i := end; i > minCut; i-- {
		if unicode.IsSpace(runes[i-1]) {
			return i
		}
	}
	return end
}

// alignStart moves an overlap start forward to the next word boundary so
// chunks do not begin mid-word.
func alignStart(runes []rune, from, limit int) int {
	if from <= 0 || unicode.IsSpace(runes[from-1]) {
		return from
	}
	for i := from; i < limit; i++ {
		if unicode.IsSpace(runes[i]) {
			return i + 1
		}
	}
	return from
}
