package embedding

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sentence(i int) string {
	words := []string{"набавка", "понуда", "договор", "институција", "рок", "вредност", "документација"}
	var b strings.Builder
	for j := 0; j < 12; j++ {
		b.WriteString(words[(i+j)%len(words)])
		b.WriteByte(' ')
	}
	return strings.TrimSpace(b.String()) + "."
}

func longText(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = sentence(i)
		if i%5 == 4 {
			parts[i] += "\n"
		}
	}
	return strings.Join(parts, "\n")
}

func TestSplitShortText(t *testing.T) {
	t.Parallel()

	assert.Nil(t, Split("   ", DefaultChunkConfig()))
	assert.Equal(t, []string{"кратко"}, Split("  кратко \n", DefaultChunkConfig()))
}

func TestSplitBoundsAndOverlap(t *testing.T) {
	t.Parallel()

	cfg := ChunkConfig{MaxChars: 300, MinChars: 100, Overlap: 60}
	text := longText(60)
	chunks := Split(text, cfg)
	require.Greater(t, len(chunks), 3)
	for i, c := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(c), cfg.MaxChars, "chunk %d too long", i)
		assert.NotEmpty(t, c)
	}
	for i := 1; i < len(chunks); i++ {
		assert.Contains(t, text, chunks[i])
		head := string([]rune(chunks[i])[:20])
		assert.Contains(t, chunks[i-1], head, "chunk %d does not overlap its predecessor", i)
	}
}

func TestSplitDeterministic(t *testing.T) {
	t.Parallel()

	cfg := ChunkConfig{MaxChars: 250, MinChars: 80, Overlap: 40}
	text := longText(40)
	assert.Equal(t, Split(text, cfg), Split(text, cfg))
}

func TestSplitPrefersParagraphBreaks(t *testing.T) {
	t.Parallel()

	para := strings.Repeat("збор ", 30)
	text := para + "\n\n" + para + "\n\n" + para
	chunks := Split(text, ChunkConfig{MaxChars: 200, MinChars: 50})
	require.Len(t, chunks, 3)
	assert.Equal(t, strings.TrimSpace(para), chunks[0])
}

func TestSplitRespectsMaxChunks(t *testing.T) {
	t.Parallel()

	chunks, truncated := SplitCapped(longText(100), ChunkConfig{MaxChars: 200, MinChars: 50, Overlap: 20, MaxChunks: 4})
	assert.Len(t, chunks, 4)
	assert.True(t, truncated)
}

func TestSplitDefaultKeepsTailOfLongDocument(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("word ", 80000) + "TAILMARKER"
	chunks, truncated := SplitCapped(text, DefaultChunkConfig())
	require.NotEmpty(t, chunks)
	assert.False(t, truncated)
	assert.Greater(t, len(chunks), 200)
	assert.True(t, strings.HasSuffix(chunks[len(chunks)-1], "TAILMARKER"))
}

func TestSplitHardCutWithoutWhitespace(t *testing.T) {
	t.Parallel()

	chunks := Split(strings.Repeat("ж", 500), ChunkConfig{MaxChars: 200, MinChars: 50})
	require.Len(t, chunks, 3)
	assert.Equal(t, 200, utf8.RuneCountInString(chunks[0]))
	assert.Equal(t, 100, utf8.RuneCountInString(chunks[2]))
}
