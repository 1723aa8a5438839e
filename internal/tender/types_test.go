package tender

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseStatus(t *testing.T) {
	t.Parallel()

	cases := map[string]Status{
		"Активен":                 StatusActive,
		"  во   тек ":             StatusActive,
		"Доделен договор":         StatusAwarded,
		"Склучен договор":         StatusAwarded,
		"Поништена постапка":      StatusCancelled,
		"поништен, доделен":       StatusCancelled,
		"cancelled":               StatusCancelled,
		"":                        StatusUnknown,
		"нешто сосема непознато": StatusUnknown,
	}
	for in, want := range cases {
		require.Equal(t, want, ParseStatus(in), in)
	}
}

func TestParseMode(t *testing.T) {
	t.Parallel()

	m, ok := ParseMode("")
	require.True(t, ok)
	require.Equal(t, ModeIncremental, m)

	m, ok = ParseMode("FULL")
	require.True(t, ok)
	require.Equal(t, ModeFull, m)

	_, ok = ParseMode("stream")
	require.False(t, ok)
}

func TestCountsAdd(t *testing.T) {
	t.Parallel()

	c := Counts{Found: 1, New: 1}
	c.Add(Counts{Found: 2, Updated: 1, Errors: 1})
	require.Equal(t, Counts{Found: 3, New: 1, Updated: 1, Errors: 1}, c)
}

func TestExtractionStatusTerminal(t *testing.T) {
	t.Parallel()

	require.False(t, DocPending.Terminal())
	require.False(t, DocDownloaded.Terminal())
	require.False(t, DocOCRRequired.Terminal())
	require.True(t, DocSuccess.Terminal())
	require.True(t, DocDownloadFailed.Terminal())
	require.True(t, RunFailed.Terminal())
	require.False(t, RunRunning.Terminal())
}
