package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeHost(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard https", "https://E-Nabavki.gov.mk/PublicAccess/home.aspx", "e-nabavki.gov.mk"},
		{"no scheme", "e-nabavki.gov.mk/x", "e-nabavki.gov.mk"},
		{"host with port", "localhost:8080", "localhost"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeHost(tc.input); got != tc.expected {
				t.Errorf("SanitizeHost(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestObserveHelpersInitializeLazily(t *testing.T) {
	ObserveTenderOutcome("goods", "new")
	ObserveTenderOutcome("goods", "new")
	if val := testutil.ToFloat64(tenderOutcomesTotal.WithLabelValues("goods", "new")); val != 2 {
		t.Errorf("expected 2 new outcomes, got %f", val)
	}

	ObserveDocument("success", "text", 1024)
	if val := testutil.ToFloat64(documentBytesTotal); val < 1024 {
		t.Errorf("expected document bytes to be recorded, got %f", val)
	}

	ObserveEmbeddingBatch("ok", 5)
	ObserveEmbeddingBatch("deferred", 5)
	if val := testutil.ToFloat64(embeddingChunksTotal); val != 5 {
		t.Errorf("expected only successful chunks counted, got %f", val)
	}

	ObserveRun("incremental", "completed", time.Second)
	if val := testutil.ToFloat64(runsTotal.WithLabelValues("incremental", "completed")); val != 1 {
		t.Errorf("expected 1 completed run, got %f", val)
	}
}

func FuzzSanitizeHost(f *testing.F) {
	for _, tc := range []string{"http://example.com", "https://e-nabavki.gov.mk", "ftp://x"} {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		if SanitizeHost(orig) == "" {
			t.Errorf("SanitizeHost(%q) returned an empty string", orig)
		}
	})
}
