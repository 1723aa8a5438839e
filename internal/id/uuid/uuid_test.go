package uuid

import (
	"testing"

	goUUID "github.com/google/uuid"
)

func TestGeneratorNewID(t *testing.T) {
	t.Parallel()

	gen := New()
	id1, err := gen.NewID()
	if err != nil {
		t.Fatalf("NewID() error = %v", err)
	}
	id2, err := gen.NewID()
	if err != nil {
		t.Fatalf("NewID() error = %v", err)
	}
	if id1 == id2 {
		t.Fatalf("expected unique IDs, got %s and %s", id1, id2)
	}
	parsed, err := goUUID.Parse(id1)
	if err != nil {
		t.Fatalf("id1 not valid UUID: %v", err)
	}
	if parsed.Version() != 7 {
		t.Fatalf("expected version 7, got %d", parsed.Version())
	}
}

func TestDocumentIDStable(t *testing.T) {
	t.Parallel()

	a := DocumentID("12345/2025", "https://e-nabavki.gov.mk/File/DownloadPublicFile?fileId=1")
	b := DocumentID("12345/2025", "https://e-nabavki.gov.mk/File/DownloadPublicFile?fileId=1")
	c := DocumentID("12345/2025", "https://e-nabavki.gov.mk/File/DownloadPublicFile?fileId=2")
	if a != b {
		t.Fatalf("expected stable id, got %s and %s", a, b)
	}
	if a == c {
		t.Fatalf("expected distinct ids for distinct urls")
	}
}

func TestChunkIDDistinctPerOrdinal(t *testing.T) {
	t.Parallel()

	if ChunkID("doc", 0) == ChunkID("doc", 1) {
		t.Fatal("expected ordinal to change chunk id")
	}
	if ChunkID("doc", 3) != ChunkID("doc", 3) {
		t.Fatal("expected chunk id to be stable")
	}
}
