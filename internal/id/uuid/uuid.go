// Package uuid provides ID generation helpers.
package uuid

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

// namespace scopes the name-based IDs derived for documents and chunks.
var namespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://e-nabavki.gov.mk/ingest"))

// Generator creates UUID v7 strings for runs.
type Generator struct{}

// New creates a new Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a UUID7 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}

// DocumentID derives a stable id for a document link, so rediscovering the
// same link on a later run maps to the same row.
func DocumentID(tenderID, sourceURL string) string {
	return uuid.NewSHA1(namespace, []byte(tenderID+"\x00"+sourceURL)).String()
}

// ChunkID derives a stable id for a chunk position within a document.
func ChunkID(docID string, ordinal int) string {
	return uuid.NewSHA1(namespace, []byte(docID+"#"+strconv.Itoa(ordinal))).String()
}
