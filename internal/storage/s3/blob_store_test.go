package s3

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutObjectUsesPathStyleEndpoint(t *testing.T) {
	var (
		mu        sync.Mutex
		gotPath   string
		gotType   string
		gotBody   []byte
		gotAuth   string
		gotMethod string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		gotPath, gotType, gotBody = r.URL.Path, r.Header.Get("Content-Type"), body
		gotAuth, gotMethod = r.Header.Get("Authorization"), r.Method
		mu.Unlock()
		w.Header().Set("ETag", `"abc"`)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	store, err := New(context.Background(), Config{
		Endpoint:        server.URL,
		Region:          "eu-central-1",
		Bucket:          "tenders",
		AccessKeyID:     "key",
		SecretAccessKey: "secret",
		UsePathStyle:    true,
	})
	require.NoError(t, err)

	data := []byte("PK\x03\x04 spreadsheet")
	uri, err := store.PutObject(context.Background(), "documents/t-1/doc.xlsx", "application/octet-stream", bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, "s3://tenders/documents/t-1/doc.xlsx", uri)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, "/tenders/documents/t-1/doc.xlsx", gotPath)
	assert.Equal(t, "application/octet-stream", gotType)
	assert.Equal(t, data, gotBody)
	assert.Contains(t, gotAuth, "AWS4-HMAC-SHA256")
}

func TestPutObjectSurfacesServiceError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `<Error><Code>AccessDenied</Code><Message>denied</Message></Error>`)
	}))
	t.Cleanup(server.Close)

	store, err := New(context.Background(), Config{
		Endpoint: server.URL, Bucket: "tenders", AccessKeyID: "k", SecretAccessKey: "s", UsePathStyle: true,
	})
	require.NoError(t, err)

	_, err = store.PutObject(context.Background(), "documents/x.pdf", "", bytes.NewReader([]byte("x")))
	require.ErrorContains(t, err, "AccessDenied")
}

func TestConfigValidation(t *testing.T) {
	_, err := New(context.Background(), Config{})
	require.Error(t, err)

	store := &BlobStore{bucket: "b"}
	_, err = store.PutObject(context.Background(), "", "", bytes.NewReader(nil))
	require.Error(t, err)
}
