package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// MockEmbeddingAPI is a mock for the raw embeddings endpoint.
type MockEmbeddingAPI struct {
	mock.Mock
}

func (m *MockEmbeddingAPI) CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	args := m.Called(ctx, texts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([][]float32), args.Error(1)
}

func vec(n int, v float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func testConfig() Config {
	return Config{
		Model:          "test-model",
		Dimensions:     4,
		MaxRetries:     2,
		RetryBaseDelay: time.Millisecond,
		RetryMaxDelay:  2 * time.Millisecond,
	}
}

func TestClientEmbedSuccess(t *testing.T) {
	t.Parallel()

	api := new(MockEmbeddingAPI)
	client := NewClientWithAPI(api, testConfig(), zap.NewNop())
	texts := []string{"прв", "втор"}
	api.On("CreateEmbeddings", mock.Anything, texts).Return([][]float32{vec(4, 1), vec(4, 2)}, nil).Once()

	out, err := client.Embed(context.Background(), texts)
	require.NoError(t, err)
	assert.Len(t, out, 2)
	assert.Equal(t, "test-model", client.ModelID())
	api.AssertExpectations(t)
}

func TestClientEmbedRetriesRateLimit(t *testing.T) {
	t.Parallel()

	api := new(MockEmbeddingAPI)
	client := NewClientWithAPI(api, testConfig(), zap.NewNop())
	texts := []string{"x"}
	api.On("CreateEmbeddings", mock.Anything, texts).Return(nil, &openai.APIError{HTTPStatusCode: http.StatusTooManyRequests, Message: "slow down"}).Once()
	api.On("CreateEmbeddings", mock.Anything, texts).Return([][]float32{vec(4, 1)}, nil).Once()

	out, err := client.Embed(context.Background(), texts)
	require.NoError(t, err)
	assert.Len(t, out, 1)
	api.AssertNumberOfCalls(t, "CreateEmbeddings", 2)
}

func TestClientEmbedGivesUpAfterRetries(t *testing.T) {
	t.Parallel()

	api := new(MockEmbeddingAPI)
	client := NewClientWithAPI(api, testConfig(), zap.NewNop())
	api.On("CreateEmbeddings", mock.Anything, mock.Anything).Return(nil, &openai.RequestError{HTTPStatusCode: http.StatusBadGateway, Err: errors.New("bad gateway")})

	_, err := client.Embed(context.Background(), []string{"x"})
	require.Error(t, err)
	api.AssertNumberOfCalls(t, "CreateEmbeddings", 3)
}

func TestClientEmbedDoesNotRetryAuthErrors(t *testing.T) {
	t.Parallel()

	api := new(MockEmbeddingAPI)
	client := NewClientWithAPI(api, testConfig(), zap.NewNop())
	api.On("CreateEmbeddings", mock.Anything, mock.Anything).Return(nil, &openai.APIError{HTTPStatusCode: http.StatusUnauthorized, Message: "bad key"})

	_, err := client.Embed(context.Background(), []string{"x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create embeddings")
	api.AssertNumberOfCalls(t, "CreateEmbeddings", 1)
}

func TestClientEmbedWrongDimensions(t *testing.T) {
	t.Parallel()

	api := new(MockEmbeddingAPI)
	client := NewClientWithAPI(api, testConfig(), zap.NewNop())
	api.On("CreateEmbeddings", mock.Anything, mock.Anything).Return([][]float32{vec(3, 1)}, nil)

	_, err := client.Embed(context.Background(), []string{"x"})
	assert.ErrorIs(t, err, ErrWrongDimensions)
}

func TestClientEmbedEmptyInput(t *testing.T) {
	t.Parallel()

	client := NewClientWithAPI(new(MockEmbeddingAPI), testConfig(), zap.NewNop())
	_, err := client.Embed(context.Background(), nil)
	assert.Equal(t, ErrEmptyInput, err)
}

func TestOpenAIAdapterOrdersByIndex(t *testing.T) {
	t.Parallel()

	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","model":"text-embedding-3-small","data":[
			{"object":"embedding","index":1,"embedding":[0.2,0.2]},
			{"object":"embedding","index":0,"embedding":[0.1,0.1]}]}`))
	}))
	defer srv.Close()

	adapter := NewOpenAIAdapter("key", srv.URL, openai.SmallEmbedding3, 2)
	out, err := adapter.CreateEmbeddings(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.InDelta(t, 0.1, out[0][0], 1e-6)
	assert.InDelta(t, 0.2, out[1][0], 1e-6)
	assert.EqualValues(t, 2, got["dimensions"])
	assert.Equal(t, "text-embedding-3-small", got["model"])
}
