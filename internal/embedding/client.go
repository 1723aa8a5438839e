package embedding

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/bloodyteeths/nabavkidata-sub002/internal/retry"
)

var (
	// ErrEmptyInput is returned when no texts are submitted.
	ErrEmptyInput = errors.New("embedding input cannot be empty")
	// ErrWrongDimensions is returned when the model output does not match the
	// configured dimensionality.
	ErrWrongDimensions = errors.New("embedding has wrong dimensions")
)

// EmbeddingAPI is the raw embedding endpoint.
type EmbeddingAPI interface {
	CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
}

// OpenAIAdapter calls an OpenAI-compatible embeddings endpoint.
type OpenAIAdapter struct {
	client     *openai.Client
	model      openai.EmbeddingModel
	dimensions int
}

// NewOpenAIAdapter builds an adapter. An empty baseURL targets api.openai.com.
func NewOpenAIAdapter(apiKey, baseURL string, model openai.EmbeddingModel, dimensions int) *OpenAIAdapter {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = openai.SmallEmbedding3
	}
	return &OpenAIAdapter{
		client:     openai.NewClientWithConfig(cfg),
		model:      model,
		dimensions: dimensions,
	}
}

// CreateEmbeddings embeds texts in one request and returns vectors in input order.
func (a *OpenAIAdapter) CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	req := openai.EmbeddingRequest{
		Input: texts,
		Model: a.model,
	}
	// ada-002 rejects the dimensions parameter.
	if a.model != openai.AdaEmbeddingV2 {
		req.Dimensions = a.dimensions
	}
	resp, err := a.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding response has %d vectors for %d inputs", len(resp.Data), len(texts))
	}
	data := resp.Data
	sort.Slice(data, func(i, j int) bool { return data[i].Index < data[j].Index })
	out := make([][]float32, len(data))
	for i, d := range data {
		out[i] = d.Embedding
	}
	return out, nil
}

// Config configures Client.
type Config struct {
	APIKey            string
	BaseURL           string
	Model             string
	Dimensions        int
	MaxRetries        int
	RequestsPerSecond float64
	RetryBaseDelay    time.Duration
	RetryMaxDelay     time.Duration
}

// Client submits batches with rate limiting, retries and a dimension check.
type Client struct {
	api        EmbeddingAPI
	model      string
	dimensions int
	limiter    *rate.Limiter
	policy     retry.Policy
	logger     *zap.Logger
}

// NewClient creates a client backed by the OpenAI adapter.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.Model == "" {
		cfg.Model = string(openai.SmallEmbedding3)
	}
	api := NewOpenAIAdapter(cfg.APIKey, cfg.BaseURL, openai.EmbeddingModel(cfg.Model), cfg.Dimensions)
	return NewClientWithAPI(api, cfg, logger)
}

// NewClientWithAPI creates a client over an arbitrary EmbeddingAPI.
func NewClientWithAPI(api EmbeddingAPI, cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	return &Client{
		api:        api,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		limiter:    rate.NewLimiter(limit, 1),
		policy:     retry.NewExponential(cfg.MaxRetries+1, cfg.RetryBaseDelay, cfg.RetryMaxDelay),
		logger:     logger,
	}
}

// ModelID identifies the model that produced the vectors.
func (c *Client) ModelID() string { return c.model }

// Dimensions is the configured vector size.
func (c *Client) Dimensions() int { return c.dimensions }

// Embed returns one vector per text.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}
	var vectors [][]float32
	err := retry.Do(ctx, c.policy, func(ctx context.Context, attempt int) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return retry.Permanent(fmt.Errorf("embedding rate limiter: %w", err))
		}
		out, err := c.api.CreateEmbeddings(ctx, texts)
		if err != nil {
			if !transient(err) {
				return retry.Permanent(fmt.Errorf("failed to create embeddings: %w", err))
			}
			c.logger.Warn("embedding request failed, retrying",
				zap.Int("attempt", attempt),
				zap.Int("batch", len(texts)),
				zap.Error(err),
			)
			return fmt.Errorf("failed to create embeddings: %w", err)
		}
		vectors = out
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, v := range vectors {
		if c.dimensions > 0 && len(v) != c.dimensions {
			return nil, fmt.Errorf("%w: got %d, expected %d", ErrWrongDimensions, len(v), c.dimensions)
		}
	}
	return vectors, nil
}

// transient reports whether err is worth retrying: rate limits, server errors,
// and timeouts.
func transient(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return retryableStatus(reqErr.HTTPStatusCode)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return false
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500
}
