// Package embeddings generates fixed-dimension, unit-normalized vectors for
// chunk and query text via an OpenAI-compatible embedding API.
//
// The service holds a single lazily-initialized model client shared across
// all callers. Every embedding call acquires a slot from a counting
// semaphore before reaching the model, so at most MaxConcurrent calls are
// in flight at any time regardless of how many documents are being
// ingested concurrently. Slots are released on success and failure alike.
package embeddings

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	lcembeddings "github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"
)

var (
	// ErrEmptyInput indicates empty input text.
	ErrEmptyInput = errors.New("empty input text")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrDimensionMismatch indicates the model returned a vector whose
	// dimension does not match the configured one.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrZeroVector indicates the model returned an all-zero vector that
	// cannot be normalized.
	ErrZeroVector = errors.New("embedding has zero norm")
)

// EmbeddingError wraps a model failure with the length of the input text.
// There is no automatic retry; the caller decides whether the failure is
// fatal to a chunk or to its whole document.
type EmbeddingError struct {
	TextLen int
	Err     error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embedding failed (text length %d): %v", e.TextLen, e.Err)
}

func (e *EmbeddingError) Unwrap() error {
	return e.Err
}

// Config holds configuration for the embedding service.
type Config struct {
	// BaseURL is the base URL of the OpenAI-compatible embedding API.
	BaseURL string

	// Model is the embedding model name.
	// Default: "mxbai-embed-large"
	Model string

	// APIKey is the API key. Optional for local inference servers.
	APIKey string

	// Dimensions is the expected vector dimension.
	// Default: 1024
	Dimensions int

	// MaxConcurrent caps simultaneous model calls.
	// Default: 3
	MaxConcurrent int
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = "http://localhost:11434/v1"
	}
	if c.Model == "" {
		c.Model = "mxbai-embed-large"
	}
	if c.Dimensions == 0 {
		c.Dimensions = 1024
	}
	if c.MaxConcurrent == 0 {
		c.MaxConcurrent = 3
	}
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	if c.Model == "" {
		return fmt.Errorf("%w: model required", ErrInvalidConfig)
	}
	if c.Dimensions <= 0 {
		return fmt.Errorf("%w: dimensions must be positive", ErrInvalidConfig)
	}
	if c.MaxConcurrent <= 0 {
		return fmt.Errorf("%w: max concurrent must be positive", ErrInvalidConfig)
	}
	return nil
}

// Service provides bounded-concurrency embedding generation.
type Service struct {
	config  Config
	logger  *zap.Logger
	metrics *Metrics

	sem chan struct{}

	initOnce sync.Once
	initErr  error
	embedder lcembeddings.Embedder
}

// Option configures a Service.
type Option func(*Service)

// WithEmbedder injects a pre-built embedder, bypassing lazy client
// initialization. Used by tests and by callers that already hold a client.
func WithEmbedder(e lcembeddings.Embedder) Option {
	return func(s *Service) {
		s.embedder = e
	}
}

// NewService creates a new embedding service.
func NewService(config Config, logger *zap.Logger, opts ...Option) (*Service, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Service{
		config:  config,
		logger:  logger,
		metrics: NewMetrics(logger),
		sem:     make(chan struct{}, config.MaxConcurrent),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Model returns the configured model name.
func (s *Service) Model() string {
	return s.config.Model
}

// Dimensions returns the configured vector dimension.
func (s *Service) Dimensions() int {
	return s.config.Dimensions
}

// client returns the shared embedder, initializing it exactly once.
// Initialization is idempotent and safe under concurrent callers.
func (s *Service) client() (lcembeddings.Embedder, error) {
	s.initOnce.Do(func() {
		if s.embedder != nil {
			return
		}

		apiKey := s.config.APIKey
		if apiKey == "" {
			// langchaingo requires a token even for keyless local servers.
			apiKey = "unused"
		}

		llm, err := openai.New(
			openai.WithBaseURL(s.config.BaseURL),
			openai.WithEmbeddingModel(s.config.Model),
			openai.WithToken(apiKey),
		)
		if err != nil {
			s.initErr = fmt.Errorf("creating embedding client: %w", err)
			return
		}

		embedder, err := lcembeddings.NewEmbedder(llm)
		if err != nil {
			s.initErr = fmt.Errorf("creating embedder: %w", err)
			return
		}

		s.embedder = embedder
		s.logger.Info("embedding client initialized",
			zap.String("model", s.config.Model),
			zap.Int("dimensions", s.config.Dimensions),
			zap.Int("max_concurrent", s.config.MaxConcurrent),
		)
	})
	if s.initErr != nil {
		return nil, s.initErr
	}
	return s.embedder, nil
}

// EmbedQuery generates a unit-normalized embedding for a single text.
func (s *Service) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return s.embedOne(ctx, "embed_query", text)
}

// EmbedDocuments generates embeddings for multiple texts, one model call
// per text so every call is individually bounded by the semaphore.
func (s *Service) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}

	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := s.embedOne(ctx, "embed_documents", text)
		if err != nil {
			return nil, fmt.Errorf("embedding text %d of %d: %w", i+1, len(texts), err)
		}
		vectors[i] = vec
	}
	return vectors, nil
}

func (s *Service) embedOne(ctx context.Context, operation, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}

	// Acquire a semaphore slot; the deferred release runs on every exit
	// path so failures never leak slots.
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	s.metrics.AddInFlight(ctx, 1)
	defer func() {
		<-s.sem
		s.metrics.AddInFlight(ctx, -1)
	}()

	embedder, err := s.client()
	if err != nil {
		return nil, err
	}

	start := time.Now()
	vec, err := embedder.EmbedQuery(ctx, text)
	s.metrics.RecordGeneration(ctx, s.config.Model, operation, time.Since(start), err)
	if err != nil {
		return nil, &EmbeddingError{TextLen: len(text), Err: err}
	}

	if len(vec) != s.config.Dimensions {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vec), s.config.Dimensions)
	}

	if err := normalize(vec); err != nil {
		return nil, err
	}
	return vec, nil
}

// normalize scales vec to unit L2 norm in place.
func normalize(vec []float32) error {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return ErrZeroVector
	}
	norm := math.Sqrt(sum)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return nil
}
