// Package answer orchestrates question answering over indexed documents:
// embed the query, retrieve the tenant's nearest chunks, assemble a
// bounded context block, and ask the generative model to answer from that
// context alone.
package answer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/knowd/internal/llm"
	"github.com/fyrsmithlabs/knowd/internal/vectorstore"
)

var tracer = otel.Tracer("knowd.answer")

var (
	// ErrEmptyQuery indicates a blank question.
	ErrEmptyQuery = errors.New("query is empty")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// NoContextAnswer is returned verbatim when the tenant has no relevant
// indexed content. The generative model is not consulted in that case, so
// it cannot invent an answer from its own training data.
const NoContextAnswer = "I don't have any relevant documents to answer this question. Please upload documents first."

// Source describes one retrieved chunk that backed the answer.
type Source struct {
	Filename   string  `json:"filename"`
	Similarity float32 `json:"similarity"`
	Preview    string  `json:"preview"`
	ChunkID    string  `json:"chunkId"`
}

// Metadata carries answer diagnostics.
type Metadata struct {
	TenantID       string  `json:"tenantId"`
	ChunksFound    int     `json:"chunksFound"`
	MaxSimilarity  float32 `json:"maxSimilarity"`
	Model          string  `json:"model"`
	EmbeddingModel string  `json:"embeddingModel"`
}

// Answer is the response to one question.
type Answer struct {
	Text     string   `json:"text"`
	Sources  []Source `json:"sources"`
	Metadata Metadata `json:"metadata"`
}

// Config holds answering configuration.
type Config struct {
	// TopK is the number of chunks retrieved per question.
	// Default: 5
	TopK int

	// MaxContextChars bounds the assembled context block. Chunks are
	// added in similarity order until the budget is spent.
	// Default: 8000
	MaxContextChars int

	// PreviewChars bounds each source preview. Default: 160
	PreviewChars int
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.TopK == 0 {
		c.TopK = 5
	}
	if c.MaxContextChars == 0 {
		c.MaxContextChars = 8000
	}
	if c.PreviewChars == 0 {
		c.PreviewChars = 160
	}
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.TopK <= 0 {
		return fmt.Errorf("%w: topK must be positive", ErrInvalidConfig)
	}
	if c.MaxContextChars <= 0 {
		return fmt.Errorf("%w: maxContextChars must be positive", ErrInvalidConfig)
	}
	return nil
}

// QueryEmbedder is the slice of the embedding service the answerer needs.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Model() string
}

// Service answers questions from a tenant's indexed documents.
type Service struct {
	embedder  QueryEmbedder
	client    *vectorstore.Client
	generator llm.Generator
	config    Config
	logger    *zap.Logger
}

// NewService creates an answering service.
func NewService(embedder QueryEmbedder, client *vectorstore.Client, generator llm.Generator, config Config, logger *zap.Logger) (*Service, error) {
	if embedder == nil {
		return nil, errors.New("embedder is required")
	}
	if client == nil {
		return nil, errors.New("vector store client is required")
	}
	if generator == nil {
		return nil, errors.New("generator is required")
	}
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		embedder:  embedder,
		client:    client,
		generator: generator,
		config:    config,
		logger:    logger,
	}, nil
}

// Ask answers one question for the tenant carried in ctx. topK bounds the
// number of chunks retrieved; zero or negative falls back to the configured
// default.
func (s *Service) Ask(ctx context.Context, query string, topK int) (*Answer, error) {
	ctx, span := tracer.Start(ctx, "AnswerService.Ask")
	defer span.End()

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if topK <= 0 {
		topK = s.config.TopK
	}

	tenant, err := vectorstore.TenantFromContext(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.String("tenant_id", tenant.TenantID))

	vector, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	matches, err := s.client.Query(ctx, vector, topK)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("searching index: %w", err)
	}
	span.SetAttributes(attribute.Int("chunks_found", len(matches)))

	meta := Metadata{
		TenantID:       tenant.TenantID,
		ChunksFound:    len(matches),
		Model:          s.generator.Model(),
		EmbeddingModel: s.embedder.Model(),
	}

	if len(matches) == 0 {
		s.logger.Info("no relevant chunks for query",
			zap.String("tenant_id", tenant.TenantID),
		)
		span.SetStatus(codes.Ok, "no context")
		return &Answer{
			Text:     NoContextAnswer,
			Sources:  []Source{},
			Metadata: meta,
		}, nil
	}
	meta.MaxSimilarity = matches[0].Score

	contextBlock, used := s.buildContext(matches)
	prompt := buildPrompt(contextBlock, query)

	text, err := s.generator.Generate(ctx, prompt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("generating answer: %w", err)
	}

	sources := make([]Source, len(used))
	for i, m := range used {
		sources[i] = Source{
			Filename:   m.Metadata.Filename,
			Similarity: m.Score,
			Preview:    preview(m.Metadata.Text, s.config.PreviewChars),
			ChunkID:    m.Metadata.ChunkID,
		}
	}

	s.logger.Info("answered query",
		zap.String("tenant_id", tenant.TenantID),
		zap.Int("chunks_used", len(used)),
		zap.Float32("max_similarity", meta.MaxSimilarity),
	)
	span.SetStatus(codes.Ok, "success")

	return &Answer{
		Text:     strings.TrimSpace(text),
		Sources:  sources,
		Metadata: meta,
	}, nil
}

// buildContext assembles the context block from matches in similarity
// order, stopping when the character budget is spent. At least one chunk
// is always included so the model has something to work with.
func (s *Service) buildContext(matches []vectorstore.Match) (string, []vectorstore.Match) {
	var b strings.Builder
	used := make([]vectorstore.Match, 0, len(matches))

	for _, m := range matches {
		section := fmt.Sprintf("[Source: %s]\n%s\n\n", m.Metadata.Filename, m.Metadata.Text)
		if len(used) > 0 && b.Len()+len(section) > s.config.MaxContextChars {
			break
		}
		b.WriteString(section)
		used = append(used, m)
	}

	return strings.TrimSpace(b.String()), used
}

// buildPrompt wraps the context and question in a strict
// answer-from-context instruction.
func buildPrompt(contextBlock, query string) string {
	return fmt.Sprintf(`You are a helpful assistant answering questions about uploaded documents.

Use ONLY the context below to answer. If the context does not contain the answer, say you don't know; do not invent information.

Context:
%s

Question: %s

Answer:`, contextBlock, query)
}

func preview(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "..."
}
