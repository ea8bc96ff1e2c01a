// Package ingest orchestrates document ingestion: clean, chunk, embed,
// upsert. Documents are processed concurrently on a worker pool; each
// document succeeds or fails on its own and one document's failure never
// rolls back or aborts another's progress.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/knowd/internal/chunker"
	"github.com/fyrsmithlabs/knowd/internal/vectorstore"
)

var (
	// ErrNoDocuments indicates an ingestion request without documents.
	ErrNoDocuments = errors.New("no documents provided")

	// ErrEmptyDocument indicates a document with no text after cleaning.
	ErrEmptyDocument = errors.New("document text is empty")

	// ErrNoChunks indicates chunking produced nothing to index.
	ErrNoChunks = errors.New("chunking produced no chunks")
)

// Document ingestion statuses.
const (
	// StatusIndexed: all chunks embedded and uploaded.
	StatusIndexed = "indexed"

	// StatusPartial: some upsert batches succeeded before a later one
	// failed. A defined, reportable state - not hidden as success or
	// rolled back.
	StatusPartial = "partial"

	// StatusFailed: nothing was uploaded for this document.
	StatusFailed = "failed"
)

// Document is one uploaded file's extracted text. Raw-byte extraction is
// an upstream collaborator's job.
type Document struct {
	Filename string
	Text     string
}

// Result reports one document's outcome.
type Result struct {
	Filename        string `json:"filename"`
	ChunksCreated   int    `json:"chunksCreated"`
	VectorsUploaded int    `json:"vectorsUploaded"`
	Status          string `json:"status"`
	Error           string `json:"error,omitempty"`
}

// Report aggregates per-document results for one ingestion call.
type Report struct {
	Results    []Result `json:"results"`
	TotalFiles int      `json:"totalFiles"`
}

// Config holds ingestion orchestrator configuration.
type Config struct {
	// PoolSize is the number of documents processed concurrently.
	// Default: 4
	PoolSize int

	// DocumentTimeout bounds one document's processing. Zero disables
	// the timeout. A timed-out document fails alone; siblings continue.
	DocumentTimeout time.Duration
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.PoolSize == 0 {
		c.PoolSize = 4
	}
}

// Embedder is the slice of the embedding service the orchestrator needs.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

// Service runs the ingestion pipeline.
type Service struct {
	chunker  *chunker.Chunker
	embedder Embedder
	client   *vectorstore.Client
	pool     *ants.Pool
	config   Config
	logger   *zap.Logger
}

// NewService creates an ingestion service with its worker pool.
func NewService(ck *chunker.Chunker, embedder Embedder, client *vectorstore.Client, config Config, logger *zap.Logger) (*Service, error) {
	if ck == nil {
		return nil, errors.New("chunker is required")
	}
	if embedder == nil {
		return nil, errors.New("embedder is required")
	}
	if client == nil {
		return nil, errors.New("vector store client is required")
	}
	config.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	pool, err := ants.NewPool(config.PoolSize)
	if err != nil {
		return nil, fmt.Errorf("creating worker pool: %w", err)
	}

	return &Service{
		chunker:  ck,
		embedder: embedder,
		client:   client,
		pool:     pool,
		config:   config,
		logger:   logger,
	}, nil
}

// Ingest processes documents for one tenant and reports per-document
// results. The target index is ensured once up front; if that fails there
// is no destination and the whole call fails. Everything after that is
// per-document: failures land in the document's own result entry.
func (s *Service) Ingest(ctx context.Context, tenantID string, docs []Document) (*Report, error) {
	if tenantID == "" {
		return nil, vectorstore.ErrInvalidTenant
	}
	if len(docs) == 0 {
		return nil, ErrNoDocuments
	}

	ctx = vectorstore.ContextWithTenant(ctx, &vectorstore.TenantInfo{TenantID: tenantID})

	if err := s.client.EnsureIndex(ctx); err != nil {
		return nil, fmt.Errorf("ensuring index: %w", err)
	}

	results := make([]Result, len(docs))
	var wg sync.WaitGroup
	for i, doc := range docs {
		i, doc := i, doc
		wg.Add(1)
		submit := func() {
			defer wg.Done()
			results[i] = s.processDocument(ctx, doc)
		}
		if err := s.pool.Submit(submit); err != nil {
			// Pool rejection (e.g. released pool) fails this document
			// only, consistent with the isolation contract.
			wg.Done()
			results[i] = Result{
				Filename: doc.Filename,
				Status:   StatusFailed,
				Error:    fmt.Sprintf("submitting document task: %v", err),
			}
		}
	}
	wg.Wait()

	return &Report{Results: results, TotalFiles: len(docs)}, nil
}

// processDocument runs one document through clean -> chunk -> embed ->
// upsert. Chunking and batch upload are sequential within the document;
// embedding concurrency is bounded by the embedder's shared semaphore.
func (s *Service) processDocument(ctx context.Context, doc Document) Result {
	res := Result{Filename: doc.Filename, Status: StatusFailed}

	if s.config.DocumentTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.DocumentTimeout)
		defer cancel()
	}

	text := CleanText(doc.Text)
	if text == "" {
		res.Error = fmt.Sprintf("validating %s: %v", doc.Filename, ErrEmptyDocument)
		return res
	}

	chunks, err := s.chunker.Split(text)
	if err != nil {
		res.Error = fmt.Sprintf("chunking %s: %v", doc.Filename, err)
		return res
	}
	if len(chunks) == 0 {
		res.Error = fmt.Sprintf("chunking %s: %v", doc.Filename, ErrNoChunks)
		return res
	}
	res.ChunksCreated = len(chunks)

	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}
	vectors, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		res.Error = fmt.Sprintf("embedding %s: %v", doc.Filename, err)
		return res
	}

	cfg := s.chunker.Config()
	uploadedAt := time.Now().UTC()
	records := make([]vectorstore.Record, len(chunks))
	for i, ch := range chunks {
		records[i] = vectorstore.Record{
			ID:     ch.ID,
			Vector: vectors[i],
			Metadata: vectorstore.RecordMetadata{
				Filename:     doc.Filename,
				Text:         ch.Text,
				ChunkID:      ch.ID,
				ChunkIndex:   ch.Index,
				UploadedAt:   uploadedAt,
				ChunkSize:    cfg.ChunkSize,
				ChunkOverlap: cfg.Overlap,
			},
		}
	}

	uploaded, err := s.client.Upsert(ctx, records)
	res.VectorsUploaded = uploaded
	if err != nil {
		if uploaded > 0 {
			res.Status = StatusPartial
		}
		res.Error = fmt.Sprintf("uploading %s: %v", doc.Filename, err)
		s.logger.Warn("document upload incomplete",
			zap.String("filename", doc.Filename),
			zap.Int("uploaded", uploaded),
			zap.Int("chunks", len(chunks)),
			zap.Error(err),
		)
		return res
	}

	res.Status = StatusIndexed
	s.logger.Info("document indexed",
		zap.String("filename", doc.Filename),
		zap.Int("chunks", len(chunks)),
		zap.Int("vectors", uploaded),
	)
	return res
}

// Release shuts down the worker pool. The service must not be used after.
func (s *Service) Release() {
	s.pool.Release()
}

// spaceRuns collapses runs of horizontal whitespace; blankRuns collapses
// three or more newlines to a paragraph break, which the chunker's
// separator list relies on.
var (
	spaceRuns = regexp.MustCompile(`[ \t]+`)
	blankRuns = regexp.MustCompile(`\n{3,}`)
)

// CleanText normalizes document text: line endings become plain newlines,
// horizontal whitespace runs become a single space, excess blank lines
// become one paragraph break, and the result is trimmed.
func CleanText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = spaceRuns.ReplaceAllString(text, " ")
	text = blankRuns.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
