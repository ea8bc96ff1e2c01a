package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var chromemTracer = otel.Tracer("knowd.vectorstore.chromem")

// ChromemConfig holds configuration for the chromem-go embedded backend.
type ChromemConfig struct {
	// Path is the directory for persistent storage.
	// Default: "~/.config/knowd/vectorstore"
	Path string

	// Compress enables gzip compression for stored data.
	Compress bool
}

// ApplyDefaults sets default values for unset fields.
func (c *ChromemConfig) ApplyDefaults() {
	if c.Path == "" {
		c.Path = "~/.config/knowd/vectorstore"
	}
}

// ChromemStore implements Store and FilteredQuerier on chromem-go, an
// embeddable pure-Go vector database. All vectors are supplied
// precomputed; the store never calls an embedding model itself.
//
// chromem's where-filter is an exact metadata match evaluated inside the
// store, so tenant filtering is native here.
type ChromemStore struct {
	db     *chromem.DB
	config ChromemConfig
	logger *zap.Logger

	// collections caches created collections; chromem collection handles
	// are safe for concurrent use.
	collections sync.Map
}

// NewChromemStore creates a ChromemStore with persistent storage.
func NewChromemStore(config ChromemConfig, logger *zap.Logger) (*ChromemStore, error) {
	config.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	path, err := expandHome(config.Path)
	if err != nil {
		return nil, fmt.Errorf("expanding path: %w", err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("creating directory %s: %w", path, err)
	}

	db, err := chromem.NewPersistentDB(path, config.Compress)
	if err != nil {
		return nil, fmt.Errorf("creating chromem DB: %w", err)
	}

	logger.Info("chromem store initialized",
		zap.String("path", path),
		zap.Bool("compress", config.Compress),
	)

	return &ChromemStore{
		db:     db,
		config: config,
		logger: logger,
	}, nil
}

func expandHome(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

// noEmbedFunc rejects text queries. All knowd vectors are precomputed, and
// chromem falls back to its OpenAI default when given a nil function.
func noEmbedFunc(context.Context, string) ([]float32, error) {
	return nil, errors.New("store requires precomputed vectors")
}

// EnsureCollection creates the collection if absent. chromem's
// GetOrCreateCollection is idempotent and an embedded collection is
// queryable as soon as it exists, so there is nothing to wait for.
func (s *ChromemStore) EnsureCollection(ctx context.Context, name string, vectorSize int) error {
	_, span := chromemTracer.Start(ctx, "ChromemStore.EnsureCollection")
	defer span.End()

	span.SetAttributes(attribute.String("collection", name))

	if err := ValidateCollectionName(name); err != nil {
		return err
	}

	if _, err := s.db.GetOrCreateCollection(name, nil, noEmbedFunc); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("getting/creating collection %s: %w", name, err)
	}

	s.collections.Store(name, true)
	span.SetStatus(codes.Ok, "success")
	return nil
}

func (s *ChromemStore) collection(name string) (*chromem.Collection, error) {
	col := s.db.GetCollection(name, noEmbedFunc)
	if col == nil {
		return nil, fmt.Errorf("collection %s does not exist", name)
	}
	return col, nil
}

// Upsert inserts or overwrites records by ID.
func (s *ChromemStore) Upsert(ctx context.Context, collection string, records []Record) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Upsert")
	defer span.End()

	span.SetAttributes(
		attribute.String("collection", collection),
		attribute.Int("record_count", len(records)),
	)

	if len(records) == 0 {
		return ErrEmptyBatch
	}
	if len(records) > MaxBatchSize {
		return fmt.Errorf("%w: %d > %d", ErrBatchTooLarge, len(records), MaxBatchSize)
	}

	col, err := s.collection(collection)
	if err != nil {
		span.RecordError(err)
		return err
	}

	docs := make([]chromem.Document, len(records))
	for i, rec := range records {
		docs[i] = chromem.Document{
			ID:        rec.ID,
			Content:   rec.Metadata.Text,
			Metadata:  rec.Metadata.toMap(),
			Embedding: rec.Vector,
		}
	}

	// Concurrency 1: embeddings are precomputed, nothing to parallelize.
	if err := col.AddDocuments(ctx, docs, 1); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("adding documents: %w", err)
	}

	span.SetStatus(codes.Ok, "success")
	s.logger.Debug("upserted into chromem",
		zap.String("collection", collection),
		zap.Int("count", len(records)),
	)
	return nil
}

// Query returns up to k nearest records, unfiltered.
func (s *ChromemStore) Query(ctx context.Context, collection string, vector []float32, k int) ([]Match, error) {
	return s.query(ctx, collection, vector, k, nil)
}

// QueryFiltered returns up to k nearest records for one tenant, filtered
// inside the store.
func (s *ChromemStore) QueryFiltered(ctx context.Context, collection string, vector []float32, k int, tenantID string) ([]Match, error) {
	return s.query(ctx, collection, vector, k, map[string]string{metaTenantID: tenantID})
}

func (s *ChromemStore) query(ctx context.Context, collection string, vector []float32, k int, where map[string]string) ([]Match, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Query")
	defer span.End()

	span.SetAttributes(
		attribute.String("collection", collection),
		attribute.Int("k", k),
		attribute.Bool("filtered", where != nil),
	)

	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}

	col, err := s.collection(collection)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	// chromem requires nResults <= stored document count.
	count := col.Count()
	if count == 0 {
		return []Match{}, nil
	}
	if k > count {
		k = count
	}

	results, err := col.QueryEmbedding(ctx, vector, k, where, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying collection %s: %w", collection, err)
	}

	matches := make([]Match, len(results))
	for i, r := range results {
		matches[i] = Match{
			ID:       r.ID,
			Score:    r.Similarity,
			Metadata: metadataFromMap(r.Metadata),
		}
	}

	span.SetAttributes(attribute.Int("results_count", len(matches)))
	span.SetStatus(codes.Ok, "success")
	return matches, nil
}

// Close is a no-op: chromem persists on write.
func (s *ChromemStore) Close() error {
	s.logger.Info("chromem store closed")
	return nil
}

// Ensure interface compliance.
var (
	_ Store           = (*ChromemStore)(nil)
	_ FilteredQuerier = (*ChromemStore)(nil)
)
