package vectorstore

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var clientTracer = otel.Tracer("knowd.vectorstore.client")

// ClientConfig holds configuration for the Client wrapper.
type ClientConfig struct {
	// Collection is the target collection name.
	// Default: "knowd_chunks"
	Collection string

	// VectorSize is the embedding dimension.
	// Default: 1024
	VectorSize int

	// BatchSize is the maximum records per upsert call.
	// Default: 100, hard-capped at MaxBatchSize.
	BatchSize int

	// OverfetchFactor multiplies k when the backend cannot filter
	// server-side and results must be filtered client-side. A heuristic:
	// it may under-return when a tenant owns a small share of the index.
	// Default: 2
	OverfetchFactor int
}

// ApplyDefaults sets default values for unset fields.
func (c *ClientConfig) ApplyDefaults() {
	if c.Collection == "" {
		c.Collection = "knowd_chunks"
	}
	if c.VectorSize == 0 {
		c.VectorSize = 1024
	}
	if c.BatchSize == 0 || c.BatchSize > MaxBatchSize {
		c.BatchSize = MaxBatchSize
	}
	if c.OverfetchFactor == 0 {
		c.OverfetchFactor = 2
	}
}

// Validate validates the configuration.
func (c ClientConfig) Validate() error {
	if err := ValidateCollectionName(c.Collection); err != nil {
		return err
	}
	if c.VectorSize <= 0 {
		return fmt.Errorf("%w: vector size must be positive", ErrInvalidConfig)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("%w: batch size must be positive", ErrInvalidConfig)
	}
	if c.OverfetchFactor < 1 {
		return fmt.Errorf("%w: overfetch factor must be at least 1", ErrInvalidConfig)
	}
	return nil
}

// Client wraps a Store with tenant isolation, batch splitting and result
// ordering. All operations require TenantInfo in the context and fail
// closed without it.
type Client struct {
	store  Store
	config ClientConfig
	logger *zap.Logger

	// ensureGroup coalesces concurrent collection creation without
	// holding a lock across the backend call; ensured flips once the
	// collection is known to exist so later calls return immediately.
	ensureGroup singleflight.Group
	ensured     atomic.Bool
}

// NewClient creates a Client around the given store.
func NewClient(store Store, config ClientConfig, logger *zap.Logger) (*Client, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidConfig)
	}
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		store:  store,
		config: config,
		logger: logger,
	}, nil
}

// Collection returns the configured collection name.
func (c *Client) Collection() string {
	return c.config.Collection
}

// BatchSize returns the effective upsert batch cap.
func (c *Client) BatchSize() int {
	return c.config.BatchSize
}

// EnsureIndex makes sure the target collection exists and is queryable.
// Idempotent; concurrent callers coalesce into a single backend call and
// share its result, and a failed attempt leaves the client retryable.
func (c *Client) EnsureIndex(ctx context.Context) error {
	ctx, span := clientTracer.Start(ctx, "Client.EnsureIndex")
	defer span.End()

	if c.ensured.Load() {
		return nil
	}

	_, err, _ := c.ensureGroup.Do(c.config.Collection, func() (any, error) {
		if c.ensured.Load() {
			return nil, nil
		}
		if err := c.store.EnsureCollection(ctx, c.config.Collection, c.config.VectorSize); err != nil {
			return nil, fmt.Errorf("%w: collection %s: %v", ErrIndexCreation, c.config.Collection, err)
		}
		c.ensured.Store(true)
		c.logger.Info("vector index ready",
			zap.String("collection", c.config.Collection),
			zap.Int("vector_size", c.config.VectorSize),
		)
		return nil, nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// Upsert writes records in sequential batches of at most BatchSize.
// The caller's tenant is stamped onto every record before writing;
// a batch failure aborts the remaining batches of this call only.
// Returns the number of records successfully uploaded.
func (c *Client) Upsert(ctx context.Context, records []Record) (int, error) {
	ctx, span := clientTracer.Start(ctx, "Client.Upsert")
	defer span.End()

	span.SetAttributes(
		attribute.String("collection", c.config.Collection),
		attribute.Int("record_count", len(records)),
	)

	if len(records) == 0 {
		return 0, ErrEmptyBatch
	}

	tenant, err := TenantFromContext(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}

	// Stamp tenant onto every record; overwrites any caller-supplied
	// value so records can never escape their tenant.
	for i := range records {
		records[i].Metadata.TenantID = tenant.TenantID
	}

	uploaded := 0
	for start := 0; start < len(records); start += c.config.BatchSize {
		end := start + c.config.BatchSize
		if end > len(records) {
			end = len(records)
		}
		batch := records[start:end]

		if err := c.store.Upsert(ctx, c.config.Collection, batch); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return uploaded, fmt.Errorf("%w: batch %d-%d of %d records: %v",
				ErrUpsertBatch, start, end, len(records), err)
		}
		uploaded += len(batch)
	}

	span.SetAttributes(attribute.Int("records_uploaded", uploaded))
	span.SetStatus(codes.Ok, "success")

	c.logger.Debug("upserted records",
		zap.String("collection", c.config.Collection),
		zap.String("tenant_id", tenant.TenantID),
		zap.Int("count", uploaded),
	)
	return uploaded, nil
}

// Query returns up to k nearest records scoped to the caller's tenant.
//
// If the backend filters natively the predicate is pushed down; otherwise
// the client over-fetches k*OverfetchFactor unfiltered results, filters by
// tenant locally and truncates - a bandwidth/compute trade-off, not a bug.
// Results are ordered by descending score; ties break toward the most
// recently uploaded record, the only stable secondary key available.
func (c *Client) Query(ctx context.Context, vector []float32, k int) ([]Match, error) {
	ctx, span := clientTracer.Start(ctx, "Client.Query")
	defer span.End()

	span.SetAttributes(
		attribute.String("collection", c.config.Collection),
		attribute.Int("k", k),
	)

	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", ErrQuery, k)
	}
	if len(vector) != c.config.VectorSize {
		return nil, fmt.Errorf("%w: query vector has dimension %d, want %d",
			ErrQuery, len(vector), c.config.VectorSize)
	}

	tenant, err := TenantFromContext(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	var matches []Match
	if fq, ok := c.store.(FilteredQuerier); ok {
		matches, err = fq.QueryFiltered(ctx, c.config.Collection, vector, k, tenant.TenantID)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("%w: %v", ErrQuery, err)
		}
	} else {
		matches, err = c.overfetchQuery(ctx, vector, k, tenant.TenantID)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
	}

	sortMatches(matches)
	if len(matches) > k {
		matches = matches[:k]
	}

	span.SetAttributes(attribute.Int("results_count", len(matches)))
	span.SetStatus(codes.Ok, "success")
	return matches, nil
}

// overfetchQuery fetches k*OverfetchFactor unfiltered results and keeps
// only the caller's tenant.
func (c *Client) overfetchQuery(ctx context.Context, vector []float32, k int, tenantID string) ([]Match, error) {
	fetched, err := c.store.Query(ctx, c.config.Collection, vector, k*c.config.OverfetchFactor)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQuery, err)
	}

	matches := make([]Match, 0, k)
	for _, m := range fetched {
		if m.Metadata.TenantID == tenantID {
			matches = append(matches, m)
		}
	}

	c.logger.Debug("client-side tenant filter applied",
		zap.Int("fetched", len(fetched)),
		zap.Int("kept", len(matches)),
	)
	return matches, nil
}

// sortMatches orders by descending score, ties broken by upload recency.
func sortMatches(matches []Match) {
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Metadata.UploadedAt.After(matches[j].Metadata.UploadedAt)
	})
}

// Close closes the underlying store.
func (c *Client) Close() error {
	return c.store.Close()
}
