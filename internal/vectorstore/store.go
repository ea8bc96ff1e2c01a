// Package vectorstore provides tenant-isolated access to external vector
// indexes.
//
// The package is split into two layers:
//
//   - Store implementations (ChromemStore, QdrantStore) speak the wire
//     protocol of one backend. They know nothing about tenants.
//   - Client wraps a Store and enforces the pipeline's invariants: index
//     existence, fail-closed tenant isolation, batch-size limits, and
//     result ordering.
//
// Stores that can filter by metadata predicate server-side additionally
// implement FilteredQuerier. For stores that cannot, the Client over-fetches
// unfiltered results and filters them client-side.
package vectorstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// Sentinel errors for vector store operations.
var (
	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidCollectionName indicates collection name validation failure.
	ErrInvalidCollectionName = errors.New("invalid collection name")

	// ErrIndexCreation is returned when the target index cannot be created
	// or does not become queryable. Fatal to the whole ingestion call.
	ErrIndexCreation = errors.New("index creation failed")

	// ErrUpsertBatch is returned when an upsert batch fails. Fatal to the
	// current document only.
	ErrUpsertBatch = errors.New("upsert batch failed")

	// ErrQuery is returned when a similarity query fails. Fatal to the
	// current retrieval call.
	ErrQuery = errors.New("vector query failed")

	// ErrBatchTooLarge indicates an upsert batch exceeding the cap reached
	// a store implementation. The Client splits batches; a store seeing an
	// oversized batch is a programming error.
	ErrBatchTooLarge = errors.New("upsert batch exceeds maximum size")

	// ErrEmptyBatch indicates an empty upsert batch.
	ErrEmptyBatch = errors.New("empty upsert batch")
)

// collectionNamePattern validates collection names: lowercase letters,
// numbers, underscores, 1-64 characters.
var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// ValidateCollectionName validates a collection name.
func ValidateCollectionName(name string) error {
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidCollectionName, name)
	}
	return nil
}

// RecordMetadata is the explicit metadata schema carried by every index
// record. Unknown caller fields go into Extra as serialized JSON rather
// than being merged untyped into the record.
type RecordMetadata struct {
	TenantID     string
	Filename     string
	Text         string
	ChunkID      string
	ChunkIndex   int
	UploadedAt   time.Time
	ChunkSize    int
	ChunkOverlap int

	// Extra holds serialized JSON overflow data that does not fit the
	// schema above. Opaque to the store.
	Extra string
}

// Metadata map keys used on the wire.
const (
	metaTenantID     = "tenant_id"
	metaFilename     = "filename"
	metaText         = "text"
	metaChunkID      = "chunk_id"
	metaChunkIndex   = "chunk_index"
	metaUploadedAt   = "uploaded_at"
	metaChunkSize    = "chunk_size"
	metaChunkOverlap = "chunk_overlap"
	metaExtra        = "extra"
)

// toMap flattens the metadata for backends that store string payloads.
func (m RecordMetadata) toMap() map[string]string {
	out := map[string]string{
		metaTenantID:     m.TenantID,
		metaFilename:     m.Filename,
		metaText:         m.Text,
		metaChunkID:      m.ChunkID,
		metaChunkIndex:   strconv.Itoa(m.ChunkIndex),
		metaUploadedAt:   m.UploadedAt.UTC().Format(time.RFC3339Nano),
		metaChunkSize:    strconv.Itoa(m.ChunkSize),
		metaChunkOverlap: strconv.Itoa(m.ChunkOverlap),
	}
	if m.Extra != "" {
		out[metaExtra] = m.Extra
	}
	return out
}

// metadataFromMap rebuilds RecordMetadata from a backend payload.
// Malformed numeric or time fields degrade to zero values rather than
// failing the whole result.
func metadataFromMap(raw map[string]string) RecordMetadata {
	md := RecordMetadata{
		TenantID: raw[metaTenantID],
		Filename: raw[metaFilename],
		Text:     raw[metaText],
		ChunkID:  raw[metaChunkID],
		Extra:    raw[metaExtra],
	}
	md.ChunkIndex, _ = strconv.Atoi(raw[metaChunkIndex])
	md.ChunkSize, _ = strconv.Atoi(raw[metaChunkSize])
	md.ChunkOverlap, _ = strconv.Atoi(raw[metaChunkOverlap])
	if ts, err := time.Parse(time.RFC3339Nano, raw[metaUploadedAt]); err == nil {
		md.UploadedAt = ts
	}
	return md
}

// SetExtra serializes v as JSON into the Extra escape hatch.
func (m *RecordMetadata) SetExtra(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("serializing extra metadata: %w", err)
	}
	m.Extra = string(data)
	return nil
}

// Record is one vector plus its metadata, keyed by ID. Re-upserting a
// record with the same ID supersedes the stored one.
type Record struct {
	ID       string
	Vector   []float32
	Metadata RecordMetadata
}

// Match is a query result.
type Match struct {
	ID       string
	Score    float32
	Metadata RecordMetadata
}

// Store is the narrow backend contract: ensure the index exists, upsert
// vector batches, run nearest-neighbor queries.
type Store interface {
	// EnsureCollection creates the collection if absent and returns only
	// once it is queryable. Idempotent and safe to call concurrently.
	EnsureCollection(ctx context.Context, name string, vectorSize int) error

	// Upsert inserts or overwrites records by ID. The batch must not
	// exceed MaxBatchSize; the Client is responsible for splitting.
	Upsert(ctx context.Context, collection string, records []Record) error

	// Query returns up to k nearest records by similarity, unfiltered,
	// in descending score order.
	Query(ctx context.Context, collection string, vector []float32, k int) ([]Match, error)

	// Close releases the backend connection.
	Close() error
}

// FilteredQuerier is implemented by stores that support native server-side
// predicate filtering on tenant metadata.
type FilteredQuerier interface {
	// QueryFiltered returns up to k nearest records whose tenant metadata
	// matches tenantID exactly.
	QueryFiltered(ctx context.Context, collection string, vector []float32, k int, tenantID string) ([]Match, error)
}

// MaxBatchSize is the hard cap on records per upsert call.
const MaxBatchSize = 100
