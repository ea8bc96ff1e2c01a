package vectorstore

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var qdrantTracer = otel.Tracer("knowd.vectorstore.qdrant")

// QdrantConfig holds configuration for the Qdrant gRPC backend.
type QdrantConfig struct {
	// Host is the Qdrant server hostname.
	// Default: "localhost"
	Host string

	// Port is the Qdrant gRPC port (not the HTTP REST port).
	// Default: 6334
	Port int

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool

	// MaxMessageSize is the maximum gRPC message size in bytes.
	// Default: 50MB
	MaxMessageSize int

	// ReadyTimeout bounds the wait for a newly created collection to
	// become queryable. Default: 30s
	ReadyTimeout time.Duration

	// ReadyPollInterval is the polling interval while waiting.
	// Default: 500ms
	ReadyPollInterval time.Duration
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024
	}
	if c.ReadyTimeout == 0 {
		c.ReadyTimeout = 30 * time.Second
	}
	if c.ReadyPollInterval == 0 {
		c.ReadyPollInterval = 500 * time.Millisecond
	}
}

// Validate validates the configuration.
func (c QdrantConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port: %d", ErrInvalidConfig, c.Port)
	}
	return nil
}

// QdrantStore implements Store and FilteredQuerier against an external
// Qdrant instance over gRPC. Tenant filtering is pushed down as a payload
// keyword match, evaluated store-side.
type QdrantStore struct {
	client *qdrant.Client
	config QdrantConfig
	logger *zap.Logger

	// createMu serializes collection creation; Qdrant returns an error
	// for a duplicate create, which we treat as success, but serializing
	// avoids spurious error paths under concurrent ensure calls.
	createMu sync.Mutex

	// collections caches confirmed-existing collections.
	collections sync.Map
}

// NewQdrantStore creates a QdrantStore and verifies connectivity.
func NewQdrantStore(config QdrantConfig, logger *zap.Logger) (*QdrantStore, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		UseTLS: config.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(config.MaxMessageSize),
				grpc.MaxCallSendMsgSize(config.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to qdrant: %w", err)
	}

	store := &QdrantStore{
		client: client,
		config: config,
		logger: logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.HealthCheck(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("qdrant health check: %w", err)
	}

	logger.Info("qdrant store initialized",
		zap.String("host", config.Host),
		zap.Int("port", config.Port),
		zap.Bool("tls", config.UseTLS),
	)
	return store, nil
}

// EnsureCollection creates the collection if absent and waits until it is
// queryable. Concurrent callers cannot create duplicates: creation is
// serialized and a duplicate-create error from the server counts as
// success.
func (s *QdrantStore) EnsureCollection(ctx context.Context, name string, vectorSize int) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.EnsureCollection")
	defer span.End()

	span.SetAttributes(
		attribute.String("collection", name),
		attribute.Int("vector_size", vectorSize),
	)

	if err := ValidateCollectionName(name); err != nil {
		return err
	}

	if _, ok := s.collections.Load(name); ok {
		return nil
	}

	s.createMu.Lock()
	defer s.createMu.Unlock()

	exists, err := s.collectionExists(ctx, name)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("checking collection %s: %w", name, err)
	}

	if !exists {
		err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(vectorSize),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil && !isAlreadyExists(err) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("creating collection %s: %w", name, err)
		}
	}

	if err := s.waitReady(ctx, name); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	s.collections.Store(name, true)
	span.SetStatus(codes.Ok, "success")
	return nil
}

func isAlreadyExists(err error) bool {
	if st, ok := status.FromError(err); ok && st.Code() == grpccodes.AlreadyExists {
		return true
	}
	return strings.Contains(err.Error(), "already exists")
}

func (s *QdrantStore) collectionExists(ctx context.Context, name string) (bool, error) {
	_, err := s.client.GetCollectionInfo(ctx, name)
	if err != nil {
		if st, ok := status.FromError(err); ok && st.Code() == grpccodes.NotFound {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// waitReady polls until the collection answers info requests.
func (s *QdrantStore) waitReady(ctx context.Context, name string) error {
	deadline := time.Now().Add(s.config.ReadyTimeout)
	for {
		exists, err := s.collectionExists(ctx, name)
		if err == nil && exists {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("collection %s not queryable after %s", name, s.config.ReadyTimeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.config.ReadyPollInterval):
		}
	}
}

// pointID maps a record ID onto a valid qdrant point ID. Qdrant point IDs
// must be UUIDs or integers; IDs that already are UUIDs pass through,
// anything else is re-keyed deterministically. The original ID survives in
// the payload as the chunk ID.
func pointID(id string) string {
	if _, err := uuid.Parse(id); err == nil {
		return id
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String()
}

// Upsert inserts or overwrites records by ID, waiting for the write to be
// applied so a subsequent query sees it.
func (s *QdrantStore) Upsert(ctx context.Context, collection string, records []Record) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Upsert")
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

	points := make([]*qdrant.PointStruct, len(records))
	for i, rec := range records {
		payload := make(map[string]*qdrant.Value)
		for k, v := range rec.Metadata.toMap() {
			payload[k] = qdrant.NewValueString(v)
		}

		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(pointID(rec.ID)),
			Vectors: qdrant.NewVectors(rec.Vector...),
			Payload: payload,
		}
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Points:         points,
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("upserting %d points: %w", len(points), err)
	}

	span.SetStatus(codes.Ok, "success")
	s.logger.Debug("upserted into qdrant",
		zap.String("collection", collection),
		zap.Int("count", len(records)),
	)
	return nil
}

// Query returns up to k nearest records, unfiltered.
func (s *QdrantStore) Query(ctx context.Context, collection string, vector []float32, k int) ([]Match, error) {
	return s.query(ctx, collection, vector, k, nil)
}

// QueryFiltered returns up to k nearest records for one tenant; the
// predicate is evaluated by Qdrant.
func (s *QdrantStore) QueryFiltered(ctx context.Context, collection string, vector []float32, k int, tenantID string) ([]Match, error) {
	filter := &qdrant.Filter{
		Must: []*qdrant.Condition{
			qdrant.NewMatch(metaTenantID, tenantID),
		},
	}
	return s.query(ctx, collection, vector, k, filter)
}

func (s *QdrantStore) query(ctx context.Context, collection string, vector []float32, k int, filter *qdrant.Filter) ([]Match, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Query")
	defer span.End()

	span.SetAttributes(
		attribute.String("collection", collection),
		attribute.Int("k", k),
		attribute.Bool("filtered", filter != nil),
	)

	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}

	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(k)),
		Filter:         filter,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying collection %s: %w", collection, err)
	}

	matches := make([]Match, len(points))
	for i, p := range points {
		raw := make(map[string]string, len(p.Payload))
		for key, val := range p.Payload {
			if sv, ok := val.Kind.(*qdrant.Value_StringValue); ok {
				raw[key] = sv.StringValue
			}
		}
		md := metadataFromMap(raw)
		matches[i] = Match{
			ID:       md.ChunkID,
			Score:    p.Score,
			Metadata: md,
		}
	}

	span.SetAttributes(attribute.Int("results_count", len(matches)))
	span.SetStatus(codes.Ok, "success")
	return matches, nil
}

// Close closes the gRPC connection.
func (s *QdrantStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// Ensure interface compliance.
var (
	_ Store           = (*QdrantStore)(nil)
	_ FilteredQuerier = (*QdrantStore)(nil)
)
