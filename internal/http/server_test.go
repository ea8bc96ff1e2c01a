package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/knowd/internal/answer"
	"github.com/fyrsmithlabs/knowd/internal/chunker"
	"github.com/fyrsmithlabs/knowd/internal/ingest"
	"github.com/fyrsmithlabs/knowd/internal/llm"
	"github.com/fyrsmithlabs/knowd/internal/services"
	"github.com/fyrsmithlabs/knowd/internal/vectorstore"
)

// memStore is an in-memory vector store scoring by dot product, with
// native tenant filtering. Good enough to run the whole pipeline in tests.
type memStore struct {
	mu      sync.Mutex
	records map[string]vectorstore.Record
}

func newMemStore() *memStore {
	return &memStore{records: map[string]vectorstore.Record{}}
}

func (s *memStore) EnsureCollection(ctx context.Context, name string, vectorSize int) error {
	return nil
}

func (s *memStore) Upsert(ctx context.Context, collection string, records []vectorstore.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range records {
		s.records[rec.ID] = rec
	}
	return nil
}

func (s *memStore) Query(ctx context.Context, collection string, vector []float32, k int) ([]vectorstore.Match, error) {
	return s.QueryFiltered(ctx, collection, vector, k, "")
}

func (s *memStore) QueryFiltered(ctx context.Context, collection string, vector []float32, k int, tenantID string) ([]vectorstore.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	matches := make([]vectorstore.Match, 0, len(s.records))
	for _, rec := range s.records {
		if tenantID != "" && rec.Metadata.TenantID != tenantID {
			continue
		}
		var score float32
		for i := range vector {
			score += vector[i] * rec.Vector[i]
		}
		matches = append(matches, vectorstore.Match{ID: rec.ID, Score: score, Metadata: rec.Metadata})
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

func (s *memStore) Close() error { return nil }

// topicEmbedder maps texts to fixed axes by keyword, so related texts
// land near each other.
type topicEmbedder struct{}

func (topicEmbedder) embed(text string) []float32 {
	switch {
	case strings.Contains(strings.ToLower(text), "sky"):
		return []float32{1, 0, 0, 0}
	case strings.Contains(strings.ToLower(text), "grass"):
		return []float32{0, 1, 0, 0}
	default:
		return []float32{0, 0, 1, 0}
	}
}

func (e topicEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return e.embed(text), nil
}

func (e topicEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.embed(t)
	}
	return out, nil
}

func (topicEmbedder) Model() string { return "topic-embed" }

// echoGenerator answers with the first context line that matches the
// question topic, which is enough to assert grounding end to end.
type echoGenerator struct{}

func (echoGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	for _, line := range strings.Split(prompt, "\n") {
		if strings.Contains(line, "sky") && !strings.Contains(line, "Question") {
			return line, nil
		}
	}
	return "I don't know.", nil
}

func (echoGenerator) Model() string { return "echo-llm" }

var _ llm.Generator = echoGenerator{}

func newTestServer(t *testing.T) *Server {
	t.Helper()

	store := newMemStore()
	client, err := vectorstore.NewClient(store, vectorstore.ClientConfig{VectorSize: 4, BatchSize: 10}, nil)
	require.NoError(t, err)

	ck, err := chunker.New(chunker.Config{Strategy: chunker.StrategyRecursive, ChunkSize: 20})
	require.NoError(t, err)

	embedder := topicEmbedder{}
	ingestSvc, err := ingest.NewService(ck, embedder, client, ingest.Config{PoolSize: 2}, nil)
	require.NoError(t, err)
	t.Cleanup(ingestSvc.Release)

	answerSvc, err := answer.NewService(embedder, client, echoGenerator{}, answer.Config{}, nil)
	require.NoError(t, err)

	registry := services.NewRegistry(services.Options{
		Ingest:      ingestSvc,
		Answer:      answerSvc,
		Generator:   echoGenerator{},
		VectorStore: client,
	})

	srv, err := NewServer(registry, zap.NewNop(), &Config{Host: "localhost", Port: 0})
	require.NoError(t, err)
	return srv
}

func doJSON(t *testing.T, srv *Server, method, path, tenant string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if tenant != "" {
		req.Header.Set(TenantHeader, tenant)
	}
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
}

func TestRequireTenantHeader(t *testing.T) {
	srv := newTestServer(t)

	for _, path := range []string{"/api/v1/ingest", "/api/v1/query"} {
		rec := doJSON(t, srv, http.MethodPost, path, "", map[string]any{})
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
		assert.Contains(t, rec.Body.String(), TenantHeader)
	}
}

func TestIngest_RejectsEmptyBody(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/ingest", "acme", IngestRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "documents")
}

func TestQuery_RejectsEmptyQuery(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/query", "acme", QueryRequest{Query: ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIngestThenQuery_EndToEnd(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/ingest", "acme", IngestRequest{
		Documents: []DocumentPayload{
			{Filename: "facts.txt", Text: "The sky is blue. Grass is green."},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var report IngestResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.True(t, report.Success)
	assert.Equal(t, 1, report.TotalFiles)
	require.Len(t, report.Results, 1)
	assert.Equal(t, ingest.StatusIndexed, report.Results[0].Status)
	assert.Equal(t, 2, report.Results[0].ChunksCreated, "two sentences, chunk size 20")
	assert.Equal(t, 2, report.Results[0].VectorsUploaded)

	rec = doJSON(t, srv, http.MethodPost, "/api/v1/query", "acme", QueryRequest{
		Query: "What color is the sky?",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Raw envelope keys are part of the wire contract.
	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	for _, key := range []string{"success", "query", "answer", "sources", "metadata"} {
		assert.Contains(t, raw, key)
	}

	var ans QueryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ans))
	assert.True(t, ans.Success)
	assert.Equal(t, "What color is the sky?", ans.Query)
	assert.Contains(t, ans.Answer, "blue")
	require.NotEmpty(t, ans.Sources)
	assert.Equal(t, "facts.txt", ans.Sources[0].Filename)
	assert.Contains(t, ans.Sources[0].Preview, "sky is blue")
	assert.Equal(t, "acme", ans.Metadata.TenantID)
}

func TestQuery_MaxResults(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/ingest", "acme", IngestRequest{
		Documents: []DocumentPayload{
			{Filename: "facts.txt", Text: "The sky is blue. Grass is green."},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/api/v1/query", "acme", QueryRequest{
		Query:      "What color is the sky?",
		MaxResults: 1,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var ans QueryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ans))
	assert.Len(t, ans.Sources, 1, "caller-supplied maxResults bounds retrieval")

	rec = doJSON(t, srv, http.MethodPost, "/api/v1/query", "acme", QueryRequest{
		Query:      "What color is the sky?",
		MaxResults: -1,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQuery_TenantIsolation(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/ingest", "acme", IngestRequest{
		Documents: []DocumentPayload{
			{Filename: "facts.txt", Text: "The sky is blue. Grass is green."},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	// A different tenant asking the same question sees nothing.
	rec = doJSON(t, srv, http.MethodPost, "/api/v1/query", "stranger", QueryRequest{
		Query: "What color is the sky?",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var ans QueryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ans))
	assert.True(t, ans.Success)
	assert.Equal(t, answer.NoContextAnswer, ans.Answer)
	assert.Empty(t, ans.Sources)
}
