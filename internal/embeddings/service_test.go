package embeddings

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEmbedder is a deterministic in-process embedder. It records the
// maximum number of concurrent calls it observes.
type fakeEmbedder struct {
	dims    int
	delay   time.Duration
	err     error
	vector  []float32
	inUse   atomic.Int32
	maxSeen atomic.Int32
}

func (f *fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	cur := f.inUse.Add(1)
	defer f.inUse.Add(-1)
	for {
		max := f.maxSeen.Load()
		if cur <= max || f.maxSeen.CompareAndSwap(max, cur) {
			break
		}
	}

	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.vector != nil {
		out := make([]float32, len(f.vector))
		copy(out, f.vector)
		return out, nil
	}
	vec := make([]float32, f.dims)
	for i := range vec {
		vec[i] = float32(i + 1)
	}
	return vec, nil
}

func (f *fakeEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := f.EmbedQuery(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func newTestService(t *testing.T, fake *fakeEmbedder, maxConcurrent int) *Service {
	t.Helper()
	svc, err := NewService(Config{
		Dimensions:    fake.dims,
		MaxConcurrent: maxConcurrent,
	}, nil, WithEmbedder(fake))
	require.NoError(t, err)
	return svc
}

func TestConfig_ApplyDefaults(t *testing.T) {
	cfg := Config{}
	cfg.ApplyDefaults()

	assert.Equal(t, "http://localhost:11434/v1", cfg.BaseURL)
	assert.Equal(t, "mxbai-embed-large", cfg.Model)
	assert.Equal(t, 1024, cfg.Dimensions)
	assert.Equal(t, 3, cfg.MaxConcurrent)
}

func TestEmbedQuery_DimensionsAndNorm(t *testing.T) {
	fake := &fakeEmbedder{dims: 1024}
	svc := newTestService(t, fake, 3)

	vec, err := svc.EmbedQuery(context.Background(), "what color is the sky")
	require.NoError(t, err)
	require.Len(t, vec, 1024)

	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-5, "vector must be unit length")
}

func TestEmbedQuery_EmptyText(t *testing.T) {
	svc := newTestService(t, &fakeEmbedder{dims: 8}, 3)

	_, err := svc.EmbedQuery(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestEmbedQuery_DimensionMismatch(t *testing.T) {
	fake := &fakeEmbedder{dims: 8, vector: []float32{1, 2, 3}}
	svc, err := NewService(Config{Dimensions: 8, MaxConcurrent: 1}, nil, WithEmbedder(fake))
	require.NoError(t, err)

	_, err = svc.EmbedQuery(context.Background(), "text")
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestEmbedQuery_ZeroVector(t *testing.T) {
	fake := &fakeEmbedder{dims: 4, vector: []float32{0, 0, 0, 0}}
	svc, err := NewService(Config{Dimensions: 4, MaxConcurrent: 1}, nil, WithEmbedder(fake))
	require.NoError(t, err)

	_, err = svc.EmbedQuery(context.Background(), "text")
	assert.ErrorIs(t, err, ErrZeroVector)
}

func TestEmbedQuery_WrapsModelError(t *testing.T) {
	modelErr := errors.New("connection refused")
	fake := &fakeEmbedder{dims: 8, err: modelErr}
	svc := newTestService(t, fake, 3)

	_, err := svc.EmbedQuery(context.Background(), "some text")
	require.Error(t, err)

	var embErr *EmbeddingError
	require.ErrorAs(t, err, &embErr)
	assert.Equal(t, len("some text"), embErr.TextLen)
	assert.ErrorIs(t, err, modelErr)
}

func TestEmbedDocuments_Empty(t *testing.T) {
	svc := newTestService(t, &fakeEmbedder{dims: 8}, 3)

	_, err := svc.EmbedDocuments(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestEmbedDocuments_PreservesOrder(t *testing.T) {
	fake := &fakeEmbedder{dims: 8}
	svc := newTestService(t, fake, 3)

	vectors, err := svc.EmbedDocuments(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, vectors, 3)
	for _, vec := range vectors {
		assert.Len(t, vec, 8)
	}
}

func TestEmbed_ConcurrencyBounded(t *testing.T) {
	const maxConcurrent = 3
	fake := &fakeEmbedder{dims: 8, delay: 10 * time.Millisecond}
	svc := newTestService(t, fake, maxConcurrent)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.EmbedQuery(context.Background(), "load test")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, fake.maxSeen.Load(), int32(maxConcurrent),
		"observed concurrency must never exceed the semaphore capacity")
}

func TestEmbed_CancelledContextWhileWaiting(t *testing.T) {
	fake := &fakeEmbedder{dims: 8, delay: 50 * time.Millisecond}
	svc := newTestService(t, fake, 1)

	// Occupy the only slot.
	started := make(chan struct{})
	go func() {
		close(started)
		_, _ = svc.EmbedQuery(context.Background(), "occupier")
	}()
	<-started
	time.Sleep(5 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := svc.EmbedQuery(ctx, "waiter")
	assert.ErrorIs(t, err, context.Canceled)
}
