package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadWithFile_Defaults(t *testing.T) {
	// Point at a nonexistent file so only defaults apply.
	cfg, err := LoadWithFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8090, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "chromem", cfg.VectorStore.Provider)
	assert.Equal(t, "knowd_chunks", cfg.VectorStore.Collection)
	assert.Equal(t, 1024, cfg.VectorStore.VectorSize)
	assert.Equal(t, 100, cfg.VectorStore.BatchSize)
	assert.Equal(t, 2, cfg.VectorStore.OverfetchFactor)
	assert.Equal(t, "mxbai-embed-large", cfg.Embeddings.Model)
	assert.Equal(t, 1024, cfg.Embeddings.Dimensions)
	assert.Equal(t, 3, cfg.Embeddings.MaxConcurrent)
	assert.Equal(t, "recursive", cfg.Chunker.Strategy)
	assert.Equal(t, 1000, cfg.Chunker.ChunkSize)
	assert.Equal(t, 200, cfg.Chunker.Overlap)
	assert.Equal(t, 3, cfg.Chunker.MinWords)
	assert.Equal(t, 0.5, cfg.Chunker.MaxPunctuationRatio)
	assert.Empty(t, cfg.Chunker.Separators, "chunker supplies its own separator defaults")
	assert.Equal(t, "llama3.1", cfg.LLM.Model)
	assert.Equal(t, 5, cfg.Answer.TopK)
}

func TestLoadWithFile_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte(`
server:
  port: 9999
logging:
  level: debug
  format: console
vectorstore:
  provider: qdrant
  qdrant:
    host: qdrant.internal
    port: 7334
chunker:
  chunk_size: 500
  overlap: 50
  min_words: 5
  max_punctuation_ratio: 0.3
  separators: ["\n\n", ". "]
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
	assert.Equal(t, "qdrant", cfg.VectorStore.Provider)
	assert.Equal(t, "qdrant.internal", cfg.VectorStore.Qdrant.Host)
	assert.Equal(t, 7334, cfg.VectorStore.Qdrant.Port)
	assert.Equal(t, 500, cfg.Chunker.ChunkSize)
	assert.Equal(t, 50, cfg.Chunker.Overlap)
	assert.Equal(t, 5, cfg.Chunker.MinWords)
	assert.Equal(t, 0.3, cfg.Chunker.MaxPunctuationRatio)
	assert.Equal(t, []string{"\n\n", ". "}, cfg.Chunker.Separators)

	// Untouched sections keep their defaults.
	assert.Equal(t, "mxbai-embed-large", cfg.Embeddings.Model)
}

func TestLoadWithFile_EnvOverridesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9999\n"), 0o600))

	t.Setenv("KNOWD_SERVER_PORT", "7070")
	t.Setenv("KNOWD_EMBEDDINGS_MODEL", "nomic-embed-text")
	t.Setenv("KNOWD_CHUNKER_MIN_WORDS", "7")

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "nomic-embed-text", cfg.Embeddings.Model)
	assert.Equal(t, 7, cfg.Chunker.MinWords)
}

func TestLoadWithFile_ValidationFailures(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad log level", "logging:\n  level: loud\n"},
		{"bad provider", "vectorstore:\n  provider: pinecone\n"},
		{"overlap too large", "chunker:\n  chunk_size: 100\n  overlap: 100\n"},
		{"punctuation ratio above one", "chunker:\n  max_punctuation_ratio: 1.5\n"},
		{"negative min words", "chunker:\n  min_words: -1\n"},
		{"dimension mismatch", "embeddings:\n  dimensions: 768\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.yaml), 0o600))

			_, err := LoadWithFile(path)
			assert.Error(t, err)
		})
	}
}

func TestLoadWithFile_RejectsOversizedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	big := make([]byte, maxConfigFileSize+1)
	require.NoError(t, os.WriteFile(path, big, 0o600))

	_, err := LoadWithFile(path)
	assert.ErrorContains(t, err, "too large")
}
