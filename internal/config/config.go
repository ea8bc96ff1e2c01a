// Package config provides configuration loading for knowd.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Logging     LoggingConfig     `koanf:"logging"`
	VectorStore VectorStoreConfig `koanf:"vectorstore"`
	Embeddings  EmbeddingsConfig  `koanf:"embeddings"`
	Chunker     ChunkerConfig     `koanf:"chunker"`
	LLM         LLMConfig         `koanf:"llm"`
	Ingest      IngestConfig      `koanf:"ingest"`
	Answer      AnswerConfig      `koanf:"answer"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	MaxBodyBytes    int64         `koanf:"max_body_bytes"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `koanf:"level"`

	// Format is the output encoding: "json" or "console".
	Format string `koanf:"format"`
}

// VectorStoreConfig selects and configures the vector store backend.
type VectorStoreConfig struct {
	Provider string        `koanf:"provider"`
	Chromem  ChromemConfig `koanf:"chromem"`
	Qdrant   QdrantConfig  `koanf:"qdrant"`

	Collection      string `koanf:"collection"`
	VectorSize      int    `koanf:"vector_size"`
	BatchSize       int    `koanf:"batch_size"`
	OverfetchFactor int    `koanf:"overfetch_factor"`
}

// ChromemConfig holds the embedded backend's configuration.
type ChromemConfig struct {
	Path     string `koanf:"path"`
	Compress bool   `koanf:"compress"`
}

// QdrantConfig holds the external backend's configuration.
type QdrantConfig struct {
	Host   string `koanf:"host"`
	Port   int    `koanf:"port"`
	UseTLS bool   `koanf:"use_tls"`
}

// EmbeddingsConfig holds embedding service configuration.
type EmbeddingsConfig struct {
	BaseURL       string `koanf:"base_url"`
	Model         string `koanf:"model"`
	APIKey        string `koanf:"api_key"`
	Dimensions    int    `koanf:"dimensions"`
	MaxConcurrent int    `koanf:"max_concurrent"`
}

// ChunkerConfig holds chunking configuration. Separators left empty fall
// back to the chunker's built-in priority list.
type ChunkerConfig struct {
	Strategy            string   `koanf:"strategy"`
	ChunkSize           int      `koanf:"chunk_size"`
	Overlap             int      `koanf:"overlap"`
	Separators          []string `koanf:"separators"`
	MinWords            int      `koanf:"min_words"`
	MaxPunctuationRatio float64  `koanf:"max_punctuation_ratio"`
}

// LLMConfig holds generative model configuration.
type LLMConfig struct {
	BaseURL     string  `koanf:"base_url"`
	Model       string  `koanf:"model"`
	APIKey      string  `koanf:"api_key"`
	MaxTokens   int     `koanf:"max_tokens"`
	Temperature float64 `koanf:"temperature"`
}

// IngestConfig holds ingestion orchestrator configuration.
type IngestConfig struct {
	PoolSize        int           `koanf:"pool_size"`
	DocumentTimeout time.Duration `koanf:"document_timeout"`
}

// AnswerConfig holds answering configuration.
type AnswerConfig struct {
	TopK            int `koanf:"top_k"`
	MaxContextChars int `koanf:"max_context_chars"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging level: %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid logging format: %q", c.Logging.Format)
	}

	switch c.VectorStore.Provider {
	case "chromem", "qdrant":
	default:
		return fmt.Errorf("invalid vectorstore provider: %q", c.VectorStore.Provider)
	}
	if c.VectorStore.VectorSize <= 0 {
		return fmt.Errorf("invalid vector size: %d", c.VectorStore.VectorSize)
	}

	if c.Embeddings.Dimensions != c.VectorStore.VectorSize {
		return fmt.Errorf("embedding dimensions (%d) must match vector size (%d)",
			c.Embeddings.Dimensions, c.VectorStore.VectorSize)
	}

	if c.Chunker.ChunkSize <= 0 {
		return fmt.Errorf("invalid chunk size: %d", c.Chunker.ChunkSize)
	}
	if c.Chunker.Overlap < 0 || c.Chunker.Overlap >= c.Chunker.ChunkSize {
		return fmt.Errorf("overlap (%d) must be in [0, chunk size)", c.Chunker.Overlap)
	}
	if c.Chunker.MinWords < 0 {
		return fmt.Errorf("invalid min words: %d", c.Chunker.MinWords)
	}
	if c.Chunker.MaxPunctuationRatio < 0 || c.Chunker.MaxPunctuationRatio > 1 {
		return fmt.Errorf("max punctuation ratio (%g) must be in [0, 1]", c.Chunker.MaxPunctuationRatio)
	}

	if c.Answer.TopK <= 0 {
		return fmt.Errorf("invalid topK: %d", c.Answer.TopK)
	}

	return nil
}
