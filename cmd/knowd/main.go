// Knowd is a per-tenant document knowledge base daemon.
//
// This binary starts the knowd HTTP server with full service
// initialization: vector store, embeddings, chunker, generative model,
// and the ingestion and answering orchestrators.
//
// Configuration is loaded from ~/.config/knowd/config.yaml and overridden
// by KNOWD_* environment variables. See internal/config for details.
//
// Usage:
//
//	# Start server with defaults
//	knowd
//
//	# Configure via environment
//	KNOWD_SERVER_PORT=8090 KNOWD_VECTORSTORE_PROVIDER=qdrant knowd
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	nethttp "net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/knowd/internal/answer"
	"github.com/fyrsmithlabs/knowd/internal/chunker"
	"github.com/fyrsmithlabs/knowd/internal/config"
	"github.com/fyrsmithlabs/knowd/internal/embeddings"
	"github.com/fyrsmithlabs/knowd/internal/http"
	"github.com/fyrsmithlabs/knowd/internal/ingest"
	"github.com/fyrsmithlabs/knowd/internal/llm"
	"github.com/fyrsmithlabs/knowd/internal/logging"
	"github.com/fyrsmithlabs/knowd/internal/services"
	"github.com/fyrsmithlabs/knowd/internal/vectorstore"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default ~/.config/knowd/config.yaml)")
	flag.Parse()
	args := flag.Args()

	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  knowd           Start the knowd daemon\n")
			fmt.Fprintf(os.Stderr, "  knowd version   Show version information\n")
			os.Exit(1)
		}
	}

	// Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server shutdown complete")
}

// printVersion prints version information
func printVersion() {
	fmt.Printf("knowd by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts the knowd server and blocks until context is cancelled.
//
// Initialization order:
//  1. Load and validate configuration
//  2. Initialize logger
//  3. Create vector store backend and tenant-aware client
//  4. Create embedding service, chunker, and generator
//  5. Wire ingestion and answering orchestrators into the registry
//  6. Start HTTP server
//  7. Perform graceful shutdown on context cancellation
func run(ctx context.Context, configPath string) error {
	if err := config.EnsureConfigDir(); err != nil {
		return fmt.Errorf("ensuring config directory: %w", err)
	}

	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync() // Best-effort sync on shutdown
	}()

	logger.Info("Starting knowd",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.String("vectorstore", cfg.VectorStore.Provider),
		zap.Duration("shutdown_timeout", cfg.Server.ShutdownTimeout))

	store, err := vectorstore.NewStore(vectorstore.Config{
		Provider: cfg.VectorStore.Provider,
		Chromem: vectorstore.ChromemConfig{
			Path:     cfg.VectorStore.Chromem.Path,
			Compress: cfg.VectorStore.Chromem.Compress,
		},
		Qdrant: vectorstore.QdrantConfig{
			Host:   cfg.VectorStore.Qdrant.Host,
			Port:   cfg.VectorStore.Qdrant.Port,
			UseTLS: cfg.VectorStore.Qdrant.UseTLS,
		},
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create vector store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("closing vector store", zap.Error(err))
		}
	}()

	client, err := vectorstore.NewClient(store, vectorstore.ClientConfig{
		Collection:      cfg.VectorStore.Collection,
		VectorSize:      cfg.VectorStore.VectorSize,
		BatchSize:       cfg.VectorStore.BatchSize,
		OverfetchFactor: cfg.VectorStore.OverfetchFactor,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create vector store client: %w", err)
	}

	embedder, err := embeddings.NewService(embeddings.Config{
		BaseURL:       cfg.Embeddings.BaseURL,
		Model:         cfg.Embeddings.Model,
		APIKey:        cfg.Embeddings.APIKey,
		Dimensions:    cfg.Embeddings.Dimensions,
		MaxConcurrent: cfg.Embeddings.MaxConcurrent,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create embedding service: %w", err)
	}

	logger.Info("Embedding service initialized",
		zap.String("base_url", cfg.Embeddings.BaseURL),
		zap.String("model", cfg.Embeddings.Model),
		zap.Int("dimensions", cfg.Embeddings.Dimensions))

	ck, err := chunker.New(chunker.Config{
		Strategy:            cfg.Chunker.Strategy,
		ChunkSize:           cfg.Chunker.ChunkSize,
		Overlap:             cfg.Chunker.Overlap,
		Separators:          cfg.Chunker.Separators,
		MinWords:            cfg.Chunker.MinWords,
		MaxPunctuationRatio: cfg.Chunker.MaxPunctuationRatio,
	})
	if err != nil {
		return fmt.Errorf("failed to create chunker: %w", err)
	}

	generator, err := llm.NewOpenAIGenerator(llm.Config{
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.Model,
		APIKey:      cfg.LLM.APIKey,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create generator: %w", err)
	}

	ingestSvc, err := ingest.NewService(ck, embedder, client, ingest.Config{
		PoolSize:        cfg.Ingest.PoolSize,
		DocumentTimeout: cfg.Ingest.DocumentTimeout,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create ingestion service: %w", err)
	}
	defer ingestSvc.Release()

	answerSvc, err := answer.NewService(embedder, client, generator, answer.Config{
		TopK:            cfg.Answer.TopK,
		MaxContextChars: cfg.Answer.MaxContextChars,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create answer service: %w", err)
	}

	registry := services.NewRegistry(services.Options{
		Ingest:      ingestSvc,
		Answer:      answerSvc,
		Embeddings:  embedder,
		Generator:   generator,
		VectorStore: client,
	})

	srv, err := http.NewServer(registry, logger, &http.Config{
		Host:         "0.0.0.0",
		Port:         cfg.Server.Port,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
	})
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	logger.Info("Server configured",
		zap.String("health_endpoint", fmt.Sprintf("http://localhost:%d/health", cfg.Server.Port)),
		zap.String("api_prefix", "/api/v1"))

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	return nil
}
