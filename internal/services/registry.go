// Package services composes knowd's services behind a single registry so
// transports depend on one constructor argument instead of a parameter
// list that grows with every feature.
package services

import (
	"github.com/fyrsmithlabs/knowd/internal/answer"
	"github.com/fyrsmithlabs/knowd/internal/embeddings"
	"github.com/fyrsmithlabs/knowd/internal/ingest"
	"github.com/fyrsmithlabs/knowd/internal/llm"
	"github.com/fyrsmithlabs/knowd/internal/vectorstore"
)

// Registry provides access to all knowd services.
// Use accessor methods to retrieve individual services.
type Registry interface {
	Ingest() *ingest.Service
	Answer() *answer.Service
	Embeddings() *embeddings.Service
	Generator() llm.Generator
	VectorStore() *vectorstore.Client
}

// Options configures the registry with service instances.
type Options struct {
	Ingest      *ingest.Service
	Answer      *answer.Service
	Embeddings  *embeddings.Service
	Generator   llm.Generator
	VectorStore *vectorstore.Client
}

// registry is the concrete implementation of Registry.
type registry struct {
	ingest      *ingest.Service
	answer      *answer.Service
	embeddings  *embeddings.Service
	generator   llm.Generator
	vectorStore *vectorstore.Client
}

// NewRegistry creates a new service registry.
func NewRegistry(opts Options) Registry {
	return &registry{
		ingest:      opts.Ingest,
		answer:      opts.Answer,
		embeddings:  opts.Embeddings,
		generator:   opts.Generator,
		vectorStore: opts.VectorStore,
	}
}

func (r *registry) Ingest() *ingest.Service            { return r.ingest }
func (r *registry) Answer() *answer.Service            { return r.answer }
func (r *registry) Embeddings() *embeddings.Service    { return r.embeddings }
func (r *registry) Generator() llm.Generator           { return r.generator }
func (r *registry) VectorStore() *vectorstore.Client   { return r.vectorStore }
