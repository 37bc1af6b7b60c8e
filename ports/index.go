package ports

import (
	"context"

	"discernus/domain/core"
)

// IndexItem is one unit of indexable content with its typed metadata
type IndexItem struct {
	Content        string
	ContentType    string // corpus_text | evidence_quote | statistical_finding
	SourceArtifact core.Hash
	Speaker        string
	DocumentID     core.DocumentID
	Offset         int
}

// IndexQuery selects hits by semantic relevance with optional pre-filters
type IndexQuery struct {
	Text         string
	ContentTypes []string
	Speaker      string
	DocumentID   core.DocumentID
	Limit        int
}

// Hit is one retrieval result
type Hit struct {
	Content        string
	DataType       string
	SourceArtifact core.Hash
	Relevance      float64
	Metadata       map[string]string
}

// DriftLevel classifies how far a cited quote drifts from real corpus text
type DriftLevel string

const (
	DriftExact         DriftLevel = "exact"
	DriftMinor         DriftLevel = "minor"
	DriftSignificant   DriftLevel = "significant"
	DriftMajor         DriftLevel = "major"
	DriftHallucination DriftLevel = "hallucination"
)

// QuoteValidation is the outcome of checking one quote against the text index
type QuoteValidation struct {
	Found     bool
	Drift     DriftLevel
	Score     float64
	BestMatch string
	FileMatch string
}

// KnowledgeIndex is the hybrid retrieval surface the synthesis stage queries.
// Query failures degrade to empty results; they never fail the pipeline.
type KnowledgeIndex interface {
	Build(ctx context.Context, runID core.RunID, items []IndexItem) (core.Hash, error)
	Query(ctx context.Context, q IndexQuery) ([]Hit, error)
	ValidateQuote(ctx context.Context, quote string) (*QuoteValidation, error)
	Close() error
}

// Embedder turns text into vectors for the semantic index
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}
