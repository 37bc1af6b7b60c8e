package ports

import (
	"context"

	"discernus/domain/artifacts"
	"discernus/domain/core"
)

// Metadata is the side-car record carried next to every sealed blob
type Metadata struct {
	ArtifactType  artifacts.ArtifactKind `json:"artifact_type"`
	CreatedAt     core.Timestamp         `json:"created_at"`
	Producer      string                 `json:"producer_component"`
	ProducerModel string                 `json:"producer_model,omitempty"`
	Parents       []core.Hash            `json:"parents,omitempty"`
	Custom        map[string]string      `json:"custom_fields,omitempty"`
}

// RegistryEntry is one row of the append-only registry log
type RegistryEntry struct {
	ID        core.Hash              `json:"id"`
	Type      artifacts.ArtifactKind `json:"artifact_type"`
	SizeBytes int64                  `json:"size_bytes"`
	CreatedAt core.Timestamp         `json:"created_at"`
	Producer  string                 `json:"producer_component"`
	Parents   []core.Hash            `json:"parents,omitempty"`
}

// ListFilter selects registry entries by predicate fields; zero values match all
type ListFilter struct {
	Type     artifacts.ArtifactKind
	Producer string
	Parent   core.Hash
}

// ArtifactStore is the content-addressed store every component reads and
// writes through. Blobs are immutable and keyed by sha256; a second put of the
// same content deduplicates and extends metadata without overriding the
// existing provenance chain.
type ArtifactStore interface {
	Put(ctx context.Context, content []byte, meta Metadata) (core.Hash, error)
	Get(ctx context.Context, id core.Hash) ([]byte, *Metadata, error)
	GetMetadata(ctx context.Context, id core.Hash) (*Metadata, error)
	Has(ctx context.Context, id core.Hash) (bool, error)
	List(ctx context.Context, filter ListFilter) ([]core.Hash, error)
	Registry(ctx context.Context) ([]RegistryEntry, error)
	// Verify re-hashes every stored blob and returns the ids whose bytes no
	// longer match their name. A non-empty result is an integrity violation.
	Verify(ctx context.Context) ([]core.Hash, error)
}

// ArtifactRegistry is the metadata-only view used by deployments that mirror
// registry rows into a shared database while blobs stay on disk.
type ArtifactRegistry interface {
	Record(ctx context.Context, entry RegistryEntry) error
	Lookup(ctx context.Context, id core.Hash) (*RegistryEntry, error)
	ListByType(ctx context.Context, kind artifacts.ArtifactKind) ([]RegistryEntry, error)
}
