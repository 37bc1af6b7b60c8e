package cas

import (
	"context"
	"encoding/json"
	"fmt"

	"discernus/domain/artifacts"
	"discernus/domain/core"
	"discernus/ports"
)

// PutCanonical seals a structured payload in canonical JSON form so that
// equal payloads always produce equal hashes, and validates it against the
// schema registry first.
func PutCanonical(ctx context.Context, store ports.ArtifactStore, kind artifacts.ArtifactKind, payload interface{}, meta ports.Metadata) (core.Hash, error) {
	if err := artifacts.Validate(kind, payload); err != nil {
		return "", fmt.Errorf("seal %s: %w", kind, err)
	}
	content, err := core.CanonicalJSON(payload)
	if err != nil {
		return "", fmt.Errorf("seal %s: %w", kind, err)
	}
	meta.ArtifactType = kind
	return store.Put(ctx, content, meta)
}

// GetJSON loads a sealed artifact and decodes its payload into out
func GetJSON(ctx context.Context, store ports.ArtifactStore, id core.Hash, out interface{}) (*ports.Metadata, error) {
	content, meta, err := store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(content, out); err != nil {
		return nil, fmt.Errorf("decode artifact %s: %w", id.Short(), err)
	}
	return meta, nil
}
