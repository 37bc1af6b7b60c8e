// Package cas implements the content-addressed artifact store on a
// single-writer/many-reader filesystem layout: one directory per artifact
// type, each blob stored as <hash>.bin with a co-located <hash>.meta.json,
// plus a top-level append-only registry.jsonl for recovery and run diffing.
package cas

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"discernus/domain/artifacts"
	"discernus/domain/core"
	"discernus/internal"
	"discernus/ports"
)

const (
	blobSuffix   = ".bin"
	metaSuffix   = ".meta.json"
	registryFile = "registry.jsonl"
)

// Store is the filesystem-backed artifact store
type Store struct {
	root   string
	logger *internal.Logger

	// mu serializes metadata updates and registry appends. Blob writes are
	// atomic on their own (temp file + rename) and need no lock.
	mu sync.Mutex

	// mirror optionally replicates registry rows into a shared database
	mirror ports.ArtifactRegistry
}

// Option configures the store
type Option func(*Store)

// WithRegistryMirror replicates every registry row into reg after local commit
func WithRegistryMirror(reg ports.ArtifactRegistry) Option {
	return func(s *Store) { s.mirror = reg }
}

// New opens (creating if needed) a store rooted at root
func New(root string, logger *internal.Logger, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create store root %s: %v", core.ErrStorageUnavailable, root, err)
	}
	s := &Store{root: root, logger: logger.Component("CAS")}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Put writes the blob if its hash is unseen, otherwise deduplicates. Metadata
// on a duplicate put is merged: parents union, custom fields extend but never
// override. Insertion is atomic; readers never observe a partial blob.
func (s *Store) Put(ctx context.Context, content []byte, meta ports.Metadata) (core.Hash, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !artifacts.Known(meta.ArtifactType) {
		return "", fmt.Errorf("put: unknown artifact type %q", meta.ArtifactType)
	}
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = core.Now()
	}

	id := core.NewHash(content)
	dir := filepath.Join(s.root, string(meta.ArtifactType))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("%w: %v", core.ErrStorageUnavailable, err)
	}
	blobPath := filepath.Join(dir, id.String()+blobSuffix)
	metaPath := filepath.Join(dir, id.String()+metaSuffix)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(blobPath); err == nil {
		// Deduplicate: blob already sealed, extend metadata only.
		merged, err := s.mergeMetadata(metaPath, meta)
		if err != nil {
			return "", err
		}
		if err := writeAtomic(metaPath, merged); err != nil {
			return "", err
		}
		s.logger.Debug("dedup %s %s", meta.ArtifactType, id.Short())
		return id, nil
	}

	metaRaw, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("put: marshal metadata: %w", err)
	}
	// Metadata commits before the blob so a reader that can see the blob can
	// always see its side-car.
	if err := writeAtomic(metaPath, metaRaw); err != nil {
		return "", err
	}
	if err := writeAtomic(blobPath, content); err != nil {
		return "", err
	}
	if err := s.appendRegistry(ports.RegistryEntry{
		ID:        id,
		Type:      meta.ArtifactType,
		SizeBytes: int64(len(content)),
		CreatedAt: meta.CreatedAt,
		Producer:  meta.Producer,
		Parents:   meta.Parents,
	}); err != nil {
		return "", err
	}
	s.logger.Debug("sealed %s %s (%d bytes)", meta.ArtifactType, id.Short(), len(content))
	return id, nil
}

// Get returns the blob and metadata for id, verifying the content hash
func (s *Store) Get(ctx context.Context, id core.Hash) ([]byte, *ports.Metadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	blobPath, metaPath, err := s.locate(id)
	if err != nil {
		return nil, nil, err
	}
	content, err := os.ReadFile(blobPath)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: read blob %s: %v", core.ErrStorageUnavailable, id.Short(), err)
	}
	if actual := core.NewHash(content); !actual.Equals(id) {
		return nil, nil, core.NewIntegrityError(id, actual)
	}
	meta, err := readMetadata(metaPath)
	if err != nil {
		return nil, nil, err
	}
	return content, meta, nil
}

// GetMetadata returns only the side-car record for id
func (s *Store) GetMetadata(ctx context.Context, id core.Hash) (*ports.Metadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	_, metaPath, err := s.locate(id)
	if err != nil {
		return nil, err
	}
	return readMetadata(metaPath)
}

// Has reports whether id is sealed in the store
func (s *Store) Has(ctx context.Context, id core.Hash) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, _, err := s.locate(id)
	if core.IsNotFoundError(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// List returns ids whose registry entries match the filter
func (s *Store) List(ctx context.Context, filter ports.ListFilter) ([]core.Hash, error) {
	entries, err := s.Registry(ctx)
	if err != nil {
		return nil, err
	}
	var ids []core.Hash
	for _, entry := range entries {
		if filter.Type != "" && entry.Type != filter.Type {
			continue
		}
		if filter.Producer != "" && entry.Producer != filter.Producer {
			continue
		}
		if !filter.Parent.IsEmpty() && !hasParent(entry.Parents, filter.Parent) {
			continue
		}
		ids = append(ids, entry.ID)
	}
	return ids, nil
}

// Registry returns a read-only view of all known ids in insertion order
func (s *Store) Registry(ctx context.Context) ([]ports.RegistryEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(filepath.Join(s.root, registryFile))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read registry: %v", core.ErrStorageUnavailable, err)
	}
	var entries []ports.RegistryEntry
	for _, line := range strings.Split(string(raw), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var entry ports.RegistryEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			return nil, fmt.Errorf("corrupt registry line: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Verify re-hashes every sealed blob and returns ids that no longer match
func (s *Store) Verify(ctx context.Context) ([]core.Hash, error) {
	var violations []core.Hash
	err := filepath.Walk(s.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if info.IsDir() || !strings.HasSuffix(path, blobSuffix) {
			return nil
		}
		id := core.Hash(strings.TrimSuffix(filepath.Base(path), blobSuffix))
		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("%w: %v", core.ErrStorageUnavailable, err)
		}
		if actual := core.NewHash(content); !actual.Equals(id) {
			s.logger.Error("integrity violation: %s hashes to %s", id.Short(), actual.Short())
			violations = append(violations, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return violations, nil
}

// Writable probes the store root for write access (data pre-flight)
func (s *Store) Writable() error {
	probe := filepath.Join(s.root, ".writable")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		return fmt.Errorf("%w: store root not writable: %v", core.ErrStorageUnavailable, err)
	}
	return os.Remove(probe)
}

func (s *Store) locate(id core.Hash) (blobPath, metaPath string, err error) {
	for _, kind := range artifacts.AllKinds() {
		blob := filepath.Join(s.root, string(kind), id.String()+blobSuffix)
		if _, statErr := os.Stat(blob); statErr == nil {
			return blob, filepath.Join(s.root, string(kind), id.String()+metaSuffix), nil
		}
	}
	return "", "", fmt.Errorf("%w: artifact %s", core.ErrNotFound, id.Short())
}

func (s *Store) mergeMetadata(metaPath string, incoming ports.Metadata) ([]byte, error) {
	existing, err := readMetadata(metaPath)
	if err != nil {
		return nil, err
	}
	// Later writes extend the provenance chain, never override it.
	seen := make(map[core.Hash]bool, len(existing.Parents))
	for _, p := range existing.Parents {
		seen[p] = true
	}
	for _, p := range incoming.Parents {
		if !seen[p] {
			existing.Parents = append(existing.Parents, p)
			seen[p] = true
		}
	}
	if existing.Custom == nil && len(incoming.Custom) > 0 {
		existing.Custom = map[string]string{}
	}
	for k, v := range incoming.Custom {
		if _, taken := existing.Custom[k]; !taken {
			existing.Custom[k] = v
		}
	}
	return json.Marshal(existing)
}

func (s *Store) appendRegistry(entry ports.RegistryEntry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal registry entry: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(s.root, registryFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("%w: open registry: %v", core.ErrStorageUnavailable, err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("%w: append registry: %v", core.ErrStorageUnavailable, err)
	}
	if s.mirror != nil {
		// Mirror failures must not block local commits.
		if err := s.mirror.Record(context.Background(), entry); err != nil {
			s.logger.Warn("registry mirror failed for %s: %v", entry.ID.Short(), err)
		}
	}
	return nil
}

func readMetadata(metaPath string) (*ports.Metadata, error) {
	raw, err := os.ReadFile(metaPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: metadata %s", core.ErrNotFound, filepath.Base(metaPath))
		}
		return nil, fmt.Errorf("%w: %v", core.ErrStorageUnavailable, err)
	}
	var meta ports.Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("corrupt metadata %s: %w", filepath.Base(metaPath), err)
	}
	return &meta, nil
}

func writeAtomic(path string, content []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrStorageUnavailable, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: %v", core.ErrStorageUnavailable, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: %v", core.ErrStorageUnavailable, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: %v", core.ErrStorageUnavailable, err)
	}
	return nil
}

func hasParent(parents []core.Hash, want core.Hash) bool {
	for _, p := range parents {
		if p.Equals(want) {
			return true
		}
	}
	return false
}
