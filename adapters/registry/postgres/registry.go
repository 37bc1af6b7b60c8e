// Package postgres mirrors artifact registry rows into a shared database so
// multiple researchers can diff runs against one lab-wide ledger. Blobs never
// leave the local content-addressed store; only metadata rows travel.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"discernus/domain/artifacts"
	"discernus/domain/core"
	"discernus/ports"
)

const schema = `
CREATE TABLE IF NOT EXISTS artifact_registry (
	id            TEXT PRIMARY KEY,
	artifact_type TEXT NOT NULL,
	size_bytes    BIGINT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL,
	producer      TEXT NOT NULL,
	parents       JSONB NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS artifact_registry_type_idx ON artifact_registry (artifact_type);
`

// Registry is the sqlx-backed metadata mirror
type Registry struct {
	db *sqlx.DB
}

// Open connects to the database and ensures the schema exists
func Open(dsn string) (*Registry, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect registry database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure registry schema: %w", err)
	}
	return &Registry{db: db}, nil
}

// NewWithDB wraps an existing connection (used by tests)
func NewWithDB(db *sql.DB) *Registry {
	return &Registry{db: sqlx.NewDb(db, "postgres")}
}

// Close releases the connection pool
func (r *Registry) Close() error {
	return r.db.Close()
}

// Record inserts one registry row; duplicate ids are ignored because sealed
// blobs are immutable and re-registration carries no new information.
func (r *Registry) Record(ctx context.Context, entry ports.RegistryEntry) error {
	parents, err := json.Marshal(entry.Parents)
	if err != nil {
		return fmt.Errorf("marshal parents: %w", err)
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO artifact_registry (id, artifact_type, size_bytes, created_at, producer, parents)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO NOTHING`,
		entry.ID.String(), string(entry.Type), entry.SizeBytes,
		entry.CreatedAt.Time(), entry.Producer, parents)
	if err != nil {
		return fmt.Errorf("record artifact %s: %w", entry.ID.Short(), err)
	}
	return nil
}

// Lookup fetches one registry row by artifact id
func (r *Registry) Lookup(ctx context.Context, id core.Hash) (*ports.RegistryEntry, error) {
	row := r.db.QueryRowxContext(ctx,
		`SELECT id, artifact_type, size_bytes, created_at, producer, parents
		 FROM artifact_registry WHERE id = $1`, id.String())
	entry, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: registry row %s", core.ErrNotFound, id.Short())
	}
	if err != nil {
		return nil, fmt.Errorf("lookup artifact %s: %w", id.Short(), err)
	}
	return entry, nil
}

// ListByType returns all rows of one artifact kind, oldest first
func (r *Registry) ListByType(ctx context.Context, kind artifacts.ArtifactKind) ([]ports.RegistryEntry, error) {
	rows, err := r.db.QueryxContext(ctx,
		`SELECT id, artifact_type, size_bytes, created_at, producer, parents
		 FROM artifact_registry WHERE artifact_type = $1 ORDER BY created_at`, string(kind))
	if err != nil {
		return nil, fmt.Errorf("list %s artifacts: %w", kind, err)
	}
	defer rows.Close()

	var entries []ports.RegistryEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan registry row: %w", err)
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row rowScanner) (*ports.RegistryEntry, error) {
	var (
		id, kind, producer string
		size               int64
		createdAt          sql.NullTime
		parentsRaw         []byte
	)
	if err := row.Scan(&id, &kind, &size, &createdAt, &producer, &parentsRaw); err != nil {
		return nil, err
	}
	var parents []core.Hash
	if len(parentsRaw) > 0 {
		if err := json.Unmarshal(parentsRaw, &parents); err != nil {
			return nil, fmt.Errorf("decode parents: %w", err)
		}
	}
	return &ports.RegistryEntry{
		ID:        core.Hash(id),
		Type:      artifacts.ArtifactKind(kind),
		SizeBytes: size,
		CreatedAt: core.NewTimestamp(createdAt.Time),
		Producer:  producer,
		Parents:   parents,
	}, nil
}
