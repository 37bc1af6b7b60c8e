// Package index implements the hybrid knowledge index the synthesis stage
// queries: a sqlite-backed store combining keyword match over typed content
// items with a cosine scan over embedded vectors, plus fuzzy quote-drift
// validation against the corpus text.
package index

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"discernus/domain/core"
	"discernus/internal"
	"discernus/ports"
)

const schema = `
CREATE TABLE IF NOT EXISTS index_meta (
	id TEXT PRIMARY KEY,
	run_id TEXT NOT NULL,
	item_count INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS items (
	rowid INTEGER PRIMARY KEY AUTOINCREMENT,
	content TEXT NOT NULL,
	content_type TEXT NOT NULL,
	source_artifact TEXT NOT NULL,
	speaker TEXT,
	document_id TEXT,
	char_offset INTEGER
);
CREATE INDEX IF NOT EXISTS idx_items_type ON items(content_type);
CREATE INDEX IF NOT EXISTS idx_items_document ON items(document_id);
CREATE TABLE IF NOT EXISTS vectors (
	item_rowid INTEGER PRIMARY KEY REFERENCES items(rowid),
	embedding BLOB NOT NULL
);
`

// Index is the sqlite-backed knowledge index for one run
type Index struct {
	db       *sqlx.DB
	embedder ports.Embedder
	logger   *internal.Logger
	indexID  core.Hash
}

// Open creates or opens the index database at path. Pass ":memory:" for an
// ephemeral index.
func Open(path string, embedder ports.Embedder, logger *internal.Logger) (*Index, error) {
	db, err := sqlx.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("%w: open index %s: %v", core.ErrStorageUnavailable, path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create index schema: %w", err)
	}
	return &Index{
		db:       db,
		embedder: embedder,
		logger:   logger.Component("KnowledgeIndex"),
	}, nil
}

// Close releases the database handle
func (x *Index) Close() error {
	return x.db.Close()
}

// IndexID derives the deterministic identity of an index over the given
// source material. Rebuilding over identical inputs yields the same id, which
// is how a rebuild is skipped.
func IndexID(runID core.RunID, items []ports.IndexItem) core.Hash {
	keys := make([]string, len(items))
	for i, item := range items {
		keys[i] = string(item.SourceArtifact) + "\x00" + item.ContentType + "\x00" + item.Content
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(string(runID))
	for _, k := range keys {
		b.WriteString("\x00")
		b.WriteString(k)
	}
	return core.NewHash([]byte(b.String()))
}

// Build populates the index from items. A previous build over identical
// material is detected by id and reused without re-embedding.
func (x *Index) Build(ctx context.Context, runID core.RunID, items []ports.IndexItem) (core.Hash, error) {
	id := IndexID(runID, items)

	var existing int
	err := x.db.GetContext(ctx, &existing,
		`SELECT item_count FROM index_meta WHERE id = ?`, string(id))
	if err == nil && existing == len(items) {
		x.logger.Info("index %s already built (%d items), skipping rebuild", id.Short(), existing)
		x.indexID = id
		return id, nil
	}
	if err != nil && err != sql.ErrNoRows {
		return "", fmt.Errorf("probe index meta: %w", err)
	}

	tx, err := x.db.BeginTxx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	for _, stmt := range []string{`DELETE FROM vectors`, `DELETE FROM items`, `DELETE FROM index_meta`} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return "", err
		}
	}

	embeddings, err := x.embedAll(ctx, items)
	if err != nil {
		return "", err
	}

	for i, item := range items {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO items (content, content_type, source_artifact, speaker, document_id, char_offset)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			item.Content, item.ContentType, string(item.SourceArtifact),
			item.Speaker, string(item.DocumentID), item.Offset)
		if err != nil {
			return "", fmt.Errorf("insert item %d: %w", i, err)
		}
		rowID, err := res.LastInsertId()
		if err != nil {
			return "", err
		}
		if embeddings != nil {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO vectors (item_rowid, embedding) VALUES (?, ?)`,
				rowID, encodeVector(embeddings[i])); err != nil {
				return "", fmt.Errorf("insert vector %d: %w", i, err)
			}
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO index_meta (id, run_id, item_count) VALUES (?, ?, ?)`,
		string(id), string(runID), len(items)); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}

	x.indexID = id
	x.logger.Info("built index %s: %d items for run %s", id.Short(), len(items), runID)
	return id, nil
}

// embedAll embeds item contents in batches. Embedding failure degrades the
// index to keyword-only retrieval rather than failing the build.
func (x *Index) embedAll(ctx context.Context, items []ports.IndexItem) ([][]float32, error) {
	if x.embedder == nil || len(items) == 0 {
		return nil, nil
	}
	const batch = 64
	embeddings := make([][]float32, 0, len(items))
	for start := 0; start < len(items); start += batch {
		end := start + batch
		if end > len(items) {
			end = len(items)
		}
		texts := make([]string, end-start)
		for i := start; i < end; i++ {
			texts[i-start] = items[i].Content
		}
		vectors, err := x.embedder.Embed(ctx, texts)
		if err != nil {
			x.logger.Warn("embedding failed, index degrades to keyword match: %v", err)
			return nil, nil
		}
		embeddings = append(embeddings, vectors...)
	}
	return embeddings, nil
}

type itemRow struct {
	RowID          int64          `db:"rowid"`
	Content        string         `db:"content"`
	ContentType    string         `db:"content_type"`
	SourceArtifact string         `db:"source_artifact"`
	Speaker        sql.NullString `db:"speaker"`
	DocumentID     sql.NullString `db:"document_id"`
	Offset         sql.NullInt64  `db:"char_offset"`
}

// Query runs hybrid retrieval: keyword overlap scoring over the items table,
// blended with a cosine scan over stored vectors when an embedder is wired.
// Failures degrade to empty hits by contract; the caller logs and continues.
func (x *Index) Query(ctx context.Context, q ports.IndexQuery) ([]ports.Hit, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}

	rows, err := x.selectCandidates(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	keyword := keywordScores(q.Text, rows)
	semantic := x.semanticScores(ctx, q.Text, rows)

	hits := make([]ports.Hit, 0, len(rows))
	for i, row := range rows {
		score := keyword[i]
		if semantic != nil {
			score = 0.5*keyword[i] + 0.5*semantic[i]
		}
		if score <= 0 {
			continue
		}
		hit := ports.Hit{
			Content:        row.Content,
			DataType:       row.ContentType,
			SourceArtifact: core.Hash(row.SourceArtifact),
			Relevance:      score,
			Metadata:       map[string]string{},
		}
		if row.Speaker.Valid && row.Speaker.String != "" {
			hit.Metadata["speaker"] = row.Speaker.String
		}
		if row.DocumentID.Valid && row.DocumentID.String != "" {
			hit.Metadata["document_id"] = row.DocumentID.String
		}
		hits = append(hits, hit)
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Relevance > hits[j].Relevance })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (x *Index) selectCandidates(ctx context.Context, q ports.IndexQuery) ([]itemRow, error) {
	query := `SELECT rowid, content, content_type, source_artifact, speaker, document_id, char_offset FROM items`
	var conditions []string
	var args []interface{}
	if len(q.ContentTypes) > 0 {
		placeholders := make([]string, len(q.ContentTypes))
		for i, ct := range q.ContentTypes {
			placeholders[i] = "?"
			args = append(args, ct)
		}
		conditions = append(conditions, "content_type IN ("+strings.Join(placeholders, ",")+")")
	}
	if q.Speaker != "" {
		conditions = append(conditions, "speaker = ?")
		args = append(args, q.Speaker)
	}
	if q.DocumentID != "" {
		conditions = append(conditions, "document_id = ?")
		args = append(args, string(q.DocumentID))
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	var rows []itemRow
	if err := x.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("select index candidates: %w", err)
	}
	return rows, nil
}

// keywordScores computes token-overlap relevance in [0,1] per row
func keywordScores(query string, rows []itemRow) []float64 {
	terms := tokenize(query)
	scores := make([]float64, len(rows))
	if len(terms) == 0 {
		return scores
	}
	for i, row := range rows {
		content := strings.ToLower(row.Content)
		matched := 0
		for _, term := range terms {
			if strings.Contains(content, term) {
				matched++
			}
		}
		scores[i] = float64(matched) / float64(len(terms))
	}
	return scores
}

// semanticScores embeds the query and cosine-scans the stored vectors. The
// sqlite-vec extension accelerates this scan when compiled in; the fallback
// is a plain Go pass over the rows.
func (x *Index) semanticScores(ctx context.Context, query string, rows []itemRow) []float64 {
	if x.embedder == nil {
		return nil
	}
	queryVecs, err := x.embedder.Embed(ctx, []string{query})
	if err != nil || len(queryVecs) != 1 {
		x.logger.Warn("query embedding failed: %v", err)
		return nil
	}
	queryVec := queryVecs[0]

	scores := make([]float64, len(rows))
	found := false
	for i, row := range rows {
		var blob []byte
		if err := x.db.GetContext(ctx, &blob,
			`SELECT embedding FROM vectors WHERE item_rowid = ?`, row.RowID); err != nil {
			continue
		}
		scores[i] = cosine(queryVec, decodeVector(blob))
		found = true
	}
	if !found {
		return nil
	}
	return scores
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})
	var terms []string
	for _, f := range fields {
		if len(f) >= 3 {
			terms = append(terms, f)
		}
	}
	return terms
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(blob []byte) []float32 {
	v := make([]float32, len(blob)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return v
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
