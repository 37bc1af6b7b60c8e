package cas

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"discernus/domain/artifacts"
	"discernus/domain/core"
	"discernus/internal"
	"discernus/ports"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(t.TempDir(), internal.NewLogger(internal.LogLevelError))
	require.NoError(t, err)
	return store
}

func TestPutGetRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	content := []byte("the rhetoric of the speech is notably populist")
	meta := ports.Metadata{
		ArtifactType: artifacts.KindCorpusDocument,
		Producer:     "test",
		Custom:       map[string]string{"filename": "speech_01.txt"},
	}

	id, err := store.Put(ctx, content, meta)
	require.NoError(t, err)
	assert.Equal(t, core.NewHash(content), id)

	got, gotMeta, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, content, got)
	assert.Equal(t, artifacts.KindCorpusDocument, gotMeta.ArtifactType)
	assert.Equal(t, "speech_01.txt", gotMeta.Custom["filename"])
	assert.False(t, gotMeta.CreatedAt.IsZero())
}

func TestPutDeduplicatesAndExtendsProvenance(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	content := []byte("shared blob")

	parentA := core.NewHash([]byte("parent-a"))
	parentB := core.NewHash([]byte("parent-b"))

	id1, err := store.Put(ctx, content, ports.Metadata{
		ArtifactType: artifacts.KindWork,
		Producer:     "analysis",
		Parents:      []core.Hash{parentA},
		Custom:       map[string]string{"model": "gpt-4o"},
	})
	require.NoError(t, err)

	id2, err := store.Put(ctx, content, ports.Metadata{
		ArtifactType: artifacts.KindWork,
		Producer:     "analysis",
		Parents:      []core.Hash{parentB},
		Custom:       map[string]string{"model": "claude", "cache": "hit"},
	})
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	meta, err := store.GetMetadata(ctx, id1)
	require.NoError(t, err)
	// Parents union; first writer's custom fields never overridden.
	assert.ElementsMatch(t, []core.Hash{parentA, parentB}, meta.Parents)
	assert.Equal(t, "gpt-4o", meta.Custom["model"])
	assert.Equal(t, "hit", meta.Custom["cache"])

	// Dedup must not add a second registry row.
	entries, err := store.Registry(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestGetUnknownReturnsNotFound(t *testing.T) {
	store := newTestStore(t)
	_, _, err := store.Get(context.Background(), core.NewHash([]byte("never stored")))
	assert.True(t, core.IsNotFoundError(err))
}

func TestConcurrentPutSameContentCollapses(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	content := []byte("contended content")

	var wg sync.WaitGroup
	ids := make([]core.Hash, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id, err := store.Put(ctx, content, ports.Metadata{
				ArtifactType: artifacts.KindCorpusDocument,
				Producer:     "worker",
			})
			assert.NoError(t, err)
			ids[n] = id
		}(i)
	}
	wg.Wait()

	for _, id := range ids[1:] {
		assert.Equal(t, ids[0], id)
	}
	entries, err := store.Registry(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestListFiltersByTypeAndParent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	parent := core.NewHash([]byte("framework"))
	docID, err := store.Put(ctx, []byte("doc"), ports.Metadata{
		ArtifactType: artifacts.KindCorpusDocument, Producer: "loader",
	})
	require.NoError(t, err)
	workID, err := store.Put(ctx, []byte("work"), ports.Metadata{
		ArtifactType: artifacts.KindWork, Producer: "analysis", Parents: []core.Hash{parent},
	})
	require.NoError(t, err)

	docs, err := store.List(ctx, ports.ListFilter{Type: artifacts.KindCorpusDocument})
	require.NoError(t, err)
	assert.Equal(t, []core.Hash{docID}, docs)

	children, err := store.List(ctx, ports.ListFilter{Parent: parent})
	require.NoError(t, err)
	assert.Equal(t, []core.Hash{workID}, children)
}

func TestVerifyDetectsTamperedBlob(t *testing.T) {
	dir := t.TempDir()
	store, err := New(dir, internal.NewLogger(internal.LogLevelError))
	require.NoError(t, err)
	ctx := context.Background()

	id, err := store.Put(ctx, []byte("original"), ports.Metadata{
		ArtifactType: artifacts.KindCorpusDocument, Producer: "test",
	})
	require.NoError(t, err)

	violations, err := store.Verify(ctx)
	require.NoError(t, err)
	assert.Empty(t, violations)

	blobPath := filepath.Join(dir, string(artifacts.KindCorpusDocument), id.String()+".bin")
	require.NoError(t, os.WriteFile(blobPath, []byte("tampered"), 0o644))

	violations, err = store.Verify(ctx)
	require.NoError(t, err)
	assert.Equal(t, []core.Hash{id}, violations)

	_, _, err = store.Get(ctx, id)
	assert.ErrorIs(t, err, core.ErrIntegrityViolation)
}

func TestPutCanonicalIsDeterministic(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	payload := &artifacts.Work{
		DocumentID:    "doc-1",
		Model:         "gpt-4o",
		Code:          "print(sum(scores)/len(scores))",
		ClaimedOutput: "0.5",
	}
	meta := ports.Metadata{Producer: "analysis"}

	id1, err := PutCanonical(ctx, store, artifacts.KindWork, payload, meta)
	require.NoError(t, err)
	id2, err := PutCanonical(ctx, store, artifacts.KindWork, payload, meta)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	var decoded artifacts.Work
	_, err = GetJSON(ctx, store, id1, &decoded)
	require.NoError(t, err)
	assert.Equal(t, *payload, decoded)
}

func TestPutCanonicalRejectsInvalidPayload(t *testing.T) {
	store := newTestStore(t)
	_, err := PutCanonical(context.Background(), store, artifacts.KindAnalysisResult,
		&artifacts.AnalysisResult{}, ports.Metadata{Producer: "analysis"})
	assert.Error(t, err)
}
