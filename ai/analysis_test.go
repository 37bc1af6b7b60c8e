package ai

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"discernus/adapters/cas"
	"discernus/domain/artifacts"
	"discernus/domain/core"
	"discernus/domain/corpus"
	"discernus/internal"
	"discernus/ports"
)

// fakeGateway scripts gateway behavior for agent tests
type fakeGateway struct {
	fn    func(req ports.CallRequest) (*ports.CallResponse, error)
	calls []ports.CallRequest
}

func (g *fakeGateway) Call(ctx context.Context, req ports.CallRequest) (*ports.CallResponse, error) {
	g.calls = append(g.calls, req)
	return g.fn(req)
}

func (g *fakeGateway) EstimateCost(string, int, int) float64 { return 0.01 }
func (g *fakeGateway) SpentUSD() float64                     { return 0 }

func newTestStore(t *testing.T) ports.ArtifactStore {
	t.Helper()
	store, err := cas.New(t.TempDir(), internal.DefaultLogger)
	require.NoError(t, err)
	return store
}

func testAnalysisInput(t *testing.T) AnalysisInput {
	t.Helper()
	fw := testFramework(t)
	fwHash, err := fw.Hash()
	require.NoError(t, err)
	doc := &corpus.Document{
		ID:   core.DocumentID("doc-1"),
		Text: "Every person deserves respect regardless of faction.",
	}
	return AnalysisInput{
		Framework:     fw,
		FrameworkHash: fwHash,
		Document:      doc,
		DocumentHash:  core.NewHash([]byte(doc.Text)),
		Model:         "gpt-4o",
	}
}

func toolCallResponse(name string, args json.RawMessage) *ports.CallResponse {
	return &ports.CallResponse{
		ToolCalls: []ports.ToolCall{{Name: name, Arguments: args}},
		Usage:     ports.UsageData{PromptTokens: 100, CompletionTokens: 50, TotalTokens: 150},
		CostUSD:   0.002,
	}
}

// TestAnalyzeSealsAnalysisAndWork tests the structured happy path
func TestAnalyzeSealsAnalysisAndWork(t *testing.T) {
	store := newTestStore(t)
	gateway := &fakeGateway{fn: func(req ports.CallRequest) (*ports.CallResponse, error) {
		return toolCallResponse(ToolRecordAnalysis, validAnalysisArgs()), nil
	}}
	agent := NewAnalysisAgent(store, gateway, internal.DefaultLogger)
	in := testAnalysisInput(t)

	out, err := agent.Analyze(context.Background(), in)
	require.NoError(t, err)
	assert.False(t, out.CacheHit)
	assert.Equal(t, 0.8, out.Result.Scores["dignity"].Raw)

	// analysis parents bind framework, document and exactly one work
	meta, err := store.GetMetadata(context.Background(), out.AnalysisHash)
	require.NoError(t, err)
	assert.Contains(t, meta.Parents, core.Hash(in.FrameworkHash))
	assert.Contains(t, meta.Parents, in.DocumentHash)
	assert.Contains(t, meta.Parents, out.WorkHash)
	assert.NotEmpty(t, meta.Custom["batch_id"])

	workParents := 0
	for _, parent := range meta.Parents {
		parentMeta, err := store.GetMetadata(context.Background(), parent)
		require.NoError(t, err)
		if parentMeta.ArtifactType == artifacts.KindWork {
			workParents++
		}
	}
	assert.Equal(t, 1, workParents, "analysis lineage carries exactly one work")

	// the work itself descends from the same framework and document
	workMeta, err := store.GetMetadata(context.Background(), out.WorkHash)
	require.NoError(t, err)
	assert.Contains(t, workMeta.Parents, core.Hash(in.FrameworkHash))
	assert.Contains(t, workMeta.Parents, in.DocumentHash)
}

// TestAnalyzeCacheHitSkipsGateway tests batch-id reuse
func TestAnalyzeCacheHitSkipsGateway(t *testing.T) {
	store := newTestStore(t)
	gateway := &fakeGateway{fn: func(req ports.CallRequest) (*ports.CallResponse, error) {
		return toolCallResponse(ToolRecordAnalysis, validAnalysisArgs()), nil
	}}
	agent := NewAnalysisAgent(store, gateway, internal.DefaultLogger)
	in := testAnalysisInput(t)

	first, err := agent.Analyze(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, gateway.calls, 1)

	second, err := agent.Analyze(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, first.AnalysisHash, second.AnalysisHash)
	assert.Equal(t, first.WorkHash, second.WorkHash)
	assert.Len(t, gateway.calls, 1, "cache hit must not call the gateway")
}

// TestAnalyzeDifferentModelMissesCache tests batch-id model sensitivity
func TestAnalyzeDifferentModelMissesCache(t *testing.T) {
	store := newTestStore(t)
	gateway := &fakeGateway{fn: func(req ports.CallRequest) (*ports.CallResponse, error) {
		return toolCallResponse(ToolRecordAnalysis, validAnalysisArgs()), nil
	}}
	agent := NewAnalysisAgent(store, gateway, internal.DefaultLogger)

	in := testAnalysisInput(t)
	_, err := agent.Analyze(context.Background(), in)
	require.NoError(t, err)

	in.Model = "claude-sonnet-4-20250514"
	_, err = agent.Analyze(context.Background(), in)
	require.NoError(t, err)
	assert.Len(t, gateway.calls, 2)
}

// TestAnalyzeRejectsWrongDimensionSet tests schema enforcement end to end
func TestAnalyzeRejectsWrongDimensionSet(t *testing.T) {
	store := newTestStore(t)
	gateway := &fakeGateway{fn: func(req ports.CallRequest) (*ports.CallResponse, error) {
		return toolCallResponse(ToolRecordAnalysis, json.RawMessage(`{
			"dimension_scores": {"dignity": {"raw_score": 0.8, "salience": 0.9, "confidence": 0.7}},
			"evidence": [], "work": {"code": "x", "claimed_output": ""}
		}`)), nil
	}}
	agent := NewAnalysisAgent(store, gateway, internal.DefaultLogger)

	_, err := agent.Analyze(context.Background(), testAnalysisInput(t))
	require.Error(t, err)

	hashes, listErr := store.List(context.Background(), ports.ListFilter{Type: artifacts.KindAnalysisResult})
	require.NoError(t, listErr)
	assert.Empty(t, hashes, "rejected analysis must not be sealed")
}

// TestAnalyzeProseFallback tests parser recovery when no tool call arrives
func TestAnalyzeProseFallback(t *testing.T) {
	store := newTestStore(t)
	gateway := &fakeGateway{fn: func(req ports.CallRequest) (*ports.CallResponse, error) {
		return &ports.CallResponse{
			Content: `{"dignity": 0.7, "tribalism": 0.1}`,
			Usage:   ports.UsageData{TotalTokens: 80},
		}, nil
	}}
	agent := NewAnalysisAgent(store, gateway, internal.DefaultLogger)

	out, err := agent.Analyze(context.Background(), testAnalysisInput(t))
	require.NoError(t, err)
	assert.Equal(t, 0.7, out.Result.Scores["dignity"].Raw)

	var work artifacts.Work
	_, err = cas.GetJSON(context.Background(), store, out.WorkHash, &work)
	require.NoError(t, err)
	assert.Contains(t, work.Code, "no executable work recorded")
}

// TestAnalyzeRetriesUnreadableOutput tests the single retry after a response
// no parsing strategy can read.
func TestAnalyzeRetriesUnreadableOutput(t *testing.T) {
	store := newTestStore(t)
	gateway := &fakeGateway{fn: nil}
	gateway.fn = func(req ports.CallRequest) (*ports.CallResponse, error) {
		if len(gateway.calls) == 1 {
			return &ports.CallResponse{
				Content: "I could not settle on numeric scores for this one.",
				Usage:   ports.UsageData{TotalTokens: 40},
			}, nil
		}
		return toolCallResponse(ToolRecordAnalysis, validAnalysisArgs()), nil
	}
	agent := NewAnalysisAgent(store, gateway, internal.DefaultLogger)

	out, err := agent.Analyze(context.Background(), testAnalysisInput(t))
	require.NoError(t, err)
	assert.Len(t, gateway.calls, 2, "unreadable output buys exactly one more call")
	assert.Equal(t, 0.8, out.Result.Scores["dignity"].Raw)
}

// TestAnalyzeFailsAfterSecondUnreadableOutput tests that the retry is single:
// two unreadable responses fail the document.
func TestAnalyzeFailsAfterSecondUnreadableOutput(t *testing.T) {
	store := newTestStore(t)
	gateway := &fakeGateway{fn: func(req ports.CallRequest) (*ports.CallResponse, error) {
		return &ports.CallResponse{
			Content: "still no usable numbers here",
			Usage:   ports.UsageData{TotalTokens: 40},
		}, nil
	}}
	agent := NewAnalysisAgent(store, gateway, internal.DefaultLogger)

	_, err := agent.Analyze(context.Background(), testAnalysisInput(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrParseFailure)
	assert.Len(t, gateway.calls, 2)

	hashes, listErr := store.List(context.Background(), ports.ListFilter{Type: artifacts.KindAnalysisResult})
	require.NoError(t, listErr)
	assert.Empty(t, hashes, "a failed document must not seal an analysis")
}

// TestAnalyzePromptEncodesDocument tests that the document goes in as base64
func TestAnalyzePromptEncodesDocument(t *testing.T) {
	store := newTestStore(t)
	gateway := &fakeGateway{fn: func(req ports.CallRequest) (*ports.CallResponse, error) {
		return toolCallResponse(ToolRecordAnalysis, validAnalysisArgs()), nil
	}}
	agent := NewAnalysisAgent(store, gateway, internal.DefaultLogger)
	in := testAnalysisInput(t)

	_, err := agent.Analyze(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, gateway.calls, 1)
	assert.NotContains(t, gateway.calls[0].Prompt, in.Document.Text)
	assert.Contains(t, gateway.calls[0].Prompt, EncodeDocument(in.Document.Text))
}
