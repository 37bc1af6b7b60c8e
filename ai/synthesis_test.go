package ai

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"discernus/domain/artifacts"
	"discernus/domain/core"
	"discernus/domain/experiment"
	"discernus/internal"
	"discernus/ports"
)

// fakeIndex scripts retrieval and quote validation for synthesis tests
type fakeIndex struct {
	hits        []ports.Hit
	queries     []ports.IndexQuery
	driftFor    func(quote string) ports.DriftLevel
	queryErr    error
	validations int
}

func (x *fakeIndex) Build(context.Context, core.RunID, []ports.IndexItem) (core.Hash, error) {
	return core.NewHash([]byte("index")), nil
}

func (x *fakeIndex) Query(_ context.Context, q ports.IndexQuery) ([]ports.Hit, error) {
	x.queries = append(x.queries, q)
	if x.queryErr != nil {
		return nil, x.queryErr
	}
	return x.hits, nil
}

func (x *fakeIndex) ValidateQuote(_ context.Context, quote string) (*ports.QuoteValidation, error) {
	x.validations++
	drift := ports.DriftExact
	if x.driftFor != nil {
		drift = x.driftFor(quote)
	}
	score := 1.0
	if drift == ports.DriftHallucination {
		score = 0.1
	}
	return &ports.QuoteValidation{Found: drift != ports.DriftHallucination, Drift: drift, Score: score}, nil
}

func (x *fakeIndex) Close() error { return nil }

func testSynthesisInput(t *testing.T) SynthesisInput {
	t.Helper()
	return SynthesisInput{
		RunID: core.RunID("run-1"),
		Model: "gpt-4o",
		Experiment: &experiment.Config{
			Name:           "civic-study",
			FrameworkRef:   "framework.yaml",
			CorpusRef:      "corpus.json",
			SelectedModels: []string{"gpt-4o"},
			Questions:      []string{"Does dignity framing dominate?"},
			Hypotheses: []experiment.Hypothesis{
				{ID: "h1", Name: "dignity-dominance", Statement: "Dignity framing outweighs tribal framing."},
			},
		},
		ExperimentHash: core.NewHash([]byte("experiment")),
		Dimensions:     []string{"dignity", "tribalism"},
		Statistics: map[string]interface{}{
			"document_level": map[string]interface{}{
				"outliers": []interface{}{"doc-7"},
			},
		},
		StatisticsHash: core.NewHash([]byte("stats")),
		AnalysisHashes: []core.Hash{core.NewHash([]byte("a1"))},
		AttestHashes:   []core.Hash{core.NewHash([]byte("t1"))},
	}
}

func synthesisGateway(stepText string) *fakeGateway {
	return &fakeGateway{fn: func(req ports.CallRequest) (*ports.CallResponse, error) {
		if len(req.Tools) > 0 && req.Tools[0].Name == ToolGenerateQueries {
			return toolCallResponse(ToolGenerateQueries,
				[]byte(`{"queries": ["dignity evidence", "tribal framing passages"]}`)), nil
		}
		return &ports.CallResponse{
			Content: stepText,
			Usage:   ports.UsageData{TotalTokens: 200},
		}, nil
	}}
}

// TestSynthesisRunsFiveSteps tests the full sequential pipeline
func TestSynthesisRunsFiveSteps(t *testing.T) {
	store := newTestStore(t)
	index := &fakeIndex{hits: []ports.Hit{
		{Content: "every person deserves dignity and respect", DataType: "evidence_quote", Relevance: 0.9},
	}}
	gateway := synthesisGateway(`The corpus supports h1: "every person deserves dignity and respect" recurs.`)
	agent := NewSynthesisAgent(store, gateway, index, internal.DefaultLogger)

	out, err := agent.Run(context.Background(), testSynthesisInput(t))
	require.NoError(t, err)
	require.Len(t, out.Steps, 5)
	require.Len(t, out.StepHashes, 5)

	names := make([]string, len(out.Steps))
	for i, step := range out.Steps {
		names[i] = step.Name
		assert.Equal(t, i+1, step.Step)
	}
	assert.Equal(t, []string{
		"hypothesis_testing", "anomaly_investigation", "pattern_discovery",
		"framework_fit", "final_integration",
	}, names)

	// framework_fit reasons from statistics alone
	assert.Empty(t, out.Steps[3].Queries)
	// retrieval-backed steps record their queries and hits
	assert.NotEmpty(t, out.Steps[0].Queries)
	assert.NotEmpty(t, out.Steps[0].Retrievals)

	// final report links the whole chain
	assert.Equal(t, out.Steps[4].Output, out.FinalReport.Body)
	assert.Equal(t, out.StepHashes, out.FinalReport.SynthesisStepHashes)
	assert.False(t, out.FinalReportHash.IsEmpty())
}

// TestSynthesisStepArtifactsChainSequentially tests step parent links
func TestSynthesisStepArtifactsChainSequentially(t *testing.T) {
	store := newTestStore(t)
	index := &fakeIndex{}
	gateway := synthesisGateway("No substantial quoted passages here.")
	agent := NewSynthesisAgent(store, gateway, index, internal.DefaultLogger)

	out, err := agent.Run(context.Background(), testSynthesisInput(t))
	require.NoError(t, err)

	for i := 1; i < len(out.StepHashes); i++ {
		meta, err := store.GetMetadata(context.Background(), out.StepHashes[i])
		require.NoError(t, err)
		assert.Contains(t, meta.Parents, out.StepHashes[i-1],
			"step %d must name step %d as parent", i+1, i)
	}
}

// TestSynthesisRetriesOnceOnHallucination tests the drift retry policy
func TestSynthesisRetriesOnceOnHallucination(t *testing.T) {
	store := newTestStore(t)
	index := &fakeIndex{driftFor: func(quote string) ports.DriftLevel {
		if strings.Contains(quote, "fabricated") {
			return ports.DriftHallucination
		}
		return ports.DriftExact
	}}

	attempt := 0
	gateway := &fakeGateway{fn: func(req ports.CallRequest) (*ports.CallResponse, error) {
		if len(req.Tools) > 0 {
			return toolCallResponse(ToolGenerateQueries, []byte(`{"queries": ["q"]}`)), nil
		}
		attempt++
		if attempt == 1 {
			return &ports.CallResponse{Content: `It says "this quote is entirely fabricated by the model" verbatim.`}, nil
		}
		return &ports.CallResponse{Content: `It says "every person deserves dignity and respect" verbatim.`}, nil
	}}
	agent := NewSynthesisAgent(store, gateway, index, internal.DefaultLogger)

	out, err := agent.Run(context.Background(), testSynthesisInput(t))
	require.NoError(t, err)
	assert.True(t, out.Steps[0].Retried, "first step should record its retry")
}

// TestSynthesisFailsAfterSecondHallucination tests the hard failure
func TestSynthesisFailsAfterSecondHallucination(t *testing.T) {
	store := newTestStore(t)
	index := &fakeIndex{driftFor: func(string) ports.DriftLevel {
		return ports.DriftHallucination
	}}
	gateway := synthesisGateway(`Claim: "a quote the corpus never contained at all" stands.`)
	agent := NewSynthesisAgent(store, gateway, index, internal.DefaultLogger)

	_, err := agent.Run(context.Background(), testSynthesisInput(t))
	assert.ErrorIs(t, err, core.ErrHallucinationDetected)
}

// TestSynthesisSurvivesIndexFailure tests retrieval degradation
func TestSynthesisSurvivesIndexFailure(t *testing.T) {
	store := newTestStore(t)
	index := &fakeIndex{queryErr: core.ErrIndexNotFound}
	gateway := synthesisGateway("Analysis proceeds without retrieved evidence.")
	agent := NewSynthesisAgent(store, gateway, index, internal.DefaultLogger)

	out, err := agent.Run(context.Background(), testSynthesisInput(t))
	require.NoError(t, err)
	assert.Empty(t, out.Steps[0].Retrievals)
}

// TestEvidenceBudgetTruncates tests the token cap sentinel
func TestEvidenceBudgetTruncates(t *testing.T) {
	var records []artifacts.RetrievalRecord
	for i := 0; i < 100; i++ {
		records = append(records, artifacts.RetrievalRecord{
			Query:    "q",
			Content:  strings.Repeat("long evidence passage ", 100),
			DataType: "corpus_text",
		})
	}
	rendered := renderEvidence(records)
	assert.Contains(t, rendered, evidenceOmitted)
	assert.Less(t, len(rendered), evidenceTokenBudget*5)
}
