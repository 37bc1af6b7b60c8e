package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"discernus/adapters/cas"
	"discernus/adapters/llm"
	"discernus/domain/artifacts"
	"discernus/domain/core"
	"discernus/domain/corpus"
	"discernus/domain/framework"
	"discernus/internal"
	"discernus/ports"
)

// AnalysisInput names one cell of the (document x model) matrix
type AnalysisInput struct {
	Framework     *framework.Framework
	FrameworkHash core.FrameworkHash
	Document      *corpus.Document
	DocumentHash  core.Hash
	Model         string
}

// AnalysisOutput is the sealed result of one analysis cell
type AnalysisOutput struct {
	AnalysisHash core.Hash
	WorkHash     core.Hash
	Result       *artifacts.AnalysisResult
	CacheHit     bool
	CostUSD      float64
}

// AnalysisAgent scores one document at a time against a framework. Batch
// scoring of multiple documents in a single call is deliberately not
// supported; each document gets its own isolated call and its own failure
// domain.
type AnalysisAgent struct {
	store   ports.ArtifactStore
	gateway ports.LLMGateway
	parser  *llm.ResponseParser
	logger  *internal.Logger
}

// NewAnalysisAgent creates the agent
func NewAnalysisAgent(store ports.ArtifactStore, gateway ports.LLMGateway, logger *internal.Logger) *AnalysisAgent {
	return &AnalysisAgent{
		store:   store,
		gateway: gateway,
		parser:  llm.NewResponseParser(logger),
		logger:  logger.Component("AnalysisAgent"),
	}
}

// Analyze produces the analysis_result + work pair for one input cell. The
// batch id is consulted first: an identical (framework, document, model)
// triple that has already been scored is reused without an LLM call.
func (a *AnalysisAgent) Analyze(ctx context.Context, in AnalysisInput) (*AnalysisOutput, error) {
	batchID := core.NewBatchID(in.FrameworkHash, in.DocumentHash, in.Model)

	if cached, err := a.findCached(ctx, in.DocumentHash, batchID); err != nil {
		return nil, err
	} else if cached != nil {
		a.logger.Info("cache hit for %s x %s (batch %s)", in.Document.ID, in.Model, core.Hash(batchID).Short())
		return cached, nil
	}

	prompt, schema, err := a.buildCall(in)
	if err != nil {
		return nil, err
	}

	req := ports.CallRequest{
		Model:        in.Model,
		SystemPrompt: analysisSystemPrompt,
		Prompt:       prompt,
		Tools:        []ports.ToolSchema{schema},
	}
	resp, err := a.gateway.Call(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("analysis call for %s: %w", in.Document.ID, err)
	}

	payload, err := a.extractPayload(schema, resp, in.Framework.DimensionNames())
	if errors.Is(err, core.ErrParseFailure) {
		// One fresh call before the document fails; unreadable output is
		// usually transient.
		a.logger.Warn("unreadable analysis output for %s from %s, retrying once: %v",
			in.Document.ID, in.Model, err)
		resp, err = a.gateway.Call(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("analysis retry for %s: %w", in.Document.ID, err)
		}
		payload, err = a.extractPayload(schema, resp, in.Framework.DimensionNames())
	}
	if err != nil {
		return nil, fmt.Errorf("analysis of %s: %w", in.Document.ID, err)
	}

	return a.seal(ctx, in, batchID, payload, resp)
}

func (a *AnalysisAgent) buildCall(in AnalysisInput) (string, ports.ToolSchema, error) {
	schema, err := AnalysisToolSchema(in.Framework)
	if err != nil {
		return "", ports.ToolSchema{}, err
	}
	fwJSON, err := json.MarshalIndent(in.Framework, "", "  ")
	if err != nil {
		return "", ports.ToolSchema{}, err
	}
	prompt, err := Render(analysisPromptTemplate, map[string]string{
		"framework_name":    in.Framework.Name,
		"framework_version": in.Framework.Version,
		"framework":         string(fwJSON),
		"dimensions":        strings.Join(in.Framework.DimensionNames(), ", "),
		"document_id":       string(in.Document.ID),
		"document_b64":      EncodeDocument(in.Document.Text),
	})
	if err != nil {
		return "", ports.ToolSchema{}, err
	}
	return prompt, schema, nil
}

// extractPayload prefers the structured tool call and falls back to the prose
// parser cascade when the provider failed to produce one.
func (a *AnalysisAgent) extractPayload(schema ports.ToolSchema, resp *ports.CallResponse, dims []string) (*AnalysisToolPayload, error) {
	if call, ok := FindToolCall(resp, ToolRecordAnalysis); ok {
		var payload AnalysisToolPayload
		if err := ValidateToolCall(schema, call, &payload); err != nil {
			return nil, err
		}
		return &payload, nil
	}

	a.logger.Warn("no %s tool call from %s, trying prose recovery", ToolRecordAnalysis, resp.Model)
	scores, err := a.parser.Parse(resp.Content, dims)
	if err != nil {
		return nil, err
	}
	payload := &AnalysisToolPayload{
		DimensionScores: map[string]struct {
			RawScore   float64 `json:"raw_score"`
			Salience   float64 `json:"salience"`
			Confidence float64 `json:"confidence"`
		}{},
	}
	for name, value := range scores {
		payload.DimensionScores[name] = struct {
			RawScore   float64 `json:"raw_score"`
			Salience   float64 `json:"salience"`
			Confidence float64 `json:"confidence"`
		}{RawScore: value, Salience: value, Confidence: 0.5}
	}
	payload.Work.Code = "# no executable work recorded; scores recovered from prose output"
	payload.Work.ClaimedOutput = strings.TrimSpace(resp.Content)
	return payload, nil
}

func (a *AnalysisAgent) seal(ctx context.Context, in AnalysisInput, batchID core.BatchID, payload *AnalysisToolPayload, resp *ports.CallResponse) (*AnalysisOutput, error) {
	result := &artifacts.AnalysisResult{
		DocumentID:     in.Document.ID,
		DocumentHash:   in.DocumentHash,
		FrameworkHash:  in.FrameworkHash,
		Model:          in.Model,
		Scores:         map[string]artifacts.DimensionScore{},
		DerivedMetrics: payload.DerivedMetrics,
	}
	for name, triple := range payload.DimensionScores {
		result.Scores[name] = artifacts.DimensionScore{
			Raw:        triple.RawScore,
			Salience:   triple.Salience,
			Confidence: triple.Confidence,
		}
	}
	for _, ev := range payload.Evidence {
		result.Evidence = append(result.Evidence, artifacts.Evidence{
			Dimension: ev.Dimension,
			Quote:     ev.Quote,
			Source:    string(in.Document.ID),
			Offset:    ev.Offset,
		})
	}
	if err := artifacts.VerifyAgainstFramework(result, in.Framework.DimensionNames()); err != nil {
		return nil, err
	}

	// The work seals first so the analysis can name it as a parent: every
	// analysis_result carries exactly one work parent in its lineage.
	work := &artifacts.Work{
		DocumentID:    in.Document.ID,
		Model:         in.Model,
		Code:          payload.Work.Code,
		ClaimedOutput: payload.Work.ClaimedOutput,
	}
	workHash, err := cas.PutCanonical(ctx, a.store, artifacts.KindWork, work, ports.Metadata{
		CreatedAt:     core.Now(),
		Producer:      "analysis_agent",
		ProducerModel: in.Model,
		Parents:       []core.Hash{core.Hash(in.FrameworkHash), in.DocumentHash},
		Custom:        map[string]string{"batch_id": string(batchID)},
	})
	if err != nil {
		return nil, err
	}

	parents := []core.Hash{core.Hash(in.FrameworkHash), in.DocumentHash, workHash}
	analysisHash, err := cas.PutCanonical(ctx, a.store, artifacts.KindAnalysisResult, result, ports.Metadata{
		CreatedAt:     core.Now(),
		Producer:      "analysis_agent",
		ProducerModel: in.Model,
		Parents:       parents,
		Custom:        map[string]string{"batch_id": string(batchID)},
	})
	if err != nil {
		return nil, err
	}

	a.logger.Info("sealed analysis %s + work %s for %s x %s ($%.4f)",
		analysisHash.Short(), workHash.Short(), in.Document.ID, in.Model, resp.CostUSD)
	return &AnalysisOutput{
		AnalysisHash: analysisHash,
		WorkHash:     workHash,
		Result:       result,
		CostUSD:      resp.CostUSD,
	}, nil
}

// findCached looks for a prior analysis carrying the same batch id and, when
// found, reloads it together with its work side-car.
func (a *AnalysisAgent) findCached(ctx context.Context, docHash core.Hash, batchID core.BatchID) (*AnalysisOutput, error) {
	candidates, err := a.store.List(ctx, ports.ListFilter{
		Type:   artifacts.KindAnalysisResult,
		Parent: docHash,
	})
	if err != nil {
		return nil, err
	}
	for _, id := range candidates {
		meta, err := a.store.GetMetadata(ctx, id)
		if err != nil {
			return nil, err
		}
		if meta.Custom["batch_id"] != string(batchID) {
			continue
		}
		var result artifacts.AnalysisResult
		if _, err := cas.GetJSON(ctx, a.store, id, &result); err != nil {
			return nil, err
		}
		workHash, err := a.findWork(ctx, id)
		if err != nil {
			return nil, err
		}
		return &AnalysisOutput{
			AnalysisHash: id,
			WorkHash:     workHash,
			Result:       &result,
			CacheHit:     true,
		}, nil
	}
	return nil, nil
}

// findWork resolves the work parent from the analysis's own lineage
func (a *AnalysisAgent) findWork(ctx context.Context, analysisHash core.Hash) (core.Hash, error) {
	meta, err := a.store.GetMetadata(ctx, analysisHash)
	if err != nil {
		return "", err
	}
	for _, parent := range meta.Parents {
		parentMeta, err := a.store.GetMetadata(ctx, parent)
		if err != nil {
			return "", err
		}
		if parentMeta.ArtifactType == artifacts.KindWork {
			return parent, nil
		}
	}
	return "", core.NewNotFoundError("work parent for analysis", analysisHash.Short())
}
