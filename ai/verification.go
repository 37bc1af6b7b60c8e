package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"discernus/adapters/cas"
	"discernus/adapters/llm"
	"discernus/domain/artifacts"
	"discernus/domain/core"
	"discernus/internal"
	"discernus/ports"
)

// MetricTolerance is the allowed absolute gap between a claimed derived
// metric and the verifier's re-executed value.
const MetricTolerance = 0.05

// VerificationOutput is the sealed attestation for one analysis
type VerificationOutput struct {
	AttestationHash core.Hash
	Attestation     *artifacts.Attestation
	CostUSD         float64
}

// VerificationAgent re-audits a sealed analysis with a model from a
// different family than the one that produced it.
type VerificationAgent struct {
	store   ports.ArtifactStore
	gateway ports.LLMGateway
	logger  *internal.Logger
}

// NewVerificationAgent creates the agent
func NewVerificationAgent(store ports.ArtifactStore, gateway ports.LLMGateway, logger *internal.Logger) *VerificationAgent {
	return &VerificationAgent{
		store:   store,
		gateway: gateway,
		logger:  logger.Component("VerificationAgent"),
	}
}

// PickVerifierModel selects a verifier for analysisModel: an explicit mapping
// wins; otherwise the first candidate from a different provider family.
func PickVerifierModel(analysisModel string, mapping map[string]string, candidates []string) (string, error) {
	if v, ok := mapping[analysisModel]; ok {
		return v, nil
	}
	family := llm.ResolveProvider(analysisModel)
	for _, c := range candidates {
		if llm.ResolveProvider(c) != family {
			return c, nil
		}
	}
	return "", fmt.Errorf("no verifier model outside the %s family among %v", family, candidates)
}

// Verify loads the analysis and work artifacts, asks the verifier model to
// re-execute the claimed computation, and seals the attestation. A failed
// attestation or an out-of-tolerance re-execution returns
// ErrVerificationFailed; the caller is expected to abort the run.
func (v *VerificationAgent) Verify(ctx context.Context, analysisHash, workHash core.Hash, verifierModel string) (*VerificationOutput, error) {
	var analysis artifacts.AnalysisResult
	if _, err := cas.GetJSON(ctx, v.store, analysisHash, &analysis); err != nil {
		return nil, err
	}
	var work artifacts.Work
	if _, err := cas.GetJSON(ctx, v.store, workHash, &work); err != nil {
		return nil, err
	}
	if llm.ResolveProvider(verifierModel) == llm.ResolveProvider(analysis.Model) {
		return nil, fmt.Errorf("verifier %s shares a provider family with analyst %s", verifierModel, analysis.Model)
	}

	prompt, err := v.buildPrompt(&analysis, &work)
	if err != nil {
		return nil, err
	}
	schema := AttestationToolSchema()

	resp, err := v.gateway.Call(ctx, ports.CallRequest{
		Model:        verifierModel,
		SystemPrompt: verificationSystemPrompt,
		Prompt:       prompt,
		Tools:        []ports.ToolSchema{schema},
	})
	if err != nil {
		return nil, fmt.Errorf("verification call for %s: %w", analysisHash.Short(), err)
	}

	call, ok := FindToolCall(resp, ToolRecordAttestation)
	if !ok {
		return nil, fmt.Errorf("%w: verifier %s produced no %s call", core.ErrExtractionFailed, verifierModel, ToolRecordAttestation)
	}
	var payload AttestationToolPayload
	if err := ValidateToolCall(schema, call, &payload); err != nil {
		return nil, err
	}

	attestation := &artifacts.Attestation{
		TargetAnalysisHash: analysisHash,
		TargetWorkHash:     workHash,
		Success:            payload.Success,
		VerifierModel:      verifierModel,
		Reasoning:          payload.Reasoning,
		ReExecutionOutput:  payload.ReExecutionOutput,
	}

	attestationHash, err := cas.PutCanonical(ctx, v.store, artifacts.KindAttestation, attestation, ports.Metadata{
		CreatedAt:     core.Now(),
		Producer:      "verification_agent",
		ProducerModel: verifierModel,
		Parents:       []core.Hash{analysisHash, workHash},
	})
	if err != nil {
		return nil, err
	}
	out := &VerificationOutput{
		AttestationHash: attestationHash,
		Attestation:     attestation,
		CostUSD:         resp.CostUSD,
	}

	if !payload.Success {
		return out, core.NewVerificationError(analysisHash, payload.Reasoning)
	}
	if err := checkTolerance(analysis.DerivedMetrics, payload.ReExecutionOutput); err != nil {
		return out, core.NewVerificationError(analysisHash, err.Error())
	}

	v.logger.Info("attestation %s sealed for analysis %s by %s",
		attestationHash.Short(), analysisHash.Short(), verifierModel)
	return out, nil
}

func (v *VerificationAgent) buildPrompt(analysis *artifacts.AnalysisResult, work *artifacts.Work) (string, error) {
	scores, err := json.MarshalIndent(analysis.Scores, "", "  ")
	if err != nil {
		return "", err
	}
	metrics, err := json.MarshalIndent(analysis.DerivedMetrics, "", "  ")
	if err != nil {
		return "", err
	}
	return Render(verificationPromptTemplate, map[string]string{
		"scores":          string(scores),
		"derived_metrics": string(metrics),
		"code":            work.Code,
		"claimed_output":  work.ClaimedOutput,
	})
}

// checkTolerance compares each claimed derived metric with the verifier's
// re-executed value. The verifier's prose judgement is not trusted alone;
// the numbers must also agree.
func checkTolerance(claimed, reExecuted map[string]float64) error {
	if len(claimed) == 0 || len(reExecuted) == 0 {
		return nil
	}
	for name, want := range claimed {
		got, ok := reExecuted[name]
		if !ok {
			continue
		}
		if math.Abs(want-got) > MetricTolerance {
			return fmt.Errorf("derived metric %q: claimed %.4f, re-executed %.4f (tolerance %.2f)",
				name, want, got, MetricTolerance)
		}
	}
	return nil
}
