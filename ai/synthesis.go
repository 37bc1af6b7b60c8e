package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"discernus/adapters/cas"
	"discernus/adapters/llm"
	"discernus/domain/artifacts"
	"discernus/domain/core"
	"discernus/domain/experiment"
	"discernus/internal"
	"discernus/ports"
)

// Evidence budget for one synthesis step
const (
	maxQueriesPerStep   = 5
	hitsPerQuery        = 5
	evidenceTokenBudget = 6000
	evidenceOmitted     = "[additional evidence omitted]"
)

// synthesisStepDef names one of the five fixed stages
type synthesisStepDef struct {
	name         string
	template     string
	usesIndex    bool
	contentTypes []string
}

var synthesisSteps = []synthesisStepDef{
	{"hypothesis_testing", synthesisHypothesisTemplate, true, []string{"evidence_quote", "corpus_text"}},
	{"anomaly_investigation", synthesisAnomalyTemplate, true, []string{"statistical_finding", "evidence_quote"}},
	{"pattern_discovery", synthesisPatternTemplate, true, []string{"statistical_finding", "evidence_quote"}},
	{"framework_fit", synthesisFitTemplate, false, nil},
	{"final_integration", synthesisFinalTemplate, true, []string{"evidence_quote", "corpus_text", "statistical_finding"}},
}

// SynthesisInput carries everything the five steps read
type SynthesisInput struct {
	RunID          core.RunID
	Model          string
	Experiment     *experiment.Config
	ExperimentHash core.Hash
	Dimensions     []string
	Statistics     map[string]interface{}
	StatisticsHash core.Hash
	AnalysisHashes []core.Hash
	AttestHashes   []core.Hash
}

// SynthesisOutput is the terminal narrative plus the audit trail of steps
type SynthesisOutput struct {
	StepHashes      []core.Hash
	Steps           []*artifacts.SynthesisStep
	FinalReport     *artifacts.FinalReport
	FinalReportHash core.Hash
}

// SynthesisAgent runs the fixed five-step synthesis pipeline. Steps are
// strictly sequential; step k reads the sealed outputs of steps 1..k-1.
type SynthesisAgent struct {
	store   ports.ArtifactStore
	gateway ports.LLMGateway
	index   ports.KnowledgeIndex
	logger  *internal.Logger
}

// NewSynthesisAgent creates the agent
func NewSynthesisAgent(store ports.ArtifactStore, gateway ports.LLMGateway, index ports.KnowledgeIndex, logger *internal.Logger) *SynthesisAgent {
	return &SynthesisAgent{
		store:   store,
		gateway: gateway,
		index:   index,
		logger:  logger.Component("SynthesisAgent"),
	}
}

// Run executes all five steps and seals the final report
func (s *SynthesisAgent) Run(ctx context.Context, in SynthesisInput) (*SynthesisOutput, error) {
	out := &SynthesisOutput{}
	stepOutputs := make([]string, 0, len(synthesisSteps))

	for i, def := range synthesisSteps {
		step, err := s.runStep(ctx, in, i+1, def, stepOutputs)
		if err != nil {
			return nil, fmt.Errorf("synthesis step %d (%s): %w", i+1, def.name, err)
		}

		parents := []core.Hash{in.ExperimentHash, in.StatisticsHash}
		if len(out.StepHashes) > 0 {
			parents = append(parents, out.StepHashes[len(out.StepHashes)-1])
		}
		stepHash, err := cas.PutCanonical(ctx, s.store, artifacts.KindSynthesisStep, step, ports.Metadata{
			CreatedAt:     core.Now(),
			Producer:      "synthesis_agent",
			ProducerModel: in.Model,
			Parents:       artifacts.ParentsOf(parents...),
			Custom:        map[string]string{"step": def.name},
		})
		if err != nil {
			return nil, err
		}
		out.StepHashes = append(out.StepHashes, stepHash)
		out.Steps = append(out.Steps, step)
		stepOutputs = append(stepOutputs, step.Output)
		s.logger.Info("step %d/%d %s sealed as %s", i+1, len(synthesisSteps), def.name, stepHash.Short())
	}

	report := &artifacts.FinalReport{
		Title:               in.Experiment.Name,
		Body:                stepOutputs[len(stepOutputs)-1],
		ExperimentHash:      in.ExperimentHash,
		AnalysisHashes:      in.AnalysisHashes,
		AttestationHashes:   in.AttestHashes,
		StatisticsHash:      in.StatisticsHash,
		SynthesisStepHashes: out.StepHashes,
	}
	reportHash, err := cas.PutCanonical(ctx, s.store, artifacts.KindFinalReport, report, ports.Metadata{
		CreatedAt:     core.Now(),
		Producer:      "synthesis_agent",
		ProducerModel: in.Model,
		Parents:       artifacts.ParentsOf(append([]core.Hash{in.ExperimentHash, in.StatisticsHash}, out.StepHashes...)...),
	})
	if err != nil {
		return nil, err
	}
	out.FinalReport = report
	out.FinalReportHash = reportHash
	return out, nil
}

func (s *SynthesisAgent) runStep(ctx context.Context, in SynthesisInput, number int, def synthesisStepDef, prior []string) (*artifacts.SynthesisStep, error) {
	step := &artifacts.SynthesisStep{
		Step:  number,
		Name:  def.name,
		Model: in.Model,
	}

	evidence := "(no retrieval for this step)"
	if def.usesIndex {
		queries, err := s.generateQueries(ctx, in, def, prior)
		if err != nil {
			return nil, err
		}
		step.Queries = queries
		step.Retrievals = s.retrieve(ctx, queries, def.contentTypes)
		evidence = renderEvidence(step.Retrievals)
	}

	prompt, err := s.renderStepPrompt(in, def, prior, evidence)
	if err != nil {
		return nil, err
	}

	output, drift, retried, err := s.callWithDriftCheck(ctx, in.Model, prompt)
	if err != nil {
		return nil, err
	}
	step.Output = output
	step.QuoteDrift = drift
	step.Retried = retried
	return step, nil
}

// generateQueries asks the model for retrieval queries via the
// generate_queries tool. A failed generation degrades to a single literal
// query derived from the step task.
func (s *SynthesisAgent) generateQueries(ctx context.Context, in SynthesisInput, def synthesisStepDef, prior []string) ([]string, error) {
	task := stepTask(in, def)
	contextText := ""
	if len(prior) > 0 {
		contextText = truncateTokens(prior[len(prior)-1], 1000)
	}
	prompt, err := Render(queryGenPromptTemplate, map[string]string{
		"max_queries": fmt.Sprintf("%d", maxQueriesPerStep),
		"task":        task,
		"context":     contextText,
	})
	if err != nil {
		return nil, err
	}

	schema := QueriesToolSchema()
	resp, err := s.gateway.Call(ctx, ports.CallRequest{
		Model:        in.Model,
		SystemPrompt: queryGenSystemPrompt,
		Prompt:       prompt,
		Tools:        []ports.ToolSchema{schema},
	})
	if err != nil {
		s.logger.Warn("query generation failed for %s, using task as query: %v", def.name, err)
		return []string{task}, nil
	}
	call, ok := FindToolCall(resp, ToolGenerateQueries)
	if !ok {
		s.logger.Warn("no %s tool call for %s, using task as query", ToolGenerateQueries, def.name)
		return []string{task}, nil
	}
	var payload QueriesToolPayload
	if err := ValidateToolCall(schema, call, &payload); err != nil {
		s.logger.Warn("query payload invalid for %s, using task as query: %v", def.name, err)
		return []string{task}, nil
	}
	if len(payload.Queries) > maxQueriesPerStep {
		payload.Queries = payload.Queries[:maxQueriesPerStep]
	}
	return payload.Queries, nil
}

// retrieve runs every query against the index. Retrieval failures degrade to
// empty hits; synthesis proceeds on whatever evidence exists.
func (s *SynthesisAgent) retrieve(ctx context.Context, queries []string, contentTypes []string) []artifacts.RetrievalRecord {
	var records []artifacts.RetrievalRecord
	for _, query := range queries {
		hits, err := s.index.Query(ctx, ports.IndexQuery{
			Text:         query,
			ContentTypes: contentTypes,
			Limit:        hitsPerQuery,
		})
		if err != nil {
			s.logger.Warn("index query %q failed: %v", query, err)
			continue
		}
		for _, hit := range hits {
			records = append(records, artifacts.RetrievalRecord{
				Query:          query,
				Content:        hit.Content,
				DataType:       hit.DataType,
				SourceArtifact: hit.SourceArtifact,
				Relevance:      hit.Relevance,
			})
		}
	}
	return records
}

func (s *SynthesisAgent) renderStepPrompt(in SynthesisInput, def synthesisStepDef, prior []string, evidence string) (string, error) {
	bindings := map[string]string{"evidence": evidence}
	switch def.name {
	case "hypothesis_testing":
		bindings["hypotheses"] = renderHypotheses(in.Experiment.Hypotheses)
		bindings["questions"] = strings.Join(in.Experiment.Questions, "\n")
	case "anomaly_investigation":
		bindings["anomalies"] = statsSection(in.Statistics, "outliers")
	case "pattern_discovery":
		bindings["metric_summary"] = statsSection(in.Statistics, "derived_metrics")
	case "framework_fit":
		bindings["dimensions"] = strings.Join(in.Dimensions, ", ")
		bindings["statistics"] = truncateTokens(statsSection(in.Statistics, ""), evidenceTokenBudget)
		delete(bindings, "evidence")
	case "final_integration":
		bindings["questions"] = strings.Join(in.Experiment.Questions, "\n")
		for i, output := range prior {
			bindings[fmt.Sprintf("step_%d", i+1)] = truncateTokens(output, 2000)
		}
	}
	return Render(def.template, bindings)
}

// callWithDriftCheck makes the step call and validates every quoted passage
// in the output against the text index. One hallucination triggers a single
// retry with an injected correction; a second fails the experiment.
func (s *SynthesisAgent) callWithDriftCheck(ctx context.Context, model, prompt string) (string, []artifacts.QuoteDriftRecord, bool, error) {
	output, err := s.call(ctx, model, prompt)
	if err != nil {
		return "", nil, false, err
	}
	drift, hallucinated := s.validateQuotes(ctx, output)
	if !hallucinated {
		return output, drift, false, nil
	}

	s.logger.Warn("hallucinated quote detected, retrying step once with correction")
	correction := prompt + "\n\nCORRECTION: Your previous draft contained quotes that do not appear in the corpus. Remove or replace every quote you cannot reproduce verbatim from the evidence above."
	output, err = s.call(ctx, model, correction)
	if err != nil {
		return "", nil, true, err
	}
	drift, hallucinated = s.validateQuotes(ctx, output)
	if hallucinated {
		return "", drift, true, fmt.Errorf("%w after retry", core.ErrHallucinationDetected)
	}
	return output, drift, true, nil
}

func (s *SynthesisAgent) call(ctx context.Context, model, prompt string) (string, error) {
	resp, err := s.gateway.Call(ctx, ports.CallRequest{
		Model:        model,
		SystemPrompt: synthesisSystemPrompt,
		Prompt:       prompt,
	})
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.Content) == "" {
		return "", fmt.Errorf("%w: synthesis step from %s", core.ErrEmptyResponse, model)
	}
	return resp.Content, nil
}

var quotedRe = regexp.MustCompile(`"([^"]{20,400})"`)

// validateQuotes checks each substantial quoted passage against the index
func (s *SynthesisAgent) validateQuotes(ctx context.Context, output string) ([]artifacts.QuoteDriftRecord, bool) {
	var records []artifacts.QuoteDriftRecord
	hallucinated := false
	for _, match := range quotedRe.FindAllStringSubmatch(output, -1) {
		quote := match[1]
		validation, err := s.index.ValidateQuote(ctx, quote)
		if err != nil {
			s.logger.Warn("quote validation failed: %v", err)
			continue
		}
		records = append(records, artifacts.QuoteDriftRecord{
			Quote:      quote,
			DriftLevel: string(validation.Drift),
			Score:      validation.Score,
			BestMatch:  validation.BestMatch,
		})
		if validation.Drift == ports.DriftHallucination {
			hallucinated = true
		}
	}
	return records, hallucinated
}

func stepTask(in SynthesisInput, def synthesisStepDef) string {
	switch def.name {
	case "hypothesis_testing":
		return "evidence for and against: " + renderHypotheses(in.Experiment.Hypotheses)
	case "anomaly_investigation":
		return "documents and scores behind statistical outliers: " + statsSection(in.Statistics, "outliers")
	case "pattern_discovery":
		return "recurring derived metric patterns and their evidence"
	default:
		return "evidence supporting the final report for " + in.Experiment.Name
	}
}

func renderHypotheses(hs []experiment.Hypothesis) string {
	if len(hs) == 0 {
		return "(none declared)"
	}
	var b strings.Builder
	for _, h := range hs {
		fmt.Fprintf(&b, "- %s (%s): %s\n", h.Name, h.ID, h.Statement)
	}
	return b.String()
}

// statsSection pretty-prints one key of the statistics artifact, or the whole
// thing when key is empty.
func statsSection(stats map[string]interface{}, key string) string {
	v := interface{}(stats)
	if key != "" {
		found := findKey(stats, key)
		if found == nil {
			return "(not available)"
		}
		v = found
	}
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "(not available)"
	}
	return truncateTokens(string(raw), 2000)
}

func findKey(m map[string]interface{}, key string) interface{} {
	if v, ok := m[key]; ok {
		return v
	}
	for _, v := range m {
		if nested, ok := v.(map[string]interface{}); ok {
			if found := findKey(nested, key); found != nil {
				return found
			}
		}
	}
	return nil
}

// renderEvidence formats retrieval records under the evidence token budget
func renderEvidence(records []artifacts.RetrievalRecord) string {
	if len(records) == 0 {
		return "(no evidence retrieved)"
	}
	var b strings.Builder
	budget := evidenceTokenBudget
	for i, r := range records {
		entry := fmt.Sprintf("[%d] (%s, relevance %.2f) %s\n", i+1, r.DataType, r.Relevance, r.Content)
		cost := llm.EstimateTokens(entry)
		if cost > budget {
			b.WriteString(evidenceOmitted)
			break
		}
		b.WriteString(entry)
		budget -= cost
	}
	return b.String()
}

// truncateTokens cuts text to approximately maxTokens, appending the omission
// sentinel when anything was dropped.
func truncateTokens(text string, maxTokens int) string {
	if llm.EstimateTokens(text) <= maxTokens {
		return text
	}
	cut := maxTokens * 4
	if cut > len(text) {
		cut = len(text)
	}
	return text[:cut] + "\n" + evidenceOmitted
}
