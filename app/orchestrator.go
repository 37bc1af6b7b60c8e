package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"discernus/adapters/cas"
	"discernus/ai"
	"discernus/domain/artifacts"
	"discernus/domain/corpus"
	"discernus/domain/core"
	"discernus/domain/experiment"
	"discernus/domain/framework"
	"discernus/internal"
	"discernus/internal/report"
	"discernus/internal/stats"
	"discernus/ports"
)

// Token estimate constants for the pre-flight budget check
const (
	promptOverheadTokens     = 1500
	completionEstimateTokens = 2048
	verifyPromptTokens       = 1200
	verifyCompletionTokens   = 1024
)

// Deps carries everything the orchestrator coordinates
type Deps struct {
	Store   ports.ArtifactStore
	Gateway ports.LLMGateway
	Index   ports.KnowledgeIndex
	Logger  *internal.Logger
	// StoreWritable probes the artifact store for the data pre-flight; nil
	// skips the probe.
	StoreWritable func() error
	BudgetUSD     float64
	Workers       int
}

// Orchestrator is the only stateful coordinator of a run. Workers produce
// artifacts into the store; the orchestrator is the single writer of its own
// run state.
type Orchestrator struct {
	deps      Deps
	analysis  *ai.AnalysisAgent
	verify    *ai.VerificationAgent
	synthesis *ai.SynthesisAgent
	stats     *stats.Processor
	reports   *report.Writer
	preflight *Preflight
	logger    *internal.Logger
}

// NewOrchestrator wires the pipeline components
func NewOrchestrator(deps Deps) *Orchestrator {
	if deps.Workers < 1 {
		deps.Workers = 4
	}
	return &Orchestrator{
		deps:      deps,
		analysis:  ai.NewAnalysisAgent(deps.Store, deps.Gateway, deps.Logger),
		verify:    ai.NewVerificationAgent(deps.Store, deps.Gateway, deps.Logger),
		synthesis: ai.NewSynthesisAgent(deps.Store, deps.Gateway, deps.Index, deps.Logger),
		stats:     stats.NewProcessor(deps.Logger),
		reports:   report.NewWriter(deps.Logger),
		preflight: NewPreflight(deps.Logger),
		logger:    deps.Logger.Component("Orchestrator"),
	}
}

// RunResult is what the CLI reports after a run terminates
type RunResult struct {
	RunID        core.RunID
	Manifest     *artifacts.RunManifest
	ManifestHash core.Hash
	ReportDir    string
}

// pairRecord tracks one completed (document, model) cell in memory
type pairRecord struct {
	outcome artifacts.DocumentOutcome
	result  *artifacts.AnalysisResult
}

// Run executes the full nine-phase pipeline for the experiment at path
func (o *Orchestrator) Run(ctx context.Context, experimentPath string) (*RunResult, error) {
	runID := core.RunID(core.NewID())
	started := core.Now()
	o.logger.Info("run %s: loading experiment from %s", runID, experimentPath)

	// Phase 1: load and seal the experiment inputs.
	exp, err := o.loadExperiment(ctx, experimentPath)
	if err != nil {
		return nil, err
	}

	// Phase 2: framework and data pre-flight, before any spend.
	if err := o.runPreflight(exp); err != nil {
		return nil, err
	}

	// Phase 3: pre-flight cost estimate against the daily budget.
	if err := o.checkBudget(exp); err != nil {
		return nil, err
	}

	// Phase 4: the (document x model) matrix.
	records, matrixErr := o.runMatrix(ctx, exp)
	if matrixErr != nil {
		result, sealErr := o.sealAborted(ctx, runID, started, exp, records, matrixErr)
		if sealErr != nil {
			o.logger.Error("run %s: sealing aborted manifest failed: %v", runID, sealErr)
		}
		return result, matrixErr
	}
	completed := successfulRecords(records)
	if len(completed) == 0 {
		err := fmt.Errorf("%w: every document failed analysis", core.ErrRunAborted)
		result, _ := o.sealAborted(ctx, runID, started, exp, records, err)
		return result, err
	}

	// Phases 5-9 run downstream of the matrix; any failure aborts with a
	// sealed manifest so the partial run stays auditable.
	result, err := o.runDownstream(ctx, runID, started, exp, records, completed)
	if err != nil {
		aborted, sealErr := o.sealAborted(ctx, runID, started, exp, records, err)
		if sealErr != nil {
			o.logger.Error("run %s: sealing aborted manifest failed: %v", runID, sealErr)
		}
		if aborted != nil {
			result = aborted
		}
		return result, err
	}
	return result, nil
}

// VerifyOnly runs just the pre-flight phases for `discernus verify`
func (o *Orchestrator) VerifyOnly(ctx context.Context, experimentPath string) error {
	exp, err := o.loadExperiment(ctx, experimentPath)
	if err != nil {
		return err
	}
	return o.runPreflight(exp)
}

// loadedExperiment is the sealed input set of one run
type loadedExperiment struct {
	dir        string
	config     *experiment.Config
	framework  *framework.Framework
	fwHash     core.FrameworkHash
	manifest   *corpus.Manifest
	docs       []*corpus.Document
	corpusHash core.CorpusHash
	expHash    core.Hash
}

func (o *Orchestrator) loadExperiment(ctx context.Context, path string) (*loadedExperiment, error) {
	dir := path
	file := filepath.Join(path, "experiment.yaml")
	if info, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: experiment path %s", core.ErrNotFound, path)
	} else if !info.IsDir() {
		dir, file = filepath.Dir(path), path
	}

	raw, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read experiment config: %w", err)
	}
	cfg, err := experiment.Parse(raw)
	if err != nil {
		return nil, err
	}

	fwRaw, err := os.ReadFile(filepath.Join(dir, cfg.FrameworkRef))
	if err != nil {
		return nil, fmt.Errorf("%w: framework %s", core.ErrFrameworkNotFound, cfg.FrameworkRef)
	}
	fw, err := framework.Parse(fwRaw)
	if err != nil {
		return nil, err
	}
	fwHash, err := fw.Hash()
	if err != nil {
		return nil, err
	}

	manifestPath := filepath.Join(dir, cfg.CorpusRef)
	manifestRaw, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("%w: corpus manifest %s", core.ErrNotFound, cfg.CorpusRef)
	}
	manifest, err := corpus.ParseManifest(manifestRaw)
	if err != nil {
		return nil, err
	}
	docs, err := manifest.LoadAll(filepath.Dir(manifestPath))
	if err != nil {
		return nil, err
	}
	corpusHash, err := manifest.Hash(docs)
	if err != nil {
		return nil, err
	}

	// Seal the inputs: documents as raw blobs, framework and config in
	// canonical form. The experiment hash is the root of the provenance graph.
	docHashes := make([]core.Hash, len(docs))
	for i, doc := range docs {
		h, err := o.deps.Store.Put(ctx, []byte(doc.Text), ports.Metadata{
			ArtifactType: artifacts.KindCorpusDocument,
			CreatedAt:    core.Now(),
			Producer:     "orchestrator",
			Custom:       map[string]string{"document_id": string(doc.ID), "filename": doc.Filename},
		})
		if err != nil {
			return nil, err
		}
		docHashes[i] = h
	}

	sealedFw, err := cas.PutCanonical(ctx, o.deps.Store, artifacts.KindFrameworkSpec, fw, ports.Metadata{
		CreatedAt: core.Now(),
		Producer:  "orchestrator",
	})
	if err != nil {
		return nil, err
	}

	sealed := &experiment.Sealed{
		Config:         *cfg,
		FrameworkHash:  fwHash,
		CorpusHash:     corpusHash,
		DocumentHashes: docHashes,
	}
	expHash, err := cas.PutCanonical(ctx, o.deps.Store, artifacts.KindExperimentConfig, sealed, ports.Metadata{
		CreatedAt: core.Now(),
		Producer:  "orchestrator",
		Parents:   artifacts.ParentsOf(append([]core.Hash{sealedFw}, docHashes...)...),
	})
	if err != nil {
		return nil, err
	}

	o.logger.Info("sealed experiment %q: framework %s, corpus %s (%d documents), config %s",
		cfg.Name, core.Hash(fwHash).Short(), core.Hash(corpusHash).Short(), len(docs), expHash.Short())
	return &loadedExperiment{
		dir:        dir,
		config:     cfg,
		framework:  fw,
		fwHash:     fwHash,
		manifest:   manifest,
		docs:       docs,
		corpusHash: corpusHash,
		expHash:    expHash,
	}, nil
}

func (o *Orchestrator) runPreflight(exp *loadedExperiment) error {
	fwCheck := o.preflight.CheckFramework(exp.framework, exp.config)
	var writable error
	if o.deps.StoreWritable != nil {
		writable = o.deps.StoreWritable()
	}
	dataCheck := o.preflight.CheckData(exp.manifest, exp.docs, writable)

	for _, w := range dataCheck.Warnings {
		o.logger.Warn("pre-flight: %s", w)
	}
	if fwCheck.Valid && dataCheck.Valid {
		o.logger.Info("pre-flight passed: framework and data checks clean")
		return nil
	}

	for _, g := range append(fwCheck.Guidance, dataCheck.Guidance...) {
		o.logger.Error("remediation: %s", g)
	}
	summary := strings.TrimPrefix(fwCheck.Summary()+"; "+dataCheck.Summary(), "; ")
	return fmt.Errorf("%w: %s", core.ErrTransactionIntegrity, strings.TrimSuffix(summary, "; "))
}

func (o *Orchestrator) checkBudget(exp *loadedExperiment) error {
	var estimate float64
	for _, doc := range exp.docs {
		docTokens := len(doc.Text)/4 + promptOverheadTokens
		for _, model := range exp.config.SelectedModels {
			estimate += o.deps.Gateway.EstimateCost(model, docTokens, completionEstimateTokens)
			estimate += o.deps.Gateway.EstimateCost(model, verifyPromptTokens, verifyCompletionTokens)
		}
	}
	spent := o.deps.Gateway.SpentUSD()
	if spent+estimate > o.deps.BudgetUSD {
		return core.NewBudgetError(spent, estimate, o.deps.BudgetUSD)
	}
	o.logger.Info("pre-flight cost estimate $%.4f within budget $%.2f", estimate, o.deps.BudgetUSD)
	return nil
}

// runMatrix fans the (document x model) matrix out over bounded workers.
// Within one pair, verification runs strictly after analysis. An analysis
// failure isolates to its pair; a verification failure cancels the group.
func (o *Orchestrator) runMatrix(ctx context.Context, exp *loadedExperiment) ([]pairRecord, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.deps.Workers)

	var mu sync.Mutex
	var records []pairRecord

	for _, doc := range exp.docs {
		for _, model := range exp.config.SelectedModels {
			doc, model := doc, model
			g.Go(func() error {
				rec, fatal := o.runPair(gctx, exp, doc, model)
				mu.Lock()
				records = append(records, rec)
				mu.Unlock()
				return fatal
			})
		}
	}

	err := g.Wait()

	// Stable order for the manifest regardless of completion order.
	sort.Slice(records, func(i, j int) bool {
		if records[i].outcome.DocumentID != records[j].outcome.DocumentID {
			return records[i].outcome.DocumentID < records[j].outcome.DocumentID
		}
		return records[i].outcome.Model < records[j].outcome.Model
	})
	return records, err
}

// runPair runs analyse-then-verify for one cell. The second return is non-nil
// only for failures that must abort the whole run.
func (o *Orchestrator) runPair(ctx context.Context, exp *loadedExperiment, doc *corpus.Document, model string) (pairRecord, error) {
	outcome := artifacts.DocumentOutcome{DocumentID: doc.ID, Model: model}

	if ctx.Err() != nil {
		outcome.Status = "cancelled"
		return pairRecord{outcome: outcome}, nil
	}

	analysis, err := o.analysis.Analyze(ctx, ai.AnalysisInput{
		Framework:     exp.framework,
		FrameworkHash: exp.fwHash,
		Document:      doc,
		DocumentHash:  doc.Hash,
		Model:         model,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			outcome.Status = "cancelled"
			return pairRecord{outcome: outcome}, nil
		}
		outcome.Status = "failed"
		outcome.Error = err.Error()
		if core.IsFatal(err) {
			return pairRecord{outcome: outcome}, err
		}
		// Per-document failures isolate; the rest of the matrix continues.
		o.logger.Warn("analysis failed for %s with %s: %v", doc.ID, model, err)
		return pairRecord{outcome: outcome}, nil
	}
	outcome.Analysis = analysis.AnalysisHash
	outcome.Work = analysis.WorkHash
	outcome.CacheHit = analysis.CacheHit

	verifier, err := ai.PickVerifierModel(model, exp.config.VerificationModels, verifierCandidates(exp.config))
	if err != nil {
		outcome.Status = "failed"
		outcome.Error = err.Error()
		return pairRecord{outcome: outcome}, fmt.Errorf("%w: %v", core.ErrVerificationFailed, err)
	}
	verification, err := o.verify.Verify(ctx, analysis.AnalysisHash, analysis.WorkHash, verifier)
	if verification != nil {
		outcome.Attest = verification.AttestationHash
	}
	if err != nil {
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			outcome.Status = "cancelled"
			return pairRecord{outcome: outcome, result: analysis.Result}, nil
		}
		// Fail-fast: a failed verification aborts the entire run.
		outcome.Status = "failed"
		outcome.Error = err.Error()
		return pairRecord{outcome: outcome, result: analysis.Result}, err
	}

	outcome.Status = "completed"
	return pairRecord{outcome: outcome, result: analysis.Result}, nil
}

// verifierCandidates pools the selected models with any explicitly configured
// verifiers.
func verifierCandidates(cfg *experiment.Config) []string {
	seen := map[string]bool{}
	var candidates []string
	add := func(m string) {
		if m != "" && !seen[m] {
			seen[m] = true
			candidates = append(candidates, m)
		}
	}
	for _, m := range cfg.SelectedModels {
		add(m)
	}
	for _, m := range cfg.VerificationModels {
		add(m)
	}
	return candidates
}

func successfulRecords(records []pairRecord) []pairRecord {
	var out []pairRecord
	for _, r := range records {
		if r.outcome.Status == "completed" && r.result != nil {
			out = append(out, r)
		}
	}
	return out
}

// runDownstream executes phases 5-9: index, statistics, quality gate,
// synthesis, report and manifest.
func (o *Orchestrator) runDownstream(ctx context.Context, runID core.RunID, started core.Timestamp, exp *loadedExperiment, records, completed []pairRecord) (*RunResult, error) {
	results := make([]artifacts.AnalysisResult, len(completed))
	analysisHashes := make([]core.Hash, len(completed))
	attestHashes := make([]core.Hash, len(completed))
	for i, rec := range completed {
		results[i] = *rec.result
		analysisHashes[i] = rec.outcome.Analysis
		attestHashes[i] = rec.outcome.Attest
	}

	// Phase 5: knowledge index over corpus text and evidence quotes.
	items := o.corpusItems(exp)
	items = append(items, evidenceItems(completed)...)
	if _, err := o.deps.Index.Build(ctx, runID, items); err != nil {
		return nil, fmt.Errorf("build knowledge index: %w", err)
	}

	// Phase 6: statistics over every sealed analysis result.
	statsReport, err := o.stats.Process(results)
	if err != nil {
		return nil, err
	}
	statsHash, err := cas.PutCanonical(ctx, o.deps.Store, artifacts.KindStatistics, statsReport, ports.Metadata{
		CreatedAt: core.Now(),
		Producer:  "stats_processor",
		Parents:   artifacts.ParentsOf(analysisHashes...),
	})
	if err != nil {
		return nil, err
	}

	// Statistical findings become index items too, so synthesis can retrieve
	// them alongside quotes and corpus text.
	items = append(items, statisticalFindingItems(statsHash, statsReport)...)
	if _, err := o.deps.Index.Build(ctx, runID, items); err != nil {
		o.logger.Warn("index refresh with statistical findings failed: %v", err)
	}

	// Phase 7: post-analysis quality gate.
	quality := o.preflight.CheckQuality(results, statsReport, exp.config.EffectiveThresholds())
	if !quality.Valid {
		for _, g := range quality.Guidance {
			o.logger.Error("remediation: %s", g)
		}
		return nil, fmt.Errorf("%w: quality gate: %s", core.ErrTransactionIntegrity, quality.Summary())
	}

	// Phase 8: sequential synthesis.
	statsMap, err := reportAsMap(statsReport)
	if err != nil {
		return nil, err
	}
	synth, err := o.synthesis.Run(ctx, ai.SynthesisInput{
		RunID:          runID,
		Model:          exp.config.SelectedModels[0],
		Experiment:     exp.config,
		ExperimentHash: exp.expHash,
		Dimensions:     exp.framework.DimensionNames(),
		Statistics:     statsMap,
		StatisticsHash: statsHash,
		AnalysisHashes: analysisHashes,
		AttestHashes:   attestHashes,
	})
	if err != nil {
		return nil, err
	}

	// Phase 9: rendered outputs and the sealed manifest.
	reportDir := filepath.Join(exp.dir, "runs", runID.String())
	if err := os.MkdirAll(reportDir, 0o755); err != nil {
		return nil, fmt.Errorf("create run directory: %w", err)
	}
	if _, err := o.reports.WriteHTML(reportDir, synth.FinalReport); err != nil {
		return nil, err
	}
	if _, err := o.reports.WriteWorkbook(reportDir, statsReport); err != nil {
		return nil, err
	}

	manifest := o.buildManifest(ctx, runID, started, exp, records, statsHash, synth)
	manifest.Status = artifacts.RunCompleted
	manifest.FinalReport = synth.FinalReportHash
	manifestHash, err := o.sealManifest(ctx, reportDir, manifest)
	if err != nil {
		return nil, err
	}

	o.logger.Info("run %s completed: report %s, manifest %s", runID, synth.FinalReportHash.Short(), manifestHash.Short())
	return &RunResult{
		RunID:        runID,
		Manifest:     manifest,
		ManifestHash: manifestHash,
		ReportDir:    reportDir,
	}, nil
}

// sealAborted writes the truncated manifest after a mid-run failure or
// cancellation. Blobs are never deleted; downstream consumers filter on the
// manifest status.
func (o *Orchestrator) sealAborted(ctx context.Context, runID core.RunID, started core.Timestamp, exp *loadedExperiment, records []pairRecord, cause error) (*RunResult, error) {
	// Sealing must survive the cancellation that caused the abort.
	if ctx.Err() != nil {
		ctx = context.WithoutCancel(ctx)
	}

	manifest := o.buildManifest(ctx, runID, started, exp, records, "", nil)
	if errors.Is(cause, context.Canceled) {
		manifest.Status = artifacts.RunCancelled
	} else {
		manifest.Status = artifacts.RunAborted
	}
	manifest.AbortReason = cause.Error()

	manifestHash, err := o.sealManifest(ctx, "", manifest)
	if err != nil {
		return nil, err
	}
	o.logger.Error("run %s %s: %v (manifest %s)", runID, manifest.Status, cause, manifestHash.Short())
	return &RunResult{RunID: runID, Manifest: manifest, ManifestHash: manifestHash}, nil
}

// buildManifest maps every artifact this run produced back to its parents
func (o *Orchestrator) buildManifest(ctx context.Context, runID core.RunID, started core.Timestamp, exp *loadedExperiment, records []pairRecord, statsHash core.Hash, synth *ai.SynthesisOutput) *artifacts.RunManifest {
	manifest := &artifacts.RunManifest{
		RunID:          runID,
		ExperimentHash: exp.expHash,
		StartedAt:      started,
	}

	var hashes []core.Hash
	hashes = append(hashes, exp.expHash)
	for _, rec := range records {
		manifest.Outcomes = append(manifest.Outcomes, rec.outcome)
		hashes = append(hashes, rec.outcome.Analysis, rec.outcome.Work, rec.outcome.Attest)
	}
	hashes = append(hashes, statsHash)
	if synth != nil {
		hashes = append(hashes, synth.StepHashes...)
		hashes = append(hashes, synth.FinalReportHash)
	}

	for _, h := range hashes {
		if h.IsEmpty() {
			continue
		}
		entry := artifacts.ManifestEntry{Hash: h}
		if meta, err := o.deps.Store.GetMetadata(ctx, h); err == nil {
			entry.Kind = meta.ArtifactType
			entry.Parents = meta.Parents
		}
		manifest.Artifacts = append(manifest.Artifacts, entry)
	}
	manifest.FinishedAt = core.Now()
	return manifest
}

func (o *Orchestrator) sealManifest(ctx context.Context, reportDir string, manifest *artifacts.RunManifest) (core.Hash, error) {
	hash, err := cas.PutCanonical(ctx, o.deps.Store, artifacts.KindRunManifest, manifest, ports.Metadata{
		CreatedAt: core.Now(),
		Producer:  "orchestrator",
		Parents:   artifacts.ParentsOf(manifest.ExperimentHash),
	})
	if err != nil {
		return "", fmt.Errorf("seal run manifest: %w", err)
	}
	if reportDir != "" {
		raw, err := json.MarshalIndent(manifest, "", "  ")
		if err != nil {
			return "", err
		}
		if err := os.WriteFile(filepath.Join(reportDir, "manifest.json"), raw, 0o644); err != nil {
			return "", err
		}
	}
	return hash, nil
}

// corpusItems chunks each document into paragraph-sized index items
func (o *Orchestrator) corpusItems(exp *loadedExperiment) []ports.IndexItem {
	var items []ports.IndexItem
	for _, doc := range exp.docs {
		offset := 0
		for _, para := range strings.Split(doc.Text, "\n\n") {
			trimmed := strings.TrimSpace(para)
			if trimmed != "" {
				items = append(items, ports.IndexItem{
					Content:        trimmed,
					ContentType:    "corpus_text",
					SourceArtifact: doc.Hash,
					Speaker:        doc.Metadata["speaker"],
					DocumentID:     doc.ID,
					Offset:         offset,
				})
			}
			offset += len(para) + 2
		}
	}
	return items
}

// evidenceItems indexes every cited quote from the sealed analyses
func evidenceItems(completed []pairRecord) []ports.IndexItem {
	var items []ports.IndexItem
	for _, rec := range completed {
		for _, ev := range rec.result.Evidence {
			items = append(items, ports.IndexItem{
				Content:        ev.Quote,
				ContentType:    "evidence_quote",
				SourceArtifact: rec.outcome.Analysis,
				DocumentID:     rec.result.DocumentID,
				Offset:         ev.Offset,
			})
		}
	}
	return items
}

// statisticalFindingItems renders the headline statistics as retrievable
// sentences.
func statisticalFindingItems(statsHash core.Hash, rpt *stats.Report) []ports.IndexItem {
	var items []ports.IndexItem
	add := func(text string) {
		items = append(items, ports.IndexItem{
			Content:        text,
			ContentType:    "statistical_finding",
			SourceArtifact: statsHash,
		})
	}

	for _, metric := range rpt.DocumentLevel.Metrics {
		if d, ok := rpt.DocumentLevel.Descriptives[metric].(*stats.Descriptives); ok {
			add(fmt.Sprintf("metric %s: mean %.3f, std %.3f, range [%.3f, %.3f] over %d documents",
				metric, d.Mean, d.StdDev, d.Min, d.Max, d.N))
		}
		if out, ok := rpt.DocumentLevel.Outliers[metric].(*stats.OutlierCounts); ok && out.IQR > 0 {
			add(fmt.Sprintf("metric %s has %d outlier document(s) by the IQR rule", metric, out.IQR))
		}
		if es, ok := rpt.DocumentLevel.EffectSizes[metric].(*stats.EffectSize); ok {
			add(fmt.Sprintf("metric %s shows a %s effect (Hedges g %.2f) against the scale midpoint",
				metric, es.Interpretation, es.HedgesG))
		}
	}
	if corr, ok := rpt.DocumentLevel.Correlations.(*stats.CorrelationMatrix); ok {
		for i := range corr.Variables {
			for j := i + 1; j < len(corr.Variables); j++ {
				if r := corr.Matrix[i][j]; r >= 0.5 || r <= -0.5 {
					add(fmt.Sprintf("metrics %s and %s correlate at r=%.2f",
						corr.Variables[i], corr.Variables[j], r))
				}
			}
		}
	}
	return items
}

func reportAsMap(rpt *stats.Report) (map[string]interface{}, error) {
	raw, err := json.Marshal(rpt)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// ExitCode maps a run error to the CLI exit code contract: 0 success, 2
// pre-flight failure, 3 budget exceeded, 1 anything else.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, core.ErrTransactionIntegrity):
		return 2
	case errors.Is(err, core.ErrBudgetExceeded):
		return 3
	default:
		return 1
	}
}
