package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"discernus/adapters/cas"
	"discernus/adapters/index"
	"discernus/adapters/llm"
	"discernus/adapters/llm/providers"
	"discernus/adapters/registry/postgres"
	"discernus/app"
	"discernus/domain/artifacts"
	"discernus/domain/core"
	"discernus/internal"
	"discernus/internal/config"
	"discernus/internal/report"
	"discernus/internal/stats"
	"discernus/ports"
)

var useMock bool

func main() {
	rootCmd := &cobra.Command{
		Use:   "discernus",
		Short: "LLM research workbench: score a corpus against a framework with verified provenance",
	}
	rootCmd.PersistentFlags().BoolVar(&useMock, "mock", false,
		"use the deterministic mock provider instead of real LLM APIs")

	rootCmd.AddCommand(
		newRunCmd(),
		newVerifyCmd(),
		newStatsCmd(),
		newExportCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(app.ExitCode(err))
	}
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <experiment_path>",
		Short: "Execute the full analysis pipeline for an experiment",
		Long: `Run analysis, verification, statistics and synthesis for the experiment
at the given path (a directory containing experiment.yaml, or the file itself).

Exit codes: 0 success, 1 component failure, 2 pre-flight failure, 3 budget exceeded.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stack, err := buildStack(cmd.Context())
			if err != nil {
				return err
			}
			defer stack.close()

			result, err := stack.orchestrator.Run(cmd.Context(), args[0])
			if result != nil && result.Manifest != nil {
				fmt.Printf("run %s %s (manifest %s)\n",
					result.RunID, result.Manifest.Status, result.ManifestHash.Short())
				if result.ReportDir != "" {
					fmt.Printf("outputs: %s\n", result.ReportDir)
				}
			}
			return err
		},
	}
}

func newVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <experiment_path>",
		Short: "Run only the framework and data pre-flight checks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stack, err := buildStack(cmd.Context())
			if err != nil {
				return err
			}
			defer stack.close()

			if err := stack.orchestrator.VerifyOnly(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Println("pre-flight checks passed")
			return nil
		},
	}
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats <artifact_dir>",
		Short: "Recompute statistics over the analysis results in an artifact store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := internal.NewDefaultLogger()
			store, err := cas.New(args[0], logger)
			if err != nil {
				return err
			}
			results, err := loadAnalyses(cmd.Context(), store)
			if err != nil {
				return err
			}
			rpt, err := stats.NewProcessor(logger).Process(results)
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(rpt, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
}

func newExportCmd() *cobra.Command {
	var manifestHash string
	cmd := &cobra.Command{
		Use:   "export <artifact_dir> <output_dir>",
		Short: "Render the report and statistics workbook from a completed run",
		Long: `Render final_report.md, final_report.html and statistics.xlsx from the
artifacts of an already completed run, without re-running the pipeline.
Uses the most recent run manifest unless --manifest picks one.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := internal.NewDefaultLogger()
			store, err := cas.New(args[0], logger)
			if err != nil {
				return err
			}
			return exportRun(cmd.Context(), store, logger, core.Hash(manifestHash), args[1])
		},
	}
	cmd.Flags().StringVar(&manifestHash, "manifest", "", "run manifest hash to export")
	return cmd
}

// stack is the wired pipeline plus its cleanup
type stack struct {
	orchestrator *app.Orchestrator
	closers      []func() error
}

func (s *stack) close() {
	for _, c := range s.closers {
		_ = c()
	}
}

// buildStack assembles store, gateway, index and orchestrator from the
// environment configuration.
func buildStack(ctx context.Context) (*stack, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := internal.NewDefaultLogger()
	s := &stack{}

	var storeOpts []cas.Option
	if cfg.Registry.DSN != "" {
		db, err := sql.Open("postgres", cfg.Registry.DSN)
		if err != nil {
			return nil, fmt.Errorf("open registry mirror: %w", err)
		}
		s.closers = append(s.closers, db.Close)
		storeOpts = append(storeOpts, cas.WithRegistryMirror(postgres.NewWithDB(db)))
	}
	store, err := cas.New(cfg.Storage.Root, logger, storeOpts...)
	if err != nil {
		return nil, err
	}

	clients, err := buildProviders(ctx, cfg)
	if err != nil {
		return nil, err
	}

	budget := llm.NewBudgetLedger(cfg.Budget.DailyLimitUSD)
	gateway := llm.NewGateway(clients, budget, logger,
		llm.WithFallbacks(cfg.Providers.FallbackModels),
		llm.WithAuditSink(auditToStore(ctx, store, logger)),
	)

	var embedder ports.Embedder
	if cfg.Providers.GeminiKey != "" && !useMock {
		embedder, err = index.NewGeminiEmbedder(ctx, cfg.Providers.GeminiKey, cfg.Providers.EmbeddingModel)
		if err != nil {
			return nil, err
		}
	} else {
		embedder = index.NewHashingEmbedder(256)
	}
	idx, err := index.Open(cfg.Index.Path, embedder, logger)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, idx.Close)

	s.orchestrator = app.NewOrchestrator(app.Deps{
		Store:         store,
		Gateway:       gateway,
		Index:         idx,
		Logger:        logger,
		StoreWritable: store.Writable,
		BudgetUSD:     cfg.Budget.DailyLimitUSD,
		Workers:       cfg.Workers.MaxConcurrent,
	})
	return s, nil
}

// buildProviders instantiates one adapter per credentialed provider
func buildProviders(ctx context.Context, cfg *config.Config) ([]ports.ProviderClient, error) {
	if useMock {
		return []ports.ProviderClient{llm.NewMockProvider("mock")}, nil
	}

	var clients []ports.ProviderClient
	if cfg.Providers.OpenAIKey != "" {
		c, err := providers.NewOpenAI(cfg.Providers.OpenAIKey)
		if err != nil {
			return nil, err
		}
		clients = append(clients, c)
	}
	if cfg.Providers.AnthropicKey != "" {
		c, err := providers.NewAnthropic(cfg.Providers.AnthropicKey)
		if err != nil {
			return nil, err
		}
		clients = append(clients, c)
	}
	if cfg.Providers.GeminiKey != "" {
		c, err := providers.NewGemini(ctx, cfg.Providers.GeminiKey)
		if err != nil {
			return nil, err
		}
		clients = append(clients, c)
	}
	if cfg.Providers.VertexProject != "" {
		c, err := providers.NewVertexAI(ctx, cfg.Providers.VertexProject, cfg.Providers.VertexLocation)
		if err != nil {
			return nil, err
		}
		clients = append(clients, c)
	}
	if cfg.Providers.MistralKey != "" {
		c, err := providers.NewOpenAICompatible("mistral", cfg.Providers.MistralKey, "https://api.mistral.ai/v1")
		if err != nil {
			return nil, err
		}
		clients = append(clients, c)
	}
	if cfg.Providers.OllamaBaseURL != "" {
		c, err := providers.NewOpenAICompatible("ollama", "ollama", cfg.Providers.OllamaBaseURL+"/v1")
		if err != nil {
			return nil, err
		}
		clients = append(clients, c)
	}
	if len(clients) == 0 {
		return nil, fmt.Errorf("%w: no provider API key configured (set OPENAI_API_KEY, ANTHROPIC_API_KEY, GEMINI_API_KEY or use --mock)",
			core.ErrMissingCredentials)
	}
	return clients, nil
}

// auditToStore seals every gateway audit event into the artifact store
func auditToStore(ctx context.Context, store ports.ArtifactStore, logger *internal.Logger) llm.AuditSink {
	log := logger.Component("AuditSink")
	return func(event artifacts.AuditEvent) {
		if _, err := cas.PutCanonical(ctx, store, artifacts.KindAuditEvent, &event, ports.Metadata{
			CreatedAt: core.Now(),
			Producer:  "gateway",
		}); err != nil {
			log.Warn("drop audit event: %v", err)
		}
	}
}

func loadAnalyses(ctx context.Context, store ports.ArtifactStore) ([]artifacts.AnalysisResult, error) {
	ids, err := store.List(ctx, ports.ListFilter{Type: artifacts.KindAnalysisResult})
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: no analysis results in store", core.ErrArtifactNotFound)
	}
	results := make([]artifacts.AnalysisResult, 0, len(ids))
	for _, id := range ids {
		var r artifacts.AnalysisResult
		if _, err := cas.GetJSON(ctx, store, id, &r); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, nil
}

func exportRun(ctx context.Context, store ports.ArtifactStore, logger *internal.Logger, manifestHash core.Hash, outDir string) error {
	if manifestHash.IsEmpty() {
		var err error
		manifestHash, err = latestManifest(ctx, store)
		if err != nil {
			return err
		}
	}

	var manifest artifacts.RunManifest
	if _, err := cas.GetJSON(ctx, store, manifestHash, &manifest); err != nil {
		return err
	}
	if manifest.FinalReport.IsEmpty() {
		return fmt.Errorf("manifest %s has no final report (run status %s)", manifestHash.Short(), manifest.Status)
	}

	var final artifacts.FinalReport
	if _, err := cas.GetJSON(ctx, store, manifest.FinalReport, &final); err != nil {
		return err
	}
	var rpt stats.Report
	if _, err := cas.GetJSON(ctx, store, final.StatisticsHash, &rpt); err != nil {
		return err
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return err
	}
	writer := report.NewWriter(logger)
	if _, err := writer.WriteHTML(outDir, &final); err != nil {
		return err
	}
	if _, err := writer.WriteWorkbook(outDir, &rpt); err != nil {
		return err
	}
	fmt.Printf("exported run %s to %s\n", manifest.RunID, outDir)
	return nil
}

// latestManifest picks the most recently sealed run manifest
func latestManifest(ctx context.Context, store ports.ArtifactStore) (core.Hash, error) {
	entries, err := store.Registry(ctx)
	if err != nil {
		return "", err
	}
	var manifests []ports.RegistryEntry
	for _, e := range entries {
		if e.Type == artifacts.KindRunManifest {
			manifests = append(manifests, e)
		}
	}
	if len(manifests) == 0 {
		return "", fmt.Errorf("%w: no run manifests in store", core.ErrArtifactNotFound)
	}
	sort.Slice(manifests, func(i, j int) bool {
		return manifests[i].CreatedAt.Before(manifests[j].CreatedAt)
	})
	return manifests[len(manifests)-1].ID, nil
}
