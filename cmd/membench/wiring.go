package main

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/membench/benchmark"
	"github.com/BaSui01/membench/checkpoint"
	"github.com/BaSui01/membench/config"
	"github.com/BaSui01/membench/internal/telemetry"
	"github.com/BaSui01/membench/leaderboard"
	"github.com/BaSui01/membench/llm"
	"github.com/BaSui01/membench/pipeline"
	"github.com/BaSui01/membench/provider"
	"github.com/BaSui01/membench/provider/ensemble"
	"github.com/BaSui01/membench/provider/memstore"
	"github.com/BaSui01/membench/provider/redisstore"
	"github.com/BaSui01/membench/report"
)

// App holds the wired components one command invocation uses.
type App struct {
	Logger       *zap.Logger
	Store        *checkpoint.Store
	Orchestrator *pipeline.Orchestrator
	Generator    *report.Generator
	Coordinator  *report.Coordinator
	Board        *leaderboard.Store

	BenchmarkName string
	JudgeModel    string
	AnswerModel   string
}

// Close flushes buffered log output.
func (a *App) Close() {
	_ = a.Logger.Sync()
}

// buildApp loads config and wires the whole harness. ensemblePath is the
// ensemble config file; empty leaves the ensemble provider unregistered.
func buildApp(f *commonFlags, ensemblePath string) (*App, error) {
	cfg, err := config.NewLoader().WithConfigPath(f.configPath).Load()
	if err != nil {
		return nil, err
	}

	logger, err := telemetry.NewLogger(cfg.Log)
	if err != nil {
		return nil, err
	}
	metrics := telemetry.NewCollector("membench", nil, logger)

	store := checkpoint.NewStore(checkpoint.StoreConfig{Dir: cfg.StateDir}, logger)

	client := llm.NewOpenAICompatClient(llm.OpenAICompatConfig{
		ProviderName:      "openai-compat",
		APIKey:            cfg.LLM.APIKey,
		BaseURL:           cfg.LLM.BaseURL,
		DefaultModel:      cfg.LLM.AnswerModel,
		Timeout:           cfg.LLM.Timeout,
		RequestsPerSecond: cfg.LLM.RequestsPerSecond,
	}, logger)
	tokenizer := llm.NewTiktokenTokenizer(cfg.Pipeline.TokenizerModel, logger)

	registry, err := buildRegistry(cfg, ensemblePath, client, logger)
	if err != nil {
		return nil, err
	}

	benchPath := cfg.Benchmark.Path
	if f.benchmark != "" {
		benchPath = f.benchmark
	}
	benchmarks := make(map[string]benchmark.Benchmark)
	benchName := ""
	if benchPath != "" {
		benchName = strings.TrimSuffix(filepath.Base(benchPath), filepath.Ext(benchPath))
		benchmarks[benchName] = benchmark.NewJSONFileBenchmark(benchName, benchPath, logger)
	}

	orchestrator := pipeline.NewOrchestrator(pipeline.OrchestratorConfig{
		Store:       store,
		Registry:    registry,
		Benchmarks:  benchmarks,
		Client:      client,
		Tokenizer:   tokenizer,
		SearchLimit: cfg.Pipeline.SearchLimit,
		TokenBudget: cfg.Pipeline.TokenBudget,
		Metrics:     metrics,
		Now:         time.Now,
	}, logger)

	generator := report.NewGenerator(store, logger)
	board, err := leaderboard.Open(cfg.Leaderboard.Path, logger)
	if err != nil {
		return nil, err
	}

	judgeModel := cfg.LLM.JudgeModel
	if f.judgeModel != "" {
		judgeModel = f.judgeModel
	}
	answerModel := cfg.LLM.AnswerModel
	if f.answerModel != "" {
		answerModel = f.answerModel
	}

	return &App{
		Logger:        logger,
		Store:         store,
		Orchestrator:  orchestrator,
		Generator:     generator,
		Coordinator:   report.NewCoordinator(orchestrator, generator, logger),
		Board:         board,
		BenchmarkName: benchName,
		JudgeModel:    judgeModel,
		AnswerModel:   answerModel,
	}, nil
}

// buildRegistry registers the built-in providers. The ensemble config is
// threaded into its factory here; no global state is involved.
func buildRegistry(cfg *config.Config, ensemblePath string, client llm.Provider, logger *zap.Logger) (*provider.Registry, error) {
	registry := provider.NewRegistry()

	registry.Register(memstore.Name, func(*provider.Registry) (provider.Provider, error) {
		return memstore.New(logger), nil
	})
	registry.Register(redisstore.Name, func(*provider.Registry) (provider.Provider, error) {
		return redisstore.New(redisstore.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, logger)
	})

	if ensemblePath != "" {
		ensembleCfg, err := ensemble.LoadConfig(ensemblePath)
		if err != nil {
			return nil, fmt.Errorf("load ensemble config: %w", err)
		}
		registry.Register(ensemble.Name, func(reg *provider.Registry) (provider.Provider, error) {
			return ensemble.New(ensembleCfg, reg, client, logger)
		})
	}
	return registry, nil
}
