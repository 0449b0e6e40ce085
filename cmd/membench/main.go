// membench runs memory-provider benchmarks.
//
// Usage:
//
//	membench run --provider memstore --benchmark dataset.json    # one run
//	membench resume --run <id>                                   # pick up a stopped or failed run
//	membench rejudge --run <id> --judge-model gpt-4o             # rerun answer grading with another judge
//	membench compare --providers memstore,redis,ensemble         # parallel multi-provider comparison
//	membench report --run <id>                                   # fold a finished run into a summary
//	membench leaderboard                                         # print accumulated results
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/BaSui01/membench/checkpoint"
	"github.com/BaSui01/membench/pipeline"
	"github.com/BaSui01/membench/report"
	"github.com/BaSui01/membench/types"
)

const version = "0.3.0"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "run":
		err = cmdRun(os.Args[2:])
	case "resume":
		err = cmdResume(os.Args[2:])
	case "rejudge":
		err = cmdRejudge(os.Args[2:])
	case "compare":
		err = cmdCompare(os.Args[2:])
	case "report":
		err = cmdReport(os.Args[2:])
	case "leaderboard":
		err = cmdLeaderboard(os.Args[2:])
	case "version":
		fmt.Println("membench", version)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		if types.IsStopped(err) {
			os.Exit(130)
		}
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `membench - memory provider benchmark harness

Commands:
  run          execute the full pipeline for one provider
  resume       continue a stopped or failed run
  rejudge      clone a run and rerun grading with a different judge
  compare      run several providers in parallel and compare them
  report       print the summary of a finished run
  leaderboard  print accumulated results
  version      print the version`)
}

// signalContext cancels on SIGINT/SIGTERM so in-flight questions finish and
// the run checkpoint stays resumable.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// commonFlags are shared by the commands that execute runs.
type commonFlags struct {
	configPath  string
	benchmark   string
	judgeModel  string
	answerModel string

	limit       int
	perCategory int
	random      bool
	seed        int64

	concurrency int
	perPhase    string
}

func registerCommon(fs *flag.FlagSet, f *commonFlags) {
	fs.StringVar(&f.configPath, "config", "membench.yaml", "config file path")
	fs.StringVar(&f.benchmark, "benchmark", "", "benchmark dataset file (overrides config)")
	fs.StringVar(&f.judgeModel, "judge-model", "", "judge model (overrides config)")
	fs.StringVar(&f.answerModel, "answer-model", "", "answering model (overrides config)")
	fs.IntVar(&f.limit, "limit", 0, "run only the first N questions")
	fs.IntVar(&f.perCategory, "sample", 0, "run N questions per question type")
	fs.BoolVar(&f.random, "random", false, "sample randomly instead of consecutively")
	fs.Int64Var(&f.seed, "seed", 0, "seed for random sampling")
	fs.IntVar(&f.concurrency, "concurrency", 0, "default workers per phase")
	fs.StringVar(&f.perPhase, "phase-concurrency", "", "per-phase workers, e.g. ingest=2,search=8")
}

func (f *commonFlags) sampling() checkpoint.SamplingConfig {
	switch {
	case f.perCategory > 0:
		return checkpoint.SamplingConfig{
			Mode:        pipeline.SamplingSample,
			PerCategory: f.perCategory,
			Random:      f.random,
			Seed:        f.seed,
		}
	case f.limit > 0:
		return checkpoint.SamplingConfig{Mode: pipeline.SamplingLimit, Limit: f.limit}
	default:
		return checkpoint.SamplingConfig{Mode: pipeline.SamplingAll}
	}
}

func (f *commonFlags) concurrencyOverrides() (checkpoint.ConcurrencyOverrides, error) {
	out := checkpoint.ConcurrencyOverrides{Default: f.concurrency}
	if f.perPhase == "" {
		return out, nil
	}
	out.PerPhase = make(map[checkpoint.Phase]int)
	for _, pair := range strings.Split(f.perPhase, ",") {
		name, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			return out, fmt.Errorf("malformed phase-concurrency entry %q", pair)
		}
		phase := checkpoint.Phase(name)
		if checkpoint.Index(phase) < 0 {
			return out, fmt.Errorf("unknown phase %q", name)
		}
		var n int
		if _, err := fmt.Sscanf(value, "%d", &n); err != nil || n < 1 {
			return out, fmt.Errorf("invalid worker count %q for phase %s", value, name)
		}
		out.PerPhase[phase] = n
	}
	return out, nil
}

func cmdRun(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	var f commonFlags
	registerCommon(fs, &f)
	providerName := fs.String("provider", "memstore", "memory provider to benchmark")
	ensemblePath := fs.String("ensemble-config", "", "ensemble config file (required for --provider ensemble)")
	runID := fs.String("run", "", "run id (generated when empty)")
	force := fs.Bool("force", false, "discard any existing checkpoint under the run id")
	if err := fs.Parse(args); err != nil {
		return err
	}

	app, err := buildApp(&f, *ensemblePath)
	if err != nil {
		return err
	}
	defer app.Close()

	concurrency, err := f.concurrencyOverrides()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	cp, err := app.Orchestrator.Run(ctx, pipeline.RunRequest{
		RunID:          *runID,
		Provider:       *providerName,
		Benchmark:      app.BenchmarkName,
		JudgeModel:     app.JudgeModel,
		AnsweringModel: app.AnswerModel,
		Sampling:       f.sampling(),
		Concurrency:    concurrency,
		Force:          *force,
	})
	if err != nil {
		return err
	}
	return printAndRecordSummary(app, cp.RunID)
}

func cmdResume(args []string) error {
	fs := flag.NewFlagSet("resume", flag.ExitOnError)
	var f commonFlags
	registerCommon(fs, &f)
	runID := fs.String("run", "", "run id to resume")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID == "" {
		return fmt.Errorf("--run is required")
	}

	app, err := buildApp(&f, "")
	if err != nil {
		return err
	}
	defer app.Close()

	cp, err := app.Store.Load(*runID)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	cp, err = app.Orchestrator.Run(ctx, pipeline.RunRequest{
		RunID:          cp.RunID,
		Provider:       cp.Provider,
		Benchmark:      cp.Benchmark,
		JudgeModel:     cp.Judge,
		AnsweringModel: cp.AnsweringModel,
	})
	if err != nil {
		return err
	}
	return printAndRecordSummary(app, cp.RunID)
}

func cmdRejudge(args []string) error {
	fs := flag.NewFlagSet("rejudge", flag.ExitOnError)
	var f commonFlags
	registerCommon(fs, &f)
	sourceRun := fs.String("run", "", "source run id")
	newRun := fs.String("new-run", "", "derived run id (generated when empty)")
	fromPhase := fs.String("from-phase", string(checkpoint.PhaseAnswer), "first phase to redo")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *sourceRun == "" {
		return fmt.Errorf("--run is required")
	}

	app, err := buildApp(&f, "")
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, cancel := signalContext()
	defer cancel()

	cp, err := app.Orchestrator.Derive(ctx, *sourceRun, *newRun, checkpoint.Phase(*fromPhase), pipeline.RunRequest{
		JudgeModel:     f.judgeModel,
		AnsweringModel: f.answerModel,
	})
	if err != nil {
		return err
	}
	return printAndRecordSummary(app, cp.RunID)
}

func cmdCompare(args []string) error {
	fs := flag.NewFlagSet("compare", flag.ExitOnError)
	var f commonFlags
	registerCommon(fs, &f)
	providers := fs.String("providers", "", "comma-separated provider list")
	ensemblePath := fs.String("ensemble-config", "", "ensemble config file (required when the list includes ensemble)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *providers == "" {
		return fmt.Errorf("--providers is required")
	}

	app, err := buildApp(&f, *ensemblePath)
	if err != nil {
		return err
	}
	defer app.Close()

	concurrency, err := f.concurrencyOverrides()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	manifest, err := app.Coordinator.Compare(ctx, report.CompareRequest{
		Providers:      strings.Split(*providers, ","),
		Benchmark:      app.BenchmarkName,
		JudgeModel:     app.JudgeModel,
		AnsweringModel: app.AnswerModel,
		Sampling:       f.sampling(),
		Concurrency:    concurrency,
	})
	if err != nil {
		return err
	}

	fmt.Print(manifest.Render())
	for _, run := range manifest.Runs {
		if run.Summary != nil {
			if rerr := app.Board.Record(run.Summary); rerr != nil {
				return rerr
			}
		}
	}
	return nil
}

func cmdReport(args []string) error {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	var f commonFlags
	registerCommon(fs, &f)
	runID := fs.String("run", "", "run id to summarize")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID == "" {
		return fmt.Errorf("--run is required")
	}

	app, err := buildApp(&f, "")
	if err != nil {
		return err
	}
	defer app.Close()
	return printAndRecordSummary(app, *runID)
}

func cmdLeaderboard(args []string) error {
	fs := flag.NewFlagSet("leaderboard", flag.ExitOnError)
	var f commonFlags
	registerCommon(fs, &f)
	benchName := fs.String("filter-benchmark", "", "restrict to one benchmark")
	if err := fs.Parse(args); err != nil {
		return err
	}

	app, err := buildApp(&f, "")
	if err != nil {
		return err
	}
	defer app.Close()

	entries, err := app.Board.List(*benchName)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("leaderboard is empty")
		return nil
	}

	fmt.Printf("%-20s %-20s %-10s %-10s %-10s  %s\n",
		"PROVIDER", "BENCHMARK", "ACCURACY", "HIT@K", "NDCG", "RECORDED")
	for _, e := range entries {
		fmt.Printf("%-20s %-20s %-10.3f %-10.3f %-10.3f  %s\n",
			e.Provider, e.Benchmark, e.Accuracy, e.MeanHitAtK, e.MeanNDCG,
			e.RecordedAt.Format("2006-01-02 15:04"))
	}
	return nil
}

func printAndRecordSummary(app *App, runID string) error {
	summary, err := app.Generator.Generate(runID)
	if err != nil {
		return err
	}
	if _, err := app.Generator.Write(summary); err != nil {
		return err
	}
	if err := app.Board.Record(summary); err != nil {
		return err
	}

	fmt.Printf("run %s (%s on %s)\n", summary.RunID, summary.Provider, summary.Benchmark)
	fmt.Printf("  accuracy:  %.3f (%d/%d correct)\n", summary.Accuracy, summary.Correct, summary.Evaluated)
	fmt.Printf("  hit@k:     %.3f   mrr: %.3f   ndcg: %.3f\n",
		summary.Retrieval.MeanHitAtK, summary.Retrieval.MeanMRR, summary.Retrieval.MeanNDCG)
	for _, p := range checkpoint.Order {
		if l, ok := summary.Latency[p]; ok {
			fmt.Printf("  %-9s mean %.0fms  p95 %dms\n", p, l.MeanMs, l.P95Ms)
		}
	}
	return nil
}
