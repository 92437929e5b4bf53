package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/riftlabs/rift/pkg/bundle"
	"github.com/riftlabs/rift/pkg/chain"
	"github.com/riftlabs/rift/pkg/compare"
	"github.com/riftlabs/rift/pkg/config"
	"github.com/riftlabs/rift/pkg/evalbridge"
	"github.com/riftlabs/rift/pkg/executor"
	"github.com/riftlabs/rift/pkg/generate"
	"github.com/riftlabs/rift/pkg/logger"
	"github.com/riftlabs/rift/pkg/report"
	"github.com/riftlabs/rift/pkg/runtime"
	"github.com/riftlabs/rift/pkg/spec"
	"github.com/riftlabs/rift/pkg/trace"
	"github.com/riftlabs/rift/pkg/tui"
)

// workerBinary is the expression worker looked up on PATH.
const workerBinary = "rift-evalworker"

var (
	exploreConfig      string
	exploreOut         string
	exploreCases       int
	exploreMaxDepth    int
	exploreMaxChains   int
	exploreWorkers     int
	exploreSeed        int64
	exploreTUI         bool
	exploreExploratory bool
	exploreVerbose     bool
)

var (
	okStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("40")).Bold(true)
	badStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	dimStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

var exploreCmd = &cobra.Command{
	Use:   "explore [openapi.yaml]",
	Short: "Explore an API surface against both targets and report mismatches",
	Long: `Explore generates request cases from an OpenAPI 3 document, executes each
against both configured targets concurrently, follows response links into
multi-step chains, and records a reproduction bundle for every divergence.

Exit codes:
  0 — targets agree on every executed step
  1 — mismatches were found (bundles written)
  2 — configuration error (bad config, unreachable target, bad spec)`,
	Args: cobra.ExactArgs(1),
	RunE: runExplore,
}

func runExplore(cmd *cobra.Command, args []string) error {
	specPath := args[0]

	doc, err := spec.LoadFile(specPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	cfg, errs := config.ValidateFile(exploreConfig)
	printValidationWarnings(errs)
	if hasValidationErrors(errs) {
		fmt.Fprintf(os.Stderr, "Configuration invalid: %d error(s)\n", countValidationErrors(errs))
		printValidationErrors(errs)
		os.Exit(2)
	}

	log := logger.Setup(exploreVerbose)

	cases := cfg.Generation.Cases()
	if cmd.Flags().Changed("cases") {
		cases = exploreCases
	}
	seed := cfg.Generation.Seed
	if cmd.Flags().Changed("seed") {
		seed = exploreSeed
	}
	depth := cfg.Exploration.Depth()
	if cmd.Flags().Changed("max-depth") {
		depth = exploreMaxDepth
	}
	chainBudget := cfg.Exploration.Chains()
	if cmd.Flags().Changed("max-chains") {
		chainBudget = exploreMaxChains
	}
	mode := generate.Positive
	if exploreExploratory {
		mode = generate.Exploratory
	}

	runID := runtime.GenerateRunID()
	outDir := exploreOut
	if outDir == "" {
		outDir = filepath.Join(".rift", "runs", runID)
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	dual := buildDual(cfg)
	probeCtx, cancelProbe := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelProbe()
	if err := dual.A.Probe(probeCtx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: target %s unreachable: %v\n", dual.A.Name, err)
		os.Exit(2)
	}
	if err := dual.B.Probe(probeCtx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: target %s unreachable: %v\n", dual.B.Name, err)
		os.Exit(2)
	}

	comparator, bridge := buildComparator(cfg, log)
	if bridge != nil {
		defer bridge.Close()
	}

	tw, err := trace.NewFileWriter(filepath.Join(outDir, "trace.jsonl"), runID)
	if err != nil {
		return err
	}
	defer tw.Close()

	gen := generate.New(seed)
	engCfg := runtime.Config{
		Doc:        doc,
		SpecRef:    filepath.Base(specPath),
		Dual:       dual,
		Rules:      comparator.Rules,
		Comparator: comparator,
		Generator:  gen,
		Explorer: &chain.Explorer{
			Graph:       chain.NewGraph(doc),
			Generator:   gen,
			Mode:        mode,
			MaxDepth:    depth,
			MaxChains:   chainBudget,
			PerSequence: cfg.Exploration.PerSeq(),
		},
		Store:      bundle.NewStore(outDir, cfg.Redact...),
		Mode:       mode,
		CasesPerOp: cases,
		Workers:    exploreWorkers,
		Trace:      tw,
		Logger:     log,
	}

	var sum *runtime.Summary
	var runErr error
	if exploreTUI {
		sum, runErr = runWithTUI(engCfg, specPath, dual)
	} else {
		fmt.Printf("rift run %s\n", runID)
		fmt.Printf("  %s — %s vs %s\n", filepath.Base(specPath), dual.A.Name, dual.B.Name)
		sum, runErr = runtime.New(engCfg).Run(context.Background())
	}

	switch {
	case runErr != nil && errors.Is(runErr, context.Canceled):
		fmt.Println("run canceled")
		os.Exit(1)
	case runErr != nil:
		fmt.Fprintf(os.Stderr, "Error: %v\n", runErr)
		os.Exit(1)
	case sum == nil:
		// TUI quit before the run completed.
		fmt.Println("run canceled")
		os.Exit(1)
	}

	bundles, _, _ := bundle.Discover(outDir)
	md := report.Markdown(report.Run{
		RunID:   runID,
		SpecRef: filepath.Base(specPath),
		TargetA: dual.A.Name,
		TargetB: dual.B.Name,
		Summary: sum,
		Bundles: bundles,
	})
	reportPath, err := report.Write(outDir, md)
	if err != nil {
		return err
	}

	printRunSummary(sum, reportPath)
	if sum.Mismatched > 0 {
		os.Exit(1)
	}
	return nil
}

// runWithTUI drives the engine under the live view. Events stream to the
// program from worker goroutines; the final model carries the outcome.
func runWithTUI(engCfg runtime.Config, specPath string, dual *executor.Dual) (*runtime.Summary, error) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	model := tui.NewModel(filepath.Base(specPath), dual.A.Name, dual.B.Name, cancel)
	p := tea.NewProgram(model, tea.WithAltScreen())

	engCfg.Events = func(t trace.EventType, data map[string]any) {
		p.Send(tui.EventMsg{Type: t, Data: data})
	}
	eng := runtime.New(engCfg)
	go func() {
		sum, err := eng.Run(ctx)
		p.Send(tui.DoneMsg{Summary: sum, Err: err})
	}()

	final, err := p.Run()
	if err != nil {
		return nil, fmt.Errorf("tui: %w", err)
	}
	m, ok := final.(tui.Model)
	if !ok {
		return nil, fmt.Errorf("tui returned unexpected model %T", final)
	}
	return m.Summary(), m.Err()
}

func printRunSummary(sum *runtime.Summary, reportPath string) {
	fmt.Printf("\n  operations %d   cases %d   chains %d   steps %d\n",
		sum.Operations, sum.Cases, sum.Chains, sum.StepsExecuted)
	if sum.Mismatched > 0 {
		fmt.Printf("  %s\n", badStyle.Render(fmt.Sprintf("✗ %d mismatched, %d bundles written", sum.Mismatched, sum.Bundles)))
	} else {
		fmt.Printf("  %s\n", okStyle.Render("✓ targets agree"))
	}
	if sum.Degraded > 0 {
		fmt.Printf("  %s\n", dimStyle.Render(fmt.Sprintf("%d chains degraded, %d steps not executed", sum.Degraded, sum.Truncated)))
	}
	fmt.Printf("  %s\n", dimStyle.Render("report: "+reportPath))
}

func buildDual(cfg *config.Config) *executor.Dual {
	step := cfg.Budgets.StepTimeout()
	return &executor.Dual{
		A:             executor.NewTarget(orName(cfg.Targets.A.Name, "a"), cfg.Targets.A.BaseURL, step),
		B:             executor.NewTarget(orName(cfg.Targets.B.Name, "b"), cfg.Targets.B.BaseURL, step),
		StepTimeout:   step,
		SourceOfTruth: cfg.Exploration.Truth(),
	}
}

func orName(name, def string) string {
	if name != "" {
		return name
	}
	return def
}

// buildComparator spawns the expression worker only when an expr rule exists.
func buildComparator(cfg *config.Config, log *slog.Logger) (*compare.Comparator, *evalbridge.Bridge) {
	cmp := &compare.Comparator{Rules: cfg.EffectiveRules()}
	var bridge *evalbridge.Bridge
	if cfg.HasExprRules() {
		bridge = evalbridge.New(
			evalbridge.SpawnProcess(workerBinary, "--timeout", cfg.Budgets.WorkerEvalTimeout().String()),
			evalbridge.WithTimeout(cfg.Budgets.EvalTimeout()),
			evalbridge.WithLogger(log),
		)
		cmp.Bridge = bridge
	}
	return cmp, bridge
}

func init() {
	exploreCmd.Flags().StringVar(&exploreConfig, "config", "rift.yaml", "Path to the run configuration")
	exploreCmd.Flags().StringVar(&exploreOut, "out", "", "Output directory (default .rift/runs/<run-id>)")
	exploreCmd.Flags().IntVar(&exploreCases, "cases", 0, "Cases per operation (overrides config)")
	exploreCmd.Flags().IntVar(&exploreMaxDepth, "max-depth", 0, "Longest chain explored (overrides config)")
	exploreCmd.Flags().IntVar(&exploreMaxChains, "max-chains", 0, "Total chain budget (overrides config)")
	exploreCmd.Flags().IntVar(&exploreWorkers, "workers", 4, "Concurrent steps")
	exploreCmd.Flags().Int64Var(&exploreSeed, "seed", 0, "Generation seed (overrides config)")
	exploreCmd.Flags().BoolVar(&exploreTUI, "tui", false, "Live terminal UI")
	exploreCmd.Flags().BoolVar(&exploreExploratory, "exploratory", false, "Include boundary and type-bending cases")
	exploreCmd.Flags().BoolVarP(&exploreVerbose, "verbose", "v", false, "Debug logging")
	rootCmd.AddCommand(exploreCmd)
}
