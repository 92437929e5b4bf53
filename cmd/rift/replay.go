package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/riftlabs/rift/pkg/bundle"
	"github.com/riftlabs/rift/pkg/config"
	"github.com/riftlabs/rift/pkg/logger"
	"github.com/riftlabs/rift/pkg/replay"
	"github.com/riftlabs/rift/pkg/report"
)

var (
	replayIn     string
	replayOut    string
	replayConfig string
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay stored mismatch bundles and classify each outcome",
	Long: `Replay re-executes every bundle under --in against the currently configured
targets and classifies the result:

  fixed       no mismatch remains
  persistent  an originally failing path fails again
  different   only new paths mismatch
  error       a target did not answer during replay

Each replay writes a fresh bundle for the same key into --out.

Exit codes:
  0 — everything fixed (or nothing to replay)
  1 — persistent or different divergences remain
  2 — configuration error`,
	RunE: runReplay,
}

func runReplay(cmd *cobra.Command, args []string) error {
	cfg, errs := config.ValidateFile(replayConfig)
	printValidationWarnings(errs)
	if hasValidationErrors(errs) {
		fmt.Fprintf(os.Stderr, "Configuration invalid: %d error(s)\n", countValidationErrors(errs))
		printValidationErrors(errs)
		os.Exit(2)
	}

	bundles, corrupt, err := bundle.Discover(replayIn)
	if err != nil {
		return err
	}
	if corrupt > 0 {
		fmt.Fprintf(os.Stderr, "  ⚠ %d corrupt bundle(s) skipped\n", corrupt)
	}
	if len(bundles) == 0 {
		fmt.Printf("No bundles found under %s\n", replayIn)
		return nil
	}

	outDir := replayOut
	if outDir == "" {
		outDir = replayIn
	}

	comparator, bridge := buildComparator(cfg, logger.Setup(false))
	if bridge != nil {
		defer bridge.Close()
	}
	eng := &replay.Engine{
		Dual:       buildDual(cfg),
		Comparator: comparator,
		Store:      bundle.NewStore(outDir, cfg.Redact...),
	}

	ctx := context.Background()
	counts := map[replay.Classification]int{}
	outcomes := make([]*replay.Outcome, 0, len(bundles))
	rows := make([][]string, 0, len(bundles))
	for _, b := range bundles {
		o, err := eng.Replay(ctx, b)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: replay %s: %v\n", b.Key, err)
			os.Exit(1)
		}
		counts[o.Classification]++
		outcomes = append(outcomes, o)
		rows = append(rows, []string{
			b.Key,
			strings.Join(b.Sequence, " -> "),
			string(o.Classification),
			o.Detail,
		})
	}

	fmt.Println(report.Table([]string{"key", "sequence", "classification", "detail"}, rows))

	data, err := json.MarshalIndent(outcomes, "", "  ")
	if err == nil {
		summaryPath := filepath.Join(outDir, "replay.json")
		if werr := os.WriteFile(summaryPath, data, 0o644); werr != nil {
			fmt.Fprintf(os.Stderr, "  ⚠ write replay summary: %v\n", werr)
		} else {
			fmt.Printf("  %s\n", dimStyle.Render("summary: "+summaryPath))
		}
	}

	remaining := counts[replay.Persistent] + counts[replay.Different]
	fmt.Printf("\n  %d replayed: %d fixed, %d persistent, %d different, %d error\n",
		len(outcomes), counts[replay.Fixed], counts[replay.Persistent],
		counts[replay.Different], counts[replay.Error])
	if remaining > 0 {
		fmt.Printf("  %s\n", badStyle.Render(fmt.Sprintf("✗ %d divergence(s) remain", remaining)))
		os.Exit(1)
	}
	fmt.Printf("  %s\n", okStyle.Render("✓ nothing persists"))
	return nil
}

func init() {
	replayCmd.Flags().StringVar(&replayIn, "in", "", "Run directory or bundle directory to replay (required)")
	replayCmd.Flags().StringVar(&replayOut, "out", "", "Directory for fresh bundles (default: --in)")
	replayCmd.Flags().StringVar(&replayConfig, "config", "rift.yaml", "Path to the run configuration")
	replayCmd.MarkFlagRequired("in")
	rootCmd.AddCommand(replayCmd)
}
