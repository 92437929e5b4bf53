package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/riftlabs/rift/pkg/bundle"
	"github.com/riftlabs/rift/pkg/chain"
	"github.com/riftlabs/rift/pkg/compare"
	"github.com/riftlabs/rift/pkg/config"
	"github.com/riftlabs/rift/pkg/evalbridge"
	"github.com/riftlabs/rift/pkg/executor"
	"github.com/riftlabs/rift/pkg/generate"
	"github.com/riftlabs/rift/pkg/replay"
	"github.com/riftlabs/rift/pkg/report"
	"github.com/riftlabs/rift/pkg/runtime"
	"github.com/riftlabs/rift/pkg/spec"
	"github.com/riftlabs/rift/pkg/trace"
)

// WorkerBinary is the expression worker spawned for expr rules. Overridable
// for tests.
var WorkerBinary = "rift-evalworker"

// HandleValidate implements the rift/validate MCP tool.
func HandleValidate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	path, _ := args["path"].(string)
	if path == "" {
		return errorResult("path argument is required"), nil
	}

	// Detect OpenAPI vs run configuration
	if isOpenAPIFile(path) {
		doc, err := spec.LoadFile(path)
		if err != nil {
			return errorResult(err.Error()), nil
		}
		return textResult(fmt.Sprintf("✓ %s is valid (%d operations)", filepath.Base(path), len(doc.Operations))), nil
	}

	cfg, errs := config.ValidateFile(path)
	if hasErrors(errs) {
		return errorResult(formatErrors(errs)), nil
	}
	return textResult(fmt.Sprintf("✓ %s is valid (%s vs %s)",
		filepath.Base(path), cfg.Targets.A.BaseURL, cfg.Targets.B.BaseURL)), nil
}

// HandleSchema implements the rift/schema MCP tool.
func HandleSchema(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	data, err := config.GenerateJSONSchema()
	if err != nil {
		return errorResult(err.Error()), nil
	}
	return textResult(string(data)), nil
}

// HandleExplore implements the rift/explore MCP tool.
func HandleExplore(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	specPath, _ := args["spec"].(string)
	if specPath == "" {
		return errorResult("spec argument is required"), nil
	}
	configPath, _ := args["config"].(string)
	if configPath == "" {
		return errorResult("config argument is required"), nil
	}

	doc, err := spec.LoadFile(specPath)
	if err != nil {
		return errorResult(fmt.Sprintf("load spec: %s", err)), nil
	}
	cfg, errs := config.ValidateFile(configPath)
	if hasErrors(errs) {
		return errorResult(formatErrors(errs)), nil
	}

	runID := runtime.GenerateRunID()
	outDir, _ := args["out"].(string)
	if outDir == "" {
		outDir = filepath.Join(".rift", "runs", runID)
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return errorResult(fmt.Sprintf("create output dir: %s", err)), nil
	}

	dual := dualFromConfig(cfg)
	if err := dual.A.Probe(ctx); err != nil {
		return errorResult(fmt.Sprintf("target %s unreachable: %s", dual.A.Name, err)), nil
	}
	if err := dual.B.Probe(ctx); err != nil {
		return errorResult(fmt.Sprintf("target %s unreachable: %s", dual.B.Name, err)), nil
	}

	gen := generate.New(cfg.Generation.Seed)
	comparator, bridge := comparatorFromConfig(cfg)
	if bridge != nil {
		defer bridge.Close()
	}

	tw, err := trace.NewFileWriter(filepath.Join(outDir, "trace.jsonl"), runID)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	defer tw.Close()

	cases, _ := args["cases"].(float64)
	if cases <= 0 {
		cases = float64(cfg.Generation.Cases())
	}
	workers, _ := args["workers"].(float64)

	store := bundle.NewStore(outDir, cfg.Redact...)
	eng := runtime.New(runtime.Config{
		Doc:        doc,
		SpecRef:    filepath.Base(specPath),
		Dual:       dual,
		Rules:      comparator.Rules,
		Comparator: comparator,
		Generator:  gen,
		Explorer: &chain.Explorer{
			Graph:       chain.NewGraph(doc),
			Generator:   gen,
			Mode:        generate.Positive,
			MaxDepth:    cfg.Exploration.Depth(),
			MaxChains:   cfg.Exploration.Chains(),
			PerSequence: cfg.Exploration.PerSeq(),
		},
		Store:      store,
		CasesPerOp: int(cases),
		Workers:    int(workers),
		Trace:      tw,
	})

	sum, err := eng.Run(ctx)
	if err != nil {
		return errorResult(fmt.Sprintf("run: %s", err)), nil
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
	if _, err := report.Write(outDir, md); err != nil {
		return errorResult(err.Error()), nil
	}

	keys := make([]string, 0, len(bundles))
	for _, b := range bundles {
		keys = append(keys, b.Key)
	}
	response := map[string]any{
		"run_id":  runID,
		"out":     outDir,
		"summary": sum,
	}
	if len(keys) > 0 {
		response["bundles"] = keys
	}
	data, _ := json.MarshalIndent(response, "", "  ")

	isErr := sum.Mismatched > 0
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(string(data))},
		IsError: isErr,
	}, nil
}

// HandleReplay implements the rift/replay MCP tool.
func HandleReplay(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	in, _ := args["in"].(string)
	if in == "" {
		return errorResult("in argument is required"), nil
	}
	configPath, _ := args["config"].(string)
	if configPath == "" {
		return errorResult("config argument is required"), nil
	}
	out, _ := args["out"].(string)
	if out == "" {
		out = in
	}

	cfg, errs := config.ValidateFile(configPath)
	if hasErrors(errs) {
		return errorResult(formatErrors(errs)), nil
	}

	bundles, corrupt, err := bundle.Discover(in)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	if len(bundles) == 0 {
		return textResult(fmt.Sprintf("no bundles found under %s", in)), nil
	}

	comparator, bridge := comparatorFromConfig(cfg)
	if bridge != nil {
		defer bridge.Close()
	}
	eng := &replay.Engine{
		Dual:       dualFromConfig(cfg),
		Comparator: comparator,
		Store:      bundle.NewStore(out, cfg.Redact...),
	}

	counts := map[replay.Classification]int{}
	outcomes := make([]*replay.Outcome, 0, len(bundles))
	for _, b := range bundles {
		o, err := eng.Replay(ctx, b)
		if err != nil {
			return errorResult(fmt.Sprintf("replay %s: %s", b.Key, err)), nil
		}
		counts[o.Classification]++
		outcomes = append(outcomes, o)
	}

	response := map[string]any{
		"replayed": len(outcomes),
		"counts":   counts,
		"outcomes": outcomes,
	}
	if corrupt > 0 {
		response["corrupt_skipped"] = corrupt
	}
	data, _ := json.MarshalIndent(response, "", "  ")

	isErr := counts[replay.Persistent] > 0 || counts[replay.Different] > 0
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(string(data))},
		IsError: isErr,
	}, nil
}

func dualFromConfig(cfg *config.Config) *executor.Dual {
	step := cfg.Budgets.StepTimeout()
	return &executor.Dual{
		A:             executor.NewTarget(targetName(cfg.Targets.A, "a"), cfg.Targets.A.BaseURL, step),
		B:             executor.NewTarget(targetName(cfg.Targets.B, "b"), cfg.Targets.B.BaseURL, step),
		StepTimeout:   step,
		SourceOfTruth: cfg.Exploration.Truth(),
	}
}

func targetName(t config.Target, def string) string {
	if t.Name != "" {
		return t.Name
	}
	return def
}

// comparatorFromConfig builds the comparator, spawning the expression worker
// only when an expr rule exists.
func comparatorFromConfig(cfg *config.Config) (*compare.Comparator, *evalbridge.Bridge) {
	cmp := &compare.Comparator{Rules: cfg.EffectiveRules()}
	var bridge *evalbridge.Bridge
	if cfg.HasExprRules() {
		bridge = evalbridge.New(
			evalbridge.SpawnProcess(WorkerBinary, "--timeout", cfg.Budgets.WorkerEvalTimeout().String()),
			evalbridge.WithTimeout(cfg.Budgets.EvalTimeout()),
		)
		cmp.Bridge = bridge
	}
	return cmp, bridge
}

// isOpenAPIFile sniffs for an openapi version key in the document head.
func isOpenAPIFile(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	if len(data) > 2048 {
		data = data[:2048]
	}
	return bytes.Contains(data, []byte("openapi:")) || bytes.Contains(data, []byte(`"openapi"`))
}

func hasErrors(errs []*config.ValidationError) bool {
	for _, e := range errs {
		if e.Severity == "error" {
			return true
		}
	}
	return false
}

func formatErrors(errs []*config.ValidationError) string {
	var msgs []string
	for _, e := range errs {
		if e.Severity == "error" {
			msgs = append(msgs, fmt.Sprintf("[%s] %s", e.Phase, e.Message))
		}
	}
	return strings.Join(msgs, "; ")
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(text),
		},
	}
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(msg),
		},
		IsError: true,
	}
}
