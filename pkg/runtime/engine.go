// Package runtime drives a differential run: single-operation cases and
// linked chains scheduled over a bounded worker pool, executed against both
// targets, compared, and bundled on divergence.
package runtime

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/riftlabs/rift/pkg/bundle"
	"github.com/riftlabs/rift/pkg/chain"
	"github.com/riftlabs/rift/pkg/compare"
	"github.com/riftlabs/rift/pkg/executor"
	"github.com/riftlabs/rift/pkg/generate"
	"github.com/riftlabs/rift/pkg/rules"
	"github.com/riftlabs/rift/pkg/spec"
	"github.com/riftlabs/rift/pkg/trace"
)

// GenerateRunID creates a run ID in format YYYYMMDDTHHmmss-xxxx.
func GenerateRunID() string {
	ts := time.Now().Format("20060102T150405")
	suffix := make([]byte, 4)
	rand.Read(suffix)
	return fmt.Sprintf("%s-%x", ts, suffix)
}

// Config wires an engine. Doc, Dual and Generator are required; everything
// else has a usable zero value.
type Config struct {
	Doc        *spec.Document
	SpecRef    string
	Dual       *executor.Dual
	Rules      *rules.RuleSet
	Comparator *compare.Comparator // built from Rules when nil
	Generator  *generate.Generator
	Explorer   *chain.Explorer // nil skips chain exploration
	Store      *bundle.Store   // nil skips bundle writing
	Mode       generate.Mode
	CasesPerOp int
	Workers    int
	Trace      *trace.Writer
	// Events receives every trace event as it is emitted. Called from
	// worker goroutines; must be safe for concurrent use.
	Events func(trace.EventType, map[string]any)
	Logger *slog.Logger
}

// Summary is the aggregate outcome of a run. Truncated counts chain steps
// that were planned but never executed because their chain halted on a
// mismatch or ended degraded.
type Summary struct {
	Operations    int           `json:"operations"`
	Cases         int           `json:"cases"`
	Chains        int           `json:"chains"`
	StepsExecuted int           `json:"steps_executed"`
	Mismatched    int           `json:"mismatched"`
	Bundles       int           `json:"bundles"`
	Degraded      int           `json:"degraded"`
	Truncated     int           `json:"truncated"`
	Duration      time.Duration `json:"duration_ns"`
}

// counters accumulates the summary under a mutex shared by all workers.
type counters struct {
	mu  sync.Mutex
	sum Summary
}

func (c *counters) reset(operations int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sum = Summary{Operations: operations}
}

func (c *counters) addCase(mismatched bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sum.Cases++
	c.sum.StepsExecuted++
	if mismatched {
		c.sum.Mismatched++
	}
}

func (c *counters) addChain(executed, truncated int, degraded, mismatched bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sum.Chains++
	c.sum.StepsExecuted += executed
	c.sum.Truncated += truncated
	if degraded {
		c.sum.Degraded++
	}
	if mismatched {
		c.sum.Mismatched++
	}
}

func (c *counters) addBundle() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sum.Bundles++
}

func (c *counters) snapshot() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sum
}

// Engine executes one run.
type Engine struct {
	cfg Config
	sum counters
}

// New builds an engine, filling config defaults.
func New(cfg Config) *Engine {
	if cfg.Comparator == nil {
		cfg.Comparator = &compare.Comparator{Rules: cfg.Rules}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Mode == "" {
		cfg.Mode = generate.Positive
	}
	if cfg.CasesPerOp <= 0 {
		cfg.CasesPerOp = 5
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	return &Engine{cfg: cfg}
}

// Run schedules all single-operation cases and all chains over the worker
// pool and blocks until every scheduled unit finished. Step failures and
// mismatches are data; the only run-aborting errors are an unavailable
// evaluator and context cancellation.
func (e *Engine) Run(ctx context.Context) (*Summary, error) {
	start := time.Now()
	e.sum.reset(len(e.cfg.Doc.Operations))

	if tw := e.cfg.Trace; tw != nil {
		e.traceErr(tw.EmitRunStart(e.cfg.SpecRef, len(e.cfg.Doc.Operations), e.cfg.Dual.A.Name, e.cfg.Dual.B.Name))
	}
	e.notify(trace.EventRunStart, map[string]any{
		"spec":       e.cfg.SpecRef,
		"operations": len(e.cfg.Doc.Operations),
		"target_a":   e.cfg.Dual.A.Name,
		"target_b":   e.cfg.Dual.B.Name,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)

	// Scheduling is lazy: g.Go blocks while the pool is full, so cases and
	// chains are generated only as workers free up.
scheduling:
	for _, op := range e.cfg.Doc.Operations {
		for c, err := range e.cfg.Generator.Cases(op, e.cfg.CasesPerOp, e.cfg.Mode) {
			if err != nil {
				e.cfg.Logger.Warn("generate case", "operation", op.ID, "error", err)
				continue
			}
			if gctx.Err() != nil {
				break scheduling
			}
			g.Go(func() error { return e.runCase(gctx, op.ID, c) })
		}
	}

	if e.cfg.Explorer != nil {
		for ch, err := range e.cfg.Explorer.Chains() {
			if err != nil {
				e.cfg.Logger.Warn("build chain", "error", err)
				continue
			}
			if gctx.Err() != nil {
				break
			}
			g.Go(func() error { return e.runChain(gctx, ch) })
		}
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := e.sum.snapshot()
	out.Duration = time.Since(start)

	if tw := e.cfg.Trace; tw != nil {
		e.traceErr(tw.EmitRunComplete(out))
	}
	e.notify(trace.EventRunComplete, map[string]any{"summary": out})
	return &out, nil
}

// runCase executes one single-operation case on both targets and compares.
func (e *Engine) runCase(ctx context.Context, opID string, c *generate.Case) error {
	if ctx.Err() != nil {
		return nil
	}
	ra, rb := e.cfg.Dual.RunStep(ctx, c)
	mms, err := e.cfg.Comparator.Compare(ctx, opID, ra, rb)
	if err != nil {
		return fmt.Errorf("compare %s: %w", opID, err)
	}

	e.sum.addCase(len(mms) > 0)

	if tw := e.cfg.Trace; tw != nil {
		e.traceErr(tw.EmitCaseResult(opID, c.Seq, len(mms)))
	}
	e.notify(trace.EventCaseResult, map[string]any{
		"operation":  opID,
		"seq":        c.Seq,
		"mismatches": len(mms),
	})

	if len(mms) > 0 {
		e.writeBundle(bundle.New(e.cfg.SpecRef, []bundle.StepRecord{{Case: c, A: ra, B: rb}}, mms))
	}
	return nil
}

// runChain executes a chain's steps strictly in order, feeding link values
// from the source-of-truth response. The chain halts at the first step with
// mismatches; later steps are neither executed nor recorded.
func (e *Engine) runChain(ctx context.Context, ch *chain.Chain) error {
	if ctx.Err() != nil {
		return nil
	}

	var (
		records  []bundle.StepRecord
		found    []compare.Mismatch
		truth    *executor.StepResult
		degraded bool
		executed int
	)

	for i, st := range ch.Steps {
		c := st.Case
		if i > 0 {
			for _, name := range sortedKeys(st.Feeds) {
				val, ok := executor.Extract(truth, st.Feeds[name])
				if !ok || !c.Resolve(name, val) {
					degraded = true
				}
			}
			if c.PendingPathParams() {
				// No URL can be formed; the chain ends here.
				degraded = true
				break
			}
			c.DropPending()
		}

		ra, rb := e.cfg.Dual.RunStep(ctx, c)
		executed++
		records = append(records, bundle.StepRecord{Case: c, Feeds: st.Feeds, A: ra, B: rb})

		mms, err := e.cfg.Comparator.Compare(ctx, st.Op.ID, ra, rb)
		if err != nil {
			return fmt.Errorf("compare %s: %w", st.Op.ID, err)
		}
		if len(mms) > 0 {
			found = mms
			break
		}
		truth = e.cfg.Dual.Truth(ra, rb)
	}

	e.sum.addChain(executed, len(ch.Steps)-executed, degraded, len(found) > 0)

	if tw := e.cfg.Trace; tw != nil {
		e.traceErr(tw.EmitChainResult(ch.Sequence(), executed, len(found), degraded))
	}
	data := map[string]any{
		"sequence":   ch.Sequence(),
		"steps":      executed,
		"mismatches": len(found),
	}
	if degraded {
		data["degraded"] = true
	}
	e.notify(trace.EventChainResult, data)

	if len(found) > 0 {
		e.writeBundle(bundle.New(e.cfg.SpecRef, records, found))
	}
	return nil
}

// writeBundle persists a bundle if a store is configured. Write failures are
// logged, not fatal: losing one reproduction never aborts the run.
func (e *Engine) writeBundle(b *bundle.Bundle) {
	if e.cfg.Store == nil {
		return
	}
	dir, err := e.cfg.Store.Write(b)
	if err != nil {
		e.cfg.Logger.Warn("write bundle", "key", b.Key, "error", err)
		return
	}
	e.sum.addBundle()

	if tw := e.cfg.Trace; tw != nil {
		e.traceErr(tw.EmitBundleWritten(b.Key, dir))
	}
	e.notify(trace.EventBundleWritten, map[string]any{"key": b.Key, "dir": dir})
}

func (e *Engine) notify(t trace.EventType, data map[string]any) {
	if e.cfg.Events != nil {
		e.cfg.Events(t, data)
	}
}

func (e *Engine) traceErr(err error) {
	if err != nil {
		e.cfg.Logger.Warn("trace emit", "error", err)
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
