// Package replay re-executes persisted bundles against the current targets
// and classifies what became of each divergence. Classification is by
// failing path, never by value: a timestamp that diverges with new values
// is still the same failure.
package replay

import (
	"context"
	"fmt"
	"sort"

	"github.com/riftlabs/rift/pkg/bundle"
	"github.com/riftlabs/rift/pkg/compare"
	"github.com/riftlabs/rift/pkg/executor"
	"github.com/riftlabs/rift/pkg/generate"
)

// Classification is the verdict on one replayed bundle.
type Classification string

const (
	// Fixed: no mismatch under the current targets and rules.
	Fixed Classification = "fixed"
	// Persistent: at least one originally failing path fails again.
	Persistent Classification = "persistent"
	// Different: mismatches exist, but only at paths the original run
	// never flagged.
	Different Classification = "different"
	// Error: a target went terminal during replay; no verdict on the
	// divergence itself.
	Error Classification = "error"
)

// Outcome is the result of replaying one bundle.
type Outcome struct {
	Key            string             `json:"key"`
	Classification Classification     `json:"classification"`
	Mismatches     []compare.Mismatch `json:"mismatches,omitempty"`
	BundleDir      string             `json:"bundle_dir,omitempty"`
	Detail         string             `json:"detail,omitempty"`
}

// Engine replays bundles. Every replay writes a fresh bundle under the
// store's root, reflecting only the current run's responses; stored
// responses are never copied forward.
type Engine struct {
	Dual       *executor.Dual
	Comparator *compare.Comparator
	Store      *bundle.Store
}

// Replay executes the bundle's steps in order, re-resolving link-fed
// parameters from the fresh source-of-truth responses, and compares with
// the current rules. The returned error is reserved for a dead evaluator or
// a canceled context; a dead target is Classification Error.
func (e *Engine) Replay(ctx context.Context, b *bundle.Bundle) (*Outcome, error) {
	out := &Outcome{Key: b.Key}

	var steps []bundle.StepRecord
	var truth *executor.StepResult
	for i, rec := range b.Steps {
		c := rec.Case.Clone()
		if i > 0 {
			applyFeeds(c, rec.Feeds, truth)
		}

		ra, rb := e.Dual.RunStep(ctx, c)
		steps = append(steps, bundle.StepRecord{Case: c, Feeds: rec.Feeds, A: ra, B: rb})

		if ra.Terminal() || rb.Terminal() {
			out.Classification = Error
			out.Detail = terminalDetail(ra, rb)
			break
		}

		mm, err := e.Comparator.Compare(ctx, c.Operation, ra, rb)
		if err != nil {
			return nil, err
		}
		if len(mm) > 0 {
			out.Mismatches = mm
			break
		}
		truth = e.Dual.Truth(ra, rb)
	}

	if out.Classification != Error {
		out.Classification = classify(b.FailingPaths(), out.Mismatches)
	}

	fresh := bundle.New(b.SpecRef, steps, out.Mismatches)
	fresh.Key = b.Key // same reproduction, same key
	dir, err := e.Store.Write(fresh)
	if err != nil {
		return nil, fmt.Errorf("write replay bundle: %w", err)
	}
	out.BundleDir = dir
	return out, nil
}

func classify(originalPaths []string, found []compare.Mismatch) Classification {
	if len(found) == 0 {
		return Fixed
	}
	original := map[string]bool{}
	for _, p := range originalPaths {
		original[p] = true
	}
	for _, m := range found {
		if original[m.Path] {
			return Persistent
		}
	}
	return Different
}

// applyFeeds re-resolves link-fed parameters from the fresh truth response.
// The stored case holds the old value in the right location already, so a
// fresh extraction overwrites in place; a failed extraction keeps the
// recorded value and the step still runs.
func applyFeeds(c *generate.Case, feeds map[string]string, truth *executor.StepResult) {
	if len(feeds) == 0 || truth == nil {
		return
	}
	names := make([]string, 0, len(feeds))
	for name := range feeds {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		val, ok := executor.Extract(truth, feeds[name])
		if !ok {
			continue
		}
		place(c, name, val)
	}
}

func place(c *generate.Case, name, val string) {
	switch {
	case c.PathParams[name] != "":
		c.PathParams[name] = val
	case c.Query[name] != "":
		c.Query[name] = val
	case c.Header[name] != "":
		c.Header[name] = generate.SanitizeHeaderValue(val)
	case c.Cookie[name] != "":
		c.Cookie[name] = generate.SanitizeHeaderValue(val)
	default:
		// The original run dropped it when extraction failed; it is
		// still pending, so resolve it now.
		c.Resolve(name, val)
	}
}

func terminalDetail(a, b *executor.StepResult) string {
	switch {
	case a.Terminal() && b.Terminal():
		return fmt.Sprintf("both targets terminal: a: %s; b: %s", a.Err, b.Err)
	case a.Terminal():
		return "target a terminal: " + a.Err
	default:
		return "target b terminal: " + b.Err
	}
}
