// Package bundle persists minimal reproductions of observed divergences:
// the executed chain prefix, both targets' responses for every step, and the
// mismatch list that ended the chain. Bundles are plain JSON on disk so they
// survive tool upgrades and can be inspected by hand.
package bundle

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/riftlabs/rift/pkg/compare"
	"github.com/riftlabs/rift/pkg/executor"
	"github.com/riftlabs/rift/pkg/generate"
)

// StepRecord is one executed step: the case as sent and both results.
// Feeds keeps the link sources that filled the case's parameters so replay
// can re-resolve them from fresh responses.
type StepRecord struct {
	Case  *generate.Case       `json:"case"`
	Feeds map[string]string    `json:"feeds,omitempty"`
	A     *executor.StepResult `json:"a"`
	B     *executor.StepResult `json:"b"`
}

// Bundle is one persisted reproduction.
type Bundle struct {
	Key        string             `json:"key"`
	CreatedAt  time.Time          `json:"created_at"`
	SpecRef    string             `json:"spec_ref,omitempty"`
	Sequence   []string           `json:"sequence"`
	Steps      []StepRecord       `json:"steps"`
	Mismatches []compare.Mismatch `json:"mismatches,omitempty"`
}

// New builds a bundle from an executed prefix. The key is derived from the
// operation sequence and the first mismatch path, so the same divergence
// reproduces under the same key across runs.
func New(specRef string, steps []StepRecord, mismatches []compare.Mismatch) *Bundle {
	b := &Bundle{
		CreatedAt:  time.Now().UTC(),
		SpecRef:    specRef,
		Steps:      steps,
		Mismatches: mismatches,
	}
	for _, s := range steps {
		b.Sequence = append(b.Sequence, s.Case.Operation)
	}
	firstPath := ""
	if len(mismatches) > 0 {
		firstPath = mismatches[0].Path
	}
	b.Key = reproductionKey(b.Sequence, firstPath)
	return b
}

// FailingPaths returns the sorted unique mismatch paths. Replay
// classification compares these sets, never the values behind them.
func (b *Bundle) FailingPaths() []string {
	set := map[string]bool{}
	for _, m := range b.Mismatches {
		set[m.Path] = true
	}
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func reproductionKey(sequence []string, firstPath string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\n%s", strings.Join(sequence, " -> "), firstPath)
	return fmt.Sprintf("%x", h.Sum(nil))[:12]
}
