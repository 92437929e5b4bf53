package executor

import (
	"context"
	"sync"
	"time"

	"github.com/riftlabs/rift/pkg/generate"
)

// StepResult is the normalized outcome of one request against one target.
// Terminal results carry Err and a zero status; they are data, not failures.
type StepResult struct {
	Target  string              `json:"target"`
	Status  int                 `json:"status"`
	Header  map[string][]string `json:"header,omitempty"`
	Body    any                 `json:"body,omitempty"`
	Parsed  bool                `json:"parsed,omitempty"` // JSON null parses to nil Body with Parsed set
	BodyErr string              `json:"body_error,omitempty"`
	RawBody []byte              `json:"raw_body,omitempty"`
	Elapsed time.Duration       `json:"elapsed_ns"`
	Err     string              `json:"error,omitempty"`
}

// Terminal reports whether the request never produced an HTTP response.
func (r *StepResult) Terminal() bool { return r.Err != "" }

// Dual runs every step against both targets concurrently with independent
// timeouts.
type Dual struct {
	A, B          *Target
	StepTimeout   time.Duration
	SourceOfTruth string // "a" or "b"; link values extract from this side
}

// RunStep executes the case against both targets and waits for both. It
// never returns an error: whatever happened is in the results.
func (d *Dual) RunStep(ctx context.Context, c *generate.Case) (*StepResult, *StepResult) {
	var ra, rb *StepResult
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		ra = d.A.Execute(ctx, c, d.StepTimeout)
	}()
	go func() {
		defer wg.Done()
		rb = d.B.Execute(ctx, c, d.StepTimeout)
	}()
	wg.Wait()
	return ra, rb
}

// Truth picks the designated source-of-truth result from a pair.
func (d *Dual) Truth(a, b *StepResult) *StepResult {
	if d.SourceOfTruth == "b" {
		return b
	}
	return a
}
