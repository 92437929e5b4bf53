// Package evalbridge manages the expression evaluation worker process and
// the newline-delimited JSON protocol it speaks. One bridge is shared by
// every comparison in a run; correlation IDs multiplex concurrent callers
// over the single worker.
package evalbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ErrUnavailable latches once the restart budget is spent. A run that sees
// it cannot evaluate custom rules anymore and must abort rather than report
// half-compared results.
var ErrUnavailable = errors.New("evaluator unavailable: worker restart budget exhausted")

// EvalError is a per-expression failure: the worker answered ok:false, or
// the caller budget expired. It is comparison data, not a bridge fault.
type EvalError struct {
	Expression string
	Reason     string
}

func (e *EvalError) Error() string {
	if e.Expression == "" {
		return e.Reason
	}
	return fmt.Sprintf("evaluate %q: %s", e.Expression, e.Reason)
}

// request and response are the wire shapes, one JSON object per line.
type request struct {
	ID         int64          `json:"id"`
	Expression string         `json:"expression"`
	Bindings   map[string]any `json:"bindings"`
}

type response struct {
	ID     int64           `json:"id"`
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

const (
	defaultTimeout  = 10 * time.Second
	defaultRestarts = 3
)

// Bridge owns the worker lifecycle: lazy spawn, write serialization, reply
// dispatch, restart on crash or hang, and the permanent-failure latch.
type Bridge struct {
	spawn       Spawner
	timeout     time.Duration
	maxRestarts int
	log         *slog.Logger

	nextID atomic.Int64

	mu      sync.Mutex
	worker  Worker
	pending map[int64]pendingEval
	spawns  int
	broken  bool
}

// pendingEval is one in-flight evaluation. The owner is the worker the
// request was written to; a replacement worker's EOF must not fail it.
type pendingEval struct {
	ch    chan response
	owner Worker
}

// Option adjusts bridge construction.
type Option func(*Bridge)

// WithTimeout sets the caller-side budget per evaluation. Expiry means a
// dead or hung worker and triggers a restart.
func WithTimeout(d time.Duration) Option {
	return func(b *Bridge) { b.timeout = d }
}

// WithMaxRestarts sets how many times a crashed worker is relaunched before
// the bridge latches unavailable.
func WithMaxRestarts(n int) Option {
	return func(b *Bridge) { b.maxRestarts = n }
}

// WithLogger routes restart and crash noise somewhere visible.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) { b.log = l }
}

// New builds a bridge. The worker is not spawned until the first Evaluate.
func New(spawn Spawner, opts ...Option) *Bridge {
	b := &Bridge{
		spawn:       spawn,
		timeout:     defaultTimeout,
		maxRestarts: defaultRestarts,
		log:         slog.Default(),
		pending:     map[int64]pendingEval{},
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Evaluate sends one expression with its bindings and waits for the reply.
// ok:false replies come back as *EvalError; ErrUnavailable means the bridge
// is permanently down for this run.
func (b *Bridge) Evaluate(ctx context.Context, expression string, bindings map[string]any) (any, error) {
	id := b.nextID.Add(1)
	ch := make(chan response, 1)

	b.mu.Lock()
	if err := b.ensureWorkerLocked(ctx); err != nil {
		b.mu.Unlock()
		return nil, err
	}
	w := b.worker
	b.pending[id] = pendingEval{ch: ch, owner: w}
	data, err := json.Marshal(request{ID: id, Expression: expression, Bindings: bindings})
	if err != nil {
		delete(b.pending, id)
		b.mu.Unlock()
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	if _, err := fmt.Fprintf(w.Stdin(), "%s\n", data); err != nil {
		delete(b.pending, id)
		b.retireLocked(w)
		b.mu.Unlock()
		return nil, &EvalError{Expression: expression, Reason: fmt.Sprintf("write to worker: %v", err)}
	}
	b.mu.Unlock()

	select {
	case resp := <-ch:
		if !resp.OK {
			return nil, &EvalError{Expression: expression, Reason: resp.Error}
		}
		var v any
		if len(resp.Result) > 0 {
			if err := json.Unmarshal(resp.Result, &v); err != nil {
				return nil, &EvalError{Expression: expression, Reason: fmt.Sprintf("undecodable result: %v", err)}
			}
		}
		return v, nil
	case <-time.After(b.timeout):
		b.mu.Lock()
		delete(b.pending, id)
		b.retireLocked(w)
		b.mu.Unlock()
		return nil, &EvalError{Expression: expression, Reason: fmt.Sprintf("no reply within %v, worker restarted", b.timeout)}
	case <-ctx.Done():
		b.mu.Lock()
		delete(b.pending, id)
		b.mu.Unlock()
		return nil, ctx.Err()
	}
}

// ensureWorkerLocked spawns the worker if none is running. Every spawn
// beyond the first successful one consumes the restart budget.
func (b *Bridge) ensureWorkerLocked(ctx context.Context) error {
	if b.broken {
		return ErrUnavailable
	}
	if b.worker != nil {
		return nil
	}
	if b.spawns > b.maxRestarts {
		b.broken = true
		return ErrUnavailable
	}
	b.spawns++
	w, err := b.spawn(ctx)
	if err != nil {
		if b.spawns > b.maxRestarts {
			b.broken = true
			return ErrUnavailable
		}
		return &EvalError{Reason: fmt.Sprintf("spawn worker: %v", err)}
	}
	if b.spawns > 1 {
		b.log.Warn("evaluation worker restarted", "attempt", b.spawns-1)
	}
	b.worker = w
	go b.read(w)
	return nil
}

// read dispatches worker replies to waiting callers until EOF. Lines with
// unknown correlation IDs are dropped; the matching caller hits its budget.
func (b *Bridge) read(w Worker) {
	for line := range w.Lines() {
		var resp response
		if err := json.Unmarshal([]byte(line), &resp); err != nil {
			b.log.Warn("undecodable worker reply", "error", err)
			continue
		}
		b.mu.Lock()
		p, ok := b.pending[resp.ID]
		if ok {
			delete(b.pending, resp.ID)
		}
		b.mu.Unlock()
		if ok {
			p.ch <- resp
		}
	}
	// EOF: the worker is gone. Fail what was in flight on this worker;
	// entries issued to a replacement stay pending.
	b.mu.Lock()
	if b.worker == w {
		b.worker = nil
	}
	for id, p := range b.pending {
		if p.owner != w {
			continue
		}
		delete(b.pending, id)
		p.ch <- response{ID: id, OK: false, Error: "worker exited mid-evaluation"}
	}
	b.mu.Unlock()
}

// retireLocked kills a worker that timed out or refused a write. The reader
// goroutine observes the EOF and clears in-flight state.
func (b *Bridge) retireLocked(w Worker) {
	if b.worker == w {
		b.worker = nil
	}
	w.Kill()
}

// Close shuts the worker down: stdin close first, then a grace period, then
// the hammer.
func (b *Bridge) Close() error {
	b.mu.Lock()
	w := b.worker
	b.worker = nil
	b.mu.Unlock()
	if w == nil {
		return nil
	}
	w.Stdin().Close()
	select {
	case <-w.Done():
		return nil
	case <-time.After(2 * time.Second):
	}
	return w.Kill()
}
