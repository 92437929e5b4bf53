// Package evalworker implements the evaluation side of the newline-delimited
// JSON protocol spoken by evalbridge. It runs in its own process so that a
// wedged or pathological expression can never stall the engine: the bridge
// kills the whole process when it stops answering.
//
// Protocol: one request object per line on stdin, one response object per
// line on stdout. Responses may arrive out of request order; the id field
// correlates them.
package evalworker

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/expr-lang/expr"
)

// DefaultTimeout is the per-expression evaluation budget.
const DefaultTimeout = 5 * time.Second

// maxLineBytes bounds a single request line.
const maxLineBytes = 8 * 1024 * 1024

// request and response mirror the wire types in evalbridge.
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

// Serve reads requests from r until EOF and writes one response line per
// request to w. Each request is evaluated on its own goroutine so a slow
// expression does not block the ones behind it. Malformed lines get a
// best-effort id 0 failure response instead of crashing the worker.
func Serve(r io.Reader, w io.Writer, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	var mu sync.Mutex // one reply line at a time
	reply := func(resp response) {
		data, err := json.Marshal(resp)
		if err != nil {
			data, _ = json.Marshal(response{ID: resp.ID, OK: false, Error: "result not encodable as JSON"})
		}
		mu.Lock()
		fmt.Fprintf(w, "%s\n", data)
		mu.Unlock()
	}

	var wg sync.WaitGroup
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var req request
		if err := json.Unmarshal(line, &req); err != nil {
			reply(response{ID: 0, OK: false, Error: fmt.Sprintf("malformed request: %v", err)})
			continue
		}
		wg.Add(1)
		go func(req request) {
			defer wg.Done()
			reply(evaluate(req, timeout))
		}(req)
	}
	wg.Wait()
	return scanner.Err()
}

// evaluate runs one expression under the budget. On timeout the losing
// goroutine is abandoned; only process death reclaims it, which is the
// bridge's job once the worker stops answering.
// evalFn runs one expression; swapped in tests to exercise the timeout
// branch without a genuinely slow expression.
var evalFn = run

func evaluate(req request, timeout time.Duration) response {
	done := make(chan response, 1)
	go func() {
		done <- evalFn(req)
	}()
	select {
	case resp := <-done:
		return resp
	case <-time.After(timeout):
		return response{ID: req.ID, OK: false, Error: "evaluation timeout exceeded"}
	}
}

func run(req request) (resp response) {
	// expr-lang panics on some malformed inputs; a panic here must become
	// a failure response, not a dead worker.
	defer func() {
		if r := recover(); r != nil {
			resp = response{ID: req.ID, OK: false, Error: fmt.Sprintf("evaluation panic: %v", r)}
		}
	}()

	env := make(map[string]any, len(req.Bindings))
	for k, v := range req.Bindings {
		env[k] = v
	}

	program, err := expr.Compile(req.Expression, expr.Env(env))
	if err != nil {
		return response{ID: req.ID, OK: false, Error: fmt.Sprintf("compile expression %q: %v", req.Expression, err)}
	}
	output, err := expr.Run(program, env)
	if err != nil {
		return response{ID: req.ID, OK: false, Error: fmt.Sprintf("eval expression %q: %v", req.Expression, err)}
	}

	result, err := json.Marshal(output)
	if err != nil {
		return response{ID: req.ID, OK: false, Error: fmt.Sprintf("result of %q not encodable as JSON", req.Expression)}
	}
	return response{ID: req.ID, OK: true, Result: result}
}
