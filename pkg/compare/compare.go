// Package compare applies path-scoped rules to a pair of step results and
// reports every divergence as a Mismatch. Comparison never fails on data:
// evaluation trouble becomes a mismatch carrying the error text, and only a
// permanently dead evaluator (or a canceled run) aborts.
package compare

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"

	"github.com/riftlabs/rift/pkg/evalbridge"
	"github.com/riftlabs/rift/pkg/executor"
	"github.com/riftlabs/rift/pkg/rules"
)

// Absent marks a value present on one side only.
const Absent = "(absent)"

// Mismatch is one observed divergence between the two targets.
type Mismatch struct {
	Path string `json:"path"`
	Rule string `json:"rule"`
	A    any    `json:"a"`
	B    any    `json:"b"`
}

// Evaluator runs a custom comparison expression with bindings. Satisfied by
// *evalbridge.Bridge.
type Evaluator interface {
	Evaluate(ctx context.Context, expression string, bindings map[string]any) (any, error)
}

// Comparator compares step result pairs under a rule set. Safe for
// concurrent use: rules are read-only and the bridge multiplexes callers.
type Comparator struct {
	Rules  *rules.RuleSet
	Bridge Evaluator
}

// Compare walks status, headers and body of both results and returns every
// mismatch the effective rules let through. The returned error is non-nil
// only when the expression evaluator is permanently gone or the context was
// canceled; everything else is data.
func (c *Comparator) Compare(ctx context.Context, opID string, a, b *executor.StepResult) ([]Mismatch, error) {
	if a.Terminal() && b.Terminal() {
		return nil, nil
	}
	if a.Terminal() != b.Terminal() {
		return []Mismatch{{Path: "$.error", Rule: "transport", A: errView(a), B: errView(b)}}, nil
	}

	rs := c.Rules
	if rs == nil {
		rs = &rules.RuleSet{}
	}
	w := &walker{ctx: ctx, eff: rs.For(opID), bridge: c.Bridge}

	w.node("$.status", a.Status, b.Status)
	w.headers(a.Header, b.Header)
	w.body(a, b)
	return w.found, w.err
}

type walker struct {
	ctx    context.Context
	eff    *rules.Effective
	bridge Evaluator
	found  []Mismatch
	err    error
}

func (w *walker) add(path, rule string, a, b any) {
	w.found = append(w.found, Mismatch{Path: path, Rule: rule, A: a, B: b})
}

// node applies the effective rule at one path. Exact recurses so deeper
// paths get their own rule match; every other kind consumes the node.
func (w *walker) node(path string, a, b any) {
	if w.err != nil {
		return
	}
	rule, _, _ := w.eff.Match(path)
	switch rule.Kind {
	case rules.Ignore:
	case rules.Tolerance:
		w.tolerance(path, rule, a, b)
	case rules.Set:
		w.set(path, rule, a, b)
	case rules.Expr:
		w.expr(path, rule, a, b)
	default:
		w.exact(path, a, b)
	}
}

func (w *walker) exact(path string, a, b any) {
	am, aIsMap := a.(map[string]any)
	bm, bIsMap := b.(map[string]any)
	if aIsMap && bIsMap {
		keys := map[string]bool{}
		for k := range am {
			keys[k] = true
		}
		for k := range bm {
			keys[k] = true
		}
		for _, k := range sorted(keys) {
			av, aok := am[k]
			bv, bok := bm[k]
			if !aok {
				av = Absent
			}
			if !bok {
				bv = Absent
			}
			w.node(path+"."+k, av, bv)
		}
		return
	}

	as, aIsList := a.([]any)
	bs, bIsList := b.([]any)
	if aIsList && bIsList {
		n := len(as)
		if len(bs) > n {
			n = len(bs)
		}
		for i := 0; i < n; i++ {
			var av, bv any = Absent, Absent
			if i < len(as) {
				av = as[i]
			}
			if i < len(bs) {
				bv = bs[i]
			}
			w.node(fmt.Sprintf("%s[%d]", path, i), av, bv)
		}
		return
	}

	if !reflect.DeepEqual(a, b) {
		w.add(path, "exact", a, b)
	}
}

func (w *walker) tolerance(path string, r rules.Rule, a, b any) {
	desc := fmt.Sprintf("tolerance ±%g", r.Epsilon)
	fa, aok := toFloat(a)
	fb, bok := toFloat(b)
	if aok && bok {
		if math.Abs(fa-fb) > r.Epsilon {
			w.add(path, desc, a, b)
		}
		return
	}
	if !reflect.DeepEqual(a, b) {
		w.add(path, desc, a, b)
	}
}

// set compares arrays as sets of unique elements. Duplicate multiplicities
// are invisible to it: [1,1,2] and [1,2,2] count as equal.
func (w *walker) set(path string, _ rules.Rule, a, b any) {
	as, aok := a.([]any)
	bs, bok := b.([]any)
	if !aok || !bok {
		if !reflect.DeepEqual(a, b) {
			w.add(path, "set", a, b)
		}
		return
	}
	sa := elementSet(as)
	sb := elementSet(bs)
	if len(sa) != len(sb) {
		w.add(path, "set", a, b)
		return
	}
	for k := range sa {
		if !sb[k] {
			w.add(path, "set", a, b)
			return
		}
	}
}

func (w *walker) expr(path string, r rules.Rule, a, b any) {
	text := r.Interpolate()
	if w.bridge == nil {
		w.add(path, fmt.Sprintf("expression rule %q has no evaluator configured", text), a, b)
		return
	}
	out, err := w.bridge.Evaluate(w.ctx, text, map[string]any{"a": a, "b": b})
	switch {
	case err == nil:
		if !truthy(out) {
			w.add(path, "expr: "+text, a, b)
		}
	case errors.Is(err, evalbridge.ErrUnavailable),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		w.err = err
	default:
		w.add(path, err.Error(), a, b)
	}
}

// headers compares the union of header names, first value only, under
// lowercased names.
func (w *walker) headers(a, b map[string][]string) {
	fa := firstValues(a)
	fb := firstValues(b)
	names := map[string]bool{}
	for k := range fa {
		names[k] = true
	}
	for k := range fb {
		names[k] = true
	}
	for _, name := range sorted(names) {
		av, aok := fa[name]
		bv, bok := fb[name]
		var l, r any = av, bv
		if !aok {
			l = Absent
		}
		if !bok {
			r = Absent
		}
		w.node("$.header."+name, l, r)
	}
}

func (w *walker) body(a, b *executor.StepResult) {
	if rule, _, ok := w.eff.Match("$"); ok && rule.Kind == rules.Ignore {
		return
	}
	switch {
	case a.Parsed && b.Parsed:
		w.node("$", a.Body, b.Body)
	case a.Parsed || b.Parsed:
		w.add("$", "body", bodyView(a), bodyView(b))
	default:
		if !bytes.Equal(a.RawBody, b.RawBody) {
			w.add("$", "body", bodyView(a), bodyView(b))
		}
	}
}

func errView(r *executor.StepResult) any {
	if r.Terminal() {
		return r.Err
	}
	return fmt.Sprintf("status %d", r.Status)
}

func bodyView(r *executor.StepResult) any {
	switch {
	case r.Parsed:
		return r.Body
	case r.BodyErr != "":
		return r.BodyErr
	case len(r.RawBody) > 0:
		return truncate(string(r.RawBody), 256)
	default:
		return Absent
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func firstValues(h map[string][]string) map[string]string {
	out := make(map[string]string, len(h))
	for k, vs := range h {
		if len(vs) > 0 {
			out[strings.ToLower(k)] = vs[0]
		}
	}
	return out
}

func elementSet(list []any) map[string]bool {
	out := make(map[string]bool, len(list))
	for _, v := range list {
		data, err := json.Marshal(v)
		if err != nil {
			data = []byte(fmt.Sprintf("%#v", v))
		}
		out[string(data)] = true
	}
	return out
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != ""
	default:
		return true
	}
}

func sorted(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
