package compare

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/riftlabs/rift/pkg/evalbridge"
	"github.com/riftlabs/rift/pkg/executor"
	"github.com/riftlabs/rift/pkg/rules"
)

func jsonResult(t *testing.T, status int, body string) *executor.StepResult {
	t.Helper()
	res := &executor.StepResult{Target: "x", Status: status}
	if body != "" {
		var v any
		if err := json.Unmarshal([]byte(body), &v); err != nil {
			t.Fatalf("fixture body: %v", err)
		}
		res.Body = v
		res.Parsed = true
		res.RawBody = []byte(body)
	}
	return res
}

type fakeEval struct {
	result      any
	err         error
	gotExpr     string
	gotBindings map[string]any
}

func (f *fakeEval) Evaluate(ctx context.Context, expression string, bindings map[string]any) (any, error) {
	f.gotExpr = expression
	f.gotBindings = bindings
	return f.result, f.err
}

func TestCompare_EqualResponses(t *testing.T) {
	c := &Comparator{}
	a := jsonResult(t, 200, `{"id":"abc","tags":["x","y"],"meta":{"n":1}}`)
	b := jsonResult(t, 200, `{"meta":{"n":1},"tags":["x","y"],"id":"abc"}`)
	got, err := c.Compare(context.Background(), "getItem", a, b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("mismatches = %+v, want none", got)
	}
}

func TestCompare_StatusDivergence(t *testing.T) {
	c := &Comparator{}
	got, err := c.Compare(context.Background(), "getItem",
		jsonResult(t, 200, `{}`), jsonResult(t, 500, `{}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].Path != "$.status" {
		t.Fatalf("mismatches = %+v, want one at $.status", got)
	}
	if got[0].A != 200 || got[0].B != 500 {
		t.Errorf("values = %v / %v", got[0].A, got[0].B)
	}
}

func TestCompare_SameErrorStatusIsAgreement(t *testing.T) {
	c := &Comparator{}
	got, err := c.Compare(context.Background(), "getItem",
		jsonResult(t, 404, `{"error":"not found"}`), jsonResult(t, 404, `{"error":"not found"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("mismatches = %+v, want none", got)
	}
}

func TestCompare_HeaderFirstValueOnly(t *testing.T) {
	c := &Comparator{}
	a := jsonResult(t, 200, "")
	a.Header = map[string][]string{"X": {"a", "b"}}
	b := jsonResult(t, 200, "")
	b.Header = map[string][]string{"X": {"a", "c"}}
	got, err := c.Compare(context.Background(), "getItem", a, b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("mismatches = %+v, second header values must not count", got)
	}
}

func TestCompare_HeaderDivergenceAndBuiltinIgnores(t *testing.T) {
	c := &Comparator{Rules: &rules.RuleSet{Defaults: rules.Builtin()}}
	a := jsonResult(t, 200, "")
	a.Header = map[string][]string{"Date": {"Mon, 01 Jan"}, "X-Mode": {"fast"}}
	b := jsonResult(t, 200, "")
	b.Header = map[string][]string{"Date": {"Tue, 02 Jan"}, "X-Mode": {"slow"}}
	got, err := c.Compare(context.Background(), "getItem", a, b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("mismatches = %+v, want only x-mode", got)
	}
	if got[0].Path != "$.header.x-mode" || got[0].A != "fast" || got[0].B != "slow" {
		t.Errorf("mismatch = %+v", got[0])
	}
}

func TestCompare_HeaderAbsentOnOneSide(t *testing.T) {
	c := &Comparator{}
	a := jsonResult(t, 200, "")
	a.Header = map[string][]string{"X-Extra": {"1"}}
	b := jsonResult(t, 200, "")
	got, err := c.Compare(context.Background(), "getItem", a, b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].Path != "$.header.x-extra" || got[0].B != Absent {
		t.Fatalf("mismatches = %+v, want x-extra absent on b", got)
	}
}

func TestCompare_BodyWalk(t *testing.T) {
	c := &Comparator{}
	a := jsonResult(t, 200, `{"items":[{"name":"first"},{"name":"second"}],"total":2}`)
	b := jsonResult(t, 200, `{"items":[{"name":"first"},{"name":"other"}]}`)
	got, err := c.Compare(context.Background(), "listItems", a, b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("mismatches = %+v, want 2", got)
	}
	if got[0].Path != "$.items[1].name" || got[0].A != "second" || got[0].B != "other" {
		t.Errorf("first = %+v", got[0])
	}
	if got[1].Path != "$.total" || got[1].B != Absent {
		t.Errorf("second = %+v", got[1])
	}
}

func TestCompare_ArrayOrderMattersUnderExact(t *testing.T) {
	c := &Comparator{}
	got, err := c.Compare(context.Background(), "listItems",
		jsonResult(t, 200, `[1,2]`), jsonResult(t, 200, `[2,1]`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || got[0].Path != "$[0]" || got[1].Path != "$[1]" {
		t.Errorf("mismatches = %+v, want both indices", got)
	}
}

func TestCompare_Tolerance(t *testing.T) {
	rs := &rules.RuleSet{Operations: map[string]map[string]rules.Rule{
		"getItem": {"$.score": {Kind: rules.Tolerance, Epsilon: 0.2}},
	}}
	c := &Comparator{Rules: rs}

	got, err := c.Compare(context.Background(), "getItem",
		jsonResult(t, 200, `{"score":1.5}`), jsonResult(t, 200, `{"score":1.6}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("within epsilon still mismatched: %+v", got)
	}

	got, err = c.Compare(context.Background(), "getItem",
		jsonResult(t, 200, `{"score":1.5}`), jsonResult(t, 200, `{"score":2.5}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].Rule != "tolerance ±0.2" {
		t.Errorf("mismatches = %+v", got)
	}
}

func TestCompare_SetRuleIgnoresMultiplicity(t *testing.T) {
	rs := &rules.RuleSet{Defaults: map[string]rules.Rule{
		"$.tags": {Kind: rules.Set},
	}}
	c := &Comparator{Rules: rs}

	got, err := c.Compare(context.Background(), "getItem",
		jsonResult(t, 200, `{"tags":[1,1,2]}`), jsonResult(t, 200, `{"tags":[1,2,2]}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("equal element sets mismatched: %+v", got)
	}

	got, err = c.Compare(context.Background(), "getItem",
		jsonResult(t, 200, `{"tags":[1,2]}`), jsonResult(t, 200, `{"tags":[1,3]}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].Rule != "set" {
		t.Errorf("mismatches = %+v", got)
	}
}

func TestCompare_ExprRule(t *testing.T) {
	rs := &rules.RuleSet{Defaults: map[string]rules.Rule{
		"$.id": {Kind: rules.Expr, Expr: `len(a) == len(b)`},
	}}

	t.Run("truthy result is agreement", func(t *testing.T) {
		eval := &fakeEval{result: true}
		c := &Comparator{Rules: rs, Bridge: eval}
		got, err := c.Compare(context.Background(), "getItem",
			jsonResult(t, 200, `{"id":"aaa"}`), jsonResult(t, 200, `{"id":"bbb"}`))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(got) != 0 {
			t.Errorf("mismatches = %+v", got)
		}
		if eval.gotExpr != `len(a) == len(b)` {
			t.Errorf("expression = %q", eval.gotExpr)
		}
		if eval.gotBindings["a"] != "aaa" || eval.gotBindings["b"] != "bbb" {
			t.Errorf("bindings = %+v", eval.gotBindings)
		}
	})

	t.Run("falsy result is a mismatch", func(t *testing.T) {
		c := &Comparator{Rules: rs, Bridge: &fakeEval{result: false}}
		got, err := c.Compare(context.Background(), "getItem",
			jsonResult(t, 200, `{"id":"aaa"}`), jsonResult(t, 200, `{"id":"zz"}`))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(got) != 1 || got[0].Rule != "expr: len(a) == len(b)" {
			t.Errorf("mismatches = %+v", got)
		}
	})

	t.Run("evaluation failure is a mismatch with the error text", func(t *testing.T) {
		evalErr := &evalbridge.EvalError{Expression: "len(a) == len(b)", Reason: "evaluation timeout exceeded"}
		c := &Comparator{Rules: rs, Bridge: &fakeEval{err: evalErr}}
		got, err := c.Compare(context.Background(), "getItem",
			jsonResult(t, 200, `{"id":"aaa"}`), jsonResult(t, 200, `{"id":"bbb"}`))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(got) != 1 || got[0].Rule != evalErr.Error() {
			t.Errorf("mismatches = %+v", got)
		}
	})

	t.Run("dead evaluator aborts", func(t *testing.T) {
		c := &Comparator{Rules: rs, Bridge: &fakeEval{err: evalbridge.ErrUnavailable}}
		_, err := c.Compare(context.Background(), "getItem",
			jsonResult(t, 200, `{"id":"aaa"}`), jsonResult(t, 200, `{"id":"bbb"}`))
		if !errors.Is(err, evalbridge.ErrUnavailable) {
			t.Fatalf("error = %v, want ErrUnavailable", err)
		}
	})
}

func TestCompare_TerminalHandling(t *testing.T) {
	c := &Comparator{}
	dead := &executor.StepResult{Target: "b", Err: "connection refused"}

	got, err := c.Compare(context.Background(), "getItem", jsonResult(t, 200, `{}`), dead)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].Path != "$.error" || got[0].Rule != "transport" {
		t.Fatalf("mismatches = %+v, want one transport mismatch", got)
	}
	if got[0].A != "status 200" || got[0].B != "connection refused" {
		t.Errorf("values = %v / %v", got[0].A, got[0].B)
	}

	got, err = c.Compare(context.Background(), "getItem",
		&executor.StepResult{Target: "a", Err: "timeout"}, dead)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("both terminal must not mismatch: %+v", got)
	}
}

func TestCompare_BodyParseDivergence(t *testing.T) {
	c := &Comparator{}
	a := jsonResult(t, 200, `{"ok":true}`)
	b := &executor.StepResult{Target: "b", Status: 200,
		BodyErr: "declared JSON does not parse: unexpected end of JSON input",
		RawBody: []byte(`{"ok":`)}
	got, err := c.Compare(context.Background(), "getItem", a, b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].Path != "$" || got[0].Rule != "body" {
		t.Fatalf("mismatches = %+v, want one body mismatch", got)
	}
	if got[0].B != b.BodyErr {
		t.Errorf("B = %v, want parse error text", got[0].B)
	}
}

func TestCompare_IgnoreWholeBody(t *testing.T) {
	rs := &rules.RuleSet{Defaults: map[string]rules.Rule{
		"$": {Kind: rules.Ignore},
	}}
	c := &Comparator{Rules: rs}
	got, err := c.Compare(context.Background(), "getItem",
		jsonResult(t, 200, `{"x":1}`), jsonResult(t, 200, `{"x":2}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("mismatches = %+v, want none with body ignored", got)
	}
}

func TestCompare_SetRuleOnRootArray(t *testing.T) {
	rs := &rules.RuleSet{Defaults: map[string]rules.Rule{
		"$": {Kind: rules.Set},
	}}
	c := &Comparator{Rules: rs}

	got, err := c.Compare(context.Background(), "listItems",
		jsonResult(t, 200, `[1,2,3]`), jsonResult(t, 200, `[3,2,1]`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("reordered root array mismatched under set rule: %+v", got)
	}

	got, err = c.Compare(context.Background(), "listItems",
		jsonResult(t, 200, `[1,2]`), jsonResult(t, 200, `[1,4]`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].Path != "$" || got[0].Rule != "set" {
		t.Errorf("mismatches = %+v, want one set mismatch at the root", got)
	}
}

func TestCompare_OperationScopeOverridesDefault(t *testing.T) {
	rs := &rules.RuleSet{
		Defaults: map[string]rules.Rule{"$.n": {Kind: rules.Ignore}},
		Operations: map[string]map[string]rules.Rule{
			"getItem": {"$.n": {Kind: rules.Exact}},
		},
	}
	c := &Comparator{Rules: rs}

	got, err := c.Compare(context.Background(), "getItem",
		jsonResult(t, 200, `{"n":1}`), jsonResult(t, 200, `{"n":2}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("scoped exact did not replace default ignore: %+v", got)
	}

	got, err = c.Compare(context.Background(), "otherOp",
		jsonResult(t, 200, `{"n":1}`), jsonResult(t, 200, `{"n":2}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("default ignore gone for unscoped operation: %+v", got)
	}
}
