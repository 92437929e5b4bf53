package inspect

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/riftlabs/rift/pkg/bundle"
	"github.com/riftlabs/rift/pkg/compare"
	"github.com/riftlabs/rift/pkg/executor"
	"github.com/riftlabs/rift/pkg/generate"
)

func seedStore(t *testing.T) (string, []*bundle.Bundle) {
	t.Helper()
	dir := t.TempDir()
	store := bundle.NewStore(dir)

	chain := bundle.New("items.yaml", []bundle.StepRecord{
		{
			Case: &generate.Case{Operation: "createItem", Method: "POST", PathTemplate: "/items"},
			A:    &executor.StepResult{Target: "a", Status: 201},
			B:    &executor.StepResult{Target: "b", Status: 201},
		},
		{
			Case:  &generate.Case{Operation: "getItem", Method: "GET", PathTemplate: "/items/{item_id}"},
			Feeds: map[string]string{"item_id": "$response.body#/id"},
			A:     &executor.StepResult{Target: "a", Status: 200},
			B:     &executor.StepResult{Target: "b", Status: 200},
		},
	}, []compare.Mismatch{
		{Path: "$.name", Rule: "exact", A: "widget", B: "widget-b"},
	})

	single := bundle.New("items.yaml", []bundle.StepRecord{
		{
			Case: &generate.Case{Operation: "deleteItem", Method: "DELETE", PathTemplate: "/items/{item_id}"},
			A:    &executor.StepResult{Target: "a", Status: 204},
			B:    &executor.StepResult{Target: "b", Err: "connection refused"},
		},
	}, []compare.Mismatch{
		{Path: "$.status", Rule: "exact", A: 204, B: 0},
		{Path: "$.error", Rule: "exact", A: nil, B: "connection refused"},
	})

	for _, b := range []*bundle.Bundle{chain, single} {
		if _, err := store.Write(b); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	return dir, []*bundle.Bundle{chain, single}
}

func newTestInspector(t *testing.T, dir string) (*Inspector, *bytes.Buffer) {
	t.Helper()
	insp, err := New(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var buf bytes.Buffer
	insp.output = &buf
	return insp, &buf
}

func TestInspector_List(t *testing.T) {
	dir, bundles := seedStore(t)
	insp, buf := newTestInspector(t, dir)

	if !insp.handle("list") {
		t.Fatalf("list ended the session")
	}
	out := buf.String()
	for _, b := range bundles {
		if !strings.Contains(out, b.Key) {
			t.Errorf("list output missing key %s:\n%s", b.Key, out)
		}
	}
	if !strings.Contains(out, "createItem -> getItem") {
		t.Errorf("list output missing sequence:\n%s", out)
	}
	if !strings.Contains(out, "2 mismatches") {
		t.Errorf("list output missing mismatch count:\n%s", out)
	}
}

func TestInspector_Show(t *testing.T) {
	dir, bundles := seedStore(t)
	insp, buf := newTestInspector(t, dir)

	// A key prefix is enough.
	insp.handle("show " + bundles[0].Key[:6])

	out := buf.String()
	for _, want := range []string{
		"key:      " + bundles[0].Key,
		"sequence: createItem -> getItem",
		"POST /items",
		"GET /items/{item_id}",
		"a: 201   b: 201",
		"failing:  $.name",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("show output missing %q:\n%s", want, out)
		}
	}
}

func TestInspector_ShowTerminalSide(t *testing.T) {
	dir, bundles := seedStore(t)
	insp, buf := newTestInspector(t, dir)

	insp.handle("s " + bundles[1].Key)

	out := buf.String()
	if !strings.Contains(out, "a: 204   b: error: connection refused") {
		t.Errorf("show output missing terminal side:\n%s", out)
	}
}

func TestInspector_Mismatches(t *testing.T) {
	dir, bundles := seedStore(t)
	insp, buf := newTestInspector(t, dir)

	insp.handle("mismatches " + bundles[0].Key)

	out := buf.String()
	for _, want := range []string{"$.name (exact)", `a: "widget"`, `b: "widget-b"`} {
		if !strings.Contains(out, want) {
			t.Errorf("mismatches output missing %q:\n%s", want, out)
		}
	}
}

func TestInspector_Errors(t *testing.T) {
	dir, _ := seedStore(t)

	t.Run("unknown key", func(t *testing.T) {
		insp, buf := newTestInspector(t, dir)
		insp.handle("show ffffffffffff")
		if !strings.Contains(buf.String(), `no bundle with key "ffffffffffff"`) {
			t.Errorf("unexpected output: %s", buf.String())
		}
	})

	t.Run("missing argument", func(t *testing.T) {
		insp, buf := newTestInspector(t, dir)
		insp.handle("show")
		if !strings.Contains(buf.String(), "Usage: show <key>") {
			t.Errorf("unexpected output: %s", buf.String())
		}
	})

	t.Run("unknown command", func(t *testing.T) {
		insp, buf := newTestInspector(t, dir)
		insp.handle("frobnicate")
		if !strings.Contains(buf.String(), `Unknown command: "frobnicate"`) {
			t.Errorf("unexpected output: %s", buf.String())
		}
	})
}

func TestInspector_QuitAndBlank(t *testing.T) {
	dir, _ := seedStore(t)
	insp, _ := newTestInspector(t, dir)

	if !insp.handle("") {
		t.Errorf("blank line ended the session")
	}
	if !insp.handle("help") {
		t.Errorf("help ended the session")
	}
	if insp.handle("q") {
		t.Errorf("quit did not end the session")
	}
}

func TestInspector_CorruptSkipped(t *testing.T) {
	dir, _ := seedStore(t)
	bad := filepath.Join(dir, "mismatches", "deadbeef0000")
	if err := os.MkdirAll(bad, 0o755); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := os.WriteFile(filepath.Join(bad, "descriptor.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	insp, _ := newTestInspector(t, dir)
	if insp.corrupt != 1 {
		t.Errorf("corrupt = %d, want 1", insp.corrupt)
	}
	if len(insp.bundles) != 2 {
		t.Errorf("len(bundles) = %d, want 2", len(insp.bundles))
	}
}
