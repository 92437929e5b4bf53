package replay

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/riftlabs/rift/pkg/bundle"
	"github.com/riftlabs/rift/pkg/compare"
	"github.com/riftlabs/rift/pkg/executor"
	"github.com/riftlabs/rift/pkg/generate"
	"github.com/riftlabs/rift/pkg/rules"
)

// itemsServer mimics a tiny items API: POST /items creates, GET fetches.
type itemsServer struct {
	id   string // id handed out by POST /items
	name string // name returned on GET

	mu   sync.Mutex
	gets []string
}

func (s *itemsServer) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/items":
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusCreated)
			fmt.Fprintf(w, `{"id":%q}`, s.id)
		case r.Method == http.MethodGet:
			s.mu.Lock()
			s.gets = append(s.gets, r.URL.Path)
			s.mu.Unlock()
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprintf(w, `{"name":%q}`, s.name)
		default:
			http.NotFound(w, r)
		}
	})
}

// testBundle is a two-step reproduction: createItem feeds getItem's item_id.
func testBundle(mmPath string) *bundle.Bundle {
	c1 := &generate.Case{Operation: "createItem", Method: "POST", PathTemplate: "/items",
		MediaType: "application/json", Body: map[string]any{"name": "thing"}, Mode: generate.Positive}
	r1a := &executor.StepResult{Target: "a", Status: 201, Parsed: true,
		Body: map[string]any{"id": "1"}, RawBody: []byte(`{"id":"1"}`)}
	r1b := &executor.StepResult{Target: "b", Status: 201, Parsed: true,
		Body: map[string]any{"id": "1"}, RawBody: []byte(`{"id":"1"}`)}

	c2 := &generate.Case{Operation: "getItem", Method: "GET", PathTemplate: "/items/{item_id}",
		PathParams: map[string]string{"item_id": "1"}, Mode: generate.Positive}
	r2a := &executor.StepResult{Target: "a", Status: 200, Parsed: true,
		Body: map[string]any{"name": "x"}, RawBody: []byte(`{"name":"x"}`)}
	r2b := &executor.StepResult{Target: "b", Status: 200, Parsed: true,
		Body: map[string]any{"name": "y"}, RawBody: []byte(`{"name":"y"}`)}

	steps := []bundle.StepRecord{
		{Case: c1, A: r1a, B: r1b},
		{Case: c2, Feeds: map[string]string{"item_id": "$response.body#/id"}, A: r2a, B: r2b},
	}
	mm := []compare.Mismatch{{Path: mmPath, Rule: "exact", A: "x", B: "y"}}
	return bundle.New("testdata/items.yaml", steps, mm)
}

func newEngine(t *testing.T, aURL, bURL string) *Engine {
	t.Helper()
	return &Engine{
		Dual: &executor.Dual{
			A:           executor.NewTarget("a", aURL, time.Second),
			B:           executor.NewTarget("b", bURL, time.Second),
			StepTimeout: time.Second,
		},
		Comparator: &compare.Comparator{Rules: &rules.RuleSet{Defaults: rules.Builtin()}},
		Store:      bundle.NewStore(t.TempDir()),
	}
}

func TestReplay_FixedAndReResolved(t *testing.T) {
	sa := &itemsServer{id: "fresh999", name: "same"}
	sb := &itemsServer{id: "fresh999", name: "same"}
	srvA := httptest.NewServer(sa.handler())
	defer srvA.Close()
	srvB := httptest.NewServer(sb.handler())
	defer srvB.Close()

	e := newEngine(t, srvA.URL, srvB.URL)
	b := testBundle("$.name")
	out, err := e.Replay(context.Background(), b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Classification != Fixed {
		t.Errorf("classification = %s, want fixed (%+v)", out.Classification, out.Mismatches)
	}

	// item_id must come from the fresh POST response, not the stored "1".
	if len(sa.gets) != 1 || sa.gets[0] != "/items/fresh999" {
		t.Errorf("target a GETs = %v, want /items/fresh999", sa.gets)
	}

	// The fresh bundle holds current responses under the original key.
	if out.BundleDir == "" {
		t.Fatal("no fresh bundle written")
	}
	if filepath.Base(out.BundleDir) != b.Key {
		t.Errorf("bundle dir = %s, want key %s", out.BundleDir, b.Key)
	}
	fresh, err := bundle.Load(out.BundleDir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	body, ok := fresh.Steps[0].A.Body.(map[string]any)
	if !ok || body["id"] != "fresh999" {
		t.Errorf("fresh bundle carries stale response: %+v", fresh.Steps[0].A.Body)
	}
	if len(fresh.Mismatches) != 0 {
		t.Errorf("fresh bundle mismatches = %+v, want none", fresh.Mismatches)
	}
}

func TestReplay_PersistentByPathNotValue(t *testing.T) {
	srvA := httptest.NewServer((&itemsServer{id: "9", name: "alpha"}).handler())
	defer srvA.Close()
	srvB := httptest.NewServer((&itemsServer{id: "9", name: "beta"}).handler())
	defer srvB.Close()

	out, err := newEngine(t, srvA.URL, srvB.URL).Replay(context.Background(), testBundle("$.name"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Classification != Persistent {
		t.Errorf("classification = %s, want persistent (%+v)", out.Classification, out.Mismatches)
	}
}

func TestReplay_DifferentPathIsDifferent(t *testing.T) {
	srvA := httptest.NewServer((&itemsServer{id: "9", name: "alpha"}).handler())
	defer srvA.Close()
	srvB := httptest.NewServer((&itemsServer{id: "9", name: "beta"}).handler())
	defer srvB.Close()

	// The original failure was at $.id; today only $.name diverges.
	out, err := newEngine(t, srvA.URL, srvB.URL).Replay(context.Background(), testBundle("$.id"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Classification != Different {
		t.Errorf("classification = %s, want different (%+v)", out.Classification, out.Mismatches)
	}
	if len(out.Mismatches) != 1 || out.Mismatches[0].Path != "$.name" {
		t.Errorf("mismatches = %+v", out.Mismatches)
	}
}

func TestReplay_DeadTargetIsError(t *testing.T) {
	srvA := httptest.NewServer((&itemsServer{id: "9", name: "alpha"}).handler())
	defer srvA.Close()
	srvB := httptest.NewServer(http.NotFoundHandler())
	deadURL := srvB.URL
	srvB.Close()

	out, err := newEngine(t, srvA.URL, deadURL).Replay(context.Background(), testBundle("$.name"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Classification != Error {
		t.Errorf("classification = %s, want error", out.Classification)
	}
	if out.Detail == "" {
		t.Error("error outcome without detail")
	}
	if out.BundleDir == "" {
		t.Error("error replays must still write a fresh bundle")
	}
	if _, err := os.Stat(filepath.Join(out.BundleDir, "descriptor.json")); err != nil {
		t.Errorf("fresh bundle descriptor missing: %v", err)
	}
}
