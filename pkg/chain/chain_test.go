package chain

import (
	"testing"

	"github.com/riftlabs/rift/pkg/generate"
	"github.com/riftlabs/rift/pkg/spec"
)

func itemsDoc() *spec.Document {
	create := &spec.Operation{
		ID:     "createItem",
		Method: "POST",
		Path:   "/items",
		Links: []spec.Link{
			{Name: "GetItemById", Operation: "getItem", Parameters: map[string]string{"item_id": "$response.body#/id"}},
		},
	}
	get := &spec.Operation{
		ID:     "getItem",
		Method: "GET",
		Path:   "/items/{item_id}",
		Params: []spec.Parameter{
			{Name: "item_id", In: spec.InPath, Required: true, Schema: &spec.Schema{Type: "string"}},
		},
		Links: []spec.Link{
			{Name: "ItemComments", Operation: "listComments", Parameters: map[string]string{"item_id": "$response.body#/id"}},
		},
	}
	comments := &spec.Operation{
		ID:     "listComments",
		Method: "GET",
		Path:   "/items/{item_id}/comments",
		Params: []spec.Parameter{
			{Name: "item_id", In: spec.InPath, Required: true, Schema: &spec.Schema{Type: "string"}},
		},
	}
	return &spec.Document{Title: "items", Operations: []*spec.Operation{create, get, comments}}
}

func TestGraph_StartsExcludeLinkFedOperations(t *testing.T) {
	g := NewGraph(itemsDoc())
	starts := g.Starts()
	if len(starts) != 1 || starts[0].ID != "createItem" {
		ids := make([]string, len(starts))
		for i, op := range starts {
			ids[i] = op.ID
		}
		t.Errorf("starts = %v, want [createItem]", ids)
	}
}

func TestGraph_DropsUnusableLinkParams(t *testing.T) {
	doc := &spec.Document{Operations: []*spec.Operation{
		{
			ID: "a", Method: "POST", Path: "/a",
			Links: []spec.Link{
				{Name: "ToB", Operation: "b", Parameters: map[string]string{"nope": "$response.body#/id"}},
			},
		},
		{ID: "b", Method: "GET", Path: "/b"},
	}}
	g := NewGraph(doc)
	if edges := g.Edges("a"); len(edges) != 0 {
		t.Errorf("edges = %d, want 0: link feeds a parameter b never declares", len(edges))
	}
	starts := g.Starts()
	if len(starts) != 2 {
		t.Errorf("starts = %d, want both operations", len(starts))
	}
}

func TestExplorer_ShorterChainsFirst(t *testing.T) {
	e := &Explorer{
		Graph:       NewGraph(itemsDoc()),
		Generator:   generate.New(42),
		Mode:        generate.Positive,
		MaxDepth:    3,
		MaxChains:   0,
		PerSequence: 2,
	}
	var got []string
	for ch, err := range e.Chains() {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		got = append(got, ch.Sequence())
	}
	want := []string{
		"createItem -> getItem",
		"createItem -> getItem",
		"createItem -> getItem -> listComments",
		"createItem -> getItem -> listComments",
	}
	if len(got) != len(want) {
		t.Fatalf("chains = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("chain[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestExplorer_MaxChainsCap(t *testing.T) {
	e := &Explorer{
		Graph:       NewGraph(itemsDoc()),
		Generator:   generate.New(42),
		Mode:        generate.Positive,
		MaxDepth:    3,
		MaxChains:   3,
		PerSequence: 2,
	}
	n := 0
	for _, err := range e.Chains() {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		n++
	}
	if n != 3 {
		t.Errorf("chains = %d, want 3", n)
	}
}

func TestExplorer_StepFeedsLeavePending(t *testing.T) {
	e := &Explorer{
		Graph:       NewGraph(itemsDoc()),
		Generator:   generate.New(1),
		Mode:        generate.Positive,
		MaxDepth:    2,
		PerSequence: 1,
	}
	for ch, err := range e.Chains() {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(ch.Steps) != 2 {
			t.Fatalf("steps = %d, want 2", len(ch.Steps))
		}
		first, second := ch.Steps[0], ch.Steps[1]
		if !first.Case.Resolved() {
			t.Errorf("first step must be fully resolved, pending %+v", first.Case.Pending)
		}
		if second.Case.Resolved() {
			t.Error("second step must leave the linked parameter pending")
		}
		if second.Feeds["item_id"] != "$response.body#/id" {
			t.Errorf("feeds = %+v", second.Feeds)
		}
	}
}

func TestExplorer_RestartRepeatsTheWalk(t *testing.T) {
	e := &Explorer{
		Graph:       NewGraph(itemsDoc()),
		Generator:   generate.New(9),
		Mode:        generate.Positive,
		MaxDepth:    2,
		PerSequence: 1,
	}
	seq := e.Chains()
	count := func() int {
		n := 0
		for _, err := range seq {
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			n++
		}
		return n
	}
	if a, b := count(), count(); a != b || a == 0 {
		t.Errorf("restart walked %d then %d chains", a, b)
	}
}
