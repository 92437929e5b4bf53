// Package chain discovers multi-step request sequences through the response
// links a specification declares, and pairs every step with a generated case.
package chain

import (
	"sort"

	"github.com/riftlabs/rift/pkg/spec"
)

// Edge is one usable link: a transition whose source response feeds at least
// one declared parameter of the target operation.
type Edge struct {
	Link   string // link name, for reporting
	From   *spec.Operation
	To     *spec.Operation
	Params map[string]string // target parameter -> source expression
}

// Graph is the link transition graph of a document. Immutable after build.
type Graph struct {
	doc   *spec.Document
	edges map[string][]Edge          // from operation ID
	fed   map[string]map[string]bool // operation ID -> parameters fed by any edge
}

// NewGraph builds the transition graph. Links to unknown operations and
// parameter mappings that name a parameter the target never declares are
// dropped; a link with no usable mapping left contributes no edge.
func NewGraph(doc *spec.Document) *Graph {
	g := &Graph{
		doc:   doc,
		edges: map[string][]Edge{},
		fed:   map[string]map[string]bool{},
	}
	for _, op := range doc.Operations {
		for _, l := range op.Links {
			target := doc.Operation(l.Operation)
			if target == nil {
				continue
			}
			usable := map[string]string{}
			for param, source := range l.Parameters {
				if hasParam(target, param) {
					usable[param] = source
				}
			}
			if len(usable) == 0 {
				continue
			}
			g.edges[op.ID] = append(g.edges[op.ID], Edge{Link: l.Name, From: op, To: target, Params: usable})
			if g.fed[target.ID] == nil {
				g.fed[target.ID] = map[string]bool{}
			}
			for param := range usable {
				g.fed[target.ID][param] = true
			}
		}
	}
	return g
}

func hasParam(op *spec.Operation, name string) bool {
	for _, p := range op.Params {
		if p.Name == name {
			return true
		}
	}
	return false
}

// Edges returns the outgoing edges of an operation.
func (g *Graph) Edges(opID string) []Edge {
	return g.edges[opID]
}

// Starts returns the chain start operations: those with no required
// parameter fed by any link. An operation that only exists downstream of a
// create cannot open a chain.
func (g *Graph) Starts() []*spec.Operation {
	var out []*spec.Operation
	for _, op := range g.doc.Operations {
		if g.startable(op) {
			out = append(out, op)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (g *Graph) startable(op *spec.Operation) bool {
	fed := g.fed[op.ID]
	for _, p := range op.Params {
		if p.Required && fed[p.Name] {
			return false
		}
	}
	return true
}
