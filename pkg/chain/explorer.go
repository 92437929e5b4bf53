package chain

import (
	"iter"
	"strings"

	"github.com/riftlabs/rift/pkg/generate"
	"github.com/riftlabs/rift/pkg/spec"
)

// Step is one position in a chain: the operation, its generated case, and
// the feeds the previous step's response must supply.
type Step struct {
	Op    *spec.Operation
	Link  string
	Case  *generate.Case
	Feeds map[string]string // parameter -> source expression
}

// Chain is an ordered sequence of at least two linked steps.
type Chain struct {
	Steps []*Step
}

// Sequence is the chain's identity: the joined operation IDs. Two chains
// with the same sequence differ only in generated values.
func (c *Chain) Sequence() string {
	ids := make([]string, len(c.Steps))
	for i, s := range c.Steps {
		ids[i] = s.Op.ID
	}
	return strings.Join(ids, " -> ")
}

// Explorer enumerates chains breadth-first: every chain of length n is
// emitted before any of length n+1.
type Explorer struct {
	Graph       *Graph
	Generator   *generate.Generator
	Mode        generate.Mode
	MaxDepth    int // longest chain emitted
	MaxChains   int // total chains across all sequences
	PerSequence int // chains sharing one operation sequence
}

type path struct {
	ops   []*spec.Operation
	links []string
	feeds []map[string]string // feeds[i] fills step i; feeds[0] is nil
}

func (p path) key() string {
	ids := make([]string, len(p.ops))
	for i, op := range p.ops {
		ids[i] = op.ID
	}
	return strings.Join(ids, " -> ")
}

// Chains returns a lazy, finite sequence of chains. Ranging again restarts
// the walk; cases are generated fresh each time. A generation failure is
// yielded with a nil chain and the walk continues with the next sequence.
func (e *Explorer) Chains() iter.Seq2[*Chain, error] {
	maxDepth := e.MaxDepth
	if maxDepth < 2 {
		maxDepth = 2
	}
	perSeq := e.PerSequence
	if perSeq < 1 {
		perSeq = 1
	}
	return func(yield func(*Chain, error) bool) {
		emitted := 0
		bySeq := map[string]int{}

		frontier := make([]path, 0, len(e.Graph.Starts()))
		for _, op := range e.Graph.Starts() {
			frontier = append(frontier, path{ops: []*spec.Operation{op}, links: []string{""}, feeds: []map[string]string{nil}})
		}

		for depth := 2; depth <= maxDepth && len(frontier) > 0; depth++ {
			var next []path
			for _, p := range frontier {
				if e.MaxChains > 0 && emitted >= e.MaxChains {
					return
				}
				last := p.ops[len(p.ops)-1]
				for _, edge := range e.Graph.Edges(last.ID) {
					ext := path{
						ops:   append(append([]*spec.Operation{}, p.ops...), edge.To),
						links: append(append([]string{}, p.links...), edge.Link),
						feeds: append(append([]map[string]string{}, p.feeds...), edge.Params),
					}
					next = append(next, ext)

					key := ext.key()
					for bySeq[key] < perSeq {
						if e.MaxChains > 0 && emitted >= e.MaxChains {
							return
						}
						ch, err := e.build(ext)
						if err != nil {
							if !yield(nil, err) {
								return
							}
							break // the sequence is unsatisfiable; move on
						}
						bySeq[key]++
						emitted++
						if !yield(ch, nil) {
							return
						}
					}
				}
			}
			frontier = next
		}
	}
}

// build generates the cases for one path. Step 0 is fully resolved; later
// steps leave their fed parameters pending.
func (e *Explorer) build(p path) (*Chain, error) {
	ch := &Chain{Steps: make([]*Step, 0, len(p.ops))}
	for i, op := range p.ops {
		c, err := e.Generator.ChainCase(op, p.feeds[i], e.Mode)
		if err != nil {
			return nil, err
		}
		c.Seq = i
		ch.Steps = append(ch.Steps, &Step{Op: op, Link: p.links[i], Case: c, Feeds: p.feeds[i]})
	}
	return ch, nil
}
