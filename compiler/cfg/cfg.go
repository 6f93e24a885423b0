// Package cfg builds and mutates per-function control-flow graphs.
//
// Nodes are indices into the owning Graph; edges are bitmap index sets, so
// dominator sets and loop bodies hash and compare for free. Two synthetic
// nodes bracket every graph: Entry has a single successor to the first real
// block, every ret leads to Exit.
package cfg

import (
	"tlog.app/go/errors"

	"github.com/slowlang/tac/compiler/ir"
	"github.com/slowlang/tac/compiler/set"
)

const (
	EntryName = "__entry__"
	ExitName  = "__exit__"
)

type (
	// Block is a straight-line instruction sequence. The terminator lives in
	// the node, not in Code, so edges can be rewritten without touching
	// instruction indices.
	Block struct {
		Name string
		Pos  int
		Code []*ir.Instr
	}

	// Node identity is its index; the name is unique within the graph.
	Node struct {
		Index int
		Name  string
		Block *Block

		Succs set.Bitmap
		Preds set.Bitmap

		// Term is the terminator: jmp, br or ret. Nil on Exit.
		Term *ir.Instr

		removed bool
	}

	Graph struct {
		Name string

		Nodes []*Node

		Entry, Exit int

		byName map[string]int
	}
)

func (g *Graph) Alive(i int) bool {
	return i >= 0 && i < len(g.Nodes) && !g.Nodes[i].removed
}

func (g *Graph) NodeByName(name string) (int, bool) {
	i, ok := g.byName[name]
	return i, ok
}

func (g *Graph) addNode(name string, b *Block) *Node {
	n := &Node{
		Index: len(g.Nodes),
		Name:  name,
		Block: b,
		Succs: set.MakeBitmap(8),
		Preds: set.MakeBitmap(8),
	}

	g.Nodes = append(g.Nodes, n)
	g.byName[name] = n.Index

	return n
}

// AddBlock appends a fresh node to the graph. The name must be unused.
func (g *Graph) AddBlock(name string) *Node {
	return g.addNode(name, &Block{Name: name, Pos: -1})
}

func (g *Graph) addEdge(from, to int) {
	g.Nodes[from].Succs.Set(to)
	g.Nodes[to].Preds.Set(from)
}

func (g *Graph) removeEdge(from, to int) {
	g.Nodes[from].Succs.Clear(to)
	g.Nodes[to].Preds.Clear(from)
}

// SetSuccessor rewires n to a single successor and makes the terminator
// jmp target.
func (g *Graph) SetSuccessor(n, target int) {
	g.dropSuccs(n)
	g.addEdge(n, target)

	g.Nodes[n].Term = &ir.Instr{Op: ir.Jmp, Args: []string{g.Nodes[target].Name}}
}

// SetSuccessors rewires n to a two-way branch on cond.
func (g *Graph) SetSuccessors(n, t, f int, cond string) {
	g.dropSuccs(n)
	g.addEdge(n, t)
	g.addEdge(n, f)

	g.Nodes[n].Term = &ir.Instr{Op: ir.Br, Args: []string{cond, g.Nodes[t].Name, g.Nodes[f].Name}}
}

// ReplaceEdge swaps the n -> oldSucc edge for n -> newSucc and rewrites the
// terminator's label arguments. No-op if the edge does not exist.
func (g *Graph) ReplaceEdge(n, oldSucc, newSucc int) {
	np := g.Nodes[n]

	if !np.Succs.IsSet(oldSucc) {
		return
	}

	g.removeEdge(n, oldSucc)
	g.addEdge(n, newSucc)

	oldName := g.Nodes[oldSucc].Name
	newName := g.Nodes[newSucc].Name

	if np.Term == nil {
		return
	}

	for _, i := range np.Term.Op.Labels() {
		if np.Term.Args[i] == oldName {
			np.Term.Args[i] = newName
		}
	}
}

// Delete detaches every edge of n and marks it removed.
func (g *Graph) Delete(n int) {
	np := g.Nodes[n]

	for _, p := range np.Preds.Slice() {
		g.removeEdge(p, n)
	}

	for _, s := range np.Succs.Slice() {
		g.removeEdge(n, s)
	}

	np.removed = true
}

// AddHeader reroutes every non-back-edge predecessor of header to pre.
// Afterwards header's predecessors are exactly backSrcs plus pre.
func (g *Graph) AddHeader(header, pre int, backSrcs set.Bitmap) {
	for _, p := range g.Nodes[header].Preds.Slice() {
		if backSrcs.IsSet(p) || p == pre {
			continue
		}

		g.ReplaceEdge(p, header, pre)
	}
}

func (g *Graph) dropSuccs(n int) {
	for _, s := range g.Nodes[n].Succs.Slice() {
		g.removeEdge(n, s)
	}
}

// Check asserts graph well-formedness: the bidirectional edge invariant,
// every terminator label naming a successor, no predecessors on Entry and no
// successors on Exit. A successor that no terminator label names is not
// reported. Optimizer bugs, not user errors.
func (g *Graph) Check() error {
	for i, n := range g.Nodes {
		if n.removed {
			continue
		}

		for _, s := range n.Succs.Slice() {
			if !g.Alive(s) {
				return errors.New("%v: successor %v is removed", n.Name, g.Nodes[s].Name)
			}

			if !g.Nodes[s].Preds.IsSet(i) {
				return errors.New("edge %v -> %v has no back link", n.Name, g.Nodes[s].Name)
			}
		}

		for _, p := range n.Preds.Slice() {
			if !g.Nodes[p].Succs.IsSet(i) {
				return errors.New("edge %v <- %v has no forward link", n.Name, g.Nodes[p].Name)
			}
		}

		if n.Term == nil && i != g.Exit {
			return errors.New("%v: no terminator", n.Name)
		}

		if n.Term != nil {
			for _, j := range n.Term.Op.Labels() {
				t, ok := g.byName[n.Term.Args[j]]
				if !ok || !n.Succs.IsSet(t) {
					return errors.New("%v: terminator target %v is not a successor", n.Name, n.Term.Args[j])
				}
			}
		}
	}

	if g.Nodes[g.Entry].Preds.Size() != 0 {
		return errors.New("entry has predecessors")
	}

	if g.Nodes[g.Exit].Succs.Size() != 0 {
		return errors.New("exit has successors")
	}

	return nil
}
