package cfg

import (
	"fmt"

	"github.com/slowlang/tac/compiler/set"
)

// Postorder lists reachable nodes in DFS finishing order over successors,
// starting at the entry.
func (g *Graph) Postorder() []int {
	seen := make([]bool, len(g.Nodes))
	order := make([]int, 0, len(g.Nodes))

	var walk func(n int)
	walk = func(n int) {
		seen[n] = true

		for _, s := range g.Nodes[n].Succs.Slice() {
			if !seen[s] {
				walk(s)
			}
		}

		order = append(order, n)
	}

	walk(g.Entry)

	return order
}

func (g *Graph) ReversePostorder() []int {
	order := g.Postorder()

	for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
		order[i], order[j] = order[j], order[i]
	}

	return order
}

// Dominators computes Dom(n) for every reachable node by iterating
//
//	Dom(n) = {n} ∪ ⋂ Dom(p) over predecessors p
//
// in reverse postorder until fixpoint. The result is indexed by node;
// unreachable nodes get an empty set.
func (g *Graph) Dominators() []set.Bitmap {
	rpo := g.ReversePostorder()

	reachable := set.MakeBitmap(len(g.Nodes))
	for _, n := range rpo {
		reachable.Set(n)
	}

	dom := make([]set.Bitmap, len(g.Nodes))
	for i := range dom {
		dom[i] = set.MakeBitmap(len(g.Nodes))
	}

	for _, n := range rpo {
		if n == g.Entry {
			dom[n].Set(n)
		} else {
			dom[n].Or(reachable)
		}
	}

	for {
		changed := false

		for _, n := range rpo {
			if n == g.Entry {
				continue
			}

			next := reachable.Copy()

			for _, p := range g.Nodes[n].Preds.Slice() {
				if reachable.IsSet(p) {
					next.And(dom[p])
				}
			}

			next.Set(n)

			if !next.Equal(dom[n]) {
				dom[n] = next
				changed = true
			}
		}

		if !changed {
			break
		}
	}

	return dom
}

type (
	// Edge a -> b is a back edge when b dominates a.
	Edge struct {
		From, To int
	}

	// Loop is a natural loop: the header, the back edge tail, and the body
	// as a node index set (header included).
	Loop struct {
		Header, Tail int
		Body         set.Bitmap
	}
)

// BackEdges lists back edges in reverse-postorder discovery order.
func (g *Graph) BackEdges(dom []set.Bitmap) (edges []Edge) {
	for _, n := range g.ReversePostorder() {
		for _, s := range g.Nodes[n].Succs.Slice() {
			if dom[n].IsSet(s) {
				edges = append(edges, Edge{From: n, To: s})
			}
		}
	}

	return edges
}

// NaturalLoops discovers one loop per back edge, in discovery order. The
// body is found by reverse BFS over predecessors from the tail with the
// header pre-visited. Loops sharing a header are not merged.
func (g *Graph) NaturalLoops(dom []set.Bitmap) (loops []Loop) {
	for _, e := range g.BackEdges(dom) {
		l := Loop{Header: e.To, Tail: e.From, Body: set.MakeBitmap(len(g.Nodes))}

		l.Body.Set(e.To)
		l.Body.Set(e.From)

		q := []int{e.From}

		for len(q) != 0 {
			n := q[0]
			q = q[1:]

			for _, p := range g.Nodes[n].Preds.Slice() {
				if !l.Body.IsSet(p) {
					l.Body.Set(p)
					q = append(q, p)
				}
			}
		}

		loops = append(loops, l)
	}

	return loops
}

// InsertPreHeader adds a fresh <header>_preentry node with an empty block
// and a jmp to the loop header, reroutes every non-back-edge predecessor to
// it, and returns its index.
func (g *Graph) InsertPreHeader(l Loop) int {
	name := g.Nodes[l.Header].Name + "_preentry"

	for i := 2; ; i++ {
		if _, taken := g.byName[name]; !taken {
			break
		}

		name = fmt.Sprintf("%s_preentry%d", g.Nodes[l.Header].Name, i)
	}

	pre := g.AddBlock(name)

	g.SetSuccessor(pre.Index, l.Header)

	backSrcs := l.Body.Copy()
	backSrcs.Clear(l.Header)

	g.AddHeader(l.Header, pre.Index, backSrcs)

	return pre.Index
}
