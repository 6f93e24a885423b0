// Package df is a worklist dataflow framework over function CFGs.
//
// An Analysis bundles a direction, an initial lattice value, a merge and a
// transfer function; the driver iterates to fixpoint. Lattice values are
// sets (mapset.Set); the toolchain is single threaded so the thread-unsafe
// variant is used throughout. Results are snapshots: they do not alias any
// state a later pass may mutate, so they stay valid until the CFG itself
// changes.
package df

import (
	"context"

	mapset "github.com/deckarep/golang-set"
	"tlog.app/go/tlog"

	"github.com/slowlang/tac/compiler/cfg"
)

type (
	Direction int

	Analysis struct {
		Name string
		Dir  Direction

		Init     func() mapset.Set
		Merge    func(vals []mapset.Set) mapset.Set
		Transfer func(n *cfg.Node, in mapset.Set) mapset.Set
	}

	// Result holds per-node lattice values in program order: In flows into
	// the block, Out flows out, regardless of analysis direction.
	Result struct {
		Analysis *Analysis

		In, Out []mapset.Set
	}
)

const (
	Forward Direction = iota
	Backward
)

// Run drives a to fixpoint over g. Termination needs a finite lattice and a
// monotone transfer; every analysis in this package qualifies.
func Run(ctx context.Context, g *cfg.Graph, a *Analysis) *Result {
	tr := tlog.SpanFromContext(ctx)

	in := make([]mapset.Set, len(g.Nodes))
	out := make([]mapset.Set, len(g.Nodes))

	pred := func(n int) []int { return g.Nodes[n].Preds.Slice() }
	succ := func(n int) []int { return g.Nodes[n].Succs.Slice() }
	order := g.ReversePostorder()

	if a.Dir == Backward {
		pred, succ = succ, pred
		order = g.Postorder()
	}

	for _, n := range order {
		in[n] = a.Init()
		out[n] = a.Init()
	}

	q := append([]int(nil), order...)
	queued := make([]bool, len(g.Nodes))

	for _, n := range q {
		queued[n] = true
	}

	rounds := 0

	for len(q) != 0 {
		n := q[0]
		q = q[1:]
		queued[n] = false
		rounds++

		var ins []mapset.Set
		for _, p := range pred(n) {
			if out[p] != nil {
				ins = append(ins, out[p])
			}
		}

		in[n] = a.Merge(ins)

		next := a.Transfer(g.Nodes[n], in[n])

		if next.Equal(out[n]) {
			continue
		}

		out[n] = next

		for _, s := range succ(n) {
			if out[s] != nil && !queued[s] {
				queued[s] = true
				q = append(q, s)
			}
		}
	}

	tr.Printw("dataflow fixpoint", "analysis", a.Name, "func", g.Name, "rounds", rounds)

	if a.Dir == Backward {
		in, out = out, in
	}

	return &Result{Analysis: a, In: in, Out: out}
}

// Union merges by set union; the empty merge is the empty set.
func Union(vals []mapset.Set) mapset.Set {
	r := mapset.NewThreadUnsafeSet()

	for _, v := range vals {
		r = r.Union(v)
	}

	return r
}

func EmptySet() mapset.Set { return mapset.NewThreadUnsafeSet() }

// Verify checks the fixpoint property on a finished result: merged
// neighbor values feed every block and transfer reproduces the other side.
func (r *Result) Verify(g *cfg.Graph) bool {
	for i, n := range g.Nodes {
		if r.In[i] == nil || r.Out[i] == nil {
			continue
		}

		var neigh []int
		var merged, from mapset.Set

		if r.Analysis.Dir == Forward {
			neigh = n.Preds.Slice()
		} else {
			neigh = n.Succs.Slice()
		}

		var vals []mapset.Set

		for _, p := range neigh {
			var v mapset.Set

			if r.Analysis.Dir == Forward {
				v = r.Out[p]
			} else {
				v = r.In[p]
			}

			if v != nil {
				vals = append(vals, v)
			}
		}

		merged = r.Analysis.Merge(vals)

		if r.Analysis.Dir == Forward {
			from = r.In[i]
		} else {
			from = r.Out[i]
		}

		if !merged.Equal(from) {
			return false
		}

		got := r.Analysis.Transfer(n, from)

		var want mapset.Set
		if r.Analysis.Dir == Forward {
			want = r.Out[i]
		} else {
			want = r.In[i]
		}

		if !got.Equal(want) {
			return false
		}
	}

	return true
}
