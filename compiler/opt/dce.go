package opt

import (
	"context"

	mapset "github.com/deckarep/golang-set"
	"tlog.app/go/tlog"

	"github.com/slowlang/tac/compiler/cfg"
	"github.com/slowlang/tac/compiler/df"
)

// DCE deletes pure value writes whose results are definitely not observed.
// Each round recomputes live variables and runs a local killed-locals sweep
// per block; rounds repeat until no block shrinks.
func DCE(ctx context.Context, g *cfg.Graph) error {
	tr := tlog.SpanFromContext(ctx)

	for round := 0; ; round++ {
		live := df.Run(ctx, g, df.LiveVars())

		changed := false

		for i, n := range g.Nodes {
			if !g.Alive(i) || n.Block == nil || live.Out[i] == nil {
				continue
			}

			if dropKilled(n, live.Out[i]) {
				changed = true
			}
		}

		if !changed {
			tr.Printw("dce done", "func", g.Name, "rounds", round+1)

			return nil
		}
	}
}

// dropKilled removes value writes overwritten before any read, plus trailing
// writes whose variable is neither live out of the block nor read by the
// terminator. Effect instructions are never dropped.
func dropKilled(n *cfg.Node, liveOut mapset.Set) bool {
	lastDef := map[string]int{}
	drop := map[int]struct{}{}

	for i, x := range n.Block.Code {
		for _, a := range x.Uses() {
			delete(lastDef, a)
		}

		if !x.Op.IsValue() {
			continue
		}

		if j, ok := lastDef[x.Dest]; ok {
			drop[j] = struct{}{}
		}

		lastDef[x.Dest] = i
	}

	termUses := map[string]struct{}{}

	if n.Term != nil {
		for _, a := range n.Term.Uses() {
			termUses[a] = struct{}{}
		}
	}

	for v, j := range lastDef {
		if _, used := termUses[v]; used {
			continue
		}

		if liveOut.Contains(v) {
			continue
		}

		drop[j] = struct{}{}
	}

	if len(drop) == 0 {
		return false
	}

	code := n.Block.Code[:0]

	for i, x := range n.Block.Code {
		if _, dead := drop[i]; !dead {
			code = append(code, x)
		}
	}

	n.Block.Code = code

	return true
}
