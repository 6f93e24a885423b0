package cfg

import (
	"github.com/slowlang/tac/compiler/ir"
)

// ToFunc serializes the graph back to a linear function: node list order,
// entry and exit skipped, each block emitting its label, its code and its
// terminator. A jmp whose sole successor is the exit becomes a ret.
//
// Execution falls into the first emitted block, so when the entry's
// successor is no longer first in node order (a pre-header appended for the
// first block's loop, say) an explicit jmp leads the item list.
func (g *Graph) ToFunc() *ir.Func {
	f := &ir.Func{Name: g.Name}

	first := -1

	for i, n := range g.Nodes {
		if i == g.Entry || i == g.Exit || n.removed {
			continue
		}

		if first < 0 {
			first = i
		}
	}

	entrySucc := g.Nodes[g.Entry].Succs.First()

	switch {
	case first < 0 || entrySucc == g.Exit:
		f.Items = append(f.Items, ir.Item{Instr: &ir.Instr{Op: ir.Ret}})

		return f
	case entrySucc != first:
		f.Items = append(f.Items, ir.Item{Instr: &ir.Instr{Op: ir.Jmp, Args: []string{g.Nodes[entrySucc].Name}}})
	}

	for i, n := range g.Nodes {
		if i == g.Entry || i == g.Exit || n.removed {
			continue
		}

		f.Items = append(f.Items, ir.Item{Label: n.Name})

		for _, x := range n.Block.Code {
			f.Items = append(f.Items, ir.Item{Instr: x})
		}

		if n.Succs.Size() == 1 && n.Succs.IsSet(g.Exit) {
			f.Items = append(f.Items, ir.Item{Instr: &ir.Instr{Op: ir.Ret}})
		} else {
			f.Items = append(f.Items, ir.Item{Instr: n.Term})
		}
	}

	return f
}
