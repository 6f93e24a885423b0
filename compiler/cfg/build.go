package cfg

import (
	"context"
	"fmt"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/tac/compiler/ir"
)

// Build slices a function's linear item list into basic blocks, installs
// edges and prunes blocks unreachable from the entry.
func Build(ctx context.Context, f *ir.Func) (g *Graph, err error) {
	tr := tlog.SpanFromContext(ctx)

	blocks, err := splitBlocks(f)
	if err != nil {
		return nil, err
	}

	g = &Graph{
		Name:   f.Name,
		byName: map[string]int{},
	}

	entry := g.addNode(EntryName, nil)
	g.Entry = entry.Index

	for _, b := range blocks {
		if _, ok := g.byName[b.Name]; ok {
			return nil, errors.New("duplicate label: %v", b.Name)
		}

		g.addNode(b.Name, b)
	}

	exit := g.addNode(ExitName, nil)
	g.Exit = exit.Index

	if len(blocks) == 0 {
		entry.Term = &ir.Instr{Op: ir.Ret}
	} else {
		entry.Term = &ir.Instr{Op: ir.Jmp, Args: []string{blocks[0].Name}}
	}

	g.normalize()

	err = g.installEdges()
	if err != nil {
		return nil, err
	}

	g.pruneUnreachable()

	tr.Printw("cfg built", "func", f.Name, "blocks", len(blocks), "nodes", len(g.Nodes))

	return g, nil
}

// splitBlocks walks items left to right accumulating a current block.
// A label opens a new block; a terminator closes the current one. Anonymous
// blocks that hold nothing but nops are discarded. Trailing terminators stay
// in Code here; normalize moves them out.
func splitBlocks(f *ir.Func) (blocks []*Block, err error) {
	labels := map[string]struct{}{}

	for _, it := range f.Items {
		if it.IsLabel() {
			labels[it.Label] = struct{}{}
		}
	}

	freshn := 0

	fresh := func() string {
		for {
			name := fmt.Sprintf("__block_%d", freshn)
			freshn++

			if _, ok := labels[name]; !ok {
				return name
			}
		}
	}

	var cur *Block
	named := false

	emit := func(force bool) {
		if cur == nil {
			return
		}

		if named || force || !nopOnly(cur) {
			cur.Pos = len(blocks)
			blocks = append(blocks, cur)
		}

		cur = nil
	}

	for _, it := range f.Items {
		if it.IsLabel() {
			emit(false)

			cur = &Block{Name: it.Label}
			named = true

			continue
		}

		if cur == nil {
			cur = &Block{Name: fresh()}
			named = false
		}

		cur.Code = append(cur.Code, it.Instr.Clone())

		if it.Instr.Op.IsTerminator() {
			emit(true)
		}
	}

	emit(false)

	return blocks, nil
}

func nopOnly(b *Block) bool {
	for _, x := range b.Code {
		if x.Op != ir.Nop {
			return false
		}
	}

	return true
}

// normalize moves a trailing terminator out of Code into the node slot and
// gives terminator-less blocks a fall-through jmp to the next block in text
// order, or a ret for the last one.
func (g *Graph) normalize() {
	for i := g.Entry + 1; i < g.Exit; i++ {
		n := g.Nodes[i]
		b := n.Block

		if l := len(b.Code); l != 0 && b.Code[l-1].Op.IsTerminator() {
			n.Term = b.Code[l-1]
			b.Code = b.Code[:l-1]

			continue
		}

		if i+1 < g.Exit {
			n.Term = &ir.Instr{Op: ir.Jmp, Args: []string{g.Nodes[i+1].Name}}
		} else {
			n.Term = &ir.Instr{Op: ir.Ret}
		}
	}
}

func (g *Graph) installEdges() error {
	for i := g.Entry; i < len(g.Nodes); i++ {
		n := g.Nodes[i]
		if n.Term == nil {
			continue
		}

		switch n.Term.Op {
		case ir.Ret:
			g.addEdge(i, g.Exit)
		case ir.Jmp, ir.Br:
			for _, j := range n.Term.Op.Labels() {
				t, ok := g.byName[n.Term.Args[j]]
				if !ok {
					return errors.New("%v: unknown label: %v", n.Name, n.Term.Args[j])
				}

				g.addEdge(i, t)
			}
		}
	}

	return nil
}

// pruneUnreachable removes every real node with no path from the entry,
// unreachable cycles included.
func (g *Graph) pruneUnreachable() {
	seen := make([]bool, len(g.Nodes))
	q := []int{g.Entry}
	seen[g.Entry] = true

	for len(q) != 0 {
		n := q[0]
		q = q[1:]

		for _, s := range g.Nodes[n].Succs.Slice() {
			if !seen[s] {
				seen[s] = true
				q = append(q, s)
			}
		}
	}

	for i := range g.Nodes {
		if seen[i] || i == g.Entry || i == g.Exit {
			continue
		}

		g.Delete(i)
	}
}
