// Package opt holds the optimization passes. A pass mutates the function's
// CFG in place; any dataflow result computed before the mutation is invalid
// afterwards and has to be recomputed.
package opt

import (
	"context"
	"sort"

	"github.com/slowlang/tac/compiler/cfg"
)

type Pass func(ctx context.Context, g *cfg.Graph) error

var passes = map[string]Pass{
	"nop": Nop,
	"dce": DCE,
	"iv":  Induction,
}

func Get(name string) (Pass, bool) {
	p, ok := passes[name]
	return p, ok
}

func Names() []string {
	names := make([]string, 0, len(passes))

	for name := range passes {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// Nop only normalizes: building the CFG already splits blocks, adds explicit
// terminators and prunes unreachable code; serialization does the rest.
func Nop(ctx context.Context, g *cfg.Graph) error { return nil }
