package opt

import (
	"fmt"

	"github.com/slowlang/tac/compiler/cfg"
)

// namer hands out fresh variable and label names with a reserved __ prefix,
// skipping everything already present in the function.
type namer struct {
	used map[string]struct{}
	n    int
}

func newNamer(g *cfg.Graph) *namer {
	nm := &namer{used: map[string]struct{}{}}

	for _, n := range g.Nodes {
		nm.used[n.Name] = struct{}{}

		if n.Block != nil {
			for _, x := range n.Block.Code {
				if x.Dest != "" {
					nm.used[x.Dest] = struct{}{}
				}

				for _, a := range x.Args {
					nm.used[a] = struct{}{}
				}
			}
		}
	}

	return nm
}

func (nm *namer) fresh(hint string) string {
	for {
		name := fmt.Sprintf("__%s_%d", hint, nm.n)
		nm.n++

		if _, ok := nm.used[name]; !ok {
			nm.used[name] = struct{}{}

			return name
		}
	}
}
