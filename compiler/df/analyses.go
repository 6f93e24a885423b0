package df

import (
	"fmt"

	mapset "github.com/deckarep/golang-set"

	"github.com/slowlang/tac/compiler/cfg"
)

// Def is one definition site for reaching definitions: the variable plus
// the (block, instruction index) location. Structural equality.
type Def struct {
	Var   string
	Block string
	Index int
}

func (d Def) String() string {
	return fmt.Sprintf("%s@%s[%d]", d.Var, d.Block, d.Index)
}

// DefinedVars: which variables have a definition on some path into and out
// of each block.
func DefinedVars() *Analysis {
	return &Analysis{
		Name:  "defined",
		Dir:   Forward,
		Init:  EmptySet,
		Merge: Union,
		Transfer: func(n *cfg.Node, in mapset.Set) mapset.Set {
			out := in.Clone()

			if n.Block == nil {
				return out
			}

			for _, x := range n.Block.Code {
				if x.Op.IsValue() {
					out.Add(x.Dest)
				}
			}

			return out
		},
	}
}

// ReachingDefs: which definition sites reach each block. A definition of v
// kills every other incoming definition of v.
func ReachingDefs() *Analysis {
	return &Analysis{
		Name:  "reaching",
		Dir:   Forward,
		Init:  EmptySet,
		Merge: Union,
		Transfer: func(n *cfg.Node, in mapset.Set) mapset.Set {
			if n.Block == nil {
				return in.Clone()
			}

			last := map[string]int{}

			for i, x := range n.Block.Code {
				if x.Op.IsValue() {
					last[x.Dest] = i
				}
			}

			out := EmptySet()

			in.Each(func(e any) bool {
				d := e.(Def)

				if _, killed := last[d.Var]; !killed {
					out.Add(d)
				}

				return false
			})

			for v, i := range last {
				out.Add(Def{Var: v, Block: n.Block.Name, Index: i})
			}

			return out
		},
	}
}

// LiveVars: which variables are read on some path out of each block before
// being overwritten. br reads its condition; jmp and ret read nothing.
func LiveVars() *Analysis {
	return &Analysis{
		Name:  "live",
		Dir:   Backward,
		Init:  EmptySet,
		Merge: Union,
		Transfer: func(n *cfg.Node, out mapset.Set) mapset.Set {
			used := EmptySet()
			written := map[string]struct{}{}

			uses := func(args []string) {
				for _, a := range args {
					if _, w := written[a]; !w {
						used.Add(a)
					}
				}
			}

			if n.Block != nil {
				for _, x := range n.Block.Code {
					uses(x.Uses())

					if x.Op.IsValue() {
						written[x.Dest] = struct{}{}
					}
				}
			}

			if n.Term != nil {
				uses(n.Term.Uses())
			}

			in := used

			out.Each(func(e any) bool {
				v := e.(string)

				if _, w := written[v]; !w {
					in.Add(v)
				}

				return false
			})

			return in
		},
	}
}
