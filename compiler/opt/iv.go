package opt

import (
	"context"
	"math/big"

	"tlog.app/go/errors"
	"tlog.app/go/loc"
	"tlog.app/go/tlog"

	"github.com/slowlang/tac/compiler/cfg"
	"github.com/slowlang/tac/compiler/df"
	"github.com/slowlang/tac/compiler/ir"
)

type (
	// expr is a loop-invariant expression tree: leaves name invariant
	// variables (or the unit constant), internal nodes combine with
	// add/mul/ptradd.
	expr interface{ isExpr() }

	unit struct{}

	ref struct {
		Name string
		Ptr  bool
	}

	bin struct {
		Op   ir.Op
		L, R expr
	}

	site struct {
		Node, Idx int
	}

	// basicIV: single in-loop update i = add i c (or ptradd), c invariant.
	basicIV struct {
		Name string
		Step string
		Kind ir.Kind

		Site   site
		Update *ir.Instr
	}

	// derivIV: k = a*base + b with base a basic induction variable.
	derivIV struct {
		Name string
		Base string
		A    expr
		B    expr // nil when absent
		Kind ir.Kind
		Type *ir.Type

		Site site

		// materialized names, shared with the comparison rewrite
		AVar, BVar, TVar string
	}
)

func (unit) isExpr() {}
func (ref) isExpr()  {}
func (bin) isExpr()  {}

// Induction strength-reduces derived induction variables in every natural
// loop, rewrites loop exit comparisons against the surrogates and deletes
// basic variables nothing observes anymore.
func Induction(ctx context.Context, g *cfg.Graph) (err error) {
	tr := tlog.SpanFromContext(ctx)

	dom := g.Dominators()
	loops := mergeLoops(g.NaturalLoops(dom))

	tr.Printw("induction pass", "func", g.Name, "loops", len(loops))

	for _, l := range loops {
		tr.Printw("natural loop", "header", g.Nodes[l.Header].Name, "body", l.Body)

		err = reduceLoop(ctx, g, l)
		if err != nil {
			return errors.Wrap(err, "loop at %v", g.Nodes[l.Header].Name)
		}
	}

	return nil
}

// mergeLoops deduplicates loop records on header identity: two back edges to
// one header become a single record with the union of the bodies.
func mergeLoops(loops []cfg.Loop) (merged []cfg.Loop) {
	byHeader := map[int]int{}

	for _, l := range loops {
		if i, ok := byHeader[l.Header]; ok {
			merged[i].Body.Or(l.Body)

			continue
		}

		byHeader[l.Header] = len(merged)
		merged = append(merged, l)
	}

	return merged
}

type loopState struct {
	g    *cfg.Graph
	l    cfg.Loop
	pre  int
	nm   *namer
	defs map[string][]site

	basics []*basicIV
	byName map[string]*basicIV

	derived []*derivIV
	// descriptor per known induction variable, basics included
	known map[string]derivIV
}

func reduceLoop(ctx context.Context, g *cfg.Graph, l cfg.Loop) (err error) {
	st := &loopState{
		g:      g,
		l:      l,
		pre:    g.InsertPreHeader(l),
		nm:     newNamer(g),
		defs:   map[string][]site{},
		byName: map[string]*basicIV{},
		known:  map[string]derivIV{},
	}

	for _, n := range l.Body.Slice() {
		for i, x := range g.Nodes[n].Block.Code {
			if x.Op.IsValue() {
				st.defs[x.Dest] = append(st.defs[x.Dest], site{Node: n, Idx: i})
			}
		}
	}

	st.findBasics()
	st.findDerived()

	if len(st.derived) == 0 && len(st.basics) == 0 {
		return nil
	}

	tlog.SpanFromContext(ctx).Printw("induction variables",
		"header", g.Nodes[l.Header].Name, "basic", len(st.basics), "derived", len(st.derived),
		"from", loc.Caller(0))

	err = st.reduce()
	if err != nil {
		return err
	}

	st.rewriteCompares()
	st.eliminateBasics(ctx)

	return nil
}

// invariant: v has no definition inside the loop, or a single one and it is
// a constant.
func (st *loopState) invariant(v string) bool {
	s := st.defs[v]

	if len(s) == 0 {
		return true
	}

	return len(s) == 1 && st.at(s[0]).Op == ir.Const
}

func (st *loopState) at(s site) *ir.Instr {
	return st.g.Nodes[s.Node].Block.Code[s.Idx]
}

func (st *loopState) findBasics() {
	for _, n := range st.l.Body.Slice() {
		for i, x := range st.g.Nodes[n].Block.Code {
			v := x.Dest

			if !x.Op.IsValue() || len(st.defs[v]) != 1 {
				continue
			}

			b := &basicIV{Name: v, Site: site{Node: n, Idx: i}, Update: x}

			switch x.Op {
			case ir.Add:
				b.Kind = ir.KindInt

				switch {
				case x.Args[0] == v && st.invariant(x.Args[1]):
					b.Step = x.Args[1]
				case x.Args[1] == v && st.invariant(x.Args[0]):
					b.Step = x.Args[0]
				default:
					continue
				}
			case ir.PtrAdd:
				b.Kind = ir.KindPtr

				if x.Args[0] != v || !st.invariant(x.Args[1]) {
					continue
				}

				b.Step = x.Args[1]
			default:
				continue
			}

			st.basics = append(st.basics, b)
			st.byName[v] = b
			st.known[v] = derivIV{Name: v, Base: v, A: unit{}, Kind: b.Kind}
		}
	}
}

// findDerived closes over single-definition variables of the form
// k = op(j, m) with exactly one operand a known induction variable and the
// other loop-invariant.
func (st *loopState) findDerived() {
	for {
		again := false

		for _, n := range st.l.Body.Slice() {
			for i, x := range st.g.Nodes[n].Block.Code {
				d, ok := st.derive(x, site{Node: n, Idx: i})
				if !ok {
					continue
				}

				st.known[d.Name] = *d
				st.derived = append(st.derived, d)
				again = true
			}
		}

		if !again {
			break
		}
	}
}

func (st *loopState) derive(x *ir.Instr, at site) (*derivIV, bool) {
	k := x.Dest

	if !x.Op.IsValue() || len(st.defs[k]) != 1 || st.defs[k][0] != at {
		return nil, false
	}

	if _, dup := st.known[k]; dup {
		return nil, false
	}

	switch x.Op {
	case ir.Add, ir.Mul, ir.PtrAdd:
	default:
		return nil, false
	}

	jd, ok0 := st.known[x.Args[0]]
	kd, ok1 := st.known[x.Args[1]]

	if ok0 == ok1 { // exactly one operand is an induction variable
		return nil, false
	}

	var j derivIV
	var m string
	jFirst := ok0

	if ok0 {
		j, m = jd, x.Args[1]
	} else {
		j, m = kd, x.Args[0]
	}

	if !st.invariant(m) {
		return nil, false
	}

	d := &derivIV{Name: k, Base: j.Base, Site: at, Type: x.Type}

	switch x.Op {
	case ir.Add:
		if j.Kind != ir.KindInt {
			return nil, false
		}

		d.Kind = ir.KindInt
		d.A = j.A
		d.B = addB(j.B, ref{Name: m})
	case ir.PtrAdd:
		d.Kind = ir.KindPtr

		if jFirst {
			// k = ptradd j m: pointer induction variable plus invariant offset
			if j.Kind != ir.KindPtr {
				return nil, false
			}

			d.A = j.A
			d.B = addB(j.B, ref{Name: m})
		} else {
			// k = ptradd m j: invariant pointer indexed by an int variable
			if j.Kind != ir.KindInt {
				return nil, false
			}

			d.A = j.A
			d.B = addB(j.B, ref{Name: m, Ptr: true})
		}
	case ir.Mul:
		if j.Kind != ir.KindInt {
			return nil, false
		}

		d.Kind = ir.KindInt
		d.A = bin{Op: ir.Mul, L: ref{Name: m}, R: j.A}

		if j.B != nil {
			d.B = bin{Op: ir.Mul, L: ref{Name: m}, R: j.B}
		}
	}

	return d, true
}

// addB folds an invariant term into an offset tree, picking ptradd when one
// side is a pointer. The pointer side goes first: ptradd takes (ptr, int).
func addB(b expr, m ref) expr {
	if b == nil {
		return m
	}

	switch {
	case exprPtr(b):
		return bin{Op: ir.PtrAdd, L: b, R: m}
	case m.Ptr:
		return bin{Op: ir.PtrAdd, L: m, R: b}
	default:
		return bin{Op: ir.Add, L: b, R: m}
	}
}

func exprPtr(e expr) bool {
	switch e := e.(type) {
	case ref:
		return e.Ptr
	case bin:
		return e.Op == ir.PtrAdd
	default:
		return false
	}
}

// reduce materializes surrogates: per derived variable, a and b lowered into
// the pre-header, the surrogate initialized there, the original definition
// replaced by an id, and the surrogate stepped next to the basic update.
func (st *loopState) reduce() (err error) {
	for _, d := range st.derived {
		b := st.byName[d.Base]

		d.AVar, err = st.materialize(d.A, "a", d.Type)
		if err != nil {
			return err
		}

		if d.B != nil {
			d.BVar, err = st.materialize(d.B, "b", d.Type)
			if err != nil {
				return err
			}
		}

		d.TVar = st.nm.fresh("t")

		err = st.initSurrogate(d, b)
		if err != nil {
			return err
		}

		// k := id t at the original definition site
		st.g.Nodes[d.Site.Node].Block.Code[d.Site.Idx] = &ir.Instr{
			Op:   ir.ID,
			Dest: d.Name,
			Type: d.Type,
			Args: []string{d.TVar},
		}
	}

	// t := t + A right after each basic update, one per surrogate
	for _, b := range st.basics {
		block := st.g.Nodes[b.Site.Node].Block

		at := -1
		for i, x := range block.Code {
			if x == b.Update {
				at = i
				break
			}
		}

		if at < 0 {
			return errors.New("basic update for %v vanished", b.Name)
		}

		var steps []*ir.Instr

		for _, d := range st.derived {
			if d.Base != b.Name {
				continue
			}

			op := ir.Add
			if d.Kind == ir.KindPtr {
				op = ir.PtrAdd
			}

			steps = append(steps, &ir.Instr{
				Op:   op,
				Dest: d.TVar,
				Type: surrogateType(d),
				Args: []string{d.TVar, d.AVar},
			})
		}

		if len(steps) == 0 {
			continue
		}

		code := make([]*ir.Instr, 0, len(block.Code)+len(steps))
		code = append(code, block.Code[:at+1]...)
		code = append(code, steps...)
		code = append(code, block.Code[at+1:]...)
		block.Code = code
	}

	return nil
}

func surrogateType(d *derivIV) *ir.Type {
	if d.Kind == ir.KindPtr {
		return d.Type
	}

	return ir.IntType()
}

// initSurrogate emits t = base*A + B into the pre-header, with ptradd in
// place of add when the surrogate is a pointer.
func (st *loopState) initSurrogate(d *derivIV, b *basicIV) error {
	switch {
	case b.Kind == ir.KindPtr:
		// a over a pointer base is always unit: t = ptradd base B, or id
		if d.B == nil {
			st.emit(&ir.Instr{Op: ir.ID, Dest: d.TVar, Type: d.Type, Args: []string{b.Name}})
		} else {
			st.emit(&ir.Instr{Op: ir.PtrAdd, Dest: d.TVar, Type: d.Type, Args: []string{b.Name, d.BVar}})
		}
	case d.Kind == ir.KindPtr:
		// int base, pointer offset lives in B
		if d.BVar == "" {
			return errors.New("pointer surrogate %v without offset", d.Name)
		}

		t1 := st.nm.fresh("t")
		st.emit(&ir.Instr{Op: ir.Mul, Dest: t1, Type: ir.IntType(), Args: []string{b.Name, d.AVar}})
		st.emit(&ir.Instr{Op: ir.PtrAdd, Dest: d.TVar, Type: d.Type, Args: []string{d.BVar, t1}})
	case d.B == nil:
		st.emit(&ir.Instr{Op: ir.Mul, Dest: d.TVar, Type: ir.IntType(), Args: []string{b.Name, d.AVar}})
	default:
		t1 := st.nm.fresh("t")
		st.emit(&ir.Instr{Op: ir.Mul, Dest: t1, Type: ir.IntType(), Args: []string{b.Name, d.AVar}})
		st.emit(&ir.Instr{Op: ir.Add, Dest: d.TVar, Type: ir.IntType(), Args: []string{t1, d.BVar}})
	}

	return nil
}

func (st *loopState) emit(x *ir.Instr) {
	b := st.g.Nodes[st.pre].Block
	b.Code = append(b.Code, x)
}

func (st *loopState) materialize(e expr, hint string, ptrType *ir.Type) (string, error) {
	switch e := e.(type) {
	case unit:
		v := st.nm.fresh(hint)
		st.emit(ir.ConstInt(v, big.NewInt(1)))

		return v, nil
	case ref:
		return e.Name, nil
	case bin:
		l, err := st.materialize(e.L, hint, ptrType)
		if err != nil {
			return "", err
		}

		r, err := st.materialize(e.R, hint, ptrType)
		if err != nil {
			return "", err
		}

		typ := ir.IntType()
		if e.Op == ir.PtrAdd {
			typ = ptrType
		}

		v := st.nm.fresh(hint)
		st.emit(&ir.Instr{Op: e.Op, Dest: v, Type: typ, Args: []string{l, r}})

		return v, nil
	default:
		return "", errors.New("unrecognized combinator %T", e)
	}
}

// rewriteCompares retargets loop exit tests cmp = lt i n onto the first
// surrogate of i: N = n*A (+B) in the pre-header, cmp = lt t N.
func (st *loopState) rewriteCompares() {
	first := map[string]*derivIV{}

	for _, d := range st.derived {
		if _, ok := first[d.Base]; !ok {
			first[d.Base] = d
		}
	}

	for _, n := range st.l.Body.Slice() {
		for _, x := range st.g.Nodes[n].Block.Code {
			if x.Op != ir.Lt {
				continue
			}

			var iv, inv string
			ivFirst := false

			switch {
			case st.byName[x.Args[0]] != nil && st.invariant(x.Args[1]):
				iv, inv, ivFirst = x.Args[0], x.Args[1], true
			case st.byName[x.Args[1]] != nil && st.invariant(x.Args[0]):
				iv, inv = x.Args[1], x.Args[0]
			default:
				continue
			}

			d := first[iv]
			if d == nil {
				continue
			}

			bound := st.nm.fresh("n")
			st.emit(&ir.Instr{Op: ir.Mul, Dest: bound, Type: ir.IntType(), Args: []string{inv, d.AVar}})

			if d.BVar != "" {
				op := ir.Add
				if d.Kind == ir.KindPtr {
					op = ir.PtrAdd
				}

				sum := st.nm.fresh("n")
				st.emit(&ir.Instr{Op: op, Dest: sum, Type: surrogateType(d), Args: []string{d.BVar, bound}})
				bound = sum
			}

			x.Op = ir.Lt
			if d.Kind == ir.KindPtr {
				x.Op = ir.PtrLt
			}

			if ivFirst {
				x.Args = []string{d.TVar, bound}
			} else {
				x.Args = []string{bound, d.TVar}
			}
		}
	}
}

// eliminateBasics deletes a basic variable's update when the variable is
// dead outside the loop and nothing inside reads it but the update itself.
func (st *loopState) eliminateBasics(ctx context.Context) {
	live := df.Run(ctx, st.g, df.LiveVars())

	for _, b := range st.basics {
		if st.liveOutside(live, b.Name) || st.usedBeside(b) {
			continue
		}

		block := st.g.Nodes[b.Site.Node].Block

		for i, x := range block.Code {
			if x == b.Update {
				block.Code = append(block.Code[:i], block.Code[i+1:]...)
				break
			}
		}
	}
}

func (st *loopState) liveOutside(live *df.Result, v string) bool {
	found := false

	st.l.Body.Range(func(n int) bool {
		for _, s := range st.g.Nodes[n].Succs.Slice() {
			if st.l.Body.IsSet(s) || live.In[s] == nil {
				continue
			}

			if live.In[s].Contains(v) {
				found = true
				return false
			}
		}

		return true
	})

	return found
}

func (st *loopState) usedBeside(b *basicIV) bool {
	used := false

	st.l.Body.Range(func(n int) bool {
		node := st.g.Nodes[n]

		for _, x := range node.Block.Code {
			if x == b.Update {
				continue
			}

			for _, a := range x.Uses() {
				if a == b.Name {
					used = true
					return false
				}
			}
		}

		if node.Term != nil {
			for _, a := range node.Term.Uses() {
				if a == b.Name {
					used = true
					return false
				}
			}
		}

		return true
	})

	return used
}
