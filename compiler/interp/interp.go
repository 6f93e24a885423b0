// Package interp is the reference interpreter: straight dispatch over the
// linear item list of main, a typed heap, liveness-checked frees.
package interp

import (
	"context"
	"fmt"
	"io"
	"math/big"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/tac/compiler/ir"
	"github.com/slowlang/tac/compiler/mem"
)

type state struct {
	env  map[string]Value
	heap *mem.Heap

	w io.Writer

	steps int
}

// Run executes main and writes print output to w. It returns the dynamic
// instruction count. Any runtime fault aborts execution; so does ending
// with a non-empty heap.
func Run(ctx context.Context, p *ir.Program, w io.Writer) (steps int, err error) {
	tr := tlog.SpanFromContext(ctx)

	f := p.Func("main")
	if f == nil {
		return 0, errors.New("no main function")
	}

	st := &state{
		env:  map[string]Value{},
		heap: mem.New(),
		w:    w,
	}

	err = st.run(f)
	if err != nil {
		return st.steps, errors.Wrap(err, "main")
	}

	if !st.heap.Empty() {
		return st.steps, errors.New("%d allocations leaked", st.heap.Count())
	}

	tr.Printw("interpreted", "func", f.Name, "steps", st.steps)

	return st.steps, nil
}

func (st *state) run(f *ir.Func) (err error) {
	labels := map[string]int{}

	for i, it := range f.Items {
		if it.IsLabel() {
			if _, ok := labels[it.Label]; ok {
				return errors.New("duplicate label: %v", it.Label)
			}

			labels[it.Label] = i
		}
	}

	jump := func(l string) (int, error) {
		pc, ok := labels[l]
		if !ok {
			return 0, errors.New("unknown label: %v", l)
		}

		return pc, nil
	}

	pc := 0

	for pc < len(f.Items) {
		it := f.Items[pc]
		if it.IsLabel() {
			pc++
			continue
		}

		x := it.Instr
		st.steps++

		switch x.Op {
		case ir.Jmp:
			pc, err = jump(x.Args[0])
			if err != nil {
				return err
			}

			continue
		case ir.Br:
			c, err := st.lookupBool(x.Args[0])
			if err != nil {
				return errors.Wrap(err, "br")
			}

			l := x.Args[1]
			if !c {
				l = x.Args[2]
			}

			pc, err = jump(l)
			if err != nil {
				return err
			}

			continue
		case ir.Ret:
			return nil
		default:
			err = st.step(x)
			if err != nil {
				return errors.Wrap(err, "%v", x.Op)
			}
		}

		pc++
	}

	return nil
}

func (st *state) step(x *ir.Instr) (err error) {
	switch x.Op {
	case ir.Const:
		switch v := x.Value.(type) {
		case *big.Int:
			st.env[x.Dest] = new(big.Int).Set(v)
		case bool:
			st.env[x.Dest] = v
		default:
			return errors.New("bad literal %T", x.Value)
		}
	case ir.Add, ir.Sub, ir.Mul, ir.Div:
		l, r, err := st.intArgs(x)
		if err != nil {
			return err
		}

		z := new(big.Int)

		switch x.Op {
		case ir.Add:
			z.Add(l, r)
		case ir.Sub:
			z.Sub(l, r)
		case ir.Mul:
			z.Mul(l, r)
		case ir.Div:
			if r.Sign() == 0 {
				return errors.New("division by zero")
			}

			z.Quo(l, r)
		}

		st.env[x.Dest] = z
	case ir.Eq, ir.Lt, ir.Le, ir.Gt, ir.Ge:
		l, r, err := st.intArgs(x)
		if err != nil {
			return err
		}

		st.env[x.Dest] = cmpHolds(x.Op, l.Cmp(r))
	case ir.Not:
		v, err := st.lookupBool(x.Args[0])
		if err != nil {
			return err
		}

		st.env[x.Dest] = !v
	case ir.And, ir.Or:
		l, err := st.lookupBool(x.Args[0])
		if err != nil {
			return err
		}

		r, err := st.lookupBool(x.Args[1])
		if err != nil {
			return err
		}

		if x.Op == ir.And {
			st.env[x.Dest] = l && r
		} else {
			st.env[x.Dest] = l || r
		}
	case ir.ID:
		v, err := st.lookup(x.Args[0])
		if err != nil {
			return err
		}

		st.env[x.Dest] = v
	case ir.Nop:
	case ir.Print:
		for i, a := range x.Args {
			v, err := st.lookup(a)
			if err != nil {
				return err
			}

			s, err := format(v)
			if err != nil {
				return errors.Wrap(err, "%v", a)
			}

			if i > 0 {
				fmt.Fprint(st.w, " ")
			}

			fmt.Fprint(st.w, s)
		}

		fmt.Fprintln(st.w)
	case ir.Alloc:
		n, err := st.lookupInt(x.Args[0])
		if err != nil {
			return err
		}

		size, err := smallInt(n)
		if err != nil {
			return err
		}

		k, err := st.heap.Alloc(size)
		if err != nil {
			return err
		}

		var elem *ir.Type
		if x.Type != nil {
			elem = x.Type.Elem
		}

		st.env[x.Dest] = Pointer{Key: k, Elem: elem}
	case ir.Free:
		p, err := st.lookupPtr(x.Args[0])
		if err != nil {
			return err
		}

		err = st.heap.Free(p.Key)
		if err != nil {
			return err
		}
	case ir.Load:
		p, err := st.lookupPtr(x.Args[0])
		if err != nil {
			return err
		}

		v, err := st.heap.Read(p.Key)
		if err != nil {
			return err
		}

		st.env[x.Dest] = v
	case ir.Store:
		p, err := st.lookupPtr(x.Args[0])
		if err != nil {
			return err
		}

		v, err := st.lookup(x.Args[1])
		if err != nil {
			return err
		}

		if p.Elem != nil && !typeMatches(p.Elem, v) {
			return errors.New("store of %v into %v slot", typeName(v), p.Elem)
		}

		err = st.heap.Write(p.Key, v)
		if err != nil {
			return err
		}
	case ir.PtrAdd:
		p, err := st.lookupPtr(x.Args[0])
		if err != nil {
			return err
		}

		d, err := st.lookupInt(x.Args[1])
		if err != nil {
			return err
		}

		delta, err := smallInt(d)
		if err != nil {
			return err
		}

		st.env[x.Dest] = Pointer{Key: p.Key.PtrAdd(delta), Elem: p.Elem}
	case ir.PtrEq, ir.PtrLt, ir.PtrLe, ir.PtrGt, ir.PtrGe:
		l, err := st.lookupPtr(x.Args[0])
		if err != nil {
			return err
		}

		r, err := st.lookupPtr(x.Args[1])
		if err != nil {
			return err
		}

		c, err := l.Key.Cmp(r.Key)
		if err != nil {
			return err
		}

		st.env[x.Dest] = cmpHolds(ptr2int[x.Op], c)
	default:
		return errors.New("unknown opcode: %q", x.Op)
	}

	return nil
}

var ptr2int = map[ir.Op]ir.Op{
	ir.PtrEq: ir.Eq,
	ir.PtrLt: ir.Lt,
	ir.PtrLe: ir.Le,
	ir.PtrGt: ir.Gt,
	ir.PtrGe: ir.Ge,
}

func cmpHolds(op ir.Op, c int) bool {
	switch op {
	case ir.Eq:
		return c == 0
	case ir.Lt:
		return c < 0
	case ir.Le:
		return c <= 0
	case ir.Gt:
		return c > 0
	default:
		return c >= 0
	}
}

func format(v Value) (string, error) {
	switch v := v.(type) {
	case *big.Int:
		return v.String(), nil
	case bool:
		return fmt.Sprint(v), nil
	default:
		return "", errors.New("cannot print %v", typeName(v))
	}
}

func typeMatches(t *ir.Type, v Value) bool {
	switch t.Kind {
	case ir.KindInt:
		_, ok := v.(*big.Int)
		return ok
	case ir.KindBool:
		_, ok := v.(bool)
		return ok
	default:
		_, ok := v.(Pointer)
		return ok
	}
}

func (st *state) lookup(name string) (Value, error) {
	v, ok := st.env[name]
	if !ok {
		return nil, errors.New("undefined variable: %v", name)
	}

	return v, nil
}

func (st *state) lookupInt(name string) (*big.Int, error) {
	v, err := st.lookup(name)
	if err != nil {
		return nil, err
	}

	return asInt(v)
}

func (st *state) lookupBool(name string) (bool, error) {
	v, err := st.lookup(name)
	if err != nil {
		return false, err
	}

	return asBool(v)
}

func (st *state) lookupPtr(name string) (Pointer, error) {
	v, err := st.lookup(name)
	if err != nil {
		return Pointer{}, err
	}

	return asPtr(v)
}

func (st *state) intArgs(x *ir.Instr) (l, r *big.Int, err error) {
	l, err = st.lookupInt(x.Args[0])
	if err != nil {
		return nil, nil, err
	}

	r, err = st.lookupInt(x.Args[1])
	if err != nil {
		return nil, nil, err
	}

	return l, r, nil
}
