// Package ir is the data model of the three-address IL.
//
// A program is a set of named functions; a function is a flat list of items,
// each item either a label or an instruction. The model is immutable once
// decoded: passes build a CFG from it and serialize a fresh function back.
package ir

import (
	"fmt"
	"math/big"
	"strings"
)

type (
	Op string

	Kind int

	// Type is an IL value type: int, bool, or a pointer with a pointee.
	// A pointer decoded from the bare string "ptr" has a nil Elem.
	Type struct {
		Kind Kind
		Elem *Type
	}

	// Instr is one IL instruction. Dest and Type are set for constants and
	// value operations; Value is set for const only and holds *big.Int or
	// bool. Branch targets are ordinary Args entries: jmp [L], br [c, L1, L2].
	Instr struct {
		Op    Op
		Dest  string
		Type  *Type
		Args  []string
		Value any
	}

	// Item is a label or an instruction, never both.
	Item struct {
		Label string
		Instr *Instr
	}

	Func struct {
		Name  string
		Items []Item
	}

	Program struct {
		Funcs []*Func
	}
)

const (
	KindInt Kind = iota
	KindBool
	KindPtr
)

const (
	Const Op = "const"

	Add Op = "add"
	Sub Op = "sub"
	Mul Op = "mul"
	Div Op = "div"

	Eq Op = "eq"
	Lt Op = "lt"
	Le Op = "le"
	Gt Op = "gt"
	Ge Op = "ge"

	Not Op = "not"
	And Op = "and"
	Or  Op = "or"

	ID  Op = "id"
	Nop Op = "nop"

	Load   Op = "load"
	Alloc  Op = "alloc"
	PtrAdd Op = "ptradd"

	PtrEq Op = "ptreq"
	PtrLt Op = "ptrlt"
	PtrLe Op = "ptrle"
	PtrGt Op = "ptrgt"
	PtrGe Op = "ptrge"

	Br  Op = "br"
	Jmp Op = "jmp"
	Ret Op = "ret"

	Print Op = "print"
	Store Op = "store"
	Free  Op = "free"
)

// arity is the required argument count per opcode, -1 for variadic.
var arity = map[Op]int{
	Const: 0,
	Add:   2, Sub: 2, Mul: 2, Div: 2,
	Eq: 2, Lt: 2, Le: 2, Gt: 2, Ge: 2,
	Not: 1, And: 2, Or: 2,
	ID: 1, Nop: 0,
	Load: 1, Alloc: 1, PtrAdd: 2,
	PtrEq: 2, PtrLt: 2, PtrLe: 2, PtrGt: 2, PtrGe: 2,
	Br: 3, Jmp: 1, Ret: 0,
	Print: -1, Store: 2, Free: 1,
}

func (op Op) Known() bool {
	_, ok := arity[op]
	return ok
}

// IsValue reports whether op produces a result (carries dest and type).
// Constants count, nop does not.
func (op Op) IsValue() bool {
	switch op {
	case Br, Jmp, Ret, Print, Store, Free, Nop:
		return false
	default:
		return op.Known()
	}
}

func (op Op) IsEffect() bool { return op.Known() && !op.IsValue() }

func (op Op) IsTerminator() bool {
	switch op {
	case Br, Jmp, Ret:
		return true
	default:
		return false
	}
}

// Labels returns the positions of branch-target arguments.
func (op Op) Labels() []int {
	switch op {
	case Jmp:
		return []int{0}
	case Br:
		return []int{1, 2}
	default:
		return nil
	}
}

// Uses returns the variable names the instruction reads. Branch targets are
// not uses; br reads its condition only.
func (x *Instr) Uses() []string {
	switch x.Op {
	case Br:
		return x.Args[:1]
	case Jmp, Ret, Const, Nop:
		return nil
	default:
		return x.Args
	}
}

func (x *Instr) Clone() *Instr {
	cp := *x
	cp.Args = append([]string(nil), x.Args...)

	return &cp
}

func (it Item) IsLabel() bool { return it.Instr == nil }

func (t *Type) Equal(u *Type) bool {
	if t == nil || u == nil {
		return t == u
	}

	if t.Kind != u.Kind {
		return false
	}

	if t.Kind != KindPtr {
		return true
	}

	if t.Elem == nil || u.Elem == nil {
		return true // bare "ptr", pointee unknown
	}

	return t.Elem.Equal(u.Elem)
}

func (t *Type) String() string {
	if t == nil {
		return "?"
	}

	switch t.Kind {
	case KindInt:
		return "int"
	case KindBool:
		return "bool"
	default:
		if t.Elem == nil {
			return "ptr"
		}

		return fmt.Sprintf("ptr<%v>", t.Elem)
	}
}

func IntType() *Type  { return &Type{Kind: KindInt} }
func BoolType() *Type { return &Type{Kind: KindBool} }
func PtrType(elem *Type) *Type {
	return &Type{Kind: KindPtr, Elem: elem}
}

func (x *Instr) String() string {
	var b strings.Builder

	if x.Op.IsValue() {
		fmt.Fprintf(&b, "%s: %v = %s", x.Dest, x.Type, x.Op)
	} else {
		b.WriteString(string(x.Op))
	}

	if x.Op == Const {
		fmt.Fprintf(&b, " %v", x.Value)
	}

	for _, a := range x.Args {
		b.WriteByte(' ')
		b.WriteString(a)
	}

	return b.String()
}

func (it Item) String() string {
	if it.IsLabel() {
		return "." + it.Label
	}

	return it.Instr.String()
}

// Func returns the named function or nil.
func (p *Program) Func(name string) *Func {
	for _, f := range p.Funcs {
		if f.Name == name {
			return f
		}
	}

	return nil
}

// ConstInt builds an integer constant instruction.
func ConstInt(dest string, v *big.Int) *Instr {
	return &Instr{Op: Const, Dest: dest, Type: IntType(), Value: v}
}
