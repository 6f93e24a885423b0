package interp

import (
	"math/big"

	"tlog.app/go/errors"

	"github.com/slowlang/tac/compiler/ir"
	"github.com/slowlang/tac/compiler/mem"
)

// A runtime value is *big.Int, bool or Pointer. Integers are arbitrary
// precision; nothing truncates.
type (
	Value any

	Pointer struct {
		Key  mem.Key
		Elem *ir.Type
	}
)

func typeName(v Value) string {
	switch v.(type) {
	case *big.Int:
		return "int"
	case bool:
		return "bool"
	case Pointer:
		return "ptr"
	default:
		return "?"
	}
}

func asInt(v Value) (*big.Int, error) {
	z, ok := v.(*big.Int)
	if !ok {
		return nil, errors.New("want int, got %v", typeName(v))
	}

	return z, nil
}

func asBool(v Value) (bool, error) {
	b, ok := v.(bool)
	if !ok {
		return false, errors.New("want bool, got %v", typeName(v))
	}

	return b, nil
}

func asPtr(v Value) (Pointer, error) {
	p, ok := v.(Pointer)
	if !ok {
		return Pointer{}, errors.New("want ptr, got %v", typeName(v))
	}

	return p, nil
}

// smallInt narrows an IL integer to a host int for sizes and offsets.
func smallInt(z *big.Int) (int, error) {
	if !z.IsInt64() {
		return 0, errors.New("integer out of host range: %v", z)
	}

	return int(z.Int64()), nil
}
