package interp

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slowlang/tac/compiler/ir"
)

func parse(t *testing.T, src string) *ir.Program {
	t.Helper()

	p, err := ir.Decode([]byte(src))
	require.NoError(t, err)

	return p
}

func run(t *testing.T, src string) (string, int, error) {
	t.Helper()

	var out bytes.Buffer

	steps, err := Run(context.Background(), parse(t, src), &out)

	return out.String(), steps, err
}

func TestArith(t *testing.T) {
	out, steps, err := run(t, `{"functions": [{"name": "main", "instrs": [
		{"op": "const", "dest": "a", "type": "int", "value": 3},
		{"op": "const", "dest": "b", "type": "int", "value": 4},
		{"op": "add", "dest": "c", "type": "int", "args": ["a", "b"]},
		{"op": "print", "args": ["c"]}
	]}]}`)
	require.NoError(t, err)
	assert.Equal(t, "7\n", out)
	assert.Equal(t, 4, steps)
}

func TestBigArith(t *testing.T) {
	out, _, err := run(t, `{"functions": [{"name": "main", "instrs": [
		{"op": "const", "dest": "a", "type": "int", "value": 1180591620717411303424},
		{"op": "mul", "dest": "b", "type": "int", "args": ["a", "a"]},
		{"op": "print", "args": ["b"]}
	]}]}`)
	require.NoError(t, err)
	assert.Equal(t, "1393796574908163946345982392040522594123776\n", out, "2^140, nothing truncates")
}

func TestPointers(t *testing.T) {
	out, _, err := run(t, `{"functions": [{"name": "main", "instrs": [
		{"op": "const", "dest": "n", "type": "int", "value": 3},
		{"op": "alloc", "dest": "p", "type": {"ptr": "int"}, "args": ["n"]},
		{"op": "const", "dest": "one", "type": "int", "value": 1},
		{"op": "ptradd", "dest": "p1", "type": {"ptr": "int"}, "args": ["p", "one"]},
		{"op": "const", "dest": "v", "type": "int", "value": 42},
		{"op": "store", "args": ["p1", "v"]},
		{"op": "load", "dest": "q", "type": "int", "args": ["p1"]},
		{"op": "print", "args": ["q"]},
		{"op": "free", "args": ["p"]}
	]}]}`)
	require.NoError(t, err)
	assert.Equal(t, "42\n", out)
}

func TestPointerCompare(t *testing.T) {
	out, _, err := run(t, `{"functions": [{"name": "main", "instrs": [
		{"op": "const", "dest": "n", "type": "int", "value": 2},
		{"op": "alloc", "dest": "p", "type": {"ptr": "int"}, "args": ["n"]},
		{"op": "const", "dest": "one", "type": "int", "value": 1},
		{"op": "ptradd", "dest": "q", "type": {"ptr": "int"}, "args": ["p", "one"]},
		{"op": "ptrlt", "dest": "c", "type": "bool", "args": ["p", "q"]},
		{"op": "print", "args": ["c"]},
		{"op": "free", "args": ["p"]}
	]}]}`)
	require.NoError(t, err)
	assert.Equal(t, "true\n", out)
}

func TestCrossAllocationCompare(t *testing.T) {
	_, _, err := run(t, `{"functions": [{"name": "main", "instrs": [
		{"op": "const", "dest": "n", "type": "int", "value": 1},
		{"op": "alloc", "dest": "p", "type": {"ptr": "int"}, "args": ["n"]},
		{"op": "alloc", "dest": "q", "type": {"ptr": "int"}, "args": ["n"]},
		{"op": "ptreq", "dest": "c", "type": "bool", "args": ["p", "q"]}
	]}]}`)
	assert.Error(t, err)
}

func TestLoop(t *testing.T) {
	out, _, err := run(t, `{"functions": [{"name": "main", "instrs": [
		{"op": "const", "dest": "i", "type": "int", "value": 0},
		{"op": "const", "dest": "n", "type": "int", "value": 3},
		{"op": "const", "dest": "one", "type": "int", "value": 1},
		{"label": "loop"},
		{"op": "lt", "dest": "cond", "type": "bool", "args": ["i", "n"]},
		{"op": "br", "args": ["cond", "body", "end"]},
		{"label": "body"},
		{"op": "print", "args": ["i"]},
		{"op": "add", "dest": "i", "type": "int", "args": ["i", "one"]},
		{"op": "jmp", "args": ["loop"]},
		{"label": "end"},
		{"op": "ret"}
	]}]}`)
	require.NoError(t, err)
	assert.Equal(t, "0\n1\n2\n", out)
}

func TestLeak(t *testing.T) {
	_, _, err := run(t, `{"functions": [{"name": "main", "instrs": [
		{"op": "const", "dest": "n", "type": "int", "value": 1},
		{"op": "alloc", "dest": "p", "type": {"ptr": "int"}, "args": ["n"]}
	]}]}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "leaked")
}

func TestUndefinedVariable(t *testing.T) {
	_, _, err := run(t, `{"functions": [{"name": "main", "instrs": [
		{"op": "print", "args": ["ghost"]}
	]}]}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "undefined variable")
}

func TestTypeError(t *testing.T) {
	_, _, err := run(t, `{"functions": [{"name": "main", "instrs": [
		{"op": "const", "dest": "b", "type": "bool", "value": true},
		{"op": "const", "dest": "x", "type": "int", "value": 1},
		{"op": "add", "dest": "y", "type": "int", "args": ["b", "x"]}
	]}]}`)
	assert.Error(t, err)
}

func TestUnknownLabel(t *testing.T) {
	_, _, err := run(t, `{"functions": [{"name": "main", "instrs": [
		{"op": "jmp", "args": ["nowhere"]}
	]}]}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown label")
}

func TestDivByZero(t *testing.T) {
	_, _, err := run(t, `{"functions": [{"name": "main", "instrs": [
		{"op": "const", "dest": "a", "type": "int", "value": 1},
		{"op": "const", "dest": "z", "type": "int", "value": 0},
		{"op": "div", "dest": "b", "type": "int", "args": ["a", "z"]}
	]}]}`)
	assert.Error(t, err)
}

func TestOtherFuncsIgnored(t *testing.T) {
	out, _, err := run(t, `{"functions": [
		{"name": "dead", "instrs": [{"op": "print", "args": ["ghost"]}]},
		{"name": "main", "instrs": [
			{"op": "const", "dest": "x", "type": "int", "value": 5},
			{"op": "print", "args": ["x"]}
		]}
	]}`)
	require.NoError(t, err)
	assert.Equal(t, "5\n", out)
}
