package compiler

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slowlang/tac/compiler/ir"
)

const loopProgram = `{"functions": [{"name": "main", "instrs": [
	{"op": "const", "dest": "i", "type": "int", "value": 0},
	{"op": "const", "dest": "N", "type": "int", "value": 3},
	{"op": "const", "dest": "C", "type": "int", "value": 5},
	{"op": "const", "dest": "dead", "type": "int", "value": 99},
	{"label": "loop"},
	{"op": "lt", "dest": "cond", "type": "bool", "args": ["i", "N"]},
	{"op": "br", "args": ["cond", "body", "end"]},
	{"label": "body"},
	{"op": "mul", "dest": "k", "type": "int", "args": ["i", "C"]},
	{"op": "print", "args": ["k"]},
	{"op": "const", "dest": "one", "type": "int", "value": 1},
	{"op": "add", "dest": "i", "type": "int", "args": ["i", "one"]},
	{"op": "jmp", "args": ["loop"]},
	{"label": "end"},
	{"op": "ret"}
]}]}`

func output(t *testing.T, p *ir.Program) string {
	t.Helper()

	var out bytes.Buffer

	_, err := Run(context.Background(), p, &out)
	require.NoError(t, err)

	return out.String()
}

func TestPassesPreserveOutput(t *testing.T) {
	ctx := context.Background()

	for _, pass := range []string{"nop", "dce", "iv"} {
		t.Run(pass, func(t *testing.T) {
			p, err := Load(ctx, []byte(loopProgram))
			require.NoError(t, err)

			want := output(t, p)

			q, err := Optimize(ctx, p, pass)
			require.NoError(t, err)

			assert.Equal(t, want, output(t, q))

			// the optimized form survives a serialization round trip
			data, err := ir.Encode(q)
			require.NoError(t, err)

			r, err := Load(ctx, data)
			require.NoError(t, err)
			assert.Equal(t, want, output(t, r))
		})
	}
}

func TestUnknownPass(t *testing.T) {
	ctx := context.Background()

	p, err := Load(ctx, []byte(loopProgram))
	require.NoError(t, err)

	_, err = Optimize(ctx, p, "licm")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown pass")
}

func TestDot(t *testing.T) {
	ctx := context.Background()

	p, err := Load(ctx, []byte(loopProgram))
	require.NoError(t, err)

	var out bytes.Buffer

	err = Dot(ctx, p, &out)
	require.NoError(t, err)

	s := out.String()
	assert.True(t, strings.HasPrefix(s, "digraph main {"))
	assert.Contains(t, s, `"loop" -> "body";`)
	assert.Contains(t, s, `"loop" -> "end";`)
}

func TestReport(t *testing.T) {
	ctx := context.Background()

	p, err := Load(ctx, []byte(loopProgram))
	require.NoError(t, err)

	var out bytes.Buffer

	err = Report(ctx, p, &out)
	require.NoError(t, err)

	s := out.String()
	assert.Contains(t, s, "digraph main")
	assert.Contains(t, s, "DOMINATORS")
	assert.Contains(t, s, "LOOP HEADER")
}
