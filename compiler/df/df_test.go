package df

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slowlang/tac/compiler/cfg"
	"github.com/slowlang/tac/compiler/ir"
)

func build(t *testing.T, src string) *cfg.Graph {
	t.Helper()

	p, err := ir.Decode([]byte(src))
	require.NoError(t, err)

	g, err := cfg.Build(context.Background(), p.Func("main"))
	require.NoError(t, err)

	return g
}

const branchy = `{"functions": [{"name": "main", "instrs": [
	{"label": "start"},
	{"op": "const", "dest": "x", "type": "int", "value": 1},
	{"op": "const", "dest": "c", "type": "bool", "value": true},
	{"op": "br", "args": ["c", "left", "right"]},
	{"label": "left"},
	{"op": "const", "dest": "x", "type": "int", "value": 2},
	{"op": "jmp", "args": ["join"]},
	{"label": "right"},
	{"op": "const", "dest": "y", "type": "int", "value": 3},
	{"op": "jmp", "args": ["join"]},
	{"label": "join"},
	{"op": "print", "args": ["x"]},
	{"op": "ret"}
]}]}`

func TestDefinedVars(t *testing.T) {
	g := build(t, branchy)

	r := Run(context.Background(), g, DefinedVars())

	join, _ := g.NodeByName("join")
	assert.ElementsMatch(t, []any{"x", "c", "y"}, r.In[join].ToSlice())

	left, _ := g.NodeByName("left")
	assert.ElementsMatch(t, []any{"x", "c"}, r.In[left].ToSlice())

	assert.True(t, r.Verify(g))
}

func TestReachingDefs(t *testing.T) {
	g := build(t, branchy)

	r := Run(context.Background(), g, ReachingDefs())

	join, _ := g.NodeByName("join")

	var defsOfX []Def

	r.In[join].Each(func(e any) bool {
		if d := e.(Def); d.Var == "x" {
			defsOfX = append(defsOfX, d)
		}

		return false
	})

	// the start definition is killed on the left path, alive on the right
	assert.ElementsMatch(t, []Def{
		{Var: "x", Block: "start", Index: 0},
		{Var: "x", Block: "left", Index: 0},
	}, defsOfX)

	left, _ := g.NodeByName("left")
	assert.True(t, r.Out[left].Contains(Def{Var: "x", Block: "left", Index: 0}))
	assert.False(t, r.Out[left].Contains(Def{Var: "x", Block: "start", Index: 0}), "redefinition kills")

	assert.True(t, r.Verify(g))
}

func TestReachingDefsLocalKill(t *testing.T) {
	g := build(t, `{"functions": [{"name": "main", "instrs": [
		{"label": "b"},
		{"op": "const", "dest": "x", "type": "int", "value": 1},
		{"op": "const", "dest": "x", "type": "int", "value": 2},
		{"op": "ret"}
	]}]}`)

	r := Run(context.Background(), g, ReachingDefs())

	b, _ := g.NodeByName("b")
	assert.ElementsMatch(t, []any{Def{Var: "x", Block: "b", Index: 1}}, r.Out[b].ToSlice(),
		"only the last in-block definition escapes")
}

func TestLiveVars(t *testing.T) {
	g := build(t, branchy)

	r := Run(context.Background(), g, LiveVars())

	join, _ := g.NodeByName("join")
	assert.ElementsMatch(t, []any{"x"}, r.In[join].ToSlice())
	assert.Empty(t, r.Out[join].ToSlice())

	// x is rewritten on the left before the join reads it
	left, _ := g.NodeByName("left")
	assert.NotContains(t, r.In[left].ToSlice(), "x")
	assert.Contains(t, r.Out[left].ToSlice(), "x")

	// the start terminator reads c, but start writes c and x first, so
	// nothing is live into it
	start, _ := g.NodeByName("start")
	assert.Empty(t, r.In[start].ToSlice())

	assert.True(t, r.Verify(g))
}

func TestLiveTerminatorCondition(t *testing.T) {
	g := build(t, `{"functions": [{"name": "main", "instrs": [
		{"label": "top"},
		{"op": "const", "dest": "c", "type": "bool", "value": false},
		{"label": "test"},
		{"op": "br", "args": ["c", "top", "out"]},
		{"label": "out"},
		{"op": "ret"}
	]}]}`)

	r := Run(context.Background(), g, LiveVars())

	test, _ := g.NodeByName("test")
	assert.Contains(t, r.In[test].ToSlice(), "c", "br reads its condition")

	top, _ := g.NodeByName("top")
	assert.NotContains(t, r.In[top].ToSlice(), "c", "top rewrites c before the test")
}
