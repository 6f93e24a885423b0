package cfg

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slowlang/tac/compiler/ir"
)

func mainFunc(t *testing.T, src string) *ir.Func {
	t.Helper()

	p, err := ir.Decode([]byte(src))
	require.NoError(t, err)

	return p.Func("main")
}

func build(t *testing.T, src string) *Graph {
	t.Helper()

	g, err := Build(context.Background(), mainFunc(t, src))
	require.NoError(t, err)
	require.NoError(t, g.Check())

	return g
}

func names(g *Graph, s interface{ Slice() []int }) []string {
	var r []string

	for _, i := range s.Slice() {
		r = append(r, g.Nodes[i].Name)
	}

	return r
}

func TestBuildLinear(t *testing.T) {
	g := build(t, `{"functions": [{"name": "main", "instrs": [
		{"op": "const", "dest": "a", "type": "int", "value": 1},
		{"label": "next"},
		{"op": "print", "args": ["a"]},
		{"op": "ret"}
	]}]}`)

	require.Len(t, g.Nodes, 4)
	assert.Equal(t, EntryName, g.Nodes[0].Name)
	assert.Equal(t, "__block_0", g.Nodes[1].Name)
	assert.Equal(t, "next", g.Nodes[2].Name)
	assert.Equal(t, ExitName, g.Nodes[3].Name)

	// fall-through got an explicit jmp
	require.NotNil(t, g.Nodes[1].Term)
	assert.Equal(t, ir.Jmp, g.Nodes[1].Term.Op)
	assert.Equal(t, []string{"next"}, g.Nodes[1].Term.Args)

	// terminator moved out of the instruction list
	require.Len(t, g.Nodes[2].Block.Code, 1)
	assert.Equal(t, ir.Ret, g.Nodes[2].Term.Op)
	assert.True(t, g.Nodes[2].Succs.IsSet(g.Exit))
}

func TestBuildBranch(t *testing.T) {
	g := build(t, `{"functions": [{"name": "main", "instrs": [
		{"op": "const", "dest": "c", "type": "bool", "value": true},
		{"op": "br", "args": ["c", "yes", "no"]},
		{"label": "yes"},
		{"op": "ret"},
		{"label": "no"},
		{"op": "ret"}
	]}]}`)

	first, ok := g.NodeByName("__block_0")
	require.True(t, ok)

	assert.ElementsMatch(t, []string{"yes", "no"}, names(g, &g.Nodes[first].Succs))

	yes, _ := g.NodeByName("yes")
	assert.ElementsMatch(t, []string{"__block_0"}, names(g, &g.Nodes[yes].Preds))
}

func TestNopOnlyAnonymousBlockDiscarded(t *testing.T) {
	g := build(t, `{"functions": [{"name": "main", "instrs": [
		{"op": "const", "dest": "a", "type": "int", "value": 1},
		{"op": "jmp", "args": ["next"]},
		{"op": "nop"},
		{"label": "next"},
		{"op": "ret"}
	]}]}`)

	for _, n := range g.Nodes {
		if n.Block == nil {
			continue
		}

		for _, x := range n.Block.Code {
			assert.NotEqual(t, ir.Nop, x.Op)
		}
	}

	require.Len(t, g.Nodes, 4) // entry, __block_0, next, exit
}

func TestNamedEmptyBlockKept(t *testing.T) {
	g := build(t, `{"functions": [{"name": "main", "instrs": [
		{"op": "jmp", "args": ["mid"]},
		{"label": "mid"},
		{"label": "end"},
		{"op": "ret"}
	]}]}`)

	mid, ok := g.NodeByName("mid")
	require.True(t, ok)
	assert.Empty(t, g.Nodes[mid].Block.Code)
	assert.Equal(t, ir.Jmp, g.Nodes[mid].Term.Op)
	assert.Equal(t, []string{"end"}, g.Nodes[mid].Term.Args)
}

func TestUnreachablePruned(t *testing.T) {
	g := build(t, `{"functions": [{"name": "main", "instrs": [
		{"op": "const", "dest": "x", "type": "int", "value": 1},
		{"op": "print", "args": ["x"]},
		{"op": "ret"},
		{"label": "orphan"},
		{"op": "const", "dest": "y", "type": "int", "value": 2},
		{"op": "jmp", "args": ["orphan"]}
	]}]}`)

	orphan, ok := g.NodeByName("orphan")
	require.True(t, ok)
	assert.False(t, g.Alive(orphan))

	f := g.ToFunc()

	for _, it := range f.Items {
		assert.NotEqual(t, "orphan", it.Label)
	}
}

func TestUnreachableCyclePruned(t *testing.T) {
	g := build(t, `{"functions": [{"name": "main", "instrs": [
		{"op": "ret"},
		{"label": "a"},
		{"op": "jmp", "args": ["b"]},
		{"label": "b"},
		{"op": "jmp", "args": ["a"]}
	]}]}`)

	a, _ := g.NodeByName("a")
	b, _ := g.NodeByName("b")
	assert.False(t, g.Alive(a))
	assert.False(t, g.Alive(b))
}

func TestUnknownLabel(t *testing.T) {
	_, err := Build(context.Background(), mainFunc(t, `{"functions": [{"name": "main", "instrs": [
		{"op": "jmp", "args": ["nowhere"]}
	]}]}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown label")
}

func TestRoundTrip(t *testing.T) {
	g := build(t, `{"functions": [{"name": "main", "instrs": [
		{"label": "start"},
		{"op": "const", "dest": "c", "type": "bool", "value": false},
		{"op": "br", "args": ["c", "start", "done"]},
		{"label": "done"},
		{"op": "print", "args": ["c"]},
		{"op": "ret"}
	]}]}`)

	f := g.ToFunc()

	want := []string{
		".start",
		"c: bool = const false",
		"br c start done",
		".done",
		"print c",
		"ret",
	}

	var got []string
	for _, it := range f.Items {
		got = append(got, it.String())
	}

	assert.Equal(t, want, got)
}

func TestMutators(t *testing.T) {
	g := build(t, `{"functions": [{"name": "main", "instrs": [
		{"label": "a"},
		{"op": "const", "dest": "c", "type": "bool", "value": true},
		{"op": "br", "args": ["c", "b", "d"]},
		{"label": "b"},
		{"op": "jmp", "args": ["d"]},
		{"label": "d"},
		{"op": "ret"}
	]}]}`)

	a, _ := g.NodeByName("a")
	b, _ := g.NodeByName("b")
	d, _ := g.NodeByName("d")

	g.ReplaceEdge(a, b, d)

	assert.False(t, g.Nodes[a].Succs.IsSet(b))
	assert.True(t, g.Nodes[a].Succs.IsSet(d))
	assert.False(t, g.Nodes[b].Preds.IsSet(a))
	assert.Equal(t, []string{"c", "d", "d"}, g.Nodes[a].Term.Args)

	// replacing a non-edge is a no-op
	g.ReplaceEdge(a, b, d)
	assert.Equal(t, []string{"c", "d", "d"}, g.Nodes[a].Term.Args)

	g.SetSuccessor(a, b)
	assert.Equal(t, ir.Jmp, g.Nodes[a].Term.Op)
	assert.Equal(t, 1, g.Nodes[a].Succs.Size())
	assert.True(t, g.Nodes[b].Preds.IsSet(a))
	assert.False(t, g.Nodes[d].Preds.IsSet(a))

	g.SetSuccessors(a, b, d, "c")
	assert.Equal(t, ir.Br, g.Nodes[a].Term.Op)
	assert.Equal(t, []string{"c", "b", "d"}, g.Nodes[a].Term.Args)
	assert.True(t, g.Nodes[d].Preds.IsSet(a))

	g.Delete(b)
	assert.False(t, g.Nodes[a].Succs.IsSet(b))
	assert.Equal(t, 0, g.Nodes[b].Preds.Size())
	assert.Equal(t, 0, g.Nodes[b].Succs.Size())
}
