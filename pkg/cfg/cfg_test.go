package cfg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/graph/flow"
	"gonum.org/v1/gonum/graph/simple"

	"github.com/l3aro/pystruct/pkg/symbols"
	"github.com/l3aro/pystruct/pkg/syntax"
)

func buildCFG(t *testing.T, code, fn string) *Graph {
	t.Helper()
	tree := syntax.MustParse(code)
	src := []byte(code)
	table := symbols.Build(tree.RootNode(), src, "mod.py", "")
	sym, ok := table.FindFunction(fn)
	require.True(t, ok, "function %s not found", fn)
	g, err := Build(table, sym, src)
	require.NoError(t, err)
	return g
}

func blocksOfType(g *Graph, typ BlockType) []*Block {
	var out []*Block
	for _, b := range g.Blocks {
		if b.Type == typ {
			out = append(out, b)
		}
	}
	return out
}

func edgesOfType(g *Graph, typ EdgeType) []Edge {
	var out []Edge
	for _, e := range g.Edges {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func TestIfWithoutElse(t *testing.T) {
	code := `def f():
    x = 1
    if cond:
        x = 2
    return x
`
	g := buildCFG(t, code, "f")
	require.Len(t, g.Blocks, 4)
	assert.Empty(t, g.Block(g.Entry).Preds)
	assert.True(t, g.Reachable(g.Exit))

	joins := blocksOfType(g, BlockTypeJoin)
	require.Len(t, joins, 1)
	join := joins[0]
	assert.Len(t, join.Preds, 2)
	assert.Contains(t, join.Preds, g.Entry)
	assert.Equal(t, g.Entry, g.IDom[join.ID])
	assert.Equal(t, join.ID, g.IDom[g.Exit])
	assert.Len(t, edgesOfType(g, EdgeTypeReturn), 1)

	assert.Equal(t, 1, g.Block(g.Entry).StartLine, "the entry starts at the def line")
	assert.Equal(t, 3, g.Block(g.Entry).EndLine)
	assert.Equal(t, 2, g.CyclomaticComplexity())
	assert.Empty(t, g.BackEdges)
}

func TestIfElifElse(t *testing.T) {
	code := `def grade(n):
    if n > 90:
        return "a"
    elif n > 50:
        label = "b"
    else:
        label = "c"
    return label
`
	g := buildCFG(t, code, "grade")
	branches := blocksOfType(g, BlockTypeBranch)
	require.Len(t, branches, 1)
	assert.Len(t, edgesOfType(g, EdgeTypeTrue), 2)
	assert.Len(t, edgesOfType(g, EdgeTypeFalse), 2)

	joins := blocksOfType(g, BlockTypeJoin)
	require.Len(t, joins, 1)
	// the returning arm is not a predecessor of the join
	assert.Len(t, joins[0].Preds, 2)
	assert.Len(t, edgesOfType(g, EdgeTypeReturn), 2)
}

func TestForLoopHasOneBackEdge(t *testing.T) {
	code := `def g(n):
    for i in range(n):
        pass
`
	g := buildCFG(t, code, "g")
	require.Len(t, g.BackEdges, 1)
	back := g.BackEdges[0]
	header := g.Block(back.To)
	assert.Equal(t, BlockTypeLoopHeader, header.Type)
	assert.Equal(t, BlockTypeLoopBody, g.Block(back.From).Type)
	assert.True(t, g.Dominates(back.To, back.From))
	assert.True(t, g.IsBackEdge(back.From, back.To))

	require.Len(t, g.Loops, 1)
	assert.Equal(t, header.ID, g.Loops[0].Header)
	assert.ElementsMatch(t, []BlockID{back.To, back.From}, g.Loops[0].Body)

	exits := blocksOfType(g, BlockTypeLoopExit)
	require.Len(t, exits, 1)
	assert.Contains(t, exits[0].Preds, header.ID)
}

func TestWhileBreakContinue(t *testing.T) {
	code := `def h(xs):
    while xs:
        if xs[0]:
            break
        if xs[1]:
            continue
        xs = xs[1:]
    return xs
`
	g := buildCFG(t, code, "h")
	breaks := edgesOfType(g, EdgeTypeBreak)
	require.Len(t, breaks, 1)
	assert.Equal(t, BlockTypeLoopExit, g.Block(breaks[0].To).Type)

	continues := edgesOfType(g, EdgeTypeContinue)
	require.Len(t, continues, 1)
	assert.Equal(t, BlockTypeLoopHeader, g.Block(continues[0].To).Type)

	require.Len(t, g.Loops, 1)
	assert.Len(t, g.Loops[0].Tails, 2)
	assert.Len(t, g.BackEdges, 2)
	for _, e := range g.BackEdges {
		assert.True(t, g.Dominates(e.To, e.From))
	}
}

func TestLoopElseSkippedByBreak(t *testing.T) {
	code := `def find(xs, k):
    for x in xs:
        if x == k:
            break
    else:
        x = None
    return x
`
	g := buildCFG(t, code, "find")
	exits := blocksOfType(g, BlockTypeLoopExit)
	require.Len(t, exits, 1)
	assert.Len(t, exits[0].Preds, 2)

	headers := blocksOfType(g, BlockTypeLoopHeader)
	require.Len(t, headers, 1)
	for _, e := range g.EdgesFrom(headers[0].ID) {
		assert.NotEqual(t, exits[0].ID, e.To, "else clause sits between header and exit")
	}
}

func TestInfiniteLoop(t *testing.T) {
	code := `def spin():
    while True:
        work()
`
	g := buildCFG(t, code, "spin")
	assert.False(t, g.Reachable(g.Exit))
	assert.False(t, g.ReachesExit(g.Entry))
	assert.Empty(t, edgesOfType(g, EdgeTypeFalse))
	require.Len(t, g.BackEdges, 1)

	n := 0
	for range g.Paths() {
		n++
	}
	assert.Zero(t, n)
}

func TestStatementsAfterReturnAreUnreachable(t *testing.T) {
	code := `def u():
    return 1
    x = 2
`
	g := buildCFG(t, code, "u")
	dead := g.Unreachable()
	require.Len(t, dead, 1)
	blk := g.Block(dead[0])
	assert.Equal(t, BlockTypeUnreachable, blk.Type)
	assert.Equal(t, 3, blk.StartLine)
	assert.Empty(t, g.Dominators(blk.ID))
	assert.True(t, g.Reachable(g.Exit))
}

func TestTryExceptFinally(t *testing.T) {
	code := `def t():
    try:
        risky()
    except ValueError:
        handle()
    finally:
        cleanup()
    return 1
`
	g := buildCFG(t, code, "t")
	handlers := blocksOfType(g, BlockTypeHandler)
	require.Len(t, handlers, 1)
	require.Len(t, blocksOfType(g, BlockTypeFinally), 2, "one finally copy per way out of the try")
	raised := finallyEntered(g, "raise")
	require.NotNil(t, raised)

	excs := edgesOfType(g, EdgeTypeException)
	var toHandler, toExit bool
	for _, e := range excs {
		if e.To == handlers[0].ID {
			toHandler = true
			assert.Equal(t, "ValueError", e.Condition)
		}
		if e.From == raised.ID && e.To == g.Exit {
			toExit = true
		}
	}
	assert.True(t, toHandler)
	assert.True(t, toExit, "uncaught exceptions re-raise after finally")

	joins := blocksOfType(g, BlockTypeJoin)
	require.Len(t, joins, 1)
	assert.False(t, reaches(g, raised.ID, joins[0].ID), "the raising copy never falls through")
	var normal *Block
	for _, fin := range blocksOfType(g, BlockTypeFinally) {
		if fin.ID != raised.ID {
			normal = fin
		}
	}
	require.NotNil(t, normal)
	assert.True(t, g.Dominates(normal.ID, joins[0].ID))
	assert.True(t, g.ReachesExit(handlers[0].ID))
}

func TestReturnThroughFinally(t *testing.T) {
	code := `def r():
    try:
        return compute()
    finally:
        close()
`
	g := buildCFG(t, code, "r")
	require.Len(t, blocksOfType(g, BlockTypeFinally), 2)
	fin := finallyEntered(g, "return")
	require.NotNil(t, fin)
	require.NotNil(t, finallyEntered(g, "raise"), "compute() may raise")

	returns := edgesOfType(g, EdgeTypeReturn)
	require.Len(t, returns, 1)
	assert.Equal(t, fin.ID, returns[0].From)
	assert.Empty(t, blocksOfType(g, BlockTypeJoin))
}

func TestFinallyCopiesKeepExitsApart(t *testing.T) {
	code := `def f(c):
    x = 1
    try:
        if c:
            x = 2
            return 0
    finally:
        print("done")
    return x
`
	g := buildCFG(t, code, "f")
	early, late := blockAtLine(g, 6), blockAtLine(g, 9)
	require.NotNil(t, early)
	require.NotNil(t, late)
	assert.False(t, reaches(g, early.ID, late.ID), "return 0 must not fall through to return x")
	assert.True(t, reaches(g, g.Entry, late.ID))

	fin := finallyEntered(g, "return")
	require.NotNil(t, fin)
	assert.True(t, reaches(g, early.ID, fin.ID))
	assert.GreaterOrEqual(t, len(blocksOfType(g, BlockTypeFinally)), 2)
}

// finallyEntered returns the finally block entered by a finally edge with cond
func finallyEntered(g *Graph, cond string) *Block {
	for _, e := range edgesOfType(g, EdgeTypeFinally) {
		if e.Condition == cond {
			return g.Block(e.To)
		}
	}
	return nil
}

func blockAtLine(g *Graph, line int) *Block {
	for _, b := range g.Blocks {
		for _, stmt := range b.Statements {
			if syntax.Pos(stmt).Line == line {
				return b
			}
		}
	}
	return nil
}

func reaches(g *Graph, from, to BlockID) bool {
	seen := map[BlockID]bool{from: true}
	stack := []BlockID{from}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if id == to {
			return true
		}
		for _, s := range g.Block(id).Succs {
			if !seen[s] {
				seen[s] = true
				stack = append(stack, s)
			}
		}
	}
	return false
}

func TestSpecificHandlerStopsMatchingChain(t *testing.T) {
	code := `def k(d):
    try:
        raise KeyError("x")
    except LookupError:
        pass
    except ValueError:
        pass
`
	g := buildCFG(t, code, "k")
	handlers := blocksOfType(g, BlockTypeHandler)
	require.Len(t, handlers, 2)

	var targets []BlockID
	for _, e := range edgesOfType(g, EdgeTypeException) {
		targets = append(targets, e.To)
	}
	assert.Contains(t, targets, handlers[0].ID)
	assert.NotContains(t, targets, handlers[1].ID)
	assert.NotContains(t, targets, g.Exit)
}

func TestMatchFallThrough(t *testing.T) {
	tests := []struct {
		name      string
		code      string
		wantFalse int
	}{
		{
			name: "wildcard arm",
			code: `def m(cmd):
    match cmd:
        case "go":
            run()
        case _:
            stop()
`,
			wantFalse: 0,
		},
		{
			name: "no wildcard",
			code: `def m(cmd):
    match cmd:
        case "go":
            run()
        case "stop" if ready:
            stop()
`,
			wantFalse: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := buildCFG(t, tt.code, "m")
			assert.Len(t, blocksOfType(g, BlockTypeCase), 2)
			assert.Len(t, edgesOfType(g, EdgeTypeCase), 2)
			assert.Len(t, edgesOfType(g, EdgeTypeFalse), tt.wantFalse)
			assert.True(t, g.Reachable(g.Exit))
		})
	}
}

func TestDominatorsAgreeWithGonum(t *testing.T) {
	code := `def busy(items):
    total = 0
    for item in items:
        if item < 0:
            continue
        try:
            total += parse(item)
        except ValueError:
            break
    else:
        total = -1
    while total > 100:
        total -= 1
    return total
`
	g := buildCFG(t, code, "busy")

	dg := simple.NewDirectedGraph()
	for _, b := range g.Blocks {
		if g.Reachable(b.ID) {
			dg.AddNode(simple.Node(b.ID))
		}
	}
	for _, b := range g.Blocks {
		if !g.Reachable(b.ID) {
			continue
		}
		for _, s := range b.Succs {
			if s != b.ID {
				dg.SetEdge(dg.NewEdge(simple.Node(b.ID), simple.Node(s)))
			}
		}
	}
	tree := flow.Dominators(simple.Node(g.Entry), dg)

	for _, b := range g.Blocks {
		if !g.Reachable(b.ID) || b.ID == g.Entry {
			continue
		}
		want := tree.DominatorOf(int64(b.ID))
		require.NotNil(t, want, "block %d", b.ID)
		assert.Equal(t, BlockID(want.ID()), g.IDom[b.ID], "block %d", b.ID)
	}
}

func TestDominatorsAreIdempotent(t *testing.T) {
	code := `def w(n):
    i = 0
    while i < n:
        if i % 2:
            i += 1
        else:
            i += 2
    return i
`
	g := buildCFG(t, code, "w")
	idom := make(map[BlockID]BlockID, len(g.IDom))
	for k, v := range g.IDom {
		idom[k] = v
	}
	back := append([]Edge(nil), g.BackEdges...)

	require.NoError(t, g.computeDominators())
	g.findLoops()
	assert.Equal(t, idom, g.IDom)
	assert.Equal(t, back, g.BackEdges)
	for _, e := range g.BackEdges {
		assert.True(t, g.Dominates(e.To, e.From))
	}
}

func TestPathsAreRestartable(t *testing.T) {
	code := `def p(a, b):
    if a:
        x = 1
    else:
        x = 2
    if b:
        x = 3
    return x
`
	g := buildCFG(t, code, "p")
	collect := func() [][]BlockID {
		var out [][]BlockID
		for path := range g.Paths() {
			out = append(out, path)
		}
		return out
	}
	first := collect()
	assert.Len(t, first, 4)
	assert.Equal(t, first, collect())
	for _, path := range first {
		assert.Equal(t, g.Entry, path[0])
		assert.Equal(t, g.Exit, path[len(path)-1])
	}

	n := 0
	for range g.Paths() {
		n++
		break
	}
	assert.Equal(t, 1, n)
}

func TestPathsSkipLoopRevisits(t *testing.T) {
	code := `def loop(xs):
    for x in xs:
        print(x)
    return 0
`
	g := buildCFG(t, code, "loop")
	var paths [][]BlockID
	for path := range g.Paths() {
		paths = append(paths, path)
	}
	require.Len(t, paths, 1)
	seen := map[BlockID]bool{}
	for _, id := range paths[0] {
		assert.False(t, seen[id])
		seen[id] = true
	}
}

func TestBuildRejectsNonFunction(t *testing.T) {
	code := `class C:
    pass
`
	tree := syntax.MustParse(code)
	table := symbols.Build(tree.RootNode(), []byte(code), "mod.py", "")
	cls, ok := table.ByQualifiedName("mod.C")
	require.True(t, ok)
	_, err := Build(table, cls, []byte(code))
	assert.Error(t, err)
}
