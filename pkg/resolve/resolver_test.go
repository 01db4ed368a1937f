package resolve

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/l3aro/pystruct/pkg/symbols"
	"github.com/l3aro/pystruct/pkg/syntax"
	"github.com/l3aro/pystruct/pkg/types"
)

func resolveCode(t *testing.T, code string) (*symbols.Table, *Resolution) {
	t.Helper()
	tree := syntax.MustParse(code)
	src := []byte(code)
	table := symbols.Build(tree.RootNode(), src, "mod.py", "")
	return table, Resolve(table, tree.RootNode(), src, syntax.NewBuiltins())
}

// refsNamed returns the references to name in source order
func refsNamed(res *Resolution, name string) []*Reference {
	var out []*Reference
	for _, ref := range res.Refs {
		if ref.Name == name {
			out = append(out, ref)
		}
	}
	return out
}

func TestResolveTiers(t *testing.T) {
	code := `limit = 3

def outer(x):
    y = x
    def inner():
        return y + limit + len(missing)
    return inner
`
	table, res := resolveCode(t, code)

	tests := []struct {
		name string
		tier Tier
	}{
		{"len", TierBuiltin},
		{"missing", TierUnresolved},
		{"limit", TierGlobal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			refs := refsNamed(res, tt.name)
			require.NotEmpty(t, refs)
			last := refs[len(refs)-1]
			assert.Equal(t, ModeRead, last.Mode)
			assert.Equal(t, tt.tier, last.Tier)
		})
	}

	ys := refsNamed(res, "y")
	require.Len(t, ys, 2)
	assert.Equal(t, ModeWrite, ys[0].Mode)
	assert.Equal(t, TierLocal, ys[0].Tier)
	assert.Equal(t, TierEnclosing, ys[1].Tier)
	assert.Equal(t, ys[0].Symbol, ys[1].Symbol)

	outer, _ := table.FindFunction("outer")
	inner, _ := table.FindFunction("inner")
	assert.True(t, table.Scope(outer.Body).Cell["y"])
	assert.True(t, table.Scope(inner.Body).Free["y"])
	assert.False(t, table.Scope(inner.Body).Free["limit"])

	missing := refsNamed(res, "missing")
	assert.False(t, missing[0].Resolved())
	assert.Len(t, res.Unresolved(), 1)
}

func TestEveryReferenceHasOneMode(t *testing.T) {
	code := `def f(a):
    a += 1
    b = a
    del b
    (c := a)
    return c
`
	_, res := resolveCode(t, code)
	modes := map[Mode]int{}
	for _, ref := range res.Refs {
		modes[ref.Mode]++
		assert.NotEqual(t, symbols.NoSymbol, ref.Symbol, ref.Name)
	}
	assert.Equal(t, 1, modes[ModeReadWrite])
	assert.Equal(t, 1, modes[ModeDelete])

	as := refsNamed(res, "a")
	require.Len(t, as, 4)
	assert.Equal(t, CtxParam, as[0].Context)
	assert.Equal(t, CtxAugAssign, as[1].Context)
}

func TestClassScopeIsSkipped(t *testing.T) {
	code := `class Config:
    debug = False
    flags = [debug for _ in range(2)]

    def show(self):
        return debug
`
	_, res := resolveCode(t, code)
	debugs := refsNamed(res, "debug")
	require.Len(t, debugs, 3)
	assert.Equal(t, TierLocal, debugs[0].Tier)
	// neither the comprehension nor the method see the class body binding
	assert.Equal(t, TierUnresolved, debugs[1].Tier)
	assert.Equal(t, TierUnresolved, debugs[2].Tier)
}

func TestClassBodyReadsEnclosingFunction(t *testing.T) {
	code := `def make():
    size = 3
    class Box:
        width = size
    return Box
`
	table, res := resolveCode(t, code)
	fn, ok := table.FindFunction("make")
	require.True(t, ok)
	sizes := refsNamed(res, "size")
	require.Len(t, sizes, 2)
	assert.Equal(t, TierEnclosing, sizes[1].Tier)
	assert.Equal(t, symbols.ScopeClass, table.Scope(sizes[1].Scope).Kind)
	assert.True(t, table.Scope(fn.Body).Cell["size"])
}

func TestComprehensionFirstIterableUsesEnclosingScope(t *testing.T) {
	code := `class Table:
    rows = [1, 2]
    doubled = [r * 2 for r in rows]
`
	table, res := resolveCode(t, code)
	rows := refsNamed(res, "rows")
	require.Len(t, rows, 2)
	assert.Equal(t, TierLocal, rows[1].Tier)
	assert.Equal(t, table.Scope(rows[0].Scope).Kind, symbols.ScopeClass)

	rs := refsNamed(res, "r")
	require.Len(t, rs, 2)
	assert.Equal(t, symbols.ScopeComprehension, table.Scope(rs[0].Scope).Kind)
	assert.Equal(t, TierLocal, rs[1].Tier)
}

func TestWalrusInComprehensionBindsThroughCell(t *testing.T) {
	code := `def f(xs):
    ys = [last := x for x in xs]
    return last
`
	table, res := resolveCode(t, code)
	fn, ok := table.FindFunction("f")
	require.True(t, ok)

	lasts := refsNamed(res, "last")
	require.Len(t, lasts, 2)
	assert.Equal(t, CtxWalrus, lasts[0].Context)
	assert.Equal(t, fn.Body, lasts[0].Scope)
	assert.Equal(t, TierLocal, lasts[1].Tier)

	xs := refsNamed(res, "x")
	require.NotEmpty(t, xs)
	comp := table.Scope(xs[0].Scope)
	require.Equal(t, symbols.ScopeComprehension, comp.Kind)
	assert.True(t, comp.Free["last"])
	assert.True(t, table.Scope(fn.Body).Cell["last"])
	assert.False(t, table.Scope(fn.Body).Cell["x"])
}

func TestGlobalAndNonlocal(t *testing.T) {
	code := `count = 0

def bump():
    global count
    count += 1

def counter():
    n = 0
    def step():
        nonlocal n
        n = n + 1
        return n
    return step
`
	table, res := resolveCode(t, code)
	assert.Empty(t, res.Diagnostics)

	counts := refsNamed(res, "count")
	require.Len(t, counts, 2)
	assert.Equal(t, TierGlobal, counts[1].Tier)
	assert.Equal(t, counts[0].Symbol, counts[1].Symbol)

	ns := refsNamed(res, "n")
	require.Len(t, ns, 4)
	for _, ref := range ns[1:] {
		assert.Equal(t, TierEnclosing, ref.Tier)
		assert.Equal(t, ns[0].Symbol, ref.Symbol)
	}
	fn, _ := table.FindFunction("counter")
	assert.True(t, table.Scope(fn.Body).Cell["n"])
}

func TestScopeConfigurationErrors(t *testing.T) {
	code := `def f():
    nonlocal ghost
    ghost = 1

def g():
    global nowhere
    return nowhere
`
	table, res := resolveCode(t, code)
	require.Len(t, res.Diagnostics.OfKind(types.DiagScopeConfig), 2)

	for _, ref := range refsNamed(res, "ghost") {
		assert.Equal(t, TierUnresolved, ref.Tier)
	}
	for _, ref := range refsNamed(res, "nowhere") {
		assert.Equal(t, TierUnresolved, ref.Tier)
	}

	f, _ := table.FindFunction("f")
	assert.Len(t, table.Scope(f.Body).Diagnostics, 1)
}

func TestCallsAreCollected(t *testing.T) {
	code := `def a():
    return b(1)

def b(x):
    return [len(v) for v in x]

a()
`
	table, res := resolveCode(t, code)
	require.Len(t, res.Calls, 3)

	a, _ := table.FindFunction("a")
	b, _ := table.FindFunction("b")
	assert.Equal(t, a.ID, res.Calls[0].Caller)
	assert.Equal(t, b.ID, res.Calls[1].Caller)
	assert.Equal(t, symbols.NoSymbol, res.Calls[2].Caller)

	callee := res.Calls[0].Node.ChildByFieldName("function")
	ref, ok := res.At(callee)
	require.True(t, ok)
	assert.Equal(t, b.ID, ref.Symbol)
}

func TestAssignedValueIsRecorded(t *testing.T) {
	code := `def f():
    a = b = 2 + 3
    c, d = 1, 2
    return a
`
	_, res := resolveCode(t, code)
	a := refsNamed(res, "a")[0]
	require.NotNil(t, a.Value)
	assert.Equal(t, "binary_operator", a.Value.Type())
	assert.NotNil(t, refsNamed(res, "b")[0].Value)
	assert.Nil(t, refsNamed(res, "c")[0].Value)
}
