package engine

import (
	"context"
	"fmt"
	"testing"

	"github.com/cespare/xxhash/v2"
	"github.com/sourcegraph/conc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/l3aro/pystruct/internal/log"
	"github.com/l3aro/pystruct/pkg/callgraph"
	"github.com/l3aro/pystruct/pkg/cfg"
	"github.com/l3aro/pystruct/pkg/symbols"
	"github.com/l3aro/pystruct/pkg/types"
)

func analyze(t *testing.T, code, file string, opts ...Option) *Bundle {
	t.Helper()
	b, err := AnalyzeSource(context.Background(), []byte(code), file, opts...)
	require.NoError(t, err)
	return b
}

func TestAnalyzeProducesEveryStage(t *testing.T) {
	code := `def a():
    b()

def b():
    pass

def f():
    x = 1
    if cond:
        x = 2
    return x
`
	b := analyze(t, code, "pkg/mod.py")
	assert.Equal(t, "pkg/mod.py", b.File)
	assert.Equal(t, "pkg.mod", b.Module)
	assert.Equal(t, xxhash.Sum64String(code), b.Digest)
	assert.False(t, b.Stopped)
	assert.Len(t, b.Functions, 3)
	assert.Len(t, b.CFGs, 3)
	assert.Len(t, b.Dataflow, 3)

	sym, g, df, ok := b.Function("f")
	require.True(t, ok)
	assert.Equal(t, "pkg.mod.f", sym.QualifiedName)
	assert.Len(t, g.Blocks, 4)
	assert.Empty(t, df.Dead)
	assert.False(t, b.Failed(sym.ID))

	a, _, _, ok := b.Function("a")
	require.True(t, ok)
	callee, _, _, ok := b.Function("b")
	require.True(t, ok)
	require.Len(t, b.CallGraph.Sites, 1)
	assert.Equal(t, callee.ID, b.CallGraph.Sites[0].Callee)
	assert.True(t, b.CallGraph.IsEntryPoint(a.ID))
	assert.True(t, b.CallGraph.IsLeaf(callee.ID))
}

func TestMalformedInputKeepsOtherDeclarations(t *testing.T) {
	code := `def good():
    a = 1
    return a

def f(
`
	b := analyze(t, code, "mod.py")
	assert.True(t, b.Stopped)

	input := b.Diagnostics.OfKind(types.DiagInput)
	require.NotEmpty(t, input)
	assert.Equal(t, "mod.py", input[0].File)
	assert.Positive(t, input[0].Line)
	assert.False(t, b.Diagnostics.HasKind(types.DiagInternal))

	_, g, df, ok := b.Function("good")
	require.True(t, ok)
	assert.NotNil(t, g)
	assert.Len(t, df.DefsOf("a"), 1)
	assert.Len(t, b.Table.Functions(), 1)
}

func TestMalformedDefSwallowsFollowingSibling(t *testing.T) {
	code := `def good():
    return 1

def f(

def g():
    return 2
`
	b := analyze(t, code, "mod.py")
	assert.True(t, b.Stopped)
	assert.True(t, b.Diagnostics.HasKind(types.DiagInput))
	assert.False(t, b.Diagnostics.HasKind(types.DiagInternal))

	_, g, _, ok := b.Function("good")
	require.True(t, ok, "declarations before the broken def survive")
	assert.NotNil(t, g)
	// the parser folds the unclosed def into the one after it
	_, _, _, ok = b.Function("g")
	assert.False(t, ok)
}

func TestAnalyzeWithoutTree(t *testing.T) {
	b := Analyze(nil, nil, "empty.py")
	assert.True(t, b.Stopped)
	assert.Nil(t, b.Table)
	assert.True(t, b.Diagnostics.HasKind(types.DiagInput))
	_, _, _, ok := b.Function("f")
	assert.False(t, ok)
}

func TestOptions(t *testing.T) {
	code := `def f():
    return magic()
`
	plain := analyze(t, code, "mod.py")
	require.Len(t, plain.CallGraph.Sites, 1)
	assert.Equal(t, callgraph.ReasonUndefined, plain.CallGraph.Sites[0].Reason)

	b := analyze(t, code, "mod.py", WithModuleName("custom"), WithBuiltins("magic"), WithLogger(log.Nop()))
	assert.Equal(t, "custom", b.Module)
	_, ok := b.Table.ByQualifiedName("custom.f")
	assert.True(t, ok)
	require.Len(t, b.CallGraph.Sites, 1)
	assert.Equal(t, callgraph.ReasonBuiltin, b.CallGraph.Sites[0].Reason)
}

func TestGuardReportsInternalFailures(t *testing.T) {
	tests := []struct {
		name string
		step func() error
		want string
	}{
		{
			name: "panic",
			step: func() error { panic("boom") },
			want: "panic: boom",
		},
		{
			name: "no convergence",
			step: func() error { return fmt.Errorf("mod.f: %w", cfg.ErrNoConvergence) },
			want: "dominators of mod.f did not converge",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &Bundle{
				File: "mod.py",
				CFGs: map[symbols.SymbolID]*cfg.Graph{3: {}},
			}
			fn := &symbols.Symbol{ID: 3, QualifiedName: "mod.f", Span: types.Span{Start: types.Position{Line: 7}}}
			b.guard(log.Nop(), fn, tt.step)

			require.Len(t, b.Diagnostics, 1)
			d := b.Diagnostics[0]
			assert.Equal(t, types.DiagInternal, d.Kind)
			assert.Equal(t, "mod.f", d.Function)
			assert.Equal(t, 7, d.Line)
			assert.Contains(t, d.Message, tt.want)
			assert.True(t, b.Failed(3))
		})
	}
}

func TestGuardPassesSuccess(t *testing.T) {
	b := &Bundle{CFGs: make(map[symbols.SymbolID]*cfg.Graph)}
	ran := false
	b.guard(log.Nop(), &symbols.Symbol{QualifiedName: "mod.f"}, func() error {
		ran = true
		return nil
	})
	assert.True(t, ran)
	assert.Empty(t, b.Diagnostics)
}

func TestConcurrentAnalysesShareNothing(t *testing.T) {
	var wg conc.WaitGroup
	bundles := make([]*Bundle, 8)
	for i := range bundles {
		wg.Go(func() {
			code := fmt.Sprintf("def f%d(n):\n    total = 0\n    for i in range(n):\n        total += i\n    return total\n", i)
			b, err := AnalyzeSource(context.Background(), []byte(code), fmt.Sprintf("m%d.py", i))
			if err == nil {
				bundles[i] = b
			}
		})
	}
	wg.Wait()

	for i, b := range bundles {
		require.NotNil(t, b, "bundle %d", i)
		_, g, _, ok := b.Function(fmt.Sprintf("f%d", i))
		require.True(t, ok)
		assert.Len(t, g.BackEdges, 1)
		assert.Empty(t, b.Diagnostics)
	}
}
