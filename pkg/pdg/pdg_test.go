package pdg

import (
	"reflect"
	"testing"

	"github.com/l3aro/pystruct/pkg/cfg"
	"github.com/l3aro/pystruct/pkg/dfg"
	"github.com/l3aro/pystruct/pkg/resolve"
	"github.com/l3aro/pystruct/pkg/symbols"
	"github.com/l3aro/pystruct/pkg/syntax"
)

func buildPDG(t *testing.T, code, fn string) *Graph {
	t.Helper()
	tree := syntax.MustParse(code)
	src := []byte(code)
	table := symbols.Build(tree.RootNode(), src, "mod.py", "")
	res := resolve.Resolve(table, tree.RootNode(), src, nil)
	sym, ok := table.FindFunction(fn)
	if !ok {
		t.Fatalf("function %s not found", fn)
	}
	g, err := cfg.Build(table, sym, src)
	if err != nil {
		t.Fatalf("cfg.Build() error = %v", err)
	}
	df, err := dfg.Analyze(g, table, res, src)
	if err != nil {
		t.Fatalf("dfg.Analyze() error = %v", err)
	}
	p, err := Build(g, df, res, src)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	return p
}

// lineOf returns the start line of an edge endpoint
func lineOf(g *Graph, id NodeID) int {
	return g.Node(id).StartLine
}

const branchy = `def f(a, b):
    x = a
    y = 0
    if x > 0:
        y = b
    z = y + 1
    return z
`

func TestBuildBranch(t *testing.T) {
	g := buildPDG(t, branchy, "f")

	if g.Name != "mod.f" {
		t.Errorf("Name = %s, want mod.f", g.Name)
	}
	if g.Node(EntryNode).Type != NodeTypeEntry || g.Node(EntryNode).StartLine != 1 {
		t.Errorf("entry node = %+v", g.Node(EntryNode))
	}

	preds := g.NodesAt(4)
	if len(preds) != 1 || g.Node(preds[0]).Type != NodeTypePredicate {
		t.Fatalf("line 4 should hold one predicate node, got %v", preds)
	}
	if g.Node(preds[0]).Text != "x > 0" {
		t.Errorf("predicate text = %q", g.Node(preds[0]).Text)
	}

	deps := g.Dependencies(5)
	if len(deps.ControlIn) != 1 || lineOf(g, deps.ControlIn[0].From) != 4 || deps.ControlIn[0].Label != "true" {
		t.Errorf("line 5 ControlIn = %+v, want one edge from line 4 labelled true", deps.ControlIn)
	}
	if len(deps.DataIn) != 1 || deps.DataIn[0].From != EntryNode || deps.DataIn[0].Label != "b" {
		t.Errorf("line 5 DataIn = %+v, want b from the entry", deps.DataIn)
	}
	if len(deps.DataOut) != 1 || lineOf(g, deps.DataOut[0].To) != 6 || deps.DataOut[0].Label != "y" {
		t.Errorf("line 5 DataOut = %+v, want y into line 6", deps.DataOut)
	}

	// statements outside the if depend on the entry only
	for _, line := range []int{2, 3, 4, 6, 7} {
		d := g.Dependencies(line)
		if len(d.ControlIn) != 1 || d.ControlIn[0].From != EntryNode {
			t.Errorf("line %d ControlIn = %+v, want the entry", line, d.ControlIn)
		}
	}

	if got := g.Variables(); !reflect.DeepEqual(got, []string{"a", "b", "x", "y", "z"}) {
		t.Errorf("Variables() = %v", got)
	}
}

func TestSlices(t *testing.T) {
	g := buildPDG(t, branchy, "f")

	tests := []struct {
		name     string
		backward bool
		line     int
		variable string
		want     []int
	}{
		{"condition backward", true, 4, "", []int{1, 2, 4}},
		{"use of y backward", true, 6, "y", []int{1, 3, 4, 5, 6}},
		{"initial y forward", false, 3, "", []int{3, 6, 7}},
		{"condition forward", false, 4, "", []int{4, 5, 6, 7}},
		{"no statement", true, 42, "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []int
			if tt.backward {
				got = g.BackwardSlice(tt.line, tt.variable)
			} else {
				got = g.ForwardSlice(tt.line, tt.variable)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("slice from line %d = %v, want %v", tt.line, got, tt.want)
			}
		})
	}
}

func TestLoopDependencies(t *testing.T) {
	code := `def g(n):
    total = 0
    i = 0
    while i < n:
        total += i
        i += 1
    return total
`
	g := buildPDG(t, code, "g")

	for _, line := range []int{5, 6} {
		d := g.Dependencies(line)
		if len(d.ControlIn) != 1 || lineOf(g, d.ControlIn[0].From) != 4 {
			t.Errorf("line %d ControlIn = %+v, want the loop test", line, d.ControlIn)
		}
	}
	header := g.Dependencies(4)
	if len(header.ControlIn) != 1 || header.ControlIn[0].From != EntryNode {
		t.Errorf("loop test ControlIn = %+v, want the entry", header.ControlIn)
	}

	// i += 1 feeds the loop test around the back edge
	found := false
	for _, e := range header.DataIn {
		if lineOf(g, e.From) == 6 && e.Label == "i" {
			found = true
		}
	}
	if !found {
		t.Errorf("loop test DataIn = %+v, want i from line 6", header.DataIn)
	}

	if got, want := g.BackwardSlice(6, ""), []int{1, 3, 4, 6}; !reflect.DeepEqual(got, want) {
		t.Errorf("BackwardSlice(6) = %v, want %v", got, want)
	}
}

func TestInfiniteLoopDependsOnEntry(t *testing.T) {
	code := `def spin():
    while True:
        work()
`
	g := buildPDG(t, code, "spin")
	d := g.Dependencies(3)
	if len(d.ControlIn) != 1 || d.ControlIn[0].From != EntryNode {
		t.Errorf("ControlIn = %+v, want the entry", d.ControlIn)
	}
}

func TestUnreachableStatementsHaveNoNodes(t *testing.T) {
	code := `def h(x):
    return x
    x = 2
`
	g := buildPDG(t, code, "h")
	if ids := g.NodesAt(3); len(ids) != 0 {
		t.Errorf("NodesAt(3) = %v, want none for dead code", ids)
	}
}

func TestBuildRejectsMissingInputs(t *testing.T) {
	if _, err := Build(nil, nil, nil, nil); err == nil {
		t.Error("Build() expected an error for missing inputs")
	}
}
