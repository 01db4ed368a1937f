package callgraph

import (
	"testing"

	"github.com/l3aro/pystruct/pkg/resolve"
	"github.com/l3aro/pystruct/pkg/symbols"
	"github.com/l3aro/pystruct/pkg/syntax"
)

type fixture struct {
	table *symbols.Table
	graph *Graph
}

func build(t *testing.T, code string) fixture {
	t.Helper()
	tree := syntax.MustParse(code)
	src := []byte(code)
	table := symbols.Build(tree.RootNode(), src, "mod.py", "")
	res := resolve.Resolve(table, tree.RootNode(), src, nil)
	g, err := Build(table, res, src)
	if err != nil {
		t.Fatalf("Build() failed: %v", err)
	}
	return fixture{table: table, graph: g}
}

func (f fixture) id(t *testing.T, qname string) symbols.SymbolID {
	t.Helper()
	sym, ok := f.table.ByQualifiedName(qname)
	if !ok {
		t.Fatalf("symbol %s not found", qname)
	}
	return sym.ID
}

// site returns the only call site whose callee text is name
func (f fixture) site(t *testing.T, name string) *CallSite {
	t.Helper()
	var found *CallSite
	for _, s := range f.graph.Sites {
		if s.CalleeName != name {
			continue
		}
		if found != nil {
			t.Fatalf("more than one call to %s", name)
		}
		found = s
	}
	if found == nil {
		t.Fatalf("no call to %s", name)
	}
	return found
}

func TestDirectCall(t *testing.T) {
	f := build(t, `def a():
    b()

def b():
    pass
`)
	a, b := f.id(t, "mod.a"), f.id(t, "mod.b")

	if len(f.graph.Sites) != 1 {
		t.Fatalf("Expected 1 call site, got %d", len(f.graph.Sites))
	}
	site := f.graph.Sites[0]
	if !site.IsResolved() || site.Caller != a || site.Callee != b {
		t.Errorf("Expected resolved edge a -> b, got %s", site)
	}
	if site.HasArgs || site.IsConstructor {
		t.Errorf("Unexpected flags on %s", site)
	}

	if !f.graph.IsEntryPoint(a) || f.graph.IsEntryPoint(b) {
		t.Errorf("Expected only a as entry point, got %v", f.graph.EntryPoints)
	}
	if !f.graph.IsLeaf(b) || f.graph.IsLeaf(a) {
		t.Errorf("Expected only b as leaf, got %v", f.graph.Leaves)
	}
	if got := f.graph.Callees(a); len(got) != 1 || got[0] != b {
		t.Errorf("Callees(a) = %v", got)
	}
	if got := f.graph.Callers(b); len(got) != 1 || got[0] != a {
		t.Errorf("Callers(b) = %v", got)
	}
	if len(f.graph.Recursive) != 0 {
		t.Errorf("Expected no recursion, got %v", f.graph.Recursive)
	}
}

func TestMethodCalls(t *testing.T) {
	f := build(t, `class Base:
    def greet(self):
        pass

class Service(Base):
    def run(self):
        self.helper(1)
        self.greet()
        self.missing()

    def helper(self, x):
        return x

    @staticmethod
    def util(self):
        self.helper(2)
`)
	tests := []struct {
		callee string
		want   string
	}{
		{"self.helper", "mod.Service.helper"},
		{"self.greet", "mod.Base.greet"},
	}
	for _, tt := range tests {
		t.Run(tt.callee, func(t *testing.T) {
			var site *CallSite
			for _, s := range f.graph.SitesFrom(f.id(t, "mod.Service.run")) {
				if s.CalleeName == tt.callee {
					site = s
				}
			}
			if site == nil {
				t.Fatalf("no call to %s", tt.callee)
			}
			if site.Callee != f.id(t, tt.want) {
				t.Errorf("Expected %s to resolve to %s, got %s", tt.callee, tt.want, site)
			}
		})
	}

	missing := f.site(t, "self.missing")
	if missing.IsResolved() || missing.Reason != ReasonUnknownMember {
		t.Errorf("Expected unknown member, got %s", missing)
	}

	static := f.graph.SitesFrom(f.id(t, "mod.Service.util"))
	if len(static) != 1 || static[0].IsResolved() {
		t.Errorf("Expected the static method call to stay unresolved, got %v", static)
	}
}

func TestConstructorAndTypedReceivers(t *testing.T) {
	f := build(t, `class Widget:
    def draw(self):
        pass

def main():
    w = Widget()
    w.draw()

def paint(canvas: Widget):
    canvas.draw()
`)
	widget, draw := f.id(t, "mod.Widget"), f.id(t, "mod.Widget.draw")

	ctor := f.site(t, "Widget")
	if !ctor.IsResolved() || !ctor.IsConstructor || ctor.Callee != widget {
		t.Errorf("Expected constructor call to Widget, got %s", ctor)
	}
	if call := f.site(t, "w.draw"); call.Callee != draw {
		t.Errorf("Expected w.draw to resolve through the assignment, got %s", call)
	}
	if call := f.site(t, "canvas.draw"); call.Callee != draw {
		t.Errorf("Expected canvas.draw to resolve through the annotation, got %s", call)
	}
	if f.graph.IsEntryPoint(widget) {
		t.Errorf("Widget is constructed by main and is not an entry point")
	}
}

func TestUnresolvedCalls(t *testing.T) {
	f := build(t, `import os

def run(obj, items):
    getattr(obj, "go")()
    obj.go()
    len(items)
    missing()
    items[0]()
    os.getcwd()
`)
	tests := []struct {
		callee string
		reason Reason
	}{
		{`getattr(obj, "go")`, ReasonDynamic},
		{"getattr", ReasonBuiltin},
		{"obj.go", ReasonDynamic},
		{"len", ReasonBuiltin},
		{"missing", ReasonUndefined},
		{"items[0]", ReasonDynamic},
		{"os.getcwd", ReasonImported},
	}
	for _, tt := range tests {
		t.Run(tt.callee, func(t *testing.T) {
			site := f.site(t, tt.callee)
			if site.IsResolved() {
				t.Fatalf("Expected %s to stay unresolved", tt.callee)
			}
			if site.Callee != symbols.NoSymbol {
				t.Errorf("Unresolved site carries callee %d", site.Callee)
			}
			if site.Reason != tt.reason {
				t.Errorf("Expected reason %s, got %s", tt.reason, site.Reason)
			}
		})
	}
	if len(f.graph.Unresolved()) != len(tests) {
		t.Errorf("Expected %d unresolved sites, got %d", len(tests), len(f.graph.Unresolved()))
	}
	if f.graph.IsLeaf(f.id(t, "mod.run")) {
		t.Errorf("Unresolved calls still count as outgoing edges")
	}
}

func TestRecursion(t *testing.T) {
	f := build(t, `def fact(n):
    return n * fact(n - 1)

def even(n):
    return odd(n - 1)

def odd(n):
    return even(n - 1)

def main():
    return fact(3) + even(4)

main()
`)
	fact, even, odd, main := f.id(t, "mod.fact"), f.id(t, "mod.even"), f.id(t, "mod.odd"), f.id(t, "mod.main")

	for _, id := range []symbols.SymbolID{fact, even, odd} {
		if !f.graph.IsRecursive(id) {
			t.Errorf("Expected %d to be recursive", id)
		}
	}
	if f.graph.IsRecursive(main) {
		t.Errorf("main is not recursive")
	}
	if len(f.graph.Cycles) != 1 || len(f.graph.Cycles[0]) != 2 {
		t.Fatalf("Expected one two-node cycle, got %v", f.graph.Cycles)
	}
	if f.graph.Cycles[0][0] != even || f.graph.Cycles[0][1] != odd {
		t.Errorf("Expected cycle [even odd], got %v", f.graph.Cycles[0])
	}

	if len(f.graph.EntryPoints) != 1 || f.graph.EntryPoints[0] != main {
		t.Errorf("Expected main as the only entry point, got %v", f.graph.EntryPoints)
	}
	top := f.site(t, "main")
	if top.Caller != symbols.NoSymbol || top.CallerName != ModuleCaller {
		t.Errorf("Expected module level caller, got %s", top)
	}
}

func TestSelfRecursionIsNotAnEntryPoint(t *testing.T) {
	f := build(t, `def fact(n):
    return fact(n - 1)

def run():
    pass

fact(3)
run()
`)
	fact, run := f.id(t, "mod.fact"), f.id(t, "mod.run")
	if !f.graph.IsRecursive(fact) {
		t.Errorf("Expected fact to be recursive")
	}
	if f.graph.IsEntryPoint(fact) {
		t.Errorf("fact calls itself and should not be an entry point")
	}
	if !f.graph.IsEntryPoint(run) {
		t.Errorf("run is only called from module level and should be an entry point")
	}
}

func TestArgumentShapes(t *testing.T) {
	f := build(t, `def target(*args, **kwargs):
    pass

def caller(xs, opts):
    target(*xs, **opts)
    target()
    target(1, key=2)
`)
	sites := f.graph.SitesFrom(f.id(t, "mod.caller"))
	if len(sites) != 3 {
		t.Fatalf("Expected 3 call sites, got %d", len(sites))
	}
	byLine := make(map[int]*CallSite)
	for _, s := range sites {
		if !s.IsResolved() {
			t.Errorf("Expected %s to resolve", s)
		}
		byLine[s.Span.Start.Line] = s
	}

	if s := byLine[5]; !s.HasArgs || !s.HasStarArgs || !s.HasKwArgs {
		t.Errorf("Expected star and keyword spread flags, got %+v", s)
	}
	if s := byLine[6]; s.HasArgs || s.HasStarArgs || s.HasKwArgs {
		t.Errorf("Expected no argument flags, got %+v", s)
	}
	if s := byLine[7]; !s.HasArgs || s.HasStarArgs || s.HasKwArgs {
		t.Errorf("Expected plain arguments only, got %+v", s)
	}
}

func TestBuildRejectsMissingInputs(t *testing.T) {
	if _, err := Build(nil, nil, nil); err == nil {
		t.Errorf("Expected an error without a symbol table")
	}
}
