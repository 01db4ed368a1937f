// Package integration runs the whole analysis pipeline over a small Python
// project: Scan → Analyze → Report → PDG.
package integration

import (
	"bytes"
	"context"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/l3aro/pystruct/internal/runner"
	"github.com/l3aro/pystruct/internal/scanner"
	"github.com/l3aro/pystruct/pkg/callgraph"
	"github.com/l3aro/pystruct/pkg/engine"
	"github.com/l3aro/pystruct/pkg/pdg"
	"github.com/l3aro/pystruct/pkg/report"
)

func projectPath() string {
	return filepath.Join("testdata", "sample_project")
}

func analyzeProject(t *testing.T) map[string]*engine.Bundle {
	t.Helper()
	sc := scanner.New(scanner.DefaultOptions())
	files, err := sc.Scan(projectPath())
	if err != nil {
		t.Fatalf("Failed to scan project: %v", err)
	}
	results, err := runner.New(sc, 2, nil).Run(context.Background(), files)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	bundles := make(map[string]*engine.Bundle)
	for _, res := range results {
		if res.Err != nil {
			t.Fatalf("%s: %v", res.File.Path, res.Err)
		}
		if res.Bundle.Stopped {
			t.Errorf("%s: analysis stopped early", res.File.Path)
		}
		bundles[res.Bundle.Module] = res.Bundle
	}
	return bundles
}

func siteNamed(g *callgraph.Graph, callee string) *callgraph.CallSite {
	for _, s := range g.Sites {
		if s.CalleeName == callee {
			return s
		}
	}
	return nil
}

func TestFullPipeline(t *testing.T) {
	bundles := analyzeProject(t)

	t.Run("ScanProject", func(t *testing.T) {
		for _, module := range []string{"calculator", "main", "shapes", "utils"} {
			if _, ok := bundles[module]; !ok {
				t.Errorf("Expected module %s in results", module)
			}
		}
		if len(bundles) != 4 {
			t.Errorf("Expected 4 modules, got %d", len(bundles))
		}
	})

	t.Run("Recursion", func(t *testing.T) {
		b := bundles["utils"]
		fact, ok := b.Table.ByQualifiedName("utils.factorial")
		if !ok {
			t.Fatal("utils.factorial not found")
		}
		if !b.CallGraph.IsRecursive(fact.ID) {
			t.Error("factorial should be recursive")
		}
	})

	t.Run("ControlFlow", func(t *testing.T) {
		b := bundles["utils"]
		_, g, _, ok := b.Function("total")
		if !ok {
			t.Fatal("total not found")
		}
		if len(g.Loops) != 1 {
			t.Errorf("total: expected 1 loop, got %d", len(g.Loops))
		}
		_, g, _, ok = b.Function("clamp")
		if !ok {
			t.Fatal("clamp not found")
		}
		if got := g.CyclomaticComplexity(); got != 3 {
			t.Errorf("clamp: expected complexity 3, got %d", got)
		}
	})

	t.Run("MethodCalls", func(t *testing.T) {
		b := bundles["calculator"]
		site := siteNamed(b.CallGraph, "self.record")
		if site == nil || !site.IsResolved() {
			t.Fatalf("self.record should resolve, got %v", site)
		}
		if name := b.Table.Symbol(site.Callee).QualifiedName; name != "calculator.Calculator.record" {
			t.Errorf("self.record resolved to %s", name)
		}

		b = bundles["shapes"]
		site = siteNamed(b.CallGraph, "square.describe")
		if site == nil || !site.IsResolved() {
			t.Fatalf("square.describe should resolve through the base class, got %v", site)
		}
		if name := b.Table.Symbol(site.Callee).QualifiedName; name != "shapes.Shape.describe" {
			t.Errorf("square.describe resolved to %s", name)
		}
		if site = siteNamed(b.CallGraph, "Square"); site == nil || !site.IsConstructor {
			t.Errorf("Square(3) should be a constructor call, got %v", site)
		}
		if site = siteNamed(b.CallGraph, "shape.area"); site == nil || site.Reason != callgraph.ReasonDynamic {
			t.Errorf("shape.area should stay dynamic, got %v", site)
		}
	})

	t.Run("UnresolvedReasons", func(t *testing.T) {
		b := bundles["main"]
		want := map[string]callgraph.Reason{
			"Calculator": callgraph.ReasonImported,
			"sys.exit":   callgraph.ReasonImported,
			"print":      callgraph.ReasonBuiltin,
			"calc.add":   callgraph.ReasonDynamic,
		}
		for callee, reason := range want {
			site := siteNamed(b.CallGraph, callee)
			if site == nil {
				t.Errorf("no call site for %s", callee)
				continue
			}
			if site.Reason != reason {
				t.Errorf("%s: expected reason %s, got %s", callee, reason, site.Reason)
			}
		}
		mainFn, ok := b.Table.ByQualifiedName("main.main")
		if !ok {
			t.Fatal("main.main not found")
		}
		if !b.CallGraph.IsEntryPoint(mainFn.ID) {
			t.Error("main.main is only called from module level and should be an entry point")
		}
	})

	t.Run("Slice", func(t *testing.T) {
		b := bundles["utils"]
		_, g, df, ok := b.Function("clamp")
		if !ok {
			t.Fatal("clamp not found")
		}
		sc := scanner.New(scanner.DefaultOptions())
		files, err := sc.Scan(filepath.Join(projectPath(), "utils.py"))
		if err != nil || len(files) != 1 {
			t.Fatalf("scan utils.py: %v", err)
		}
		src, err := sc.Read(context.Background(), files[0])
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		p, err := pdg.Build(g, df, b.Resolution, src)
		if err != nil {
			t.Fatalf("pdg: %v", err)
		}
		got := p.BackwardSlice(13, "")
		want := []int{7, 8, 9, 10, 11, 12, 13}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("backward slice of return: expected %v, got %v", want, got)
		}
		if got := p.BackwardSlice(10, "low"); !reflect.DeepEqual(got, []int{7, 9, 10}) {
			t.Errorf("backward slice of low: expected [7 9 10], got %v", got)
		}
	})

	t.Run("Report", func(t *testing.T) {
		for module, b := range bundles {
			r := report.New(b, report.Options{MaxPaths: 8})
			var text bytes.Buffer
			if err := report.WriteText(&text, r); err != nil {
				t.Fatalf("%s: %v", module, err)
			}
			if !strings.Contains(text.String(), "("+module+")") {
				t.Errorf("%s: text report lacks module heading", module)
			}

			var packed bytes.Buffer
			if err := report.Encode(&packed, r, report.FormatMsgpack); err != nil {
				t.Fatalf("%s: %v", module, err)
			}
			decoded, err := report.Decode(packed.Bytes(), report.FormatMsgpack)
			if err != nil {
				t.Fatalf("%s: %v", module, err)
			}
			if len(decoded.Functions) != len(r.Functions) {
				t.Errorf("%s: decoded %d functions, want %d", module, len(decoded.Functions), len(r.Functions))
			}
		}
	})
}
