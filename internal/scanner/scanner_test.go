package scanner

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for path, content := range files {
		fullPath := filepath.Join(root, path)
		if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
			t.Fatalf("Failed to create directory: %v", err)
		}
		if err := os.WriteFile(fullPath, []byte(content), 0644); err != nil {
			t.Fatalf("Failed to create file: %v", err)
		}
	}
}

func paths(files []FileInfo) []string {
	var out []string
	for _, f := range files {
		out = append(out, f.Path)
	}
	return out
}

func TestScannerScan(t *testing.T) {
	tmpDir := t.TempDir()
	writeTree(t, tmpDir, map[string]string{
		"main.py":               "print('hello')",
		"pkg/__init__.py":       "",
		"pkg/util.py":           "def f(): pass",
		"pkg/types.pyi":         "def f() -> int: ...",
		"README.md":             "# Test",
		"setup.cfg":             "[metadata]",
		".hidden/secret.py":     "x = 1",
		"__pycache__/main.py":   "",
		".venv/lib/site.py":     "",
		"build/lib/pkg/util.py": "",
	})

	results, err := New(DefaultOptions()).Scan(tmpDir)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}

	want := []string{"main.py", "pkg/__init__.py", "pkg/util.py"}
	got := paths(results)
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("Scan() = %v, want %v", got, want)
	}

	modules := map[string]string{
		"main.py":         "main",
		"pkg/__init__.py": "pkg",
		"pkg/util.py":     "pkg.util",
	}
	for _, f := range results {
		if f.Module != modules[f.Path] {
			t.Errorf("%s: Module = %q, want %q", f.Path, f.Module, modules[f.Path])
		}
		if !filepath.IsAbs(f.FullPath) {
			t.Errorf("%s: FullPath %q is not absolute", f.Path, f.FullPath)
		}
		if f.Stub {
			t.Errorf("%s: unexpected stub", f.Path)
		}
	}
}

func TestScannerIncludeStubs(t *testing.T) {
	tmpDir := t.TempDir()
	writeTree(t, tmpDir, map[string]string{
		"api.py":  "def f(): pass",
		"api.pyi": "def f() -> None: ...",
	})

	opts := DefaultOptions()
	opts.IncludeStubs = true
	results, err := New(opts).Scan(tmpDir)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("Scan() = %v, want api.py and api.pyi", paths(results))
	}
	if results[0].Stub || !results[1].Stub {
		t.Errorf("Stub flags = %v, %v; want false, true", results[0].Stub, results[1].Stub)
	}
	if results[1].Module != "api" {
		t.Errorf("stub Module = %q, want api", results[1].Module)
	}
}

func TestScannerIgnoreFiles(t *testing.T) {
	tmpDir := t.TempDir()
	writeTree(t, tmpDir, map[string]string{
		".pystructignore":         "# generated code\ngen/\n*_pb2.py\n!keep_pb2.py\n",
		"app.py":                  "",
		"api_pb2.py":              "",
		"keep_pb2.py":             "",
		"gen/models.py":           "",
		"lib/.pystructignore":     "/local.py\n",
		"lib/local.py":            "",
		"lib/shared.py":           "",
		"lib/deep/local.py":       "",
		"lib/deep/service_pb2.py": "",
	})

	results, err := New(DefaultOptions()).Scan(tmpDir)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}

	want := []string{"app.py", "keep_pb2.py", "lib/deep/local.py", "lib/shared.py"}
	got := paths(results)
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("Scan() = %v, want %v", got, want)
	}
}

func TestScannerSingleFile(t *testing.T) {
	tmpDir := t.TempDir()
	writeTree(t, tmpDir, map[string]string{"script": "print(1)"})

	results, err := Scan(filepath.Join(tmpDir, "script"))
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if len(results) != 1 || results[0].Path != "script" || results[0].Module != "script" {
		t.Errorf("Scan() = %+v, want the single file", results)
	}
}

func TestScannerMissingRoot(t *testing.T) {
	if _, err := Scan(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Error("Scan() expected an error for a missing root")
	}
}

func TestScannerRead(t *testing.T) {
	tmpDir := t.TempDir()
	writeTree(t, tmpDir, map[string]string{"mod.py": "x = 1\n"})

	s := New(DefaultOptions())
	results, err := s.Scan(tmpDir)
	if err != nil || len(results) != 1 {
		t.Fatalf("Scan() = %v, %v", results, err)
	}
	data, err := s.Read(context.Background(), results[0])
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(data) != "x = 1\n" {
		t.Errorf("Read() = %q", data)
	}

	if _, err := s.Read(context.Background(), FileInfo{Path: "gone.py", FullPath: filepath.Join(tmpDir, "gone.py")}); err == nil {
		t.Error("Read() expected an error for a missing file")
	}
}

func TestIgnorePatternMatch(t *testing.T) {
	tests := []struct {
		pattern string
		base    string
		rel     string
		isDir   bool
		want    bool
	}{
		{"*.py", "", "a/b/c.py", false, true},
		{"*.py", "", "c.txt", false, false},
		{"tests/", "", "pkg/tests", true, true},
		{"tests/", "", "pkg/tests", false, false},
		{"/conf.py", "", "conf.py", false, true},
		{"/conf.py", "", "docs/conf.py", false, false},
		{"docs/*.py", "", "docs/conf.py", false, true},
		{"docs/*.py", "", "src/docs/conf.py", false, false},
		{"**/migrations", "", "a/b/migrations", true, true},
		{"a/**/z.py", "", "a/z.py", false, true},
		{"a/**/z.py", "", "a/b/c/z.py", false, true},
		{"local.py", "lib", "lib/x/local.py", false, true},
		{"local.py", "lib", "local.py", false, false},
		{"/local.py", "lib", "lib/x/local.py", false, false},
	}
	for _, tt := range tests {
		p := ParseIgnorePattern(tt.pattern, tt.base)
		if got := p.Match(tt.rel, tt.isDir); got != tt.want {
			t.Errorf("%q (base %q).Match(%q, %v) = %v, want %v", tt.pattern, tt.base, tt.rel, tt.isDir, got, tt.want)
		}
	}
}

func TestParseIgnoreFile(t *testing.T) {
	patterns, err := ParseIgnoreFile(strings.NewReader("# comment\n\n*.pyc\n!keep.pyc\n  \n"), "")
	if err != nil {
		t.Fatalf("ParseIgnoreFile failed: %v", err)
	}
	if len(patterns) != 2 {
		t.Fatalf("got %d patterns, want 2", len(patterns))
	}
	if patterns[0].IsNegation() || !patterns[1].IsNegation() {
		t.Errorf("negation flags wrong: %v", patterns)
	}
	if patterns[1].String() != "!keep.pyc" {
		t.Errorf("String() = %q", patterns[1].String())
	}
	if !ignored("x/a.pyc", false, patterns) || ignored("x/keep.pyc", false, patterns) {
		t.Error("later negation should re-include keep.pyc")
	}
}
