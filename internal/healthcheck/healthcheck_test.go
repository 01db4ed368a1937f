package healthcheck

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/l3aro/pystruct/internal/config"
)

func statusOf(t *testing.T, r *Result, name string) CheckStatus {
	t.Helper()
	for _, c := range r.Checks {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("no %q check in %+v", name, r.Checks)
	return CheckStatus{}
}

func TestCheckWithNilConfig(t *testing.T) {
	_, err := Check(context.Background(), nil, "", "", ".")
	if err == nil {
		t.Error("Expected error for nil config, got nil")
	}
}

func TestCheckDefaults(t *testing.T) {
	result, err := Check(context.Background(), config.DefaultConfig(), "", "", t.TempDir())
	if err != nil {
		t.Fatalf("Check() failed: %v", err)
	}

	if result.Failed() {
		t.Errorf("Failed() = true, checks: %+v", result.Checks)
	}
	if len(result.Checks) != 4 {
		t.Errorf("len(Checks) = %d, want 4", len(result.Checks))
	}
	if got := statusOf(t, result, "parser").Status; got != StatusOK {
		t.Errorf("parser status = %q, want %q", got, StatusOK)
	}
	if got := statusOf(t, result, "ignore file").Detail; got != ".pystructignore not found, default excludes only" {
		t.Errorf("ignore file detail = %q", got)
	}
}

func TestCheckFindsIgnoreFile(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, config.DefaultIgnoreFile)
	if err := os.WriteFile(path, []byte("generated/\n"), 0644); err != nil {
		t.Fatal(err)
	}

	result, err := Check(context.Background(), config.DefaultConfig(), "", "", root)
	if err != nil {
		t.Fatalf("Check() failed: %v", err)
	}
	c := statusOf(t, result, "ignore file")
	if c.Status != StatusOK || c.Detail != path {
		t.Errorf("ignore file = %+v, want ok with %s", c, path)
	}
}

func TestCheckIgnoreFileIsDirectory(t *testing.T) {
	root := t.TempDir()
	if err := os.Mkdir(filepath.Join(root, config.DefaultIgnoreFile), 0755); err != nil {
		t.Fatal(err)
	}

	result, err := Check(context.Background(), config.DefaultConfig(), "", "", root)
	if err != nil {
		t.Fatalf("Check() failed: %v", err)
	}
	if !result.Failed() {
		t.Error("Failed() = false, want true for a directory ignore file")
	}
}

func TestCheckBuiltinsWarnsOnShadowing(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.ExtraBuiltins = []string{"print", "reveal_type"}

	result, err := Check(context.Background(), cfg, "", "", t.TempDir())
	if err != nil {
		t.Fatalf("Check() failed: %v", err)
	}
	c := statusOf(t, result, "builtins")
	if c.Status != StatusWarn {
		t.Errorf("builtins status = %q, want %q", c.Status, StatusWarn)
	}
	if c.Error != "already builtin: print" {
		t.Errorf("builtins error = %q", c.Error)
	}
	if result.Failed() {
		t.Error("a warning must not fail the check")
	}
}

func TestCheckWorkers(t *testing.T) {
	tests := []struct {
		name    string
		workers int
		want    string
	}{
		{"positive", 1, StatusOK},
		{"zero", 0, StatusError},
		{"oversubscribed", 1 << 20, StatusWarn},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			cfg.Workers = tt.workers
			if got := checkWorkers(cfg).Status; got != tt.want {
				t.Errorf("checkWorkers(%d) = %q, want %q", tt.workers, got, tt.want)
			}
		})
	}
}

func TestScopeFromPath(t *testing.T) {
	home, _ := os.UserHomeDir()
	globalPath := ""
	if home != "" {
		globalPath = filepath.Join(home, ".pystruct", "config.yaml")
	}

	tests := []struct {
		name     string
		path     string
		expected string
	}{
		{"empty path", "", ""},
		{"global path", globalPath, "global"},
		{"project path", "/project/.pystruct/config.yaml", "project"},
		{"relative project path", ".pystruct/config.yaml", "project"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.path == "" && tt.expected != "" {
				t.Skip("no home directory")
			}
			result := scopeFromPath(tt.path)
			if result != tt.expected {
				t.Errorf("scopeFromPath(%q) = %q, want %q", tt.path, result, tt.expected)
			}
		})
	}
}
