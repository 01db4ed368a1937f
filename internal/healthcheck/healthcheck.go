package healthcheck

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/l3aro/pystruct/internal/config"
	"github.com/l3aro/pystruct/pkg/engine"
	"github.com/l3aro/pystruct/pkg/syntax"
)

// Check statuses
const (
	StatusOK    = "ok"
	StatusWarn  = "warn"
	StatusError = "error"
)

// CheckStatus is the outcome of one check
type CheckStatus struct {
	Name   string
	Status string // "ok", "warn" or "error"
	Detail string
	Error  string
}

// Result contains the full health check output for display.
type Result struct {
	SavedPath      string
	SavedScope     string // "global" or "project"
	EffectivePath  string
	EffectiveScope string // "global" or "project"
	Checks         []CheckStatus
}

// Failed reports whether any check ended in an error
func (r *Result) Failed() bool {
	for _, c := range r.Checks {
		if c.Status == StatusError {
			return true
		}
	}
	return false
}

// sample is a small module that exercises every analysis stage
const sample = `def outer(n):
    total = 0
    for i in range(n):
        if i % 2:
            total += inner(i)
    return total

def inner(x):
    return x * 2
`

// Check runs every check against the given config.
// savedPath is where the user saved config (may be empty outside init).
// effectivePath is the config file actually in use (considering priority).
// root is the directory that will be analysed.
func Check(ctx context.Context, cfg *config.Config, savedPath, effectivePath, root string) (*Result, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	result := &Result{
		SavedPath:      savedPath,
		SavedScope:     scopeFromPath(savedPath),
		EffectivePath:  effectivePath,
		EffectiveScope: scopeFromPath(effectivePath),
	}

	result.Checks = append(result.Checks,
		checkParser(ctx, cfg),
		checkBuiltins(cfg),
		checkIgnoreFile(cfg, root),
		checkWorkers(cfg),
	)
	return result, nil
}

// scopeFromPath determines "global" or "project" scope from a config file path.
// Returns empty string if path is empty.
func scopeFromPath(path string) string {
	if path == "" {
		return ""
	}

	home, err := os.UserHomeDir()
	if err == nil {
		globalDir := filepath.Join(home, ".pystruct")
		if strings.HasPrefix(path, globalDir+string(filepath.Separator)) {
			return "global"
		}
	}

	return "project"
}

// checkParser runs the full pipeline over the sample module
func checkParser(ctx context.Context, cfg *config.Config) CheckStatus {
	status := CheckStatus{Name: "parser"}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	b, err := engine.AnalyzeSource(ctx, []byte(sample), "sample.py", engine.WithBuiltins(cfg.ExtraBuiltins...))
	if err != nil {
		status.Status = StatusError
		status.Error = err.Error()
		return status
	}
	if len(b.Diagnostics) > 0 {
		status.Status = StatusError
		status.Error = b.Diagnostics[0].String()
		return status
	}
	if len(b.CFGs) != 2 || len(b.CallGraph.Sites) == 0 {
		status.Status = StatusError
		status.Error = fmt.Sprintf("sample produced %d graphs and %d call sites", len(b.CFGs), len(b.CallGraph.Sites))
		return status
	}

	status.Status = StatusOK
	status.Detail = fmt.Sprintf("tree-sitter python, sample analysed in %s", b.Elapsed.Round(time.Microsecond))
	return status
}

// checkBuiltins reports how many names resolve as builtins and flags extra
// names that shadow a real builtin
func checkBuiltins(cfg *config.Config) CheckStatus {
	status := CheckStatus{Name: "builtins"}
	standard := syntax.NewBuiltins()

	var dup []string
	for _, name := range cfg.ExtraBuiltins {
		if standard.Has(name) {
			dup = append(dup, name)
		}
	}

	total := len(syntax.NewBuiltins(cfg.ExtraBuiltins...).Names())
	status.Detail = fmt.Sprintf("%d names (%d extra)", total, len(cfg.ExtraBuiltins))
	if len(dup) > 0 {
		status.Status = StatusWarn
		status.Error = fmt.Sprintf("already builtin: %s", strings.Join(dup, ", "))
		return status
	}
	status.Status = StatusOK
	return status
}

// checkIgnoreFile looks for the ignore file in root
func checkIgnoreFile(cfg *config.Config, root string) CheckStatus {
	status := CheckStatus{Name: "ignore file"}
	path := filepath.Join(root, cfg.IgnoreFile)

	info, err := os.Stat(path)
	switch {
	case os.IsNotExist(err):
		status.Status = StatusOK
		status.Detail = fmt.Sprintf("%s not found, default excludes only", cfg.IgnoreFile)
	case err != nil:
		status.Status = StatusError
		status.Error = err.Error()
	case info.IsDir():
		status.Status = StatusError
		status.Error = fmt.Sprintf("%s is a directory", path)
	default:
		status.Status = StatusOK
		status.Detail = path
	}
	return status
}

// checkWorkers warns when the worker count oversubscribes the CPUs
func checkWorkers(cfg *config.Config) CheckStatus {
	status := CheckStatus{Name: "workers"}
	cpus := runtime.NumCPU()
	status.Detail = fmt.Sprintf("%d workers on %d CPUs", cfg.Workers, cpus)

	switch {
	case cfg.Workers <= 0:
		status.Status = StatusError
		status.Error = "workers must be positive"
	case cfg.Workers > 4*cpus:
		status.Status = StatusWarn
		status.Error = "more than four workers per CPU"
	default:
		status.Status = StatusOK
	}
	return status
}
