// Package runner analyses many Python modules concurrently. Each module gets
// its own engine call, so workers share nothing but the scanner.
package runner

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/l3aro/pystruct/internal/log"
	"github.com/l3aro/pystruct/internal/scanner"
	"github.com/l3aro/pystruct/pkg/engine"
)

// Result is the outcome for one module. Err is set when the file could not
// be read or parsed; analysis problems are diagnostics on the bundle.
type Result struct {
	File   scanner.FileInfo
	Bundle *engine.Bundle
	Err    error
}

// Stats summarizes a run
type Stats struct {
	Files       int
	Failed      int
	Functions   int
	Diagnostics int
	Elapsed     time.Duration
}

// Runner analyses scanned files with a bounded number of workers
type Runner struct {
	scanner *scanner.Scanner
	workers int
	logger  log.Logger
	opts    []engine.Option
}

// New creates a Runner. workers <= 0 means one per CPU.
func New(sc *scanner.Scanner, workers int, logger log.Logger, opts ...engine.Option) *Runner {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Runner{scanner: sc, workers: workers, logger: logger, opts: opts}
}

// Run analyses files and returns one result per file sorted by path. It
// only fails when ctx is cancelled; per-file failures are in Result.Err.
func (r *Runner) Run(ctx context.Context, files []scanner.FileInfo) ([]Result, error) {
	results := make([]Result, 0, len(files))
	var mu sync.Mutex

	p := pool.New().WithMaxGoroutines(r.workers).WithContext(ctx)
	for _, f := range files {
		p.Go(func(ctx context.Context) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			res := r.analyze(ctx, f)
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return nil, fmt.Errorf("analyzing files: %w", err)
	}

	sort.Slice(results, func(i, j int) bool { return results[i].File.Path < results[j].File.Path })
	return results, nil
}

func (r *Runner) analyze(ctx context.Context, f scanner.FileInfo) Result {
	res := Result{File: f}
	src, err := r.scanner.Read(ctx, f)
	if err != nil {
		r.logger.Warn("skipping file", "file", f.Path, "error", err)
		res.Err = err
		return res
	}
	opts := append([]engine.Option{engine.WithLogger(r.logger), engine.WithModuleName(f.Module)}, r.opts...)
	b, err := engine.AnalyzeSource(ctx, src, f.Path, opts...)
	if err != nil {
		r.logger.Warn("skipping file", "file", f.Path, "error", err)
		res.Err = err
		return res
	}
	r.logger.Debug("analyzed file", "file", f.Path, "functions", len(b.Functions), "elapsed", b.Elapsed)
	res.Bundle = b
	return res
}

// Summarize counts the outcome of a run
func Summarize(results []Result, elapsed time.Duration) Stats {
	s := Stats{Files: len(results), Elapsed: elapsed}
	for _, res := range results {
		if res.Err != nil {
			s.Failed++
			continue
		}
		s.Functions += len(res.Bundle.Functions)
		s.Diagnostics += len(res.Bundle.Diagnostics)
	}
	return s
}
