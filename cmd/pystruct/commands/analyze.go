package commands

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/l3aro/pystruct/internal/config"
	"github.com/l3aro/pystruct/internal/runner"
	"github.com/l3aro/pystruct/internal/scanner"
	"github.com/l3aro/pystruct/pkg/cache"
	"github.com/l3aro/pystruct/pkg/engine"
	"github.com/l3aro/pystruct/pkg/report"
)

// cacheVersion is mixed into every cache key; bump it when the report
// layout changes.
const cacheVersion = "1"

var analyzeCmd = &cobra.Command{
	Use:   "analyze [path...]",
	Short: "Full structure report for Python files or directories",
	Long: `Analyses every Python module under the given paths and prints one report
per module: scopes, symbols, unresolved names, per function control flow
and dataflow facts, the call graph and diagnostics.

Directories are scanned recursively, honouring the ignore file. With cache
enabled in the config, reports of files whose content is unchanged since the
last run are read back from the cache directory instead of re-analysed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			args = []string{"."}
		}
		format, err := outputFormat(cmd)
		if err != nil {
			return err
		}
		conf := currentConfig()
		if workers, _ := cmd.Flags().GetInt("workers"); workers > 0 {
			conf.Workers = workers
		}

		sc := newScanner(conf)
		var files []scanner.FileInfo
		for _, path := range args {
			found, err := sc.Scan(path)
			if err != nil {
				return err
			}
			files = append(files, found...)
		}
		if len(files) == 0 {
			return fmt.Errorf("no Python files found in %v", args)
		}

		opts := engineOptions(conf)
		moduleName := ""
		if len(files) == 1 && conf.ModuleName != "" {
			moduleName = conf.ModuleName
			opts = append(opts, engine.WithModuleName(moduleName))
		}

		noCache, _ := cmd.Flags().GetBool("no-cache")
		rc, err := openReportCache(conf, noCache)
		if err != nil {
			return err
		}
		reports, pending := rc.lookup(cmd.Context(), sc, files, moduleName)

		start := time.Now()
		results, err := runner.New(sc, conf.Workers, logger, opts...).Run(cmd.Context(), pending)
		if err != nil {
			return err
		}
		stats := runner.Summarize(results, time.Since(start))
		logger.Info("analysis complete", "files", stats.Files, "cached", len(reports), "failed", stats.Failed,
			"functions", stats.Functions, "diagnostics", stats.Diagnostics, "elapsed", stats.Elapsed)

		for _, res := range results {
			if res.Err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", res.File.Path, res.Err)
				continue
			}
			r := report.New(res.Bundle, reportOptions(conf))
			rc.store(res.File, r)
			reports = append(reports, r)
		}
		slices.SortFunc(reports, func(a, b *report.Report) int { return strings.Compare(a.File, b.File) })

		out := cmd.OutOrStdout()
		if format == report.FormatText {
			for i, r := range reports {
				if i > 0 {
					fmt.Fprintln(out)
				}
				if err := report.WriteText(out, r); err != nil {
					return err
				}
			}
		} else if len(reports) == 1 {
			if err := report.Encode(out, reports[0], format); err != nil {
				return err
			}
		} else if err := report.Encode(out, reports, format); err != nil {
			return err
		}

		if stats.Failed > 0 {
			return fmt.Errorf("%d of %d files could not be analysed", stats.Failed, stats.Files)
		}
		return nil
	},
}

// reportCache wraps the on-disk report cache for one analyze run. A nil
// cache turns every method into a no-op.
type reportCache struct {
	c      *cache.Cache
	conf   *config.Config
	module string
	hashes map[string]string // FullPath -> source hash
}

func openReportCache(conf *config.Config, disabled bool) (*reportCache, error) {
	rc := &reportCache{conf: conf, hashes: make(map[string]string)}
	if disabled || !conf.Cache {
		return rc, nil
	}
	c, err := cache.New(cache.Options{Dir: conf.CacheDir, MaxEntries: 4096})
	if err != nil {
		return nil, fmt.Errorf("opening cache: %w", err)
	}
	rc.c = c
	return rc, nil
}

func (rc *reportCache) key(f scanner.FileInfo) string {
	return cache.Key(f.FullPath, f.Path, rc.module,
		strings.Join(rc.conf.ExtraBuiltins, ","),
		strconv.Itoa(rc.conf.MaxPaths),
		strconv.FormatBool(rc.conf.ReportUnreachable),
		cacheVersion)
}

// lookup splits files into reports served from the cache and files that
// still need analysing.
func (rc *reportCache) lookup(ctx context.Context, sc *scanner.Scanner, files []scanner.FileInfo, module string) ([]*report.Report, []scanner.FileInfo) {
	if rc.c == nil {
		return nil, files
	}
	rc.module = module
	var hits []*report.Report
	var pending []scanner.FileInfo
	for _, f := range files {
		src, err := sc.Read(ctx, f)
		if err != nil {
			// the runner reports the read error
			pending = append(pending, f)
			continue
		}
		hash := cache.HashBytes(src)
		rc.hashes[f.FullPath] = hash
		if data, ok := rc.c.Get(rc.key(f), hash); ok {
			if r, err := report.Decode(data, report.FormatMsgpack); err == nil {
				hits = append(hits, r)
				continue
			}
			logger.Debug("discarding unreadable cache entry", "file", f.Path)
		}
		pending = append(pending, f)
	}
	logger.Debug("cache lookup", "hits", len(hits), "misses", len(pending))
	return hits, pending
}

func (rc *reportCache) store(f scanner.FileInfo, r *report.Report) {
	if rc.c == nil {
		return
	}
	hash, ok := rc.hashes[f.FullPath]
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := report.Encode(&buf, r, report.FormatMsgpack); err != nil {
		logger.Warn("encoding report for cache", "file", f.Path, "error", err)
		return
	}
	if err := rc.c.Set(rc.key(f), hash, buf.Bytes()); err != nil {
		logger.Warn("writing cache entry", "file", f.Path, "error", err)
	}
}

func init() {
	analyzeCmd.Flags().IntP("workers", "w", 0, "Files analysed at once (default from config)")
	analyzeCmd.Flags().Bool("no-cache", false, "Analyse every file even when a cached report exists")
	RootCmd.AddCommand(analyzeCmd)
}
