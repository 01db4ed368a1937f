package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/l3aro/pystruct/internal/config"
	"github.com/l3aro/pystruct/internal/log"
	"github.com/l3aro/pystruct/internal/scanner"
	"github.com/l3aro/pystruct/pkg/cfg"
	"github.com/l3aro/pystruct/pkg/dfg"
	"github.com/l3aro/pystruct/pkg/engine"
	"github.com/l3aro/pystruct/pkg/report"
	"github.com/l3aro/pystruct/pkg/symbols"
)

// loadConfig returns the config in use and the file it came from. An explicit
// path must exist; otherwise project and global files are merged over the
// defaults and the path is the highest priority file found, if any.
func loadConfig(path string) (*config.Config, string, error) {
	if path != "" {
		conf, err := config.LoadFromFile(path)
		if err != nil {
			return nil, "", fmt.Errorf("loading config: %w", err)
		}
		return conf, path, nil
	}

	conf, err := config.Load()
	if err != nil {
		return nil, "", fmt.Errorf("loading config: %w", err)
	}
	effective := ""
	if fileExists(config.ProjectConfigFilePath()) {
		effective = config.ProjectConfigFilePath()
	} else if fileExists(config.GlobalConfigFilePath()) {
		effective = config.GlobalConfigFilePath()
	}
	return conf, effective, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

func newLogger(conf *config.Config, w io.Writer) log.Logger {
	level, err := log.ParseLevel(conf.LogLevel)
	if err != nil {
		level = log.InfoLevel
	}
	if conf.Verbose {
		level = log.DebugLevel
	}
	return log.New(log.LoggerConfig{
		Level:      level,
		JSONOutput: conf.JSONLogs,
		Output:     w,
	})
}

// currentConfig is the loaded config, or the defaults when a command runs
// without the root pre-run
func currentConfig() *config.Config {
	if appConfig == nil {
		return config.DefaultConfig()
	}
	return appConfig
}

// outputFormat picks the report format: --json, then --format, then config
func outputFormat(cmd *cobra.Command) (report.Format, error) {
	if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
		return report.FormatJSON, nil
	}
	format := string(currentConfig().Format)
	if f, _ := cmd.Flags().GetString("format"); f != "" {
		format = strings.ToLower(f)
	}
	switch report.Format(format) {
	case report.FormatText, report.FormatJSON, report.FormatYAML, report.FormatMsgpack:
		return report.Format(format), nil
	}
	return "", fmt.Errorf("unknown format: %s (must be text, json, yaml or msgpack)", format)
}

func engineOptions(conf *config.Config) []engine.Option {
	opts := []engine.Option{engine.WithLogger(logger)}
	if len(conf.ExtraBuiltins) > 0 {
		opts = append(opts, engine.WithBuiltins(conf.ExtraBuiltins...))
	}
	return opts
}

func reportOptions(conf *config.Config) report.Options {
	return report.Options{MaxPaths: conf.MaxPaths, IncludeUnreachable: conf.ReportUnreachable}
}

func newScanner(conf *config.Config) *scanner.Scanner {
	opts := scanner.DefaultOptions()
	opts.IgnoreFileName = conf.IgnoreFile
	return scanner.New(opts)
}

// analyzeFile reads and analyses a single Python file, returning the
// bundle and the source it was built from
func analyzeFile(ctx context.Context, path string) (*engine.Bundle, []byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, nil, fmt.Errorf("stat file: %w", err)
	}
	if info.IsDir() {
		return nil, nil, fmt.Errorf("path is a directory, expected a file: %s", path)
	}

	conf := currentConfig()
	sc := newScanner(conf)
	files, err := sc.Scan(path)
	if err != nil {
		return nil, nil, fmt.Errorf("scanning %s: %w", path, err)
	}
	if len(files) != 1 {
		return nil, nil, fmt.Errorf("unsupported file: %s", path)
	}
	src, err := sc.Read(ctx, files[0])
	if err != nil {
		return nil, nil, err
	}

	module := files[0].Module
	if conf.ModuleName != "" {
		module = conf.ModuleName
	}
	opts := append(engineOptions(conf), engine.WithModuleName(module))
	b, err := engine.AnalyzeSource(ctx, src, filepath.ToSlash(path), opts...)
	if err != nil {
		return nil, nil, err
	}
	return b, src, nil
}

// findFunction looks up a def and its analysis, suggesting close names when
// it does not exist
func findFunction(b *engine.Bundle, name string) (*symbols.Symbol, *cfg.Graph, *dfg.Result, error) {
	sym, g, df, ok := b.Function(name)
	if ok {
		return sym, g, df, nil
	}
	if sym != nil {
		return nil, nil, nil, fmt.Errorf("analysis of %s failed, run with --verbose for details", sym.QualifiedName)
	}
	if suggestions := similarFunctions(b, name); len(suggestions) > 0 {
		return nil, nil, nil, fmt.Errorf("function %q not found in %s\nDid you mean: %s?", name, b.File, strings.Join(suggestions, ", "))
	}
	return nil, nil, nil, fmt.Errorf("function %q not found in %s", name, b.File)
}

const minSuggestLen = 3

// similarFunctions returns qualified names of defs whose bare name holds name
// as a case-insensitive substring. A bare name of at least three letters
// also matches when name holds it. Ambiguous bare names match all defs
// carrying them.
func similarFunctions(b *engine.Bundle, name string) []string {
	if b.Table == nil {
		return nil
	}
	want := strings.ToLower(name)
	if i := strings.LastIndex(want, "."); i >= 0 {
		want = want[i+1:]
	}
	if want == "" {
		return nil
	}

	var out []string
	for _, sym := range b.Table.Functions() {
		have := strings.ToLower(sym.Name)
		if strings.Contains(have, want) || (len(have) >= minSuggestLen && strings.Contains(want, have)) {
			out = append(out, sym.QualifiedName)
		}
	}
	sort.Strings(out)
	return out
}

// formatLineRanges renders sorted line numbers as "1-3, 5"
func formatLineRanges(lines []int) string {
	if len(lines) == 0 {
		return "none"
	}

	var ranges []string
	start := lines[0]
	end := lines[0]
	flush := func() {
		if start == end {
			ranges = append(ranges, fmt.Sprintf("%d", start))
		} else {
			ranges = append(ranges, fmt.Sprintf("%d-%d", start, end))
		}
	}

	for _, line := range lines[1:] {
		if line == end+1 {
			end = line
			continue
		}
		flush()
		start, end = line, line
	}
	flush()

	return strings.Join(ranges, ", ")
}
