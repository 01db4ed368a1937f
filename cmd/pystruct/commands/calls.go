package commands

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/l3aro/pystruct/internal/runner"
	"github.com/l3aro/pystruct/internal/scanner"
	"github.com/l3aro/pystruct/pkg/report"
)

// CallGraphOutput represents the output of the calls command
type CallGraphOutput struct {
	Stats CallGraphStats `json:"stats" yaml:"stats"`
	Files []FileCalls    `json:"files" yaml:"files"`
}

// CallGraphStats represents statistics about the call graphs
type CallGraphStats struct {
	Files      int            `json:"files" yaml:"files"`
	TotalSites int            `json:"total_sites" yaml:"total_sites"`
	Resolved   int            `json:"resolved" yaml:"resolved"`
	Unresolved map[string]int `json:"unresolved,omitempty" yaml:"unresolved,omitempty"`
	Recursive  int            `json:"recursive" yaml:"recursive"`
}

// FileCalls is the call graph of one module
type FileCalls struct {
	File   string           `json:"file" yaml:"file"`
	Module string           `json:"module" yaml:"module"`
	Calls  report.CallGraph `json:"calls" yaml:"calls"`
}

// callsCmd represents the calls command
var callsCmd = &cobra.Command{
	Use:   "calls [path...]",
	Short: "Build call graphs for Python files or directories",
	Long: `Links every call expression of each module to the function or class it
invokes, then reports entry points, leaf functions and recursive cycles.
Calls that cannot be linked are listed with the reason: builtin, imported,
undefined, unknown_member or dynamic.

--callers NAME lists only the call sites targeting NAME (a qualified name).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			args = []string{"."}
		}
		format, err := outputFormat(cmd)
		if err != nil {
			return err
		}
		conf := currentConfig()

		sc := newScanner(conf)
		var files []scanner.FileInfo
		for _, path := range args {
			found, err := sc.Scan(path)
			if err != nil {
				return err
			}
			files = append(files, found...)
		}

		start := time.Now()
		results, err := runner.New(sc, conf.Workers, logger, engineOptions(conf)...).Run(cmd.Context(), files)
		if err != nil {
			return err
		}
		logger.Debug("call graphs built", "files", len(results), "elapsed", time.Since(start))

		callers, _ := cmd.Flags().GetString("callers")
		onlyUnresolved, _ := cmd.Flags().GetBool("unresolved")

		output := CallGraphOutput{Stats: CallGraphStats{Unresolved: map[string]int{}}}
		for _, res := range results {
			if res.Err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", res.File.Path, res.Err)
				continue
			}
			r := report.New(res.Bundle, report.Options{})
			fc := FileCalls{File: r.File, Module: r.Module, Calls: r.Calls}
			fc.Calls.Sites = filterSites(fc.Calls.Sites, callers, onlyUnresolved)

			output.Stats.Files++
			output.Stats.Recursive += len(r.Calls.Recursive)
			for _, s := range r.Calls.Sites {
				output.Stats.TotalSites++
				if s.Target != "" {
					output.Stats.Resolved++
				} else {
					output.Stats.Unresolved[s.Reason]++
				}
			}
			if callers != "" && len(fc.Calls.Sites) == 0 {
				continue
			}
			output.Files = append(output.Files, fc)
		}

		if format != report.FormatText {
			return report.Encode(cmd.OutOrStdout(), output, format)
		}
		printCallGraph(cmd.OutOrStdout(), output)
		return nil
	},
}

func filterSites(sites []report.CallSite, callers string, onlyUnresolved bool) []report.CallSite {
	if callers == "" && !onlyUnresolved {
		return sites
	}
	var out []report.CallSite
	for _, s := range sites {
		if callers != "" && s.Target != callers {
			continue
		}
		if onlyUnresolved && s.Target != "" {
			continue
		}
		out = append(out, s)
	}
	return out
}

func printCallGraph(w io.Writer, output CallGraphOutput) {
	fmt.Fprintf(w, "=== Call Graph ===\n\n")

	fmt.Fprintf(w, "Statistics:\n")
	fmt.Fprintf(w, "  Files: %d\n", output.Stats.Files)
	fmt.Fprintf(w, "  Call sites: %d\n", output.Stats.TotalSites)
	fmt.Fprintf(w, "  Resolved: %d\n", output.Stats.Resolved)
	reasons := make([]string, 0, len(output.Stats.Unresolved))
	for reason := range output.Stats.Unresolved {
		reasons = append(reasons, reason)
	}
	sort.Strings(reasons)
	for _, reason := range reasons {
		fmt.Fprintf(w, "  Unresolved (%s): %d\n", reason, output.Stats.Unresolved[reason])
	}
	fmt.Fprintf(w, "  Recursive functions: %d\n", output.Stats.Recursive)

	for _, fc := range output.Files {
		fmt.Fprintf(w, "\n%s (%s):\n", fc.File, fc.Module)
		for _, s := range fc.Calls.Sites {
			if s.Target != "" {
				fmt.Fprintf(w, "  %s -> %s (line %d)\n", s.Caller, s.Target, s.Line)
			} else {
				fmt.Fprintf(w, "  %s calls %s [%s] (line %d)\n", s.Caller, s.Callee, s.Reason, s.Line)
			}
		}
		if len(fc.Calls.EntryPoints) > 0 {
			fmt.Fprintf(w, "  entry points: %s\n", strings.Join(fc.Calls.EntryPoints, ", "))
		}
		if len(fc.Calls.Recursive) > 0 {
			fmt.Fprintf(w, "  recursive: %s\n", strings.Join(fc.Calls.Recursive, ", "))
		}
	}
}

func init() {
	callsCmd.Flags().String("callers", "", "Only show call sites targeting this qualified name")
	callsCmd.Flags().Bool("unresolved", false, "Only show unresolved call sites")
	RootCmd.AddCommand(callsCmd)
}
