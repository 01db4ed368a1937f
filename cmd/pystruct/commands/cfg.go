package commands

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/l3aro/pystruct/pkg/cfg"
	"github.com/l3aro/pystruct/pkg/report"
)

// cfgCmd represents the cfg command
var cfgCmd = &cobra.Command{
	Use:   "cfg <file> <function>",
	Short: "Show the control flow graph of a function",
	Long: `Builds the Control Flow Graph (CFG) of one function in a Python file.
Prints its blocks with their statements and immediate dominators, the typed
edges, natural loops and cyclomatic complexity.

The function may be named by qualified name (pkg.mod.Class.method), by name
relative to the module (Class.method) or by bare name when unambiguous.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := outputFormat(cmd)
		if err != nil {
			return err
		}
		b, src, err := analyzeFile(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		sym, g, _, err := findFunction(b, args[1])
		if err != nil {
			return err
		}

		opts := reportOptions(currentConfig())
		opts.MaxPaths = 0
		if all, _ := cmd.Flags().GetBool("unreachable"); all {
			opts.IncludeUnreachable = true
		}
		f, _ := report.New(b, opts).Function(sym.QualifiedName)
		f.Definitions = nil

		if format != report.FormatText {
			return report.Encode(cmd.OutOrStdout(), f, format)
		}
		printCFG(cmd.OutOrStdout(), f, g, src)
		return nil
	},
}

func printCFG(w io.Writer, f report.Function, g *cfg.Graph, src []byte) {
	fmt.Fprintf(w, "=== CFG for function: %s ===\n", f.Name)
	fmt.Fprintf(w, "Cyclomatic Complexity: %d\n", f.Complexity)
	fmt.Fprintf(w, "Entry Block: %d\n", g.Entry)
	fmt.Fprintf(w, "Exit Block: %d\n", g.Exit)

	fmt.Fprintf(w, "\nBlocks (%d):\n", len(f.Blocks))
	for _, blk := range f.Blocks {
		fmt.Fprintf(w, "  %d (%s, lines %d-%d)", blk.ID, blk.Type, blk.StartLine, blk.EndLine)
		if blk.IDom != nil {
			fmt.Fprintf(w, " idom %d", *blk.IDom)
		}
		if blk.Unreachable {
			fmt.Fprint(w, " unreachable")
		}
		fmt.Fprintln(w)
		for _, stmt := range g.Block(cfg.BlockID(blk.ID)).Statements {
			text, _, _ := strings.Cut(stmt.Content(src), "\n")
			fmt.Fprintf(w, "    %d: %s\n", stmt.StartPoint().Row+1, text)
		}
	}

	fmt.Fprintf(w, "\nEdges (%d):\n", len(f.Edges))
	for _, e := range f.Edges {
		if e.Condition != "" {
			fmt.Fprintf(w, "  %d --%s [%s]--> %d\n", e.From, e.Type, e.Condition, e.To)
			continue
		}
		fmt.Fprintf(w, "  %d --%s--> %d\n", e.From, e.Type, e.To)
	}

	if len(f.Loops) > 0 {
		fmt.Fprintf(w, "\nLoops (%d):\n", len(f.Loops))
		for _, l := range f.Loops {
			fmt.Fprintf(w, "  header %d tails %v body %v\n", l.Header, l.Tails, l.Body)
		}
	}
}

func init() {
	cfgCmd.Flags().Bool("unreachable", false, "Include unreachable blocks")
	RootCmd.AddCommand(cfgCmd)
}
