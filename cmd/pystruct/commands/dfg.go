package commands

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/l3aro/pystruct/pkg/report"
)

// DFGOutput holds the dataflow facts of one function
type DFGOutput struct {
	Function    string              `json:"function" yaml:"function"`
	Definitions []report.Definition `json:"definitions" yaml:"definitions"`
	Blocks      []DFGBlock          `json:"blocks" yaml:"blocks"`
}

// DFGBlock holds the per block facts
type DFGBlock struct {
	ID         int      `json:"id" yaml:"id"`
	ReachingIn []string `json:"reaching_in,omitempty" yaml:"reaching_in,omitempty"`
	LiveIn     []string `json:"live_in,omitempty" yaml:"live_in,omitempty"`
	LiveOut    []string `json:"live_out,omitempty" yaml:"live_out,omitempty"`
}

var dfgCmd = &cobra.Command{
	Use:   "dfg <file> <function>",
	Short: "Show the dataflow facts of a function",
	Long: `Runs reaching definitions, liveness and constant propagation over one
function. Lists every definition with the lines that use it, whether it is
dead and its constant value, then the facts at the entry and exit of each
block.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := outputFormat(cmd)
		if err != nil {
			return err
		}
		b, _, err := analyzeFile(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		sym, _, _, err := findFunction(b, args[1])
		if err != nil {
			return err
		}

		opts := reportOptions(currentConfig())
		opts.MaxPaths = 0
		f, _ := report.New(b, opts).Function(sym.QualifiedName)

		output := DFGOutput{Function: f.Name}
		variable, _ := cmd.Flags().GetString("var")
		for _, d := range f.Definitions {
			if variable == "" || d.Name == variable {
				output.Definitions = append(output.Definitions, d)
			}
		}
		for _, blk := range f.Blocks {
			output.Blocks = append(output.Blocks, DFGBlock{
				ID:         blk.ID,
				ReachingIn: blk.ReachingIn,
				LiveIn:     blk.LiveIn,
				LiveOut:    blk.LiveOut,
			})
		}

		if format != report.FormatText {
			return report.Encode(cmd.OutOrStdout(), output, format)
		}
		printDFG(cmd.OutOrStdout(), output)
		return nil
	},
}

func printDFG(w io.Writer, output DFGOutput) {
	fmt.Fprintf(w, "=== DFG for function: %s ===\n", output.Function)

	fmt.Fprintf(w, "\nDefinitions (%d):\n", len(output.Definitions))
	for _, d := range output.Definitions {
		fmt.Fprintf(w, "  %s (line %d, col %d, block %d)", d.Name, d.Line, d.Column, d.Block)
		if d.Param {
			fmt.Fprint(w, " param")
		}
		if d.Constant != "" {
			fmt.Fprintf(w, " = %s", d.Constant)
		}
		if d.Dead {
			fmt.Fprint(w, " dead")
		}
		fmt.Fprintln(w)
		if len(d.Uses) > 0 {
			lines := slices.Compact(slices.Sorted(slices.Values(d.Uses)))
			fmt.Fprintf(w, "    used at lines %s\n", formatLineRanges(lines))
		}
	}

	fmt.Fprintf(w, "\nBlocks (%d):\n", len(output.Blocks))
	for _, blk := range output.Blocks {
		fmt.Fprintf(w, "  %d:\n", blk.ID)
		fmt.Fprintf(w, "    reaching: %s\n", strings.Join(blk.ReachingIn, ", "))
		fmt.Fprintf(w, "    live in:  %s\n", strings.Join(blk.LiveIn, ", "))
		fmt.Fprintf(w, "    live out: %s\n", strings.Join(blk.LiveOut, ", "))
	}
}

func init() {
	dfgCmd.Flags().String("var", "", "Only list definitions of this variable")
	RootCmd.AddCommand(dfgCmd)
}
