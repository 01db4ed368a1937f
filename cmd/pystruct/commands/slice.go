package commands

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/l3aro/pystruct/pkg/pdg"
	"github.com/l3aro/pystruct/pkg/report"
)

// SliceOutput is the result of one slice query
type SliceOutput struct {
	Function   string `json:"function_name" yaml:"function_name"`
	Line       int    `json:"line" yaml:"line"`
	Direction  string `json:"direction" yaml:"direction"`
	Variable   string `json:"variable,omitempty" yaml:"variable,omitempty"`
	SliceLines []int  `json:"slice_lines" yaml:"slice_lines"`
}

var sliceCmd = &cobra.Command{
	Use:   "slice <file> <function> --line N [--backward|--forward] [--var NAME]",
	Short: "Perform backward or forward slice analysis on a function",
	Long: `Builds the program dependence graph of a function from its control flow
graph and reaching definitions, then slices it.

Backward slice: all lines that may affect the statements at the target line.
Forward slice: all lines that may be affected by the statements at the line.

--var restricts data dependencies to one variable; control dependencies are
always followed.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := outputFormat(cmd)
		if err != nil {
			return err
		}

		lineNum, err := cmd.Flags().GetInt("line")
		if err != nil {
			return fmt.Errorf("getting line flag: %w", err)
		}
		if lineNum <= 0 {
			return fmt.Errorf("line number must be positive: %d", lineNum)
		}
		backward, _ := cmd.Flags().GetBool("backward")
		forward, _ := cmd.Flags().GetBool("forward")
		if backward && forward {
			return fmt.Errorf("--backward and --forward are mutually exclusive")
		}
		variable, _ := cmd.Flags().GetString("var")

		b, src, err := analyzeFile(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		sym, g, df, err := findFunction(b, args[1])
		if err != nil {
			return err
		}
		graph, err := pdg.Build(g, df, b.Resolution, src)
		if err != nil {
			return fmt.Errorf("building PDG: %w", err)
		}

		output := SliceOutput{
			Function:  sym.QualifiedName,
			Line:      lineNum,
			Direction: "backward",
			Variable:  variable,
		}
		if forward {
			output.Direction = "forward"
			output.SliceLines = graph.ForwardSlice(lineNum, variable)
		} else {
			output.SliceLines = graph.BackwardSlice(lineNum, variable)
		}
		if output.SliceLines == nil {
			output.SliceLines = []int{}
		}

		if format != report.FormatText {
			return report.Encode(cmd.OutOrStdout(), output, format)
		}
		printSlice(cmd.OutOrStdout(), output, src, sym.Span.Start.Line, sym.Span.End.Line)
		return nil
	},
}

func printSlice(w io.Writer, output SliceOutput, src []byte, first, last int) {
	fmt.Fprintf(w, "=== Slice for function: %s (line %d, %s) ===\n", output.Function, output.Line, output.Direction)
	if output.Variable != "" {
		fmt.Fprintf(w, "Variable filter: %s\n", output.Variable)
	}

	fmt.Fprintf(w, "\nSlice lines (%d): %s\n", len(output.SliceLines), formatLineRanges(output.SliceLines))
	if len(output.SliceLines) == 0 {
		return
	}

	inSlice := make(map[int]bool, len(output.SliceLines))
	for _, line := range output.SliceLines {
		inSlice[line] = true
	}

	fmt.Fprintln(w, "\n--- Source code with slice lines highlighted ---")
	lines := strings.Split(string(src), "\n")
	for n := first; n <= last && n <= len(lines); n++ {
		marker := "    "
		if inSlice[n] {
			marker = " >>>"
		}
		fmt.Fprintf(w, "%5d:%s %s\n", n, marker, lines[n-1])
	}
}

func init() {
	sliceCmd.Flags().IntP("line", "l", 0, "Line number to slice from (required)")
	sliceCmd.Flags().BoolP("backward", "b", false, "Backward slice (default)")
	sliceCmd.Flags().Bool("forward", false, "Forward slice")
	sliceCmd.Flags().String("var", "", "Variable name to filter (optional)")

	_ = sliceCmd.MarkFlagRequired("line")

	RootCmd.AddCommand(sliceCmd)
}
