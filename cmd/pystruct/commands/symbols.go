package commands

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/l3aro/pystruct/pkg/report"
)

// SymbolsOutput is the symbol table part of a report
type SymbolsOutput struct {
	File       string             `json:"file" yaml:"file"`
	Module     string             `json:"module" yaml:"module"`
	Scopes     []report.Scope     `json:"scopes" yaml:"scopes"`
	Symbols    []report.Symbol    `json:"symbols" yaml:"symbols"`
	Unresolved []report.Reference `json:"unresolved,omitempty" yaml:"unresolved,omitempty"`
}

var symbolsCmd = &cobra.Command{
	Use:   "symbols <file>",
	Short: "Show scopes, symbols and unresolved names of a module",
	Long: `Builds the symbol table of a Python file and resolves every name use.
Lists each scope with its locals, free and cell variables, every symbol with
its kind and declaration site, and the names that resolve nowhere.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := outputFormat(cmd)
		if err != nil {
			return err
		}
		b, _, err := analyzeFile(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		r := report.New(b, reportOptions(currentConfig()))
		output := SymbolsOutput{
			File:       r.File,
			Module:     r.Module,
			Scopes:     r.Scopes,
			Symbols:    r.Symbols,
			Unresolved: r.Unresolved,
		}

		kind, _ := cmd.Flags().GetString("kind")
		if kind != "" {
			var kept []report.Symbol
			for _, s := range output.Symbols {
				if s.Kind == kind {
					kept = append(kept, s)
				}
			}
			output.Symbols = kept
		}

		if format != report.FormatText {
			return report.Encode(cmd.OutOrStdout(), output, format)
		}
		printSymbols(cmd.OutOrStdout(), output)
		return nil
	},
}

func printSymbols(w io.Writer, output SymbolsOutput) {
	fmt.Fprintf(w, "=== Symbols: %s (%s) ===\n", output.File, output.Module)

	fmt.Fprintf(w, "\nScopes (%d):\n", len(output.Scopes))
	for _, s := range output.Scopes {
		fmt.Fprintf(w, "  %s [%s] line %d\n", s.Name, s.Kind, s.Line)
		if len(s.Free) > 0 {
			fmt.Fprintf(w, "    free: %s\n", strings.Join(s.Free, ", "))
		}
		if len(s.Cell) > 0 {
			fmt.Fprintf(w, "    cell: %s\n", strings.Join(s.Cell, ", "))
		}
	}

	fmt.Fprintf(w, "\nSymbols (%d):\n", len(output.Symbols))
	for _, s := range output.Symbols {
		fmt.Fprintf(w, "  %-9s %s (line %d)", s.Kind, s.Qualified, s.Line)
		if s.ImportPath != "" {
			fmt.Fprintf(w, " from %s", s.ImportPath)
		}
		if len(s.Bases) > 0 {
			fmt.Fprintf(w, " bases %s", strings.Join(s.Bases, ", "))
		}
		fmt.Fprintln(w)
	}

	if len(output.Unresolved) > 0 {
		fmt.Fprintf(w, "\nUnresolved (%d):\n", len(output.Unresolved))
		for _, u := range output.Unresolved {
			fmt.Fprintf(w, "  %s in %s at %d:%d\n", u.Name, u.Scope, u.Line, u.Column)
		}
	}
}

func init() {
	symbolsCmd.Flags().String("kind", "", "Only list symbols of this kind (function, class, variable, parameter or import)")
	RootCmd.AddCommand(symbolsCmd)
}
