package commands

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/l3aro/pystruct/internal/healthcheck"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor [path]",
	Short: "Run health checks on configuration and parser",
	Long: `Shows which configuration file is in use, runs the analysis pipeline over a
small sample module and checks the builtins, ignore file and worker settings
for the project at path (default: current directory).`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root := "."
		if len(args) > 0 {
			root = args[0]
		}

		result, err := healthcheck.Check(cmd.Context(), currentConfig(), configPath, configPath, root)
		if err != nil {
			return fmt.Errorf("health check failed: %w", err)
		}

		displayDoctorResult(cmd.OutOrStdout(), result)

		if result.Failed() {
			return fmt.Errorf("health check failed: one or more checks reported an error")
		}
		return nil
	},
}

func displayDoctorResult(w io.Writer, result *healthcheck.Result) {
	if result.EffectivePath == "" {
		fmt.Fprintf(w, "Using config: defaults (no config file found)\n\n")
	} else {
		fmt.Fprintf(w, "Using config: %s (%s)\n\n", result.EffectivePath, result.EffectiveScope)
	}

	for _, c := range result.Checks {
		fmt.Fprintf(w, "%s %s", formatStatusIcon(c.Status), c.Name)
		if c.Detail != "" {
			fmt.Fprintf(w, ": %s", c.Detail)
		}
		fmt.Fprintln(w)
		if c.Error != "" {
			fmt.Fprintf(w, "  %s: %s\n", c.Status, c.Error)
		}
	}
}

func formatStatusIcon(status string) string {
	switch status {
	case healthcheck.StatusOK:
		return "✓"
	case healthcheck.StatusWarn:
		return "◐"
	case healthcheck.StatusError:
		return "✗"
	default:
		return "?"
	}
}

func init() {
	RootCmd.AddCommand(doctorCmd)
}
