// Package commands provides the CLI commands for the pystruct tool.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/l3aro/pystruct/internal/config"
	"github.com/l3aro/pystruct/internal/log"
)

var (
	appConfig  *config.Config
	configPath string
	logger     log.Logger = log.Nop()
)

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:   "pystruct",
	Short: "pystruct - Structure analysis for Python modules",
	Long: `pystruct analyses Python source without running it and reports its
structure: scopes and symbols, control flow graphs, dataflow facts and
call graphs.

Commands:
  analyze     Full report for files or directories
  symbols     Scopes, symbols and unresolved names
  cfg         Control flow graph of a function
  dfg         Reaching definitions, liveness and constants of a function
  paths       Entry to exit paths of a function
  slice       Backward or forward slice of a function
  calls       Call graph for files or directories
  doctor      Check configuration and parser
  init        Create a configuration file

Use "pystruct [command] --help" for more information about a command.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "init" {
			return nil
		}
		path, _ := cmd.Flags().GetString("config")
		conf, effective, err := loadConfig(path)
		if err != nil {
			return err
		}
		if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
			conf.Verbose = true
		}
		appConfig = conf
		configPath = effective
		logger = newLogger(conf, cmd.ErrOrStderr())
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() error {
	return RootCmd.Execute()
}

func init() {
	RootCmd.PersistentFlags().StringP("config", "c", "", "Config file (default: project then global)")
	RootCmd.PersistentFlags().StringP("format", "f", "", "Output format: text, json, yaml or msgpack")
	RootCmd.PersistentFlags().BoolP("json", "j", false, "Output as JSON")
	RootCmd.PersistentFlags().BoolP("verbose", "v", false, "Verbose logging")
}
