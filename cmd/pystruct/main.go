// Package main implements the pystruct CLI.
// It provides commands for inspecting the symbols, control flow, dataflow
// and call graph of Python modules.
package main

import (
	"os"

	"github.com/l3aro/pystruct/cmd/pystruct/commands"
)

var (
	version   = "dev"
	buildTime = ""
)

func main() {
	commands.RootCmd.Flags().BoolP("version", "V", false, "Print version information")
	commands.RootCmd.SetVersionTemplate(`pystruct version {{.Version}}
`)
	commands.RootCmd.Version = version
	if buildTime != "" {
		commands.RootCmd.Version = version + " (built " + buildTime + ")"
	}

	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
