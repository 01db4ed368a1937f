package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/l3aro/pystruct/internal/config"
	"github.com/l3aro/pystruct/internal/healthcheck"
)

// initCmd represents the init command
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize pystruct configuration interactively",
	Long: `Guides you through setting up pystruct configuration step by step.
Creates a config file with the output format, worker count, log level and
extra builtin names, then runs the health checks against it.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInit(cmd)
	},
}

func runInit(cmd *cobra.Command) error {
	conf := config.DefaultConfig()
	out := cmd.OutOrStdout()

	// === SECTION 1: Output ===
	format := string(conf.Format)
	workers := strconv.Itoa(conf.Workers)
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Output format").
				Description("How reports are printed").
				Options(
					huh.NewOption("Text", string(config.FormatText)),
					huh.NewOption("JSON", string(config.FormatJSON)),
					huh.NewOption("YAML", string(config.FormatYAML)),
					huh.NewOption("MessagePack", string(config.FormatMsgpack)),
				).
				Value(&format),
			huh.NewInput().
				Title("Workers").
				Description("Files analysed at once").
				Placeholder(workers).
				Validate(func(s string) error {
					if n, err := strconv.Atoi(strings.TrimSpace(s)); err != nil || n <= 0 {
						return fmt.Errorf("enter a positive number")
					}
					return nil
				}).
				Value(&workers),
		),
	)
	if err := form.Run(); err != nil {
		return fmt.Errorf("interactive prompt failed: %w", err)
	}

	// === SECTION 2: Analysis ===
	logLevel := conf.LogLevel
	builtins := ""
	reportUnreachable := conf.ReportUnreachable
	useCache := conf.Cache
	form = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Log level").
				Options(
					huh.NewOption("Debug", "debug"),
					huh.NewOption("Info", "info"),
					huh.NewOption("Warn", "warn"),
					huh.NewOption("Error", "error"),
				).
				Value(&logLevel),
			huh.NewInput().
				Title("Extra builtin names (optional, comma separated)").
				Description("Names injected at runtime that should not be reported as undefined").
				Placeholder("optional").
				Value(&builtins),
			huh.NewConfirm().
				Title("Show unreachable blocks in reports?").
				Affirmative("Yes").
				Negative("No").
				Value(&reportUnreachable),
			huh.NewConfirm().
				Title("Cache reports between analyze runs?").
				Description(fmt.Sprintf("Reports of unchanged files are kept in %s", conf.CacheDir)).
				Affirmative("Yes").
				Negative("No").
				Value(&useCache),
		),
	)
	if err := form.Run(); err != nil {
		return fmt.Errorf("interactive prompt failed: %w", err)
	}

	// === SECTION 3: Config Location ===
	var saveLocationChoice string
	form = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Save Configuration").
				Description("Where to save the configuration file?").
				Options(
					huh.NewOption("Global (~/.pystruct/config.yaml)", "global"),
					huh.NewOption("Project (./.pystruct/config.yaml)", "project"),
				).
				Value(&saveLocationChoice),
		),
	)
	if err := form.Run(); err != nil {
		return fmt.Errorf("interactive prompt failed: %w", err)
	}

	path := config.ProjectConfigFilePath()
	if saveLocationChoice == "global" {
		path = config.GlobalConfigFilePath()
	}

	if _, err := os.Stat(path); err == nil {
		var overwrite bool
		form = huh.NewForm(
			huh.NewGroup(
				huh.NewConfirm().
					Title("Config file exists").
					Description(fmt.Sprintf("Overwrite existing config at %s?", path)).
					Affirmative("Overwrite").
					Negative("Cancel").
					Value(&overwrite),
			),
		)
		if err := form.Run(); err != nil {
			return fmt.Errorf("interactive prompt failed: %w", err)
		}
		if !overwrite {
			fmt.Fprintln(out, "Cancelled.")
			return nil
		}
	}

	// === Build config struct ===
	conf.Format = config.Format(format)
	conf.Workers, _ = strconv.Atoi(strings.TrimSpace(workers))
	conf.LogLevel = logLevel
	conf.ReportUnreachable = reportUnreachable
	conf.Cache = useCache
	for _, name := range strings.Split(builtins, ",") {
		if name = strings.TrimSpace(name); name != "" {
			conf.ExtraBuiltins = append(conf.ExtraBuiltins, name)
		}
	}

	if err := conf.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	fmt.Fprintln(out, "\n=== Configuration Preview ===")
	fmt.Fprintf(out, "Config path: %s\n", path)
	fmt.Fprintf(out, "Format: %s\n", conf.Format)
	fmt.Fprintf(out, "Workers: %d\n", conf.Workers)
	fmt.Fprintf(out, "Log level: %s\n", conf.LogLevel)
	if len(conf.ExtraBuiltins) > 0 {
		fmt.Fprintf(out, "Extra builtins: %s\n", strings.Join(conf.ExtraBuiltins, ", "))
	}
	fmt.Fprintf(out, "Report unreachable: %t\n", conf.ReportUnreachable)
	fmt.Fprintf(out, "Cache: %t\n", conf.Cache)
	fmt.Fprintln(out, "================================")

	if err := conf.Save(path); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}
	fmt.Fprintf(out, "Configuration saved to: %s\n", path)

	// === SECTION 4: Health Check ===
	fmt.Fprintln(out, "\n=== Running Health Check ===")

	loaded, err := config.LoadFromFile(path)
	if err != nil {
		return fmt.Errorf("loading saved config: %w", err)
	}
	result, err := healthcheck.Check(cmd.Context(), loaded, path, path, ".")
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	fmt.Fprintf(out, "\nConfig Scope: %s\n", result.SavedScope)
	if abs, err := filepath.Abs(path); err == nil {
		fmt.Fprintf(out, "Config Path: %s\n\n", abs)
	}
	displayDoctorResult(out, result)

	fmt.Fprintln(out, "\n=== Initialization Complete ===")
	return nil
}

func init() {
	RootCmd.AddCommand(initCmd)
}
