package main

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/omnivector-solutions/charm-apptainer/internal/config"
	"github.com/omnivector-solutions/charm-apptainer/internal/hookenv"
	"github.com/omnivector-solutions/charm-apptainer/internal/utils/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Global command flags
var (
	configFile string // --config
	logLevel   string // --log-level
	verbose    bool   // --verbose
)

// runtimeEnv is what the logging hook loads before any subcommand runs.
type runtimeEnv struct {
	hook   *hookenv.Context
	config *config.GlobalConfig
}

var current runtimeEnv

func main() {
	rootCmd := createRootCommand()
	if err := rootCmd.Execute(); err != nil {
		logger.Logger().Errorf("%v", err)
		logger.Sync()
		os.Exit(1)
	}
	logger.Sync()
}

// createRootCommand builds the apptainer-charm command tree
func createRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "apptainer-charm",
		Short: "Juju charm that installs apptainer from its Launchpad PPA",
		Long: `apptainer-charm is run by the charm's dispatch script for every
hook and action Juju sends to the unit. It installs, removes and upgrades
the apptainer package and reports the result as unit status.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "",
		"Charm config file (default: $JUJU_CHARM_DIR/"+config.ConfigFileName+")")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Log level: debug, info, warn or error (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"Enable debug logging")

	rootCmd.AddCommand(createDispatchCommand())
	rootCmd.AddCommand(createVersionCommand())

	attachLoggingHooks(rootCmd)
	return rootCmd
}

// attachLoggingHooks makes every subcommand load the hook environment and
// config and set up logging before it runs.
func attachLoggingHooks(root *cobra.Command) {
	for _, cmd := range root.Commands() {
		cmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
			return initRuntime(cmd)
		}
	}
}

func initRuntime(cmd *cobra.Command) error {
	hookCtx, err := hookenv.Load()
	if err != nil {
		return err
	}

	path, required := config.ResolveConfigPath(configFile, hookCtx.CharmDir)
	cfg, err := config.LoadGlobalConfig(path, required)
	if err != nil {
		return err
	}

	level := resolveRequestedLogLevel(cmd)
	if level == "" {
		level = config.NewConfigHelpers(cfg, hookCtx.CharmDir).LogLevel()
	}
	z, err := logger.Setup(level)
	if err != nil {
		return fmt.Errorf("configuring logging: %w", err)
	}
	logger.Init(z.With("dispatch_id", uuid.NewString(), "unit", hookCtx.UnitLabel()))

	current = runtimeEnv{hook: hookCtx, config: cfg}
	return nil
}

// resolveRequestedLogLevel returns the level asked for on the command line,
// or "" to defer to the config file.
func resolveRequestedLogLevel(cmd *cobra.Command) string {
	if logLevel != "" {
		return logLevel
	}
	if cmd != nil && verboseRequested(cmd.Flags()) {
		return "debug"
	}
	return ""
}

func verboseRequested(flags *pflag.FlagSet) bool {
	f := flags.Lookup("verbose")
	return f != nil && f.Changed && f.Value.String() == "true"
}
