package main

import (
	"context"
	"fmt"

	"github.com/omnivector-solutions/charm-apptainer/internal/charm"
	"github.com/omnivector-solutions/charm-apptainer/internal/config"
	"github.com/omnivector-solutions/charm-apptainer/internal/hookenv"
	"github.com/omnivector-solutions/charm-apptainer/internal/hooktools"
	"github.com/omnivector-solutions/charm-apptainer/internal/provider"
	"github.com/omnivector-solutions/charm-apptainer/internal/provider/apptainer"
	"github.com/omnivector-solutions/charm-apptainer/internal/utils/logger"
	"github.com/spf13/cobra"
)

// createDispatchCommand creates the dispatch subcommand
func createDispatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "dispatch [PATH]",
		Short: "Handle a Juju hook or action",
		Long: `Dispatch handles the hook or action named by PATH, for example
hooks/install or actions/upgrade. Without PATH, $JUJU_DISPATCH_PATH is used.
Deferred events from earlier dispatches are re-run first.`,
		Args: cobra.MaximumNArgs(1),
		RunE: executeDispatch,
	}
}

// resolveDispatchPath prefers an explicit argument over the environment.
func resolveDispatchPath(args []string, hookCtx *hookenv.Context) (string, error) {
	if len(args) > 0 && args[0] != "" {
		return args[0], nil
	}
	if hookCtx != nil && hookCtx.DispatchPath != "" {
		return hookCtx.DispatchPath, nil
	}
	return "", fmt.Errorf("no dispatch path: pass PATH or set JUJU_DISPATCH_PATH")
}

// loadWorkload returns the initialized workload provider.
func loadWorkload(cfg *config.GlobalConfig, hookCtx *hookenv.Context) (provider.Provider, error) {
	p, ok := provider.Get(apptainer.Name)
	if !ok {
		return nil, fmt.Errorf("provider %s is not registered (have %v)", apptainer.Name, provider.Names())
	}
	if err := p.Init(cfg, hookCtx.ProxyEnv()); err != nil {
		return nil, err
	}
	return p, nil
}

// executeDispatch handles the dispatch command execution logic
func executeDispatch(cmd *cobra.Command, args []string) error {
	log := logger.Logger()

	path, err := resolveDispatchPath(args, current.hook)
	if err != nil {
		return err
	}

	workload, err := loadWorkload(current.config, current.hook)
	if err != nil {
		return err
	}

	helpers := config.NewConfigHelpers(current.config, current.hook.CharmDir)
	stateDir, err := helpers.CreateStateDir()
	if err != nil {
		return err
	}

	log.Infof("Dispatching %s", path)
	c := charm.New(workload, hooktools.NewClient(), charm.NewNoticeStore(stateDir))
	if err := c.Run(context.Background(), path); err != nil {
		return fmt.Errorf("dispatch of %s failed: %w", path, err)
	}
	return nil
}
