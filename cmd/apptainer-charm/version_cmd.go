package main

import (
	"context"
	"fmt"

	"github.com/omnivector-solutions/charm-apptainer/internal/utils/system"
	"github.com/spf13/cobra"
)

var showHost bool // --host

// createVersionCommand creates the version subcommand
func createVersionCommand() *cobra.Command {
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the installed apptainer version",
		Args:  cobra.NoArgs,
		RunE:  executeVersion,
	}
	versionCmd.Flags().BoolVar(&showHost, "host", false,
		"Also print the host distribution and package manager")
	return versionCmd
}

// executeVersion handles the version command execution logic
func executeVersion(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	out := cmd.OutOrStdout()

	workload, err := loadWorkload(current.config, current.hook)
	if err != nil {
		return err
	}

	if version, ok := workload.Version(ctx); ok {
		fmt.Fprintf(out, "%s: %s\n", workload.Name(), version)
	} else {
		fmt.Fprintf(out, "%s: not installed\n", workload.Name())
	}

	if !showHost {
		return nil
	}
	info, err := system.GetHostOsInfo(ctx)
	if err != nil {
		return err
	}
	pkgManager, err := system.GetHostOsPkgManager(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "host: %s %s (%s, %s)\npackage manager: %s\n",
		info["name"], info["version"], info["codename"], info["arch"], pkgManager)
	return nil
}
