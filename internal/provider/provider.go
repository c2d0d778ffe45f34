package provider

import (
	"context"
	"sort"

	"github.com/omnivector-solutions/charm-apptainer/internal/config"
)

// Provider is the interface every workload plugin must implement.
type Provider interface {
	// Name is a unique ID, e.g. "apptainer".
	Name() string

	// Init does any one-time setup from the charm configuration. env is
	// passed to every host package tool the provider runs.
	Init(cfg *config.GlobalConfig, env []string) error

	// Install adds the signing key and repository, then installs the
	// workload package.
	Install(ctx context.Context) error

	// Uninstall removes the workload package, disables the repository and
	// deletes the signing key.
	Uninstall(ctx context.Context) error

	// UpgradeToLatest moves the installed workload package to the newest
	// available version.
	UpgradeToLatest(ctx context.Context) error

	// Version returns the installed workload version, or false when the
	// package is not installed.
	Version(ctx context.Context) (string, bool)
}

var (
	providers = make(map[string]Provider)
)

// Register makes a Provider available under its Name().
func Register(p Provider) {
	providers[p.Name()] = p
}

// Get returns the Provider by name.
func Get(name string) (Provider, bool) {
	p, ok := providers[name]
	return p, ok
}

// Names returns the registered provider names in sorted order.
func Names() []string {
	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
