package apptainer

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/omnivector-solutions/charm-apptainer/internal/config"
	"github.com/omnivector-solutions/charm-apptainer/internal/ospackage"
	"github.com/omnivector-solutions/charm-apptainer/internal/ospackage/debutils"
	"github.com/omnivector-solutions/charm-apptainer/internal/provider"
	"github.com/omnivector-solutions/charm-apptainer/internal/utils/logger"
	"github.com/omnivector-solutions/charm-apptainer/internal/utils/system"
)

// Name is the provider ID apptainer registers under.
const Name = "apptainer"

// PPAKey is the signing key of the apptainer Launchpad PPA.
//
//go:embed apptainer.asc
var PPAKey string

// Apptainer implements provider.Provider for the apptainer PPA package.
type Apptainer struct {
	packageName string
	uri         string
	components  []string
	keyring     *debutils.Keyring
	repos       *debutils.RepositoryMapping
	pm          debutils.PackageManager
}

func init() {
	provider.Register(&Apptainer{})
}

// New returns an initialized provider.
func New(cfg *config.GlobalConfig, env []string) *Apptainer {
	p := &Apptainer{}
	p.configure(cfg, env)
	return p
}

// Name returns the unique name of the provider
func (p *Apptainer) Name() string { return Name }

// Init applies cfg, falling back to the defaults when cfg is nil.
func (p *Apptainer) Init(cfg *config.GlobalConfig, env []string) error {
	if cfg == nil {
		cfg = config.DefaultGlobalConfig()
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid %s configuration: %w", Name, err)
	}
	p.configure(cfg, env)
	return nil
}

func (p *Apptainer) configure(cfg *config.GlobalConfig, env []string) {
	helpers := config.NewConfigHelpers(cfg, "")
	p.packageName = helpers.PackageName()
	p.uri = helpers.RepositoryURI()
	p.components = helpers.Components()
	p.keyring = debutils.NewKeyring(helpers.KeyringPath())
	p.repos = debutils.NewRepositoryMapping(helpers.SourcesDir())
	p.pm = debutils.NewManager(env...)
}

// repo builds the sources entry for the host's release.
func (p *Apptainer) repo(ctx context.Context) (*debutils.DebianRepository, error) {
	codename, err := system.GetHostCodename(ctx)
	if err != nil {
		return nil, err
	}
	return debutils.NewDebianRepository(p.uri, codename, p.components,
		map[string]string{"signed-by": p.keyring.Path}), nil
}

// Install writes the PPA key, adds the PPA, refreshes the package index and
// installs the package.
func (p *Apptainer) Install(ctx context.Context) error {
	log := logger.Logger()

	if dist, err := system.DetectOsDistribution(); err == nil && len(dist.PackageTypes) > 0 && !dist.IsDebianFamily() {
		return fmt.Errorf("unsupported host OS %s: %s needs a Debian based distribution", dist.Name, p.packageName)
	}

	fingerprint, err := p.keyring.Install(PPAKey)
	if err != nil {
		return err
	}
	log.Debugf("Installed %s signing key %s", p.packageName, fingerprint)

	repo, err := p.repo(ctx)
	if err != nil {
		return fmt.Errorf("building %s repository: %w", p.packageName, err)
	}
	if err := p.retireRepositories(repo); err != nil {
		return err
	}
	if err := p.repos.Add(repo); err != nil {
		return err
	}

	if err := p.pm.Update(ctx); err != nil {
		log.Errorf("Could not update package lists. Reason: %v", err)
		return err
	}

	pkg, err := p.pm.AddPackage(ctx, p.packageName)
	if err != nil {
		switch debutils.KindOf(err) {
		case debutils.KindNotFound:
			log.Errorf("%s not found in package cache or on system", p.packageName)
		case debutils.KindOperationFailed:
			log.Errorf("Could not install %s. Reason: %v", p.packageName, err)
		default:
			log.Errorf("Unexpected error installing %s: %v", p.packageName, err)
		}
		return err
	}

	log.Infof("Installed %s", pkg)
	return nil
}

// Uninstall removes the package, disables every PPA entry for any release and
// deletes the key. Every step runs even when an earlier one fails.
func (p *Apptainer) Uninstall(ctx context.Context) error {
	log := logger.Logger()
	var errs []error

	removed, err := p.pm.RemovePackage(ctx, p.packageName)
	switch {
	case err != nil:
		log.Errorf("Could not remove %s. Reason: %v", p.packageName, err)
		errs = append(errs, err)
	case removed:
		log.Infof("%s removed from system.", p.packageName)
	default:
		log.Errorf("%s not found on system", p.packageName)
	}

	if err := p.disableRepositories(); err != nil {
		errs = append(errs, err)
	}

	if p.keyring.Exists() {
		if fingerprint, err := p.keyring.Fingerprint(); err == nil {
			log.Infof("Removing %s signing key %s", p.packageName, fingerprint)
		} else {
			log.Warnf("Removing unreadable %s keyring: %v", p.packageName, err)
		}
	}
	if err := p.keyring.Remove(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// isPPA reports whether repo points at the configured PPA.
func (p *Apptainer) isPPA(repo *debutils.DebianRepository) bool {
	return strings.TrimRight(repo.URI, "/") == strings.TrimRight(p.uri, "/")
}

// retireRepositories drops PPA entries left over from an earlier release of
// the host. Files named the way Add names them are removed; entries in any
// other file are only disabled.
func (p *Apptainer) retireRepositories(current *debutils.DebianRepository) error {
	log := logger.Logger()
	if err := p.repos.Load(); err != nil {
		return fmt.Errorf("loading %s repositories: %w", p.packageName, err)
	}

	for _, repo := range p.repos.Repositories() {
		if !p.isPPA(repo) || repo.Release == current.Release {
			continue
		}
		log.Infof("Retiring %s repository for release %s", p.packageName, repo.Release)
		if repo.Filename == debutils.FilenameFor(repo.URI, repo.Release) {
			if err := p.repos.Remove(repo); err != nil {
				return err
			}
			continue
		}
		if repo.Enabled {
			if err := p.repos.Disable(repo); err != nil {
				return err
			}
		}
	}
	return nil
}

// disableRepositories comments out every enabled entry for the PPA, whatever
// release it was written for.
func (p *Apptainer) disableRepositories() error {
	log := logger.Logger()
	if err := p.repos.Load(); err != nil {
		return fmt.Errorf("loading %s repositories: %w", p.packageName, err)
	}

	var errs []error
	disabled := 0
	for _, repo := range p.repos.Repositories() {
		if !repo.Enabled || !p.isPPA(repo) {
			continue
		}
		if err := p.repos.Disable(repo); err != nil {
			errs = append(errs, err)
			continue
		}
		disabled++
	}
	if disabled == 0 && len(errs) == 0 {
		log.Debugf("No enabled %s repository found", p.packageName)
	}
	return errors.Join(errs...)
}

// UpgradeToLatest moves the package to the newest version in the cache.
func (p *Apptainer) UpgradeToLatest(ctx context.Context) error {
	log := logger.Logger()

	pkg, err := p.pm.FromSystem(ctx, p.packageName)
	if err == nil {
		pkg, err = p.pm.Ensure(ctx, pkg, ospackage.Latest)
	}
	if err != nil {
		switch debutils.KindOf(err) {
		case debutils.KindNotFound:
			log.Errorf("%s not found in package cache or on system", p.packageName)
		case debutils.KindOperationFailed:
			log.Errorf("Could not upgrade %s. Reason: %v", p.packageName, err)
		default:
			log.Errorf("Unexpected error upgrading %s: %v", p.packageName, err)
		}
		return err
	}

	log.Infof("Updated %s to version: %s", p.packageName, pkg.FullVersion())
	return nil
}

// Version returns the installed package version.
func (p *Apptainer) Version(ctx context.Context) (string, bool) {
	pkg, err := p.pm.FromInstalledPackage(ctx, p.packageName)
	if err != nil {
		logger.Logger().Debugf("%s not found on system: %v", p.packageName, err)
		return "", false
	}
	return pkg.FullVersion(), true
}
