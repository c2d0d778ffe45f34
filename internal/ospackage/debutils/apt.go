package debutils

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/omnivector-solutions/charm-apptainer/internal/ospackage"
	"github.com/omnivector-solutions/charm-apptainer/internal/utils/logger"
	"github.com/omnivector-solutions/charm-apptainer/internal/utils/shell"
)

const (
	// the basic command for all apt-get calls:
	//		--force-confold is passed to dpkg to never overwrite config files
	//		--force-unsafe-io makes dpkg less sync-happy
	//		--assume-yes to never prompt for confirmation
	aptGet = "apt-get --option=Dpkg::Options::=--force-confold --option=Dpkg::options::=--force-unsafe-io --assume-yes --quiet"

	aptCache = "apt-cache"

	dpkgQuery = "dpkg-query"

	installedStatus = "install ok installed"
)

// PackageManager is the package database capability the workload providers
// drive.
type PackageManager interface {
	Update(ctx context.Context) error
	AddPackage(ctx context.Context, name string) (ospackage.PackageInfo, error)
	RemovePackage(ctx context.Context, name string) (bool, error)
	FromInstalledPackage(ctx context.Context, name string) (ospackage.PackageInfo, error)
	FromAptCache(ctx context.Context, name string) (ospackage.PackageInfo, error)
	FromSystem(ctx context.Context, name string) (ospackage.PackageInfo, error)
	Ensure(ctx context.Context, pkg ospackage.PackageInfo, state ospackage.PackageState) (ospackage.PackageInfo, error)
}

// Manager drives apt-get, apt-cache and dpkg-query through shell.Default.
type Manager struct {
	env []string
}

// NewManager returns a Manager that passes env, on top of a non-interactive
// frontend, to every apt call.
func NewManager(env ...string) *Manager {
	return &Manager{env: append([]string{"DEBIAN_FRONTEND=noninteractive"}, env...)}
}

var _ PackageManager = (*Manager)(nil)

// Update refreshes the package index.
func (m *Manager) Update(ctx context.Context) error {
	log := logger.Logger()
	log.Infof("Updating package lists")
	if _, err := shell.ExecCmd(ctx, aptGet+" update", m.env); err != nil {
		return operationFailed("", "apt-get update failed", err)
	}
	return nil
}

// AddPackage installs name from the package cache and returns what ended up
// installed.
func (m *Manager) AddPackage(ctx context.Context, name string) (ospackage.PackageInfo, error) {
	pkg, err := m.FromAptCache(ctx, name)
	if err != nil {
		return ospackage.PackageInfo{}, err
	}
	return m.Ensure(ctx, pkg, ospackage.Present)
}

// RemovePackage removes name. It reports false, without error, when the
// package was not installed.
func (m *Manager) RemovePackage(ctx context.Context, name string) (bool, error) {
	log := logger.Logger()
	if _, err := m.FromInstalledPackage(ctx, name); err != nil {
		if IsNotFound(err) {
			return false, nil
		}
		return false, err
	}

	log.Infof("Removing package %s", name)
	if output, err := shell.ExecCmd(ctx, aptGet+" remove "+name, m.env); err != nil {
		return false, operationFailed(name, "could not remove package", fmt.Errorf("%w: %s", err, lastLine(output)))
	}
	return true, nil
}

// FromInstalledPackage looks name up in the dpkg database. Packages that are
// known but not fully installed count as not found.
func (m *Manager) FromInstalledPackage(ctx context.Context, name string) (ospackage.PackageInfo, error) {
	cmd := fmt.Sprintf("%s -W --showformat='${Status}\\t${Version}\\t${Architecture}\\n' %s", dpkgQuery, name)
	output, err := shell.ExecCmd(ctx, cmd, nil)
	if err != nil {
		return ospackage.PackageInfo{}, notFound(name, "not installed on system", err)
	}

	fields := strings.Split(strings.TrimSpace(firstLine(output)), "\t")
	if len(fields) != 3 || fields[0] != installedStatus {
		return ospackage.PackageInfo{}, notFound(name, "not installed on system", nil)
	}

	epoch, version := ospackage.SplitVersion(fields[1])
	return ospackage.PackageInfo{
		Name:    name,
		Version: version,
		Epoch:   epoch,
		Arch:    fields[2],
		State:   ospackage.Present,
	}, nil
}

// FromAptCache returns the install candidate for name from apt-cache policy.
func (m *Manager) FromAptCache(ctx context.Context, name string) (ospackage.PackageInfo, error) {
	output, err := shell.ExecCmd(ctx, aptCache+" policy "+name, m.env)
	if err != nil {
		return ospackage.PackageInfo{}, operationFailed(name, "could not query package cache", err)
	}

	candidate := ""
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "Candidate:") {
			candidate = strings.TrimSpace(strings.TrimPrefix(line, "Candidate:"))
			break
		}
	}
	if candidate == "" || candidate == "(none)" {
		return ospackage.PackageInfo{}, notFound(name, "not found in package cache", nil)
	}

	epoch, version := ospackage.SplitVersion(candidate)
	return ospackage.PackageInfo{
		Name:    name,
		Version: version,
		Epoch:   epoch,
		State:   ospackage.Absent,
	}, nil
}

// FromSystem returns the installed package, or the cache candidate when
// name is not installed.
func (m *Manager) FromSystem(ctx context.Context, name string) (ospackage.PackageInfo, error) {
	pkg, err := m.FromInstalledPackage(ctx, name)
	if err == nil {
		return pkg, nil
	}
	if !IsNotFound(err) {
		return ospackage.PackageInfo{}, err
	}
	return m.FromAptCache(ctx, name)
}

// Ensure moves pkg into state and returns the resulting package.
func (m *Manager) Ensure(ctx context.Context, pkg ospackage.PackageInfo, state ospackage.PackageState) (ospackage.PackageInfo, error) {
	log := logger.Logger()

	switch state {
	case ospackage.Absent:
		if _, err := m.RemovePackage(ctx, pkg.Name); err != nil {
			return pkg, err
		}
		pkg.State = ospackage.Absent
		return pkg, nil

	case ospackage.Present:
		if installed, err := m.FromInstalledPackage(ctx, pkg.Name); err == nil {
			return installed, nil
		}
		log.Infof("Installing package %s", pkg.Name)

	case ospackage.Latest:
		log.Infof("Installing latest version of package %s", pkg.Name)

	default:
		return pkg, fmt.Errorf("unsupported package state %s", state)
	}

	if output, err := shell.ExecCmd(ctx, aptGet+" install "+pkg.Name, m.env); err != nil {
		if strings.Contains(output, "Unable to locate package") {
			return pkg, notFound(pkg.Name, "not found in package cache", err)
		}
		return pkg, operationFailed(pkg.Name, "could not install package", fmt.Errorf("%w: %s", err, lastLine(output)))
	}

	installed, err := m.FromInstalledPackage(ctx, pkg.Name)
	if err != nil {
		return pkg, operationFailed(pkg.Name, "package missing after install", err)
	}
	if state == ospackage.Latest {
		installed.State = ospackage.Latest
	}
	return installed, nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func lastLine(s string) string {
	s = strings.TrimRight(s, "\n")
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
