package system

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/omnivector-solutions/charm-apptainer/internal/utils/logger"
	"github.com/omnivector-solutions/charm-apptainer/internal/utils/shell"
)

var (
	OsReleaseFile = "/etc/os-release"
)

// OsDistribution contains information about the Linux OS distribution
type OsDistribution struct {
	Name            string   // Distribution name (e.g., "Ubuntu", "Debian GNU/Linux")
	Version         string   // Version (e.g., "22.04", "12")
	ID              string   // Distribution ID (e.g., "ubuntu", "debian")
	IDLike          []string // Related distributions (e.g., ["debian"])
	Codename        string   // Release codename (e.g., "jammy", "bookworm")
	PackageTypes    []string // Supported package types (e.g., ["deb"])
	PackageManagers []string // Package managers (e.g., ["apt", "dpkg"])
}

// IsDebianFamily reports whether the distribution installs .deb packages.
func (d *OsDistribution) IsDebianFamily() bool {
	for _, t := range d.PackageTypes {
		if t == "deb" {
			return true
		}
	}
	return false
}

// GetHostOsInfo returns name, version, codename and arch of the host.
func GetHostOsInfo(ctx context.Context) (map[string]string, error) {
	log := logger.Logger()
	var hostOsInfo = map[string]string{
		"name":     "",
		"version":  "",
		"codename": "",
		"arch":     "",
	}

	output, err := shell.ExecCmd(ctx, "uname -m", nil)
	if err != nil {
		log.Errorf("Failed to get host architecture: %v", err)
		return hostOsInfo, fmt.Errorf("failed to get host architecture: %w", err)
	}
	hostOsInfo["arch"] = strings.TrimSpace(output)

	if dist, err := DetectOsDistribution(); err == nil {
		hostOsInfo["name"] = dist.Name
		hostOsInfo["version"] = dist.Version
		hostOsInfo["codename"] = dist.Codename
		log.Infof("Detected OS info: %s %s (%s) %s",
			hostOsInfo["name"], hostOsInfo["version"], hostOsInfo["codename"], hostOsInfo["arch"])
		return hostOsInfo, nil
	}

	output, err = shell.ExecCmd(ctx, "lsb_release -si", nil)
	if err != nil {
		log.Errorf("Failed to get host OS name: %v", err)
		return hostOsInfo, fmt.Errorf("failed to get host OS name: %w", err)
	}
	if strings.TrimSpace(output) == "" {
		log.Errorf("Failed to detect host OS info!")
		return hostOsInfo, fmt.Errorf("failed to detect host OS info")
	}
	hostOsInfo["name"] = strings.TrimSpace(output)

	output, err = shell.ExecCmd(ctx, "lsb_release -sr", nil)
	if err != nil {
		log.Errorf("Failed to get host OS version: %v", err)
		return hostOsInfo, fmt.Errorf("failed to get host OS version: %w", err)
	}
	hostOsInfo["version"] = strings.TrimSpace(output)

	output, err = shell.ExecCmd(ctx, "lsb_release -sc", nil)
	if err != nil {
		log.Errorf("Failed to get host OS codename: %v", err)
		return hostOsInfo, fmt.Errorf("failed to get host OS codename: %w", err)
	}
	hostOsInfo["codename"] = strings.TrimSpace(output)

	log.Infof("Detected OS info: %s %s (%s) %s",
		hostOsInfo["name"], hostOsInfo["version"], hostOsInfo["codename"], hostOsInfo["arch"])
	return hostOsInfo, nil
}

// GetHostCodename returns the release codename of the host, e.g. "jammy".
// /etc/os-release is consulted first, then lsb_release.
func GetHostCodename(ctx context.Context) (string, error) {
	if dist, err := DetectOsDistribution(); err == nil && dist.Codename != "" {
		return dist.Codename, nil
	}

	output, err := shell.ExecCmd(ctx, "lsb_release -cs", nil)
	if err != nil {
		return "", fmt.Errorf("failed to get host OS codename: %w", err)
	}
	codename := strings.TrimSpace(output)
	if codename == "" {
		return "", fmt.Errorf("failed to detect host OS codename")
	}
	return codename, nil
}

// GetHostOsPkgManager returns the package manager family of the host.
func GetHostOsPkgManager(ctx context.Context) (string, error) {
	hostOsInfo, err := GetHostOsInfo(ctx)
	if err != nil {
		return "", err
	}

	switch hostOsInfo["name"] {
	case "Ubuntu", "Debian", "Debian GNU/Linux":
		return "apt", nil
	default:
		logger.Logger().Errorf("Unsupported host OS: %s", hostOsInfo["name"])
		return "", fmt.Errorf("unsupported host OS: %s", hostOsInfo["name"])
	}
}

// DetectOsDistribution parses /etc/os-release into an OsDistribution.
func DetectOsDistribution() (*OsDistribution, error) {
	log := logger.Logger()
	osInfo := &OsDistribution{}

	file, err := os.Open(OsReleaseFile)
	if err != nil {
		return nil, fmt.Errorf("file %s not found: %w", OsReleaseFile, err)
	}
	defer file.Close()

	var ubuntuCodename string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.Trim(strings.TrimSpace(parts[1]), "\"")

		switch key {
		case "NAME":
			osInfo.Name = value
		case "VERSION_ID":
			osInfo.Version = value
		case "ID":
			osInfo.ID = strings.ToLower(value)
		case "ID_LIKE":
			// ID_LIKE can contain multiple space-separated values
			osInfo.IDLike = strings.Fields(value)
		case "VERSION_CODENAME":
			osInfo.Codename = value
		case "UBUNTU_CODENAME":
			ubuntuCodename = value
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading %s: %w", OsReleaseFile, err)
	}

	if osInfo.Codename == "" {
		osInfo.Codename = ubuntuCodename
	}

	osInfo.PackageTypes, osInfo.PackageManagers = detectPackageSupport(osInfo.ID, osInfo.IDLike)

	if len(osInfo.PackageTypes) == 0 {
		log.Warnf("Could not determine package type for distribution: %s (ID: %s)", osInfo.Name, osInfo.ID)
	}

	log.Debugf("Detected OS distribution: %s %s (ID: %s, Codename: %s, Package Types: %v)",
		osInfo.Name, osInfo.Version, osInfo.ID, osInfo.Codename, osInfo.PackageTypes)

	return osInfo, nil
}

// detectPackageSupport determines the package types and managers based on distribution ID
func detectPackageSupport(id string, idLike []string) ([]string, []string) {
	pkgTypes, pkgMgrs := getPackageInfoForID(id)
	if len(pkgTypes) > 0 {
		return pkgTypes, pkgMgrs
	}

	for _, likeID := range idLike {
		pkgTypes, pkgMgrs := getPackageInfoForID(likeID)
		if len(pkgTypes) > 0 {
			return pkgTypes, pkgMgrs
		}
	}

	return []string{}, []string{}
}

// getPackageInfoForID returns package types and managers for a given distribution ID
func getPackageInfoForID(id string) ([]string, []string) {
	switch strings.ToLower(id) {
	case "ubuntu", "debian", "linuxmint", "pop", "elementary", "kali", "raspbian":
		return []string{"deb"}, []string{"apt", "dpkg"}
	case "fedora", "rhel", "centos", "rocky", "almalinux":
		return []string{"rpm"}, []string{"dnf", "yum", "rpm"}
	case "opensuse", "opensuse-leap", "opensuse-tumbleweed", "sles":
		return []string{"rpm"}, []string{"zypper", "rpm"}
	default:
		return nil, nil
	}
}
