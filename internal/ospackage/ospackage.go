package ospackage

import "fmt"

// PackageState is the state a package is in, or is asked to be in.
type PackageState int

const (
	Absent PackageState = iota
	Present
	Latest
)

func (s PackageState) String() string {
	switch s {
	case Absent:
		return "absent"
	case Present:
		return "present"
	case Latest:
		return "latest"
	default:
		return fmt.Sprintf("PackageState(%d)", int(s))
	}
}

// PackageInfo describes one package as the host package database sees it.
type PackageInfo struct {
	Name    string       // e.g. "apptainer"
	Version string       // upstream-revision, e.g. "1.3.4-1~jammy"
	Epoch   string       // optional, e.g. "1"
	Arch    string       // e.g. "amd64"
	State   PackageState // Absent, Present or Latest
}

// FullVersion returns epoch:version, or just version when there is no epoch.
func (p PackageInfo) FullVersion() string {
	if p.Epoch != "" {
		return p.Epoch + ":" + p.Version
	}
	return p.Version
}

// SplitVersion splits a Debian version string into its epoch and the rest.
func SplitVersion(full string) (epoch, version string) {
	for i := 0; i < len(full); i++ {
		c := full[i]
		if c == ':' {
			return full[:i], full[i+1:]
		}
		if c < '0' || c > '9' {
			break
		}
	}
	return "", full
}

func (p PackageInfo) String() string {
	if p.Arch != "" {
		return fmt.Sprintf("%s:%s=%s", p.Name, p.Arch, p.FullVersion())
	}
	return fmt.Sprintf("%s=%s", p.Name, p.FullVersion())
}
