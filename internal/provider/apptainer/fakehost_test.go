package apptainer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// fakeHost is a shell.Executor that keeps apt and dpkg state between calls.
type fakeHost struct {
	mu sync.Mutex

	installed    bool
	version      string
	cacheVersion string // empty means the package is unknown to apt
	failInstall  bool
	failUpdate   bool

	calls []string
}

func newFakeHost(cacheVersion string) *fakeHost {
	return &fakeHost{cacheVersion: cacheVersion}
}

func (f *fakeHost) ExecCmd(ctx context.Context, cmdStr string, envVal []string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, cmdStr)

	switch {
	case strings.HasPrefix(cmdStr, "apt-get ") && strings.HasSuffix(cmdStr, " update"):
		if f.failUpdate {
			return "E: Could not get lock /var/lib/apt/lists/lock", errors.New("exit status 100")
		}
		return "Reading package lists... Done", nil

	case cmdStr == "apt-cache policy apptainer":
		if f.cacheVersion == "" {
			return "", nil
		}
		installed := "(none)"
		if f.installed {
			installed = f.version
		}
		return fmt.Sprintf("apptainer:\n  Installed: %s\n  Candidate: %s\n", installed, f.cacheVersion), nil

	case strings.HasPrefix(cmdStr, "dpkg-query -W ") && strings.HasSuffix(cmdStr, " apptainer"):
		if !f.installed {
			return "dpkg-query: no packages found matching apptainer", errors.New("exit status 1")
		}
		return fmt.Sprintf("install ok installed\t%s\tamd64\n", f.version), nil

	case strings.HasPrefix(cmdStr, "apt-get ") && strings.HasSuffix(cmdStr, " install apptainer"):
		if f.cacheVersion == "" {
			return "E: Unable to locate package apptainer", errors.New("exit status 100")
		}
		if f.failInstall {
			return "E: Sub-process /usr/bin/dpkg returned an error code (1)", errors.New("exit status 100")
		}
		f.installed = true
		f.version = f.cacheVersion
		return "Setting up apptainer (" + f.version + ") ...", nil

	case strings.HasPrefix(cmdStr, "apt-get ") && strings.HasSuffix(cmdStr, " remove apptainer"):
		f.installed = false
		f.version = ""
		return "Removing apptainer (1.3.4-1~jammy) ...", nil

	case cmdStr == "lsb_release -cs":
		return "jammy\n", nil
	}
	return "", fmt.Errorf("unexpected command for fake host: %s", cmdStr)
}

func (f *fakeHost) count(suffix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if strings.HasSuffix(c, suffix) {
			n++
		}
	}
	return n
}
