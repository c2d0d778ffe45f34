package shell

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"

	"github.com/omnivector-solutions/charm-apptainer/internal/utils/logger"
)

// Executor runs shell command strings on the host.
type Executor interface {
	ExecCmd(ctx context.Context, cmdStr string, envVal []string) (string, error)
}

// Default is the executor used by the package level helpers. Tests swap it
// for a MockExecutor.
var Default Executor = &HostExecutor{}

// HostExecutor runs commands through the host shell.
type HostExecutor struct{}

// GetOSEnvirons returns the system environment variables
func GetOSEnvirons() map[string]string {
	environ := make(map[string]string)
	for _, env := range os.Environ() {
		parts := strings.SplitN(env, "=", 2)
		if len(parts) == 2 {
			environ[parts[0]] = parts[1]
		}
	}
	return environ
}

// GetOSProxyEnvirons retrieves HTTP, HTTPS and no-proxy environment variables
func GetOSProxyEnvirons() map[string]string {
	osEnv := GetOSEnvirons()
	proxyEnv := make(map[string]string)

	for key, value := range osEnv {
		lower := strings.ToLower(key)
		if strings.Contains(lower, "http_proxy") ||
			strings.Contains(lower, "https_proxy") ||
			strings.Contains(lower, "no_proxy") {
			proxyEnv[key] = value
		}
	}

	return proxyEnv
}

// getShell returns the preferred shell, falling back to /bin/sh if bash is not available
func getShell() string {
	shells := []string{"/bin/bash", "/usr/bin/bash", "/bin/sh"}
	for _, shell := range shells {
		if _, err := os.Stat(shell); err == nil {
			return shell
		}
	}
	return "/bin/sh"
}

// GetFullCmdStr prefixes cmdStr with the given KEY=value assignments, each
// value quoted as a single shell word. Proxy variables already present in the
// process environment are passed on explicitly so they survive tools that
// scrub the environment.
func GetFullCmdStr(cmdStr string, envVal []string) string {
	log := logger.Logger()

	var envValStr string
	for _, env := range envVal {
		key, value, ok := strings.Cut(env, "=")
		if !ok {
			log.Warnf("Ignoring malformed environment assignment %q", env)
			continue
		}
		envValStr += key + "=" + shellQuote(value) + " "
	}

	proxyEnv := GetOSProxyEnvirons()
	keys := make([]string, 0, len(proxyEnv))
	for key, value := range proxyEnv {
		if value != "" {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	for _, key := range keys {
		envValStr += key + "=" + shellQuote(proxyEnv[key]) + " "
	}

	log.Debugf("Exec: [%s]", cmdStr)
	return envValStr + cmdStr
}

// ExecCmd executes a command and returns its combined output
func (h *HostExecutor) ExecCmd(ctx context.Context, cmdStr string, envVal []string) (string, error) {
	log := logger.Logger()
	fullCmdStr := GetFullCmdStr(cmdStr, envVal)

	cmd := exec.CommandContext(ctx, getShell(), "-c", fullCmdStr)
	output, err := cmd.CombinedOutput()
	outputStr := string(output)

	if err != nil {
		if outputStr != "" {
			log.Info(outputStr)
		}
		return outputStr, fmt.Errorf("failed to exec %s: %w", cmdStr, err)
	}
	if outputStr != "" {
		log.Debug(outputStr)
	}
	return outputStr, nil
}

// ExecCmd runs cmdStr through the Default executor.
func ExecCmd(ctx context.Context, cmdStr string, envVal []string) (string, error) {
	return Default.ExecCmd(ctx, cmdStr, envVal)
}

// Quote returns s quoted for safe use as a single shell word.
func Quote(s string) string {
	return shellQuote(s)
}

func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n'\"\\$`;&|<>(){}*?[]#~!") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
