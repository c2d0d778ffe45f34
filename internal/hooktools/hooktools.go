// Package hooktools calls the Juju hook tools available to a charm during a
// dispatch.
package hooktools

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/omnivector-solutions/charm-apptainer/internal/utils/shell"
)

// StatusKind is a unit workload status understood by status-set.
type StatusKind string

const (
	StatusMaintenance StatusKind = "maintenance"
	StatusWaiting     StatusKind = "waiting"
	StatusActive      StatusKind = "active"
	StatusBlocked     StatusKind = "blocked"
)

// Valid reports whether k is one of the settable statuses.
func (k StatusKind) Valid() bool {
	switch k {
	case StatusMaintenance, StatusWaiting, StatusActive, StatusBlocked:
		return true
	}
	return false
}

// LogLevel is a juju-log severity.
type LogLevel string

const (
	LevelDebug   LogLevel = "DEBUG"
	LevelInfo    LogLevel = "INFO"
	LevelWarning LogLevel = "WARNING"
	LevelError   LogLevel = "ERROR"
)

// Client runs hook tools through shell.Default.
type Client struct {
	env []string
}

// NewClient returns a Client passing env to every hook tool.
func NewClient(env ...string) *Client {
	return &Client{env: env}
}

// StatusSet sets the unit workload status.
func (c *Client) StatusSet(ctx context.Context, kind StatusKind, message string) error {
	if !kind.Valid() {
		return fmt.Errorf("invalid status %q", kind)
	}
	return c.run(ctx, "status-set", string(kind), shell.Quote(message))
}

// ApplicationVersionSet publishes the workload version.
func (c *Client) ApplicationVersionSet(ctx context.Context, version string) error {
	return c.run(ctx, "application-version-set", shell.Quote(version))
}

// JujuLog writes message to the unit log at level.
func (c *Client) JujuLog(ctx context.Context, level LogLevel, message string) error {
	return c.run(ctx, "juju-log", "--log-level", string(level), shell.Quote(message))
}

// ActionLog records a progress message for the running action.
func (c *Client) ActionLog(ctx context.Context, message string) error {
	return c.run(ctx, "action-log", shell.Quote(message))
}

// ActionSet records results for the running action. Keys are emitted in
// sorted order.
func (c *Client) ActionSet(ctx context.Context, results map[string]string) error {
	if len(results) == 0 {
		return nil
	}
	keys := make([]string, 0, len(results))
	for k := range results {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	args := make([]string, 0, len(keys))
	for _, k := range keys {
		args = append(args, shell.Quote(k+"="+results[k]))
	}
	return c.run(ctx, "action-set", args...)
}

func (c *Client) run(ctx context.Context, tool string, args ...string) error {
	cmd := tool
	if len(args) > 0 {
		cmd += " " + strings.Join(args, " ")
	}
	if _, err := shell.ExecCmd(ctx, cmd, c.env); err != nil {
		return fmt.Errorf("%s failed: %w", tool, err)
	}
	return nil
}
