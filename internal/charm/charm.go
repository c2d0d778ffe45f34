// Package charm maps Juju lifecycle events onto workload provider calls and
// reports the outcome back through the hook tools.
package charm

import (
	"context"
	"fmt"
	"strings"

	"github.com/omnivector-solutions/charm-apptainer/internal/hooktools"
	"github.com/omnivector-solutions/charm-apptainer/internal/ospackage/debutils"
	"github.com/omnivector-solutions/charm-apptainer/internal/provider"
	"github.com/omnivector-solutions/charm-apptainer/internal/utils/logger"
)

// HookTools is the subset of hook tools the dispatcher talks to.
type HookTools interface {
	StatusSet(ctx context.Context, kind hooktools.StatusKind, message string) error
	ApplicationVersionSet(ctx context.Context, version string) error
	JujuLog(ctx context.Context, level hooktools.LogLevel, message string) error
	ActionLog(ctx context.Context, message string) error
	ActionSet(ctx context.Context, results map[string]string) error
}

type handler func(ctx context.Context) Result

// Charm dispatches lifecycle events to the workload provider.
type Charm struct {
	workload provider.Provider
	tools    HookTools
	notices  *NoticeStore
	handlers map[EventKind]handler
}

// New wires the dispatch table for workload.
func New(workload provider.Provider, tools HookTools, notices *NoticeStore) *Charm {
	c := &Charm{
		workload: workload,
		tools:    tools,
		notices:  notices,
	}
	c.handlers = map[EventKind]handler{
		EventInstall: c.onInstall,
		EventRemove:  c.onRemove,
		EventUpgrade: c.onUpgrade,
	}
	return c
}

// Dispatch re-runs deferred events, oldest first, and then handles kind.
// Failures of the workload end up in the unit status, so the returned error
// only covers the deferred-event store.
func (c *Charm) Dispatch(ctx context.Context, kind EventKind) error {
	log := logger.Logger()

	if err := c.reemit(ctx); err != nil {
		return err
	}

	h, ok := c.handlers[kind]
	if !ok {
		log.Debugf("No handler for %s event", kind)
		return nil
	}

	log.Infof("Handling %s event", kind)
	res := h(ctx)
	c.apply(ctx, res.Status)

	if res.Defer {
		if kind.IsAction() {
			log.Warnf("Ignoring deferral of %s action", kind)
			return nil
		}
		n, err := c.notices.Add(kind)
		if err != nil {
			return fmt.Errorf("deferring %s event: %w", kind, err)
		}
		log.Infof("Deferred %s event (notice %s)", kind, n.ID)
	}
	return nil
}

// reemit runs every pending notice. Notices whose handler defers again stay
// queued in their original order.
func (c *Charm) reemit(ctx context.Context) error {
	log := logger.Logger()

	pending, err := c.notices.Load()
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}
	log.Debugf("Loaded %d deferred notices from %s", len(pending), c.notices.Path())

	var keep []Notice
	for _, n := range pending {
		kind, err := ParseEventKind(n.Event)
		h, ok := c.handlers[kind]
		if err != nil || !ok || kind.IsAction() {
			log.Warnf("Dropping deferred notice %s for unknown event %q", n.ID, n.Event)
			continue
		}

		log.Infof("Re-running deferred %s event (notice %s, attempt %d)", kind, n.ID, n.Attempts+1)
		res := h(ctx)
		c.apply(ctx, res.Status)
		if res.Defer {
			n.Attempts++
			keep = append(keep, n)
		}
	}
	return c.notices.Save(keep)
}

func (c *Charm) apply(ctx context.Context, status Status) {
	if status.IsZero() {
		return
	}
	c.setStatus(ctx, status)
}

func (c *Charm) setStatus(ctx context.Context, status Status) {
	if err := c.tools.StatusSet(ctx, status.Kind, status.Message); err != nil {
		logger.Logger().Errorf("Could not set status %q: %v", status, err)
	}
}

// setVersion publishes the installed workload version, or clears it when the
// package is absent.
func (c *Charm) setVersion(ctx context.Context) (string, bool) {
	version, ok := c.workload.Version(ctx)
	if err := c.tools.ApplicationVersionSet(ctx, version); err != nil {
		logger.Logger().Errorf("Could not set workload version: %v", err)
	}
	return version, ok
}

func (c *Charm) onInstall(ctx context.Context) Result {
	log := logger.Logger()
	name := c.workload.Name()

	c.setStatus(ctx, Waiting("Installing "+name))
	if err := c.workload.Install(ctx); err != nil {
		log.Errorf("Install of %s failed: %v", name, err)
		c.jujuLog(ctx, hooktools.LevelError, fmt.Sprintf("install of %s failed: %v", name, err))
		return Result{
			Status: Blocked(fmt.Sprintf("Trouble installing %s, please debug.", name)),
			Defer:  true,
		}
	}

	c.setVersion(ctx)
	return Result{Status: Active(capitalize(name) + " installed")}
}

func (c *Charm) onRemove(ctx context.Context) Result {
	log := logger.Logger()
	name := c.workload.Name()

	c.setStatus(ctx, Waiting("Uninstalling "+name))
	if err := c.workload.Uninstall(ctx); err != nil {
		log.Errorf("Uninstall of %s failed: %v", name, err)
		c.jujuLog(ctx, hooktools.LevelError, fmt.Sprintf("uninstall of %s failed: %v", name, err))
		return Result{
			Status: Blocked(fmt.Sprintf("Trouble uninstalling %s, please debug.", name)),
			Defer:  true,
		}
	}
	return Result{Status: Active(capitalize(name) + " uninstalled")}
}

func (c *Charm) onUpgrade(ctx context.Context) Result {
	log := logger.Logger()
	name := c.workload.Name()

	if err := c.workload.UpgradeToLatest(ctx); err != nil {
		var msg string
		switch debutils.KindOf(err) {
		case debutils.KindNotFound:
			msg = fmt.Sprintf("%s not found in package cache or on system", name)
		case debutils.KindOperationFailed:
			msg = fmt.Sprintf("could not upgrade %s: %v", name, err)
		default:
			msg = fmt.Sprintf("unexpected error upgrading %s: %v", name, err)
		}
		log.Errorf("Upgrade failed: %s", msg)
		if err := c.tools.ActionLog(ctx, msg); err != nil {
			log.Errorf("Could not log action progress: %v", err)
		}
	}

	version, ok := c.setVersion(ctx)
	if ok {
		if err := c.tools.ActionSet(ctx, map[string]string{"version": version}); err != nil {
			log.Errorf("Could not set action result: %v", err)
		}
	}
	return Result{}
}

func (c *Charm) jujuLog(ctx context.Context, level hooktools.LogLevel, msg string) {
	if err := c.tools.JujuLog(ctx, level, msg); err != nil {
		logger.Logger().Debugf("juju-log failed: %v", err)
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// Run parses a dispatch path such as "hooks/install" and dispatches the
// resulting event.
func (c *Charm) Run(ctx context.Context, path string) error {
	kind, err := ParseDispatchPath(path)
	if err != nil {
		return err
	}
	return c.Dispatch(ctx, kind)
}
