package charm

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/omnivector-solutions/charm-apptainer/internal/config"
	"github.com/omnivector-solutions/charm-apptainer/internal/hooktools"
	"github.com/omnivector-solutions/charm-apptainer/internal/ospackage/debutils"
)

// fakeWorkload is an in-memory provider.Provider.
type fakeWorkload struct {
	installed  bool
	version    string
	installErr error
	removeErr  error
	upgradeErr error
	upgradeTo  string

	installs, removes, upgrades int
}

func (f *fakeWorkload) Name() string { return "apptainer" }
func (f *fakeWorkload) Init(cfg *config.GlobalConfig, env []string) error { return nil }

func (f *fakeWorkload) Install(ctx context.Context) error {
	f.installs++
	if f.installErr != nil {
		return f.installErr
	}
	f.installed = true
	if f.version == "" {
		f.version = "1.3.4-1~jammy"
	}
	return nil
}

func (f *fakeWorkload) Uninstall(ctx context.Context) error {
	f.removes++
	if f.removeErr != nil {
		return f.removeErr
	}
	f.installed = false
	f.version = ""
	return nil
}

func (f *fakeWorkload) UpgradeToLatest(ctx context.Context) error {
	f.upgrades++
	if f.upgradeErr != nil {
		return f.upgradeErr
	}
	if f.upgradeTo != "" {
		f.version = f.upgradeTo
	}
	return nil
}

func (f *fakeWorkload) Version(ctx context.Context) (string, bool) {
	if !f.installed {
		return "", false
	}
	return f.version, true
}

// fakeTools records hook tool calls.
type fakeTools struct {
	statuses      []Status
	versions      []string
	jujuLogs      []string
	actionLogs    []string
	actionResults []map[string]string
	statusErr     error
}

func (f *fakeTools) StatusSet(ctx context.Context, kind hooktools.StatusKind, message string) error {
	f.statuses = append(f.statuses, Status{Kind: kind, Message: message})
	return f.statusErr
}

func (f *fakeTools) ApplicationVersionSet(ctx context.Context, version string) error {
	f.versions = append(f.versions, version)
	return nil
}

func (f *fakeTools) JujuLog(ctx context.Context, level hooktools.LogLevel, message string) error {
	f.jujuLogs = append(f.jujuLogs, string(level)+" "+message)
	return nil
}

func (f *fakeTools) ActionLog(ctx context.Context, message string) error {
	f.actionLogs = append(f.actionLogs, message)
	return nil
}

func (f *fakeTools) ActionSet(ctx context.Context, results map[string]string) error {
	f.actionResults = append(f.actionResults, results)
	return nil
}

func (f *fakeTools) lastStatus() Status {
	if len(f.statuses) == 0 {
		return Status{}
	}
	return f.statuses[len(f.statuses)-1]
}

func newTestCharm(t *testing.T) (*Charm, *fakeWorkload, *fakeTools, *NoticeStore) {
	t.Helper()
	workload := &fakeWorkload{}
	tools := &fakeTools{}
	notices := NewNoticeStore(t.TempDir())
	return New(workload, tools, notices), workload, tools, notices
}

func pendingEvents(t *testing.T, s *NoticeStore) []string {
	t.Helper()
	notices, err := s.Load()
	if err != nil {
		t.Fatalf("failed to load notices: %v", err)
	}
	var events []string
	for _, n := range notices {
		events = append(events, n.Event)
	}
	return events
}

func TestInstallSuccess(t *testing.T) {
	c, workload, tools, notices := newTestCharm(t)

	if err := c.Run(context.Background(), "hooks/install"); err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}

	want := []Status{Waiting("Installing apptainer"), Active("Apptainer installed")}
	if len(tools.statuses) != 2 || tools.statuses[0] != want[0] || tools.statuses[1] != want[1] {
		t.Errorf("expected statuses %v, got %v", want, tools.statuses)
	}
	if len(tools.versions) != 1 || tools.versions[0] != "1.3.4-1~jammy" {
		t.Errorf("expected published version, got %v", tools.versions)
	}
	if workload.installs != 1 {
		t.Errorf("expected one install, got %d", workload.installs)
	}
	if events := pendingEvents(t, notices); len(events) != 0 {
		t.Errorf("expected nothing deferred, got %v", events)
	}
}

func TestInstallFailureBlocksAndDefers(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"not_found", &debutils.PackageError{Kind: debutils.KindNotFound, Package: "apptainer"}},
		{"operation_failed", &debutils.PackageError{Kind: debutils.KindOperationFailed, Package: "apptainer"}},
		{"other", errors.New("writing keyring: permission denied")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, workload, tools, notices := newTestCharm(t)
			workload.installErr = tt.err

			if err := c.Dispatch(context.Background(), EventInstall); err != nil {
				t.Fatalf("dispatch failed: %v", err)
			}

			if got := tools.lastStatus(); got != Blocked("Trouble installing apptainer, please debug.") {
				t.Errorf("expected blocked status, got %v", got)
			}
			if len(tools.versions) != 0 {
				t.Errorf("no version should be published, got %v", tools.versions)
			}
			if len(tools.jujuLogs) != 1 || !strings.HasPrefix(tools.jujuLogs[0], "ERROR ") {
				t.Errorf("expected an error in the unit log, got %v", tools.jujuLogs)
			}
			if events := pendingEvents(t, notices); len(events) != 1 || events[0] != "install" {
				t.Errorf("expected deferred install, got %v", events)
			}
		})
	}
}

func TestDeferredInstallIsRetried(t *testing.T) {
	c, workload, tools, notices := newTestCharm(t)
	workload.installErr = &debutils.PackageError{Kind: debutils.KindNotFound, Package: "apptainer"}

	if err := c.Dispatch(context.Background(), EventInstall); err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}

	// Still failing: the notice stays queued once and counts the attempt.
	if err := c.Run(context.Background(), "hooks/update-status"); err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	pending, _ := notices.Load()
	if len(pending) != 1 || pending[0].Attempts != 2 {
		t.Fatalf("expected one notice with two attempts, got %+v", pending)
	}

	workload.installErr = nil
	if err := c.Run(context.Background(), "hooks/update-status"); err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	if workload.installs != 3 {
		t.Errorf("expected three install attempts, got %d", workload.installs)
	}
	if got := tools.lastStatus(); got != Active("Apptainer installed") {
		t.Errorf("expected active status after retry, got %v", got)
	}
	if events := pendingEvents(t, notices); len(events) != 0 {
		t.Errorf("expected queue to drain, got %v", events)
	}
	if _, err := os.Stat(notices.Path()); !os.IsNotExist(err) {
		t.Error("expected empty queue to remove the state file")
	}
}

func TestDeferredEventsRunBeforeCurrentEvent(t *testing.T) {
	c, workload, tools, notices := newTestCharm(t)
	workload.installErr = errors.New("apt lock held")

	if err := c.Dispatch(context.Background(), EventInstall); err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	workload.installErr = nil
	tools.statuses = nil

	if err := c.Dispatch(context.Background(), EventRemove); err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}

	var messages []string
	for _, s := range tools.statuses {
		messages = append(messages, s.Message)
	}
	want := "Installing apptainer,Apptainer installed,Uninstalling apptainer,Apptainer uninstalled"
	if strings.Join(messages, ",") != want {
		t.Errorf("expected %s, got %v", want, messages)
	}
	if events := pendingEvents(t, notices); len(events) != 0 {
		t.Errorf("expected empty queue, got %v", events)
	}
}

func TestDeferredNoticeIsNotDuplicated(t *testing.T) {
	c, workload, _, notices := newTestCharm(t)
	workload.installErr = errors.New("apt lock held")

	for i := 0; i < 3; i++ {
		if err := c.Dispatch(context.Background(), EventInstall); err != nil {
			t.Fatalf("dispatch failed: %v", err)
		}
	}
	if events := pendingEvents(t, notices); len(events) != 1 {
		t.Errorf("expected a single pending install, got %v", events)
	}
}

func TestRemove(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		c, workload, tools, notices := newTestCharm(t)
		workload.installed = true

		if err := c.Run(context.Background(), "hooks/remove"); err != nil {
			t.Fatalf("dispatch failed: %v", err)
		}
		want := []Status{Waiting("Uninstalling apptainer"), Active("Apptainer uninstalled")}
		if len(tools.statuses) != 2 || tools.statuses[0] != want[0] || tools.statuses[1] != want[1] {
			t.Errorf("expected statuses %v, got %v", want, tools.statuses)
		}
		if events := pendingEvents(t, notices); len(events) != 0 {
			t.Errorf("expected nothing deferred, got %v", events)
		}
	})

	t.Run("failure", func(t *testing.T) {
		c, workload, tools, notices := newTestCharm(t)
		workload.removeErr = &debutils.PackageError{Kind: debutils.KindOperationFailed, Package: "apptainer"}

		if err := c.Run(context.Background(), "hooks/remove"); err != nil {
			t.Fatalf("dispatch failed: %v", err)
		}
		if got := tools.lastStatus(); got != Blocked("Trouble uninstalling apptainer, please debug.") {
			t.Errorf("expected blocked status, got %v", got)
		}
		if events := pendingEvents(t, notices); len(events) != 1 || events[0] != "remove" {
			t.Errorf("expected deferred remove, got %v", events)
		}
	})
}

func TestUpgrade(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		c, workload, tools, _ := newTestCharm(t)
		workload.installed = true
		workload.version = "1.3.4-1~jammy"
		workload.upgradeTo = "1.4.0-1~jammy"

		if err := c.Run(context.Background(), "actions/upgrade"); err != nil {
			t.Fatalf("dispatch failed: %v", err)
		}
		if len(tools.statuses) != 0 {
			t.Errorf("upgrade should not touch status, got %v", tools.statuses)
		}
		if len(tools.versions) != 1 || tools.versions[0] != "1.4.0-1~jammy" {
			t.Errorf("expected upgraded version published, got %v", tools.versions)
		}
		if len(tools.actionResults) != 1 || tools.actionResults[0]["version"] != "1.4.0-1~jammy" {
			t.Errorf("expected version action result, got %v", tools.actionResults)
		}
		if len(tools.actionLogs) != 0 {
			t.Errorf("unexpected action logs %v", tools.actionLogs)
		}
	})

	tests := []struct {
		name    string
		err     error
		wantLog string
	}{
		{"not_found", &debutils.PackageError{Kind: debutils.KindNotFound, Package: "apptainer"}, "apptainer not found in package cache or on system"},
		{"operation_failed", &debutils.PackageError{Kind: debutils.KindOperationFailed, Package: "apptainer"}, "could not upgrade apptainer"},
		{"other", errors.New("context canceled"), "unexpected error upgrading apptainer"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, workload, tools, notices := newTestCharm(t)
			workload.installed = true
			workload.version = "1.3.4-1~jammy"
			workload.upgradeErr = tt.err

			if err := c.Dispatch(context.Background(), EventUpgrade); err != nil {
				t.Fatalf("dispatch failed: %v", err)
			}
			if len(tools.actionLogs) != 1 || !strings.HasPrefix(tools.actionLogs[0], tt.wantLog) {
				t.Errorf("expected action log %q, got %v", tt.wantLog, tools.actionLogs)
			}
			if len(tools.versions) != 1 || tools.versions[0] != "1.3.4-1~jammy" {
				t.Errorf("expected version republished, got %v", tools.versions)
			}
			if events := pendingEvents(t, notices); len(events) != 0 {
				t.Errorf("actions are never deferred, got %v", events)
			}
		})
	}

	t.Run("not_installed", func(t *testing.T) {
		c, workload, tools, _ := newTestCharm(t)
		workload.upgradeErr = &debutils.PackageError{Kind: debutils.KindNotFound, Package: "apptainer"}

		if err := c.Dispatch(context.Background(), EventUpgrade); err != nil {
			t.Fatalf("dispatch failed: %v", err)
		}
		if len(tools.versions) != 1 || tools.versions[0] != "" {
			t.Errorf("expected version cleared, got %v", tools.versions)
		}
		if len(tools.actionResults) != 0 {
			t.Errorf("no version result expected, got %v", tools.actionResults)
		}
	})
}

func TestUnhandledEventOnlyReemits(t *testing.T) {
	c, workload, tools, _ := newTestCharm(t)

	if err := c.Run(context.Background(), "hooks/config-changed"); err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	if workload.installs+workload.removes+workload.upgrades != 0 || len(tools.statuses) != 0 {
		t.Error("unhandled events should not reach the workload")
	}
}

func TestRunRejectsBadPath(t *testing.T) {
	c, _, _, _ := newTestCharm(t)
	if err := c.Run(context.Background(), "install"); err == nil {
		t.Fatal("expected error for malformed dispatch path")
	}
}

func TestDispatchRecoversFromCorruptState(t *testing.T) {
	c, workload, tools, notices := newTestCharm(t)
	if err := os.WriteFile(notices.Path(), []byte("notices: [unterminated"), 0600); err != nil {
		t.Fatalf("write: %v", err)
	}

	if err := c.Run(context.Background(), "hooks/remove"); err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	if workload.removes != 1 {
		t.Errorf("expected remove handler to run, got %d removes", workload.removes)
	}
	if last := tools.lastStatus(); last != Active("Apptainer uninstalled") {
		t.Errorf("unexpected final status %v", last)
	}
	if _, err := os.Stat(notices.Path() + ".corrupt"); err != nil {
		t.Errorf("expected corrupt state kept aside: %v", err)
	}
}

func TestUnknownNoticesAreDropped(t *testing.T) {
	c, _, _, notices := newTestCharm(t)
	if err := notices.Save([]Notice{{ID: "a", Event: "upgrade"}, {ID: "b", Event: "bogus"}}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := c.Dispatch(context.Background(), EventUnhandled); err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	if events := pendingEvents(t, notices); len(events) != 0 {
		t.Errorf("expected unknown notices dropped, got %v", events)
	}
}

func TestStatusSetFailureIsNotFatal(t *testing.T) {
	c, workload, tools, _ := newTestCharm(t)
	tools.statusErr = errors.New("status-set failed")

	if err := c.Dispatch(context.Background(), EventInstall); err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	if !workload.installed {
		t.Error("install should proceed when status reporting fails")
	}
}

func TestInstallVersionRemoveScenario(t *testing.T) {
	c, workload, tools, _ := newTestCharm(t)
	ctx := context.Background()

	if err := c.Dispatch(ctx, EventInstall); err != nil {
		t.Fatalf("install failed: %v", err)
	}
	if !strings.Contains(tools.lastStatus().Message, "installed") {
		t.Errorf("expected installed status, got %v", tools.lastStatus())
	}
	if version, ok := workload.Version(ctx); !ok || version == "" {
		t.Error("expected a version after install")
	}

	if err := c.Dispatch(ctx, EventRemove); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if _, ok := workload.Version(ctx); ok {
		t.Error("expected no version after remove")
	}
}
