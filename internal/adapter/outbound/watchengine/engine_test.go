package watchengine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/santa-policy/core/internal/domain/watchitem"
)

func writeConfig(t *testing.T, dir, doc string) string {
	t.Helper()
	path := filepath.Join(dir, "watch.yaml")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("os.WriteFile() error: %v", err)
	}
	return path
}

func TestNew_MissingConfigStartsEmpty(t *testing.T) {
	t.Parallel()

	e, err := New(filepath.Join(t.TempDir(), "does-not-exist.yaml"), 0, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	state := e.State()
	if state.RuleCount != 0 {
		t.Fatalf("State().RuleCount = %d, want 0 for a missing config", state.RuleCount)
	}
}

func TestNew_LoadsInitialGeneration(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeConfig(t, dir, `
Version: "1"
WatchItems:
  protect_ssh:
    Paths:
      - /etc/ssh
`)

	e, err := New(path, 0, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	state := e.State()
	if state.RuleCount != 1 || state.Version != "1" {
		t.Fatalf("State() = %+v, want RuleCount=1 Version=1", state)
	}

	results := e.FindPoliciesForPaths([]string{"/etc/ssh/sshd_config", "/etc/other"})
	if len(results) != 2 {
		t.Fatalf("FindPoliciesForPaths() returned %d results, want 2", len(results))
	}
	if results[0].Policy == nil || results[0].Policy.Name != "protect_ssh" {
		t.Fatalf("FindPoliciesForPaths()[0] = %+v, want protect_ssh match", results[0])
	}
	if results[1].Policy != nil {
		t.Fatalf("FindPoliciesForPaths()[1] = %+v, want no match", results[1])
	}
}

func TestReload_NotifiesObserversOnPathChange(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeConfig(t, dir, `
Version: "1"
WatchItems:
  protect_ssh:
    Paths:
      - /etc/ssh
`)

	e, err := New(path, 0, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	var gotDelta watchitem.PathSetDelta
	notified := make(chan struct{}, 1)
	e.RegisterDataObserver(dataObserverFunc(func(delta watchitem.PathSetDelta) {
		gotDelta = delta
		notified <- struct{}{}
	}))

	if err := os.WriteFile(path, []byte(`
Version: "2"
WatchItems:
  protect_ssh:
    Paths:
      - /etc/ssh
      - /etc/sudoers
`), 0o644); err != nil {
		t.Fatalf("os.WriteFile() error: %v", err)
	}

	if err := e.Reload(context.Background()); err != nil {
		t.Fatalf("Reload() error: %v", err)
	}

	select {
	case <-notified:
	default:
		t.Fatal("Reload() did not notify the registered data observer")
	}
	if len(gotDelta.AddedPaths) != 1 || gotDelta.AddedPaths[0] != "/etc/sudoers" {
		t.Fatalf("delta.AddedPaths = %v, want [/etc/sudoers]", gotDelta.AddedPaths)
	}
}

func TestReload_ParseErrorLeavesGenerationIntact(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeConfig(t, dir, `
Version: "1"
WatchItems:
  protect_ssh:
    Paths:
      - /etc/ssh
`)

	e, err := New(path, 0, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	if err := os.WriteFile(path, []byte("not: [valid yaml"), 0o644); err != nil {
		t.Fatalf("os.WriteFile() error: %v", err)
	}

	if err := e.Reload(context.Background()); err == nil {
		t.Fatal("Reload() with malformed YAML = nil error, want error")
	}

	state := e.State()
	if state.RuleCount != 1 {
		t.Fatalf("State().RuleCount = %d after failed reload, want 1 (unchanged)", state.RuleCount)
	}
}

func TestStartReloadLoop_StopsCleanly(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	path := writeConfig(t, dir, `
Version: "1"
WatchItems: {}
`)

	e, err := New(path, 50*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	stop := e.StartReloadLoop(context.Background())
	time.Sleep(120 * time.Millisecond)
	stop()
}

type dataObserverFunc func(watchitem.PathSetDelta)

func (f dataObserverFunc) OnDataPathsChanged(delta watchitem.PathSetDelta) { f(delta) }
