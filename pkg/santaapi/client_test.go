package santaapi

import (
	"context"
	"testing"
	"time"

	"github.com/santa-policy/core/internal/domain/execrule"
	"github.com/santa-policy/core/internal/domain/pendingevent"
	"github.com/santa-policy/core/internal/domain/watchitem"
)

type fakeRuleStore struct {
	lookupResult *execrule.Rule
	critical     map[string]execrule.Rule
	flush        bool
}

func (f *fakeRuleStore) Upsert(ctx context.Context, batch []execrule.Rule, cleanup execrule.Cleanup) (execrule.UpsertResult, error) {
	return execrule.UpsertResult{}, nil
}
func (f *fakeRuleStore) UpsertFileAccessRules(ctx context.Context, batch []watchitem.FileAccessRule) (execrule.UpsertResult, error) {
	return execrule.UpsertResult{}, nil
}
func (f *fakeRuleStore) Lookup(ctx context.Context, ids execrule.IdentifierSet) (*execrule.Rule, error) {
	return f.lookupResult, nil
}
func (f *fakeRuleStore) CountByKind(ctx context.Context) (execrule.KindCounts, error) {
	return execrule.KindCounts{}, nil
}
func (f *fakeRuleStore) RetrieveAll(ctx context.Context) ([]execrule.Rule, error) { return nil, nil }
func (f *fakeRuleStore) PruneStaleTransitive(ctx context.Context) (int, error)    { return 0, nil }
func (f *fakeRuleStore) UpdateStaticRules(rules []execrule.Rule) error            { return nil }
func (f *fakeRuleStore) HashOfHashes(ctx context.Context) (execrule.RulesHash, error) {
	return execrule.RulesHash{}, nil
}
func (f *fakeRuleStore) ShouldFlushDecisionCache(ctx context.Context, batch []execrule.Rule) (bool, error) {
	return f.flush, nil
}
func (f *fakeRuleStore) CriticalSystemBinaries() map[string]execrule.Rule { return f.critical }
func (f *fakeRuleStore) SetFileAccessRuleChangeCallback(cb watchitem.RuleChangeCallback) {}
func (f *fakeRuleStore) Close() error                                     { return nil }

var _ execrule.Store = (*fakeRuleStore)(nil)

type fakeEngine struct {
	result []watchitem.PathLookupResult
}

func (f *fakeEngine) FindPoliciesForPaths(paths []string) []watchitem.PathLookupResult { return f.result }
func (f *fakeEngine) IterateProcessPolicies(fn func(watchitem.ProcessWatchItemPolicy) bool) {}
func (f *fakeEngine) State() watchitem.EngineState                                          { return watchitem.EngineState{} }
func (f *fakeEngine) Reload(ctx context.Context) error                                      { return nil }
func (f *fakeEngine) RegisterDataObserver(watchitem.DataObserver)                            {}
func (f *fakeEngine) RegisterProcessObserver(watchitem.ProcessObserver)                      {}

var _ watchitem.Engine = (*fakeEngine)(nil)

type fakePendingStore struct {
	added []pendingevent.StoredEvent
}

func (f *fakePendingStore) Add(ctx context.Context, events ...pendingevent.StoredEvent) error {
	f.added = append(f.added, events...)
	return nil
}
func (f *fakePendingStore) PendingCount(ctx context.Context) (int, error) { return len(f.added), nil }
func (f *fakePendingStore) Pending(ctx context.Context) ([]pendingevent.StoredEvent, error) {
	return f.added, nil
}
func (f *fakePendingStore) DeleteByID(ctx context.Context, index int64) error   { return nil }
func (f *fakePendingStore) DeleteByIDs(ctx context.Context, indices []int64) error { return nil }
func (f *fakePendingStore) Close() error                                        { return nil }

var _ pendingevent.Store = (*fakePendingStore)(nil)

func TestClient_DecideExecution_CriticalBinaryBypassesLookup(t *testing.T) {
	t.Parallel()

	rules := &fakeRuleStore{
		critical: map[string]execrule.Rule{
			"platform:com.apple.launchd": {IdentifierKind: execrule.KindSigningID, IdentifierValue: "platform:com.apple.launchd", State: execrule.StateAllowLocal},
		},
	}
	c := New(rules, &fakeEngine{})

	rule, err := c.DecideExecution(context.Background(), execrule.IdentifierSet{SigningID: "platform:com.apple.launchd"})
	if err != nil {
		t.Fatalf("DecideExecution() error: %v", err)
	}
	if rule == nil || rule.State != execrule.StateAllowLocal {
		t.Fatalf("DecideExecution() = %+v, want AllowLocal critical-binary rule", rule)
	}
}

func TestClient_DecideExecution_FallsBackToStoreLookup(t *testing.T) {
	t.Parallel()

	want := &execrule.Rule{IdentifierKind: execrule.KindBinaryHash, IdentifierValue: "deadbeef", State: execrule.StateBlock}
	c := New(&fakeRuleStore{lookupResult: want}, &fakeEngine{})

	rule, err := c.DecideExecution(context.Background(), execrule.IdentifierSet{BinaryHash: "deadbeef"})
	if err != nil {
		t.Fatalf("DecideExecution() error: %v", err)
	}
	if rule != want {
		t.Fatalf("DecideExecution() = %+v, want %+v", rule, want)
	}
}

func TestClient_DecideFileAccess(t *testing.T) {
	t.Parallel()

	policy := &watchitem.DataWatchItemPolicy{Name: "protect-ssh"}
	engine := &fakeEngine{result: []watchitem.PathLookupResult{{Version: "1", Policy: policy}}}
	c := New(&fakeRuleStore{}, engine)

	got := c.DecideFileAccess("/etc/ssh/sshd_config")
	if got != policy {
		t.Fatalf("DecideFileAccess() = %+v, want %+v", got, policy)
	}
}

func TestClient_RecordExecution_RequiresPendingStore(t *testing.T) {
	t.Parallel()

	c := New(&fakeRuleStore{}, &fakeEngine{})
	err := c.RecordExecution(context.Background(), pendingevent.ExecutionEvent{})
	if err != ErrNoPendingStore {
		t.Fatalf("RecordExecution() error = %v, want ErrNoPendingStore", err)
	}
}

func TestClient_RecordExecution_Enqueues(t *testing.T) {
	t.Parallel()

	pending := &fakePendingStore{}
	c := New(&fakeRuleStore{}, &fakeEngine{}, WithPendingStore(pending))

	ev := pendingevent.ExecutionEvent{
		FileSHA256: "a1b2",
		FilePath:   "/usr/bin/evil",
		OccurredAt: time.Now(),
		Decision:   "Block",
	}
	if err := c.RecordExecution(context.Background(), ev); err != nil {
		t.Fatalf("RecordExecution() error: %v", err)
	}
	if len(pending.added) != 1 || pending.added[0].Kind != pendingevent.KindExecution {
		t.Fatalf("RecordExecution() did not enqueue the expected event, got %+v", pending.added)
	}
}

func TestClient_ShouldFlushDecisionCache(t *testing.T) {
	t.Parallel()

	c := New(&fakeRuleStore{flush: true}, &fakeEngine{})
	flush, err := c.ShouldFlushDecisionCache(context.Background(), nil)
	if err != nil {
		t.Fatalf("ShouldFlushDecisionCache() error: %v", err)
	}
	if !flush {
		t.Fatal("ShouldFlushDecisionCache() = false, want true")
	}
}
