// Package santaapi is the small in-process client surface santa-core exposes
// to an embedding kernel-extension host: one entrypoint combining the
// Execution-Rule Store, the Watch-Item Engine, and the Pending-Event Store's
// enqueue side, so a caller evaluating a process doesn't need to import all
// three adapter packages directly.
//
// There is no network transport here (spec.md §1 excludes transport as an
// external collaborator) — santaapi.Client is a thin facade over in-process
// Go interfaces, unlike the teacher's HTTP-based sdks/go client.
package santaapi

import (
	"context"
	"fmt"

	"github.com/santa-policy/core/internal/domain/execrule"
	"github.com/santa-policy/core/internal/domain/pendingevent"
	"github.com/santa-policy/core/internal/domain/watchitem"
)

// Client combines the three stores/engines a host process needs to answer
// "should this exec/file-access happen" and to record the decision for
// upstream sync.
type Client struct {
	rules   execrule.Store
	watch   watchitem.Engine
	pending pendingevent.Store
}

// Option configures a Client.
type Option func(*Client)

// WithPendingStore attaches the Pending-Event Store used by RecordExecution
// and RecordFileAccess. A Client without one returns ErrNoPendingStore from
// those methods.
func WithPendingStore(store pendingevent.Store) Option {
	return func(c *Client) { c.pending = store }
}

// New builds a Client over an already-opened Execution-Rule Store and
// Watch-Item Engine (§5 "both stores are constructed at daemon startup").
func New(rules execrule.Store, watch watchitem.Engine, opts ...Option) *Client {
	c := &Client{rules: rules, watch: watch}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ErrNoPendingStore is returned by RecordExecution/RecordFileAccess when the
// Client was built without WithPendingStore.
var ErrNoPendingStore = fmt.Errorf("santaapi: no pending-event store attached")

// DecideExecution resolves ids to the highest-precedence matching rule
// (§4.3.1). A nil Rule with a nil error means no rule matched.
func (c *Client) DecideExecution(ctx context.Context, ids execrule.IdentifierSet) (*execrule.Rule, error) {
	if sid, ok := ids.Get(execrule.KindSigningID); ok {
		if rule, ok := c.rules.CriticalSystemBinaries()[sid]; ok {
			return &rule, nil
		}
	}
	return c.rules.Lookup(ctx, ids)
}

// DecideFileAccess resolves the data-watch-item policy governing path, if
// any (§4.6.4).
func (c *Client) DecideFileAccess(path string) *watchitem.DataWatchItemPolicy {
	results := c.watch.FindPoliciesForPaths([]string{path})
	if len(results) == 0 {
		return nil
	}
	return results[0].Policy
}

// ShouldFlushDecisionCache implements the §4.8 signaling contract: a host
// process calls this with a batch before upserting it, to decide whether to
// invalidate its OS-level decision cache.
func (c *Client) ShouldFlushDecisionCache(ctx context.Context, batch []execrule.Rule) (bool, error) {
	return c.rules.ShouldFlushDecisionCache(ctx, batch)
}

// RecordExecution enqueues an execution event for upstream sync.
func (c *Client) RecordExecution(ctx context.Context, ev pendingevent.ExecutionEvent) error {
	if c.pending == nil {
		return ErrNoPendingStore
	}
	return c.pending.Add(ctx, pendingevent.StoredEvent{Kind: pendingevent.KindExecution, Execution: &ev})
}

// RecordFileAccess enqueues a file-access event for upstream sync.
func (c *Client) RecordFileAccess(ctx context.Context, ev pendingevent.FileAccessEvent) error {
	if c.pending == nil {
		return ErrNoPendingStore
	}
	return c.pending.Add(ctx, pendingevent.StoredEvent{Kind: pendingevent.KindFileAccess, FileAccess: &ev})
}
