package execrule

import (
	"context"

	"github.com/santa-policy/core/internal/domain/watchitem"
)

// UpsertResult reports the outcome of a batch upsert. A non-empty Errors
// slice means the batch was rejected in its entirety, whatever the cleanup
// mode, except for the one explicitly non-fatal case: an invalid
// CEL rule, which is dropped and reported while the rest of the batch
// commits (§4.3.1, §7).
type UpsertResult struct {
	Inserted int
	Errors   []error
}

// OK reports whether the batch committed (ignoring dropped-CEL warnings).
func (r UpsertResult) OK() bool { return len(r.Errors) == 0 || r.Inserted > 0 }

// Store is the durable, multi-identifier-indexed Execution-Rule Store
// (§4.3). Implementations must give callers linearizable writes per store
// and monotonic-generation reads (§5).
type Store interface {
	// Upsert applies a batch transactionally (modulo the CEL exception
	// above): all other invalid rules reject the whole batch.
	Upsert(ctx context.Context, batch []Rule, cleanup Cleanup) (UpsertResult, error)

	// UpsertFileAccessRules applies a batch of file-access rule directives
	// to the file_access_rules table (§4.3.2), invoking the registered
	// RuleChangeCallback with the new count on success.
	UpsertFileAccessRules(ctx context.Context, batch []watchitem.FileAccessRule) (UpsertResult, error)

	// Lookup resolves an IdentifierSet to the highest-precedence matching
	// rule, consulting the static overlay first (§4.3.1). A matched
	// AllowTransitive rule has its timestamp refreshed as a side effect.
	Lookup(ctx context.Context, ids IdentifierSet) (*Rule, error)

	// CountByKind reports operational counts (§4.3.1).
	CountByKind(ctx context.Context) (KindCounts, error)

	// RetrieveAll exports every stored rule in an order stable enough that
	// re-importing reproduces the same HashOfHashes value (§6.2).
	RetrieveAll(ctx context.Context) ([]Rule, error)

	// PruneStaleTransitive removes transitive rules older than the
	// retention window, returning the number removed.
	PruneStaleTransitive(ctx context.Context) (int, error)

	// UpdateStaticRules atomically replaces the static overlay.
	UpdateStaticRules(rules []Rule) error

	// HashOfHashes digests the non-transitive execution rules and the
	// file-access rules (§4.3.1, §6.2).
	HashOfHashes(ctx context.Context) (RulesHash, error)

	// ShouldFlushDecisionCache implements §4.3.3's heuristic against the
	// rules a batch would commit. It compares the batch with the rules
	// currently stored, so callers evaluate it before the Upsert.
	ShouldFlushDecisionCache(ctx context.Context, batch []Rule) (bool, error)

	// CriticalSystemBinaries returns the hard-coded, startup-seeded map of
	// signing-ids that bypass store lookup entirely (§4.3.1, GLOSSARY).
	CriticalSystemBinaries() map[string]Rule

	// SetFileAccessRuleChangeCallback registers the observer invoked by
	// UpsertFileAccessRules.
	SetFileAccessRuleChangeCallback(cb watchitem.RuleChangeCallback)

	// Close releases the underlying database handle.
	Close() error
}
