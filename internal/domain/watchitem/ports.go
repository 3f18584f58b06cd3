package watchitem

import (
	"context"
	"time"
)

// PathLookupResult is one entry of a FindPoliciesForPaths response: the
// generation version active at lookup time, and the matched policy (nil if
// no data policy governs the path).
type PathLookupResult struct {
	Version string
	Policy  *DataWatchItemPolicy
}

// EngineState reports the currently-active generation (§4.6.4 State()).
type EngineState struct {
	RuleCount     int
	Version       string
	ConfigPath    string
	LastLoadEpoch int64
}

// PathSetDelta is the set-difference of watched paths between two
// generations (§4.6.5 step 5, §6.5), used to (de)register with the OS event
// source.
type PathSetDelta struct {
	AddedPaths   []string
	RemovedPaths []string
}

// DataObserver is notified of the path-set delta after a reload that
// changes data-watch-item paths.
type DataObserver interface {
	OnDataPathsChanged(delta PathSetDelta)
}

// ProcessObserver is notified with the full current set of process
// policies after a reload.
type ProcessObserver interface {
	OnProcessPoliciesChanged(policies []ProcessWatchItemPolicy)
}

// RuleChangeCallback is invoked whenever a batch mutates the file-access
// rule subset in the Execution-Rule Store (§4.3.1, §6.5), with the new
// total count.
type RuleChangeCallback func(newCount int)

// Engine owns the currently-active generation of data and process watch-item
// policies (§4.6) and answers lookups.
type Engine interface {
	// FindPoliciesForPaths returns one result per input path, preserving
	// order (§4.6.4).
	FindPoliciesForPaths(paths []string) []PathLookupResult

	// IterateProcessPolicies invokes fn on each process policy until fn
	// returns stop=true.
	IterateProcessPolicies(fn func(ProcessWatchItemPolicy) (stop bool))

	// State reports the engine's current generation metadata.
	State() EngineState

	// Reload re-reads the configuration source and, if it parses cleanly,
	// atomically swaps in a new generation (§4.6.5). A parse error leaves
	// the current generation intact and is returned to the caller for
	// logging; it is not otherwise fatal.
	Reload(ctx context.Context) error

	// RegisterDataObserver/RegisterProcessObserver attach delta/snapshot
	// observers (§6.5). Process observers are notified on every successful
	// Reload; data observers only when the watched path set changed.
	RegisterDataObserver(DataObserver)
	RegisterProcessObserver(ProcessObserver)
}

// ReloadInterval bounds for the periodic reload timer (§4.6.5).
const (
	DefaultReloadInterval = 10 * time.Second
	MinReloadInterval     = 1 * time.Second
	MaxReloadInterval     = 5 * time.Minute
)

// ClampReloadInterval enforces the "clamped to a sane range" language of
// §4.6.5.
func ClampReloadInterval(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultReloadInterval
	}
	if d < MinReloadInterval {
		return MinReloadInterval
	}
	if d > MaxReloadInterval {
		return MaxReloadInterval
	}
	return d
}
