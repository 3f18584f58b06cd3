package watchengine

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"github.com/santa-policy/core/internal/adapter/outbound/prefixtree"
	"github.com/santa-policy/core/internal/domain/watchitem"
)

// generation is one atomically-swappable snapshot of the engine's compiled
// state (§4.6.4, §4.6.5). It is built once by build() and never mutated
// after publication — concurrent readers only ever see a fully-formed value.
type generation struct {
	id            string // correlation id for log lines spanning one reload, not part of any equality/hash contract
	version       string
	configPath    string
	loadEpoch     int64
	dataTree      *prefixtree.Tree[*watchitem.DataWatchItemPolicy]
	dataPolicies  []watchitem.DataWatchItemPolicy
	processPolicy []watchitem.ProcessWatchItemPolicy
	watchedPaths  map[string]struct{}
	ruleCount     int
}

// build compiles a parsedPolicies value into a generation, glob-expanding
// every data-policy path against the live filesystem (§4.6.4 "the configured
// path is glob-expanded... and each expansion inserted"). warnings reports
// any same-name, different-body policy collisions detected along the way
// (§4.6.6): the later-sorted policy wins the tree slot.
func build(parsed parsedPolicies, configPath string, loadEpoch int64, expand globExpander) (gen generation, warnings []string) {
	tree := prefixtree.New[*watchitem.DataWatchItemPolicy]()
	watched := make(map[string]struct{})

	dataPolicies := make([]watchitem.DataWatchItemPolicy, len(parsed.Data))
	copy(dataPolicies, parsed.Data)
	sort.Slice(dataPolicies, func(i, j int) bool { return dataPolicies[i].Name < dataPolicies[j].Name })
	warnings = append(warnings, collisionWarnings(dataPolicies)...)

	ruleCount := len(dataPolicies) + len(parsed.Process)

	for i := range dataPolicies {
		p := &dataPolicies[i]
		for _, entry := range p.Paths {
			for _, expanded := range expand(entry.Path) {
				watched[expanded] = struct{}{}
				switch entry.PathType {
				case watchitem.PathPrefix:
					tree.InsertPrefix(expanded, p)
				default:
					tree.InsertLiteral(expanded, p)
				}
			}
		}
	}

	processPolicies := make([]watchitem.ProcessWatchItemPolicy, len(parsed.Process))
	copy(processPolicies, parsed.Process)
	sort.Slice(processPolicies, func(i, j int) bool { return processPolicies[i].Name < processPolicies[j].Name })

	return generation{
		id:            uuid.NewString(),
		version:       parsed.Version,
		configPath:    configPath,
		loadEpoch:     loadEpoch,
		dataTree:      tree,
		dataPolicies:  dataPolicies,
		processPolicy: processPolicies,
		watchedPaths:  watched,
		ruleCount:     ruleCount,
	}, warnings
}

// collisionWarnings flags policies sharing a HashKey (name) whose bodies
// differ (§4.6.6): such a config is ambiguous about which body should win,
// so both the fingerprint and a content Equal check are used to avoid
// flagging true duplicates (identical-body re-declarations are silent).
func collisionWarnings(policies []watchitem.DataWatchItemPolicy) []string {
	seen := make(map[uint64]watchitem.DataWatchItemPolicy, len(policies))
	var warnings []string
	for _, p := range policies {
		fp := policyFingerprint(p.HashKey())
		if prior, ok := seen[fp]; ok && !prior.Equal(p) {
			warnings = append(warnings, fmt.Sprintf("watch item %q redeclared with different content", p.Name))
		}
		seen[fp] = p
	}
	return warnings
}

// globExpander expands a single configured path pattern (possibly
// containing '*' single-segment wildcards) into the concrete paths present
// on disk at build time.
type globExpander func(pattern string) []string

// filesystemGlobExpander expands via filepath.Glob, whose '*' semantics
// (any run of non-separator bytes) match the single-segment wildcard
// described in §4.6.1. A pattern that matches nothing on disk — wildcarded
// or not — contributes no entries to this generation; this is a known
// surprise (a not-yet-installed app's path isn't watched until it exists and
// a reload re-expands it) but matches source behavior (§9 design notes), so
// it is preserved rather than "fixed" into watching the literal pattern.
func filesystemGlobExpander(pattern string) []string {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil
	}
	return matches
}

// diff computes the added/removed watched-path sets between two
// generations (§4.6.5 step 5).
func diff(prev, next generation) watchitem.PathSetDelta {
	var delta watchitem.PathSetDelta
	for p := range next.watchedPaths {
		if _, ok := prev.watchedPaths[p]; !ok {
			delta.AddedPaths = append(delta.AddedPaths, p)
		}
	}
	for p := range prev.watchedPaths {
		if _, ok := next.watchedPaths[p]; !ok {
			delta.RemovedPaths = append(delta.RemovedPaths, p)
		}
	}
	sort.Strings(delta.AddedPaths)
	sort.Strings(delta.RemovedPaths)
	return delta
}

// policyFingerprint is the xxhash-based shared-policy identity of §4.6.6:
// two policies with the same HashKey (name) collapse to the same bucket,
// and Equal resolves same-name/different-body collisions within it.
func policyFingerprint(name string) uint64 {
	return xxhash.Sum64String(name)
}
