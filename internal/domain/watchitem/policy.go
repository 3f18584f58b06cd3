package watchitem

import "fmt"

// Options are the shared behavior flags parsed from a watch item's
// config-file `Options` dict (§4.6.1).
type Options struct {
	AllowReadAccess      bool
	AuditOnly            bool
	RuleType             RuleType
	EnableSilentMode     bool
	EnableSilentTTYMode  bool
	CustomMessage        string
}

// Validate enforces the CustomMessage length cap (§4.6.1).
func (o Options) Validate() error {
	if len(o.CustomMessage) > maxCustomMsgLen {
		return fmt.Errorf("watchitem: CustomMessage exceeds %d characters", maxCustomMsgLen)
	}
	return nil
}

// DataWatchItemPolicy is a named policy over one or more filesystem paths,
// matched by literal or prefix, with an allow/deny process list (§4.6.1,
// data model table). Version is carried but left empty, per the teacher
// source's own documented limitation (§9 open question): there is presently
// no configuration surface for it.
type DataWatchItemPolicy struct {
	Name      string
	Version   string
	Paths     []PathEntry
	Options   Options
	Processes []WatchItemProcess

	// EventDetailURL and EventDetailText are display-only fields (shown in
	// a block notification); they never affect equality or decisions.
	EventDetailURL  string
	EventDetailText string
}

// Equal implements the content-equality contract of §4.6.6: everything
// except CustomMessage/EventDetailURL/EventDetailText must match, so a
// reload that only edits those fields is treated as a no-op by callers that
// dedupe on Equal.
func (p DataWatchItemPolicy) Equal(other DataWatchItemPolicy) bool {
	if p.Name != other.Name || p.Version != other.Version {
		return false
	}
	if !equalPathEntries(p.Paths, other.Paths) {
		return false
	}
	if !p.optionsEqualIgnoringMessage(other.Options) {
		return false
	}
	return equalProcesses(p.Processes, other.Processes)
}

func (p DataWatchItemPolicy) optionsEqualIgnoringMessage(o Options) bool {
	return p.Options.AllowReadAccess == o.AllowReadAccess &&
		p.Options.AuditOnly == o.AuditOnly &&
		p.Options.RuleType == o.RuleType &&
		p.Options.EnableSilentMode == o.EnableSilentMode &&
		p.Options.EnableSilentTTYMode == o.EnableSilentTTYMode
}

// HashKey is the value the content-equality contract ties hashing to: the
// policy name alone (§4.6.6 "Hash is derived from the name only"). Callers
// that need a fast map/set key combine this with Equal to resolve the
// same-name/different-body collisions the spec calls out.
func (p DataWatchItemPolicy) HashKey() string { return p.Name }

// ProcessWatchItemPolicy is a named policy keyed by process identity,
// carrying its own set of governed paths (§4.6.1).
type ProcessWatchItemPolicy struct {
	Name      string
	Version   string
	Paths     []PathEntry
	Options   Options
	Processes []WatchItemProcess

	EventDetailURL  string
	EventDetailText string
}

// Equal mirrors DataWatchItemPolicy.Equal's display-field exclusion.
func (p ProcessWatchItemPolicy) Equal(other ProcessWatchItemPolicy) bool {
	if p.Name != other.Name || p.Version != other.Version {
		return false
	}
	if !equalPathEntries(p.Paths, other.Paths) {
		return false
	}
	if !p.optionsEqualIgnoringMessage(other.Options) {
		return false
	}
	return equalProcesses(p.Processes, other.Processes)
}

func (p ProcessWatchItemPolicy) optionsEqualIgnoringMessage(o Options) bool {
	return p.Options.AllowReadAccess == o.AllowReadAccess &&
		p.Options.AuditOnly == o.AuditOnly &&
		p.Options.RuleType == o.RuleType &&
		p.Options.EnableSilentMode == o.EnableSilentMode &&
		p.Options.EnableSilentTTYMode == o.EnableSilentTTYMode
}

// HashKey mirrors DataWatchItemPolicy.HashKey.
func (p ProcessWatchItemPolicy) HashKey() string { return p.Name }

func equalPathEntries(a, b []PathEntry) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[PathEntry]int, len(a))
	for _, e := range a {
		seen[e]++
	}
	for _, e := range b {
		seen[e]--
	}
	for _, n := range seen {
		if n != 0 {
			return false
		}
	}
	return true
}

// equalProcesses compares process-matcher sets ignoring order.
// PlatformBinary is compared value-or-default (absent == false), per the
// §9 open-question decision documented in DESIGN.md.
func equalProcesses(a, b []WatchItemProcess) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[WatchItemProcess]int, len(a))
	for _, p := range a {
		seen[normalizeProcess(p)]++
	}
	for _, p := range b {
		seen[normalizeProcess(p)]--
	}
	for _, n := range seen {
		if n != 0 {
			return false
		}
	}
	return true
}

// normalizeProcess clears HasPlatformBinary/PlatformBinary combinations that
// are equivalent under the value-or-default comparison rule (§9): an absent
// flag and an explicit "false" compare equal.
func normalizeProcess(p WatchItemProcess) WatchItemProcess {
	if !p.PlatformBinary {
		p.HasPlatformBinary = false
	}
	return p
}
