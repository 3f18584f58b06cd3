package execrule

import (
	"errors"
	"fmt"
	"time"
)

// State is the decision (or directive) a Rule carries.
type State string

const (
	// StateAllow permits execution outright.
	StateAllow State = "Allow"
	// StateBlock denies execution and notifies the user.
	StateBlock State = "Block"
	// StateSilentBlock denies execution without user notification.
	StateSilentBlock State = "SilentBlock"
	// StateAllowCompiler allows execution and marks the binary as a trusted
	// compiler whose outputs become AllowTransitive rules.
	StateAllowCompiler State = "AllowCompiler"
	// StateAllowTransitive allows execution; carries a refreshed timestamp
	// used for LRU-style expiry (§4.3.1 prune-stale-transitive).
	StateAllowTransitive State = "AllowTransitive"
	// StateAllowPendingTransitive is an AllowTransitive rule not yet
	// confirmed by the upstream sync round-trip.
	StateAllowPendingTransitive State = "AllowPendingTransitive"
	// StateAllowLocal allows execution; the rule is local-only and never
	// synced upstream (used for the critical-system-binaries seed).
	StateAllowLocal State = "AllowLocal"
	// StateCEL defers the decision to a CEL policy expression.
	StateCEL State = "CEL"
	// StateRemove is a directive, not a stored state: it deletes the
	// matching rule instead of inserting one.
	StateRemove State = "Remove"
)

// transitiveStates lists the states whose rules carry a meaningful
// timestamp and participate in prune-stale-transitive.
var transitiveStates = map[State]bool{
	StateAllowTransitive:        true,
	StateAllowPendingTransitive: true,
}

// IsTransitive reports whether s is one of the transitive-kind states.
func (s State) IsTransitive() bool {
	return transitiveStates[s]
}

// recognizedStates is the full set of valid Rule.State values.
var recognizedStates = map[State]bool{
	StateAllow: true, StateBlock: true, StateSilentBlock: true,
	StateAllowCompiler: true, StateAllowTransitive: true,
	StateAllowPendingTransitive: true, StateAllowLocal: true,
	StateCEL: true, StateRemove: true,
}

// IsRecognized reports whether s is a known state.
func (s State) IsRecognized() bool {
	return recognizedStates[s]
}

// IsSimpleAllow reports whether s is a plain Allow — used by the cache-flush
// heuristic (§4.3.3), which treats anything else (block, remove, CEL,
// compiler/transitive allows) as cache-affecting.
func (s State) IsSimpleAllow() bool {
	return s == StateAllow
}

// Error kinds named by spec.md §7. These are sentinel errors so callers can
// use errors.Is; per-rule batch errors additionally wrap the offending Rule.
var (
	// ErrEmptyBatch is returned by Upsert when called with an empty batch.
	ErrEmptyBatch = errors.New("execrule: empty batch")
	// ErrInvalidRule is returned (wrapped) for a rule missing a state or
	// identifier, or with an unrecognized state.
	ErrInvalidRule = errors.New("execrule: invalid rule")
	// ErrInvalidCELExpression is returned (wrapped) for a CEL rule whose
	// expression fails to compile. Non-fatal to the rest of the batch.
	ErrInvalidCELExpression = errors.New("execrule: invalid CEL expression")
)

// RuleError associates one of the sentinel errors above with the Rule (or
// rule index) that triggered it, so upsert can report one error per
// offending rule as spec.md requires.
type RuleError struct {
	Index int
	Rule  Rule
	Err   error
}

func (e *RuleError) Error() string {
	ident, _ := e.Rule.Identifier()
	return fmt.Sprintf("rule[%d] identifier=%q: %v", e.Index, ident, e.Err)
}

func (e *RuleError) Unwrap() error { return e.Err }

// CELValidator compiles and validates a CEL expression. Implemented by
// adapter/outbound/celrule; kept as a narrow port so execrule has no
// third-party dependency.
type CELValidator interface {
	ValidateExpression(expr string) error
}

// Rule is one entry in the Execution-Rule Store: an identifier, the decision
// state it carries, optional display fields, and bookkeeping for transitive
// expiry.
type Rule struct {
	IdentifierValue string
	IdentifierKind  Kind
	State           State

	// CustomMessage is shown to the user on block (Block/SilentBlock only,
	// display-only, ignored by all equality/hash contracts).
	CustomMessage string
	// CustomURL links to more information about the block (display-only).
	CustomURL string
	// CELExpression holds the policy-expression source when State == CEL.
	CELExpression string

	// Timestamp is seconds-since-epoch, auto-populated for transitive
	// states and refreshed whenever a lookup matches an AllowTransitive
	// rule (§4.3.1 lookup). Non-transitive rules store 0.
	Timestamp int64

	// IsStatic marks a rule sourced from the configuration overlay rather
	// than the durable store; static rules are never persisted.
	IsStatic bool
}

// Identifier returns the rule's (kind, value) pair.
func (r Rule) Identifier() (string, Kind) {
	return r.IdentifierValue, r.IdentifierKind
}

// Validate checks (a) identifier non-empty and canonical for its kind,
// (b) the state is recognized, (c) a CEL state carries a non-empty
// expression that validator can compile. Remove-directive rules only need a
// well-formed identifier — the state carries no further payload.
func (r Rule) Validate(validator CELValidator) error {
	if r.IdentifierKind == "" || r.IdentifierValue == "" {
		return ErrInvalidRule
	}
	if err := ValidateIdentifier(r.IdentifierKind, r.IdentifierValue); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	if r.State == "" || !r.State.IsRecognized() {
		return ErrInvalidRule
	}
	if r.State == StateCEL {
		if r.CELExpression == "" {
			return fmt.Errorf("%w: CEL state requires an expression", ErrInvalidCELExpression)
		}
		if validator != nil {
			if err := validator.ValidateExpression(r.CELExpression); err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidCELExpression, err)
			}
		}
	}
	return nil
}

// normalizeTimestamp fills in Timestamp for a transitive-state rule that
// didn't specify one, per §4.2(d).
func (r Rule) normalizeTimestamp(now func() time.Time) Rule {
	if r.State.IsTransitive() && r.Timestamp == 0 {
		r.Timestamp = now().UTC().Unix()
	}
	if !r.State.IsTransitive() {
		r.Timestamp = 0
	}
	return r
}

// NormalizeTimestamp applies normalizeTimestamp for store adapters outside
// this package, before a rule is stored or overlaid.
func (r Rule) NormalizeTimestamp(now func() time.Time) Rule {
	return r.normalizeTimestamp(now)
}

// Cleanup selects the pre-upsert deletion scope for a batch (§4.3.1).
type Cleanup int

const (
	// CleanupNone inserts the batch without deleting anything first.
	CleanupNone Cleanup = iota
	// CleanupAll deletes every stored rule before inserting the batch.
	CleanupAll
	// CleanupNonTransitive deletes every non-transitive stored rule before
	// inserting the batch.
	CleanupNonTransitive
)

// RulesHash is the stable digest pair consulted by the sync server to skip
// no-op pushes (§4.3.1 hash-of-hashes, §6.2).
type RulesHash struct {
	ExecutionRulesHash string
	FileAccessRulesHash string
}

// KindCounts is the operational count-by-kind report (§4.3.1).
type KindCounts struct {
	Binary      int
	Certificate int
	Compiler    int
	Transitive  int
	TeamID      int
	SigningID   int
	CDHash      int
	FileAccess  int
}
