// Package execrule contains domain types and ports for the execution-rule
// policy decision engine: identifiers, rules, and the store that resolves a
// process identity to a decision.
package execrule

import (
	"fmt"
	"regexp"
)

// Kind identifies which of the five identifier axes a Rule matches, or
// (for the file-access case) that the record isn't an execution rule at all.
type Kind string

const (
	// KindBinaryHash matches the SHA-256 of the executed binary.
	KindBinaryHash Kind = "binary-hash"
	// KindCDHash matches the code directory hash Apple's code-signing attaches.
	KindCDHash Kind = "cdhash"
	// KindSigningID matches a team-qualified signing identifier.
	KindSigningID Kind = "signing-id"
	// KindCertificateHash matches the SHA-256 of the leaf signing certificate.
	KindCertificateHash Kind = "certificate-hash"
	// KindTeamID matches the 10-character Apple Developer Team ID.
	KindTeamID Kind = "team-id"
)

// PrecedenceOrder is the contractual lookup precedence (§4.3.1): the first
// kind in this slice that has both a populated IdentifierSet field and a
// matching stored/static rule wins. Callers must never reorder this.
var PrecedenceOrder = []Kind{
	KindCDHash,
	KindBinaryHash,
	KindSigningID,
	KindCertificateHash,
	KindTeamID,
}

var (
	sha256HexPattern  = regexp.MustCompile(`^[0-9a-f]{64}$`)
	cdhashHexPattern  = regexp.MustCompile(`^[0-9a-f]{40}$`)
	teamIDPattern     = regexp.MustCompile(`^[A-Z0-9]{10}$`)
	signingIDPattern  = regexp.MustCompile(`^(?:[A-Z0-9]{10}|platform):.+$`)
	wildcardCountRune = '*'
)

// ErrInvalidIdentifier is returned when an identifier value does not match
// the canonical form for its Kind.
type ErrInvalidIdentifier struct {
	Kind  Kind
	Value string
}

func (e *ErrInvalidIdentifier) Error() string {
	return fmt.Sprintf("invalid %s identifier: %q", e.Kind, e.Value)
}

// ValidateIdentifier checks that value is in canonical form for kind:
// lowercase hex for hashes, uppercase alnum (or "platform") for team-id, and
// the "<team-or-platform>:<sid>" wire form (with at most one '*') for
// signing-id.
func ValidateIdentifier(kind Kind, value string) error {
	if value == "" {
		return &ErrInvalidIdentifier{Kind: kind, Value: value}
	}

	switch kind {
	case KindBinaryHash, KindCertificateHash:
		if !sha256HexPattern.MatchString(value) {
			return &ErrInvalidIdentifier{Kind: kind, Value: value}
		}
	case KindCDHash:
		if !cdhashHexPattern.MatchString(value) {
			return &ErrInvalidIdentifier{Kind: kind, Value: value}
		}
	case KindTeamID:
		if value != "platform" && !teamIDPattern.MatchString(value) {
			return &ErrInvalidIdentifier{Kind: kind, Value: value}
		}
	case KindSigningID:
		if !signingIDPattern.MatchString(value) {
			return &ErrInvalidIdentifier{Kind: kind, Value: value}
		}
		if countRune(value, wildcardCountRune) > 1 {
			return &ErrInvalidIdentifier{Kind: kind, Value: value}
		}
	default:
		return &ErrInvalidIdentifier{Kind: kind, Value: value}
	}
	return nil
}

func countRune(s string, r rune) int {
	n := 0
	for _, c := range s {
		if c == r {
			n++
		}
	}
	return n
}

// IdentifierSet aggregates the (optional) identifying strings for the
// process under evaluation. A lookup consults the fields in PrecedenceOrder.
// The set is read-only once built.
type IdentifierSet struct {
	CDHash          string
	BinaryHash      string
	SigningID       string
	CertificateHash string
	TeamID          string
}

// Get returns the value of the identifier for the given kind, and whether it
// is populated.
func (s IdentifierSet) Get(kind Kind) (string, bool) {
	var v string
	switch kind {
	case KindCDHash:
		v = s.CDHash
	case KindBinaryHash:
		v = s.BinaryHash
	case KindSigningID:
		v = s.SigningID
	case KindCertificateHash:
		v = s.CertificateHash
	case KindTeamID:
		v = s.TeamID
	}
	return v, v != ""
}
