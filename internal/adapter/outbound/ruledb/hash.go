package ruledb

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// canonicalRuleLine builds the stable, order-independent-within-a-sorted-
// query representation of one rule row fed into the rules-hash digest.
func canonicalRuleLine(identifier, kind, state, celExpression string) string {
	return strings.Join([]string{kind, identifier, state, celExpression}, "\x1f")
}

// canonicalFileAccessLine builds the representation of one file-access rule
// row fed into the file-access-rules-hash digest.
func canonicalFileAccessLine(name string, detail []byte) string {
	sum := sha256.Sum256(detail)
	return name + "\x1f" + hex.EncodeToString(sum[:])
}

// hashLines digests an already-canonically-ordered set of lines into a
// single stable hex string (§4.3.1 hash-of-hashes, §6.2). This
// implementation targets the invariants of §8 (equal rulesets hash equal,
// transitive-rule churn never changes the hash) rather than bit-for-bit
// compatibility with the original implementation's digest, which is out of
// scope per spec.md §1's byte-layout non-goal.
func hashLines(lines []string) string {
	h := sha256.New()
	for _, l := range lines {
		_, _ = h.Write([]byte(l))
		_, _ = h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}
