package watchitem

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	maxBinaryPathLen = 1024 // PATH_MAX on Darwin
	maxSigningIDLen  = 512
	maxCustomMsgLen  = 2048
)

var teamIDBare = regexp.MustCompile(`^[A-Za-z0-9]{10}$`)

// Validate checks the process-matcher rules of §4.6.2: at least one field
// set, length limits, and the signing-id/team-id wildcard pairing.
func (p WatchItemProcess) Validate() error {
	if !p.hasAnyField() {
		return fmt.Errorf("watchitem: process matcher must set at least one field")
	}
	if len(p.BinaryPath) > maxBinaryPathLen {
		return fmt.Errorf("watchitem: BinaryPath exceeds %d characters", maxBinaryPathLen)
	}
	if len(p.SigningID) > maxSigningIDLen {
		return fmt.Errorf("watchitem: SigningID exceeds %d characters", maxSigningIDLen)
	}
	if p.SigningID != "" {
		if strings.Count(p.SigningID, "*") > 1 {
			return fmt.Errorf("watchitem: SigningID may contain at most one '*'")
		}
		if strings.Contains(p.SigningID, "*") {
			teamID, _, split := SplitSigningID(p.SigningID)
			if !split && p.TeamID == "" {
				return fmt.Errorf("watchitem: wildcarded SigningID requires a TeamID (explicit or embedded)")
			}
			if split && teamID == "" {
				return fmt.Errorf("watchitem: wildcarded SigningID requires a non-empty team-id prefix")
			}
		}
	}
	if p.TeamID != "" && p.TeamID != "platform" && !teamIDBare.MatchString(p.TeamID) {
		return fmt.Errorf("watchitem: TeamID must be 10 alphanumeric characters or %q", "platform")
	}
	return nil
}

func (p WatchItemProcess) hasAnyField() bool {
	return p.BinaryPath != "" || p.SigningID != "" || p.TeamID != "" ||
		p.HasCDHash || p.HasCertHash || p.HasPlatformBinary
}

// SplitSigningID splits a wire-form signing-id "tid:sid" into its team-id
// and bare signing-id string. ok is false when value contains no ':'
// separator, meaning value is a bare signing-id with no embedded team-id.
func SplitSigningID(value string) (teamID, signingID string, ok bool) {
	idx := strings.IndexByte(value, ':')
	if idx < 0 {
		return "", value, false
	}
	return value[:idx], value[idx+1:], true
}
