package watchengine

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/santa-policy/core/internal/domain/watchitem"
)

// rawConfig is the property-list-shaped document of §4.6.1, decoded via
// yaml.v3 (the teacher's config package uses the same library for its
// OSSConfig). Field names are case-preserving for rule names and
// case-insensitive for RuleType by virtue of rawOptions.RuleType's custom
// handling in normalizeRuleType.
type rawConfig struct {
	Version    string                    `yaml:"Version"`
	WatchItems map[string]rawWatchItem   `yaml:"WatchItems"`
}

type rawWatchItem struct {
	Paths     []rawPath     `yaml:"Paths"`
	Options   rawOptions    `yaml:"Options"`
	Processes []rawProcess  `yaml:"Processes"`
}

// rawPath supports both the bare-string and {Path, IsPrefix} shapes of
// §4.6.1 by implementing yaml.Unmarshaler.
type rawPath struct {
	Path     string
	IsPrefix bool
}

func (p *rawPath) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err == nil {
		p.Path = s
		p.IsPrefix = false
		return nil
	}

	var dict struct {
		Path     string `yaml:"Path"`
		IsPrefix bool   `yaml:"IsPrefix"`
	}
	if err := unmarshal(&dict); err != nil {
		return fmt.Errorf("watchengine: Paths entry must be a string or {Path, IsPrefix}: %w", err)
	}
	p.Path = dict.Path
	p.IsPrefix = dict.IsPrefix
	return nil
}

type rawOptions struct {
	AllowReadAccess         bool   `yaml:"AllowReadAccess"`
	AuditOnly               *bool  `yaml:"AuditOnly"`
	RuleType                string `yaml:"RuleType"`
	InvertProcessExceptions bool   `yaml:"InvertProcessExceptions"`
	EnableSilentMode        bool   `yaml:"EnableSilentMode"`
	EnableSilentTTYMode     bool   `yaml:"EnableSilentTTYMode"`
	CustomMessage           string `yaml:"CustomMessage"`
}

type rawProcess struct {
	BinaryPath        string `yaml:"BinaryPath"`
	SigningID         string `yaml:"SigningID"`
	TeamID            string `yaml:"TeamID"`
	CDHash            string `yaml:"CDHash"`
	CertificateSha256 string `yaml:"CertificateSha256"`
	PlatformBinary    *bool  `yaml:"PlatformBinary"`
}

// normalizeRuleType applies the case-insensitive RuleType lookup (§6.3) and
// legacy InvertProcessExceptions fallback (§9).
func normalizeRuleType(o rawOptions) (watchitem.RuleType, error) {
	if o.RuleType == "" {
		return watchitem.DeriveRuleType("", o.InvertProcessExceptions), nil
	}
	for _, rt := range []watchitem.RuleType{
		watchitem.RuleTypePathsWithAllowedProcesses,
		watchitem.RuleTypePathsWithDeniedProcesses,
		watchitem.RuleTypeProcessesWithAllowedPaths,
		watchitem.RuleTypeProcessesWithDeniedPaths,
	} {
		if strings.EqualFold(string(rt), o.RuleType) {
			return rt, nil
		}
	}
	return "", fmt.Errorf("watchengine: unrecognized RuleType %q", o.RuleType)
}

func toOptions(o rawOptions) (watchitem.Options, error) {
	ruleType, err := normalizeRuleType(o)
	if err != nil {
		return watchitem.Options{}, err
	}
	auditOnly := true // default per §4.6.1
	if o.AuditOnly != nil {
		auditOnly = *o.AuditOnly
	}
	opts := watchitem.Options{
		AllowReadAccess:     o.AllowReadAccess,
		AuditOnly:           auditOnly,
		RuleType:            ruleType,
		EnableSilentMode:    o.EnableSilentMode,
		EnableSilentTTYMode: o.EnableSilentTTYMode,
		CustomMessage:       o.CustomMessage,
	}
	if err := opts.Validate(); err != nil {
		return watchitem.Options{}, err
	}
	return opts, nil
}

func toProcess(p rawProcess) (watchitem.WatchItemProcess, error) {
	out := watchitem.WatchItemProcess{
		BinaryPath: p.BinaryPath,
		SigningID:  p.SigningID,
		TeamID:     p.TeamID,
	}
	if p.CDHash != "" {
		if len(p.CDHash) != 40 {
			return watchitem.WatchItemProcess{}, fmt.Errorf("watchengine: CDHash must be 40 hex characters")
		}
		b, err := hex.DecodeString(p.CDHash)
		if err != nil {
			return watchitem.WatchItemProcess{}, fmt.Errorf("watchengine: invalid CDHash: %w", err)
		}
		copy(out.CDHash[:], b)
		out.HasCDHash = true
	}
	if p.CertificateSha256 != "" {
		if len(p.CertificateSha256) != 64 {
			return watchitem.WatchItemProcess{}, fmt.Errorf("watchengine: CertificateSha256 must be 64 hex characters")
		}
		b, err := hex.DecodeString(p.CertificateSha256)
		if err != nil {
			return watchitem.WatchItemProcess{}, fmt.Errorf("watchengine: invalid CertificateSha256: %w", err)
		}
		copy(out.CertHash[:], b)
		out.HasCertHash = true
	}
	if p.PlatformBinary != nil {
		out.PlatformBinary = *p.PlatformBinary
		out.HasPlatformBinary = true
	}
	if err := out.Validate(); err != nil {
		return watchitem.WatchItemProcess{}, err
	}
	return out, nil
}

func toPathEntries(paths []rawPath) []watchitem.PathEntry {
	out := make([]watchitem.PathEntry, 0, len(paths))
	for _, p := range paths {
		pt := watchitem.PathLiteral
		if p.IsPrefix {
			pt = watchitem.PathPrefix
		}
		out = append(out, watchitem.PathEntry{Path: p.Path, PathType: pt})
	}
	return out
}

// parsedPolicies is the transient result of parsing a rawConfig: the
// rule-type axis decides whether each named rule becomes a data policy or a
// process policy (§4.6.4 Build takes both sets).
type parsedPolicies struct {
	Version string
	Data    []watchitem.DataWatchItemPolicy
	Process []watchitem.ProcessWatchItemPolicy
}

// parseConfig validates and converts a rawConfig into the two policy sets
// the engine indexes. A rule that fails validation is dropped with its
// error recorded; other rules keep loading (§7 InvalidWatchItemRule).
func parseConfig(cfg rawConfig) (parsedPolicies, []error) {
	var errs []error
	result := parsedPolicies{Version: cfg.Version}

	if len(cfg.WatchItems) > 0 && cfg.Version == "" {
		errs = append(errs, fmt.Errorf("watchengine: Version is required when WatchItems is present"))
	}

	for name, item := range cfg.WatchItems {
		if err := watchitem.ValidateName(name); err != nil {
			errs = append(errs, fmt.Errorf("watch item %q: %w", name, err))
			continue
		}

		opts, err := toOptions(item.Options)
		if err != nil {
			errs = append(errs, fmt.Errorf("watch item %q: %w", name, err))
			continue
		}

		processes := make([]watchitem.WatchItemProcess, 0, len(item.Processes))
		procErr := false
		for _, rp := range item.Processes {
			p, err := toProcess(rp)
			if err != nil {
				errs = append(errs, fmt.Errorf("watch item %q: %w", name, err))
				procErr = true
				break
			}
			processes = append(processes, p)
		}
		if procErr {
			continue
		}

		paths := toPathEntries(item.Paths)

		switch opts.RuleType {
		case watchitem.RuleTypeProcessesWithAllowedPaths, watchitem.RuleTypeProcessesWithDeniedPaths:
			result.Process = append(result.Process, watchitem.ProcessWatchItemPolicy{
				Name:      name,
				Version:   "", // WIP — no current way to control via config (§9).
				Paths:     paths,
				Options:   opts,
				Processes: processes,
			})
		default:
			result.Data = append(result.Data, watchitem.DataWatchItemPolicy{
				Name:      name,
				Version:   "",
				Paths:     paths,
				Options:   opts,
				Processes: processes,
			})
		}
	}

	return result, errs
}
