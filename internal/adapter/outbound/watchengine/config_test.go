package watchengine

import (
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/santa-policy/core/internal/domain/watchitem"
)

func mustParseRawConfig(t *testing.T, doc string) rawConfig {
	t.Helper()
	var cfg rawConfig
	if err := yaml.Unmarshal([]byte(doc), &cfg); err != nil {
		t.Fatalf("yaml.Unmarshal() error: %v", err)
	}
	return cfg
}

func TestParseConfig_DataPolicy(t *testing.T) {
	t.Parallel()

	doc := `
Version: "1"
WatchItems:
  protect_ssh:
    Paths:
      - /etc/ssh
      - Path: /etc/sudoers
        IsPrefix: false
    Options:
      RuleType: PathsWithAllowedProcesses
    Processes:
      - BinaryPath: /usr/bin/vim
`
	parsed, errs := parseConfig(mustParseRawConfig(t, doc))
	if len(errs) != 0 {
		t.Fatalf("parseConfig() errors = %v, want none", errs)
	}
	if len(parsed.Data) != 1 || len(parsed.Process) != 0 {
		t.Fatalf("parseConfig() = %d data, %d process policies, want 1 data, 0 process", len(parsed.Data), len(parsed.Process))
	}
	if parsed.Data[0].Name != "protect_ssh" {
		t.Fatalf("parsed policy name = %q, want protect_ssh", parsed.Data[0].Name)
	}
	if len(parsed.Data[0].Paths) != 2 {
		t.Fatalf("parsed paths = %d, want 2", len(parsed.Data[0].Paths))
	}
}

func TestParseConfig_ProcessPolicyRuleType(t *testing.T) {
	t.Parallel()

	doc := `
Version: "1"
WatchItems:
  restrict_vim:
    Options:
      RuleType: ProcessesWithAllowedPaths
    Processes:
      - BinaryPath: /usr/bin/vim
`
	parsed, errs := parseConfig(mustParseRawConfig(t, doc))
	if len(errs) != 0 {
		t.Fatalf("parseConfig() errors = %v, want none", errs)
	}
	if len(parsed.Process) != 1 || len(parsed.Data) != 0 {
		t.Fatalf("parseConfig() = %d data, %d process policies, want 0 data, 1 process", len(parsed.Data), len(parsed.Process))
	}
}

func TestParseConfig_MissingVersionWithWatchItems(t *testing.T) {
	t.Parallel()

	doc := `
WatchItems:
  protect_ssh:
    Paths:
      - /etc/ssh
`
	_, errs := parseConfig(mustParseRawConfig(t, doc))
	if len(errs) == 0 {
		t.Fatal("parseConfig() with WatchItems but no Version should report an error")
	}
}

func TestParseConfig_InvalidRuleNameDropped(t *testing.T) {
	t.Parallel()

	doc := `
Version: "1"
WatchItems:
  "1-bad-name":
    Paths:
      - /etc/ssh
`
	parsed, errs := parseConfig(mustParseRawConfig(t, doc))
	if len(errs) == 0 {
		t.Fatal("parseConfig() with an invalid rule name should report an error")
	}
	if len(parsed.Data) != 0 {
		t.Fatal("parseConfig() should drop the invalid rule, not include it")
	}
}

func TestParseConfig_InvalidProcessMatcherDropped(t *testing.T) {
	t.Parallel()

	doc := `
Version: "1"
WatchItems:
  protect_ssh:
    Paths:
      - /etc/ssh
    Processes:
      - CDHash: "tooshort"
`
	parsed, errs := parseConfig(mustParseRawConfig(t, doc))
	if len(errs) == 0 {
		t.Fatal("parseConfig() with an invalid process matcher should report an error")
	}
	if len(parsed.Data) != 0 {
		t.Fatal("parseConfig() should drop the rule with the invalid process matcher")
	}
}

func TestNormalizeRuleType_CaseInsensitive(t *testing.T) {
	t.Parallel()

	got, err := normalizeRuleType(rawOptions{RuleType: "pathswithalloweDprocesses"})
	if err != nil {
		t.Fatalf("normalizeRuleType() error: %v", err)
	}
	if got != watchitem.RuleTypePathsWithAllowedProcesses {
		t.Fatalf("normalizeRuleType() = %q, want %q", got, watchitem.RuleTypePathsWithAllowedProcesses)
	}

	if _, err := normalizeRuleType(rawOptions{RuleType: "NotARealType"}); err == nil {
		t.Fatal("normalizeRuleType() with unrecognized type = nil error, want error")
	}
}

func TestToOptions_AuditOnlyDefaultsTrue(t *testing.T) {
	t.Parallel()

	opts, err := toOptions(rawOptions{})
	if err != nil {
		t.Fatalf("toOptions() error: %v", err)
	}
	if !opts.AuditOnly {
		t.Fatal("toOptions() with AuditOnly unset should default to true")
	}

	falseVal := false
	opts, err = toOptions(rawOptions{AuditOnly: &falseVal})
	if err != nil {
		t.Fatalf("toOptions() error: %v", err)
	}
	if opts.AuditOnly {
		t.Fatal("toOptions() with explicit AuditOnly=false should not default to true")
	}
}

func TestToProcess_CDHashDecoding(t *testing.T) {
	t.Parallel()

	p, err := toProcess(rawProcess{CDHash: "0123456789abcdef0123456789abcdef01234567"})
	if err != nil {
		t.Fatalf("toProcess() error: %v", err)
	}
	if !p.HasCDHash {
		t.Fatal("toProcess() did not set HasCDHash")
	}

	if _, err := toProcess(rawProcess{CDHash: "tooshort"}); err == nil {
		t.Fatal("toProcess() with malformed CDHash = nil error, want error")
	}
}
