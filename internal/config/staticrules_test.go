package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/santa-policy/core/internal/domain/execrule"
)

func TestLoadStaticRules_MissingPath(t *testing.T) {
	t.Parallel()

	rules, err := LoadStaticRules("")
	if err != nil {
		t.Fatalf("LoadStaticRules(\"\") error = %v, want nil", err)
	}
	if rules != nil {
		t.Fatalf("LoadStaticRules(\"\") = %v, want nil", rules)
	}

	rules, err = LoadStaticRules(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("LoadStaticRules() on missing file error = %v, want nil", err)
	}
	if rules != nil {
		t.Fatalf("LoadStaticRules() on missing file = %v, want nil", rules)
	}
}

func TestLoadStaticRules_ParsesAllSections(t *testing.T) {
	t.Parallel()

	doc := `
binary_sha256:
  a1b2c3d4e5f60718293a4b5c6d7e8f90a1b2c3d4e5f60718293a4b5c6d7e8f9:
    state: Allow
team_id:
  ABCDE12345:
    state: Block
    custom_message: "blocked by policy"
`
	path := filepath.Join(t.TempDir(), "static.yaml")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("os.WriteFile() error: %v", err)
	}

	rules, err := LoadStaticRules(path)
	if err != nil {
		t.Fatalf("LoadStaticRules() error: %v", err)
	}
	if len(rules) != 2 {
		t.Fatalf("LoadStaticRules() returned %d rules, want 2", len(rules))
	}
	for _, r := range rules {
		if !r.IsStatic {
			t.Errorf("rule %+v is not marked IsStatic", r)
		}
		switch r.IdentifierKind {
		case execrule.KindBinaryHash:
			if r.State != execrule.StateAllow {
				t.Errorf("binary rule State = %q, want Allow", r.State)
			}
		case execrule.KindTeamID:
			if r.State != execrule.StateBlock || r.CustomMessage != "blocked by policy" {
				t.Errorf("team-id rule = %+v, want Block with custom message", r)
			}
		default:
			t.Errorf("unexpected identifier kind %q", r.IdentifierKind)
		}
	}
}
