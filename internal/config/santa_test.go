package config

import (
	"testing"
	"time"
)

func TestSantaConfig_SetDefaults(t *testing.T) {
	t.Parallel()

	var cfg SantaConfig
	cfg.SetDefaults()

	if cfg.RuleDBPath != "santa-rules.db" {
		t.Errorf("RuleDBPath default = %q, want santa-rules.db", cfg.RuleDBPath)
	}
	if cfg.EventDBPath != "santa-events.db" {
		t.Errorf("EventDBPath default = %q, want santa-events.db", cfg.EventDBPath)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel default = %q, want info", cfg.LogLevel)
	}
	if cfg.WatchItemReloadInterval != "10s" {
		t.Errorf("WatchItemReloadInterval default = %q, want 10s", cfg.WatchItemReloadInterval)
	}
}

func TestSantaConfig_SetDefaults_PreservesExplicitValues(t *testing.T) {
	t.Parallel()

	cfg := SantaConfig{RuleDBPath: "/custom/rules.db", LogLevel: "debug"}
	cfg.SetDefaults()

	if cfg.RuleDBPath != "/custom/rules.db" {
		t.Errorf("RuleDBPath = %q, want explicit value preserved", cfg.RuleDBPath)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want explicit value preserved", cfg.LogLevel)
	}
}

func TestSantaConfig_Validate(t *testing.T) {
	t.Parallel()

	cfg := SantaConfig{RuleDBPath: "rules.db", EventDBPath: "events.db", LogLevel: "info"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v, want nil", err)
	}

	missingPaths := SantaConfig{}
	if err := missingPaths.Validate(); err == nil {
		t.Fatal("Validate() with no RuleDBPath/EventDBPath = nil, want error")
	}

	badLogLevel := SantaConfig{RuleDBPath: "rules.db", EventDBPath: "events.db", LogLevel: "verbose"}
	if err := badLogLevel.Validate(); err == nil {
		t.Fatal("Validate() with unrecognized LogLevel = nil, want error")
	}
}

func TestSantaConfig_ReloadInterval(t *testing.T) {
	t.Parallel()

	unset := SantaConfig{}
	if got := unset.ReloadInterval(); got != 0 {
		t.Errorf("ReloadInterval() with unset field = %v, want 0", got)
	}

	valid := SantaConfig{WatchItemReloadInterval: "30s"}
	if got := valid.ReloadInterval(); got != 30*time.Second {
		t.Errorf("ReloadInterval() = %v, want 30s", got)
	}

	malformed := SantaConfig{WatchItemReloadInterval: "not-a-duration"}
	if got := malformed.ReloadInterval(); got != 0 {
		t.Errorf("ReloadInterval() with malformed value = %v, want 0", got)
	}
}

func TestSantaConfig_RetentionDuration(t *testing.T) {
	t.Parallel()

	valid := SantaConfig{StaleTransitiveRetention: "4320h"}
	if got := valid.RetentionDuration(); got != 4320*time.Hour {
		t.Errorf("RetentionDuration() = %v, want 4320h", got)
	}

	unset := SantaConfig{}
	if got := unset.RetentionDuration(); got != 0 {
		t.Errorf("RetentionDuration() with unset field = %v, want 0", got)
	}
}

func TestInitSantaViper_EnvPrefix(t *testing.T) {
	t.Setenv("SANTA_CORE_RULE_DB_PATH", "/env/rules.db")

	v := InitSantaViper("")
	if got := v.GetString("rule_db_path"); got != "/env/rules.db" {
		t.Fatalf("viper env override rule_db_path = %q, want /env/rules.db", got)
	}
}
