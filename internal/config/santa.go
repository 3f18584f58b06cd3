package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// SantaConfig is the top-level configuration for the santa-core daemon: the
// Execution-Rule Store, Watch-Item Engine, and Pending-Event Store each read
// their operating parameters from here.
type SantaConfig struct {
	// RuleDBPath is the sqlite file backing the Execution-Rule Store.
	RuleDBPath string `yaml:"rule_db_path" mapstructure:"rule_db_path" validate:"required"`

	// EventDBPath is the sqlite file backing the Pending-Event Store.
	EventDBPath string `yaml:"event_db_path" mapstructure:"event_db_path" validate:"required"`

	// WatchItemConfigPath is the YAML document describing file-access watch
	// items (§4.6.1). Optional: an absent file means no paths are watched.
	WatchItemConfigPath string `yaml:"watch_item_config_path" mapstructure:"watch_item_config_path"`

	// StaticRulesPath optionally points to a dict-shaped YAML file of
	// built-in rules that overlay the durable store at lookup time (§4.3.1,
	// §9 "static rules").
	StaticRulesPath string `yaml:"static_rules_path" mapstructure:"static_rules_path"`

	// WatchItemReloadInterval controls how often the Watch-Item Engine
	// re-reads WatchItemConfigPath (e.g. "10s"). Clamped to
	// [watchitem.MinReloadInterval, watchitem.MaxReloadInterval].
	WatchItemReloadInterval string `yaml:"watch_item_reload_interval" mapstructure:"watch_item_reload_interval" validate:"omitempty"`

	// ChurnThreshold overrides the Execution-Rule Store's default batch-size
	// heuristic for ShouldFlushDecisionCache (§4.3.3).
	ChurnThreshold int `yaml:"churn_threshold" mapstructure:"churn_threshold" validate:"omitempty,min=1"`

	// StaleTransitiveRetention is a retention window for AllowTransitive/
	// AllowPendingTransitive rules (e.g. "4320h" for 180 days), parsed by
	// RetentionDuration. ruledb's PruneStaleTransitive does not read it: it
	// applies its own fixed 180-day window.
	StaleTransitiveRetention string `yaml:"stale_transitive_retention" mapstructure:"stale_transitive_retention" validate:"omitempty"`

	// LogLevel sets the minimum log level ("debug", "info", "warn", "error").
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`
}

// ReloadInterval parses WatchItemReloadInterval, falling back to zero (the
// caller clamps zero to watchitem.DefaultReloadInterval).
func (c *SantaConfig) ReloadInterval() time.Duration {
	if c.WatchItemReloadInterval == "" {
		return 0
	}
	d, err := time.ParseDuration(c.WatchItemReloadInterval)
	if err != nil {
		return 0
	}
	return d
}

// RetentionDuration parses StaleTransitiveRetention, returning 0 (caller
// applies its own default) if unset or unparseable.
func (c *SantaConfig) RetentionDuration() time.Duration {
	if c.StaleTransitiveRetention == "" {
		return 0
	}
	d, err := time.ParseDuration(c.StaleTransitiveRetention)
	if err != nil {
		return 0
	}
	return d
}

// SetDefaults fills in sensible defaults for an otherwise-valid SantaConfig.
func (c *SantaConfig) SetDefaults() {
	if c.RuleDBPath == "" {
		c.RuleDBPath = "santa-rules.db"
	}
	if c.EventDBPath == "" {
		c.EventDBPath = "santa-events.db"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.WatchItemReloadInterval == "" {
		c.WatchItemReloadInterval = "10s"
	}
}

// Validate validates the SantaConfig using struct tags.
func (c *SantaConfig) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}
	return nil
}

// InitSantaViper initializes a dedicated Viper instance for santa-core: an
// explicit configFile wins, otherwise the first santa-core.yaml/.yml found by
// findSantaConfigFile, and SANTA_CORE_-prefixed environment variables
// override file values.
func InitSantaViper(configFile string) *viper.Viper {
	v := viper.New()
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else if found := findSantaConfigFile(); found != "" {
		v.SetConfigFile(found)
	} else {
		v.SetConfigName("santa-core")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("SANTA_CORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

func findSantaConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{".", filepath.Join(home, ".santa-core")}
	if runtime.GOOS == "windows" {
		if pd := os.Getenv("ProgramData"); pd != "" {
			paths = append(paths, filepath.Join(pd, "santa-core"))
		}
	} else {
		paths = append(paths, "/etc/santa-core")
	}
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "santa-core"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// LoadSantaConfig reads, defaults, and validates a SantaConfig from v.
func LoadSantaConfig(v *viper.Viper) (*SantaConfig, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read santa-core config: %w", err)
		}
	}
	var cfg SantaConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal santa-core config: %w", err)
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("santa-core config validation failed: %w", err)
	}
	return &cfg, nil
}
