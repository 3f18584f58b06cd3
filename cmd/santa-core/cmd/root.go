// Package cmd provides the CLI commands for santa-core.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/santa-policy/core/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "santa-core",
	Short: "santa-core - endpoint policy decision engine",
	Long: `santa-core is the policy-decision engine behind a macOS endpoint security
agent: an Execution-Rule Store, a File-Access Watch-Item Engine, and the
Pending-Event Store that queues decisions for upstream sync.

Quick start:
  1. Create a config file: santa-core.yaml
  2. Run: santa-core serve

Configuration:
  Config is loaded from santa-core.yaml in the current directory,
  $HOME/.santa-core/, or /etc/santa-core/.

  Environment variables can override config values with the SANTA_CORE_ prefix.
  Example: SANTA_CORE_LOG_LEVEL=debug

Commands:
  serve       Run the policy-decision engine
  rules       Inspect and upsert execution rules
  watchitems  Validate a watch-item configuration file
  prune       Sweep stale transitive rules
  version     Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./santa-core.yaml)")
}

var santaViper *config.SantaConfig

func initConfig() {
	v := config.InitSantaViper(cfgFile)
	cfg, err := config.LoadSantaConfig(v)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}
	santaViper = cfg
}
