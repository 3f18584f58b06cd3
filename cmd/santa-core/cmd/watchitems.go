package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/santa-policy/core/internal/adapter/outbound/watchengine"
	"github.com/santa-policy/core/internal/logging"
)

var watchItemsValidateCmd = &cobra.Command{
	Use:   "validate <config-file>",
	Short: "Validate a watch-item configuration file",
	Args:  cobra.ExactArgs(1),
	RunE:  runWatchItemsValidate,
}

var watchItemsCmd = &cobra.Command{
	Use:   "watchitems",
	Short: "Inspect watch-item configuration",
}

func init() {
	watchItemsCmd.AddCommand(watchItemsValidateCmd)
	rootCmd.AddCommand(watchItemsCmd)
}

func runWatchItemsValidate(cmd *cobra.Command, args []string) error {
	sugar := logging.NewSugar(nil)
	engine, err := watchengine.New(args[0], 0, sugar)
	if err != nil {
		return fmt.Errorf("invalid watch-item configuration: %w", err)
	}

	state := engine.State()
	fmt.Printf("version:     %s\n", state.Version)
	fmt.Printf("rule count:  %d\n", state.RuleCount)
	fmt.Printf("config path: %s\n", state.ConfigPath)
	return nil
}
