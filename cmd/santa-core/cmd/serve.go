package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/santa-policy/core/internal/adapter/inbound/metrics"
	"github.com/santa-policy/core/internal/adapter/outbound/celrule"
	"github.com/santa-policy/core/internal/adapter/outbound/eventdb"
	"github.com/santa-policy/core/internal/adapter/outbound/ruledb"
	"github.com/santa-policy/core/internal/adapter/outbound/watchengine"
	"github.com/santa-policy/core/internal/config"
	"github.com/santa-policy/core/internal/logging"
	"github.com/santa-policy/core/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the policy-decision engine",
	Long: `serve opens the Execution-Rule Store and Pending-Event Store, starts the
File-Access Watch-Item Engine's reload loop, and blocks until SIGINT/SIGTERM.

It is the composition root: every adapter wired here is the one this
module actually ships, as opposed to the concrete exporters an embedding
daemon would choose for tracing/metrics.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := santaViper
	if cfg == nil {
		return fmt.Errorf("serve: configuration not loaded")
	}

	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	go func() {
		<-ctx.Done()
		stop()
	}()

	logLevel := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn", "warning":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	sugar := logging.NewSugar(logger)

	telemetry.SetupNoopMeter()

	reg := prometheus.NewRegistry()
	mx := metrics.NewMetrics(reg)

	evaluator, err := celrule.NewEvaluator()
	if err != nil {
		return fmt.Errorf("serve: create CEL evaluator: %w", err)
	}

	ruleStore, err := ruledb.Open(cfg.RuleDBPath, logger, evaluator)
	if err != nil {
		return fmt.Errorf("serve: open execution-rule store: %w", err)
	}
	defer func() { _ = ruleStore.Close() }()

	if cfg.ChurnThreshold > 0 {
		ruleStore.ChurnThreshold = cfg.ChurnThreshold
	}

	if staticRules, err := config.LoadStaticRules(cfg.StaticRulesPath); err != nil {
		return fmt.Errorf("serve: load static rules: %w", err)
	} else if len(staticRules) > 0 {
		if err := ruleStore.UpdateStaticRules(staticRules); err != nil {
			logger.Warn("serve: some static rules rejected", "error", err)
		}
	}

	eventStore, err := eventdb.Open(cfg.EventDBPath, sugar)
	if err != nil {
		return fmt.Errorf("serve: open pending-event store: %w", err)
	}
	defer func() { _ = eventStore.Close() }()

	engine, err := watchengine.New(cfg.WatchItemConfigPath, cfg.ReloadInterval(), sugar)
	if err != nil {
		return fmt.Errorf("serve: build watch-item engine: %w", err)
	}
	ruleStore.SetFileAccessRuleChangeCallback(func(newCount int) {
		mx.RuleCountByKind.WithLabelValues("file_access").Set(float64(newCount))
	})

	stopReload := engine.StartReloadLoop(ctx)
	defer stopReload()

	counts, err := ruleStore.CountByKind(ctx)
	if err != nil {
		logger.Warn("serve: initial rule count failed", "error", err)
	} else {
		mx.RuleCountByKind.WithLabelValues("binary_sha256").Set(float64(counts.Binary))
		mx.RuleCountByKind.WithLabelValues("certificate_sha256").Set(float64(counts.Certificate))
		mx.RuleCountByKind.WithLabelValues("team_id").Set(float64(counts.TeamID))
		mx.RuleCountByKind.WithLabelValues("signing_id").Set(float64(counts.SigningID))
		mx.RuleCountByKind.WithLabelValues("cdhash").Set(float64(counts.CDHash))
		mx.RuleCountByKind.WithLabelValues("file_access").Set(float64(counts.FileAccess))
	}

	logger.Info("santa-core serving",
		"rule_db", cfg.RuleDBPath,
		"event_db", cfg.EventDBPath,
		"watch_item_config", cfg.WatchItemConfigPath,
		"reload_interval", cfg.ReloadInterval())

	<-ctx.Done()
	logger.Info("santa-core shutting down")

	pending, err := eventStore.PendingCount(context.Background())
	if err != nil {
		logger.Warn("serve: final pending count failed", "error", err)
	} else {
		mx.PendingEventsGauge.Set(float64(pending))
		logger.Info("santa-core stopped", "pending_events", pending)
	}

	return nil
}
