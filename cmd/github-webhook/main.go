// Package main runs the GitHub webhook ingress for orchestrd.
//
// It verifies webhook signatures, maps deliveries into normalized
// pipeline events, and dispatches them against the shared store and
// Temporal deployment. Run it next to `orchestrd serve` when webhook
// traffic should terminate in its own process.
//
// Usage:
//
//	github-webhook --config /etc/orchestrd/config.yaml
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/orchestrd/internal/adapter"
	"github.com/fyrsmithlabs/orchestrd/internal/config"
	"github.com/fyrsmithlabs/orchestrd/internal/events"
	"github.com/fyrsmithlabs/orchestrd/internal/ingress"
	"github.com/fyrsmithlabs/orchestrd/internal/logging"
	"github.com/fyrsmithlabs/orchestrd/internal/pipeline"
	"github.com/fyrsmithlabs/orchestrd/internal/remediation"
	"github.com/fyrsmithlabs/orchestrd/internal/runner"
	"github.com/fyrsmithlabs/orchestrd/internal/store"
	"github.com/fyrsmithlabs/orchestrd/internal/workflows"
)

var version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:     "github-webhook",
	Short:   "GitHub webhook ingress for orchestrd",
	Version: version,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return run(ctx)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (YAML)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Store.NATSURL == "" {
		return fmt.Errorf("store.nats_url is required: the webhook ingress shares the daemon's store")
	}
	if cfg.Webhook.WebhookSecret == "" {
		return fmt.Errorf("webhook.webhook_secret is required")
	}

	logCfg, err := logging.NewConfigFromSettings(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return fmt.Errorf("logging config: %w", err)
	}
	logger, err := logging.NewLogger(logCfg)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	st, err := store.NewNATS(store.NATSConfig{URL: cfg.Store.NATSURL, Bucket: cfg.Store.Bucket})
	if err != nil {
		return fmt.Errorf("connecting to store: %w", err)
	}
	defer st.Close() //nolint:errcheck

	temporalClient, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
	})
	if err != nil {
		return fmt.Errorf("connecting to temporal: %w", err)
	}
	defer temporalClient.Close()

	registry, err := adapter.NewDefaultRegistry()
	if err != nil {
		return fmt.Errorf("building adapter registry: %w", err)
	}
	catalog, err := buildCatalog(registry, cfg.Agents)
	if err != nil {
		return err
	}

	jobs, err := runner.NewLocal(filepath.Join(cfg.Store.DataDir, "jobs"), registry, logger)
	if err != nil {
		return fmt.Errorf("creating job runner: %w", err)
	}
	defer jobs.Close() //nolint:errcheck

	signaler := workflows.NewTemporalResumeSignaler(temporalClient, logger)
	engine := pipeline.NewEngine(st, signaler, logger)

	escalator := remediation.NewEscalator(remediation.NewLogNotifier(logger), logger)
	gatherer := remediation.NewContextGatherer(githubClient(ctx, cfg.Webhook.GitHubToken), nil, logger)
	router := remediation.NewRouter(st, registry, catalog, jobs, gatherer, nil, escalator,
		remediation.Config{
			MaxAttempts: cfg.Remediation.MaxAttempts,
			DedupWindow: cfg.Remediation.DedupWindow.Duration(),
		}, logger)
	jobs.OnRemediationExit = func(dedupKey string, outcome remediation.Outcome, logsRef string) {
		if err := router.RecordOutcome(context.WithoutCancel(ctx), dedupKey, outcome, logsRef); err != nil {
			logger.Error(ctx, "recording remediation outcome",
				zap.String("dedup_key", dedupKey),
				zap.Error(err))
		}
	}

	dispatcher := events.NewDispatcher(engine, router, logger)
	srv := ingress.NewServer(dispatcher, ingress.NewMapper("quality", "qa"), cfg.Webhook.WebhookSecret, logger)

	logger.Info(ctx, "webhook ingress starting",
		zap.Int("port", cfg.Webhook.Port),
		zap.String("version", version))
	return srv.Listen(ctx, cfg.Webhook.Port)
}
