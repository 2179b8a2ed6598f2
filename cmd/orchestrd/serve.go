package main

import (
	"context"
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	gogithub "github.com/google/go-github/v57/github"

	"github.com/fyrsmithlabs/orchestrd/internal/adapter"
	"github.com/fyrsmithlabs/orchestrd/internal/config"
	"github.com/fyrsmithlabs/orchestrd/internal/embeddings"
	"github.com/fyrsmithlabs/orchestrd/internal/events"
	"github.com/fyrsmithlabs/orchestrd/internal/logging"
	"github.com/fyrsmithlabs/orchestrd/internal/pipeline"
	"github.com/fyrsmithlabs/orchestrd/internal/reconciler"
	"github.com/fyrsmithlabs/orchestrd/internal/remediation"
	"github.com/fyrsmithlabs/orchestrd/internal/runner"
	"github.com/fyrsmithlabs/orchestrd/internal/store"
	"github.com/fyrsmithlabs/orchestrd/internal/telemetry"
	"github.com/fyrsmithlabs/orchestrd/internal/workflows"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the orchestration daemon",
	Long: `Run the full daemon: the reconcile loop, the Temporal pipeline worker,
the local job runner, and the remediation router.

With no store.nats_url configured an embedded NATS server is started
under store.data_dir, so a single process is a complete deployment.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runServe(ctx)
	},
}

func runServe(ctx context.Context) error {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
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

	logger.Info(ctx, "starting orchestrd",
		zap.String("version", version),
		zap.String("git_commit", gitCommit))

	telCfg := telemetry.NewDefaultConfig()
	telCfg.Enabled = cfg.Telemetry.Enabled
	if cfg.Telemetry.Endpoint != "" {
		telCfg.Endpoint = cfg.Telemetry.Endpoint
	}
	telCfg.ServiceVersion = version
	tel, err := telemetry.New(ctx, telCfg)
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer tel.Shutdown(context.WithoutCancel(ctx)) //nolint:errcheck

	st, embedded, err := openStore(ctx, cfg.Store, logger)
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck
	if embedded != nil {
		defer embedded.Shutdown()
	}

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

	temporalClient, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
	})
	if err != nil {
		return fmt.Errorf("connecting to temporal: %w", err)
	}
	defer temporalClient.Close()

	signaler := workflows.NewTemporalResumeSignaler(temporalClient, logger)
	engine := pipeline.NewEngine(st, signaler, logger)

	memory := openPatternMemory(ctx, cfg.Remediation, logger)
	gatherer := remediation.NewContextGatherer(githubClient(ctx, cfg.Webhook.GitHubToken), memory, logger)
	escalator := remediation.NewEscalator(remediation.NewLogNotifier(logger), logger)

	router := remediation.NewRouter(st, registry, catalog, jobs, gatherer, memory, escalator,
		remediation.Config{
			MaxAttempts: cfg.Remediation.MaxAttempts,
			DedupWindow: cfg.Remediation.DedupWindow.Duration(),
		}, logger)

	// Failed remediation attempts come back from the runner out of band.
	jobs.OnRemediationExit = func(dedupKey string, outcome remediation.Outcome, logsRef string) {
		if err := router.RecordOutcome(context.WithoutCancel(ctx), dedupKey, outcome, logsRef); err != nil {
			logger.Error(ctx, "recording remediation outcome",
				zap.String("dedup_key", dedupKey),
				zap.Error(err))
		}
	}

	dispatcher := events.NewDispatcher(engine, router, logger)

	rec := reconciler.New(st, registry, jobs, dispatchEmitter{dispatcher},
		catalog, backoffSchedule(cfg.Reconciler), logger)

	errCh := make(chan error, 2)
	go func() {
		if err := rec.Run(ctx); err != nil && ctx.Err() == nil {
			errCh <- fmt.Errorf("reconcile loop: %w", err)
		}
	}()

	w := worker.New(temporalClient, cfg.Temporal.TaskQueue, worker.Options{})
	w.RegisterWorkflow(workflows.TaskPipelineWorkflow)
	w.RegisterActivity(workflows.NewActivities(st, logger).CreateExecution)
	go func() {
		if err := w.Run(nil); err != nil {
			errCh <- fmt.Errorf("temporal worker: %w", err)
		}
	}()
	defer w.Stop()

	logger.Info(ctx, "orchestrd started",
		zap.String("task_queue", cfg.Temporal.TaskQueue),
		zap.String("bucket", cfg.Store.Bucket))

	select {
	case <-ctx.Done():
		logger.Info(context.WithoutCancel(ctx), "shutting down")
		return nil
	case err := <-errCh:
		return err
	}
}

// openStore connects to NATS, starting an embedded server when no URL is
// configured. The embedded server persists JetStream under DataDir.
func openStore(ctx context.Context, cfg config.StoreConfig, logger *logging.Logger) (*store.NATS, *natsserver.Server, error) {
	url := cfg.NATSURL
	var embedded *natsserver.Server
	if url == "" {
		opts := &natsserver.Options{
			Host:      "127.0.0.1",
			Port:      -1,
			NoLog:     true,
			NoSigs:    true,
			JetStream: true,
			StoreDir:  filepath.Join(cfg.DataDir, "nats"),
		}
		srv, err := natsserver.NewServer(opts)
		if err != nil {
			return nil, nil, fmt.Errorf("creating embedded nats server: %w", err)
		}
		go srv.Start()
		if !srv.ReadyForConnections(10 * time.Second) {
			srv.Shutdown()
			return nil, nil, fmt.Errorf("embedded nats server not ready")
		}
		embedded = srv
		url = srv.ClientURL()
		logger.Info(ctx, "embedded nats server started", zap.String("url", url))
	}

	st, err := store.NewNATS(store.NATSConfig{URL: url, Bucket: cfg.Bucket})
	if err != nil {
		if embedded != nil {
			embedded.Shutdown()
		}
		return nil, nil, fmt.Errorf("connecting to store: %w", err)
	}
	return st, embedded, nil
}

func buildCatalog(registry *adapter.Registry, cfg config.AgentsConfig) (*reconciler.AgentCatalog, error) {
	catalog := reconciler.NewAgentCatalog(cfg.PromptBase)
	for role, rc := range cfg.Roles {
		cliType, err := adapter.ParseCLIType(rc.CLI)
		if err != nil {
			return nil, fmt.Errorf("agents.roles.%s: %w", role, err)
		}
		a, err := registry.Resolve(cliType)
		if err != nil {
			return nil, fmt.Errorf("agents.roles.%s: %w", role, err)
		}
		if err := a.ValidateModel(rc.Model); err != nil {
			return nil, fmt.Errorf("agents.roles.%s: %w", role, err)
		}
		err = catalog.Add(role, cliType, adapter.AgentConfig{
			GitHubApp:   rc.GitHubApp,
			Model:       rc.Model,
			MaxTokens:   rc.MaxTokens,
			Temperature: rc.Temperature,
			RemoteTools: rc.RemoteTools,
			Guidance:    rc.Guidance,
		})
		if err != nil {
			return nil, fmt.Errorf("agents.roles.%s: %w", role, err)
		}
	}
	catalog.Seal()
	return catalog, nil
}

// openPatternMemory builds the similarity memory when a path is
// configured. The daemon runs fine without it, so failures degrade to a
// warning rather than aborting startup.
func openPatternMemory(ctx context.Context, cfg config.RemediationConfig, logger *logging.Logger) *remediation.PatternMemory {
	if cfg.MemoryPath == "" {
		return nil
	}
	provider, err := embeddings.NewFastEmbed(embeddings.Config{})
	if err != nil {
		logger.Warn(ctx, "pattern memory disabled: embedder unavailable", zap.Error(err))
		return nil
	}
	memory, err := remediation.NewPatternMemory(cfg.MemoryPath, provider, cfg.MemoryTimeout.Duration(), logger)
	if err != nil {
		logger.Warn(ctx, "pattern memory disabled", zap.Error(err))
		return nil
	}
	return memory
}

func githubClient(ctx context.Context, token config.Secret) *gogithub.Client {
	if token == "" {
		return nil
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token.Value()})
	return gogithub.NewClient(oauth2.NewClient(ctx, ts))
}

func backoffSchedule(cfg config.ReconcilerConfig) []time.Duration {
	schedule := make([]time.Duration, 0, len(cfg.SubmitBackoff))
	for _, d := range cfg.SubmitBackoff {
		schedule = append(schedule, d.Duration())
	}
	return schedule
}

// dispatchEmitter feeds the reconciler's internal completion events into
// the same dispatcher webhook events go through, so per-task ordering
// holds across both sources.
type dispatchEmitter struct {
	dispatcher *events.Dispatcher
}

func (e dispatchEmitter) Emit(ctx context.Context, event events.Event) error {
	return e.dispatcher.Dispatch(ctx, event)
}
