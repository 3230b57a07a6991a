// Gated is the validation pipeline daemon.
//
// This binary starts the webhook gateway and the pipeline scheduler that
// runs configured validation stages in response to git and deploy events.
//
// Configuration is loaded from a YAML file and GATED_* environment
// variables. See internal/config for details.
//
// Usage:
//
//	# Start with defaults, looking for gated.yaml in the working directory
//	gated
//
//	# Explicit config file
//	gated --config /etc/gated/gated.yaml
//
//	# Override via environment
//	GATED_SERVER_LISTEN_ADDR=:9090 gated
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/gated/internal/config"
	"github.com/fyrsmithlabs/gated/internal/gateway"
	"github.com/fyrsmithlabs/gated/internal/logging"
	"github.com/fyrsmithlabs/gated/internal/notify"
	"github.com/fyrsmithlabs/gated/internal/pipeline"
	"github.com/fyrsmithlabs/gated/internal/registry"
	"github.com/fyrsmithlabs/gated/internal/supervisor"
)

const defaultConfigPath = "gated.yaml"

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file (default gated.yaml if present)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	// The default config file is optional; an explicitly given one is not.
	if *configPath == "" {
		if _, err := os.Stat(defaultConfigPath); err == nil {
			*configPath = defaultConfigPath
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *configPath); err != nil {
		fmt.Fprintf(os.Stderr, "gated: %v\n", err)
		os.Exit(1)
	}
}

func printVersion() {
	fmt.Printf("gated by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts the daemon and blocks until the context is cancelled.
//
// Initialization order:
//  1. Load and validate configuration
//  2. Initialize logger and metrics registry
//  3. Build the run registry, stage supervisor, and notifier
//  4. Wire the scheduler and HTTP gateway
//  5. Serve until signalled, then drain active runs and shut down
func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := logging.NewLogger(&logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info(ctx, "starting gated",
		zap.String("version", version),
		zap.String("listen_addr", cfg.Server.ListenAddr),
		zap.String("mode", cfg.Pipeline.Mode),
		zap.Int("stages", len(cfg.Stages)),
		zap.Bool("signature_required", !cfg.Server.AllowUnsigned),
	)

	if !cfg.Server.WebhookSecret.IsSet() && !cfg.Server.AllowUnsigned {
		logger.Warn(ctx, "no webhook secret configured; all signed requests will be rejected")
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	reg := registry.New(cfg.Pipeline.MaxConcurrentRuns, cfg.Pipeline.HistorySize)
	runner := supervisor.New(logger, supervisor.WithLiveOutput(os.Stderr))
	dispatcher := notify.New(cfg.Notify, logger)

	sched := pipeline.NewScheduler(cfg.Pipeline, runner, reg, logger)
	sched.SetMetrics(pipeline.NewMetrics(promReg))
	sched.SetNotifier(dispatcher)

	srv, err := gateway.NewServer(cfg, sched, reg, promReg, logger)
	if err != nil {
		return fmt.Errorf("failed to create gateway: %w", err)
	}

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- srv.Start()
	}()

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("gateway failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info(ctx, "shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()

	// Stop accepting webhooks first, then let in-flight runs finish.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error(shutdownCtx, "gateway shutdown failed", zap.Error(err))
	}

	if err := reg.Drain(shutdownCtx); err != nil {
		logger.Warn(shutdownCtx, "shutdown deadline reached with runs still active",
			zap.Int("active", reg.ActiveCount()),
			zap.Error(err),
		)
	}

	dispatcher.Wait()

	logger.Info(shutdownCtx, "shutdown complete")
	return nil
}
