package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/fixmarket/pulse/internal/config"
	"github.com/fixmarket/pulse/internal/conversation"
	"github.com/fixmarket/pulse/internal/delivery"
	"github.com/fixmarket/pulse/internal/gateway"
	"github.com/fixmarket/pulse/internal/moderation"
	"github.com/fixmarket/pulse/internal/notify"
	"github.com/fixmarket/pulse/internal/observability"
	"github.com/fixmarket/pulse/internal/storage"
)

func buildServeCmd() *cobra.Command {
	var configFlag string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the realtime engine",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadOrDefault(configPath(configFlag))
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVarP(&configFlag, "config", "c", "", "Path to configuration file")
	return cmd
}

func buildCheckCmd() *cobra.Command {
	var configFlag string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration file and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath(configFlag))
			if err != nil {
				return err
			}
			if cfg.Moderation.PatternsPath != "" {
				if _, err := moderation.LoadRuleset(cfg.Moderation.PatternsPath); err != nil {
					return fmt.Errorf("moderation patterns: %w", err)
				}
			}
			cmd.Println("configuration ok")
			return nil
		},
	}
	cmd.Flags().StringVarP(&configFlag, "config", "c", "", "Path to configuration file")
	return cmd
}

func runServe(ctx context.Context, cfg *config.Config) error {
	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	tracer, shutdownTracer := observability.NewTracer(observability.TraceConfig{
		ServiceName:    "pulse",
		ServiceVersion: version,
		Environment:    cfg.Tracing.Environment,
		Endpoint:       cfg.Tracing.Endpoint,
		SamplingRate:   cfg.Tracing.SamplingRate,
		EnableInsecure: cfg.Tracing.Insecure,
	})
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracer(shutdownCtx)
	}()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(ctx, cfg.Storage.Driver, cfg.Storage.DSN)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	ruleset := moderation.DefaultRuleset()
	if cfg.Moderation.PatternsPath != "" {
		ruleset, err = moderation.LoadRuleset(cfg.Moderation.PatternsPath)
		if err != nil {
			return fmt.Errorf("load moderation patterns: %w", err)
		}
	}
	classifier, err := moderation.NewPatternClassifier(ruleset)
	if err != nil {
		return fmt.Errorf("compile moderation patterns: %w", err)
	}
	if cfg.Moderation.Watch && cfg.Moderation.PatternsPath != "" {
		watcher, err := moderation.NewWatcher(ctx, cfg.Moderation.PatternsPath, classifier, logger)
		if err != nil {
			return fmt.Errorf("watch moderation patterns: %w", err)
		}
		defer watcher.Close()
	}
	gate := moderation.NewGate(classifier, cfg.Moderation.FailsOpen(), logger, metrics)

	connRegistry := delivery.NewRegistry(delivery.RegistryConfig{
		QueueCapacity:    cfg.Realtime.QueueCapacity,
		SweepInterval:    cfg.Realtime.IdleSweepInterval(),
		IdleTimeout:      cfg.Realtime.IdleTimeout(),
		MaxConnectionAge: cfg.Realtime.MaxConnectionAge(),
		Features:         cfg.Realtime.Features,
	}, logger, metrics)
	connRegistry.Start(ctx)
	defer connRegistry.Stop(context.Background())

	dispatcher := notify.NewDispatcher(store, connRegistry, logger, metrics)
	lifecycle := conversation.NewLifecycle(store, connRegistry, dispatcher, logger, metrics)
	service := gateway.NewService(gate, lifecycle, dispatcher, connRegistry, logger, tracer)
	verifier := gateway.NewVerifier(cfg.Auth.JWTSecret)

	// Retention purge runs on the configured cron schedule.
	scheduler := cron.New()
	retention := time.Duration(cfg.Notifications.RetentionDays) * 24 * time.Hour
	if _, err := scheduler.AddFunc(cfg.Notifications.PurgeSchedule, func() {
		if _, err := dispatcher.Purge(ctx, retention); err != nil {
			logger.Error(ctx, "retention purge failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule retention purge: %w", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	server := gateway.NewServer(cfg.Server, service, connRegistry, verifier, logger, metrics, registry)

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info(context.Background(), "shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.Server.ShutdownTimeoutSec)*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
