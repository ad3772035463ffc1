// Package main is the entry point for the fableforge invocation service.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/fableforge/fableforge/internal/cache"
	"github.com/fableforge/fableforge/internal/cachekey"
	"github.com/fableforge/fableforge/internal/config"
	"github.com/fableforge/fableforge/internal/health"
	"github.com/fableforge/fableforge/internal/jobs"
	"github.com/fableforge/fableforge/internal/observability"
	"github.com/fableforge/fableforge/internal/orchestrator"
	"github.com/fableforge/fableforge/internal/provider"
	"github.com/fableforge/fableforge/internal/retry"
	"github.com/fableforge/fableforge/internal/server"
	"github.com/fableforge/fableforge/internal/session"
)

// Version information (set at build time).
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// cliFlags holds command line flags.
type cliFlags struct {
	configPath  string
	logLevel    string
	logFormat   string
	showVersion bool
}

func main() {
	flags := parseFlags()

	if flags.showVersion {
		printVersion()
		return
	}

	logger := initLogger(flags)
	defer func() { _ = logger.Sync() }()

	cfg := loadConfig(flags.configPath, logger)
	run(cfg, logger)
}

func parseFlags() cliFlags {
	configPath := flag.String("config", getEnvOrDefault("FABLEFORGE_CONFIG_PATH", ""),
		"Path to configuration file")
	logLevel := flag.String("log-level", getEnvOrDefault("FABLEFORGE_LOG_LEVEL", "info"),
		"Log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", getEnvOrDefault("FABLEFORGE_LOG_FORMAT", "json"),
		"Log format (json, console)")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	return cliFlags{
		configPath:  *configPath,
		logLevel:    *logLevel,
		logFormat:   *logFormat,
		showVersion: *showVersion,
	}
}

func printVersion() {
	fmt.Printf("fableforge version %s\n", version)
	fmt.Printf("  Build time: %s\n", buildTime)
	fmt.Printf("  Git commit: %s\n", gitCommit)
}

func initLogger(flags cliFlags) observability.Logger {
	logger, err := observability.NewLogger(observability.LogConfig{
		Level:  flags.logLevel,
		Format: flags.logFormat,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	return logger
}

func loadConfig(configPath string, logger observability.Logger) *config.Config {
	logger.Info("starting fableforge",
		observability.String("version", version),
		observability.String("config_path", configPath),
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatal("failed to load configuration", observability.Error(err))
	}
	return cfg
}

func run(cfg *config.Config, logger observability.Logger) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.TracingEnabled {
		tracer, err := observability.NewTracer(observability.TracerConfig{
			ServiceName:  cfg.ServiceName,
			OTLPEndpoint: cfg.OTLPEndpoint,
			SamplingRate: cfg.TracingSampleRate,
			Enabled:      true,
		})
		if err != nil {
			logger.Fatal("failed to initialize tracing", observability.Error(err))
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = tracer.Shutdown(shutdownCtx)
		}()
	}

	store, err := cache.New(&cfg.Cache, logger)
	if err != nil {
		logger.Fatal("failed to initialize cache", observability.Error(err))
	}
	defer func() { _ = store.Close() }()

	sessionStore, err := buildSessionStore(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to initialize session store", observability.Error(err))
	}

	registry := provider.BuildRegistry(&cfg.Providers, logger)
	executor := retry.NewExecutor(cfg.Retry, logger)
	keys := cachekey.NewBuilder()

	orch := orchestrator.New(cfg.ServiceName, keys, store, executor, registry, logger)
	tracker := session.NewTracker(cfg.Session, sessionStore, store, logger)
	runner := jobs.NewRunner(orch, tracker, 0, logger)

	checker := health.NewChecker(version)
	checker.RegisterCheck("cache", health.CacheCheck(store))
	for _, desc := range registry.Descriptors() {
		for _, capability := range desc.Capabilities {
			name := "provider:" + string(capability)
			checker.RegisterCheck(name, health.ProviderPoolCheck(registry, capability))
		}
	}

	metrics := prometheus.NewRegistry()
	cache.GetCacheMetrics().MustRegister(metrics)
	retry.GetRetryMetrics().MustRegister(metrics)
	provider.GetProviderMetrics().MustRegister(metrics)
	orchestrator.GetOrchestratorMetrics().MustRegister(metrics)
	jobs.GetJobsMetrics().MustRegister(metrics)

	srv := server.New(server.Deps{
		Config:       cfg,
		Logger:       logger,
		Orchestrator: orch,
		Tracker:      tracker,
		Runner:       runner,
		Checker:      checker,
		Metrics:      metrics,
		CloneOps:     cloneOperations(),
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error("server failed", observability.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout.Duration())
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", observability.Error(err))
	}
	if err := runner.Shutdown(shutdownCtx); err != nil {
		logger.Error("job runner shutdown", observability.Error(err))
	}
	logger.Info("shutdown complete")
}

func buildSessionStore(ctx context.Context, cfg *config.Config) (session.Store, error) {
	if cfg.Cache.Type == config.CacheTypeRedis {
		return session.NewRedisStore(ctx, cfg.Cache.RedisURL, cfg.Cache.KeyPrefix)
	}
	return session.NewMemoryStore(), nil
}

// cloneOperations maps session categories to the operation their clone
// jobs run. Voice clones pin the active provider; video generation fails
// over across the pool.
func cloneOperations() map[string]orchestrator.Operation {
	return map[string]orchestrator.Operation{
		"voice": {
			Name:       "voice.clone",
			Capability: provider.CapabilityVoiceClone,
			Validate:   requireField("voice_id"),
		},
		"video": {
			Name:       "video.generate",
			Capability: provider.CapabilityVideoGenerate,
			BestEffort: true,
			Validate:   requireField("video_id"),
		},
	}
}

func requireField(field string) func(map[string]any) error {
	return func(result map[string]any) error {
		if _, ok := result[field]; !ok {
			return fmt.Errorf("result missing %q", field)
		}
		return nil
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
