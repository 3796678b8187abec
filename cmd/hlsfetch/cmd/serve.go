package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/hlsfetch/internal/assembler"
	"github.com/jmylchreest/hlsfetch/internal/blobstore"
	"github.com/jmylchreest/hlsfetch/internal/config"
	"github.com/jmylchreest/hlsfetch/internal/database"
	"github.com/jmylchreest/hlsfetch/internal/database/migrations"
	internalhttp "github.com/jmylchreest/hlsfetch/internal/http"
	"github.com/jmylchreest/hlsfetch/internal/http/handlers"
	"github.com/jmylchreest/hlsfetch/internal/httpclient"
	"github.com/jmylchreest/hlsfetch/internal/observability"
	"github.com/jmylchreest/hlsfetch/internal/pipeline"
	"github.com/jmylchreest/hlsfetch/internal/repository"
	"github.com/jmylchreest/hlsfetch/internal/resolver"
	"github.com/jmylchreest/hlsfetch/internal/scheduler"
	"github.com/jmylchreest/hlsfetch/internal/segments"
	"github.com/jmylchreest/hlsfetch/internal/sink"
	"github.com/jmylchreest/hlsfetch/internal/storage"
	"github.com/jmylchreest/hlsfetch/internal/validator"
	"github.com/jmylchreest/hlsfetch/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the hlsfetch server",
	Long: `Start the hlsfetch HTTP server and job API.

The server accepts download jobs over HTTP, persists them, and
dispatches them through a bounded worker pool that resolves the
playlist, fetches segments, validates the result, and assembles the
output file. It provides:
- REST API for submitting, inspecting, and cancelling jobs
- Health check endpoint
- OpenAPI documentation`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "", "Host to bind to (overrides config)")
	serveCmd.Flags().Int("port", 0, "Port to listen on (overrides config)")
	serveCmd.Flags().String("database-dsn", "", "Database DSN (overrides config)")
	serveCmd.Flags().String("data-dir", "", "Base directory for output, temp, and blob storage (overrides config)")
}

// applyServeFlagOverrides layers explicitly-set serve flags on top of the
// file/env-derived config, since config.Load uses its own Viper instance
// and never sees Cobra flags directly.
func applyServeFlagOverrides(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Server.Host, _ = flags.GetString("host")
	}
	if flags.Changed("port") {
		cfg.Server.Port, _ = flags.GetInt("port")
	}
	if flags.Changed("database-dsn") {
		cfg.Database.DSN, _ = flags.GetString("database-dsn")
	}
	if flags.Changed("data-dir") {
		cfg.Storage.BaseDir, _ = flags.GetString("data-dir")
	}
}

// runServe wires every pipeline component (resolver, scheduler, validator,
// assembler, sink) into a Controller, hands the Controller to a job
// Executor/Runner pair backed by the GORM job store, and exposes job
// submission over HTTP. Mirrors the reference server command's
// database -> migrate -> repositories -> services -> HTTP server
// ordering, generalized from the teacher's IPTV/EPG/proxy services to
// this engine's single download pipeline.
func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	applyServeFlagOverrides(cmd, cfg)

	logger := observability.NewLogger(cfg.Logging)
	observability.SetDefault(logger)

	db, err := database.New(cfg.Database, logger, nil)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Warn("error closing database", slog.Any("error", err))
		}
	}()

	migrator := migrations.NewMigrator(db.DB, logger)
	migrator.RegisterAll(migrations.AllMigrations())
	if err := migrator.Up(context.Background()); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	jobRepo := repository.NewGormJobRepository(db.DB)

	sandbox, err := storage.NewSandbox(cfg.Storage.BaseDir)
	if err != nil {
		return fmt.Errorf("initializing storage sandbox: %w", err)
	}
	if err := sandbox.MkdirAll(cfg.Storage.OutputDir); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	if err := sandbox.MkdirAll(cfg.Storage.TempDir); err != nil {
		return fmt.Errorf("creating temp directory: %w", err)
	}
	if err := sandbox.MkdirAll(cfg.Storage.BlobDir); err != nil {
		return fmt.Errorf("creating blob directory: %w", err)
	}

	blobs, err := blobstore.Open(cfg.Storage.BlobPath() + "/spill.bolt")
	if err != nil {
		return fmt.Errorf("opening blob store: %w", err)
	}
	defer func() {
		if err := blobs.Close(); err != nil {
			logger.Warn("error closing blob store", slog.Any("error", err))
		}
	}()

	httpCfg := httpclient.DefaultConfig()
	httpCfg.Timeout = cfg.Fetch.HTTPTimeout
	httpCfg.CircuitThreshold = cfg.Fetch.CircuitBreakerThreshold
	httpCfg.CircuitTimeout = cfg.Fetch.CircuitBreakerTimeout
	httpCfg.UserAgent = cfg.Fetch.UserAgent
	httpCfg.Logger = logger

	breakerManager := httpclient.NewManager(cfg.Fetch.CircuitBreakerThreshold, cfg.Fetch.CircuitBreakerTimeout)
	client := httpclient.NewWithBreaker(httpCfg, breakerManager.GetOrCreate("origin"))

	headers := httpclient.StandardHeaders{
		UserAgent: cfg.Fetch.UserAgent,
		Referer:   cfg.Fetch.Referer,
		Origin:    cfg.Fetch.Origin,
	}

	res := resolver.New(client, headers)
	sch := segments.NewScheduler(client, headers)
	val := validator.New(validator.Config{
		CompletenessFloor:  cfg.Validator.CompletenessFloor,
		LeadingPrefixCount: cfg.Validator.LeadingPrefixCount,
		MaxConsecutiveGap:  cfg.Validator.MaxConsecutiveGap,
	})
	asm := assembler.New(assembler.Config{
		SmallRegimeThresholdBytes: int64(cfg.Assembler.SmallRegimeThresholdBytes),
		ChunkSizeBytes:            int64(cfg.Assembler.ChunkSizeBytes),
		PartSizeBytes:             int64(cfg.Assembler.PartSizeBytes),
	}, blobs)
	fileSink := sink.NewFileSink(sandbox)

	registry := pipeline.NewCancelRegistry()
	controller := pipeline.NewController(res, sch, val, asm, fileSink, cfg.Fetch, registry)

	executor := scheduler.NewExecutor(controller, jobRepo).WithLogger(logger)
	runner := scheduler.NewRunner(jobRepo, executor).
		WithLogger(logger).
		WithConfig(scheduler.RunnerConfig{
			WorkerCount:   cfg.Runner.MaxConcurrentJobs,
			PollInterval:  cfg.Runner.PollInterval,
			LockTimeout:   cfg.Runner.LockTimeout,
			JobTimeout:    cfg.Runner.JobTimeout,
			CleanupAge:    cfg.Runner.CleanupAge,
			CleanupEnable: cfg.Runner.CleanupEnabled,
		})

	serverConfig := internalhttp.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		CORSOrigins:     cfg.Server.CORSOrigins,
	}
	server := internalhttp.NewServer(serverConfig, logger, version.Version)

	healthHandler := handlers.NewHealthHandler(version.Version)
	healthHandler.Register(server.API())

	jobHandler := handlers.NewJobHandler(jobRepo, res, registry, cfg.Runner.MaxConcurrentJobs, cfg.Fetch.HugeSegmentThreshold)
	jobHandler.Register(server.API())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
	}()

	if err := runner.Start(ctx); err != nil {
		return fmt.Errorf("starting job runner: %w", err)
	}
	defer runner.Stop()

	logger.Info("starting hlsfetch server",
		slog.String("host", serverConfig.Host),
		slog.Int("port", serverConfig.Port),
		slog.String("version", version.Version),
	)

	return server.ListenAndServe(ctx)
}
