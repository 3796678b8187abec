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
	"github.com/jmylchreest/hlsfetch/internal/httpclient"
	"github.com/jmylchreest/hlsfetch/internal/models"
	"github.com/jmylchreest/hlsfetch/internal/observability"
	"github.com/jmylchreest/hlsfetch/internal/pipeline"
	"github.com/jmylchreest/hlsfetch/internal/resolver"
	"github.com/jmylchreest/hlsfetch/internal/segments"
	"github.com/jmylchreest/hlsfetch/internal/sink"
	"github.com/jmylchreest/hlsfetch/internal/storage"
	"github.com/jmylchreest/hlsfetch/internal/validator"
)

var downloadOutputDir string

var downloadCmd = &cobra.Command{
	Use:   "download <playlist-url> <output-name>",
	Short: "Resolve and download a single HLS playlist without the server",
	Long: `Runs the same resolve -> fetch -> validate -> assemble pipeline as
the server, but synchronously against one playlist and without the job
queue or database. Intended for scripting and ad hoc use.`,
	Args: cobra.ExactArgs(2),
	RunE: runDownload,
}

func init() {
	rootCmd.AddCommand(downloadCmd)

	downloadCmd.Flags().StringVar(&downloadOutputDir, "output-dir", ".", "Directory to write the assembled file into")
}

// runDownload builds the same pipeline Controller as the server command,
// but runs it directly against an in-memory job and reports progress to
// stderr instead of persisting it, for use as a one-shot CLI command.
func runDownload(cmd *cobra.Command, args []string) error {
	sourceURL, outputName := args[0], args[1]

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	cfg.Storage.BaseDir = downloadOutputDir

	logger := observability.NewLogger(cfg.Logging)
	observability.SetDefault(logger)

	sandbox, err := storage.NewSandbox(cfg.Storage.BaseDir)
	if err != nil {
		return fmt.Errorf("initializing storage sandbox: %w", err)
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
	client := httpclient.New(httpCfg)

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

	job := &models.Job{
		SourceURL:  sourceURL,
		OutputName: outputName,
	}
	job.ID = models.NewULID()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("received interrupt, cancelling download", slog.String("signal", sig.String()))
		cancel()
	}()

	reportProgress := func(phase string, percent int) {
		job.UpdateProgress(phase, percent)
		fmt.Fprintf(os.Stderr, "\r%-12s %3d%%", phase, percent)
	}

	err = controller.Run(ctx, job, reportProgress)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return fmt.Errorf("downloading %s: %w", sourceURL, err)
	}

	fmt.Printf("wrote %s\n", outputName)
	return nil
}
