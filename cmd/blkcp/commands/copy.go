package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/blkcp/blkcp/internal/bytesize"
	"github.com/blkcp/blkcp/internal/logger"
	"github.com/blkcp/blkcp/internal/telemetry"
	"github.com/blkcp/blkcp/pkg/config"
	"github.com/blkcp/blkcp/pkg/endpoint"
	"github.com/blkcp/blkcp/pkg/engine"
	"github.com/blkcp/blkcp/pkg/metrics"
	prommetrics "github.com/blkcp/blkcp/pkg/metrics/prometheus"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// copyResult carries the engine outcome across the signal select.
type copyResult struct {
	stats engine.Stats
	err   error
}

func runCopy(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	// Initialize the structured logger
	if err := InitLogger(cfg); err != nil {
		return err
	}

	// Create cancellable context for the whole run
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize OpenTelemetry (if enabled)
	telemetryCfg := telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "blkcp",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	}
	telemetryShutdown, err := telemetry.Init(ctx, telemetryCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(context.Background()); err != nil {
			logger.Error("telemetry shutdown error", "error", err)
		}
	}()

	// Initialize Pyroscope profiling (if enabled)
	profilingCfg := telemetry.ProfilingConfig{
		Enabled:        cfg.Telemetry.Profiling.Enabled,
		ServiceName:    "blkcp",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Profiling.Endpoint,
		ProfileTypes:   cfg.Telemetry.Profiling.ProfileTypes,
	}
	profilingShutdown, err := telemetry.InitProfiling(profilingCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize profiling: %w", err)
	}
	defer func() {
		if err := profilingShutdown(); err != nil {
			logger.Error("profiling shutdown error", "error", err)
		}
	}()

	// One ID ties this run's logs, metrics scrape and trace together.
	runID := uuid.New().String()
	log := logger.With("run_id", runID)

	// Initialize metrics (if enabled)
	var copyMetrics metrics.CopyMetrics
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		copyMetrics = prommetrics.NewCopyMetrics()

		stopMetrics, err := prommetrics.Serve(cfg.Metrics.Listen)
		if err != nil {
			return fmt.Errorf("failed to start metrics listener: %w", err)
		}
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Second)
			defer shutdownCancel()
			if err := stopMetrics(shutdownCtx); err != nil {
				logger.Error("metrics shutdown error", "error", err)
			}
		}()
		log.Info("metrics listener enabled", "addr", cfg.Metrics.Listen)
	}

	// Root span covers endpoint setup and the copy itself.
	ctx, span := telemetry.StartCopySpan(ctx,
		endpointLabel(inputFile, "standard input"),
		endpointLabel(outputFile, "standard output"),
		telemetry.RunID(runID),
		telemetry.BlockSize(cfg.Copy.BlockSize.Int()),
		telemetry.QueueDepth(cfg.Copy.QueueDepth),
	)
	defer span.End()

	// Open the endpoints. The destination is opened second so a bad
	// source never truncates it.
	srcCtx, srcSpan := telemetry.StartEndpointSpan(ctx, telemetry.SpanOpenSource, endpointLabel(inputFile, "standard input"))
	src, err := endpoint.OpenSource(inputFile, cfg.Copy.QueueDepth, !cfg.Copy.WithoutDirectInput)
	if err != nil {
		telemetry.RecordError(srcCtx, err)
		srcSpan.End()
		return fmt.Errorf("failed to open source: %w", err)
	}
	srcSpan.End()
	defer func() { _ = src.Close() }()

	dstCtx, dstSpan := telemetry.StartEndpointSpan(ctx, telemetry.SpanOpenDestination, endpointLabel(outputFile, "standard output"))
	dst, err := endpoint.OpenDestination(outputFile, cfg.Copy.QueueDepth, !cfg.Copy.WithoutDirectOutput)
	if err != nil {
		telemetry.RecordError(dstCtx, err)
		dstSpan.End()
		return fmt.Errorf("failed to open destination: %w", err)
	}
	dstSpan.End()
	defer func() { _ = dst.Close() }()

	telemetry.SetAttributes(ctx,
		telemetry.SourceKind(src.Class.Kind.String()),
		telemetry.DestinationKind(dst.Class.Kind.String()),
		telemetry.DirectInput(src.Direct),
		telemetry.DirectOutput(dst.Direct),
	)

	log.Info("copy starting",
		"source", src.Name(),
		"source_kind", src.Class.Kind.String(),
		"destination", dst.Name(),
		"destination_kind", dst.Class.Kind.String(),
		"block_size", cfg.Copy.BlockSize.String(),
		"queue_depth", cfg.Copy.QueueDepth,
		"direct_input", src.Direct,
		"direct_output", dst.Direct)

	// Buffers must satisfy the stricter endpoint
	alignment := src.Class.Alignment
	if dst.Class.Alignment > alignment {
		alignment = dst.Class.Alignment
	}

	eng, err := engine.New(
		engine.Input{Handles: src.Readers(), Seekable: src.Class.Seekable},
		engine.Output{Handles: dst.Writers(), Seekable: dst.Class.Seekable},
		engine.Options{
			BlockSize:    cfg.Copy.BlockSize.Int(),
			Alignment:    alignment,
			PollInterval: cfg.Copy.PollInterval,
			Metrics:      copyMetrics,
		},
	)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return err
	}

	// Run the copy in background
	copyDone := make(chan copyResult, 1)
	go func() {
		st, err := eng.Run(ctx)
		copyDone <- copyResult{stats: st, err: err}
	}()

	// Wait for interrupt signal or copy completion
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var res copyResult
	select {
	case sig := <-sigChan:
		signal.Stop(sigChan)
		log.Info("signal received, aborting copy", "signal", sig.String())
		cancel()
		res = <-copyDone

	case res = <-copyDone:
		signal.Stop(sigChan)
	}

	if res.err != nil {
		telemetry.RecordError(ctx, res.err)
		log.Error("copy failed",
			"error", res.err,
			"bytes_written", res.stats.BytesWritten)
		return res.err
	}

	telemetry.SetAttributes(ctx,
		telemetry.BytesRead(res.stats.BytesRead),
		telemetry.BytesWritten(res.stats.BytesWritten),
		telemetry.Reads(res.stats.Reads),
		telemetry.Writes(res.stats.Writes),
		telemetry.Continuations(res.stats.Continuations),
		telemetry.ThroughputMBps(res.stats.ThroughputMBps()),
	)

	log.Info("copy finished",
		"bytes_written", res.stats.BytesWritten,
		"reads", res.stats.Reads,
		"writes", res.stats.Writes,
		"continuations", res.stats.Continuations,
		"throughput_mbps", res.stats.ThroughputMBps())

	// Completion report on stderr; stdout may be the copied stream.
	fmt.Fprintln(os.Stderr, res.stats.String())
	return nil
}

// endpointLabel names an endpoint for spans before it is opened, with the
// empty path standing for the given standard stream.
func endpointLabel(path, std string) string {
	if path == "" {
		return std
	}
	return path
}

// loadConfig loads the configuration file and layers the copy flags on
// top of it. Anything wrong with the invocation itself comes back as a
// UsageError.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if cfgFile != "" {
		if _, err := os.Stat(cfgFile); os.IsNotExist(err) {
			return nil, Usagef("configuration file not found: %s", cfgFile)
		}
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if cmd.Flags().Changed("block-size") {
		size, err := bytesize.Parse(blockSizeFlag)
		if err != nil {
			return nil, Usagef("invalid block size %q: %v", blockSizeFlag, err)
		}
		cfg.Copy.BlockSize = size
	}
	if cmd.Flags().Changed("queue-depth") {
		cfg.Copy.QueueDepth = queueDepth
	}
	if withoutDirectInput {
		cfg.Copy.WithoutDirectInput = true
	}
	if withoutDirectOutput {
		cfg.Copy.WithoutDirectOutput = true
	}
	if cmd.Flags().Changed("metrics-listen") {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Listen = metricsListen
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	if err := config.Validate(cfg); err != nil {
		return nil, &UsageError{Err: err}
	}

	return cfg, nil
}
