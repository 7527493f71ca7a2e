package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/jittakal/lbuffer/internal/config"
	"github.com/jittakal/lbuffer/internal/config/dto"
	"github.com/jittakal/lbuffer/internal/delim"
	"github.com/jittakal/lbuffer/internal/errors"
	"github.com/jittakal/lbuffer/internal/kafka"
	"github.com/jittakal/lbuffer/internal/observability"
	"github.com/jittakal/lbuffer/internal/reblock"
	"github.com/jittakal/lbuffer/internal/server"
	"github.com/jittakal/lbuffer/internal/source"
	"github.com/jittakal/lbuffer/internal/storage"
	"github.com/jittakal/lbuffer/pkg/stream"
)

var (
	// Version information (set during build)
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

const shutdownTimeout = 5 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	// After the first signal, a second one terminates the process.
	go func() {
		<-ctx.Done()
		stop()
	}()
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func newFlagSet(stderr io.Writer) *pflag.FlagSet {
	fs := pflag.NewFlagSet("lbuffer", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: lbuffer [OPTIONS] [FILE...]\n\n")
		fmt.Fprintf(stderr, "Copy delimiter-separated records from FILEs (or stdin) to the output,\n")
		fmt.Fprintf(stderr, "buffering up to --buffer-lines records between reader and writer.\n\n")
		fs.PrintDefaults()
	}

	fs.IntP("buffer-lines", "b", 1024, "maximum number of records held in the queue")
	fs.Int("high-wm", 1, "queue length at which writing starts")
	fs.Int("low-wm", 1023, "queue length at which reading resumes")
	fs.BoolP("clobber", "f", false, "allow overwriting the output destination")
	fs.StringP("delimiter", "d", `\n`, "record delimiter, backslash escapes allowed")
	fs.StringP("output", "o", "-", "output destination: -, path, file://, s3://, gs://, azblob:// or kafka:// URI")
	fs.Int("page-size", 4096, "bytes requested per read")
	fs.Int("channel-capacity", 2, "capacity of the reader and writer channels")
	fs.Int("recycler-size", 0, "idle buffers kept for reuse (default 2*channel-capacity+2)")
	fs.Bool("separate-sources", false, "end the current record at the end of each input")
	fs.String("log-level", "info", "log level (debug, info, warn, error)")
	fs.String("log-format", "json", "log format (json, console)")
	fs.String("metrics-addr", "", "serve /metrics and health endpoints on this address")
	fs.String("config", "", "path to configuration file (env CONFIG_PATH)")
	fs.Bool("version", false, "print version information and exit")
	return fs
}

// run executes one lbuffer invocation and returns the process exit status.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet(stderr)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "lbuffer: %v\n", err)
		return 2
	}

	if showVersion, _ := fs.GetBool("version"); showVersion {
		fmt.Fprintf(stdout, "lbuffer %s (commit %s, built %s)\n", version, commit, buildTime)
		return 0
	}

	// Priority: CLI flag > CONFIG_PATH env var
	cfgPath, _ := fs.GetString("config")
	if cfgPath == "" {
		cfgPath = os.Getenv("CONFIG_PATH")
	}

	loader := config.NewLoader()
	if err := loader.BindFlags(fs); err != nil {
		fmt.Fprintf(stderr, "lbuffer: %v\n", err)
		return 2
	}
	cfg, err := loader.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(stderr, "lbuffer: %v\n", err)
		return errors.ExitCode(err)
	}

	runID := uuid.NewString()
	logger := newLogger(cfg.Observability.Logging, stderr).With(zap.String("run_id", runID))
	defer logger.Sync()

	delimiter, err := delim.Unescape(cfg.Delimiter)
	if err != nil {
		logger.Error("invalid delimiter", zap.String("delimiter", cfg.Delimiter), zap.Error(err))
		return errors.ExitCode(err)
	}

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	runner, err := reblock.New(reblock.ConfigFromDTO(cfg.Buffer, delimiter), logger, metrics)
	if err != nil {
		logger.Error("invalid buffer configuration", zap.Error(err))
		return errors.ExitCode(err)
	}

	logger.Info("starting lbuffer",
		zap.String("version", version),
		zap.Int("buffer_lines", cfg.Buffer.Lines),
		zap.Int("high_wm", cfg.Buffer.HighWM),
		zap.Int("low_wm", cfg.Buffer.LowWM),
		zap.String("output", cfg.Output.Destination),
	)

	health := server.NewRunHealth(runID)
	if addr := cfg.Observability.Metrics.Addr; addr != "" {
		httpServer := server.NewServer(server.Config{
			Addr:        addr,
			MetricsPath: cfg.Observability.Metrics.Path,
		}, health, registry, logger)
		if err := httpServer.Start(); err != nil {
			logger.Error("failed to start metrics server", zap.Error(err))
			return 1
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			httpServer.Shutdown(shutdownCtx)
		}()
	}

	router := storage.NewRouter(cfg.Storage, logger, metrics)
	defer router.Close()
	router.RegisterSink(storage.SchemeKafka, kafka.Factory(cfg.Kafka, runID, logger, metrics))

	sources, err := source.OpenAll(ctx, fs.Args(), router, logger)
	if err != nil {
		return fail(logger, metrics, health, "failed to open inputs", err)
	}

	sink, err := router.OpenSink(ctx, cfg.Output.Destination, cfg.Output.Clobber)
	if err != nil {
		source.CloseAll(sources)
		return fail(logger, metrics, health, "failed to open output", err)
	}

	health.SetPhase(server.PhaseRunning, nil)
	start := time.Now()

	runErr := runner.Run(ctx, sources, sink)
	if err := finishSink(sink, runErr, logger); err != nil {
		// The runner already counted its own failure.
		counted := metrics
		if runErr != nil {
			counted = nil
		}
		return fail(logger, counted, health, "reblocking failed", err)
	}

	health.SetPhase(server.PhaseFinished, nil)
	logger.Info("lbuffer finished",
		zap.Int("inputs", len(sources)),
		zap.String("output", sink.Name()),
		zap.Duration("elapsed", time.Since(start)),
	)
	return 0
}

// newLogger builds the logger, sending stderr output to the given writer.
func newLogger(cfg dto.LoggingConfig, stderr io.Writer) *zap.Logger {
	lc := observability.LoggingConfig{
		Level:  cfg.Level,
		Format: cfg.Format,
		Output: cfg.Output,
	}
	switch cfg.Output {
	case "", "stderr":
		return observability.NewLoggerTo(lc, stderr)
	default:
		return observability.NewLogger(lc)
	}
}

// finishSink closes sink after a run. A failed run aborts sinks that support
// it so no partial object is committed.
func finishSink(sink stream.Sink, runErr error, logger *zap.Logger) error {
	if errors.Is(runErr, errors.ErrWriterStuck) {
		// The abandoned writer may still be inside Write.
		if aborter, ok := sink.(stream.Aborter); ok {
			aborter.Abort(runErr)
		}
		logger.Warn("output left open, writer still blocked", zap.String("output", sink.Name()))
		return runErr
	}
	if runErr != nil {
		if aborter, ok := sink.(stream.Aborter); ok {
			aborter.Abort(runErr)
		}
		if err := sink.Close(); err != nil && !errors.Is(err, runErr) {
			logger.Warn("failed to close output after error", zap.String("output", sink.Name()), zap.Error(err))
		}
		return runErr
	}
	return sink.Close()
}

// fail logs err, records it and returns its exit status. metrics is nil when
// the error was already counted.
func fail(logger *zap.Logger, metrics *observability.Metrics, health *server.RunHealth, msg string, err error) int {
	kind := errors.Classify(err)
	health.SetPhase(server.PhaseFailed, err)
	if metrics != nil {
		metrics.IncErrors(string(kind))
	}
	logger.Error(msg, zap.String("kind", string(kind)), zap.Error(err))
	return errors.ExitCode(err)
}
