package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/jittakal/lbuffer/internal/config"
	"github.com/jittakal/lbuffer/internal/delim"
	"github.com/jittakal/lbuffer/internal/errors"
	"github.com/jittakal/lbuffer/internal/generator"
	"github.com/jittakal/lbuffer/internal/observability"
	"github.com/jittakal/lbuffer/internal/storage"
)

var (
	// Version information (set during build)
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := pflag.NewFlagSet("lbufgen", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	count := fs.IntP("count", "n", 1000, "number of records to generate, 0 runs until interrupted")
	interval := fs.Duration("interval", 0, "pause between records")
	seed := fs.Int64("seed", 0, "random seed, 0 picks one from the clock")
	fs.StringP("delimiter", "d", `\n`, "record delimiter, backslash escapes allowed")
	fs.StringP("output", "o", "-", "output destination: -, path or object storage URI")
	fs.BoolP("clobber", "f", false, "allow overwriting the output destination")
	fs.String("log-level", "info", "log level (debug, info, warn, error)")
	fs.String("log-format", "json", "log format (json, console)")
	cfgPath := fs.String("config", os.Getenv("CONFIG_PATH"), "path to configuration file (env CONFIG_PATH)")
	showVersion := fs.Bool("version", false, "print version information and exit")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "lbufgen: %v\n", err)
		return 2
	}
	if *showVersion {
		fmt.Fprintf(stdout, "lbufgen %s (commit %s, built %s)\n", version, commit, buildTime)
		return 0
	}

	loader := config.NewLoader()
	if err := loader.BindFlags(fs); err != nil {
		fmt.Fprintf(stderr, "lbufgen: %v\n", err)
		return 2
	}
	cfg, err := loader.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(stderr, "lbufgen: %v\n", err)
		return errors.ExitCode(err)
	}

	logger := observability.NewLoggerTo(observability.LoggingConfig{
		Level:  cfg.Observability.Logging.Level,
		Format: cfg.Observability.Logging.Format,
	}, stderr)
	defer logger.Sync()

	delimiter, err := delim.Unescape(cfg.Delimiter)
	if err != nil {
		logger.Error("invalid delimiter", zap.String("delimiter", cfg.Delimiter), zap.Error(err))
		return errors.ExitCode(err)
	}

	gen, err := generator.NewGenerator(generator.Config{
		Count:     *count,
		Interval:  *interval,
		Delimiter: delimiter,
		Seed:      *seed,
	}, logger)
	if err != nil {
		logger.Error("invalid generator configuration", zap.Error(err))
		return errors.ExitCode(err)
	}

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	router := storage.NewRouter(cfg.Storage, logger, metrics)
	defer router.Close()

	sink, err := router.OpenSink(ctx, cfg.Output.Destination, cfg.Output.Clobber)
	if err != nil {
		logger.Error("failed to open output", zap.Error(err))
		return errors.ExitCode(err)
	}

	n, err := gen.Run(ctx, sink)
	if errors.Is(err, context.Canceled) && *count == 0 {
		err = nil
	}
	if err == nil {
		err = sink.Close()
	} else {
		sink.Close()
	}
	if err != nil {
		logger.Error("generation failed", zap.Int("records", n), zap.Error(err))
		return errors.ExitCode(err)
	}

	logger.Info("generation finished", zap.Int("records", n), zap.String("output", sink.Name()))
	return 0
}
