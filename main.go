// Command codewatch watches the live chat of a YouTube channel's current
// broadcast and copies every code it sees to the configured sinks.
// It:
//   - Loads configuration from the environment (and .env), overridable by flags.
//   - Resolves the channel handle to the active live chat session.
//   - Polls the chat, extracting the first code from each message.
//   - Optionally exposes /healthz, /readyz, /status and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM. Exit status is 0 on cancellation or
// when there is nothing live to watch, 1 on any other failure.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/onnwee/codewatch/chat"
	"github.com/onnwee/codewatch/config"
	"github.com/onnwee/codewatch/extract"
	"github.com/onnwee/codewatch/server"
	"github.com/onnwee/codewatch/sink"
	"github.com/onnwee/codewatch/telemetry"
	"github.com/onnwee/codewatch/youtubeapi"
)

var version = "dev"

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

func run(args []string, stderr io.Writer) int {
	// Load .env file if present (local convenience only; production relies on real env)
	_ = godotenv.Load()

	setupLogging()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		return 1
	}
	fs := pflag.NewFlagSet("codewatch", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	cfg.BindFlags(fs)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}
	if rest := fs.Args(); len(rest) > 0 && cfg.ChannelHandle == "" {
		cfg.ChannelHandle = rest[0]
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "codewatch: %v\n", err)
		return 1
	}
	pattern, err := extract.Compile(cfg.Pattern)
	if err != nil {
		fmt.Fprintf(stderr, "codewatch: %v\n", err)
		return 1
	}

	// Metrics / telemetry init
	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdown, err := telemetry.InitTracing(telemetry.TracingConfig{
		ServiceName:    "codewatch",
		ServiceVersion: version,
		Endpoint:       cfg.OTLPEndpoint,
		SampleRatio:    cfg.TraceSampleRatio,
	})
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		return 1
	}
	defer shutdown()

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = telemetry.WithCorrelation(ctx, uuid.New().String())
	logger := telemetry.LoggerWithCorr(ctx)

	yt, err := youtubeapi.New(ctx, cfg)
	if err != nil {
		fmt.Fprintf(stderr, "codewatch: %v\n", err)
		return 1
	}
	target, err := yt.Resolve(ctx, cfg.ChannelHandle)
	if err != nil {
		return report(stderr, logger, err)
	}

	out, err := sink.New(cfg, slog.Default())
	if err != nil {
		fmt.Fprintf(stderr, "codewatch: %v\n", err)
		return 1
	}

	engine := chat.NewEngine(target.LiveChatID, yt, out, chat.Options{
		Pattern:                pattern,
		Logger:                 slog.Default(),
		MinInterval:            cfg.MinPollInterval,
		BackoffInitial:         cfg.BackoffInitial,
		BackoffMax:             cfg.BackoffMax,
		BackoffJitter:          cfg.BackoffJitter,
		MaxConsecutiveFailures: cfg.MaxConsecutiveFailures,
	})

	// HTTP server (health/status/metrics)
	if cfg.HTTPAddr != "" {
		go func() {
			if err := server.Start(ctx, cfg.HTTPAddr, engine.Status); err != nil {
				slog.Error("http server exited with error", slog.Any("err", err))
			}
		}()
	}

	logger.Info("watching live chat",
		slog.String("channel", cfg.ChannelHandle),
		slog.String("video_id", target.VideoID),
		slog.Any("sinks", cfg.Sinks))

	err = engine.Run(ctx)
	return report(stderr, logger, err)
}

// report prints a one-line message for a terminal condition and maps it to an exit status.
func report(stderr io.Writer, logger *slog.Logger, err error) int {
	code := exitCode(err)
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		logger.Info("shutting down")
	case code == 0:
		fmt.Fprintf(stderr, "codewatch: %v\n", err)
	default:
		logger.Error("exiting", slog.Any("err", err))
		fmt.Fprintf(stderr, "codewatch: %v\n", err)
	}
	return code
}

func exitCode(err error) int {
	switch {
	case err == nil,
		errors.Is(err, context.Canceled),
		youtubeapi.IsResolutionError(err):
		return 0
	default:
		return 1
	}
}

// setupLogging configures the default logger. Defaults: level=info, format=text.
func setupLogging() {
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		// unknown level -> keep info but note once using temporary logger
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Debug("logger initialized", slog.String("level", lvl.String()), slog.String("format", map[bool]string{true: "json", false: "text"}[format == "json"]))
}
