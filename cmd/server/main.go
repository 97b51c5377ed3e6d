package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/my6014/Dialect-Master/internal/audio"
	"github.com/my6014/Dialect-Master/internal/config"
	"github.com/my6014/Dialect-Master/internal/engine"
	"github.com/my6014/Dialect-Master/internal/gateway"
	"github.com/my6014/Dialect-Master/internal/metrics"
	"github.com/my6014/Dialect-Master/internal/recognition"
	"github.com/my6014/Dialect-Master/internal/server"
	"github.com/my6014/Dialect-Master/internal/tags"
	"github.com/my6014/Dialect-Master/internal/vad"
)

const defaultConfigPath = "configs/config.yaml"

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger based on configuration
	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", server.ServiceName),
		slog.String("version", server.ServiceVersion),
		slog.String("config_path", *configPath),
	)

	// Log configuration summary (without sensitive data)
	logger.Info("Configuration loaded",
		slog.String("http_address", fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port)),
		slog.Int("target_sample_rate", cfg.Audio.TargetSampleRate),
		slog.Int("decode_workers", cfg.Audio.DecodeWorkers),
		slog.Bool("ffmpeg_enabled", cfg.Audio.FFmpegEnabled),
		slog.Bool("vad_enabled", cfg.VAD.Enabled),
		slog.String("engine_endpoint", cfg.Engine.Endpoint),
		slog.Bool("gateway_enabled", cfg.Gateway.Enabled),
		slog.String("log_level", cfg.Logging.Level),
	)

	// Initialize Prometheus metrics on a dedicated registry
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	appMetrics := metrics.NewMetrics(registry)
	logger.Info("Prometheus metrics initialized")

	normalizer := audio.NewNormalizer(audio.NormalizerConfig{
		TargetSampleRate: cfg.Audio.TargetSampleRate,
		FFmpeg: audio.FFmpegConfig{
			Enabled: cfg.Audio.FFmpegEnabled,
			Path:    cfg.Audio.FFmpegPath,
			TempDir: cfg.Audio.TempDir,
			Timeout: cfg.Audio.GetFFmpegTimeout(),
		},
	}, logger)

	var vadProcessor *vad.Processor
	if cfg.VAD.Enabled {
		vadProcessor, err = vad.NewProcessor(cfg.VAD.Threshold, cfg.VAD.WindowSize)
		if err != nil {
			logger.Error("Failed to create VAD processor", slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("VAD processor initialized",
			slog.Float64("threshold", float64(cfg.VAD.Threshold)),
			slog.Int("window_size", cfg.VAD.WindowSize),
		)
	}

	engineClient, err := engine.NewClient(engine.Config{
		Endpoint:      cfg.Engine.Endpoint,
		APIKey:        cfg.Engine.APIKey,
		Timeout:       cfg.Engine.GetTimeoutDuration(),
		MaxConcurrent: cfg.Engine.MaxConcurrent,
	}, appMetrics, logger)
	if err != nil {
		logger.Error("Failed to create engine client", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer engineClient.Close()
	logger.Info("Engine client initialized", slog.String("endpoint", cfg.Engine.Endpoint))

	service := recognition.NewService(recognition.Config{
		DecodeWorkers: cfg.Audio.DecodeWorkers,
		Options: engine.Options{
			UseITN:            cfg.Engine.UseITN,
			BanEmotionUnknown: cfg.Engine.BanEmotionUnknown,
		},
	}, normalizer, engineClient, tags.NewExtractor(nil), vadProcessor, appMetrics, logger)

	var forwarder *gateway.Forwarder
	if cfg.Gateway.Enabled {
		forwarder, err = gateway.NewForwarder(gateway.Config{
			UpstreamURL: cfg.Gateway.UpstreamURL,
			Timeout:     cfg.Gateway.GetTimeoutDuration(),
		}, appMetrics, logger)
		if err != nil {
			logger.Error("Failed to create gateway forwarder", slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("Gateway forwarder initialized", slog.String("upstream_url", cfg.Gateway.UpstreamURL))
	}

	httpServer := server.NewHTTPServer(cfg, server.Dependencies{
		Recognizer:     service,
		EngineStats:    engineClient,
		VAD:            vadProcessor,
		Gateway:        forwarder,
		Metrics:        appMetrics,
		MetricsHandler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}),
	}, logger)

	if err := httpServer.Start(); err != nil {
		logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Setup signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Service started successfully, waiting for signals...")

	<-ctx.Done()
	logger.Info("Received shutdown signal")

	logger.Info("Starting graceful shutdown...")

	// In-flight batches get the write timeout to finish
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.GetWriteTimeout()+5*time.Second)
	defer shutdownCancel()

	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
	}

	// Get final statistics
	stats := engineClient.GetStats()
	logger.Info("Final engine statistics",
		slog.Uint64("total_requests", stats.TotalRequests),
		slog.Uint64("success_requests", stats.SuccessRequests),
		slog.Uint64("failed_requests", stats.FailedRequests),
		slog.Uint64("total_clips", stats.TotalClips),
		slog.Uint64("unknown_keys", stats.UnknownKeys),
	)

	logger.Info("Service stopped")
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	// Determine output destination
	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
