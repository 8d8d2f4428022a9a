package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	httpadapter "github.com/couchcryptid/sonde-alert/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/sonde-alert/internal/adapter/kafka"
	"github.com/couchcryptid/sonde-alert/internal/adapter/sondehub"
	"github.com/couchcryptid/sonde-alert/internal/alertstate"
	"github.com/couchcryptid/sonde-alert/internal/config"
	"github.com/couchcryptid/sonde-alert/internal/engine"
	"github.com/couchcryptid/sonde-alert/internal/notify"
	"github.com/couchcryptid/sonde-alert/internal/observability"
	"github.com/couchcryptid/sonde-alert/internal/pipeline"
)

// newMetrics registers the service collectors. Tests swap in an
// unregistered set.
var newMetrics = observability.NewMetrics

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the alert service",
		Long:  "run consumes telemetry from the configured SOURCE, evaluates it against the rules file and delivers notifications until interrupted.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cfg.ConfigFile = rulesPath(cmd, cfg.ConfigFile)
			return runService(cmd.Context(), cfg)
		},
	}
}

// telemetrySource is the extractor chosen by SOURCE plus what the HTTP server
// and shutdown need from it.
type telemetrySource struct {
	extractor pipeline.BatchExtractor
	ingest    httpadapter.Ingester
	close     func() error
}

func buildSource(cfg *config.Config, rules *config.Rules, logger *slog.Logger) telemetrySource {
	switch cfg.Source {
	case config.SourceKafka:
		reader := kafkaadapter.NewReader(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroupID, logger)
		logger.Info("telemetry source: kafka", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic, "group_id", cfg.KafkaGroupID)
		return telemetrySource{extractor: reader, close: reader.Close}
	case config.SourceHTTP:
		source := pipeline.NewChannelSource(cfg.QueueSize, time.Second)
		logger.Info("telemetry source: http push", "path", "/api/v1/telemetry", "buffer", cfg.QueueSize)
		return telemetrySource{extractor: source, ingest: source, close: func() error { return nil }}
	default:
		radius := rules.QueryRadiusKM(cfg.SondeHubRadiusKM)
		client := sondehub.NewClient(cfg.SondeHubURL, cfg.SondeHubTimeout, logger)
		poller := sondehub.NewPoller(client, rules.Location.Point(), radius, rules.CheckInterval, nil)
		logger.Info("telemetry source: sondehub",
			"url", cfg.SondeHubURL,
			"radius_km", radius,
			"interval", rules.CheckInterval,
		)
		return telemetrySource{extractor: poller, close: func() error { return nil }}
	}
}

func runService(parent context.Context, cfg *config.Config) error {
	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	metrics := newMetrics()

	rules, err := config.LoadRules(cfg.ConfigFile)
	if err != nil {
		return err
	}
	logRules(logger, rules)

	notifiers, err := notify.NewNotifiers(rules.NotificationURLs, &http.Client{Timeout: cfg.NotifyTimeout})
	if err != nil {
		return fmt.Errorf("build notifiers: %w", err)
	}
	if len(notifiers) == 0 {
		logger.Warn("no notification endpoints configured, alerts will only be logged")
	}
	dispatcher := notify.NewDispatcher(notifiers, notify.DispatcherConfig{
		Workers:       cfg.DispatchWorkers,
		QueueSize:     cfg.DispatchQueueSize,
		Timeout:       cfg.NotifyTimeout,
		RatePerMinute: cfg.NotifyRatePerMinute,
	}, logger, metrics)

	eng := engine.New(rules.Location, rules.EnabledCriteria(), alertstate.New(), nil, logger, metrics, engine.Options{
		ClearAfter: cfg.ClearAfter,
		StateTTL:   cfg.StateTTL,
	})

	src := buildSource(cfg, rules, logger)
	transformer := pipeline.NewTransformer(cfg.PositionCacheSize, logger)
	p := pipeline.New(src.extractor, transformer, eng, dispatcher, logger, metrics, pipeline.Config{
		Source:        cfg.Source,
		BatchSize:     cfg.BatchSize,
		Workers:       cfg.Workers,
		QueueSize:     cfg.QueueSize,
		EvictInterval: cfg.EvictInterval,
	}, nil)

	srv := httpadapter.NewServer(cfg.HTTPAddr, p, src.ingest, logger, nil)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			stop()
		}
	}()

	// Start evaluation pipeline.
	pipelineDone := make(chan struct{})
	go func() {
		defer close(pipelineDone)
		if err := p.Run(ctx); err != nil {
			logger.Error("pipeline error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	select {
	case <-pipelineDone:
	case <-shutdownCtx.Done():
		logger.Warn("pipeline did not stop before shutdown timeout")
	}
	if err := src.close(); err != nil {
		logger.Error("telemetry source close error", "error", err)
	}
	if err := dispatcher.Close(shutdownCtx); err != nil {
		logger.Error("notification dispatcher close error", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}

func logRules(logger *slog.Logger, rules *config.Rules) {
	logger.Info("alert location",
		"name", rules.Location.Name,
		"lat", rules.Location.Lat,
		"lon", rules.Location.Lon,
	)
	for _, c := range rules.Criteria {
		if !c.Enabled {
			logger.Info("criterion disabled", "criterion", c.Name)
			continue
		}
		logger.Info("criterion enabled", "criterion", c.Name, "bounds", c.Describe())
	}
	logger.Info("notification endpoints", "count", len(rules.NotificationURLs))
}
