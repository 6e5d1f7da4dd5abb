package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/los-telemetry-service/internal/adapter/cache"
	"github.com/couchcryptid/los-telemetry-service/internal/adapter/httpadapter"
	kafkaadapter "github.com/couchcryptid/los-telemetry-service/internal/adapter/kafka"
	"github.com/couchcryptid/los-telemetry-service/internal/adapter/mqtt"
	"github.com/couchcryptid/los-telemetry-service/internal/adapter/notify"
	"github.com/couchcryptid/los-telemetry-service/internal/adapter/postgres"
	"github.com/couchcryptid/los-telemetry-service/internal/adapter/websocket"
	"github.com/couchcryptid/los-telemetry-service/internal/alert"
	"github.com/couchcryptid/los-telemetry-service/internal/config"
	"github.com/couchcryptid/los-telemetry-service/internal/domain"
	"github.com/couchcryptid/los-telemetry-service/internal/observability"
	"github.com/couchcryptid/los-telemetry-service/internal/pipeline"
)

const alertStreamMaxLen = 10000

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()
	clock := clockwork.NewRealClock()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry, err := loadRegistry(cfg, logger)
	if err != nil {
		logger.Error("failed to load device registry", "path", cfg.DeviceRegistryFile, "error", err)
		os.Exit(1)
	}

	db, err := postgres.Open(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConns)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		logger.Error("failed to apply schema", "error", err)
		os.Exit(1)
	}

	readings := postgres.NewReadingStore(db, logger)
	thresholdStore := postgres.NewThresholdStore(db)
	thresholds := cache.NewThresholdCache(thresholdStore, cfg.ThresholdCacheSize, cfg.ThresholdCacheTTL, clock, metrics)

	// Alert sinks are optional; without any, alerts are only logged.
	var sinks []notify.Sink
	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		sinks = append(sinks, notify.NewRedisStream(redisClient, cfg.RedisStream, alertStreamMaxLen))
		logger.Info("redis alert stream enabled", "addr", cfg.RedisAddr, "stream", cfg.RedisStream)
	}
	if cfg.NotifyWebhookURL != "" {
		sinks = append(sinks, notify.NewWebhook(cfg.NotifyWebhookURL, cfg.NotifyTimeout))
		logger.Info("alert webhook enabled", "timeout", cfg.NotifyTimeout)
	}
	dispatcher := notify.NewDispatcher(logger, metrics, sinks...)
	evaluator := alert.NewEvaluator(thresholds, alert.NewMemoryCooldown(), dispatcher, clock, cfg.AlertCooldown, logger, metrics)

	hub := websocket.NewHub(logger, metrics)
	go hub.Run(ctx)
	broadcasters := []pipeline.Broadcaster{hub}

	var relay *kafkaadapter.Relay
	if cfg.KafkaEnabled {
		relay = kafkaadapter.NewRelay(cfg, logger)
		broadcasters = append(broadcasters, relay)
		logger.Info("kafka relay enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaSinkTopic)
	}

	topics := append(registry.Topics(), cfg.MQTTTopics...)
	subscriber, err := mqtt.NewSubscriber(cfg, topics, clock, logger)
	if err != nil {
		logger.Error("failed to create mqtt subscriber", "error", err)
		os.Exit(1)
	}
	if err := subscriber.Connect(ctx); err != nil {
		logger.Error("failed to connect to mqtt broker", "broker", cfg.MQTTBroker, "error", err)
		os.Exit(1)
	}
	logger.Info("subscribed", "topics", subscriber.Topics())

	p := pipeline.New(subscriber, pipeline.NewTransformer(registry), readings, evaluator, logger, metrics, cfg.BatchSize, broadcasters...)

	srv := httpadapter.NewServer(cfg.HTTPAddr, httpadapter.Deps{
		Ready:          httpadapter.AllReady(p, subscriber, readings),
		Readings:       readings,
		Thresholds:     thresholdStore,
		Invalidate:     thresholds.Invalidate,
		Live:           hub,
		AllowedOrigins: cfg.AllowedOrigins,
	}, logger)

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Start relay pipeline.
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

	// The pipeline finishes its current batch and the evaluator its deliveries
	// before the stores and sinks they write to are closed.
	if !waitOrTimeout(shutdownCtx, pipelineDone) {
		logger.Warn("pipeline did not stop before shutdown timeout")
	}
	notified := make(chan struct{})
	go func() {
		evaluator.Wait()
		close(notified)
	}()
	if !waitOrTimeout(shutdownCtx, notified) {
		logger.Warn("alert notifications still in flight at shutdown timeout")
	}

	if err := subscriber.Close(); err != nil {
		logger.Error("mqtt subscriber close error", "error", err)
	}
	if relay != nil {
		if err := relay.Close(); err != nil {
			logger.Error("kafka relay close error", "error", err)
		}
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Error("redis close error", "error", err)
		}
	}
	if err := db.Close(); err != nil {
		logger.Error("database close error", "error", err)
	}

	logger.Info("shutdown complete")
}

// waitOrTimeout reports whether done closed before ctx expired.
func waitOrTimeout(ctx context.Context, done <-chan struct{}) bool {
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

// loadRegistry reads the device registry. A missing file at the default
// path is not an error: every device then uses the default merge policy.
func loadRegistry(cfg *config.Config, logger *slog.Logger) (*domain.DeviceRegistry, error) {
	registry, err := config.LoadRegistry(cfg.DeviceRegistryFile)
	if errors.Is(err, config.ErrRegistryNotFound) && cfg.DeviceRegistryFile == config.DefaultRegistryFile {
		logger.Warn("device registry not found, using defaults", "path", cfg.DeviceRegistryFile)
		return domain.NewDeviceRegistry(domain.PolicyIntegerPlusFraction)
	}
	return registry, err
}
