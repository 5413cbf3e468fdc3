package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gopkg.in/yaml.v3"

	"github.com/tinywideclouds/go-push-session/internal/api"
	"github.com/tinywideclouds/go-push-session/internal/obs"
	"github.com/tinywideclouds/go-push-session/internal/platform/gateway"
	"github.com/tinywideclouds/go-push-session/internal/storage/cache"
	fsStore "github.com/tinywideclouds/go-push-session/internal/storage/firestore"
	"github.com/tinywideclouds/go-push-session/pkg/dispatch"
	"github.com/tinywideclouds/go-push-session/pkg/push"
	"github.com/tinywideclouds/go-push-session/pushservice"
	"github.com/tinywideclouds/go-push-session/pushservice/config"
)

//go:embed local.yaml
var configFile []byte

func main() {
	var logLevel slog.Level
	switch os.Getenv("LOG_LEVEL") {
	case "debug", "DEBUG":
		logLevel = slog.LevelDebug
	case "info", "INFO":
		logLevel = slog.LevelInfo
	case "warn", "WARN":
		logLevel = slog.LevelWarn
	case "error", "ERROR":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})).With("service", "go-push-session")
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger); err != nil {
		logger.Error("Service exited with error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	// --- Config Loading ---
	var yamlCfg config.YamlConfig
	if err := yaml.Unmarshal(configFile, &yamlCfg); err != nil {
		return fmt.Errorf("failed to unmarshal embedded yaml config: %w", err)
	}
	baseCfg, err := config.NewConfigFromYaml(&yamlCfg, logger)
	if err != nil {
		return fmt.Errorf("failed to build config from yaml: %w", err)
	}
	cfg, err := config.UpdateConfigWithEnvOverrides(baseCfg, logger)
	if err != nil {
		return fmt.Errorf("config failed: %w", err)
	}

	// --- Infrastructure Clients ---
	psClient, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return fmt.Errorf("pubsub client failed: %w", err)
	}
	defer psClient.Close()

	// --- Invalid Token Store (optional) ---
	var (
		invalidStore dispatch.InvalidTokenStore
		forgetter    api.TokenForgetter
	)
	switch cfg.InvalidTokenBackend {
	case config.BackendRedis:
		logger.Info("Initializing Redis invalid token store...", "addr", cfg.Redis.Addr)
		redisClient, err := cache.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer redisClient.Close()
		store := cache.NewInvalidTokenStore(redisClient, cfg.InvalidTokenTTL)
		invalidStore, forgetter = store, store
	case config.BackendFirestore:
		logger.Info("Initializing Firestore invalid token store...")
		fsClient, err := firestore.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			return fmt.Errorf("firestore client failed: %w", err)
		}
		defer fsClient.Close()
		store := fsStore.NewInvalidTokenStore(fsClient, cfg.InvalidTokenTTL)
		go purgeExpired(ctx, store, logger)
		invalidStore, forgetter = store, store
	default:
		logger.Warn("No invalid token store; rejected tokens will not be suppressed")
	}

	// --- Push Session ---
	session, err := push.Open(cfg.Push.Session(), logger)
	if err != nil {
		return fmt.Errorf("failed to open push session: %w", err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			logger.Warn("Push session close reported errors", "err", err)
		}
	}()
	if err := obs.RegisterSessionGauges(prometheus.DefaultRegisterer, session); err != nil {
		return fmt.Errorf("failed to register session metrics: %w", err)
	}
	dispatcher := gateway.NewDispatcher(session, cfg.Dispatch, logger)

	// --- Auth ---
	jwksURL, err := middleware.DiscoverAndValidateJWTConfig(cfg.IdentityURL, middleware.RSA256, logger)
	if err != nil {
		return fmt.Errorf("failed to discover jwt config: %w", err)
	}
	authMiddleware, err := middleware.NewJWKSAuthMiddleware(jwksURL, logger)
	if err != nil {
		return fmt.Errorf("failed to create auth middleware: %w", err)
	}

	// --- Consumer & Service ---
	consumer, err := newIngestionConsumer(ctx, cfg, psClient, logger)
	if err != nil {
		return err
	}

	service, err := pushservice.New(cfg, consumer, dispatcher, invalidStore, forgetter, authMiddleware, logger)
	if err != nil {
		return fmt.Errorf("service creation failed: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting service...", "addr", cfg.ListenAddr, "gateway", session.Info().Host)
		errCh <- service.Start(ctx)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("service stopped: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return service.Shutdown(shutdownCtx)
}

func newIngestionConsumer(ctx context.Context, cfg *config.Config, psClient *pubsub.Client, logger *slog.Logger) (messagepipeline.MessageConsumer, error) {
	sub := convertPubsub(cfg.ProjectID, cfg.PubsubConsumerConfig.SubscriptionID, "subscriptions")
	topicID := convertPubsub(cfg.ProjectID, cfg.TopicID, "topics")

	subConfig := &pubsubpb.Subscription{
		Name:                  sub,
		Topic:                 topicID,
		AckDeadlineSeconds:    10,
		EnableMessageOrdering: false,
	}
	if cfg.SubscriptionDLQTopicID != "" {
		subConfig.DeadLetterPolicy = &pubsubpb.DeadLetterPolicy{
			DeadLetterTopic:     convertPubsub(cfg.ProjectID, cfg.SubscriptionDLQTopicID, "topics"),
			MaxDeliveryAttempts: 5,
		}
	}
	logger.Debug("Ensuring subscription exists", "sub", subConfig.Name, "topic", subConfig.Topic)
	_, err := psClient.SubscriptionAdminClient.CreateSubscription(ctx, subConfig)
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			logger.Debug("Subscription already exists, skipping creation", "sub", subConfig.Name)
		} else {
			logger.Error("Failed to create subscription", "sub", subConfig.Name, "err", err)
			return nil, fmt.Errorf("could not create sub %s: %w", sub, err)
		}
	}

	return messagepipeline.NewGooglePubsubConsumer(
		messagepipeline.NewGooglePubsubConsumerDefaults(subConfig.Name), psClient, logger,
	)
}

// purgeExpired removes expired Firestore records hourly until ctx ends.
func purgeExpired(ctx context.Context, store *fsStore.InvalidTokenStore, logger *slog.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := store.Purge(ctx)
			if err != nil {
				logger.Warn("Invalid token purge failed", "err", err)
				continue
			}
			logger.Debug("Purged expired invalid tokens", "removed", removed)
		}
	}
}

type PS string

func convertPubsub(project, id string, ps PS) string {
	return fmt.Sprintf("projects/%s/%s/%s", project, ps, id)
}
