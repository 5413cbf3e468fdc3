package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-push-session/internal/platform/gateway"
	"github.com/tinywideclouds/go-push-session/pkg/push"
)

// Invalid token backends.
const (
	BackendRedis     = "redis"
	BackendFirestore = "firestore"
)

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

// PushConfig locates the client credentials and selects the gateway.
type PushConfig struct {
	CertPath             string
	KeyPath              string
	CAPath               string
	Development          bool
	MaxConcurrentStreams int
	Topic                string
}

// Session converts to the push package configuration.
func (p PushConfig) Session() push.Config {
	return push.Config{
		CertPath:             p.CertPath,
		KeyPath:              p.KeyPath,
		CAPath:               p.CAPath,
		Development:          p.Development,
		MaxConcurrentStreams: p.MaxConcurrentStreams,
		Topic:                []byte(p.Topic),
	}
}

// Config defines the *single*, authoritative configuration.
type Config struct {
	ProjectID              string
	ListenAddr             string
	IdentityURL            string
	SubscriptionID         string
	SubscriptionDLQTopicID string
	NumPipelineWorkers     int

	// InvalidTokenBackend selects where rejected tokens are remembered:
	// "redis", "firestore" or "" for none.
	InvalidTokenBackend string
	// InvalidTokenTTL is how long a rejected token stays suppressed, on
	// every backend.
	InvalidTokenTTL time.Duration

	CorsConfig middleware.CorsConfig
	Redis      RedisConfig
	Push       PushConfig
	Dispatch   gateway.Config

	TopicID              string
	PubsubConsumerConfig *messagepipeline.GooglePubsubConsumerConfig
}

// UpdateConfigWithEnvOverrides applies environment variables and final validation.
func UpdateConfigWithEnvOverrides(cfg *Config, logger *slog.Logger) (*Config, error) {
	logger.Debug("Applying environment variable overrides...")

	// 1. Apply Environment Overrides
	if val := os.Getenv("PROJECT_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "PROJECT_ID", "source", "env")
		cfg.ProjectID = val
	}
	if val := os.Getenv("PORT"); val != "" {
		logger.Debug("Overriding config value", "key", "PORT", "source", "env")
		cfg.ListenAddr = ":" + val
	}
	if val := os.Getenv("IDENTITY_SERVICE_URL"); val != "" {
		logger.Debug("Overriding config value", "key", "IDENTITY_SERVICE_URL", "source", "env")
		cfg.IdentityURL = val
	}
	if val := os.Getenv("SUBSCRIPTION_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "SUBSCRIPTION_ID", "source", "env")
		cfg.SubscriptionID = val
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(val)
	}
	if val := os.Getenv("SUBSCRIPTION_DLQ_TOPIC_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "SUBSCRIPTION_DLQ_TOPIC_ID", "source", "env")
		cfg.SubscriptionDLQTopicID = val
	}
	if val := os.Getenv("NUM_PIPELINE_WORKERS"); val != "" {
		if workers, err := strconv.Atoi(val); err == nil && workers > 0 {
			logger.Debug("Overriding config value", "key", "NUM_PIPELINE_WORKERS", "source", "env")
			cfg.NumPipelineWorkers = workers
		}
	}

	// Push gateway Overrides
	if val := os.Getenv("PUSH_CERT_PATH"); val != "" {
		logger.Debug("Overriding config value", "key", "PUSH_CERT_PATH", "source", "env")
		cfg.Push.CertPath = val
	}
	if val := os.Getenv("PUSH_KEY_PATH"); val != "" {
		logger.Debug("Overriding config value", "key", "PUSH_KEY_PATH", "source", "env")
		cfg.Push.KeyPath = val
	}
	if val := os.Getenv("PUSH_CA_PATH"); val != "" {
		logger.Debug("Overriding config value", "key", "PUSH_CA_PATH", "source", "env")
		cfg.Push.CAPath = val
	}
	if val := os.Getenv("PUSH_DEVELOPMENT"); val != "" {
		if dev, err := strconv.ParseBool(val); err == nil {
			logger.Debug("Overriding config value", "key", "PUSH_DEVELOPMENT", "source", "env")
			cfg.Push.Development = dev
		}
	}
	if val := os.Getenv("PUSH_MAX_STREAMS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			logger.Debug("Overriding config value", "key", "PUSH_MAX_STREAMS", "source", "env")
			cfg.Push.MaxConcurrentStreams = n
		}
	}
	if val := os.Getenv("PUSH_TOPIC"); val != "" {
		logger.Debug("Overriding config value", "key", "PUSH_TOPIC", "source", "env")
		cfg.Push.Topic = val
	}

	// Dispatch Overrides
	if val := os.Getenv("DISPATCH_CONCURRENCY"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			cfg.Dispatch.Concurrency = n
		}
	}
	if val := os.Getenv("DISPATCH_MAX_ATTEMPTS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			cfg.Dispatch.MaxAttempts = n
		}
	}

	// Redis Overrides
	if val := os.Getenv("REDIS_ADDR"); val != "" {
		cfg.Redis.Addr = val
		cfg.Redis.Enabled = true
	}
	if val := os.Getenv("REDIS_PASSWORD"); val != "" {
		cfg.Redis.Password = val
	}
	if val := os.Getenv("REDIS_DB"); val != "" {
		if db, err := strconv.Atoi(val); err == nil {
			cfg.Redis.DB = db
		}
	}
	if val := os.Getenv("REDIS_ENABLED"); val != "" {
		enabled, _ := strconv.ParseBool(val)
		cfg.Redis.Enabled = enabled
	}

	// Invalid Token Store Overrides
	if val := os.Getenv("INVALID_TOKEN_BACKEND"); val != "" {
		logger.Debug("Overriding config value", "key", "INVALID_TOKEN_BACKEND", "source", "env")
		cfg.InvalidTokenBackend = strings.ToLower(val)
	}
	if val := os.Getenv("INVALID_TOKEN_TTL"); val != "" {
		if ttl, err := time.ParseDuration(val); err == nil && ttl > 0 {
			logger.Debug("Overriding config value", "key", "INVALID_TOKEN_TTL", "source", "env")
			cfg.InvalidTokenTTL = ttl
		}
	}

	// CORS Overrides
	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		logger.Debug("Overriding config value", "key", "CORS_ALLOWED_ORIGINS", "source", "env")
		rawOrigins := strings.Split(corsOrigins, ",")
		var cleanOrigins []string
		for _, o := range rawOrigins {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				cleanOrigins = append(cleanOrigins, trimmed)
			}
		}
		cfg.CorsConfig.AllowedOrigins = cleanOrigins
	}

	// 2. Final Validation
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("project_id is required (set via YAML or PROJECT_ID env var)")
	}
	if cfg.SubscriptionID == "" {
		return nil, fmt.Errorf("subscription_id is required (set via YAML or SUBSCRIPTION_ID env var)")
	}
	if err := validatePush(cfg.Push); err != nil {
		return nil, err
	}
	if cfg.InvalidTokenBackend == "" && cfg.Redis.Enabled {
		cfg.InvalidTokenBackend = BackendRedis
	}
	switch cfg.InvalidTokenBackend {
	case "", BackendRedis, BackendFirestore:
	default:
		return nil, fmt.Errorf("invalid_token_backend %q is not one of %q, %q", cfg.InvalidTokenBackend, BackendRedis, BackendFirestore)
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.IdentityURL == "" {
		cfg.IdentityURL = "http://localhost:3000"
	}
	if cfg.NumPipelineWorkers <= 0 {
		cfg.NumPipelineWorkers = 1
	}
	if cfg.InvalidTokenTTL <= 0 {
		cfg.InvalidTokenTTL = 30 * 24 * time.Hour
	}

	if cfg.PubsubConsumerConfig == nil && cfg.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}

	logger.Debug("Configuration finalized and validated successfully")
	return cfg, nil
}

func validatePush(p PushConfig) error {
	var errs []error
	if p.CertPath == "" {
		errs = append(errs, errors.New("push.cert_path is required (PUSH_CERT_PATH)"))
	}
	if p.KeyPath == "" {
		errs = append(errs, errors.New("push.key_path is required (PUSH_KEY_PATH)"))
	}
	if p.CAPath == "" {
		errs = append(errs, errors.New("push.ca_path is required (PUSH_CA_PATH)"))
	}
	if p.Topic == "" {
		errs = append(errs, errors.New("push.topic is required (PUSH_TOPIC)"))
	}
	if p.MaxConcurrentStreams <= 0 {
		errs = append(errs, errors.New("push.max_concurrent_streams must be positive (PUSH_MAX_STREAMS)"))
	}
	return errors.Join(errs...)
}
