package config

import (
	"log/slog"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-push-session/internal/platform/gateway"
)

type YamlCorsConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	Role           string   `yaml:"role"`
}

type YamlRedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Enabled  bool   `yaml:"enabled"`
}

type YamlPushConfig struct {
	CertPath             string `yaml:"cert_path"`
	KeyPath              string `yaml:"key_path"`
	CAPath               string `yaml:"ca_path"`
	Development          bool   `yaml:"development"`
	MaxConcurrentStreams int    `yaml:"max_concurrent_streams"`
	Topic                string `yaml:"topic"`
}

type YamlDispatchConfig struct {
	Concurrency int           `yaml:"concurrency"`
	MaxAttempts int           `yaml:"max_attempts"`
	MinBackoff  time.Duration `yaml:"min_backoff"`
	MaxBackoff  time.Duration `yaml:"max_backoff"`
}

// YamlConfig is the structure that mirrors the raw config.yaml file.
type YamlConfig struct {
	ProjectID              string             `yaml:"project_id"`
	ListenAddr             string             `yaml:"listen_addr"`
	IdentityURL            string             `yaml:"identity_url"`
	TopicID                string             `yaml:"topic_id"`
	SubscriptionID         string             `yaml:"subscription_id"`
	SubscriptionDLQTopicID string             `yaml:"subscription_dlq_topic_id"`
	InvalidTokenBackend    string             `yaml:"invalid_token_backend"`
	InvalidTokenTTL        time.Duration      `yaml:"invalid_token_ttl"`
	CorsConfig             YamlCorsConfig     `yaml:"cors"`
	RedisConfig            YamlRedisConfig    `yaml:"redis"`
	PushConfig             YamlPushConfig     `yaml:"push"`
	DispatchConfig         YamlDispatchConfig `yaml:"dispatch"`
	NumPipelineWorkers     int                `yaml:"num_pipeline_workers"`
}

// NewConfigFromYaml converts the YamlConfig into a clean, base Config struct.
func NewConfigFromYaml(baseCfg *YamlConfig, logger *slog.Logger) (*Config, error) {
	logger.Debug("Mapping YAML config to base config struct")

	cfg := &Config{
		ProjectID:      baseCfg.ProjectID,
		ListenAddr:     baseCfg.ListenAddr,
		IdentityURL:    baseCfg.IdentityURL,
		TopicID:        baseCfg.TopicID,
		SubscriptionID: baseCfg.SubscriptionID,

		InvalidTokenBackend: baseCfg.InvalidTokenBackend,
		InvalidTokenTTL:     baseCfg.InvalidTokenTTL,
		CorsConfig: middleware.CorsConfig{
			AllowedOrigins: baseCfg.CorsConfig.AllowedOrigins,
			Role:           middleware.CorsRole(baseCfg.CorsConfig.Role),
		},
		Redis: RedisConfig{
			Addr:     baseCfg.RedisConfig.Addr,
			Password: baseCfg.RedisConfig.Password,
			DB:       baseCfg.RedisConfig.DB,
			Enabled:  baseCfg.RedisConfig.Enabled,
		},
		Push: PushConfig{
			CertPath:             baseCfg.PushConfig.CertPath,
			KeyPath:              baseCfg.PushConfig.KeyPath,
			CAPath:               baseCfg.PushConfig.CAPath,
			Development:          baseCfg.PushConfig.Development,
			MaxConcurrentStreams: baseCfg.PushConfig.MaxConcurrentStreams,
			Topic:                baseCfg.PushConfig.Topic,
		},
		Dispatch: gateway.Config{
			Concurrency: baseCfg.DispatchConfig.Concurrency,
			MaxAttempts: baseCfg.DispatchConfig.MaxAttempts,
			MinBackoff:  baseCfg.DispatchConfig.MinBackoff,
			MaxBackoff:  baseCfg.DispatchConfig.MaxBackoff,
		},
		SubscriptionDLQTopicID: baseCfg.SubscriptionDLQTopicID,
		NumPipelineWorkers:     baseCfg.NumPipelineWorkers,
	}

	if cfg.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}

	logger.Debug("YAML config mapping complete",
		"project_id", cfg.ProjectID,
		"listen_addr", cfg.ListenAddr,
		"subscription_id", cfg.SubscriptionID,
		"push_development", cfg.Push.Development,
	)

	return cfg, nil
}
