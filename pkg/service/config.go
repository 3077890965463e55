package service

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config holds everything the service needs. Values load from an optional
// YAML file first, then environment variables override.
type Config struct {
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" envDefault:"info"`
	HTTPAddr string `yaml:"http_addr" env:"HTTP_ADDR" envDefault:":8080"`

	// BatchWindow is the debounce window W: a burst of events spaced closer
	// than this collapses into one article.
	BatchWindow time.Duration `yaml:"batch_window" env:"BATCH_WINDOW" envDefault:"2m"`

	ChannelSecret string `yaml:"channel_secret" env:"CHANNEL_SECRET"`
	ChannelToken  string `yaml:"channel_token" env:"CHANNEL_ACCESS_TOKEN"`

	ProjectID      string `yaml:"project_id" env:"PROJECT_ID"`
	MediaBucket    string `yaml:"media_bucket" env:"MEDIA_BUCKET"`
	MediaPrefix    string `yaml:"media_prefix" env:"MEDIA_PREFIX" envDefault:"media"`
	SubscriptionID string `yaml:"subscription_id" env:"EVENT_SUBSCRIPTION_ID"`

	HistoryCollection string `yaml:"history_collection" env:"HISTORY_COLLECTION" envDefault:"articles"`
	HistoryDataset    string `yaml:"history_dataset" env:"HISTORY_DATASET"`
	HistoryTable      string `yaml:"history_table" env:"HISTORY_TABLE" envDefault:"articles"`

	RedisAddr     string `yaml:"redis_addr" env:"REDIS_ADDR"`
	RedisPassword string `yaml:"redis_password" env:"REDIS_PASSWORD"`

	GenAIBaseURL string `yaml:"genai_base_url" env:"GENAI_BASE_URL"`
	GenAIAPIKey  string `yaml:"genai_api_key" env:"GENAI_API_KEY"`
	GenAIModel   string `yaml:"genai_model" env:"GENAI_MODEL"`

	SearchAPIKey   string `yaml:"search_api_key" env:"SEARCH_API_KEY"`
	SearchEngineID string `yaml:"search_engine_id" env:"SEARCH_ENGINE_ID"`

	HatenaID     string `yaml:"hatena_id" env:"HATENA_ID"`
	HatenaDomain string `yaml:"hatena_domain" env:"HATENA_BLOG_DOMAIN"`
	HatenaAPIKey string `yaml:"hatena_api_key" env:"HATENA_API_KEY"`
	HatenaDraft  bool   `yaml:"hatena_draft" env:"HATENA_DRAFT"`
}

// LoadConfig reads the YAML file at path (skipped when path is empty) and
// applies environment overrides.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment config: %w", err)
	}

	if cfg.ChannelSecret == "" {
		return nil, fmt.Errorf("channel secret is required")
	}
	return cfg, nil
}
