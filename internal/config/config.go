// Package config provides application configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/spf13/viper"
)

// Config holds application configuration values loaded from file or environment variables.
type Config struct {
	Port            string `mapstructure:"PORT"`
	Instance        string `mapstructure:"MASTODON_INSTANCE"`
	AccessToken     string `mapstructure:"MASTODON_ACCESS_TOKEN"`
	BannedWords     string `mapstructure:"BANNED_WORDS"`
	AllowedOrigins  string `mapstructure:"ALLOWED_ORIGINS"`
	RedisURL        string `mapstructure:"REDIS_URL"`
	Env             string `mapstructure:"APP_ENV"`
	SnapshotTTLSecs int    `mapstructure:"SNAPSHOT_CACHE_TTL_SECONDS"`
	TracingEnabled  bool   `mapstructure:"TRACING_ENABLED"`
	TracingExporter string `mapstructure:"TRACING_EXPORTER"`
	OTLPEndpoint    string `mapstructure:"OTLP_ENDPOINT"`
}

// LoadConfig loads application configuration from file and environment variables.
func LoadConfig() (*Config, error) {
	viper.AddConfigPath(".")
	viper.AddConfigPath("..")
	viper.AddConfigPath("../..")
	viper.SetConfigName("config")
	viper.SetConfigType("yml")
	viper.AutomaticEnv()

	// Initial read to get APP_ENV if set in base config.
	// We intentionally ignore this error as the config file may not exist yet
	_ = viper.ReadInConfig()

	env := viper.GetString("APP_ENV")
	if env == "" {
		env = "development"
	}

	if env != "development" && env != "" {
		viper.SetConfigName("config." + env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("required profile-specific config 'config.%s.yml' not found: %w", env, err)
		}
		log.Printf("Loaded profile-specific configuration: config.%s.yml", env)
	}

	// Set default values for development
	viper.SetDefault("PORT", "8080")
	viper.SetDefault("MASTODON_INSTANCE", "mastodon.social")
	viper.SetDefault("MASTODON_ACCESS_TOKEN", "")
	viper.SetDefault("BANNED_WORDS", "")
	viper.SetDefault("ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:3000,http://127.0.0.1:5173")
	viper.SetDefault("REDIS_URL", "")
	viper.SetDefault("APP_ENV", "development")
	viper.SetDefault("SNAPSHOT_CACHE_TTL_SECONDS", 5)
	viper.SetDefault("TRACING_ENABLED", false)
	viper.SetDefault("TRACING_EXPORTER", "stdout")
	viper.SetDefault("OTLP_ENDPOINT", "")

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Validate ensures that required configuration values are present.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT is required")
	}
	if c.Instance == "" {
		return errors.New("MASTODON_INSTANCE is required")
	}
	if strings.Contains(c.Instance, "://") || strings.Contains(c.Instance, "/") {
		return errors.New("MASTODON_INSTANCE must be a bare hostname, e.g. mastodon.social")
	}

	isProduction := c.Env == "production" || c.Env == "prod"
	if isProduction {
		if c.AllowedOrigins == "*" {
			log.Println("WARNING: ALLOWED_ORIGINS is set to '*' in production. This is insecure.")
		}
		if c.AccessToken == "" {
			log.Println("WARNING: MASTODON_ACCESS_TOKEN is empty. Some instances throttle anonymous streaming clients.")
		}
	}

	return nil
}

// BannedWordList returns the configured banned words, lowercased and trimmed,
// with empties discarded.
func (c *Config) BannedWordList() []string {
	if c.BannedWords == "" {
		return nil
	}
	parts := strings.Split(c.BannedWords, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
