package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Config holds the server tunables. The YAML file is optional; environment
// variables override it.
type Config struct {
	Port  string `yaml:"port"`
	Store string `yaml:"store"`

	NATS struct {
		URL string `yaml:"url"`
	} `yaml:"nats"`

	Changefeed struct {
		FallbackInterval time.Duration `yaml:"fallback_interval"`
		PingInterval     time.Duration `yaml:"ping_interval"`
	} `yaml:"changefeed"`

	Gateway struct {
		SendBufferSize int           `yaml:"send_buffer_size"`
		PingInterval   time.Duration `yaml:"ping_interval"`
		CacheTTL       time.Duration `yaml:"cache_ttl"`
	} `yaml:"gateway"`
}

func defaultConfig() *Config {
	cfg := &Config{Port: "8080", Store: StorePostgres}
	cfg.Changefeed.FallbackInterval = 30 * time.Second
	cfg.Changefeed.PingInterval = 90 * time.Second
	cfg.Gateway.SendBufferSize = 256
	cfg.Gateway.PingInterval = 30 * time.Second
	cfg.Gateway.CacheTTL = 5 * time.Second
	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// loadConfig reads path over the defaults, then applies env overrides
func loadConfig(path string) (*Config, error) {
	config := defaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		log.Warn().Str("path", path).Msg("config file not found, using defaults")
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	config.Port = getEnv("PORT", config.Port)
	config.Store = getEnv("STORE", config.Store)
	config.NATS.URL = getEnv("NATS_URL", config.NATS.URL)
	config.Changefeed.FallbackInterval = getEnvAsDuration("FALLBACK_INTERVAL", config.Changefeed.FallbackInterval)
	config.Gateway.SendBufferSize = getEnvAsInt("GATEWAY_SEND_BUFFER", config.Gateway.SendBufferSize)

	switch config.Store {
	case StorePostgres, StoreMemory:
	default:
		return nil, fmt.Errorf("unknown store %q", config.Store)
	}
	return config, nil
}
