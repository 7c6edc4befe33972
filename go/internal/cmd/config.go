package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mcdev12/jukebox/go/internal/segcache"
)

type Config struct {
	Audio struct {
		UpstreamBaseURL string `yaml:"upstream_base_url"`
		CacheTTL        string `yaml:"cache_ttl"`
		SweepInterval   string `yaml:"sweep_interval"`
	} `yaml:"audio"`
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// loadConfig reads the yaml config file. A missing file is not an error;
// everything has env or built-in defaults.
func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return &config, nil
}

// cacheConfig resolves the segment cache settings, falling back to the
// package defaults for anything the config file leaves out.
func (c *Config) cacheConfig() (segcache.Config, error) {
	cfg := segcache.DefaultConfig()
	if c.Audio.CacheTTL != "" {
		ttl, err := time.ParseDuration(c.Audio.CacheTTL)
		if err != nil {
			return cfg, fmt.Errorf("failed to parse cache_ttl: %w", err)
		}
		cfg.TTL = ttl
	}
	if c.Audio.SweepInterval != "" {
		interval, err := time.ParseDuration(c.Audio.SweepInterval)
		if err != nil {
			return cfg, fmt.Errorf("failed to parse sweep_interval: %w", err)
		}
		cfg.SweepInterval = interval
	}
	return cfg, nil
}
