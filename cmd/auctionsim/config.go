package main

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/Tj-Github30/live-flash-auction-sub000/internal/sim"
)

type Config struct {
	Addr       string            `yaml:"addr"`
	LogLevel   string            `yaml:"log_level"`
	PrettyLogs bool              `yaml:"pretty_logs"`
	Auctions   []sim.AuctionSpec `yaml:"auctions"`
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

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return &config, nil
}

// defaultConfig serves one demo auction so the simulator is useful with no
// config file at all.
func defaultConfig() *Config {
	return &Config{
		Addr:       ":8080",
		LogLevel:   "info",
		PrettyLogs: true,
		Auctions: []sim.AuctionSpec{{
			ID:              "demo-1",
			Title:           "Vintage Synth",
			SellerID:        "host-1",
			StartingBid:     1000,
			MinIncrement:    100,
			DurationSeconds: int64(getEnvAsInt("SIM_DEFAULT_DURATION", 300)),
		}},
	}
}

func resolveConfig(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		loaded, err := loadConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	cfg.Addr = getEnv("SIM_ADDR", cfg.Addr)
	cfg.LogLevel = getEnv("SIM_LOG_LEVEL", cfg.LogLevel)
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	return cfg, nil
}
