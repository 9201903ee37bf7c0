package main

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

type Config struct {
	APIBaseURL string `yaml:"api_base_url"`
	SocketURL  string `yaml:"socket_url"`
	AuctionID  string `yaml:"auction_id"`
	ViewerID   string `yaml:"viewer_id"`
	Token      string `yaml:"token"`
	LogLevel   string `yaml:"log_level"`
	PrettyLogs bool   `yaml:"pretty_logs"`
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
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

func defaultConfig() *Config {
	return &Config{
		APIBaseURL: "http://localhost:8080",
		SocketURL:  "ws://localhost:8080/ws",
		AuctionID:  "demo-1",
		LogLevel:   "warn",
		PrettyLogs: true,
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

	cfg.APIBaseURL = getEnv("AUCTION_API_URL", cfg.APIBaseURL)
	cfg.SocketURL = getEnv("AUCTION_SOCKET_URL", cfg.SocketURL)
	cfg.AuctionID = getEnv("AUCTION_ID", cfg.AuctionID)
	cfg.ViewerID = getEnv("AUCTION_VIEWER_ID", cfg.ViewerID)
	cfg.Token = getEnv("AUCTION_TOKEN", cfg.Token)

	if cfg.Token == "" {
		cfg.Token = "guest-" + uuid.NewString()[:8]
	}
	if cfg.ViewerID == "" {
		// Against the simulator the bearer token doubles as the user id.
		cfg.ViewerID = cfg.Token
	}
	return cfg, nil
}
