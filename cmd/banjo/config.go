package main

import (
	"fmt"
	"os"

	toml "github.com/pelletier/go-toml/v2"
)

type Config struct {
	Addr       string `toml:"addr"`        // serve: listen address
	URL        string `toml:"url"`         // send: server WebSocket URL
	MaxPayload uint64 `toml:"max_payload"` // wire frame cap in bytes, 0 = unlimited
	LogLevel   string `toml:"log_level"`
}

func defaultConfig() Config {
	return Config{
		Addr:     ":4444",
		URL:      "ws://127.0.0.1:4444/",
		LogLevel: "info",
	}
}

func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}

	buf, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := toml.Unmarshal(buf, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config '%s': %w", path, err)
	}
	return cfg, nil
}
