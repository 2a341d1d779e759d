package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config holds the application configuration
type Config struct {
	LLMProvider string            `json:"llm_provider"`
	APIKeys     map[string]string `json:"api_keys"`
	Model       string            `json:"model"`
	BaseURL     string            `json:"base_url,omitempty"`
	DataDir     string            `json:"data_dir"`
	MaxRepairs  int               `json:"max_repairs"`
	Timeout     int               `json:"timeout_seconds"`
	Addr        string            `json:"addr"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".botforge")

	return &Config{
		LLMProvider: "openai",
		APIKeys:     make(map[string]string),
		Model:       "gpt-4o-mini",
		DataDir:     dataDir,
		MaxRepairs:  3,
		Timeout:     60,
		Addr:        ":8080",
	}
}

// LoadConfig loads configuration from a file
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// If config file doesn't exist, create one with default values
			if err := SaveConfig(config, path); err != nil {
				return nil, err
			}
			return config, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveConfig saves the configuration to a file
func SaveConfig(config *Config, path string) error {
	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}
