// Package config provides YAML configuration loading for Speed.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level Speed configuration.
type Config struct {
	Logging  LoggingConfig  `yaml:"logging"`
	Dispatch DispatchConfig `yaml:"dispatch"`
}

// LoggingConfig configures the global logger.
type LoggingConfig struct {
	Level       string   `yaml:"level"`
	Development bool     `yaml:"development"`
	Encoding    string   `yaml:"encoding"`
	OutputPaths []string `yaml:"output_paths"`
}

// DispatchConfig mirrors the dispatcher options.
type DispatchConfig struct {
	MemoryThresholdGB float64 `yaml:"memory_threshold_gb"`
	ReserveCores      int     `yaml:"reserve_cores"`
	ReserveRAMGB      float64 `yaml:"reserve_ram_gb"`
	MaxChunkGB        float64 `yaml:"max_chunk_gb"`
	DBFile            string  `yaml:"db_file"`
	TempDir           string  `yaml:"temp_dir"`
	SpillCompression  string  `yaml:"spill_compression"`
}

// Default returns the documented defaults.
func Default() Config {
	return Config{
		Logging: LoggingConfig{
			Level:    "info",
			Encoding: "json",
		},
		Dispatch: DispatchConfig{
			MemoryThresholdGB: 2,
			ReserveCores:      2,
			ReserveRAMGB:      4,
			MaxChunkGB:        0.5,
			DBFile:            "ben_speed.db",
			SpillCompression:  "snappy",
		},
	}
}

// Load reads a YAML config file over the defaults. ${VAR} references are
// substituted from the environment before parsing.
func Load(filePath string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filePath) //nolint:gosec // G304: File path is controlled by caller
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	content := substituteEnvVars(string(data))
	if err := yaml.Unmarshal([]byte(content), &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return cfg, nil
}

// Save writes a configuration to a YAML file.
func Save(filePath string, cfg Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal YAML: %w", err)
	}
	if err := os.WriteFile(filePath, data, 0o644); err != nil { //nolint:gosec
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// substituteEnvVars replaces ${VAR_NAME} with environment variable values.
func substituteEnvVars(content string) string {
	for {
		start := strings.Index(content, "${")
		if start == -1 {
			break
		}
		end := strings.Index(content[start:], "}")
		if end == -1 {
			break
		}
		end += start

		varName := content[start+2 : end]
		envValue := os.Getenv(varName)
		content = content[:start] + envValue + content[end+1:]
	}
	return content
}
