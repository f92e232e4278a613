// Package config loads run settings from ctrdec.yaml, CTRDEC_* environment variables
// and command line flags.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

const (
	Name      = "ctrdec"
	EnvPrefix = "CTRDEC"
)

// Config holds the settings of one invocation.
type Config struct {
	KeysFile      string `mapstructure:"keys_file"`
	Strategy      string `mapstructure:"strategy"`
	Workers       int    `mapstructure:"workers"`
	ChunkSize     int    `mapstructure:"chunk_size"`
	CodeChunkSize int    `mapstructure:"code_chunk_size"`
	BatchSize     int    `mapstructure:"batch_size"`
	LogLevel      string `mapstructure:"log_level"`
	LogFormat     string `mapstructure:"log_format"`
	MetricsFile   string `mapstructure:"metrics_file"`
}

// New returns a viper instance with the search paths, defaults and environment binding
// of ctrdec. Flags are bound onto it by the caller before Load.
func New() *viper.Viper {
	v := viper.New()
	v.SetConfigName(Name)
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/ctrdec")
	v.AddConfigPath("/etc/ctrdec")

	v.SetDefault("keys_file", "")
	v.SetDefault("strategy", "auto")
	v.SetDefault("workers", 0) // runtime.NumCPU()
	v.SetDefault("chunk_size", 4<<20)
	v.SetDefault("code_chunk_size", 1<<20)
	v.SetDefault("batch_size", 64<<20)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("metrics_file", "")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the config file (configFile, or the first ctrdec.yaml on the search path)
// and returns the validated settings. A missing default config file is not an error.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	switch c.Strategy {
	case "auto", "mmap", "batch":
	default:
		return fmt.Errorf("invalid strategy: %s (must be auto, mmap or batch)", c.Strategy)
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must be >= 0, got %d", c.Workers)
	}
	for name, size := range map[string]int{
		"chunk_size":      c.ChunkSize,
		"code_chunk_size": c.CodeChunkSize,
		"batch_size":      c.BatchSize,
	} {
		if size <= 0 || size%16 != 0 {
			return fmt.Errorf("%s must be a positive multiple of 16, got %d", name, size)
		}
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.LogFormat)
	}
	return nil
}
