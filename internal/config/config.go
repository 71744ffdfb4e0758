package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Agent       AgentConfig       `mapstructure:"agent"`
	Coordinator CoordinatorConfig `mapstructure:"coordinator"`
	LogSink     LogSinkConfig     `mapstructure:"log_sink"`
	Work        WorkConfig        `mapstructure:"work"`
	Toolchain   ToolchainConfig   `mapstructure:"toolchain"`
	Retry       RetryConfig       `mapstructure:"retry"`
	Report      ReportConfig      `mapstructure:"report"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Status      StatusConfig      `mapstructure:"status"`
	Log         LogConfig         `mapstructure:"log"`
}

type AgentConfig struct {
	Name string `mapstructure:"name"`
}

type CoordinatorConfig struct {
	Address             string `mapstructure:"address"`
	PollIntervalSeconds int    `mapstructure:"poll_interval_seconds"`
}

type LogSinkConfig struct {
	Address               string `mapstructure:"address"`
	ReconnectDelaySeconds int    `mapstructure:"reconnect_delay_seconds"`
}

type WorkConfig struct {
	JobsDir    string `mapstructure:"jobs_dir"`
	OutputsDir string `mapstructure:"outputs_dir"`
}

type ToolchainConfig struct {
	DependencyTimeoutSeconds int `mapstructure:"dependency_timeout_seconds"`
	BuildTimeoutSeconds      int `mapstructure:"build_timeout_seconds"`
}

type RetryConfig struct {
	MaxAttempts           int `mapstructure:"max_attempts"`
	InitialBackoffSeconds int `mapstructure:"initial_backoff_seconds"`
}

type ReportConfig struct {
	// MaxAttempts controls coordinator result delivery. 1 means a single
	// best-effort attempt; failures are never fatal either way.
	MaxAttempts int `mapstructure:"max_attempts"`
}

type StorageConfig struct {
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
}

type StatusConfig struct {
	ListenAddress string `mapstructure:"listen_address"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

func Load(configPath string) (*Config, error) {
	viper.SetConfigType("yaml")

	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		// Look for config in common locations
		viper.SetConfigName("config")
		viper.AddConfigPath(".")
		viper.AddConfigPath(filepath.Join(".", "rivet"))
		home, _ := os.UserHomeDir()
		viper.AddConfigPath(filepath.Join(home, ".rivet"))
	}

	// Set defaults
	viper.SetDefault("agent.name", "")
	viper.SetDefault("coordinator.address", "http://localhost:8080")
	viper.SetDefault("coordinator.poll_interval_seconds", 10)
	viper.SetDefault("log_sink.address", "ws://localhost:8081/logs")
	viper.SetDefault("log_sink.reconnect_delay_seconds", 5)
	viper.SetDefault("work.jobs_dir", "./work/jobs")
	viper.SetDefault("work.outputs_dir", "./work/outputs")
	viper.SetDefault("toolchain.dependency_timeout_seconds", 600)
	viper.SetDefault("toolchain.build_timeout_seconds", 1800)
	viper.SetDefault("retry.max_attempts", 3)
	viper.SetDefault("retry.initial_backoff_seconds", 2)
	viper.SetDefault("report.max_attempts", 1)
	viper.SetDefault("storage.bucket", "rivet-artifacts")
	viper.SetDefault("storage.region", "us-east-1")
	viper.SetDefault("storage.endpoint", "")
	viper.SetDefault("storage.access_key", "")
	viper.SetDefault("storage.secret_key", "")
	viper.SetDefault("status.listen_address", "127.0.0.1:8787")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.json", false)

	// Read from environment variables (with priority)
	viper.AutomaticEnv()
	viper.SetEnvPrefix("RIVET")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Legacy environment variable overrides
	if addr := os.Getenv("COORDINATOR_ADDR"); addr != "" {
		viper.Set("coordinator.address", addr)
	}
	if addr := os.Getenv("LOG_SINK_ADDR"); addr != "" {
		viper.Set("log_sink.address", addr)
	}
	if dir := os.Getenv("WORK_DIR"); dir != "" {
		viper.Set("work.jobs_dir", filepath.Join(dir, "jobs"))
		viper.Set("work.outputs_dir", filepath.Join(dir, "outputs"))
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &cfg, nil
}
