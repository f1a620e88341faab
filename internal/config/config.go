// Package config handles configuration loading and management for taskhive.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/cbright/taskhive/internal/dlq"
	"github.com/cbright/taskhive/internal/queue"
	"github.com/cbright/taskhive/internal/swarm"
)

// Config holds all configuration for taskhive.
type Config struct {
	Queue   QueueConfig   `mapstructure:"queue"`
	DLQ     DLQConfig     `mapstructure:"dlq"`
	Swarm   SwarmConfig   `mapstructure:"swarm"`
	Journal JournalConfig `mapstructure:"journal"`
	TUI     TUIConfig     `mapstructure:"tui"`
}

// QueueConfig holds task queue settings.
type QueueConfig struct {
	MaxParallel      int           `mapstructure:"max_parallel"`
	MaxRetries       int           `mapstructure:"max_retries"`
	RetryDelay       time.Duration `mapstructure:"retry_delay"`
	CompletedTTL     time.Duration `mapstructure:"completed_ttl"`
	CompletedMaxSize int           `mapstructure:"completed_max_size"`
	FailedTTL        time.Duration `mapstructure:"failed_ttl"`
	FailedMaxSize    int           `mapstructure:"failed_max_size"`
	WaitTimeout      time.Duration `mapstructure:"wait_timeout"`
}

// DLQConfig holds dead letter queue settings.
type DLQConfig struct {
	MaxRetries          int           `mapstructure:"max_retries"`
	RetryDelay          time.Duration `mapstructure:"retry_delay"`
	PoisonEnabled       bool          `mapstructure:"poison_enabled"`
	MinFailures         int           `mapstructure:"min_failures"`
	SimilarityThreshold float64       `mapstructure:"similarity_threshold"`
	PoisonAction        string        `mapstructure:"poison_action"`
}

// SwarmConfig holds swarm coordinator settings.
type SwarmConfig struct {
	MaxHandoffs         int           `mapstructure:"max_handoffs"`
	MaxVisitsPerAgent   int           `mapstructure:"max_visits_per_agent"`
	AllowCycles         bool          `mapstructure:"allow_cycles"`
	StagnationDetection bool          `mapstructure:"stagnation_detection"`
	StagnationThreshold int           `mapstructure:"stagnation_threshold"`
	HandoffTimeout      time.Duration `mapstructure:"handoff_timeout"`
	Verbose             bool          `mapstructure:"verbose"`
}

// JournalConfig holds event journal settings.
type JournalConfig struct {
	// Enabled turns sqlite event journaling on.
	Enabled bool `mapstructure:"enabled"`
	// Path is the journal database file. Empty means the XDG data dir.
	Path string `mapstructure:"path"`
}

// TUIConfig holds dashboard display settings.
type TUIConfig struct {
	RefreshRate time.Duration `mapstructure:"refresh_rate"`
}

// QueueOptions converts the section into the queue package's config.
func (c *Config) QueueOptions() queue.Config {
	return queue.Config{
		MaxParallel:      c.Queue.MaxParallel,
		MaxRetries:       c.Queue.MaxRetries,
		RetryDelay:       c.Queue.RetryDelay,
		CompletedTTL:     c.Queue.CompletedTTL,
		CompletedMaxSize: c.Queue.CompletedMaxSize,
		FailedTTL:        c.Queue.FailedTTL,
		FailedMaxSize:    c.Queue.FailedMaxSize,
		WaitTimeout:      c.Queue.WaitTimeout,
	}
}

// DLQOptions converts the section into the dlq package's config.
func (c *Config) DLQOptions() dlq.Config {
	return dlq.Config{
		MaxRetries: c.DLQ.MaxRetries,
		RetryDelay: c.DLQ.RetryDelay,
		PoisonPill: dlq.PoisonPillConfig{
			Enabled:             c.DLQ.PoisonEnabled,
			MinFailures:         c.DLQ.MinFailures,
			SimilarityThreshold: c.DLQ.SimilarityThreshold,
			Action:              dlq.PoisonAction(c.DLQ.PoisonAction),
		},
	}
}

// SwarmOptions converts the section into the swarm package's config.
func (c *Config) SwarmOptions() swarm.Config {
	return swarm.Config{
		MaxHandoffs:               c.Swarm.MaxHandoffs,
		MaxVisitsPerAgent:         c.Swarm.MaxVisitsPerAgent,
		AllowCycles:               c.Swarm.AllowCycles,
		EnableStagnationDetection: c.Swarm.StagnationDetection,
		StagnationThreshold:       c.Swarm.StagnationThreshold,
		HandoffTimeout:            c.Swarm.HandoffTimeout,
		Verbose:                   c.Swarm.Verbose,
	}
}

// JournalPath returns the effective journal database path.
func (c *Config) JournalPath() string {
	if c.Journal.Path != "" {
		return c.Journal.Path
	}
	return filepath.Join(getUserDataDir(), "journal.db")
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (TASKHIVE_*)
// 2. Project config (.taskhive.yaml in current directory or parent)
// 3. User config (~/.config/taskhive/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Load user config from XDG path
	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	// Load project config if present
	projectConfig := findProjectConfig()
	if projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			// Merge project config (takes precedence)
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	// Environment variable overrides
	v.SetEnvPrefix("TASKHIVE")
	v.AutomaticEnv()
	v.BindEnv("queue.max_parallel", "TASKHIVE_MAX_PARALLEL")
	v.BindEnv("journal.path", "TASKHIVE_JOURNAL_PATH")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Expand ${VAR} references
	cfg.Journal.Path = expandEnv(cfg.Journal.Path)

	return cfg, nil
}

// LoadFromPath loads configuration from a specific path (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Journal.Path = expandEnv(cfg.Journal.Path)

	return cfg, nil
}

// Save writes the current configuration to the user config file.
func Save(cfg *Config) error {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	configPath := filepath.Join(userConfigDir, "config.yaml")

	v := viper.New()
	v.SetConfigFile(configPath)

	v.Set("queue.max_parallel", cfg.Queue.MaxParallel)
	v.Set("queue.max_retries", cfg.Queue.MaxRetries)
	v.Set("queue.retry_delay", cfg.Queue.RetryDelay.String())
	v.Set("queue.completed_ttl", cfg.Queue.CompletedTTL.String())
	v.Set("queue.completed_max_size", cfg.Queue.CompletedMaxSize)
	v.Set("queue.failed_ttl", cfg.Queue.FailedTTL.String())
	v.Set("queue.failed_max_size", cfg.Queue.FailedMaxSize)
	v.Set("queue.wait_timeout", cfg.Queue.WaitTimeout.String())
	v.Set("dlq.max_retries", cfg.DLQ.MaxRetries)
	v.Set("dlq.retry_delay", cfg.DLQ.RetryDelay.String())
	v.Set("dlq.poison_enabled", cfg.DLQ.PoisonEnabled)
	v.Set("dlq.min_failures", cfg.DLQ.MinFailures)
	v.Set("dlq.similarity_threshold", cfg.DLQ.SimilarityThreshold)
	v.Set("dlq.poison_action", cfg.DLQ.PoisonAction)
	v.Set("swarm.max_handoffs", cfg.Swarm.MaxHandoffs)
	v.Set("swarm.max_visits_per_agent", cfg.Swarm.MaxVisitsPerAgent)
	v.Set("swarm.allow_cycles", cfg.Swarm.AllowCycles)
	v.Set("swarm.stagnation_detection", cfg.Swarm.StagnationDetection)
	v.Set("swarm.stagnation_threshold", cfg.Swarm.StagnationThreshold)
	v.Set("swarm.handoff_timeout", cfg.Swarm.HandoffTimeout.String())
	v.Set("swarm.verbose", cfg.Swarm.Verbose)
	v.Set("journal.enabled", cfg.Journal.Enabled)
	v.Set("journal.path", cfg.Journal.Path)
	v.Set("tui.refresh_rate", cfg.TUI.RefreshRate.String())

	return v.WriteConfig()
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	// Queue defaults
	v.SetDefault("queue.max_parallel", 4)
	v.SetDefault("queue.max_retries", 2)
	v.SetDefault("queue.retry_delay", "1s")
	v.SetDefault("queue.completed_ttl", "30m")
	v.SetDefault("queue.completed_max_size", 1000)
	v.SetDefault("queue.failed_ttl", "30m")
	v.SetDefault("queue.failed_max_size", 500)
	v.SetDefault("queue.wait_timeout", "5m")

	// DLQ defaults
	v.SetDefault("dlq.max_retries", 5)
	v.SetDefault("dlq.retry_delay", "30s")
	v.SetDefault("dlq.poison_enabled", true)
	v.SetDefault("dlq.min_failures", 3)
	v.SetDefault("dlq.similarity_threshold", 0.8)
	v.SetDefault("dlq.poison_action", "quarantine")

	// Swarm defaults
	v.SetDefault("swarm.max_handoffs", 10)
	v.SetDefault("swarm.max_visits_per_agent", 3)
	v.SetDefault("swarm.allow_cycles", false)
	v.SetDefault("swarm.stagnation_detection", true)
	v.SetDefault("swarm.stagnation_threshold", 3)
	v.SetDefault("swarm.handoff_timeout", "5m")
	v.SetDefault("swarm.verbose", false)

	// Journal defaults
	v.SetDefault("journal.enabled", false)
	v.SetDefault("journal.path", "")

	// TUI defaults
	v.SetDefault("tui.refresh_rate", "100ms")
}

// getUserConfigDir returns the XDG config directory for taskhive.
func getUserConfigDir() string {
	// Check XDG_CONFIG_HOME first
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "taskhive")
	}

	// Fall back to ~/.config/taskhive
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "taskhive")
	}
	return filepath.Join(home, ".config", "taskhive")
}

// getUserDataDir returns the XDG data directory for taskhive.
func getUserDataDir() string {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "taskhive")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".local", "share", "taskhive")
	}
	return filepath.Join(home, ".local", "share", "taskhive")
}

// findProjectConfig searches for .taskhive.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".taskhive.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// expandEnv expands ${VAR} references in a string.
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Queue: QueueConfig{
			MaxParallel:      4,
			MaxRetries:       2,
			RetryDelay:       time.Second,
			CompletedTTL:     30 * time.Minute,
			CompletedMaxSize: 1000,
			FailedTTL:        30 * time.Minute,
			FailedMaxSize:    500,
			WaitTimeout:      5 * time.Minute,
		},
		DLQ: DLQConfig{
			MaxRetries:          5,
			RetryDelay:          30 * time.Second,
			PoisonEnabled:       true,
			MinFailures:         3,
			SimilarityThreshold: 0.8,
			PoisonAction:        "quarantine",
		},
		Swarm: SwarmConfig{
			MaxHandoffs:         10,
			MaxVisitsPerAgent:   3,
			AllowCycles:         false,
			StagnationDetection: true,
			StagnationThreshold: 3,
			HandoffTimeout:      5 * time.Minute,
			Verbose:             false,
		},
		Journal: JournalConfig{
			Enabled: false,
		},
		TUI: TUIConfig{
			RefreshRate: 100 * time.Millisecond,
		},
	}
}
