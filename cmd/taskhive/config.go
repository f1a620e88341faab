package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/cbright/taskhive/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Manage configuration",
	Long: `View or modify taskhive configuration.

Without arguments, displays current configuration.
With one argument (key), displays the value for that key.
With two arguments (key value), sets the configuration value.

Configuration is stored at ~/.config/taskhive/config.yaml
Project-specific overrides can be placed in .taskhive.yaml`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}

		switch len(args) {
		case 0:
			displayAllConfig(cfg)
		case 1:
			displayConfigKey(cfg, args[0])
		default:
			setConfigKey(cfg, args[0], args[1])
		}
	},
}

// displayAllConfig prints all configuration values.
func displayAllConfig(cfg *config.Config) {
	fmt.Printf("queue.max_parallel: %d\n", cfg.Queue.MaxParallel)
	fmt.Printf("queue.max_retries: %d\n", cfg.Queue.MaxRetries)
	fmt.Printf("queue.retry_delay: %s\n", cfg.Queue.RetryDelay)
	fmt.Printf("queue.completed_ttl: %s\n", cfg.Queue.CompletedTTL)
	fmt.Printf("queue.failed_ttl: %s\n", cfg.Queue.FailedTTL)
	fmt.Printf("queue.wait_timeout: %s\n", cfg.Queue.WaitTimeout)
	fmt.Printf("dlq.max_retries: %d\n", cfg.DLQ.MaxRetries)
	fmt.Printf("dlq.retry_delay: %s\n", cfg.DLQ.RetryDelay)
	fmt.Printf("dlq.poison_enabled: %t\n", cfg.DLQ.PoisonEnabled)
	fmt.Printf("dlq.min_failures: %d\n", cfg.DLQ.MinFailures)
	fmt.Printf("dlq.similarity_threshold: %g\n", cfg.DLQ.SimilarityThreshold)
	fmt.Printf("dlq.poison_action: %s\n", cfg.DLQ.PoisonAction)
	fmt.Printf("swarm.max_handoffs: %d\n", cfg.Swarm.MaxHandoffs)
	fmt.Printf("swarm.max_visits_per_agent: %d\n", cfg.Swarm.MaxVisitsPerAgent)
	fmt.Printf("swarm.allow_cycles: %t\n", cfg.Swarm.AllowCycles)
	fmt.Printf("swarm.stagnation_detection: %t\n", cfg.Swarm.StagnationDetection)
	fmt.Printf("swarm.stagnation_threshold: %d\n", cfg.Swarm.StagnationThreshold)
	fmt.Printf("swarm.handoff_timeout: %s\n", cfg.Swarm.HandoffTimeout)
	fmt.Printf("swarm.verbose: %t\n", cfg.Swarm.Verbose)
	fmt.Printf("journal.enabled: %t\n", cfg.Journal.Enabled)
	journalPath := cfg.Journal.Path
	if journalPath == "" {
		journalPath = "(default)"
	}
	fmt.Printf("journal.path: %s\n", journalPath)
	fmt.Printf("tui.refresh_rate: %s\n", cfg.TUI.RefreshRate)
}

// displayConfigKey prints a single configuration value.
func displayConfigKey(cfg *config.Config, key string) {
	value, err := getConfigValue(cfg, key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(value)
}

// setConfigKey sets a configuration value and saves the config.
func setConfigKey(cfg *config.Config, key, value string) {
	if err := setConfigValue(cfg, key, value); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := config.Save(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Set %s = %s\n", key, value)
}

// getConfigValue retrieves a configuration value by dot-notation key.
func getConfigValue(cfg *config.Config, key string) (string, error) {
	switch strings.ToLower(key) {
	case "queue.max_parallel":
		return strconv.Itoa(cfg.Queue.MaxParallel), nil
	case "queue.max_retries":
		return strconv.Itoa(cfg.Queue.MaxRetries), nil
	case "queue.retry_delay":
		return cfg.Queue.RetryDelay.String(), nil
	case "queue.completed_ttl":
		return cfg.Queue.CompletedTTL.String(), nil
	case "queue.failed_ttl":
		return cfg.Queue.FailedTTL.String(), nil
	case "queue.wait_timeout":
		return cfg.Queue.WaitTimeout.String(), nil
	case "dlq.max_retries":
		return strconv.Itoa(cfg.DLQ.MaxRetries), nil
	case "dlq.retry_delay":
		return cfg.DLQ.RetryDelay.String(), nil
	case "dlq.poison_enabled":
		return strconv.FormatBool(cfg.DLQ.PoisonEnabled), nil
	case "dlq.min_failures":
		return strconv.Itoa(cfg.DLQ.MinFailures), nil
	case "dlq.similarity_threshold":
		return strconv.FormatFloat(cfg.DLQ.SimilarityThreshold, 'g', -1, 64), nil
	case "dlq.poison_action":
		return cfg.DLQ.PoisonAction, nil
	case "swarm.max_handoffs":
		return strconv.Itoa(cfg.Swarm.MaxHandoffs), nil
	case "swarm.max_visits_per_agent":
		return strconv.Itoa(cfg.Swarm.MaxVisitsPerAgent), nil
	case "swarm.allow_cycles":
		return strconv.FormatBool(cfg.Swarm.AllowCycles), nil
	case "swarm.stagnation_detection":
		return strconv.FormatBool(cfg.Swarm.StagnationDetection), nil
	case "swarm.stagnation_threshold":
		return strconv.Itoa(cfg.Swarm.StagnationThreshold), nil
	case "swarm.handoff_timeout":
		return cfg.Swarm.HandoffTimeout.String(), nil
	case "swarm.verbose":
		return strconv.FormatBool(cfg.Swarm.Verbose), nil
	case "journal.enabled":
		return strconv.FormatBool(cfg.Journal.Enabled), nil
	case "journal.path":
		if cfg.Journal.Path == "" {
			return "(default)", nil
		}
		return cfg.Journal.Path, nil
	case "tui.refresh_rate":
		return cfg.TUI.RefreshRate.String(), nil
	default:
		return "", fmt.Errorf("unknown configuration key: %s", key)
	}
}

// setConfigValue sets a configuration value by dot-notation key.
func setConfigValue(cfg *config.Config, key, value string) error {
	switch strings.ToLower(key) {
	case "queue.max_parallel":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for max_parallel: %w", err)
		}
		cfg.Queue.MaxParallel = n
	case "queue.max_retries":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for queue.max_retries: %w", err)
		}
		cfg.Queue.MaxRetries = n
	case "queue.retry_delay":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for queue.retry_delay: %w", err)
		}
		cfg.Queue.RetryDelay = d
	case "queue.completed_ttl":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for completed_ttl: %w", err)
		}
		cfg.Queue.CompletedTTL = d
	case "queue.failed_ttl":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for failed_ttl: %w", err)
		}
		cfg.Queue.FailedTTL = d
	case "queue.wait_timeout":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for wait_timeout: %w", err)
		}
		cfg.Queue.WaitTimeout = d
	case "dlq.max_retries":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for dlq.max_retries: %w", err)
		}
		cfg.DLQ.MaxRetries = n
	case "dlq.retry_delay":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for dlq.retry_delay: %w", err)
		}
		cfg.DLQ.RetryDelay = d
	case "dlq.poison_enabled":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean for poison_enabled: %w", err)
		}
		cfg.DLQ.PoisonEnabled = b
	case "dlq.min_failures":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for min_failures: %w", err)
		}
		cfg.DLQ.MinFailures = n
	case "dlq.similarity_threshold":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid value for similarity_threshold: %w", err)
		}
		if f < 0 || f > 1 {
			return fmt.Errorf("similarity_threshold must be between 0 and 1")
		}
		cfg.DLQ.SimilarityThreshold = f
	case "dlq.poison_action":
		switch value {
		case "quarantine", "skip", "alert":
			cfg.DLQ.PoisonAction = value
		default:
			return fmt.Errorf("poison_action must be quarantine, skip, or alert")
		}
	case "swarm.max_handoffs":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for max_handoffs: %w", err)
		}
		cfg.Swarm.MaxHandoffs = n
	case "swarm.max_visits_per_agent":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for max_visits_per_agent: %w", err)
		}
		cfg.Swarm.MaxVisitsPerAgent = n
	case "swarm.allow_cycles":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean for allow_cycles: %w", err)
		}
		cfg.Swarm.AllowCycles = b
	case "swarm.stagnation_detection":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean for stagnation_detection: %w", err)
		}
		cfg.Swarm.StagnationDetection = b
	case "swarm.stagnation_threshold":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for stagnation_threshold: %w", err)
		}
		cfg.Swarm.StagnationThreshold = n
	case "swarm.handoff_timeout":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for handoff_timeout: %w", err)
		}
		cfg.Swarm.HandoffTimeout = d
	case "swarm.verbose":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean for swarm.verbose: %w", err)
		}
		cfg.Swarm.Verbose = b
	case "journal.enabled":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean for journal.enabled: %w", err)
		}
		cfg.Journal.Enabled = b
	case "journal.path":
		cfg.Journal.Path = value
	case "tui.refresh_rate":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for refresh_rate: %w", err)
		}
		cfg.TUI.RefreshRate = d
	default:
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	return nil
}
