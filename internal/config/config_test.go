package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Queue.MaxParallel != 4 {
		t.Errorf("expected default max_parallel 4, got %d", cfg.Queue.MaxParallel)
	}

	if cfg.Queue.CompletedMaxSize != 1000 {
		t.Errorf("expected default completed_max_size 1000, got %d", cfg.Queue.CompletedMaxSize)
	}

	if cfg.Queue.WaitTimeout != 5*time.Minute {
		t.Errorf("expected wait timeout 5m, got %v", cfg.Queue.WaitTimeout)
	}

	if !cfg.DLQ.PoisonEnabled {
		t.Error("expected dlq.poison_enabled to be true")
	}

	if cfg.DLQ.MinFailures != 3 {
		t.Errorf("expected dlq.min_failures 3, got %d", cfg.DLQ.MinFailures)
	}

	if cfg.DLQ.SimilarityThreshold != 0.8 {
		t.Errorf("expected dlq.similarity_threshold 0.8, got %v", cfg.DLQ.SimilarityThreshold)
	}

	if cfg.Swarm.MaxHandoffs != 10 {
		t.Errorf("expected swarm.max_handoffs 10, got %d", cfg.Swarm.MaxHandoffs)
	}

	if cfg.Swarm.AllowCycles {
		t.Error("expected swarm.allow_cycles to be false")
	}

	if cfg.TUI.RefreshRate != 100*time.Millisecond {
		t.Errorf("expected refresh rate 100ms, got %v", cfg.TUI.RefreshRate)
	}
}

func TestLoadFromPath(t *testing.T) {
	// Create a temporary config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
queue:
  max_parallel: 8
  max_retries: 5
  retry_delay: 250ms
  completed_ttl: 1h
dlq:
  poison_enabled: false
  min_failures: 4
  similarity_threshold: 0.9
  poison_action: alert
swarm:
  max_handoffs: 20
  allow_cycles: true
  handoff_timeout: 90s
journal:
  enabled: true
  path: /tmp/journal.db
tui:
  refresh_rate: 200ms
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := LoadFromPath(configPath)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}

	if cfg.Queue.MaxParallel != 8 {
		t.Errorf("expected max_parallel 8, got %d", cfg.Queue.MaxParallel)
	}

	if cfg.Queue.RetryDelay != 250*time.Millisecond {
		t.Errorf("expected retry_delay 250ms, got %v", cfg.Queue.RetryDelay)
	}

	if cfg.Queue.CompletedTTL != time.Hour {
		t.Errorf("expected completed_ttl 1h, got %v", cfg.Queue.CompletedTTL)
	}

	// Values absent from the file keep their defaults.
	if cfg.Queue.CompletedMaxSize != 1000 {
		t.Errorf("expected defaulted completed_max_size 1000, got %d", cfg.Queue.CompletedMaxSize)
	}

	if cfg.DLQ.PoisonEnabled {
		t.Error("expected dlq.poison_enabled to be false")
	}

	if cfg.DLQ.PoisonAction != "alert" {
		t.Errorf("expected poison_action 'alert', got %q", cfg.DLQ.PoisonAction)
	}

	if cfg.Swarm.MaxHandoffs != 20 {
		t.Errorf("expected max_handoffs 20, got %d", cfg.Swarm.MaxHandoffs)
	}

	if !cfg.Swarm.AllowCycles {
		t.Error("expected swarm.allow_cycles to be true")
	}

	if cfg.Swarm.HandoffTimeout != 90*time.Second {
		t.Errorf("expected handoff_timeout 90s, got %v", cfg.Swarm.HandoffTimeout)
	}

	if !cfg.Journal.Enabled || cfg.Journal.Path != "/tmp/journal.db" {
		t.Errorf("journal = %+v", cfg.Journal)
	}

	if cfg.TUI.RefreshRate != 200*time.Millisecond {
		t.Errorf("expected refresh rate 200ms, got %v", cfg.TUI.RefreshRate)
	}
}

func TestSectionConversions(t *testing.T) {
	cfg := Default()

	q := cfg.QueueOptions()
	if q.MaxParallel != cfg.Queue.MaxParallel || q.WaitTimeout != cfg.Queue.WaitTimeout {
		t.Errorf("QueueOptions = %+v", q)
	}

	d := cfg.DLQOptions()
	if !d.PoisonPill.Enabled || d.PoisonPill.MinFailures != 3 || string(d.PoisonPill.Action) != "quarantine" {
		t.Errorf("DLQOptions = %+v", d)
	}

	s := cfg.SwarmOptions()
	if s.MaxHandoffs != 10 || s.AllowCycles || !s.EnableStagnationDetection {
		t.Errorf("SwarmOptions = %+v", s)
	}
}

func TestExpandEnv(t *testing.T) {
	// Set environment variable
	os.Setenv("TEST_VAR", "expanded-value")
	defer os.Unsetenv("TEST_VAR")

	result := expandEnv("${TEST_VAR}")
	if result != "expanded-value" {
		t.Errorf("expected 'expanded-value', got %q", result)
	}

	result = expandEnv("prefix-${TEST_VAR}-suffix")
	if result != "prefix-expanded-value-suffix" {
		t.Errorf("expected 'prefix-expanded-value-suffix', got %q", result)
	}
}

func TestGetUserConfigDir(t *testing.T) {
	// Test with XDG_CONFIG_HOME set
	os.Setenv("XDG_CONFIG_HOME", "/custom/config")
	defer os.Unsetenv("XDG_CONFIG_HOME")

	dir := getUserConfigDir()
	expected := "/custom/config/taskhive"
	if dir != expected {
		t.Errorf("expected %q, got %q", expected, dir)
	}
}

func TestJournalPath(t *testing.T) {
	cfg := Default()
	cfg.Journal.Path = "/explicit/journal.db"
	if cfg.JournalPath() != "/explicit/journal.db" {
		t.Errorf("JournalPath = %q", cfg.JournalPath())
	}

	cfg.Journal.Path = ""
	os.Setenv("XDG_DATA_HOME", "/custom/data")
	defer os.Unsetenv("XDG_DATA_HOME")
	if got := cfg.JournalPath(); got != "/custom/data/taskhive/journal.db" {
		t.Errorf("JournalPath = %q", got)
	}
}
