package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/cbright/taskhive/internal/config"
	"github.com/cbright/taskhive/pkg/models"
)

var (
	runSpoolDir    string
	runConfigPath  string
	runMaxParallel int
)

var runCmd = &cobra.Command{
	Use:   "run [batch.yaml...]",
	Short: "Execute a batch of tasks",
	Long: `Execute one or more YAML task batches against the configured agents.

Each batch file declares tasks (with optional dependencies), and may declare
scripted agents to run them against. Tasks are scheduled respecting their
dependency graph, bounded by the configured parallelism.

Spool mode (--spool <dir>) watches a directory instead: batch files dropped
into it are picked up and executed as they appear, until interrupted.`,
	RunE: runBatches,
}

func init() {
	runCmd.Flags().StringVar(&runSpoolDir, "spool", "", "Watch a directory and execute batch files as they appear")
	runCmd.Flags().StringVarP(&runConfigPath, "config", "c", "", "Config file (default: XDG + project discovery)")
	runCmd.Flags().IntVarP(&runMaxParallel, "parallel", "p", 0, "Override queue.max_parallel")
}

func loadEffectiveConfig() (*config.Config, error) {
	if runConfigPath != "" {
		return config.LoadFromPath(runConfigPath)
	}
	return config.Load()
}

func runBatches(cmd *cobra.Command, args []string) error {
	if runSpoolDir == "" && len(args) == 0 {
		return fmt.Errorf("nothing to run: pass a batch file or --spool <dir>")
	}

	cfg, err := loadEffectiveConfig()
	if err != nil {
		return err
	}
	if runMaxParallel > 0 {
		cfg.Queue.MaxParallel = runMaxParallel
	}

	e, err := newEngine(cfg)
	if err != nil {
		return err
	}
	defer e.close()
	e.registerDefaultAgents()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	// Handle signals for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nReceived interrupt, shutting down...")
		cancel()
	}()

	failed := 0
	for _, path := range args {
		n, err := executeBatchFile(ctx, e, path)
		if err != nil {
			return err
		}
		failed += n
	}

	if runSpoolDir != "" {
		if err := spool(ctx, e, runSpoolDir); err != nil {
			return err
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d tasks failed", failed)
	}
	return nil
}

// executeBatchFile runs one batch to completion and prints a summary.
// Returns the number of terminally failed tasks.
func executeBatchFile(ctx context.Context, e *engine, path string) (int, error) {
	batch, err := loadBatch(path)
	if err != nil {
		return 0, err
	}
	if err := e.registerAgents(batch.Agents); err != nil {
		return 0, err
	}
	if err := e.installRules(batch.Rules); err != nil {
		return 0, fmt.Errorf("%s: %w", path, err)
	}

	channels, err := e.queue.EnqueueBatch(batch.Tasks)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", path, err)
	}

	bold := color.New(color.Bold)
	bold.Printf("%s: %d tasks\n", filepath.Base(path), len(batch.Tasks))

	failed := 0
	for _, task := range batch.Tasks {
		select {
		case result := <-channels[task.ID]:
			printResult(task, result)
			if !result.Success {
				failed++
			}
		case <-ctx.Done():
			return failed, ctx.Err()
		}
	}

	stats := e.queue.Stats()
	fmt.Printf("\n%s %d completed, %d failed, %d processed\n",
		bold.Sprint("summary:"), stats.Completed, stats.Failed, stats.TotalProcessed)

	if dlqStats := e.deadLetters.Stats(); dlqStats.PendingRetry+dlqStats.Quarantined > 0 {
		color.Yellow("dead letters: %d pending retry, %d quarantined",
			dlqStats.PendingRetry, dlqStats.Quarantined)
	}
	return failed, nil
}

func printResult(task *models.Task, result *models.TaskResult) {
	if result.Success {
		color.Green("  ✓ %s", task.ID)
		if result.Output != "" {
			fmt.Printf("    %s\n", strings.Split(result.Output, "\n")[0])
		}
		return
	}
	color.Red("  ✗ %s", task.ID)
	if e := result.FirstError(); e != nil {
		fmt.Printf("    %s: %s\n", e.Code, e.Message)
	}
}

// spool watches a directory and executes batch files as they are dropped in.
func spool(ctx context.Context, e *engine, dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create spool dir: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	color.Cyan("spooling from %s (ctrl-c to stop)", dir)

	// Pick up files that were already there.
	existing, _ := filepath.Glob(filepath.Join(dir, "*.yaml"))
	for _, path := range existing {
		if _, err := executeBatchFile(ctx, e, path); err != nil {
			color.Red("%s: %v", path, err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			ext := filepath.Ext(ev.Name)
			if ext != ".yaml" && ext != ".yml" {
				continue
			}
			// Writers may still be flushing; give them a beat.
			time.Sleep(50 * time.Millisecond)
			if _, err := executeBatchFile(ctx, e, ev.Name); err != nil {
				color.Red("%s: %v", ev.Name, err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			color.Red("watch error: %v", err)
		}
	}
}
