package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cbright/taskhive/internal/tui"
)

var watchSpoolDir string

var watchCmd = &cobra.Command{
	Use:   "watch [batch.yaml...]",
	Short: "Execute batches with a live dashboard",
	Long: `Execute task batches while rendering a live dashboard of queue
statistics and engine events. With --spool, watches a directory for batch
files instead; the dashboard stays up until quit.`,
	RunE: watchBatches,
}

func init() {
	watchCmd.Flags().StringVar(&watchSpoolDir, "spool", "", "Watch a directory and execute batch files as they appear")
	watchCmd.Flags().StringVarP(&runConfigPath, "config", "c", "", "Config file (default: XDG + project discovery)")
}

func watchBatches(cmd *cobra.Command, args []string) error {
	if watchSpoolDir == "" && len(args) == 0 {
		return fmt.Errorf("nothing to watch: pass a batch file or --spool <dir>")
	}

	cfg, err := loadEffectiveConfig()
	if err != nil {
		return err
	}

	e, err := newEngine(cfg)
	if err != nil {
		return err
	}
	defer e.close()
	e.registerDefaultAgents()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	// Feed the queue in the background; the dashboard owns the terminal.
	go func() {
		for _, path := range args {
			batch, err := loadBatch(path)
			if err != nil {
				continue
			}
			if err := e.registerAgents(batch.Agents); err != nil {
				continue
			}
			e.queue.EnqueueBatch(batch.Tasks)
		}
		if watchSpoolDir != "" {
			spool(ctx, e, watchSpoolDir)
		}
	}()

	return tui.Run(tui.NewDashboard(e.queue, e.events, cfg.TUI.RefreshRate))
}
