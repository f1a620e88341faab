package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "taskhive",
	Short: "In-process multi-agent task orchestration engine",
	Long: `Taskhive schedules units of work across pluggable agents: it gates
tasks on their dependencies, bounds parallelism, retries transient failures,
quarantines recurring ones, and chains agents together via handoff rules.

Task batches are described in YAML files. Concrete agents are provided by the
embedding program; the CLI ships with scripted agents for demos and dry runs.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(swarmCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
