package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/cbright/taskhive/internal/swarm"
	"github.com/cbright/taskhive/pkg/models"
)

var (
	swarmBatchPath string
	swarmTaskType  string
)

var swarmCmd = &cobra.Command{
	Use:   "swarm <start-agent> <prompt>",
	Short: "Chain agents with handoff rules",
	Long: `Run a single task through a chain of agents. The starting agent
executes first; after each run the handoff rules decide which agent, if any,
receives the result next. Chains are bounded by visit caps, cycle refusal,
and stagnation detection.

Agents and handoff rules are declared in a batch file passed with --rules.`,
	Args: cobra.ExactArgs(2),
	RunE: runSwarm,
}

func init() {
	swarmCmd.Flags().StringVarP(&swarmBatchPath, "rules", "r", "", "Batch file declaring agents and handoff rules (required)")
	swarmCmd.Flags().StringVarP(&swarmTaskType, "type", "t", string(models.AgentTypeCodegen), "Task type")
	swarmCmd.MarkFlagRequired("rules")
	swarmCmd.Flags().StringVarP(&runConfigPath, "config", "c", "", "Config file (default: XDG + project discovery)")
}

func runSwarm(cmd *cobra.Command, args []string) error {
	startAgent, prompt := args[0], args[1]

	cfg, err := loadEffectiveConfig()
	if err != nil {
		return err
	}

	e, err := newEngine(cfg)
	if err != nil {
		return err
	}
	defer e.close()

	batch, err := loadBatch(swarmBatchPath)
	if err != nil {
		return err
	}
	if err := e.registerAgents(batch.Agents); err != nil {
		return err
	}
	if err := e.installRules(batch.Rules); err != nil {
		return err
	}

	task := models.NewTask(fmt.Sprintf("swarm-%d", time.Now().Unix()), models.AgentType(swarmTaskType), prompt)
	res := e.coordinator.ExecuteWithHandoffs(cmd.Context(), startAgent, task, nil)

	printChain(res)
	if res.Chain.Status == swarm.ChainFailed {
		return fmt.Errorf("chain failed: %s", res.Chain.Reason)
	}
	return nil
}

func printChain(res *swarm.Result) {
	bold := color.New(color.Bold)
	bold.Printf("chain %s\n", res.Chain.ID)

	current := res.Chain.StartAgent
	fmt.Printf("  %s\n", current)
	for _, h := range res.Chain.Handoffs {
		fmt.Printf("  → %s  (%s after %s)\n", h.To, h.From, h.Duration.Round(time.Millisecond))
		current = h.To
	}

	switch res.Chain.Status {
	case swarm.ChainCompleted:
		color.Green("completed: %s", res.Chain.Reason)
	case swarm.ChainFailed:
		color.Red("failed: %s", res.Chain.Reason)
	}

	if res.Last != nil {
		fmt.Printf("\nfinal output:\n%s\n", res.Last.Output)
	}
}
