package main

import (
	"context"
	"fmt"
	"log"

	"github.com/cbright/taskhive/internal/agent"
	"github.com/cbright/taskhive/internal/bus"
	"github.com/cbright/taskhive/internal/config"
	"github.com/cbright/taskhive/internal/dlq"
	"github.com/cbright/taskhive/internal/journal"
	"github.com/cbright/taskhive/internal/queue"
	"github.com/cbright/taskhive/internal/registry"
	"github.com/cbright/taskhive/internal/swarm"
	"github.com/cbright/taskhive/pkg/models"
)

// engine wires the full stack for one CLI invocation: bus, registry, queue,
// dead letter queue, swarm coordinator, and the optional journal.
type engine struct {
	cfg         *config.Config
	events      *bus.Bus
	agents      *registry.Registry
	queue       *queue.TaskQueue
	deadLetters *dlq.DLQ
	coordinator *swarm.Coordinator
	journal     *journal.Journal
}

// newEngine builds an engine from the effective configuration.
func newEngine(cfg *config.Config) (*engine, error) {
	events := bus.New(256)
	agents := registry.New(events)

	e := &engine{
		cfg:    cfg,
		events: events,
		agents: agents,
	}

	e.queue = queue.New(agents, events, cfg.QueueOptions())
	e.deadLetters = dlq.New(e.executeTask, events, cfg.DLQOptions())
	e.coordinator = swarm.New(agents, cfg.SwarmOptions())

	// Terminal queue failures flow into the DLQ for longer-horizon retries.
	e.queue.SetFailureHandler(func(task *models.Task, result *models.TaskResult) {
		e.deadLetters.AddResult(task, result)
	})

	if cfg.Journal.Enabled {
		j, err := journal.Open(cfg.JournalPath())
		if err != nil {
			e.close()
			return nil, fmt.Errorf("open journal: %w", err)
		}
		if err := j.Migrate(); err != nil {
			j.Close()
			e.close()
			return nil, fmt.Errorf("migrate journal: %w", err)
		}
		j.Attach(events)
		e.journal = j
	}

	return e, nil
}

// executeTask is the DLQ's retry executor: resolve an agent the same way the
// queue does and run the task directly.
func (e *engine) executeTask(ctx context.Context, task *models.Task) (*models.TaskResult, error) {
	name := string(task.AssignedAgent)
	if name == "" {
		name = string(task.Type)
	}
	if name != "" && e.agents.Has(name) {
		a, err := e.agents.GetAsync(name)
		if err != nil {
			return nil, err
		}
		return a.Run(ctx, task, nil)
	}
	if a, ok := e.agents.FindBestAgent(task.Prompt); ok {
		return a.Run(ctx, task, nil)
	}
	return nil, fmt.Errorf("no agent available for task %s", task.ID)
}

// registerDefaultAgents installs echo agents for the built-in task types so
// batches without an agents section still execute.
func (e *engine) registerDefaultAgents() {
	for _, typ := range []models.AgentType{
		models.AgentTypeCodegen,
		models.AgentTypeBuild,
		models.AgentTypeTest,
		models.AgentTypeGit,
		models.AgentTypeReview,
	} {
		name := string(typ)
		e.agents.RegisterEager(agent.NewScripted(name, name+" agent (scripted stand-in)"))
	}
}

func (e *engine) close() {
	e.queue.Dispose()
	e.agents.Clear()
	if e.journal != nil {
		if err := e.journal.Close(); err != nil {
			log.Printf("[taskhive] close journal: %v", err)
		}
	}
	e.events.Close()
}
