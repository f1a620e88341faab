package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cbright/taskhive/internal/agent"
	"github.com/cbright/taskhive/internal/swarm"
	"github.com/cbright/taskhive/pkg/models"
)

// batchFile is the YAML description of a workload: the tasks to run, optional
// scripted agents to run them against, and optional swarm handoff rules.
type batchFile struct {
	Agents []agentSpec    `yaml:"agents,omitempty"`
	Tasks  []*models.Task `yaml:"tasks"`
	Rules  []ruleSpec     `yaml:"handoffs,omitempty"`
}

// agentSpec declares an agent inside a batch file. An agent is either
// scripted (replays the script steps) or shell-backed (command is run per
// task, with {prompt} and {id} substituted); declaring both is an error.
type agentSpec struct {
	Name         string     `yaml:"name"`
	Description  string     `yaml:"description,omitempty"`
	Capabilities []string   `yaml:"capabilities,omitempty"`
	Script       []stepSpec `yaml:"script,omitempty"`
	Command      string     `yaml:"command,omitempty"`
	WorkDir      string     `yaml:"workdir,omitempty"`
}

// stepSpec is one scripted outcome.
type stepSpec struct {
	Output string `yaml:"output,omitempty"`
	Fail   bool   `yaml:"fail,omitempty"`
	Error  string `yaml:"error,omitempty"`
	Delay  string `yaml:"delay,omitempty"`
}

// ruleSpec declares a swarm handoff rule inside a batch file.
type ruleSpec struct {
	From      string `yaml:"from"`
	To        string `yaml:"to"`
	Condition string `yaml:"condition"`
	Pattern   string `yaml:"pattern,omitempty"`
	Priority  int    `yaml:"priority,omitempty"`
}

// loadBatch parses and validates a batch file.
func loadBatch(path string) (*batchFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read batch file: %w", err)
	}

	var batch batchFile
	if err := yaml.Unmarshal(data, &batch); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	if len(batch.Tasks) == 0 {
		return nil, fmt.Errorf("%s declares no tasks", path)
	}
	seen := make(map[string]bool, len(batch.Tasks))
	for i, t := range batch.Tasks {
		if t.ID == "" {
			return nil, fmt.Errorf("task %d has no id", i)
		}
		if seen[t.ID] {
			return nil, fmt.Errorf("duplicate task id %s", t.ID)
		}
		seen[t.ID] = true
		if t.Prompt == "" {
			return nil, fmt.Errorf("task %s has no prompt", t.ID)
		}
		t.Status = models.TaskStatusQueued
		if t.CreatedAt.IsZero() {
			t.CreatedAt = time.Now()
		}
	}
	return &batch, nil
}

// registerAgents installs the batch's scripted agents on the engine.
func (e *engine) registerAgents(specs []agentSpec) error {
	for _, spec := range specs {
		if spec.Name == "" {
			return errors.New("agent declared without a name")
		}
		if spec.Command != "" {
			if len(spec.Script) > 0 {
				return fmt.Errorf("agent %s declares both command and script", spec.Name)
			}
			a := agent.NewShell(spec.Name, spec.Description, spec.Command, spec.WorkDir, nil)
			if len(spec.Capabilities) > 0 {
				a.WithCapabilities(spec.Capabilities...)
			}
			e.agents.RegisterEager(a)
			continue
		}
		script := make([]agent.Step, 0, len(spec.Script))
		for i, s := range spec.Script {
			step := agent.Step{Output: s.Output, Fail: s.Fail}
			if s.Error != "" {
				step.Err = errors.New(s.Error)
			}
			if s.Delay != "" {
				d, err := time.ParseDuration(s.Delay)
				if err != nil {
					return fmt.Errorf("agent %s step %d delay: %w", spec.Name, i, err)
				}
				step.Delay = d
			}
			script = append(script, step)
		}
		a := agent.NewScripted(spec.Name, spec.Description, script...)
		if len(spec.Capabilities) > 0 {
			a.WithCapabilities(spec.Capabilities...)
		}
		e.agents.RegisterEager(a)
	}
	return nil
}

// installRules installs the batch's handoff rules on the coordinator.
func (e *engine) installRules(specs []ruleSpec) error {
	for _, spec := range specs {
		err := e.coordinator.AddRule(swarm.HandoffRule{
			From:      spec.From,
			To:        spec.To,
			Condition: swarm.Condition(spec.Condition),
			Pattern:   spec.Pattern,
			Priority:  spec.Priority,
		})
		if err != nil {
			return err
		}
	}
	return nil
}
