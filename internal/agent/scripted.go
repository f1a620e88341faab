package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cbright/taskhive/pkg/models"
)

// Step describes one scripted execution outcome.
type Step struct {
	// Output is the result output text.
	Output string
	// Fail makes this step return an unsuccessful result.
	Fail bool
	// Err makes this step return a hard error instead of a result.
	Err error
	// Delay pauses before producing the outcome.
	Delay time.Duration
}

// ScriptedAgent is an Agent that replays a fixed script of outcomes.
// It backs the CLI demo and the engine's tests; it performs no real work.
// Once the script is exhausted the last step repeats. An empty script
// succeeds with an echo of the prompt.
type ScriptedAgent struct {
	// name is the registry name.
	name string
	// description feeds keyword matching.
	description string
	// capabilities lists tool names.
	capabilities []string
	// script is the ordered list of outcomes to replay.
	script []Step
	// calls counts Run invocations.
	calls int
	// status is the current agent state.
	status Status
	// aborted flags a pending abort request.
	aborted bool
	// subscribers maps subscription IDs to callbacks.
	subscribers map[int]func(Event)
	// nextSubID is the next subscription ID.
	nextSubID int
	// mu protects all fields.
	mu sync.Mutex
}

// NewScripted creates a ScriptedAgent with the given name and script.
func NewScripted(name, description string, script ...Step) *ScriptedAgent {
	return &ScriptedAgent{
		name:        name,
		description: description,
		script:      script,
		status:      StatusIdle,
		subscribers: make(map[int]func(Event)),
	}
}

// WithCapabilities sets the agent's capability list and returns the agent.
func (a *ScriptedAgent) WithCapabilities(tools ...string) *ScriptedAgent {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.capabilities = tools
	return a
}

// Run replays the next scripted step.
func (a *ScriptedAgent) Run(ctx context.Context, task *models.Task, _ *Credentials) (*models.TaskResult, error) {
	a.mu.Lock()
	step := Step{Output: "echo: " + task.Prompt}
	if len(a.script) > 0 {
		idx := a.calls
		if idx >= len(a.script) {
			idx = len(a.script) - 1
		}
		step = a.script[idx]
	}
	a.calls++
	a.status = StatusBusy
	a.aborted = false
	a.mu.Unlock()

	a.emit(Event{Type: "started", AgentName: a.name, TaskID: task.ID, Timestamp: time.Now()})
	defer a.setIdle()

	if step.Delay > 0 {
		select {
		case <-time.After(step.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	a.mu.Lock()
	aborted := a.aborted
	a.mu.Unlock()
	if aborted {
		return nil, fmt.Errorf("agent %s: aborted", a.name)
	}

	if step.Err != nil {
		return nil, step.Err
	}
	if step.Fail {
		a.emit(Event{Type: "failed", AgentName: a.name, TaskID: task.ID, Message: step.Output, Timestamp: time.Now()})
		return &models.TaskResult{
			Success: false,
			Output:  step.Output,
			Errors:  []models.AgentError{{Code: "SCRIPTED_FAILURE", Message: step.Output, Recoverable: true}},
		}, nil
	}

	a.emit(Event{Type: "completed", AgentName: a.name, TaskID: task.ID, Timestamp: time.Now()})
	return &models.TaskResult{Success: true, Output: step.Output}, nil
}

// Name returns the agent's registry name.
func (a *ScriptedAgent) Name() string { return a.name }

// Description returns the agent's summary text.
func (a *ScriptedAgent) Description() string { return a.description }

// Capabilities returns the agent's tool names.
func (a *ScriptedAgent) Capabilities() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.capabilities
}

// Status reports the agent's current state.
func (a *ScriptedAgent) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// IsAvailable returns true when the agent is idle.
func (a *ScriptedAgent) IsAvailable() bool {
	return a.Status() == StatusIdle
}

// Abort flags the current execution to stop at its next checkpoint.
func (a *ScriptedAgent) Abort() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.aborted = true
}

// Subscribe registers an event callback and returns an unsubscribe function.
func (a *ScriptedAgent) Subscribe(fn func(Event)) func() {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := a.nextSubID
	a.nextSubID++
	a.subscribers[id] = fn

	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		delete(a.subscribers, id)
	}
}

// Calls returns the number of Run invocations so far.
func (a *ScriptedAgent) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

func (a *ScriptedAgent) setIdle() {
	a.mu.Lock()
	a.status = StatusIdle
	a.mu.Unlock()
}

func (a *ScriptedAgent) emit(ev Event) {
	a.mu.Lock()
	fns := make([]func(Event), 0, len(a.subscribers))
	for _, fn := range a.subscribers {
		fns = append(fns, fn)
	}
	a.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// Compile-time verification that ScriptedAgent implements Agent.
var _ Agent = (*ScriptedAgent)(nil)
