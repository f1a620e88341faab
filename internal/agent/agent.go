// Package agent defines the executor contract consumed by the engine.
// Concrete production agents live outside this repository; the engine only
// depends on this interface plus a scripted stand-in for demos and tests.
package agent

import (
	"context"
	"time"

	"github.com/cbright/taskhive/pkg/models"
)

// Status represents the availability state of an agent.
type Status string

const (
	// StatusIdle indicates the agent is not executing anything.
	StatusIdle Status = "idle"
	// StatusBusy indicates the agent is executing a task.
	StatusBusy Status = "busy"
	// StatusError indicates the agent is in a faulted state.
	StatusError Status = "error"
)

// Credentials carries authentication material handed to an agent at run time.
// The engine treats it as opaque.
type Credentials struct {
	// APIKey is the primary credential, if any.
	APIKey string
	// Extra holds additional provider-specific values.
	Extra map[string]string
}

// Event is a notification emitted by an agent during its lifecycle.
type Event struct {
	// Type is the kind of event (started, progress, completed, aborted, ...).
	Type string
	// AgentName is the name of the emitting agent.
	AgentName string
	// TaskID is the related task, if applicable.
	TaskID string
	// Message provides additional context.
	Message string
	// Timestamp is when the event occurred.
	Timestamp time.Time
}

// Agent is an opaque task executor.
// Implementations must be safe for concurrent use of the read-only methods;
// Run is invoked for one task at a time per agent by the engine.
type Agent interface {
	// Run executes a task and returns its result. A non-nil error means the
	// execution itself broke down; agent-level failures are reported through
	// TaskResult.Success and TaskResult.Errors.
	Run(ctx context.Context, task *models.Task, creds *Credentials) (*models.TaskResult, error)

	// Name returns the unique registry name of this agent.
	Name() string

	// Description returns a short human-readable summary of what the agent
	// does. Used by keyword matching when no explicit assignment exists.
	Description() string

	// Capabilities lists tool names this agent can operate.
	Capabilities() []string

	// Status reports the agent's current state.
	Status() Status

	// IsAvailable returns true if the agent can accept a task now.
	IsAvailable() bool

	// Abort asks the agent to stop its current execution. Cooperative: the
	// engine never forcibly preempts a running agent.
	Abort()

	// Subscribe registers a callback for agent events and returns an
	// unsubscribe function.
	Subscribe(fn func(Event)) (unsubscribe func())
}

// Factory constructs an agent on first use. Used for expensive executors
// registered lazily.
type Factory func() (Agent, error)
