// Package models defines the shared data model for the taskhive engine.
package models

import (
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	// TaskStatusQueued indicates the task is waiting to be executed.
	TaskStatusQueued TaskStatus = "queued"
	// TaskStatusInProgress indicates the task is being executed by an agent.
	TaskStatusInProgress TaskStatus = "in_progress"
	// TaskStatusCompleted indicates the task completed successfully.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusFailed indicates the task failed terminally.
	TaskStatusFailed TaskStatus = "failed"
	// TaskStatusCancelled indicates the task was cancelled before it started.
	TaskStatusCancelled TaskStatus = "cancelled"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusQueued, TaskStatusInProgress, TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal returns true if no further transitions are possible from this status.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// AgentType identifies a category of agent. The set is open: callers may
// register agents under any name, these constants cover the built-in kinds.
type AgentType string

const (
	// AgentTypeCodegen generates or edits code.
	AgentTypeCodegen AgentType = "codegen"
	// AgentTypeBuild compiles and packages.
	AgentTypeBuild AgentType = "build"
	// AgentTypeTest runs test suites.
	AgentTypeTest AgentType = "test"
	// AgentTypeGit performs repository operations.
	AgentTypeGit AgentType = "git"
	// AgentTypeReview reviews produced work.
	AgentTypeReview AgentType = "review"
)

// Task represents a unit of work destined for an agent.
// A task is created by the caller and mutated only by the component
// (queue or dead letter queue) that currently owns it.
type Task struct {
	// ID is the unique, caller-assigned identifier for this task.
	ID string `json:"id" yaml:"id"`
	// Type is the category of agent this task is destined for.
	Type AgentType `json:"type" yaml:"type"`
	// Prompt is the instruction text handed to the agent.
	Prompt string `json:"prompt" yaml:"prompt"`
	// Status is the current state of the task.
	Status TaskStatus `json:"status" yaml:"-"`
	// Dependencies lists task IDs that must complete before this task runs.
	Dependencies []string `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	// AssignedAgent pins the task to a specific agent name, overriding Type.
	AssignedAgent AgentType `json:"assigned_agent,omitempty" yaml:"assigned_agent,omitempty"`
	// Context carries opaque key-value data through the pipeline.
	Context map[string]string `json:"context,omitempty" yaml:"context,omitempty"`
	// CreatedAt is when the task was created.
	CreatedAt time.Time `json:"created_at" yaml:"-"`
	// StartedAt is when execution began, if it has.
	StartedAt *time.Time `json:"started_at,omitempty" yaml:"-"`
	// CompletedAt is when the task reached a terminal state, if it has.
	CompletedAt *time.Time `json:"completed_at,omitempty" yaml:"-"`
	// Result holds the execution result once the task settles.
	Result *TaskResult `json:"result,omitempty" yaml:"-"`
}

// NewTask creates a queued task with the given id, type, and prompt.
func NewTask(id string, typ AgentType, prompt string) *Task {
	return &Task{
		ID:        id,
		Type:      typ,
		Prompt:    prompt,
		Status:    TaskStatusQueued,
		CreatedAt: time.Now(),
	}
}

// Clone returns a copy of the task with a fresh ID and reset execution state.
// Dependencies are not carried over: a cloned task stands on its own.
// Used when a swarm handoff reuses the task for the next agent.
func (t *Task) Clone() *Task {
	ctx := make(map[string]string, len(t.Context))
	for k, v := range t.Context {
		ctx[k] = v
	}
	return &Task{
		ID:        uuid.New().String(),
		Type:      t.Type,
		Prompt:    t.Prompt,
		Status:    TaskStatusQueued,
		Context:   ctx,
		CreatedAt: time.Now(),
	}
}
