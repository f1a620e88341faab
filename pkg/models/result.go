package models

// Error codes produced by the engine itself. Agent-defined codes pass
// through verbatim.
const (
	// ErrCodeDependencyFailed marks a task failed because a prerequisite
	// task failed. Never retried.
	ErrCodeDependencyFailed = "DEPENDENCY_FAILED"
	// ErrCodeTaskExecutionFailed marks a task that exhausted queue-level
	// retries or whose agent returned a hard error.
	ErrCodeTaskExecutionFailed = "TASK_EXECUTION_FAILED"
	// ErrCodeNoAgentAvailable marks a task for which no executor could be
	// resolved.
	ErrCodeNoAgentAvailable = "NO_AGENT_AVAILABLE"
)

// TaskResult is the outcome of a single task execution.
// It is immutable once produced.
type TaskResult struct {
	// Success indicates whether the task completed successfully.
	Success bool `json:"success"`
	// Output is the agent's primary output text.
	Output string `json:"output"`
	// Errors lists errors reported by the agent, if any.
	Errors []AgentError `json:"errors,omitempty"`
	// Artifacts lists artifacts produced during execution.
	Artifacts []Artifact `json:"artifacts,omitempty"`
	// Data carries arbitrary structured output.
	Data any `json:"data,omitempty"`
}

// FailedResult builds a failed TaskResult with a single error.
func FailedResult(code, message string, recoverable bool) *TaskResult {
	return &TaskResult{
		Success: false,
		Errors: []AgentError{{
			Code:        code,
			Message:     message,
			Recoverable: recoverable,
		}},
	}
}

// FirstError returns the first reported error, or nil if there are none.
func (r *TaskResult) FirstError() *AgentError {
	if r == nil || len(r.Errors) == 0 {
		return nil
	}
	return &r.Errors[0]
}

// ErrorMessage returns the first error message, or "" on success.
func (r *TaskResult) ErrorMessage() string {
	if e := r.FirstError(); e != nil {
		return e.Message
	}
	return ""
}

// AgentError describes a failure reported by an agent.
type AgentError struct {
	// Code is a machine-readable error code.
	Code string `json:"code"`
	// Message is the human-readable error text.
	Message string `json:"message"`
	// Recoverable indicates whether a retry could plausibly succeed.
	Recoverable bool `json:"recoverable"`
}

// Error implements the error interface.
func (e AgentError) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return e.Code + ": " + e.Message
}

// Artifact is a named output produced by an agent.
type Artifact struct {
	// Name is the artifact's display name.
	Name string `json:"name"`
	// Path is where the artifact lives, if it has a location.
	Path string `json:"path,omitempty"`
	// Kind describes the artifact (file, patch, report, ...).
	Kind string `json:"kind,omitempty"`
}
