package agent

import (
	"context"
	"strings"
	"sync"

	"github.com/cbright/taskhive/internal/exec"
	"github.com/cbright/taskhive/pkg/models"
)

// ShellAgent executes a configured shell command per task. The command may
// reference {prompt} and {id}, which are substituted (shell-quoted) with the
// task's prompt and id before execution. A non-zero exit reports an
// unsuccessful result with the combined output as the error message.
type ShellAgent struct {
	// name is the registry name.
	name string
	// description feeds keyword matching.
	description string
	// capabilities lists tool names.
	capabilities []string
	// command is the shell command template.
	command string
	// workDir is the working directory, empty for the process default.
	workDir string
	// runner executes the command.
	runner exec.CommandRunner

	// mu protects the mutable state below.
	mu     sync.Mutex
	status Status
	cancel context.CancelFunc
}

// NewShell creates a ShellAgent running the given command template.
// A nil runner defaults to os/exec.
func NewShell(name, description, command, workDir string, runner exec.CommandRunner) *ShellAgent {
	if runner == nil {
		runner = exec.NewRunner()
	}
	return &ShellAgent{
		name:        name,
		description: description,
		command:     command,
		workDir:     workDir,
		runner:      runner,
		status:      StatusIdle,
	}
}

// WithCapabilities sets the agent's capability list and returns the agent.
func (a *ShellAgent) WithCapabilities(tools ...string) *ShellAgent {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.capabilities = tools
	return a
}

// Run substitutes the task into the command template and executes it.
func (a *ShellAgent) Run(ctx context.Context, task *models.Task, _ *Credentials) (*models.TaskResult, error) {
	runCtx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	a.status = StatusBusy
	a.cancel = cancel
	a.mu.Unlock()
	defer func() {
		cancel()
		a.mu.Lock()
		a.status = StatusIdle
		a.cancel = nil
		a.mu.Unlock()
	}()

	command := expandCommand(a.command, task)
	out, err := a.runner.RunShell(runCtx, a.workDir, command)
	output := strings.TrimRight(string(out), "\n")
	if err != nil {
		if ctxErr := runCtx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return &models.TaskResult{
			Success: false,
			Output:  output,
			Errors: []models.AgentError{{
				Code:        "COMMAND_FAILED",
				Message:     err.Error() + ": " + output,
				Recoverable: true,
			}},
		}, nil
	}
	return &models.TaskResult{Success: true, Output: output}, nil
}

// Name returns the agent's registry name.
func (a *ShellAgent) Name() string { return a.name }

// Description returns the agent's summary text.
func (a *ShellAgent) Description() string { return a.description }

// Capabilities returns the agent's tool names.
func (a *ShellAgent) Capabilities() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.capabilities
}

// Status reports the agent's current state.
func (a *ShellAgent) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// IsAvailable returns true when the agent is idle.
func (a *ShellAgent) IsAvailable() bool {
	return a.Status() == StatusIdle
}

// Abort cancels the in-flight command, if any.
func (a *ShellAgent) Abort() {
	a.mu.Lock()
	cancel := a.cancel
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Subscribe is a no-op for shell agents; command output is the whole story.
func (a *ShellAgent) Subscribe(fn func(Event)) func() {
	return func() {}
}

// expandCommand substitutes {prompt} and {id} placeholders, shell-quoted.
func expandCommand(command string, task *models.Task) string {
	command = strings.ReplaceAll(command, "{prompt}", shellQuote(task.Prompt))
	command = strings.ReplaceAll(command, "{id}", shellQuote(task.ID))
	return command
}

// shellQuote wraps s in single quotes, escaping embedded single quotes.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// Compile-time verification that ShellAgent implements Agent.
var _ Agent = (*ShellAgent)(nil)
