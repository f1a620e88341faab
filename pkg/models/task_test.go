package models

import (
	"testing"
	"time"
)

func TestTaskStatus_Valid(t *testing.T) {
	valid := []TaskStatus{
		TaskStatusQueued,
		TaskStatusInProgress,
		TaskStatusCompleted,
		TaskStatusFailed,
		TaskStatusCancelled,
	}
	for _, s := range valid {
		if !s.Valid() {
			t.Errorf("status %q should be valid", s)
		}
	}

	if TaskStatus("bogus").Valid() {
		t.Error("unknown status should not be valid")
	}
}

func TestTaskStatus_Terminal(t *testing.T) {
	tests := []struct {
		status   TaskStatus
		terminal bool
	}{
		{TaskStatusQueued, false},
		{TaskStatusInProgress, false},
		{TaskStatusCompleted, true},
		{TaskStatusFailed, true},
		{TaskStatusCancelled, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.Terminal(); got != tt.terminal {
				t.Errorf("Terminal() = %v, want %v", got, tt.terminal)
			}
		})
	}
}

func TestNewTask(t *testing.T) {
	before := time.Now()
	task := NewTask("t1", AgentTypeCodegen, "write a parser")

	if task.ID != "t1" {
		t.Errorf("ID = %q, want %q", task.ID, "t1")
	}
	if task.Type != AgentTypeCodegen {
		t.Errorf("Type = %q, want %q", task.Type, AgentTypeCodegen)
	}
	if task.Status != TaskStatusQueued {
		t.Errorf("Status = %q, want %q", task.Status, TaskStatusQueued)
	}
	if task.CreatedAt.Before(before) {
		t.Error("CreatedAt should be stamped at creation")
	}
}

func TestTask_Clone(t *testing.T) {
	orig := NewTask("t1", AgentTypeTest, "run the suite")
	orig.Dependencies = []string{"t0"}
	orig.Context = map[string]string{"branch": "main"}
	orig.Status = TaskStatusCompleted

	clone := orig.Clone()

	if clone.ID == orig.ID {
		t.Error("clone should get a fresh ID")
	}
	if clone.ID == "" {
		t.Error("clone ID should not be empty")
	}
	if clone.Status != TaskStatusQueued {
		t.Errorf("clone Status = %q, want %q", clone.Status, TaskStatusQueued)
	}
	if len(clone.Dependencies) != 0 {
		t.Error("clone should not inherit dependencies")
	}
	if clone.Context["branch"] != "main" {
		t.Error("clone should carry over context values")
	}

	// Context must be a copy, not shared.
	clone.Context["branch"] = "dev"
	if orig.Context["branch"] != "main" {
		t.Error("mutating clone context should not affect the original")
	}
}

func TestFailedResult(t *testing.T) {
	res := FailedResult(ErrCodeDependencyFailed, "dependency t0 failed", false)

	if res.Success {
		t.Error("failed result should not be successful")
	}
	if len(res.Errors) != 1 {
		t.Fatalf("Errors length = %d, want 1", len(res.Errors))
	}
	if res.Errors[0].Code != ErrCodeDependencyFailed {
		t.Errorf("Code = %q, want %q", res.Errors[0].Code, ErrCodeDependencyFailed)
	}
	if res.ErrorMessage() != "dependency t0 failed" {
		t.Errorf("ErrorMessage() = %q", res.ErrorMessage())
	}
}

func TestAgentError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  AgentError
		want string
	}{
		{"with code", AgentError{Code: "E1", Message: "boom"}, "E1: boom"},
		{"without code", AgentError{Message: "boom"}, "boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTaskResult_FirstError_Nil(t *testing.T) {
	var r *TaskResult
	if r.FirstError() != nil {
		t.Error("nil result should have no first error")
	}

	ok := &TaskResult{Success: true, Output: "done"}
	if ok.FirstError() != nil {
		t.Error("successful result should have no first error")
	}
	if ok.ErrorMessage() != "" {
		t.Error("successful result should have empty error message")
	}
}
