package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cbright/taskhive/internal/config"
	"github.com/cbright/taskhive/pkg/models"
)

func newTestEngine(t *testing.T) *engine {
	t.Helper()
	e, err := newEngine(config.Default())
	if err != nil {
		t.Fatalf("newEngine: %v", err)
	}
	t.Cleanup(e.close)
	return e
}

func writeBatch(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "batch.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write batch: %v", err)
	}
	return path
}

func TestLoadBatch(t *testing.T) {
	path := writeBatch(t, `
agents:
  - name: greeter
    description: says hello
    script:
      - output: hello
  - name: builder
    command: "make build TASK={id}"
    workdir: /src
tasks:
  - id: a
    type: codegen
    prompt: write the greeting
  - id: b
    type: build
    prompt: build it
    dependencies: [a]
handoffs:
  - from: greeter
    to: builder
    condition: on_success
`)

	batch, err := loadBatch(path)
	if err != nil {
		t.Fatalf("loadBatch: %v", err)
	}
	if len(batch.Agents) != 2 || len(batch.Tasks) != 2 || len(batch.Rules) != 1 {
		t.Fatalf("parsed %d agents, %d tasks, %d rules", len(batch.Agents), len(batch.Tasks), len(batch.Rules))
	}
	if batch.Agents[1].Command != "make build TASK={id}" || batch.Agents[1].WorkDir != "/src" {
		t.Errorf("shell agent spec = %+v", batch.Agents[1])
	}
	b := batch.Tasks[1]
	if b.Status != models.TaskStatusQueued || b.CreatedAt.IsZero() {
		t.Errorf("task not stamped: %+v", b)
	}
	if len(b.Dependencies) != 1 || b.Dependencies[0] != "a" {
		t.Errorf("dependencies = %v", b.Dependencies)
	}
}

func TestLoadBatchValidation(t *testing.T) {
	cases := []struct {
		name    string
		content string
		wantErr string
	}{
		{"no tasks", "agents:\n  - name: x\n", "no tasks"},
		{"missing id", "tasks:\n  - prompt: p\n", "no id"},
		{"duplicate id", "tasks:\n  - id: a\n    prompt: p\n  - id: a\n    prompt: q\n", "duplicate"},
		{"missing prompt", "tasks:\n  - id: a\n", "no prompt"},
		{"bad yaml", "tasks: [", "parse"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := loadBatch(writeBatch(t, tc.content))
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("err = %v, want substring %q", err, tc.wantErr)
			}
		})
	}

	if _, err := loadBatch(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file should error")
	}
}

func TestRegisterAgents(t *testing.T) {
	e := newTestEngine(t)

	specs := []agentSpec{
		{Name: "scripted", Script: []stepSpec{{Output: "ok", Delay: "10ms"}}},
		{Name: "sheller", Command: "echo {prompt}"},
	}
	if err := e.registerAgents(specs); err != nil {
		t.Fatalf("registerAgents: %v", err)
	}
	for _, name := range []string{"scripted", "sheller"} {
		if !e.agents.Has(name) {
			t.Errorf("agent %s not registered", name)
		}
	}
}

func TestRegisterAgentsRejectsBadSpecs(t *testing.T) {
	e := newTestEngine(t)

	if err := e.registerAgents([]agentSpec{{Script: []stepSpec{{Output: "x"}}}}); err == nil {
		t.Error("nameless agent should be rejected")
	}
	if err := e.registerAgents([]agentSpec{{Name: "x", Script: []stepSpec{{Delay: "soon"}}}}); err == nil {
		t.Error("unparseable delay should be rejected")
	}
	both := agentSpec{Name: "x", Command: "true", Script: []stepSpec{{Output: "y"}}}
	if err := e.registerAgents([]agentSpec{both}); err == nil {
		t.Error("command plus script should be rejected")
	}
}

func TestExecuteBatchFileInstallsHandoffs(t *testing.T) {
	e := newTestEngine(t)
	path := writeBatch(t, `
agents:
  - name: codegen
    script:
      - output: done
tasks:
  - id: a
    type: codegen
    prompt: write it
handoffs:
  - from: codegen
    to: review
    condition: on_success
    priority: 3
`)

	failed, err := executeBatchFile(context.Background(), e, path)
	if err != nil {
		t.Fatalf("executeBatchFile: %v", err)
	}
	if failed != 0 {
		t.Errorf("failed = %d", failed)
	}
	rules := e.coordinator.RulesFor("codegen")
	if len(rules) != 1 || rules[0].To != "review" || rules[0].Priority != 3 {
		t.Errorf("RulesFor(codegen) = %+v", rules)
	}

	bad := writeBatch(t, `
tasks:
  - id: a
    prompt: p
handoffs:
  - from: a
    to: b
    condition: sometimes
`)
	if _, err := executeBatchFile(context.Background(), e, bad); err == nil {
		t.Error("batch with an invalid handoff condition should be rejected")
	}
}

func TestInstallRules(t *testing.T) {
	e := newTestEngine(t)

	ok := []ruleSpec{{From: "a", To: "b", Condition: "on_success"}}
	if err := e.installRules(ok); err != nil {
		t.Fatalf("installRules: %v", err)
	}
	bad := []ruleSpec{{From: "a", To: "b", Condition: "sometimes"}}
	if err := e.installRules(bad); err == nil {
		t.Error("unknown condition should be rejected")
	}
}
