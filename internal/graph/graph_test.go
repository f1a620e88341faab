package graph

import (
	"errors"
	"strings"
	"testing"

	"github.com/cbright/taskhive/pkg/models"
)

func task(id string, deps ...string) *models.Task {
	t := models.NewTask(id, models.AgentTypeTest, "prompt for "+id)
	t.Dependencies = deps
	return t
}

func TestBuildRejectsDuplicateID(t *testing.T) {
	g := New()
	err := g.Build([]*models.Task{task("a"), task("a")}, nil)
	if err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Errorf("err = %v, want duplicate id error", err)
	}
}

func TestBuildRejectsUnknownDependency(t *testing.T) {
	g := New()
	err := g.Build([]*models.Task{task("a", "ghost")}, nil)
	if err == nil || !strings.Contains(err.Error(), "ghost") {
		t.Errorf("err = %v, want unknown dependency error naming ghost", err)
	}
}

func TestBuildAcceptsSettledExternalDependency(t *testing.T) {
	g := New()
	settled := func(id string) bool { return id == "prior" }
	if err := g.Build([]*models.Task{task("a", "prior")}, settled); err != nil {
		t.Fatalf("Build: %v", err)
	}
	// External deps do not become edges.
	if deps := g.Dependencies("a"); len(deps) != 0 {
		t.Errorf("Dependencies(a) = %v, want none", deps)
	}
}

func TestBuildRejectsCycle(t *testing.T) {
	g := New()
	err := g.Build([]*models.Task{task("a", "b"), task("b", "c"), task("c", "a")}, nil)
	if !errors.Is(err, ErrCycle) {
		t.Fatalf("err = %v, want ErrCycle", err)
	}
	for _, id := range []string{"a", "b", "c"} {
		if !strings.Contains(err.Error(), id) {
			t.Errorf("cycle error should name %s: %v", id, err)
		}
	}
}

func TestHasCycle(t *testing.T) {
	g := New()
	if err := g.Build([]*models.Task{task("a"), task("b", "a")}, nil); err != nil {
		t.Fatalf("Build: %v", err)
	}
	if g.HasCycle() {
		t.Error("acyclic graph reported a cycle")
	}
}

func TestTopologicalSortOrder(t *testing.T) {
	g := New()
	tasks := []*models.Task{
		task("deploy", "build", "test"),
		task("build", "codegen"),
		task("test", "build"),
		task("codegen"),
	}
	if err := g.Build(tasks, nil); err != nil {
		t.Fatalf("Build: %v", err)
	}

	ordered, err := g.TopologicalSort()
	if err != nil {
		t.Fatalf("TopologicalSort: %v", err)
	}
	pos := make(map[string]int, len(ordered))
	for i, task := range ordered {
		pos[task.ID] = i
	}
	for _, task := range tasks {
		for _, dep := range task.Dependencies {
			if pos[dep] >= pos[task.ID] {
				t.Errorf("%s sorted before its dependency %s", task.ID, dep)
			}
		}
	}
}

func TestTopologicalSortPreservesInsertionOrderForTies(t *testing.T) {
	g := New()
	if err := g.Build([]*models.Task{task("c"), task("a"), task("b")}, nil); err != nil {
		t.Fatalf("Build: %v", err)
	}
	ordered, err := g.TopologicalSort()
	if err != nil {
		t.Fatalf("TopologicalSort: %v", err)
	}
	got := []string{ordered[0].ID, ordered[1].ID, ordered[2].ID}
	want := []string{"c", "a", "b"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestDependents(t *testing.T) {
	g := New()
	if err := g.Build([]*models.Task{task("a"), task("b", "a"), task("c", "a")}, nil); err != nil {
		t.Fatalf("Build: %v", err)
	}
	deps := g.Dependents("a")
	if len(deps) != 2 || deps[0] != "b" || deps[1] != "c" {
		t.Errorf("Dependents(a) = %v, want [b c]", deps)
	}
	if g.Size() != 3 {
		t.Errorf("Size = %d, want 3", g.Size())
	}
	if g.GetTask("b") == nil || g.GetTask("ghost") != nil {
		t.Error("GetTask lookup mismatch")
	}
}
