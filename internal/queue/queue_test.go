package queue

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/cbright/taskhive/internal/agent"
	"github.com/cbright/taskhive/internal/bus"
	"github.com/cbright/taskhive/internal/registry"
	"github.com/cbright/taskhive/pkg/models"
)

// newTestQueue builds a queue over the given agents with fast retry timing.
func newTestQueue(t *testing.T, cfg Config, agents ...agent.Agent) *TaskQueue {
	t.Helper()
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 10 * time.Millisecond
	}
	r := registry.New(nil)
	for _, a := range agents {
		r.RegisterEager(a)
	}
	events := bus.New(64)
	q := New(r, events, cfg)
	t.Cleanup(func() {
		q.Dispose()
		events.Close()
	})
	return q
}

func awaitResult(t *testing.T, ch <-chan *models.TaskResult, timeout time.Duration) *models.TaskResult {
	t.Helper()
	select {
	case res := <-ch:
		return res
	case <-time.After(timeout):
		t.Fatal("timed out waiting for task result")
		return nil
	}
}

func TestQueue_EnqueueAndComplete(t *testing.T) {
	q := newTestQueue(t, Config{}, agent.NewScripted("test", "runs tests"))

	res := awaitResult(t, q.Enqueue(models.NewTask("t1", models.AgentTypeTest, "hello")), time.Second)
	if !res.Success {
		t.Fatalf("result = %+v, want success", res)
	}
	if res.Output != "echo: hello" {
		t.Errorf("Output = %q", res.Output)
	}

	stats := q.Stats()
	if stats.Completed != 1 || stats.TotalProcessed != 1 {
		t.Errorf("stats = %+v, want 1 completed / 1 processed", stats)
	}
	if got, ok := q.GetResult("t1"); !ok || got != res {
		t.Error("GetResult should return the stored result")
	}
}

func TestQueue_DependencyGating(t *testing.T) {
	// One agent replays parent then child. The child is enqueued first, so
	// it must be skipped until the parent's result lands.
	a := agent.NewScripted("test", "",
		agent.Step{Output: "parent done", Delay: 50 * time.Millisecond},
		agent.Step{Output: "child done"},
	)
	q := newTestQueue(t, Config{MaxParallel: 2}, a)

	child := models.NewTask("child", models.AgentTypeTest, "after parent")
	child.Dependencies = []string{"parent"}
	childCh := q.Enqueue(child)
	parentCh := q.Enqueue(models.NewTask("parent", models.AgentTypeTest, "first"))

	parentRes := awaitResult(t, parentCh, time.Second)
	if parentRes.Output != "parent done" {
		t.Errorf("parent Output = %q", parentRes.Output)
	}
	childRes := awaitResult(t, childCh, time.Second)
	if childRes.Output != "child done" {
		t.Errorf("child ran before its dependency: Output = %q", childRes.Output)
	}
}

func TestQueue_FailedDependencyShortCircuits(t *testing.T) {
	failing := agent.NewScripted("test", "", agent.Step{Fail: true, Output: "broken"})
	bystander := agent.NewScripted("never", "must not run")
	q := newTestQueue(t, Config{MaxRetries: 0}, failing, bystander)

	res := awaitResult(t, q.Enqueue(models.NewTask("parent", models.AgentTypeTest, "will fail")), time.Second)
	if res.Success {
		t.Fatal("parent should fail")
	}

	child := models.NewTask("child", models.AgentTypeTest, "depends on failure")
	child.Dependencies = []string{"parent"}
	child.AssignedAgent = "never"

	childRes := awaitResult(t, q.Enqueue(child), time.Second)
	if childRes.Success {
		t.Fatal("child should fail")
	}
	if e := childRes.FirstError(); e == nil || e.Code != models.ErrCodeDependencyFailed {
		t.Errorf("error = %+v, want %s", e, models.ErrCodeDependencyFailed)
	}
	if !strings.Contains(childRes.ErrorMessage(), "parent") {
		t.Errorf("message %q should name the failed dependency", childRes.ErrorMessage())
	}
	if bystander.Calls() != 0 {
		t.Errorf("agent was invoked %d times for a dead task", bystander.Calls())
	}
}

func TestQueue_RetrySucceedsOnSecondAttempt(t *testing.T) {
	a := agent.NewScripted("test", "",
		agent.Step{Fail: true, Output: "transient"},
		agent.Step{Output: "recovered"},
	)
	q := newTestQueue(t, Config{MaxRetries: 2}, a)

	res := awaitResult(t, q.Enqueue(models.NewTask("t1", models.AgentTypeTest, "flaky")), time.Second)
	if !res.Success || res.Output != "recovered" {
		t.Fatalf("result = %+v, want recovered success", res)
	}
	if a.Calls() != 2 {
		t.Errorf("agent calls = %d, want 2", a.Calls())
	}
	if stats := q.Stats(); stats.Failed != 0 || stats.Completed != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestQueue_RetryExhaustionInvokesFailureHandler(t *testing.T) {
	a := agent.NewScripted("test", "", agent.Step{Fail: true, Output: "always broken"})
	q := newTestQueue(t, Config{MaxRetries: 1}, a)

	handled := make(chan *models.Task, 1)
	q.SetFailureHandler(func(task *models.Task, result *models.TaskResult) {
		handled <- task
	})

	res := awaitResult(t, q.Enqueue(models.NewTask("t1", models.AgentTypeTest, "doomed")), time.Second)
	if res.Success {
		t.Fatal("task should fail terminally")
	}
	if a.Calls() != 2 {
		t.Errorf("agent calls = %d, want initial + 1 retry", a.Calls())
	}

	select {
	case task := <-handled:
		if task.ID != "t1" {
			t.Errorf("handler received task %s", task.ID)
		}
		if task.Status != models.TaskStatusFailed {
			t.Errorf("task status = %s", task.Status)
		}
	case <-time.After(time.Second):
		t.Fatal("failure handler was not invoked")
	}

	if stats := q.Stats(); stats.Failed != 1 || stats.TotalProcessed != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestQueue_NoAgentAvailable(t *testing.T) {
	q := newTestQueue(t, Config{MaxRetries: 0})

	res := awaitResult(t, q.Enqueue(models.NewTask("t1", models.AgentTypeTest, "nobody home")), time.Second)
	if res.Success {
		t.Fatal("task should fail")
	}
	if e := res.FirstError(); e == nil || e.Code != models.ErrCodeNoAgentAvailable {
		t.Errorf("error = %+v, want %s", e, models.ErrCodeNoAgentAvailable)
	}
}

func TestQueue_EnqueueBatch(t *testing.T) {
	q := newTestQueue(t, Config{MaxParallel: 2}, agent.NewScripted("test", ""))

	a := models.NewTask("a", models.AgentTypeTest, "one")
	b := models.NewTask("b", models.AgentTypeTest, "two")
	b.Dependencies = []string{"a"}
	c := models.NewTask("c", models.AgentTypeTest, "three")
	c.Dependencies = []string{"b"}

	// Declaration order should not matter.
	channels, err := q.EnqueueBatch([]*models.Task{c, a, b})
	if err != nil {
		t.Fatalf("EnqueueBatch: %v", err)
	}
	for _, id := range []string{"a", "b", "c"} {
		if res := awaitResult(t, channels[id], time.Second); !res.Success {
			t.Errorf("task %s failed: %+v", id, res)
		}
	}
	if stats := q.Stats(); stats.Completed != 3 {
		t.Errorf("stats = %+v, want 3 completed", stats)
	}
}

func TestQueue_EnqueueBatchRejectsCycle(t *testing.T) {
	q := newTestQueue(t, Config{}, agent.NewScripted("test", ""))

	a := models.NewTask("a", models.AgentTypeTest, "")
	a.Dependencies = []string{"b"}
	b := models.NewTask("b", models.AgentTypeTest, "")
	b.Dependencies = []string{"a"}

	if _, err := q.EnqueueBatch([]*models.Task{a, b}); err == nil {
		t.Error("cyclic batch should be rejected")
	}
	if stats := q.Stats(); stats.Pending != 0 {
		t.Errorf("rejected batch must not enqueue anything, pending = %d", stats.Pending)
	}
}

func TestQueue_EnqueueBatchRejectsUnknownDependency(t *testing.T) {
	q := newTestQueue(t, Config{}, agent.NewScripted("test", ""))

	a := models.NewTask("a", models.AgentTypeTest, "")
	a.Dependencies = []string{"ghost"}

	if _, err := q.EnqueueBatch([]*models.Task{a}); err == nil {
		t.Error("unknown dependency should be rejected")
	}
}

func TestQueue_EnqueueBatchAcceptsSettledExternalDependency(t *testing.T) {
	q := newTestQueue(t, Config{}, agent.NewScripted("test", ""))

	awaitResult(t, q.Enqueue(models.NewTask("base", models.AgentTypeTest, "prior work")), time.Second)

	a := models.NewTask("a", models.AgentTypeTest, "builds on base")
	a.Dependencies = []string{"base"}
	channels, err := q.EnqueueBatch([]*models.Task{a})
	if err != nil {
		t.Fatalf("EnqueueBatch: %v", err)
	}
	if res := awaitResult(t, channels["a"], time.Second); !res.Success {
		t.Errorf("result = %+v", res)
	}
}

func TestQueue_CancelQueuedTask(t *testing.T) {
	q := newTestQueue(t, Config{}, agent.NewScripted("test", ""))
	q.Pause()

	ch := q.Enqueue(models.NewTask("t1", models.AgentTypeTest, "never runs"))
	if !q.Cancel("t1") {
		t.Fatal("Cancel should succeed for a queued task")
	}
	res := awaitResult(t, ch, time.Second)
	if res.Success {
		t.Error("cancelled task should resolve unsuccessfully")
	}
	if q.Cancel("t1") {
		t.Error("second Cancel should report unknown task")
	}
	if q.Cancel("nonexistent") {
		t.Error("Cancel of unknown id should be false")
	}
}

func TestQueue_PauseAndResume(t *testing.T) {
	q := newTestQueue(t, Config{}, agent.NewScripted("test", ""))

	q.Pause()
	ch := q.Enqueue(models.NewTask("t1", models.AgentTypeTest, "waits for resume"))

	time.Sleep(50 * time.Millisecond)
	if stats := q.Stats(); stats.Pending != 1 || stats.Running != 0 {
		t.Fatalf("paused queue dispatched work: %+v", stats)
	}

	q.Resume()
	if res := awaitResult(t, ch, time.Second); !res.Success {
		t.Errorf("result after resume = %+v", res)
	}
}

func TestQueue_Clear(t *testing.T) {
	q := newTestQueue(t, Config{}, agent.NewScripted("test", ""))
	q.Pause()

	ch1 := q.Enqueue(models.NewTask("t1", models.AgentTypeTest, ""))
	ch2 := q.Enqueue(models.NewTask("t2", models.AgentTypeTest, ""))
	q.Clear()

	for _, ch := range []<-chan *models.TaskResult{ch1, ch2} {
		if res := awaitResult(t, ch, time.Second); res.Success {
			t.Error("cleared task should resolve unsuccessfully")
		}
	}
	if stats := q.Stats(); stats.Pending != 0 {
		t.Errorf("pending = %d after Clear", stats.Pending)
	}
}

func TestQueue_WaitForTask(t *testing.T) {
	q := newTestQueue(t, Config{},
		agent.NewScripted("test", "", agent.Step{Output: "done", Delay: 30 * time.Millisecond}))

	q.Enqueue(models.NewTask("t1", models.AgentTypeTest, "slow"))

	res, err := q.WaitForTask(context.Background(), "t1", time.Second)
	if err != nil {
		t.Fatalf("WaitForTask: %v", err)
	}
	if !res.Success || res.Output != "done" {
		t.Errorf("result = %+v", res)
	}

	// Already-settled tasks resolve immediately from the store.
	res, err = q.WaitForTask(context.Background(), "t1", 10*time.Millisecond)
	if err != nil || !res.Success {
		t.Errorf("settled WaitForTask = %+v, %v", res, err)
	}
}

func TestQueue_WaitForTaskTimeout(t *testing.T) {
	q := newTestQueue(t, Config{}, agent.NewScripted("test", ""))

	start := time.Now()
	_, err := q.WaitForTask(context.Background(), "never-enqueued", 50*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("timeout took %s", elapsed)
	}
}

func TestQueue_WaitForTaskContextCancel(t *testing.T) {
	q := newTestQueue(t, Config{}, agent.NewScripted("test", ""))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	if _, err := q.WaitForTask(ctx, "never-enqueued", time.Second); err != context.Canceled {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestQueue_DeadlockHaltsInsteadOfSpinning(t *testing.T) {
	a := agent.NewScripted("test", "")
	q := newTestQueue(t, Config{}, a)

	// The dependency never existed, so the task can only wait.
	blocked := models.NewTask("blocked", models.AgentTypeTest, "waiting forever")
	blocked.Dependencies = []string{"ghost"}
	ch := q.Enqueue(blocked)

	time.Sleep(100 * time.Millisecond)
	if stats := q.Stats(); stats.Pending != 1 || stats.Running != 0 {
		t.Fatalf("stats = %+v, want the blocked task parked", stats)
	}
	if a.Calls() != 0 {
		t.Errorf("agent calls = %d, blocked task must not run", a.Calls())
	}

	// Satisfying the dependency later unblocks the parked task.
	awaitResult(t, q.Enqueue(models.NewTask("ghost", models.AgentTypeTest, "late arrival")), time.Second)
	if res := awaitResult(t, ch, time.Second); !res.Success {
		t.Errorf("unblocked task result = %+v", res)
	}
}

func TestQueue_MaxParallelBound(t *testing.T) {
	// Three slow agents, ceiling of 2: peak concurrency must never exceed 2.
	mk := func(name string) *agent.ScriptedAgent {
		return agent.NewScripted(name, "", agent.Step{Output: "ok", Delay: 60 * time.Millisecond})
	}
	a1, a2, a3 := mk("a1"), mk("a2"), mk("a3")
	q := newTestQueue(t, Config{MaxParallel: 2}, a1, a2, a3)

	var channels []<-chan *models.TaskResult
	for _, name := range []string{"a1", "a2", "a3"} {
		task := models.NewTask(name+"-task", models.AgentTypeTest, "slow work")
		task.AssignedAgent = models.AgentType(name)
		channels = append(channels, q.Enqueue(task))
	}

	time.Sleep(20 * time.Millisecond)
	if stats := q.Stats(); stats.Running > 2 {
		t.Errorf("running = %d, exceeds MaxParallel", stats.Running)
	}
	for _, ch := range channels {
		if res := awaitResult(t, ch, time.Second); !res.Success {
			t.Errorf("result = %+v", res)
		}
	}
}

func TestQueue_DisposeResolvesQueuedTasks(t *testing.T) {
	r := registry.New(nil)
	r.RegisterEager(agent.NewScripted("test", ""))
	events := bus.New(64)
	defer events.Close()

	q := New(r, events, Config{})
	q.Pause()
	ch := q.Enqueue(models.NewTask("t1", models.AgentTypeTest, ""))

	q.Dispose()
	q.Dispose() // idempotent

	if res := awaitResult(t, ch, time.Second); res.Success {
		t.Error("queued task should resolve unsuccessfully on dispose")
	}

	post := q.Enqueue(models.NewTask("t2", models.AgentTypeTest, ""))
	if res := awaitResult(t, post, time.Second); res.Success {
		t.Error("enqueue after dispose should resolve unsuccessfully")
	}
}
