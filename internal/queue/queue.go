// Package queue executes tasks against registered agents, respecting declared
// dependencies and a parallelism ceiling, with bounded retries and race-free
// event-driven dependency waiting.
package queue

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cbright/taskhive/internal/agent"
	"github.com/cbright/taskhive/internal/bus"
	"github.com/cbright/taskhive/internal/registry"
	"github.com/cbright/taskhive/pkg/models"
)

// Config contains configuration options for the TaskQueue.
type Config struct {
	// MaxParallel is the maximum number of tasks executing at once.
	MaxParallel int
	// MaxRetries is how many times a failed task is re-queued before it
	// becomes terminally failed.
	MaxRetries int
	// RetryDelay is the fixed wait before a retry is re-queued.
	RetryDelay time.Duration
	// CompletedTTL and CompletedMaxSize bound the completed-result store.
	CompletedTTL     time.Duration
	CompletedMaxSize int
	// FailedTTL and FailedMaxSize bound the failed-result store.
	FailedTTL     time.Duration
	FailedMaxSize int
	// SweepInterval is how often the stores purge expired entries.
	SweepInterval time.Duration
	// WaitTimeout is the default WaitForTask timeout.
	WaitTimeout time.Duration
	// Credentials are handed to agents on every run.
	Credentials *agent.Credentials
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxParallel:      4,
		MaxRetries:       2,
		RetryDelay:       time.Second,
		CompletedTTL:     30 * time.Minute,
		CompletedMaxSize: 1000,
		FailedTTL:        30 * time.Minute,
		FailedMaxSize:    500,
		SweepInterval:    time.Minute,
		WaitTimeout:      5 * time.Minute,
	}
}

// Stats reports queue activity counters.
type Stats struct {
	// Pending is the number of queued, not yet dispatched tasks.
	Pending int
	// Running is the number of tasks currently executing.
	Running int
	// Completed is the number of results in the completed store.
	Completed int
	// Failed is the number of results in the failed store.
	Failed int
	// TotalProcessed counts tasks that reached a terminal state.
	TotalProcessed int
}

// TTLStats reports the state of both bounded result stores.
type TTLStats struct {
	Completed TTLStoreStats
	Failed    TTLStoreStats
}

// FailureHandler is an optional hook invoked when a task fails terminally.
// Callers use it to hand the task to a dead letter queue. The task is no
// longer owned by the queue once the handler is called.
type FailureHandler func(task *models.Task, result *models.TaskResult)

// item wraps a queued task with its retry count and the caller's pending
// result channel. It exists only while the task is queued or running.
type item struct {
	task       *models.Task
	retryCount int
	resultCh   chan *models.TaskResult
	cancelled  bool
}

// TaskQueue is a FIFO-with-dependency-gating scheduler bounded by a
// max-parallelism limit.
type TaskQueue struct {
	// cfg is the queue configuration.
	cfg Config
	// agents resolves agent names to executors.
	agents *registry.Registry
	// events is the bus task lifecycle events are published on.
	events *bus.Bus
	// pending holds queued items in FIFO order.
	pending []*item
	// running maps task ids to in-flight items.
	running map[string]*item
	// completed and failed are the bounded result stores.
	completed *ttlStore
	failed    *ttlStore
	// pause controls dispatch.
	pause *pauseController
	// onFailure is the optional terminal-failure hook.
	onFailure FailureHandler
	// totalProcessed counts settled tasks.
	totalProcessed int
	// trigger wakes the processing loop.
	trigger chan struct{}
	// ctx and cancel bound all executions.
	ctx    context.Context
	cancel context.CancelFunc
	// disposed indicates Dispose has been called.
	disposed bool
	// wg tracks the loop and execution goroutines.
	wg sync.WaitGroup
	// mu protects pending, running, totalProcessed, onFailure, disposed.
	mu sync.Mutex
}

// New creates a TaskQueue and starts its processing loop.
func New(agents *registry.Registry, events *bus.Bus, cfg Config) *TaskQueue {
	def := DefaultConfig()
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = def.MaxParallel
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = def.RetryDelay
	}
	if cfg.CompletedTTL <= 0 {
		cfg.CompletedTTL = def.CompletedTTL
	}
	if cfg.CompletedMaxSize <= 0 {
		cfg.CompletedMaxSize = def.CompletedMaxSize
	}
	if cfg.FailedTTL <= 0 {
		cfg.FailedTTL = def.FailedTTL
	}
	if cfg.FailedMaxSize <= 0 {
		cfg.FailedMaxSize = def.FailedMaxSize
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = def.WaitTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &TaskQueue{
		cfg:     cfg,
		agents:  agents,
		events:  events,
		running: make(map[string]*item),
		completed: newTTLStore(ttlStoreConfig{
			TTL:           cfg.CompletedTTL,
			MaxSize:       cfg.CompletedMaxSize,
			RefreshOnGet:  true,
			SweepInterval: cfg.SweepInterval,
		}),
		// Failures are observed once, not kept warm: no refresh on read.
		failed: newTTLStore(ttlStoreConfig{
			TTL:           cfg.FailedTTL,
			MaxSize:       cfg.FailedMaxSize,
			RefreshOnGet:  false,
			SweepInterval: cfg.SweepInterval,
		}),
		pause:   newPauseController(),
		trigger: make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
	}

	q.wg.Add(1)
	go q.loop()
	return q
}

// SetFailureHandler installs the terminal-failure hook.
func (q *TaskQueue) SetFailureHandler(fn FailureHandler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onFailure = fn
}

// Enqueue adds a task and returns a channel that resolves exactly once with
// the task's result.
func (q *TaskQueue) Enqueue(task *models.Task) <-chan *models.TaskResult {
	ch := make(chan *models.TaskResult, 1)

	q.mu.Lock()
	if q.disposed {
		q.mu.Unlock()
		ch <- models.FailedResult(models.ErrCodeTaskExecutionFailed, "queue is disposed", false)
		return ch
	}
	task.Status = models.TaskStatusQueued
	q.pending = append(q.pending, &item{task: task, resultCh: ch})
	q.mu.Unlock()

	q.publish(bus.TopicTaskCreated, bus.Event{TaskID: task.ID})
	q.wake()
	return ch
}

// WaitForTask blocks until the task settles, using per-task events rather
// than polling. A non-positive timeout uses the configured default.
func (q *TaskQueue) WaitForTask(ctx context.Context, id string, timeout time.Duration) (*models.TaskResult, error) {
	if timeout <= 0 {
		timeout = q.cfg.WaitTimeout
	}

	// Fast path: already settled.
	if res, ok := q.completed.Get(id); ok {
		return res, nil
	}
	if res, ok := q.failed.Get(id); ok {
		return res, nil
	}

	doneCh, cancelDone := q.events.SubscribeOnce(bus.TaskCompleted(id))
	defer cancelDone()
	failCh, cancelFail := q.events.SubscribeOnce(bus.TaskFailed(id))
	defer cancelFail()

	// Re-check after subscribing: the task may have settled between the
	// store check and the subscription.
	if res, ok := q.completed.Get(id); ok {
		return res, nil
	}
	if res, ok := q.failed.Get(id); ok {
		return res, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-doneCh:
		if res, ok := q.completed.Get(id); ok {
			return res, nil
		}
		return nil, fmt.Errorf("queue: task %s completed but result evicted", id)
	case <-failCh:
		if res, ok := q.failed.Get(id); ok {
			return res, nil
		}
		return nil, fmt.Errorf("queue: task %s failed but result evicted", id)
	case <-timer.C:
		return nil, fmt.Errorf("queue: timed out waiting for task %s after %s", id, timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// GetResult returns the settled result for a task from either store.
func (q *TaskQueue) GetResult(id string) (*models.TaskResult, bool) {
	if res, ok := q.completed.Get(id); ok {
		return res, true
	}
	return q.failed.Get(id)
}

// Cancel removes a task that has not started yet. Returns false if the task
// is unknown or already running.
func (q *TaskQueue) Cancel(id string) bool {
	q.mu.Lock()
	for i, it := range q.pending {
		if it.task.ID == id {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			it.task.Status = models.TaskStatusCancelled
			q.mu.Unlock()
			it.resultCh <- models.FailedResult(models.ErrCodeTaskExecutionFailed, "task cancelled", false)
			log.Printf("[queue] cancelled task %s", id)
			return true
		}
	}
	q.mu.Unlock()
	return false
}

// Clear removes all queued tasks, resolving their callers as cancelled.
// Running tasks are unaffected.
func (q *TaskQueue) Clear() {
	q.mu.Lock()
	cleared := q.pending
	q.pending = nil
	q.mu.Unlock()

	for _, it := range cleared {
		it.task.Status = models.TaskStatusCancelled
		it.resultCh <- models.FailedResult(models.ErrCodeTaskExecutionFailed, "queue cleared", false)
	}
	if len(cleared) > 0 {
		log.Printf("[queue] cleared %d queued tasks", len(cleared))
	}
}

// Pause stops dispatching new tasks. Running tasks finish normally.
func (q *TaskQueue) Pause() { q.pause.Pause() }

// Resume re-enables dispatch.
func (q *TaskQueue) Resume() {
	q.pause.Resume()
	q.wake()
}

// Stats returns a snapshot of queue activity.
func (q *TaskQueue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Pending:        len(q.pending),
		Running:        len(q.running),
		Completed:      q.completed.Len(),
		Failed:         q.failed.Len(),
		TotalProcessed: q.totalProcessed,
	}
}

// TTLStats returns the state of both result stores.
func (q *TaskQueue) TTLStats() TTLStats {
	return TTLStats{
		Completed: q.completed.Stats(),
		Failed:    q.failed.Stats(),
	}
}

// Dispose shuts the queue down: queued tasks are resolved as cancelled, the
// stores are disposed, and the loop exits. Idempotent and safe during
// shutdown.
func (q *TaskQueue) Dispose() {
	q.mu.Lock()
	if q.disposed {
		q.mu.Unlock()
		return
	}
	q.disposed = true
	q.mu.Unlock()

	q.pause.Stop()
	q.cancel()
	q.Clear()
	q.wake()
	q.wg.Wait()
	q.completed.Dispose()
	q.failed.Dispose()
	log.Printf("[queue] disposed")
}

// loop is the processing loop. It runs in a single goroutine; all dispatch
// decisions are made here.
func (q *TaskQueue) loop() {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			return
		case <-q.trigger:
			q.process()
		}
	}
}

// process drains as much of the queue as the parallelism ceiling and
// dependency gates allow.
func (q *TaskQueue) process() {
	skips := 0
	for {
		if q.pause.IsPaused() {
			return
		}

		q.mu.Lock()
		if q.disposed || len(q.pending) == 0 || len(q.running) >= q.cfg.MaxParallel {
			q.mu.Unlock()
			return
		}

		it := q.pending[0]
		q.pending = q.pending[1:]

		// A failed dependency short-circuits the task without invoking an
		// agent; anything else would deadlock its dependents in turn.
		if depID, failed := q.failedDependency(it.task); failed {
			q.mu.Unlock()
			q.settleFailure(it, models.FailedResult(
				models.ErrCodeDependencyFailed,
				fmt.Sprintf("dependency %s failed", depID),
				false,
			))
			skips = 0
			continue
		}

		if depID, unmet := q.unmetDependency(it.task); unmet {
			q.pending = append(q.pending, it)
			skips++
			if skips >= len(q.pending)+1 {
				if len(q.running) == 0 {
					// Every queued task is waiting on a dependency and
					// nothing is running: circular or missing dependency.
					// Halt instead of spinning; the next state change
					// re-triggers the loop.
					log.Printf("[queue] potential deadlock: %d tasks waiting (task %s blocked on %s), nothing running",
						len(q.pending), it.task.ID, depID)
					q.mu.Unlock()
					return
				}
				q.mu.Unlock()
				// Work is in flight; check again shortly.
				time.AfterFunc(50*time.Millisecond, q.wake)
				return
			}
			q.mu.Unlock()
			continue
		}

		q.running[it.task.ID] = it
		q.mu.Unlock()
		skips = 0

		q.wg.Add(1)
		go q.execute(it)
	}
}

// execute runs one task against its resolved agent.
func (q *TaskQueue) execute(it *item) {
	defer q.wg.Done()

	task := it.task
	now := time.Now()
	task.Status = models.TaskStatusInProgress
	task.StartedAt = &now
	q.publish(bus.TopicTaskStarted, bus.Event{TaskID: task.ID})

	a, err := q.resolveAgent(task)
	if err != nil {
		q.finish(it, models.FailedResult(models.ErrCodeNoAgentAvailable, err.Error(), true), err)
		return
	}

	result, err := a.Run(q.ctx, task, q.cfg.Credentials)
	if err != nil {
		q.finish(it, models.FailedResult(models.ErrCodeTaskExecutionFailed, err.Error(), true), err)
		return
	}
	q.finish(it, result, nil)
}

// finish routes an execution outcome: success settles the task, failure
// either schedules a retry or settles terminally.
func (q *TaskQueue) finish(it *item, result *models.TaskResult, execErr error) {
	task := it.task

	if result != nil && result.Success {
		now := time.Now()
		task.Status = models.TaskStatusCompleted
		task.CompletedAt = &now
		task.Result = result
		q.completed.Set(task.ID, result)

		q.mu.Lock()
		delete(q.running, task.ID)
		q.totalProcessed++
		q.mu.Unlock()

		it.resultCh <- result
		q.publish(bus.TopicTaskCompleted, bus.Event{TaskID: task.ID})
		q.publish(bus.TaskCompleted(task.ID), bus.Event{TaskID: task.ID})
		q.wake()
		return
	}

	if it.retryCount < q.cfg.MaxRetries {
		it.retryCount++
		task.Status = models.TaskStatusQueued
		log.Printf("[queue] task %s failed (attempt %d/%d), retrying in %s: %s",
			task.ID, it.retryCount, q.cfg.MaxRetries, q.cfg.RetryDelay, failureMessage(result, execErr))

		q.mu.Lock()
		delete(q.running, task.ID)
		q.mu.Unlock()

		// Retries go to the front so they are prioritized over fresh work.
		time.AfterFunc(q.cfg.RetryDelay, func() {
			q.mu.Lock()
			if q.disposed {
				q.mu.Unlock()
				it.resultCh <- models.FailedResult(models.ErrCodeTaskExecutionFailed, "queue is disposed", false)
				return
			}
			q.pending = append([]*item{it}, q.pending...)
			q.mu.Unlock()
			q.wake()
		})
		return
	}

	terminal := result
	if terminal == nil || terminal.Success {
		terminal = models.FailedResult(models.ErrCodeTaskExecutionFailed, failureMessage(result, execErr), true)
	}
	q.settleFailure(it, terminal)
}

// settleFailure marks a task terminally failed and resolves its caller.
func (q *TaskQueue) settleFailure(it *item, result *models.TaskResult) {
	task := it.task
	now := time.Now()
	task.Status = models.TaskStatusFailed
	task.CompletedAt = &now
	task.Result = result
	q.failed.Set(task.ID, result)

	q.mu.Lock()
	delete(q.running, task.ID)
	q.totalProcessed++
	handler := q.onFailure
	q.mu.Unlock()

	it.resultCh <- result
	q.publish(bus.TopicTaskFailed, bus.Event{TaskID: task.ID, Message: result.ErrorMessage()})
	q.publish(bus.TaskFailed(task.ID), bus.Event{TaskID: task.ID, Message: result.ErrorMessage()})
	log.Printf("[queue] task %s failed terminally: %s", task.ID, result.ErrorMessage())

	if handler != nil {
		handler(task, result)
	}
	q.wake()
}

// resolveAgent picks the executor for a task: the pinned agent, then the
// task type, then any available agent matching the prompt.
func (q *TaskQueue) resolveAgent(task *models.Task) (agent.Agent, error) {
	if task.AssignedAgent != "" {
		return q.agents.GetAsync(string(task.AssignedAgent))
	}
	if task.Type != "" && q.agents.Has(string(task.Type)) {
		return q.agents.GetAsync(string(task.Type))
	}
	if a, ok := q.agents.FindBestAgent(task.Prompt); ok && a.IsAvailable() {
		return a, nil
	}
	return nil, fmt.Errorf("no agent available for task %s (type %s)", task.ID, task.Type)
}

// failedDependency returns the first dependency present in the failed store.
func (q *TaskQueue) failedDependency(task *models.Task) (string, bool) {
	for _, dep := range task.Dependencies {
		if q.failed.Has(dep) {
			return dep, true
		}
	}
	return "", false
}

// unmetDependency returns the first dependency not yet in the completed store.
func (q *TaskQueue) unmetDependency(task *models.Task) (string, bool) {
	for _, dep := range task.Dependencies {
		if !q.completed.Has(dep) {
			return dep, true
		}
	}
	return "", false
}

func (q *TaskQueue) wake() {
	select {
	case q.trigger <- struct{}{}:
	default:
	}
}

func (q *TaskQueue) publish(topic string, ev bus.Event) {
	if q.events != nil {
		q.events.Publish(topic, ev)
	}
}

func failureMessage(result *models.TaskResult, err error) string {
	if err != nil {
		return err.Error()
	}
	if msg := result.ErrorMessage(); msg != "" {
		return msg
	}
	return "task failed"
}
