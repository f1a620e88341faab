// Package dlq holds tasks that exhausted queue-level retries and manages
// their longer-horizon retry lifecycle. Its one piece of intelligence is
// poison-pill detection: when an entry's recent failures are near-identical,
// retrying is pointless and the entry is quarantined, skipped, or flagged
// instead of retried forever.
package dlq

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"

	"github.com/cbright/taskhive/internal/bus"
	"github.com/cbright/taskhive/pkg/models"
)

// EntryStatus is the lifecycle state of a dead-lettered task.
type EntryStatus string

const (
	// StatusPendingRetry means the entry is eligible for another attempt.
	StatusPendingRetry EntryStatus = "pending_retry"
	// StatusQuarantined means automatic retries are halted pending release.
	StatusQuarantined EntryStatus = "quarantined"
	// StatusSkipped means the entry was abandoned.
	StatusSkipped EntryStatus = "skipped"
	// StatusResolved means a retry eventually succeeded.
	StatusResolved EntryStatus = "resolved"
)

// PoisonAction is what happens when an entry is flagged as a poison pill.
type PoisonAction string

const (
	// ActionQuarantine halts retries until the entry is released.
	ActionQuarantine PoisonAction = "quarantine"
	// ActionSkip abandons the entry.
	ActionSkip PoisonAction = "skip"
	// ActionAlert keeps retrying but emits an event for external alerting.
	ActionAlert PoisonAction = "alert"
)

// PoisonPillConfig tunes the recurring-failure detector.
type PoisonPillConfig struct {
	// Enabled turns detection on.
	Enabled bool
	// MinFailures is the error-history length below which no similarity
	// check runs, regardless of identical text.
	MinFailures int
	// SimilarityThreshold is the score in [0,1] at or above which the
	// entry is flagged.
	SimilarityThreshold float64
	// Action is applied when an entry is flagged.
	Action PoisonAction
}

// Config contains configuration options for the DLQ.
type Config struct {
	// MaxRetries caps automatic retries per entry during sweeps.
	MaxRetries int
	// RetryDelay spaces automatic retries.
	RetryDelay time.Duration
	// PoisonPill tunes recurring-failure detection.
	PoisonPill PoisonPillConfig
}

// DefaultConfig returns sensible defaults with quarantine-on-poison enabled.
func DefaultConfig() Config {
	return Config{
		MaxRetries: 5,
		RetryDelay: 30 * time.Second,
		PoisonPill: PoisonPillConfig{
			Enabled:             true,
			MinFailures:         3,
			SimilarityThreshold: 0.8,
			Action:              ActionQuarantine,
		},
	}
}

// ErrorRecord is one failure observation. The history is append-only.
type ErrorRecord struct {
	// Message is the failure text used for similarity scoring.
	Message string
	// Code is the machine-readable error code, if any.
	Code string
	// Timestamp is when the failure was observed.
	Timestamp time.Time
	// AttemptNumber is 1 for the original failure, 2 for the first retry...
	AttemptNumber int
}

// Entry is a dead-lettered task with its failure history.
type Entry struct {
	// ID is the task id.
	ID string
	// Task is the dead-lettered task. Owned by the DLQ while the entry
	// is live.
	Task *models.Task
	// ErrorHistory records every observed failure, oldest first.
	ErrorHistory []ErrorRecord
	// RetryCount counts DLQ-level retry attempts.
	RetryCount int
	// Status is the entry's lifecycle state.
	Status EntryStatus
	// IsPoisonPill marks an entry whose failures are recurring.
	IsPoisonPill bool
	// ErrorSimilarityScore is the last computed similarity in [0,1].
	ErrorSimilarityScore float64
	// PoisonPillReason explains why the entry was flagged.
	PoisonPillReason string
	// QuarantinedAt is when the entry entered quarantine, if it did.
	QuarantinedAt *time.Time
	// NextRetryAt is when the entry becomes due for an automatic retry.
	// Nil when automatic retries are halted.
	NextRetryAt *time.Time

	// retrying guards against concurrent retries of the same entry.
	retrying bool
}

// Stats summarizes the DLQ's contents.
type Stats struct {
	PendingRetry int
	Quarantined  int
	Skipped      int
	Resolved     int
	// PoisonPills counts entries currently flagged.
	PoisonPills int
	// AveragePoisonPillSimilarity averages the score over flagged entries,
	// 0 when none are flagged.
	AveragePoisonPillSimilarity float64
}

// Executor retries a dead-lettered task. Injected by the caller so the DLQ
// stays decoupled from the registry and queue.
type Executor func(ctx context.Context, task *models.Task) (*models.TaskResult, error)

// ErrRetryInFlight is returned when an entry is already being retried.
var ErrRetryInFlight = errors.New("dlq: retry already in flight for entry")

// DLQ is a thread-safe dead letter queue.
type DLQ struct {
	// cfg is the DLQ configuration.
	cfg Config
	// executor runs retry attempts.
	executor Executor
	// events is the bus poison-pill detections are published on; may be nil.
	events *bus.Bus
	// entries maps task id -> entry.
	entries map[string]*Entry
	// mu protects entries.
	mu sync.Mutex
}

// New creates a DLQ retrying through the given executor.
func New(executor Executor, events *bus.Bus, cfg Config) *DLQ {
	def := DefaultConfig()
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = def.RetryDelay
	}
	if cfg.PoisonPill.MinFailures <= 0 {
		cfg.PoisonPill.MinFailures = def.PoisonPill.MinFailures
	}
	if cfg.PoisonPill.SimilarityThreshold <= 0 {
		cfg.PoisonPill.SimilarityThreshold = def.PoisonPill.SimilarityThreshold
	}
	if cfg.PoisonPill.Action == "" {
		cfg.PoisonPill.Action = def.PoisonPill.Action
	}
	return &DLQ{
		cfg:      cfg,
		executor: executor,
		events:   events,
		entries:  make(map[string]*Entry),
	}
}

// Add dead-letters a task with its first observed failure. Re-adding an
// existing id appends to the entry's history instead of resetting it.
func (d *DLQ) Add(task *models.Task, cause error) *Entry {
	msg, code := "unknown failure", ""
	if cause != nil {
		msg = cause.Error()
		var agentErr models.AgentError
		if errors.As(cause, &agentErr) {
			msg, code = agentErr.Message, agentErr.Code
		}
	}
	return d.addRecord(task, msg, code)
}

// AddResult dead-letters a task from its terminal failed result. This is the
// natural adapter for the queue's failure hook.
func (d *DLQ) AddResult(task *models.Task, result *models.TaskResult) *Entry {
	msg, code := "unknown failure", ""
	if e := result.FirstError(); e != nil {
		msg, code = e.Message, e.Code
	}
	return d.addRecord(task, msg, code)
}

func (d *DLQ) addRecord(task *models.Task, msg, code string) *Entry {
	now := time.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.entries[task.ID]
	if !ok {
		next := now.Add(d.cfg.RetryDelay)
		e = &Entry{
			ID:          task.ID,
			Task:        task,
			Status:      StatusPendingRetry,
			NextRetryAt: &next,
		}
		d.entries[task.ID] = e
	}
	e.ErrorHistory = append(e.ErrorHistory, ErrorRecord{
		Message:       msg,
		Code:          code,
		Timestamp:     now,
		AttemptNumber: len(e.ErrorHistory) + 1,
	})
	log.Printf("[dlq] added task %s (attempt %d): %s", task.ID, len(e.ErrorHistory), msg)
	return e
}

// Retry re-executes a pending entry once. On success the entry is resolved;
// on failure the error is recorded and poison-pill detection runs.
func (d *DLQ) Retry(ctx context.Context, id string) (*models.TaskResult, error) {
	d.mu.Lock()
	e, ok := d.entries[id]
	if !ok {
		d.mu.Unlock()
		return nil, fmt.Errorf("dlq: no entry for task %s", id)
	}
	if e.Status != StatusPendingRetry {
		d.mu.Unlock()
		return nil, fmt.Errorf("dlq: entry %s is %s, not eligible for retry", id, e.Status)
	}
	if e.retrying {
		d.mu.Unlock()
		return nil, ErrRetryInFlight
	}
	e.retrying = true
	task := e.Task
	d.mu.Unlock()

	result, err := d.executor(ctx, task)

	d.mu.Lock()
	defer d.mu.Unlock()
	e.retrying = false
	e.RetryCount++

	if err == nil && result != nil && result.Success {
		e.Status = StatusResolved
		e.NextRetryAt = nil
		log.Printf("[dlq] task %s resolved after %d DLQ retries", id, e.RetryCount)
		return result, nil
	}

	msg, code := retryFailureText(result, err)
	e.ErrorHistory = append(e.ErrorHistory, ErrorRecord{
		Message:       msg,
		Code:          code,
		Timestamp:     time.Now(),
		AttemptNumber: len(e.ErrorHistory) + 1,
	})
	next := time.Now().Add(d.cfg.RetryDelay)
	e.NextRetryAt = &next

	d.detectPoisonLocked(e)

	if result == nil {
		result = models.FailedResult(models.ErrCodeTaskExecutionFailed, msg, true)
	}
	return result, nil
}

// RetryDue retries every pending entry whose NextRetryAt has passed, up to
// the per-entry retry cap. Returns how many entries were attempted.
func (d *DLQ) RetryDue(ctx context.Context) int {
	now := time.Now()

	d.mu.Lock()
	var due []string
	for id, e := range d.entries {
		if e.Status != StatusPendingRetry || e.retrying {
			continue
		}
		if e.RetryCount >= d.cfg.MaxRetries {
			continue
		}
		if e.NextRetryAt != nil && e.NextRetryAt.Before(now) {
			due = append(due, id)
		}
	}
	d.mu.Unlock()

	sort.Strings(due)
	attempted := 0
	for _, id := range due {
		if ctx.Err() != nil {
			break
		}
		if _, err := d.Retry(ctx, id); err == nil {
			attempted++
		}
	}
	if attempted > 0 {
		log.Printf("[dlq] retried %d due entries", attempted)
	}
	return attempted
}

// ReleaseFromQuarantine returns a quarantined entry to the retry pool.
// Returns false for unknown or non-quarantined ids.
func (d *DLQ) ReleaseFromQuarantine(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.entries[id]
	if !ok || e.Status != StatusQuarantined {
		return false
	}
	e.Status = StatusPendingRetry
	e.IsPoisonPill = false
	e.QuarantinedAt = nil
	next := time.Now().Add(d.cfg.RetryDelay)
	e.NextRetryAt = &next
	log.Printf("[dlq] released task %s from quarantine", id)
	return true
}

// Entry returns the entry for a task id.
func (d *DLQ) Entry(id string) (*Entry, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.entries[id]
	return e, ok
}

// QuarantinedEntries returns all quarantined entries, sorted by id.
func (d *DLQ) QuarantinedEntries() []*Entry {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []*Entry
	for _, e := range d.entries {
		if e.Status == StatusQuarantined {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ErrorSimilarityScore returns the last computed similarity for an entry.
// ok is false for unknown ids.
func (d *DLQ) ErrorSimilarityScore(id string) (float64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.entries[id]
	if !ok {
		return 0, false
	}
	return e.ErrorSimilarityScore, true
}

// Stats summarizes the DLQ contents.
func (d *DLQ) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()

	var s Stats
	var similaritySum float64
	for _, e := range d.entries {
		switch e.Status {
		case StatusPendingRetry:
			s.PendingRetry++
		case StatusQuarantined:
			s.Quarantined++
		case StatusSkipped:
			s.Skipped++
		case StatusResolved:
			s.Resolved++
		}
		if e.IsPoisonPill {
			s.PoisonPills++
			similaritySum += e.ErrorSimilarityScore
		}
	}
	if s.PoisonPills > 0 {
		s.AveragePoisonPillSimilarity = similaritySum / float64(s.PoisonPills)
	}
	return s
}

// detectPoisonLocked runs the recurring-failure check and applies the
// configured action. Caller must hold d.mu.
func (d *DLQ) detectPoisonLocked(e *Entry) {
	pp := d.cfg.PoisonPill
	if !pp.Enabled || len(e.ErrorHistory) < pp.MinFailures {
		return
	}

	score := recentSimilarity(e.ErrorHistory, pp.MinFailures)
	e.ErrorSimilarityScore = score
	if score < pp.SimilarityThreshold {
		return
	}

	e.IsPoisonPill = true
	e.PoisonPillReason = fmt.Sprintf("last %d errors are %.0f%% similar", pp.MinFailures, score*100)
	log.Printf("[dlq] poison pill detected for task %s (similarity %.2f, action %s)", e.ID, score, pp.Action)

	switch pp.Action {
	case ActionQuarantine:
		now := time.Now()
		e.Status = StatusQuarantined
		e.QuarantinedAt = &now
		e.NextRetryAt = nil
	case ActionSkip:
		e.Status = StatusSkipped
		e.NextRetryAt = nil
	case ActionAlert:
		// Stays eligible for retry; external systems decide what to do.
	}

	if d.events != nil {
		d.events.Publish(bus.TopicPoisonPill, bus.Event{
			TaskID:  e.ID,
			Action:  string(pp.Action),
			Message: e.PoisonPillReason,
		})
	}
}

// recentSimilarity scores how alike the last `window` error messages are:
// normalized Levenshtein similarity (1 - dist/maxLen) averaged over adjacent
// pairs. Identical messages score 1, unrelated messages near 0.
func recentSimilarity(history []ErrorRecord, window int) float64 {
	if window < 2 {
		window = 2
	}
	if len(history) < 2 {
		return 0
	}
	if len(history) < window {
		window = len(history)
	}
	recent := history[len(history)-window:]

	var sum float64
	pairs := 0
	for i := 1; i < len(recent); i++ {
		sum += similarity(recent[i-1].Message, recent[i].Message)
		pairs++
	}
	return sum / float64(pairs)
}

func similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	// ComputeDistance counts runes, so the denominator must too or multibyte
	// messages score artificially close.
	maxLen := utf8.RuneCountInString(a)
	if n := utf8.RuneCountInString(b); n > maxLen {
		maxLen = n
	}
	if maxLen == 0 {
		return 1
	}
	dist := levenshtein.ComputeDistance(a, b)
	s := 1 - float64(dist)/float64(maxLen)
	if s < 0 {
		return 0
	}
	return s
}

func retryFailureText(result *models.TaskResult, err error) (msg, code string) {
	if err != nil {
		return err.Error(), models.ErrCodeTaskExecutionFailed
	}
	if e := result.FirstError(); e != nil {
		return e.Message, e.Code
	}
	return "task failed", ""
}
