// Package journal provides an SQLite-backed record of engine events. It is
// the reference consumer of the event bus: anything published on the engine's
// topics can be persisted and queried after the fact.
package journal

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cbright/taskhive/internal/bus"
)

// Entry is one persisted event.
type Entry struct {
	// ID is the journal row id.
	ID int64
	// Topic is the bus topic the event arrived on.
	Topic string
	// TaskID is the related task, if any.
	TaskID string
	// AgentName is the related agent, if any.
	AgentName string
	// Action qualifies the event.
	Action string
	// Message is the event's free text.
	Message string
	// Timestamp is when the event was published.
	Timestamp time.Time
}

// Journal wraps an SQLite database holding engine events.
type Journal struct {
	conn *sql.DB
	path string
	// cancels detaches the bus subscriptions installed by Attach.
	cancels []func()
	// wg tracks consumer goroutines.
	wg sync.WaitGroup
	mu sync.RWMutex
}

// Open opens the journal database at the given path.
// It creates the parent directories if they don't exist.
// WAL mode is enabled for concurrent reads.
func Open(path string) (*Journal, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal database: %w", err)
	}

	// Enable WAL mode for concurrent reads
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	j := &Journal{
		conn: conn,
		path: path,
	}
	return j, nil
}

// Path returns the path to the journal database file.
func (j *Journal) Path() string {
	return j.path
}

// Migrate applies all pending schema migrations.
func (j *Journal) Migrate() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var currentVersion int
	row := j.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migrationV1Events},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}

		tx, err := j.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}

		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration v%d: %w", m.version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.version, err)
		}
	}

	return nil
}

const migrationV1Events = `
CREATE TABLE IF NOT EXISTS events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	topic TEXT NOT NULL,
	task_id TEXT,
	agent_name TEXT,
	action TEXT,
	message TEXT,
	timestamp DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_topic ON events(topic);
CREATE INDEX IF NOT EXISTS idx_events_task_id ON events(task_id);
CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp);
`

// Record persists one event.
func (j *Journal) Record(ev bus.Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.conn.Exec(`
		INSERT INTO events (topic, task_id, agent_name, action, message, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`, ev.Topic, ev.TaskID, ev.AgentName, ev.Action, ev.Message, formatTime(ev.Timestamp))
	if err != nil {
		return fmt.Errorf("record event: %w", err)
	}
	return nil
}

// Recent returns the newest events, most recent first.
func (j *Journal) Recent(limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	j.mu.RLock()
	defer j.mu.RUnlock()

	rows, err := j.conn.Query(`
		SELECT id, topic, task_id, agent_name, action, message, timestamp
		FROM events ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent events: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var taskID, agentName, action, message sql.NullString
		var ts string
		if err := rows.Scan(&e.ID, &e.Topic, &taskID, &agentName, &action, &message, &ts); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.TaskID = taskID.String
		e.AgentName = agentName.String
		e.Action = action.String
		e.Message = message.String
		if t, err := parseTime(ts); err == nil {
			e.Timestamp = t
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// TaskHistory returns every recorded event for a task, oldest first.
func (j *Journal) TaskHistory(taskID string) ([]Entry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	rows, err := j.conn.Query(`
		SELECT id, topic, task_id, agent_name, action, message, timestamp
		FROM events WHERE task_id = ? ORDER BY id ASC
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("query task history: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var tID, agentName, action, message sql.NullString
		var ts string
		if err := rows.Scan(&e.ID, &e.Topic, &tID, &agentName, &action, &message, &ts); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.TaskID = tID.String
		e.AgentName = agentName.String
		e.Action = action.String
		e.Message = message.String
		if t, err := parseTime(ts); err == nil {
			e.Timestamp = t
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CountByTopic returns how many events each topic has recorded.
func (j *Journal) CountByTopic() (map[string]int, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	rows, err := j.conn.Query("SELECT topic, COUNT(*) FROM events GROUP BY topic")
	if err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var topic string
		var n int
		if err := rows.Scan(&topic, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[topic] = n
	}
	return counts, rows.Err()
}

// Purge deletes events older than the specified duration.
// Returns the number of events deleted.
func (j *Journal) Purge(olderThan time.Duration) (int64, error) {
	cutoff := formatTime(time.Now().Add(-olderThan))

	j.mu.Lock()
	defer j.mu.Unlock()

	result, err := j.conn.Exec("DELETE FROM events WHERE timestamp < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge old events: %w", err)
	}
	return result.RowsAffected()
}

// Attach subscribes the journal to the engine's topics and records every
// event until Close. Safe to call once per journal.
func (j *Journal) Attach(b *bus.Bus) {
	topics := []string{
		bus.TopicTaskCreated,
		bus.TopicTaskStarted,
		bus.TopicTaskCompleted,
		bus.TopicTaskFailed,
		bus.TopicAgentStarted,
		bus.TopicAgentEvent,
		bus.TopicPoisonPill,
	}

	for _, topic := range topics {
		ch, cancel := b.Subscribe(topic)
		j.cancels = append(j.cancels, cancel)

		j.wg.Add(1)
		go func() {
			defer j.wg.Done()
			for ev := range ch {
				if err := j.Record(ev); err != nil {
					log.Printf("[journal] record failed: %v", err)
				}
			}
		}()
	}
	log.Printf("[journal] attached to %d topics, writing to %s", len(topics), j.path)
}

// Close detaches bus subscriptions and closes the database.
func (j *Journal) Close() error {
	for _, cancel := range j.cancels {
		cancel()
	}
	j.wg.Wait()

	j.mu.Lock()
	defer j.mu.Unlock()
	return j.conn.Close()
}

// formatTime formats a time.Time for SQLite storage.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime parses a time string from SQLite.
func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
