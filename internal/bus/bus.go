// Package bus provides the in-process publish/subscribe channel the engine
// components emit events on. Cross-task waiting is built on per-task topics
// instead of polling.
package bus

import (
	"sync"
	"time"
)

// Global topics.
const (
	TopicTaskCreated   = "task:created"
	TopicTaskStarted   = "task:started"
	TopicTaskCompleted = "task:completed"
	TopicTaskFailed    = "task:failed"
	TopicAgentStarted  = "agent:started"
	TopicAgentEvent    = "agent:event"
	TopicPoisonPill    = "poison_pill_detected"
)

// TaskCompleted returns the per-task completion topic.
func TaskCompleted(taskID string) string { return TopicTaskCompleted + ":" + taskID }

// TaskFailed returns the per-task failure topic.
func TaskFailed(taskID string) string { return TopicTaskFailed + ":" + taskID }

// Event is a notification published on the bus.
type Event struct {
	// Topic is the topic the event was published on.
	Topic string
	// TaskID is the related task, if applicable.
	TaskID string
	// AgentName is the related agent, if applicable.
	AgentName string
	// Action qualifies the event (registered, lazy-loaded, quarantine, ...).
	Action string
	// Message provides additional context.
	Message string
	// Err carries error details for failure events.
	Err error
	// Timestamp is when the event was published.
	Timestamp time.Time
}

// subscriber is a single subscription's delivery channel.
type subscriber struct {
	ch   chan Event
	once bool
}

// Bus is an in-process topic-based publish/subscribe channel.
// Publishing never blocks: events are dropped for subscribers whose buffers
// are full, the same discipline the queue applies to its event channel.
type Bus struct {
	// subs maps topic -> subscription ID -> subscriber.
	subs map[string]map[int]*subscriber
	// nextID is the next subscription ID.
	nextID int
	// buffer is the per-subscriber channel capacity.
	buffer int
	// closed indicates Close has been called.
	closed bool
	// dropped counts events dropped due to full subscriber buffers.
	dropped uint64
	// mu protects all fields.
	mu sync.RWMutex
}

// New creates a Bus with the given per-subscriber buffer size.
func New(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 64
	}
	return &Bus{
		subs:   make(map[string]map[int]*subscriber),
		buffer: buffer,
	}
}

// Subscribe registers for a topic. The returned channel receives every event
// published on the topic until cancel is called or the bus closes.
func (b *Bus) Subscribe(topic string) (<-chan Event, func()) {
	return b.subscribe(topic, false)
}

// SubscribeOnce registers for a single event on a topic. The subscription is
// removed after the first delivery; cancel is still safe to call and must be
// called if the event may never arrive.
func (b *Bus) SubscribeOnce(topic string) (<-chan Event, func()) {
	return b.subscribe(topic, true)
}

func (b *Bus) subscribe(topic string, once bool) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscriber{ch: make(chan Event, b.buffer), once: once}
	if b.closed {
		close(sub.ch)
		return sub.ch, func() {}
	}

	id := b.nextID
	b.nextID++
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[int]*subscriber)
	}
	b.subs[topic][id] = sub

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.removeLocked(topic, id)
	}
	return sub.ch, cancel
}

// Publish delivers an event to all subscribers of the topic.
// A zero Timestamp is stamped with the current time.
func (b *Bus) Publish(topic string, ev Event) {
	ev.Topic = topic
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	for id, sub := range b.subs[topic] {
		select {
		case sub.ch <- ev:
			if sub.once {
				b.removeLocked(topic, id)
			}
		default:
			b.dropped++
		}
	}
}

// SubscriberCount returns the number of active subscriptions for a topic.
func (b *Bus) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}

// Dropped returns the total number of events dropped on full buffers.
func (b *Bus) Dropped() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped
}

// Close closes all subscriber channels and rejects further publishes.
// Safe to call more than once.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for topic, subs := range b.subs {
		for id, sub := range subs {
			close(sub.ch)
			delete(subs, id)
		}
		delete(b.subs, topic)
	}
}

// removeLocked deletes a subscription and closes its channel.
// Caller must hold b.mu.
func (b *Bus) removeLocked(topic string, id int) {
	subs, ok := b.subs[topic]
	if !ok {
		return
	}
	sub, ok := subs[id]
	if !ok {
		return
	}
	delete(subs, id)
	if len(subs) == 0 {
		delete(b.subs, topic)
	}
	close(sub.ch)
}
