// Package registry maps agent-type names to live executors. It is the single
// source of truth for which agent serves a name, and lets expensive agents be
// constructed only on first use.
package registry

import (
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/cbright/taskhive/internal/agent"
	"github.com/cbright/taskhive/internal/bus"
)

// entry holds the registry state for one agent name.
// Exactly one of the two shapes is live: an eager entry carries an instance
// from the start; a lazy entry carries a factory and gains an instance on
// first load.
type entry struct {
	// instance is the live executor, nil for an unloaded lazy entry.
	instance agent.Agent
	// factory constructs the instance for lazy entries.
	factory agent.Factory
	// lazy indicates the entry was registered with a factory.
	lazy bool
	// loaded indicates the instance is constructed.
	loaded bool
	// registeredAt is when the entry was created.
	registeredAt time.Time
	// lastUsedAt is when the entry was last resolved.
	lastUsedAt time.Time
	// usageCount counts resolutions.
	usageCount int
	// unsubscribe detaches the registry from the instance's event stream.
	unsubscribe func()
}

// Registry is a thread-safe name -> executor directory supporting eager and
// lazily-instantiated agents.
type Registry struct {
	// entries maps agent names to their registry entries.
	entries map[string]*entry
	// flight deduplicates concurrent lazy loads per name.
	flight singleflight.Group
	// events is the bus registration and lazy-load events are published on.
	events *bus.Bus
	// mu protects entries.
	mu sync.RWMutex
}

// New creates an empty Registry publishing on the given bus.
// The bus may be nil; events are then discarded.
func New(events *bus.Bus) *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		events:  events,
	}
}

// RegisterEager stores a constructed agent under its name.
// A prior registration for the same name is replaced; its event subscription
// is detached first so no listener leaks.
func (r *Registry) RegisterEager(a agent.Agent) {
	name := a.Name()

	r.mu.Lock()
	r.replaceLocked(name, &entry{
		instance:     a,
		loaded:       true,
		registeredAt: time.Now(),
		unsubscribe:  r.subscribeAgent(a),
	})
	r.mu.Unlock()

	log.Printf("[registry] registered agent %s", name)
	r.publish(bus.TopicAgentStarted, bus.Event{AgentName: name, Action: "registered"})
}

// RegisterLazy stores a factory under a name without invoking it.
// The same replacement discipline as RegisterEager applies.
func (r *Registry) RegisterLazy(name string, factory agent.Factory) {
	r.mu.Lock()
	r.replaceLocked(name, &entry{
		factory:      factory,
		lazy:         true,
		registeredAt: time.Now(),
	})
	r.mu.Unlock()

	log.Printf("[registry] registered lazy agent %s", name)
}

// Get resolves an agent by name, invoking the factory synchronously for an
// unloaded lazy entry. This path performs the load without coordination:
// concurrent callers racing on the same unloaded name may invoke the factory
// more than once (last store wins). Use GetAsync from concurrent call sites.
func (r *Registry) Get(name string) (agent.Agent, error) {
	r.mu.Lock()
	e, ok := r.entries[name]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("registry: agent %s not registered", name)
	}
	if e.loaded {
		r.touchLocked(e)
		a := e.instance
		r.mu.Unlock()
		return a, nil
	}
	factory := e.factory
	r.mu.Unlock()

	a, err := factory()
	if err != nil {
		return nil, fmt.Errorf("registry: load agent %s: %w", name, err)
	}
	r.storeLoaded(name, a)
	return a, nil
}

// GetAsync resolves an agent by name with singleflight lazy loading: all
// concurrent callers of an unloaded name share one factory invocation and
// receive the identical instance. A factory error propagates to every waiter
// and leaves the entry unloaded, so a later call retries the factory.
func (r *Registry) GetAsync(name string) (agent.Agent, error) {
	r.mu.Lock()
	e, ok := r.entries[name]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("registry: agent %s not registered", name)
	}
	if e.loaded {
		r.touchLocked(e)
		a := e.instance
		r.mu.Unlock()
		return a, nil
	}
	factory := e.factory
	r.mu.Unlock()

	v, err, _ := r.flight.Do(name, func() (any, error) {
		// Re-check: another caller may have completed the load between the
		// unlock above and the flight admission.
		r.mu.RLock()
		if e, ok := r.entries[name]; ok && e.loaded {
			a := e.instance
			r.mu.RUnlock()
			return a, nil
		}
		r.mu.RUnlock()

		a, err := factory()
		if err != nil {
			return nil, err
		}
		r.storeLoaded(name, a)
		return a, nil
	})
	// Forget so a failed load can be retried and a successful one is served
	// from the entry map, not the flight cache.
	r.flight.Forget(name)

	if err != nil {
		return nil, fmt.Errorf("registry: load agent %s: %w", name, err)
	}
	return v.(agent.Agent), nil
}

// Has returns true if a name is registered, loaded or not.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[name]
	return ok
}

// IsLoaded returns true if the name resolves to a constructed instance.
func (r *Registry) IsLoaded(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return ok && e.loaded
}

// Names returns all registered agent names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// UsageCount returns how many times a name has been resolved.
func (r *Registry) UsageCount(name string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.entries[name]; ok {
		return e.usageCount
	}
	return 0
}

// Unregister removes an agent. It refuses to remove a loaded agent that is
// not idle.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[name]
	if !ok {
		return fmt.Errorf("registry: agent %s not registered", name)
	}
	if e.loaded && e.instance.Status() != agent.StatusIdle {
		return fmt.Errorf("registry: agent %s is %s, refusing to unregister", name, e.instance.Status())
	}
	if e.unsubscribe != nil {
		e.unsubscribe()
	}
	delete(r.entries, name)
	log.Printf("[registry] unregistered agent %s", name)
	return nil
}

// Clear removes every entry, aborting loaded agents that are not idle and
// detaching all event subscriptions.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for name, e := range r.entries {
		if e.loaded && e.instance.Status() != agent.StatusIdle {
			log.Printf("[registry] aborting non-idle agent %s during clear", name)
			e.instance.Abort()
		}
		if e.unsubscribe != nil {
			e.unsubscribe()
		}
		delete(r.entries, name)
	}
}

// FindBestAgent scores loaded agents by keyword overlap between the task
// description and the agent's name, description, and capabilities. Used as a
// fallback matcher when a task carries no explicit assignment. Unloaded lazy
// entries have no description to score and are skipped.
func (r *Registry) FindBestAgent(taskDescription string) (agent.Agent, bool) {
	words := keywords(taskDescription)
	if len(words) == 0 {
		return nil, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var best agent.Agent
	bestScore := 0
	for _, e := range r.entries {
		if !e.loaded {
			continue
		}
		a := e.instance
		haystack := keywords(a.Name() + " " + a.Description() + " " + strings.Join(a.Capabilities(), " "))
		score := 0
		for w := range words {
			if haystack[w] {
				score++
			}
		}
		if score > bestScore {
			bestScore = score
			best = a
		}
	}
	return best, best != nil
}

// FindByCapability returns the first loaded agent advertising the given tool.
func (r *Registry) FindByCapability(toolName string) (agent.Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, e := range r.entries {
		if !e.loaded {
			continue
		}
		for _, cap := range e.instance.Capabilities() {
			if cap == toolName {
				return e.instance, true
			}
		}
	}
	return nil, false
}

// storeLoaded installs a freshly loaded instance for a lazy entry, subscribes
// to its events, and announces the load.
func (r *Registry) storeLoaded(name string, a agent.Agent) {
	r.mu.Lock()
	e, ok := r.entries[name]
	if !ok || e.loaded {
		// Entry vanished or another load won the race. Keep the existing
		// instance; discard ours without subscribing.
		r.mu.Unlock()
		return
	}
	e.instance = a
	e.loaded = true
	e.unsubscribe = r.subscribeAgent(a)
	r.touchLocked(e)
	r.mu.Unlock()

	log.Printf("[registry] lazy-loaded agent %s", name)
	r.publish(bus.TopicAgentStarted, bus.Event{AgentName: name, Action: "lazy-loaded"})
}

// replaceLocked installs a new entry, detaching the old one's subscription.
// Caller must hold r.mu.
func (r *Registry) replaceLocked(name string, e *entry) {
	if old, ok := r.entries[name]; ok && old.unsubscribe != nil {
		old.unsubscribe()
	}
	r.entries[name] = e
}

// touchLocked bumps usage metadata. Caller must hold r.mu.
func (r *Registry) touchLocked(e *entry) {
	e.usageCount++
	e.lastUsedAt = time.Now()
}

// subscribeAgent forwards an agent's event stream onto the registry bus.
func (r *Registry) subscribeAgent(a agent.Agent) func() {
	return a.Subscribe(func(ev agent.Event) {
		r.publish(bus.TopicAgentEvent, bus.Event{
			AgentName: ev.AgentName,
			TaskID:    ev.TaskID,
			Action:    ev.Type,
			Message:   ev.Message,
			Timestamp: ev.Timestamp,
		})
	})
}

func (r *Registry) publish(topic string, ev bus.Event) {
	if r.events != nil {
		r.events.Publish(topic, ev)
	}
}

// keywords lowercases and tokenizes text into a word set, dropping short
// connective words that would inflate overlap scores.
func keywords(text string) map[string]bool {
	words := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,;:!?()[]{}\"'")
		if len(w) < 3 {
			continue
		}
		words[w] = true
	}
	return words
}
