// Package graph validates and orders task dependency graphs for batch
// enqueueing.
package graph

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cbright/taskhive/pkg/models"
)

// ErrCycle indicates a circular dependency was found in the task graph.
var ErrCycle = errors.New("circular dependency detected")

// DependencyGraph is a directed acyclic graph of task dependencies.
// Tasks are nodes, and edges represent "blocked by" relationships.
// Dependencies on tasks outside the graph are allowed only when the
// settled predicate given to Build accepts them.
type DependencyGraph struct {
	mu sync.RWMutex
	// order holds task IDs in insertion order, so sorting is stable.
	order []string
	// nodes maps task ID to the task itself.
	nodes map[string]*models.Task
	// edges maps task ID to the in-graph task IDs it is blocked by.
	edges map[string][]string
}

// New creates a new empty dependency graph.
func New() *DependencyGraph {
	return &DependencyGraph{
		nodes: make(map[string]*models.Task),
		edges: make(map[string][]string),
	}
}

// Build constructs the graph from a slice of tasks. Dependencies must
// reference another task in the slice or satisfy the settled predicate
// (nil means no external dependencies are accepted). Returns an error on
// duplicate IDs, unknown dependencies, or a cycle.
func (g *DependencyGraph) Build(tasks []*models.Task, settled func(id string) bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, task := range tasks {
		if _, dup := g.nodes[task.ID]; dup {
			return fmt.Errorf("duplicate task id %s", task.ID)
		}
		g.order = append(g.order, task.ID)
		g.nodes[task.ID] = task
		g.edges[task.ID] = nil
	}

	for _, task := range tasks {
		for _, depID := range task.Dependencies {
			if _, inGraph := g.nodes[depID]; inGraph {
				g.edges[task.ID] = append(g.edges[task.ID], depID)
				continue
			}
			if settled == nil || !settled(depID) {
				return fmt.Errorf("task %s depends on unknown task %s", task.ID, depID)
			}
		}
	}

	if cyclic := g.cycleMembersLocked(); len(cyclic) > 0 {
		return fmt.Errorf("%w involving tasks %v", ErrCycle, cyclic)
	}
	return nil
}

// HasCycle returns true if the graph contains a circular dependency.
func (g *DependencyGraph) HasCycle() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.cycleMembersLocked()) > 0
}

// degreesLocked computes in-degrees and the reverse edge map for Kahn's
// algorithm.
func (g *DependencyGraph) degreesLocked() (map[string]int, map[string][]string) {
	indegree := make(map[string]int, len(g.nodes))
	dependents := make(map[string][]string)
	for _, id := range g.order {
		indegree[id] = 0
	}
	for id, deps := range g.edges {
		for _, depID := range deps {
			indegree[id]++
			dependents[depID] = append(dependents[depID], id)
		}
	}
	return indegree, dependents
}

// cycleMembersLocked returns the IDs of tasks stuck in a dependency cycle,
// in insertion order, using Kahn's algorithm: anything not drained by
// repeatedly removing zero-indegree nodes is part of (or behind) a cycle.
func (g *DependencyGraph) cycleMembersLocked() []string {
	indegree, dependents := g.degreesLocked()

	var frontier []string
	for _, id := range g.order {
		if indegree[id] == 0 {
			frontier = append(frontier, id)
		}
	}

	drained := 0
	for len(frontier) > 0 {
		id := frontier[0]
		frontier = frontier[1:]
		drained++
		for _, depID := range dependents[id] {
			indegree[depID]--
			if indegree[depID] == 0 {
				frontier = append(frontier, depID)
			}
		}
	}

	if drained == len(g.nodes) {
		return nil
	}
	var stuck []string
	for _, id := range g.order {
		if indegree[id] > 0 {
			stuck = append(stuck, id)
		}
	}
	return stuck
}

// TopologicalSort returns the tasks in an order where every dependency
// comes before the tasks that depend on it. Ties preserve insertion order.
// Returns an error if the graph contains a cycle.
func (g *DependencyGraph) TopologicalSort() ([]*models.Task, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if cyclic := g.cycleMembersLocked(); len(cyclic) > 0 {
		return nil, fmt.Errorf("%w involving tasks %v", ErrCycle, cyclic)
	}

	indegree, dependents := g.degreesLocked()

	var frontier []string
	for _, id := range g.order {
		if indegree[id] == 0 {
			frontier = append(frontier, id)
		}
	}

	ordered := make([]*models.Task, 0, len(g.nodes))
	for len(frontier) > 0 {
		id := frontier[0]
		frontier = frontier[1:]
		ordered = append(ordered, g.nodes[id])
		for _, depID := range dependents[id] {
			indegree[depID]--
			if indegree[depID] == 0 {
				frontier = append(frontier, depID)
			}
		}
	}
	return ordered, nil
}

// GetTask returns the task for a given ID, or nil if not found.
func (g *DependencyGraph) GetTask(taskID string) *models.Task {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.nodes[taskID]
}

// Size returns the number of tasks in the graph.
func (g *DependencyGraph) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// Dependencies returns the in-graph task IDs the given task is blocked by.
func (g *DependencyGraph) Dependencies(taskID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.edges[taskID]
}

// Dependents returns the IDs of tasks blocked by the given task.
func (g *DependencyGraph) Dependents(taskID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var dependents []string
	for _, id := range g.order {
		for _, depID := range g.edges[id] {
			if depID == taskID {
				dependents = append(dependents, id)
				break
			}
		}
	}
	return dependents
}
