package queue

import (
	"fmt"

	"github.com/cbright/taskhive/internal/graph"
	"github.com/cbright/taskhive/pkg/models"
)

// EnqueueBatch validates a set of interdependent tasks and enqueues them in
// dependency order. Dependencies must reference either another task in the
// batch or a task that already settled; a cycle or an unknown dependency
// rejects the whole batch before anything is enqueued.
//
// The returned map holds one result channel per task id.
func (q *TaskQueue) EnqueueBatch(tasks []*models.Task) (map[string]<-chan *models.TaskResult, error) {
	g := graph.New()
	err := g.Build(tasks, func(id string) bool {
		return q.completed.Has(id) || q.failed.Has(id)
	})
	if err != nil {
		return nil, fmt.Errorf("queue: %w", err)
	}
	ordered, err := g.TopologicalSort()
	if err != nil {
		return nil, fmt.Errorf("queue: %w", err)
	}

	channels := make(map[string]<-chan *models.TaskResult, len(ordered))
	for _, t := range ordered {
		channels[t.ID] = q.Enqueue(t)
	}
	return channels, nil
}
