package queue

import (
	"log"
	"sync"
)

// pauseController manages pause/resume state for the queue's processing loop.
// The loop polls IsPaused between dispatches; Resume nudges it awake through
// the queue's wake channel, so no one ever blocks in here.
type pauseController struct {
	// paused indicates whether processing is paused.
	paused bool
	// stopped indicates the controller has been shut down.
	stopped bool
	// mu protects all fields.
	mu sync.RWMutex
}

func newPauseController() *pauseController {
	return &pauseController{}
}

// Pause pauses processing. Queued tasks stay queued; running tasks finish.
func (p *pauseController) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.paused {
		p.paused = true
		log.Printf("[queue] paused - no new tasks will be dispatched")
	}
}

// Resume resumes processing after a pause.
func (p *pauseController) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.paused {
		p.paused = false
		log.Printf("[queue] resumed - task dispatch enabled")
	}
}

// Stop shuts the controller down. Idempotent.
func (p *pauseController) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = true
}

// IsPaused returns whether processing is currently paused.
func (p *pauseController) IsPaused() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.paused
}
