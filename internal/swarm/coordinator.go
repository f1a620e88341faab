// Package swarm chains agent executions for one logical task: after each run
// a rule table decides whether and where to hand the result off, with visit
// caps, cycle refusal, and stagnation detection bounding the chain so it
// cannot loop forever.
package swarm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cbright/taskhive/internal/agent"
	"github.com/cbright/taskhive/internal/registry"
	"github.com/cbright/taskhive/pkg/models"
)

// ChainStatus is the lifecycle state of a handoff chain.
type ChainStatus string

const (
	// ChainRunning means the chain is still executing.
	ChainRunning ChainStatus = "running"
	// ChainCompleted means the chain terminated normally.
	ChainCompleted ChainStatus = "completed"
	// ChainFailed means an agent could not be resolved or broke down.
	ChainFailed ChainStatus = "failed"
)

// Termination reasons recorded on completed chains.
const (
	ReasonNoRule        = "no matching rule"
	ReasonVisitCap      = "agent visit cap reached"
	ReasonCycleRefused  = "cycle refused"
	ReasonStagnation    = "output stagnated"
	ReasonMaxHandoffs   = "handoff budget exhausted"
	ReasonAgentMissing  = "agent unavailable"
	ReasonAgentError    = "agent execution error"
	ReasonContextClosed = "context cancelled"
)

// Handoff records one transfer between agents.
type Handoff struct {
	// From and To are the agent names on each side of the transfer.
	From string
	To   string
	// Duration is how long the From agent ran before handing off.
	Duration time.Duration
	// Timestamp is when the handoff happened.
	Timestamp time.Time
}

// Chain is the record of one coordinated execution.
type Chain struct {
	// ID uniquely identifies the chain.
	ID string
	// StartAgent is where the chain began.
	StartAgent string
	// Handoffs lists transfers in order.
	Handoffs []Handoff
	// AgentVisits counts executions per agent.
	AgentVisits map[string]int
	// Status is the chain's lifecycle state.
	Status ChainStatus
	// Reason explains why the chain terminated.
	Reason string

	// lastOutputHashes is a bounded ring of recent output hashes used for
	// stagnation detection.
	lastOutputHashes []string
}

// Result pairs a finished chain with the last agent result produced.
type Result struct {
	Chain *Chain
	Last  *models.TaskResult
}

// Config contains configuration options for the Coordinator.
type Config struct {
	// MaxHandoffs caps the number of transfers per chain.
	MaxHandoffs int
	// MaxVisitsPerAgent caps how often one agent may run in a chain.
	MaxVisitsPerAgent int
	// AllowCycles permits handing off to an already-visited agent.
	AllowCycles bool
	// EnableStagnationDetection turns repeated-output termination on.
	EnableStagnationDetection bool
	// StagnationThreshold is how many consecutive identical outputs end
	// the chain.
	StagnationThreshold int
	// HandoffTimeout bounds each agent execution.
	HandoffTimeout time.Duration
	// Verbose enables per-handoff logging.
	Verbose bool
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxHandoffs:               10,
		MaxVisitsPerAgent:         3,
		AllowCycles:               false,
		EnableStagnationDetection: true,
		StagnationThreshold:       3,
		HandoffTimeout:            5 * time.Minute,
	}
}

// Coordinator executes handoff chains against a registry of agents.
type Coordinator struct {
	// cfg is the coordinator configuration.
	cfg Config
	// agents resolves agent names.
	agents *registry.Registry
	// rules is the handoff rule table.
	rules []*HandoffRule
	// mu protects rules.
	mu sync.RWMutex
}

// New creates a Coordinator over the given registry.
func New(agents *registry.Registry, cfg Config) *Coordinator {
	def := DefaultConfig()
	if cfg.MaxHandoffs <= 0 {
		cfg.MaxHandoffs = def.MaxHandoffs
	}
	if cfg.MaxVisitsPerAgent <= 0 {
		cfg.MaxVisitsPerAgent = def.MaxVisitsPerAgent
	}
	if cfg.StagnationThreshold <= 0 {
		cfg.StagnationThreshold = def.StagnationThreshold
	}
	if cfg.HandoffTimeout <= 0 {
		cfg.HandoffTimeout = def.HandoffTimeout
	}
	return &Coordinator{cfg: cfg, agents: agents}
}

// ExecuteWithHandoffs runs a task on the starting agent, then follows the
// rule table until no rule fires or a bound is hit. Failures terminate the
// chain as failed; every bound produces a normally-completed chain.
func (c *Coordinator) ExecuteWithHandoffs(ctx context.Context, startAgent string, task *models.Task, creds *agent.Credentials) *Result {
	chain := &Chain{
		ID:          uuid.New().String(),
		StartAgent:  startAgent,
		AgentVisits: make(map[string]int),
		Status:      ChainRunning,
	}
	c.logf("[swarm] chain %s starting on agent %s", chain.ID, startAgent)

	current := startAgent
	var last *models.TaskResult

	for {
		if ctx.Err() != nil {
			return c.terminate(chain, last, ChainFailed, ReasonContextClosed)
		}

		a, err := c.agents.GetAsync(current)
		if err != nil {
			last = models.FailedResult(models.ErrCodeNoAgentAvailable, err.Error(), false)
			return c.terminate(chain, last, ChainFailed, ReasonAgentMissing)
		}

		chain.AgentVisits[current]++
		if chain.AgentVisits[current] > c.cfg.MaxVisitsPerAgent {
			return c.terminate(chain, last, ChainCompleted, ReasonVisitCap)
		}

		runCtx, cancel := context.WithTimeout(ctx, c.cfg.HandoffTimeout)
		started := time.Now()
		result, err := a.Run(runCtx, task, creds)
		cancel()
		elapsed := time.Since(started)

		if err != nil {
			last = models.FailedResult(models.ErrCodeTaskExecutionFailed, err.Error(), false)
			return c.terminate(chain, last, ChainFailed, ReasonAgentError)
		}
		last = result

		if c.recordOutput(chain, result.Output) {
			return c.terminate(chain, last, ChainCompleted, ReasonStagnation)
		}

		rule, ok := c.matchRule(current, task, result)
		if !ok {
			return c.terminate(chain, last, ChainCompleted, ReasonNoRule)
		}

		if !c.cfg.AllowCycles && chain.AgentVisits[rule.To] > 0 {
			c.logf("[swarm] chain %s refusing cycle %s -> %s", chain.ID, current, rule.To)
			return c.terminate(chain, last, ChainCompleted, ReasonCycleRefused)
		}

		if rule.TransformTask != nil {
			task = rule.TransformTask(task, result)
		} else {
			task = task.Clone()
		}

		chain.Handoffs = append(chain.Handoffs, Handoff{
			From:      current,
			To:        rule.To,
			Duration:  elapsed,
			Timestamp: time.Now(),
		})
		c.logf("[swarm] chain %s handoff %s -> %s after %s", chain.ID, current, rule.To, elapsed.Round(time.Millisecond))

		if len(chain.Handoffs) >= c.cfg.MaxHandoffs {
			return c.terminate(chain, last, ChainCompleted, ReasonMaxHandoffs)
		}
		current = rule.To
	}
}

// recordOutput pushes an output hash into the bounded ring and reports
// whether the chain has stagnated.
func (c *Coordinator) recordOutput(chain *Chain, output string) bool {
	sum := sha256.Sum256([]byte(output))
	hash := hex.EncodeToString(sum[:])

	chain.lastOutputHashes = append(chain.lastOutputHashes, hash)
	if len(chain.lastOutputHashes) > c.cfg.StagnationThreshold {
		chain.lastOutputHashes = chain.lastOutputHashes[1:]
	}

	if !c.cfg.EnableStagnationDetection {
		return false
	}
	if len(chain.lastOutputHashes) < c.cfg.StagnationThreshold {
		return false
	}
	for _, h := range chain.lastOutputHashes {
		if h != hash {
			return false
		}
	}
	return true
}

func (c *Coordinator) terminate(chain *Chain, last *models.TaskResult, status ChainStatus, reason string) *Result {
	chain.Status = status
	chain.Reason = reason
	c.logf("[swarm] chain %s %s (%s) after %d handoffs", chain.ID, status, reason, len(chain.Handoffs))
	return &Result{Chain: chain, Last: last}
}

func (c *Coordinator) logf(format string, args ...interface{}) {
	if c.cfg.Verbose {
		log.Printf(format, args...)
	}
}
