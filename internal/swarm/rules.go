package swarm

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/cbright/taskhive/pkg/models"
)

// Condition selects when a handoff rule fires.
type Condition string

const (
	// OnSuccess fires when the previous result succeeded.
	OnSuccess Condition = "on_success"
	// OnFailure fires when the previous result failed.
	OnFailure Condition = "on_failure"
	// OnPattern fires when the result output matches the rule's regexp.
	OnPattern Condition = "on_pattern"
	// Custom fires when the rule's predicate returns true.
	Custom Condition = "custom"
	// Always fires unconditionally.
	Always Condition = "always"
)

// HandoffRule routes a result from one agent to another.
type HandoffRule struct {
	// From is the agent whose results this rule inspects.
	From string
	// To is the agent the task is handed to when the rule fires.
	To string
	// Condition selects when the rule fires.
	Condition Condition
	// Pattern is the regexp source for OnPattern rules.
	Pattern string
	// Predicate backs Custom rules. It sees the task as it stands for the
	// current hop, so rules can route on state a TransformTask wrote into it.
	Predicate func(*models.Task, *models.TaskResult) bool
	// Priority orders rules for the same From agent, highest first.
	Priority int
	// TransformTask, when set, builds the next task from the current task
	// and result. Otherwise the task is cloned with a fresh id.
	TransformTask func(*models.Task, *models.TaskResult) *models.Task

	// pattern is the compiled Pattern.
	pattern *regexp.Regexp
}

// matches reports whether the rule fires for a task and its result.
func (r *HandoffRule) matches(task *models.Task, result *models.TaskResult) bool {
	switch r.Condition {
	case OnSuccess:
		return result.Success
	case OnFailure:
		return !result.Success
	case OnPattern:
		return r.pattern != nil && r.pattern.MatchString(result.Output)
	case Custom:
		return r.Predicate != nil && r.Predicate(task, result)
	case Always:
		return true
	default:
		return false
	}
}

// AddRule installs a handoff rule, compiling its pattern when present.
func (c *Coordinator) AddRule(rule HandoffRule) error {
	if rule.From == "" || rule.To == "" {
		return fmt.Errorf("swarm: rule needs both From and To agents")
	}
	switch rule.Condition {
	case OnSuccess, OnFailure, Always:
	case OnPattern:
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return fmt.Errorf("swarm: rule %s->%s pattern: %w", rule.From, rule.To, err)
		}
		rule.pattern = re
	case Custom:
		if rule.Predicate == nil {
			return fmt.Errorf("swarm: custom rule %s->%s needs a predicate", rule.From, rule.To)
		}
	default:
		return fmt.Errorf("swarm: unknown condition %q", rule.Condition)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.rules = append(c.rules, &rule)
	return nil
}

// RemoveRule deletes every rule routing From to To. Returns how many were
// removed.
func (c *Coordinator) RemoveRule(from, to string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	kept := c.rules[:0]
	removed := 0
	for _, r := range c.rules {
		if r.From == from && r.To == to {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	c.rules = kept
	return removed
}

// RulesFor returns the rules for an agent, highest priority first.
func (c *Coordinator) RulesFor(from string) []HandoffRule {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []HandoffRule
	for _, r := range c.rules {
		if r.From == from {
			out = append(out, *r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out
}

// AllRules returns every installed rule.
func (c *Coordinator) AllRules() []HandoffRule {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]HandoffRule, 0, len(c.rules))
	for _, r := range c.rules {
		out = append(out, *r)
	}
	return out
}

// matchRule returns the highest-priority rule firing for an agent's result.
func (c *Coordinator) matchRule(from string, task *models.Task, result *models.TaskResult) (*HandoffRule, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var best *HandoffRule
	for _, r := range c.rules {
		if r.From != from || !r.matches(task, result) {
			continue
		}
		if best == nil || r.Priority > best.Priority {
			best = r
		}
	}
	return best, best != nil
}
