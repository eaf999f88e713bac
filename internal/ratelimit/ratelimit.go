// Package ratelimit admits or rejects tool executions against rolling
// counting windows over the execution ledger. The limiter re-queries the
// terminal-execution count on every call, so its accuracy is exactly the
// consistency of the underlying store. The admission check and the later
// terminal write are not atomic: concurrent calls can both pass the check
// before either's record lands, transiently overshooting max_requests.
package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// Scope is the dimension a rule counts over.
type Scope string

const (
	ScopeGlobal   Scope = "global"
	ScopePerAgent Scope = "agent"
	ScopePerRole  Scope = "role"
)

// Rule is one admission constraint on a tool.
type Rule struct {
	ID            string
	ToolID        string
	Scope         Scope
	MaxRequests   int
	WindowSeconds int
}

// RuleSource lists a tool's rules in declaration order.
type RuleSource interface {
	ListRules(ctx context.Context, toolID string) ([]Rule, error)
}

// ExecutionCounter counts terminal (success or failed) executions of a
// tool created at or after since. Empty agentID/roleID leave that
// dimension unfiltered.
type ExecutionCounter interface {
	CountTerminal(ctx context.Context, toolID, agentID, roleID string, since time.Time) (int, error)
}

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed bool
	Reason  string // set when denied
}

// Limiter evaluates a tool's rules in declaration order; the first
// violated rule denies and stops evaluation. A tool with no rules is
// always admitted. The Nth request in a window passes, the (N+1)th is
// denied.
type Limiter struct {
	rules   RuleSource
	counter ExecutionCounter
	now     func() time.Time
}

// NewLimiter creates a Limiter over the given rule source and counter.
func NewLimiter(rules RuleSource, counter ExecutionCounter) *Limiter {
	return &Limiter{rules: rules, counter: counter, now: time.Now}
}

// newLimiterAtTime creates a Limiter with a fixed clock (for testing).
func newLimiterAtTime(rules RuleSource, counter ExecutionCounter, now func() time.Time) *Limiter {
	return &Limiter{rules: rules, counter: counter, now: now}
}

// Admit checks every rule configured for the tool.
func (l *Limiter) Admit(ctx context.Context, toolID, agentID, roleID string) (Decision, error) {
	rules, err := l.rules.ListRules(ctx, toolID)
	if err != nil {
		return Decision{}, fmt.Errorf("Admit: %w", err)
	}

	for _, rule := range rules {
		windowStart := l.now().Add(-time.Duration(rule.WindowSeconds) * time.Second)

		var filterAgent, filterRole string
		var label string
		switch rule.Scope {
		case ScopeGlobal:
			label = "Global"
		case ScopePerAgent:
			filterAgent = agentID
			label = "Agent"
		case ScopePerRole:
			filterRole = roleID
			label = "Role"
		default:
			return Decision{}, fmt.Errorf("Admit: unknown rate limit scope %q", rule.Scope)
		}

		count, err := l.counter.CountTerminal(ctx, toolID, filterAgent, filterRole, windowStart)
		if err != nil {
			return Decision{}, fmt.Errorf("Admit: %w", err)
		}

		if count >= rule.MaxRequests {
			return Decision{
				Allowed: false,
				Reason: fmt.Sprintf("%s rate limit exceeded: %d requests per %d seconds",
					label, rule.MaxRequests, rule.WindowSeconds),
			}, nil
		}
	}

	return Decision{Allowed: true}, nil
}
