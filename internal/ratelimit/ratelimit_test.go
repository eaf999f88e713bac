package ratelimit

import (
	"context"
	"testing"
	"time"
)

type staticRules struct {
	rules []Rule
}

func (s *staticRules) ListRules(_ context.Context, _ string) ([]Rule, error) {
	return s.rules, nil
}

// recordingCounter counts executions from an in-memory list and records
// the filters each CountTerminal call used.
type recordingCounter struct {
	executions []countedExecution
	calls      []counterCall
}

type countedExecution struct {
	toolID  string
	agentID string
	roleID  string
	at      time.Time
}

type counterCall struct {
	agentID string
	roleID  string
}

func (c *recordingCounter) CountTerminal(_ context.Context, toolID, agentID, roleID string, since time.Time) (int, error) {
	c.calls = append(c.calls, counterCall{agentID: agentID, roleID: roleID})
	n := 0
	for _, e := range c.executions {
		if e.toolID != toolID {
			continue
		}
		if agentID != "" && e.agentID != agentID {
			continue
		}
		if roleID != "" && e.roleID != roleID {
			continue
		}
		if e.at.Before(since) {
			continue
		}
		n++
	}
	return n, nil
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func TestAdmit_NoRulesAlwaysAllows(t *testing.T) {
	lim := NewLimiter(&staticRules{}, &recordingCounter{})

	d, err := lim.Admit(context.Background(), "t1", "a1", "r1")
	if err != nil {
		t.Fatal(err)
	}
	if !d.Allowed {
		t.Fatal("expected allow with no rules")
	}
}

func TestAdmit_NthAllowedNPlusFirstDenied(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	counter := &recordingCounter{}
	lim := newLimiterAtTime(
		&staticRules{rules: []Rule{{Scope: ScopeGlobal, MaxRequests: 3, WindowSeconds: 60}}},
		counter,
		fixedClock(now),
	)

	for i := 0; i < 3; i++ {
		d, err := lim.Admit(context.Background(), "t1", "a1", "r1")
		if err != nil {
			t.Fatal(err)
		}
		if !d.Allowed {
			t.Fatalf("request %d should be admitted", i+1)
		}
		counter.executions = append(counter.executions, countedExecution{
			toolID: "t1", agentID: "a1", roleID: "r1", at: now,
		})
	}

	d, err := lim.Admit(context.Background(), "t1", "a1", "r1")
	if err != nil {
		t.Fatal(err)
	}
	if d.Allowed {
		t.Fatal("4th request should be denied")
	}
	want := "Global rate limit exceeded: 3 requests per 60 seconds"
	if d.Reason != want {
		t.Fatalf("got reason %q, want %q", d.Reason, want)
	}
}

func TestAdmit_WindowElapses(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	counter := &recordingCounter{
		executions: []countedExecution{
			{toolID: "t1", agentID: "a1", roleID: "r1", at: start},
		},
	}
	rules := &staticRules{rules: []Rule{{Scope: ScopeGlobal, MaxRequests: 1, WindowSeconds: 60}}}

	// Inside the window: denied
	lim := newLimiterAtTime(rules, counter, fixedClock(start.Add(30*time.Second)))
	if d, _ := lim.Admit(context.Background(), "t1", "a1", "r1"); d.Allowed {
		t.Fatal("expected denial inside window")
	}

	// After the window: the old execution no longer counts
	lim = newLimiterAtTime(rules, counter, fixedClock(start.Add(61*time.Second)))
	if d, _ := lim.Admit(context.Background(), "t1", "a1", "r1"); !d.Allowed {
		t.Fatal("expected admit once window has elapsed")
	}
}

func TestAdmit_ScopeFilters(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		scope     Scope
		wantAgent string
		wantRole  string
		wantMsg   string
	}{
		{ScopeGlobal, "", "", "Global rate limit exceeded: 1 requests per 10 seconds"},
		{ScopePerAgent, "a1", "", "Agent rate limit exceeded: 1 requests per 10 seconds"},
		{ScopePerRole, "", "r1", "Role rate limit exceeded: 1 requests per 10 seconds"},
	}

	for _, c := range cases {
		counter := &recordingCounter{
			executions: []countedExecution{
				{toolID: "t1", agentID: "a1", roleID: "r1", at: now},
			},
		}
		lim := newLimiterAtTime(
			&staticRules{rules: []Rule{{Scope: c.scope, MaxRequests: 1, WindowSeconds: 10}}},
			counter,
			fixedClock(now),
		)

		d, err := lim.Admit(context.Background(), "t1", "a1", "r1")
		if err != nil {
			t.Fatal(err)
		}
		if d.Allowed {
			t.Fatalf("scope %s: expected denial", c.scope)
		}
		if d.Reason != c.wantMsg {
			t.Fatalf("scope %s: got %q, want %q", c.scope, d.Reason, c.wantMsg)
		}
		call := counter.calls[0]
		if call.agentID != c.wantAgent || call.roleID != c.wantRole {
			t.Fatalf("scope %s: counted with agent=%q role=%q", c.scope, call.agentID, call.roleID)
		}
	}
}

func TestAdmit_AgentScopeIsolatesAgents(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	counter := &recordingCounter{
		executions: []countedExecution{
			{toolID: "t1", agentID: "a1", roleID: "r1", at: now},
		},
	}
	lim := newLimiterAtTime(
		&staticRules{rules: []Rule{{Scope: ScopePerAgent, MaxRequests: 1, WindowSeconds: 60}}},
		counter,
		fixedClock(now),
	)

	// a1 has used its budget; a2 has not.
	if d, _ := lim.Admit(context.Background(), "t1", "a1", "r1"); d.Allowed {
		t.Fatal("a1 should be denied")
	}
	if d, _ := lim.Admit(context.Background(), "t1", "a2", "r1"); !d.Allowed {
		t.Fatal("a2 should be admitted")
	}
}

func TestAdmit_FirstViolationWins(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	counter := &recordingCounter{
		executions: []countedExecution{
			{toolID: "t1", agentID: "a1", roleID: "r1", at: now},
		},
	}
	lim := newLimiterAtTime(
		&staticRules{rules: []Rule{
			{Scope: ScopePerAgent, MaxRequests: 1, WindowSeconds: 30},
			{Scope: ScopeGlobal, MaxRequests: 1, WindowSeconds: 60},
		}},
		counter,
		fixedClock(now),
	)

	d, err := lim.Admit(context.Background(), "t1", "a1", "r1")
	if err != nil {
		t.Fatal(err)
	}
	if d.Allowed {
		t.Fatal("expected denial")
	}
	if d.Reason != "Agent rate limit exceeded: 1 requests per 30 seconds" {
		t.Fatalf("expected first rule's denial, got %q", d.Reason)
	}
	// Evaluation stops at the first violated rule.
	if len(counter.calls) != 1 {
		t.Fatalf("expected 1 counter call, got %d", len(counter.calls))
	}
}
