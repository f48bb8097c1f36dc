package scheduler

import (
	"sync"
	"time"
)

// failureTracker keeps per-rule consecutive-failure counts and cooldown
// windows in process memory. Cooldowns never touch a rule's configured
// check interval; a rule in cooldown is simply skipped by the tick until
// the window passes.
type failureTracker struct {
	mu    sync.Mutex
	rules map[string]*ruleFailures
}

type ruleFailures struct {
	count int
	until time.Time
}

func newFailureTracker() *failureTracker {
	return &failureTracker{rules: make(map[string]*ruleFailures)}
}

// Failure records one more consecutive failure for the rule and schedules
// an exponentially growing cooldown from base. Returns the new count.
func (t *failureTracker) Failure(ruleID string, now time.Time, base time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	f := t.rules[ruleID]
	if f == nil {
		f = &ruleFailures{}
		t.rules[ruleID] = f
	}
	f.count++

	delay := base << (f.count - 1)
	if max := 30 * time.Minute; delay > max {
		delay = max
	}
	f.until = now.Add(delay)
	return f.count
}

// Eligible reports whether the rule is outside any cooldown window.
func (t *failureTracker) Eligible(ruleID string, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	f := t.rules[ruleID]
	return f == nil || !now.Before(f.until)
}

// Reset clears the rule's failure history after a successful check.
func (t *failureTracker) Reset(ruleID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.rules, ruleID)
}
