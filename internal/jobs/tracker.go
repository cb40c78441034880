// Package jobs tracks which scan jobs are in flight per user. The
// tracker is a set, not a queue: no ordering across a user's jobs is
// implied, and both start and complete are idempotent so duplicate
// signal delivery is harmless.
package jobs

import "sync"

// Tracker maps each user to the set of job ids currently in flight.
// Users with no in-flight jobs hold no entry at all.
type Tracker struct {
	mu     sync.RWMutex
	active map[string]map[string]struct{} // user id -> job ids
}

func NewTracker() *Tracker {
	return &Tracker{
		active: make(map[string]map[string]struct{}),
	}
}

// Start adds a job to the user's in-flight set, creating the set if
// absent. Adding a job that is already tracked is a no-op.
func (t *Tracker) Start(userID, jobID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.active[userID] == nil {
		t.active[userID] = make(map[string]struct{})
	}
	t.active[userID][jobID] = struct{}{}
}

// Complete removes a job from the user's set, dropping the set entry if
// it becomes empty. Completing an unknown job is a silent no-op, which
// tolerates duplicate completion signals.
func (t *Tracker) Complete(userID, jobID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	set, ok := t.active[userID]
	if !ok {
		return
	}
	delete(set, jobID)
	if len(set) == 0 {
		delete(t.active, userID)
	}
}

// ActiveJobs returns a snapshot of the user's in-flight job ids.
func (t *Tracker) ActiveJobs(userID string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	set := t.active[userID]
	out := make([]string, 0, len(set))
	for jobID := range set {
		out = append(out, jobID)
	}
	return out
}

// IsScanning reports whether the user has any job in flight.
func (t *Tracker) IsScanning(userID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return len(t.active[userID]) > 0
}
