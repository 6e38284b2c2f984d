package forge

import "sync"

// lockTable serializes work per project. The policy is fail-fast: a second
// submission against a held project is rejected, never queued, so the caller
// always knows whether its unit was created.
type lockTable struct {
	mu   sync.Mutex
	held map[string]bool
}

func newLockTable() *lockTable {
	return &lockTable{held: map[string]bool{}}
}

// TryAcquire takes the project's lock if it is free.
func (t *lockTable) TryAcquire(projectID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.held[projectID] {
		return false
	}
	t.held[projectID] = true
	return true
}

// Release frees the project's lock. Releasing an unheld lock is a no-op;
// the unconditional deferred release on every exit path depends on that.
func (t *lockTable) Release(projectID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.held, projectID)
}

// Held reports whether the project currently has a unit in flight.
func (t *lockTable) Held(projectID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.held[projectID]
}
