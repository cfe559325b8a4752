package job

import "sync"

// Tracker remembers the most recent transition. Its Observe method can be
// passed to WithObserver.
type Tracker struct {
	mu   sync.RWMutex
	last Transition
	seen bool
}

// Observe records t.
func (t *Tracker) Observe(tr Transition) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.last = tr
	t.seen = true
}

// Current returns the last transition, or false when no job has run yet.
func (t *Tracker) Current() (Transition, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.last, t.seen
}

// Busy reports whether the last observed job is still in a non-terminal state.
func (t *Tracker) Busy() bool {
	tr, ok := t.Current()
	return ok && !tr.To.IsTerminal()
}
