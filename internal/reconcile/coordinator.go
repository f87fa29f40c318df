package reconcile

import (
	"sync"
)

// Coordinator serializes imports per source key so two runs never race over
// the same feed. Acquisition is compare-and-set on an in-process slot; a
// second caller is told to skip rather than queue, because replaying the same
// feed seconds later has no value.
type Coordinator struct {
	mu    sync.Mutex
	slots map[string]string
}

// NewCoordinator builds a Coordinator.
func NewCoordinator() *Coordinator {
	return &Coordinator{slots: make(map[string]string)}
}

// Acquire claims the slot for key on behalf of runID. It returns false when
// another run already holds it.
func (c *Coordinator) Acquire(key, runID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, held := c.slots[key]; held {
		return false
	}
	c.slots[key] = runID
	return true
}

// Release frees the slot, but only for the run that holds it.
func (c *Coordinator) Release(key, runID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.slots[key] == runID {
		delete(c.slots, key)
	}
}

// Holder reports which run holds the slot, if any.
func (c *Coordinator) Holder(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, held := c.slots[key]
	return id, held
}
