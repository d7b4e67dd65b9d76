// Package admin exposes an operator-facing HTTP surface over the running
// indexer: read-only status/metrics, a live event feed over WebSocket, and a
// small JWT-gated control surface (pause/resume seeding, manual range
// replay) described in SPEC_FULL.md's Domain Stack section.
package admin

import "sync"

// Controller holds the mutable operator-controlled state shared between the
// admin HTTP handlers and internal/seeder. It satisfies seeder.PauseChecker
// structurally, with neither package importing the other.
type Controller struct {
	mu     sync.RWMutex
	paused bool
}

// NewController returns a Controller that starts unpaused.
func NewController() *Controller {
	return &Controller{}
}

// Pause suspends seeding. Workers and the janitor are unaffected; only new
// ranges stop being appended to the queue.
func (c *Controller) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = true
}

// Resume lets seeding continue.
func (c *Controller) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = false
}

// Paused reports the current pause state. Satisfies seeder.PauseChecker.
func (c *Controller) Paused() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.paused
}
