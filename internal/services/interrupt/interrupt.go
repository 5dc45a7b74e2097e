// Package interrupt carries the process-wide cancellation flag polled by the
// copy and walk loops.
package interrupt

import "sync/atomic"

// Checker is the read side of the flag, used on hot paths.
type Checker interface {
	IsInterrupted() bool
}

// Controller holds a single atomic flag. It is set once from a signal
// context and never cleared outside tests.
type Controller struct {
	flag atomic.Bool
}

// New creates a controller in the not-interrupted state.
func New() *Controller {
	return &Controller{}
}

// IsInterrupted reports whether an interrupt was requested.
func (c *Controller) IsInterrupted() bool {
	return c.flag.Load()
}

// RequestInterrupt trips the flag. It reports whether this call was the one
// that tripped it.
func (c *Controller) RequestInterrupt() bool {
	return c.flag.CompareAndSwap(false, true)
}

// Reset clears the flag. Test harnesses only.
func (c *Controller) Reset() {
	c.flag.Store(false)
}

// Never is a Checker that is never interrupted.
var Never Checker = never{}

type never struct{}

func (never) IsInterrupted() bool { return false }
