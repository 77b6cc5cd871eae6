// Package clock supplies the monotonic logical clock the domain
// timestamps everything with. The ordering guarantee normally comes
// from the execution substrate; in this deployment a process-local
// atomic sequence provides it.
package clock

import "sync/atomic"

// Logical is a monotonically increasing tick source. The zero value is
// ready to use.
type Logical struct {
	tick atomic.Uint64
}

func New() *Logical {
	return &Logical{}
}

// Next returns the next tick. Every call observes a strictly greater
// value than all previous calls.
func (c *Logical) Next() uint64 {
	return c.tick.Add(1)
}

// Now returns the current tick without advancing it.
func (c *Logical) Now() uint64 {
	return c.tick.Load()
}

// AdvanceTo moves the clock forward to at least tick. Used when an
// external substrate supplies authoritative time.
func (c *Logical) AdvanceTo(tick uint64) {
	for {
		cur := c.tick.Load()
		if cur >= tick || c.tick.CompareAndSwap(cur, tick) {
			return
		}
	}
}
