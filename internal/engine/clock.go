package engine

import "sync/atomic"

// Clock stamps rule insertions for the pattern store.
//
// Of two equally specific rules the one stamped first wins, so one Clock is
// shared by everything that inserts into a library: definition files load
// first, learned rules after them, approvals at run time last. Wall time
// never decides a match.
type Clock struct {
	last atomic.Int64
}

// NewClock returns a clock whose first stamp is 1.
func NewClock() *Clock {
	return &Clock{}
}

// Next returns a stamp greater than every stamp returned before it.
func (c *Clock) Next() int64 {
	return c.last.Add(1)
}

// Last returns the most recent stamp, or 0 before the first.
func (c *Clock) Last() int64 {
	return c.last.Load()
}
