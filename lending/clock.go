package lending

import "sync/atomic"

// BlockClock is the shared activity-period counter. Interest and rewards
// accrue per elapsed block; the host (a chain, or marketd's ticker) advances
// it and every component reads the same instance, so accrual checkpoints can
// never drift between the market engine and the risk engine.
type BlockClock struct {
	height atomic.Uint64
}

func NewBlockClock(start uint64) *BlockClock {
	c := &BlockClock{}
	c.height.Store(start)
	return c
}

// Height returns the current block height.
func (c *BlockClock) Height() uint64 {
	if c == nil {
		return 0
	}
	return c.height.Load()
}

// SetHeight moves the clock forward. Attempts to move it backwards are
// ignored; accrual checkpoints rely on monotonicity.
func (c *BlockClock) SetHeight(h uint64) {
	if c == nil {
		return
	}
	for {
		cur := c.height.Load()
		if h <= cur {
			return
		}
		if c.height.CompareAndSwap(cur, h) {
			return
		}
	}
}

// Advance moves the clock forward by n blocks.
func (c *BlockClock) Advance(n uint64) {
	if c == nil {
		return
	}
	c.height.Add(n)
}
