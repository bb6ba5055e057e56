package buffer

// ClockStrategy sweeps the slots circularly, starting just after the most recently pinned slot, and returns the
// first unpinned one. It leaves both orderings untouched.
type ClockStrategy struct{}

// NewClockStrategy creates a new ClockStrategy
func NewClockStrategy() *ClockStrategy {
	return &ClockStrategy{}
}

func (cs *ClockStrategy) Code() StrategyCode { return StrategyClock }
func (cs *ClockStrategy) String() string     { return StrategyClock.String() }

func (cs *ClockStrategy) chooseVictim(p *pool) int {
	if idx := p.firstFree(); idx >= 0 {
		return idx
	}
	n := p.size()
	cursor, ok := p.arrivals.tail()
	if !ok {
		cursor = 0
	}
	// visits cursor+1 .. n-1, 0 .. cursor. The cursor slot itself is checked last rather than skipped, so a
	// single-slot pool can still evict.
	for step := 1; step <= n; step++ {
		idx := (cursor + step) % n
		if !p.buffers[idx].IsPinned() {
			return idx
		}
	}
	return -1
}
