package buffer

import "go.uber.org/atomic"

// Stats is a point-in-time snapshot of buffer manager activity.
type Stats struct {
	Hits      int64 // pins satisfied by a resident block
	Misses    int64 // pins that loaded a block into a victim slot
	Evictions int64 // victims that held a block before being repurposed
	NewBlocks int64 // successful PinNew calls
	Exhausted int64 // pins and PinNews rejected with ErrPoolExhausted
	Flushes   int64 // buffers persisted by FlushAll
}

// HitRatio returns hits / (hits + misses), or 0 before the first pin.
func (s Stats) HitRatio() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// stats counters are updated under the manager lock but read without it.
type stats struct {
	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
	newBlocks atomic.Int64
	exhausted atomic.Int64
	flushes   atomic.Int64
}

func (s *stats) snapshot() Stats {
	return Stats{
		Hits:      s.hits.Load(),
		Misses:    s.misses.Load(),
		Evictions: s.evictions.Load(),
		NewBlocks: s.newBlocks.Load(),
		Exhausted: s.exhausted.Load(),
		Flushes:   s.flushes.Load(),
	}
}
