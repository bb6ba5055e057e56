package buffer

import "bufferdb/file"

// pool is the state every replacement strategy selects from: the fixed slot array and the two auxiliary
// orderings. It is only touched with Manager.mu held.
type pool struct {
	buffers []*Buffer
	// arrivals holds slot indices in the order they were last pinned through Pin. FIFO evicts from its head;
	// Clock uses its tail as the rotation cursor.
	arrivals orderList
	// recency holds slot indices in the order they were last unpinned. LRU evicts from its head.
	recency orderList
}

func (p *pool) size() int {
	return len(p.buffers)
}

// find returns the index of the slot holding block, or -1.
func (p *pool) find(block *file.BlockId) int {
	for i, buff := range p.buffers {
		if b := buff.Block(); b != nil && b.Equals(block) {
			return i
		}
	}
	return -1
}

// firstFree returns the lowest index of an unpinned slot that holds no block, or -1.
func (p *pool) firstFree() int {
	for i, buff := range p.buffers {
		if buff.Block() == nil && !buff.IsPinned() {
			return i
		}
	}
	return -1
}

// orderList is an ordered set of slot indices. Capacities are small, so removal is a linear scan.
type orderList struct {
	items []int
}

// touch moves idx to the tail, inserting it if absent.
func (l *orderList) touch(idx int) {
	l.remove(idx)
	l.items = append(l.items, idx)
}

func (l *orderList) remove(idx int) bool {
	for i, v := range l.items {
		if v == idx {
			l.items = append(l.items[:i], l.items[i+1:]...)
			return true
		}
	}
	return false
}

func (l *orderList) head() (int, bool) {
	if len(l.items) == 0 {
		return -1, false
	}
	return l.items[0], true
}

func (l *orderList) tail() (int, bool) {
	if len(l.items) == 0 {
		return -1, false
	}
	return l.items[len(l.items)-1], true
}

func (l *orderList) snapshot() []int {
	return append([]int(nil), l.items...)
}
