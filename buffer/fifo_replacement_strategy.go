package buffer

// FIFOStrategy evicts the slot that was pinned longest ago. Only the head of the arrival order is considered:
// if that slot is pinned again, no victim is reported even when later slots are unpinned.
type FIFOStrategy struct{}

// NewFIFOStrategy creates a new FIFOStrategy
func NewFIFOStrategy() *FIFOStrategy {
	return &FIFOStrategy{}
}

func (fs *FIFOStrategy) Code() StrategyCode { return StrategyFIFO }
func (fs *FIFOStrategy) String() string     { return StrategyFIFO.String() }

func (fs *FIFOStrategy) chooseVictim(p *pool) int {
	if idx := p.firstFree(); idx >= 0 {
		return idx
	}
	return unpinnedHead(p, fs.order(p))
}

func (fs *FIFOStrategy) order(p *pool) *orderList { return &p.arrivals }

// unpinnedHead returns the head of list if that slot is unpinned. The slot stays in the list until the manager
// has repurposed it.
func unpinnedHead(p *pool, list *orderList) int {
	idx, ok := list.head()
	if !ok || p.buffers[idx].IsPinned() {
		return -1
	}
	return idx
}
