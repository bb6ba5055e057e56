package buffer

// LRUStrategy evicts the slot that was unpinned longest ago. Like FIFOStrategy it looks at the head of its
// ordering only, so a re-pinned head blocks eviction.
type LRUStrategy struct{}

// NewLRUStrategy creates a new LRUStrategy
func NewLRUStrategy() *LRUStrategy {
	return &LRUStrategy{}
}

func (ls *LRUStrategy) Code() StrategyCode { return StrategyLRU }
func (ls *LRUStrategy) String() string     { return StrategyLRU.String() }

func (ls *LRUStrategy) chooseVictim(p *pool) int {
	if idx := p.firstFree(); idx >= 0 {
		return idx
	}
	return unpinnedHead(p, ls.order(p))
}

func (ls *LRUStrategy) order(p *pool) *orderList { return &p.recency }
