package buffer

// NaiveStrategy selects the first unpinned buffer in slot order.
type NaiveStrategy struct{}

// NewNaiveStrategy creates a new NaiveStrategy
func NewNaiveStrategy() *NaiveStrategy {
	return &NaiveStrategy{}
}

func (ns *NaiveStrategy) Code() StrategyCode { return StrategyNaive }
func (ns *NaiveStrategy) String() string     { return StrategyNaive.String() }

func (ns *NaiveStrategy) chooseVictim(p *pool) int {
	for i, buff := range p.buffers {
		if !buff.IsPinned() {
			return i
		}
	}
	return -1
}
