package buffer

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// StrategyCode identifies a replacement strategy in configuration.
type StrategyCode int

const (
	StrategyNaive StrategyCode = iota
	StrategyFIFO
	StrategyLRU
	StrategyClock
)

var strategyNames = map[StrategyCode]string{
	StrategyNaive: "naive",
	StrategyFIFO:  "fifo",
	StrategyLRU:   "lru",
	StrategyClock: "clock",
}

func (c StrategyCode) String() string {
	if name, ok := strategyNames[c]; ok {
		return name
	}
	return "unsupported(" + strconv.Itoa(int(c)) + ")"
}

// StrategyCodes lists the supported codes in ascending order.
func StrategyCodes() []StrategyCode {
	return []StrategyCode{StrategyNaive, StrategyFIFO, StrategyLRU, StrategyClock}
}

// ParseStrategy accepts a strategy name ("naive", "fifo", "lru", "clock", any case) or its numeric code.
func ParseStrategy(s string) (StrategyCode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for code, name := range strategyNames {
		if name == s {
			return code, nil
		}
	}
	if n, err := strconv.Atoi(s); err == nil {
		if _, ok := strategyNames[StrategyCode(n)]; ok {
			return StrategyCode(n), nil
		}
	}
	return -1, errors.Wrapf(ErrUnsupportedStrategy, "%q", s)
}

// ReplacementStrategy picks the slot to repurpose when a block that is not resident must be loaded.
// Implementations may reorder the pool's auxiliary lists but never change a buffer's block or pin count.
type ReplacementStrategy interface {
	Code() StrategyCode
	String() string
	// chooseVictim returns the index of an unpinned slot, or -1 when the strategy finds none. It does not modify
	// the pool.
	chooseVictim(p *pool) int
}

// orderedStrategy is implemented by strategies that pick victims from the head of one ordering. A slot leaves
// that ordering once it has been repurposed.
type orderedStrategy interface {
	order(p *pool) *orderList
}

// NewStrategy returns the strategy for code. An unrecognized code yields a strategy that never selects a
// victim, so a misconfigured pool reports exhaustion instead of evicting arbitrarily.
func NewStrategy(code StrategyCode) ReplacementStrategy {
	switch code {
	case StrategyNaive:
		return NewNaiveStrategy()
	case StrategyFIFO:
		return NewFIFOStrategy()
	case StrategyLRU:
		return NewLRUStrategy()
	case StrategyClock:
		return NewClockStrategy()
	default:
		return unsupportedStrategy{code: code}
	}
}

type unsupportedStrategy struct {
	code StrategyCode
}

func (s unsupportedStrategy) Code() StrategyCode     { return s.code }
func (s unsupportedStrategy) String() string         { return s.code.String() }
func (s unsupportedStrategy) chooseVictim(*pool) int { return -1 }
