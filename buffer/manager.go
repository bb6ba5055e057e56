package buffer

import (
	"sync"

	"bufferdb/file"
	"bufferdb/logger"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Manager manages the pinning and unpinning of buffers to blocks, and flushes the buffers a transaction dirtied.
// It owns a fixed pool of buffers and asks its replacement strategy which one to reuse when a block that is not
// resident has to be loaded.
//
// Every operation runs under one mutex, and none of them waits: when no buffer can be reused, Pin and PinNew
// return ErrPoolExhausted immediately and the caller decides how to wait.
type Manager struct {
	pool         pool
	numAvailable int
	mu           sync.Mutex
	strategy     ReplacementStrategy
	stats        stats
	log          *logrus.Entry
}

// NewManager creates a manager with numBuffers buffers using the Naive replacement strategy.
func NewManager(store BlockStore, logFlusher LogFlusher, numBuffers int) *Manager {
	return NewManagerWithReplacementStrategy(store, logFlusher, numBuffers, NewNaiveStrategy())
}

// NewManagerWithReplacementStrategy panics if numBuffers is not positive.
func NewManagerWithReplacementStrategy(store BlockStore, logFlusher LogFlusher, numBuffers int, strategy ReplacementStrategy) *Manager {
	if numBuffers <= 0 {
		panic(errors.Errorf("invalid buffer pool capacity %d", numBuffers))
	}
	bm := &Manager{
		pool:         pool{buffers: make([]*Buffer, numBuffers)},
		numAvailable: numBuffers,
		strategy:     strategy,
		log:          logger.WithComponent("buffer"),
	}
	for i := 0; i < numBuffers; i++ {
		bm.pool.buffers[i] = newBuffer(store, logFlusher, i)
	}
	return bm
}

// Capacity returns the number of buffers in the pool.
func (m *Manager) Capacity() int {
	return m.pool.size()
}

// Available returns the number of available (i.e., unpinned) buffers.
func (m *Manager) Available() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.numAvailable
}

// Strategy returns the active replacement strategy.
func (m *Manager) Strategy() ReplacementStrategy {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.strategy
}

// SetStrategy replaces the active replacement strategy. The auxiliary orderings are kept, so switching
// strategies at runtime continues from the current history.
func (m *Manager) SetStrategy(strategy ReplacementStrategy) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.log.WithFields(logrus.Fields{"from": m.strategy.String(), "to": strategy.String()}).Debug("replacement strategy changed")
	m.strategy = strategy
}

// SetStrategyCode installs the strategy for code. An unknown code disables eviction rather than failing.
func (m *Manager) SetStrategyCode(code int) {
	strategy := NewStrategy(StrategyCode(code))
	if _, ok := strategy.(unsupportedStrategy); ok {
		m.log.WithField("code", code).Warn("unsupported replacement strategy, eviction disabled")
	}
	m.SetStrategy(strategy)
}

// Buffers returns the pool's buffers in slot order, for inspection.
func (m *Manager) Buffers() []*Buffer {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]*Buffer(nil), m.pool.buffers...)
}

// Stats returns a snapshot of the manager's counters.
func (m *Manager) Stats() Stats {
	return m.stats.snapshot()
}

// FlushAll flushes the dirty buffers modified by the specified transaction. Pin counts are left alone.
func (m *Manager) FlushAll(txnNum int) error {
	if txnNum < 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, buff := range m.pool.buffers {
		if buff.ModifyingTxn() != txnNum {
			continue
		}
		if err := buff.flush(); err != nil {
			return errors.Wrapf(err, "failed to flush buffers of txn %d", txnNum)
		}
		m.stats.flushes.Inc()
	}
	return nil
}

// SetModified marks buff dirty on behalf of txnNum after the caller has changed its contents. It takes the pool
// lock so that a concurrent FlushAll sees either the old marker or the new one. The buffer must be pinned.
func (m *Manager) SetModified(buff *Buffer, txnNum, lsn int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.owns(buff) {
		return errors.Wrap(ErrInvalidState, "buffer does not belong to this pool")
	}
	if !buff.IsPinned() {
		return errors.Wrapf(ErrInvalidState, "buffer %d holding %s is not pinned", buff.index, buff.block)
	}
	buff.setModified(txnNum, lsn)
	return nil
}

/*
Pin pins a buffer to the specified block. If a buffer already holds the block it is reused; otherwise the
replacement strategy chooses an unpinned buffer and the block is read into it. Returns ErrPoolExhausted if the
strategy finds no buffer.
*/
func (m *Manager) Pin(block *file.BlockId) (*Buffer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := m.pool.find(block)
	if idx >= 0 {
		m.stats.hits.Inc()
	} else {
		idx = m.strategy.chooseVictim(&m.pool)
		if idx < 0 {
			m.stats.exhausted.Inc()
			return nil, errors.Wrapf(ErrPoolExhausted, "cannot pin block %s with %s strategy", block, m.strategy)
		}
		buff := m.pool.buffers[idx]
		previous := buff.Block()
		if err := buff.assignToBlock(block); err != nil {
			return nil, err
		}
		m.forgetVictim(idx)
		m.stats.misses.Inc()
		m.recordEviction(idx, previous, block)
	}

	buff := m.pool.buffers[idx]
	if !buff.IsPinned() {
		m.numAvailable--
	}
	buff.pin()
	m.pool.arrivals.touch(idx)
	return buff, nil
}

// PinNew appends a new block to filename, formats it with fmtr and pins a buffer to it. Returns ErrPoolExhausted,
// without allocating the block, if the strategy finds no buffer.
func (m *Manager) PinNew(filename string, fmtr PageFormatter) (*Buffer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := m.strategy.chooseVictim(&m.pool)
	if idx < 0 {
		m.stats.exhausted.Inc()
		return nil, errors.Wrapf(ErrPoolExhausted, "cannot pin a new block of %s with %s strategy", filename, m.strategy)
	}
	buff := m.pool.buffers[idx]
	previous := buff.Block()
	if err := buff.assignToNew(filename, fmtr); err != nil {
		return nil, err
	}
	m.forgetVictim(idx)
	m.stats.newBlocks.Inc()
	m.recordEviction(idx, previous, buff.Block())

	m.numAvailable--
	buff.pin()
	return buff, nil
}

// Unpin unpins the specified buffer. If its pin count goes to zero, the buffer becomes available again.
// Unpinning a buffer that is not pinned, or that belongs to another pool, returns ErrInvalidState and changes
// nothing.
func (m *Manager) Unpin(buff *Buffer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.owns(buff) {
		return errors.Wrap(ErrInvalidState, "buffer does not belong to this pool")
	}
	if !buff.IsPinned() {
		return errors.Wrapf(ErrInvalidState, "buffer %d holding %s is not pinned", buff.index, buff.block)
	}
	buff.unpin()
	m.pool.recency.touch(buff.index)
	if !buff.IsPinned() {
		m.numAvailable++
	}
	return nil
}

func (m *Manager) owns(buff *Buffer) bool {
	return buff != nil && buff.index >= 0 && buff.index < m.pool.size() && m.pool.buffers[buff.index] == buff
}

// forgetVictim drops a repurposed slot from the ordering its strategy picked it from. It runs only after the
// slot holds its new block, so a failed write-back leaves the victim eligible for the next request.
func (m *Manager) forgetVictim(idx int) {
	if s, ok := m.strategy.(orderedStrategy); ok {
		s.order(&m.pool).remove(idx)
	}
}

func (m *Manager) recordEviction(idx int, previous, block *file.BlockId) {
	if previous == nil {
		return
	}
	m.stats.evictions.Inc()
	m.log.WithFields(logrus.Fields{
		"slot":     idx,
		"strategy": m.strategy.String(),
		"evicted":  previous.String(),
		"loaded":   block.String(),
	}).Debug("evicted block")
}
