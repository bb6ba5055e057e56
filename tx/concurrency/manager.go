package concurrency

import "bufferdb/file"

type lockMode int

const (
	sharedLock lockMode = iota
	exclusiveLock
)

// Manager tracks the locks held by one transaction and forwards new requests to the shared LockTable.
type Manager struct {
	lockTable *LockTable
	locks     map[file.BlockId]lockMode
}

func NewManager(lockTable *LockTable) *Manager {
	return &Manager{lockTable: lockTable, locks: make(map[file.BlockId]lockMode)}
}

// SLock obtains a shared lock on the block unless the transaction already holds a lock on it.
func (m *Manager) SLock(block *file.BlockId) error {
	if _, ok := m.locks[*block]; ok {
		return nil
	}
	if err := m.lockTable.SLock(block); err != nil {
		return err
	}
	m.locks[*block] = sharedLock
	return nil
}

// XLock obtains an exclusive lock on the block, taking a shared lock first and upgrading it.
func (m *Manager) XLock(block *file.BlockId) error {
	if mode, ok := m.locks[*block]; ok && mode == exclusiveLock {
		return nil
	}
	if err := m.SLock(block); err != nil {
		return err
	}
	if err := m.lockTable.XLock(block); err != nil {
		return err
	}
	m.locks[*block] = exclusiveLock
	return nil
}

// Release releases every lock held by the transaction.
func (m *Manager) Release() {
	for block := range m.locks {
		m.lockTable.Unlock(&block)
	}
	m.locks = make(map[file.BlockId]lockMode)
}
