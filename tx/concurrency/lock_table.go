package concurrency

import (
	"context"
	"sync"
	"time"

	"bufferdb/file"

	"github.com/pkg/errors"
)

// DefaultMaxWait is how long a lock request waits before giving up.
const DefaultMaxWait = 10 * time.Second

// ErrLockAbort is returned when a lock cannot be granted before the wait deadline. The requesting transaction
// should abort and retry.
var ErrLockAbort = errors.New("lock abort")

// LockTable grants shared and exclusive locks on blocks.
// A conflicting request waits on a single wait list shared by all blocks. When the last lock on a block is
// released, every waiter wakes up and re-checks its own block; those still blocked wait again.
type LockTable struct {
	locks   map[file.BlockId]int // >0 shared holders, -1 exclusive
	maxWait time.Duration
	mu      sync.Mutex
	cond    *sync.Cond
}

func NewLockTable(maxWait time.Duration) *LockTable {
	if maxWait <= 0 {
		maxWait = DefaultMaxWait
	}
	lt := &LockTable{locks: make(map[file.BlockId]int), maxWait: maxWait}
	lt.cond = sync.NewCond(&lt.mu)
	return lt
}

// SLock grants a shared lock on the block, waiting while another transaction holds an exclusive lock.
func (lt *LockTable) SLock(block *file.BlockId) error {
	return lt.acquire(block, "shared", func() bool {
		if lt.hasXLock(block) {
			return false
		}
		lt.locks[*block]++
		return true
	})
}

// XLock grants an exclusive lock on the block. The caller must already hold a shared lock on it, so the request
// waits while any other transaction holds a shared lock too.
func (lt *LockTable) XLock(block *file.BlockId) error {
	return lt.acquire(block, "exclusive", func() bool {
		if lt.hasOtherSLocks(block) {
			return false
		}
		lt.locks[*block] = -1
		return true
	})
}

func (lt *LockTable) acquire(block *file.BlockId, kind string, grant func() bool) error {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), lt.maxWait)
	defer cancel()

	// Broadcast under the lock so the wakeup cannot slip in between the grant check and Wait.
	stop := context.AfterFunc(ctx, func() {
		lt.cond.L.Lock()
		lt.cond.Broadcast()
		lt.cond.L.Unlock()
	})
	defer stop()

	for {
		if grant() {
			return nil
		}
		if ctx.Err() != nil {
			return errors.Wrapf(ErrLockAbort, "could not acquire %s lock on block %s within %v", kind, block, lt.maxWait)
		}
		lt.cond.Wait()
	}
}

// Unlock releases one lock on the block. Waiters are woken when the last lock goes away.
func (lt *LockTable) Unlock(block *file.BlockId) {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	val := lt.locks[*block]
	if val > 1 {
		lt.locks[*block] = val - 1
		return
	}
	delete(lt.locks, *block)
	lt.cond.Broadcast()
}

func (lt *LockTable) hasXLock(block *file.BlockId) bool {
	return lt.locks[*block] < 0
}

func (lt *LockTable) hasOtherSLocks(block *file.BlockId) bool {
	return lt.locks[*block] > 1
}
