package tx

import (
	"context"
	"sync"
	"time"

	"bufferdb/buffer"
	"bufferdb/file"
	"bufferdb/logger"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// DefaultMaxPinWait is how long a pin request waits for a buffer before giving up.
const DefaultMaxPinWait = 10 * time.Second

// ErrBufferAbort is returned when no buffer became available before the wait deadline. The requesting
// transaction should release what it holds and retry.
var ErrBufferAbort = errors.New("buffer abort")

// PinWaiter puts a wait loop in front of a buffer.Manager, which itself never blocks. A request that finds the
// pool exhausted sleeps until some unpin made through the waiter frees a buffer, then tries again.
//
// Unpins must go through the waiter for sleepers to be woken promptly; an unpin made directly on the manager is
// only noticed when the deadline fires.
type PinWaiter struct {
	bm      *buffer.Manager
	maxWait time.Duration
	mu      sync.Mutex
	cond    *sync.Cond
	log     *logrus.Entry
}

func NewPinWaiter(bm *buffer.Manager, maxWait time.Duration) *PinWaiter {
	if maxWait <= 0 {
		maxWait = DefaultMaxPinWait
	}
	w := &PinWaiter{bm: bm, maxWait: maxWait, log: logger.WithComponent("tx")}
	w.cond = sync.NewCond(&w.mu)
	return w
}

// Manager returns the wrapped buffer manager.
func (w *PinWaiter) Manager() *buffer.Manager {
	return w.bm
}

// Pin pins a buffer to the block, waiting while the pool is exhausted.
func (w *PinWaiter) Pin(ctx context.Context, block *file.BlockId) (*buffer.Buffer, error) {
	return w.wait(ctx, block.String(), func() (*buffer.Buffer, error) {
		return w.bm.Pin(block)
	})
}

// PinNew appends a block to filename and pins a buffer to it, waiting while the pool is exhausted.
func (w *PinWaiter) PinNew(ctx context.Context, filename string, fmtr buffer.PageFormatter) (*buffer.Buffer, error) {
	return w.wait(ctx, "new block of "+filename, func() (*buffer.Buffer, error) {
		return w.bm.PinNew(filename, fmtr)
	})
}

// Unpin unpins the buffer and wakes every waiting request.
func (w *PinWaiter) Unpin(buff *buffer.Buffer) error {
	if err := w.bm.Unpin(buff); err != nil {
		return err
	}
	w.mu.Lock()
	w.cond.Broadcast()
	w.mu.Unlock()
	return nil
}

func (w *PinWaiter) wait(ctx context.Context, what string, try func() (*buffer.Buffer, error)) (*buffer.Buffer, error) {
	ctx, cancel := context.WithTimeout(ctx, w.maxWait)
	defer cancel()

	w.mu.Lock()
	defer w.mu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		w.cond.L.Lock()
		w.cond.Broadcast()
		w.cond.L.Unlock()
	})
	defer stop()

	waited := false
	for {
		buff, err := try()
		if err == nil {
			if waited {
				w.log.WithField("block", what).Debug("pin satisfied after waiting")
			}
			return buff, nil
		}
		if !buffer.IsPoolExhausted(err) {
			return nil, err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			if errors.Is(ctxErr, context.DeadlineExceeded) {
				w.log.WithField("block", what).Warn("no buffer became available")
				return nil, errors.Wrapf(ErrBufferAbort, "%v", err)
			}
			return nil, ctxErr
		}
		waited = true
		w.cond.Wait()
	}
}
