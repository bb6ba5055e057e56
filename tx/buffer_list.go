package tx

import (
	"context"

	"bufferdb/buffer"
	"bufferdb/file"

	"github.com/pkg/errors"
)

// pinnedBuffer tracks the underlying buffer + how many times this transaction pinned it.
type pinnedBuffer struct {
	buffer   *buffer.Buffer
	refCount int
}

// BufferList manages a transaction's currently pinned buffers with reference counts. The pool sees one pin per
// block no matter how often the transaction pins it.
type BufferList struct {
	buffers map[file.BlockId]*pinnedBuffer
	waiter  *PinWaiter
}

func NewBufferList(waiter *PinWaiter) *BufferList {
	return &BufferList{
		buffers: make(map[file.BlockId]*pinnedBuffer),
		waiter:  waiter,
	}
}

// GetBuffer returns the buffer pinned to the specified block, or nil if the transaction has not pinned it.
func (bl *BufferList) GetBuffer(block *file.BlockId) *buffer.Buffer {
	pinnedBuf, ok := bl.buffers[*block]
	if !ok {
		return nil
	}
	return pinnedBuf.buffer
}

// Pin pins the block. If the transaction already pinned it, only the reference count grows.
func (bl *BufferList) Pin(ctx context.Context, block *file.BlockId) error {
	if pinnedBuf, ok := bl.buffers[*block]; ok {
		pinnedBuf.refCount++
		return nil
	}
	buff, err := bl.waiter.Pin(ctx, block)
	if err != nil {
		return err
	}
	bl.buffers[*block] = &pinnedBuffer{buffer: buff, refCount: 1}
	return nil
}

// PinNew appends a block to filename, pins it and returns its id.
func (bl *BufferList) PinNew(ctx context.Context, filename string, fmtr buffer.PageFormatter) (*file.BlockId, error) {
	buff, err := bl.waiter.PinNew(ctx, filename, fmtr)
	if err != nil {
		return nil, err
	}
	block := buff.Block()
	bl.buffers[*block] = &pinnedBuffer{buffer: buff, refCount: 1}
	return block, nil
}

// Unpin drops one reference; the pool pin is released with the last one.
func (bl *BufferList) Unpin(block *file.BlockId) error {
	pinnedBuf, ok := bl.buffers[*block]
	if !ok {
		return errors.Errorf("block %s is not pinned by this transaction", block)
	}
	pinnedBuf.refCount--
	if pinnedBuf.refCount > 0 {
		return nil
	}
	delete(bl.buffers, *block)
	return bl.waiter.Unpin(pinnedBuf.buffer)
}

// UnpinAll releases every pin held by the transaction. It keeps going after a failure and returns the first error.
func (bl *BufferList) UnpinAll() error {
	var firstErr error
	for block, pinnedBuf := range bl.buffers {
		if err := bl.waiter.Unpin(pinnedBuf.buffer); err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "failed to unpin %s", &block)
		}
	}
	bl.buffers = make(map[file.BlockId]*pinnedBuffer)
	return firstErr
}

// Len returns the number of distinct blocks pinned.
func (bl *BufferList) Len() int {
	return len(bl.buffers)
}
