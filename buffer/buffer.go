package buffer

import (
	"bufferdb/file"

	"github.com/pkg/errors"
)

// BlockStore is the block I/O the pool delegates to. *file.Manager implements it.
type BlockStore interface {
	Read(block *file.BlockId, page *file.Page) error
	Write(block *file.BlockId, page *file.Page) error
	Append(filename string) (*file.BlockId, error)
	BlockSize() int
}

// LogFlusher forces the write-ahead log up to an LSN. *log.Manager implements it.
type LogFlusher interface {
	Flush(lsn int) error
}

// PageFormatter initializes the contents of a newly allocated block.
type PageFormatter interface {
	Format(page *file.Page)
}

// PageFormatterFunc adapts a function to PageFormatter.
type PageFormatterFunc func(page *file.Page)

func (f PageFormatterFunc) Format(page *file.Page) { f(page) }

/*
Buffer is one slot of the pool. It wraps a page and records the block it currently holds, how many times it is
pinned, and, when its contents have been modified, the number of the modifying transaction and the LSN of the
log record describing the latest modification.
*/
type Buffer struct {
	store    BlockStore
	log      LogFlusher
	contents *file.Page
	block    *file.BlockId
	pins     int
	txnNum   int
	lsn      int
	index    int
}

func newBuffer(store BlockStore, log LogFlusher, index int) *Buffer {
	return &Buffer{
		store:    store,
		log:      log,
		contents: file.NewPage(store.BlockSize()),
		txnNum:   -1,
		lsn:      -1,
		index:    index,
	}
}

func (b *Buffer) Contents() *file.Page {
	return b.contents
}

// Block returns the block held by the buffer, or nil if the slot is free.
func (b *Buffer) Block() *file.BlockId {
	return b.block
}

// Index returns the slot position of the buffer in its pool.
func (b *Buffer) Index() int {
	return b.index
}

func (b *Buffer) PinCount() int {
	return b.pins
}

// IsPinned returns true if the buffer has a nonzero pin count.
func (b *Buffer) IsPinned() bool {
	return b.pins > 0
}

// setModified records txnNum as the last modifier. A negative lsn means no log record was written for the update,
// and the previous lsn is kept. The caller holds the pool lock.
func (b *Buffer) setModified(txnNum, lsn int) {
	b.txnNum = txnNum
	if lsn >= 0 {
		b.lsn = lsn
	}
}

// ModifyingTxn returns the transaction that last modified the buffer, or -1 if it is clean. Only the pinning
// transaction may rely on the answer while other goroutines use the pool.
func (b *Buffer) ModifyingTxn() int {
	return b.txnNum
}

/*
assignToBlock reads the specified block into the buffer. If the buffer was dirty, its previous contents are
first written to disk. A failed read leaves the slot free.
*/
func (b *Buffer) assignToBlock(block *file.BlockId) error {
	if err := b.flush(); err != nil {
		return err
	}
	b.block = nil
	if err := b.store.Read(block, b.contents); err != nil {
		return errors.Wrapf(err, "failed to read block %s into buffer %d", block, b.index)
	}
	blk := *block
	b.block = &blk
	b.pins = 0
	return nil
}

// assignToNew formats the page, appends a new block to filename and writes the formatted page to it.
func (b *Buffer) assignToNew(filename string, fmtr PageFormatter) error {
	if err := b.flush(); err != nil {
		return err
	}
	b.block = nil
	b.contents.Clear()
	if fmtr != nil {
		fmtr.Format(b.contents)
	}
	block, err := b.store.Append(filename)
	if err != nil {
		return errors.Wrapf(err, "failed to append a block to %s for buffer %d", filename, b.index)
	}
	if err := b.store.Write(block, b.contents); err != nil {
		return errors.Wrapf(err, "failed to write new block %s", block)
	}
	b.block = block
	b.pins = 0
	return nil
}

// flush writes the buffer to its disk block if it is dirty, forcing the log record of the change first.
func (b *Buffer) flush() error {
	if b.txnNum < 0 {
		return nil
	}
	if err := b.log.Flush(b.lsn); err != nil {
		return errors.Wrapf(err, "failed to flush log up to lsn %d for txn %d", b.lsn, b.txnNum)
	}
	if err := b.store.Write(b.block, b.contents); err != nil {
		return errors.Wrapf(err, "failed to write buffer %d holding %s", b.index, b.block)
	}
	b.txnNum = -1
	return nil
}

func (b *Buffer) pin() { b.pins++ }

func (b *Buffer) unpin() { b.pins-- }
