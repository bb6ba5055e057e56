package tx

import (
	"context"
	"math"

	"bufferdb/buffer"
	"bufferdb/file"
	"bufferdb/log"
	"bufferdb/logger"
	"bufferdb/tx/concurrency"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"
)

// EndOfFile is the block number of the marker locked by Size and Append to keep file growth serializable.
const EndOfFile = -1

var nextTxNum atomic.Int64

func nextTxNumber() int {
	return int(nextTxNum.Inc())
}

// Transaction gives a client locked, logged access to blocks through the buffer pool. A transaction is used by a
// single goroutine.
type Transaction struct {
	concurrencyManager *concurrency.Manager
	waiter             *PinWaiter
	fileManager        *file.Manager
	logManager         *log.Manager
	txNum              int
	myBuffers          *BufferList
	done               bool
	log                *logrus.Entry
}

// NewTransaction starts a transaction and writes its start record to the log.
func NewTransaction(fileManager *file.Manager, logManager *log.Manager, waiter *PinWaiter, lockTable *concurrency.LockTable) (*Transaction, error) {
	txNum := nextTxNumber()
	tx := &Transaction{
		concurrencyManager: concurrency.NewManager(lockTable),
		waiter:             waiter,
		fileManager:        fileManager,
		logManager:         logManager,
		txNum:              txNum,
		myBuffers:          NewBufferList(waiter),
		log:                logger.WithComponent("tx").WithField("txnum", txNum),
	}
	if _, err := (LogRecord{Op: Start, TxNum: txNum}).AppendTo(logManager); err != nil {
		return nil, errors.Wrapf(err, "failed to log start of txn %d", txNum)
	}
	return tx, nil
}

// Commit flushes the buffers the transaction modified, writes and flushes a commit record, then releases all
// locks and pins.
func (tx *Transaction) Commit() error {
	if err := tx.checkActive(); err != nil {
		return err
	}
	if err := tx.waiter.Manager().FlushAll(tx.txNum); err != nil {
		return err
	}
	lsn, err := (LogRecord{Op: Commit, TxNum: tx.txNum}).AppendTo(tx.logManager)
	if err != nil {
		return errors.Wrapf(err, "failed to log commit of txn %d", tx.txNum)
	}
	if err := tx.logManager.Flush(lsn); err != nil {
		return err
	}
	tx.log.Debug("committed")
	return tx.finish()
}

// Release ends the transaction without flushing or logging. It is meant for transactions that only read; changes
// made by a released transaction stay in the pool and are not undone.
func (tx *Transaction) Release() error {
	if err := tx.checkActive(); err != nil {
		return err
	}
	tx.log.Debug("released")
	return tx.finish()
}

func (tx *Transaction) finish() error {
	tx.done = true
	tx.concurrencyManager.Release()
	return tx.myBuffers.UnpinAll()
}

func (tx *Transaction) checkActive() error {
	if tx.done {
		return errors.Errorf("txn %d already finished", tx.txNum)
	}
	return nil
}

// Pin pins the specified block, waiting for a free buffer if the pool is exhausted.
func (tx *Transaction) Pin(block *file.BlockId) error {
	return tx.PinContext(context.Background(), block)
}

// PinContext is Pin with a caller-supplied context bounding the wait.
func (tx *Transaction) PinContext(ctx context.Context, block *file.BlockId) error {
	if err := tx.checkActive(); err != nil {
		return err
	}
	return tx.myBuffers.Pin(ctx, block)
}

// Unpin unpins the specified block.
func (tx *Transaction) Unpin(block *file.BlockId) error {
	return tx.myBuffers.Unpin(block)
}

// GetInt returns the integer stored at offset of the block, under a shared lock.
func (tx *Transaction) GetInt(block *file.BlockId, offset int) (int, error) {
	buff, err := tx.sharedBuffer(block)
	if err != nil {
		return math.MinInt, err
	}
	return buff.Contents().GetInt(offset), nil
}

// GetString returns the string stored at offset of the block, under a shared lock.
func (tx *Transaction) GetString(block *file.BlockId, offset int) (string, error) {
	buff, err := tx.sharedBuffer(block)
	if err != nil {
		return "", err
	}
	return buff.Contents().GetString(offset)
}

/*
SetInt stores an integer at offset of the block. It takes an exclusive lock, logs the old value when logIt is set
and marks the buffer modified with the record's LSN, so the record reaches disk before the page does.
*/
func (tx *Transaction) SetInt(block *file.BlockId, offset int, val int, logIt bool) error {
	buff, err := tx.exclusiveBuffer(block)
	if err != nil {
		return err
	}
	page := buff.Contents()
	lsn := -1
	if logIt {
		record := LogRecord{Op: SetInt, TxNum: tx.txNum, Block: *block, Offset: offset, IntVal: page.GetInt(offset)}
		if lsn, err = record.AppendTo(tx.logManager); err != nil {
			return err
		}
	}
	page.SetInt(offset, val)
	return tx.waiter.Manager().SetModified(buff, tx.txNum, lsn)
}

// SetString is SetInt for strings.
func (tx *Transaction) SetString(block *file.BlockId, offset int, val string, logIt bool) error {
	buff, err := tx.exclusiveBuffer(block)
	if err != nil {
		return err
	}
	page := buff.Contents()
	lsn := -1
	if logIt {
		old, err := page.GetString(offset)
		if err != nil {
			return err
		}
		record := LogRecord{Op: SetString, TxNum: tx.txNum, Block: *block, Offset: offset, StringVal: old}
		if lsn, err = record.AppendTo(tx.logManager); err != nil {
			return err
		}
	}
	if err := page.SetString(offset, val); err != nil {
		return err
	}
	return tx.waiter.Manager().SetModified(buff, tx.txNum, lsn)
}

func (tx *Transaction) sharedBuffer(block *file.BlockId) (*buffer.Buffer, error) {
	if err := tx.concurrencyManager.SLock(block); err != nil {
		return nil, err
	}
	return tx.pinnedBuffer(block)
}

func (tx *Transaction) exclusiveBuffer(block *file.BlockId) (*buffer.Buffer, error) {
	if err := tx.concurrencyManager.XLock(block); err != nil {
		return nil, err
	}
	return tx.pinnedBuffer(block)
}

func (tx *Transaction) pinnedBuffer(block *file.BlockId) (*buffer.Buffer, error) {
	buff := tx.myBuffers.GetBuffer(block)
	if buff == nil {
		return nil, errors.Errorf("block %s is not pinned by txn %d", block, tx.txNum)
	}
	return buff, nil
}

// Size returns the number of blocks in the file. It takes a shared lock on the end-of-file marker so no other
// transaction can append while the blocks are counted.
func (tx *Transaction) Size(filename string) (int, error) {
	if err := tx.concurrencyManager.SLock(file.NewBlockId(filename, EndOfFile)); err != nil {
		return -1, err
	}
	return tx.fileManager.Length(filename)
}

// Append adds a zeroed block to the end of the file under an exclusive lock on the end-of-file marker and returns
// it pinned by the transaction.
func (tx *Transaction) Append(filename string) (*file.BlockId, error) {
	if err := tx.checkActive(); err != nil {
		return nil, err
	}
	if err := tx.concurrencyManager.XLock(file.NewBlockId(filename, EndOfFile)); err != nil {
		return nil, err
	}
	return tx.myBuffers.PinNew(context.Background(), filename, nil)
}

func (tx *Transaction) BlockSize() int {
	return tx.fileManager.BlockSize()
}

// AvailableBuffers returns the number of unpinned buffers in the pool.
func (tx *Transaction) AvailableBuffers() int {
	return tx.waiter.Manager().Available()
}

func (tx *Transaction) TxNum() int {
	return tx.txNum
}
