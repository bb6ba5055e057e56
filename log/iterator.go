package log

import (
	"bufferdb/file"

	"github.com/pkg/errors"
)

// Iterator moves through the records of the log file in reverse order, newest first.
type Iterator struct {
	fileManager     *file.Manager
	block           *file.BlockId
	page            *file.Page
	currentPosition int
}

// NewIterator creates an iterator for the records in the log file, positioned after the last log record.
func NewIterator(fileManager *file.Manager, block *file.BlockId) (*Iterator, error) {
	it := &Iterator{
		fileManager: fileManager,
		page:        file.NewPage(fileManager.BlockSize()),
	}
	if err := it.moveToBlock(block); err != nil {
		return nil, err
	}
	return it, nil
}

// HasNext reports whether an earlier record exists.
func (it *Iterator) HasNext() bool {
	return it.currentPosition < it.fileManager.BlockSize() || it.block.Number() > 0
}

// Next returns the next earliest log record, moving to the previous block when the current one is exhausted.
func (it *Iterator) Next() ([]byte, error) {
	if it.currentPosition == it.fileManager.BlockSize() {
		if it.block.Number() == 0 {
			return nil, errors.New("no more log records")
		}
		if err := it.moveToBlock(file.NewBlockId(it.block.Filename(), it.block.Number()-1)); err != nil {
			return nil, err
		}
	}
	record := it.page.GetBytes(it.currentPosition)
	it.currentPosition += file.IntSize + len(record)
	return record, nil
}

func (it *Iterator) moveToBlock(block *file.BlockId) error {
	if err := it.fileManager.Read(block, it.page); err != nil {
		return errors.Wrapf(err, "failed to read log block %s", block)
	}
	it.block = block
	it.currentPosition = it.page.GetInt(0)
	return nil
}
