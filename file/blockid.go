package file

import "fmt"

// BlockId identifies a disk block by its filename and block number. It is a value type: two ids are equal when
// both fields are equal, so it can be used directly as a map key.
type BlockId struct {
	File        string
	BlockNumber int
}

func NewBlockId(filename string, blockNumber int) *BlockId {
	return &BlockId{
		File:        filename,
		BlockNumber: blockNumber,
	}
}

func (b *BlockId) Equals(other *BlockId) bool {
	if b == nil || other == nil {
		return b == other
	}
	return *b == *other
}

func (b *BlockId) Filename() string {
	return b.File
}

func (b *BlockId) Number() int {
	return b.BlockNumber
}

func (b *BlockId) String() string {
	if b == nil {
		return "[none]"
	}
	return fmt.Sprintf("[file %s, block %d]", b.File, b.BlockNumber)
}
