package buffer

import (
	"sync"
	"testing"

	"bufferdb/file"
	"bufferdb/log"

	"github.com/stretchr/testify/require"
)

const testBlockSize = 400

type testEnv struct {
	fm *file.Manager
	lm *log.Manager
	bm *Manager
}

// setupTest creates a manager over real file and log managers in a temp directory.
func setupTest(t *testing.T, numBuffers int, strategy ReplacementStrategy) *testEnv {
	t.Helper()
	fm, err := file.NewManager(t.TempDir(), testBlockSize)
	require.NoError(t, err)

	lm, err := log.NewManager(fm, "testlog")
	require.NoError(t, err)

	return &testEnv{
		fm: fm,
		lm: lm,
		bm: NewManagerWithReplacementStrategy(fm, lm, numBuffers, strategy),
	}
}

func createBlock(fileName string, blockNum int) *file.BlockId {
	return file.NewBlockId(fileName, blockNum)
}

// memStore is an in-memory BlockStore that records writes and can be told to fail.
type memStore struct {
	mu        sync.Mutex
	blocks    map[file.BlockId][]byte
	lengths   map[string]int
	writes    []file.BlockId
	readErr   error
	writeErr  error
	appendErr error
}

func newMemStore() *memStore {
	return &memStore{
		blocks:  make(map[file.BlockId][]byte),
		lengths: make(map[string]int),
	}
}

func (s *memStore) BlockSize() int { return testBlockSize }

func (s *memStore) Read(block *file.BlockId, page *file.Page) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return s.readErr
	}
	buf := page.Contents()
	clear(buf)
	copy(buf, s.blocks[*block])
	return nil
}

func (s *memStore) Write(block *file.BlockId, page *file.Page) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	s.blocks[*block] = append([]byte(nil), page.Contents()...)
	s.writes = append(s.writes, *block)
	if block.Number() >= s.lengths[block.Filename()] {
		s.lengths[block.Filename()] = block.Number() + 1
	}
	return nil
}

func (s *memStore) Append(filename string) (*file.BlockId, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return nil, s.appendErr
	}
	block := file.NewBlockId(filename, s.lengths[filename])
	s.lengths[filename]++
	s.blocks[*block] = make([]byte, testBlockSize)
	return block, nil
}

func (s *memStore) written() []file.BlockId {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]file.BlockId(nil), s.writes...)
}

// logRecorder is a LogFlusher that remembers every forced lsn.
type logRecorder struct {
	mu      sync.Mutex
	flushed []int
	err     error
}

func (l *logRecorder) Flush(lsn int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	l.flushed = append(l.flushed, lsn)
	return nil
}

func newMemManager(numBuffers int, strategy ReplacementStrategy) (*Manager, *memStore, *logRecorder) {
	store := newMemStore()
	lr := &logRecorder{}
	return NewManagerWithReplacementStrategy(store, lr, numBuffers, strategy), store, lr
}

// poolSnapshot captures everything a failed pin must leave untouched.
type poolSnapshot struct {
	blocks    []*file.BlockId
	pins      []int
	arrivals  []int
	recency   []int
	available int
}

func snapshotOf(m *Manager) poolSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := poolSnapshot{
		arrivals:  m.pool.arrivals.snapshot(),
		recency:   m.pool.recency.snapshot(),
		available: m.numAvailable,
	}
	for _, b := range m.pool.buffers {
		var blk *file.BlockId
		if b.block != nil {
			c := *b.block
			blk = &c
		}
		s.blocks = append(s.blocks, blk)
		s.pins = append(s.pins, b.pins)
	}
	return s
}

func unpinnedCount(m *Manager) int {
	n := 0
	for _, b := range m.Buffers() {
		if b.PinCount() == 0 {
			n++
		}
	}
	return n
}

func allStrategies() []ReplacementStrategy {
	return []ReplacementStrategy{NewNaiveStrategy(), NewFIFOStrategy(), NewLRUStrategy(), NewClockStrategy()}
}
