package log

import (
	"sync"

	"bufferdb/file"

	"github.com/pkg/errors"
)

// Manager manages the write-ahead log file. Log records are byte slices written backwards into the current log
// page: the first int of the page is the boundary, the offset of the most recently written record. When a record
// does not fit, the page is flushed and a fresh block is appended to the log file.
// The log manager is thread-safe.
type Manager struct {
	fileManager  *file.Manager
	logFile      string
	logPage      *file.Page
	currentBlock *file.BlockId
	latestLSN    int
	lastSavedLSN int
	mu           sync.Mutex
}

func NewManager(fileManager *file.Manager, logFile string) (*Manager, error) {
	logPage := file.NewPage(fileManager.BlockSize())

	logSize, err := fileManager.Length(logFile)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get length of log file %s", logFile)
	}

	var currentBlock *file.BlockId
	if logSize == 0 {
		currentBlock, err = appendNewBlock(fileManager, logFile, logPage)
		if err != nil {
			return nil, err
		}
	} else {
		currentBlock = file.NewBlockId(logFile, logSize-1)
		if err := fileManager.Read(currentBlock, logPage); err != nil {
			return nil, errors.Wrap(err, "failed to read last log page")
		}
	}
	return &Manager{
		fileManager:  fileManager,
		logFile:      logFile,
		logPage:      logPage,
		currentBlock: currentBlock,
	}, nil
}

// Flush ensures that the log record with the given LSN, and every record before it, is on disk.
func (m *Manager) Flush(lsn int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if lsn > m.lastSavedLSN {
		return m.flush()
	}
	return nil
}

// Iterator flushes the log and returns an iterator positioned at the most recent record.
func (m *Manager) Iterator() (*Iterator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.flush(); err != nil {
		return nil, err
	}
	return NewIterator(m.fileManager, m.currentBlock)
}

// Append adds a record to the log and returns its LSN. The record is not guaranteed to be on disk until Flush is
// called with an LSN at least as large.
func (m *Manager) Append(logRecord []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	bytesNeeded := len(logRecord) + file.IntSize
	if bytesNeeded+file.IntSize > m.fileManager.BlockSize() {
		return -1, errors.Errorf("log record of %d bytes does not fit in a block", len(logRecord))
	}

	boundary := m.logPage.GetInt(0)
	if boundary-bytesNeeded < file.IntSize {
		if err := m.flush(); err != nil {
			return -1, err
		}
		block, err := appendNewBlock(m.fileManager, m.logFile, m.logPage)
		if err != nil {
			return -1, err
		}
		m.currentBlock = block
		boundary = m.logPage.GetInt(0)
	}

	recordPosition := boundary - bytesNeeded
	m.logPage.SetBytes(recordPosition, logRecord)
	m.logPage.SetInt(0, recordPosition)

	m.latestLSN++
	return m.latestLSN, nil
}

// LatestLSN returns the LSN of the most recently appended record.
func (m *Manager) LatestLSN() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.latestLSN
}

func appendNewBlock(fileManager *file.Manager, logFile string, logPage *file.Page) (*file.BlockId, error) {
	block, err := fileManager.Append(logFile)
	if err != nil {
		return nil, errors.Wrap(err, "failed to append log block")
	}
	logPage.Clear()
	logPage.SetInt(0, fileManager.BlockSize())

	if err := fileManager.Write(block, logPage); err != nil {
		return nil, errors.Wrap(err, "failed to write new log block")
	}
	return block, nil
}

// flush writes the log page to disk. The caller must hold m.mu.
func (m *Manager) flush() error {
	if err := m.fileManager.Write(m.currentBlock, m.logPage); err != nil {
		return errors.Wrap(err, "failed to write log page")
	}
	m.lastSavedLSN = m.latestLSN
	return nil
}
