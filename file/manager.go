package file

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"bufferdb/logger"

	"github.com/pkg/errors"
)

// Manager is the File Manager used by the database. It reads, writes and appends whole blocks of a fixed size.
// The Manager is thread-safe.
type Manager struct {
	dbDirectory   string
	blockSize     int
	isNew         bool
	mu            sync.Mutex
	openFiles     map[string]*os.File
	blocksRead    int
	blocksWritten int
}

func NewManager(dbDirectory string, blockSize int) (*Manager, error) {
	if blockSize <= 0 {
		return nil, errors.Errorf("invalid block size %d", blockSize)
	}
	isNew := false
	if _, err := os.Stat(dbDirectory); os.IsNotExist(err) {
		isNew = true
		if err := os.MkdirAll(dbDirectory, 0755); err != nil {
			return nil, errors.Wrapf(err, "cannot create directory %s", dbDirectory)
		}
	} else if err != nil {
		return nil, errors.Wrapf(err, "cannot access directory %s", dbDirectory)
	}

	entries, err := os.ReadDir(dbDirectory)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read directory %s", dbDirectory)
	}

	// temp files belong to a previous run and are never reused
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), "temp") {
			continue
		}
		tempFilePath := filepath.Join(dbDirectory, entry.Name())
		if err := os.Remove(tempFilePath); err != nil {
			return nil, errors.Wrapf(err, "cannot remove file %s", tempFilePath)
		}
		logger.WithComponent("file").WithField("path", tempFilePath).Debug("removed stale temp file")
	}

	return &Manager{
		dbDirectory: dbDirectory,
		blockSize:   blockSize,
		isNew:       isNew,
		openFiles:   make(map[string]*os.File),
	}, nil
}

func (m *Manager) Read(block *BlockId, page *Page) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, err := m.getFile(block.Filename())
	if err != nil {
		return errors.Wrapf(err, "cannot read block %s", block)
	}
	offset := int64(block.Number()) * int64(m.blockSize)

	buf := page.Contents()
	n, err := f.ReadAt(buf, offset)
	switch {
	case err == nil && n == len(buf):
		m.blocksRead++
		return nil
	case errors.Is(err, io.EOF) && n == 0:
		// reading past the end of the file yields an empty block
		clear(buf)
		m.blocksRead++
		return nil
	case errors.Is(err, io.EOF):
		return errors.Errorf("partial read of block %s: expected %d bytes, got %d", block, len(buf), n)
	case err != nil:
		return errors.Wrapf(err, "cannot read block %s", block)
	}
	return errors.Errorf("short read of block %s: expected %d bytes, got %d", block, len(buf), n)
}

func (m *Manager) Write(block *BlockId, page *Page) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, err := m.getFile(block.Filename())
	if err != nil {
		return errors.Wrapf(err, "cannot write block %s", block)
	}
	offset := int64(block.Number()) * int64(m.blockSize)
	buf := page.Contents()
	n, err := f.WriteAt(buf, offset)
	if err != nil {
		return errors.Wrapf(err, "short write of block %s: wrote %d of %d bytes", block, n, len(buf))
	}
	if err := f.Sync(); err != nil {
		return errors.Wrapf(err, "cannot sync file %s", block.Filename())
	}
	m.blocksWritten++
	return nil
}

// Append appends a new zeroed block to the file and returns its BlockId.
func (m *Manager) Append(filename string) (*BlockId, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	newBlockNumber, err := m.length(filename)
	if err != nil {
		return nil, err
	}
	block := NewBlockId(filename, newBlockNumber)
	f, err := m.getFile(filename)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot append block %s", block)
	}

	b := make([]byte, m.blockSize)
	if _, err := f.WriteAt(b, int64(newBlockNumber)*int64(m.blockSize)); err != nil {
		return nil, errors.Wrapf(err, "cannot append block %s", block)
	}
	if err := f.Sync(); err != nil {
		return nil, errors.Wrapf(err, "cannot sync file %s", filename)
	}
	m.blocksWritten++
	return block, nil
}

func (m *Manager) getFile(filename string) (*os.File, error) {
	if f, ok := m.openFiles[filename]; ok {
		return f, nil
	}

	dbTable := filepath.Join(m.dbDirectory, filename)
	f, err := os.OpenFile(dbTable, os.O_RDWR|os.O_CREATE, 0666)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot open file %s", dbTable)
	}
	m.openFiles[filename] = f
	return f, nil
}

// Length returns the number of blocks in the specified file.
func (m *Manager) Length(filename string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.length(filename)
}

func (m *Manager) length(filename string) (int, error) {
	f, err := m.getFile(filename)
	if err != nil {
		return 0, errors.Wrapf(err, "cannot access %s", filename)
	}
	fileInfo, err := f.Stat()
	if err != nil {
		return 0, errors.Wrapf(err, "cannot stat %s", filename)
	}
	return int(fileInfo.Size() / int64(m.blockSize)), nil
}

// Close closes every open file.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for name, f := range m.openFiles {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "cannot close %s", name)
		}
		delete(m.openFiles, name)
	}
	return firstErr
}

// IsNew returns true if the database directory is newly created.
func (m *Manager) IsNew() bool {
	return m.isNew
}

// BlockSize returns the block size used by the Manager.
func (m *Manager) BlockSize() int {
	return m.blockSize
}

func (m *Manager) BlocksRead() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.blocksRead
}

func (m *Manager) BlocksWritten() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.blocksWritten
}
