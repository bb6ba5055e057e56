package tx

import (
	"fmt"

	"bufferdb/file"
	"bufferdb/log"

	"github.com/pkg/errors"
)

// LogRecordType is the type of log record.
type LogRecordType int

const (
	Checkpoint LogRecordType = iota
	Start
	Commit
	SetInt
	SetString
)

func (t LogRecordType) String() string {
	switch t {
	case Checkpoint:
		return "CHECKPOINT"
	case Start:
		return "START"
	case Commit:
		return "COMMIT"
	case SetInt:
		return "SETINT"
	case SetString:
		return "SETSTRING"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(t))
	}
}

// LogRecord is one entry of the write-ahead log. Update records carry the value the location held before the
// write, so TxNum, Block, Offset and either IntVal or StringVal are set for SetInt and SetString only.
//
// Layout: op, then txnum (except Checkpoint), then filename, block number, offset and value for updates.
type LogRecord struct {
	Op        LogRecordType
	TxNum     int
	Block     file.BlockId
	Offset    int
	IntVal    int
	StringVal string
}

// Encode serializes the record in its log layout.
func (r LogRecord) Encode() ([]byte, error) {
	size := file.IntSize
	if r.Op != Checkpoint {
		size += file.IntSize
	}
	switch r.Op {
	case Checkpoint, Start, Commit:
	case SetInt:
		size += stringSize(r.Block.File) + 3*file.IntSize
	case SetString:
		size += stringSize(r.Block.File) + 2*file.IntSize + stringSize(r.StringVal)
	default:
		return nil, errors.Errorf("cannot encode log record of type %s", r.Op)
	}

	buf := make([]byte, size)
	page := file.NewPageFromBytes(buf)
	page.SetInt(0, int(r.Op))
	if r.Op == Checkpoint {
		return buf, nil
	}
	pos := file.IntSize
	page.SetInt(pos, r.TxNum)
	pos += file.IntSize
	if r.Op == Start || r.Op == Commit {
		return buf, nil
	}

	if err := page.SetString(pos, r.Block.File); err != nil {
		return nil, errors.Wrap(err, "failed to encode filename")
	}
	pos += stringSize(r.Block.File)
	page.SetInt(pos, r.Block.BlockNumber)
	pos += file.IntSize
	page.SetInt(pos, r.Offset)
	pos += file.IntSize
	if r.Op == SetInt {
		page.SetInt(pos, r.IntVal)
		return buf, nil
	}
	if err := page.SetString(pos, r.StringVal); err != nil {
		return nil, errors.Wrap(err, "failed to encode value")
	}
	return buf, nil
}

// ParseLogRecord decodes a record produced by Encode.
func ParseLogRecord(b []byte) (LogRecord, error) {
	if len(b) < file.IntSize {
		return LogRecord{}, errors.Errorf("log record of %d bytes is truncated", len(b))
	}
	page := file.NewPageFromBytes(b)
	r := LogRecord{Op: LogRecordType(page.GetInt(0))}

	switch r.Op {
	case Checkpoint:
		return r, nil
	case Start, Commit, SetInt, SetString:
	default:
		return LogRecord{}, errors.Errorf("unknown log record type %d", int(r.Op))
	}

	if len(b) < 2*file.IntSize {
		return LogRecord{}, errors.Errorf("%s record of %d bytes is truncated", r.Op, len(b))
	}
	pos := file.IntSize
	r.TxNum = page.GetInt(pos)
	pos += file.IntSize
	if r.Op == Start || r.Op == Commit {
		return r, nil
	}

	filename, err := readString(page, len(b), pos)
	if err != nil {
		return LogRecord{}, errors.Wrapf(err, "malformed %s record", r.Op)
	}
	pos += stringSize(filename)
	need := pos + 2*file.IntSize
	if r.Op == SetInt {
		need += file.IntSize
	}
	if need > len(b) {
		return LogRecord{}, errors.Errorf("%s record of %d bytes is truncated", r.Op, len(b))
	}
	r.Block = file.BlockId{File: filename, BlockNumber: page.GetInt(pos)}
	pos += file.IntSize
	r.Offset = page.GetInt(pos)
	pos += file.IntSize
	if r.Op == SetInt {
		r.IntVal = page.GetInt(pos)
		return r, nil
	}
	if r.StringVal, err = readString(page, len(b), pos); err != nil {
		return LogRecord{}, errors.Wrapf(err, "malformed %s record", r.Op)
	}
	return r, nil
}

func (r LogRecord) String() string {
	switch r.Op {
	case Checkpoint:
		return "<CHECKPOINT>"
	case Start, Commit:
		return fmt.Sprintf("<%s %d>", r.Op, r.TxNum)
	case SetInt:
		return fmt.Sprintf("<SETINT %d %s %d %d>", r.TxNum, &r.Block, r.Offset, r.IntVal)
	case SetString:
		return fmt.Sprintf("<SETSTRING %d %s %d %s>", r.TxNum, &r.Block, r.Offset, r.StringVal)
	default:
		return fmt.Sprintf("<%s>", r.Op)
	}
}

// AppendTo appends the record to the log and returns its LSN.
func (r LogRecord) AppendTo(logManager *log.Manager) (int, error) {
	b, err := r.Encode()
	if err != nil {
		return -1, err
	}
	return logManager.Append(b)
}

// ReadLog returns every record in the log, newest first.
func ReadLog(logManager *log.Manager) ([]LogRecord, error) {
	it, err := logManager.Iterator()
	if err != nil {
		return nil, err
	}
	var records []LogRecord
	for it.HasNext() {
		b, err := it.Next()
		if err != nil {
			return nil, err
		}
		r, err := ParseLogRecord(b)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, nil
}

func stringSize(s string) int {
	return file.IntSize + len(s)
}

func readString(page *file.Page, size, pos int) (string, error) {
	if pos+file.IntSize > size {
		return "", errors.New("string length is truncated")
	}
	if n := page.GetInt(pos); n < 0 || pos+file.IntSize+n > size {
		return "", errors.Errorf("string of %d bytes overruns the record", n)
	}
	return page.GetString(pos)
}
