package file

import (
	"encoding/binary"
	"unicode/utf8"

	"github.com/pkg/errors"
)

// IntSize is the number of bytes an int occupies on a page. Ints are stored as big-endian int32 so the on-disk
// format does not depend on the platform word size.
const IntSize = 4

// Page is the in-memory image of one disk block. The buffer pool owns one Page per slot and reuses it for
// whichever block the slot currently holds.
type Page struct {
	buffer []byte
}

// NewPage creates a Page with a buffer of the given block size.
func NewPage(blockSize int) *Page {
	return &Page{buffer: make([]byte, blockSize)}
}

// NewPageFromBytes creates a Page by wrapping the provided byte slice. Log records use it to lay out fields.
func NewPageFromBytes(bytes []byte) *Page {
	return &Page{buffer: bytes}
}

// GetInt retrieves an integer from the buffer at the specified offset.
func (p *Page) GetInt(offset int) int {
	return int(int32(binary.BigEndian.Uint32(p.buffer[offset:])))
}

// SetInt writes an integer to the buffer at the specified offset.
func (p *Page) SetInt(offset int, n int) {
	binary.BigEndian.PutUint32(p.buffer[offset:], uint32(int32(n)))
}

// GetBytes retrieves a length-prefixed byte slice starting at the specified offset.
func (p *Page) GetBytes(offset int) []byte {
	length := p.GetInt(offset)
	start := offset + IntSize
	b := make([]byte, length)
	copy(b, p.buffer[start:start+length])
	return b
}

// SetBytes writes a length-prefixed byte slice starting at the specified offset.
func (p *Page) SetBytes(offset int, b []byte) {
	p.SetInt(offset, len(b))
	copy(p.buffer[offset+IntSize:], b)
}

// GetString retrieves a string from the buffer at the specified offset.
func (p *Page) GetString(offset int) (string, error) {
	b := p.GetBytes(offset)
	if !utf8.Valid(b) {
		return "", errors.Errorf("invalid UTF-8 encoding at offset %d", offset)
	}
	return string(b), nil
}

// SetString writes a string to the buffer at the specified offset.
func (p *Page) SetString(offset int, s string) error {
	if !utf8.ValidString(s) {
		return errors.New("string contains invalid UTF-8 characters")
	}
	p.SetBytes(offset, []byte(s))
	return nil
}

// Clear zeroes the page.
func (p *Page) Clear() {
	clear(p.buffer)
}

// MaxLength calculates the maximum number of bytes required to store a string of a given length.
func MaxLength(strlen int) int {
	return IntSize + strlen*utf8.UTFMax
}

// Contents returns the byte buffer maintained by the Page.
func (p *Page) Contents() []byte {
	return p.buffer
}
