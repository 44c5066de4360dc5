package soc

import (
	"io"

	"github.com/pkg/errors"
	"github.com/sarchlab/akita/v4/mem/mem"
)

// ErrOutOfRange is returned for accesses that extend past a region.
var ErrOutOfRange = errors.New("access out of region range")

// Memory backs one region with an akita storage. Offsets are relative to
// the region base.
type Memory struct {
	storage *mem.Storage
	size    uint64
}

// NewMemory creates a zeroed memory of the given size.
func NewMemory(size uint64) *Memory {
	return &Memory{
		storage: mem.NewStorage(size),
		size:    size,
	}
}

// Size returns the capacity in bytes.
func (m *Memory) Size() uint64 {
	return m.size
}

// ReadAt implements io.ReaderAt.
func (m *Memory) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, ErrOutOfRange
	}
	if uint64(off) >= m.size {
		if len(p) == 0 {
			return 0, nil
		}
		return 0, io.EOF
	}

	n := uint64(len(p))
	if n > m.size-uint64(off) {
		n = m.size - uint64(off)
	}
	data, err := m.storage.Read(uint64(off), n)
	if err != nil {
		return 0, errors.Wrap(err, "storage read")
	}
	copy(p, data)

	if int(n) < len(p) {
		return int(n), io.EOF
	}
	return int(n), nil
}

// WriteAt implements io.WriterAt. Bytes that would land past the end are
// not written.
func (m *Memory) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || uint64(off) > m.size {
		return 0, ErrOutOfRange
	}

	n := uint64(len(p))
	if n > m.size-uint64(off) {
		n = m.size - uint64(off)
	}
	if n > 0 {
		if err := m.storage.Write(uint64(off), p[:n]); err != nil {
			return 0, errors.Wrap(err, "storage write")
		}
	}

	if int(n) < len(p) {
		return int(n), ErrOutOfRange
	}
	return int(n), nil
}

func (m *Memory) load(off uint64, size int) (uint32, error) {
	data, err := m.storage.Read(off, uint64(size))
	if err != nil {
		return 0, err
	}
	var v uint32
	for i := size - 1; i >= 0; i-- {
		v = v<<8 | uint32(data[i])
	}
	return v, nil
}

func (m *Memory) store(off uint64, size int, value uint32) error {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(value >> (8 * i))
	}
	return m.storage.Write(off, data)
}
