// Package hw defines the accessor interface the driver uses to step and
// inspect a hardware model, independent of how that model is implemented.
package hw

import (
	"io"

	"github.com/pkg/errors"
)

// ErrNoRegion is returned by Model.Region for an unknown region name.
var ErrNoRegion = errors.New("no such memory region")

// Model is a clocked hardware model.
//
// SetReset(true) always means "in reset"; a model with an active-low reset
// pin inverts internally.
type Model interface {
	SetClock(high bool)
	Clock() bool
	SetReset(asserted bool)

	// Eval propagates the current inputs through the model.
	Eval()

	Region(name string) (Memory, error)

	// Register returns integer register i of the first core.
	Register(i int) uint64

	Close() error
}

// Memory is byte-addressable storage for one region. Offsets are relative
// to the region base.
type Memory interface {
	io.ReaderAt
	io.WriterAt
	Size() uint64
}

// UART is the serial pin group of a model revision that has one.
type UART interface {
	SetRxByte(b byte)
	SetRxValid(valid bool)
	RxValid() bool
	TxValid() bool
	TxByte() byte
}

// Signal is one traced value.
type Signal struct {
	Name  string
	Width int
	Value uint64
}

// Probe exposes internal signals for waveform capture.
type Probe interface {
	Signals() []Signal
}

// UARTOf returns the model's UART pins if the revision has them.
func UARTOf(m Model) (UART, bool) {
	u, ok := m.(UART)
	return u, ok
}

// ProbeOf returns the model's signal probe if it offers one.
func ProbeOf(m Model) (Probe, bool) {
	p, ok := m.(Probe)
	return p, ok
}

const zeroChunk = 4096

// Zero clears every byte of mem.
func Zero(mem Memory) error {
	buf := make([]byte, zeroChunk)
	size := mem.Size()
	for off := uint64(0); off < size; off += zeroChunk {
		n := size - off
		if n > zeroChunk {
			n = zeroChunk
		}
		if _, err := mem.WriteAt(buf[:n], int64(off)); err != nil {
			return errors.Wrapf(err, "failed to zero memory at offset 0x%x", off)
		}
	}
	return nil
}
