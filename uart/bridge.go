// Package uart bridges the simulated UART pins and the host terminal.
//
// Host bytes are queued and injected into the model as one-cycle pulses on
// rx_valid/rx_byte; bytes the model presents on tx_valid/tx_byte are copied
// to the host output. The escape byte never reaches the model: it asks the
// driver to abort the run.
package uart

import (
	"io"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	"github.com/sarchlab/socsim/hw"
)

// EscapeByte aborts the current run when read from the host.
const EscapeByte = 27

// ErrEscape is the cancellation cause recorded when the escape byte arrives.
var ErrEscape = errors.New("escape key pressed")

// HostInput is a non-blocking byte source. Poll returns whatever is
// available right now, possibly nothing, and never waits.
type HostInput interface {
	Poll() []byte
}

type flusher interface {
	Flush() error
}

type syncer interface {
	Sync() error
}

// Bridge moves bytes between host and model, one call per half clock period.
type Bridge struct {
	input  HostInput
	output io.Writer
	logger log.Logger

	pending     []byte
	pulseActive bool

	transmitted uint64
	received    uint64
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets the logger for bridge diagnostics.
func WithLogger(logger log.Logger) Option {
	return func(b *Bridge) {
		b.logger = logger
	}
}

// NewBridge creates a bridge reading host bytes from input and writing model
// output to output. A nil input never produces bytes.
func NewBridge(input HostInput, output io.Writer, opts ...Option) *Bridge {
	b := &Bridge{
		input:  input,
		output: output,
		logger: log.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Step performs one bridge iteration against pins.
//
// In order: if tx_valid is high and this is the rising half of the clock,
// the tx byte is written and flushed; host input is polled and queued,
// stopping at the escape byte; then the rx pulse is advanced. A pulse
// asserted by the previous Step is deasserted; otherwise, if bytes are
// queued and rx_valid is low, the oldest byte is presented with rx_valid
// high.
//
// escape is true when the escape byte was read. The rest of that read batch
// is discarded and the pulse state is left untouched.
func (b *Bridge) Step(pins hw.UART, risingEdge bool) (escape bool, err error) {
	if risingEdge && pins.TxValid() {
		if err := b.emit(pins.TxByte()); err != nil {
			return false, err
		}
	}

	if b.input != nil {
		for _, c := range b.input.Poll() {
			if c == EscapeByte {
				level.Debug(b.logger).Log("msg", "escape byte received", "queued", len(b.pending))
				return true, nil
			}
			b.pending = append(b.pending, c)
		}
	}

	switch {
	case b.pulseActive:
		pins.SetRxValid(false)
		b.pulseActive = false
	case len(b.pending) > 0 && !pins.RxValid():
		pins.SetRxByte(b.pending[0])
		pins.SetRxValid(true)
		b.pending = b.pending[1:]
		b.pulseActive = true
		b.received++
	}

	return false, nil
}

func (b *Bridge) emit(c byte) error {
	if _, err := b.output.Write([]byte{c}); err != nil {
		return errors.Wrap(err, "failed to write UART output")
	}
	switch w := b.output.(type) {
	case flusher:
		if err := w.Flush(); err != nil {
			return errors.Wrap(err, "failed to flush UART output")
		}
	case syncer:
		// Sync fails on terminals.
		_ = w.Sync()
	}
	b.transmitted++
	return nil
}

// Reset drops queued bytes and forgets any pulse in flight.
func (b *Bridge) Reset() {
	b.pending = nil
	b.pulseActive = false
}

// Pending returns the number of queued host bytes.
func (b *Bridge) Pending() int {
	return len(b.pending)
}

// Transmitted returns the number of bytes written to the host.
func (b *Bridge) Transmitted() uint64 {
	return b.transmitted
}

// Received returns the number of bytes injected into the model.
func (b *Bridge) Received() uint64 {
	return b.received
}
