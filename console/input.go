// Package console connects the host terminal to the simulated UART.
//
// Input reads the host in a background goroutine and hands bytes to the
// stepping loop through Poll, which never blocks. Terminal switches stdin to
// raw mode for the duration of a batch so single key presses, including the
// escape key, reach the model without waiting for a newline.
package console

import (
	"io"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// InterruptByte is what Ctrl-C produces once the terminal is in raw mode.
const InterruptByte = 3

const (
	readBufferSize = 256
	chunkQueueSize = 64
)

// Input is a non-blocking host byte source.
type Input struct {
	src       io.Reader
	chunks    chan []byte
	done      chan struct{}
	closeOnce sync.Once
	logger    log.Logger
	interrupt func()

	mu      sync.Mutex
	readErr error
}

// InputOption configures an Input.
type InputOption func(*Input)

// WithInputLogger sets the logger for reader diagnostics.
func WithInputLogger(logger log.Logger) InputOption {
	return func(in *Input) {
		in.logger = logger
	}
}

// WithInterrupt registers fn to be called when InterruptByte is read. The
// byte itself is still delivered.
func WithInterrupt(fn func()) InputOption {
	return func(in *Input) {
		in.interrupt = fn
	}
}

// NewInput starts reading src in the background.
func NewInput(src io.Reader, opts ...InputOption) *Input {
	in := &Input{
		src:    src,
		chunks: make(chan []byte, chunkQueueSize),
		done:   make(chan struct{}),
		logger: log.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(in)
	}

	go in.read()
	return in
}

func (in *Input) read() {
	buf := make([]byte, readBufferSize)
	for {
		n, err := in.src.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			in.notifyInterrupt(chunk)

			select {
			case in.chunks <- chunk:
			case <-in.done:
				return
			}
		}

		if err != nil {
			if err != io.EOF {
				level.Debug(in.logger).Log("msg", "host input closed", "err", err)
			}
			in.mu.Lock()
			in.readErr = err
			in.mu.Unlock()
			return
		}
	}
}

func (in *Input) notifyInterrupt(chunk []byte) {
	if in.interrupt == nil {
		return
	}
	for _, b := range chunk {
		if b == InterruptByte {
			in.interrupt()
			return
		}
	}
}

// Poll returns every byte read since the previous call. It returns nil when
// nothing is available.
func (in *Input) Poll() []byte {
	var out []byte
	for {
		select {
		case chunk := <-in.chunks:
			out = append(out, chunk...)
		default:
			return out
		}
	}
}

// Err returns the error that stopped the reader, if any.
func (in *Input) Err() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.readErr
}

// Close stops delivering input. A reader blocked on src exits once its
// pending Read returns; closing src, when possible, is the caller's job.
func (in *Input) Close() error {
	in.closeOnce.Do(func() {
		close(in.done)
	})
	return nil
}
