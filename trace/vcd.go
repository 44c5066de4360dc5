// Package trace writes waveform dumps in Value Change Dump format.
package trace

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"github.com/sarchlab/socsim/hw"
)

// ErrSignalSetChanged is returned when a dump carries a different signal
// list than the first one.
var ErrSignalSetChanged = errors.New("signal set changed after header")

// ErrClosed is returned by Dump after Close.
var ErrClosed = errors.New("trace writer closed")

// Writer emits one VCD time step per Dump. Timestamps start at zero and
// advance by one per dump for the life of the writer.
type Writer struct {
	out     *bufio.Writer
	closers []io.Closer
	logger  log.Logger

	ids     []string
	names   []string
	last    []uint64
	started bool
	closed  bool
	time    uint64
}

const (
	scope     = "top"
	timescale = "1ns"
)

// Option configures a Writer.
type Option func(*Writer)

// WithLogger sets the logger for writer diagnostics.
func WithLogger(logger log.Logger) Option {
	return func(w *Writer) {
		w.logger = logger
	}
}

// NewWriter wraps dst. Close flushes but does not close dst.
func NewWriter(dst io.Writer, opts ...Option) *Writer {
	w := &Writer{
		out:    bufio.NewWriter(dst),
		logger: log.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Create opens path on fs for writing. Paths ending in ".gz" are gzip
// compressed.
func Create(fs afero.Fs, path string, opts ...Option) (*Writer, error) {
	f, err := fs.Create(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create trace file %s", path)
	}

	if !strings.HasSuffix(path, ".gz") {
		w := NewWriter(f, opts...)
		w.closers = []io.Closer{f}
		return w, nil
	}

	zw := gzip.NewWriter(f)
	w := NewWriter(zw, opts...)
	w.closers = []io.Closer{zw, f}
	return w, nil
}

// Time returns the timestamp the next Dump will carry.
func (w *Writer) Time() uint64 {
	return w.time
}

// Dump records the signal values at the current timestamp and advances it.
func (w *Writer) Dump(signals []hw.Signal) error {
	if w.closed {
		return ErrClosed
	}
	if !w.started {
		w.writeHeader(signals)
	} else if err := w.checkSignals(signals); err != nil {
		return err
	}

	fmt.Fprintf(w.out, "#%d\n", w.time)
	if w.time == 0 {
		w.out.WriteString("$dumpvars\n")
	}
	for i, s := range signals {
		if w.time > 0 && s.Value == w.last[i] {
			continue
		}
		w.writeValue(s, w.ids[i])
		w.last[i] = s.Value
	}
	if w.time == 0 {
		w.out.WriteString("$end\n")
	}
	w.time++

	return nil
}

func (w *Writer) checkSignals(signals []hw.Signal) error {
	if len(signals) != len(w.names) {
		return errors.Wrapf(ErrSignalSetChanged, "got %d signals, want %d", len(signals), len(w.names))
	}
	for i, s := range signals {
		if s.Name != w.names[i] {
			return errors.Wrapf(ErrSignalSetChanged, "signal %d is %q, want %q", i, s.Name, w.names[i])
		}
	}
	return nil
}

func (w *Writer) writeHeader(signals []hw.Signal) {
	fmt.Fprintf(w.out, "$version socsim $end\n")
	fmt.Fprintf(w.out, "$timescale %s $end\n", timescale)
	fmt.Fprintf(w.out, "$scope module %s $end\n", scope)
	for i, s := range signals {
		id := identifier(i)
		w.ids = append(w.ids, id)
		w.names = append(w.names, s.Name)
		fmt.Fprintf(w.out, "$var wire %d %s %s $end\n", width(s), id, s.Name)
	}
	fmt.Fprintf(w.out, "$upscope $end\n$enddefinitions $end\n")

	w.last = make([]uint64, len(signals))
	w.started = true
	level.Debug(w.logger).Log("msg", "trace header written", "signals", len(signals))
}

func (w *Writer) writeValue(s hw.Signal, id string) {
	if width(s) == 1 {
		fmt.Fprintf(w.out, "%d%s\n", s.Value&1, id)
		return
	}
	fmt.Fprintf(w.out, "b%s %s\n", strconv.FormatUint(s.Value, 2), id)
}

func width(s hw.Signal) int {
	if s.Width < 1 {
		return 1
	}
	return s.Width
}

// identifier maps an index to a short printable VCD id ('!' through '~').
func identifier(i int) string {
	const first, count = '!', '~' - '!' + 1

	var id []byte
	for {
		id = append(id, byte(first+i%count))
		i /= count
		if i == 0 {
			break
		}
		i--
	}
	return string(id)
}

// Close flushes buffered output and closes any file the writer opened.
// It is safe to call more than once.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	err := w.out.Flush()
	for _, c := range w.closers {
		if cerr := c.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	if err != nil {
		return errors.Wrap(err, "failed to close trace")
	}
	return nil
}
