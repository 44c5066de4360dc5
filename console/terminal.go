package console

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"golang.org/x/term"
)

// Terminal holds the state needed to undo raw mode. The zero value is a
// terminal that was never switched, and Restore on it is a no-op.
type Terminal struct {
	fd    int
	state *term.State
}

// IsTerminal reports whether f is attached to a terminal that can be
// switched to raw mode. Cygwin ptys are pipes underneath and do not count.
func IsTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd())
}

// MakeRaw switches f to raw mode when it is a terminal. Anything else, such
// as a pipe or a file, is left untouched.
func MakeRaw(f *os.File) (*Terminal, error) {
	if !IsTerminal(f) {
		return &Terminal{}, nil
	}

	fd := int(f.Fd())
	state, err := term.MakeRaw(fd)
	if err != nil {
		return nil, errors.Wrap(err, "failed to switch terminal to raw mode")
	}
	return &Terminal{fd: fd, state: state}, nil
}

// Raw reports whether the terminal is currently in raw mode.
func (t *Terminal) Raw() bool {
	return t.state != nil
}

// Restore puts the terminal back in the mode it had before MakeRaw. It is
// safe to call more than once.
func (t *Terminal) Restore() error {
	if t.state == nil {
		return nil
	}
	state := t.state
	t.state = nil
	return errors.Wrap(term.Restore(t.fd, state), "failed to restore terminal")
}

// Output wraps w so that bare line feeds are written as CR LF while the
// terminal is raw.
func (t *Terminal) Output(w io.Writer) io.Writer {
	if !t.Raw() {
		return w
	}
	return &crlfWriter{w: w}
}

type crlfWriter struct {
	w io.Writer
}

func (c *crlfWriter) Write(p []byte) (int, error) {
	if bytes.IndexByte(p, '\n') < 0 {
		return c.w.Write(p)
	}

	out := bytes.ReplaceAll(p, []byte("\n"), []byte("\r\n"))
	if _, err := c.w.Write(out); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Sync forwards to the wrapped writer when it supports it.
func (c *crlfWriter) Sync() error {
	if s, ok := c.w.(interface{ Sync() error }); ok {
		return s.Sync()
	}
	return nil
}

// NotifyContext returns a context that is cancelled on SIGINT or SIGTERM.
func NotifyContext(parent context.Context) (context.Context, context.CancelFunc) {
	return notifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func notifyContext(parent context.Context, sigs ...os.Signal) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, sigs...)
}
