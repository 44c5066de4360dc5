package console

import (
	"context"
	"io"
	"os"
)

// NewCRLFWriter exposes the raw-mode line ending translation to tests.
func NewCRLFWriter(w io.Writer) io.Writer {
	return &crlfWriter{w: w}
}

// NotifyContextOn is NotifyContext for an arbitrary signal set.
func NotifyContextOn(parent context.Context, sigs ...os.Signal) (context.Context, context.CancelFunc) {
	return notifyContext(parent, sigs...)
}
