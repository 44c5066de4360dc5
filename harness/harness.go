package harness

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	"github.com/sarchlab/socsim/driver"
)

// SinkFactory opens the waveform sink the first time tracing is needed.
type SinkFactory func() (driver.Sink, error)

// Harness runs a batch of tests on one session.
type Harness struct {
	session *driver.Session
	out     io.Writer
	logger  log.Logger
	sinks   SinkFactory
	metrics *Metrics

	success *color.Color
	failure *color.Color
	unknown *color.Color
}

// Option configures a Harness.
type Option func(*Harness)

// WithOutput sets where per-test lines are printed. The default is stdout.
func WithOutput(w io.Writer) Option {
	return func(h *Harness) {
		h.out = w
	}
}

// WithLogger sets the logger.
func WithLogger(logger log.Logger) Option {
	return func(h *Harness) {
		h.logger = logger
	}
}

// WithTrace enables waveform tracing for single-test batches.
func WithTrace(sinks SinkFactory) Option {
	return func(h *Harness) {
		h.sinks = sinks
	}
}

// WithMetrics records every outcome into m.
func WithMetrics(m *Metrics) Option {
	return func(h *Harness) {
		h.metrics = m
	}
}

// WithColor forces verdict coloring on or off. By default it follows
// whether stdout is a terminal.
func WithColor(enabled bool) Option {
	return func(h *Harness) {
		for _, c := range []*color.Color{h.success, h.failure, h.unknown} {
			if enabled {
				c.EnableColor()
			} else {
				c.DisableColor()
			}
		}
	}
}

// New creates a harness around session.
func New(session *driver.Session, opts ...Option) *Harness {
	h := &Harness{
		session: session,
		out:     os.Stdout,
		logger:  log.NewNopLogger(),
		success: color.New(color.FgGreen),
		failure: color.New(color.FgRed),
		unknown: color.New(color.FgYellow),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run executes tests in order. Tracing is only enabled when the batch holds
// exactly one test. The batch stops after an aborted run, or before the
// next test once ctx is done. Errors are fatal load or trace errors; the
// report still holds the outcomes collected before them.
func (h *Harness) Run(ctx context.Context, tests []driver.Test) (*Report, error) {
	start := time.Now()
	report := &Report{}
	defer func() {
		report.Duration = time.Since(start)
	}()

	if h.sinks != nil && len(tests) == 1 && !h.session.TraceActive() {
		sink, err := h.sinks()
		if err != nil {
			return report, errors.Wrap(err, "failed to open trace")
		}
		if !h.session.EnableTrace(sink) {
			if err := sink.Close(); err != nil {
				level.Warn(h.logger).Log("msg", "failed to close unused trace", "err", err)
			}
		}
	}

	for i, test := range tests {
		if ctx.Err() != nil {
			fmt.Fprintln(h.out, "Abort requested: skipping remaining tests.")
			report.Aborted = true
			report.Skipped = names(tests[i:])
			break
		}

		fmt.Fprintf(h.out, "=== run test: %s (elf: %s) ===\n", test.Name, test.Path)
		outcome, err := h.session.Run(ctx, test)
		if err != nil {
			return report, err
		}
		report.Outcomes = append(report.Outcomes, outcome)
		if h.metrics != nil {
			h.metrics.Observe(outcome)
		}

		if outcome.Aborted {
			fmt.Fprintf(h.out, "\n[%s] simulation was aborted: %s\n", test.Name, outcome.AbortCause)
			report.Aborted = true
			report.Skipped = names(tests[i+1:])
			break
		}
		h.printVerdict(outcome)
	}

	level.Info(h.logger).Log("msg", "batch finished", "tests", len(report.Outcomes),
		"passed", report.Count(driver.VerdictPass), "aborted", report.Aborted)
	return report, nil
}

func (h *Harness) printVerdict(o driver.Outcome) {
	var word string
	switch o.Verdict {
	case driver.VerdictPass:
		word = h.success.Sprint("success")
	case driver.VerdictFail:
		word = h.failure.Sprint("failed")
	default:
		word = h.unknown.Sprint("unknown")
	}

	// The registers are 32 bits wide and printed signed.
	fmt.Fprintf(h.out, "\n[%s]: x3=%d, x26=%d, x27=%d, test %s\n", o.Name,
		int32(o.Registers.X3), int32(o.Registers.X26), int32(o.Registers.X27), word)
}

func names(tests []driver.Test) []string {
	if len(tests) == 0 {
		return nil
	}
	out := make([]string, len(tests))
	for i, t := range tests {
		out[i] = t.Name
	}
	return out
}
