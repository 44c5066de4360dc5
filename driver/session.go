// Package driver runs test programs on a hardware model: it loads an image,
// pulses reset, clocks the model for a fixed budget while bridging the UART,
// and judges the result from the model's registers.
package driver

import (
	"context"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	"github.com/sarchlab/socsim/hw"
	"github.com/sarchlab/socsim/loader"
	"github.com/sarchlab/socsim/uart"
)

// Fixed run parameters.
const (
	// ResetToggles is the number of clock toggles performed with reset held.
	ResetToggles = 6
	// MaxCycles bounds the logical timestamp of a run, reset toggles included.
	MaxCycles = 10000
)

// Phase is the state of the current run.
type Phase int

// Run phases.
const (
	PhaseIdle Phase = iota
	PhaseReset
	PhaseRunning
	PhaseDone
	PhaseAborted
)

func (p Phase) String() string {
	switch p {
	case PhaseReset:
		return "reset"
	case PhaseRunning:
		return "running"
	case PhaseDone:
		return "done"
	case PhaseAborted:
		return "aborted"
	default:
		return "idle"
	}
}

// Sink receives one snapshot per evaluation while tracing is enabled.
type Sink interface {
	Dump(signals []hw.Signal) error
	Close() error
}

// StatsReporter is implemented by models that expose run counters.
type StatsReporter interface {
	Stats() map[string]uint64
}

// Test names one image to run.
type Test struct {
	Name string
	Path string
}

// Outcome is the immutable result of one run.
type Outcome struct {
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	Registers Registers `json:"registers"`
	Verdict   Verdict   `json:"verdict,omitempty"`
	Aborted   bool      `json:"aborted"`
	// AbortCause describes why an aborted run stopped.
	AbortCause string `json:"abort_cause,omitempty"`
	Cycles     uint64 `json:"cycles"`

	LoadWarnings []string          `json:"load_warnings,omitempty"`
	ModelStats   map[string]uint64 `json:"model_stats,omitempty"`
	Duration     time.Duration     `json:"duration"`
}

// Session owns one model instance and runs tests on it one after another.
type Session struct {
	model   hw.Model
	pins    hw.UART
	hasUART bool

	loader   *loader.Loader
	regions  []loader.MemoryRegion
	targets  []loader.Target
	memories []hw.Memory
	bridge   *uart.Bridge
	logger   log.Logger

	sink         Sink
	probe        hw.Probe
	traceEnabled bool

	phase Phase
	cycle uint64
}

// Option configures a Session.
type Option func(*Session)

// WithLoader sets the ELF loader. The default accepts 32-bit images.
func WithLoader(l *loader.Loader) Option {
	return func(s *Session) {
		s.loader = l
	}
}

// WithRegions sets the regions zeroed and loaded before every run, in
// lookup order.
func WithRegions(regions []loader.MemoryRegion) Option {
	return func(s *Session) {
		s.regions = append([]loader.MemoryRegion(nil), regions...)
	}
}

// WithBridge attaches a UART bridge. It is only stepped when the model has
// UART pins.
func WithBridge(b *uart.Bridge) Option {
	return func(s *Session) {
		s.bridge = b
	}
}

// WithLogger sets the logger.
func WithLogger(logger log.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// NewSession binds a session to model, resolving every configured region.
func NewSession(model hw.Model, opts ...Option) (*Session, error) {
	s := &Session{
		model:   model,
		regions: loader.DefaultRegions(),
		logger:  log.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.loader == nil {
		s.loader = loader.New(loader.Width32, loader.WithLogger(s.logger))
	}

	for _, r := range s.regions {
		mem, err := model.Region(r.Name)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to bind region %s", r)
		}
		if mem.Size() < r.Size {
			return nil, errors.Errorf("region %s larger than model storage (%d bytes)", r, mem.Size())
		}
		s.targets = append(s.targets, loader.Target{Region: r, Store: mem})
		s.memories = append(s.memories, mem)
	}

	s.pins, s.hasUART = hw.UARTOf(model)
	if s.hasUART && s.bridge == nil {
		level.Debug(s.logger).Log("msg", "model has UART pins but no bridge is attached")
	}

	return s, nil
}

// Phase returns the phase of the current or last run.
func (s *Session) Phase() Phase {
	return s.phase
}

// Cycle returns the logical timestamp of the current or last run.
func (s *Session) Cycle() uint64 {
	return s.cycle
}

// TraceActive reports whether a waveform sink is attached.
func (s *Session) TraceActive() bool {
	return s.sink != nil
}

// EnableTrace attaches sink for the rest of the session. It may succeed once;
// later calls return false and leave the current sink in place.
func (s *Session) EnableTrace(sink Sink) bool {
	if s.traceEnabled {
		return false
	}
	s.traceEnabled = true
	s.sink = sink
	if p, ok := hw.ProbeOf(s.model); ok {
		s.probe = p
	}
	return true
}

// Run executes one test. Load errors are returned as-is and are fatal for
// the batch. Cancelling ctx, or the escape byte arriving on the UART bridge,
// ends the run with an aborted outcome.
func (s *Session) Run(ctx context.Context, test Test) (Outcome, error) {
	start := time.Now()
	out := Outcome{Name: test.Name, Path: test.Path}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	report, err := s.reset(test)
	if err != nil {
		return out, err
	}
	out.LoadWarnings = report.Warnings

	s.phase = PhaseRunning
	aborted := false
	for s.cycle < MaxCycles {
		if ctx.Err() != nil {
			aborted = true
			break
		}
		if err := s.tick(); err != nil {
			return out, err
		}
		if s.hasUART && s.bridge != nil {
			escape, err := s.bridge.Step(s.pins, s.model.Clock())
			if err != nil {
				return out, err
			}
			if escape {
				cancel(uart.ErrEscape)
				aborted = true
				break
			}
		}
		s.cycle++
	}

	out.Cycles = s.cycle
	out.Duration = time.Since(start)
	if r, ok := s.model.(StatsReporter); ok {
		out.ModelStats = r.Stats()
	}

	if aborted {
		s.phase = PhaseAborted
		out.Aborted = true
		out.AbortCause = context.Cause(ctx).Error()
		level.Info(s.logger).Log("msg", "run aborted", "test", test.Name, "cycle", s.cycle, "cause", out.AbortCause)
		return out, nil
	}

	s.phase = PhaseDone
	out.Registers = Registers{
		X3:  s.model.Register(RegDiagnostic),
		X26: s.model.Register(RegDone),
		X27: s.model.Register(RegPass),
	}
	out.Verdict = out.Registers.Verdict()
	level.Debug(s.logger).Log("msg", "run finished", "test", test.Name, "verdict", out.Verdict,
		"cycles", out.Cycles, "duration", out.Duration)

	return out, nil
}

// reset zeroes and reloads memory, quiesces inputs and holds reset for
// ResetToggles clock toggles.
func (s *Session) reset(test Test) (*loader.Report, error) {
	s.phase = PhaseReset
	s.cycle = 0
	if s.bridge != nil {
		s.bridge.Reset()
	}

	for i, mem := range s.memories {
		if err := hw.Zero(mem); err != nil {
			return nil, errors.Wrapf(err, "failed to zero region %s", s.regions[i].Name)
		}
	}

	report, err := s.loader.Load(test.Path, s.targets)
	if err != nil {
		return nil, err
	}
	level.Debug(s.logger).Log("msg", "image loaded", "test", test.Name, "segments", len(report.Loaded()),
		"warnings", len(report.Warnings), "entry", report.Entry)

	s.model.SetClock(false)
	if s.hasUART {
		s.pins.SetRxValid(false)
		s.pins.SetRxByte(0)
	}

	s.model.SetReset(true)
	for i := 0; i < ResetToggles; i++ {
		if err := s.tick(); err != nil {
			return nil, err
		}
		s.cycle++
	}
	s.model.SetReset(false)

	return report, nil
}

// tick toggles the clock, evaluates the model and dumps a trace step.
func (s *Session) tick() error {
	s.model.SetClock(!s.model.Clock())
	s.model.Eval()

	if s.sink == nil {
		return nil
	}
	var signals []hw.Signal
	if s.probe != nil {
		signals = s.probe.Signals()
	}
	if err := s.sink.Dump(signals); err != nil {
		return errors.Wrap(err, "failed to dump trace")
	}
	return nil
}

// Close detaches and closes the trace sink, then closes the model.
func (s *Session) Close() error {
	var err error
	if s.sink != nil {
		err = s.sink.Close()
		s.sink = nil
	}
	if cerr := s.model.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
