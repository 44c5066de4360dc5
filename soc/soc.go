// Package soc is a behavioral model of the small RISC-V SoC: one RV32IM core,
// a boot ROM, SRAM and (on revision B) a memory-mapped UART. It implements
// hw.Model so the driver can step it like any other hardware model.
package soc

import (
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	"github.com/sarchlab/socsim/emu"
	"github.com/sarchlab/socsim/hw"
	"github.com/sarchlab/socsim/loader"
)

// Revision names a pinout of the model.
type Revision string

// Supported revisions.
const (
	RevA Revision = "a"
	RevB Revision = "b"
)

// ErrUnknownRevision is returned by Open for an unsupported revision name.
var ErrUnknownRevision = errors.New("unknown SoC revision")

type pinout struct {
	clock     string
	reset     string
	activeLow bool
	uart      bool
}

var pinouts = map[Revision]pinout{
	RevA: {clock: "clock", reset: "reset"},
	RevB: {clock: "clk", reset: "rst_n", activeLow: true, uart: true},
}

// SoC holds the state shared by every revision.
type SoC struct {
	pins pinout

	clock     bool
	lastClock bool
	resetPin  bool

	regions []loader.MemoryRegion
	bus     *systemBus
	cache   *FetchCache
	core    *emu.Emulator
	uart    *uartDevice

	cacheConfig FetchCacheConfig
	resetPC     uint32
	logger      log.Logger

	lastErr error
}

// Option configures a SoC.
type Option func(*SoC)

// WithRegions replaces the default memory map. Regions named
// loader.BootROMName are read-only to the core.
func WithRegions(regions []loader.MemoryRegion) Option {
	return func(s *SoC) {
		s.regions = append([]loader.MemoryRegion(nil), regions...)
	}
}

// WithFetchCache sets the instruction cache geometry. A zero Size disables
// the cache.
func WithFetchCache(config FetchCacheConfig) Option {
	return func(s *SoC) {
		s.cacheConfig = config
	}
}

// WithResetPC sets the address the core starts from when reset is released.
func WithResetPC(pc uint32) Option {
	return func(s *SoC) {
		s.resetPC = pc
	}
}

// WithLogger sets the logger that receives core fault reports.
func WithLogger(logger log.Logger) Option {
	return func(s *SoC) {
		s.logger = logger
	}
}

func newSoC(rev Revision, opts ...Option) *SoC {
	s := &SoC{
		pins:        pinouts[rev],
		regions:     loader.DefaultRegions(),
		cacheConfig: DefaultFetchCacheConfig(),
		resetPC:     loader.BootROMBase,
		logger:      log.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.bus = &systemBus{}
	for _, r := range s.regions {
		s.bus.mappings = append(s.bus.mappings, mapping{
			region:   r,
			memory:   NewMemory(r.Size),
			readOnly: r.Name == loader.BootROMName,
		})
	}
	if s.pins.uart {
		s.uart = newUARTDevice()
		s.bus.uart = s.uart
	}

	coreOpts := []emu.EmulatorOption{emu.WithResetPC(s.resetPC)}
	if s.cacheConfig.Size > 0 {
		s.cache = NewFetchCache(s.cacheConfig, s.bus)
		coreOpts = append(coreOpts, emu.WithFetcher(s.cache))
	}
	s.core = emu.NewEmulator(s.bus, coreOpts...)

	// Pins idle out of reset.
	s.resetPin = s.pins.activeLow

	return s
}

// SetClock drives the clock pin.
func (s *SoC) SetClock(high bool) {
	s.clock = high
}

// Clock returns the clock pin level.
func (s *SoC) Clock() bool {
	return s.clock
}

// SetReset drives the reset pin so that asserted means "in reset",
// whatever the pin polarity.
func (s *SoC) SetReset(asserted bool) {
	s.resetPin = asserted != s.pins.activeLow
}

func (s *SoC) inReset() bool {
	return s.resetPin != s.pins.activeLow
}

// Eval propagates inputs. The core advances one instruction on each rising
// clock edge outside reset.
func (s *SoC) Eval() {
	rising := s.clock && !s.lastClock
	s.lastClock = s.clock

	if s.uart != nil {
		s.uart.sample()
	}
	if !rising {
		return
	}

	if s.inReset() {
		s.core.Reset()
		if s.cache != nil {
			s.cache.Reset()
		}
		if s.uart != nil {
			s.uart.reset()
		}
		s.lastErr = nil
		return
	}

	if s.uart != nil {
		s.uart.endTxPulse()
	}
	if s.core.Halted() {
		return
	}

	result := s.core.Step()
	if result.Stored && s.cache != nil {
		s.cache.Invalidate(result.StoreAddr)
	}
	if result.Err != nil {
		s.lastErr = result.Err
		level.Warn(s.logger).Log("msg", "core halted on fault", "err", result.Err)
	}
}

// Region returns the storage behind the named region.
func (s *SoC) Region(name string) (hw.Memory, error) {
	for _, m := range s.bus.mappings {
		if m.region.Name == name {
			return m.memory, nil
		}
	}
	return nil, errors.Wrapf(hw.ErrNoRegion, "%q", name)
}

// Regions returns the memory map in lookup order.
func (s *SoC) Regions() []loader.MemoryRegion {
	return append([]loader.MemoryRegion(nil), s.regions...)
}

// Register returns integer register i; out-of-range indices read as zero.
func (s *SoC) Register(i int) uint64 {
	if i < 0 || i >= 32 {
		return 0
	}
	return uint64(s.core.RegFile().ReadReg(uint8(i)))
}

// PC returns the core's program counter.
func (s *SoC) PC() uint32 {
	return s.core.RegFile().PC
}

// Halted reports whether the core has stopped.
func (s *SoC) Halted() bool {
	return s.core.Halted()
}

// Fault returns the error that halted the core, if any.
func (s *SoC) Fault() error {
	return s.lastErr
}

// Close releases the model.
func (s *SoC) Close() error {
	return nil
}

// Stats returns counters describing the last run.
func (s *SoC) Stats() map[string]uint64 {
	stats := map[string]uint64{
		"instructions":   s.core.InstructionCount(),
		"ignored_writes": s.bus.ignoredWrites,
	}
	if s.cache != nil {
		cs := s.cache.Stats()
		stats["fetch_hits"] = cs.Hits
		stats["fetch_misses"] = cs.Misses
		stats["fetch_evictions"] = cs.Evictions
	}
	if s.uart != nil {
		stats["uart_tx_bytes"] = s.uart.txCount
		stats["uart_rx_dropped"] = s.uart.dropped
	}
	return stats
}

// Signals implements hw.Probe.
func (s *SoC) Signals() []hw.Signal {
	signals := []hw.Signal{
		{Name: s.pins.clock, Width: 1, Value: bit(s.clock)},
		{Name: s.pins.reset, Width: 1, Value: bit(s.resetPin)},
		{Name: "pc", Width: 32, Value: uint64(s.PC())},
		{Name: "halted", Width: 1, Value: bit(s.core.Halted())},
	}
	if s.uart != nil {
		signals = append(signals,
			hw.Signal{Name: "uart_rx_valid", Width: 1, Value: bit(s.uart.rxValid)},
			hw.Signal{Name: "uart_rx_byte", Width: 8, Value: uint64(s.uart.rxByte)},
			hw.Signal{Name: "uart_tx_valid", Width: 1, Value: bit(s.uart.txValid)},
			hw.Signal{Name: "uart_tx_byte", Width: 8, Value: uint64(s.uart.txByte)},
		)
	}
	return signals
}

func bit(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

// RevisionA is the pinout with an active-high reset and no UART.
type RevisionA struct {
	*SoC
}

// NewRevisionA creates a revision A model.
func NewRevisionA(opts ...Option) *RevisionA {
	return &RevisionA{SoC: newSoC(RevA, opts...)}
}

// RevisionB is the pinout with an active-low rst_n and UART pins.
type RevisionB struct {
	*SoC
}

// NewRevisionB creates a revision B model.
func NewRevisionB(opts ...Option) *RevisionB {
	return &RevisionB{SoC: newSoC(RevB, opts...)}
}

// SetRxByte drives uart_rx_byte.
func (r *RevisionB) SetRxByte(b byte) { r.uart.rxByte = b }

// SetRxValid drives uart_rx_valid.
func (r *RevisionB) SetRxValid(valid bool) { r.uart.rxValid = valid }

// RxValid returns the uart_rx_valid level.
func (r *RevisionB) RxValid() bool { return r.uart.rxValid }

// TxValid returns the uart_tx_valid level.
func (r *RevisionB) TxValid() bool { return r.uart.txValid }

// TxByte returns uart_tx_byte.
func (r *RevisionB) TxByte() byte { return r.uart.txByte }

// Open creates a model for the named revision.
func Open(rev Revision, opts ...Option) (hw.Model, error) {
	switch Revision(strings.ToLower(string(rev))) {
	case RevA:
		return NewRevisionA(opts...), nil
	case RevB:
		return NewRevisionB(opts...), nil
	}
	return nil, errors.Wrapf(ErrUnknownRevision, "%q", rev)
}
