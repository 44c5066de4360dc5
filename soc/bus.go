package soc

import (
	"github.com/pkg/errors"

	"github.com/sarchlab/socsim/emu"
	"github.com/sarchlab/socsim/loader"
)

type mapping struct {
	region   loader.MemoryRegion
	memory   *Memory
	readOnly bool
}

// systemBus routes core accesses to memory regions and the UART block.
type systemBus struct {
	mappings []mapping
	uart     *uartDevice

	ignoredWrites uint64
}

func (b *systemBus) find(addr uint32, size int) (*mapping, bool) {
	a := uint64(addr)
	for i := range b.mappings {
		m := &b.mappings[i]
		if m.region.Contains(a) && m.region.Contains(a+uint64(size)-1) {
			return m, true
		}
	}
	return nil, false
}

func (b *systemBus) isUART(addr uint32) bool {
	return b.uart != nil && addr >= UARTBase && addr < UARTBase+UARTSize
}

// Load implements emu.Bus.
func (b *systemBus) Load(addr uint32, size int) (uint32, error) {
	if b.isUART(addr) {
		return b.uart.load(uint64(addr - UARTBase)), nil
	}

	m, ok := b.find(addr, size)
	if !ok {
		return 0, errors.Wrapf(emu.ErrBusFault, "load of %d bytes at 0x%08x", size, addr)
	}
	return m.memory.load(uint64(addr)-m.region.Base, size)
}

// Store implements emu.Bus. Stores into read-only regions are dropped.
func (b *systemBus) Store(addr uint32, size int, value uint32) error {
	if b.isUART(addr) {
		b.uart.store(uint64(addr-UARTBase), value)
		return nil
	}

	m, ok := b.find(addr, size)
	if !ok {
		return errors.Wrapf(emu.ErrBusFault, "store of %d bytes at 0x%08x", size, addr)
	}
	if m.readOnly {
		b.ignoredWrites++
		return nil
	}
	return m.memory.store(uint64(addr)-m.region.Base, size, value)
}
