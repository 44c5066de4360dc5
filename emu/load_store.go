package emu

import (
	"github.com/pkg/errors"

	"github.com/sarchlab/socsim/insts"
)

// LoadStoreUnit implements RV32I loads and stores against a Bus.
type LoadStoreUnit struct {
	regFile *RegFile
	bus     Bus
}

// NewLoadStoreUnit creates a new LoadStoreUnit connected to the given
// register file and bus.
func NewLoadStoreUnit(regFile *RegFile, bus Bus) *LoadStoreUnit {
	return &LoadStoreUnit{
		regFile: regFile,
		bus:     bus,
	}
}

// Load performs LB/LH/LW/LBU/LHU: rd = mem[rs1 + imm].
func (lsu *LoadStoreUnit) Load(inst *insts.Instruction) error {
	addr := lsu.regFile.ReadReg(inst.Rs1) + uint32(inst.Imm)

	var (
		size   int
		signed bool
	)
	switch inst.Op {
	case insts.OpLB:
		size, signed = 1, true
	case insts.OpLH:
		size, signed = 2, true
	case insts.OpLW:
		size = 4
	case insts.OpLBU:
		size = 1
	case insts.OpLHU:
		size = 2
	}

	value, err := lsu.bus.Load(addr, size)
	if err != nil {
		return errors.Wrapf(err, "%s at 0x%08x", inst.Op, addr)
	}
	if signed {
		value = uint32(int32(value<<(32-8*size)) >> (32 - 8*size))
	}
	lsu.regFile.WriteReg(inst.Rd, value)
	return nil
}

// Store performs SB/SH/SW: mem[rs1 + imm] = rs2. It returns the address
// written so callers can invalidate cached copies.
func (lsu *LoadStoreUnit) Store(inst *insts.Instruction) (uint32, error) {
	addr := lsu.regFile.ReadReg(inst.Rs1) + uint32(inst.Imm)
	value := lsu.regFile.ReadReg(inst.Rs2)

	size := 4
	switch inst.Op {
	case insts.OpSB:
		size = 1
	case insts.OpSH:
		size = 2
	}

	if err := lsu.bus.Store(addr, size, value); err != nil {
		return addr, errors.Wrapf(err, "%s at 0x%08x", inst.Op, addr)
	}
	return addr, nil
}
