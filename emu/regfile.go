// Package emu provides functional RV32IM emulation for the reference SoC.
package emu

// RegFile represents the RV32 integer register file.
// It contains 32 general-purpose registers (x0-x31) and the program counter.
type RegFile struct {
	// X holds general-purpose registers x0-x31.
	// X[0] is hardwired to zero; writes to it are discarded.
	X [32]uint32

	// PC is the program counter.
	PC uint32
}

// ReadReg reads a register value. Register 0 and out-of-range indices
// return 0.
func (r *RegFile) ReadReg(reg uint8) uint32 {
	if reg == 0 || reg >= 32 {
		return 0
	}
	return r.X[reg]
}

// WriteReg writes a value to a register. Writes to x0 are ignored.
func (r *RegFile) WriteReg(reg uint8, value uint32) {
	if reg == 0 || reg >= 32 {
		return
	}
	r.X[reg] = value
}

// Clear zeroes every register and sets the program counter to pc.
func (r *RegFile) Clear(pc uint32) {
	r.X = [32]uint32{}
	r.PC = pc
}
