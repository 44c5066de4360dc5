package emu

import (
	"math"

	"github.com/sarchlab/socsim/insts"
)

// ALU implements RV32I register/immediate arithmetic and the M extension.
type ALU struct{}

// NewALU creates a new ALU.
func NewALU() *ALU {
	return &ALU{}
}

// Execute computes op on the two operands. For immediate forms b is the
// sign-extended immediate (or shift amount). ok is false when op is not an
// ALU operation.
func (a *ALU) Execute(op insts.Op, x, y uint32) (result uint32, ok bool) {
	shamt := y & 0x1F

	switch op {
	case insts.OpADD, insts.OpADDI:
		return x + y, true
	case insts.OpSUB:
		return x - y, true
	case insts.OpSLL, insts.OpSLLI:
		return x << shamt, true
	case insts.OpSLT, insts.OpSLTI:
		return boolToWord(int32(x) < int32(y)), true
	case insts.OpSLTU, insts.OpSLTIU:
		return boolToWord(x < y), true
	case insts.OpXOR, insts.OpXORI:
		return x ^ y, true
	case insts.OpSRL, insts.OpSRLI:
		return x >> shamt, true
	case insts.OpSRA, insts.OpSRAI:
		return uint32(int32(x) >> shamt), true
	case insts.OpOR, insts.OpORI:
		return x | y, true
	case insts.OpAND, insts.OpANDI:
		return x & y, true
	}

	return a.executeM(op, x, y)
}

// executeM covers MUL/DIV/REM, including the divide-by-zero and overflow
// results the ISA defines instead of trapping.
func (a *ALU) executeM(op insts.Op, x, y uint32) (uint32, bool) {
	sx, sy := int32(x), int32(y)

	switch op {
	case insts.OpMUL:
		return x * y, true
	case insts.OpMULH:
		return uint32(uint64(int64(sx)*int64(sy)) >> 32), true
	case insts.OpMULHSU:
		return uint32(uint64(int64(sx)*int64(uint64(y))) >> 32), true
	case insts.OpMULHU:
		return uint32(uint64(x) * uint64(y) >> 32), true
	case insts.OpDIV:
		switch {
		case y == 0:
			return math.MaxUint32, true
		case sx == math.MinInt32 && sy == -1:
			return x, true
		}
		return uint32(sx / sy), true
	case insts.OpDIVU:
		if y == 0 {
			return math.MaxUint32, true
		}
		return x / y, true
	case insts.OpREM:
		switch {
		case y == 0:
			return x, true
		case sx == math.MinInt32 && sy == -1:
			return 0, true
		}
		return uint32(sx % sy), true
	case insts.OpREMU:
		if y == 0 {
			return x, true
		}
		return x % y, true
	}

	return 0, false
}

func boolToWord(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}
