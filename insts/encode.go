package insts

// EncodeR assembles an R-type instruction word.
func EncodeR(opcode, rd, f3, rs1, rs2, f7 uint32) uint32 {
	return f7<<25 | (rs2&0x1F)<<20 | (rs1&0x1F)<<15 | f3<<12 | (rd&0x1F)<<7 | opcode
}

// EncodeI assembles an I-type instruction word. Only the low 12 bits of imm
// are used.
func EncodeI(opcode, rd, f3, rs1 uint32, imm int32) uint32 {
	return (uint32(imm)&0xFFF)<<20 | (rs1&0x1F)<<15 | f3<<12 | (rd&0x1F)<<7 | opcode
}

// EncodeS assembles an S-type instruction word.
func EncodeS(opcode, f3, rs1, rs2 uint32, imm int32) uint32 {
	u := uint32(imm)
	return (u>>5&0x7F)<<25 | (rs2&0x1F)<<20 | (rs1&0x1F)<<15 | f3<<12 | (u&0x1F)<<7 | opcode
}

// EncodeB assembles a B-type instruction word. imm is a byte offset and
// must be even.
func EncodeB(opcode, f3, rs1, rs2 uint32, imm int32) uint32 {
	u := uint32(imm)
	return (u>>12&1)<<31 | (u>>5&0x3F)<<25 | (rs2&0x1F)<<20 | (rs1&0x1F)<<15 |
		f3<<12 | (u>>1&0xF)<<8 | (u>>11&1)<<7 | opcode
}

// EncodeU assembles a U-type instruction word. imm holds the upper 20 bits
// in place, as in the decoded Instruction.Imm.
func EncodeU(opcode, rd uint32, imm int32) uint32 {
	return uint32(imm)&0xFFFFF000 | (rd&0x1F)<<7 | opcode
}

// EncodeJ assembles a J-type instruction word. imm is a byte offset.
func EncodeJ(opcode, rd uint32, imm int32) uint32 {
	u := uint32(imm)
	return (u>>20&1)<<31 | (u>>1&0x3FF)<<21 | (u>>11&1)<<20 | (u>>12&0xFF)<<12 |
		(rd&0x1F)<<7 | opcode
}

// Convenience encoders for the instructions the built-in programs use.

func LUI(rd uint32, imm int32) uint32   { return EncodeU(opcodeLUI, rd, imm) }
func AUIPC(rd uint32, imm int32) uint32 { return EncodeU(opcodeAUIPC, rd, imm) }
func JAL(rd uint32, off int32) uint32   { return EncodeJ(opcodeJAL, rd, off) }

func JALR(rd, rs1 uint32, imm int32) uint32 { return EncodeI(opcodeJALR, rd, 0, rs1, imm) }

func BEQ(rs1, rs2 uint32, off int32) uint32 { return EncodeB(opcodeBranch, 0, rs1, rs2, off) }
func BNE(rs1, rs2 uint32, off int32) uint32 { return EncodeB(opcodeBranch, 1, rs1, rs2, off) }
func BLT(rs1, rs2 uint32, off int32) uint32 { return EncodeB(opcodeBranch, 4, rs1, rs2, off) }
func BGE(rs1, rs2 uint32, off int32) uint32 { return EncodeB(opcodeBranch, 5, rs1, rs2, off) }

func LB(rd, rs1 uint32, imm int32) uint32  { return EncodeI(opcodeLoad, rd, 0, rs1, imm) }
func LW(rd, rs1 uint32, imm int32) uint32  { return EncodeI(opcodeLoad, rd, 2, rs1, imm) }
func LBU(rd, rs1 uint32, imm int32) uint32 { return EncodeI(opcodeLoad, rd, 4, rs1, imm) }

func SB(rs2, rs1 uint32, imm int32) uint32 { return EncodeS(opcodeStore, 0, rs1, rs2, imm) }
func SW(rs2, rs1 uint32, imm int32) uint32 { return EncodeS(opcodeStore, 2, rs1, rs2, imm) }

func ADDI(rd, rs1 uint32, imm int32) uint32 { return EncodeI(opcodeOpImm, rd, 0, rs1, imm) }
func ANDI(rd, rs1 uint32, imm int32) uint32 { return EncodeI(opcodeOpImm, rd, 7, rs1, imm) }
func SLLI(rd, rs1, shamt uint32) uint32     { return EncodeI(opcodeOpImm, rd, 1, rs1, int32(shamt&0x1F)) }

func ADD(rd, rs1, rs2 uint32) uint32 { return EncodeR(opcodeOp, rd, 0, rs1, rs2, 0x00) }
func SUB(rd, rs1, rs2 uint32) uint32 { return EncodeR(opcodeOp, rd, 0, rs1, rs2, 0x20) }
func MUL(rd, rs1, rs2 uint32) uint32 { return EncodeR(opcodeOp, rd, 0, rs1, rs2, 0x01) }
func DIV(rd, rs1, rs2 uint32) uint32 { return EncodeR(opcodeOp, rd, 4, rs1, rs2, 0x01) }
func REM(rd, rs1, rs2 uint32) uint32 { return EncodeR(opcodeOp, rd, 6, rs1, rs2, 0x01) }

func CSRRS(rd, csr, rs1 uint32) uint32 {
	return EncodeI(opcodeSystem, rd, 2, rs1, int32(csr&0xFFF))
}

// ECALL, EBREAK and MRET have fixed encodings.
const (
	ECALL  uint32 = 0x00000073
	EBREAK uint32 = 0x00100073
	MRET   uint32 = 0x30200073
	NOP    uint32 = 0x00000013
)
