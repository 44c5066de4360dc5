package insts

// Op represents an RV32IM operation.
type Op uint16

// RV32IM operations.
const (
	OpUnknown Op = iota
	OpLUI
	OpAUIPC
	OpJAL
	OpJALR
	OpBEQ
	OpBNE
	OpBLT
	OpBGE
	OpBLTU
	OpBGEU
	OpLB
	OpLH
	OpLW
	OpLBU
	OpLHU
	OpSB
	OpSH
	OpSW
	OpADDI
	OpSLTI
	OpSLTIU
	OpXORI
	OpORI
	OpANDI
	OpSLLI
	OpSRLI
	OpSRAI
	OpADD
	OpSUB
	OpSLL
	OpSLT
	OpSLTU
	OpXOR
	OpSRL
	OpSRA
	OpOR
	OpAND
	OpMUL
	OpMULH
	OpMULHSU
	OpMULHU
	OpDIV
	OpDIVU
	OpREM
	OpREMU
	OpFENCE
	OpECALL
	OpEBREAK
	OpMRET
	OpCSRRW
	OpCSRRS
	OpCSRRC
	OpCSRRWI
	OpCSRRSI
	OpCSRRCI
)

var opNames = [...]string{
	OpUnknown: "unknown",
	OpLUI:     "lui", OpAUIPC: "auipc", OpJAL: "jal", OpJALR: "jalr",
	OpBEQ: "beq", OpBNE: "bne", OpBLT: "blt", OpBGE: "bge", OpBLTU: "bltu", OpBGEU: "bgeu",
	OpLB: "lb", OpLH: "lh", OpLW: "lw", OpLBU: "lbu", OpLHU: "lhu",
	OpSB: "sb", OpSH: "sh", OpSW: "sw",
	OpADDI: "addi", OpSLTI: "slti", OpSLTIU: "sltiu", OpXORI: "xori", OpORI: "ori", OpANDI: "andi",
	OpSLLI: "slli", OpSRLI: "srli", OpSRAI: "srai",
	OpADD: "add", OpSUB: "sub", OpSLL: "sll", OpSLT: "slt", OpSLTU: "sltu",
	OpXOR: "xor", OpSRL: "srl", OpSRA: "sra", OpOR: "or", OpAND: "and",
	OpMUL: "mul", OpMULH: "mulh", OpMULHSU: "mulhsu", OpMULHU: "mulhu",
	OpDIV: "div", OpDIVU: "divu", OpREM: "rem", OpREMU: "remu",
	OpFENCE: "fence", OpECALL: "ecall", OpEBREAK: "ebreak", OpMRET: "mret",
	OpCSRRW: "csrrw", OpCSRRS: "csrrs", OpCSRRC: "csrrc",
	OpCSRRWI: "csrrwi", OpCSRRSI: "csrrsi", OpCSRRCI: "csrrci",
}

func (o Op) String() string {
	if int(o) < len(opNames) {
		return opNames[o]
	}
	return "unknown"
}

// Format represents an instruction encoding format.
type Format uint8

// Instruction formats.
const (
	FormatUnknown Format = iota
	FormatR
	FormatI
	FormatS
	FormatB
	FormatU
	FormatJ
	FormatSystem
)

// Major opcodes (bits [6:0]).
const (
	opcodeLoad    = 0x03
	opcodeMiscMem = 0x0F
	opcodeOpImm   = 0x13
	opcodeAUIPC   = 0x17
	opcodeStore   = 0x23
	opcodeOp      = 0x33
	opcodeLUI     = 0x37
	opcodeBranch  = 0x63
	opcodeJALR    = 0x67
	opcodeJAL     = 0x6F
	opcodeSystem  = 0x73
)

// Instruction represents a decoded RV32IM instruction.
type Instruction struct {
	Op     Op
	Format Format

	Rd  uint8
	Rs1 uint8
	Rs2 uint8

	// Imm is the sign-extended immediate. For shifts it is the shift amount,
	// for CSR-immediate forms it is the zero-extended uimm field.
	Imm int32

	// CSR is the CSR address for Zicsr instructions.
	CSR uint16

	Raw uint32
}

// Decoder decodes RV32IM machine code into instructions.
type Decoder struct{}

// NewDecoder creates a new RV32IM instruction decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Decode decodes a 32-bit instruction word. Unrecognized encodings produce
// an instruction with Op == OpUnknown.
func (d *Decoder) Decode(word uint32) *Instruction {
	inst := &Instruction{
		Op:  OpUnknown,
		Raw: word,
		Rd:  uint8((word >> 7) & 0x1F),
		Rs1: uint8((word >> 15) & 0x1F),
		Rs2: uint8((word >> 20) & 0x1F),
	}
	f3 := (word >> 12) & 0x7
	f7 := (word >> 25) & 0x7F

	switch word & 0x7F {
	case opcodeLUI:
		inst.Op, inst.Format, inst.Imm = OpLUI, FormatU, immU(word)
	case opcodeAUIPC:
		inst.Op, inst.Format, inst.Imm = OpAUIPC, FormatU, immU(word)
	case opcodeJAL:
		inst.Op, inst.Format, inst.Imm = OpJAL, FormatJ, immJ(word)
	case opcodeJALR:
		if f3 == 0 {
			inst.Op, inst.Format, inst.Imm = OpJALR, FormatI, immI(word)
		}
	case opcodeBranch:
		d.decodeBranch(word, f3, inst)
	case opcodeLoad:
		d.decodeLoad(word, f3, inst)
	case opcodeStore:
		d.decodeStore(word, f3, inst)
	case opcodeOpImm:
		d.decodeOpImm(word, f3, f7, inst)
	case opcodeOp:
		d.decodeOp(f3, f7, inst)
	case opcodeMiscMem:
		inst.Op, inst.Format = OpFENCE, FormatI
	case opcodeSystem:
		d.decodeSystem(word, f3, inst)
	}

	return inst
}

func (d *Decoder) decodeBranch(word, f3 uint32, inst *Instruction) {
	ops := [8]Op{OpBEQ, OpBNE, OpUnknown, OpUnknown, OpBLT, OpBGE, OpBLTU, OpBGEU}
	if ops[f3] == OpUnknown {
		return
	}
	inst.Op, inst.Format, inst.Imm = ops[f3], FormatB, immB(word)
}

func (d *Decoder) decodeLoad(word, f3 uint32, inst *Instruction) {
	ops := [8]Op{OpLB, OpLH, OpLW, OpUnknown, OpLBU, OpLHU, OpUnknown, OpUnknown}
	if ops[f3] == OpUnknown {
		return
	}
	inst.Op, inst.Format, inst.Imm = ops[f3], FormatI, immI(word)
}

func (d *Decoder) decodeStore(word, f3 uint32, inst *Instruction) {
	ops := [8]Op{OpSB, OpSH, OpSW}
	if f3 > 2 {
		return
	}
	inst.Op, inst.Format, inst.Imm = ops[f3], FormatS, immS(word)
}

func (d *Decoder) decodeOpImm(word, f3, f7 uint32, inst *Instruction) {
	inst.Format = FormatI
	inst.Imm = immI(word)

	switch f3 {
	case 0x0:
		inst.Op = OpADDI
	case 0x2:
		inst.Op = OpSLTI
	case 0x3:
		inst.Op = OpSLTIU
	case 0x4:
		inst.Op = OpXORI
	case 0x6:
		inst.Op = OpORI
	case 0x7:
		inst.Op = OpANDI
	case 0x1:
		if f7 == 0x00 {
			inst.Op, inst.Imm = OpSLLI, int32(inst.Rs2)
		}
	case 0x5:
		switch f7 {
		case 0x00:
			inst.Op, inst.Imm = OpSRLI, int32(inst.Rs2)
		case 0x20:
			inst.Op, inst.Imm = OpSRAI, int32(inst.Rs2)
		}
	}
}

func (d *Decoder) decodeOp(f3, f7 uint32, inst *Instruction) {
	inst.Format = FormatR

	switch f7 {
	case 0x00:
		inst.Op = [8]Op{OpADD, OpSLL, OpSLT, OpSLTU, OpXOR, OpSRL, OpOR, OpAND}[f3]
	case 0x20:
		switch f3 {
		case 0x0:
			inst.Op = OpSUB
		case 0x5:
			inst.Op = OpSRA
		}
	case 0x01:
		inst.Op = [8]Op{OpMUL, OpMULH, OpMULHSU, OpMULHU, OpDIV, OpDIVU, OpREM, OpREMU}[f3]
	}
}

func (d *Decoder) decodeSystem(word, f3 uint32, inst *Instruction) {
	inst.Format = FormatSystem
	inst.CSR = uint16(word >> 20)

	switch f3 {
	case 0x0:
		switch word {
		case 0x00000073:
			inst.Op = OpECALL
		case 0x00100073:
			inst.Op = OpEBREAK
		case 0x30200073:
			inst.Op = OpMRET
		}
	case 0x1:
		inst.Op = OpCSRRW
	case 0x2:
		inst.Op = OpCSRRS
	case 0x3:
		inst.Op = OpCSRRC
	case 0x5:
		inst.Op, inst.Imm = OpCSRRWI, int32(inst.Rs1)
	case 0x6:
		inst.Op, inst.Imm = OpCSRRSI, int32(inst.Rs1)
	case 0x7:
		inst.Op, inst.Imm = OpCSRRCI, int32(inst.Rs1)
	}
}

func signExtend(v uint32, bits uint) int32 {
	shift := 32 - bits
	return int32(v<<shift) >> shift
}

func immI(word uint32) int32 { return signExtend(word>>20, 12) }

func immS(word uint32) int32 {
	return signExtend((word>>25)<<5|(word>>7)&0x1F, 12)
}

func immB(word uint32) int32 {
	imm := (word>>31&1)<<12 |
		(word>>25&0x3F)<<5 |
		(word>>8&0xF)<<1 |
		(word>>7&1)<<11
	return signExtend(imm, 13)
}

func immU(word uint32) int32 { return int32(word & 0xFFFFF000) }

func immJ(word uint32) int32 {
	imm := (word>>31&1)<<20 |
		(word>>21&0x3FF)<<1 |
		(word>>20&1)<<11 |
		(word>>12&0xFF)<<12
	return signExtend(imm, 21)
}
