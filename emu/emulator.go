package emu

import (
	"github.com/pkg/errors"

	"github.com/sarchlab/socsim/insts"
)

// StepResult represents the result of executing a single instruction.
type StepResult struct {
	// Halted is true once the core stops (ECALL, EBREAK or a fault).
	Halted bool

	// StoreAddr is valid when Stored is true and holds the address of the
	// store the instruction performed.
	Stored    bool
	StoreAddr uint32

	// Err is set if the instruction faulted.
	Err error
}

// Emulator executes RV32IM instructions functionally, one per Step.
type Emulator struct {
	regFile *RegFile
	csrs    *CSRFile
	bus     Bus
	fetcher Fetcher
	decoder *insts.Decoder

	// Execution units
	alu        *ALU
	lsu        *LoadStoreUnit
	branchUnit *BranchUnit

	resetPC          uint32
	halted           bool
	instructionCount uint64
}

// EmulatorOption is a functional option for configuring the Emulator.
type EmulatorOption func(*Emulator)

// WithFetcher routes instruction fetches through f instead of the bus.
func WithFetcher(f Fetcher) EmulatorOption {
	return func(e *Emulator) {
		e.fetcher = f
	}
}

// WithResetPC sets the address execution starts from after Reset.
func WithResetPC(pc uint32) EmulatorOption {
	return func(e *Emulator) {
		e.resetPC = pc
	}
}

// NewEmulator creates a new RV32IM emulator attached to bus.
func NewEmulator(bus Bus, opts ...EmulatorOption) *Emulator {
	e := &Emulator{
		regFile:    &RegFile{},
		bus:        bus,
		decoder:    insts.NewDecoder(),
		alu:        NewALU(),
		branchUnit: NewBranchUnit(),
	}

	for _, opt := range opts {
		opt(e)
	}

	e.csrs = newCSRFile(&e.instructionCount)
	e.lsu = NewLoadStoreUnit(e.regFile, e.bus)
	e.Reset()

	return e
}

// RegFile returns the emulator's register file.
func (e *Emulator) RegFile() *RegFile {
	return e.regFile
}

// CSRs returns the emulator's CSR file.
func (e *Emulator) CSRs() *CSRFile {
	return e.csrs
}

// InstructionCount returns the number of instructions retired since reset.
func (e *Emulator) InstructionCount() uint64 {
	return e.instructionCount
}

// Halted reports whether the core has stopped.
func (e *Emulator) Halted() bool {
	return e.halted
}

// Reset clears architectural state and restarts at the reset PC.
func (e *Emulator) Reset() {
	e.regFile.Clear(e.resetPC)
	e.csrs.Clear()
	e.halted = false
	e.instructionCount = 0
}

// Step executes a single instruction. A halted core does nothing.
func (e *Emulator) Step() StepResult {
	if e.halted {
		return StepResult{Halted: true}
	}

	pc := e.regFile.PC
	word, err := e.fetch(pc)
	if err != nil {
		return e.fault(errors.Wrapf(err, "fetch at PC=0x%08X", pc))
	}

	inst := e.decoder.Decode(word)
	result := e.execute(inst)
	if result.Err != nil {
		return e.fault(result.Err)
	}

	e.instructionCount++
	return result
}

func (e *Emulator) fetch(pc uint32) (uint32, error) {
	if e.fetcher != nil {
		return e.fetcher.Fetch(pc)
	}
	return e.bus.Load(pc, 4)
}

func (e *Emulator) fault(err error) StepResult {
	e.halted = true
	return StepResult{Halted: true, Err: err}
}

// execute dispatches and executes a decoded instruction.
func (e *Emulator) execute(inst *insts.Instruction) StepResult {
	rf := e.regFile
	pc := rf.PC
	next := pc + 4

	switch inst.Format {
	case insts.FormatU:
		if inst.Op == insts.OpLUI {
			rf.WriteReg(inst.Rd, uint32(inst.Imm))
		} else {
			rf.WriteReg(inst.Rd, pc+uint32(inst.Imm))
		}
	case insts.FormatJ:
		rf.WriteReg(inst.Rd, next)
		next = pc + uint32(inst.Imm)
	case insts.FormatB:
		if e.branchUnit.Taken(inst.Op, rf.ReadReg(inst.Rs1), rf.ReadReg(inst.Rs2)) {
			next = pc + uint32(inst.Imm)
		}
	case insts.FormatS:
		addr, err := e.lsu.Store(inst)
		if err != nil {
			return StepResult{Err: err}
		}
		rf.PC = next
		return StepResult{Stored: true, StoreAddr: addr}
	case insts.FormatR:
		if !e.executeALU(inst, rf.ReadReg(inst.Rs2)) {
			return e.unknown(inst, pc)
		}
	case insts.FormatI:
		switch inst.Op {
		case insts.OpJALR:
			target := (rf.ReadReg(inst.Rs1) + uint32(inst.Imm)) &^ 1
			rf.WriteReg(inst.Rd, next)
			next = target
		case insts.OpLB, insts.OpLH, insts.OpLW, insts.OpLBU, insts.OpLHU:
			if err := e.lsu.Load(inst); err != nil {
				return StepResult{Err: err}
			}
		case insts.OpFENCE:
		default:
			if !e.executeALU(inst, uint32(inst.Imm)) {
				return e.unknown(inst, pc)
			}
		}
	case insts.FormatSystem:
		return e.executeSystem(inst, next)
	default:
		return e.unknown(inst, pc)
	}

	rf.PC = next
	return StepResult{}
}

func (e *Emulator) executeALU(inst *insts.Instruction, operand uint32) bool {
	value, ok := e.alu.Execute(inst.Op, e.regFile.ReadReg(inst.Rs1), operand)
	if ok {
		e.regFile.WriteReg(inst.Rd, value)
	}
	return ok
}

// executeSystem handles ECALL/EBREAK (halt), MRET and the Zicsr group.
func (e *Emulator) executeSystem(inst *insts.Instruction, next uint32) StepResult {
	rf := e.regFile

	switch inst.Op {
	case insts.OpECALL, insts.OpEBREAK:
		e.halted = true
		return StepResult{Halted: true}
	case insts.OpMRET:
		rf.PC = e.csrs.Read(CSRMEPC)
		return StepResult{}
	case insts.OpUnknown:
		return e.unknown(inst, rf.PC)
	}

	old := e.csrs.Read(inst.CSR)
	src := rf.ReadReg(inst.Rs1)
	if inst.Op == insts.OpCSRRWI || inst.Op == insts.OpCSRRSI || inst.Op == insts.OpCSRRCI {
		src = uint32(inst.Imm)
	}

	switch inst.Op {
	case insts.OpCSRRW, insts.OpCSRRWI:
		e.csrs.Write(inst.CSR, src)
	case insts.OpCSRRS, insts.OpCSRRSI:
		if inst.Rs1 != 0 {
			e.csrs.Write(inst.CSR, old|src)
		}
	case insts.OpCSRRC, insts.OpCSRRCI:
		if inst.Rs1 != 0 {
			e.csrs.Write(inst.CSR, old&^src)
		}
	}
	rf.WriteReg(inst.Rd, old)
	rf.PC = next

	return StepResult{}
}

func (e *Emulator) unknown(inst *insts.Instruction, pc uint32) StepResult {
	return StepResult{
		Err: errors.Errorf("unknown instruction 0x%08X at PC=0x%08X", inst.Raw, pc),
	}
}
