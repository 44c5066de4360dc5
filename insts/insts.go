// Package insts provides RV32IM instruction definitions, decoding and
// encoding for the reference SoC model.
//
// It supports:
//   - RV32I base integer instructions (LUI, AUIPC, JAL, JALR, branches,
//     loads, stores, register-immediate and register-register ALU ops)
//   - the M extension (MUL*, DIV*, REM*)
//   - FENCE, ECALL, EBREAK, MRET and the six Zicsr instructions
//
// Usage:
//
//	decoder := insts.NewDecoder()
//	inst := decoder.Decode(insts.ADDI(1, 0, 42)) // addi x1, x0, 42
//	fmt.Printf("Op: %v, Rd: %d, Imm: %d\n", inst.Op, inst.Rd, inst.Imm)
package insts
