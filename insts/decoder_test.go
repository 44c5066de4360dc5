package insts_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/socsim/insts"
)

var _ = Describe("Decoder", func() {
	var decoder *insts.Decoder

	BeforeEach(func() {
		decoder = insts.NewDecoder()
	})

	Describe("Known encodings", func() {
		// addi x1, x0, 42 -> 0x02A00093
		It("should decode ADDI", func() {
			inst := decoder.Decode(0x02A00093)

			Expect(inst.Op).To(Equal(insts.OpADDI))
			Expect(inst.Format).To(Equal(insts.FormatI))
			Expect(inst.Rd).To(Equal(uint8(1)))
			Expect(inst.Rs1).To(Equal(uint8(0)))
			Expect(inst.Imm).To(Equal(int32(42)))
		})

		// lui x5, 0x12345 -> 0x123452B7
		It("should decode LUI with the immediate in place", func() {
			inst := decoder.Decode(0x123452B7)

			Expect(inst.Op).To(Equal(insts.OpLUI))
			Expect(inst.Rd).To(Equal(uint8(5)))
			Expect(inst.Imm).To(Equal(int32(0x12345000)))
		})

		// beq x1, x2, -4 -> 0xFE208EE3
		It("should decode a backward BEQ", func() {
			inst := decoder.Decode(0xFE208EE3)

			Expect(inst.Op).To(Equal(insts.OpBEQ))
			Expect(inst.Format).To(Equal(insts.FormatB))
			Expect(inst.Rs1).To(Equal(uint8(1)))
			Expect(inst.Rs2).To(Equal(uint8(2)))
			Expect(inst.Imm).To(Equal(int32(-4)))
		})

		// mul x3, x1, x2 -> 0x022081B3
		It("should decode MUL", func() {
			inst := decoder.Decode(0x022081B3)

			Expect(inst.Op).To(Equal(insts.OpMUL))
			Expect(inst.Format).To(Equal(insts.FormatR))
			Expect(inst.Rd).To(Equal(uint8(3)))
		})

		// sw x2, 8(x1) -> 0x0020A423
		It("should decode SW", func() {
			inst := decoder.Decode(0x0020A423)

			Expect(inst.Op).To(Equal(insts.OpSW))
			Expect(inst.Rs1).To(Equal(uint8(1)))
			Expect(inst.Rs2).To(Equal(uint8(2)))
			Expect(inst.Imm).To(Equal(int32(8)))
		})

		// csrrs x1, mhartid, x0 -> 0xF14020F3
		It("should decode CSRRS with the CSR address", func() {
			inst := decoder.Decode(0xF14020F3)

			Expect(inst.Op).To(Equal(insts.OpCSRRS))
			Expect(inst.CSR).To(Equal(uint16(0xF14)))
			Expect(inst.Rd).To(Equal(uint8(1)))
		})

		// srai x1, x2, 3 -> 0x40315093
		It("should decode SRAI with the shift amount", func() {
			inst := decoder.Decode(0x40315093)

			Expect(inst.Op).To(Equal(insts.OpSRAI))
			Expect(inst.Imm).To(Equal(int32(3)))
		})
	})

	Describe("System instructions", func() {
		DescribeTable("fixed encodings",
			func(word uint32, op insts.Op) {
				Expect(decoder.Decode(word).Op).To(Equal(op))
			},
			Entry("ecall", insts.ECALL, insts.OpECALL),
			Entry("ebreak", insts.EBREAK, insts.OpEBREAK),
			Entry("mret", insts.MRET, insts.OpMRET),
		)
	})

	Describe("Encoders", func() {
		It("should agree with the decoder on signed offsets", func() {
			Expect(decoder.Decode(insts.JAL(1, -2048)).Imm).To(Equal(int32(-2048)))
			Expect(decoder.Decode(insts.BNE(3, 4, 4094)).Imm).To(Equal(int32(4094)))
			Expect(decoder.Decode(insts.SW(5, 6, -12)).Imm).To(Equal(int32(-12)))
			Expect(decoder.Decode(insts.ADDI(1, 1, -1)).Imm).To(Equal(int32(-1)))
		})

		It("should produce the canonical NOP", func() {
			Expect(insts.ADDI(0, 0, 0)).To(Equal(insts.NOP))
		})
	})

	Describe("Unknown encodings", func() {
		It("should return OpUnknown for an all-zero word", func() {
			Expect(decoder.Decode(0).Op).To(Equal(insts.OpUnknown))
		})

		It("should return OpUnknown for an unused load width", func() {
			Expect(decoder.Decode(insts.EncodeI(0x03, 1, 3, 2, 0)).Op).To(Equal(insts.OpUnknown))
		})
	})
})
