package programs

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/sarchlab/socsim/insts"
)

// Assembler accumulates instruction words and resolves PC-relative label
// references when Words or Bytes is called.
type Assembler struct {
	base   uint32
	words  []uint32
	labels map[string]uint32
	fixups []fixup
}

type fixup struct {
	index  int
	label  string
	encode func(off int32) uint32
}

// NewAssembler starts a program whose first word sits at base.
func NewAssembler(base uint32) *Assembler {
	return &Assembler{
		base:   base,
		labels: make(map[string]uint32),
	}
}

// PC returns the address of the next word.
func (a *Assembler) PC() uint32 {
	return a.base + uint32(4*len(a.words))
}

// Emit appends instruction words.
func (a *Assembler) Emit(words ...uint32) *Assembler {
	a.words = append(a.words, words...)
	return a
}

// Label binds name to the current PC.
func (a *Assembler) Label(name string) *Assembler {
	a.labels[name] = a.PC()
	return a
}

// To emits a PC-relative instruction targeting label. encode receives the
// byte offset from this instruction to the label.
func (a *Assembler) To(label string, encode func(off int32) uint32) *Assembler {
	a.fixups = append(a.fixups, fixup{index: len(a.words), label: label, encode: encode})
	a.words = append(a.words, 0)
	return a
}

// LoadImm emits the shortest LUI/ADDI sequence that sets rd to v.
func (a *Assembler) LoadImm(rd, v uint32) *Assembler {
	upper := (v + 0x800) & 0xFFFFF000
	lower := int32(v - upper)
	if upper == 0 {
		return a.Emit(insts.ADDI(rd, 0, lower))
	}
	a.Emit(insts.LUI(rd, int32(upper)))
	if lower != 0 {
		a.Emit(insts.ADDI(rd, rd, lower))
	}
	return a
}

// Words resolves labels and returns the program.
func (a *Assembler) Words() ([]uint32, error) {
	out := append([]uint32(nil), a.words...)
	for _, f := range a.fixups {
		target, ok := a.labels[f.label]
		if !ok {
			return nil, errors.Errorf("undefined label %q", f.label)
		}
		pc := a.base + uint32(4*f.index)
		out[f.index] = f.encode(int32(target - pc))
	}
	return out, nil
}

// Bytes returns the resolved program as little-endian bytes.
func (a *Assembler) Bytes() ([]byte, error) {
	words, err := a.Words()
	if err != nil {
		return nil, err
	}
	return BuildProgram(words...), nil
}

// BuildProgram creates little-endian program bytes from instruction words.
func BuildProgram(words ...uint32) []byte {
	program := make([]byte, 4*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint32(program[4*i:], w)
	}
	return program
}
