// Package programs builds small RISC-V ELF images: an in-memory ELF writer
// and the built-in sample programs the CLI can emit.
package programs

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"github.com/sarchlab/socsim/loader"
)

// Segment is one program header and its file contents.
type Segment struct {
	Type  elf.ProgType
	Vaddr uint64
	Data  []byte

	// Filesz overrides the declared file size when non-zero. Bytes beyond
	// Data are not present in the file.
	Filesz uint64
	// Memsz is the in-memory size; values below the file size are raised to it.
	Memsz uint64
}

// Image describes an executable to serialize.
type Image struct {
	Width    loader.WordWidth
	Entry    uint64
	Segments []Segment
}

// Text returns a PT_LOAD segment holding code at vaddr.
func Text(vaddr uint64, code []byte) Segment {
	return Segment{Type: elf.PT_LOAD, Vaddr: vaddr, Data: code}
}

func (w imageLayout) align(n uint64) uint64 {
	return (n + 3) &^ 3
}

type imageLayout struct {
	headerSize uint64
	progSize   uint64
}

func layoutFor(width loader.WordWidth) imageLayout {
	if width == loader.Width64 {
		return imageLayout{headerSize: 64, progSize: 56}
	}
	return imageLayout{headerSize: 52, progSize: 32}
}

// Bytes serializes the image as a little-endian RISC-V ELF executable.
// Program headers follow the file header; segment data follows them.
func (img *Image) Bytes() []byte {
	lay := layoutFor(img.Width)
	phoff := lay.headerSize
	dataOff := lay.align(phoff + lay.progSize*uint64(len(img.Segments)))

	var (
		progs   []elf.Prog64
		payload bytes.Buffer
	)
	for _, seg := range img.Segments {
		off := dataOff + uint64(payload.Len())
		filesz := uint64(len(seg.Data))
		if seg.Filesz != 0 {
			filesz = seg.Filesz
		}
		memsz := seg.Memsz
		if memsz < filesz {
			memsz = filesz
		}
		progs = append(progs, elf.Prog64{
			Type:   uint32(seg.Type),
			Flags:  uint32(elf.PF_R | elf.PF_W | elf.PF_X),
			Off:    off,
			Vaddr:  seg.Vaddr,
			Paddr:  seg.Vaddr,
			Filesz: filesz,
			Memsz:  memsz,
			Align:  4,
		})
		payload.Write(seg.Data)
		for payload.Len()%4 != 0 {
			payload.WriteByte(0)
		}
	}

	var buf bytes.Buffer
	img.writeHeader(&buf, phoff, uint16(len(progs)))
	for _, p := range progs {
		img.writeProg(&buf, p)
	}
	for uint64(buf.Len()) < dataOff {
		buf.WriteByte(0)
	}
	buf.Write(payload.Bytes())

	return buf.Bytes()
}

func (img *Image) ident() [elf.EI_NIDENT]byte {
	var ident [elf.EI_NIDENT]byte
	copy(ident[:], elf.ELFMAG)
	ident[elf.EI_CLASS] = byte(elf.ELFCLASS32)
	if img.Width == loader.Width64 {
		ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	}
	ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	return ident
}

// bytes.Buffer writes never fail, so binary.Write errors are ignored.
func (img *Image) writeHeader(buf *bytes.Buffer, phoff uint64, phnum uint16) {
	lay := layoutFor(img.Width)
	if img.Width == loader.Width64 {
		_ = binary.Write(buf, binary.LittleEndian, elf.Header64{
			Ident:     img.ident(),
			Type:      uint16(elf.ET_EXEC),
			Machine:   uint16(elf.EM_RISCV),
			Version:   uint32(elf.EV_CURRENT),
			Entry:     img.Entry,
			Phoff:     phoff,
			Ehsize:    uint16(lay.headerSize),
			Phentsize: uint16(lay.progSize),
			Phnum:     phnum,
		})
		return
	}
	_ = binary.Write(buf, binary.LittleEndian, elf.Header32{
		Ident:     img.ident(),
		Type:      uint16(elf.ET_EXEC),
		Machine:   uint16(elf.EM_RISCV),
		Version:   uint32(elf.EV_CURRENT),
		Entry:     uint32(img.Entry),
		Phoff:     uint32(phoff),
		Ehsize:    uint16(lay.headerSize),
		Phentsize: uint16(lay.progSize),
		Phnum:     phnum,
	})
}

func (img *Image) writeProg(buf *bytes.Buffer, p elf.Prog64) {
	if img.Width == loader.Width64 {
		_ = binary.Write(buf, binary.LittleEndian, p)
		return
	}
	_ = binary.Write(buf, binary.LittleEndian, elf.Prog32{
		Type:   p.Type,
		Off:    uint32(p.Off),
		Vaddr:  uint32(p.Vaddr),
		Paddr:  uint32(p.Paddr),
		Filesz: uint32(p.Filesz),
		Memsz:  uint32(p.Memsz),
		Flags:  p.Flags,
		Align:  uint32(p.Align),
	})
}

// WriteFile writes the serialized image to path on fs, creating parent
// directories as needed.
func (img *Image) WriteFile(fs afero.Fs, path string) error {
	if err := fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "failed to create directory for %s", path)
	}
	if err := afero.WriteFile(fs, path, img.Bytes(), 0o644); err != nil {
		return errors.Wrapf(err, "failed to write %s", path)
	}
	return nil
}
