package loader_test

import (
	"bytes"
	"debug/elf"
	"fmt"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/afero"

	"github.com/sarchlab/socsim/loader"
	"github.com/sarchlab/socsim/programs"
)

// store is a fixed-size io.WriterAt that refuses writes past its end.
type store struct {
	data   []byte
	writes int
}

func newStore(size uint64) *store {
	return &store{data: bytes.Repeat([]byte{0xFF}, int(size))}
}

func (s *store) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > int64(len(s.data)) {
		return 0, fmt.Errorf("write [%d, %d) out of range", off, off+int64(len(p)))
	}
	s.writes++
	return copy(s.data[off:], p), nil
}

type memoryMap struct {
	rom, sram *store
	targets   []loader.Target
}

func newMemoryMap() *memoryMap {
	m := &memoryMap{
		rom:  newStore(loader.BootROMSize),
		sram: newStore(loader.SRAMSize),
	}
	regions := loader.DefaultRegions()
	m.targets = []loader.Target{
		{Region: regions[0], Store: m.rom},
		{Region: regions[1], Store: m.sram},
	}
	return m
}

func image32(segs ...programs.Segment) []byte {
	img := &programs.Image{Width: loader.Width32, Segments: segs}
	return img.Bytes()
}

var _ = Describe("Loader", func() {
	var (
		l   *loader.Loader
		mem *memoryMap
	)

	BeforeEach(func() {
		l = loader.New(loader.Width32)
		mem = newMemoryMap()
	})

	Context("placing segments", func() {
		It("should copy file bytes and zero the tail", func() {
			data := []byte{1, 2, 3, 4}
			seg := programs.Segment{Type: elf.PT_LOAD, Vaddr: loader.SRAMBase + 0x10, Data: data, Memsz: 12}

			report, err := l.LoadBytes(image32(seg), mem.targets)

			Expect(err).NotTo(HaveOccurred())
			Expect(report.Warnings).To(BeEmpty())
			Expect(mem.sram.data[0x10:0x14]).To(Equal(data))
			Expect(mem.sram.data[0x14:0x1C]).To(Equal(make([]byte, 8)))
			Expect(mem.sram.data[0x1C]).To(Equal(byte(0xFF)))
			Expect(mem.sram.data[0x0F]).To(Equal(byte(0xFF)))

			loaded := report.Loaded()
			Expect(loaded).To(HaveLen(1))
			Expect(loaded[0].Region).To(Equal(loader.SRAMName))
			Expect(loaded[0].Written).To(Equal(uint64(4)))
			Expect(loaded[0].Zeroed).To(Equal(uint64(8)))
			Expect(loaded[0].Action).To(Equal(loader.ActionLoaded))
		})

		It("should load a four byte program into the boot ROM", func() {
			code := programs.BuildProgram(0x00100073)
			seg := programs.Segment{Type: elf.PT_LOAD, Vaddr: 0, Data: code, Memsz: 8}

			report, err := l.LoadBytes(image32(seg), mem.targets)

			Expect(err).NotTo(HaveOccurred())
			Expect(mem.rom.data[0:4]).To(Equal([]byte{0x73, 0x00, 0x10, 0x00}))
			Expect(mem.rom.data[4:8]).To(Equal([]byte{0, 0, 0, 0}))
			Expect(mem.rom.data[8]).To(Equal(byte(0xFF)))
			Expect(mem.sram.writes).To(BeZero())
			Expect(report.Segments[0].Filesz).To(Equal(uint64(4)))
			Expect(report.Segments[0].Memsz).To(Equal(uint64(8)))
		})

		It("should truncate a segment that runs past its region", func() {
			end := uint64(loader.SRAMBase + loader.SRAMSize)
			seg := programs.Segment{Type: elf.PT_LOAD, Vaddr: end - 4, Data: []byte{1, 2, 3, 4, 5, 6, 7, 8}, Memsz: 32}

			report, err := l.LoadBytes(image32(seg), mem.targets)

			Expect(err).NotTo(HaveOccurred())
			Expect(report.Warnings).To(HaveLen(1))
			Expect(report.Warnings[0]).To(ContainSubstring("truncating"))
			Expect(report.Segments[0].Action).To(Equal(loader.ActionTruncated))
			Expect(report.Segments[0].Written).To(Equal(uint64(4)))
			Expect(report.Segments[0].Zeroed).To(BeZero())
			Expect(mem.sram.data[loader.SRAMSize-4:]).To(Equal([]byte{1, 2, 3, 4}))
		})

		It("should clamp the zero-filled tail to the region", func() {
			end := uint64(loader.SRAMBase + loader.SRAMSize)
			seg := programs.Segment{Type: elf.PT_LOAD, Vaddr: end - 8, Data: []byte{9, 9, 9, 9}, Memsz: 64}

			report, err := l.LoadBytes(image32(seg), mem.targets)

			Expect(err).NotTo(HaveOccurred())
			Expect(report.Segments[0].Zeroed).To(Equal(uint64(4)))
			Expect(mem.sram.data[loader.SRAMSize-8:]).To(Equal([]byte{9, 9, 9, 9, 0, 0, 0, 0}))
		})

		It("should skip a segment outside every region", func() {
			seg := programs.Segment{Type: elf.PT_LOAD, Vaddr: 0x80000000, Data: []byte{1, 2, 3, 4}}

			report, err := l.LoadBytes(image32(seg), mem.targets)

			Expect(err).NotTo(HaveOccurred())
			Expect(report.Warnings).To(HaveLen(1))
			Expect(report.Warnings[0]).To(ContainSubstring("0x80000000"))
			Expect(report.Segments[0].Action).To(Equal(loader.ActionSkippedRegion))
			Expect(report.Loaded()).To(BeEmpty())
			Expect(mem.rom.writes + mem.sram.writes).To(BeZero())
		})

		It("should ignore headers that are not PT_LOAD", func() {
			note := programs.Segment{Type: elf.PT_NOTE, Vaddr: 0, Data: []byte{1, 2, 3, 4}}
			text := programs.Text(0, []byte{5, 6, 7, 8})

			report, err := l.LoadBytes(image32(note, text), mem.targets)

			Expect(err).NotTo(HaveOccurred())
			Expect(report.Warnings).To(BeEmpty())
			Expect(report.Segments[0].Action).To(Equal(loader.ActionSkippedType))
			Expect(mem.rom.data[0:4]).To(Equal([]byte{5, 6, 7, 8}))
		})

		It("should warn about a short read and keep what is present", func() {
			seg := programs.Segment{Type: elf.PT_LOAD, Vaddr: loader.SRAMBase, Data: []byte{1, 2, 3, 4}, Filesz: 16}

			report, err := l.LoadBytes(image32(seg), mem.targets)

			Expect(err).NotTo(HaveOccurred())
			Expect(report.Warnings).To(HaveLen(1))
			Expect(report.Warnings[0]).To(ContainSubstring("short read"))
			Expect(report.Segments[0].Written).To(Equal(uint64(4)))
			Expect(mem.sram.data[0:4]).To(Equal([]byte{1, 2, 3, 4}))
		})

		It("should give the segment to the first matching region", func() {
			shadow := newStore(loader.SRAMSize)
			targets := append([]loader.Target{
				{Region: loader.MemoryRegion{Name: "shadow", Base: loader.SRAMBase, Size: loader.SRAMSize}, Store: shadow},
			}, mem.targets...)

			report, err := l.LoadBytes(image32(programs.Text(loader.SRAMBase, []byte{1, 2, 3, 4})), targets)

			Expect(err).NotTo(HaveOccurred())
			Expect(report.Segments[0].Region).To(Equal("shadow"))
			Expect(shadow.writes).To(Equal(1))
			Expect(mem.sram.writes).To(BeZero())
		})

		It("should produce the same memory image every time", func() {
			image := image32(
				programs.Text(0, programs.BuildProgram(0x13, 0x13, 0x00100073)),
				programs.Segment{Type: elf.PT_LOAD, Vaddr: loader.SRAMBase + 0x100, Data: []byte{42}, Memsz: 64},
			)
			other := newMemoryMap()

			_, err := l.LoadBytes(image, mem.targets)
			Expect(err).NotTo(HaveOccurred())
			_, err = l.LoadBytes(image, other.targets)
			Expect(err).NotTo(HaveOccurred())

			Expect(mem.rom.data).To(Equal(other.rom.data))
			Expect(mem.sram.data).To(Equal(other.sram.data))
		})
	})

	Context("64-bit images", func() {
		It("should load an ELF64 image with a 64-bit loader", func() {
			img := &programs.Image{
				Width:    loader.Width64,
				Entry:    0x40,
				Segments: []programs.Segment{programs.Text(0x40, []byte{1, 2, 3, 4})},
			}

			report, err := loader.New(loader.Width64).LoadBytes(img.Bytes(), mem.targets)

			Expect(err).NotTo(HaveOccurred())
			Expect(report.Width).To(Equal(loader.Width64))
			Expect(report.Entry).To(Equal(uint64(0x40)))
			Expect(mem.rom.data[0x40:0x44]).To(Equal([]byte{1, 2, 3, 4}))
		})

		It("should reject an ELF64 image with a 32-bit loader", func() {
			img := &programs.Image{Width: loader.Width64, Segments: []programs.Segment{programs.Text(0, []byte{1, 2, 3, 4})}}

			_, err := l.LoadBytes(img.Bytes(), mem.targets)

			Expect(err).To(MatchError(loader.ErrUnsupportedWordWidth))
		})
	})

	Context("malformed images", func() {
		var valid []byte

		BeforeEach(func() {
			valid = image32(programs.Text(0, []byte{1, 2, 3, 4}))
		})

		It("should reject a truncated header", func() {
			_, err := l.LoadBytes(valid[:20], mem.targets)
			Expect(err).To(MatchError(loader.ErrTruncatedHeader))
		})

		It("should reject a file without the ELF magic", func() {
			bad := append([]byte(nil), valid...)
			bad[0] = 'M'
			_, err := l.LoadBytes(bad, mem.targets)
			Expect(err).To(MatchError(loader.ErrNotAnELF))
		})

		It("should reject a big-endian image", func() {
			bad := append([]byte(nil), valid...)
			bad[elf.EI_DATA] = byte(elf.ELFDATA2MSB)
			_, err := l.LoadBytes(bad, mem.targets)
			Expect(err).To(MatchError(loader.ErrUnsupportedEndianness))
		})

		It("should check endianness before the word width", func() {
			bad := append([]byte(nil), valid...)
			bad[elf.EI_DATA] = byte(elf.ELFDATA2MSB)
			bad[elf.EI_CLASS] = byte(elf.ELFCLASS64)
			_, err := l.LoadBytes(bad, mem.targets)
			Expect(err).To(MatchError(loader.ErrUnsupportedEndianness))
		})

		It("should reject an image without program headers", func() {
			_, err := l.LoadBytes(image32(), mem.targets)
			Expect(err).To(MatchError(loader.ErrNoProgramHeaders))
		})

		It("should reject a truncated program header table", func() {
			_, err := l.LoadBytes(valid[:52+10], mem.targets)
			Expect(err).To(MatchError(loader.ErrTruncatedProgramHeaders))
		})

		It("should not touch memory when the image is rejected", func() {
			_, err := l.LoadBytes(valid[:52+10], mem.targets)
			Expect(err).To(HaveOccurred())
			Expect(mem.rom.writes + mem.sram.writes).To(BeZero())
		})
	})

	Describe("Load", func() {
		var dir string

		BeforeEach(func() {
			dir = GinkgoT().TempDir()
		})

		It("should read the image from disk", func() {
			path := filepath.Join(dir, "payload.elf")
			Expect(os.WriteFile(path, image32(programs.Text(0, []byte{1, 2, 3, 4})), 0o644)).To(Succeed())

			report, err := l.Load(path, mem.targets)

			Expect(err).NotTo(HaveOccurred())
			Expect(report.Loaded()).To(HaveLen(1))
		})

		It("should name the file in load errors", func() {
			path := filepath.Join(dir, "garbage")
			Expect(os.WriteFile(path, bytes.Repeat([]byte{0xAB}, 128), 0o644)).To(Succeed())

			_, err := l.Load(path, mem.targets)

			Expect(err).To(MatchError(loader.ErrNotAnELF))
			Expect(err.Error()).To(ContainSubstring(path))
		})

		It("should fail on a missing file", func() {
			_, err := l.Load(filepath.Join(dir, "missing"), mem.targets)

			Expect(err).To(MatchError(os.ErrNotExist))
		})

		It("should read through the configured filesystem", func() {
			fs := afero.NewMemMapFs()
			Expect(afero.WriteFile(fs, "/tests/payload.elf",
				image32(programs.Text(0, []byte{1, 2, 3, 4})), 0o644)).To(Succeed())
			memLoader := loader.New(loader.Width32, loader.WithFs(fs))

			report, err := memLoader.Load("/tests/payload.elf", mem.targets)

			Expect(err).NotTo(HaveOccurred())
			Expect(report.Loaded()).To(HaveLen(1))
			Expect(mem.rom.data[:4]).To(Equal([]byte{1, 2, 3, 4}))

			_, err = l.Load("/tests/payload.elf", mem.targets)
			Expect(err).To(MatchError(os.ErrNotExist))
		})
	})
})

var _ = Describe("MemoryRegion", func() {
	rom := loader.MemoryRegion{Name: "rom", Base: 0, Size: 0x1000}

	DescribeTable("Contains",
		func(addr uint64, want bool) {
			Expect(rom.Contains(addr)).To(Equal(want))
		},
		Entry("base", uint64(0), true),
		Entry("last byte", uint64(0xFFF), true),
		Entry("one past the end", uint64(0x1000), false),
	)

	It("should detect overlapping regions", func() {
		Expect(rom.Overlaps(loader.MemoryRegion{Base: 0xFFF, Size: 2})).To(BeTrue())
		Expect(rom.Overlaps(loader.MemoryRegion{Base: 0x1000, Size: 0x4000})).To(BeFalse())
		Expect(rom.Overlaps(loader.MemoryRegion{Base: 0x10, Size: 0})).To(BeFalse())
	})
})
