// Package loader places the loadable segments of a RISC-V ELF image into the
// memory regions of a simulated SoC.
package loader

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// WordWidth selects between the ELF32 and ELF64 file layouts.
type WordWidth int

// Supported word widths.
const (
	Width32 WordWidth = 32
	Width64 WordWidth = 64
)

// Fatal load errors. Each is returned wrapped with the image path.
var (
	ErrTruncatedHeader         = errors.New("truncated ELF header")
	ErrNotAnELF                = errors.New("not an ELF file")
	ErrUnsupportedEndianness   = errors.New("unsupported ELF endianness (not little-endian)")
	ErrUnsupportedWordWidth    = errors.New("unsupported ELF class")
	ErrNoProgramHeaders        = errors.New("no program headers in ELF")
	ErrTruncatedProgramHeaders = errors.New("truncated program header table")
)

const (
	header32Size = 52
	header64Size = 64
	prog32Size   = 32
	prog64Size   = 56
)

func (w WordWidth) class() elf.Class {
	if w == Width64 {
		return elf.ELFCLASS64
	}
	return elf.ELFCLASS32
}

func (w WordWidth) headerSize() int {
	if w == Width64 {
		return header64Size
	}
	return header32Size
}

func (w WordWidth) progSize() int {
	if w == Width64 {
		return prog64Size
	}
	return prog32Size
}

// Valid reports whether w is one of the supported widths.
func (w WordWidth) Valid() bool {
	return w == Width32 || w == Width64
}

// header is the width-independent subset of the ELF file header.
type header struct {
	entry uint64
	phoff uint64
	phnum uint64
}

// Loader copies PT_LOAD segments into memory regions.
type Loader struct {
	width  WordWidth
	fs     afero.Fs
	logger log.Logger
}

// Option configures a Loader.
type Option func(*Loader)

// WithLogger sets the logger that receives load diagnostics.
func WithLogger(logger log.Logger) Option {
	return func(l *Loader) {
		l.logger = logger
	}
}

// WithFs sets the filesystem images are read from. The default is the host
// filesystem.
func WithFs(fs afero.Fs) Option {
	return func(l *Loader) {
		l.fs = fs
	}
}

// New creates a loader for images of the given word width.
func New(width WordWidth, opts ...Option) *Loader {
	l := &Loader{
		width:  width,
		fs:     afero.NewOsFs(),
		logger: log.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load reads the ELF image at path and writes its loadable segments into the
// matching targets. Targets are tried in order; the first region containing a
// segment's virtual address receives it.
func (l *Loader) Load(path string, targets []Target) (*Report, error) {
	image, err := afero.ReadFile(l.fs, path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read ELF image %s", path)
	}

	report, err := l.LoadBytes(image, targets)
	if err != nil {
		return nil, errors.Wrapf(err, "%s", path)
	}
	return report, nil
}

// LoadBytes is Load for an image already held in memory.
func (l *Loader) LoadBytes(image []byte, targets []Target) (*Report, error) {
	hdr, err := l.parseHeader(image)
	if err != nil {
		return nil, err
	}

	progs, err := l.parseProgs(image, hdr)
	if err != nil {
		return nil, err
	}

	report := &Report{Width: l.width, Entry: hdr.entry}
	for i, p := range progs {
		seg := Segment{
			Index:  i,
			Type:   elf.ProgType(p.Type),
			Vaddr:  p.Vaddr,
			Offset: p.Off,
			Filesz: p.Filesz,
			Memsz:  p.Memsz,
		}
		level.Debug(l.logger).Log(
			"msg", "program header",
			"index", i,
			"type", seg.Type,
			"vaddr", fmt.Sprintf("0x%08x", p.Vaddr),
			"offset", fmt.Sprintf("0x%08x", p.Off),
			"filesz", p.Filesz,
			"memsz", p.Memsz,
		)

		if seg.Type != elf.PT_LOAD {
			seg.Action = ActionSkippedType
			report.Segments = append(report.Segments, seg)
			continue
		}

		target, ok := findTarget(targets, p.Vaddr)
		if !ok {
			seg.Action = ActionSkippedRegion
			l.warn(report, fmt.Sprintf("PT_LOAD at vaddr 0x%08x (filesz=%d) outside every region, skipped", p.Vaddr, p.Filesz))
			report.Segments = append(report.Segments, seg)
			continue
		}

		if err := l.place(image, target, &seg, report); err != nil {
			return nil, err
		}
		report.Segments = append(report.Segments, seg)
	}

	return report, nil
}

func (l *Loader) parseHeader(image []byte) (header, error) {
	if len(image) < l.width.headerSize() {
		return header{}, ErrTruncatedHeader
	}
	if !bytes.Equal(image[:len(elf.ELFMAG)], []byte(elf.ELFMAG)) {
		return header{}, ErrNotAnELF
	}
	if elf.Data(image[elf.EI_DATA]) != elf.ELFDATA2LSB {
		return header{}, ErrUnsupportedEndianness
	}
	if class := elf.Class(image[elf.EI_CLASS]); class != l.width.class() {
		return header{}, errors.Wrapf(ErrUnsupportedWordWidth, "got %v, want %v", class, l.width.class())
	}

	var hdr header
	r := bytes.NewReader(image)
	if l.width == Width64 {
		var h elf.Header64
		if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
			return header{}, ErrTruncatedHeader
		}
		hdr = header{entry: h.Entry, phoff: h.Phoff, phnum: uint64(h.Phnum)}
	} else {
		var h elf.Header32
		if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
			return header{}, ErrTruncatedHeader
		}
		hdr = header{entry: uint64(h.Entry), phoff: uint64(h.Phoff), phnum: uint64(h.Phnum)}
	}

	if hdr.phoff == 0 || hdr.phnum == 0 {
		return header{}, ErrNoProgramHeaders
	}
	return hdr, nil
}

func (l *Loader) parseProgs(image []byte, hdr header) ([]elf.Prog64, error) {
	size := uint64(l.width.progSize())
	end := hdr.phoff + hdr.phnum*size
	if hdr.phoff >= uint64(len(image)) || end > uint64(len(image)) {
		return nil, ErrTruncatedProgramHeaders
	}

	r := bytes.NewReader(image[hdr.phoff:end])
	progs := make([]elf.Prog64, 0, hdr.phnum)
	for i := uint64(0); i < hdr.phnum; i++ {
		if l.width == Width64 {
			var p elf.Prog64
			if err := binary.Read(r, binary.LittleEndian, &p); err != nil {
				return nil, ErrTruncatedProgramHeaders
			}
			progs = append(progs, p)
			continue
		}

		var p elf.Prog32
		if err := binary.Read(r, binary.LittleEndian, &p); err != nil {
			return nil, ErrTruncatedProgramHeaders
		}
		progs = append(progs, elf.Prog64{
			Type:   p.Type,
			Flags:  p.Flags,
			Off:    uint64(p.Off),
			Vaddr:  uint64(p.Vaddr),
			Paddr:  uint64(p.Paddr),
			Filesz: uint64(p.Filesz),
			Memsz:  uint64(p.Memsz),
			Align:  uint64(p.Align),
		})
	}
	return progs, nil
}

// place copies one PT_LOAD segment into its target and clears the tail.
// Nothing outside [0, target.Region.Size) is ever written.
func (l *Loader) place(image []byte, target Target, seg *Segment, report *Report) error {
	region := target.Region
	offset := seg.Vaddr - region.Base
	avail := region.Size - offset

	seg.Region = region.Name
	seg.Action = ActionLoaded

	filesz := seg.Filesz
	if filesz > avail {
		l.warn(report, fmt.Sprintf("truncating write to %s: offset 0x%x filesz %d -> %d available",
			region.Name, offset, filesz, avail))
		filesz = avail
		seg.Action = ActionTruncated
	}

	if filesz > 0 {
		src := fileRange(image, seg.Offset, filesz)
		if uint64(len(src)) < filesz {
			l.warn(report, fmt.Sprintf("short read for segment %d: %d of %d bytes present in image",
				seg.Index, len(src), filesz))
		}
		if len(src) > 0 {
			if _, err := target.Store.WriteAt(src, int64(offset)); err != nil {
				return errors.Wrapf(err, "failed to write segment %d to %s", seg.Index, region.Name)
			}
		}
		seg.Written = uint64(len(src))
		level.Debug(l.logger).Log("msg", "wrote segment", "bytes", seg.Written, "region", region.Name,
			"offset", fmt.Sprintf("0x%x", offset))
	}

	// A truncated segment already reaches the region end, so its tail lies
	// wholly outside.
	if seg.Memsz <= seg.Filesz || seg.Action == ActionTruncated {
		return nil
	}

	zeroStart := offset + seg.Filesz
	zeroLen := seg.Memsz - seg.Filesz
	if zeroStart >= region.Size {
		return nil
	}
	if zeroLen > region.Size-zeroStart {
		zeroLen = region.Size - zeroStart
	}
	if _, err := target.Store.WriteAt(make([]byte, zeroLen), int64(zeroStart)); err != nil {
		return errors.Wrapf(err, "failed to zero tail of segment %d in %s", seg.Index, region.Name)
	}
	seg.Zeroed = zeroLen
	level.Debug(l.logger).Log("msg", "zeroed segment tail", "bytes", zeroLen, "region", region.Name,
		"offset", fmt.Sprintf("0x%x", zeroStart))

	return nil
}

func (l *Loader) warn(report *Report, msg string) {
	report.Warnings = append(report.Warnings, msg)
	level.Warn(l.logger).Log("msg", msg)
}

// fileRange returns at most n bytes of image starting at off.
func fileRange(image []byte, off, n uint64) []byte {
	if off >= uint64(len(image)) {
		return nil
	}
	end := uint64(len(image))
	if n < end-off {
		end = off + n
	}
	return image[off:end]
}
