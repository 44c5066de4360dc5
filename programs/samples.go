package programs

import (
	"debug/elf"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"github.com/sarchlab/socsim/insts"
	"github.com/sarchlab/socsim/loader"
	"github.com/sarchlab/socsim/soc"
)

// Registers the verdict is read from.
const (
	regTestNum = 3
	regDone    = 26
	regPass    = 27
)

// Sample is a built-in test program.
type Sample struct {
	Name        string
	Description string

	// Expected is the verdict a correct model produces: "PASS", "FAIL" or
	// "INDETERMINATE".
	Expected string

	// NeedsUART marks programs that only make sense on revision B.
	NeedsUART bool

	build func(width loader.WordWidth) (*Image, error)
}

// Image assembles the sample for the given word width.
func (s Sample) Image(width loader.WordWidth) (*Image, error) {
	img, err := s.build(width)
	if err != nil {
		return nil, errors.Wrapf(err, "sample %s", s.Name)
	}
	return img, nil
}

// Samples returns every built-in program.
func Samples() []Sample {
	return []Sample{
		passSample(),
		failSample(),
		timeoutSample(),
		bssSample(),
		mulDivSample(),
		helloSample(),
		echoSample(),
	}
}

// Lookup returns the sample with the given name.
func Lookup(name string) (Sample, bool) {
	for _, s := range Samples() {
		if s.Name == name {
			return s, true
		}
	}
	return Sample{}, false
}

// WriteSamples writes every sample as an extension-less file under dir and
// returns the written paths.
func WriteSamples(fs afero.Fs, dir string, width loader.WordWidth) ([]string, error) {
	var paths []string
	for _, s := range Samples() {
		img, err := s.Image(width)
		if err != nil {
			return nil, err
		}
		path := filepath.Join(dir, s.Name)
		if err := img.WriteFile(fs, path); err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// finish records the verdict registers and halts.
func finish(a *Assembler, testNum int32, pass bool) {
	var passed int32
	if pass {
		passed = 1
	}
	a.Emit(
		insts.ADDI(regTestNum, 0, testNum),
		insts.ADDI(regDone, 0, 1),
		insts.ADDI(regPass, 0, passed),
		insts.EBREAK,
	)
}

func textImage(width loader.WordWidth, a *Assembler, data ...Segment) (*Image, error) {
	code, err := a.Bytes()
	if err != nil {
		return nil, err
	}
	return &Image{
		Width:    width,
		Entry:    loader.BootROMBase,
		Segments: append([]Segment{Text(loader.BootROMBase, code)}, data...),
	}, nil
}

func passSample() Sample {
	return Sample{
		Name:        "pass",
		Description: "sets the pass registers and halts",
		Expected:    "PASS",
		build: func(width loader.WordWidth) (*Image, error) {
			a := NewAssembler(loader.BootROMBase)
			finish(a, 1, true)
			return textImage(width, a)
		},
	}
}

func failSample() Sample {
	return Sample{
		Name:        "fail",
		Description: "sets the fail registers and halts",
		Expected:    "FAIL",
		build: func(width loader.WordWidth) (*Image, error) {
			a := NewAssembler(loader.BootROMBase)
			finish(a, 2, false)
			return textImage(width, a)
		},
	}
}

func timeoutSample() Sample {
	return Sample{
		Name:        "timeout",
		Description: "spins forever without reporting",
		Expected:    "INDETERMINATE",
		build: func(width loader.WordWidth) (*Image, error) {
			a := NewAssembler(loader.BootROMBase)
			a.Emit(insts.ADDI(regTestNum, 0, 3))
			a.Label("spin").To("spin", func(off int32) uint32 { return insts.JAL(0, off) })
			return textImage(width, a)
		},
	}
}

// bssSample checks that an initialized word and the zero-filled tail of its
// segment read back correctly.
func bssSample() Sample {
	const words = 16

	return Sample{
		Name:        "bss",
		Description: "reads an initialized word and a zero-filled tail from SRAM",
		Expected:    "PASS",
		build: func(width loader.WordWidth) (*Image, error) {
			a := NewAssembler(loader.BootROMBase)
			a.LoadImm(6, loader.SRAMBase)
			a.Emit(
				insts.LW(5, 6, 0),
				insts.ADDI(7, 0, 42),
			)
			a.To("fail", func(off int32) uint32 { return insts.BNE(5, 7, off) })
			a.Emit(
				insts.ADDI(8, 6, 4),
				insts.ADDI(9, 6, 4*words),
			)
			a.Label("scan").Emit(insts.LW(10, 8, 0))
			a.To("fail", func(off int32) uint32 { return insts.BNE(10, 0, off) })
			a.Emit(insts.ADDI(8, 8, 4))
			a.To("scan", func(off int32) uint32 { return insts.BLT(8, 9, off) })
			finish(a, 4, true)
			a.Label("fail")
			finish(a, 4, false)

			data := Segment{
				Type:  elf.PT_LOAD,
				Vaddr: loader.SRAMBase,
				Data:  BuildProgram(42),
				Memsz: 4 * words,
			}
			return textImage(width, a, data)
		},
	}
}

func mulDivSample() Sample {
	return Sample{
		Name:        "muldiv",
		Description: "computes 7! with MUL and checks it with DIV and REM",
		Expected:    "PASS",
		build: func(width loader.WordWidth) (*Image, error) {
			a := NewAssembler(loader.BootROMBase)
			a.Emit(
				insts.ADDI(5, 0, 1),
				insts.ADDI(6, 0, 7),
			)
			a.Label("loop").Emit(
				insts.MUL(5, 5, 6),
				insts.ADDI(6, 6, -1),
			)
			a.To("loop", func(off int32) uint32 { return insts.BNE(6, 0, off) })
			a.LoadImm(7, 5040)
			a.To("fail", func(off int32) uint32 { return insts.BNE(5, 7, off) })
			a.Emit(
				insts.ADDI(8, 0, 720),
				insts.DIV(9, 5, 8),
				insts.REM(10, 5, 8),
				insts.ADDI(11, 0, 7),
			)
			a.To("fail", func(off int32) uint32 { return insts.BNE(9, 11, off) })
			a.To("fail", func(off int32) uint32 { return insts.BNE(10, 0, off) })
			finish(a, 5, true)
			a.Label("fail")
			finish(a, 5, false)
			return textImage(width, a)
		},
	}
}

// emitPutc waits for TX ready and writes the byte in reg to the UART at x20.
func emitPutc(a *Assembler, label string, reg uint32) {
	a.Label(label).Emit(
		insts.LW(21, 20, soc.UARTStatus),
		insts.ANDI(21, 21, soc.UARTStatusTxReady),
	)
	a.To(label, func(off int32) uint32 { return insts.BEQ(21, 0, off) })
	a.Emit(insts.SW(reg, 20, soc.UARTTx))
}

func helloSample() Sample {
	const message = "hello, world\n"

	return Sample{
		Name:        "hello",
		Description: "prints a greeting on the UART",
		Expected:    "PASS",
		NeedsUART:   true,
		build: func(width loader.WordWidth) (*Image, error) {
			a := NewAssembler(loader.BootROMBase)
			a.LoadImm(20, soc.UARTBase)
			a.LoadImm(11, loader.SRAMBase)
			a.Label("next").Emit(insts.LBU(12, 11, 0))
			a.To("done", func(off int32) uint32 { return insts.BEQ(12, 0, off) })
			emitPutc(a, "wait", 12)
			a.Emit(insts.ADDI(11, 11, 1))
			a.To("next", func(off int32) uint32 { return insts.JAL(0, off) })
			a.Label("done")
			finish(a, 6, true)

			data := Segment{
				Type:  elf.PT_LOAD,
				Vaddr: loader.SRAMBase,
				Data:  append([]byte(message), 0),
			}
			return textImage(width, a, data)
		},
	}
}

func echoSample() Sample {
	return Sample{
		Name:        "echo",
		Description: "echoes UART input until a newline arrives",
		Expected:    "PASS",
		NeedsUART:   true,
		build: func(width loader.WordWidth) (*Image, error) {
			a := NewAssembler(loader.BootROMBase)
			a.LoadImm(20, soc.UARTBase)
			a.Emit(insts.ADDI(15, 0, '\n'))
			a.Label("poll").Emit(
				insts.LW(13, 20, soc.UARTStatus),
				insts.ANDI(13, 13, soc.UARTStatusRxAvailable),
			)
			a.To("poll", func(off int32) uint32 { return insts.BEQ(13, 0, off) })
			a.Emit(insts.LW(12, 20, soc.UARTRx))
			emitPutc(a, "wait", 12)
			a.To("poll", func(off int32) uint32 { return insts.BNE(12, 15, off) })
			finish(a, 7, true)
			return textImage(width, a)
		},
	}
}
