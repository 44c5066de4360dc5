package loader

import (
	"fmt"
	"io"
)

// Names and bounds of the two regions every SoC revision exposes.
const (
	BootROMName = "rom"
	BootROMBase = 0x00000000
	BootROMSize = 0x1000

	SRAMName = "sram"
	SRAMBase = 0x00001000
	SRAMSize = 0x4000
)

// MemoryRegion is a named, fixed-base, fixed-size window of simulated memory.
type MemoryRegion struct {
	Name string `yaml:"name" json:"name"`
	Base uint64 `yaml:"base" json:"base"`
	Size uint64 `yaml:"size" json:"size"`
}

// DefaultRegions returns the boot ROM and SRAM map, in lookup priority order.
func DefaultRegions() []MemoryRegion {
	return []MemoryRegion{
		{Name: BootROMName, Base: BootROMBase, Size: BootROMSize},
		{Name: SRAMName, Base: SRAMBase, Size: SRAMSize},
	}
}

// Contains reports whether addr falls inside [Base, Base+Size).
func (r MemoryRegion) Contains(addr uint64) bool {
	return addr >= r.Base && addr-r.Base < r.Size
}

// Overlaps reports whether the two regions share at least one byte.
func (r MemoryRegion) Overlaps(o MemoryRegion) bool {
	if r.Size == 0 || o.Size == 0 {
		return false
	}
	return r.Contains(o.Base) || o.Contains(r.Base)
}

func (r MemoryRegion) String() string {
	return fmt.Sprintf("%s[0x%08x+0x%x]", r.Name, r.Base, r.Size)
}

// Target binds a region description to the storage that backs it.
type Target struct {
	Region MemoryRegion
	Store  io.WriterAt
}

// findTarget returns the first target whose region contains addr.
func findTarget(targets []Target, addr uint64) (Target, bool) {
	for _, t := range targets {
		if t.Region.Contains(addr) {
			return t, true
		}
	}
	return Target{}, false
}
