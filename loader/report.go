package loader

import "debug/elf"

// Action records what the loader did with one program header.
type Action string

// Actions a program header can end in.
const (
	ActionLoaded        Action = "loaded"
	ActionTruncated     Action = "truncated"
	ActionSkippedType   Action = "skipped-type"
	ActionSkippedRegion Action = "skipped-region"
)

// Segment describes one program header and the bytes written for it.
type Segment struct {
	Index  int
	Type   elf.ProgType
	Vaddr  uint64
	Offset uint64
	Filesz uint64
	Memsz  uint64

	// Region is empty unless the segment was placed.
	Region string
	// Written is the number of file bytes copied into the region.
	Written uint64
	// Zeroed is the number of tail bytes cleared after the copied data.
	Zeroed uint64
	Action Action
}

// Report summarizes a load. Warnings hold the non-fatal diagnostics in the
// order they were raised.
type Report struct {
	Width    WordWidth
	Entry    uint64
	Segments []Segment
	Warnings []string
}

// Loaded returns the segments that were written into some region.
func (r *Report) Loaded() []Segment {
	var out []Segment
	for _, s := range r.Segments {
		if s.Action == ActionLoaded || s.Action == ActionTruncated {
			out = append(out, s)
		}
	}
	return out
}
