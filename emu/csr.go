package emu

// Machine-mode CSR addresses the core implements.
const (
	CSRMStatus  uint16 = 0x300
	CSRMTVec    uint16 = 0x305
	CSRMScratch uint16 = 0x340
	CSRMEPC     uint16 = 0x341
	CSRMCause   uint16 = 0x342
	CSRCycle    uint16 = 0xC00
	CSRInstRet  uint16 = 0xC02
	CSRMHartID  uint16 = 0xF14
)

// CSRFile is a minimal machine-mode CSR map. Unknown addresses read as zero
// and ignore writes; counters and mhartid are read-only.
type CSRFile struct {
	regs    map[uint16]uint32
	instret *uint64
}

func newCSRFile(instret *uint64) *CSRFile {
	c := &CSRFile{instret: instret}
	c.Clear()
	return c
}

// Clear resets every writable CSR to zero.
func (c *CSRFile) Clear() {
	c.regs = map[uint16]uint32{
		CSRMStatus:  0,
		CSRMTVec:    0,
		CSRMScratch: 0,
		CSRMEPC:     0,
		CSRMCause:   0,
	}
}

// Read returns the value of csr.
func (c *CSRFile) Read(csr uint16) uint32 {
	switch csr {
	case CSRCycle, CSRInstRet:
		return uint32(*c.instret)
	case CSRMHartID:
		return 0
	}
	return c.regs[csr]
}

// Write sets csr if it exists and is writable.
func (c *CSRFile) Write(csr uint16, value uint32) {
	if _, ok := c.regs[csr]; ok {
		c.regs[csr] = value
	}
}
