package soc

// UART register offsets from UARTBase.
const (
	UARTBase = 0x10000000
	UARTSize = 0x10

	UARTTx     = 0x0
	UARTStatus = 0x4
	UARTRx     = 0x8
)

// UART status bits.
const (
	UARTStatusTxReady     = 1 << 0
	UARTStatusRxAvailable = 1 << 1
)

const uartRxDepth = 16

// uartDevice models the serial pins and the MMIO register block.
//
// rx_valid is sampled on every evaluation; each sample with rx_valid high
// pushes rx_byte. A store to TX raises tx_valid for one clock period.
type uartDevice struct {
	rxByte  byte
	rxValid bool
	rxFIFO  []byte
	dropped uint64

	txValid bool
	txByte  byte
	txCount uint64
}

func newUARTDevice() *uartDevice {
	return &uartDevice{rxFIFO: make([]byte, 0, uartRxDepth)}
}

func (u *uartDevice) reset() {
	u.rxFIFO = u.rxFIFO[:0]
	u.txValid = false
	u.txByte = 0
}

func (u *uartDevice) sample() {
	if !u.rxValid {
		return
	}
	if len(u.rxFIFO) == uartRxDepth {
		u.dropped++
		return
	}
	u.rxFIFO = append(u.rxFIFO, u.rxByte)
}

// endTxPulse lowers tx_valid at the start of a rising edge.
func (u *uartDevice) endTxPulse() {
	u.txValid = false
}

func (u *uartDevice) load(off uint64) uint32 {
	switch off {
	case UARTStatus:
		status := uint32(UARTStatusTxReady)
		if len(u.rxFIFO) > 0 {
			status |= UARTStatusRxAvailable
		}
		return status
	case UARTRx:
		if len(u.rxFIFO) == 0 {
			return 0
		}
		b := u.rxFIFO[0]
		u.rxFIFO = append(u.rxFIFO[:0], u.rxFIFO[1:]...)
		return uint32(b)
	}
	return 0
}

func (u *uartDevice) store(off uint64, value uint32) {
	if off == UARTTx {
		u.txByte = byte(value)
		u.txValid = true
		u.txCount++
	}
}
