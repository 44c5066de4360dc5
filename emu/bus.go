package emu

import "github.com/pkg/errors"

// ErrBusFault is returned when an access hits no device.
var ErrBusFault = errors.New("bus fault")

// Bus is the memory interface the core fetches from and loads/stores to.
// size is 1, 2 or 4 bytes; values are little-endian and zero-extended.
type Bus interface {
	Load(addr uint32, size int) (uint32, error)
	Store(addr uint32, size int, value uint32) error
}

// Fetcher supplies instruction words. When no fetcher is configured the
// core fetches through its Bus.
type Fetcher interface {
	Fetch(pc uint32) (uint32, error)
}
