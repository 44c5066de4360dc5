package soc

import (
	"github.com/pkg/errors"
	akitacache "github.com/sarchlab/akita/v4/mem/cache"

	"github.com/sarchlab/socsim/emu"
)

// FetchCacheConfig holds instruction cache geometry.
type FetchCacheConfig struct {
	// Size in bytes
	Size int `yaml:"size" json:"size"`
	// Associativity (number of ways)
	Associativity int `yaml:"associativity" json:"associativity"`
	// BlockSize in bytes (cache line size)
	BlockSize int `yaml:"block_size" json:"block_size"`
}

// DefaultFetchCacheConfig returns a small 2-way cache with 16-byte lines.
func DefaultFetchCacheConfig() FetchCacheConfig {
	return FetchCacheConfig{
		Size:          1024,
		Associativity: 2,
		BlockSize:     16,
	}
}

// FetchStats holds fetch cache statistics.
type FetchStats struct {
	Fetches       uint64
	Hits          uint64
	Misses        uint64
	Evictions     uint64
	Invalidations uint64
}

// FetchCache is a read-only instruction cache in front of the system bus,
// using the akita cache directory for tags and LRU replacement.
type FetchCache struct {
	config FetchCacheConfig

	directory *akitacache.DirectoryImpl

	// Data storage - indexed by (setID * associativity + wayID)
	dataStore [][]byte

	stats   FetchStats
	backing emu.Bus
}

// NewFetchCache creates a fetch cache that fills lines from backing.
func NewFetchCache(config FetchCacheConfig, backing emu.Bus) *FetchCache {
	numSets := config.Size / (config.Associativity * config.BlockSize)
	totalBlocks := numSets * config.Associativity

	dataStore := make([][]byte, totalBlocks)
	for i := range dataStore {
		dataStore[i] = make([]byte, config.BlockSize)
	}

	return &FetchCache{
		config: config,
		directory: akitacache.NewDirectory(
			numSets,
			config.Associativity,
			config.BlockSize,
			akitacache.NewLRUVictimFinder(),
		),
		dataStore: dataStore,
		backing:   backing,
	}
}

// Stats returns fetch cache statistics.
func (c *FetchCache) Stats() FetchStats {
	return c.stats
}

func (c *FetchCache) blockIndex(block *akitacache.Block) int {
	return block.SetID*c.config.Associativity + block.WayID
}

func (c *FetchCache) blockAddr(addr uint32) uint64 {
	bs := uint64(c.config.BlockSize)
	return uint64(addr) / bs * bs
}

// ErrMisalignedFetch is returned for a PC that is not word aligned.
var ErrMisalignedFetch = errors.New("misaligned instruction fetch")

// Fetch implements emu.Fetcher.
func (c *FetchCache) Fetch(pc uint32) (uint32, error) {
	if pc%4 != 0 {
		return 0, errors.Wrapf(ErrMisalignedFetch, "pc 0x%08x", pc)
	}
	c.stats.Fetches++

	blockAddr := c.blockAddr(pc)
	offset := uint64(pc) - blockAddr

	block := c.directory.Lookup(0, blockAddr)
	if block != nil && block.IsValid {
		c.stats.Hits++
		c.directory.Visit(block)
		return wordAt(c.dataStore[c.blockIndex(block)], offset), nil
	}

	c.stats.Misses++
	return c.fill(blockAddr, offset)
}

// fill loads a whole line. A line that cannot be read is not allocated.
func (c *FetchCache) fill(blockAddr, offset uint64) (uint32, error) {
	line := make([]byte, c.config.BlockSize)
	for i := 0; i < c.config.BlockSize; i += 4 {
		word, err := c.backing.Load(uint32(blockAddr)+uint32(i), 4)
		if err != nil {
			return 0, err
		}
		putWord(line, uint64(i), word)
	}

	victim := c.directory.FindVictim(blockAddr)
	if victim == nil {
		return wordAt(line, offset), nil
	}
	if victim.IsValid {
		c.stats.Evictions++
	}

	copy(c.dataStore[c.blockIndex(victim)], line)
	victim.Tag = blockAddr
	victim.IsValid = true
	victim.IsDirty = false
	c.directory.Visit(victim)

	return wordAt(line, offset), nil
}

// Invalidate drops the line holding addr, if cached.
func (c *FetchCache) Invalidate(addr uint32) {
	block := c.directory.Lookup(0, c.blockAddr(addr))
	if block != nil && block.IsValid {
		block.IsValid = false
		c.stats.Invalidations++
	}
}

// Reset invalidates all lines and clears statistics.
func (c *FetchCache) Reset() {
	c.directory.Reset()
	c.stats = FetchStats{}
}

func wordAt(data []byte, offset uint64) uint32 {
	var v uint32
	for i := 3; i >= 0; i-- {
		v = v<<8 | uint32(data[offset+uint64(i)])
	}
	return v
}

func putWord(data []byte, offset uint64, v uint32) {
	for i := 0; i < 4; i++ {
		data[offset+uint64(i)] = byte(v >> (8 * i))
	}
}
