package fakehw

import "github.com/soypat/b43/b43hw"

func (c *Core) shmKey() (routing, word uint16) {
	ctl := c.get32(b43hw.MMIO_SHM_CONTROL)
	return uint16(ctl >> 16), uint16(ctl)
}

func shmIndex(routing, word uint16) uint32 {
	return uint32(routing&0xFF)<<16 | uint32(word)
}

func (c *Core) shmWord() uint32 {
	routing, word := c.shmKey()
	return c.shm[shmIndex(routing, word)]
}

func (c *Core) setShmWord(v uint32) {
	routing, word := c.shmKey()
	if routing&0xFF == b43hw.SHM_SCRATCH && word == b43hw.SHM_SC_WATCHDOG && !c.Hung {
		// The idle loop of the firmware clears the watchdog at once.
		v = 0
	}
	c.shm[shmIndex(routing, word)] = v
}

func (c *Core) shmAutoinc(flag uint16) {
	routing, word := c.shmKey()
	if routing&flag != 0 {
		c.put32(b43hw.MMIO_SHM_CONTROL, uint32(routing)<<16|uint32(word+1))
	}
}

// shmAddr maps a driver style SHM offset to a word and the bit shift of
// the 16 bit half within it. SHM_SHARED is byte addressed.
func shmAddr(routing, off uint16) (idx uint32, shift uint) {
	if routing == b43hw.SHM_SHARED {
		return shmIndex(routing, off>>2), uint(off&2) * 8
	}
	return shmIndex(routing, off), 0
}

// SHMRead16 reads shared memory without touching the control register.
// SHM_SHARED offsets are in bytes, other routings take word indices.
func (c *Core) SHMRead16(routing, off uint16) uint16 {
	idx, shift := shmAddr(routing, off)
	return uint16(c.shm[idx] >> shift)
}

// SHMWrite16 writes shared memory without touching the control register.
func (c *Core) SHMWrite16(routing, off, v uint16) {
	idx, shift := shmAddr(routing, off)
	c.shm[idx] = c.shm[idx]&^(0xFFFF<<shift) | uint32(v)<<shift
}

// SHMWords returns count words of a routing starting at word index start.
func (c *Core) SHMWords(routing, start uint16, count int) []uint32 {
	words := make([]uint32, count)
	for i := range words {
		words[i] = c.shm[shmIndex(routing, start+uint16(i))]
	}
	return words
}
