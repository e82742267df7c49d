// Package fakehw models the register interface of a b43 802.11 core and
// the microcode behaviour the driver relies on. It is a test double, not
// a simulator: only the handshakes the driver performs are modelled.
package fakehw

import (
	"encoding/binary"

	"github.com/soypat/b43/b43hw"
)

// Config describes the modelled core and the firmware it runs.
type Config struct {
	CoreRev uint8
	// PHYVer is the MMIO_PHY_VER value.
	PHYVer uint16
	// RadioID is the radio identification word of cores before rev 24.
	RadioID uint32
	// Radio24 are the identification registers of rev 24 and later cores.
	Radio24 [3]uint16
	// TxQBufSize is the PIO TX buffer size register of cores before rev 8.
	TxQBufSize uint16

	UcodeRev   uint16
	UcodePatch uint16
	UcodeDate  uint16
	UcodeTime  uint16
	FWCapa     uint16
	// KTP is the key table pointer the firmware publishes, a word address.
	KTP uint16
}

// DefaultConfig is a rev 13 core with a G-PHY and a 2050 radio running
// proprietary firmware with the 598 header format.
func DefaultConfig() Config {
	return Config{
		CoreRev:    13,
		PHYVer:     uint16(b43hw.PHYTYPE_G)<<b43hw.PHYVER_TYPE_SHIFT | 8,
		RadioID:    2<<28 | 0x2050<<12 | b43hw.RADIO_MANUF_BROADCOM,
		TxQBufSize: 2048,
		UcodeRev:   784,
		UcodePatch: 22,
		UcodeDate:  0x1234,
		UcodeTime:  0x5678,
		KTP:        0x0400,
	}
}

// Core is a register level model of one 802.11 core. It implements the
// Bus the driver talks to. Methods are not safe for concurrent use.
type Core struct {
	cfg   Config
	regs  [0x1000]byte
	aregs map[uint16]uint32
	// shm holds 32 bit words keyed by routing<<16 | word index.
	shm map[uint32]uint32

	reason    uint32
	dmaReason [6]uint32
	txstat    [][2]uint32
	txstat1   uint32

	txBase, rxBase uint16
	wide           bool
	txcur          []byte
	rxq            [][]byte
	rxcur          []byte
	rxpos          int

	// NoBoot keeps the microcode from reporting it is running.
	NoBoot bool
	// Hung keeps the firmware from clearing the watchdog word.
	Hung bool
	// StallRx keeps DATARDY low once a frame was acknowledged.
	StallRx bool
	// TxFrames holds every frame written to the TX data port, descriptor first.
	TxFrames [][]byte
	// Writes counts register writes, block writes included.
	Writes int
	// Boots counts microcode starts.
	Boots int
}

// New returns a powered off core model.
func New(cfg Config) *Core {
	c := &Core{
		cfg:   cfg,
		aregs: make(map[uint16]uint32),
		shm:   make(map[uint32]uint32),
	}
	c.wide = cfg.CoreRev >= 8
	if cfg.CoreRev >= 11 {
		c.txBase = b43hw.PIO11_BASE[1] + b43hw.PIO11_TXQ_OFFSET
		c.rxBase = b43hw.PIO11_BASE[0] + b43hw.PIO11_RXQ_OFFSET
	} else {
		c.txBase = b43hw.PIO_BASE[1] + b43hw.PIO_TXQ_OFFSET
		c.rxBase = b43hw.PIO_BASE[0] + b43hw.PIO_RXQ_OFFSET
	}
	c.put16(b43hw.MMIO_PHY_VER, cfg.PHYVer)
	c.put16(b43hw.MMIO_RADIO_DATA_LOW, uint16(cfg.RadioID))
	c.put16(b43hw.MMIO_RADIO_DATA_HIGH, uint16(cfg.RadioID>>16))
	if !c.wide {
		c.put16(c.txBase+b43hw.PIO_TXQBUFSIZE, cfg.TxQBufSize)
	}
	return c
}

// Config returns the configuration the model was built with.
func (c *Core) Config() Config { return c.cfg }

// HdrFormat is the header layout of the modelled firmware.
func (c *Core) HdrFormat() b43hw.HdrFormat { return b43hw.HdrFormatFromRev(c.cfg.UcodeRev) }

// Reset models a backplane core reset. MACCTL and pending interrupts are
// cleared, shared memory survives.
func (c *Core) Reset() {
	c.put32(b43hw.MMIO_MACCTL, 0)
	c.reason = 0
	c.dmaReason = [6]uint32{}
	c.txcur = nil
	c.rxcur = nil
	c.rxpos = 0
}

func (c *Core) get16(off uint16) uint16 { return binary.LittleEndian.Uint16(c.regs[off:]) }
func (c *Core) get32(off uint16) uint32 { return binary.LittleEndian.Uint32(c.regs[off:]) }
func (c *Core) put16(off, v uint16)     { binary.LittleEndian.PutUint16(c.regs[off:], v) }

func (c *Core) put32(off uint16, v uint32) { binary.LittleEndian.PutUint32(c.regs[off:], v) }

func (c *Core) Read8(off uint16) uint8 { return c.regs[off] }

func (c *Core) Write8(off uint16, v uint8) {
	c.Writes++
	c.regs[off] = v
}

func (c *Core) Read16(off uint16) uint16 {
	switch off {
	case b43hw.MMIO_SHM_DATA:
		return uint16(c.shmWord())
	case b43hw.MMIO_SHM_DATA_UNALIGNED:
		return uint16(c.shmWord() >> 16)
	case b43hw.MMIO_RADIO24_DATA:
		return c.cfg.Radio24[c.get16(b43hw.MMIO_RADIO24_CONTROL)%3]
	case c.rxBase + b43hw.PIO_RXCTL:
		if !c.wide {
			return uint16(c.rxctl())
		}
	}
	return c.get16(off)
}

func (c *Core) Read32(off uint16) uint32 {
	switch off {
	case b43hw.MMIO_SHM_DATA:
		v := c.shmWord()
		c.shmAutoinc(b43hw.SHM_AUTOINC_R)
		return v
	case b43hw.MMIO_GEN_IRQ_REASON:
		return c.reason
	case b43hw.MMIO_XMITSTAT_0:
		if len(c.txstat) == 0 {
			return 0
		}
		v := c.txstat[0]
		c.txstat = c.txstat[1:]
		c.txstat1 = v[1]
		return v[0]
	case b43hw.MMIO_XMITSTAT_1:
		return c.txstat1
	case b43hw.MMIO_PS_STATUS:
		return 0
	case c.rxBase + b43hw.PIO8_RXCTL:
		if c.wide {
			return c.rxctl()
		}
	}
	if i, ok := dmaReasonIdx(off); ok {
		return c.dmaReason[i]
	}
	return c.get32(off)
}

func (c *Core) Write16(off uint16, v uint16) {
	c.Writes++
	switch off {
	case b43hw.MMIO_SHM_DATA:
		w := c.shmWord()
		c.setShmWord(w&0xFFFF0000 | uint32(v))
		return
	case b43hw.MMIO_SHM_DATA_UNALIGNED:
		w := c.shmWord()
		c.setShmWord(w&0x0000FFFF | uint32(v)<<16)
		return
	case b43hw.MMIO_PS_STATUS:
		return
	}
	if !c.wide {
		switch off {
		case c.txBase + b43hw.PIO_TXCTL:
			c.txctl(uint32(v), b43hw.PIO_TXCTL_EOF)
		case c.rxBase + b43hw.PIO_RXCTL:
			c.rxack(uint32(v))
			return
		case c.txBase + b43hw.PIO_TXDATA:
			var b [2]byte
			binary.LittleEndian.PutUint16(b[:], v)
			c.txdata(b[:])
			return
		}
	}
	c.put16(off, v)
}

func (c *Core) Write32(off uint16, v uint32) {
	c.Writes++
	switch off {
	case b43hw.MMIO_SHM_DATA:
		c.setShmWord(v)
		c.shmAutoinc(b43hw.SHM_AUTOINC_W)
		return
	case b43hw.MMIO_GEN_IRQ_REASON:
		c.reason &^= v
		return
	case b43hw.MMIO_MACCTL:
		old := c.get32(off)
		c.put32(off, v)
		c.macctlChanged(old, v)
		return
	case b43hw.MMIO_TSF_CFP_START:
		if c.cfg.CoreRev >= 3 && c.cfg.CoreRev <= 10 {
			c.put16(b43hw.MMIO_TSF_CFP_START_LOW, uint16(v))
			c.put16(b43hw.MMIO_TSF_CFP_START_HIGH, uint16(v>>16))
		}
	}
	if i, ok := dmaReasonIdx(off); ok {
		c.dmaReason[i] &^= v
		return
	}
	if c.wide {
		switch off {
		case c.txBase + b43hw.PIO8_TXCTL:
			c.txctl(v, b43hw.PIO8_TXCTL_EOF)
		case c.rxBase + b43hw.PIO8_RXCTL:
			c.rxack(v)
			return
		case c.txBase + b43hw.PIO8_TXDATA:
			var b [4]byte
			binary.LittleEndian.PutUint32(b[:], v)
			c.txdata(b[:])
			return
		}
	}
	c.put32(off, v)
}

func (c *Core) ARead32(off uint16) uint32 { return c.aregs[off] }

func (c *Core) AWrite32(off uint16, v uint32) {
	c.Writes++
	c.aregs[off] = v
}

func (c *Core) ReadBlock(buf []byte, off uint16, width int) {
	if c.isRxData(off) {
		c.rxdata(buf)
		return
	}
	for i := 0; i+width <= len(buf); i += width {
		if width == 2 {
			binary.LittleEndian.PutUint16(buf[i:], c.Read16(off))
		} else {
			binary.LittleEndian.PutUint32(buf[i:], c.Read32(off))
		}
	}
}

func (c *Core) WriteBlock(buf []byte, off uint16, width int) {
	if c.isTxData(off) {
		c.Writes++
		c.txdata(buf)
		return
	}
	for i := 0; i+width <= len(buf); i += width {
		if width == 2 {
			c.Write16(off, binary.LittleEndian.Uint16(buf[i:]))
		} else {
			c.Write32(off, binary.LittleEndian.Uint32(buf[i:]))
		}
	}
}

func dmaReasonIdx(off uint16) (int, bool) {
	for i := 0; i < 6; i++ {
		if off == b43hw.MMIO_DMA_REASON(i) {
			return i, true
		}
	}
	return 0, false
}

// macctlChanged models the microcode reacting to MACCTL.
func (c *Core) macctlChanged(old, v uint32) {
	const run = b43hw.MACCTL_PSM_RUN | b43hw.MACCTL_PSM_JMP0
	if v&run == b43hw.MACCTL_PSM_RUN && old&run != b43hw.MACCTL_PSM_RUN {
		c.boot()
	}
	if old&b43hw.MACCTL_ENABLED != 0 && v&b43hw.MACCTL_ENABLED == 0 {
		c.reason |= b43hw.IRQ_MAC_SUSPENDED
		c.SHMWrite16(b43hw.SHM_SHARED, b43hw.SHM_SH_UCODESTAT, b43hw.SHM_SH_UCODESTAT_SUSP)
	} else if old&b43hw.MACCTL_ENABLED == 0 && v&b43hw.MACCTL_ENABLED != 0 {
		c.SHMWrite16(b43hw.SHM_SHARED, b43hw.SHM_SH_UCODESTAT, b43hw.SHM_SH_UCODESTAT_ACTIVE)
	}
}

func (c *Core) boot() {
	if c.NoBoot {
		return
	}
	c.Boots++
	cfg := &c.cfg
	c.SHMWrite16(b43hw.SHM_SHARED, b43hw.SHM_SH_UCODEREV, cfg.UcodeRev)
	c.SHMWrite16(b43hw.SHM_SHARED, b43hw.SHM_SH_UCODEPATCH, cfg.UcodePatch)
	c.SHMWrite16(b43hw.SHM_SHARED, b43hw.SHM_SH_UCODEDATE, cfg.UcodeDate)
	c.SHMWrite16(b43hw.SHM_SHARED, b43hw.SHM_SH_UCODETIME, cfg.UcodeTime)
	c.SHMWrite16(b43hw.SHM_SHARED, b43hw.SHM_SH_FWCAPA, cfg.FWCapa)
	c.SHMWrite16(b43hw.SHM_SHARED, b43hw.SHM_SH_KTP, cfg.KTP)
	c.SHMWrite16(b43hw.SHM_SHARED, b43hw.SHM_SH_UCODESTAT, b43hw.SHM_SH_UCODESTAT_SUSP)
	c.reason |= b43hw.IRQ_MAC_SUSPENDED
}

// Interrupts.

// RaiseIRQ sets bits in GEN_IRQ_REASON.
func (c *Core) RaiseIRQ(reason uint32) { c.reason |= reason }

// RaiseDMA sets bits in the reason register of DMA engine i and flags a
// DMA interrupt.
func (c *Core) RaiseDMA(i int, reason uint32) {
	c.dmaReason[i] |= reason
	c.reason |= b43hw.IRQ_DMA
}

// IRQReason returns GEN_IRQ_REASON without side effects.
func (c *Core) IRQReason() uint32 { return c.reason }

// IRQMask returns GEN_IRQ_MASK.
func (c *Core) IRQMask() uint32 { return c.get32(b43hw.MMIO_GEN_IRQ_MASK) }

// PushTxStatus queues a TX status report and raises IRQ_TX_OK.
func (c *Core) PushTxStatus(st b43hw.TxStatus) {
	v0, v1 := st.Words()
	c.txstat = append(c.txstat, [2]uint32{v0, v1})
	c.reason |= b43hw.IRQ_TX_OK
}

// PendingTxStatus returns the number of queued status reports.
func (c *Core) PendingTxStatus() int { return len(c.txstat) }

// Reg16 and Reg32 return raw register contents without side effects.
func (c *Core) Reg16(off uint16) uint16 { return c.get16(off) }
func (c *Core) Reg32(off uint16) uint32 { return c.get32(off) }

// SetReg32 sets a register without side effects.
func (c *Core) SetReg32(off uint16, v uint32) { c.put32(off, v) }
