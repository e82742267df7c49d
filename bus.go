package b43

import (
	"time"

	"github.com/soypat/b43/b43hw"
)

// Bus gives access to the register space of one 802.11 core. Offsets are
// core relative. Implementations need not be safe for concurrent use, the
// Device serializes all access.
type Bus interface {
	Read8(off uint16) uint8
	Read16(off uint16) uint16
	Read32(off uint16) uint32
	Write8(off uint16, v uint8)
	Write16(off uint16, v uint16)
	Write32(off uint16, v uint32)
	// ARead32 and AWrite32 address the secondary register window.
	ARead32(off uint16) uint32
	AWrite32(off uint16, v uint32)
	// ReadBlock and WriteBlock stream buf through the data port at off in
	// units of width bytes (2 or 4). len(buf) is a multiple of width.
	ReadBlock(buf []byte, off uint16, width int)
	WriteBlock(buf []byte, off uint16, width int)
}

// HostInfo is what the backplane layer knows about the core and its board.
type HostInfo struct {
	ChipID     uint16
	ChipRev    uint8
	CoreRev    uint8
	DeviceID   uint16 // PCI device ID of the board, zero if not on PCI.
	BoardFlags uint16 // SPROM boardflags_lo.
	Have2GHz   bool   // Core advertises a 2.4GHz PHY.
	Have5GHz   bool   // Core advertises a 5GHz PHY.
	DMA64      bool   // Core has 64 bit DMA engines.
}

// Host is the backplane and power collaborator of a Device.
type Host interface {
	Info() HostInfo
	PowerUp(dynamicPLL bool) error
	PowerMayDown()
	// CoreReset resets the core with the given b43hw.TMSLOW_* flags and
	// leaves it enabled.
	CoreReset(flags uint32)
	CoreDisable()
	CoreEnabled() bool
	// SetCoreFlags replaces the core flags in mask with set without a reset.
	SetCoreFlags(mask, set uint32)
	EnableIRQRouting(enable bool) error
	// GPIOControl hands the GPIO lines in mask over to the core.
	GPIOControl(mask, set uint32)
}

// NetStack is the network stack side of a Device.
type NetStack interface {
	// FrameReceived is called for every accepted frame. frame starts at the
	// 802.11 header and includes the FCS. It is only valid during the call.
	FrameReceived(frame []byte, signal int, bitrate uint16)
	// TxComplete returns a frame passed to Submit. err is nil if the frame
	// was acknowledged.
	TxComplete(frame []byte, retries int, err error)
}

// Clock is the time source used by bounded busy-waits and periodic work.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type sysClock struct{}

func (sysClock) Now() time.Time        { return time.Now() }
func (sysClock) Sleep(d time.Duration) { time.Sleep(d) }

func (d *Device) read16(off uint16) uint16     { return d.bus.Read16(off) }
func (d *Device) read32(off uint16) uint32     { return d.bus.Read32(off) }
func (d *Device) write16(off uint16, v uint16) { d.bus.Write16(off, v) }
func (d *Device) write32(off uint16, v uint32) { d.bus.Write32(off, v) }

func (d *Device) maskset16(off, mask, set uint16) {
	d.write16(off, (d.read16(off)&mask)|set)
}

func (d *Device) maskset32(off uint16, mask, set uint32) {
	d.write32(off, (d.read32(off)&mask)|set)
}

func (d *Device) udelay(us int) { d.clk.Sleep(time.Duration(us) * time.Microsecond) }
func (d *Device) msleep(ms int) { d.clk.Sleep(time.Duration(ms) * time.Millisecond) }

// macctl read-modify-writes MACCTL.
func (d *Device) macctl(clear, set uint32) {
	d.maskset32(b43hw.MMIO_MACCTL, ^clear, set)
}
