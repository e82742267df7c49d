package b43

import (
	"math/bits"

	"github.com/soypat/b43/b43hw"
)

// Shared memory is reached through a control/data register pair. For
// SHM_SHARED the offset is in bytes and must be 16 bit aligned, for every
// other routing it is a word index.

func (d *Device) shmControl(routing, off uint16) {
	d.write32(b43hw.MMIO_SHM_CONTROL, uint32(routing)<<16|uint32(off))
}

func (d *Device) shmRead32(routing, off uint16) uint32 {
	if routing == b43hw.SHM_SHARED {
		if !isaligned(off, 4) {
			d.shmControl(routing, off>>2)
			v := uint32(d.read16(b43hw.MMIO_SHM_DATA_UNALIGNED))
			d.shmControl(routing, off>>2+1)
			return v | uint32(d.read16(b43hw.MMIO_SHM_DATA))<<16
		}
		off >>= 2
	}
	d.shmControl(routing, off)
	return d.read32(b43hw.MMIO_SHM_DATA)
}

func (d *Device) shmRead16(routing, off uint16) uint16 {
	if routing == b43hw.SHM_SHARED {
		if !isaligned(off, 4) {
			d.shmControl(routing, off>>2)
			return d.read16(b43hw.MMIO_SHM_DATA_UNALIGNED)
		}
		off >>= 2
	}
	d.shmControl(routing, off)
	return d.read16(b43hw.MMIO_SHM_DATA)
}

func (d *Device) shmWrite32(routing, off uint16, v uint32) {
	if routing == b43hw.SHM_SHARED {
		if !isaligned(off, 4) {
			d.shmControl(routing, off>>2)
			d.write16(b43hw.MMIO_SHM_DATA_UNALIGNED, uint16(v))
			d.shmControl(routing, off>>2+1)
			d.write16(b43hw.MMIO_SHM_DATA, uint16(v>>16))
			return
		}
		off >>= 2
	}
	d.shmControl(routing, off)
	d.write32(b43hw.MMIO_SHM_DATA, v)
}

func (d *Device) shmWrite16(routing, off uint16, v uint16) {
	if routing == b43hw.SHM_SHARED {
		if !isaligned(off, 4) {
			d.shmControl(routing, off>>2)
			d.write16(b43hw.MMIO_SHM_DATA_UNALIGNED, v)
			return
		}
		off >>= 2
	}
	d.shmControl(routing, off)
	d.write16(b43hw.MMIO_SHM_DATA, v)
}

func (d *Device) shmMaskset16(routing, off, mask, set uint16) {
	d.shmWrite16(routing, off, d.shmRead16(routing, off)&mask|set)
}

// hfRead returns the 48 bit host flags.
func (d *Device) hfRead() uint64 {
	v := uint64(d.shmRead16(b43hw.SHM_SHARED, b43hw.SHM_SH_HOSTF3))
	v = v<<16 | uint64(d.shmRead16(b43hw.SHM_SHARED, b43hw.SHM_SH_HOSTF2))
	v = v<<16 | uint64(d.shmRead16(b43hw.SHM_SHARED, b43hw.SHM_SH_HOSTF1))
	return v
}

func (d *Device) hfWrite(v uint64) {
	d.shmWrite16(b43hw.SHM_SHARED, b43hw.SHM_SH_HOSTF1, uint16(v))
	d.shmWrite16(b43hw.SHM_SHARED, b43hw.SHM_SH_HOSTF2, uint16(v>>16))
	d.shmWrite16(b43hw.SHM_SHARED, b43hw.SHM_SH_HOSTF3, uint16(v>>32))
}

// tsfRead reads the 64 bit TSF. Low word first latches the high word.
func (d *Device) tsfRead() uint64 {
	lo := d.read32(b43hw.MMIO_REV3PLUS_TSF_LOW)
	hi := d.read32(b43hw.MMIO_REV3PLUS_TSF_HIGH)
	return uint64(hi)<<32 | uint64(lo)
}

func (d *Device) tsfWrite(tsf uint64) {
	d.macctl(0, b43hw.MACCTL_TBTTHOLD)
	d.read32(b43hw.MMIO_MACCTL)
	d.write32(b43hw.MMIO_REV3PLUS_TSF_LOW, uint32(tsf))
	d.write32(b43hw.MMIO_REV3PLUS_TSF_HIGH, uint32(tsf>>32))
	d.macctl(b43hw.MACCTL_TBTTHOLD, 0)
	d.read32(b43hw.MMIO_MACCTL)
}

// ramWrite writes a word of template RAM. off must be 4 byte aligned.
func (d *Device) ramWrite(off uint16, v uint32) {
	if d.read32(b43hw.MMIO_MACCTL)&b43hw.MACCTL_BE != 0 {
		v = bits.ReverseBytes32(v)
	}
	d.write32(b43hw.MMIO_RAM_CONTROL, uint32(off))
	d.write32(b43hw.MMIO_RAM_DATA, v)
}

func (d *Device) macfilterSet(slot uint16, mac [6]byte) {
	d.write16(b43hw.MMIO_MACFILTER_CONTROL, slot|b43hw.MACFILTER_WRITE)
	d.write16(b43hw.MMIO_MACFILTER_DATA, uint16(mac[0])|uint16(mac[1])<<8)
	d.write16(b43hw.MMIO_MACFILTER_DATA, uint16(mac[2])|uint16(mac[3])<<8)
	d.write16(b43hw.MMIO_MACFILTER_DATA, uint16(mac[4])|uint16(mac[5])<<8)
}

func (d *Device) writeMACBSSIDTemplates() {
	d.macfilterSet(b43hw.MACFILTER_BSSID, d.link.BSSID)
	var macBSSID [12]byte
	copy(macBSSID[:6], d.cfg.MAC[:])
	copy(macBSSID[6:], d.link.BSSID[:])
	for i := 0; i < len(macBSSID); i += 4 {
		v := uint32(macBSSID[i]) | uint32(macBSSID[i+1])<<8 |
			uint32(macBSSID[i+2])<<16 | uint32(macBSSID[i+3])<<24
		d.ramWrite(b43hw.TEMPLATE_MAC_BSSID+uint16(i), v)
	}
}

func (d *Device) uploadCardMACAddress() {
	d.writeMACBSSIDTemplates()
	d.macfilterSet(b43hw.MACFILTER_SELF, d.cfg.MAC)
}

func (d *Device) jssiRead() uint32 {
	v := uint32(d.shmRead16(b43hw.SHM_SHARED, b43hw.SHM_SH_JSSI0))
	return v | uint32(d.shmRead16(b43hw.SHM_SHARED, b43hw.SHM_SH_JSSI1))<<16
}

func (d *Device) jssiWrite(v uint32) {
	d.shmWrite16(b43hw.SHM_SHARED, b43hw.SHM_SH_JSSI0, uint16(v))
	d.shmWrite16(b43hw.SHM_SHARED, b43hw.SHM_SH_JSSI1, uint16(v>>16))
}
