package b43

import (
	"log/slog"

	"github.com/soypat/b43/b43hw"
)

// chipInit programs the MAC, loads firmware and brings up the PHY.
func (d *Device) chipInit() (err error) {
	macctl := uint32(b43hw.MACCTL_IHR_ENABLED | b43hw.MACCTL_SHM_ENABLED | b43hw.MACCTL_INFRA)
	if d.phy.gmode {
		macctl |= b43hw.MACCTL_GMODE
	}
	d.write32(b43hw.MMIO_MACCTL, macctl)

	err = d.uploadMicrocode()
	if err != nil {
		return err
	}
	d.gpioInit()
	defer func() {
		if err != nil {
			d.gpioCleanup()
		}
	}()
	err = d.uploadInitvals()
	if err != nil {
		return err
	}
	err = d.uploadInitvalsBand()
	if err != nil {
		return err
	}

	d.phy.ops.SwitchAnalog(true)
	err = d.phyInit()
	if err != nil {
		return err
	}
	err = d.phy.ops.InterfMitigation(InterfNone)
	if err != nil {
		d.warn("disabling interference mitigation failed", slog.String("err", err.Error()))
	}
	d.phy.ops.SetRxAntenna(d.link.Antenna)
	d.mgmtframeTxAntenna(d.link.Antenna)

	if d.phy.Type == b43hw.PHYTYPE_B {
		d.maskset16(0x005E, 0xFFFF, 0x0004)
	}
	d.write32(0x0100, 0x01000000)
	if d.hw.CoreRev < 5 {
		d.write32(0x010C, 0x01000000)
	}
	d.macctl(b43hw.MACCTL_INFRA, 0)
	d.macctl(0, b43hw.MACCTL_INFRA)
	// Probe response timeout.
	d.shmWrite16(b43hw.SHM_SHARED, b43hw.SHM_SH_PRMAXTIME, 0)
	d.adjustOpmode()

	if d.hw.CoreRev < 3 {
		d.write16(b43hw.MMIO_TSF_CFP_REP_REV2, 0x0000)
		d.write16(b43hw.MMIO_TSF_CFP_START_REV2, 0x8000)
		d.write16(b43hw.MMIO_TSF_CFP_START_LOW, 0x0000)
		d.write16(b43hw.MMIO_TSF_CFP_START_HIGH, 0x0200)
	} else {
		d.write32(b43hw.MMIO_TSF_CFP_REP, 0x80000000)
		d.write32(b43hw.MMIO_TSF_CFP_START, 0x02000000)
	}
	d.write32(b43hw.MMIO_GEN_IRQ_REASON, b43hw.IRQ_TIMER1)
	for i, mask := range b43hw.DMAReasonMasks {
		d.write32(b43hw.MMIO_DMA_IRQ_MASK(i), mask)
	}
	d.macPHYClockSet(true)
	d.write16(b43hw.MMIO_POWERUP_DELAY, d.cfg.PowerupDelay)
	d.debug("chip initialized")
	return nil
}

// chipExit undoes chipInit. Firmware stays cached.
func (d *Device) chipExit() {
	d.phyExit()
	d.gpioCleanup()
}

func (d *Device) gpioInit() {
	d.macctl(b43hw.MACCTL_GPOUTSMSK, 0)
	d.maskset16(b43hw.MMIO_GPIO_MASK, 0xFFFF, 0x000F)

	mask := uint32(0x0000001F)
	set := uint32(0x0000000F)
	switch d.hw.ChipID {
	case 0x4301:
		mask |= 0x0060
		set |= 0x0060
	case 0x5354:
		set &= 0x2 // LED line, the rest are buttons.
	}
	if d.hw.BoardFlags&b43hw.BFL_PACTRL != 0 {
		// Power amplifier on GPIO 9, driven by the microcode.
		d.maskset16(b43hw.MMIO_GPIO_MASK, 0xFFFF, 0x0200)
		mask |= 0x0200
		set |= 0x0200
	}
	d.host.GPIOControl(mask, set)
}

func (d *Device) gpioCleanup() {
	d.host.GPIOControl(^uint32(0), 0)
}

// macEnable undoes one macSuspend. The MAC runs again once every
// suspend has been matched.
func (d *Device) macEnable() {
	if d.debugging(DebugFirmware) {
		fwstate := d.shmRead16(b43hw.SHM_SHARED, b43hw.SHM_SH_UCODESTAT)
		if fwstate != b43hw.SHM_SH_UCODESTAT_SUSP && fwstate != b43hw.SHM_SH_UCODESTAT_SLEEP {
			d.logerr("macEnable: firmware should be suspended", slog.Int("state", int(fwstate)))
		}
	}
	d.macSuspended--
	if d.macSuspended < 0 {
		d.warn("unbalanced MAC enable")
		d.macSuspended = 0
		return
	}
	if d.macSuspended == 0 {
		d.macctl(0, b43hw.MACCTL_ENABLED)
		d.write32(b43hw.MMIO_GEN_IRQ_REASON, b43hw.IRQ_MAC_SUSPENDED)
		// Commit.
		d.read32(b43hw.MMIO_MACCTL)
		d.read32(b43hw.MMIO_GEN_IRQ_REASON)
		d.psCtlBits(psNormal)
	}
}

// macSuspend stops the MAC. Calls nest.
func (d *Device) macSuspend() {
	if d.macSuspended == 0 {
		d.psCtlBits(psAwake)
		d.macctl(b43hw.MACCTL_ENABLED, 0)
		d.read32(b43hw.MMIO_MACCTL) // Flush.
		if !d.waitMACSuspended() {
			d.logerr("MAC suspend failed")
		}
	}
	d.macSuspended++
}

func (d *Device) waitMACSuspended() bool {
	for i := 0; i < 35; i++ {
		if d.read32(b43hw.MMIO_GEN_IRQ_REASON)&b43hw.IRQ_MAC_SUSPENDED != 0 {
			return true
		}
		d.udelay(10)
	}
	for i := 0; i < 40; i++ {
		if d.read32(b43hw.MMIO_GEN_IRQ_REASON)&b43hw.IRQ_MAC_SUSPENDED != 0 {
			return true
		}
		d.msleep(1)
	}
	return false
}

type psFlags uint8

const (
	psNormal psFlags = iota
	psAwake
)

// psCtlBits programs the power saving bits. Hardware power saving is never
// enabled and the device is always kept awake, flags only document the
// caller's intent.
func (d *Device) psCtlBits(flags psFlags) {
	d.trace("psCtlBits", slog.Int("flags", int(flags)))
	d.macctl(b43hw.MACCTL_HWPS, b43hw.MACCTL_AWAKE)
	d.read32(b43hw.MMIO_MACCTL) // Commit.
	if d.hw.CoreRev >= 5 {
		for i := 0; i < 100; i++ {
			if d.shmRead16(b43hw.SHM_SHARED, b43hw.SHM_SH_UCODESTAT) != b43hw.SHM_SH_UCODESTAT_SLEEP {
				break
			}
			d.udelay(10)
		}
	}
}

// adjustOpmode puts the MAC in station infrastructure mode.
func (d *Device) adjustOpmode() {
	ctl := d.read32(b43hw.MMIO_MACCTL)
	ctl &^= b43hw.MACCTL_AP | b43hw.MACCTL_KEEP_CTL | b43hw.MACCTL_KEEP_BADPLCP |
		b43hw.MACCTL_KEEP_BAD | b43hw.MACCTL_PROMISC | b43hw.MACCTL_BEACPROMISC
	ctl |= b43hw.MACCTL_INFRA
	if d.cfg.KeepBadFCS {
		ctl |= b43hw.MACCTL_KEEP_BAD
	}
	if d.cfg.KeepBadPLCP {
		ctl |= b43hw.MACCTL_KEEP_BADPLCP
	}
	if d.hw.CoreRev <= 4 {
		// Address filter is broken on old cores, filter in software.
		ctl |= b43hw.MACCTL_PROMISC
	}
	d.write32(b43hw.MMIO_MACCTL, ctl)

	var cfpPretbtt uint16 = 50
	if d.hw.ChipID == 0x4306 && d.hw.ChipRev == 3 {
		cfpPretbtt = 100
	}
	d.write16(b43hw.MMIO_TSF_CFP_PRETBTT, cfpPretbtt)
	// PMQ is not implemented.
	d.macctl(0, b43hw.MACCTL_DISCPMQ)
}

func (d *Device) rateMemoryWrite(rate b43hw.Rate) {
	var off uint16
	if rate.IsOFDM() {
		off = b43hw.SHM_SH_RATEMEM_OFDM + uint16(rate.PLCPCode()&0xF)*2
	} else {
		off = b43hw.SHM_SH_RATEMEM_CCK + uint16(rate.PLCPCode()&0xF)*2
	}
	d.shmWrite16(b43hw.SHM_SHARED, off+0x20, d.shmRead16(b43hw.SHM_SHARED, off))
}

func (d *Device) rateMemoryInit() {
	for _, r := range b43hw.OFDMRates {
		d.rateMemoryWrite(r)
	}
	if d.phy.Type == b43hw.PHYTYPE_A {
		return
	}
	for _, r := range b43hw.CCKRates {
		d.rateMemoryWrite(r)
	}
}

// setPHYTxControlDefaults sets the PHY control words of frames the
// microcode sends on its own.
func (d *Device) setPHYTxControlDefaults() {
	ctl := uint16(b43hw.TXH_PHY_ENC_CCK | b43hw.TXH_PHY_ANT01AUTO | b43hw.TXH_PHY_TXPWR)
	d.shmWrite16(b43hw.SHM_SHARED, b43hw.SHM_SH_BEACPHYCTL, ctl)
	d.shmWrite16(b43hw.SHM_SHARED, b43hw.SHM_SH_ACKCTSPHYCTL, ctl)
	d.shmWrite16(b43hw.SHM_SHARED, b43hw.SHM_SH_PRPHYCTL, ctl)
}

// mgmtframeTxAntenna selects the antenna of ACK, CTS and probe responses.
func (d *Device) mgmtframeTxAntenna(ant Antenna) {
	bits := ant.phyctl()
	for _, off := range [2]uint16{b43hw.SHM_SH_ACKCTSPHYCTL, b43hw.SHM_SH_PRPHYCTL} {
		d.shmMaskset16(b43hw.SHM_SHARED, off, ^uint16(b43hw.TXH_PHY_ANT), bits)
	}
}

// validateChipaccess checks SHM and register access works end to end.
func (d *Device) validateChipaccess() error {
	backup0 := d.shmRead32(b43hw.SHM_SHARED, 0)
	backup4 := d.shmRead32(b43hw.SHM_SHARED, 4)

	// Read/write and endianness.
	for _, pattern := range [2]uint32{0x55AAAA55, 0xAA5555AA} {
		d.shmWrite32(b43hw.SHM_SHARED, 0, pattern)
		if got := d.shmRead32(b43hw.SHM_SHARED, 0); got != pattern {
			d.logerr("SHM readback mismatch", slog.String("want", hex32(pattern)), slog.String("got", hex32(got)))
			return ErrChipAccess
		}
	}

	// Unaligned 32 bit access is not critical.
	d.shmWrite16(b43hw.SHM_SHARED, 0, 0x1122)
	d.shmWrite16(b43hw.SHM_SHARED, 2, 0x3344)
	d.shmWrite16(b43hw.SHM_SHARED, 4, 0x5566)
	d.shmWrite16(b43hw.SHM_SHARED, 6, 0x7788)
	if d.shmRead32(b43hw.SHM_SHARED, 2) != 0x55663344 {
		d.warn("unaligned 32bit SHM read access is broken")
	}
	d.shmWrite32(b43hw.SHM_SHARED, 2, 0xAABBCCDD)
	if d.shmRead16(b43hw.SHM_SHARED, 0) != 0x1122 ||
		d.shmRead16(b43hw.SHM_SHARED, 2) != 0xCCDD ||
		d.shmRead16(b43hw.SHM_SHARED, 4) != 0xAABB ||
		d.shmRead16(b43hw.SHM_SHARED, 6) != 0x7788 {
		d.warn("unaligned 32bit SHM write access is broken")
	}
	d.shmWrite32(b43hw.SHM_SHARED, 0, backup0)
	d.shmWrite32(b43hw.SHM_SHARED, 4, backup4)

	if d.hw.CoreRev >= 3 && d.hw.CoreRev <= 10 {
		// The 32 bit register shadows the two 16 bit halves.
		d.write16(b43hw.MMIO_TSF_CFP_START, 0xAAAA)
		d.write32(b43hw.MMIO_TSF_CFP_START, 0xCCCCBBBB)
		if d.read16(b43hw.MMIO_TSF_CFP_START_LOW) != 0xBBBB ||
			d.read16(b43hw.MMIO_TSF_CFP_START_HIGH) != 0xCCCC {
			d.logerr("TSF CFP start shadow registers broken")
			return ErrChipAccess
		}
	}
	d.write32(b43hw.MMIO_TSF_CFP_START, 0)

	v := d.read32(b43hw.MMIO_MACCTL) | b43hw.MACCTL_GMODE
	if v != b43hw.MACCTL_GMODE|b43hw.MACCTL_IHR_ENABLED {
		d.logerr("unexpected MACCTL after reset", slog.String("macctl", hex32(v)))
		return ErrChipAccess
	}
	return nil
}

func (d *Device) setupHostflags() {
	hf := d.hfRead()
	if d.phy.Type == b43hw.PHYTYPE_G {
		hf |= b43hw.HF_SYMW
		if d.phy.Rev == 1 {
			hf |= b43hw.HF_GDCW
		}
		if d.hw.BoardFlags&b43hw.BFL_PACTRL != 0 {
			hf |= b43hw.HF_OFDMPABOOST
		}
	}
	if d.phy.RadioID == 0x2050 {
		if d.phy.RadioRev == 6 {
			hf |= b43hw.HF_4318TSSI
		}
		if d.phy.RadioRev < 6 {
			hf |= b43hw.HF_VCORECALC
		}
	}
	if d.hw.BoardFlags&b43hw.BFL_XTAL_NOSLOW != 0 {
		hf |= b43hw.HF_DSCRQ // No slow clock requests from the microcode.
	}
	hf &^= b43hw.HF_SKCFPUP
	d.hfWrite(hf)
}

// setRetryLimits writes the 4 bit retry counters.
func (d *Device) setRetryLimits(short, long uint8) {
	d.shmWrite16(b43hw.SHM_SCRATCH, b43hw.SHM_SC_SRLIMIT, uint16(min(short, 0xF)))
	d.shmWrite16(b43hw.SHM_SCRATCH, b43hw.SHM_SC_LRLIMIT, uint16(min(long, 0xF)))
}

// qosInit disables EDCF, frames go out through a single queue.
func (d *Device) qosInit() {
	d.hfWrite(d.hfRead() &^ b43hw.HF_EDCF)
	d.maskset16(b43hw.MMIO_IFSCTL, ^uint16(b43hw.IFSCTL_USE_EDCF), 0)
	d.debug("QoS disabled")
}

// setPretbtt sets the pre target beacon transmission time in microseconds.
func (d *Device) setPretbtt() {
	var pretbtt uint16 = 250
	if d.phy.Type == b43hw.PHYTYPE_A {
		pretbtt = 120
	}
	d.shmWrite16(b43hw.SHM_SHARED, b43hw.SHM_SH_PRETBTT, pretbtt)
	d.write16(b43hw.MMIO_TSF_CFP_PRETBTT, pretbtt)
}

// setSynthPUDelay sets the synthesizer power up delay in microseconds.
func (d *Device) setSynthPUDelay(idle bool) {
	var delay uint16 = 1050
	if d.phy.Type == b43hw.PHYTYPE_A {
		delay = 3700
	}
	if idle {
		delay = 500
	}
	if d.phy.RadioID == 0x2050 && d.phy.RadioRev == 8 {
		delay = max(delay, 2400)
	}
	d.shmWrite16(b43hw.SHM_SHARED, b43hw.SHM_SH_SPUWKUP, delay)
}

// drainTxStatus discards stale TX status reports left by a previous run.
func (d *Device) drainTxStatus() {
	for i := 0; i < 0x1000; i++ {
		if d.read32(b43hw.MMIO_XMITSTAT_0)&b43hw.XMITSTAT_VALID == 0 {
			return
		}
		d.read32(b43hw.MMIO_XMITSTAT_1)
	}
	d.logerr("TX status queue does not drain")
}

// Key table layout. Firmware since revision 351 has one set of group keys,
// older firmware keeps separate TX and RX copies.
func (d *Device) newKeyIdxAPI() bool { return d.fw.Rev >= 351 }

func (d *Device) pairwiseKeysStart() int {
	if d.newKeyIdxAPI() {
		return b43hw.NR_GROUP_KEYS
	}
	return b43hw.NR_GROUP_KEYS * 2
}

func (d *Device) keyCount() int {
	return d.pairwiseKeysStart() + b43hw.NR_PAIRWISE_KEYS
}

// kidxToFw maps a key slot to the index the firmware uses in the key
// index block. Old firmware shares one entry between the TX and RX copies
// of a group key.
func (d *Device) kidxToFw(idx int) int {
	if d.newKeyIdxAPI() || idx < b43hw.NR_GROUP_KEYS {
		return idx
	}
	return idx - b43hw.NR_GROUP_KEYS
}

func (d *Device) securityInit() {
	// KTP is a word address, SHM is addressed bytewise here.
	d.ktp = d.shmRead16(b43hw.SHM_SHARED, b43hw.SHM_SH_KTP) * 2
	d.write16(b43hw.MMIO_RCMTA_COUNT, b43hw.NR_PAIRWISE_KEYS)
	for i := 0; i < d.keyCount(); i++ {
		d.keyClear(i)
	}
}

func (d *Device) keyClear(idx int) {
	d.keyWrite(idx, b43hw.SEC_ALGO_NONE, nil)
	if idx < b43hw.NR_GROUP_KEYS && !d.newKeyIdxAPI() {
		d.keyWrite(idx+b43hw.NR_GROUP_KEYS, b43hw.SEC_ALGO_NONE, nil)
	}
}

// keyWrite programs a key slot. Pairwise slots get their RCMTA address
// zeroed and rewritten around the key update.
func (d *Device) keyWrite(idx int, algo uint8, key []byte) {
	pairwise := idx >= d.pairwiseKeysStart()
	if pairwise {
		d.keymacWrite(idx, [6]byte{})
	}
	var buf [b43hw.SEC_KEYSIZE]byte
	copy(buf[:], key)
	kidx := uint16(d.kidxToFw(idx))
	d.shmWrite16(b43hw.SHM_SHARED, b43hw.SHM_SH_KEYIDXBLOCK+kidx*2, kidx<<4|uint16(algo))
	off := d.ktp + uint16(idx)*b43hw.SEC_KEYSIZE
	for i := 0; i < len(buf); i += 2 {
		d.shmWrite16(b43hw.SHM_SHARED, off+uint16(i), uint16(buf[i])|uint16(buf[i+1])<<8)
	}
}

// keymacWrite sets the receive match transmitter address of a pairwise slot.
func (d *Device) keymacWrite(idx int, addr [6]byte) {
	idx -= d.pairwiseKeysStart()
	lo := uint32(addr[0]) | uint32(addr[1])<<8 | uint32(addr[2])<<16 | uint32(addr[3])<<24
	hi := uint16(addr[4]) | uint16(addr[5])<<8
	d.shmWrite32(b43hw.SHM_RCMTA, uint16(idx*2), lo)
	d.shmWrite16(b43hw.SHM_RCMTA, uint16(idx*2+1), hi)
}
