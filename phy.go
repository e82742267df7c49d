package b43

import (
	"log/slog"
	"strconv"

	"github.com/soypat/b43/b43hw"
)

// Band is a frequency band.
type Band uint8

const (
	Band2GHz Band = iota
	Band5GHz
)

func (b Band) String() (s string) {
	switch b {
	case Band2GHz:
		s = "2.4GHz"
	case Band5GHz:
		s = "5GHz"
	default:
		s = "invalid band"
	}
	return s
}

// DefaultChannel returns the channel a PHY is tuned to after init.
func (b Band) DefaultChannel() uint8 {
	if b == Band5GHz {
		return 36
	}
	return 1
}

// Antenna selects a TX or RX antenna. The zero value lets the hardware
// diversity logic choose.
type Antenna uint8

const (
	AntennaAuto Antenna = iota
	Antenna0
	Antenna1
	Antenna2
	Antenna3
)

// phyctl returns the antenna bits of a TX PHY control word.
func (a Antenna) phyctl() uint16 {
	switch a {
	case Antenna0:
		return b43hw.TXH_PHY_ANT0
	case Antenna1:
		return b43hw.TXH_PHY_ANT1
	case Antenna2:
		return b43hw.TXH_PHY_ANT2
	case Antenna3:
		return b43hw.TXH_PHY_ANT3
	}
	return b43hw.TXH_PHY_ANT01AUTO
}

// InterfMode is an interference mitigation mode.
type InterfMode uint8

const (
	InterfNone InterfMode = iota
	InterfNonWLAN
	InterfManualWLAN
	InterfAutoWLAN
)

// TxPowerFlags modify a TX power check.
type TxPowerFlags uint8

const (
	// TxPowerIgnoreTime runs the check even if the last one was recent.
	TxPowerIgnoreTime TxPowerFlags = 1 << iota
	// TxPowerIgnoreTSSI ignores the TSSI reading and recalculates from scratch.
	TxPowerIgnoreTSSI
)

// PHYInfo identifies the PHY and radio found during Attach.
type PHYInfo struct {
	Analog     uint8
	Type       uint8 // One of b43hw.PHYTYPE_*. LCNXN is reported as N with Rev+16.
	Rev        uint8
	RadioManuf uint16
	RadioID    uint16
	RadioRev   uint8
	RadioVer   uint8
	CoreRev    uint8
	ChipID     uint16
}

// PHYOps is the per PHY type implementation of calibration and tuning.
// Implementations talk to the PHY through the Bus passed to PHYOpsFunc.
type PHYOps interface {
	// PrepareStructs resets software state before each init.
	PrepareStructs()
	// PrepareHardware runs before the microcode is loaded.
	PrepareHardware() error
	Init() error
	Exit()
	SwitchAnalog(on bool)
	SetRxAntenna(ant Antenna)
	InterfMitigation(mode InterfMode) error
	PWork15()
	PWork60()
	TxPowerCheck(flags TxPowerFlags)
	SwitchChannel(channel uint8) error
	// NRSSITable maps raw noise RSSI samples to signal levels. It may return
	// nil for PHYs without one.
	NRSSITable() []int8
}

// PHYOpsFunc selects the PHYOps for a PHY once during Attach.
type PHYOpsFunc func(bus Bus, info PHYInfo) PHYOps

// GenericPHY returns PHY operations that only switch the analog frontend.
// No calibration is performed.
func GenericPHY(bus Bus, info PHYInfo) PHYOps {
	g := &genericPHY{bus: bus, info: info}
	if info.Type == b43hw.PHYTYPE_G {
		g.nrssi = make([]int8, 64)
		for i := range g.nrssi {
			g.nrssi[i] = int8(i)
		}
	}
	return g
}

type genericPHY struct {
	bus   Bus
	info  PHYInfo
	nrssi []int8
}

func (g *genericPHY) PrepareStructs()                   {}
func (g *genericPHY) PrepareHardware() error            { return nil }
func (g *genericPHY) Init() error                       { return nil }
func (g *genericPHY) Exit()                             {}
func (g *genericPHY) SetRxAntenna(Antenna)              {}
func (g *genericPHY) InterfMitigation(InterfMode) error { return nil }
func (g *genericPHY) PWork15()                          {}
func (g *genericPHY) PWork60()                          {}
func (g *genericPHY) TxPowerCheck(TxPowerFlags)         {}
func (g *genericPHY) SwitchChannel(channel uint8) error { return nil }
func (g *genericPHY) NRSSITable() []int8                { return g.nrssi }

func (g *genericPHY) SwitchAnalog(on bool) {
	v := uint16(b43hw.PHY0_ANALOG_OFF)
	if on {
		v = b43hw.PHY0_ANALOG_ON
	}
	g.bus.Write16(b43hw.MMIO_PHY0, v)
}

type phy struct {
	PHYInfo
	ops   PHYOps
	gmode bool
	// Bands the device can operate on, fixed at Attach.
	supports2GHz bool
	supports5GHz bool
	channel      uint8
}

func (p *phy) band() Band {
	if p.gmode {
		return Band2GHz
	}
	return Band5GHz
}

func phyName(typ uint8) (s string) {
	switch typ {
	case b43hw.PHYTYPE_A:
		s = "A"
	case b43hw.PHYTYPE_B:
		s = "B"
	case b43hw.PHYTYPE_G:
		s = "G"
	case b43hw.PHYTYPE_N:
		s = "N"
	case b43hw.PHYTYPE_LP:
		s = "LP"
	case b43hw.PHYTYPE_HT:
		s = "HT"
	case b43hw.PHYTYPE_LCN:
		s = "LCN"
	case b43hw.PHYTYPE_LCNXN:
		s = "LCNXN"
	case b43hw.PHYTYPE_LCN40:
		s = "LCN40"
	case b43hw.PHYTYPE_AC:
		s = "AC"
	default:
		s = "UNKNOWN"
	}
	return s
}

// write16f writes and flushes the write with a read back.
func (d *Device) write16f(off, v uint16) {
	d.write16(off, v)
	d.read16(off)
}

// phyVersioning identifies the PHY and radio and rejects unsupported ones.
func (d *Device) phyVersioning() error {
	tmp := d.read16(b43hw.MMIO_PHY_VER)
	analog := uint8((tmp & b43hw.PHYVER_ANALOG) >> b43hw.PHYVER_ANALOG_SHIFT)
	typ := uint8((tmp & b43hw.PHYVER_TYPE) >> b43hw.PHYVER_TYPE_SHIFT)
	rev := uint8(tmp & b43hw.PHYVER_VERSION)
	if typ == b43hw.PHYTYPE_LCNXN {
		// Continuation of N which ran out of revisions.
		typ = b43hw.PHYTYPE_N
		rev += 16
	}
	var unsupported bool
	switch typ {
	case b43hw.PHYTYPE_G:
		unsupported = rev > 9
	case b43hw.PHYTYPE_N:
		unsupported = rev >= 19
	case b43hw.PHYTYPE_LP:
		unsupported = rev > 2
	case b43hw.PHYTYPE_HT, b43hw.PHYTYPE_LCN:
		unsupported = rev > 1
	default:
		unsupported = true
	}
	phyattrs := []slog.Attr{slog.Int("analog", int(analog)), slog.String("type", phyName(typ)), slog.Int("rev", int(rev))}
	if unsupported {
		d.logerr("unsupported PHY", phyattrs...)
		return &UnsupportedError{What: "PHY " + phyName(typ) + " revision " + strconv.Itoa(int(rev))}
	}
	d.info("found PHY", phyattrs...)

	var manuf, id uint16
	var radioRev, radioVer uint8
	coreRev := d.hw.CoreRev
	switch {
	case coreRev == 40 || coreRev == 42:
		manuf = b43hw.RADIO_MANUF_BROADCOM
		d.write16f(b43hw.MMIO_RADIO24_CONTROL, 0)
		radioRev = uint8(d.read16(b43hw.MMIO_RADIO24_DATA))
		d.write16f(b43hw.MMIO_RADIO24_CONTROL, 1)
		id = d.read16(b43hw.MMIO_RADIO24_DATA)
	case coreRev >= 24:
		var radio24 [3]uint16
		for i := range radio24 {
			d.write16f(b43hw.MMIO_RADIO24_CONTROL, uint16(i))
			radio24[i] = d.read16(b43hw.MMIO_RADIO24_DATA)
		}
		manuf = b43hw.RADIO_MANUF_BROADCOM
		id = radio24[2]<<8 | radio24[1]
		radioRev = uint8(radio24[0] & 0xF)
		radioVer = uint8(radio24[0]&0xF0) >> 4
	default:
		var v uint32
		if d.hw.ChipID == 0x4317 {
			switch d.hw.ChipRev {
			case 0:
				v = 0x3205017F
			case 1:
				v = 0x4205017F
			default:
				v = 0x5205017F
			}
		} else {
			d.write16f(b43hw.MMIO_RADIO_CONTROL, b43hw.RADIOCTL_ID)
			v = uint32(d.read16(b43hw.MMIO_RADIO_DATA_LOW))
			d.write16f(b43hw.MMIO_RADIO_CONTROL, b43hw.RADIOCTL_ID)
			v |= uint32(d.read16(b43hw.MMIO_RADIO_DATA_HIGH)) << 16
		}
		manuf = uint16(v & 0x00000FFF)
		id = uint16((v & 0x0FFFF000) >> 12)
		radioRev = uint8((v & 0xF0000000) >> 28)
	}

	unsupported = manuf != b43hw.RADIO_MANUF_BROADCOM
	switch typ {
	case b43hw.PHYTYPE_G:
		unsupported = unsupported || id != 0x2050
	case b43hw.PHYTYPE_N:
		unsupported = unsupported || (id != 0x2055 && id != 0x2056 && id != 0x2057) ||
			(id == 0x2057 && radioRev != 9 && radioRev != 14)
	case b43hw.PHYTYPE_LP:
		unsupported = unsupported || (id != 0x2062 && id != 0x2063)
	case b43hw.PHYTYPE_HT:
		unsupported = unsupported || id != 0x2059
	case b43hw.PHYTYPE_LCN:
		unsupported = unsupported || id != 0x2064
	}
	radioattrs := []slog.Attr{slog.String("manuf", hex16(manuf)), slog.String("id", hex16(id)),
		slog.Int("rev", int(radioRev)), slog.Int("ver", int(radioVer))}
	if unsupported {
		d.logerr("unsupported radio", radioattrs...)
		return &UnsupportedError{What: "radio " + hex16(id) + " revision " + strconv.Itoa(int(radioRev))}
	}
	d.info("found radio", radioattrs...)

	d.phy.PHYInfo = PHYInfo{
		Analog:     analog,
		Type:       typ,
		Rev:        rev,
		RadioManuf: manuf,
		RadioID:    id,
		RadioRev:   radioRev,
		RadioVer:   radioVer,
		CoreRev:    coreRev,
		ChipID:     d.hw.ChipID,
	}
	return nil
}

// supportedBands returns the bands of the board. Known device IDs take
// precedence, otherwise the PHY type decides.
func supportedBands(deviceID uint16, phyType uint8) (have2GHz, have5GHz bool) {
	switch deviceID {
	case 0x4324, 0x4312, 0x4319, 0x4328, 0x432b, 0x4350, 0x4353, 0x0576,
		0x435f, 0x4331, 0x4359, 0x43a0, 0x43b1:
		return true, true
	case 0x4321, 0x4313, 0x431a, 0x432a, 0x432d, 0x4352, 0x4333, 0x43a2, 0x43b3:
		return false, true
	}
	switch phyType {
	case b43hw.PHYTYPE_A:
		return false, true
	case b43hw.PHYTYPE_G, b43hw.PHYTYPE_N, b43hw.PHYTYPE_LP, b43hw.PHYTYPE_HT, b43hw.PHYTYPE_LCN:
		return true, false
	}
	return false, false
}

// coreReset resets the 802.11 core and brings the PHY out of reset.
func (d *Device) coreReset(gmode bool) {
	flags := uint32(b43hw.TMSLOW_PHYCLKEN | b43hw.TMSLOW_PHYRESET)
	if gmode {
		flags |= b43hw.TMSLOW_GMODE
	}
	if d.phy.Type == b43hw.PHYTYPE_N {
		flags |= b43hw.TMSLOW_PHY_BANDWIDTH_20MHZ
	}
	d.host.CoreReset(flags)
	d.msleep(2) // PLL settle.
	d.phyTakeOutOfReset()

	// Only once the PHY type is known.
	if d.phy.ops != nil {
		d.phy.ops.SwitchAnalog(true)
	}
	var set uint32 = b43hw.MACCTL_IHR_ENABLED
	if gmode {
		set |= b43hw.MACCTL_GMODE
	}
	d.macctl(b43hw.MACCTL_GMODE, set)
}

func (d *Device) phyPutIntoReset() {
	d.host.SetCoreFlags(b43hw.TMSLOW_GMODE|b43hw.TMSLOW_PHYRESET|b43hw.TMSLOW_FGC,
		b43hw.TMSLOW_PHYRESET|b43hw.TMSLOW_FGC)
	d.udelay(1)
	d.host.SetCoreFlags(b43hw.TMSLOW_FGC, 0)
	d.udelay(1)
}

func (d *Device) phyTakeOutOfReset() {
	d.host.SetCoreFlags(b43hw.TMSLOW_PHYRESET|b43hw.TMSLOW_FGC, b43hw.TMSLOW_FGC)
	d.udelay(1)
	d.host.SetCoreFlags(b43hw.TMSLOW_FGC, 0)
	d.udelay(1)
}

func (d *Device) macPHYClockSet(on bool) {
	var set uint32
	if on {
		set = b43hw.TMSLOW_MACPHYCLKEN
	}
	d.host.SetCoreFlags(b43hw.TMSLOW_MACPHYCLKEN, set)
}

func (d *Device) phyInit() error {
	p := &d.phy
	p.channel = p.band().DefaultChannel()
	err := p.ops.Init()
	if err != nil {
		d.logerr("PHY init failed", slog.String("err", err.Error()))
		return err
	}
	err = d.switchChannel(p.channel)
	if err != nil {
		d.logerr("PHY init: channel switch failed", slog.String("err", err.Error()))
		p.ops.Exit()
		return err
	}
	return nil
}

func (d *Device) phyExit() {
	d.phy.ops.Exit()
}

// switchChannel publishes the channel to the microcode before tuning.
// The previous value is restored if tuning fails.
func (d *Device) switchChannel(channel uint8) error {
	saved := d.shmRead16(b43hw.SHM_SHARED, b43hw.SHM_SH_CHAN)
	v := uint16(channel)
	if !d.phy.gmode {
		v |= b43hw.SHM_SH_CHAN_5GHZ
	}
	d.shmWrite16(b43hw.SHM_SHARED, b43hw.SHM_SH_CHAN, v)
	err := d.phy.ops.SwitchChannel(channel)
	if err != nil {
		d.shmWrite16(b43hw.SHM_SHARED, b43hw.SHM_SH_CHAN, saved)
		return err
	}
	d.phy.channel = channel
	d.msleep(8) // Wait for the radio to tune.
	return nil
}

// switchBand moves the core to band, reprogramming the PHY if it changes.
func (d *Device) switchBand(band Band) error {
	p := &d.phy
	gmode := band == Band2GHz
	if (gmode && !p.supports2GHz) || (!gmode && !p.supports5GHz) {
		d.logerr("band not supported by device", slog.String("band", band.String()))
		return &UnsupportedError{What: band.String() + " band"}
	}
	if p.gmode == gmode {
		return nil
	}
	d.debug("switching band", slog.String("band", band.String()))
	p.gmode = gmode
	d.phyPutIntoReset()
	var set uint32
	if gmode {
		set = b43hw.TMSLOW_GMODE
	}
	d.host.SetCoreFlags(b43hw.TMSLOW_GMODE, set)
	d.phyTakeOutOfReset()
	d.uploadInitvalsBand()
	return d.phyInit()
}
