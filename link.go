package b43

import (
	"log/slog"

	"github.com/soypat/b43/b43hw"
)

// Link is the BSS configuration the network stack negotiated.
type Link struct {
	Band    Band
	Channel uint8
	BSSID   [6]byte
	// Rates are the negotiated transmit rates. RateIdx selects the one in use.
	Rates   []b43hw.Rate
	RateIdx int
	// RTSCTSRate indexes Rates for RTS and CTS-to-self frames.
	RTSCTSRate int
	// BasicRates is a bitmap over the band rate table, b43hw.GRates or
	// b43hw.ARates, of the BSS basic rate set.
	BasicRates     uint32
	ShortSlot      bool
	ShortPreamble  bool
	UseProtection  bool
	ListenInterval uint16
	Antenna        Antenna
}

// LinkChange flags which Link fields a ConfigChanged call applies.
type LinkChange uint8

const (
	ChangeChannel LinkChange = 1 << iota
	ChangeAssoc
	ChangeRate
	ChangePHYParams
	ChangeListenInterval
	ChangeAntenna

	ChangeAll = ChangeChannel | ChangeAssoc | ChangeRate | ChangePHYParams | ChangeListenInterval | ChangeAntenna
)

func (c LinkChange) String() string {
	if c == 0 {
		return "none"
	}
	names := [...]string{"channel", "assoc", "rate", "phyparams", "listeninterval", "antenna"}
	var s []byte
	for i, name := range names {
		if c&(1<<i) == 0 {
			continue
		}
		if len(s) > 0 {
			s = append(s, '|')
		}
		s = append(s, name...)
	}
	return string(s)
}

func validRate(r b43hw.Rate) bool { return r.IsCCK() || r.IsOFDM() }

// txRate returns the rate data frames are sent at. CCK 1Mbit is used if
// no valid rate was negotiated.
func (l *Link) txRate() b43hw.Rate {
	if l.RateIdx >= 0 && l.RateIdx < len(l.Rates) && validRate(l.Rates[l.RateIdx]) {
		return l.Rates[l.RateIdx]
	}
	return b43hw.CCK_RATE_1MB
}

// txRates returns the primary rate and its fallback, the fastest
// negotiated rate slower than the primary. The fallback is the primary
// itself if there is no slower rate.
func (l *Link) txRates() (rate, fallback b43hw.Rate) {
	rate = l.txRate()
	fallback = rate
	for _, r := range l.Rates {
		if !validRate(r) || r.Bitrate() >= rate.Bitrate() {
			continue
		}
		if fallback == rate || r.Bitrate() > fallback.Bitrate() {
			fallback = r
		}
	}
	return rate, fallback
}

func (l *Link) rtsRate() b43hw.Rate {
	if l.RTSCTSRate >= 0 && l.RTSCTSRate < len(l.Rates) && validRate(l.Rates[l.RTSCTSRate]) {
		return l.Rates[l.RTSCTSRate]
	}
	return b43hw.CCK_RATE_1MB
}

func (l *Link) shortPreamble(r b43hw.Rate) bool {
	return l.ShortPreamble && r.ShortPreamble()
}

// ConfigChanged applies the fields of link selected by changed. The
// device must be initialized. Fields not selected are still stored and
// used by the TX path and after a hard reset.
func (d *Device) ConfigChanged(changed LinkChange, link Link) error {
	err := d.acquire()
	defer d.release()
	if err != nil {
		return err
	} else if d.status < StatusInitialized {
		return ErrBadState
	}
	return d.configure(changed, link)
}

// Link returns the last link configuration applied.
func (d *Device) Link() Link {
	d.mu.Lock()
	defer d.mu.Unlock()
	l := d.link
	l.Rates = append([]b43hw.Rate(nil), l.Rates...)
	return l
}

func (d *Device) configure(changed LinkChange, link Link) (err error) {
	link.Rates = append([]b43hw.Rate(nil), link.Rates...)
	d.debug("configure", slog.String("changed", changed.String()))
	d.macSuspend()
	defer d.macEnable()
	if changed&ChangeChannel != 0 {
		if link.Channel == 0 {
			link.Channel = link.Band.DefaultChannel()
		}
		err = d.switchBand(link.Band)
		if err != nil {
			return err
		}
		if link.Channel != d.phy.channel {
			err = d.switchChannel(link.Channel)
			if err != nil {
				d.logerr("channel switch failed", slog.Int("channel", int(link.Channel)), slog.String("err", err.Error()))
				return err
			}
		}
		// The regulatory power limit may differ on the new channel.
		d.phy.ops.TxPowerCheck(TxPowerIgnoreTime | TxPowerIgnoreTSSI)
	} else {
		link.Band = d.link.Band
		link.Channel = d.link.Channel
	}
	d.link = link
	if changed&ChangeAntenna != 0 {
		d.mgmtframeTxAntenna(link.Antenna)
		d.phy.ops.SetRxAntenna(link.Antenna)
	}
	if changed&ChangeAssoc != 0 {
		d.writeMACBSSIDTemplates()
	}
	if changed&ChangeRate != 0 {
		d.updateBasicRates(link.BasicRates)
	}
	if changed&ChangePHYParams != 0 {
		if link.ShortSlot {
			d.setSlotTime(9)
		} else {
			d.setSlotTime(20)
		}
	}
	if changed&ChangeListenInterval != 0 {
		d.shmWrite16(b43hw.SHM_SHARED, b43hw.SHM_SH_BCN_LI, min(link.ListenInterval, 0xFF))
	}
	return nil
}

// setSlotTime programs the slot time in microseconds.
func (d *Device) setSlotTime(us uint16) {
	d.write16(b43hw.MMIO_IFSSLOT, 510+us)
}

// updateBasicRates points every rate of the basic rate map at the rate
// memory of its response rate. The response rate of a rate is the fastest
// basic rate not faster than it.
func (d *Device) updateBasicRates(brates uint32) {
	if brates == 0 || brates == d.brates {
		return
	}
	d.brates = brates
	table := b43hw.GRates[:]
	if !d.phy.gmode {
		table = b43hw.ARates[:]
	}
	for _, rate := range table {
		direct, basic := uint16(b43hw.SHM_SH_OFDMDIRECT), uint16(b43hw.SHM_SH_OFDMBASIC)
		if rate.IsCCK() {
			direct, basic = b43hw.SHM_SH_CCKDIRECT, b43hw.SHM_SH_CCKBASIC
		}
		offset := uint16(rate.PLCPCode() & 0xF)
		resp := rate
		for j, r := range table {
			if brates&(1<<j) != 0 && r.Bitrate() <= rate.Bitrate() {
				resp = r
			}
		}
		basicOffset := uint16(resp.PLCPCode() & 0xF)
		rateptr := d.shmRead16(b43hw.SHM_SHARED, direct+2*basicOffset)
		d.shmWrite16(b43hw.SHM_SHARED, basic+2*offset, rateptr)
	}
}
