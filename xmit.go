package b43

import (
	"encoding/binary"
	"log/slog"

	"github.com/soypat/b43/b43hw"
)

const (
	fcsLen = 4
	// Frame control of CTS and RTS control frames.
	fcCTS = 0x00C4
	fcRTS = 0x00B4
	// Length of an ACK or CTS without FCS.
	ctsLen = 10
	rtsLen = 16
)

// buildTxHeader generates the descriptor the microcode needs to send
// frame. frame excludes the FCS.
func (d *Device) buildTxHeader(frame []byte, cookie uint16) (h b43hw.TxHeader, err error) {
	if len(frame) < b43hw.TX_MIN_FRAMELEN {
		return h, ErrFrameTooShort
	}
	l := &d.link
	ghz5 := !d.phy.gmode
	rate, rateFb := l.txRates()
	le := binary.LittleEndian
	fc := le.Uint16(frame[0:])
	dur := le.Uint16(frame[2:])

	h.PHYRate = rate.PLCPCode()
	h.MACFrameCtl = fc
	copy(h.TxReceiver[:], frame[4:10])
	if rateFb == rate || dur&0x8000 != 0 || dur == 0 {
		// Duration holds an AID, the CFP value or nothing. Keep it.
		h.DurFb = dur
	} else {
		h.DurFb = d.cfg.Duration(len(frame), rateFb.Bitrate(), ghz5, l.shortPreamble(rateFb))
	}
	octets := len(frame) + fcsLen
	if octets&0xF000 != 0 && rate.IsOFDM() {
		d.warn("TX frame too long for OFDM PLCP", slog.Int("octets", octets))
	}
	b43hw.PutPLCP(h.PLCP[:], octets, rate)
	b43hw.PutPLCP(h.PLCPFb[:], octets, rateFb)
	if rateFb.IsOFDM() {
		h.ExtraFT |= b43hw.TXH_EFT_FB_OFDM
	} else {
		h.ExtraFT |= b43hw.TXH_EFT_FB_CCK
	}
	// The microcode ORs in 0x100 for 5GHz frames before comparing.
	h.ChanRadioCode = d.phy.channel

	phyCtl := uint16(b43hw.TXH_PHY_ENC_CCK)
	if rate.IsOFDM() {
		phyCtl = b43hw.TXH_PHY_ENC_OFDM
	}
	if l.shortPreamble(rate) {
		phyCtl |= b43hw.TXH_PHY_SHORTPRMBL
	}
	phyCtl |= l.Antenna.phyctl()

	macCtl := uint32(b43hw.TXH_MAC_ACK)
	if ghz5 {
		macCtl |= b43hw.TXH_MAC_5GHZ
	}
	fillPHYCtl1 := d.phy.Type == b43hw.PHYTYPE_LP || d.phy.Type == b43hw.PHYTYPE_N || d.phy.Type == b43hw.PHYTYPE_HT

	if l.UseProtection {
		rts := l.rtsRate()
		rtsFb := rts.StaticFallback()
		var n int
		if !ghz5 {
			// CTS-to-self, reserves the medium for the data frame and its ACK.
			// NAV airtimes are over frame lengths without the FCS.
			cts := h.RTSFrame[:ctsLen]
			le.PutUint16(cts[0:], fcCTS)
			le.PutUint16(cts[2:], d.cfg.Duration(len(frame), rate.Bitrate(), ghz5, l.shortPreamble(rate))+
				d.cfg.Duration(ctsLen, rts.Bitrate(), ghz5, false))
			copy(cts[4:10], frame[4:10])
			macCtl |= b43hw.TXH_MAC_SENDCTS
			n = ctsLen
		} else {
			rtsf := h.RTSFrame[:rtsLen]
			le.PutUint16(rtsf[0:], fcRTS)
			le.PutUint16(rtsf[2:], d.cfg.Duration(ctsLen, rts.Bitrate(), ghz5, false)+
				d.cfg.Duration(len(frame), rate.Bitrate(), ghz5, l.shortPreamble(rate))+
				d.cfg.Duration(ctsLen, rts.Bitrate(), ghz5, false))
			copy(rtsf[4:10], frame[4:10])
			if len(frame) >= 16 {
				copy(rtsf[10:16], frame[10:16])
			}
			macCtl |= b43hw.TXH_MAC_LONGFRAME | b43hw.TXH_MAC_SENDRTS
			n = rtsLen
		}
		n += fcsLen
		b43hw.PutPLCP(h.RTSPLCP[:], n, rts)
		b43hw.PutPLCP(h.RTSPLCPFb[:], n, rtsFb)
		h.RTSDurFb = le.Uint16(h.RTSFrame[2:])
		h.PHYRateRTS = rts.PLCPCode()
		if rts.IsOFDM() {
			h.ExtraFT |= b43hw.TXH_EFT_RTS_OFDM
		} else {
			h.ExtraFT |= b43hw.TXH_EFT_RTS_CCK
		}
		if rtsFb.IsOFDM() {
			h.ExtraFT |= b43hw.TXH_EFT_RTSFB_OFDM
		} else {
			h.ExtraFT |= b43hw.TXH_EFT_RTSFB_CCK
		}
		if fillPHYCtl1 && ghz5 {
			h.PHYCtl1RTS = d.txPHYCtl1(rts)
			h.PHYCtl1RTSFb = d.txPHYCtl1(rtsFb)
		}
	}

	h.Cookie = cookie
	if fillPHYCtl1 {
		h.PHYCtl1 = d.txPHYCtl1(rate)
		h.PHYCtl1Fb = d.txPHYCtl1(rateFb)
	}
	h.MACCtl = macCtl
	h.PHYCtl = phyCtl
	return h, nil
}

// txPHYCtl1 returns PHY control word 1 for LP, N and HT PHYs. Only 20MHz
// SISO transmission is supported.
func (d *Device) txPHYCtl1(r b43hw.Rate) uint16 {
	ctl := uint16(b43hw.TXH_PHY1_BW_20)
	if r.IsCCK() && d.phy.Type != b43hw.PHYTYPE_LP {
		return ctl
	}
	crate, modulation, _ := r.LegacyPHYCtl1()
	return ctl | crate | modulation | b43hw.TXH_PHY1_MODE_SISO
}

// rxFrame delivers a frame read from the RX queue. buf holds the optional
// padding, the PLCP header and the 802.11 frame with FCS.
func (d *Device) rxFrame(hdr b43hw.RxHeader, buf []byte) {
	macstat := hdr.MACStatus
	if macstat&b43hw.RX_MAC_FCSERR != 0 {
		d.stats.FCSErrors++
	}
	if macstat&b43hw.RX_MAC_DECERR != 0 {
		// The key failed, software could not decrypt it either.
		d.stats.DecryptErrors++
		d.rxDrop("decryption error")
		return
	}
	padding := 0
	if macstat&b43hw.RX_MAC_PADDING != 0 {
		padding = 2
	}
	if len(buf) < b43hw.PLCP_HDR_LEN+padding {
		d.rxDrop("size underrun")
		return
	}
	plcp := buf[padding : padding+b43hw.PLCP_HDR_LEN]
	frame := buf[padding+b43hw.PLCP_HDR_LEN:]
	if len(frame) < b43hw.TX_MIN_FRAMELEN+fcsLen {
		d.rxDrop("frame too short")
		return
	}

	signal := d.rxSignal(hdr)
	ofdm := hdr.PHYStatus0&b43hw.RX_PHYST0_OFDM != 0
	ghz5 := hdr.Channel&b43hw.RX_CHAN_5GHZ != 0
	var idx int
	if ofdm {
		idx = b43hw.RateIdxOFDM(plcp[0], ghz5)
	} else {
		idx = b43hw.RateIdxCCK(plcp[0])
	}
	if idx < 0 && !d.cfg.KeepBadPLCP {
		d.rxDrop("corrupt PLCP")
		return
	}
	switch hdr.PHYType() {
	case b43hw.PHYTYPE_A, b43hw.PHYTYPE_G, b43hw.PHYTYPE_N, b43hw.PHYTYPE_LP, b43hw.PHYTYPE_HT:
	default:
		d.rxDrop("unexpected PHY type")
		return
	}
	var bitrate uint16
	switch {
	case idx < 0:
	case ofdm && ghz5:
		bitrate = b43hw.ARates[idx].Bitrate()
	default:
		bitrate = b43hw.GRates[idx].Bitrate()
	}
	d.stats.RxFrames++
	d.trace("RX", slog.Int("len", len(frame)), slog.Int("signal", signal), slog.Int("bitrate", int(bitrate)))
	d.net.FrameReceived(frame, signal, bitrate)
}

func (d *Device) rxDrop(why string) {
	d.stats.RxDropped++
	d.debug("RX drop", slog.String("reason", why))
}

// rxSignal returns the received signal strength in dBm.
func (d *Device) rxSignal(hdr b43hw.RxHeader) int {
	switch hdr.PHYType() {
	case b43hw.PHYTYPE_HT:
		return int(max(hdr.HTPower0(), hdr.HTPower1(), hdr.HTPower2()))
	case b43hw.PHYTYPE_N:
		// Power0 values of 16 and 32 are invalid samples.
		if p0 := hdr.Power0(); p0 == 16 || p0 == 32 {
			return int(max(hdr.Power1(), hdr.Power2()))
		}
		return int(max(hdr.Power0(), hdr.Power1()))
	case b43hw.PHYTYPE_A, b43hw.PHYTYPE_B, b43hw.PHYTYPE_G, b43hw.PHYTYPE_LP:
		return int(d.rssiPostprocess(hdr.JSSI,
			hdr.PHYStatus0&b43hw.RX_PHYST0_OFDM != 0,
			hdr.PHYStatus0&b43hw.RX_PHYST0_GAINCTL != 0,
			hdr.PHYStatus3&b43hw.RX_PHYST3_TRSTATE != 0))
	}
	return 0
}

// rssiPostprocess converts a raw JSSI value to dBm for the radio in use.
func (d *Device) rssiPostprocess(in uint8, ofdm, adjust2053, adjust2050 bool) int8 {
	var tmp int
	switch d.phy.RadioID {
	case 0x2050:
		if ofdm {
			tmp = int(int8(in))
			tmp = tmp * 73 / 64
			if adjust2050 {
				tmp += 25
			} else {
				tmp -= 3
			}
			break
		}
		if d.hw.BoardFlags&b43hw.BFL_RSSI != 0 {
			in = min(in, 63)
			if d.phy.Type != b43hw.PHYTYPE_G {
				d.warn("RSSI board flag on non G-PHY")
			}
			nrssi := d.phy.ops.NRSSITable()
			tmp = int(in)
			if len(nrssi) > 0 {
				tmp = int(nrssi[min(int(in), len(nrssi)-1)])
			}
			tmp = (31 - tmp) * -131 / 128
			tmp -= 57
		} else {
			tmp = (31 - int(in)) * -149 / 128
			tmp -= 68
		}
		if d.phy.Type == b43hw.PHYTYPE_G && adjust2050 {
			tmp += 25
		}
	case 0x2060:
		tmp = int(int8(in))
	default:
		tmp = (int(in) - 11) * 103 / 64
		if adjust2053 {
			tmp -= 109
		} else {
			tmp -= 83
		}
	}
	return int8(tmp)
}
