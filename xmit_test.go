package b43

import (
	"encoding/binary"
	"testing"

	"github.com/soypat/b43/b43hw"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// headerDevice returns a device set up for header generation only. Frame
// durations are bytes+bitrate so expected values are easy to derive.
func headerDevice(phyType uint8, ghz5 bool, link Link) *Device {
	d := &Device{cfg: DefaultConfig()}
	d.cfg.Duration = func(bytes int, bitrate uint16, ghz5, shortPreamble bool) uint16 {
		return uint16(bytes) + bitrate
	}
	d.phy.Type = phyType
	d.phy.gmode = !ghz5
	d.phy.channel = 6
	if ghz5 {
		d.phy.channel = 36
	}
	d.link = link
	return d
}

func TestTxHeaderFallback(t *testing.T) {
	rates := []b43hw.Rate{b43hw.CCK_RATE_1MB, b43hw.CCK_RATE_2MB, b43hw.CCK_RATE_11MB, b43hw.OFDM_RATE_54MB}
	d := headerDevice(b43hw.PHYTYPE_G, false, Link{Rates: rates, RateIdx: 2})
	frame := testFrame(32, 0x0100)
	h, err := d.buildTxHeader(frame, 0x2005)
	require.NoError(t, err)

	assert.Equal(t, uint16(0x2005), h.Cookie)
	assert.Equal(t, b43hw.CCK_RATE_11MB.PLCPCode(), h.PHYRate)
	assert.Equal(t, uint16(0x0008), h.MACFrameCtl)
	assert.Equal(t, [6]byte{0x02, 0x11, 0x22, 0x33, 0x44, 0x55}, h.TxReceiver)
	assert.Equal(t, uint16(32+20), h.DurFb, "fallback duration at 2M")
	// 36 octets at 11M need the length extension bit.
	assert.Equal(t, [6]byte{0x6E, 0x84, 27, 0, 0, 0}, h.PLCP)
	assert.Equal(t, [6]byte{0x14, 0x04, 144, 0, 0, 0}, h.PLCPFb)
	assert.Equal(t, uint8(b43hw.TXH_EFT_FB_CCK), h.ExtraFT)
	assert.Equal(t, uint8(6), h.ChanRadioCode)
	assert.Equal(t, uint16(b43hw.TXH_PHY_ENC_CCK|b43hw.TXH_PHY_ANT01AUTO), h.PHYCtl)
	assert.Equal(t, uint32(b43hw.TXH_MAC_ACK), h.MACCtl)
	assert.Zero(t, h.PHYCtl1, "G-PHY does not use PHY control word 1")
}

func TestTxHeaderDurationKept(t *testing.T) {
	rates := []b43hw.Rate{b43hw.CCK_RATE_1MB, b43hw.CCK_RATE_11MB}
	for _, tc := range []struct {
		name  string
		link  Link
		dur   uint16
		wants uint16
	}{
		{name: "zero", link: Link{Rates: rates, RateIdx: 1}, dur: 0, wants: 0},
		{name: "aid", link: Link{Rates: rates, RateIdx: 1}, dur: 0xC005, wants: 0xC005},
		{name: "no slower rate", link: Link{Rates: rates, RateIdx: 0}, dur: 0x0123, wants: 0x0123},
		{name: "no rates", link: Link{}, dur: 0x0044, wants: 0x0044},
		{name: "computed", link: Link{Rates: rates, RateIdx: 1}, dur: 0x0044, wants: 30 + 10},
	} {
		t.Run(tc.name, func(t *testing.T) {
			d := headerDevice(b43hw.PHYTYPE_G, false, tc.link)
			h, err := d.buildTxHeader(testFrame(30, tc.dur), 0x2000)
			require.NoError(t, err)
			assert.Equal(t, tc.wants, h.DurFb)
		})
	}
}

func TestTxHeaderDefaultRate(t *testing.T) {
	d := headerDevice(b43hw.PHYTYPE_G, false, Link{Rates: []b43hw.Rate{0x7F}, RateIdx: 0})
	h, err := d.buildTxHeader(testFrame(30, 0), 0x2000)
	require.NoError(t, err)
	assert.Equal(t, b43hw.CCK_RATE_1MB.PLCPCode(), h.PHYRate)
	assert.Equal(t, h.PLCP, h.PLCPFb)
}

func TestTxHeaderOFDM(t *testing.T) {
	rates := []b43hw.Rate{b43hw.OFDM_RATE_6MB, b43hw.OFDM_RATE_54MB}
	d := headerDevice(b43hw.PHYTYPE_G, false, Link{Rates: rates, RateIdx: 1, ShortPreamble: true})
	h, err := d.buildTxHeader(testFrame(30, 0), 0x2000)
	require.NoError(t, err)
	assert.Equal(t, uint16(b43hw.TXH_PHY_ENC_OFDM|b43hw.TXH_PHY_ANT01AUTO), h.PHYCtl, "no short preamble for OFDM")
	assert.Equal(t, uint8(b43hw.TXH_EFT_FB_OFDM), h.ExtraFT)
	assert.Equal(t, uint32(0xC)|34<<5, binary.LittleEndian.Uint32(h.PLCP[:]))
	assert.Equal(t, uint32(0xB)|34<<5, binary.LittleEndian.Uint32(h.PLCPFb[:]))
}

func TestTxHeaderPreambleAntenna(t *testing.T) {
	rates := []b43hw.Rate{b43hw.CCK_RATE_11MB}
	d := headerDevice(b43hw.PHYTYPE_G, false, Link{Rates: rates, ShortPreamble: true, Antenna: Antenna1})
	h, err := d.buildTxHeader(testFrame(30, 0), 0x2000)
	require.NoError(t, err)
	assert.Equal(t, uint16(b43hw.TXH_PHY_SHORTPRMBL|b43hw.TXH_PHY_ANT1), h.PHYCtl)
}

func TestTxHeaderCTSToSelf(t *testing.T) {
	rates := []b43hw.Rate{b43hw.CCK_RATE_1MB, b43hw.CCK_RATE_11MB}
	d := headerDevice(b43hw.PHYTYPE_G, false, Link{Rates: rates, RateIdx: 1, RTSCTSRate: 0, UseProtection: true})
	frame := testFrame(32, 0)
	h, err := d.buildTxHeader(frame, 0x2000)
	require.NoError(t, err)

	assert.Equal(t, uint32(b43hw.TXH_MAC_ACK|b43hw.TXH_MAC_SENDCTS), h.MACCtl)
	cts := h.RTSFrame[:]
	assert.Equal(t, uint16(fcCTS), binary.LittleEndian.Uint16(cts[0:]))
	assert.Equal(t, uint16((32+110)+(10+10)), binary.LittleEndian.Uint16(cts[2:]))
	assert.Equal(t, frame[4:10], cts[4:10])
	assert.Equal(t, make([]byte, 6), cts[10:16], "CTS has no transmitter address")
	assert.Equal(t, binary.LittleEndian.Uint16(cts[2:]), h.RTSDurFb)
	// 14 octets at 1M.
	assert.Equal(t, [6]byte{0x0A, 0x04, 112, 0, 0, 0}, h.RTSPLCP)
	assert.Equal(t, h.RTSPLCP, h.RTSPLCPFb)
	assert.Equal(t, b43hw.CCK_RATE_1MB.PLCPCode(), h.PHYRateRTS)
	assert.Equal(t, uint8(b43hw.TXH_EFT_FB_CCK|b43hw.TXH_EFT_RTS_CCK|b43hw.TXH_EFT_RTSFB_CCK), h.ExtraFT)
}

func TestTxHeaderRTS5GHz(t *testing.T) {
	rates := []b43hw.Rate{b43hw.OFDM_RATE_6MB, b43hw.OFDM_RATE_24MB}
	d := headerDevice(b43hw.PHYTYPE_N, true, Link{Band: Band5GHz, Rates: rates, RateIdx: 1, UseProtection: true})
	frame := testFrame(32, 0)
	h, err := d.buildTxHeader(frame, 0x2000)
	require.NoError(t, err)

	assert.Equal(t, uint32(b43hw.TXH_MAC_ACK|b43hw.TXH_MAC_5GHZ|b43hw.TXH_MAC_LONGFRAME|b43hw.TXH_MAC_SENDRTS), h.MACCtl)
	assert.Equal(t, uint8(36), h.ChanRadioCode)
	rts := h.RTSFrame[:]
	assert.Equal(t, uint16(fcRTS), binary.LittleEndian.Uint16(rts[0:]))
	assert.Equal(t, uint16((10+60)+(32+240)+(10+60)), binary.LittleEndian.Uint16(rts[2:]))
	assert.Equal(t, frame[4:16], rts[4:16])
	assert.Equal(t, b43hw.OFDM_RATE_6MB.PLCPCode(), h.PHYRateRTS)
	assert.Equal(t, uint32(0xB)|20<<5, binary.LittleEndian.Uint32(h.RTSPLCP[:]))
	assert.Equal(t, uint8(b43hw.TXH_EFT_FB_OFDM|b43hw.TXH_EFT_RTS_OFDM|b43hw.TXH_EFT_RTSFB_CCK), h.ExtraFT)

	assert.Equal(t, uint16(b43hw.TXH_PHY1_BW_20|b43hw.TXH_PHY1_CRATE_1_2|b43hw.TXH_PHY1_MODUL_QAM16), h.PHYCtl1)
	assert.Equal(t, uint16(b43hw.TXH_PHY1_BW_20|b43hw.TXH_PHY1_CRATE_1_2|b43hw.TXH_PHY1_MODUL_BPSK), h.PHYCtl1Fb)
	assert.Equal(t, h.PHYCtl1Fb, h.PHYCtl1RTS)
	assert.Equal(t, uint16(b43hw.TXH_PHY1_BW_20), h.PHYCtl1RTSFb, "CCK fallback on N-PHY")
}

func TestTxPHYCtl1CCK(t *testing.T) {
	d := headerDevice(b43hw.PHYTYPE_LP, false, Link{})
	assert.Equal(t, uint16(b43hw.TXH_PHY1_BW_20|b43hw.TXH_PHY1_MODE_SISO), d.txPHYCtl1(b43hw.CCK_RATE_11MB))
	h, err := d.buildTxHeader(testFrame(30, 0), 0x2000)
	require.NoError(t, err)
	assert.Equal(t, uint16(b43hw.TXH_PHY1_BW_20), h.PHYCtl1)
}

func TestTxHeaderTooShort(t *testing.T) {
	d := headerDevice(b43hw.PHYTYPE_G, false, Link{})
	_, err := d.buildTxHeader(make([]byte, b43hw.TX_MIN_FRAMELEN-1), 0x2000)
	assert.ErrorIs(t, err, ErrFrameTooShort)
	_, err = d.buildTxHeader(make([]byte, b43hw.TX_MIN_FRAMELEN), 0x2000)
	assert.NoError(t, err)
}

func TestLinkRates(t *testing.T) {
	l := Link{Rates: []b43hw.Rate{b43hw.OFDM_RATE_54MB, b43hw.CCK_RATE_2MB, b43hw.OFDM_RATE_12MB, b43hw.CCK_RATE_1MB}}
	rate, fb := l.txRates()
	assert.Equal(t, b43hw.OFDM_RATE_54MB, rate)
	assert.Equal(t, b43hw.OFDM_RATE_12MB, fb)
	l.RateIdx = 3
	rate, fb = l.txRates()
	assert.Equal(t, b43hw.CCK_RATE_1MB, rate)
	assert.Equal(t, rate, fb)
	l.RTSCTSRate = 9
	assert.Equal(t, b43hw.CCK_RATE_1MB, l.rtsRate())
	l.RateIdx = -1
	assert.Equal(t, b43hw.CCK_RATE_1MB, l.txRate())
}
