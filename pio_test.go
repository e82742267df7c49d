package b43

import (
	"testing"

	"github.com/soypat/b43/b43hw"
	"github.com/soypat/b43/internal/fakehw"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPIOCookie(t *testing.T) {
	assert.Equal(t, uint16(0x2000), pioCookie(0))
	assert.Equal(t, uint16(0x201F), pioCookie(31))
	for slot := uint8(0); slot < pioTxSlots; slot++ {
		got, ok := pioParseCookie(pioCookie(slot))
		require.True(t, ok)
		assert.Equal(t, slot, got)
	}
	for _, bad := range []uint16{0, 0xFFFF, 0x1000, 0x2020, 0x3000} {
		_, ok := pioParseCookie(bad)
		assert.False(t, ok, "cookie %#x", bad)
	}
}

func TestSubmitStates(t *testing.T) {
	r := newRig(t).init()
	assert.ErrorIs(t, r.dev.Submit(testFrame(30, 0)), ErrNotStarted)
	require.NoError(t, r.dev.Start())
	assert.ErrorIs(t, r.dev.Submit(testFrame(9, 0)), ErrFrameTooShort)
	assert.Empty(t, r.core.TxFrames)
}

func TestSubmitWritesFrame(t *testing.T) {
	for _, n := range []int{28, 29, 30, 31} {
		r := newRig(t).start()
		frame := testFrame(n, 0)
		require.NoError(t, r.dev.Submit(frame))
		require.Len(t, r.core.TxFrames, 1)
		hdr, got := r.core.TxFrame(0)
		assert.Equal(t, frame, got, "len %d", n)
		assert.Equal(t, uint16(0x2000), hdr.Cookie)
		assert.Equal(t, b43hw.HDR_598.TxHeaderLen()+n, len(r.core.TxFrames[0]))
	}
}

func TestSubmitWritesFrame16(t *testing.T) {
	r := newRig(t, withHW(func(hw *fakehw.Config) {
		hw.CoreRev = 5
		hw.PHYVer = uint16(b43hw.PHYTYPE_G)<<b43hw.PHYVER_TYPE_SHIFT | 2
		hw.UcodeRev = 351
	})).start()
	frame := testFrame(31, 0)
	require.NoError(t, r.dev.Submit(frame))
	require.Len(t, r.core.TxFrames, 1)
	hdr, got := r.core.TxFrame(0)
	assert.Equal(t, frame, got)
	assert.Equal(t, uint16(0x2000), hdr.Cookie)
	assert.Equal(t, b43hw.HDR_351.TxHeaderLen()+31, len(r.core.TxFrames[0]))
}

func TestSubmitTooLarge(t *testing.T) {
	r := newRig(t, withConfig(func(c *Config) { c.PIOBufferSize = 400 })).start()
	err := r.dev.Submit(testFrame(300, 0))
	var txe *TxError
	require.ErrorAs(t, err, &txe)
	assert.Equal(t, TooLarge, txe.Kind)
	assert.Equal(t, 420, txe.Len)
	assert.ErrorIs(t, err, ErrTxTooLarge)
	assert.False(t, r.dev.TxQueue().Stopped)
	assert.Empty(t, r.core.TxFrames)
}

func TestSubmitBackpressure(t *testing.T) {
	r := newRig(t, withConfig(func(c *Config) { c.PIOBufferSize = 400 })).start()
	require.NoError(t, r.dev.Submit(testFrame(150, 0)))
	q := r.dev.TxQueue()
	assert.Equal(t, uint16(268), q.BufferUsed)
	assert.False(t, q.Stopped, "a minimal frame still fits")

	err := r.dev.Submit(testFrame(150, 0))
	assert.ErrorIs(t, err, ErrTxBackpressure)
	q = r.dev.TxQueue()
	assert.True(t, q.Stopped)
	assert.Equal(t, 1, q.InFlight)
	assert.Len(t, r.core.TxFrames, 1)

	r.ack(r.sentCookie(0), 1, true)
	r.poll()
	q = r.dev.TxQueue()
	assert.False(t, q.Stopped)
	assert.Zero(t, q.BufferUsed)
	require.NoError(t, r.dev.Submit(testFrame(150, 0)))
}

func TestSubmitStopsWhenNearlyFull(t *testing.T) {
	r := newRig(t, withConfig(func(c *Config) { c.PIOBufferSize = 400 })).start()
	// 400-280 leaves less than a minimal frame needs.
	require.NoError(t, r.dev.Submit(testFrame(162, 0)))
	assert.True(t, r.dev.TxQueue().Stopped)
}

func TestSubmitNoSlots(t *testing.T) {
	r := newRig(t, withConfig(func(c *Config) { c.PIOBufferSize = 8000 })).start()
	seen := make(map[uint16]bool)
	for i := 0; i < pioTxSlots; i++ {
		require.NoError(t, r.dev.Submit(testFrame(30, 0)), "frame %d", i)
		cookie := r.sentCookie(i)
		assert.False(t, seen[cookie], "cookie %#x reused", cookie)
		seen[cookie] = true
	}
	q := r.dev.TxQueue()
	assert.True(t, q.Stopped)
	assert.Zero(t, q.FreeSlots)
	assert.Equal(t, uint16(pioTxSlots*148), q.BufferUsed)
	assert.ErrorIs(t, r.dev.Submit(testFrame(30, 0)), ErrTxNoSlots)
}

func TestTxCompletion(t *testing.T) {
	r := newRig(t).start()
	a, b := testFrame(30, 0), testFrame(40, 0)
	require.NoError(t, r.dev.Submit(a))
	require.NoError(t, r.dev.Submit(b))
	ca, cb := r.sentCookie(0), r.sentCookie(1)
	assert.Equal(t, uint16(0x2000), ca)
	assert.Equal(t, uint16(0x2001), cb)

	r.ack(cb, 3, false)
	r.ack(ca, 1, true)
	r.poll()
	require.Len(t, r.stack.Tx, 2)
	assert.Equal(t, b, r.stack.Tx[0].Frame)
	assert.Equal(t, 2, r.stack.Tx[0].Retries)
	assert.ErrorIs(t, r.stack.Tx[0].Err, ErrTxNotAcked)
	assert.Equal(t, a, r.stack.Tx[1].Frame)
	assert.Zero(t, r.stack.Tx[1].Retries)
	assert.NoError(t, r.stack.Tx[1].Err)

	q := r.dev.TxQueue()
	assert.Equal(t, pioTxSlots, q.FreeSlots)
	assert.Zero(t, q.BufferUsed)
	assert.Equal(t, uint32(1), r.dev.Stats().ACKFailures)

	// The freed slot is reused.
	require.NoError(t, r.dev.Submit(a))
	assert.Equal(t, ca, r.sentCookie(2))
}

func TestTxStatusIgnored(t *testing.T) {
	r := newRig(t).start()
	require.NoError(t, r.dev.Submit(testFrame(30, 0)))
	cookie := r.sentCookie(0)
	r.core.PushTxStatus(b43hw.TxStatus{Cookie: cookie, FrameCount: 1, Intermediate: true})
	r.core.PushTxStatus(b43hw.TxStatus{Cookie: cookie + 1, FrameCount: 1, Acked: true})
	r.core.PushTxStatus(b43hw.TxStatus{Cookie: 0x3000, FrameCount: 1, Acked: true})
	r.poll()
	assert.Empty(t, r.stack.Tx)
	assert.Equal(t, 1, r.dev.TxQueue().InFlight)

	r.ack(cookie, 1, true)
	r.ack(cookie, 1, true)
	r.poll()
	assert.Len(t, r.stack.Tx, 1, "a cookie completes once")
}

func TestStopAbortsFrames(t *testing.T) {
	r := newRig(t).start()
	require.NoError(t, r.dev.Submit(testFrame(30, 0)))
	require.NoError(t, r.dev.Submit(testFrame(30, 0)))
	require.NoError(t, r.dev.Stop())
	require.Len(t, r.stack.Tx, 2)
	for _, done := range r.stack.Tx {
		assert.ErrorIs(t, done.Err, ErrTxAborted)
	}
	q := r.dev.TxQueue()
	assert.Equal(t, pioTxSlots, q.FreeSlots)
	assert.Zero(t, q.BufferUsed)
	assert.False(t, q.Stopped)
}

// TestTxQueueAccounting interleaves submissions, status reports, RX drops
// and a stop, checking the queue counters after every step.
func TestTxQueueAccounting(t *testing.T) {
	r := newRig(t).start()
	hdrlen := r.dev.fw.HdrFormat.TxHeaderLen()
	inflight := make(map[uint16]uint16) // Cookie to accounted bytes.
	sent := 0
	completed := 0
	submit := func(n int) {
		require.NoError(t, r.dev.Submit(testFrame(n, 0)))
		inflight[r.sentCookie(sent)] = uint16(alignup(uint(n+hdrlen), 4))
		sent++
	}
	status := func(st b43hw.TxStatus, completes bool) {
		r.core.PushTxStatus(st)
		r.poll()
		if completes {
			delete(inflight, st.Cookie)
			completed++
		}
	}
	for _, step := range []struct {
		name string
		do   func()
	}{
		{name: "submit 30", do: func() { submit(30) }},
		{name: "submit 100", do: func() { submit(100) }},
		{name: "submit 31", do: func() { submit(31) }},
		{name: "intermediate", do: func() {
			status(b43hw.TxStatus{Cookie: r.sentCookie(1), FrameCount: 1, Intermediate: true}, false)
		}},
		{name: "aggregated", do: func() {
			status(b43hw.TxStatus{Cookie: r.sentCookie(1), FrameCount: 1, Acked: true, ForAMPDU: true}, false)
		}},
		{name: "free slot cookie", do: func() {
			status(b43hw.TxStatus{Cookie: pioCookie(pioTxSlots - 1), FrameCount: 1, Acked: true}, false)
		}},
		{name: "foreign queue cookie", do: func() {
			status(b43hw.TxStatus{Cookie: 0x1000, FrameCount: 1, Acked: true}, false)
		}},
		{name: "ack first", do: func() {
			status(b43hw.TxStatus{Cookie: r.sentCookie(0), FrameCount: 1, Acked: true}, true)
		}},
		{name: "rx fcs error", do: func() {
			r.core.InjectRx(b43hw.RxHeader{MACStatus: b43hw.RX_MAC_FCSERR, Channel: rxChannel(b43hw.PHYTYPE_G, 1, false)},
				rxData(b43hw.CCK_RATE_1MB.PLCPCode(), testFrame(200, 0)))
			r.poll()
			assert.Empty(t, r.stack.Rx)
		}},
		{name: "submit reuses slot", do: func() { submit(40) }},
		{name: "not acked", do: func() {
			status(b43hw.TxStatus{Cookie: r.sentCookie(2), FrameCount: 4}, true)
		}},
		{name: "stop", do: func() {
			require.NoError(t, r.dev.Stop())
			completed += len(inflight)
			clear(inflight)
		}},
	} {
		step.do()
		q := r.dev.TxQueue()
		var used uint16
		for _, n := range inflight {
			used += n
		}
		assert.Equal(t, pioTxSlots, q.FreeSlots+q.InFlight, step.name)
		assert.Equal(t, len(inflight), q.InFlight, step.name)
		assert.Equal(t, used, q.BufferUsed, step.name)
		assert.LessOrEqual(t, q.BufferUsed, q.BufferSize, step.name)
		assert.Len(t, r.stack.Tx, completed, step.name)
	}
	assert.Equal(t, uint32(1), r.dev.Stats().FCSErrors)
}

func TestSuspendResumeTx(t *testing.T) {
	r := newRig(t).attach()
	assert.ErrorIs(t, r.dev.SuspendTx(), ErrBadState)
	r.init()
	ctl := r.dev.pio.txBase + b43hw.PIO8_TXCTL
	require.NoError(t, r.dev.SuspendTx())
	assert.NotZero(t, r.core.Reg32(ctl)&b43hw.PIO8_TXCTL_SUSPREQ)
	require.NoError(t, r.dev.ResumeTx())
	assert.Zero(t, r.core.Reg32(ctl)&b43hw.PIO8_TXCTL_SUSPREQ)
}

// rxData returns a PLCP header for plcp0 followed by frame and an FCS.
func rxData(plcp0 uint8, frame []byte) []byte {
	data := make([]byte, b43hw.PLCP_HDR_LEN, b43hw.PLCP_HDR_LEN+len(frame)+fcsLen)
	data[0] = plcp0
	data = append(data, frame...)
	return append(data, 0xAA, 0xBB, 0xCC, 0xDD)
}

func rxChannel(phyType uint8, channel uint16, ghz5 bool) uint16 {
	c := uint16(phyType) | channel<<b43hw.RX_CHAN_ID_SHIFT
	if ghz5 {
		c |= b43hw.RX_CHAN_5GHZ
	}
	return c
}

func TestRxCCK(t *testing.T) {
	r := newRig(t).start()
	frame := testFrame(30, 0)
	r.core.InjectRx(b43hw.RxHeader{
		JSSI:    50,
		Channel: rxChannel(b43hw.PHYTYPE_G, 6, false),
	}, rxData(b43hw.CCK_RATE_11MB.PLCPCode(), frame))
	r.poll()
	require.Len(t, r.stack.Rx, 1)
	got := r.stack.Rx[0]
	assert.Equal(t, append(frame, 0xAA, 0xBB, 0xCC, 0xDD), got.Frame)
	assert.Equal(t, uint16(110), got.Bitrate)
	assert.Equal(t, -46, got.Signal)
	assert.Equal(t, uint32(1), r.dev.Stats().RxFrames)
	assert.Zero(t, r.core.PendingRx())
}

func TestRxOFDM(t *testing.T) {
	r := newRig(t).start()
	r.core.InjectRx(b43hw.RxHeader{
		PHYStatus0: b43hw.RX_PHYST0_OFDM,
		JSSI:       0xD0,
		Channel:    rxChannel(b43hw.PHYTYPE_G, 1, false),
	}, rxData(b43hw.OFDM_RATE_54MB.PLCPCode(), testFrame(30, 0)))
	r.core.InjectRx(b43hw.RxHeader{
		PHYStatus0: b43hw.RX_PHYST0_OFDM,
		JSSI:       0xD0,
		Channel:    rxChannel(b43hw.PHYTYPE_A, 36, true),
	}, rxData(b43hw.OFDM_RATE_6MB.PLCPCode(), testFrame(30, 0)))
	r.poll()
	require.Len(t, r.stack.Rx, 2)
	assert.Equal(t, uint16(540), r.stack.Rx[0].Bitrate)
	assert.Equal(t, uint16(60), r.stack.Rx[1].Bitrate)
	assert.Equal(t, -57, r.stack.Rx[0].Signal)
}

func TestRxPadding(t *testing.T) {
	r := newRig(t).start()
	frame := testFrame(31, 0)
	r.core.InjectRx(b43hw.RxHeader{
		MACStatus: b43hw.RX_MAC_PADDING,
		Channel:   rxChannel(b43hw.PHYTYPE_G, 1, false),
	}, rxData(b43hw.CCK_RATE_1MB.PLCPCode(), frame))
	r.poll()
	require.Len(t, r.stack.Rx, 1)
	assert.Equal(t, frame, r.stack.Rx[0].Frame[:31])
	assert.Equal(t, uint16(10), r.stack.Rx[0].Bitrate)
}

func TestRxRev5(t *testing.T) {
	r := newRig(t, withHW(func(hw *fakehw.Config) {
		hw.CoreRev = 5
		hw.PHYVer = uint16(b43hw.PHYTYPE_G)<<b43hw.PHYVER_TYPE_SHIFT | 2
		hw.UcodeRev = 351
	})).start()
	frame := testFrame(31, 0)
	r.core.InjectRx(b43hw.RxHeader{Channel: rxChannel(b43hw.PHYTYPE_G, 1, false)},
		rxData(b43hw.CCK_RATE_2MB.PLCPCode(), frame))
	r.poll()
	require.Len(t, r.stack.Rx, 1)
	assert.Equal(t, append(frame, 0xAA, 0xBB, 0xCC, 0xDD), r.stack.Rx[0].Frame)
	assert.Equal(t, uint16(20), r.stack.Rx[0].Bitrate)
}

func TestRxDrops(t *testing.T) {
	g := rxChannel(b43hw.PHYTYPE_G, 1, false)
	cck := b43hw.CCK_RATE_1MB.PLCPCode()
	for _, tc := range []struct {
		name    string
		cfg     func(*Config)
		hdr     b43hw.RxHeader
		data    []byte
		fcs     uint32
		decrypt uint32
	}{
		{name: "fcs", hdr: b43hw.RxHeader{MACStatus: b43hw.RX_MAC_FCSERR, Channel: g}, data: rxData(cck, testFrame(30, 0)), fcs: 1},
		{name: "decrypt", hdr: b43hw.RxHeader{MACStatus: b43hw.RX_MAC_DECERR, Channel: g}, data: rxData(cck, testFrame(30, 0)), decrypt: 1},
		{name: "plcp", hdr: b43hw.RxHeader{Channel: g}, data: rxData(0x33, testFrame(30, 0))},
		{name: "phy type", hdr: b43hw.RxHeader{Channel: rxChannel(b43hw.PHYTYPE_B, 1, false)}, data: rxData(cck, testFrame(30, 0))},
		{name: "short", hdr: b43hw.RxHeader{Channel: g}, data: rxData(cck, testFrame(10, 0)[:9])},
		{name: "length", hdr: b43hw.RxHeader{FrameLen: b43hw.RX_MAX_FRAMELEN + 1, Channel: g}, data: rxData(cck, testFrame(30, 0))},
	} {
		t.Run(tc.name, func(t *testing.T) {
			r := newRig(t).start()
			r.core.InjectRx(tc.hdr, tc.data)
			r.poll()
			assert.Empty(t, r.stack.Rx)
			st := r.dev.Stats()
			assert.Equal(t, uint32(1), st.RxDropped)
			assert.Equal(t, tc.fcs, st.FCSErrors)
			assert.Equal(t, tc.decrypt, st.DecryptErrors)
			assert.Zero(t, r.core.PendingRx())
		})
	}
}

func TestRxKeepBad(t *testing.T) {
	r := newRig(t, withConfig(func(c *Config) {
		c.KeepBadFCS = true
		c.KeepBadPLCP = true
	})).start()
	assert.NotZero(t, r.core.Reg32(b43hw.MMIO_MACCTL)&b43hw.MACCTL_KEEP_BAD)
	g := rxChannel(b43hw.PHYTYPE_G, 1, false)
	r.core.InjectRx(b43hw.RxHeader{MACStatus: b43hw.RX_MAC_FCSERR, Channel: g},
		rxData(b43hw.CCK_RATE_1MB.PLCPCode(), testFrame(30, 0)))
	r.core.InjectRx(b43hw.RxHeader{Channel: g}, rxData(0x33, testFrame(30, 0)))
	r.poll()
	require.Len(t, r.stack.Rx, 2)
	assert.Zero(t, r.stack.Rx[1].Bitrate, "unknown rate")
	assert.Equal(t, uint32(1), r.dev.Stats().FCSErrors)
}

func TestRxBurst(t *testing.T) {
	r := newRig(t).start()
	for i := 0; i < 3; i++ {
		r.core.InjectRx(b43hw.RxHeader{Channel: rxChannel(b43hw.PHYTYPE_G, 1, false)},
			rxData(b43hw.CCK_RATE_1MB.PLCPCode(), testFrame(30+i, 0)))
	}
	r.poll()
	require.Len(t, r.stack.Rx, 3)
	for i, f := range r.stack.Rx {
		assert.Len(t, f.Frame, 30+i+fcsLen)
	}
}

func TestRxDataTimeout(t *testing.T) {
	r := newRig(t).start()
	r.core.StallRx = true
	r.core.InjectRx(b43hw.RxHeader{Channel: rxChannel(b43hw.PHYTYPE_G, 1, false)},
		rxData(b43hw.CCK_RATE_1MB.PLCPCode(), testFrame(30, 0)))
	sleeps := r.clk.Sleeps
	r.poll()
	assert.Empty(t, r.stack.Rx)
	assert.GreaterOrEqual(t, r.clk.Sleeps-sleeps, 10)
}

func TestRSSI(t *testing.T) {
	d := &Device{}
	d.phy.RadioID = 0x2050
	d.phy.Type = b43hw.PHYTYPE_G
	d.phy.ops = GenericPHY(nil, PHYInfo{Type: b43hw.PHYTYPE_G})
	assert.Equal(t, int8(-46), d.rssiPostprocess(50, false, false, false))
	assert.Equal(t, int8(-21), d.rssiPostprocess(50, false, false, true))
	d.hw.BoardFlags = b43hw.BFL_RSSI
	// (31-50)*-131/128 - 57
	assert.Equal(t, int8(-38), d.rssiPostprocess(50, false, false, false))

	d.phy.RadioID = 0x2060
	assert.Equal(t, int8(-5), d.rssiPostprocess(0xFB, false, false, false))
	d.phy.RadioID = 0x2053
	assert.Equal(t, int8(-67), d.rssiPostprocess(21, false, false, false))
	assert.Equal(t, int8(-93), d.rssiPostprocess(21, false, true, false))
}

func TestRxSignalNPHY(t *testing.T) {
	d := &Device{}
	n := b43hw.RxHeader{JSSI: uint8(0xC0), SigQual: uint8(0xC8), PHYStatus2: 0xD0, Channel: uint16(b43hw.PHYTYPE_N)}
	assert.Equal(t, -56, d.rxSignal(n))
	n.JSSI = 32
	assert.Equal(t, -48, d.rxSignal(n))
	ht := b43hw.RxHeader{PHYStatus2: 0xC000, PHYStatus3: 0xB0D0, Channel: uint16(b43hw.PHYTYPE_HT)}
	assert.Equal(t, -48, d.rxSignal(ht))
}
