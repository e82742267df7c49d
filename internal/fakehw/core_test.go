package fakehw

import (
	"testing"

	"github.com/soypat/b43/b43hw"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSHMDataPorts(t *testing.T) {
	c := New(DefaultConfig())
	c.Write32(b43hw.MMIO_SHM_CONTROL, uint32(b43hw.SHM_SHARED)<<16|1)
	c.Write16(b43hw.MMIO_SHM_DATA, 0x5566)
	c.Write16(b43hw.MMIO_SHM_DATA_UNALIGNED, 0x7788)
	assert.Equal(t, uint32(0x77885566), c.Read32(b43hw.MMIO_SHM_DATA))
	assert.Equal(t, uint16(0x5566), c.SHMRead16(b43hw.SHM_SHARED, 4))
	assert.Equal(t, uint16(0x7788), c.SHMRead16(b43hw.SHM_SHARED, 6))

	c.SHMWrite16(b43hw.SHM_SCRATCH, 5, 0xABCD)
	c.Write32(b43hw.MMIO_SHM_CONTROL, uint32(b43hw.SHM_SCRATCH)<<16|5)
	assert.Equal(t, uint16(0xABCD), c.Read16(b43hw.MMIO_SHM_DATA))
}

func TestSHMAutoincrement(t *testing.T) {
	c := New(DefaultConfig())
	c.Write32(b43hw.MMIO_SHM_CONTROL, uint32(b43hw.SHM_UCODE|b43hw.SHM_AUTOINC_W)<<16)
	for _, w := range []uint32{0x11, 0x22, 0x33} {
		c.Write32(b43hw.MMIO_SHM_DATA, w)
	}
	assert.Equal(t, []uint32{0x11, 0x22, 0x33}, c.SHMWords(b43hw.SHM_UCODE, 0, 3))
}

func TestWatchdogCleared(t *testing.T) {
	c := New(DefaultConfig())
	c.Write32(b43hw.MMIO_SHM_CONTROL, uint32(b43hw.SHM_SCRATCH)<<16|b43hw.SHM_SC_WATCHDOG)
	c.Write16(b43hw.MMIO_SHM_DATA, 1)
	assert.Zero(t, c.SHMRead16(b43hw.SHM_SCRATCH, b43hw.SHM_SC_WATCHDOG))
	c.Hung = true
	c.Write16(b43hw.MMIO_SHM_DATA, 1)
	assert.Equal(t, uint16(1), c.SHMRead16(b43hw.SHM_SCRATCH, b43hw.SHM_SC_WATCHDOG))
}

func TestBootHandshake(t *testing.T) {
	cfg := DefaultConfig()
	c := New(cfg)
	c.Write32(b43hw.MMIO_MACCTL, b43hw.MACCTL_PSM_JMP0)
	c.Write32(b43hw.MMIO_GEN_IRQ_REASON, b43hw.IRQ_ALL)
	require.Zero(t, c.Read32(b43hw.MMIO_GEN_IRQ_REASON))
	c.Write32(b43hw.MMIO_MACCTL, b43hw.MACCTL_PSM_RUN)
	assert.Equal(t, uint32(b43hw.IRQ_MAC_SUSPENDED), c.Read32(b43hw.MMIO_GEN_IRQ_REASON))
	assert.Equal(t, cfg.UcodeRev, c.SHMRead16(b43hw.SHM_SHARED, b43hw.SHM_SH_UCODEREV))
	assert.Equal(t, 1, c.Boots)

	c = New(cfg)
	c.NoBoot = true
	c.Write32(b43hw.MMIO_MACCTL, b43hw.MACCTL_PSM_RUN)
	assert.Zero(t, c.Read32(b43hw.MMIO_GEN_IRQ_REASON))
}

func TestMACSuspend(t *testing.T) {
	c := New(DefaultConfig())
	c.Write32(b43hw.MMIO_MACCTL, b43hw.MACCTL_ENABLED)
	assert.Equal(t, uint16(b43hw.SHM_SH_UCODESTAT_ACTIVE), c.SHMRead16(b43hw.SHM_SHARED, b43hw.SHM_SH_UCODESTAT))
	c.Write32(b43hw.MMIO_MACCTL, 0)
	assert.NotZero(t, c.Read32(b43hw.MMIO_GEN_IRQ_REASON)&b43hw.IRQ_MAC_SUSPENDED)

	c.Reset()
	assert.Zero(t, c.Read32(b43hw.MMIO_GEN_IRQ_REASON))
	assert.Zero(t, c.Read32(b43hw.MMIO_MACCTL))
}

func TestTxStatusFIFO(t *testing.T) {
	c := New(DefaultConfig())
	st := b43hw.TxStatus{Cookie: 0x2003, FrameCount: 2, Acked: true, Seq: 7}
	c.PushTxStatus(st)
	assert.NotZero(t, c.IRQReason()&b43hw.IRQ_TX_OK)
	v0 := c.Read32(b43hw.MMIO_XMITSTAT_0)
	require.NotZero(t, v0&b43hw.XMITSTAT_VALID)
	v1 := c.Read32(b43hw.MMIO_XMITSTAT_1)
	assert.Equal(t, st, b43hw.DecodeTxStatus(v0, v1))
	assert.Zero(t, c.Read32(b43hw.MMIO_XMITSTAT_0)&b43hw.XMITSTAT_VALID)
}

func TestTxCapture32(t *testing.T) {
	c := New(DefaultConfig())
	ctl := c.txBase + b43hw.PIO8_TXCTL
	data := c.txBase + b43hw.PIO8_TXDATA
	all := uint32(b43hw.PIO8_TXCTL_0_7 | b43hw.PIO8_TXCTL_8_15 | b43hw.PIO8_TXCTL_16_23 | b43hw.PIO8_TXCTL_24_31)
	c.Write32(ctl, all)
	c.WriteBlock([]byte{1, 2, 3, 4}, data, 4)
	c.Write32(ctl, b43hw.PIO8_TXCTL_0_7|b43hw.PIO8_TXCTL_8_15)
	c.WriteBlock([]byte{5, 6, 0, 0}, data, 4)
	require.Empty(t, c.TxFrames)
	c.Write32(ctl, b43hw.PIO8_TXCTL_EOF)
	require.Len(t, c.TxFrames, 1)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6}, c.TxFrames[0])
}

func TestTxCapture16(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CoreRev = 5
	c := New(cfg)
	ctl := c.txBase + b43hw.PIO_TXCTL
	data := c.txBase + b43hw.PIO_TXDATA
	assert.Equal(t, cfg.TxQBufSize, c.Read16(c.txBase+b43hw.PIO_TXQBUFSIZE))
	c.Write16(ctl, b43hw.PIO_TXCTL_WRITELO|b43hw.PIO_TXCTL_WRITEHI)
	c.WriteBlock([]byte{1, 2}, data, 2)
	c.Write16(ctl, b43hw.PIO_TXCTL_WRITELO)
	c.WriteBlock([]byte{3, 0}, data, 2)
	c.Write16(ctl, b43hw.PIO_TXCTL_EOF)
	require.Len(t, c.TxFrames, 1)
	assert.Equal(t, []byte{1, 2, 3}, c.TxFrames[0])
}

func TestRxQueue(t *testing.T) {
	c := New(DefaultConfig())
	rxctl := c.rxBase + b43hw.PIO8_RXCTL
	rxdata := c.rxBase + b43hw.PIO8_RXDATA
	assert.Zero(t, c.Read32(rxctl))

	c.InjectRx(b43hw.RxHeader{MACStatus: b43hw.RX_MAC_PADDING}, []byte{1, 2, 3, 4, 5})
	assert.NotZero(t, c.IRQReason()&b43hw.IRQ_DMA)
	assert.Equal(t, uint32(b43hw.PIO_RXCTL_FRAMERDY), c.Read32(rxctl))
	c.Write32(rxctl, b43hw.PIO_RXCTL_FRAMERDY)
	assert.Equal(t, uint32(b43hw.PIO_RXCTL_DATARDY), c.Read32(rxctl))

	f := c.HdrFormat()
	hdr := make([]byte, f.RxHeaderLen())
	c.ReadBlock(hdr, rxdata, 4)
	got := b43hw.DecodeRxHeader(hdr, f)
	assert.Equal(t, uint16(5), got.FrameLen)
	assert.Equal(t, uint32(b43hw.RX_MAC_PADDING), got.MACStatus)

	buf := make([]byte, 8)
	c.ReadBlock(buf, rxdata, 4)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 0, 0, 0}, buf)
	assert.Zero(t, c.PendingRx())
	assert.Zero(t, c.Read32(rxctl))
}

func TestRxDiscard(t *testing.T) {
	c := New(DefaultConfig())
	rxctl := c.rxBase + b43hw.PIO8_RXCTL
	c.InjectRx(b43hw.RxHeader{}, make([]byte, 40))
	c.InjectRx(b43hw.RxHeader{}, make([]byte, 40))
	c.Write32(rxctl, b43hw.PIO_RXCTL_FRAMERDY)
	c.Write32(rxctl, b43hw.PIO_RXCTL_DATARDY)
	assert.Equal(t, 1, c.PendingRx())
	assert.Equal(t, uint32(b43hw.PIO_RXCTL_FRAMERDY), c.Read32(rxctl))
}

func TestCFPStartShadow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CoreRev = 9
	c := New(cfg)
	c.Write32(b43hw.MMIO_TSF_CFP_START, 0xCCCCBBBB)
	assert.Equal(t, uint16(0xBBBB), c.Read16(b43hw.MMIO_TSF_CFP_START_LOW))
	assert.Equal(t, uint16(0xCCCC), c.Read16(b43hw.MMIO_TSF_CFP_START_HIGH))
}

func TestFiles(t *testing.T) {
	files := Files("b43-open", "ucode5", "pcm5", "b0g0initvals5", "b0g0bsinitvals5")
	require.Len(t, files, 4)
	hdr, payload, err := b43hw.ValidateFw(files["b43-open/b0g0initvals5.fw"])
	require.NoError(t, err)
	ivs, err := b43hw.DecodeInitvals(payload, hdr.Size)
	require.NoError(t, err)
	assert.Equal(t, InitvalsRecords, ivs)

	_, _, err = b43hw.ValidateFw(files["b43-open/ucode5.fw"])
	assert.NoError(t, err)
	assert.NotContains(t, Files("b43", "ucode13", "", "b0g0initvals13", "b0g0bsinitvals13"), "b43/.fw")
}

func TestBackplane(t *testing.T) {
	c := New(DefaultConfig())
	b := NewBackplane(c)
	require.Error(t, b.EnableIRQRouting(true))
	require.NoError(t, b.PowerUp(false))
	require.NoError(t, b.EnableIRQRouting(true))
	c.Write32(b43hw.MMIO_MACCTL, b43hw.MACCTL_IHR_ENABLED)
	b.CoreReset(b43hw.TMSLOW_GMODE)
	assert.True(t, b.CoreEnabled())
	assert.Zero(t, c.Reg32(b43hw.MMIO_MACCTL))
	b.SetCoreFlags(b43hw.TMSLOW_GMODE, 0)
	assert.Zero(t, b.Flags)
}
