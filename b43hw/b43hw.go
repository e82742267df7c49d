// package b43hw holds register offsets, shared memory layout and the binary
// codecs of the Broadcom 802.11 b43 MAC/PHY core. Nothing in here does I/O.
package b43hw

// MMIO register offsets, core relative.
const (
	MMIO_DMA0_REASON        = 0x20
	MMIO_DMA0_IRQ_MASK      = 0x24
	MMIO_DMA1_REASON        = 0x28
	MMIO_DMA1_IRQ_MASK      = 0x2C
	MMIO_DMA2_REASON        = 0x30
	MMIO_DMA2_IRQ_MASK      = 0x34
	MMIO_DMA3_REASON        = 0x38
	MMIO_DMA3_IRQ_MASK      = 0x3C
	MMIO_DMA4_REASON        = 0x40
	MMIO_DMA4_IRQ_MASK      = 0x44
	MMIO_DMA5_REASON        = 0x48
	MMIO_DMA5_IRQ_MASK      = 0x4C
	MMIO_MACCTL             = 0x120
	MMIO_MACCMD             = 0x124
	MMIO_GEN_IRQ_REASON     = 0x128
	MMIO_GEN_IRQ_MASK       = 0x12C
	MMIO_RAM_CONTROL        = 0x130
	MMIO_RAM_DATA           = 0x134
	MMIO_PS_STATUS          = 0x140
	MMIO_MAC_HW_CAP         = 0x15C
	MMIO_SHM_CONTROL        = 0x160
	MMIO_SHM_DATA           = 0x164
	MMIO_SHM_DATA_UNALIGNED = 0x166
	MMIO_XMITSTAT_0         = 0x170
	MMIO_XMITSTAT_1         = 0x174
	MMIO_REV3PLUS_TSF_LOW   = 0x180
	MMIO_REV3PLUS_TSF_HIGH  = 0x184
	MMIO_TSF_CFP_REP        = 0x188
	MMIO_TSF_CFP_START      = 0x18C
	MMIO_RADIO24_CONTROL    = 0x3D8
	MMIO_RADIO24_DATA       = 0x3DA
	MMIO_PHY_VER            = 0x3E0
	MMIO_PHY0               = 0x3E6
	MMIO_RADIO_CONTROL      = 0x3F6
	MMIO_RADIO_DATA_HIGH    = 0x3F8
	MMIO_RADIO_DATA_LOW     = 0x3FA
	MMIO_MACFILTER_CONTROL  = 0x420
	MMIO_MACFILTER_DATA     = 0x422
	MMIO_RCMTA_COUNT        = 0x43C
	MMIO_GPIO_CONTROL       = 0x49C
	MMIO_GPIO_MASK          = 0x49E
	MMIO_TSF_CFP_START_LOW  = 0x604
	MMIO_TSF_CFP_START_HIGH = 0x606
	MMIO_TSF_CFP_REP_REV2   = 0x60E
	MMIO_TSF_CFP_START_REV2 = 0x610
	MMIO_TSF_CFP_PRETBTT    = 0x612
	MMIO_IFSSLOT            = 0x684
	MMIO_IFSCTL             = 0x688
	MMIO_POWERUP_DELAY      = 0x6A8
)

// MMIO_DMA_REASON returns the reason register of DMA engine i.
func MMIO_DMA_REASON(i int) uint16 { return MMIO_DMA0_REASON + uint16(i)*8 }

// MMIO_DMA_IRQ_MASK returns the interrupt mask register of DMA engine i.
func MMIO_DMA_IRQ_MASK(i int) uint16 { return MMIO_DMA0_IRQ_MASK + uint16(i)*8 }

// MAC address filter slots.
const (
	MACFILTER_SELF  = 0x0000
	MACFILTER_BSSID = 0x0003
	MACFILTER_WRITE = 0x0020
)

// IFSCTL bits.
const IFSCTL_USE_EDCF = 0x0004

// MACCTL bits.
const (
	MACCTL_ENABLED      = 0x00000001 // MAC Enabled
	MACCTL_PSM_RUN      = 0x00000002 // Run Microcode
	MACCTL_PSM_JMP0     = 0x00000004 // Microcode jump to 0
	MACCTL_SHM_ENABLED  = 0x00000100 // SHM Enabled
	MACCTL_SHM_UPPER    = 0x00000200 // SHM Upper
	MACCTL_IHR_ENABLED  = 0x00000400 // IHR Region Enabled
	MACCTL_PSM_DBG      = 0x00002000 // Microcode debugging enabled
	MACCTL_GPOUTSMSK    = 0x0000C000 // GPOUT Select Mask
	MACCTL_BE           = 0x00010000 // Big Endian mode
	MACCTL_INFRA        = 0x00020000 // Infrastructure mode
	MACCTL_AP           = 0x00040000 // AccessPoint mode
	MACCTL_RADIOLOCK    = 0x00080000 // Radio lock
	MACCTL_BEACPROMISC  = 0x00100000 // Beacon Promiscuous
	MACCTL_KEEP_BADPLCP = 0x00200000 // Keep frames with bad PLCP
	MACCTL_KEEP_CTL     = 0x00400000 // Keep control frames
	MACCTL_KEEP_BAD     = 0x00800000 // Keep bad frames (FCS)
	MACCTL_PROMISC      = 0x01000000 // Promiscuous mode
	MACCTL_HWPS         = 0x02000000 // Hardware Power Saving
	MACCTL_AWAKE        = 0x04000000 // Device is awake
	MACCTL_CLOSEDNET    = 0x08000000 // Closed net (no SSID bcast)
	MACCTL_TBTTHOLD     = 0x10000000 // TBTT Hold
	MACCTL_DISCTXSTAT   = 0x20000000 // Discard TX status
	MACCTL_DISCPMQ      = 0x40000000 // Discard Power Management Queue
	MACCTL_GMODE        = 0x80000000 // G Mode
)

// MACCMD bits.
const (
	MACCMD_BEACON0_VALID = 0x00000001
	MACCMD_BEACON1_VALID = 0x00000002
	MACCMD_DFQ_VALID     = 0x00000004 // Directed frame queue valid (IBSS PS mode, ATIM)
	MACCMD_CCA           = 0x00000008 // Clear channel assessment
	MACCMD_BGNOISE       = 0x00000010 // Background noise
)

// GEN_IRQ_REASON bits.
const (
	IRQ_MAC_SUSPENDED   = 0x00000001
	IRQ_BEACON          = 0x00000002
	IRQ_TBTT_INDI       = 0x00000004
	IRQ_BEACON_TX_OK    = 0x00000008
	IRQ_BEACON_CANCEL   = 0x00000010
	IRQ_ATIM_END        = 0x00000020
	IRQ_PMQ             = 0x00000040
	IRQ_PIO_WORKAROUND  = 0x00000100
	IRQ_MAC_TXERR       = 0x00000200
	IRQ_PHY_TXERR       = 0x00000800
	IRQ_PMEVENT         = 0x00001000
	IRQ_TIMER0          = 0x00002000
	IRQ_TIMER1          = 0x00004000
	IRQ_DMA             = 0x00008000
	IRQ_TXFIFO_FLUSH_OK = 0x00010000
	IRQ_CCA_MEASURE_OK  = 0x00020000
	IRQ_NOISESAMPLE_OK  = 0x00040000
	IRQ_UCODE_DEBUG     = 0x08000000
	IRQ_RFKILL          = 0x10000000
	IRQ_TX_OK           = 0x20000000
	IRQ_PHY_G_CHANGED   = 0x40000000
	IRQ_TIMEOUT         = 0x80000000

	IRQ_ALL = 0xFFFFFFFF

	IRQ_MASKTEMPLATE = IRQ_TBTT_INDI | IRQ_ATIM_END | IRQ_PMQ | IRQ_MAC_TXERR |
		IRQ_PHY_TXERR | IRQ_DMA | IRQ_TXFIFO_FLUSH_OK | IRQ_NOISESAMPLE_OK |
		IRQ_UCODE_DEBUG | IRQ_RFKILL | IRQ_TX_OK
)

// DMA engine reason bits.
const (
	DMAIRQ_FATALMASK   = (1 << 10) | (1 << 11) | (1 << 12) | (1 << 14) | (1 << 15)
	DMAIRQ_RDESC_UFLOW = 1 << 13
	DMAIRQ_RX_DONE     = 1 << 16
)

// DMAReasonMasks are the bits of DMA0..DMA5 reason registers the driver owns.
var DMAReasonMasks = [6]uint32{0x0001FC00, 0x0000DC00, 0x0000DC00, 0x0001DC00, 0x0000DC00, 0x0000DC00}

// PS_STATUS bits.
const (
	PS_STATUS_PMQ_BUSY = 0x0008
	PS_STATUS_PMQ_DONE = 0x0002
)

// Shared memory routing.
const (
	SHM_UCODE     = 0x0000
	SHM_SHARED    = 0x0001
	SHM_SCRATCH   = 0x0002
	SHM_RCMTA     = 0x0003
	SHM_HW        = 0x0004
	SHM_AUTOINC_W = 0x0100
	SHM_AUTOINC_R = 0x0200
)

// SHM_SHARED byte offsets.
const (
	SHM_SH_UCODEREV     = 0x0000
	SHM_SH_UCODEPATCH   = 0x0002
	SHM_SH_UCODEDATE    = 0x0004
	SHM_SH_UCODETIME    = 0x0006
	SHM_SH_WLCOREREV    = 0x0016
	SHM_SH_ACKCTSPHYCTL = 0x0022
	SHM_SH_RXPADOFF     = 0x0034
	SHM_SH_UCODESTAT    = 0x0040
	SHM_SH_FWCAPA       = 0x0042
	SHM_SH_SFFBLIM      = 0x0044
	SHM_SH_LFFBLIM      = 0x0046
	SHM_SH_PHYVER       = 0x0050
	SHM_SH_PHYTYPE      = 0x0052
	SHM_SH_BEACPHYCTL   = 0x0054
	SHM_SH_KTP          = 0x0056
	SHM_SH_HOSTF1       = 0x005E
	SHM_SH_HOSTF2       = 0x0060
	SHM_SH_HOSTF3       = 0x0062
	SHM_SH_PRETBTT      = 0x0096
	SHM_SH_SPUWKUP      = 0x0094
	SHM_SH_PRMAXTIME    = 0x0074
	SHM_SH_JSSI0        = 0x0088
	SHM_SH_JSSI1        = 0x008A
	SHM_SH_CHAN         = 0x00A0
	SHM_SH_BCN_LI       = 0x00B6
	SHM_SH_MACHW_L      = 0x00C0
	SHM_SH_MACHW_H      = 0x00C2
	SHM_SH_PRPHYCTL     = 0x0188
	SHM_SH_OFDMDIRECT   = 0x01C0
	SHM_SH_OFDMBASIC    = 0x01E0
	SHM_SH_CCKDIRECT    = 0x0200
	SHM_SH_CCKBASIC     = 0x0220
	SHM_SH_TKIPTSCTTAK  = 0x0318
	SHM_SH_NOISEINDEX   = 0x040C
	SHM_SH_RATEMEM_OFDM = 0x0480
	SHM_SH_RATEMEM_CCK  = 0x04C0
	SHM_SH_KEYIDXBLOCK  = 0x05D4
)

// SHM_SH_CHAN flag for 5GHz channels.
const SHM_SH_CHAN_5GHZ = 0x0100

// SHM_SH_UCODESTAT values.
const (
	SHM_SH_UCODESTAT_INVALID = 0
	SHM_SH_UCODESTAT_INIT    = 1
	SHM_SH_UCODESTAT_ACTIVE  = 2
	SHM_SH_UCODESTAT_SUSP    = 3
	SHM_SH_UCODESTAT_SLEEP   = 4
)

// SHM_SH_FWCAPA bits, open source firmware only.
const (
	FWCAPA_HWCRYPTO = 0x0001
	FWCAPA_QOS      = 0x0002
)

// SHM_SCRATCH word offsets.
const (
	SHM_SC_WATCHDOG    = 1
	SHM_SC_MARKER_ID   = 2
	SHM_SC_MARKER_LINE = 3
	SHM_SC_FWPANIC     = 3
	SHM_SC_MINCONT     = 3
	SHM_SC_MAXCONT     = 4
	SHM_SC_SRLIMIT     = 6
	SHM_SC_LRLIMIT     = 7
	SHM_SC_DEBUGIRQ    = 63
)

// Firmware debug IRQ reasons, read from SHM_SC_DEBUGIRQ.
const (
	DEBUGIRQ_PANIC     = 0
	DEBUGIRQ_DUMP_SHM  = 1
	DEBUGIRQ_DUMP_REGS = 2
	DEBUGIRQ_MARKER    = 3
	DEBUGIRQ_ACK       = 0xFFFF
)

// Firmware panic reasons, read from SHM_SC_FWPANIC.
const (
	FWPANIC_DIE     = 0
	FWPANIC_RESTART = 1
)

// Host flags, a 48 bit field split over SHM_SH_HOSTF1..3.
const (
	HF_ANTDIVHELP  = 0x000000000001
	HF_SYMW        = 0x000000000002
	HF_RXPULLW     = 0x000000000004
	HF_CCKBOOST    = 0x000000000008
	HF_BTCOEX      = 0x000000000010
	HF_GDCW        = 0x000000000020
	HF_OFDMPABOOST = 0x000000000040
	HF_ACPR        = 0x000000000080
	HF_EDCF        = 0x000000000100
	HF_TSSIRPSMW   = 0x000000000200
	HF_DSCRQ       = 0x000000000400
	HF_ACIW        = 0x000000000800
	HF_VCORECALC   = 0x000000040000
	HF_PCISCW      = 0x000000080000
	HF_4318TSSI    = 0x000000200000
	HF_SKCFPUP     = 0x000004000000
)

// Board flags as found in SPROM boardflags_lo.
const (
	BFL_BTCOEXIST   = 0x0001
	BFL_PACTRL      = 0x0002
	BFL_AIRLINEMODE = 0x0004
	BFL_RSSI        = 0x0008
	BFL_ENETSPI     = 0x0010
	BFL_XTAL_NOSLOW = 0x0020
	BFL_CCKHIPWR    = 0x0040
	BFL_ENETADM     = 0x0080
	BFL_ENETVLAN    = 0x0100
)

// PHY types as reported by MMIO_PHY_VER.
const (
	PHYTYPE_A     = 0x00
	PHYTYPE_B     = 0x01
	PHYTYPE_G     = 0x02
	PHYTYPE_N     = 0x05
	PHYTYPE_LP    = 0x06
	PHYTYPE_HT    = 0x07
	PHYTYPE_LCN   = 0x08
	PHYTYPE_LCNXN = 0x09
	PHYTYPE_LCN40 = 0x0A
	PHYTYPE_AC    = 0x0B
)

// MMIO_PHY_VER fields.
const (
	PHYVER_ANALOG       = 0xF000
	PHYVER_ANALOG_SHIFT = 12
	PHYVER_TYPE         = 0x0F00
	PHYVER_TYPE_SHIFT   = 8
	PHYVER_VERSION      = 0x00FF
)

// Radio identification.
const (
	RADIOCTL_ID          = 0x01
	RADIO_MANUF_BROADCOM = 0x17F
)

// PIO queue register blocks for core revisions before 11.
var PIO_BASE = [8]uint16{0x300, 0x340, 0x380, 0x3C0, 0x400, 0x440, 0x480, 0x4C0}

// PIO queue register blocks for core revision 11 and later.
var PIO11_BASE = [6]uint16{0x200, 0x240, 0x280, 0x2C0, 0x300, 0x340}

// 16 bit PIO registers, core revision < 8.
const (
	PIO_TXCTL           = 0x00
	PIO_TXCTL_WRITELO   = 0x0001
	PIO_TXCTL_WRITEHI   = 0x0002
	PIO_TXCTL_EOF       = 0x0004
	PIO_TXCTL_FREADY    = 0x0008
	PIO_TXCTL_FLUSHREQ  = 0x0020
	PIO_TXCTL_FLUSHPEND = 0x0040
	PIO_TXCTL_SUSPREQ   = 0x0080
	PIO_TXCTL_QSUSP     = 0x0100
	PIO_TXCTL_COMMCNT   = 0xFC00
	PIO_TXDATA          = 0x02
	PIO_TXQBUFSIZE      = 0x04
	PIO_RXCTL           = 0x08
	PIO_RXCTL_FRAMERDY  = 0x0001
	PIO_RXCTL_DATARDY   = 0x0002
	PIO_RXDATA          = 0x0A
)

// 32 bit PIO registers, core revision >= 8.
const (
	PIO8_TXCTL           = 0x00
	PIO8_TXCTL_0_7       = 0x00000001
	PIO8_TXCTL_8_15      = 0x00000002
	PIO8_TXCTL_16_23     = 0x00000004
	PIO8_TXCTL_24_31     = 0x00000008
	PIO8_TXCTL_EOF       = 0x00000010
	PIO8_TXCTL_FREADY    = 0x00000080
	PIO8_TXCTL_SUSPREQ   = 0x00000100
	PIO8_TXCTL_QSUSP     = 0x00000200
	PIO8_TXCTL_FLUSHREQ  = 0x00000400
	PIO8_TXCTL_FLUSHPEND = 0x00000800
	PIO8_TXDATA          = 0x04
	PIO8_RXCTL           = 0x00
	PIO8_RXCTL_FRAMERDY  = 0x00000001
	PIO8_RXCTL_DATARDY   = 0x00000002
	PIO8_RXDATA          = 0x04
)

// DMA engine RX control registers. Only the direct FIFO bit is used, it
// routes received frames to the PIO RX queue of the same index.
const (
	DMA32_BASE           = 0x200
	DMA32_ENGINE_SIZE    = 0x20
	DMA32_RXCTL          = 0x10
	DMA64_BASE           = 0x200
	DMA64_ENGINE_SIZE    = 0x40
	DMA64_RXCTL          = 0x20
	DMA_RXCTL_DIRECTFIFO = 0x00000100
)

// Offsets of the TX and RX halves inside a PIO queue block.
const (
	PIO_TXQ_OFFSET   = 0x00
	PIO_RXQ_OFFSET   = 0x08
	PIO11_TXQ_OFFSET = 0x18
	PIO11_RXQ_OFFSET = 0x38
)

// Security.
const (
	SEC_KEYSIZE      = 16
	NR_GROUP_KEYS    = 4
	NR_PAIRWISE_KEYS = 50
	SEC_ALGO_NONE    = 0
)

// Template RAM byte offset of the MAC address and BSSID pair.
const TEMPLATE_MAC_BSSID = 0x20

// Max length of a received frame as declared in the RX header.
const RX_MAX_FRAMELEN = 0x700

// Minimum frame the driver accepts for transmission.
const TX_MIN_FRAMELEN = 10

// Core reset flag bits passed to the backplane on reset.
const (
	TMSLOW_GMODE               = 0x20000000
	TMSLOW_PHYCLKSPEED         = 0x00C00000
	TMSLOW_PHY_BANDWIDTH_20MHZ = 0x00400000
	TMSLOW_MACPHYCLKEN         = 0x00100000
	TMSLOW_FGC                 = 0x00020000
	TMSLOW_PHYCLKEN            = 0x00000004
	TMSLOW_PHYRESET            = 0x00000008
)

// MMIO_PHY0 values written by the generic analog switch.
const (
	PHY0_ANALOG_ON  = 0x0000
	PHY0_ANALOG_OFF = 0x00F4
)
