package b43hw

import (
	"encoding/binary"
	"errors"
)

const (
	FW_HEADER_LEN  = 8
	IV_OFFSET_MASK = 0x7FFF
	IV_32BIT       = 0x8000
	IV_MAX_OFFSET  = 0x1000
)

var (
	ErrFwTooShort  = errors.New("firmware blob shorter than header")
	ErrFwSize      = errors.New("firmware header size does not match payload")
	ErrFwVersion   = errors.New("firmware header version not 1")
	ErrFwType      = errors.New("unknown firmware header type")
	ErrIVTruncated = errors.New("initvals record truncated")
	ErrIVOffset    = errors.New("initvals offset out of range")
	ErrIVTrailing  = errors.New("initvals trailing bytes after last record")
)

// FwType is the first byte of a firmware blob header.
type FwType uint8

const (
	FW_TYPE_UCODE FwType = 'u'
	FW_TYPE_PCM   FwType = 'p'
	FW_TYPE_IV    FwType = 'i'
)

func (t FwType) String() (s string) {
	switch t {
	case FW_TYPE_UCODE:
		s = "ucode"
	case FW_TYPE_PCM:
		s = "pcm"
	case FW_TYPE_IV:
		s = "initvals"
	default:
		s = "unknown"
	}
	return s
}

// FwHeader prefixes every firmware blob. Size is big endian. For microcode
// and PCM it is the payload length in bytes, for initvals the record count.
type FwHeader struct {
	Type    FwType
	Version uint8
	Size    uint32
}

func DecodeFwHeader(b []byte) (hdr FwHeader) {
	_ = b[FW_HEADER_LEN-1]
	hdr.Type = FwType(b[0])
	hdr.Version = b[1]
	hdr.Size = binary.BigEndian.Uint32(b[4:])
	return hdr
}

// Put puts all 8 bytes of the header in dst. Panics if dst is shorter than 8 bytes.
func (h FwHeader) Put(dst []byte) {
	_ = dst[FW_HEADER_LEN-1]
	dst[0] = byte(h.Type)
	dst[1] = h.Version
	dst[2] = 0
	dst[3] = 0
	binary.BigEndian.PutUint32(dst[4:], h.Size)
}

// ValidateFw checks a complete firmware blob and returns its payload.
func ValidateFw(blob []byte) (hdr FwHeader, payload []byte, err error) {
	if len(blob) < FW_HEADER_LEN {
		return hdr, nil, ErrFwTooShort
	}
	hdr = DecodeFwHeader(blob)
	payload = blob[FW_HEADER_LEN:]
	switch hdr.Type {
	case FW_TYPE_UCODE, FW_TYPE_PCM:
		if int64(hdr.Size) != int64(len(payload)) {
			return hdr, nil, ErrFwSize
		}
	case FW_TYPE_IV:
	default:
		return hdr, nil, ErrFwType
	}
	if hdr.Version != 1 {
		return hdr, nil, ErrFwVersion
	}
	return hdr, payload, nil
}

// Initval is one register write of an initial values stream.
type Initval struct {
	Offset uint16
	Is32   bool
	Value  uint32
}

// Len returns the encoded length of the record.
func (iv Initval) Len() int {
	if iv.Is32 {
		return 6
	}
	return 4
}

// DecodeInitvals decodes exactly count records that must consume all of payload.
// Nothing is returned on error so a caller never applies a partial stream.
func DecodeInitvals(payload []byte, count uint32) ([]Initval, error) {
	// Smallest record is 4 bytes, bound preallocation by the payload.
	ivs := make([]Initval, 0, min(int(count), len(payload)/4))
	for i := uint32(0); i < count; i++ {
		if len(payload) < 2 {
			return nil, ErrIVTruncated
		}
		offsz := binary.BigEndian.Uint16(payload)
		payload = payload[2:]
		iv := Initval{
			Offset: offsz & IV_OFFSET_MASK,
			Is32:   offsz&IV_32BIT != 0,
		}
		if iv.Offset >= IV_MAX_OFFSET {
			return nil, ErrIVOffset
		}
		if iv.Is32 {
			if len(payload) < 4 {
				return nil, ErrIVTruncated
			}
			iv.Value = binary.BigEndian.Uint32(payload)
			payload = payload[4:]
		} else {
			if len(payload) < 2 {
				return nil, ErrIVTruncated
			}
			iv.Value = uint32(binary.BigEndian.Uint16(payload))
			payload = payload[2:]
		}
		ivs = append(ivs, iv)
	}
	if len(payload) != 0 {
		return nil, ErrIVTrailing
	}
	return ivs, nil
}

// AppendInitvals encodes ivs onto dst. It is the inverse of DecodeInitvals.
func AppendInitvals(dst []byte, ivs []Initval) []byte {
	for _, iv := range ivs {
		offsz := iv.Offset & IV_OFFSET_MASK
		if iv.Is32 {
			offsz |= IV_32BIT
			dst = binary.BigEndian.AppendUint16(dst, offsz)
			dst = binary.BigEndian.AppendUint32(dst, iv.Value)
		} else {
			dst = binary.BigEndian.AppendUint16(dst, offsz)
			dst = binary.BigEndian.AppendUint16(dst, uint16(iv.Value))
		}
	}
	return dst
}

// HdrFormat selects one of three TX/RX header layouts. It is fixed by the
// microcode revision once firmware is running.
type HdrFormat uint8

const (
	HDR_351 HdrFormat = iota
	HDR_410
	HDR_598
)

// HdrFormatFromRev returns the header layout of microcode revision rev.
func HdrFormatFromRev(rev uint16) HdrFormat {
	switch {
	case rev >= 598:
		return HDR_598
	case rev >= 410:
		return HDR_410
	}
	return HDR_351
}

func (f HdrFormat) String() (s string) {
	switch f {
	case HDR_351:
		s = "351"
	case HDR_410:
		s = "410"
	case HDR_598:
		s = "598"
	default:
		s = "invalid"
	}
	return s
}

// txLayout places the format dependent tail of the TX header.
type txLayout struct {
	mimoAntenna int // -1 when absent.
	preload     int
	cookie      int
	txStatus    int
	aggregate   int // max_n_mpdus..min_m_bytes, -1 when absent.
	rtsPLCP     int
	rtsFrame    int
	plcp        int
	size        int
}

var txLayouts = [3]txLayout{
	HDR_351: {mimoAntenna: -1, preload: -1, cookie: 72, txStatus: 74, aggregate: -1, rtsPLCP: 76, rtsFrame: 82, plcp: 100, size: 106},
	HDR_410: {mimoAntenna: 70, preload: 72, cookie: 76, txStatus: 78, aggregate: -1, rtsPLCP: 80, rtsFrame: 86, plcp: 104, size: 110},
	HDR_598: {mimoAntenna: 70, preload: 72, cookie: 76, txStatus: 78, aggregate: 80, rtsPLCP: 88, rtsFrame: 94, plcp: 112, size: 118},
}

// TxHeaderLen returns the size of the TX descriptor in format f.
func (f HdrFormat) TxHeaderLen() int { return txLayouts[f].size }

// RxHeaderLen returns the size of the RX header in format f.
func (f HdrFormat) RxHeaderLen() int {
	if f == HDR_598 {
		return 24
	}
	return 20
}

// TX header MAC control bits.
const (
	TXH_MAC_ACK       = 0x00000001 // Immediate ACK
	TXH_MAC_LONGFRAME = 0x00000004 // Long frame
	TXH_MAC_SENDRTS   = 0x00000008 // Send RTS
	TXH_MAC_5GHZ      = 0x00000100 // 5GHz band
	TXH_MAC_SENDCTS   = 0x00000800 // Send CTS-to-self
)

// TX header extra frame type bits.
const (
	TXH_EFT_FB_CCK     = 0x00
	TXH_EFT_FB_OFDM    = 0x01
	TXH_EFT_RTS_CCK    = 0x00
	TXH_EFT_RTS_OFDM   = 0x04
	TXH_EFT_RTSFB_CCK  = 0x00
	TXH_EFT_RTSFB_OFDM = 0x10
)

// TX header PHY control word bits.
const (
	TXH_PHY_ENC_CCK    = 0x0000
	TXH_PHY_ENC_OFDM   = 0x0001
	TXH_PHY_SHORTPRMBL = 0x0010
	TXH_PHY_ANT        = 0x03C0
	TXH_PHY_ANT0       = 0x0000
	TXH_PHY_ANT1       = 0x0040
	TXH_PHY_ANT01AUTO  = 0x00C0
	TXH_PHY_ANT2       = 0x0100
	TXH_PHY_ANT3       = 0x0200
	TXH_PHY_TXPWR      = 0xFC00
)

// TX header PHY control word 1 bits, LP/N/HT PHYs.
const (
	TXH_PHY1_BW_20       = 0x0002
	TXH_PHY1_MODE_SISO   = 0x0000
	TXH_PHY1_CRATE_1_2   = 0x0000
	TXH_PHY1_CRATE_2_3   = 0x0100
	TXH_PHY1_CRATE_3_4   = 0x0200
	TXH_PHY1_MODUL_BPSK  = 0x0000
	TXH_PHY1_MODUL_QPSK  = 0x0800
	TXH_PHY1_MODUL_QAM16 = 0x1000
	TXH_PHY1_MODUL_QAM64 = 0x1800
)

const PLCP_HDR_LEN = 6

// TxHeader is the descriptor the microcode expects in front of every
// transmitted frame. Fields after Timeout are placed by HdrFormat.
type TxHeader struct {
	MACCtl        uint32
	MACFrameCtl   uint16
	TxFESTimeNorm uint16
	PHYCtl        uint16
	PHYCtl1       uint16
	PHYCtl1Fb     uint16
	PHYCtl1RTS    uint16
	PHYCtl1RTSFb  uint16
	PHYRate       uint8
	PHYRateRTS    uint8
	ExtraFT       uint8
	ChanRadioCode uint8
	IV            [16]byte
	TxReceiver    [6]byte
	TxFESTimeFb   uint16
	RTSPLCPFb     [PLCP_HDR_LEN]byte
	RTSDurFb      uint16
	PLCPFb        [PLCP_HDR_LEN]byte
	DurFb         uint16
	MIMOModeLen   uint16
	MIMORateLenFb uint16
	Timeout       uint32

	MIMOAntenna  uint16 // 410 and 598 only.
	PreloadSize  uint16 // 410 and 598 only.
	Cookie       uint16
	TxStatus     uint16
	MaxNMPDUs    uint16 // 598 only.
	MaxABytesMRT uint16 // 598 only.
	MaxABytesFBR uint16 // 598 only.
	MinMBytes    uint16 // 598 only.
	RTSPLCP      [PLCP_HDR_LEN]byte
	RTSFrame     [16]byte
	PLCP         [PLCP_HDR_LEN]byte
}

// Put encodes the header in format f into dst, which must be at least
// f.TxHeaderLen() bytes long. Padding bytes are zeroed.
func (h *TxHeader) Put(dst []byte, f HdrFormat) {
	lay := txLayouts[f]
	dst = dst[:lay.size]
	clear(dst)
	le := binary.LittleEndian
	le.PutUint32(dst[0:], h.MACCtl)
	le.PutUint16(dst[4:], h.MACFrameCtl)
	le.PutUint16(dst[6:], h.TxFESTimeNorm)
	le.PutUint16(dst[8:], h.PHYCtl)
	le.PutUint16(dst[10:], h.PHYCtl1)
	le.PutUint16(dst[12:], h.PHYCtl1Fb)
	le.PutUint16(dst[14:], h.PHYCtl1RTS)
	le.PutUint16(dst[16:], h.PHYCtl1RTSFb)
	dst[18] = h.PHYRate
	dst[19] = h.PHYRateRTS
	dst[20] = h.ExtraFT
	dst[21] = h.ChanRadioCode
	copy(dst[22:38], h.IV[:])
	copy(dst[38:44], h.TxReceiver[:])
	le.PutUint16(dst[44:], h.TxFESTimeFb)
	copy(dst[46:52], h.RTSPLCPFb[:])
	le.PutUint16(dst[52:], h.RTSDurFb)
	copy(dst[54:60], h.PLCPFb[:])
	le.PutUint16(dst[60:], h.DurFb)
	le.PutUint16(dst[62:], h.MIMOModeLen)
	le.PutUint16(dst[64:], h.MIMORateLenFb)
	le.PutUint32(dst[66:], h.Timeout)
	if lay.mimoAntenna >= 0 {
		le.PutUint16(dst[lay.mimoAntenna:], h.MIMOAntenna)
		le.PutUint16(dst[lay.preload:], h.PreloadSize)
	}
	le.PutUint16(dst[lay.cookie:], h.Cookie)
	le.PutUint16(dst[lay.txStatus:], h.TxStatus)
	if lay.aggregate >= 0 {
		le.PutUint16(dst[lay.aggregate:], h.MaxNMPDUs)
		le.PutUint16(dst[lay.aggregate+2:], h.MaxABytesMRT)
		le.PutUint16(dst[lay.aggregate+4:], h.MaxABytesFBR)
		le.PutUint16(dst[lay.aggregate+6:], h.MinMBytes)
	}
	copy(dst[lay.rtsPLCP:], h.RTSPLCP[:])
	copy(dst[lay.rtsFrame:], h.RTSFrame[:])
	copy(dst[lay.plcp:], h.PLCP[:])
}

// DecodeTxHeader is the inverse of TxHeader.Put.
func DecodeTxHeader(b []byte, f HdrFormat) (h TxHeader) {
	lay := txLayouts[f]
	_ = b[lay.size-1]
	le := binary.LittleEndian
	h.MACCtl = le.Uint32(b[0:])
	h.MACFrameCtl = le.Uint16(b[4:])
	h.TxFESTimeNorm = le.Uint16(b[6:])
	h.PHYCtl = le.Uint16(b[8:])
	h.PHYCtl1 = le.Uint16(b[10:])
	h.PHYCtl1Fb = le.Uint16(b[12:])
	h.PHYCtl1RTS = le.Uint16(b[14:])
	h.PHYCtl1RTSFb = le.Uint16(b[16:])
	h.PHYRate = b[18]
	h.PHYRateRTS = b[19]
	h.ExtraFT = b[20]
	h.ChanRadioCode = b[21]
	copy(h.IV[:], b[22:38])
	copy(h.TxReceiver[:], b[38:44])
	h.TxFESTimeFb = le.Uint16(b[44:])
	copy(h.RTSPLCPFb[:], b[46:52])
	h.RTSDurFb = le.Uint16(b[52:])
	copy(h.PLCPFb[:], b[54:60])
	h.DurFb = le.Uint16(b[60:])
	h.MIMOModeLen = le.Uint16(b[62:])
	h.MIMORateLenFb = le.Uint16(b[64:])
	h.Timeout = le.Uint32(b[66:])
	if lay.mimoAntenna >= 0 {
		h.MIMOAntenna = le.Uint16(b[lay.mimoAntenna:])
		h.PreloadSize = le.Uint16(b[lay.preload:])
	}
	h.Cookie = le.Uint16(b[lay.cookie:])
	h.TxStatus = le.Uint16(b[lay.txStatus:])
	if lay.aggregate >= 0 {
		h.MaxNMPDUs = le.Uint16(b[lay.aggregate:])
		h.MaxABytesMRT = le.Uint16(b[lay.aggregate+2:])
		h.MaxABytesFBR = le.Uint16(b[lay.aggregate+4:])
		h.MinMBytes = le.Uint16(b[lay.aggregate+6:])
	}
	copy(h.RTSPLCP[:], b[lay.rtsPLCP:])
	copy(h.RTSFrame[:], b[lay.rtsFrame:])
	copy(h.PLCP[:], b[lay.plcp:])
	return h
}

// RX header PHY status 0 bits.
const (
	RX_PHYST0_GAINCTL    = 0x4000
	RX_PHYST0_PLCPHCF    = 0x0200
	RX_PHYST0_PLCPFV     = 0x0100
	RX_PHYST0_SHORTPRMBL = 0x0080
	RX_PHYST0_LCRS       = 0x0040
	RX_PHYST0_ANT        = 0x0020
	RX_PHYST0_UNSRATE    = 0x0010
	RX_PHYST0_CLIP       = 0x000C
	RX_PHYST0_FTYPE      = 0x0003
	RX_PHYST0_CCK        = 0x0000
	RX_PHYST0_OFDM       = 0x0001
	RX_PHYST0_PRE_N      = 0x0002
	RX_PHYST0_STD_N      = 0x0003
)

// RX header PHY status 3 bits.
const RX_PHYST3_TRSTATE = 0x0400

// RX header MAC status bits.
const (
	RX_MAC_RXST_VALID  = 0x01000000
	RX_MAC_TKIP_MICERR = 0x00100000
	RX_MAC_TKIP_MICATT = 0x00080000
	RX_MAC_AGGTYPE     = 0x00060000
	RX_MAC_BEACONSENT  = 0x00008000
	RX_MAC_KEYIDX      = 0x000007E0
	RX_MAC_DECERR      = 0x00000010
	RX_MAC_DEC         = 0x00000008
	RX_MAC_PADDING     = 0x00000004
	RX_MAC_RESP        = 0x00000002
	RX_MAC_FCSERR      = 0x00000001
)

// RX header channel bits.
const (
	RX_CHAN_40MHZ    = 0x1000
	RX_CHAN_5GHZ     = 0x0800
	RX_CHAN_ID       = 0x07F8
	RX_CHAN_ID_SHIFT = 3
	RX_CHAN_PHYTYPE  = 0x0007
)

// RxHeader is prepended by the microcode to every received frame.
type RxHeader struct {
	FrameLen   uint16
	PHYStatus0 uint16
	JSSI       uint8 // power0 on N-PHY.
	SigQual    uint8 // power1 on N-PHY.
	PHYStatus2 uint16
	PHYStatus3 uint16
	PHYStatus4 uint16 // 598 only.
	PHYStatus5 uint16 // 598 only.
	MACStatus  uint32
	MACTime    uint16
	Channel    uint16
}

func DecodeRxHeader(b []byte, f HdrFormat) (hdr RxHeader) {
	_ = b[f.RxHeaderLen()-1]
	le := binary.LittleEndian
	hdr.FrameLen = le.Uint16(b[0:])
	hdr.PHYStatus0 = le.Uint16(b[4:])
	hdr.JSSI = b[6]
	hdr.SigQual = b[7]
	hdr.PHYStatus2 = le.Uint16(b[8:])
	hdr.PHYStatus3 = le.Uint16(b[10:])
	if f == HDR_598 {
		hdr.PHYStatus4 = le.Uint16(b[12:])
		hdr.PHYStatus5 = le.Uint16(b[14:])
		hdr.MACStatus = le.Uint32(b[16:])
		hdr.MACTime = le.Uint16(b[20:])
		hdr.Channel = le.Uint16(b[22:])
	} else {
		hdr.MACStatus = le.Uint32(b[12:])
		hdr.MACTime = le.Uint16(b[16:])
		hdr.Channel = le.Uint16(b[18:])
	}
	return hdr
}

// Put encodes the header in format f. Used by hardware models.
func (hdr *RxHeader) Put(dst []byte, f HdrFormat) {
	dst = dst[:f.RxHeaderLen()]
	clear(dst)
	le := binary.LittleEndian
	le.PutUint16(dst[0:], hdr.FrameLen)
	le.PutUint16(dst[4:], hdr.PHYStatus0)
	dst[6] = hdr.JSSI
	dst[7] = hdr.SigQual
	le.PutUint16(dst[8:], hdr.PHYStatus2)
	le.PutUint16(dst[10:], hdr.PHYStatus3)
	if f == HDR_598 {
		le.PutUint16(dst[12:], hdr.PHYStatus4)
		le.PutUint16(dst[14:], hdr.PHYStatus5)
		le.PutUint32(dst[16:], hdr.MACStatus)
		le.PutUint16(dst[20:], hdr.MACTime)
		le.PutUint16(dst[22:], hdr.Channel)
	} else {
		le.PutUint32(dst[12:], hdr.MACStatus)
		le.PutUint16(dst[16:], hdr.MACTime)
		le.PutUint16(dst[18:], hdr.Channel)
	}
}

func (hdr RxHeader) Power0() int8   { return int8(hdr.JSSI) }
func (hdr RxHeader) Power1() int8   { return int8(hdr.SigQual) }
func (hdr RxHeader) Power2() int8   { return int8(hdr.PHYStatus2) }
func (hdr RxHeader) HTPower0() int8 { return int8(hdr.PHYStatus2 >> 8) }
func (hdr RxHeader) HTPower1() int8 { return int8(hdr.PHYStatus3) }
func (hdr RxHeader) HTPower2() int8 { return int8(hdr.PHYStatus3 >> 8) }

// PHYType returns the PHY that received the frame.
func (hdr RxHeader) PHYType() uint8 { return uint8(hdr.Channel & RX_CHAN_PHYTYPE) }

// TxStatus is the decoded pair of XMITSTAT words.
type TxStatus struct {
	Cookie       uint16
	Seq          uint16
	PHYStat      uint8
	FrameCount   uint8 // Frame transmit count.
	RTSCount     uint8 // RTS transmit count.
	SuppReason   uint8 // Suppression reason.
	PMIndicated  bool
	Intermediate bool
	ForAMPDU     bool
	Acked        bool
}

const XMITSTAT_VALID = 0x00000001

// DecodeTxStatus decodes XMITSTAT_0 and XMITSTAT_1. The caller checks
// XMITSTAT_VALID in v0 before reading v1.
func DecodeTxStatus(v0, v1 uint32) (st TxStatus) {
	st.Cookie = uint16(v0 >> 16)
	st.Seq = uint16(v1)
	st.PHYStat = uint8(v1 >> 16)
	tmp := uint16(v0)
	st.FrameCount = uint8((tmp & 0xF000) >> 12)
	st.RTSCount = uint8((tmp & 0x0F00) >> 8)
	st.SuppReason = uint8((tmp & 0x001C) >> 2)
	st.PMIndicated = tmp&0x0080 != 0
	st.Intermediate = tmp&0x0040 != 0
	st.ForAMPDU = tmp&0x0020 != 0
	st.Acked = tmp&0x0002 != 0
	return st
}

// Words encodes the status as the hardware reports it, with the valid bit set.
func (st TxStatus) Words() (v0, v1 uint32) {
	tmp := uint32(st.FrameCount&0xF)<<12 | uint32(st.RTSCount&0xF)<<8 | uint32(st.SuppReason&0x7)<<2
	if st.PMIndicated {
		tmp |= 0x0080
	}
	if st.Intermediate {
		tmp |= 0x0040
	}
	if st.ForAMPDU {
		tmp |= 0x0020
	}
	if st.Acked {
		tmp |= 0x0002
	}
	v0 = uint32(st.Cookie)<<16 | tmp | XMITSTAT_VALID
	v1 = uint32(st.PHYStat)<<16 | uint32(st.Seq)
	return v0, v1
}
