package b43hw

import "encoding/binary"

// Rate is a legacy 802.11 bitrate in hardware units of 500 kbit/s.
type Rate uint8

const (
	CCK_RATE_1MB   Rate = 0x02
	CCK_RATE_2MB   Rate = 0x04
	CCK_RATE_5MB   Rate = 0x0B
	CCK_RATE_11MB  Rate = 0x16
	OFDM_RATE_6MB  Rate = 0x0C
	OFDM_RATE_9MB  Rate = 0x12
	OFDM_RATE_12MB Rate = 0x18
	OFDM_RATE_18MB Rate = 0x24
	OFDM_RATE_24MB Rate = 0x30
	OFDM_RATE_36MB Rate = 0x48
	OFDM_RATE_48MB Rate = 0x60
	OFDM_RATE_54MB Rate = 0x6C
)

// GRates is the 2.4GHz rate table: four CCK rates followed by eight OFDM rates.
var GRates = [12]Rate{
	CCK_RATE_1MB, CCK_RATE_2MB, CCK_RATE_5MB, CCK_RATE_11MB,
	OFDM_RATE_6MB, OFDM_RATE_9MB, OFDM_RATE_12MB, OFDM_RATE_18MB,
	OFDM_RATE_24MB, OFDM_RATE_36MB, OFDM_RATE_48MB, OFDM_RATE_54MB,
}

// ARates is the 5GHz rate table.
var ARates = [8]Rate{
	OFDM_RATE_6MB, OFDM_RATE_9MB, OFDM_RATE_12MB, OFDM_RATE_18MB,
	OFDM_RATE_24MB, OFDM_RATE_36MB, OFDM_RATE_48MB, OFDM_RATE_54MB,
}

// CCKRates and OFDMRates index the rate memory written at init.
var (
	CCKRates  = [4]Rate{CCK_RATE_1MB, CCK_RATE_2MB, CCK_RATE_5MB, CCK_RATE_11MB}
	OFDMRates = ARates
)

func (r Rate) IsCCK() bool {
	switch r {
	case CCK_RATE_1MB, CCK_RATE_2MB, CCK_RATE_5MB, CCK_RATE_11MB:
		return true
	}
	return false
}

func (r Rate) IsOFDM() bool {
	switch r {
	case OFDM_RATE_6MB, OFDM_RATE_9MB, OFDM_RATE_12MB, OFDM_RATE_18MB,
		OFDM_RATE_24MB, OFDM_RATE_36MB, OFDM_RATE_48MB, OFDM_RATE_54MB:
		return true
	}
	return false
}

// Bitrate returns the rate in units of 100 kbit/s.
func (r Rate) Bitrate() uint16 { return uint16(r) * 5 }

// ShortPreamble reports whether the rate may be sent with a short preamble.
func (r Rate) ShortPreamble() bool {
	return r.IsCCK() && r != CCK_RATE_1MB
}

// PLCPCode returns the rate field of the PLCP header. Zero for unknown rates.
func (r Rate) PLCPCode() uint8 {
	switch r {
	case CCK_RATE_1MB:
		return 0x0A
	case CCK_RATE_2MB:
		return 0x14
	case CCK_RATE_5MB:
		return 0x37
	case CCK_RATE_11MB:
		return 0x6E
	case OFDM_RATE_6MB:
		return 0xB
	case OFDM_RATE_9MB:
		return 0xF
	case OFDM_RATE_12MB:
		return 0xA
	case OFDM_RATE_18MB:
		return 0xE
	case OFDM_RATE_24MB:
		return 0x9
	case OFDM_RATE_36MB:
		return 0xD
	case OFDM_RATE_48MB:
		return 0x8
	case OFDM_RATE_54MB:
		return 0xC
	}
	return 0
}

// StaticFallback returns the fixed fallback used when no negotiated
// rate table is available, as for RTS/CTS frames.
func (r Rate) StaticFallback() Rate {
	switch r {
	case CCK_RATE_1MB, CCK_RATE_2MB:
		return CCK_RATE_1MB
	case CCK_RATE_5MB:
		return CCK_RATE_2MB
	case CCK_RATE_11MB, OFDM_RATE_6MB:
		return CCK_RATE_5MB
	case OFDM_RATE_9MB:
		return OFDM_RATE_6MB
	case OFDM_RATE_12MB:
		return OFDM_RATE_9MB
	case OFDM_RATE_18MB:
		return OFDM_RATE_12MB
	case OFDM_RATE_24MB:
		return OFDM_RATE_18MB
	case OFDM_RATE_36MB:
		return OFDM_RATE_24MB
	case OFDM_RATE_48MB:
		return OFDM_RATE_36MB
	case OFDM_RATE_54MB:
		return OFDM_RATE_48MB
	}
	return r
}

// LegacyPHYCtl1 returns the coding rate and modulation bits of PHY control
// word 1 for a legacy rate. ok is false for unknown rates.
func (r Rate) LegacyPHYCtl1() (crate, modulation uint16, ok bool) {
	switch r {
	case CCK_RATE_1MB, CCK_RATE_2MB, CCK_RATE_5MB, CCK_RATE_11MB:
		return 0, 0, true
	case OFDM_RATE_6MB:
		return TXH_PHY1_CRATE_1_2, TXH_PHY1_MODUL_BPSK, true
	case OFDM_RATE_9MB:
		return TXH_PHY1_CRATE_3_4, TXH_PHY1_MODUL_BPSK, true
	case OFDM_RATE_12MB:
		return TXH_PHY1_CRATE_1_2, TXH_PHY1_MODUL_QPSK, true
	case OFDM_RATE_18MB:
		return TXH_PHY1_CRATE_3_4, TXH_PHY1_MODUL_QPSK, true
	case OFDM_RATE_24MB:
		return TXH_PHY1_CRATE_1_2, TXH_PHY1_MODUL_QAM16, true
	case OFDM_RATE_36MB:
		return TXH_PHY1_CRATE_3_4, TXH_PHY1_MODUL_QAM16, true
	case OFDM_RATE_48MB:
		return TXH_PHY1_CRATE_2_3, TXH_PHY1_MODUL_QAM64, true
	case OFDM_RATE_54MB:
		return TXH_PHY1_CRATE_3_4, TXH_PHY1_MODUL_QAM64, true
	}
	return 0, 0, false
}

func (r Rate) String() (s string) {
	switch r {
	case CCK_RATE_1MB:
		s = "1M"
	case CCK_RATE_2MB:
		s = "2M"
	case CCK_RATE_5MB:
		s = "5.5M"
	case CCK_RATE_11MB:
		s = "11M"
	case OFDM_RATE_6MB:
		s = "6M"
	case OFDM_RATE_9MB:
		s = "9M"
	case OFDM_RATE_12MB:
		s = "12M"
	case OFDM_RATE_18MB:
		s = "18M"
	case OFDM_RATE_24MB:
		s = "24M"
	case OFDM_RATE_36MB:
		s = "36M"
	case OFDM_RATE_48MB:
		s = "48M"
	case OFDM_RATE_54MB:
		s = "54M"
	default:
		s = "unknown"
	}
	return s
}

// PutPLCP encodes the 6 byte PLCP header for a frame of octets bytes,
// FCS included, sent at rate r. dst must be at least 6 bytes long.
func PutPLCP(dst []byte, octets int, r Rate) {
	dst = dst[:PLCP_HDR_LEN]
	clear(dst)
	if r.IsOFDM() {
		binary.LittleEndian.PutUint32(dst, uint32(r.PLCPCode())|uint32(octets)<<5)
		return
	}
	bitrate := int(r)
	plen := octets * 16 / bitrate
	dst[1] = 0x04
	if octets*16%bitrate > 0 {
		plen++
		// Length extension bit for 11Mbit.
		if r == CCK_RATE_11MB && octets*8%11 < 4 {
			dst[1] = 0x84
		}
	}
	binary.LittleEndian.PutUint16(dst[2:], uint16(plen))
	dst[0] = r.PLCPCode()
}

// RateIdxCCK maps the PLCP rate field of a CCK frame to its index in GRates.
// Returns -1 for unknown codes.
func RateIdxCCK(plcp0 uint8) int {
	switch plcp0 {
	case 0x0A:
		return 0
	case 0x14:
		return 1
	case 0x37:
		return 2
	case 0x6E:
		return 3
	}
	return -1
}

// RateIdxOFDM maps the PLCP rate field of an OFDM frame to its index in
// ARates when ghz5 is set, otherwise in GRates. Returns -1 for unknown codes.
func RateIdxOFDM(plcp0 uint8, ghz5 bool) int {
	base := 4
	if ghz5 {
		base = 0
	}
	switch plcp0 & 0xF {
	case 0xB:
		return base + 0
	case 0xF:
		return base + 1
	case 0xA:
		return base + 2
	case 0xE:
		return base + 3
	case 0x9:
		return base + 4
	case 0xD:
		return base + 5
	case 0x8:
		return base + 6
	case 0xC:
		return base + 7
	}
	return -1
}

// Airtime returns the duration in microseconds of sending bytes at
// bitrate (100 kbit/s units), SIFS included. OFDM timing is used at 5GHz
// and for ERP rates, CCK timing otherwise.
func Airtime(bytes int, bitrate uint16, ghz5, shortPreamble bool) uint16 {
	kbps := int(bitrate) * 100
	if kbps == 0 {
		return 0
	}
	erp := bitrate != 10 && bitrate != 20 && bitrate != 55 && bitrate != 110
	if ghz5 || erp {
		bitsPerSymbol := kbps * 4 / 1000 // 4us per symbol.
		bits := 22 + bytes*8             // 22 bit PLCP service and tail.
		symbols := (bits + bitsPerSymbol - 1) / bitsPerSymbol
		return uint16(16 + 20 + symbols*4) // 16us SIFS, 20us preamble.
	}
	phyTime := 144 + 48 // Preamble and PLCP.
	if shortPreamble {
		phyTime >>= 1
	}
	bits := bytes * 8
	dataTime := (bits*1000 + kbps - 1) / kbps
	return uint16(10 + phyTime + dataTime) // 10us SIFS.
}
