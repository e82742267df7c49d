// Package spibridge implements a b43 register bus over an SPI to backplane
// bridge, as used on bench setups where the 802.11 core is not on PCI.
//
// Every transaction starts with a 32 bit little endian command word:
//
//	bit 31     write
//	bit 30     auto increment address
//	bits 29:28 function
//	bits 27:11 register address
//	bits 10:0  payload length in bytes
//
// Writes follow the command with the payload. Reads clock out ReadPadding
// bytes of bridge turnaround before the data.
package spibridge

import (
	"encoding/binary"
	"errors"
	"fmt"

	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// Function selects the backplane resource a command addresses.
type Function uint8

const (
	// FuncCore is the core register window. Length selects access width.
	FuncCore Function = iota
	// FuncAux is the secondary register window, 32 bit only.
	FuncAux
	// FuncFIFO16 streams the payload through one register 16 bits at a time.
	FuncFIFO16
	// FuncFIFO32 streams the payload through one register 32 bits at a time.
	FuncFIFO32
)

func (f Function) String() (s string) {
	switch f {
	case FuncCore:
		s = "core"
	case FuncAux:
		s = "aux"
	case FuncFIFO16:
		s = "fifo16"
	case FuncFIFO32:
		s = "fifo32"
	default:
		s = "unknown"
	}
	return s
}

const (
	// ReadPadding is the number of turnaround bytes before read data.
	ReadPadding = 4
	// MaxPayload is the largest payload of a single command.
	MaxPayload = 0x7FC
	// DefaultSpeed is the clock used by Open.
	DefaultSpeed = 24 * physic.MegaHertz

	addrMask = 0x1FFFF
	lenMask  = 0x7FF
)

// Cmd is a bridge command word.
type Cmd uint32

// MakeCmd encodes a command word.
func MakeCmd(write, autoInc bool, fn Function, addr uint32, length int) Cmd {
	return Cmd(b2u32(write)<<31 | b2u32(autoInc)<<30 | uint32(fn&0b11)<<28 |
		(addr&addrMask)<<11 | uint32(length)&lenMask)
}

func (c Cmd) Write() bool        { return c&(1<<31) != 0 }
func (c Cmd) AutoInc() bool      { return c&(1<<30) != 0 }
func (c Cmd) Function() Function { return Function(c>>28) & 0b11 }
func (c Cmd) Addr() uint32       { return uint32(c>>11) & addrMask }
func (c Cmd) Len() int           { return int(c & lenMask) }

func (c Cmd) String() string {
	dir := "R"
	if c.Write() {
		dir = "W"
	}
	return fmt.Sprintf("%s %s %#05x len=%d", dir, c.Function(), c.Addr(), c.Len())
}

func b2u32(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

var (
	errBadWidth = errors.New("spibridge: block width must be 2 or 4")
	errBadLen   = errors.New("spibridge: block length not a multiple of width")
)

// Bus is a b43 register bus on a bridge. The b43 bus interface carries no
// errors, the first transfer error is kept and returned by Err. Accesses
// after an error are dropped and reads return zero.
type Bus struct {
	conn   spi.Conn
	closer interface{ Close() error }
	err    error
	buf    [4 + ReadPadding + MaxPayload]byte
	rbuf   [4 + ReadPadding + MaxPayload]byte
	// Transfers counts SPI transactions.
	Transfers int
}

// New returns a Bus that talks over conn. conn must be full duplex.
func New(conn spi.Conn) *Bus {
	return &Bus{conn: conn}
}

// Open initializes the periph host drivers and connects to the SPI port
// named portName, "" selecting the first one available.
func Open(portName string, speed physic.Frequency) (*Bus, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("spibridge: periph host init: %w", err)
	}
	port, err := spireg.Open(portName)
	if err != nil {
		return nil, fmt.Errorf("spibridge: open %q: %w", portName, err)
	}
	if speed == 0 {
		speed = DefaultSpeed
	}
	conn, err := port.Connect(speed, spi.Mode0, 8)
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("spibridge: connect %q: %w", portName, err)
	}
	b := New(conn)
	b.closer = port
	return b, nil
}

// Close releases the SPI port if the Bus was returned by Open.
func (b *Bus) Close() error {
	if b.closer == nil {
		return nil
	}
	return b.closer.Close()
}

// Err returns the first transfer error seen.
func (b *Bus) Err() error { return b.err }

// ResetErr clears the sticky error so the bus can be used again.
func (b *Bus) ResetErr() { b.err = nil }

func (b *Bus) write(fn Function, autoInc bool, off uint16, payload []byte) {
	if b.err != nil {
		return
	}
	n := 4 + len(payload)
	binary.LittleEndian.PutUint32(b.buf[:], uint32(MakeCmd(true, autoInc, fn, uint32(off), len(payload))))
	copy(b.buf[4:n], payload)
	b.Transfers++
	if err := b.conn.Tx(b.buf[:n], nil); err != nil {
		b.err = fmt.Errorf("spibridge: write %#x: %w", off, err)
	}
}

func (b *Bus) read(fn Function, autoInc bool, off uint16, dst []byte) {
	if b.err != nil {
		clear(dst)
		return
	}
	n := 4 + ReadPadding + len(dst)
	w := b.buf[:n]
	clear(w)
	binary.LittleEndian.PutUint32(w, uint32(MakeCmd(false, autoInc, fn, uint32(off), len(dst))))
	r := b.rbuf[:n]
	b.Transfers++
	if err := b.conn.Tx(w, r); err != nil {
		b.err = fmt.Errorf("spibridge: read %#x: %w", off, err)
		clear(dst)
		return
	}
	copy(dst, r[4+ReadPadding:])
}

func (b *Bus) Read8(off uint16) uint8 {
	var v [1]byte
	b.read(FuncCore, false, off, v[:])
	return v[0]
}

func (b *Bus) Read16(off uint16) uint16 {
	var v [2]byte
	b.read(FuncCore, false, off, v[:])
	return binary.LittleEndian.Uint16(v[:])
}

func (b *Bus) Read32(off uint16) uint32 {
	var v [4]byte
	b.read(FuncCore, false, off, v[:])
	return binary.LittleEndian.Uint32(v[:])
}

func (b *Bus) Write8(off uint16, v uint8) {
	b.write(FuncCore, false, off, []byte{v})
}

func (b *Bus) Write16(off uint16, v uint16) {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], v)
	b.write(FuncCore, false, off, buf[:])
}

func (b *Bus) Write32(off uint16, v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	b.write(FuncCore, false, off, buf[:])
}

func (b *Bus) ARead32(off uint16) uint32 {
	var v [4]byte
	b.read(FuncAux, false, off, v[:])
	return binary.LittleEndian.Uint32(v[:])
}

func (b *Bus) AWrite32(off uint16, v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	b.write(FuncAux, false, off, buf[:])
}

func fifoFunc(width int) (Function, bool) {
	switch width {
	case 2:
		return FuncFIFO16, true
	case 4:
		return FuncFIFO32, true
	}
	return 0, false
}

// ReadBlock reads buf from the data port at off. Large blocks are split in
// MaxPayload chunks, which is a multiple of both widths.
func (b *Bus) ReadBlock(buf []byte, off uint16, width int) {
	fn, ok := fifoFunc(width)
	if !b.checkBlock(ok, len(buf), width) {
		clear(buf)
		return
	}
	for len(buf) > 0 {
		n := min(len(buf), MaxPayload)
		b.read(fn, false, off, buf[:n])
		buf = buf[n:]
	}
}

// WriteBlock writes buf to the data port at off.
func (b *Bus) WriteBlock(buf []byte, off uint16, width int) {
	fn, ok := fifoFunc(width)
	if !b.checkBlock(ok, len(buf), width) {
		return
	}
	for len(buf) > 0 {
		n := min(len(buf), MaxPayload)
		b.write(fn, false, off, buf[:n])
		buf = buf[n:]
	}
}

func (b *Bus) checkBlock(widthOK bool, n, width int) bool {
	if b.err != nil {
		return false
	}
	switch {
	case !widthOK:
		b.err = errBadWidth
	case n%width != 0:
		b.err = errBadLen
	}
	return b.err == nil
}
