package fakehw

import (
	"errors"
	"time"

	"github.com/soypat/b43/b43hw"
)

// Backplane models the power and reset controls of the core. It provides
// every host method except Info, which tests add with their own HostInfo.
type Backplane struct {
	Core *Core

	Powered    bool
	PowerUps   int
	Enabled    bool
	Resets     int
	Flags      uint32
	IRQRouting bool
	GPIO       uint32
	// PowerErr is returned by PowerUp when set.
	PowerErr error
}

// NewBackplane returns a powered down backplane for core.
func NewBackplane(core *Core) *Backplane {
	return &Backplane{Core: core}
}

func (b *Backplane) PowerUp(dynamicPLL bool) error {
	if b.PowerErr != nil {
		return b.PowerErr
	}
	b.Powered = true
	b.PowerUps++
	return nil
}

func (b *Backplane) PowerMayDown() { b.Powered = false }

func (b *Backplane) CoreReset(flags uint32) {
	b.Resets++
	b.Flags = flags
	b.Enabled = true
	b.Core.Reset()
}

func (b *Backplane) CoreDisable() { b.Enabled = false }

func (b *Backplane) CoreEnabled() bool { return b.Enabled }

func (b *Backplane) SetCoreFlags(mask, set uint32) {
	b.Flags = b.Flags&^mask | set
}

var errNotPowered = errors.New("fakehw: IRQ routing on powered down core")

func (b *Backplane) EnableIRQRouting(enable bool) error {
	if enable && !b.Powered {
		return errNotPowered
	}
	b.IRQRouting = enable
	return nil
}

func (b *Backplane) GPIOControl(mask, set uint32) {
	b.GPIO = b.GPIO&^mask | set
}

// Clock is a virtual clock. Sleep advances it without blocking.
type Clock struct {
	now    time.Time
	Slept  time.Duration
	Sleeps int
}

func NewClock() *Clock {
	return &Clock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *Clock) Now() time.Time { return c.now }

func (c *Clock) Sleep(d time.Duration) {
	c.now = c.now.Add(d)
	c.Slept += d
	c.Sleeps++
}

// Advance moves the clock forward without counting a sleep.
func (c *Clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

// RxFrame is a frame delivered to the stack.
type RxFrame struct {
	Frame   []byte
	Signal  int
	Bitrate uint16
}

// TxDone is a completed transmission.
type TxDone struct {
	Frame   []byte
	Retries int
	Err     error
}

// Stack records what the driver hands to the network stack.
type Stack struct {
	Rx []RxFrame
	Tx []TxDone
}

func (s *Stack) FrameReceived(frame []byte, signal int, bitrate uint16) {
	s.Rx = append(s.Rx, RxFrame{Frame: append([]byte(nil), frame...), Signal: signal, Bitrate: bitrate})
}

func (s *Stack) TxComplete(frame []byte, retries int, err error) {
	s.Tx = append(s.Tx, TxDone{Frame: frame, Retries: retries, Err: err})
}

// Blob prefixes payload with a version 1 firmware header. size is the
// header size field.
func Blob(typ b43hw.FwType, size uint32, payload []byte) []byte {
	blob := make([]byte, b43hw.FW_HEADER_LEN, b43hw.FW_HEADER_LEN+len(payload))
	b43hw.FwHeader{Type: typ, Version: 1, Size: size}.Put(blob)
	return append(blob, payload...)
}

// UcodeBlob returns a microcode or PCM file holding payload.
func UcodeBlob(typ b43hw.FwType, payload []byte) []byte {
	return Blob(typ, uint32(len(payload)), payload)
}

// InitvalsBlob returns an initvals file with the given records.
func InitvalsBlob(ivs ...b43hw.Initval) []byte {
	return Blob(b43hw.FW_TYPE_IV, uint32(len(ivs)), b43hw.AppendInitvals(nil, ivs))
}

// Initvals written by the files of Files, for tests to check.
var (
	InitvalsRecords = []b43hw.Initval{
		{Offset: 0x0500, Value: 0x1234},
		{Offset: 0x0508, Is32: true, Value: 0xDEADBEEF},
	}
	BandInitvalsRecords = []b43hw.Initval{
		{Offset: 0x0510, Value: 0x0042},
	}
)

// Files returns a firmware directory dir ("b43" or "b43-open") holding
// the named files. An empty pcm name leaves the PCM file out.
func Files(dir, ucode, pcm, initvals, bandInitvals string) map[string][]byte {
	files := map[string][]byte{
		dir + "/" + ucode + ".fw":        UcodeBlob(b43hw.FW_TYPE_UCODE, []byte{0x00, 0x01, 0x02, 0x03, 0xDE, 0xAD, 0xBE, 0xEF}),
		dir + "/" + initvals + ".fw":     InitvalsBlob(InitvalsRecords...),
		dir + "/" + bandInitvals + ".fw": InitvalsBlob(BandInitvalsRecords...),
	}
	if pcm != "" {
		files[dir+"/"+pcm+".fw"] = UcodeBlob(b43hw.FW_TYPE_PCM, []byte{0xCA, 0xFE, 0xBA, 0xBE})
	}
	return files
}
