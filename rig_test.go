package b43

import (
	"context"
	"testing"

	"github.com/soypat/b43/b43hw"
	"github.com/soypat/b43/internal/fakehw"
	"github.com/stretchr/testify/require"
)

type testHost struct {
	*fakehw.Backplane
	info HostInfo
}

func (h *testHost) Info() HostInfo { return h.info }

// rig is a Device wired to a register model of the core.
type rig struct {
	t     *testing.T
	core  *fakehw.Core
	host  *testHost
	clk   *fakehw.Clock
	stack *fakehw.Stack
	fw    MapSource
	dev   *Device
}

type rigOption func(*rigSetup)

type rigSetup struct {
	hw     fakehw.Config
	info   HostInfo
	cfg    Config
	flavor FirmwareFlavor
	noPCM  bool
}

func withHW(f func(*fakehw.Config)) rigOption { return func(s *rigSetup) { f(&s.hw) } }
func withInfo(f func(*HostInfo)) rigOption { return func(s *rigSetup) { f(&s.info) } }
func withConfig(f func(*Config)) rigOption { return func(s *rigSetup) { f(&s.cfg) } }
func withFlavor(flavor FirmwareFlavor) rigOption { return func(s *rigSetup) { s.flavor = flavor } }

func withoutPCM() rigOption { return func(s *rigSetup) { s.noPCM = true } }

// openSourceHW makes the modelled firmware look like the open source one.
func openSourceHW(hw *fakehw.Config) {
	hw.UcodeDate = 0xFFFF
	hw.FWCapa = b43hw.FWCAPA_HWCRYPTO
}

func newRig(t *testing.T, opts ...rigOption) *rig {
	t.Helper()
	s := rigSetup{hw: fakehw.DefaultConfig(), cfg: DefaultConfig()}
	s.info = HostInfo{ChipID: 0x4318, ChipRev: 2, Have2GHz: true}
	for _, opt := range opts {
		opt(&s)
	}
	s.info.CoreRev = s.hw.CoreRev

	r := &rig{
		t:     t,
		core:  fakehw.New(s.hw),
		clk:   fakehw.NewClock(),
		stack: &fakehw.Stack{},
	}
	r.host = &testHost{Backplane: fakehw.NewBackplane(r.core), info: s.info}
	phyType := uint8((s.hw.PHYVer & b43hw.PHYVER_TYPE) >> b43hw.PHYVER_TYPE_SHIFT)
	if phyType == b43hw.PHYTYPE_LCNXN {
		phyType = b43hw.PHYTYPE_N
	}
	r.fw = MapSource{}
	if set, err := SelectFirmware(s.hw.CoreRev, phyType); err == nil {
		// Hardware without firmware is left for Attach to reject.
		if s.noPCM {
			set.PCM = ""
		}
		r.fw = MapSource(fakehw.Files(s.flavor.Dir(), set.Ucode, set.PCM, set.Initvals, set.BandInitvals))
	}
	s.cfg.Clock = r.clk
	s.cfg.Firmware = r.fw
	s.cfg.MAC = [6]byte{0x00, 0x90, 0x4C, 0x01, 0x02, 0x03}
	r.dev = New(r.core, r.host, r.stack, nil, s.cfg)
	return r
}

func (r *rig) attach() *rig {
	r.t.Helper()
	require.NoError(r.t, r.dev.Attach())
	return r
}

func (r *rig) init() *rig {
	r.t.Helper()
	r.attach()
	require.NoError(r.t, r.dev.Init())
	return r
}

func (r *rig) start() *rig {
	r.t.Helper()
	r.init()
	require.NoError(r.t, r.dev.Start())
	return r
}

func (r *rig) poll() {
	r.t.Helper()
	require.NoError(r.t, r.dev.Poll(context.Background()))
}

// testFrame returns a data frame of n bytes addressed to a fixed receiver.
func testFrame(n int, dur uint16) []byte {
	f := make([]byte, n)
	f[0] = 0x08 // Data.
	f[2] = byte(dur)
	f[3] = byte(dur >> 8)
	copy(f[4:10], []byte{0x02, 0x11, 0x22, 0x33, 0x44, 0x55})
	if n >= 16 {
		copy(f[10:16], []byte{0x00, 0x90, 0x4C, 0x01, 0x02, 0x03})
	}
	for i := 24; i < n; i++ {
		f[i] = byte(i)
	}
	return f
}

// sentCookie returns the cookie of the i'th frame the core captured.
func (r *rig) sentCookie(i int) uint16 {
	hdr, _ := r.core.TxFrame(i)
	return hdr.Cookie
}

func (r *rig) ack(cookie uint16, tries uint8, acked bool) {
	r.core.PushTxStatus(b43hw.TxStatus{Cookie: cookie, FrameCount: tries, Acked: acked})
}
