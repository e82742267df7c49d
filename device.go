package b43

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/soypat/b43/b43hw"
	"golang.org/x/exp/constraints"
)

// Status is the bring-up state of a Device.
type Status uint8

const (
	StatusUninit Status = iota
	StatusInitialized
	StatusStarted
)

func (s Status) String() (str string) {
	switch s {
	case StatusUninit:
		str = "uninit"
	case StatusInitialized:
		str = "initialized"
	case StatusStarted:
		str = "started"
	default:
		str = "invalid"
	}
	return str
}

// Stats are counters kept by the driver. Corrupted frames are counted
// here and never returned as errors.
type Stats struct {
	// LinkNoise is the last averaged background noise sample in dBm.
	LinkNoise     int
	FCSErrors     uint32
	DecryptErrors uint32
	RxDropped     uint32
	RxFrames      uint32
	ACKFailures   uint32
	RTSFailures   uint32
	RTSSuccesses  uint32
	PHYTxErrors   uint32
	Restarts      uint32
}

type Config struct {
	Logger *slog.Logger
	Debug  DebugFlags
	// Clock is used for every busy-wait and for periodic scheduling.
	Clock    Clock
	Firmware FirmwareSource
	MAC      [6]byte
	// BoardFlags overrides HostInfo.BoardFlags when non-zero.
	BoardFlags uint16

	PeriodicInterval time.Duration
	PowerupDelay     uint16
	// PIOBufferSize is the TX queue buffer size of cores with revision 8
	// and later. Older cores report it in a register.
	PIOBufferSize     uint16
	PHYTxBadnessLimit int
	ShortRetryLimit   uint8
	LongRetryLimit    uint8
	// KeepBadFCS and KeepBadPLCP deliver frames the hardware flagged.
	KeepBadFCS  bool
	KeepBadPLCP bool

	// Duration returns the airtime in microseconds of a frame of the given
	// size. Used for fallback and protection frame durations.
	Duration func(bytes int, bitrate uint16, ghz5, shortPreamble bool) uint16
	PHY      PHYOpsFunc
}

func DefaultConfig() Config {
	return Config{
		Clock:             sysClock{},
		PeriodicInterval:  15 * time.Second,
		PowerupDelay:      0x0E74,
		PIOBufferSize:     1920,
		PHYTxBadnessLimit: 1000,
		ShortRetryLimit:   7,
		LongRetryLimit:    4,
		Duration:          b43hw.Airtime,
		PHY:               GenericPHY,
	}
}

// Device drives one b43 802.11 core. Methods are safe for concurrent use,
// NetStack callbacks run with the device locked and must not call back
// into the Device.
type Device struct {
	mu            sync.Mutex
	bus           Bus
	host          Host
	net           NetStack
	clk           Clock
	cfg           Config
	logger        *slog.Logger
	_traceenabled bool
	hw            HostInfo
	idx           int

	status   Status
	attached bool
	// busy is set while a transition runs from inside Poll.
	busy bool
	// dead is non-nil once the device is unusable.
	dead error

	irqEnabled   bool
	irqMask      uint32
	irqReason    uint32
	dmaReason    [6]uint32
	macSuspended int
	txerrCnt     int
	dfqValid     bool

	periodicState uint
	periodicDue   time.Time // Zero when not scheduled.
	noise         noiseCalc

	stats Stats
	fw    firmware
	phy   phy
	pio   pio
	link  Link

	// brates is the basic rate bitmap last written to the rate maps.
	brates uint32
	ktp    uint16 // Key table pointer, byte offset in SHM_SHARED.
}

// New returns a Device bound to its collaborators. reg hands out the device
// index and may be shared by several devices. Zero Config fields take the
// DefaultConfig value.
func New(bus Bus, host Host, net NetStack, reg *Registry, cfg Config) *Device {
	def := DefaultConfig()
	if cfg.Clock == nil {
		cfg.Clock = def.Clock
	}
	if cfg.Firmware == nil {
		cfg.Firmware = MapSource(nil)
	}
	if cfg.PeriodicInterval <= 0 {
		cfg.PeriodicInterval = def.PeriodicInterval
	}
	if cfg.Debug&DebugFastPeriodic != 0 {
		cfg.PeriodicInterval = 50 * time.Millisecond
	}
	if cfg.PowerupDelay == 0 {
		cfg.PowerupDelay = def.PowerupDelay
	}
	if cfg.PIOBufferSize == 0 {
		cfg.PIOBufferSize = def.PIOBufferSize
	}
	if cfg.PHYTxBadnessLimit <= 0 {
		cfg.PHYTxBadnessLimit = def.PHYTxBadnessLimit
	}
	if cfg.ShortRetryLimit == 0 {
		cfg.ShortRetryLimit = def.ShortRetryLimit
	}
	if cfg.LongRetryLimit == 0 {
		cfg.LongRetryLimit = def.LongRetryLimit
	}
	cfg.ShortRetryLimit = min(cfg.ShortRetryLimit, 0xF)
	cfg.LongRetryLimit = min(cfg.LongRetryLimit, 0xF)
	if cfg.Duration == nil {
		cfg.Duration = def.Duration
	}
	if cfg.PHY == nil {
		cfg.PHY = def.PHY
	}
	d := &Device{
		bus:        bus,
		host:       host,
		net:        net,
		clk:        cfg.Clock,
		cfg:        cfg,
		logger:     cfg.Logger,
		irqEnabled: true,
	}
	d._traceenabled = d.logger != nil && d.logger.Handler().Enabled(context.Background(), levelTrace)
	if reg != nil {
		d.idx = reg.Register()
	}
	return d
}

func (d *Device) acquire() error {
	d.mu.Lock()
	return d.dead
}

func (d *Device) release() {
	d.mu.Unlock()
}

// Status returns the bring-up state.
func (d *Device) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

// Stats returns a snapshot of the driver counters.
func (d *Device) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// Index returns the index assigned by the Registry.
func (d *Device) Index() int { return d.idx }

// FirmwareInfo describes the microcode loaded by the last successful Init.
func (d *Device) FirmwareInfo() FirmwareInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fw.FirmwareInfo
}

// PHY returns the PHY and radio identified by Attach.
func (d *Device) PHY() PHYInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.phy.PHYInfo
}

// TSF returns the hardware timing synchronization function counter.
func (d *Device) TSF() (uint64, error) {
	err := d.acquire()
	defer d.release()
	if err != nil {
		return 0, err
	} else if d.status < StatusInitialized {
		return 0, ErrBadState
	}
	return d.tsfRead(), nil
}

// Attach identifies the PHY and radio and the supported bands. It leaves
// the core disabled and powered down.
func (d *Device) Attach() (err error) {
	err = d.acquire()
	defer d.release()
	if err != nil {
		return err
	} else if d.attached || d.status != StatusUninit {
		return ErrBadState
	}
	d.hw = d.host.Info()
	if d.cfg.BoardFlags != 0 {
		d.hw.BoardFlags = d.cfg.BoardFlags
	}
	d.debug("attach", slog.String("chip", hex16(d.hw.ChipID)), slog.Int("corerev", int(d.hw.CoreRev)))
	err = d.host.PowerUp(false)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			d.phy.ops = nil
			d.host.PowerMayDown()
		}
	}()

	d.phy.gmode = d.hw.Have2GHz
	d.coreReset(d.phy.gmode)
	err = d.phyVersioning()
	if err != nil {
		return err
	}
	have2GHz, have5GHz := supportedBands(d.hw.DeviceID, d.phy.Type)
	if have5GHz {
		switch d.phy.Type {
		case b43hw.PHYTYPE_A, b43hw.PHYTYPE_G, b43hw.PHYTYPE_LP, b43hw.PHYTYPE_HT:
			d.warn("5GHz band is unsupported on this PHY", slog.String("phy", phyName(d.phy.Type)))
			have5GHz = false
		}
	}
	if !have2GHz && !have5GHz {
		d.logerr("no supported bands")
		return &UnsupportedError{What: "device, no usable band"}
	}
	d.phy.ops = d.cfg.PHY(d.bus, d.phy.PHYInfo)
	d.phy.supports2GHz = have2GHz
	d.phy.supports5GHz = have5GHz
	d.phy.gmode = have2GHz
	d.coreReset(d.phy.gmode)

	err = d.validateChipaccess()
	if err != nil {
		return err
	}
	d.phy.ops.SwitchAnalog(false)
	d.host.CoreDisable()
	d.host.PowerMayDown()

	d.link.Band = d.phy.band()
	if d.link.Channel == 0 {
		d.link.Channel = d.link.Band.DefaultChannel()
	}
	d.attached = true
	d.info("attached", slog.Bool("2ghz", have2GHz), slog.Bool("5ghz", have5GHz))
	return nil
}

// Init loads firmware and initializes the core. The device must be attached.
func (d *Device) Init() (err error) {
	err = d.acquire()
	defer d.release()
	if err != nil {
		return err
	} else if !d.attached || d.status != StatusUninit {
		return ErrBadState
	}
	d.info("Init:start")
	start := d.clk.Now()
	err = d.coreInit()
	if err != nil {
		return err
	}
	d.info("Init:done", slog.Duration("took", d.clk.Now().Sub(start)))
	return nil
}

// Start enables the MAC and interrupts and runs the first periodic pass.
func (d *Device) Start() error {
	err := d.acquire()
	defer d.release()
	if err != nil {
		return err
	} else if d.status != StatusInitialized {
		return ErrBadState
	}
	d.coreStart()
	return nil
}

// Stop masks interrupts, aborts queued frames and suspends the MAC.
func (d *Device) Stop() error {
	err := d.acquire()
	defer d.release()
	if err != nil {
		return err
	} else if d.status != StatusStarted {
		return ErrNotStarted
	}
	d.coreStop()
	return nil
}

// Exit shuts the core down. The device must be stopped first.
func (d *Device) Exit() error {
	err := d.acquire()
	defer d.release()
	if err != nil {
		return err
	} else if d.status != StatusInitialized {
		return ErrBadState
	}
	d.coreExit()
	return nil
}

// HardReset tears the core down and brings it back to the state it was in.
// If bring-up fails the device becomes unusable and a *ResetError is returned.
func (d *Device) HardReset(reason string) error {
	err := d.acquire()
	defer d.release()
	if err != nil {
		return err
	}
	return d.chipReset(reason)
}

// SetIRQ enables or disables interrupt delivery. It takes effect
// immediately when the device is started.
func (d *Device) SetIRQ(enable bool) error {
	err := d.acquire()
	defer d.release()
	if err != nil {
		return err
	}
	d.irqEnabled = enable
	if d.status == StatusStarted {
		d.write32(b43hw.MMIO_GEN_IRQ_MASK, d.activeIRQMask())
	}
	return nil
}

// activeIRQMask is the value GEN_IRQ_MASK should hold outside the IRQ path.
func (d *Device) activeIRQMask() uint32 {
	if !d.irqEnabled || d.dead != nil || d.status != StatusStarted {
		return 0
	}
	return d.irqMask
}

func (d *Device) setupStructsForInit() {
	d.dfqValid = false
	d.brates = 0
	d.stats = Stats{}
	d.txerrCnt = d.cfg.PHYTxBadnessLimit
	d.irqReason = 0
	d.dmaReason = [6]uint32{}
	d.irqMask = b43hw.IRQ_MASKTEMPLATE
	if !d.debugging(DebugVerbose) {
		d.irqMask &^= b43hw.IRQ_PHY_TXERR
	}
	d.macSuspended = 1
	d.noise = noiseCalc{}
}

func (d *Device) coreInit() (err error) {
	// Firmware is resolved before the first register write so that a
	// broken file leaves the hardware untouched.
	err = d.requestFirmware()
	if err != nil {
		return err
	}
	err = d.host.PowerUp(false)
	if err != nil {
		return err
	}
	chipUp := false
	defer func() {
		if err != nil {
			if chipUp {
				d.chipExit()
			}
			// A retry must start from a freshly reset core.
			d.host.CoreDisable()
			d.host.PowerMayDown()
			d.status = StatusUninit
		}
	}()
	if !d.host.CoreEnabled() {
		d.coreReset(d.phy.gmode)
	}
	d.setupStructsForInit()
	d.phy.ops.PrepareStructs()
	err = d.host.EnableIRQRouting(true)
	if err != nil {
		return err
	}
	err = d.phy.ops.PrepareHardware()
	if err != nil {
		return err
	}
	err = d.validateChipaccess()
	if err != nil {
		return err
	}
	err = d.chipInit()
	if err != nil {
		return err
	}
	chipUp = true

	d.shmWrite16(b43hw.SHM_SHARED, b43hw.SHM_SH_WLCOREREV, uint16(d.hw.CoreRev))
	d.setupHostflags()
	if d.hw.CoreRev >= 13 {
		hwcap := d.read32(b43hw.MMIO_MAC_HW_CAP)
		d.shmWrite16(b43hw.SHM_SHARED, b43hw.SHM_SH_MACHW_L, uint16(hwcap))
		d.shmWrite16(b43hw.SHM_SHARED, b43hw.SHM_SH_MACHW_H, uint16(hwcap>>16))
	}
	d.setRetryLimits(d.cfg.ShortRetryLimit, d.cfg.LongRetryLimit)
	d.shmWrite16(b43hw.SHM_SHARED, b43hw.SHM_SH_SFFBLIM, 3)
	d.shmWrite16(b43hw.SHM_SHARED, b43hw.SHM_SH_LFFBLIM, 2)
	// Disable sending probe responses from firmware.
	d.shmWrite16(b43hw.SHM_SHARED, b43hw.SHM_SH_PRMAXTIME, 1)

	d.rateMemoryInit()
	d.setPHYTxControlDefaults()
	if d.phy.Type == b43hw.PHYTYPE_B {
		d.shmWrite16(b43hw.SHM_SCRATCH, b43hw.SHM_SC_MINCONT, 0x1F)
	} else {
		d.shmWrite16(b43hw.SHM_SCRATCH, b43hw.SHM_SC_MINCONT, 0xF)
	}
	d.shmWrite16(b43hw.SHM_SCRATCH, b43hw.SHM_SC_MAXCONT, 0x3FF)
	d.shmWrite16(b43hw.SHM_SHARED, b43hw.SHM_SH_PHYTYPE, uint16(d.phy.Type))
	d.shmWrite16(b43hw.SHM_SHARED, b43hw.SHM_SH_PHYVER, uint16(d.phy.Rev))

	err = d.pioInit()
	if err != nil {
		return err
	}
	d.qosInit()
	d.setPretbtt()
	d.setSynthPUDelay(true)

	err = d.host.PowerUp(d.hw.BoardFlags&b43hw.BFL_XTAL_NOSLOW == 0)
	if err != nil {
		return err
	}
	d.uploadCardMACAddress()
	d.securityInit()
	d.status = StatusInitialized
	return nil
}

func (d *Device) coreStart() {
	if d.hw.CoreRev >= 5 {
		d.drainTxStatus()
	}
	d.status = StatusStarted
	d.macEnable()
	d.write32(b43hw.MMIO_GEN_IRQ_MASK, d.activeIRQMask())
	d.periodicState = 0
	d.periodicWork()
	d.info("started", slog.String("phy", phyName(d.phy.Type)), slog.Int("channel", int(d.phy.channel)))
}

func (d *Device) coreStop() {
	d.status = StatusInitialized
	d.periodicDue = time.Time{}
	d.write32(b43hw.MMIO_GEN_IRQ_MASK, 0)
	d.read32(b43hw.MMIO_GEN_IRQ_MASK) // Flush.
	d.pioAbortAll()
	d.macSuspend()
	d.debug("stopped")
}

func (d *Device) coreExit() {
	d.status = StatusUninit
	d.macctl(b43hw.MACCTL_PSM_RUN, b43hw.MACCTL_PSM_JMP0)
	d.pioFree()
	d.chipExit()
	d.phy.ops.SwitchAnalog(false)
	d.host.CoreDisable()
	d.host.PowerMayDown()
	d.debug("exited")
}

// chipReset walks the core down and back up to its previous status.
func (d *Device) chipReset(reason string) error {
	prev := d.status
	restarts := d.stats.Restarts
	d.busy = true
	defer func() { d.busy = false }()
	d.info("hard reset", slog.String("reason", reason), slog.String("status", prev.String()))
	if prev >= StatusStarted {
		d.coreStop()
	}
	if prev >= StatusInitialized {
		d.coreExit()
	}
	var err error
	if prev >= StatusInitialized {
		err = d.coreInit()
	}
	if err == nil && prev >= StatusStarted {
		d.coreStart()
	}
	if err != nil {
		d.dead = ErrUnusable
		d.logerr("controller restart failed", slog.String("reason", reason), slog.String("err", err.Error()))
		return &ResetError{Reason: reason, Err: err}
	}
	d.stats.Restarts = restarts + 1
	if d.status == StatusStarted {
		err = d.configure(ChangeAll, d.link)
		if err != nil {
			d.warn("restoring link configuration failed", slog.String("err", err.Error()))
		}
	}
	d.info("controller restarted")
	return nil
}

// controllerRestart is used by failure detectors. Requests before Init
// are ignored.
func (d *Device) controllerRestart(reason string) {
	if d.status < StatusInitialized {
		d.debug("restart ignored", slog.String("reason", reason))
		return
	}
	d.chipReset(reason)
}

// alignup rounds `val` up to nearest multiple of `alignup`. `alignup` must be a power of 2.
func alignup[T constraints.Unsigned](val, align T) T {
	return (val + align - 1) &^ (align - 1)
}

// isaligned checks if `val` is wholly divisible by `align`. `align` must be a power of 2.
func isaligned[T constraints.Unsigned](val, align T) bool {
	return val&(align-1) == 0
}
