package b43

import (
	"log/slog"

	"github.com/soypat/b43/b43hw"
)

// periodicWork runs one tick of the housekeeping schedule and arms the
// next one. Ticks are Config.PeriodicInterval apart, nominally 15s.
func (d *Device) periodicWork() {
	if d.status != StatusStarted {
		return
	}
	state := d.periodicState
	if state%4 == 0 {
		d.periodicEvery60s()
	}
	if state%2 == 0 {
		d.calculateLinkQuality()
	}
	if !d.periodicEvery15s() {
		return // Restarted.
	}
	d.periodicState++
	d.periodicDue = d.clk.Now().Add(d.cfg.PeriodicInterval)
}

func (d *Device) periodicEvery60s() {
	d.phy.ops.PWork60()
	d.phy.ops.TxPowerCheck(TxPowerIgnoreTime)
}

// periodicEvery15s returns false if the firmware watchdog fired.
func (d *Device) periodicEvery15s() bool {
	if d.fw.Flavor == FirmwareOpenSource {
		// The firmware clears the watchdog in its idle loop.
		wdr := d.shmRead16(b43hw.SHM_SCRATCH, b43hw.SHM_SC_WATCHDOG)
		if wdr != 0 {
			d.logerr("firmware watchdog: the firmware died", slog.Int("wdr", int(wdr)))
			d.controllerRestart("firmware watchdog")
			return false
		}
		d.shmWrite16(b43hw.SHM_SCRATCH, b43hw.SHM_SC_WATCHDOG, 1)
	}
	d.phy.ops.PWork15()
	d.txerrCnt = d.cfg.PHYTxBadnessLimit
	d.trace("periodic", slog.Uint64("state", uint64(d.periodicState)))
	return true
}
