package b43

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"log/slog"

	"github.com/soypat/b43/b43hw"
)

// PanicOutcome is what the driver does about a firmware panic.
type PanicOutcome uint8

const (
	// PanicDie leaves the device unusable. Restarting would panic again.
	PanicDie PanicOutcome = iota
	PanicRestart
)

func (p PanicOutcome) String() (s string) {
	switch p {
	case PanicDie:
		s = "die"
	case PanicRestart:
		s = "restart"
	default:
		s = "unknown"
	}
	return s
}

// panicOutcome maps a firmware panic reason. Unknown reasons are fatal.
func panicOutcome(reason uint16) PanicOutcome {
	if reason == b43hw.FWPANIC_RESTART {
		return PanicRestart
	}
	return PanicDie
}

// Poll runs due periodic work and services pending interrupts. It is the
// only place where TX completions and received frames are delivered.
func (d *Device) Poll(ctx context.Context) error {
	err := d.acquire()
	defer d.release()
	if err != nil {
		return err
	} else if err = ctx.Err(); err != nil {
		return err
	} else if d.status != StatusStarted {
		return ErrNotStarted
	} else if d.busy {
		return nil
	}
	if d.irqTopHalf() {
		d.irqBottomHalf()
	}
	return d.dead
}

// irqTopHalf latches and acknowledges the interrupt reasons. It returns
// false if there is nothing to service.
func (d *Device) irqTopHalf() bool {
	if !d.periodicDue.IsZero() && !d.clk.Now().Before(d.periodicDue) {
		d.periodicWork()
		if d.status != StatusStarted || d.dead != nil {
			return false
		}
	}
	reason := d.read32(b43hw.MMIO_GEN_IRQ_REASON)
	if reason == b43hw.IRQ_ALL {
		return false // Nothing on the bus, shared IRQ line.
	}
	reason &= d.irqMask
	if reason == 0 {
		return false
	}
	// DMA5 is unused.
	for i := 0; i < 5; i++ {
		d.dmaReason[i] = d.read32(b43hw.MMIO_DMA_REASON(i)) & b43hw.DMAReasonMasks[i]
	}
	d.write32(b43hw.MMIO_GEN_IRQ_REASON, reason)
	for i := 0; i < 5; i++ {
		d.write32(b43hw.MMIO_DMA_REASON(i), d.dmaReason[i])
	}
	d.write32(b43hw.MMIO_GEN_IRQ_MASK, 0)
	d.irqReason = reason
	d.trace("irq", slog.String("reason", hex32(reason)))
	return true
}

func (d *Device) irqBottomHalf() {
	if d.status != StatusStarted {
		return
	}
	// Restores the mask of whatever state handlers left the device in.
	defer func() {
		d.write32(b43hw.MMIO_GEN_IRQ_MASK, d.activeIRQMask())
	}()
	reason := d.irqReason
	dma := d.dmaReason
	var mergedDMA uint32
	for _, r := range dma {
		mergedDMA |= r
	}

	if reason&b43hw.IRQ_MAC_TXERR != 0 {
		d.logerr("MAC transmission error")
	}
	if reason&b43hw.IRQ_PHY_TXERR != 0 {
		d.stats.PHYTxErrors++
		d.debug("PHY transmission error")
		d.txerrCnt--
		if d.txerrCnt <= 0 {
			d.txerrCnt = d.cfg.PHYTxBadnessLimit
			d.logerr("too many PHY TX errors, restarting the controller")
			d.controllerRestart("PHY TX errors")
			if !d.running() {
				return
			}
		}
	}
	if mergedDMA&b43hw.DMAIRQ_FATALMASK != 0 {
		d.logerr("fatal DMA error", slog.String("dma0", hex32(dma[0])), slog.String("dma1", hex32(dma[1])),
			slog.String("dma2", hex32(dma[2])), slog.String("dma3", hex32(dma[3])),
			slog.String("dma4", hex32(dma[4])), slog.String("dma5", hex32(dma[5])))
		d.controllerRestart("DMA error")
		return
	}
	if reason&b43hw.IRQ_UCODE_DEBUG != 0 {
		d.handleUcodeDebug()
		if !d.running() {
			return
		}
	}
	if reason&b43hw.IRQ_TBTT_INDI != 0 {
		d.psCtlBits(psNormal)
	}
	if reason&b43hw.IRQ_ATIM_END != 0 && d.dfqValid {
		d.maskset32(b43hw.MMIO_MACCMD, 0xFFFFFFFF, b43hw.MACCMD_DFQ_VALID)
		d.dfqValid = false
	}
	if reason&b43hw.IRQ_PMQ != 0 {
		d.handlePMQ()
	}
	if reason&b43hw.IRQ_NOISESAMPLE_OK != 0 {
		d.handleNoise()
	}
	if dma[0]&b43hw.DMAIRQ_RDESC_UFLOW != 0 {
		d.warn("RX descriptor underrun")
	}
	if dma[0]&b43hw.DMAIRQ_RX_DONE != 0 {
		d.pioRx()
	}
	if reason&b43hw.IRQ_TX_OK != 0 {
		d.handleTxStatusIRQ()
	}
}

// running reports whether handlers may keep touching the hardware after
// a restart attempt.
func (d *Device) running() bool {
	return d.dead == nil && d.status == StatusStarted
}

func (d *Device) handlePMQ() {
	const maxPolls = 1000
	for i := 0; d.read32(b43hw.MMIO_PS_STATUS)&b43hw.PS_STATUS_PMQ_BUSY != 0; i++ {
		if i == maxPolls {
			d.warn("PMQ still busy")
			break
		}
		d.udelay(1)
	}
	// 16 bit write is correct here.
	d.write16(b43hw.MMIO_PS_STATUS, b43hw.PS_STATUS_PMQ_DONE)
}

func (d *Device) handleTxStatusIRQ() {
	for {
		v0 := d.read32(b43hw.MMIO_XMITSTAT_0)
		if v0&b43hw.XMITSTAT_VALID == 0 {
			return
		}
		v1 := d.read32(b43hw.MMIO_XMITSTAT_1)
		d.handleTxStatus(b43hw.DecodeTxStatus(v0, v1))
	}
}

func (d *Device) handleTxStatus(st b43hw.TxStatus) {
	if !st.Acked {
		d.stats.ACKFailures++
	}
	if st.RTSCount != 0 {
		if st.RTSCount == 0xF {
			d.stats.RTSFailures++
		} else {
			d.stats.RTSSuccesses++
		}
	}
	d.pioReconcile(st)
	d.phy.ops.TxPowerCheck(0)
}

func (d *Device) handleFirmwarePanic() {
	reason := d.shmRead16(b43hw.SHM_SCRATCH, b43hw.SHM_SC_FWPANIC)
	outcome := panicOutcome(reason)
	d.logerr("firmware panic", slog.Int("reason", int(reason)), slog.String("outcome", outcome.String()))
	switch outcome {
	case PanicRestart:
		d.controllerRestart("microcode panic")
	default:
		d.dead = errjoin(ErrUnusable, ErrFirmwareDied)
	}
}

// handleUcodeDebug serves debug requests of the open source firmware.
func (d *Device) handleUcodeDebug() {
	if d.fw.Flavor != FirmwareOpenSource {
		return
	}
	reason := d.shmRead16(b43hw.SHM_SCRATCH, b43hw.SHM_SC_DEBUGIRQ)
	dumps := d.debugging(DebugFirmware)
	switch reason {
	case b43hw.DEBUGIRQ_PANIC:
		d.handleFirmwarePanic()
		if d.dead != nil {
			return
		}
	case b43hw.DEBUGIRQ_DUMP_SHM:
		if !dumps {
			break
		}
		buf := make([]byte, 4096)
		for i := 0; i < len(buf); i += 2 {
			binary.LittleEndian.PutUint16(buf[i:], d.shmRead16(b43hw.SHM_SHARED, uint16(i)))
		}
		d.info("shared memory dump", slog.String("shm", hex.EncodeToString(buf)))
	case b43hw.DEBUGIRQ_DUMP_REGS:
		if !dumps {
			break
		}
		attrs := make([]slog.Attr, 64)
		for i := range attrs {
			attrs[i] = slog.String("r"+hex.EncodeToString([]byte{byte(i)}), hex16(d.shmRead16(b43hw.SHM_SCRATCH, uint16(i))))
		}
		d.info("microcode register dump", attrs...)
	case b43hw.DEBUGIRQ_MARKER:
		if !dumps {
			break
		}
		id := d.shmRead16(b43hw.SHM_SCRATCH, b43hw.SHM_SC_MARKER_ID)
		line := d.shmRead16(b43hw.SHM_SCRATCH, b43hw.SHM_SC_MARKER_LINE)
		d.info("firmware marker", slog.Int("id", int(id)), slog.Int("line", int(line)))
	default:
		d.debug("debug IRQ for unknown reason", slog.Int("reason", int(reason)))
	}
	if d.running() {
		// Lets the firmware continue.
		d.shmWrite16(b43hw.SHM_SCRATCH, b43hw.SHM_SC_DEBUGIRQ, b43hw.DEBUGIRQ_ACK)
	}
}

// noiseCalc holds an in-progress background noise measurement.
type noiseCalc struct {
	running   bool
	nrSamples int
	samples   [8][4]int8
}

// calculateLinkQuality starts a noise measurement on G-PHYs.
func (d *Device) calculateLinkQuality() {
	if d.phy.Type != b43hw.PHYTYPE_G || d.noise.running {
		return
	}
	d.noise.running = true
	d.noise.nrSamples = 0
	d.generateNoiseSample()
}

func (d *Device) generateNoiseSample() {
	d.jssiWrite(0x7F7F7F7F)
	d.maskset32(b43hw.MMIO_MACCMD, 0xFFFFFFFF, b43hw.MACCMD_BGNOISE)
}

func (d *Device) handleNoise() {
	if d.phy.Type != b43hw.PHYTYPE_G {
		return
	}
	if !d.noise.running {
		d.debug("noise sample without running measurement")
		return
	}
	var noise [4]byte
	binary.LittleEndian.PutUint32(noise[:], d.jssiRead())
	for _, n := range noise {
		if n == 0x7F {
			d.generateNoiseSample() // Not sampled yet.
			return
		}
	}
	nrssi := d.phy.ops.NRSSITable()
	i := d.noise.nrSamples
	for j, n := range noise {
		if len(nrssi) == 0 {
			d.noise.samples[i][j] = int8(n)
			continue
		}
		d.noise.samples[i][j] = nrssi[min(int(n), len(nrssi)-1)]
	}
	d.noise.nrSamples++
	if d.noise.nrSamples < len(d.noise.samples) {
		d.generateNoiseSample()
		return
	}

	var average int
	for i := range d.noise.samples {
		for _, s := range d.noise.samples[i] {
			average += int(s)
		}
	}
	average /= 8 * 4
	average *= 125
	average += 64
	average /= 128
	tmp := (d.shmRead16(b43hw.SHM_SHARED, b43hw.SHM_SH_NOISEINDEX) / 128) & 0x1F
	if tmp >= 8 {
		average += 2
	} else {
		average -= 25
	}
	if tmp == 8 {
		average -= 72
	} else {
		average -= 48
	}
	d.stats.LinkNoise = average
	d.noise.running = false
	d.debug("link noise", slog.Int("dBm", average))
}
