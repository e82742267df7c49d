package b43

import (
	"log/slog"
	"strconv"

	"github.com/soypat/b43/b43hw"
)

const (
	pioTxSlots = 32
	// Queue indices of the single TX queue (best effort) and the RX queue.
	pioTxQueue = 1
	pioRxQueue = 0
	// Cap on frames drained per RX interrupt.
	pioRxMaxFrames = 10000
)

type pioTxPacket struct {
	frame []byte // Nil when the slot is free.
	total uint16 // Bytes accounted in bufferUsed.
}

// pio is the programmed I/O transfer engine. Frames are pushed through a
// data port register instead of being fetched by DMA.
type pio struct {
	txBase uint16
	rxBase uint16
	// wide is set on core revision 8 and later, which have a 32 bit data port.
	wide       bool
	bufferSize uint16
	bufferUsed uint16
	stopped    bool
	slots      [pioTxSlots]pioTxPacket
	// free is a stack of free slot indices. The lowest index is on top after init.
	free  [pioTxSlots]uint8
	nfree int

	txhdr [128]byte
	rxhdr [24]byte
	tail  [4]byte
	rxbuf [2 + b43hw.RX_MAX_FRAMELEN]byte
}

func (q *pio) reset() {
	q.bufferUsed = 0
	q.stopped = false
	for i := range q.slots {
		q.slots[i] = pioTxPacket{}
		q.free[i] = uint8(pioTxSlots - 1 - i)
	}
	q.nfree = pioTxSlots
}

func (q *pio) popSlot() uint8 {
	q.nfree--
	return q.free[q.nfree]
}

func (q *pio) pushSlot(slot uint8) {
	q.free[q.nfree] = slot
	q.nfree++
}

// pioCookie tags a TX descriptor so its status report can be matched to
// the slot. Neither 0 nor 0xFFFF are valid cookies.
func pioCookie(slot uint8) uint16 {
	return (pioTxQueue+1)<<12 | uint16(slot)
}

func pioParseCookie(cookie uint16) (slot uint8, ok bool) {
	if cookie>>12 != pioTxQueue+1 {
		return 0, false
	}
	idx := cookie & 0x0FFF
	if idx >= pioTxSlots {
		return 0, false
	}
	return uint8(idx), true
}

func pioQueueBase(coreRev uint8, idx int) uint16 {
	if coreRev >= 11 {
		return b43hw.PIO11_BASE[idx]
	}
	return b43hw.PIO_BASE[idx]
}

func (d *Device) pioInit() error {
	q := &d.pio
	rev := d.hw.CoreRev
	d.macctl(b43hw.MACCTL_BE, 0)
	d.shmWrite16(b43hw.SHM_SHARED, b43hw.SHM_SH_RXPADOFF, 0)

	q.wide = rev >= 8
	q.txBase = pioQueueBase(rev, pioTxQueue)
	q.rxBase = pioQueueBase(rev, pioRxQueue)
	if rev >= 11 {
		q.txBase += b43hw.PIO11_TXQ_OFFSET
		q.rxBase += b43hw.PIO11_RXQ_OFFSET
	} else {
		q.txBase += b43hw.PIO_TXQ_OFFSET
		q.rxBase += b43hw.PIO_RXQ_OFFSET
	}
	if q.wide {
		q.bufferSize = d.cfg.PIOBufferSize
	} else {
		size := d.read16(q.txBase + b43hw.PIO_TXQBUFSIZE)
		if size <= 80 {
			d.logerr("PIO TX buffer too small", slog.Int("size", int(size)))
			return &UnsupportedError{What: "PIO TX buffer size " + strconv.Itoa(int(size))}
		}
		q.bufferSize = size - 80
	}
	q.reset()
	d.dmaDirectFIFORx(0, true)
	d.debug("PIO init", slog.String("tx", hex16(q.txBase)), slog.String("rx", hex16(q.rxBase)),
		slog.Int("bufsize", int(q.bufferSize)))
	return nil
}

// dmaDirectFIFORx routes frames of DMA engine idx to its PIO RX queue.
func (d *Device) dmaDirectFIFORx(idx int, enable bool) {
	off := uint16(b43hw.DMA32_BASE + idx*b43hw.DMA32_ENGINE_SIZE + b43hw.DMA32_RXCTL)
	if d.hw.DMA64 {
		off = uint16(b43hw.DMA64_BASE + idx*b43hw.DMA64_ENGINE_SIZE + b43hw.DMA64_RXCTL)
	}
	var set uint32
	if enable {
		set = b43hw.DMA_RXCTL_DIRECTFIFO
	}
	d.maskset32(off, ^uint32(b43hw.DMA_RXCTL_DIRECTFIFO), set)
}

// pioAbortAll completes every queued frame with ErrTxAborted.
func (d *Device) pioAbortAll() {
	q := &d.pio
	for i := range q.slots {
		pk := &q.slots[i]
		if pk.frame == nil {
			continue
		}
		frame := pk.frame
		q.bufferUsed -= pk.total
		*pk = pioTxPacket{}
		q.pushSlot(uint8(i))
		d.net.TxComplete(frame, 0, ErrTxAborted)
	}
	q.stopped = false
}

func (d *Device) pioFree() {
	d.pioAbortAll()
	d.pio.reset()
}

// Submit queues an 802.11 frame for transmission. frame starts at the
// 802.11 header and excludes the FCS. The Device keeps frame until it is
// returned through NetStack.TxComplete, the caller must not modify it
// until then.
func (d *Device) Submit(frame []byte) error {
	err := d.acquire()
	defer d.release()
	if err != nil {
		return err
	} else if d.status != StatusStarted {
		return ErrNotStarted
	} else if len(frame) < b43hw.TX_MIN_FRAMELEN {
		return ErrFrameTooShort
	}
	return d.pioSubmit(frame)
}

func (d *Device) pioSubmit(frame []byte) error {
	q := &d.pio
	hdrlen := d.fw.HdrFormat.TxHeaderLen()
	rounded := alignup(uint(len(frame)+hdrlen), 4)
	if rounded > uint(q.bufferSize) {
		return &TxError{Kind: TooLarge, Len: int(rounded)}
	}
	total := uint16(rounded)
	if q.nfree == 0 {
		q.stopped = true
		return &TxError{Kind: NoSlots, Len: int(total)}
	}
	if total > q.bufferSize-q.bufferUsed {
		q.stopped = true
		return &TxError{Kind: Backpressure, Len: int(total)}
	}

	slot := q.free[q.nfree-1]
	hdr, err := d.buildTxHeader(frame, pioCookie(slot))
	if err != nil {
		return err
	}
	txhdr := q.txhdr[:hdrlen]
	hdr.Put(txhdr, d.fw.HdrFormat)
	if q.wide {
		d.pioTxWrite32(txhdr, frame)
	} else {
		d.pioTxWrite16(txhdr, frame)
	}
	q.popSlot()
	q.slots[slot] = pioTxPacket{frame: frame, total: total}
	q.bufferUsed += total
	// Stop early if not even a minimal frame would fit.
	minTotal := alignup(uint16(b43hw.TX_MIN_FRAMELEN+hdrlen), 4)
	if q.bufferSize-q.bufferUsed < minTotal || q.nfree == 0 {
		q.stopped = true
	}
	d.trace("PIO TX", slog.Int("slot", int(slot)), slog.Int("len", len(frame)), slog.Int("used", int(q.bufferUsed)))
	return nil
}

// pioTxWrite16 writes the frame through the 16 bit data port.
func (d *Device) pioTxWrite16(hdr, frame []byte) {
	q := &d.pio
	ctl := d.read16(q.txBase + b43hw.PIO_TXCTL)
	ctl |= b43hw.PIO_TXCTL_FREADY
	ctl &^= b43hw.PIO_TXCTL_EOF
	ctl = d.pioTxData16(ctl, hdr)
	ctl = d.pioTxData16(ctl, frame)
	ctl |= b43hw.PIO_TXCTL_EOF
	d.write16(q.txBase+b43hw.PIO_TXCTL, ctl)
}

func (d *Device) pioTxData16(ctl uint16, data []byte) uint16 {
	q := &d.pio
	ctl |= b43hw.PIO_TXCTL_WRITELO | b43hw.PIO_TXCTL_WRITEHI
	d.write16(q.txBase+b43hw.PIO_TXCTL, ctl)
	d.bus.WriteBlock(data[:len(data)&^1], q.txBase+b43hw.PIO_TXDATA, 2)
	if len(data)&1 != 0 {
		// Only the low byte lane carries data.
		ctl &^= b43hw.PIO_TXCTL_WRITEHI
		d.write16(q.txBase+b43hw.PIO_TXCTL, ctl)
		q.tail[0] = data[len(data)-1]
		q.tail[1] = 0
		d.bus.WriteBlock(q.tail[:2], q.txBase+b43hw.PIO_TXDATA, 2)
	}
	return ctl
}

// pioTxWrite32 writes the frame through the 32 bit data port.
func (d *Device) pioTxWrite32(hdr, frame []byte) {
	q := &d.pio
	ctl := d.read32(q.txBase + b43hw.PIO8_TXCTL)
	ctl |= b43hw.PIO8_TXCTL_FREADY
	ctl &^= b43hw.PIO8_TXCTL_EOF
	ctl = d.pioTxData32(ctl, hdr)
	ctl = d.pioTxData32(ctl, frame)
	ctl |= b43hw.PIO8_TXCTL_EOF
	d.write32(q.txBase+b43hw.PIO8_TXCTL, ctl)
}

func (d *Device) pioTxData32(ctl uint32, data []byte) uint32 {
	const lanes = b43hw.PIO8_TXCTL_0_7 | b43hw.PIO8_TXCTL_8_15 | b43hw.PIO8_TXCTL_16_23 | b43hw.PIO8_TXCTL_24_31
	q := &d.pio
	ctl |= lanes
	d.write32(q.txBase+b43hw.PIO8_TXCTL, ctl)
	n := len(data)
	d.bus.WriteBlock(data[:n&^3], q.txBase+b43hw.PIO8_TXDATA, 4)
	rem := n & 3
	if rem == 0 {
		return ctl
	}
	q.tail = [4]byte{}
	copy(q.tail[:], data[n-rem:])
	ctl &^= b43hw.PIO8_TXCTL_8_15 | b43hw.PIO8_TXCTL_16_23 | b43hw.PIO8_TXCTL_24_31
	switch rem {
	case 3:
		ctl |= b43hw.PIO8_TXCTL_16_23 | b43hw.PIO8_TXCTL_8_15
	case 2:
		ctl |= b43hw.PIO8_TXCTL_8_15
	}
	d.write32(q.txBase+b43hw.PIO8_TXCTL, ctl)
	d.bus.WriteBlock(q.tail[:], q.txBase+b43hw.PIO8_TXDATA, 4)
	return ctl
}

// pioReconcile returns the slot named by a TX status report to the queue
// and completes its frame.
func (d *Device) pioReconcile(st b43hw.TxStatus) {
	if st.Intermediate || st.ForAMPDU {
		return
	}
	q := &d.pio
	slot, ok := pioParseCookie(st.Cookie)
	if !ok || q.slots[slot].frame == nil {
		d.warn("TX status for unknown cookie", slog.String("cookie", hex16(st.Cookie)))
		return
	}
	pk := &q.slots[slot]
	frame := pk.frame
	q.bufferUsed -= pk.total
	*pk = pioTxPacket{}
	q.pushSlot(slot)
	q.stopped = false

	retries := max(int(st.FrameCount)-1, 0)
	var err error
	if !st.Acked {
		err = ErrTxNotAcked
	}
	d.net.TxComplete(frame, retries, err)
}

// pioRx drains the RX queue.
func (d *Device) pioRx() {
	for i := 0; d.pioRxFrame(); i++ {
		if i == pioRxMaxFrames {
			d.warn("PIO RX: frame limit reached")
			return
		}
	}
}

func (d *Device) pioRxCtl() uint32 {
	if d.pio.wide {
		return d.read32(d.pio.rxBase + b43hw.PIO8_RXCTL)
	}
	return uint32(d.read16(d.pio.rxBase + b43hw.PIO_RXCTL))
}

// pioRxAck writes a ready flag back. The 16 and 32 bit layouts share bits.
func (d *Device) pioRxAck(flag uint32) {
	if d.pio.wide {
		d.write32(d.pio.rxBase+b43hw.PIO8_RXCTL, flag)
	} else {
		d.write16(d.pio.rxBase+b43hw.PIO_RXCTL, uint16(flag))
	}
}

func (d *Device) pioRxRead(buf []byte) {
	if d.pio.wide {
		d.bus.ReadBlock(buf, d.pio.rxBase+b43hw.PIO8_RXDATA, 4)
	} else {
		d.bus.ReadBlock(buf, d.pio.rxBase+b43hw.PIO_RXDATA, 2)
	}
}

// pioRxFrame reads one frame from the RX queue. It returns false when no
// frame was pending.
func (d *Device) pioRxFrame() bool {
	q := &d.pio
	if d.pioRxCtl()&b43hw.PIO_RXCTL_FRAMERDY == 0 {
		return false
	}
	d.pioRxAck(b43hw.PIO_RXCTL_FRAMERDY)
	ready := false
	for i := 0; i < 10; i++ {
		if d.pioRxCtl()&b43hw.PIO_RXCTL_DATARDY != 0 {
			ready = true
			break
		}
		d.udelay(10)
	}
	if !ready {
		d.debug("PIO RX", slog.String("err", errRxTimeout.Error()))
		return true
	}

	f := d.fw.HdrFormat
	rxhdr := q.rxhdr[:f.RxHeaderLen()]
	clear(rxhdr)
	d.pioRxRead(rxhdr)
	hdr := b43hw.DecodeRxHeader(rxhdr, f)
	n := int(hdr.FrameLen)
	if n == 0 || n > b43hw.RX_MAX_FRAMELEN {
		return d.pioRxError(errRxFrameLen, n)
	}
	if hdr.MACStatus&b43hw.RX_MAC_FCSERR != 0 && !d.cfg.KeepBadFCS {
		d.stats.FCSErrors++
		return d.pioRxError(errRxFCS, n)
	}

	padding := 0
	if hdr.MACStatus&b43hw.RX_MAC_PADDING != 0 {
		padding = 2
	}
	buf := q.rxbuf[:n+padding]
	data := buf[padding:]
	width := 2
	if q.wide {
		width = 4
	}
	aligned := n &^ (width - 1)
	d.pioRxRead(data[:aligned])
	if rem := n - aligned; rem != 0 {
		d.pioRxRead(q.tail[:width])
		copy(data[aligned:], q.tail[:rem])
	}
	d.rxFrame(hdr, buf)
	return true
}

func (d *Device) pioRxError(err error, n int) bool {
	d.stats.RxDropped++
	d.debug("PIO RX error", slog.String("err", err.Error()), slog.Int("len", n))
	d.pioRxAck(b43hw.PIO_RXCTL_DATARDY)
	return true
}

// SuspendTx asks the hardware to hold the TX queue. The core is kept awake
// until ResumeTx.
func (d *Device) SuspendTx() error {
	err := d.acquire()
	defer d.release()
	if err != nil {
		return err
	} else if d.status < StatusInitialized {
		return ErrBadState
	}
	d.psCtlBits(psAwake)
	q := &d.pio
	if q.wide {
		d.maskset32(q.txBase+b43hw.PIO8_TXCTL, 0xFFFFFFFF, b43hw.PIO8_TXCTL_SUSPREQ)
	} else {
		d.maskset16(q.txBase+b43hw.PIO_TXCTL, 0xFFFF, b43hw.PIO_TXCTL_SUSPREQ)
	}
	return nil
}

// ResumeTx undoes SuspendTx.
func (d *Device) ResumeTx() error {
	err := d.acquire()
	defer d.release()
	if err != nil {
		return err
	} else if d.status < StatusInitialized {
		return ErrBadState
	}
	q := &d.pio
	if q.wide {
		d.maskset32(q.txBase+b43hw.PIO8_TXCTL, ^uint32(b43hw.PIO8_TXCTL_SUSPREQ), 0)
	} else {
		d.maskset16(q.txBase+b43hw.PIO_TXCTL, ^uint16(b43hw.PIO_TXCTL_SUSPREQ), 0)
	}
	d.psCtlBits(psNormal)
	return nil
}

// TxQueueState is a snapshot of the PIO TX queue accounting.
type TxQueueState struct {
	BufferSize uint16
	BufferUsed uint16
	FreeSlots  int
	InFlight   int
	Stopped    bool
}

// TxQueue returns the TX queue accounting.
func (d *Device) TxQueue() TxQueueState {
	d.mu.Lock()
	defer d.mu.Unlock()
	q := &d.pio
	st := TxQueueState{
		BufferSize: q.bufferSize,
		BufferUsed: q.bufferUsed,
		FreeSlots:  q.nfree,
		Stopped:    q.stopped,
	}
	// Counted from the slots so it can be checked against FreeSlots.
	for i := range q.slots {
		if q.slots[i].frame != nil {
			st.InFlight++
		}
	}
	return st
}
