package fakehw

import "github.com/soypat/b43/b43hw"

func (c *Core) isTxData(off uint16) bool {
	if c.wide {
		return off == c.txBase+b43hw.PIO8_TXDATA
	}
	return off == c.txBase+b43hw.PIO_TXDATA
}

func (c *Core) isRxData(off uint16) bool {
	if c.wide {
		return off == c.rxBase+b43hw.PIO8_RXDATA
	}
	return off == c.rxBase+b43hw.PIO_RXDATA
}

// txctl latches a frame once the driver sets EOF.
func (c *Core) txctl(v, eof uint32) {
	if v&eof != 0 && len(c.txcur) > 0 {
		c.TxFrames = append(c.TxFrames, c.txcur)
		c.txcur = nil
	}
}

// txdata appends the byte lanes enabled in TXCTL.
func (c *Core) txdata(buf []byte) {
	if c.wide {
		ctl := c.get32(c.txBase + b43hw.PIO8_TXCTL)
		lanes := [4]uint32{b43hw.PIO8_TXCTL_0_7, b43hw.PIO8_TXCTL_8_15, b43hw.PIO8_TXCTL_16_23, b43hw.PIO8_TXCTL_24_31}
		for i := 0; i+4 <= len(buf); i += 4 {
			for j, lane := range lanes {
				if ctl&lane != 0 {
					c.txcur = append(c.txcur, buf[i+j])
				}
			}
		}
		return
	}
	ctl := c.get16(c.txBase + b43hw.PIO_TXCTL)
	for i := 0; i+2 <= len(buf); i += 2 {
		if ctl&b43hw.PIO_TXCTL_WRITELO != 0 {
			c.txcur = append(c.txcur, buf[i])
		}
		if ctl&b43hw.PIO_TXCTL_WRITEHI != 0 {
			c.txcur = append(c.txcur, buf[i+1])
		}
	}
}

// TxFrame splits captured frame i into its decoded descriptor and the
// 802.11 frame that followed it.
func (c *Core) TxFrame(i int) (hdr b43hw.TxHeader, frame []byte) {
	f := c.HdrFormat()
	raw := c.TxFrames[i]
	n := f.TxHeaderLen()
	return b43hw.DecodeTxHeader(raw, f), raw[n:]
}

// InjectRx queues a received frame behind an RX header and signals it
// through DMA engine 0. data starts at the PLCP header. A zero FrameLen is
// replaced by len(data).
func (c *Core) InjectRx(hdr b43hw.RxHeader, data []byte) {
	if hdr.FrameLen == 0 {
		hdr.FrameLen = uint16(len(data))
	}
	f := c.HdrFormat()
	raw := make([]byte, f.RxHeaderLen(), f.RxHeaderLen()+len(data)+4)
	hdr.Put(raw, f)
	raw = append(raw, data...)
	c.InjectRxRaw(raw)
}

// InjectRxRaw queues raw bytes as they would come out of the RX data port.
func (c *Core) InjectRxRaw(raw []byte) {
	c.rxq = append(c.rxq, raw)
	c.RaiseDMA(0, b43hw.DMAIRQ_RX_DONE)
}

// PendingRx returns the number of frames not yet taken by the driver.
func (c *Core) PendingRx() int {
	n := len(c.rxq)
	if c.rxcur != nil {
		n++
	}
	return n
}

func (c *Core) rxctl() uint32 {
	if c.rxcur != nil {
		if c.StallRx {
			return 0
		}
		return b43hw.PIO_RXCTL_DATARDY
	}
	if len(c.rxq) > 0 {
		return b43hw.PIO_RXCTL_FRAMERDY
	}
	return 0
}

func (c *Core) rxack(v uint32) {
	switch {
	case v&b43hw.PIO_RXCTL_FRAMERDY != 0:
		if c.rxcur == nil && len(c.rxq) > 0 {
			c.rxcur = c.rxq[0]
			c.rxq = c.rxq[1:]
			c.rxpos = 0
		}
	case v&b43hw.PIO_RXCTL_DATARDY != 0:
		// Driver discards the rest of the frame.
		c.rxcur = nil
	}
}

// rxdata streams the current frame. Reads past its end return zeros.
func (c *Core) rxdata(buf []byte) {
	clear(buf)
	if c.rxcur == nil {
		return
	}
	if c.rxpos < len(c.rxcur) {
		c.rxpos += copy(buf, c.rxcur[c.rxpos:])
	} else {
		c.rxpos += len(buf)
	}
	if c.rxpos >= len(c.rxcur) {
		c.rxcur = nil
	}
}
