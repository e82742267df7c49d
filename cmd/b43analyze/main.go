package main

import (
	"bytes"
	"encoding/binary"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/soypat/b43/b43hw"
	"github.com/soypat/b43/spibridge"
	"github.com/soypat/saleae"
	"github.com/soypat/saleae/analyzers"
)

// Filter selects which bridge transactions are printed.
type Filter struct {
	OmitRead     bool
	OmitWrite    bool
	OmitFIFO     bool
	OmitReadData bool
}

func main() {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})
	slog.SetDefault(slog.New(handler))
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "b43analyze - Decode Saleae digital captures of the b43 SPI register bridge.\n\tUsage:\n")
		flag.PrintDefaults()
	}
	mosi := flag.String("f-mosi", "digital_1.bin", "Input filename: SPI MOSI data.")
	miso := flag.String("f-miso", "", "Input filename: SPI MISO data. Read data is omitted if empty.")
	cs := flag.String("f-cs", "digital_0.bin", "Input filename: SPI CS data.")
	clk := flag.String("f-clk", "digital_2.bin", "Input filename: SPI clock data.")
	output := flag.String("o", "", "Output filename of register accesses. Defaults to stdout.")
	var filter Filter
	flag.BoolVar(&filter.OmitRead, "omit-read", false, "Omit read accesses.")
	flag.BoolVar(&filter.OmitWrite, "omit-write", false, "Omit write accesses.")
	flag.BoolVar(&filter.OmitFIFO, "omit-fifo", false, "Omit data port streaming.")
	flag.BoolVar(&filter.OmitReadData, "omit-read-data", false, "Omit read data.")
	flag.Parse()
	if filter.OmitRead && filter.OmitWrite {
		slog.Error("cannot omit both read and write accesses")
		os.Exit(1)
	}
	start := time.Now()
	if err := run(*mosi, *miso, *cs, *clk, *output, filter); err != nil {
		slog.Error("analyze failed", slog.String("err", err.Error()))
		os.Exit(1)
	}
	slog.Info("finished", slog.Duration("elapsed", time.Since(start)))
}

func run(fmosi, fmiso, fcs, fclk, output string, filter Filter) error {
	frames, err := scanFiles(fmosi, fmiso, fcs, fclk)
	if err != nil {
		return err
	}
	var w io.Writer = os.Stdout
	if output != "" {
		fp, err := os.Create(output)
		if err != nil {
			return err
		}
		defer fp.Close()
		w = fp
	}
	accesses := decode(frames)
	slog.Info("decoded", slog.Int("frames", len(frames)), slog.Int("accesses", len(accesses)))
	return filter.print(w, accesses)
}

// frame is one chip select assertion.
type frame struct {
	MOSI  []byte
	MISO  []byte
	Start float64
}

func scanFiles(fmosi, fmiso, fcs, fclk string) ([]frame, error) {
	clk, err := opendigital(fclk)
	if err != nil {
		return nil, err
	}
	cs, err := opendigital(fcs)
	if err != nil {
		return nil, err
	}
	mosi, err := opendigital(fmosi)
	if err != nil {
		return nil, err
	}
	spi := analyzers.SPI{}
	txs, _ := spi.Scan(clk, cs, mosi, mosi)
	frames := make([]frame, len(txs))
	for i, tx := range txs {
		frames[i] = frame{MOSI: tx.SDO, Start: tx.StartTime()}
	}
	if fmiso == "" {
		return frames, nil
	}
	miso, err := opendigital(fmiso)
	if err != nil {
		return nil, err
	}
	rxs, _ := spi.Scan(clk, cs, miso, miso)
	if len(rxs) != len(txs) {
		slog.Warn("MISO and MOSI transaction count differ", slog.Int("mosi", len(txs)), slog.Int("miso", len(rxs)))
	}
	for i := range frames {
		if i < len(rxs) {
			frames[i].MISO = rxs[i].SDO
		}
	}
	return frames, nil
}

func opendigital(filename string) (*saleae.DigitalFile, error) {
	fp, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer fp.Close()
	return saleae.ReadDigitalFile(fp)
}

// access is a decoded bridge transaction. Repeated identical accesses,
// such as status polling, are folded into one with a count.
type access struct {
	Num   int
	Cmd   spibridge.Cmd
	Data  []byte
	Start float64
	// Short is set when the frame ended before the payload did.
	Short bool
}

func decodeFrame(f frame) (a access, ok bool) {
	if len(f.MOSI) < 4 {
		return a, false
	}
	a.Cmd = spibridge.Cmd(binary.LittleEndian.Uint32(f.MOSI))
	a.Start = f.Start
	n := a.Cmd.Len()
	src, skip := f.MOSI, 4
	if !a.Cmd.Write() {
		src, skip = f.MISO, 4+spibridge.ReadPadding
	}
	if len(src) < skip {
		a.Short = src != nil || a.Cmd.Write()
		return a, true
	}
	data := src[skip:]
	if len(data) < n {
		a.Short = true
		n = len(data)
	}
	a.Data = data[:n]
	return a, true
}

func decode(frames []frame) (accesses []access) {
	for _, f := range frames {
		a, ok := decodeFrame(f)
		if !ok {
			slog.Warn("frame without command", slog.Float64("t", f.Start), slog.Int("len", len(f.MOSI)))
			continue
		}
		if last := len(accesses) - 1; last >= 0 && accesses[last].Cmd == a.Cmd &&
			bytes.Equal(accesses[last].Data, a.Data) {
			accesses[last].Num++
			continue
		}
		a.Num = 1
		accesses = append(accesses, a)
	}
	return accesses
}

func (f Filter) print(w io.Writer, accesses []access) error {
	for _, a := range accesses {
		fn := a.Cmd.Function()
		if (f.OmitRead && !a.Cmd.Write()) || (f.OmitWrite && a.Cmd.Write()) ||
			(f.OmitFIFO && (fn == spibridge.FuncFIFO16 || fn == spibridge.FuncFIFO32)) {
			continue
		}
		data := a.Data
		if f.OmitReadData && !a.Cmd.Write() {
			data = nil
		}
		line := fmt.Sprintf("%3d× %-26s %-22s data=%x", a.Num, a.Cmd.String(), regName(fn, uint16(a.Cmd.Addr())), data)
		if a.Short {
			line += " (short)"
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

var coreRegs = map[uint16]string{
	b43hw.MMIO_DMA0_REASON:        "DMA0_REASON",
	b43hw.MMIO_DMA1_REASON:        "DMA1_REASON",
	b43hw.MMIO_DMA2_REASON:        "DMA2_REASON",
	b43hw.MMIO_DMA3_REASON:        "DMA3_REASON",
	b43hw.MMIO_DMA4_REASON:        "DMA4_REASON",
	b43hw.MMIO_DMA5_REASON:        "DMA5_REASON",
	b43hw.MMIO_MACCTL:             "MACCTL",
	b43hw.MMIO_MACCMD:             "MACCMD",
	b43hw.MMIO_GEN_IRQ_REASON:     "GEN_IRQ_REASON",
	b43hw.MMIO_GEN_IRQ_MASK:       "GEN_IRQ_MASK",
	b43hw.MMIO_RAM_CONTROL:        "RAM_CONTROL",
	b43hw.MMIO_RAM_DATA:           "RAM_DATA",
	b43hw.MMIO_PS_STATUS:          "PS_STATUS",
	b43hw.MMIO_MAC_HW_CAP:         "MAC_HW_CAP",
	b43hw.MMIO_SHM_CONTROL:        "SHM_CONTROL",
	b43hw.MMIO_SHM_DATA:           "SHM_DATA",
	b43hw.MMIO_SHM_DATA_UNALIGNED: "SHM_DATA_UNALIGNED",
	b43hw.MMIO_XMITSTAT_0:         "XMITSTAT_0",
	b43hw.MMIO_XMITSTAT_1:         "XMITSTAT_1",
	b43hw.MMIO_REV3PLUS_TSF_LOW:   "TSF_LOW",
	b43hw.MMIO_REV3PLUS_TSF_HIGH:  "TSF_HIGH",
	b43hw.MMIO_PHY_VER:            "PHY_VER",
	b43hw.MMIO_PHY0:               "PHY0",
	b43hw.MMIO_RADIO_CONTROL:      "RADIO_CONTROL",
	b43hw.MMIO_RADIO_DATA_HIGH:    "RADIO_DATA_HIGH",
	b43hw.MMIO_RADIO_DATA_LOW:     "RADIO_DATA_LOW",
	b43hw.MMIO_MACFILTER_CONTROL:  "MACFILTER_CONTROL",
	b43hw.MMIO_MACFILTER_DATA:     "MACFILTER_DATA",
	b43hw.MMIO_GPIO_CONTROL:       "GPIO_CONTROL",
	b43hw.MMIO_GPIO_MASK:          "GPIO_MASK",
	b43hw.MMIO_IFSSLOT:            "IFSSLOT",
	b43hw.MMIO_POWERUP_DELAY:      "POWERUP_DELAY",
}

func regName(fn spibridge.Function, off uint16) string {
	if fn == spibridge.FuncAux {
		return "aux"
	}
	if name, ok := coreRegs[off]; ok {
		return name
	}
	return ""
}
