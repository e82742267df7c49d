package main

import (
	"bytes"
	"encoding/binary"
	"strings"
	"testing"

	"github.com/soypat/b43/b43hw"
	"github.com/soypat/b43/spibridge"
)

func cmdBytes(write bool, fn spibridge.Function, addr uint32, n int, payload ...byte) []byte {
	b := binary.LittleEndian.AppendUint32(nil, uint32(spibridge.MakeCmd(write, false, fn, addr, n)))
	return append(b, payload...)
}

func TestDecode(t *testing.T) {
	readMOSI := cmdBytes(false, spibridge.FuncCore, b43hw.MMIO_GEN_IRQ_REASON, 4, make([]byte, 8)...)
	readMISO := []byte{0, 0, 0, 0, 0xFF, 0xFF, 0xFF, 0xFF, 0x01, 0x00, 0x00, 0x20}
	frames := []frame{
		{MOSI: cmdBytes(true, spibridge.FuncCore, b43hw.MMIO_MACCTL, 4, 0x01, 0x04, 0x00, 0x00)},
		{MOSI: readMOSI, MISO: readMISO},
		{MOSI: readMOSI, MISO: readMISO},
		{MOSI: []byte{0x01}},
		{MOSI: cmdBytes(true, spibridge.FuncFIFO32, 0x2C8, 8, 1, 2, 3, 4)},
	}
	accesses := decode(frames)
	if len(accesses) != 3 {
		t.Fatalf("want 3 accesses, got %d", len(accesses))
	}
	if !bytes.Equal(accesses[0].Data, []byte{0x01, 0x04, 0x00, 0x00}) || !accesses[0].Cmd.Write() {
		t.Error("bad write decode", accesses[0])
	}
	if accesses[1].Num != 2 {
		t.Error("repeated reads not folded", accesses[1].Num)
	}
	if !bytes.Equal(accesses[1].Data, []byte{0x01, 0x00, 0x00, 0x20}) {
		t.Errorf("read data not after padding: %x", accesses[1].Data)
	}
	if !accesses[2].Short || len(accesses[2].Data) != 4 {
		t.Error("truncated payload not flagged", accesses[2])
	}
}

func TestDecodeReadWithoutMISO(t *testing.T) {
	accesses := decode([]frame{{MOSI: cmdBytes(false, spibridge.FuncAux, 0x3FC, 4)}})
	if len(accesses) != 1 || accesses[0].Data != nil || accesses[0].Short {
		t.Fatal("read without MISO capture", accesses)
	}
}

func TestPrintFilter(t *testing.T) {
	accesses := decode([]frame{
		{MOSI: cmdBytes(true, spibridge.FuncCore, b43hw.MMIO_SHM_CONTROL, 4, 0, 0, 1, 0)},
		{MOSI: cmdBytes(true, spibridge.FuncFIFO16, 0x2C4, 2, 0xAA, 0xBB)},
		{MOSI: cmdBytes(false, spibridge.FuncCore, b43hw.MMIO_SHM_DATA, 4, make([]byte, 8)...), MISO: make([]byte, 12)},
	})
	var buf bytes.Buffer
	err := Filter{OmitFIFO: true, OmitReadData: true}.print(&buf, accesses)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("want 2 lines, got %q", lines)
	}
	if !strings.Contains(lines[0], "SHM_CONTROL") || !strings.HasSuffix(lines[0], "data=00000100") {
		t.Error("unexpected write line", lines[0])
	}
	if !strings.Contains(lines[1], "SHM_DATA") || !strings.HasSuffix(lines[1], "data=") {
		t.Error("unexpected read line", lines[1])
	}

	buf.Reset()
	Filter{OmitWrite: true}.print(&buf, accesses)
	if strings.Count(buf.String(), "\n") != 1 {
		t.Error("write filter", buf.String())
	}
}
