package main

import (
	"bytes"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/soypat/b43"
	"github.com/soypat/b43/b43hw"
	"github.com/soypat/b43/internal/fakehw"
)

func TestParsePHY(t *testing.T) {
	for name, want := range map[string]uint8{"g": b43hw.PHYTYPE_G, "N": b43hw.PHYTYPE_N, "lcn": b43hw.PHYTYPE_LCN} {
		got, err := parsePHY(name)
		if err != nil || got != want {
			t.Errorf("parsePHY(%q) = %d, %v", name, got, err)
		}
	}
	if _, err := parsePHY("AC"); err == nil {
		t.Error("AC PHY accepted")
	}
}

func mapFS(files map[string][]byte) fstest.MapFS {
	fsys := fstest.MapFS{}
	for name, blob := range files {
		fsys[name] = &fstest.MapFile{Data: blob}
	}
	return fsys
}

func TestCheckSet(t *testing.T) {
	set, err := b43.SelectFirmware(13, b43hw.PHYTYPE_G)
	if err != nil {
		t.Fatal(err)
	}
	var printed bytes.Buffer
	printSet(&printed, set)
	if !strings.Contains(printed.String(), "ucode13") || strings.Count(printed.String(), "\n") != 3 {
		t.Errorf("unexpected set listing:\n%s", printed.String())
	}

	files := fakehw.Files(b43.FirmwareOpenSource.Dir(), set.Ucode, set.PCM, set.Initvals, set.BandInitvals)
	var out bytes.Buffer
	if err := checkSet(&out, mapFS(files), set); err != nil {
		t.Fatal(err, out.String())
	}
	if !strings.Contains(out.String(), "b43-open/ucode13.fw") {
		t.Error("open source files not listed", out.String())
	}

	// Corrupt initvals record count.
	files[b43.FirmwareOpenSource.Path(set.Initvals)] = fakehw.Blob(b43hw.FW_TYPE_IV, 3, b43hw.AppendInitvals(nil, fakehw.InitvalsRecords))
	out.Reset()
	err = checkSet(&out, mapFS(files), set)
	if err == nil {
		t.Fatal("broken set accepted")
	}
	if !strings.Contains(out.String(), b43hw.ErrIVTruncated.Error()) {
		t.Error("initvals error not reported", out.String())
	}
}

func TestValidateType(t *testing.T) {
	blob := fakehw.UcodeBlob(b43hw.FW_TYPE_PCM, []byte{1, 2, 3, 4})
	if err := validate(blob, b43hw.FW_TYPE_UCODE); err == nil {
		t.Error("PCM accepted as microcode")
	}
	if err := validate(blob, b43hw.FW_TYPE_PCM); err != nil {
		t.Error(err)
	}
}

func TestDump(t *testing.T) {
	var out bytes.Buffer
	err := dump(&out, fakehw.UcodeBlob(b43hw.FW_TYPE_UCODE, []byte{0, 1, 2, 3, 0xDE, 0xAD, 0xBE, 0xEF}), 1)
	if err != nil {
		t.Fatal(err)
	}
	want := "\ttype=ucode version=1 size=8\n\t2 words\n\t0000: 00010203\n"
	if out.String() != want {
		t.Errorf("got %q, want %q", out.String(), want)
	}

	out.Reset()
	err = dump(&out, fakehw.InitvalsBlob(fakehw.InitvalsRecords...), -1)
	if err != nil {
		t.Fatal(err)
	}
	want = "\ttype=initvals version=1 size=2\n\t0x500 <- 0x1234 (16 bit)\n\t0x508 <- 0xdeadbeef (32 bit)\n"
	if out.String() != want {
		t.Errorf("got %q, want %q", out.String(), want)
	}

	if err := dump(&out, []byte{'u', 1}, 1); err == nil {
		t.Error("short blob accepted")
	}
}
