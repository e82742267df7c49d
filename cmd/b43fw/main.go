package main

import (
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/soypat/b43"
	"github.com/soypat/b43/b43hw"
)

const usage = `b43fw - Inspect b43 firmware files.
	Usage:
	b43fw select -rev <core rev> -phy <A|G|N|LP|HT|LCN> [-dir /lib/firmware]
	b43fw dump [-n records] <file.fw>...
`

func main() {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	slog.SetDefault(slog.New(handler))
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	var err error
	switch os.Args[1] {
	case "select":
		err = runSelect(os.Args[2:])
	case "dump":
		err = runDump(os.Args[2:])
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		slog.Error(os.Args[1]+" failed", slog.String("err", err.Error()))
		os.Exit(1)
	}
}

func runSelect(args []string) error {
	fset := flag.NewFlagSet("select", flag.ExitOnError)
	rev := fset.Uint("rev", 13, "802.11 core revision.")
	phy := fset.String("phy", "G", "PHY type.")
	dir := fset.String("dir", "", "Firmware root to check the selected files against, e.g. /lib/firmware.")
	fset.Parse(args)
	phyType, err := parsePHY(*phy)
	if err != nil {
		return err
	}
	if *rev > 0xFF {
		return fmt.Errorf("core revision %d out of range", *rev)
	}
	set, err := b43.SelectFirmware(uint8(*rev), phyType)
	if err != nil {
		return err
	}
	printSet(os.Stdout, set)
	if *dir == "" {
		return nil
	}
	return checkSet(os.Stdout, os.DirFS(*dir), set)
}

func runDump(args []string) error {
	fset := flag.NewFlagSet("dump", flag.ExitOnError)
	n := fset.Int("n", 16, "Number of initvals records or microcode words to print, -1 for all.")
	fset.Parse(args)
	if fset.NArg() == 0 {
		return errors.New("no files given")
	}
	for _, name := range fset.Args() {
		blob, err := os.ReadFile(name)
		if err != nil {
			return err
		}
		fmt.Printf("%s:\n", name)
		if err := dump(os.Stdout, blob, *n); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

var phyNames = map[string]uint8{
	"A":   b43hw.PHYTYPE_A,
	"G":   b43hw.PHYTYPE_G,
	"N":   b43hw.PHYTYPE_N,
	"LP":  b43hw.PHYTYPE_LP,
	"HT":  b43hw.PHYTYPE_HT,
	"LCN": b43hw.PHYTYPE_LCN,
}

func parsePHY(name string) (uint8, error) {
	typ, ok := phyNames[strings.ToUpper(name)]
	if !ok {
		return 0, fmt.Errorf("unknown PHY type %q", name)
	}
	return typ, nil
}

func printSet(w io.Writer, set b43.FirmwareSet) {
	for _, f := range setFiles(set) {
		fmt.Fprintf(w, "%-13s %s\n", f.kind, f.name)
	}
}

type setFile struct {
	kind string
	name string
	typ  b43hw.FwType
}

func setFiles(set b43.FirmwareSet) []setFile {
	files := []setFile{
		{"ucode", set.Ucode, b43hw.FW_TYPE_UCODE},
		{"pcm", set.PCM, b43hw.FW_TYPE_PCM},
		{"initvals", set.Initvals, b43hw.FW_TYPE_IV},
		{"bandinitvals", set.BandInitvals, b43hw.FW_TYPE_IV},
	}
	out := files[:0]
	for _, f := range files {
		if f.name != "" {
			out = append(out, f)
		}
	}
	return out
}

// checkSet reports, per flavor, whether every file of set is present and
// well formed. It fails if no flavor is complete.
func checkSet(w io.Writer, fsys fs.FS, set b43.FirmwareSet) error {
	complete := false
	for _, flavor := range [2]b43.FirmwareFlavor{b43.FirmwareProprietary, b43.FirmwareOpenSource} {
		ok := true
		for _, f := range setFiles(set) {
			p := flavor.Path(f.name)
			status := "ok"
			blob, err := fs.ReadFile(fsys, p)
			if err == nil {
				err = validate(blob, f.typ)
			}
			if err != nil {
				status = err.Error()
				ok = false
			}
			fmt.Fprintf(w, "%-30s %s\n", p, status)
		}
		complete = complete || ok
	}
	if !complete {
		return errors.New("no complete firmware set found")
	}
	return nil
}

func validate(blob []byte, typ b43hw.FwType) error {
	hdr, payload, err := b43hw.ValidateFw(blob)
	if err != nil {
		return err
	}
	if hdr.Type != typ {
		return fmt.Errorf("type %s, want %s", hdr.Type, typ)
	}
	if typ == b43hw.FW_TYPE_IV {
		_, err = b43hw.DecodeInitvals(payload, hdr.Size)
	}
	return err
}

func dump(w io.Writer, blob []byte, n int) error {
	hdr, payload, err := b43hw.ValidateFw(blob)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "\ttype=%s version=%d size=%d\n", hdr.Type, hdr.Version, hdr.Size)
	switch hdr.Type {
	case b43hw.FW_TYPE_UCODE, b43hw.FW_TYPE_PCM:
		words := len(payload) / 4
		fmt.Fprintf(w, "\t%d words\n", words)
		if n < 0 || n > words {
			n = words
		}
		for i := 0; i < n; i++ {
			fmt.Fprintf(w, "\t%04x: %08x\n", i, binary.BigEndian.Uint32(payload[4*i:]))
		}
	case b43hw.FW_TYPE_IV:
		ivs, err := b43hw.DecodeInitvals(payload, hdr.Size)
		if err != nil {
			return err
		}
		if n < 0 || n > len(ivs) {
			n = len(ivs)
		}
		for _, iv := range ivs[:n] {
			width := 16
			if iv.Is32 {
				width = 32
			}
			fmt.Fprintf(w, "\t%#05x <- %#x (%d bit)\n", iv.Offset, iv.Value, width)
		}
	}
	return nil
}
