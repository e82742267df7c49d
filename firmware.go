package b43

import (
	"errors"
	"io/fs"
	"log/slog"
	"path"
	"strconv"

	"github.com/soypat/b43/b43hw"
)

// FirmwareSource returns firmware files by path, for example "b43/ucode5.fw".
// A missing file must return an error matching fs.ErrNotExist.
type FirmwareSource interface {
	Fetch(name string) ([]byte, error)
}

// DirSource loads firmware from a file system laid out like /lib/firmware.
type DirSource struct {
	FS fs.FS
}

func (s DirSource) Fetch(name string) ([]byte, error) {
	return fs.ReadFile(s.FS, name)
}

// MapSource serves firmware from memory, keyed by path.
type MapSource map[string][]byte

func (s MapSource) Fetch(name string) ([]byte, error) {
	blob, ok := s[name]
	if !ok {
		return nil, &fs.PathError{Op: "fetch", Path: name, Err: fs.ErrNotExist}
	}
	return blob, nil
}

// FirmwareFlavor selects between the two firmware directories.
type FirmwareFlavor uint8

const (
	FirmwareProprietary FirmwareFlavor = iota
	FirmwareOpenSource
)

func (f FirmwareFlavor) String() (s string) {
	switch f {
	case FirmwareProprietary:
		s = "proprietary"
	case FirmwareOpenSource:
		s = "opensource"
	default:
		s = "unknown"
	}
	return s
}

// Dir returns the directory the flavor's files live in.
func (f FirmwareFlavor) Dir() string {
	if f == FirmwareOpenSource {
		return "b43-open"
	}
	return "b43"
}

// Path returns the path of firmware file name in the flavor's directory.
func (f FirmwareFlavor) Path(name string) string {
	return path.Join(f.Dir(), name+".fw")
}

// FirmwareSet names the files a core needs. PCM is empty for core
// revisions that do not use one.
type FirmwareSet struct {
	Ucode        string
	PCM          string
	Initvals     string
	BandInitvals string
}

// SelectFirmware returns the firmware files for a core revision and PHY type.
// A revision without a band initvals mapping is unsupported, the same as one
// without microcode: the core is never brought up with half a set.
func SelectFirmware(coreRev, phyType uint8) (set FirmwareSet, err error) {
	rev := coreRev
	switch {
	case rev == 42 && phyType == b43hw.PHYTYPE_AC:
		set.Ucode = "ucode42"
	case rev == 40 && phyType == b43hw.PHYTYPE_AC:
		set.Ucode = "ucode40"
	case rev == 33 && phyType == b43hw.PHYTYPE_LCN40:
		set.Ucode = "ucode33_lcn40"
	case rev == 30 && phyType == b43hw.PHYTYPE_N:
		set.Ucode = "ucode30_mimo"
	case rev == 29 && phyType == b43hw.PHYTYPE_HT:
		set.Ucode = "ucode29_mimo"
	case rev == 26 && phyType == b43hw.PHYTYPE_HT:
		set.Ucode = "ucode26_mimo"
	case rev == 28 || rev == 25:
		if phyType == b43hw.PHYTYPE_N {
			set.Ucode = "ucode25_mimo"
		} else if phyType == b43hw.PHYTYPE_LCN {
			set.Ucode = "ucode25_lcn"
		}
	case rev == 24 && phyType == b43hw.PHYTYPE_LCN:
		set.Ucode = "ucode24_lcn"
	case rev == 23 && phyType == b43hw.PHYTYPE_N:
		set.Ucode = "ucode16_mimo"
	case rev >= 16 && rev <= 19:
		if phyType == b43hw.PHYTYPE_N {
			set.Ucode = "ucode16_mimo"
		} else if phyType == b43hw.PHYTYPE_LP {
			set.Ucode = "ucode16_lp"
		}
	case rev == 15:
		set.Ucode = "ucode15"
	case rev == 14:
		set.Ucode = "ucode14"
	case rev == 13:
		set.Ucode = "ucode13"
	case rev == 11 || rev == 12:
		set.Ucode = "ucode11"
	case rev >= 5 && rev <= 10:
		set.Ucode = "ucode5"
	}
	if set.Ucode == "" {
		return set, &UnsupportedError{What: "core revision " + strconv.Itoa(int(rev)) + " (no ucode)"}
	}

	switch {
	case rev >= 5 && rev <= 10:
		set.PCM = "pcm5"
	case rev >= 11:
	default:
		return set, &UnsupportedError{What: "core revision " + strconv.Itoa(int(rev)) + " (no pcm)"}
	}

	set.Initvals = selectInitvals(rev, phyType, "initvals")
	set.BandInitvals = selectInitvals(rev, phyType, "bsinitvals")
	if set.Initvals == "" || set.BandInitvals == "" {
		return set, &UnsupportedError{What: "core revision " + strconv.Itoa(int(rev)) + " (no initvals)"}
	}
	return set, nil
}

// selectInitvals maps (rev, phy) to an initvals file. kind is "initvals"
// or "bsinitvals", the two tables only differ in that infix.
func selectInitvals(rev, phyType uint8, kind string) string {
	var prefix, suffix string
	switch phyType {
	case b43hw.PHYTYPE_G:
		prefix = "b0g0"
		if rev == 13 {
			suffix = "13"
		} else if rev >= 5 && rev <= 10 {
			suffix = "5"
		}
	case b43hw.PHYTYPE_N:
		prefix = "n0"
		switch {
		case rev == 30:
			prefix, suffix = "n16", "30"
		case rev == 28 || rev == 25:
			suffix = "25"
		case rev == 24:
			suffix = "24"
		case rev == 23:
			suffix = "16"
		case rev >= 16 && rev <= 18:
			suffix = "16"
		case rev >= 11 && rev <= 12:
			suffix = "11"
		}
	case b43hw.PHYTYPE_LP:
		prefix = "lp0"
		switch {
		case rev >= 16 && rev <= 18:
			suffix = "16"
		case rev >= 13 && rev <= 15:
			suffix = strconv.Itoa(int(rev))
		}
	case b43hw.PHYTYPE_HT:
		prefix = "ht0"
		if rev == 29 || rev == 26 {
			suffix = strconv.Itoa(int(rev))
		}
	case b43hw.PHYTYPE_LCN:
		prefix = "lcn0"
		if rev == 24 {
			suffix = "24"
		}
	case b43hw.PHYTYPE_LCN40:
		prefix = "lcn400"
		if rev == 33 {
			suffix = "33"
		}
	case b43hw.PHYTYPE_AC:
		if rev == 42 {
			prefix, suffix = "ac1", "42"
		} else if rev == 40 {
			prefix, suffix = "ac0", "40"
		}
	}
	if suffix == "" {
		return ""
	}
	return prefix + kind + suffix
}

// fwFile is a validated firmware file held by the loader cache.
type fwFile struct {
	name    string
	flavor  FirmwareFlavor
	hdr     b43hw.FwHeader
	payload []byte
	ivs     []b43hw.Initval // Decoded records of initvals files.
}

func (f *fwFile) loaded() bool { return f.name != "" }

func (f *fwFile) release() { *f = fwFile{} }

// FirmwareInfo describes the running microcode.
type FirmwareInfo struct {
	Flavor    FirmwareFlavor
	Rev       uint16
	Patch     uint16
	HdrFormat b43hw.HdrFormat
	// HWCrypto is false when the firmware lacks crypto support or the
	// PCM file was missing.
	HWCrypto bool
	QoS      bool
}

type firmware struct {
	FirmwareInfo
	ucode        fwFile
	pcm          fwFile
	initvals     fwFile
	bandInitvals fwFile
	// pcmRequestFailed is set when a needed PCM file could not be found.
	pcmRequestFailed bool
}

func (fw *firmware) release() {
	fw.ucode.release()
	fw.pcm.release()
	fw.initvals.release()
	fw.bandInitvals.release()
}

// requestFirmware resolves and validates every file the core needs,
// proprietary files first. Nothing is written to the device.
func (d *Device) requestFirmware() error {
	set, err := SelectFirmware(d.hw.CoreRev, d.phy.Type)
	if err != nil {
		d.logerr("no firmware mapping", slog.Int("corerev", int(d.hw.CoreRev)), slog.Int("phytype", int(d.phy.Type)))
		return err
	}
	var errs [2]error
	for i, flavor := range [2]FirmwareFlavor{FirmwareProprietary, FirmwareOpenSource} {
		errs[i] = d.tryRequestFirmware(set, flavor)
		if errs[i] == nil {
			d.fw.Flavor = flavor
			return nil
		}
		d.debug("firmware flavor unusable", slog.String("flavor", flavor.String()), slog.String("err", errs[i].Error()))
	}
	d.logerr("could not find usable firmware")
	return errjoin(errs[:]...)
}

func (d *Device) tryRequestFirmware(set FirmwareSet, flavor FirmwareFlavor) error {
	fw := &d.fw
	err := d.doRequestFirmware(set.Ucode, b43hw.FW_TYPE_UCODE, flavor, &fw.ucode)
	if err != nil {
		fw.release()
		return err
	}
	fw.pcmRequestFailed = false
	if set.PCM == "" {
		fw.pcm.release()
	} else {
		err = d.doRequestFirmware(set.PCM, b43hw.FW_TYPE_PCM, flavor, &fw.pcm)
		if errors.Is(err, fs.ErrNotExist) {
			// Not fatal, the core runs without hardware crypto.
			fw.pcmRequestFailed = true
		} else if err != nil {
			fw.release()
			return err
		}
	}
	err = d.doRequestFirmware(set.Initvals, b43hw.FW_TYPE_IV, flavor, &fw.initvals)
	if err == nil {
		err = d.doRequestFirmware(set.BandInitvals, b43hw.FW_TYPE_IV, flavor, &fw.bandInitvals)
	}
	if err != nil {
		fw.release()
		return err
	}
	return nil
}

func (d *Device) doRequestFirmware(name string, typ b43hw.FwType, flavor FirmwareFlavor, dst *fwFile) error {
	if dst.loaded() {
		if dst.name == name && dst.flavor == flavor {
			return nil // Cached.
		}
		dst.release()
	}
	fpath := flavor.Path(name)
	d.debug("requesting firmware", slog.String("file", fpath))
	blob, err := d.cfg.Firmware.Fetch(fpath)
	if err != nil {
		return err
	}
	hdr, payload, err := b43hw.ValidateFw(blob)
	if err == nil && hdr.Type != typ {
		err = b43hw.ErrFwType
	}
	var ivs []b43hw.Initval
	if err == nil && typ == b43hw.FW_TYPE_IV {
		ivs, err = b43hw.DecodeInitvals(payload, hdr.Size)
	}
	if err != nil {
		return &FormatError{Name: fpath, Err: err}
	}
	*dst = fwFile{name: name, flavor: flavor, hdr: hdr, payload: payload, ivs: ivs}
	return nil
}

// uploadMicrocode writes microcode and PCM to the core and starts the PSM.
func (d *Device) uploadMicrocode() (err error) {
	fw := &d.fw
	d.macctl(0, b43hw.MACCTL_PSM_JMP0)
	for i := uint16(0); i < 64; i++ {
		d.shmWrite16(b43hw.SHM_SCRATCH, i, 0)
	}
	for i := uint16(0); i < 4096; i += 2 {
		d.shmWrite16(b43hw.SHM_SHARED, i, 0)
	}

	d.shmControl(b43hw.SHM_UCODE|b43hw.SHM_AUTOINC_W, 0)
	d.writeFwWords(fw.ucode.payload)
	if fw.pcm.loaded() {
		d.shmControl(b43hw.SHM_HW, 0x01EA)
		d.write32(b43hw.MMIO_SHM_DATA, 0x00004000)
		// SHM_HW does not need the autoincrement bit.
		d.shmControl(b43hw.SHM_HW, 0x01EB)
		d.writeFwWords(fw.pcm.payload)
	}

	d.write32(b43hw.MMIO_GEN_IRQ_REASON, b43hw.IRQ_ALL)
	d.macctl(b43hw.MACCTL_PSM_JMP0, b43hw.MACCTL_PSM_RUN)
	defer func() {
		if err != nil {
			d.macctl(b43hw.MACCTL_PSM_RUN, b43hw.MACCTL_PSM_JMP0)
		}
	}()

	const bootTries = 20
	for i := 0; ; {
		if d.read32(b43hw.MMIO_GEN_IRQ_REASON) == b43hw.IRQ_MAC_SUSPENDED {
			break
		}
		i++
		if i >= bootTries {
			d.logerr("microcode not responding")
			return &TimeoutError{Op: "microcode boot", Tries: bootTries}
		}
		d.msleep(50)
	}
	d.read32(b43hw.MMIO_GEN_IRQ_REASON) // Dummy read.

	rev := d.shmRead16(b43hw.SHM_SHARED, b43hw.SHM_SH_UCODEREV)
	patch := d.shmRead16(b43hw.SHM_SHARED, b43hw.SHM_SH_UCODEPATCH)
	date := d.shmRead16(b43hw.SHM_SHARED, b43hw.SHM_SH_UCODEDATE)
	ftime := d.shmRead16(b43hw.SHM_SHARED, b43hw.SHM_SH_UCODETIME)
	if rev <= 0x128 {
		d.logerr("firmware too old, need version 4.x or later", slog.Int("rev", int(rev)))
		return &UnsupportedError{What: "firmware revision " + strconv.Itoa(int(rev))}
	}
	fw.Rev = rev
	fw.Patch = patch
	fw.HdrFormat = b43hw.HdrFormatFromRev(rev)
	opensource := fw.Flavor == FirmwareOpenSource
	if opensource != (date == 0xFFFF) {
		d.warn("firmware date does not match flavor", slog.String("flavor", fw.Flavor.String()), slog.String("date", hex16(date)))
	}

	fw.HWCrypto = true
	fw.QoS = false
	if opensource {
		// Patch level is encoded in the time field.
		fw.Patch = ftime
		fwcapa := d.shmRead16(b43hw.SHM_SHARED, b43hw.SHM_SH_FWCAPA)
		fw.QoS = fwcapa&b43hw.FWCAPA_QOS != 0
		d.info("loaded opensource firmware", slog.Int("rev", int(fw.Rev)), slog.Int("patch", int(fw.Patch)),
			slog.Bool("qos", fw.QoS))
		if fwcapa&b43hw.FWCAPA_HWCRYPTO == 0 || fw.pcmRequestFailed {
			d.info("hardware crypto not supported by firmware")
			fw.HWCrypto = false
		}
	} else {
		d.info("loaded firmware", slog.Int("rev", int(rev)), slog.Int("patch", int(patch)),
			slog.String("date", hex16(date)), slog.String("time", hex16(ftime)))
		if fw.pcmRequestFailed {
			d.warn("no pcm5 firmware file found, hardware crypto disabled")
			fw.HWCrypto = false
		}
	}
	if fw.HdrFormat == b43hw.HDR_351 {
		d.warn("old firmware image, header format 351")
	}
	return nil
}

func (d *Device) writeFwWords(payload []byte) {
	for i := 0; i+4 <= len(payload); i += 4 {
		v := uint32(payload[i])<<24 | uint32(payload[i+1])<<16 | uint32(payload[i+2])<<8 | uint32(payload[i+3])
		d.write32(b43hw.MMIO_SHM_DATA, v)
		d.udelay(10)
	}
}

// writeInitvals applies a decoded initvals file.
func (d *Device) writeInitvals(f *fwFile) {
	for _, iv := range f.ivs {
		if iv.Is32 {
			d.write32(iv.Offset, iv.Value)
		} else {
			d.write16(iv.Offset, uint16(iv.Value))
		}
	}
}

func (d *Device) uploadInitvals() error {
	if !d.fw.initvals.loaded() {
		return &UnsupportedError{What: "missing initvals"}
	}
	d.writeInitvals(&d.fw.initvals)
	return nil
}

func (d *Device) uploadInitvalsBand() error {
	if d.fw.bandInitvals.loaded() {
		d.writeInitvals(&d.fw.bandInitvals)
	}
	return nil
}
