package b43

import (
	"context"
	"encoding/hex"
	"log/slog"
)

const levelTrace slog.Level = slog.LevelDebug - 1

// DebugFlags enable diagnostics that cost bus traffic or log volume.
type DebugFlags uint8

const (
	// DebugFirmware enables microcode state checks and the shared memory
	// and register dumps requested by open source firmware.
	DebugFirmware DebugFlags = 1 << iota
	// DebugVerbose keeps PHY TX error interrupts unmasked so each one is logged.
	DebugVerbose
	// DebugFastPeriodic shrinks the periodic work interval to 50ms.
	DebugFastPeriodic
)

func (d *Device) debugging(want DebugFlags) bool {
	return d.cfg.Debug&want != 0
}

func (d *Device) logerr(msg string, attrs ...slog.Attr) {
	d.logattrs(slog.LevelError, msg, attrs...)
}

func (d *Device) warn(msg string, attrs ...slog.Attr) {
	d.logattrs(slog.LevelWarn, msg, attrs...)
}

func (d *Device) info(msg string, attrs ...slog.Attr) {
	d.logattrs(slog.LevelInfo, msg, attrs...)
}

func (d *Device) debug(msg string, attrs ...slog.Attr) {
	d.logattrs(slog.LevelDebug, msg, attrs...)
}

func (d *Device) trace(msg string, attrs ...slog.Attr) {
	if d._traceenabled {
		d.logattrs(levelTrace, msg, attrs...)
	}
}

func (d *Device) logattrs(level slog.Level, msg string, attrs ...slog.Attr) {
	if d.logger == nil {
		return
	}
	d.logger.LogAttrs(context.Background(), level, msg, attrs...)
}

func hex16(u uint16) string {
	return hex.EncodeToString([]byte{byte(u >> 8), byte(u)})
}

func hex32(u uint32) string {
	return hex.EncodeToString([]byte{byte(u >> 24), byte(u >> 16), byte(u >> 8), byte(u)})
}
