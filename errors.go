package b43

import (
	"errors"
	"strconv"
	"strings"
)

var (
	ErrUnusable       = errors.New("b43: device unusable after failed reset")
	ErrFirmwareDied   = errors.New("b43: firmware died")
	ErrBadState       = errors.New("b43: invalid device state for operation")
	ErrNotStarted     = errors.New("b43: device not started")
	ErrFrameTooShort  = errors.New("b43: frame too short")
	ErrTxAborted      = errors.New("b43: transmission aborted")
	ErrTxNotAcked     = errors.New("b43: frame not acknowledged")
	ErrTxTooLarge     = errors.New("b43: frame exceeds PIO buffer")
	ErrTxNoSlots      = errors.New("b43: no free PIO packet slot")
	ErrTxBackpressure = errors.New("b43: PIO buffer full")
	ErrChipAccess     = errors.New("b43: chip access validation failed")
	errRxFrameLen     = errors.New("b43: rx frame length out of range")
	errRxFCS          = errors.New("b43: rx frame FCS error")
	errRxTimeout      = errors.New("b43: rx data ready timeout")
)

// FormatError reports a malformed firmware blob.
type FormatError struct {
	Name string // Firmware file name.
	Err  error
}

func (e *FormatError) Error() string {
	return "b43: firmware " + strconv.Quote(e.Name) + " format error: " + e.Err.Error()
}

func (e *FormatError) Unwrap() error { return e.Err }

// UnsupportedError reports hardware or firmware the driver cannot drive.
type UnsupportedError struct {
	What string
}

func (e *UnsupportedError) Error() string { return "b43: unsupported " + e.What }

// TimeoutError is returned when a bounded hardware handshake gives up.
type TimeoutError struct {
	Op    string
	Tries int
}

func (e *TimeoutError) Error() string {
	return "b43: " + e.Op + " timed out after " + strconv.Itoa(e.Tries) + " tries"
}

// TxErrorKind classifies a rejected submission.
type TxErrorKind uint8

const (
	TooLarge TxErrorKind = iota + 1
	NoSlots
	Backpressure
)

func (k TxErrorKind) String() (s string) {
	switch k {
	case TooLarge:
		s = "too large"
	case NoSlots:
		s = "no slots"
	case Backpressure:
		s = "backpressure"
	default:
		s = "unknown"
	}
	return s
}

// TxError is returned by Submit when the PIO queue cannot take a frame.
// It matches ErrTxTooLarge, ErrTxNoSlots or ErrTxBackpressure with errors.Is.
type TxError struct {
	Kind TxErrorKind
	Len  int // Rounded on-wire length of the rejected frame.
}

func (e *TxError) Error() string {
	return "b43: tx " + e.Kind.String() + " (len " + strconv.Itoa(e.Len) + ")"
}

func (e *TxError) Is(target error) bool {
	switch target {
	case ErrTxTooLarge:
		return e.Kind == TooLarge
	case ErrTxNoSlots:
		return e.Kind == NoSlots
	case ErrTxBackpressure:
		return e.Kind == Backpressure
	}
	return false
}

// ResetError wraps the failure of a hard reset. The device is unusable afterwards.
type ResetError struct {
	Reason string
	Err    error
}

func (e *ResetError) Error() string {
	return "b43: hard reset (" + e.Reason + ") failed: " + e.Err.Error()
}

func (e *ResetError) Unwrap() []error { return []error{ErrUnusable, e.Err} }

type joinError struct {
	errs []error
}

func (e *joinError) Error() string {
	var b strings.Builder
	for i, err := range e.errs {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(err.Error())
	}
	return b.String()
}

func (e *joinError) Unwrap() []error {
	return e.errs
}

// errjoin returns an error that wraps the given errors.
// Any nil error values are discarded.
// errjoin returns nil if every value in errs is nil.
func errjoin(errs ...error) error {
	n := 0
	for _, err := range errs {
		if err != nil {
			n++
		}
	}
	if n == 0 {
		return nil
	}
	e := &joinError{
		errs: make([]error, 0, n),
	}
	for _, err := range errs {
		if err != nil {
			e.errs = append(e.errs, err)
		}
	}
	return e
}
