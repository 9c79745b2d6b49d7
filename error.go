package canbridge

import (
	"errors"
	"fmt"
)

type unrecoverableError struct {
	error
}

func (e unrecoverableError) Error() string {
	if e.error == nil {
		return "unrecoverable error"
	}
	return e.error.Error()
}

func (e unrecoverableError) Unwrap() error {
	return e.error
}

// Unrecoverable wraps an error in `unrecoverableError` struct
func Unrecoverable(err error) error {
	return unrecoverableError{err}
}

// IsRecoverable checks if error is an instance of `unrecoverableError`
func IsRecoverable(err error) bool {
	var ue unrecoverableError
	return !errors.As(err, &ue)
}

var (
	ErrClosed            = errors.New("controller closed")
	ErrInvalidFrame      = errors.New("invalid frame")
	ErrTxFIFOFull        = errors.New("transmit fifo full")
	ErrFIFONotConfigured = errors.New("fifo not configured")
	ErrNotNormalMode     = errors.New("controller not in normal mode")
)

type BusErrorKind int

const (
	BusErrorUnknown BusErrorKind = iota
	BusErrorArbitrationLost
	BusErrorCRC
	BusErrorForm
	BusErrorStuff
	BusErrorAck
	BusErrorBit
	BusErrorPassive
	BusErrorBusOff
	BusErrorRxOverflow
	BusErrorTxTimeout
)

func (k BusErrorKind) String() string {
	switch k {
	case BusErrorArbitrationLost:
		return "arbitration lost"
	case BusErrorCRC:
		return "crc error"
	case BusErrorForm:
		return "form error"
	case BusErrorStuff:
		return "stuff error"
	case BusErrorAck:
		return "ack error"
	case BusErrorBit:
		return "bit error"
	case BusErrorPassive:
		return "error passive"
	case BusErrorBusOff:
		return "bus off"
	case BusErrorRxOverflow:
		return "rx overflow"
	case BusErrorTxTimeout:
		return "tx timeout"
	default:
		return "bus error"
	}
}

// BusError is a recoverable communication error reported by the controller
type BusError struct {
	Kind        BusErrorKind
	Description string
}

func (e *BusError) Error() string {
	if e.Description == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Description)
}

// AsBusError returns the BusError wrapped in err, if any
func AsBusError(err error) (*BusError, bool) {
	var be *BusError
	if errors.As(err, &be) {
		return be, true
	}
	return nil, false
}
