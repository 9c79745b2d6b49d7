package isotp

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyFrame                 = errors.New("empty frame")
	ErrInvalidSingleFrame         = errors.New("single frame length exceeds frame")
	ErrInvalidFirstFrame          = errors.New("invalid first frame")
	ErrFrameTooLong               = errors.New("declared length exceeds reassembly buffer")
	ErrUnexpectedConsecutiveFrame = errors.New("consecutive frame without a first frame")
	ErrTooManySessions            = errors.New("too many concurrent sessions")
	ErrFlowControlTarget          = errors.New("no flow control address for source")
)

// FramingError is a malformed transfer from one source. The session, if any, is gone.
type FramingError struct {
	Source uint32
	Err    error
}

func (e *FramingError) Error() string {
	return fmt.Sprintf("isotp 0x%03X: %v", e.Source, e.Err)
}

func (e *FramingError) Unwrap() error {
	return e.Err
}

type Reason int

const (
	ReasonInterrupted Reason = iota
	ReasonTimeout
	ReasonReset
	ReasonFlowControl
)

func (r Reason) String() string {
	switch r {
	case ReasonInterrupted:
		return "interrupted"
	case ReasonTimeout:
		return "timeout"
	case ReasonReset:
		return "reset"
	case ReasonFlowControl:
		return "flow control failed"
	default:
		return "unknown"
	}
}
