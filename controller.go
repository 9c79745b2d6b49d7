package canbridge

import (
	"context"
	"fmt"
)

// FIFO is a hardware queue number inside the CAN controller
type FIFO uint8

// NoFIFO means "any queue" when passed as a receive hint and "nothing received" when returned
const NoFIFO FIFO = 0xFF

func (f FIFO) String() string {
	if f == NoFIFO {
		return "FIFO-"
	}
	return fmt.Sprintf("FIFO%d", uint8(f))
}

type Direction int

const (
	RX Direction = iota
	TX
)

func (d Direction) String() string {
	if d == TX {
		return "tx"
	}
	return "rx"
}

type Mode int

const (
	ModeConfiguration Mode = iota
	ModeNormal
	ModeListenOnly
	ModeLoopback
)

func (m Mode) String() string {
	switch m {
	case ModeConfiguration:
		return "configuration"
	case ModeNormal:
		return "normal"
	case ModeListenOnly:
		return "listen-only"
	case ModeLoopback:
		return "loopback"
	default:
		return "unknown"
	}
}

// ControllerConfig is applied after a controller reset
type ControllerConfig struct {
	ClockHz            uint32
	Bitrate            uint32
	ECC                bool
	ISOCRC             bool
	RestrictRetransmit bool
	TXQEnabled         bool
	TxEventFIFOEnabled bool
}

type FIFOConfig struct {
	FIFO          FIFO
	Direction     Direction
	Depth         int
	PayloadSize   int
	Priority      uint8
	RetryAttempts int // -1 = unlimited
}

// FilterConfig routes frames where (id & Mask) == (Match & Mask) to FIFO
type FilterConfig struct {
	FIFO     FIFO
	Match    uint32
	Mask     uint32
	Extended bool
}

// ExactMask matches all identifier bits
const ExactMask = MaxExtendedID

// Matches reports if the frame identifier passes the filter
func (f FilterConfig) Matches(frame *CANFrame) bool {
	if frame.Extended != f.Extended {
		return false
	}
	return frame.Identifier&f.Mask == f.Match&f.Mask
}

// Controller is the boundary towards a CAN controller driver. Implementations must be
// safe for use by one transmitting and one receiving goroutine at a time.
type Controller interface {
	Name() string
	Configure(context.Context, ControllerConfig) error
	ConfigureFIFO(context.Context, FIFOConfig) error
	ConfigureFilter(context.Context, FilterConfig) error
	SetMode(context.Context, Mode) error
	Transmit(ctx context.Context, fifo FIFO, frame *CANFrame) error
	// Receive returns the next frame, draining hint first when it is not NoFIFO.
	// It returns (NoFIFO, nil, nil) when every receive queue is empty.
	Receive(ctx context.Context, hint FIFO) (FIFO, *CANFrame, error)
	// Interrupt is signalled whenever at least one receive queue became non-empty
	Interrupt() <-chan struct{}
	Close() error
}
