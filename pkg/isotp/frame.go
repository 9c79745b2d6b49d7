// Package isotp reassembles ISO 15765-2 transfers received on a CAN controller.
package isotp

import "fmt"

type FrameType uint8

const (
	SingleFrame      FrameType = 0x0
	FirstFrame       FrameType = 0x1
	ConsecutiveFrame FrameType = 0x2
	FlowControl      FrameType = 0x3
)

func (t FrameType) String() string {
	switch t {
	case SingleFrame:
		return "single frame"
	case FirstFrame:
		return "first frame"
	case ConsecutiveFrame:
		return "consecutive frame"
	case FlowControl:
		return "flow control"
	default:
		return fmt.Sprintf("frame type %d", uint8(t))
	}
}

// Classify returns the protocol control information type in the high nibble of b0
func Classify(data []byte) (FrameType, bool) {
	if len(data) == 0 {
		return 0, false
	}
	return FrameType(data[0] >> 4), true
}

type FlowStatus uint8

const (
	FlowContinueToSend FlowStatus = iota
	FlowWait
	FlowOverflow
)

// FlowControlFrame builds an 8 byte flow control payload
func FlowControlFrame(status FlowStatus, blockSize, stMin, padding byte) []byte {
	return []byte{
		byte(FlowControl)<<4 | byte(status)&0x0F,
		blockSize,
		stMin,
		padding, padding, padding, padding, padding,
	}
}

// FirstFrameLength returns the 12 bit total length of a first frame
func FirstFrameLength(data []byte) int {
	return int(data[0]&0x0F)<<8 | int(data[1])
}
