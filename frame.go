package canbridge

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fatih/color"
)

const (
	// MaxStandardID is the highest 11-bit identifier
	MaxStandardID = 0x7FF
	// MaxExtendedID is the highest 29-bit identifier
	MaxExtendedID = 0x1FFFFFFF
	// MaxDataLength is the largest payload a frame may carry (CAN FD)
	MaxDataLength = 64
	// ClassicDataLength is the payload size of a classic CAN frame
	ClassicDataLength = 8
)

type CANFrame struct {
	Identifier uint32
	Extended   bool
	Data       []byte
}

// NewFrame creates a new 11bit CANFrame and copies the data slice
func NewFrame(identifier uint32, data []byte) *CANFrame {
	d := make([]byte, len(data))
	copy(d, data)
	return &CANFrame{
		Identifier: identifier,
		Data:       d,
	}
}

// NewExtendedFrame creates a new 29bit CANFrame and copies the data slice
func NewExtendedFrame(identifier uint32, data []byte) *CANFrame {
	frame := NewFrame(identifier, data)
	frame.Extended = true
	return frame
}

// Returns the length of the data (DLC)
func (f *CANFrame) DLC() int {
	return len(f.Data)
}

// Validate checks identifier range and payload size
func (f *CANFrame) Validate() error {
	if !ValidIdentifier(f.Identifier, f.Extended) {
		return fmt.Errorf("%w: identifier 0x%X out of range", ErrInvalidFrame, f.Identifier)
	}
	if len(f.Data) > MaxDataLength {
		return fmt.Errorf("%w: %d bytes of data", ErrInvalidFrame, len(f.Data))
	}
	return nil
}

// ValidIdentifier reports if id fits in 11 or 29 bits
func ValidIdentifier(id uint32, extended bool) bool {
	if extended {
		return id <= MaxExtendedID
	}
	return id <= MaxStandardID
}

var (
	yellow = color.New(color.FgHiBlue).SprintfFunc()
	red    = color.New(color.FgRed).SprintfFunc()
	green  = color.New(color.FgGreen).SprintfFunc()
)

func (f *CANFrame) identifierString() string {
	if f.Extended {
		return fmt.Sprintf("0x%08X", f.Identifier)
	}
	return fmt.Sprintf("0x%03X", f.Identifier)
}

func (f *CANFrame) hexView() string {
	var hexView strings.Builder
	for i, b := range f.Data {
		hexView.WriteString(fmt.Sprintf("%02X", b))
		if i != len(f.Data)-1 {
			hexView.WriteString(" ")
		}
	}
	return hexView.String()
}

func (f *CANFrame) binView() string {
	var binView strings.Builder
	for i, b := range f.Data {
		binView.WriteString(fmt.Sprintf("%08b", b))
		if i != len(f.Data)-1 {
			binView.WriteString(" ")
		}
	}
	return binView.String()
}

func (f *CANFrame) String() string {
	var out strings.Builder
	out.WriteString(f.identifierString() + " || ")
	out.WriteString(strconv.Itoa(len(f.Data)) + " || ")
	out.WriteString(fmt.Sprintf("%-23s", f.hexView()))
	out.WriteString(" || ")
	out.WriteString(onlyPrintable(f.Data))
	return out.String()
}

// ColorString is String with the binary view added, colored for terminals
func (f *CANFrame) ColorString() string {
	var out strings.Builder
	out.WriteString(green(f.identifierString()) + " || ")
	out.WriteString(strconv.Itoa(len(f.Data)) + " || ")
	out.WriteString(fmt.Sprintf("%-23s", f.hexView()))
	out.WriteString(" || ")
	out.WriteString(red(fmt.Sprintf("%-72s", f.binView())))
	out.WriteString(" || ")
	out.WriteString(yellow(onlyPrintable(f.Data)))
	return out.String()
}

func onlyPrintable(data []byte) string {
	var out strings.Builder
	for _, b := range data {
		if b < 32 || b > 126 {
			out.WriteString("·")
		} else {
			out.WriteByte(b)
		}
	}
	return out.String()
}
