package adapter

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/avast/retry-go"
	"github.com/roffe/canbridge"
	"go.bug.st/serial"
)

func init() {
	if err := Register(&AdapterInfo{
		Name:               "SLCan",
		Description:        "Canable / Lawicel compatible serial line adapter",
		RequiresSerialPort: true,
		New:                NewSLCan,
	}); err != nil {
		panic(err)
	}
}

type SLCan struct {
	*BaseAdapter
	port serial.Port
	wmu  sync.Mutex
}

func NewSLCan(cfg *Config) (canbridge.Controller, error) {
	if cfg.PortBaudrate == 0 {
		cfg.PortBaudrate = 115200
	}
	return &SLCan{
		BaseAdapter: NewBaseAdapter("SLCan "+cfg.Port, cfg),
	}, nil
}

func (sl *SLCan) Configure(ctx context.Context, cfg canbridge.ControllerConfig) error {
	code, err := slcanBitrate(cfg.Bitrate)
	if err != nil {
		return err
	}
	if err := sl.BaseAdapter.Configure(ctx, cfg); err != nil {
		return err
	}
	if sl.port == nil {
		if err := sl.open(ctx); err != nil {
			return err
		}
		go sl.recvManager()
	}
	if err := sl.command("C"); err != nil {
		return err
	}
	time.Sleep(10 * time.Millisecond)
	return sl.command("S" + string(code))
}

func (sl *SLCan) open(ctx context.Context) error {
	mode := &serial.Mode{
		BaudRate: sl.cfg.PortBaudrate,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}
	return retry.Do(
		func() error {
			p, err := serial.Open(sl.cfg.Port, mode)
			if err != nil {
				return fmt.Errorf("failed to open com port %q: %w", sl.cfg.Port, err)
			}
			if err := p.SetReadTimeout(10 * time.Millisecond); err != nil {
				p.Close()
				return err
			}
			p.ResetOutputBuffer()
			p.ResetInputBuffer()
			sl.port = p
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(200*time.Millisecond),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.WithError(err).Warnf("open %s, attempt %d", sl.cfg.Port, n+1)
		}),
	)
}

func (sl *SLCan) SetMode(ctx context.Context, mode canbridge.Mode) error {
	var cmd string
	switch mode {
	case canbridge.ModeConfiguration:
		cmd = "C"
	case canbridge.ModeNormal:
		cmd = "O"
	case canbridge.ModeListenOnly:
		cmd = "L"
	default:
		return fmt.Errorf("slcan does not support %s mode", mode)
	}
	if err := sl.command(cmd); err != nil {
		return err
	}
	return sl.BaseAdapter.SetMode(ctx, mode)
}

func (sl *SLCan) Transmit(ctx context.Context, fifo canbridge.FIFO, frame *canbridge.CANFrame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := sl.checkTransmit(fifo, frame); err != nil {
		return err
	}
	if frame.DLC() > canbridge.ClassicDataLength {
		return canbridge.Unrecoverable(fmt.Errorf("%w: %d bytes on a classic slcan link", canbridge.ErrInvalidFrame, frame.DLC()))
	}
	return sl.command(encodeSLCanFrame(frame))
}

func (sl *SLCan) command(cmd string) error {
	if sl.port == nil {
		return canbridge.Unrecoverable(errors.New("slcan port not open"))
	}
	sl.wmu.Lock()
	defer sl.wmu.Unlock()
	if sl.cfg.Debug {
		log.Debugf(">> %s", cmd)
	}
	if _, err := sl.port.Write([]byte(cmd + "\r")); err != nil {
		return fmt.Errorf("failed to write to com port: %s, %w", cmd, err)
	}
	return nil
}

func (sl *SLCan) recvManager() {
	buff := bytes.NewBuffer(nil)
	readBuffer := make([]byte, 64)
	for {
		if sl.closed() {
			return
		}
		n, err := sl.port.Read(readBuffer)
		if err != nil {
			if !sl.closed() {
				sl.onError(fmt.Errorf("failed to read com port: %w", err))
			}
			return
		}
		if n == 0 {
			continue
		}
		sl.parse(buff, readBuffer[:n])
	}
}

func (sl *SLCan) parse(buff *bytes.Buffer, readBuffer []byte) {
	for _, b := range readBuffer {
		switch b {
		case 0x07: // bell, last command was not understood
			buff.Reset()
			sl.onError(errors.New("slcan: unknown command"))
			continue
		case '\r':
		default:
			buff.WriteByte(b)
			continue
		}
		if buff.Len() == 0 {
			continue
		}
		by := buff.Bytes()
		switch by[0] {
		case 'F':
			if berr := decodeSLCanStatus(by); berr != nil {
				sl.reportError(berr)
			}
		case 't', 'T':
			if sl.cfg.Debug {
				log.Debugf("<< %s", buff.String())
			}
			f, err := decodeSLCanFrame(by)
			if err != nil {
				sl.onError(err)
				break
			}
			sl.deliver(f)
		case 'z', 'Z':
			// transmit ack
		default:
			if sl.cfg.Debug {
				log.Debugf("unknown << %q", buff.String())
			}
		}
		buff.Reset()
	}
}

func (sl *SLCan) Close() error {
	if sl.closed() {
		return nil
	}
	var err error
	if sl.port != nil {
		sl.command("C")
		time.Sleep(10 * time.Millisecond)
	}
	sl.BaseAdapter.Close()
	if sl.port != nil {
		err = sl.port.Close()
	}
	return err
}

// slcanBitrate maps a bitrate in bit/s to the Sn setup code
func slcanBitrate(bitrate uint32) (byte, error) {
	switch bitrate {
	case 10000:
		return '0', nil
	case 20000:
		return '1', nil
	case 50000:
		return '2', nil
	case 100000:
		return '3', nil
	case 125000:
		return '4', nil
	case 250000:
		return '5', nil
	case 500000:
		return '6', nil
	case 800000:
		return '7', nil
	case 1000000:
		return '8', nil
	}
	return 0, fmt.Errorf("slcan: unsupported bitrate %d", bitrate)
}

func encodeSLCanFrame(frame *canbridge.CANFrame) string {
	if frame.Extended {
		return fmt.Sprintf("T%08X%d%X", frame.Identifier, frame.DLC(), frame.Data)
	}
	return fmt.Sprintf("t%03X%d%X", frame.Identifier, frame.DLC(), frame.Data)
}

func decodeSLCanFrame(buff []byte) (*canbridge.CANFrame, error) {
	idLen := 3
	if buff[0] == 'T' {
		idLen = 8
	}
	if len(buff) < 2+idLen {
		return nil, fmt.Errorf("slcan: short frame %q", buff)
	}
	id, err := strconv.ParseUint(string(buff[1:1+idLen]), 16, 32)
	if err != nil {
		return nil, fmt.Errorf("slcan: failed to decode identifier: %w", err)
	}
	dlc := int(buff[1+idLen] - '0')
	if dlc < 0 || dlc > canbridge.ClassicDataLength {
		return nil, fmt.Errorf("slcan: invalid length %q", buff[1+idLen])
	}
	body := buff[2+idLen:]
	if len(body) < dlc*2 {
		return nil, fmt.Errorf("slcan: frame body %q shorter than length %d", body, dlc)
	}
	data, err := hex.DecodeString(string(body[:dlc*2]))
	if err != nil {
		return nil, fmt.Errorf("slcan: failed to decode frame body: %w", err)
	}
	frame := canbridge.NewFrame(uint32(id), data)
	frame.Extended = idLen == 8
	return frame, nil
}

// decodeSLCanStatus translates a status flags reply (Fxx) into a bus error, bit
// layout follows the SJA1000 status register.
func decodeSLCanStatus(b []byte) *canbridge.BusError {
	if len(b) < 3 {
		return nil
	}
	v, err := strconv.ParseUint(string(b[1:3]), 16, 8)
	if err != nil || v == 0 {
		return nil
	}
	flags := []struct {
		bit  uint
		kind canbridge.BusErrorKind
		desc string
	}{
		{7, canbridge.BusErrorBit, "bus error (BEI)"},
		{6, canbridge.BusErrorArbitrationLost, "arbitration lost (ALI)"},
		{5, canbridge.BusErrorPassive, "error passive (EPI)"},
		{3, canbridge.BusErrorRxOverflow, "data overrun (DOI)"},
		{0, canbridge.BusErrorRxOverflow, "receive fifo full"},
		{1, canbridge.BusErrorTxTimeout, "transmit fifo full"},
		{2, canbridge.BusErrorUnknown, "error warning (EI)"},
	}
	for _, f := range flags {
		if v&(1<<f.bit) != 0 {
			return &canbridge.BusError{Kind: f.kind, Description: f.desc}
		}
	}
	return nil
}
