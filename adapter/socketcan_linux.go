package adapter

import (
	"context"
	"fmt"
	"net"
	"runtime"
	"strings"

	"github.com/roffe/canbridge"
	"go.einride.tech/can"
	"go.einride.tech/can/pkg/candevice"
	"go.einride.tech/can/pkg/socketcan"
)

func init() {
	if err := Register(&AdapterInfo{
		Name:        "SocketCAN",
		Description: "Linux SocketCAN, classic frames",
		New:         NewSocketCAN,
	}); err != nil {
		panic(err)
	}
}

type SocketCAN struct {
	*BaseAdapter
	d    *candevice.Device
	conn net.Conn
	tx   *socketcan.Transmitter
	rx   *socketcan.Receiver
}

func NewSocketCAN(cfg *Config) (canbridge.Controller, error) {
	if cfg.Port == "" {
		cfg.Port = "can0"
	}
	return &SocketCAN{
		BaseAdapter: NewBaseAdapter("SocketCAN "+cfg.Port, cfg),
	}, nil
}

func (a *SocketCAN) Configure(ctx context.Context, cfg canbridge.ControllerConfig) error {
	if err := a.BaseAdapter.Configure(ctx, cfg); err != nil {
		return err
	}
	if a.conn != nil {
		return nil
	}
	if a.cfg.ManageLink {
		d, err := candevice.New(a.cfg.Port)
		if err != nil {
			return fmt.Errorf("open %s: %w", a.cfg.Port, err)
		}
		if err := d.SetDown(); err != nil {
			return fmt.Errorf("%s down: %w", a.cfg.Port, err)
		}
		if err := d.SetBitrate(cfg.Bitrate); err != nil {
			return fmt.Errorf("%s bitrate %d: %w", a.cfg.Port, cfg.Bitrate, err)
		}
		if err := d.SetUp(); err != nil {
			return fmt.Errorf("%s up: %w", a.cfg.Port, err)
		}
		a.d = d
	}
	conn, err := socketcan.DialContext(ctx, "can", a.cfg.Port)
	if err != nil {
		return fmt.Errorf("dial %s: %w", a.cfg.Port, err)
	}
	a.conn = conn
	a.tx = socketcan.NewTransmitter(conn)
	a.rx = socketcan.NewReceiver(conn)
	go a.recvManager()
	return nil
}

func (a *SocketCAN) Transmit(ctx context.Context, fifo canbridge.FIFO, frame *canbridge.CANFrame) error {
	if err := a.checkTransmit(fifo, frame); err != nil {
		return err
	}
	if frame.DLC() > canbridge.ClassicDataLength {
		return canbridge.Unrecoverable(fmt.Errorf("%w: %d bytes on a classic CAN socket", canbridge.ErrInvalidFrame, frame.DLC()))
	}
	f := can.Frame{
		ID:         frame.Identifier,
		Length:     uint8(frame.DLC()),
		IsExtended: frame.Extended,
	}
	copy(f.Data[:], frame.Data)
	if a.cfg.Debug {
		log.Debugf(">> %s", frame.String())
	}
	if err := a.tx.TransmitFrame(ctx, f); err != nil {
		return fmt.Errorf("send error: %w", err)
	}
	return nil
}

func (a *SocketCAN) recvManager() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	for a.rx.Receive() {
		if a.rx.HasErrorFrame() {
			a.reportError(socketCANBusError(a.rx.ErrorFrame()))
			continue
		}
		f := a.rx.Frame()
		if f.IsRemote {
			continue
		}
		frame := canbridge.NewFrame(f.ID, f.Data[:f.Length])
		frame.Extended = f.IsExtended
		if a.cfg.Debug {
			log.Debugf("<< %s", frame.String())
		}
		a.deliver(frame)
	}
	if err := a.rx.Err(); err != nil && !a.closed() {
		a.onError(fmt.Errorf("%s receive: %w", a.cfg.Port, err))
	}
}

// socketCANBusError maps a kernel error frame onto a bus error kind. The most severe
// class wins when several bits are set.
func socketCANBusError(ef socketcan.ErrorFrame) *canbridge.BusError {
	be := &canbridge.BusError{Description: ef.String()}
	class := ef.ErrorClass
	switch {
	case class&socketcan.ErrorClassBusOff != 0:
		be.Kind = canbridge.BusErrorBusOff
	case class&socketcan.ErrorClassTxTimeout != 0:
		be.Kind = canbridge.BusErrorTxTimeout
	case class&socketcan.ErrorClassLostArbitration != 0:
		be.Kind = canbridge.BusErrorArbitrationLost
	case class&socketcan.ErrorClassNoAck != 0:
		be.Kind = canbridge.BusErrorAck
	case class&socketcan.ErrorClassController != 0:
		switch {
		case ef.ControllerError&socketcan.ControllerErrorRxBufferOverflow != 0:
			be.Kind = canbridge.BusErrorRxOverflow
		case ef.ControllerError&(socketcan.ControllerErrorRxPassive|socketcan.ControllerErrorTxPassive) != 0:
			be.Kind = canbridge.BusErrorPassive
		}
	case class&socketcan.ErrorClassProtocolViolation != 0:
		pe := ef.ProtocolError
		switch {
		case pe&(socketcan.ProtocolViolationErrorSingleBit|socketcan.ProtocolViolationErrorBit0|socketcan.ProtocolViolationErrorBit1) != 0:
			be.Kind = canbridge.BusErrorBit
		case pe&socketcan.ProtocolViolationErrorFrameFormat != 0:
			be.Kind = canbridge.BusErrorForm
		case pe&socketcan.ProtocolViolationErrorBitStuffing != 0:
			be.Kind = canbridge.BusErrorStuff
		default:
			be.Kind = canbridge.BusErrorCRC
		}
	case class&socketcan.ErrorClassBusError != 0:
		be.Kind = canbridge.BusErrorBit
	}
	return be
}

func (a *SocketCAN) Close() error {
	a.BaseAdapter.Close()
	var err error
	if a.rx != nil {
		err = a.rx.Close()
	}
	if a.d != nil {
		if derr := a.d.SetDown(); derr != nil && err == nil {
			err = derr
		}
	}
	return err
}

// FindDevices lists network interfaces that look like CAN interfaces
func FindDevices() (dev []string) {
	iFaces, _ := net.Interfaces()
	for _, i := range iFaces {
		if strings.Contains(i.Name, "can") {
			dev = append(dev, i.Name)
		}
	}
	return
}
