package adapter

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/roffe/canbridge"
	"golang.org/x/sys/unix"
)

func init() {
	if err := Register(&AdapterInfo{
		Name:        "SocketCAN-FD",
		Description: "Linux SocketCAN raw socket with CAN FD frames",
		New:         NewSocketCANFD,
	}); err != nil {
		panic(err)
	}
}

// from linux/can.h and linux/can/raw.h
const (
	canRaw            = 1
	solCANRaw         = 101
	canRawErrFilter   = 2
	canRawFDFrames    = 5
	canEFFFlag        = 0x80000000
	canRTRFlag        = 0x40000000
	canERRFlag        = 0x20000000
	canEFFMask        = 0x1FFFFFFF
	canSFFMask        = 0x7FF
	canMTU            = 16
	canFDMTU          = 72
	canErrMask        = 0x1FFFFFFF
	canErrTxTimeout   = 0x001
	canErrLostArb     = 0x002
	canErrController  = 0x004
	canErrProtocol    = 0x008
	canErrAck         = 0x020
	canErrBusOff      = 0x040
	canErrBusError    = 0x080
	canErrCtrlRxOver  = 0x01
	canErrCtrlPassive = 0x30
	canErrProtBit     = 0x01
	canErrProtForm    = 0x02
	canErrProtStuff   = 0x04
)

// SocketCANFD talks to a raw CAN socket with CAN_RAW_FD_FRAMES enabled so
// payloads up to 64 bytes can be sent.
type SocketCANFD struct {
	*BaseAdapter
	fd int
}

func NewSocketCANFD(cfg *Config) (canbridge.Controller, error) {
	if cfg.Port == "" {
		cfg.Port = "can0"
	}
	return &SocketCANFD{
		BaseAdapter: NewBaseAdapter("SocketCAN-FD "+cfg.Port, cfg),
		fd:          -1,
	}, nil
}

func (a *SocketCANFD) Configure(ctx context.Context, cfg canbridge.ControllerConfig) error {
	if err := a.BaseAdapter.Configure(ctx, cfg); err != nil {
		return err
	}
	if a.fd >= 0 {
		return nil
	}
	fd, err := openFDSocket(a.cfg.Port)
	if err != nil {
		return err
	}
	a.fd = fd
	go a.recvManager()
	return nil
}

func openFDSocket(ifname string) (int, error) {
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, canRaw)
	if err != nil {
		return -1, fmt.Errorf("failed to create CAN socket: %w", err)
	}
	fail := func(what string, err error) (int, error) {
		unix.Close(fd)
		return -1, fmt.Errorf("%s %s: %w", what, ifname, err)
	}
	ifreq, err := unix.NewIfreq(ifname)
	if err != nil {
		return fail("ifreq", err)
	}
	if err := unix.IoctlIfreq(fd, unix.SIOCGIFINDEX, ifreq); err != nil {
		return fail("interface index", err)
	}
	if err := unix.SetsockoptInt(fd, solCANRaw, canRawFDFrames, 1); err != nil {
		return fail("enable fd frames", err)
	}
	if err := unix.SetsockoptInt(fd, solCANRaw, canRawErrFilter, canErrMask); err != nil {
		return fail("error filter", err)
	}
	// lets the read loop notice Close
	tv := unix.Timeval{Usec: 100000}
	if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
		return fail("read timeout", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrCAN{Ifindex: int(ifreq.Uint32())}); err != nil {
		return fail("bind", err)
	}
	return fd, nil
}

func (a *SocketCANFD) Transmit(ctx context.Context, fifo canbridge.FIFO, frame *canbridge.CANFrame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := a.checkTransmit(fifo, frame); err != nil {
		return err
	}
	if a.fd < 0 {
		return canbridge.Unrecoverable(errors.New("socket not open"))
	}
	buf := marshalFDFrame(frame)
	if a.cfg.Debug {
		log.Debugf(">> %s", frame.String())
	}
	n, err := unix.Write(a.fd, buf)
	if err != nil {
		if errors.Is(err, unix.ENOBUFS) || errors.Is(err, unix.EAGAIN) {
			return fmt.Errorf("%w: %v", canbridge.ErrTxFIFOFull, err)
		}
		return fmt.Errorf("send error: %w", err)
	}
	if n != len(buf) {
		return fmt.Errorf("short write %d of %d bytes", n, len(buf))
	}
	return nil
}

func (a *SocketCANFD) recvManager() {
	buf := make([]byte, canFDMTU)
	for !a.closed() {
		n, err := unix.Read(a.fd, buf)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
				continue
			}
			if !a.closed() {
				a.onError(fmt.Errorf("%s read error: %w", a.cfg.Port, err))
			}
			return
		}
		if n != canMTU && n != canFDMTU {
			a.onError(fmt.Errorf("incomplete CAN frame received: %d bytes", n))
			continue
		}
		frame, berr := unmarshalFDFrame(buf[:n])
		if berr != nil {
			a.reportError(berr)
			continue
		}
		if frame == nil {
			continue
		}
		if a.cfg.Debug {
			log.Debugf("<< %s", frame.String())
		}
		a.deliver(frame)
	}
}

func (a *SocketCANFD) Close() error {
	a.BaseAdapter.Close()
	if a.fd < 0 {
		return nil
	}
	return unix.Close(a.fd)
}

var fdLengths = []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 12, 16, 20, 24, 32, 48, 64}

// fdLength rounds n up to the next length a CAN FD DLC can express
func fdLength(n int) int {
	for _, l := range fdLengths {
		if n <= l {
			return l
		}
	}
	return canbridge.MaxDataLength
}

func marshalFDFrame(frame *canbridge.CANFrame) []byte {
	id := frame.Identifier
	if frame.Extended {
		id = id&canEFFMask | canEFFFlag
	}
	size := canMTU
	length := frame.DLC()
	if length > canbridge.ClassicDataLength {
		size = canFDMTU
		length = fdLength(length)
	}
	buf := make([]byte, size)
	binary.LittleEndian.PutUint32(buf[0:4], id)
	buf[4] = byte(length)
	copy(buf[8:], frame.Data)
	return buf
}

// unmarshalFDFrame returns the data frame in raw, or the bus error it reports.
// Remote frames yield neither.
func unmarshalFDFrame(raw []byte) (*canbridge.CANFrame, *canbridge.BusError) {
	id := binary.LittleEndian.Uint32(raw[0:4])
	if id&canERRFlag != 0 {
		return nil, fdBusError(id&canErrMask, raw[8:])
	}
	if id&canRTRFlag != 0 {
		return nil, nil
	}
	length := int(raw[4])
	if length > len(raw)-8 {
		length = len(raw) - 8
	}
	if id&canEFFFlag != 0 {
		return canbridge.NewExtendedFrame(id&canEFFMask, raw[8:8+length]), nil
	}
	return canbridge.NewFrame(id&canSFFMask, raw[8:8+length]), nil
}

func fdBusError(class uint32, data []byte) *canbridge.BusError {
	be := &canbridge.BusError{Description: fmt.Sprintf("error class 0x%03X", class)}
	switch {
	case class&canErrBusOff != 0:
		be.Kind = canbridge.BusErrorBusOff
	case class&canErrTxTimeout != 0:
		be.Kind = canbridge.BusErrorTxTimeout
	case class&canErrLostArb != 0:
		be.Kind = canbridge.BusErrorArbitrationLost
	case class&canErrAck != 0:
		be.Kind = canbridge.BusErrorAck
	case class&canErrController != 0 && len(data) > 1:
		switch {
		case data[1]&canErrCtrlRxOver != 0:
			be.Kind = canbridge.BusErrorRxOverflow
		case data[1]&canErrCtrlPassive != 0:
			be.Kind = canbridge.BusErrorPassive
		}
	case class&canErrProtocol != 0 && len(data) > 2:
		switch {
		case data[2]&canErrProtBit != 0:
			be.Kind = canbridge.BusErrorBit
		case data[2]&canErrProtForm != 0:
			be.Kind = canbridge.BusErrorForm
		case data[2]&canErrProtStuff != 0:
			be.Kind = canbridge.BusErrorStuff
		default:
			be.Kind = canbridge.BusErrorCRC
		}
	case class&canErrBusError != 0:
		be.Kind = canbridge.BusErrorBit
	}
	return be
}
