package adapter

import (
	"context"
	"sync"

	"github.com/roffe/canbridge"
)

func init() {
	if err := Register(&AdapterInfo{
		Name:        "Virtual",
		Description: "In-memory controller with a simulated vehicle",
		New: func(cfg *Config) (canbridge.Controller, error) {
			return NewVirtual("Virtual", cfg), nil
		},
	}); err != nil {
		panic(err)
	}
}

// Transmission is a frame sent through a Virtual controller
type Transmission struct {
	FIFO  canbridge.FIFO
	Frame *canbridge.CANFrame
}

// Virtual is an in-memory controller. Frames enter through Inject and leave through
// Transmitted and the OnTransmit hook.
type Virtual struct {
	*BaseAdapter

	sent chan Transmission

	mu         sync.Mutex
	onTransmit []func(canbridge.FIFO, *canbridge.CANFrame)
	failCount  int
	failErr    error
}

func NewVirtual(name string, cfg *Config) *Virtual {
	return &Virtual{
		BaseAdapter: NewBaseAdapter(name, cfg),
		sent:        make(chan Transmission, 1024),
	}
}

func (v *Virtual) Transmit(ctx context.Context, fifo canbridge.FIFO, frame *canbridge.CANFrame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := v.checkTransmit(fifo, frame); err != nil {
		return err
	}

	v.mu.Lock()
	if v.failCount > 0 {
		v.failCount--
		err := v.failErr
		v.mu.Unlock()
		return err
	}
	hooks := append([]func(canbridge.FIFO, *canbridge.CANFrame){}, v.onTransmit...)
	v.mu.Unlock()

	out := canbridge.NewFrame(frame.Identifier, frame.Data)
	out.Extended = frame.Extended
	if v.cfg.Debug {
		log.Debugf("%s >> %s", v.name, out.String())
	}
	select {
	case v.sent <- Transmission{FIFO: fifo, Frame: out}:
	default:
	}
	for _, fn := range hooks {
		fn(fifo, out)
	}
	if v.Mode() == canbridge.ModeLoopback {
		v.Inject(out)
	}
	return nil
}

// Inject puts a frame on the simulated bus as if another node sent it
func (v *Virtual) Inject(frame *canbridge.CANFrame) {
	in := canbridge.NewFrame(frame.Identifier, frame.Data)
	in.Extended = frame.Extended
	if v.cfg.Debug {
		log.Debugf("%s << %s", v.name, in.String())
	}
	v.deliver(in)
}

// InjectError makes the next Receive report err
func (v *Virtual) InjectError(err canbridge.BusError) {
	v.reportError(&err)
}

// Transmitted returns every frame sent so far, in order
func (v *Virtual) Transmitted() <-chan Transmission {
	return v.sent
}

// OnTransmit registers fn to be called after each successful transmission
func (v *Virtual) OnTransmit(fn func(canbridge.FIFO, *canbridge.CANFrame)) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.onTransmit = append(v.onTransmit, fn)
}

// FailTransmit makes the next n transmissions return err
func (v *Virtual) FailTransmit(n int, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.failCount = n
	v.failErr = err
}
