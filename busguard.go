package canbridge

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// BusGuard serializes access to one physical bus shared by several controllers.
// The bus is held for exactly one controller transaction.
type BusGuard struct {
	sem *semaphore.Weighted
}

func NewBusGuard() *BusGuard {
	return &BusGuard{
		sem: semaphore.NewWeighted(1),
	}
}

// Do runs fn while holding the bus
func (g *BusGuard) Do(ctx context.Context, fn func() error) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer g.sem.Release(1)
	return fn()
}

// Guard returns c with every transaction running under Do
func (g *BusGuard) Guard(c Controller) Controller {
	return &guarded{c: c, g: g}
}

type guarded struct {
	c Controller
	g *BusGuard
}

func (w *guarded) Name() string {
	return w.c.Name()
}

func (w *guarded) Configure(ctx context.Context, cfg ControllerConfig) error {
	return w.g.Do(ctx, func() error {
		return w.c.Configure(ctx, cfg)
	})
}

func (w *guarded) ConfigureFIFO(ctx context.Context, cfg FIFOConfig) error {
	return w.g.Do(ctx, func() error {
		return w.c.ConfigureFIFO(ctx, cfg)
	})
}

func (w *guarded) ConfigureFilter(ctx context.Context, cfg FilterConfig) error {
	return w.g.Do(ctx, func() error {
		return w.c.ConfigureFilter(ctx, cfg)
	})
}

func (w *guarded) SetMode(ctx context.Context, mode Mode) error {
	return w.g.Do(ctx, func() error {
		return w.c.SetMode(ctx, mode)
	})
}

func (w *guarded) Transmit(ctx context.Context, fifo FIFO, frame *CANFrame) error {
	return w.g.Do(ctx, func() error {
		return w.c.Transmit(ctx, fifo, frame)
	})
}

func (w *guarded) Receive(ctx context.Context, hint FIFO) (FIFO, *CANFrame, error) {
	var (
		fifo  FIFO = NoFIFO
		frame *CANFrame
	)
	err := w.g.Do(ctx, func() error {
		var err error
		fifo, frame, err = w.c.Receive(ctx, hint)
		return err
	})
	return fifo, frame, err
}

func (w *guarded) Interrupt() <-chan struct{} {
	return w.c.Interrupt()
}

func (w *guarded) Close() error {
	return w.c.Close()
}
