package adapter

import (
	"context"
	"fmt"
	"sync"

	"github.com/roffe/canbridge"
	"github.com/skycoin/skycoin/src/util/logging"
)

var log = logging.MustGetLogger("adapter")

const errorQueueDepth = 16

type rxQueue struct {
	cfg    canbridge.FIFOConfig
	frames chan *canbridge.CANFrame
}

// BaseAdapter emulates the controller's hardware queues and acceptance filters for
// adapters that only see a raw stream of frames.
type BaseAdapter struct {
	name string
	cfg  *Config

	mu      sync.Mutex
	ctrl    canbridge.ControllerConfig
	mode    canbridge.Mode
	tx      map[canbridge.FIFO]canbridge.FIFOConfig
	rx      map[canbridge.FIFO]*rxQueue
	order   []canbridge.FIFO
	filters []canbridge.FilterConfig

	errs  chan *canbridge.BusError
	irq   chan struct{}
	close chan struct{}
	once  sync.Once
}

func NewBaseAdapter(name string, cfg *Config) *BaseAdapter {
	if cfg == nil {
		cfg = &Config{}
	}
	return &BaseAdapter{
		name:  name,
		cfg:   cfg,
		mode:  canbridge.ModeConfiguration,
		tx:    make(map[canbridge.FIFO]canbridge.FIFOConfig),
		rx:    make(map[canbridge.FIFO]*rxQueue),
		errs:  make(chan *canbridge.BusError, errorQueueDepth),
		irq:   make(chan struct{}, 1),
		close: make(chan struct{}),
	}
}

func (base *BaseAdapter) Name() string {
	return base.name
}

// Configure resets every queue and filter and enters configuration mode
func (base *BaseAdapter) Configure(_ context.Context, cfg canbridge.ControllerConfig) error {
	if base.closed() {
		return canbridge.ErrClosed
	}
	base.mu.Lock()
	defer base.mu.Unlock()
	base.ctrl = cfg
	base.mode = canbridge.ModeConfiguration
	base.tx = make(map[canbridge.FIFO]canbridge.FIFOConfig)
	base.rx = make(map[canbridge.FIFO]*rxQueue)
	base.order = nil
	base.filters = nil
	return nil
}

func (base *BaseAdapter) ConfigureFIFO(_ context.Context, cfg canbridge.FIFOConfig) error {
	if cfg.FIFO == canbridge.NoFIFO {
		return fmt.Errorf("invalid fifo number %d", cfg.FIFO)
	}
	if cfg.Depth <= 0 {
		return fmt.Errorf("%s: depth must be positive", cfg.FIFO)
	}
	if cfg.PayloadSize <= 0 || cfg.PayloadSize > canbridge.MaxDataLength {
		return fmt.Errorf("%s: invalid payload size %d", cfg.FIFO, cfg.PayloadSize)
	}
	base.mu.Lock()
	defer base.mu.Unlock()
	if base.mode != canbridge.ModeConfiguration {
		return fmt.Errorf("%s: fifo setup requires configuration mode, controller is in %s mode", cfg.FIFO, base.mode)
	}
	_, isTX := base.tx[cfg.FIFO]
	_, isRX := base.rx[cfg.FIFO]
	if isTX || isRX {
		return fmt.Errorf("%s already configured", cfg.FIFO)
	}
	switch cfg.Direction {
	case canbridge.TX:
		base.tx[cfg.FIFO] = cfg
	case canbridge.RX:
		base.rx[cfg.FIFO] = &rxQueue{
			cfg:    cfg,
			frames: make(chan *canbridge.CANFrame, cfg.Depth),
		}
		base.order = append(base.order, cfg.FIFO)
	}
	return nil
}

func (base *BaseAdapter) ConfigureFilter(_ context.Context, cfg canbridge.FilterConfig) error {
	base.mu.Lock()
	defer base.mu.Unlock()
	if base.mode != canbridge.ModeConfiguration {
		return fmt.Errorf("filter setup requires configuration mode, controller is in %s mode", base.mode)
	}
	if _, ok := base.rx[cfg.FIFO]; !ok {
		return fmt.Errorf("filter for %s: %w", cfg.FIFO, canbridge.ErrFIFONotConfigured)
	}
	base.filters = append(base.filters, cfg)
	return nil
}

func (base *BaseAdapter) SetMode(_ context.Context, mode canbridge.Mode) error {
	base.mu.Lock()
	defer base.mu.Unlock()
	base.mode = mode
	return nil
}

func (base *BaseAdapter) Mode() canbridge.Mode {
	base.mu.Lock()
	defer base.mu.Unlock()
	return base.mode
}

// Filters returns the configured acceptance filters
func (base *BaseAdapter) Filters() []canbridge.FilterConfig {
	base.mu.Lock()
	defer base.mu.Unlock()
	return append([]canbridge.FilterConfig(nil), base.filters...)
}

// checkTransmit validates a frame against the controller state and tx fifo setup
func (base *BaseAdapter) checkTransmit(fifo canbridge.FIFO, frame *canbridge.CANFrame) error {
	if base.closed() {
		return canbridge.Unrecoverable(canbridge.ErrClosed)
	}
	if frame == nil {
		return canbridge.Unrecoverable(fmt.Errorf("%w: nil frame", canbridge.ErrInvalidFrame))
	}
	if err := frame.Validate(); err != nil {
		return canbridge.Unrecoverable(err)
	}
	base.mu.Lock()
	defer base.mu.Unlock()
	if base.mode != canbridge.ModeNormal && base.mode != canbridge.ModeLoopback {
		return canbridge.ErrNotNormalMode
	}
	cfg, ok := base.tx[fifo]
	if !ok {
		return canbridge.Unrecoverable(fmt.Errorf("transmit on %s: %w", fifo, canbridge.ErrFIFONotConfigured))
	}
	if frame.DLC() > cfg.PayloadSize {
		return canbridge.Unrecoverable(fmt.Errorf("%w: %d bytes exceeds %s payload size %d", canbridge.ErrInvalidFrame, frame.DLC(), fifo, cfg.PayloadSize))
	}
	return nil
}

// deliver routes an incoming frame to the first rx fifo whose filter accepts it
func (base *BaseAdapter) deliver(frame *canbridge.CANFrame) {
	base.mu.Lock()
	if base.mode == canbridge.ModeConfiguration {
		base.mu.Unlock()
		return
	}
	var q *rxQueue
	for _, f := range base.filters {
		if f.Matches(frame) {
			q = base.rx[f.FIFO]
			break
		}
	}
	base.mu.Unlock()
	if q == nil {
		return
	}
	if frame.DLC() > q.cfg.PayloadSize {
		frame.Data = frame.Data[:q.cfg.PayloadSize]
	}
	select {
	case q.frames <- frame:
		base.signal()
	default:
		base.reportError(&canbridge.BusError{
			Kind:        canbridge.BusErrorRxOverflow,
			Description: fmt.Sprintf("%s full, dropped 0x%03X", q.cfg.FIFO, frame.Identifier),
		})
	}
}

// reportError queues a controller error for the next Receive call
func (base *BaseAdapter) reportError(err *canbridge.BusError) {
	select {
	case base.errs <- err:
		base.signal()
	default:
		log.Warnf("%s: error queue full, dropped %v", base.name, err)
	}
}

func (base *BaseAdapter) onError(err error) {
	if base.cfg.OnError != nil {
		base.cfg.OnError(err)
		return
	}
	log.WithError(err).Warnf("%s adapter error", base.name)
}

func (base *BaseAdapter) signal() {
	select {
	case base.irq <- struct{}{}:
	default:
	}
}

func (base *BaseAdapter) Receive(ctx context.Context, hint canbridge.FIFO) (canbridge.FIFO, *canbridge.CANFrame, error) {
	if base.closed() {
		return canbridge.NoFIFO, nil, canbridge.Unrecoverable(canbridge.ErrClosed)
	}
	if err := ctx.Err(); err != nil {
		return canbridge.NoFIFO, nil, err
	}
	select {
	case err := <-base.errs:
		base.resignal()
		return canbridge.NoFIFO, nil, err
	default:
	}

	base.mu.Lock()
	queues := make([]*rxQueue, 0, len(base.order)+1)
	if q, ok := base.rx[hint]; ok {
		queues = append(queues, q)
	}
	for _, fifo := range base.order {
		if fifo != hint {
			queues = append(queues, base.rx[fifo])
		}
	}
	base.mu.Unlock()

	for _, q := range queues {
		select {
		case frame := <-q.frames:
			base.resignal()
			return q.cfg.FIFO, frame, nil
		default:
		}
	}
	return canbridge.NoFIFO, nil, nil
}

// resignal keeps the interrupt asserted while anything is still pending
func (base *BaseAdapter) resignal() {
	if len(base.errs) > 0 {
		base.signal()
		return
	}
	base.mu.Lock()
	defer base.mu.Unlock()
	for _, q := range base.rx {
		if len(q.frames) > 0 {
			base.signal()
			return
		}
	}
}

// Pending returns the number of frames waiting in fifo
func (base *BaseAdapter) Pending(fifo canbridge.FIFO) int {
	base.mu.Lock()
	defer base.mu.Unlock()
	if q, ok := base.rx[fifo]; ok {
		return len(q.frames)
	}
	return 0
}

func (base *BaseAdapter) Interrupt() <-chan struct{} {
	return base.irq
}

func (base *BaseAdapter) Done() <-chan struct{} {
	return base.close
}

func (base *BaseAdapter) closed() bool {
	select {
	case <-base.close:
		return true
	default:
		return false
	}
}

func (base *BaseAdapter) Close() error {
	base.once.Do(func() {
		close(base.close)
	})
	return nil
}
