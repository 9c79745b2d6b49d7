// Package bridge runs the query, receive, sampling and forwarding tasks between the
// diagnostic bus and the downstream bus.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/roffe/canbridge"
	"github.com/roffe/canbridge/pkg/config"
	"github.com/roffe/canbridge/pkg/isotp"
	"github.com/roffe/canbridge/pkg/metrics"
	"github.com/roffe/canbridge/pkg/pipeline"
	"github.com/roffe/canbridge/pkg/sensor"
	"github.com/roffe/canbridge/pkg/telemetry"
	"github.com/roffe/canbridge/pkg/uds"
	"github.com/skycoin/skycoin/src/util/logging"
	"golang.org/x/sync/errgroup"
)

var log = logging.MustGetLogger("bridge")

type Options struct {
	Config *config.Config
	// Diagnostic talks to the ECUs, Downstream to the peripheral
	Diagnostic canbridge.Controller
	Downstream canbridge.Controller
	// Sensor is optional
	Sensor  sensor.Sampler
	Metrics metrics.Recorder
	// DumpFrames logs every received diagnostic frame at debug level
	DumpFrames bool
}

type Bridge struct {
	cfg        *config.Config
	guard      *canbridge.BusGuard
	diag       canbridge.Controller
	downstream canbridge.Controller
	table      *uds.Table
	queue      *pipeline.Queue
	m          metrics.Recorder

	scheduler   *Scheduler
	dispatcher  *Dispatcher
	transmitter *Transmitter
	sampler     *Sampler
}

func New(opts Options) (*Bridge, error) {
	if opts.Diagnostic == nil || opts.Downstream == nil {
		return nil, errors.New("bridge needs both a diagnostic and a downstream controller")
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	table, err := cfg.Table()
	if err != nil {
		return nil, err
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.NewDummy()
	}

	guard := canbridge.NewBusGuard()
	diag := guard.Guard(opts.Diagnostic)
	downstream := opts.Downstream
	if cfg.SharedBus {
		downstream = guard.Guard(downstream)
	}
	queue := pipeline.NewQueue(cfg.Pipeline.Capacity, m.Backpressure)
	dest := cfg.Destinations()

	b := &Bridge{
		cfg:        cfg,
		guard:      guard,
		diag:       diag,
		downstream: downstream,
		table:      table,
		queue:      queue,
		m:          m,
	}
	b.scheduler = &Scheduler{
		c:       diag,
		fifo:    canbridge.FIFO(cfg.Diagnostic.TxFIFO),
		ecus:    table.ECUs(),
		period:  cfg.Scheduler.Period,
		spacing: cfg.Scheduler.Spacing,
		m:       m,
	}
	b.dispatcher = &Dispatcher{
		c:       diag,
		r:       isotp.New(cfg.Reassembly(), diag, observer{m}),
		table:   table,
		out:     queue,
		dest:    dest,
		m:       m,
		backoff: DefaultFaultBackoff,
		dump:    opts.DumpFrames,
	}
	b.transmitter = &Transmitter{
		c:        downstream,
		fifo:     canbridge.FIFO(cfg.Downstream.TxFIFO),
		q:        queue,
		attempts: cfg.Downstream.Retries + 1,
		delay:    cfg.Downstream.RetryDelay,
		m:        m,
	}
	if opts.Sensor != nil {
		b.sampler = &Sampler{
			s:      opts.Sensor,
			period: cfg.Sensor.Period,
			out:    queue,
			dest:   dest,
		}
	}
	return b, nil
}

// Queue is the forwarding queue shared by every producer
func (b *Bridge) Queue() *pipeline.Queue {
	return b.queue
}

func (b *Bridge) Table() *uds.Table {
	return b.table
}

// Run configures both controllers and runs every task until ctx is done or one of
// them fails. A controller that cannot be configured is fatal.
func (b *Bridge) Run(ctx context.Context) error {
	if err := b.setupDiagnostic(ctx); err != nil {
		return fmt.Errorf("diagnostic bus %s: %w", b.diag.Name(), err)
	}
	if err := b.setupDownstream(ctx); err != nil {
		return fmt.Errorf("downstream bus %s: %w", b.downstream.Name(), err)
	}
	log.Infof("controllers configured, settling for %s", b.cfg.SettleDelay)
	if err := sleep(ctx, b.cfg.SettleDelay); err != nil {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return b.scheduler.Run(gctx) })
	g.Go(func() error { return b.dispatcher.Run(gctx) })
	g.Go(func() error { return b.transmitter.Run(gctx) })
	if b.sampler != nil {
		g.Go(func() error { return b.sampler.Run(gctx) })
	}
	err := g.Wait()
	if ctx.Err() != nil {
		log.Info("bridge stopped")
		return nil
	}
	return err
}

func (b *Bridge) setupDiagnostic(ctx context.Context) error {
	bus := b.cfg.Diagnostic
	if err := b.diag.Configure(ctx, bus.Controller()); err != nil {
		return err
	}
	if err := b.diag.ConfigureFIFO(ctx, bus.TxFIFOConfig()); err != nil {
		return err
	}
	depth := bus.RxDepth
	if depth <= 0 {
		depth = 16
	}
	for _, e := range b.table.ECUs() {
		if err := b.diag.ConfigureFIFO(ctx, canbridge.FIFOConfig{
			FIFO:        e.FIFO,
			Direction:   canbridge.RX,
			Depth:       depth,
			PayloadSize: bus.Payload,
		}); err != nil {
			return fmt.Errorf("%s: %w", e.Name, err)
		}
		if err := b.diag.ConfigureFilter(ctx, canbridge.FilterConfig{
			FIFO:     e.FIFO,
			Match:    e.Response(),
			Mask:     canbridge.ExactMask,
			Extended: e.Extended,
		}); err != nil {
			return fmt.Errorf("%s: %w", e.Name, err)
		}
		log.Debugf("%s answers on %s", e, e.FIFO)
	}
	return b.diag.SetMode(ctx, canbridge.ModeNormal)
}

func (b *Bridge) setupDownstream(ctx context.Context) error {
	bus := b.cfg.Downstream.BusConfig
	if err := b.downstream.Configure(ctx, bus.Controller()); err != nil {
		return err
	}
	if err := b.downstream.ConfigureFIFO(ctx, bus.TxFIFOConfig()); err != nil {
		return err
	}
	return b.downstream.SetMode(ctx, canbridge.ModeNormal)
}

// forward wraps a record for the forwarding queue
func forward(ctx context.Context, q *pipeline.Queue, dest telemetry.Destinations, rec telemetry.Record) error {
	return q.Push(ctx, pipeline.Item{Destination: dest.For(rec.Kind()), Record: rec})
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type observer struct {
	m metrics.Recorder
}

func (o observer) SequenceGap(uint32, uint8, uint8) {
	o.m.SequenceGap()
}

func (o observer) SessionAborted(source uint32, reason isotp.Reason) {
	log.Debugf("0x%03X: transfer aborted, %s", source, reason)
	o.m.SessionAborted(reason.String())
}
