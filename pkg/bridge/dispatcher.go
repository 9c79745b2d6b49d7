package bridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/roffe/canbridge"
	"github.com/roffe/canbridge/pkg/isotp"
	"github.com/roffe/canbridge/pkg/metrics"
	"github.com/roffe/canbridge/pkg/pipeline"
	"github.com/roffe/canbridge/pkg/telemetry"
	"github.com/roffe/canbridge/pkg/uds"
)

// DefaultFaultBackoff is waited after a controller fault that is not a bus error
const DefaultFaultBackoff = 100 * time.Millisecond

// Dispatcher drains the receive queues, reassembles responses and routes them to
// their decoder. It is the only user of its Reassembler.
type Dispatcher struct {
	c       canbridge.Controller
	r       *isotp.Reassembler
	table   *uds.Table
	out     *pipeline.Queue
	dest    telemetry.Destinations
	m       metrics.Recorder
	backoff time.Duration
	dump    bool
}

func (d *Dispatcher) Run(ctx context.Context) error {
	timer := time.NewTimer(time.Hour)
	stopTimer(timer)
	defer timer.Stop()

	for {
		if err := d.Drain(ctx); err != nil {
			return err
		}

		var expire <-chan time.Time
		if deadline, ok := d.r.NextDeadline(); ok {
			resetTimer(timer, time.Until(deadline)+time.Millisecond)
			expire = timer.C
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.c.Interrupt():
		case now := <-expire:
			if n := d.r.Expire(now); n > 0 {
				log.Warnf("%d stuck transfers released", n)
			}
		}
	}
}

// Drain receives until every queue is empty
func (d *Dispatcher) Drain(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		fifo, frame, err := d.receive(ctx)
		if err != nil {
			if err := d.fault(ctx, err); err != nil {
				return err
			}
			continue
		}
		if frame == nil {
			return nil
		}
		if err := d.ingest(ctx, fifo, frame); err != nil {
			return err
		}
	}
}

// receive prefers the queue of the oldest transfer in progress
func (d *Dispatcher) receive(ctx context.Context) (canbridge.FIFO, *canbridge.CANFrame, error) {
	hint, pinned := d.r.Pinned()
	fifo, frame, err := d.c.Receive(ctx, hint)
	if err != nil || frame != nil || !pinned {
		return fifo, frame, err
	}
	return d.c.Receive(ctx, canbridge.NoFIFO)
}

func (d *Dispatcher) fault(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if be, ok := canbridge.AsBusError(err); ok {
		n := d.r.Reset()
		d.m.BusError(be.Kind.String())
		log.Warnf("bus error: %v, %d transfers dropped", be, n)
		return d.forward(ctx, telemetry.Error{Description: be.Error()})
	}
	if !canbridge.IsRecoverable(err) {
		return err
	}
	log.WithError(err).Errorf("%s receive", d.c.Name())
	if err := d.forward(ctx, telemetry.Error{Description: err.Error()}); err != nil {
		return err
	}
	return sleep(ctx, d.backoff)
}

func (d *Dispatcher) ingest(ctx context.Context, fifo canbridge.FIFO, frame *canbridge.CANFrame) error {
	if d.dump {
		log.Debugf("%s %s", fifo, frame.ColorString())
	}
	msg, err := d.r.Feed(ctx, fifo, frame)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, isotp.ErrUnexpectedConsecutiveFrame) {
			log.Debug(err)
		} else {
			log.WithError(err).Warnf("%s dropped", fifo)
		}
		return nil
	}
	if msg == nil {
		return nil
	}
	return d.route(ctx, msg)
}

func (d *Dispatcher) route(ctx context.Context, msg *isotp.Message) error {
	ecu, ok := d.table.Lookup(msg.Source, msg.Extended)
	if !ok {
		d.m.Unrecognized()
		log.Debugf("dropped %d bytes from unknown 0x%03X", len(msg.Payload), msg.Source)
		return nil
	}
	resp, err := uds.ParseResponse(msg.Payload)
	if err != nil {
		var nrc *uds.NegativeResponseError
		if errors.As(err, &nrc) && nrc.Pending() {
			log.Debugf("%s: response pending", ecu.Name)
			return nil
		}
		return d.failed(ctx, ecu, err)
	}
	rec, err := telemetry.Decode(ecu.Decoder, resp.Data)
	if err != nil {
		return d.failed(ctx, ecu, err)
	}
	log.Debugf("%s DID 0x%04X: %v", ecu.Name, resp.DID, rec)
	return d.forward(ctx, rec)
}

func (d *Dispatcher) failed(ctx context.Context, ecu uds.ECU, err error) error {
	d.m.DecodeFailed(ecu.Decoder)
	log.WithError(err).Warnf("%s response rejected", ecu.Name)
	return d.forward(ctx, telemetry.Error{
		Source:      ecu.Response(),
		Description: fmt.Sprintf("%s: %v", ecu.Name, err),
	})
}

func (d *Dispatcher) forward(ctx context.Context, rec telemetry.Record) error {
	return forward(ctx, d.out, d.dest, rec)
}

func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	stopTimer(t)
	t.Reset(d)
}
