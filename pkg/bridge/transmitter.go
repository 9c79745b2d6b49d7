package bridge

import (
	"context"
	"errors"
	"time"

	"github.com/avast/retry-go"
	"github.com/roffe/canbridge"
	"github.com/roffe/canbridge/pkg/metrics"
	"github.com/roffe/canbridge/pkg/pipeline"
	"github.com/roffe/canbridge/pkg/telemetry"
)

// Transmitter forwards queued records downstream, one frame per record
type Transmitter struct {
	c        canbridge.Controller
	fifo     canbridge.FIFO
	q        *pipeline.Queue
	attempts uint
	delay    time.Duration
	m        metrics.Recorder
}

func (t *Transmitter) Run(ctx context.Context) error {
	for {
		item, err := t.q.Pop(ctx)
		if err != nil {
			return err
		}
		kind := item.Record.Kind().String()
		if err := t.Send(ctx, item); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, canbridge.ErrClosed) {
				return err
			}
			t.m.TransmitFailed(kind)
			log.WithError(err).Errorf("dropped %s", item)
			continue
		}
		t.m.Forwarded(kind)
	}
}

// Send encodes and transmits one item, retrying recoverable controller errors
func (t *Transmitter) Send(ctx context.Context, item pipeline.Item) error {
	payload, err := telemetry.Encode(item.Record)
	if err != nil {
		return err
	}
	frame := canbridge.NewFrame(item.Destination, payload)
	attempts := t.attempts
	if attempts == 0 {
		attempts = 1
	}
	return retry.Do(func() error {
		return t.c.Transmit(ctx, t.fifo, frame)
	},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(t.delay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(canbridge.IsRecoverable),
		retry.OnRetry(func(n uint, err error) {
			log.Debugf("retry %d %s: %v", n+1, item, err)
		}),
	)
}
