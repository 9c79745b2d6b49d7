package bridge

import (
	"context"
	"time"

	"github.com/roffe/canbridge/pkg/pipeline"
	"github.com/roffe/canbridge/pkg/sensor"
	"github.com/roffe/canbridge/pkg/telemetry"
)

// Sampler forwards a local sensor reading every period
type Sampler struct {
	s      sensor.Sampler
	period time.Duration
	out    *pipeline.Queue
	dest   telemetry.Destinations
}

func (s *Sampler) Run(ctx context.Context) error {
	period := s.period
	if period <= 0 {
		period = time.Second
	}
	t := time.NewTicker(period)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
		var rec telemetry.Record
		r, err := s.s.Sample(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.WithError(err).Warn("sensor sample")
			rec = telemetry.Error{Description: "sensor: " + err.Error()}
		} else {
			rec = r.Record()
		}
		if err := forward(ctx, s.out, s.dest, rec); err != nil {
			return err
		}
	}
}
