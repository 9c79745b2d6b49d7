package bridge

import (
	"context"
	"errors"
	"time"

	"github.com/roffe/canbridge"
	"github.com/roffe/canbridge/pkg/metrics"
	"github.com/roffe/canbridge/pkg/uds"
)

// Scheduler sends one query per ECU every period without waiting for answers
type Scheduler struct {
	c       canbridge.Controller
	fifo    canbridge.FIFO
	ecus    []uds.ECU
	period  time.Duration
	spacing time.Duration
	m       metrics.Recorder
}

func (s *Scheduler) Run(ctx context.Context) error {
	t := time.NewTicker(s.period)
	defer t.Stop()
	for {
		if err := s.Round(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Round queries every ECU once. A failed transmit only skips that ECU.
func (s *Scheduler) Round(ctx context.Context) error {
	for i, e := range s.ecus {
		if i > 0 {
			if err := sleep(ctx, s.spacing); err != nil {
				return err
			}
		}
		frame := canbridge.NewFrame(e.Request, e.Query[:])
		frame.Extended = e.Extended
		if err := s.c.Transmit(ctx, s.fifo, frame); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, canbridge.ErrClosed) {
				return err
			}
			s.m.QueryFailed(e.Name)
			log.WithError(err).Warnf("query %s skipped this round", e)
			continue
		}
		s.m.QuerySent(e.Name)
	}
	return nil
}
