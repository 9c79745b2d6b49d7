package bridge

import (
	"context"
	"testing"
	"time"

	"github.com/roffe/canbridge"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulerRound(t *testing.T) {
	tb := newTestBridge(t, testConfig(), nil)
	tb.setup(t)
	require.NoError(t, tb.scheduler.Round(context.Background()))

	want := []struct {
		id    uint32
		query []byte
	}{
		{0x7E4, []byte{0x03, 0x22, 0x01, 0x01, 0, 0, 0, 0}},
		{0x7A0, []byte{0x03, 0x22, 0xC0, 0x0B, 0, 0, 0, 0}},
		{0x7B3, []byte{0x03, 0x22, 0x01, 0x00, 0, 0, 0, 0}},
	}
	for _, w := range want {
		tx := <-tb.diag.Transmitted()
		assert.Equal(t, canbridge.FIFO(1), tx.FIFO)
		assert.Equal(t, w.id, tx.Frame.Identifier)
		assert.Equal(t, w.query, tx.Frame.Data)
	}
	assert.Equal(t, 1, tb.m.get("sent:bms"))
	assert.Equal(t, 1, tb.m.get("sent:climate"))
}

func TestSchedulerSkipsFailedECU(t *testing.T) {
	tb := newTestBridge(t, testConfig(), nil)
	tb.setup(t)
	tb.diag.FailTransmit(1, canbridge.ErrTxFIFOFull)

	require.NoError(t, tb.scheduler.Round(context.Background()))
	assert.Equal(t, 1, tb.m.get("failed:bms"))
	assert.Equal(t, 0, tb.m.get("sent:bms"))

	tx := <-tb.diag.Transmitted()
	assert.Equal(t, uint32(0x7A0), tx.Frame.Identifier)
	tx = <-tb.diag.Transmitted()
	assert.Equal(t, uint32(0x7B3), tx.Frame.Identifier)
}

func TestSchedulerSpacing(t *testing.T) {
	cfg := testConfig()
	cfg.Scheduler.Spacing = 20 * time.Millisecond
	tb := newTestBridge(t, cfg, nil)
	tb.setup(t)

	start := time.Now()
	require.NoError(t, tb.scheduler.Round(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestSchedulerStopsOnClose(t *testing.T) {
	tb := newTestBridge(t, testConfig(), nil)
	tb.setup(t)
	tb.diag.Close()
	assert.ErrorIs(t, tb.scheduler.Round(context.Background()), canbridge.ErrClosed)
}

func TestSchedulerCancel(t *testing.T) {
	tb := newTestBridge(t, testConfig(), nil)
	tb.setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, tb.scheduler.Run(ctx), context.Canceled)
}
