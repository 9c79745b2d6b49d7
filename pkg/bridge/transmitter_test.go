package bridge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/roffe/canbridge"
	"github.com/roffe/canbridge/pkg/pipeline"
	"github.com/roffe/canbridge/pkg/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func errorItem(desc string) pipeline.Item {
	return pipeline.Item{Destination: 0x715, Record: telemetry.Error{Source: 0x7EC, Description: desc}}
}

func TestTransmitterSend(t *testing.T) {
	tb := newTestBridge(t, testConfig(), nil)
	tb.setup(t)
	require.NoError(t, tb.transmitter.Send(context.Background(), errorItem("x")))

	tx := <-tb.down.Transmitted()
	assert.Equal(t, uint32(0x715), tx.Frame.Identifier)
	rec, err := telemetry.DecodeRecord(tx.Frame.Data)
	require.NoError(t, err)
	assert.Equal(t, telemetry.Error{Source: 0x7EC, Description: "x"}, rec)
}

func TestTransmitterRetries(t *testing.T) {
	tb := newTestBridge(t, testConfig(), nil)
	tb.setup(t)
	tb.down.FailTransmit(3, canbridge.ErrTxFIFOFull)
	require.NoError(t, tb.transmitter.Send(context.Background(), errorItem("retried")))
	assert.Len(t, tb.down.Transmitted(), 1)
}

func TestTransmitterGivesUp(t *testing.T) {
	tb := newTestBridge(t, testConfig(), nil)
	tb.setup(t)
	tb.down.FailTransmit(4, canbridge.ErrTxFIFOFull)
	err := tb.transmitter.Send(context.Background(), errorItem("lost"))
	assert.ErrorIs(t, err, canbridge.ErrTxFIFOFull)
	assert.Len(t, tb.down.Transmitted(), 0)
}

func TestTransmitterUnrecoverableNotRetried(t *testing.T) {
	tb := newTestBridge(t, testConfig(), nil)
	tb.setup(t)
	tb.transmitter.delay = time.Second
	tb.down.FailTransmit(1, canbridge.Unrecoverable(errors.New("controller fault")))

	start := time.Now()
	err := tb.transmitter.Send(context.Background(), errorItem("x"))
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestTransmitterDropsAndContinues(t *testing.T) {
	tb := newTestBridge(t, testConfig(), nil)
	tb.setup(t)
	tb.down.FailTransmit(4, canbridge.ErrTxFIFOFull)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q := tb.Queue()
	require.NoError(t, q.Push(ctx, errorItem("dropped")))
	require.NoError(t, q.Push(ctx, errorItem("delivered")))

	done := make(chan error, 1)
	go func() { done <- tb.transmitter.Run(ctx) }()

	select {
	case tx := <-tb.down.Transmitted():
		rec, err := telemetry.DecodeRecord(tx.Frame.Data)
		require.NoError(t, err)
		assert.Equal(t, "delivered", rec.(telemetry.Error).Description)
	case <-time.After(2 * time.Second):
		t.Fatal("second item never sent")
	}
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, 1, tb.m.get("dropped:error"))
	assert.Equal(t, 1, tb.m.get("forwarded:error"))
}
