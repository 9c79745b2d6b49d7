package adapter

import (
	"context"
	"testing"

	"github.com/roffe/canbridge"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testTX canbridge.FIFO = 1
	testA  canbridge.FIFO = 2
	testB  canbridge.FIFO = 3
)

// newTestBus returns a Virtual in normal mode with a tx fifo and two rx fifos
// accepting 0x7EC and 0x7A8.
func newTestBus(t *testing.T, depth int) *Virtual {
	t.Helper()
	ctx := context.Background()
	v := NewVirtual("test", &Config{})
	require.NoError(t, v.Configure(ctx, canbridge.ControllerConfig{ClockHz: 20e6, Bitrate: 500e3}))
	require.NoError(t, v.ConfigureFIFO(ctx, canbridge.FIFOConfig{FIFO: testTX, Direction: canbridge.TX, Depth: 8, PayloadSize: 64}))
	require.NoError(t, v.ConfigureFIFO(ctx, canbridge.FIFOConfig{FIFO: testA, Direction: canbridge.RX, Depth: depth, PayloadSize: 8}))
	require.NoError(t, v.ConfigureFIFO(ctx, canbridge.FIFOConfig{FIFO: testB, Direction: canbridge.RX, Depth: depth, PayloadSize: 8}))
	require.NoError(t, v.ConfigureFilter(ctx, canbridge.FilterConfig{FIFO: testA, Match: 0x7EC, Mask: canbridge.ExactMask}))
	require.NoError(t, v.ConfigureFilter(ctx, canbridge.FilterConfig{FIFO: testB, Match: 0x7A8, Mask: canbridge.ExactMask}))
	require.NoError(t, v.SetMode(ctx, canbridge.ModeNormal))
	t.Cleanup(func() { v.Close() })
	return v
}

func TestBaseAdapterRouting(t *testing.T) {
	v := newTestBus(t, 4)
	ctx := context.Background()

	v.Inject(canbridge.NewFrame(0x7EC, []byte{0x01}))
	v.Inject(canbridge.NewFrame(0x7A8, []byte{0x02}))
	v.Inject(canbridge.NewFrame(0x123, []byte{0x03}))

	assert.Equal(t, 1, v.Pending(testA))
	assert.Equal(t, 1, v.Pending(testB))

	fifo, frame, err := v.Receive(ctx, testB)
	require.NoError(t, err)
	assert.Equal(t, testB, fifo)
	assert.Equal(t, uint32(0x7A8), frame.Identifier)

	fifo, frame, err = v.Receive(ctx, canbridge.NoFIFO)
	require.NoError(t, err)
	assert.Equal(t, testA, fifo)
	assert.Equal(t, []byte{0x01}, frame.Data)

	fifo, frame, err = v.Receive(ctx, canbridge.NoFIFO)
	require.NoError(t, err)
	assert.Equal(t, canbridge.NoFIFO, fifo)
	assert.Nil(t, frame)
}

func TestBaseAdapterInterruptIsLevelTriggered(t *testing.T) {
	v := newTestBus(t, 4)
	ctx := context.Background()

	v.Inject(canbridge.NewFrame(0x7EC, []byte{0x01}))
	v.Inject(canbridge.NewFrame(0x7EC, []byte{0x02}))

	<-v.Interrupt()
	_, frame, err := v.Receive(ctx, canbridge.NoFIFO)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01}, frame.Data)

	select {
	case <-v.Interrupt():
	default:
		t.Fatal("interrupt not asserted with a frame still pending")
	}
	_, frame, err = v.Receive(ctx, canbridge.NoFIFO)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x02}, frame.Data)

	select {
	case <-v.Interrupt():
		t.Fatal("interrupt asserted with empty queues")
	default:
	}
}

func TestBaseAdapterOverflowReportsBusError(t *testing.T) {
	v := newTestBus(t, 1)
	ctx := context.Background()

	v.Inject(canbridge.NewFrame(0x7EC, []byte{0x01}))
	v.Inject(canbridge.NewFrame(0x7EC, []byte{0x02}))

	_, _, err := v.Receive(ctx, canbridge.NoFIFO)
	be, ok := canbridge.AsBusError(err)
	require.True(t, ok)
	assert.Equal(t, canbridge.BusErrorRxOverflow, be.Kind)
	assert.True(t, canbridge.IsRecoverable(err))

	_, frame, err := v.Receive(ctx, canbridge.NoFIFO)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01}, frame.Data)
}

func TestBaseAdapterConfigurationMode(t *testing.T) {
	v := newTestBus(t, 4)
	ctx := context.Background()

	err := v.ConfigureFIFO(ctx, canbridge.FIFOConfig{FIFO: 5, Direction: canbridge.RX, Depth: 1, PayloadSize: 8})
	assert.Error(t, err)

	err = v.ConfigureFilter(ctx, canbridge.FilterConfig{FIFO: 9, Match: 0x100, Mask: canbridge.ExactMask})
	assert.Error(t, err)

	require.NoError(t, v.SetMode(ctx, canbridge.ModeConfiguration))
	err = v.Transmit(ctx, testTX, canbridge.NewFrame(0x100, []byte{1}))
	assert.ErrorIs(t, err, canbridge.ErrNotNormalMode)
	assert.True(t, canbridge.IsRecoverable(err))

	v.Inject(canbridge.NewFrame(0x7EC, []byte{0x01}))
	assert.Equal(t, 0, v.Pending(testA))

	err = v.ConfigureFilter(ctx, canbridge.FilterConfig{FIFO: 9, Match: 0x100, Mask: canbridge.ExactMask})
	assert.ErrorIs(t, err, canbridge.ErrFIFONotConfigured)
}

func TestBaseAdapterTransmitChecks(t *testing.T) {
	v := newTestBus(t, 4)
	ctx := context.Background()

	err := v.Transmit(ctx, testA, canbridge.NewFrame(0x100, []byte{1}))
	assert.ErrorIs(t, err, canbridge.ErrFIFONotConfigured)
	assert.False(t, canbridge.IsRecoverable(err))

	err = v.Transmit(ctx, testTX, canbridge.NewFrame(0x800, []byte{1}))
	assert.ErrorIs(t, err, canbridge.ErrInvalidFrame)
	assert.False(t, canbridge.IsRecoverable(err))

	require.NoError(t, v.Close())
	err = v.Transmit(ctx, testTX, canbridge.NewFrame(0x100, []byte{1}))
	assert.ErrorIs(t, err, canbridge.ErrClosed)
	_, _, err = v.Receive(ctx, canbridge.NoFIFO)
	assert.ErrorIs(t, err, canbridge.ErrClosed)
}
