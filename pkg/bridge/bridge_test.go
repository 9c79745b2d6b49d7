package bridge

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/roffe/canbridge"
	"github.com/roffe/canbridge/adapter"
	"github.com/roffe/canbridge/pkg/config"
	"github.com/roffe/canbridge/pkg/pipeline"
	"github.com/roffe/canbridge/pkg/sensor"
	"github.com/roffe/canbridge/pkg/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// counter is a metrics.Recorder keeping every event by name
type counter struct {
	mu sync.Mutex
	n  map[string]int
}

func newCounter() *counter {
	return &counter{n: make(map[string]int)}
}

func (c *counter) inc(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n[name]++
}

func (c *counter) get(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n[name]
}

func (c *counter) QuerySent(ecu string)         { c.inc("sent:" + ecu) }
func (c *counter) QueryFailed(ecu string)       { c.inc("failed:" + ecu) }
func (c *counter) BusError(kind string)         { c.inc("bus:" + kind) }
func (c *counter) SessionAborted(reason string) { c.inc("aborted:" + reason) }
func (c *counter) SequenceGap()                 { c.inc("gap") }
func (c *counter) Unrecognized()                { c.inc("unrecognized") }
func (c *counter) DecodeFailed(decoder string)  { c.inc("decode:" + decoder) }
func (c *counter) Forwarded(kind string)        { c.inc("forwarded:" + kind) }
func (c *counter) Backpressure()                { c.inc("backpressure") }
func (c *counter) TransmitFailed(kind string)   { c.inc("dropped:" + kind) }

type testBridge struct {
	*Bridge
	diag *adapter.Virtual
	down *adapter.Virtual
	m    *counter
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.SettleDelay = 0
	cfg.Scheduler.Period = 200 * time.Millisecond
	cfg.Scheduler.Spacing = time.Millisecond
	cfg.ISOTP.STmin = 1
	cfg.Downstream.RetryDelay = time.Millisecond
	return cfg
}

func newTestBridge(t *testing.T, cfg *config.Config, s sensor.Sampler) *testBridge {
	t.Helper()
	tb := &testBridge{
		diag: adapter.NewVirtual("diag", nil),
		down: adapter.NewVirtual("downstream", nil),
		m:    newCounter(),
	}
	b, err := New(Options{
		Config:     cfg,
		Diagnostic: tb.diag,
		Downstream: tb.down,
		Sensor:     s,
		Metrics:    tb.m,
	})
	require.NoError(t, err)
	tb.Bridge = b
	t.Cleanup(func() {
		tb.diag.Close()
		tb.down.Close()
	})
	return tb
}

// setup configures both controllers without starting any task
func (tb *testBridge) setup(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, tb.setupDiagnostic(ctx))
	require.NoError(t, tb.setupDownstream(ctx))
}

func (tb *testBridge) run(t *testing.T) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- tb.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("bridge did not stop")
		}
	})
	return cancel
}

func downstreamRecord(t *testing.T, v *adapter.Virtual, timeout time.Duration) (uint32, telemetry.Record) {
	t.Helper()
	select {
	case tx := <-v.Transmitted():
		rec, err := telemetry.DecodeRecord(tx.Frame.Data)
		require.NoError(t, err)
		return tx.Frame.Identifier, rec
	case <-time.After(timeout):
		t.Fatal("no downstream frame")
		return 0, nil
	}
}

func simulate(t *testing.T, v *adapter.Virtual, ecus ...adapter.SimulatedECU) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	sim := adapter.NewSimulator(v, ecus...)
	done := make(chan struct{})
	go func() {
		sim.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func demoECUs() []adapter.SimulatedECU {
	return []adapter.SimulatedECU{
		{Name: "bms", Request: 0x7E4, Response: adapter.DemoResponse("battery", 0x0101)},
		{Name: "tpms", Request: 0x7A0, Response: adapter.DemoResponse("tpms", 0xC00B)},
		{Name: "climate", Request: 0x7B3, Response: adapter.DemoResponse("cabin", 0x0100)},
	}
}

func TestNewRejectsMissingController(t *testing.T) {
	_, err := New(Options{Diagnostic: adapter.NewVirtual("diag", nil)})
	assert.Error(t, err)

	cfg := config.Default()
	cfg.ECUs = nil
	_, err = New(Options{Config: cfg, Diagnostic: adapter.NewVirtual("a", nil), Downstream: adapter.NewVirtual("b", nil)})
	assert.Error(t, err)
}

func TestBridgeEndToEnd(t *testing.T) {
	tb := newTestBridge(t, testConfig(), nil)
	simulate(t, tb.diag, demoECUs()...)
	tb.run(t)

	seen := make(map[telemetry.Kind]telemetry.Record)
	for len(seen) < 3 {
		id, rec := downstreamRecord(t, tb.down, 3*time.Second)
		assert.Equal(t, uint32(0x715), id)
		require.NotEqual(t, telemetry.KindError, rec.Kind(), "%v", rec)
		seen[rec.Kind()] = rec
	}

	battery := seen[telemetry.KindBattery].(telemetry.BatteryStatus)
	assert.Equal(t, 80.0, battery.StateOfCharge())
	assert.Equal(t, telemetry.ChargingAC, battery.Charging)

	tires := seen[telemetry.KindTires].(telemetry.TirePressures)
	assert.InDelta(t, 36.0, tires.Tire(telemetry.FrontLeft).PSI(), 0.001)

	cabin := seen[telemetry.KindCabin].(telemetry.CabinEnvironment)
	assert.Equal(t, 22.0, cabin.InteriorTemp())

	assert.GreaterOrEqual(t, tb.m.get("sent:bms"), 1)
	assert.GreaterOrEqual(t, tb.m.get("forwarded:battery"), 1)
}

func TestBridgeSilentECUDoesNotStallOthers(t *testing.T) {
	tb := newTestBridge(t, testConfig(), nil)
	ecus := demoECUs()
	ecus[0].Silent = true
	simulate(t, tb.diag, ecus...)
	tb.run(t)

	seen := make(map[telemetry.Kind]bool)
	for len(seen) < 2 {
		_, rec := downstreamRecord(t, tb.down, 3*time.Second)
		seen[rec.Kind()] = true
	}
	assert.True(t, seen[telemetry.KindTires])
	assert.True(t, seen[telemetry.KindCabin])
	assert.False(t, seen[telemetry.KindBattery])
}

func TestBridgeStuckTransferTimesOut(t *testing.T) {
	cfg := testConfig()
	cfg.ISOTP.Timeout = 50 * time.Millisecond
	tb := newTestBridge(t, cfg, nil)
	ecus := demoECUs()
	ecus[0].StopAfterFirstFrame = true
	simulate(t, tb.diag, ecus...)
	tb.run(t)

	require.Eventually(t, func() bool {
		return tb.m.get("aborted:timeout") >= 1
	}, 3*time.Second, 10*time.Millisecond)
}

func TestBridgeStartupFailureIsFatal(t *testing.T) {
	tb := newTestBridge(t, testConfig(), nil)
	tb.diag.Close()
	err := tb.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, canbridge.ErrClosed)
}

func TestBridgeForwardsSensorReadings(t *testing.T) {
	cfg := testConfig()
	cfg.Sensor.Period = 10 * time.Millisecond
	cfg.Downstream.PerRecord = true
	tb := newTestBridge(t, cfg, sensor.Static{Pressure: 1013.25, Temperature: 21.5})
	tb.run(t)

	id, rec := downstreamRecord(t, tb.down, 2*time.Second)
	assert.Equal(t, uint32(0x714), id)
	env, ok := rec.(telemetry.Environment)
	require.True(t, ok, "%v", rec)
	assert.InDelta(t, 21.5, env.Temperature(), 0.01)
	assert.InDelta(t, 0.0, env.Humidity(), 0.001)
}

type failingSensor struct{}

func (failingSensor) Sample(context.Context) (sensor.Reading, error) {
	return sensor.Reading{}, fmt.Errorf("i2c nack")
}

func TestSamplerFailureForwardsError(t *testing.T) {
	tb := newTestBridge(t, testConfig(), failingSensor{})
	s := tb.sampler
	s.period = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	item, err := tb.Queue().Pop(ctx)
	require.NoError(t, err)
	e, ok := item.Record.(telemetry.Error)
	require.True(t, ok)
	assert.Contains(t, e.Description, "i2c nack")
}

// busOverlap holds the diagnostic bus inside a transmit while the downstream transmitter
// sends, and reports whether the downstream frame went out during that window.
func busOverlap(t *testing.T, shared bool) bool {
	cfg := testConfig()
	cfg.SharedBus = shared
	tb := newTestBridge(t, cfg, nil)
	tb.setup(t)

	var inside, overlap atomic.Bool
	entered := make(chan struct{})
	tb.diag.OnTransmit(func(canbridge.FIFO, *canbridge.CANFrame) {
		inside.Store(true)
		close(entered)
		time.Sleep(100 * time.Millisecond)
		inside.Store(false)
	})
	tb.down.OnTransmit(func(canbridge.FIFO, *canbridge.CANFrame) {
		if inside.Load() {
			overlap.Store(true)
		}
	})

	diagDone := make(chan error, 1)
	go func() {
		diagDone <- tb.Bridge.diag.Transmit(context.Background(), 1, canbridge.NewFrame(0x7E4, []byte{0x03, 0x22, 0x01, 0x01}))
	}()
	<-entered
	require.NoError(t, tb.transmitter.Send(context.Background(), pipeline.Item{
		Destination: 0x715,
		Record:      telemetry.Error{Description: "x"},
	}))
	require.NoError(t, <-diagDone)
	return overlap.Load()
}

func TestSharedBusSerializesControllers(t *testing.T) {
	assert.True(t, config.Default().SharedBus)
	assert.False(t, busOverlap(t, true), "downstream transmit ran while the diagnostic bus was held")
}

func TestSeparateBusesRunConcurrently(t *testing.T) {
	assert.True(t, busOverlap(t, false))
}
