package telemetry

import (
	"encoding/binary"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func batteryFixture() []byte {
	d := make([]byte, 64)
	d[4] = 100
	binary.BigEndian.PutUint16(d[5:], 2500)
	binary.BigEndian.PutUint16(d[7:], 1200)
	d[9] = 0x41 // DC, relay closed
	binary.BigEndian.PutUint16(d[10:], uint16(0xFF38))
	binary.BigEndian.PutUint16(d[12:], 3805)
	d[14] = 31
	d[15] = 0xFE // -2
	for i := 0; i < 5; i++ {
		d[16+i] = byte(20 + i)
	}
	d[22] = 19
	d[23], d[24], d[25], d[26] = 200, 7, 190, 91
	d[27], d[28], d[29] = 3, 4, 138
	binary.BigEndian.PutUint32(d[30:], 1000)
	binary.BigEndian.PutUint32(d[34:], 2000)
	binary.BigEndian.PutUint32(d[38:], 3000)
	binary.BigEndian.PutUint32(d[42:], 4000)
	binary.BigEndian.PutUint32(d[46:], 7200)
	d[50] = 0x04
	binary.BigEndian.PutUint16(d[53:], uint16(0xFC18))
	binary.BigEndian.PutUint16(d[55:], 1500)
	return d
}

func TestDecodeBattery(t *testing.T) {
	r, err := DecodeBattery(batteryFixture())
	require.NoError(t, err)
	b, ok := r.(BatteryStatus)
	require.True(t, ok)

	assert.Equal(t, KindBattery, b.Kind())
	assert.Equal(t, 50.0, b.StateOfCharge())
	assert.Equal(t, ChargingDC, b.Charging)
	assert.True(t, b.Relay)
	assert.True(t, b.Ignition)
	assert.InDelta(t, -20.0, b.PackCurrent(), 1e-9)
	assert.InDelta(t, 380.5, b.PackVoltage(), 1e-9)
	assert.InDelta(t, 13.8, b.AuxVoltage(), 1e-9)
	assert.InDelta(t, 4.0, b.CellMaxVoltage(), 1e-9)
	assert.InDelta(t, 3.8, b.CellMinVoltage(), 1e-9)
	assert.Equal(t, uint8(7), b.CellMaxID)
	assert.Equal(t, uint8(91), b.CellMinID)
	assert.InDelta(t, 25.0, b.AvailableDischargePower(), 1e-9)
	assert.InDelta(t, 12.0, b.AvailableChargePower(), 1e-9)
	assert.InDelta(t, 300.0, b.EnergyCharged(), 1e-9)
	assert.InDelta(t, 400.0, b.EnergyDischarged(), 1e-9)
	assert.Equal(t, uint32(1000), b.ChargeCurrentRaw)
	assert.Equal(t, uint32(2000), b.DischargeCurrentRaw)
	assert.Equal(t, "2h0m0s", b.OperatingTime().String())
	assert.Equal(t, int8(31), b.MaxTemp)
	assert.Equal(t, int8(-2), b.MinTemp)
	assert.Equal(t, int8(19), b.InletTemp)
	assert.Equal(t, [5]int8{20, 21, 22, 23, 24}, b.ModuleTemps)
	assert.Equal(t, uint8(3), b.FanSpeed)
	assert.Equal(t, uint8(4), b.FanFeedback)
	assert.Equal(t, int16(-1000), b.RearMotorRPM)
	assert.Equal(t, int16(1500), b.FrontMotorRPM)
}

func TestChargingFlags(t *testing.T) {
	for flags, want := range map[byte]ChargingType{
		0x00: NotCharging,
		0x01: NotCharging,
		0x20: ChargingAC,
		0x60: ChargingAC,
		0x40: ChargingDC,
		0x80: ChargingOther,
	} {
		assert.Equal(t, want, chargingType(flags), "flags 0x%02X", flags)
	}
}

func TestDecodeTirePressures(t *testing.T) {
	d := make([]byte, 21)
	d[4], d[5] = 180, 72
	d[9], d[10] = 175, 70
	d[14], d[15] = 170, 55
	d[19], d[20] = 0, 0
	r, err := DecodeTirePressures(d)
	require.NoError(t, err)
	tp := r.(TirePressures)

	assert.InDelta(t, 36.0, tp.Tire(FrontLeft).PSI(), 1e-9)
	assert.Equal(t, 17, tp.Tire(FrontLeft).Celsius())
	assert.InDelta(t, 35.0, tp.Tire(FrontRight).PSI(), 1e-9)
	assert.Equal(t, 0, tp.Tire(RearLeft).Celsius())
	assert.Equal(t, -55, tp.Tire(RearRight).Celsius())
}

func TestDecodeCabin(t *testing.T) {
	d := make([]byte, 10)
	d[5], d[6], d[7], d[8], d[9] = 124, 110, 79, 3, 45
	r, err := DecodeCabin(d)
	require.NoError(t, err)
	c := r.(CabinEnvironment)
	assert.Equal(t, 22.0, c.InteriorTemp())
	assert.Equal(t, 15.0, c.AmbientTemp())
	assert.Equal(t, -0.5, c.EvaporatorTemp())
	assert.Equal(t, uint8(3), c.BlowerLevel)
	assert.Equal(t, uint8(45), c.HumidityPercent)
}

func TestShortInputIsDecodeError(t *testing.T) {
	for _, name := range Decoders() {
		for _, n := range []int{0, 1, 5, 9, 20, 56} {
			_, err := Decode(name, make([]byte, n))
			if err == nil {
				continue
			}
			var de *DecodeError
			require.True(t, errors.As(err, &de), "%s with %d bytes", name, n)
			assert.Equal(t, name, de.Decoder)
			assert.Equal(t, n, de.Got)
			assert.Greater(t, de.Need, n)
		}
	}
	_, err := Decode("battery", make([]byte, 56))
	assert.Error(t, err)
	_, err = Decode("nope", nil)
	assert.ErrorIs(t, err, ErrUnknownDecoder)
	assert.Equal(t, []string{"battery", "cabin", "tpms"}, Decoders())
}

func TestEncode(t *testing.T) {
	battery, err := DecodeBattery(batteryFixture())
	require.NoError(t, err)
	tires, err := DecodeTirePressures(make([]byte, 21))
	require.NoError(t, err)

	records := []Record{
		battery,
		tires,
		CabinEnvironment{InteriorTempRaw: 124},
		NewEnvironment(1013.25, 21.5, 40),
		Error{Source: 0x7EC, Description: "battery decoder needs 57 bytes, got 12"},
	}
	for _, r := range records {
		b, err := Encode(r)
		require.NoError(t, err, r.Kind().String())
		assert.LessOrEqual(t, len(b), MaxEncodedSize)
		assert.Equal(t, byte(r.Kind()), b[0])

		again, err := Encode(r)
		require.NoError(t, err)
		assert.Equal(t, b, again, "deterministic")

		got, err := DecodeRecord(b)
		require.NoError(t, err)
		assert.Equal(t, r, got)
	}
}

func TestEncodeSizes(t *testing.T) {
	b, err := Encode(BatteryStatus{})
	require.NoError(t, err)
	assert.Len(t, b, 52)

	b, err = Encode(TirePressures{})
	require.NoError(t, err)
	assert.Len(t, b, 9)
}

func TestEncodeTruncatesErrors(t *testing.T) {
	long := Error{Description: strings.Repeat("bus off ", 20)}
	b, err := Encode(long)
	require.NoError(t, err)
	assert.Len(t, b, MaxEncodedSize)

	r, err := DecodeRecord(b)
	require.NoError(t, err)
	assert.Len(t, r.(Error).Description, maxDescription)
	assert.True(t, strings.HasPrefix(long.Description, r.(Error).Description))
}

func TestDecodeRecordErrors(t *testing.T) {
	_, err := DecodeRecord(nil)
	assert.Error(t, err)
	_, err = DecodeRecord([]byte{0xEE})
	assert.ErrorIs(t, err, ErrUnknownKind)
	_, err = DecodeRecord([]byte{byte(KindBattery), 1, 2})
	assert.Error(t, err)
}

func TestEnvironment(t *testing.T) {
	e := NewEnvironment(1013.25, -12.5, 55.5)
	assert.InDelta(t, 1013.25, e.Pressure(), 0.01)
	assert.InDelta(t, -12.5, e.Temperature(), 0.01)
	assert.InDelta(t, 55.5, e.Humidity(), 0.01)

	zero := NewEnvironment(0, 0, 0)
	assert.Equal(t, Environment{}, zero)
}

func TestDestinations(t *testing.T) {
	single := SingleDestination(DefaultDestination)
	for _, k := range []Kind{KindBattery, KindTires, KindCabin, KindError, KindEnvironment} {
		assert.Equal(t, uint32(0x715), single.For(k))
	}

	per := Destinations{Default: 0x715, Error: 0x700, Battery: 0x701, Tires: 0x702, Climate: 0x703}
	assert.Equal(t, uint32(0x700), per.For(KindError))
	assert.Equal(t, uint32(0x701), per.For(KindBattery))
	assert.Equal(t, uint32(0x702), per.For(KindTires))
	assert.Equal(t, uint32(0x703), per.For(KindCabin))
	assert.Equal(t, uint32(0x715), per.For(KindEnvironment))
}
