package sensor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/physic"
)

func TestStatic(t *testing.T) {
	s := Static{Pressure: 1013.25, Temperature: 21.5, Humidity: 40}
	r, err := s.Sample(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Reading{Pressure: 1013.25, Temperature: 21.5, Humidity: 40}, r)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Sample(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMissingFieldsAreZero(t *testing.T) {
	r, err := Static{Temperature: -5}.Sample(context.Background())
	require.NoError(t, err)
	rec := r.Record()
	assert.Equal(t, uint32(0), rec.PressureRaw)
	assert.Equal(t, uint16(0), rec.HumidityRaw)
	assert.Equal(t, int16(-500), rec.TemperatureRaw)
}

func TestFromEnv(t *testing.T) {
	env := physic.Env{
		Temperature: physic.ZeroCelsius + 25*physic.Kelvin,
		Pressure:    101325 * physic.Pascal,
		Humidity:    55 * physic.PercentRH,
	}
	r := fromEnv(env)
	assert.InDelta(t, 25.0, r.Temperature, 0.001)
	assert.InDelta(t, 1013.25, r.Pressure, 0.001)
	assert.InDelta(t, 55.0, r.Humidity, 0.001)
}
