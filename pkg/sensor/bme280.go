package sensor

import (
	"context"
	"fmt"
	"sync"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/bmxx80"
	"periph.io/x/host/v3"
)

// DefaultBME280Address is the 7 bit address with SDO pulled low
const DefaultBME280Address = 0x76

// BME280 samples a Bosch BME280/BMP280 on an I2C bus
type BME280 struct {
	mu  sync.Mutex
	bus i2c.BusCloser
	dev *bmxx80.Dev
}

// OpenBME280 opens the named I2C bus, "" picks the first one found
func OpenBME280(busName string, addr uint16) (*BME280, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph init: %w", err)
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("open i2c bus %q: %w", busName, err)
	}
	if addr == 0 {
		addr = DefaultBME280Address
	}
	dev, err := bmxx80.NewI2C(bus, addr, &bmxx80.DefaultOpts)
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("bme280 at 0x%02X: %w", addr, err)
	}
	log.Infof("%s on %s", dev, bus)
	return &BME280{bus: bus, dev: dev}, nil
}

func (b *BME280) Sample(ctx context.Context) (Reading, error) {
	if err := ctx.Err(); err != nil {
		return Reading{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	var env physic.Env
	if err := b.dev.Sense(&env); err != nil {
		return Reading{}, fmt.Errorf("bme280 sense: %w", err)
	}
	return fromEnv(env), nil
}

func (b *BME280) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.dev.Halt(); err != nil {
		log.WithError(err).Warn("bme280 halt")
	}
	return b.bus.Close()
}

func fromEnv(env physic.Env) Reading {
	return Reading{
		Pressure:    float32(float64(env.Pressure) / float64(100*physic.Pascal)),
		Temperature: float32(float64(env.Temperature-physic.ZeroCelsius) / float64(physic.Kelvin)),
		Humidity:    float32(float64(env.Humidity) / float64(physic.PercentRH)),
	}
}
