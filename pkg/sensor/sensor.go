// Package sensor samples the local environmental sensor.
package sensor

import (
	"context"
	"fmt"

	"github.com/roffe/canbridge/pkg/telemetry"
	"github.com/skycoin/skycoin/src/util/logging"
)

var log = logging.MustGetLogger("sensor")

// Reading is one sample. Fields the sensor does not measure are 0.
type Reading struct {
	Pressure    float32 // hPa
	Temperature float32 // C
	Humidity    float32 // %RH
}

func (r Reading) String() string {
	return fmt.Sprintf("%.2f hPa %.2f C %.2f %%", r.Pressure, r.Temperature, r.Humidity)
}

// Record converts the reading to its downstream form
func (r Reading) Record() telemetry.Environment {
	return telemetry.NewEnvironment(r.Pressure, r.Temperature, r.Humidity)
}

type Sampler interface {
	Sample(ctx context.Context) (Reading, error)
}

// Static always returns the same reading
type Static Reading

func (s Static) Sample(ctx context.Context) (Reading, error) {
	if err := ctx.Err(); err != nil {
		return Reading{}, err
	}
	return Reading(s), nil
}
