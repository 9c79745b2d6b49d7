// Package telemetry holds the decoded vehicle records forwarded downstream.
package telemetry

import "fmt"

// Kind tags a record on the wire
type Kind uint8

const (
	KindBattery Kind = iota
	KindTires
	KindCabin
	KindError
	KindEnvironment
)

func (k Kind) String() string {
	switch k {
	case KindBattery:
		return "battery"
	case KindTires:
		return "tires"
	case KindCabin:
		return "cabin"
	case KindError:
		return "error"
	case KindEnvironment:
		return "environment"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Record is one of BatteryStatus, TirePressures, CabinEnvironment, Environment or Error
type Record interface {
	Kind() Kind
}

// Error reports a bus, transport or decode failure downstream
type Error struct {
	// Source is the CAN identifier involved, 0 for controller level errors
	Source      uint32
	Description string
}

func (Error) Kind() Kind { return KindError }

func (e Error) String() string {
	if e.Source == 0 {
		return "error: " + e.Description
	}
	return fmt.Sprintf("error 0x%03X: %s", e.Source, e.Description)
}

// Environment is a local sensor reading
type Environment struct {
	PressureRaw    uint32 // Pa
	TemperatureRaw int16  // 0.01 C
	HumidityRaw    uint16 // 0.01 %
}

func (Environment) Kind() Kind { return KindEnvironment }

func NewEnvironment(pressureHPa, temperatureC, humidity float32) Environment {
	return Environment{
		PressureRaw:    uint32(clamp(pressureHPa*100, 0, 1e9)),
		TemperatureRaw: int16(clamp(temperatureC*100, -1<<15, 1<<15-1)),
		HumidityRaw:    uint16(clamp(humidity*100, 0, 1<<16-1)),
	}
}

func (e Environment) Pressure() float32 {
	return float32(e.PressureRaw) / 100
}

func (e Environment) Temperature() float32 {
	return float32(e.TemperatureRaw) / 100
}

func (e Environment) Humidity() float32 {
	return float32(e.HumidityRaw) / 100
}

func (e Environment) String() string {
	return fmt.Sprintf("environment: %.2f hPa %.2f C %.2f %%", e.Pressure(), e.Temperature(), e.Humidity())
}

func clamp(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
