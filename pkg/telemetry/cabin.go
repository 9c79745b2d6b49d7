package telemetry

import "fmt"

// CabinEnvironment is the climate control 0x0100 data set. Temperatures are
// raw/2 - 40 C.
type CabinEnvironment struct {
	InteriorTempRaw   uint8
	AmbientTempRaw    uint8
	EvaporatorTempRaw uint8
	BlowerLevel       uint8
	HumidityPercent   uint8
}

func (CabinEnvironment) Kind() Kind { return KindCabin }

func cabinTemp(raw uint8) float64 {
	return float64(raw)/2 - 40
}

func (c CabinEnvironment) InteriorTemp() float64 {
	return cabinTemp(c.InteriorTempRaw)
}

func (c CabinEnvironment) AmbientTemp() float64 {
	return cabinTemp(c.AmbientTempRaw)
}

func (c CabinEnvironment) EvaporatorTemp() float64 {
	return cabinTemp(c.EvaporatorTempRaw)
}

func (c CabinEnvironment) String() string {
	return fmt.Sprintf("cabin: inside %.1f C outside %.1f C evaporator %.1f C blower %d humidity %d %%",
		c.InteriorTemp(), c.AmbientTemp(), c.EvaporatorTemp(), c.BlowerLevel, c.HumidityPercent)
}

const cabinLength = 10

func DecodeCabin(data []byte) (Record, error) {
	if len(data) < cabinLength {
		return nil, &DecodeError{Decoder: "cabin", Need: cabinLength, Got: len(data)}
	}
	return CabinEnvironment{
		InteriorTempRaw:   data[5],
		AmbientTempRaw:    data[6],
		EvaporatorTempRaw: data[7],
		BlowerLevel:       data[8],
		HumidityPercent:   data[9],
	}, nil
}
