package telemetry

import "fmt"

type TirePosition int

const (
	FrontLeft TirePosition = iota
	FrontRight
	RearLeft
	RearRight
)

func (p TirePosition) String() string {
	return [...]string{"FL", "FR", "RL", "RR"}[p]
}

type Tire struct {
	PressureRaw    uint8 // 0.2 psi
	TemperatureRaw uint8 // C + 55
}

func (t Tire) PSI() float64 {
	return float64(t.PressureRaw) * 0.2
}

func (t Tire) Celsius() int {
	return int(t.TemperatureRaw) - 55
}

type TirePressures struct {
	Tires [4]Tire
}

func (TirePressures) Kind() Kind { return KindTires }

func (t TirePressures) Tire(p TirePosition) Tire {
	return t.Tires[p]
}

func (t TirePressures) String() string {
	s := "tires:"
	for i, tire := range t.Tires {
		s += fmt.Sprintf(" %s %.1f psi %d C", TirePosition(i), tire.PSI(), tire.Celsius())
	}
	return s
}

var tireOffsets = [4]int{4, 9, 14, 19}

const tpmsLength = 21

// DecodeTirePressures decodes the data following 0x62 0xC0 0x0B
func DecodeTirePressures(data []byte) (Record, error) {
	if len(data) < tpmsLength {
		return nil, &DecodeError{Decoder: "tpms", Need: tpmsLength, Got: len(data)}
	}
	var t TirePressures
	for i, off := range tireOffsets {
		t.Tires[i] = Tire{PressureRaw: data[off], TemperatureRaw: data[off+1]}
	}
	return t, nil
}
