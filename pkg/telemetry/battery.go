package telemetry

import (
	"encoding/binary"
	"fmt"
	"time"
)

type ChargingType uint8

const (
	NotCharging ChargingType = iota
	ChargingAC
	ChargingDC
	ChargingOther
)

func (c ChargingType) String() string {
	switch c {
	case NotCharging:
		return "not charging"
	case ChargingAC:
		return "AC"
	case ChargingDC:
		return "DC"
	default:
		return "other"
	}
}

// BatteryStatus is the BMS 0x0101 data set. Raw fields keep the ECU scaling.
type BatteryStatus struct {
	Charging ChargingType
	Ignition bool
	Relay    bool

	SOCRaw        uint8  // 0.5 %
	CurrentRaw    int16  // 0.1 A
	VoltageRaw    uint16 // 0.1 V
	AuxVoltageRaw uint8  // 0.1 V

	FanSpeed    uint8
	FanFeedback uint8

	EnergyChargedRaw    uint32 // 0.1 kWh
	EnergyDischargedRaw uint32 // 0.1 kWh
	ChargeCurrentRaw    uint32 // 0.1 Ah
	DischargeCurrentRaw uint32 // 0.1 Ah
	OperatingSeconds    uint32

	AvailableChargePowerRaw    uint16 // 0.01 kW
	AvailableDischargePowerRaw uint16 // 0.01 kW

	InletTemp   int8
	MaxTemp     int8
	MinTemp     int8
	ModuleTemps [5]int8

	CellMaxVoltageRaw uint8 // 0.02 V
	CellMaxID         uint8
	CellMinVoltageRaw uint8 // 0.02 V
	CellMinID         uint8

	RearMotorRPM  int16
	FrontMotorRPM int16
}

func (BatteryStatus) Kind() Kind { return KindBattery }

func (b BatteryStatus) StateOfCharge() float64 {
	return float64(b.SOCRaw) * 0.5
}

func (b BatteryStatus) PackVoltage() float64 {
	return float64(b.VoltageRaw) * 0.1
}

func (b BatteryStatus) PackCurrent() float64 {
	return float64(b.CurrentRaw) * 0.1
}

// Power is positive while discharging, in kW
func (b BatteryStatus) Power() float64 {
	return b.PackVoltage() * b.PackCurrent() / 1000
}

func (b BatteryStatus) AuxVoltage() float64 {
	return float64(b.AuxVoltageRaw) * 0.1
}

func (b BatteryStatus) CellMaxVoltage() float64 {
	return float64(b.CellMaxVoltageRaw) * 0.02
}

func (b BatteryStatus) CellMinVoltage() float64 {
	return float64(b.CellMinVoltageRaw) * 0.02
}

func (b BatteryStatus) EnergyCharged() float64 {
	return float64(b.EnergyChargedRaw) * 0.1
}

func (b BatteryStatus) EnergyDischarged() float64 {
	return float64(b.EnergyDischargedRaw) * 0.1
}

func (b BatteryStatus) AvailableChargePower() float64 {
	return float64(b.AvailableChargePowerRaw) * 0.01
}

func (b BatteryStatus) AvailableDischargePower() float64 {
	return float64(b.AvailableDischargePowerRaw) * 0.01
}

func (b BatteryStatus) OperatingTime() time.Duration {
	return time.Duration(b.OperatingSeconds) * time.Second
}

func (b BatteryStatus) String() string {
	return fmt.Sprintf("battery: %.1f %% %.1f V %.1f A %s, cells %.2f-%.2f V, %d..%d C",
		b.StateOfCharge(), b.PackVoltage(), b.PackCurrent(), b.Charging,
		b.CellMinVoltage(), b.CellMaxVoltage(), b.MinTemp, b.MaxTemp)
}

const batteryLength = 57

// DecodeBattery decodes the data following 0x62 0x01 0x01
func DecodeBattery(data []byte) (Record, error) {
	if len(data) < batteryLength {
		return nil, &DecodeError{Decoder: "battery", Need: batteryLength, Got: len(data)}
	}
	be := binary.BigEndian
	b := BatteryStatus{
		Charging:                   chargingType(data[9]),
		Ignition:                   data[50]&0x04 != 0,
		Relay:                      data[9]&0x01 != 0,
		SOCRaw:                     data[4],
		AvailableDischargePowerRaw: be.Uint16(data[5:7]),
		AvailableChargePowerRaw:    be.Uint16(data[7:9]),
		CurrentRaw:                 int16(be.Uint16(data[10:12])),
		VoltageRaw:                 be.Uint16(data[12:14]),
		MaxTemp:                    int8(data[14]),
		MinTemp:                    int8(data[15]),
		InletTemp:                  int8(data[22]),
		CellMaxVoltageRaw:          data[23],
		CellMaxID:                  data[24],
		CellMinVoltageRaw:          data[25],
		CellMinID:                  data[26],
		FanSpeed:                   data[27],
		FanFeedback:                data[28],
		AuxVoltageRaw:              data[29],
		ChargeCurrentRaw:           be.Uint32(data[30:34]),
		DischargeCurrentRaw:        be.Uint32(data[34:38]),
		EnergyChargedRaw:           be.Uint32(data[38:42]),
		EnergyDischargedRaw:        be.Uint32(data[42:46]),
		OperatingSeconds:           be.Uint32(data[46:50]),
		RearMotorRPM:               int16(be.Uint16(data[53:55])),
		FrontMotorRPM:              int16(be.Uint16(data[55:57])),
	}
	for i := range b.ModuleTemps {
		b.ModuleTemps[i] = int8(data[16+i])
	}
	return b, nil
}

func chargingType(flags byte) ChargingType {
	switch {
	case flags&0x20 != 0:
		return ChargingAC
	case flags&0x40 != 0:
		return ChargingDC
	case flags&0x80 != 0:
		return ChargingOther
	default:
		return NotCharging
	}
}
