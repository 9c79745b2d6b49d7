package telemetry

// DefaultDestination is the downstream identifier when every record shares one id
const DefaultDestination = 0x715

// Destinations picks the downstream CAN identifier for a record. With Single set
// every record goes to Default.
type Destinations struct {
	Single      bool
	Default     uint32
	Error       uint32
	Battery     uint32
	Tires       uint32
	Climate     uint32
	Environment uint32
}

func SingleDestination(id uint32) Destinations {
	return Destinations{Single: true, Default: id}
}

func (d Destinations) For(k Kind) uint32 {
	if d.Single {
		return d.Default
	}
	var id uint32
	switch k {
	case KindError:
		id = d.Error
	case KindBattery:
		id = d.Battery
	case KindTires:
		id = d.Tires
	case KindCabin:
		id = d.Climate
	case KindEnvironment:
		id = d.Environment
	}
	if id == 0 {
		return d.Default
	}
	return id
}
