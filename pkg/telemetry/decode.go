package telemetry

import (
	"errors"
	"fmt"
	"sort"
)

var ErrUnknownDecoder = errors.New("unknown decoder")

// DecodeError is returned when a payload is shorter than the decoder layout
type DecodeError struct {
	Decoder string
	Need    int
	Got     int
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s decoder needs %d bytes, got %d", e.Decoder, e.Need, e.Got)
}

// Decoder maps response data, without the 0x62 marker and identifier, to a record
type Decoder func(data []byte) (Record, error)

var decoders = map[string]Decoder{
	"battery": DecodeBattery,
	"tpms":    DecodeTirePressures,
	"cabin":   DecodeCabin,
}

func Lookup(name string) (Decoder, bool) {
	d, ok := decoders[name]
	return d, ok
}

// Decoders lists the registered decoder names
func Decoders() []string {
	var out []string
	for name := range decoders {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func Decode(name string, data []byte) (Record, error) {
	d, ok := decoders[name]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownDecoder, name)
	}
	return d(data)
}
