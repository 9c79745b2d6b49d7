package telemetry

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/skycoin/skycoin/src/cipher/encoder"
)

// MaxEncodedSize is the largest payload one CAN FD frame carries
const MaxEncodedSize = 64

// tag + source + string length prefix
const maxDescription = MaxEncodedSize - 1 - 4 - 4

var (
	ErrRecordTooLarge = errors.New("encoded record exceeds 64 bytes")
	ErrUnknownKind    = errors.New("unknown record kind")
)

// Encode serializes r as one kind byte followed by its fields
func Encode(r Record) ([]byte, error) {
	var body []byte
	switch v := r.(type) {
	case BatteryStatus:
		body = encoder.Serialize(v)
	case TirePressures:
		body = encoder.Serialize(v)
	case CabinEnvironment:
		body = encoder.Serialize(v)
	case Environment:
		body = encoder.Serialize(v)
	case Error:
		v.Description = truncate(v.Description, maxDescription)
		body = encoder.Serialize(v)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownKind, r)
	}
	out := append([]byte{byte(r.Kind())}, body...)
	if len(out) > MaxEncodedSize {
		return nil, fmt.Errorf("%w: %s is %d bytes", ErrRecordTooLarge, r.Kind(), len(out))
	}
	return out, nil
}

// DecodeRecord is the inverse of Encode
func DecodeRecord(b []byte) (Record, error) {
	if len(b) == 0 {
		return nil, errors.New("empty record")
	}
	var (
		r   Record
		err error
	)
	body := b[1:]
	switch Kind(b[0]) {
	case KindBattery:
		var v BatteryStatus
		err = encoder.DeserializeRaw(body, &v)
		r = v
	case KindTires:
		var v TirePressures
		err = encoder.DeserializeRaw(body, &v)
		r = v
	case KindCabin:
		var v CabinEnvironment
		err = encoder.DeserializeRaw(body, &v)
		r = v
	case KindEnvironment:
		var v Environment
		err = encoder.DeserializeRaw(body, &v)
		r = v
	case KindError:
		var v Error
		err = encoder.DeserializeRaw(body, &v)
		r = v
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, b[0])
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s record: %w", Kind(b[0]), err)
	}
	return r, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
